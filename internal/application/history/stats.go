package history

import (
	"context"
	"fmt"
	"time"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/domain/timestamp"
)

// RecentWindow is how far back an analysis still counts as recent.
const RecentWindow = 7 * 24 * time.Hour

// Stats summarizes the owner's records. The result depends on the clock for
// the recent count only.
func (s *Service) Stats(ctx context.Context, owner string) (analysis.UserStats, error) {
	if owner == "" {
		return analysis.UserStats{}, fmt.Errorf("%w: owner is required", analysis.ErrInvalidInput)
	}
	records, err := s.load(ctx, owner, s.statsBound())
	if err != nil {
		return analysis.UserStats{}, err
	}
	return Summarize(owner, records, s.Clock.Now()), nil
}

// Summarize computes UserStats from records already sorted newest first.
func Summarize(owner string, records []*analysis.Record, now time.Time) analysis.UserStats {
	st := analysis.UserStats{
		OwnerID:        owner,
		TotalAnalyses:  len(records),
		LastAnalysisAt: timestamp.Unknown(),
	}
	if len(records) == 0 {
		return st
	}

	since := now.Add(-RecentWindow)
	var confSum float64
	for _, r := range records {
		if r.Result.HasPest {
			st.PestDetections++
		}
		if r.CapturedAt.IsKnown() && !r.CapturedAt.Time().Before(since) {
			st.RecentAnalyses++
		}
		for _, d := range r.Result.Detections {
			st.PestTypesCount.Add(d.PestType)
		}
		confSum += r.Result.MeanConfidence()
	}
	st.AverageConfidence = confSum / float64(len(records))

	if top, ok := st.PestTypesCount.Top(); ok {
		st.MostCommonPest = &top
	}
	st.LastAnalysisAt = records[0].CapturedAt
	return st
}
