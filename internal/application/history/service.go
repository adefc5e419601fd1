package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/agroia/agroia-backend/internal/application"
	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/domain/timestamp"
	"github.com/agroia/agroia-backend/internal/logger"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// DefaultFetchLimit bounds how many of an owner's records one read pulls
	// from the store before sorting in memory.
	DefaultFetchLimit = 1000
)

// suspiciousDate is the instant a broken import stamped on many records.
var suspiciousDate = time.Date(2023, 12, 31, 18, 0, 0, 0, time.UTC)

// Service serves an owner's analysis history. It is stateless: every call
// re-reads the store. Safe for concurrent use.
type Service struct {
	Repo   analysis.Repository
	Images analysis.ImageStore // optional
	Clock  application.Clock
	Log    *logger.Logger

	FetchLimit      int
	StatsFetchLimit int
}

// HistoryQuery selects one page. HasPest nil means no filter.
type HistoryQuery struct {
	OwnerID string
	Page    int
	Limit   int
	HasPest *bool
}

// GetHistory returns one page of the owner's records, newest first.
func (s *Service) GetHistory(ctx context.Context, q HistoryQuery) (analysis.Page, error) {
	if q.OwnerID == "" {
		return analysis.Page{}, fmt.Errorf("%w: owner is required", analysis.ErrInvalidInput)
	}
	if q.Page < 1 {
		return analysis.Page{}, fmt.Errorf("%w: page must be >= 1", analysis.ErrInvalidInput)
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return analysis.Page{}, fmt.Errorf("%w: limit must be between 1 and %d", analysis.ErrInvalidInput, MaxLimit)
	}

	records, err := s.load(ctx, q.OwnerID, s.fetchBound(q.Page, q.Limit))
	if err != nil {
		return analysis.Page{}, err
	}

	filtered := records
	if q.HasPest != nil {
		filtered = make([]*analysis.Record, 0, len(records))
		for _, r := range records {
			if r.Result.HasPest == *q.HasPest {
				filtered = append(filtered, r)
			}
		}
	}

	total := len(filtered)
	start := (q.Page - 1) * q.Limit
	if q.Page-1 > total/q.Limit || start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	items := make([]*analysis.Record, end-start)
	copy(items, filtered[start:end])

	return analysis.Page{
		Items: items,
		Pagination: analysis.Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: (total + q.Limit - 1) / q.Limit,
		},
	}, nil
}

// fetchBound is max(limit*page*2, FetchLimit). The multiplier alone can miss
// newer records because the store returns them unordered.
func (s *Service) fetchBound(page, limit int) int {
	n := s.FetchLimit
	if n <= 0 {
		n = DefaultFetchLimit
	}
	if page > math.MaxInt32/(2*limit) {
		return n
	}
	if h := limit * page * 2; h > n {
		n = h
	}
	return n
}

func (s *Service) statsBound() int {
	if s.StatsFetchLimit > 0 {
		return s.StatsFetchLimit
	}
	return DefaultFetchLimit
}

// load reads up to limit records, normalizes their timestamps and sorts them
// newest first. Records with an unknown timestamp keep their relative order
// at the tail.
func (s *Service) load(ctx context.Context, owner string, limit int) ([]*analysis.Record, error) {
	raw, err := s.Repo.FindByOwner(ctx, owner, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]*analysis.Record, 0, len(raw))
	for _, r := range raw {
		if r == nil {
			continue
		}
		r.Normalize()
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CapturedAt.Compare(out[j].CapturedAt) > 0
	})
	return out, nil
}

func storeErr(err error) error {
	if errors.Is(err, analysis.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", analysis.ErrStoreUnavailable, err)
}

// Delete removes one record owned by owner. A record owned by someone else is
// reported as not found.
func (s *Service) Delete(ctx context.Context, id analysis.ID, owner string) error {
	if id == "" || owner == "" {
		return fmt.Errorf("%w: id and owner are required", analysis.ErrInvalidInput)
	}
	rec, err := s.Repo.Get(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if rec == nil || rec.OwnerID != owner {
		return analysis.ErrNotFound
	}
	if err := s.Repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", analysis.ErrDeleteFailed, err)
	}
	s.removeImage(ctx, rec)
	return nil
}

func (s *Service) removeImage(ctx context.Context, rec *analysis.Record) {
	if s.Images == nil || rec.ImageURL == "" {
		return
	}
	if err := s.Images.Remove(ctx, rec.ImageURL); err != nil && s.Log != nil {
		s.Log.Warn("image remove failed", "analysis_id", rec.ID, "error", err)
	}
}

// CleanupSuspicious deletes the owner's records stamped within one minute of
// the known bad import date and returns how many were removed. Individual
// delete failures are skipped.
func (s *Service) CleanupSuspicious(ctx context.Context, owner string) (int, error) {
	if owner == "" {
		return 0, fmt.Errorf("%w: owner is required", analysis.ErrInvalidInput)
	}
	records, err := s.load(ctx, owner, s.statsBound())
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, r := range records {
		if !isSuspicious(r.CapturedAt) {
			continue
		}
		if err := s.Repo.Delete(ctx, r.ID); err != nil {
			if s.Log != nil {
				s.Log.Warn("cleanup delete failed", "analysis_id", r.ID, "error", err)
			}
			continue
		}
		s.removeImage(ctx, r)
		deleted++
	}
	return deleted, nil
}

func isSuspicious(at timestamp.Instant) bool {
	if !at.IsKnown() {
		return false
	}
	d := at.Time().Sub(suspiciousDate)
	if d < 0 {
		d = -d
	}
	return d < time.Minute
}
