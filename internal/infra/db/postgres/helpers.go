package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/domain/timestamp"
)

type scanner interface {
	Scan(dest ...any) error
}

func encodeResult(res analysis.Result) ([]byte, error) {
	if res.Detections == nil {
		res.Detections = []analysis.Detection{}
	}
	if res.Recommendations == nil {
		res.Recommendations = []string{}
	}
	return json.Marshal(res)
}

func encodeMetadata(m *analysis.Metadata) ([]byte, error) {
	if m.IsEmpty() {
		return nil, nil
	}
	return json.Marshal(m)
}

func scanRecord(s scanner) (*analysis.Record, error) {
	var (
		rec                 analysis.Record
		resultRaw, metaRaw  []byte
		imageData, imageURL sql.NullString
		created, updated    sql.NullTime
	)
	if err := s.Scan(&rec.ID, &rec.OwnerID, &imageData, &imageURL, &resultRaw, &metaRaw, &created, &updated); err != nil {
		return nil, err
	}
	rec.ImagePayload = imageData.String
	rec.ImageURL = imageURL.String
	if len(resultRaw) > 0 {
		if err := json.Unmarshal(resultRaw, &rec.Result); err != nil {
			return nil, fmt.Errorf("decode analysis_result of %s: %w", rec.ID, err)
		}
	}
	if len(metaRaw) > 0 && string(metaRaw) != "null" {
		rec.Metadata = &analysis.Metadata{}
		if err := json.Unmarshal(metaRaw, rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", rec.ID, err)
		}
	}
	if created.Valid {
		rec.RawCapturedAt = created.Time
	}
	rec.Normalize()
	if updated.Valid {
		rec.UpdatedAt = timestamp.Of(updated.Time)
	}
	return &rec, nil
}
