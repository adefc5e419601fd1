// Package analyze is the submission write path: classify a photo, keep it,
// and persist one analysis record for its owner.
package analyze

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/agroia/agroia-backend/internal/application"
	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/domain/timestamp"
	"github.com/agroia/agroia-backend/internal/logger"
)

// Invalidator drops cached per-owner data after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, owner string)
}

type Service struct {
	Repo       analysis.Repository
	Classifier analysis.Classifier
	Images     analysis.ImageStore // optional
	Stats      Invalidator         // optional
	Clock      application.Clock
	Log        *logger.Logger
}

type SubmitCommand struct {
	OwnerID        string
	Image          []byte
	ContentType    string
	CropType       string
	Location       string
	Notes          string
	PhotoTimestamp string
}

// SubmitMetadata echoes the submission context back to the client. Empty
// fields are reported as null.
type SubmitMetadata struct {
	CropType   *string   `json:"cropType"`
	Location   *string   `json:"location"`
	Notes      *string   `json:"notes"`
	AnalyzedAt timestamp.Instant `json:"analyzedAt"`
	OwnerID    string    `json:"userId"`
}

type SubmitResult struct {
	Record   *analysis.Record `json:"analysis"`
	Metadata SubmitMetadata   `json:"metadata"`
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Submit classifies the image and stores the resulting record. The record is
// attributed to PhotoTimestamp when given, otherwise to the clock's now.
func (s *Service) Submit(ctx context.Context, cmd SubmitCommand) (SubmitResult, error) {
	if cmd.OwnerID == "" {
		return SubmitResult{}, fmt.Errorf("%w: owner is required", analysis.ErrInvalidInput)
	}
	if len(cmd.Image) == 0 {
		return SubmitResult{}, fmt.Errorf("%w: image is required", analysis.ErrInvalidInput)
	}

	now := s.Clock.Now()
	at := timestamp.Of(now)
	if ts := strings.TrimSpace(cmd.PhotoTimestamp); ts != "" {
		at = timestamp.Normalize(ts)
		if !at.IsKnown() {
			return SubmitResult{}, fmt.Errorf("%w: photoTimestamp %q is not a valid date", analysis.ErrInvalidInput, ts)
		}
	}

	result, err := s.Classifier.Classify(ctx, cmd.Image)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("classify: %w", err)
	}

	rec := &analysis.Record{
		OwnerID:      cmd.OwnerID,
		ImagePayload: dataURI(cmd.ContentType, cmd.Image),
		Result:       result,
		CapturedAt:   at,
		UpdatedAt:    timestamp.Of(now),
	}
	meta := &analysis.Metadata{CropType: cmd.CropType, Location: cmd.Location, Notes: cmd.Notes}
	if !meta.IsEmpty() {
		rec.Metadata = meta
	}

	if s.Images != nil {
		key := fmt.Sprintf("%s/%s%s", cmd.OwnerID, uuid.NewString(), extensions[cmd.ContentType])
		url, err := s.Images.Put(ctx, key, bytes.NewReader(cmd.Image), int64(len(cmd.Image)), cmd.ContentType)
		if err != nil {
			return SubmitResult{}, fmt.Errorf("upload image: %w", err)
		}
		rec.ImageURL = url
	}

	if err := s.Repo.Save(ctx, rec); err != nil {
		if s.Images != nil && rec.ImageURL != "" {
			if rmErr := s.Images.Remove(ctx, rec.ImageURL); rmErr != nil {
				s.log().Warn("orphan image remove failed", "url", rec.ImageURL, "error", rmErr)
			}
		}
		return SubmitResult{}, fmt.Errorf("%w: %w", analysis.ErrStoreUnavailable, err)
	}
	if s.Stats != nil {
		s.Stats.Invalidate(ctx, cmd.OwnerID)
	}

	s.log().Info("analysis stored",
		"analysis_id", rec.ID,
		"owner", cmd.OwnerID,
		"has_pest", result.HasPest,
		"detections", len(result.Detections),
	)

	return SubmitResult{
		Record: rec,
		Metadata: SubmitMetadata{
			CropType:   optional(cmd.CropType),
			Location:   optional(cmd.Location),
			Notes:      optional(cmd.Notes),
			AnalyzedAt: at,
			OwnerID:    cmd.OwnerID,
		},
	}, nil
}

func (s *Service) log() *logger.Logger {
	if s.Log == nil {
		return logger.Nop()
	}
	return s.Log
}

func dataURI(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
