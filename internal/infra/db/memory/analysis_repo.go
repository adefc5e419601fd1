package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
)

// AnalysisRepository keeps records in process memory. FindByOwner returns
// records in insertion order, like an unordered document query.
type AnalysisRepository struct {
	mu      sync.RWMutex
	order   []analysis.ID
	records map[analysis.ID]*analysis.Record
}

func NewAnalysisRepository() *AnalysisRepository {
	return &AnalysisRepository{records: make(map[analysis.ID]*analysis.Record)}
}

func (r *AnalysisRepository) Save(ctx context.Context, rec *analysis.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == "" {
		rec.ID = analysis.ID(uuid.NewString())
	}
	if _, exists := r.records[rec.ID]; !exists {
		r.order = append(r.order, rec.ID)
	}
	r.records[rec.ID] = clone(rec)
	return nil
}

func (r *AnalysisRepository) Get(ctx context.Context, id analysis.ID) (*analysis.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	return clone(rec), nil
}

func (r *AnalysisRepository) FindByOwner(ctx context.Context, owner string, limit int) ([]*analysis.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*analysis.Record{}
	for _, id := range r.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec := r.records[id]
		if rec.OwnerID == owner {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (r *AnalysisRepository) Delete(ctx context.Context, id analysis.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return nil
	}
	delete(r.records, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *AnalysisRepository) Ping(ctx context.Context) error { return ctx.Err() }

// Len reports how many records are stored.
func (r *AnalysisRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func clone(rec *analysis.Record) *analysis.Record {
	c := *rec
	c.Result.Detections = slices.Clone(rec.Result.Detections)
	c.Result.Recommendations = slices.Clone(rec.Result.Recommendations)
	if rec.Metadata != nil {
		m := *rec.Metadata
		c.Metadata = &m
	}
	return &c
}
