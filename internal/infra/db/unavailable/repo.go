// Package unavailable provides a Repository used when no record store could
// be configured. Every call fails with analysis.ErrStoreUnavailable.
package unavailable

import (
	"context"
	"fmt"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
)

type Repository struct {
	Reason string
}

func (r Repository) err() error {
	if r.Reason == "" {
		return analysis.ErrStoreUnavailable
	}
	return fmt.Errorf("%w: %s", analysis.ErrStoreUnavailable, r.Reason)
}

func (r Repository) Save(context.Context, *analysis.Record) error { return r.err() }

func (r Repository) Get(context.Context, analysis.ID) (*analysis.Record, error) {
	return nil, r.err()
}

func (r Repository) FindByOwner(context.Context, string, int) ([]*analysis.Record, error) {
	return nil, r.err()
}

func (r Repository) Delete(context.Context, analysis.ID) error { return r.err() }

func (r Repository) Ping(context.Context) error { return r.err() }
