package analysis

import (
	"context"
	"io"
)

// Repository port for the record store.
//
// FindByOwner filters on the owner only and returns at most limit records in
// whatever order the store yields them; callers sort in memory so the store
// never needs a composite (owner, createdAt) index.
type Repository interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id ID) (*Record, error)
	FindByOwner(ctx context.Context, ownerID string, limit int) ([]*Record, error)
	Delete(ctx context.Context, id ID) error
	Ping(ctx context.Context) error
}

// Classifier scores one image. The production implementation is a mock.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (Result, error)
}

// ImageStore keeps the raw uploaded photos next to the inline payload.
type ImageStore interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error)
	Remove(ctx context.Context, url string) error
}

// TokenVerifier resolves a bearer token to a stable owner identifier.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}
