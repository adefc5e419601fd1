package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/domain/timestamp"
)

// DefaultCollection is the collection the mobile app has always written to.
const DefaultCollection = "pestAnalyses"

// AnalysisRepository stores one document per analysis.
type AnalysisRepository struct {
	client     *firestore.Client
	collection string
}

// Connect creates a Firestore client. An empty credentialsFile falls back to
// application default credentials.
func Connect(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	return firestore.NewClient(ctx, projectID, opts...)
}

func NewAnalysisRepository(client *firestore.Client, collection string) *AnalysisRepository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &AnalysisRepository{client: client, collection: collection}
}

func (r *AnalysisRepository) col() *firestore.CollectionRef {
	return r.client.Collection(r.collection)
}

func (r *AnalysisRepository) Save(ctx context.Context, rec *analysis.Record) error {
	var ref *firestore.DocumentRef
	if rec.ID == "" {
		ref = r.col().NewDoc()
		rec.ID = analysis.ID(ref.ID)
	} else {
		ref = r.col().Doc(string(rec.ID))
	}
	data, err := encode(rec, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, data)
	return err
}

func (r *AnalysisRepository) Get(ctx context.Context, id analysis.ID) (*analysis.Record, error) {
	snap, err := r.col().Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(snap.Ref.ID, snap.Data())
}

// FindByOwner runs a single-field equality query. No OrderBy, so no composite
// index has to be provisioned.
func (r *AnalysisRepository) FindByOwner(ctx context.Context, owner string, limit int) ([]*analysis.Record, error) {
	q := r.col().Where("userId", "==", owner)
	if limit > 0 {
		q = q.Limit(limit)
	}
	it := q.Documents(ctx)
	defer it.Stop()

	out := []*analysis.Record{}
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, err := decode(snap.Ref.ID, snap.Data())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *AnalysisRepository) Delete(ctx context.Context, id analysis.ID) error {
	_, err := r.col().Doc(string(id)).Delete(ctx)
	return err
}

func (r *AnalysisRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	it := r.col().Limit(1).Documents(ctx)
	defer it.Stop()
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return err
	}
	return nil
}

// encode maps a record onto the document layout the mobile app reads.
func encode(rec *analysis.Record, now time.Time) (map[string]any, error) {
	res := rec.Result
	if res.Detections == nil {
		res.Detections = []analysis.Detection{}
	}
	if res.Recommendations == nil {
		res.Recommendations = []string{}
	}
	result, err := toMap(res)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{
		"userId":         rec.OwnerID,
		"imageData":      rec.ImagePayload,
		"analysisResult": result,
		"updatedAt":      now,
	}
	if rec.ImageURL != "" {
		doc["imageUrl"] = rec.ImageURL
	}
	if rec.CapturedAt.IsKnown() {
		doc["createdAt"] = rec.CapturedAt.Time()
	} else {
		doc["createdAt"] = firestore.ServerTimestamp
	}
	if !rec.Metadata.IsEmpty() {
		meta, err := toMap(rec.Metadata)
		if err != nil {
			return nil, err
		}
		doc["metadata"] = meta
	}
	return doc, nil
}

// decode reads a document back. createdAt is kept raw and normalized, since
// older documents hold strings, epoch numbers or {_seconds} maps.
func decode(id string, data map[string]any) (*analysis.Record, error) {
	rec := &analysis.Record{ID: analysis.ID(id)}
	rec.OwnerID, _ = data["userId"].(string)
	rec.ImagePayload, _ = data["imageData"].(string)
	rec.ImageURL, _ = data["imageUrl"].(string)

	if raw, ok := data["analysisResult"]; ok && raw != nil {
		if err := fromMap(raw, &rec.Result); err != nil {
			return nil, fmt.Errorf("decode analysisResult of %s: %w", id, err)
		}
	}
	if raw, ok := data["metadata"].(map[string]any); ok {
		rec.Metadata = &analysis.Metadata{}
		if err := fromMap(raw, rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", id, err)
		}
	}
	rec.RawCapturedAt = data["createdAt"]
	rec.Normalize()
	if raw, ok := data["updatedAt"]; ok {
		rec.UpdatedAt = timestamp.Normalize(raw)
	}
	return rec, nil
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(v any, dst any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
