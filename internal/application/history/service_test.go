package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"testing"
	"time"

	"github.com/agroia/agroia-backend/internal/application"
	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/domain/timestamp"
	"github.com/agroia/agroia-backend/internal/infra/db/memory"
	"github.com/agroia/agroia-backend/internal/logger"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(repo analysis.Repository) *Service {
	return &Service{
		Repo:  repo,
		Clock: application.FixedClock{At: now},
		Log:   logger.Nop(),
	}
}

func seed(t *testing.T, repo analysis.Repository, recs ...*analysis.Record) {
	t.Helper()
	for _, r := range recs {
		if err := repo.Save(context.Background(), r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func rec(id, owner string, raw any, hasPest bool, conf ...float64) *analysis.Record {
	r := &analysis.Record{ID: analysis.ID(id), OwnerID: owner, RawCapturedAt: raw}
	r.Result.HasPest = hasPest
	for _, c := range conf {
		r.Result.Detections = append(r.Result.Detections, analysis.Detection{PestType: "Pulgón", Confidence: c})
	}
	return r
}

func ids(items []*analysis.Record) []string {
	out := make([]string, len(items))
	for i, r := range items {
		out[i] = string(r.ID)
	}
	return out
}

// twelve records, one per 2.5 days over 30 days, inserted oldest first so
// store order differs from display order. r00 is the newest.
func seedTwelve(t *testing.T, repo analysis.Repository) {
	t.Helper()
	for i := 11; i >= 0; i-- {
		at := now.Add(-time.Duration(i) * 60 * time.Hour)
		seed(t, repo, rec(fmt.Sprintf("r%02d", i), "u1", at.Format(time.RFC3339), i%3 == 0))
	}
}

func boolp(b bool) *bool { return &b }

func TestGetHistoryScenario(t *testing.T) {
	repo := memory.NewAnalysisRepository()
	seedTwelve(t, repo)
	svc := newService(repo)

	page, err := svc.GetHistory(context.Background(), HistoryQuery{OwnerID: "u1", Page: 2, Limit: 5})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	want := []string{"r05", "r06", "r07", "r08", "r09"}
	if fmt.Sprint(ids(page.Items)) != fmt.Sprint(want) {
		t.Fatalf("items: want=%v got=%v", want, ids(page.Items))
	}
	if page.Pagination.Total != 12 || page.Pagination.TotalPages != 3 {
		t.Fatalf("pagination: %+v", page.Pagination)
	}

	page, err = svc.GetHistory(context.Background(), HistoryQuery{OwnerID: "u1", Page: 1, Limit: 5, HasPest: boolp(true)})
	if err != nil {
		t.Fatalf("GetHistory hasPest: %v", err)
	}
	want = []string{"r00", "r03", "r06", "r09"}
	if fmt.Sprint(ids(page.Items)) != fmt.Sprint(want) {
		t.Fatalf("filtered items: want=%v got=%v", want, ids(page.Items))
	}
	if page.Pagination.Total != 4 || page.Pagination.TotalPages != 1 {
		t.Fatalf("filtered pagination: %+v", page.Pagination)
	}

	page, _ = svc.GetHistory(context.Background(), HistoryQuery{OwnerID: "u1", Page: 1, Limit: 100, HasPest: boolp(false)})
	if page.Pagination.Total != 8 {
		t.Fatalf("hasPest=false total: %d", page.Pagination.Total)
	}
}

func TestGetHistoryPageLengthProperty(t *testing.T) {
	repo := memory.NewAnalysisRepository()
	seedTwelve(t, repo)
	svc := newService(repo)

	for limit := 1; limit <= 13; limit++ {
		for p := 1; p <= 15; p++ {
			page, err := svc.GetHistory(context.Background(), HistoryQuery{OwnerID: "u1", Page: p, Limit: limit})
			if err != nil {
				t.Fatalf("page=%d limit=%d: %v", p, limit, err)
			}
			want := limit
			if rest := 12 - (p-1)*limit; rest < want {
				want = rest
			}
			if want < 0 {
				want = 0
			}
			if len(page.Items) != want {
				t.Fatalf("page=%d limit=%d: len=%d want=%d", p, limit, len(page.Items), want)
			}
			if page.Pagination.TotalPages != int(math.Ceil(12/float64(limit))) {
				t.Fatalf("totalPages=%d for limit=%d", page.Pagination.TotalPages, limit)
			}
			for i := 1; i < len(page.Items); i++ {
				if page.Items[i-1].CapturedAt.Compare(page.Items[i].CapturedAt) < 0 {
					t.Fatalf("not descending at %d", i)
				}
			}
		}
	}
}

func TestGetHistoryEmptyOwner(t *testing.T) {
	svc := newService(memory.NewAnalysisRepository())
	page, err := svc.GetHistory(context.Background(), HistoryQuery{OwnerID: "nobody", Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if page.Items == nil || len(page.Items) != 0 {
		t.Fatalf("expected empty non-nil items, got %v", page.Items)
	}
	if page.Pagination.Total != 0 || page.Pagination.TotalPages != 0 {
		t.Fatalf("pagination: %+v", page.Pagination)
	}
}

func TestGetHistoryHugePage(t *testing.T) {
	repo := memory.NewAnalysisRepository()
	seedTwelve(t, repo)
	page, err := newService(repo).GetHistory(context.Background(), HistoryQuery{OwnerID: "u1", Page: math.MaxInt, Limit: 100})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(page.Items) != 0 || page.Pagination.Total != 12 {
		t.Fatalf("unexpected page %+v", page.Pagination)
	}
}

func TestGetHistoryMixedTimestampShapes(t *testing.T) {
	repo := memory.NewAnalysisRepository()
	seed(t, repo,
		rec("empty", "u1", map[string]any{}, false),
		rec("seconds", "u1", map[string]any{"_seconds": int64(1700000000)}, false),
		rec("nil", "u1", nil, false),
		rec("millis", "u1", int64(1700000000000+1000), false),
		rec("iso", "u1", "2023-11-14T22:13:20Z", false),
		rec("native", "u1", time.Date(2023, 11, 13, 0, 0, 0, 0, time.UTC), false),
	)
	page, err := newService(repo).GetHistory(context.Background(), HistoryQuery{OwnerID: "u1", Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	want := []string{"millis", "seconds", "iso", "native", "empty", "nil"}
	if fmt.Sprint(ids(page.Items)) != fmt.Sprint(want) {
		t.Fatalf("order: want=%v got=%v", want, ids(page.Items))
	}
	if !page.Items[1].CapturedAt.Equal(page.Items[2].CapturedAt) {
		t.Fatalf("_seconds and iso should be the same instant")
	}
}

func TestGetHistoryIsIdempotent(t *testing.T) {
	repo := memory.NewAnalysisRepository()
	seedTwelve(t, repo)
	seed(t, repo, rec("x1", "u1", map[string]any{}, true), rec("x2", "u1", "garbage", false))
	svc := newService(repo)

	q := HistoryQuery{OwnerID: "u1", Page: 2, Limit: 6}
	a, _ := svc.GetHistory(context.Background(), q)
	b, _ := svc.GetHistory(context.Background(), q)
	if fmt.Sprint(ids(a.Items)) != fmt.Sprint(ids(b.Items)) || a.Pagination != b.Pagination {
		t.Fatalf("non-idempotent: %v vs %v", ids(a.Items), ids(b.Items))
	}
}

func TestGetHistoryRejectsInvalidInput(t *testing.T) {
	svc := newService(memory.NewAnalysisRepository())
	cases := []HistoryQuery{
		{OwnerID: "", Page: 1, Limit: 10},
		{OwnerID: "u1", Page: 0, Limit: 10},
		{OwnerID: "u1", Page: 1, Limit: 0},
		{OwnerID: "u1", Page: 1, Limit: 101},
	}
	for _, q := range cases {
		if _, err := svc.GetHistory(context.Background(), q); !errors.Is(err, analysis.ErrInvalidInput) {
			t.Fatalf("%+v: expected ErrInvalidInput, got %v", q, err)
		}
	}
}

type recordingRepo struct {
	analysis.Repository
	lastLimit int
	findErr   error
	getErr    error
	deleteErr error
}

func (r *recordingRepo) FindByOwner(ctx context.Context, owner string, limit int) ([]*analysis.Record, error) {
	r.lastLimit = limit
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.Repository.FindByOwner(ctx, owner, limit)
}

func (r *recordingRepo) Get(ctx context.Context, id analysis.ID) (*analysis.Record, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.Repository.Get(ctx, id)
}

func (r *recordingRepo) Delete(ctx context.Context, id analysis.ID) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.Repository.Delete(ctx, id)
}

func TestFetchBound(t *testing.T) {
	repo := &recordingRepo{Repository: memory.NewAnalysisRepository()}
	svc := newService(repo)

	cases := []struct {
		page, limit, fetch, want int
	}{
		{page: 1, limit: 10, want: DefaultFetchLimit},
		{page: 20, limit: 100, want: 4000},
		{page: 3, limit: 5, fetch: 20, want: 30},
		{page: 1, limit: 5, fetch: 50, want: 50},
	}
	for _, tc := range cases {
		svc.FetchLimit = tc.fetch
		if _, err := svc.GetHistory(context.Background(), HistoryQuery{OwnerID: "u1", Page: tc.page, Limit: tc.limit}); err != nil {
			t.Fatalf("GetHistory: %v", err)
		}
		if repo.lastLimit != tc.want {
			t.Fatalf("page=%d limit=%d fetch=%d: bound=%d want=%d", tc.page, tc.limit, tc.fetch, repo.lastLimit, tc.want)
		}
	}
}

func TestStoreFailureSurfacesAsUnavailable(t *testing.T) {
	repo := &recordingRepo{Repository: memory.NewAnalysisRepository(), findErr: errors.New("connection refused"), getErr: errors.New("timeout")}
	svc := newService(repo)

	if _, err := svc.GetHistory(context.Background(), HistoryQuery{OwnerID: "u1", Page: 1, Limit: 10}); !errors.Is(err, analysis.ErrStoreUnavailable) {
		t.Fatalf("GetHistory: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := svc.Stats(context.Background(), "u1"); !errors.Is(err, analysis.ErrStoreUnavailable) {
		t.Fatalf("Stats: expected ErrStoreUnavailable, got %v", err)
	}
	if err := svc.Delete(context.Background(), "x", "u1"); !errors.Is(err, analysis.ErrStoreUnavailable) {
		t.Fatalf("Delete: expected ErrStoreUnavailable, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAnalysisRepository()
	seed(t, repo, rec("a1", "owner", now, false), rec("a2", "owner", now.Add(-time.Hour), true))
	svc := newService(repo)

	if err := svc.Delete(ctx, "a1", "intruder"); !errors.Is(err, analysis.ErrNotFound) {
		t.Fatalf("cross-owner delete: expected ErrNotFound, got %v", err)
	}
	if got, _ := repo.Get(ctx, "a1"); got == nil {
		t.Fatalf("record removed by another owner")
	}

	if err := svc.Delete(ctx, "a1", "owner"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	page, _ := svc.GetHistory(ctx, HistoryQuery{OwnerID: "owner", Page: 1, Limit: 10})
	for _, r := range page.Items {
		if r.ID == "a1" {
			t.Fatalf("deleted record still listed")
		}
	}

	if err := svc.Delete(ctx, "a1", "owner"); !errors.Is(err, analysis.ErrNotFound) {
		t.Fatalf("repeat delete: expected ErrNotFound, got %v", err)
	}
}

func TestDeleteFailure(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewAnalysisRepository()
	seed(t, inner, rec("a1", "owner", now, false))
	svc := newService(&recordingRepo{Repository: inner, deleteErr: errors.New("permission denied")})

	err := svc.Delete(ctx, "a1", "owner")
	if !errors.Is(err, analysis.ErrDeleteFailed) {
		t.Fatalf("expected ErrDeleteFailed, got %v", err)
	}
	if errors.Is(err, analysis.ErrNotFound) {
		t.Fatalf("delete failure must be distinct from not found")
	}
}

type imageRecorder struct {
	removed []string
	err     error
}

func (f *imageRecorder) Put(context.Context, string, io.Reader, int64, string) (string, error) {
	return "", nil
}

func (f *imageRecorder) Remove(_ context.Context, url string) error {
	f.removed = append(f.removed, url)
	return f.err
}

func TestDeleteRemovesImageBestEffort(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAnalysisRepository()
	r := rec("a1", "owner", now, false)
	r.ImageURL = "http://minio/bucket/owner/a1.jpg"
	seed(t, repo, r)

	images := &imageRecorder{err: errors.New("bucket gone")}
	svc := newService(repo)
	svc.Images = images

	if err := svc.Delete(ctx, "a1", "owner"); err != nil {
		t.Fatalf("image removal failure must not fail delete: %v", err)
	}
	if len(images.removed) != 1 || images.removed[0] != r.ImageURL {
		t.Fatalf("expected image removal, got %v", images.removed)
	}
}

func TestCleanupSuspicious(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAnalysisRepository()
	bad := time.Date(2023, 12, 31, 18, 0, 0, 0, time.UTC)
	seed(t, repo,
		rec("exact", "u1", bad.Format(time.RFC3339), false),
		rec("close", "u1", map[string]any{"_seconds": bad.Unix() + 30}, false),
		rec("edge", "u1", bad.Add(time.Minute).UnixMilli(), false),
		rec("fine", "u1", now, false),
		rec("unknown", "u1", map[string]any{}, false),
		rec("other", "u2", bad, false),
	)
	svc := newService(repo)

	n, err := svc.CleanupSuspicious(ctx, "u1")
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted=%d want 2", n)
	}
	for _, id := range []analysis.ID{"edge", "fine", "unknown", "other"} {
		if got, _ := repo.Get(ctx, id); got == nil {
			t.Fatalf("%s should survive cleanup", id)
		}
	}
}

func TestSortKeepsUnknownOrderStable(t *testing.T) {
	repo := memory.NewAnalysisRepository()
	seed(t, repo,
		rec("u-a", "u1", "nope", false),
		rec("k", "u1", now, false),
		rec("u-b", "u1", map[string]any{"nanoseconds": 1}, false),
		rec("u-c", "u1", nil, false),
	)
	page, _ := newService(repo).GetHistory(context.Background(), HistoryQuery{OwnerID: "u1", Page: 1, Limit: 10})
	want := []string{"k", "u-a", "u-b", "u-c"}
	if fmt.Sprint(ids(page.Items)) != fmt.Sprint(want) {
		t.Fatalf("want=%v got=%v", want, ids(page.Items))
	}
	for _, r := range page.Items[1:] {
		if r.CapturedAt.IsKnown() || !r.CapturedAt.Time().Equal(timestamp.Sentinel) {
			t.Fatalf("unknown timestamp expected for %s", r.ID)
		}
	}
}
