package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/domain/timestamp"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
)

func setUp() {
	db, mock, _ = sqlmock.New()
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

var cols = []string{"id", "user_id", "image_data", "image_url", "analysis_result", "metadata", "created_at", "updated_at"}

func TestFindByOwner(t *testing.T) {
	it(func() {
		created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		mock.ExpectQuery(`SELECT (.+) FROM pest_analyses WHERE user_id=\$1 LIMIT \$2`).
			WithArgs("u1", 30).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow("a1", "u1", "data:image/png;base64,AA", nil,
					[]byte(`{"hasPest":true,"detections":[{"pestType":"Pulgón","confidence":0.8,"severity":"high"}],"imageAnalysis":{"quality":"good"},"recommendations":["x"]}`),
					[]byte(`{"cropType":"tomate"}`), created, created).
				AddRow("a2", "u1", nil, "http://minio/b/a2.png", []byte(`{"hasPest":false}`), nil, nil, nil))

		repo := NewAnalysisRepository(db)
		got, err := repo.FindByOwner(context.Background(), "u1", 30)
		if err != nil {
			t.Fatalf("FindByOwner: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 rows, got %d", len(got))
		}
		a1 := got[0]
		if a1.ID != "a1" || !a1.Result.HasPest || a1.Result.Detections[0].PestType != "Pulgón" {
			t.Fatalf("a1 decoded wrong: %+v", a1)
		}
		if a1.Metadata == nil || a1.Metadata.CropType != "tomate" {
			t.Fatalf("metadata decoded wrong: %+v", a1.Metadata)
		}
		if !a1.CapturedAt.Equal(timestamp.Of(created)) {
			t.Fatalf("createdAt=%s", a1.CapturedAt)
		}
		a2 := got[1]
		if a2.CapturedAt.IsKnown() || a2.Metadata != nil || a2.ImageURL == "" {
			t.Fatalf("a2 decoded wrong: %+v", a2)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})
}

func TestGet(t *testing.T) {
	it(func() {
		testCases := []struct {
			name    string
			rows    *sqlmock.Rows
			err     error
			wantNil bool
			wantErr bool
		}{
			{name: "missing row", rows: sqlmock.NewRows(cols), wantNil: true},
			{name: "driver error", err: errors.New("boom"), wantNil: true, wantErr: true},
			{name: "present", rows: sqlmock.NewRows(cols).AddRow("a1", "u1", nil, nil, []byte(`{}`), nil, time.Now(), time.Now())},
		}
		for _, tc := range testCases {
			q := mock.ExpectQuery(`SELECT (.+) FROM pest_analyses WHERE id=\$1 LIMIT 1`).WithArgs("a1")
			if tc.err != nil {
				q.WillReturnError(tc.err)
			} else {
				q.WillReturnRows(tc.rows)
			}
			got, err := NewAnalysisRepository(db).Get(context.Background(), "a1")
			if (err != nil) != tc.wantErr {
				t.Fatalf("%s: err=%v", tc.name, err)
			}
			if (got == nil) != tc.wantNil {
				t.Fatalf("%s: got=%+v", tc.name, got)
			}
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})
}

func TestSaveAssignsID(t *testing.T) {
	it(func() {
		mock.ExpectExec(`INSERT INTO pest_analyses (.+) ON CONFLICT \(id\) DO UPDATE`).
			WithArgs(sqlmock.AnyArg(), "u1", "data:x", "", sqlmock.AnyArg(), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// empty metadata is stored as NULL
		rec := &analysis.Record{OwnerID: "u1", ImagePayload: "data:x", CapturedAt: timestamp.Of(time.Now()), Metadata: &analysis.Metadata{}}
		if err := NewAnalysisRepository(db).Save(context.Background(), rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if rec.ID == "" {
			t.Fatalf("id not assigned")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})
}

func TestDelete(t *testing.T) {
	it(func() {
		mock.ExpectExec(`DELETE FROM pest_analyses WHERE id=\$1`).WithArgs("a1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM pest_analyses WHERE id=\$1`).WithArgs("a2").WillReturnError(errors.New("lock wait timeout"))

		repo := NewAnalysisRepository(db)
		if err := repo.Delete(context.Background(), "a1"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := repo.Delete(context.Background(), "a2"); err == nil {
			t.Fatalf("expected driver error")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})
}

func TestMigrate(t *testing.T) {
	it(func() {
		mock.ExpectExec(`CREATE TABLE IF NOT EXISTS pest_analyses`).WillReturnResult(sqlmock.NewResult(0, 0))
		if err := NewAnalysisRepository(db).Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("there were unfulfilled expectations: %s", err)
		}
	})
}
