package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestCreateDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	query := regexp.QuoteMeta(`
INSERT INTO documents (docs_set_id, source_type, source_name, source_url, source_url_normalized, source_parent_document_id, created_by, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id, created_at, updated_at
`)
	now := time.Now()
	mock.ExpectQuery(query).
		WithArgs(int64(7), "web", "Example page", "https://example.com/a", "https://example.com/a", nil, "alice@example.com", DocStatusCreated).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(42), now, now))

	rec, err := st.CreateDocument(context.Background(), DocumentRecord{
		DocsSetID:           7,
		SourceType:          "web",
		SourceName:          "Example page",
		SourceURL:           "https://example.com/a",
		SourceURLNormalized: "https://example.com/a",
		CreatedBy:           "alice@example.com",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if rec.ID != 42 || rec.Status != DocStatusCreated {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery("SELECT id, docs_set_id").
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = st.GetDocument(context.Background(), 99)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetDocumentStatusMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec("UPDATE documents SET status").
		WithArgs(int64(5), DocStatusEmbedding).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.SetDocumentStatus(context.Background(), 5, DocStatusEmbedding); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPurgeDerivedTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM text_chunks WHERE document_id = $1`)).
		WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM document_images WHERE document_id = $1`)).
		WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("UPDATE documents SET status = 'extracting'").
		WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.PurgeDerived(context.Background(), 3); err != nil {
		t.Fatalf("PurgeDerived: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
