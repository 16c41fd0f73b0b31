package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("store: not found")

// DocsSetRecord is a named grouping of related documents.
type DocsSetRecord struct {
	ID         int64
	Name       string
	SourceType string
	RootURL    string
	CreatedBy  string
	CreatedAt  time.Time
}

// DocumentRecord is one ingested source (PDF upload or fetched web page).
type DocumentRecord struct {
	ID                  int64
	DocsSetID           int64
	SourceType          string
	SourceName          string
	SourceURL           string
	SourceURLNormalized string
	ParentDocumentID    int64
	StorageKey          string
	Status              string
	PageCount           int
	TextChunkCount      int
	ImageCount          int
	Warnings            []string
	CreatedBy           string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CreateDocsSet inserts a new docs set.
func (s *Store) CreateDocsSet(ctx context.Context, rec DocsSetRecord) (DocsSetRecord, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return DocsSetRecord{}, fmt.Errorf("docs set name required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO docs_sets (name, source_type, root_url, created_by)
VALUES ($1,$2,$3,$4)
RETURNING id, created_at
`, rec.Name, rec.SourceType, nullableString(rec.RootURL), nullableString(rec.CreatedBy))
	if err := row.Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return DocsSetRecord{}, fmt.Errorf("create docs set: %w", err)
	}
	return rec, nil
}

// GetDocsSet fetches a docs set by id.
func (s *Store) GetDocsSet(ctx context.Context, id int64) (DocsSetRecord, error) {
	var (
		rec     DocsSetRecord
		rootURL sql.NullString
		creator sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, name, source_type, root_url, created_by, created_at
FROM docs_sets WHERE id = $1
`, id).Scan(&rec.ID, &rec.Name, &rec.SourceType, &rootURL, &creator, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DocsSetRecord{}, ErrNotFound
	}
	if err != nil {
		return DocsSetRecord{}, err
	}
	rec.RootURL = rootURL.String
	rec.CreatedBy = creator.String
	return rec, nil
}

// FindDocsSetByName fetches a docs set by exact name.
func (s *Store) FindDocsSetByName(ctx context.Context, name string) (DocsSetRecord, error) {
	var (
		rec     DocsSetRecord
		rootURL sql.NullString
		creator sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, name, source_type, root_url, created_by, created_at
FROM docs_sets WHERE name = $1 ORDER BY id ASC LIMIT 1
`, name).Scan(&rec.ID, &rec.Name, &rec.SourceType, &rootURL, &creator, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DocsSetRecord{}, ErrNotFound
	}
	if err != nil {
		return DocsSetRecord{}, err
	}
	rec.RootURL = rootURL.String
	rec.CreatedBy = creator.String
	return rec, nil
}

// CreateDocument inserts a new document shell in its initial status.
func (s *Store) CreateDocument(ctx context.Context, rec DocumentRecord) (DocumentRecord, error) {
	if strings.TrimSpace(rec.SourceName) == "" {
		return DocumentRecord{}, fmt.Errorf("document source name required")
	}
	if rec.Status == "" {
		rec.Status = DocStatusCreated
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (docs_set_id, source_type, source_name, source_url, source_url_normalized, source_parent_document_id, created_by, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id, created_at, updated_at
`, nullableInt64(rec.DocsSetID), rec.SourceType, rec.SourceName,
		nullableString(rec.SourceURL), nullableString(rec.SourceURLNormalized),
		nullableInt64(rec.ParentDocumentID), nullableString(rec.CreatedBy), rec.Status)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return DocumentRecord{}, fmt.Errorf("create document: %w", err)
	}
	return rec, nil
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(ctx context.Context, id int64) (DocumentRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, docs_set_id, source_type, source_name, source_url, source_url_normalized,
       source_parent_document_id, source_storage_key, status, page_count,
       text_chunk_count, image_count, warnings, created_by, created_at, updated_at
FROM documents WHERE id = $1
`, id)
	return scanDocument(row)
}

// FindWebDocument returns the newest web document with the given normalized URL in the docs set.
func (s *Store) FindWebDocument(ctx context.Context, docsSetID int64, normalizedURL string) (DocumentRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, docs_set_id, source_type, source_name, source_url, source_url_normalized,
       source_parent_document_id, source_storage_key, status, page_count,
       text_chunk_count, image_count, warnings, created_by, created_at, updated_at
FROM documents
WHERE source_type = 'web' AND docs_set_id = $1 AND source_url_normalized = $2
ORDER BY id DESC
LIMIT 1
`, docsSetID, normalizedURL)
	return scanDocument(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (DocumentRecord, error) {
	var (
		rec                                     DocumentRecord
		docsSetID, parentID                     sql.NullInt64
		sourceURL, normalizedURL, storageKey    sql.NullString
		createdBy                               sql.NullString
		warnings                                []byte
	)
	err := row.Scan(&rec.ID, &docsSetID, &rec.SourceType, &rec.SourceName, &sourceURL,
		&normalizedURL, &parentID, &storageKey, &rec.Status, &rec.PageCount,
		&rec.TextChunkCount, &rec.ImageCount, &warnings, &createdBy, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DocumentRecord{}, ErrNotFound
	}
	if err != nil {
		return DocumentRecord{}, err
	}
	rec.DocsSetID = docsSetID.Int64
	rec.ParentDocumentID = parentID.Int64
	rec.SourceURL = sourceURL.String
	rec.SourceURLNormalized = normalizedURL.String
	rec.StorageKey = storageKey.String
	rec.CreatedBy = createdBy.String
	if len(warnings) > 0 {
		_ = json.Unmarshal(warnings, &rec.Warnings)
	}
	return rec, nil
}

// SetDocumentStatus moves a document to the given pipeline status.
func (s *Store) SetDocumentStatus(ctx context.Context, id int64, status string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE documents SET status = $2, updated_at = NOW() WHERE id = $1
`, id, status)
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDocumentSourceName renames a document, used when a fetched page
// supplies a title.
func (s *Store) UpdateDocumentSourceName(ctx context.Context, id int64, name string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE documents SET source_name = $2, updated_at = NOW() WHERE id = $1
`, id, name)
	if err != nil {
		return fmt.Errorf("update document name: %w", err)
	}
	return nil
}

// FinalizeDocument marks a document ready and records its final counters.
func (s *Store) FinalizeDocument(ctx context.Context, id int64, storageKey string, pageCount, chunkCount, imageCount int, warnings []string) error {
	if warnings == nil {
		warnings = []string{}
	}
	warnBytes, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
UPDATE documents
SET status = 'ready',
    source_storage_key = $2,
    page_count = $3,
    text_chunk_count = $4,
    image_count = $5,
    warnings = $6,
    updated_at = NOW()
WHERE id = $1
`, id, storageKey, pageCount, chunkCount, imageCount, warnBytes)
	if err != nil {
		return fmt.Errorf("finalize document: %w", err)
	}
	return nil
}

// MarkDocumentFailed flags a document as failed, keeping whatever was persisted.
func (s *Store) MarkDocumentFailed(ctx context.Context, id int64, reason string) error {
	warnBytes, _ := json.Marshal([]string{reason})
	_, err := s.DB.ExecContext(ctx, `
UPDATE documents SET status = 'failed', warnings = warnings || $2::jsonb, updated_at = NOW() WHERE id = $1
`, id, warnBytes)
	return err
}

// PurgeDerived removes chunks, images and captions for a document ahead of
// re-ingestion. Discovered links are preserved.
func (s *Store) PurgeDerived(ctx context.Context, documentID int64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM text_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("purge chunks: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM document_images WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("purge images: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE documents SET status = 'extracting', page_count = 0, text_chunk_count = 0, image_count = 0, warnings = '[]'::jsonb, updated_at = NOW()
WHERE id = $1
`, documentID); err != nil {
		return fmt.Errorf("reset document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document; derived rows follow via FK cascades.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureUser upserts the asking user by email and returns its id.
func (s *Store) EnsureUser(ctx context.Context, email, fullName string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO users (email, full_name, role, last_login)
VALUES ($1,$2,'user',NOW())
ON CONFLICT (email)
DO UPDATE SET full_name = EXCLUDED.full_name, last_login = NOW()
RETURNING id::text
`, email, nullableString(fullName)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}
	return id, nil
}
