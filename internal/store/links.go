package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DiscoveredLinkRecord is an anchor found on an ingested web page.
type DiscoveredLinkRecord struct {
	ID                 int64
	SourceDocumentID   int64
	DocsSetID          int64
	URL                string
	NormalizedURL      string
	LinkText           string
	SameDomain         bool
	Status             string
	IngestedDocumentID int64
	LastError          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UpsertDiscoveredLink records one link from a source page; re-discovery
// refreshes the link text and status.
func (s *Store) UpsertDiscoveredLink(ctx context.Context, rec DiscoveredLinkRecord) error {
	if rec.Status == "" {
		rec.Status = LinkStatusDiscovered
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO web_discovered_links (source_document_id, docs_set_id, url, normalized_url, link_text, same_domain, status, ingested_document_id, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (source_document_id, normalized_url)
DO UPDATE SET
  url = EXCLUDED.url,
  link_text = EXCLUDED.link_text,
  same_domain = EXCLUDED.same_domain,
  status = EXCLUDED.status,
  ingested_document_id = EXCLUDED.ingested_document_id,
  updated_at = NOW()
`, rec.SourceDocumentID, nullableInt64(rec.DocsSetID), rec.URL, rec.NormalizedURL,
		nullableString(rec.LinkText), rec.SameDomain, rec.Status, nullableInt64(rec.IngestedDocumentID))
	if err != nil {
		return fmt.Errorf("upsert discovered link: %w", err)
	}
	return nil
}

// GetDiscoveredLink fetches one link by id.
func (s *Store) GetDiscoveredLink(ctx context.Context, id int64) (DiscoveredLinkRecord, error) {
	var (
		rec        DiscoveredLinkRecord
		docsSetID  sql.NullInt64
		linkText   sql.NullString
		ingestedID sql.NullInt64
		lastError  sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, source_document_id, docs_set_id, url, normalized_url, link_text, same_domain, status, ingested_document_id, last_error, created_at, updated_at
FROM web_discovered_links WHERE id = $1
`, id).Scan(&rec.ID, &rec.SourceDocumentID, &docsSetID, &rec.URL, &rec.NormalizedURL,
		&linkText, &rec.SameDomain, &rec.Status, &ingestedID, &lastError, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DiscoveredLinkRecord{}, ErrNotFound
	}
	if err != nil {
		return DiscoveredLinkRecord{}, err
	}
	rec.DocsSetID = docsSetID.Int64
	rec.LinkText = linkText.String
	rec.IngestedDocumentID = ingestedID.Int64
	rec.LastError = lastError.String
	return rec, nil
}

// ListDiscoveredLinks returns same-domain links still in discovered state,
// ordered by discovery id, bounded by limit.
func (s *Store) ListDiscoveredLinks(ctx context.Context, sourceDocumentID int64, limit int) ([]DiscoveredLinkRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, source_document_id, docs_set_id, url, normalized_url, link_text, same_domain, status, ingested_document_id, last_error, created_at, updated_at
FROM web_discovered_links
WHERE source_document_id = $1 AND status = 'discovered' AND same_domain = TRUE
ORDER BY id ASC
LIMIT $2
`, sourceDocumentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []DiscoveredLinkRecord
	for rows.Next() {
		var (
			rec        DiscoveredLinkRecord
			docsSetID  sql.NullInt64
			linkText   sql.NullString
			ingestedID sql.NullInt64
			lastError  sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.SourceDocumentID, &docsSetID, &rec.URL, &rec.NormalizedURL,
			&linkText, &rec.SameDomain, &rec.Status, &ingestedID, &lastError, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.DocsSetID = docsSetID.Int64
		rec.LinkText = linkText.String
		rec.IngestedDocumentID = ingestedID.Int64
		rec.LastError = lastError.String
		links = append(links, rec)
	}
	return links, rows.Err()
}

// MarkDiscoveredLink updates the status of a link after an ingest attempt.
func (s *Store) MarkDiscoveredLink(ctx context.Context, linkID int64, status string, ingestedDocumentID int64, lastError string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE web_discovered_links
SET status = $2, ingested_document_id = $3, last_error = $4, updated_at = NOW()
WHERE id = $1
`, linkID, status, nullableInt64(ingestedDocumentID), nullableString(lastError))
	if err != nil {
		return fmt.Errorf("mark discovered link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetDiscoveredLink returns a failed link to discovered for explicit retry.
func (s *Store) ResetDiscoveredLink(ctx context.Context, linkID int64) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE web_discovered_links
SET status = 'discovered', ingested_document_id = NULL, last_error = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'failed'
`, linkID)
	if err != nil {
		return fmt.Errorf("reset discovered link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
