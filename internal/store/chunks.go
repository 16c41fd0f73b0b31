package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TextChunkRecord is one retrievable text segment of a document.
type TextChunkRecord struct {
	ID         int64
	DocumentID int64
	PageStart  int
	PageEnd    int
	ChunkType  string
	ChunkMeta  map[string]interface{}
	Text       string
	Vector     []float32
	CreatedAt  time.Time
}

// InsertTextChunks persists all chunks for a document in one transaction.
func (s *Store) InsertTextChunks(ctx context.Context, documentID int64, records []TextChunkRecord) ([]int64, error) {
	if len(records) == 0 {
		return nil, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO text_chunks (document_id, page_start, page_end, chunk_type, chunk_meta, text, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7::vector)
RETURNING id
`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		chunkType := rec.ChunkType
		if chunkType == "" {
			chunkType = ChunkTypeText
		}
		meta := rec.ChunkMeta
		if meta == nil {
			meta = map[string]interface{}{}
		}
		var metaBytes []byte
		metaBytes, err = json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal chunk meta: %w", err)
		}
		var vectorLiteral interface{}
		if len(rec.Vector) > 0 {
			var lit string
			lit, err = encodeVectorLiteral(rec.Vector)
			if err != nil {
				return nil, err
			}
			vectorLiteral = lit
		}
		var id int64
		if err = stmt.QueryRowContext(ctx, documentID, nullablePage(rec.PageStart), nullablePage(rec.PageEnd),
			chunkType, metaBytes, rec.Text, vectorLiteral).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert text chunk: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DocumentText returns the document's narrative chunks concatenated in
// insertion order, truncated to maxChars (0 = unbounded).
func (s *Store) DocumentText(ctx context.Context, documentID int64, maxChars int) (string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT text FROM text_chunks
WHERE document_id = $1 AND chunk_type = 'text'
ORDER BY id ASC
`, documentID)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var builder strings.Builder
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return "", err
		}
		if builder.Len() > 0 {
			builder.WriteByte('\n')
		}
		builder.WriteString(text)
		if maxChars > 0 && builder.Len() >= maxChars {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	out := builder.String()
	if maxChars > 0 && len(out) > maxChars {
		out = out[:maxChars]
	}
	return out, nil
}

// SiblingDocumentIDs lists the other documents in the same docs set.
func (s *Store) SiblingDocumentIDs(ctx context.Context, documentID int64) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT d.id FROM documents d
WHERE d.docs_set_id = (SELECT docs_set_id FROM documents WHERE id = $1)
  AND d.docs_set_id IS NOT NULL
  AND d.id <> $1
  AND d.status = 'ready'
ORDER BY d.id ASC
`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullablePage(p int) interface{} {
	if p <= 0 {
		return nil
	}
	return p
}
