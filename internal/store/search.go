package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ChunkSearchResult is one vector or keyword hit against text_chunks.
type ChunkSearchResult struct {
	ChunkID      int64
	DocumentID   int64
	SourceName   string
	SourceType   string
	SourceURL    string
	ChunkType    string
	Text         string
	Distance     float64
	DocCreatedAt time.Time
}

// CaptionSearchResult is one vector hit against image_captions.
type CaptionSearchResult struct {
	CaptionID    int64
	ImageID      int64
	DocumentID   int64
	SourceName   string
	SourceType   string
	SourceURL    string
	StorageKey   string
	CaptionText  string
	Distance     float64
	DocCreatedAt time.Time
}

// SearchChunks returns the closest text chunks for the supplied vector.
func (s *Store) SearchChunks(ctx context.Context, vector []float32, topK int) ([]ChunkSearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 8
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT t.id, t.document_id, d.source_name, d.source_type, d.source_url, t.chunk_type, t.text, d.created_at, t.embedding <=> $1::vector AS distance
FROM text_chunks t
JOIN documents d ON d.id = t.document_id
WHERE t.embedding IS NOT NULL AND d.status = 'ready'
ORDER BY t.embedding <=> $1::vector
LIMIT $2
`, vecLiteral, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChunkSearchResult
	for rows.Next() {
		var (
			res       ChunkSearchResult
			sourceURL sql.NullString
		)
		if err := rows.Scan(&res.ChunkID, &res.DocumentID, &res.SourceName, &res.SourceType,
			&sourceURL, &res.ChunkType, &res.Text, &res.DocCreatedAt, &res.Distance); err != nil {
			return nil, err
		}
		res.SourceURL = sourceURL.String
		results = append(results, res)
	}
	return results, rows.Err()
}

// SearchCaptions returns the closest image captions for the supplied vector.
func (s *Store) SearchCaptions(ctx context.Context, vector []float32, topK int) ([]CaptionSearchResult, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 8
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, c.image_id, i.document_id, d.source_name, d.source_type, d.source_url, i.storage_key, c.caption_text, d.created_at, c.embedding <=> $1::vector AS distance
FROM image_captions c
JOIN document_images i ON i.id = c.image_id
JOIN documents d ON d.id = i.document_id
WHERE c.embedding IS NOT NULL AND d.status = 'ready'
ORDER BY c.embedding <=> $1::vector
LIMIT $2
`, vecLiteral, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CaptionSearchResult
	for rows.Next() {
		var (
			res       CaptionSearchResult
			sourceURL sql.NullString
		)
		if err := rows.Scan(&res.CaptionID, &res.ImageID, &res.DocumentID, &res.SourceName,
			&res.SourceType, &sourceURL, &res.StorageKey, &res.CaptionText, &res.DocCreatedAt, &res.Distance); err != nil {
			return nil, err
		}
		res.SourceURL = sourceURL.String
		results = append(results, res)
	}
	return results, rows.Err()
}

// ChunksByIDs hydrates keyword-index hits into full chunk rows. Only
// chunks of ready documents are returned; order follows the input ids.
func (s *Store) ChunksByIDs(ctx context.Context, ids []int64) ([]ChunkSearchResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT t.id, t.document_id, d.source_name, d.source_type, d.source_url, t.chunk_type, t.text, d.created_at
FROM text_chunks t
JOIN documents d ON d.id = t.document_id
WHERE d.status = 'ready' AND t.id = ANY($1)
`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]ChunkSearchResult, len(ids))
	for rows.Next() {
		var (
			res       ChunkSearchResult
			sourceURL sql.NullString
		)
		if err := rows.Scan(&res.ChunkID, &res.DocumentID, &res.SourceName, &res.SourceType,
			&sourceURL, &res.ChunkType, &res.Text, &res.DocCreatedAt); err != nil {
			return nil, err
		}
		res.SourceURL = sourceURL.String
		byID[res.ChunkID] = res
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]ChunkSearchResult, 0, len(byID))
	for _, id := range ids {
		if res, ok := byID[id]; ok {
			results = append(results, res)
		}
	}
	return results, nil
}

// KeywordSearchChunks runs a token ILIKE query over text_chunks, newest first.
func (s *Store) KeywordSearchChunks(ctx context.Context, tokens []string, limit int) ([]ChunkSearchResult, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 6
	}
	conditions := make([]string, 0, len(tokens))
	args := make([]interface{}, 0, len(tokens)+1)
	for i, token := range tokens {
		conditions = append(conditions, fmt.Sprintf("t.text ILIKE $%d", i+1))
		args = append(args, "%"+token+"%")
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
SELECT t.id, t.document_id, d.source_name, d.source_type, d.source_url, t.chunk_type, t.text, d.created_at
FROM text_chunks t
JOIN documents d ON d.id = t.document_id
WHERE d.status = 'ready' AND (%s)
ORDER BY t.id DESC
LIMIT $%d
`, strings.Join(conditions, " OR "), len(tokens)+1)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChunkSearchResult
	for rows.Next() {
		var (
			res       ChunkSearchResult
			sourceURL sql.NullString
		)
		if err := rows.Scan(&res.ChunkID, &res.DocumentID, &res.SourceName, &res.SourceType,
			&sourceURL, &res.ChunkType, &res.Text, &res.DocCreatedAt); err != nil {
			return nil, err
		}
		res.SourceURL = sourceURL.String
		results = append(results, res)
	}
	return results, rows.Err()
}
