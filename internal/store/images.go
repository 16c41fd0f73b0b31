package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DocumentImageRecord is one extracted or downloaded image asset.
type DocumentImageRecord struct {
	ID         int64
	DocumentID int64
	PageNumber int
	ImageIndex int
	SourceURL  string
	StorageKey string
	MimeType   string
	FileBytes  int64
	Width      int
	Height     int
	CreatedAt  time.Time
}

// ImageCaptionRecord is a vision-generated caption for a stored image.
type ImageCaptionRecord struct {
	ID          int64
	ImageID     int64
	CaptionText string
	Vector      []float32
	Provider    string
	Model       string
	CreatedAt   time.Time
}

// InsertDocumentImage stores image metadata and returns the row id.
func (s *Store) InsertDocumentImage(ctx context.Context, rec DocumentImageRecord) (int64, error) {
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO document_images (document_id, page_number, image_index, source_url, storage_key, mime_type, file_bytes, width, height)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id
`, rec.DocumentID, nullablePage(rec.PageNumber), rec.ImageIndex, nullableString(rec.SourceURL),
		rec.StorageKey, nullableString(rec.MimeType), rec.FileBytes, rec.Width, rec.Height).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert document image: %w", err)
	}
	return id, nil
}

// InsertImageCaption stores a caption with its embedding.
func (s *Store) InsertImageCaption(ctx context.Context, rec ImageCaptionRecord) (int64, error) {
	var vectorLiteral interface{}
	if len(rec.Vector) > 0 {
		lit, err := encodeVectorLiteral(rec.Vector)
		if err != nil {
			return 0, err
		}
		vectorLiteral = lit
	}
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO image_captions (image_id, caption_text, embedding, provider, model)
VALUES ($1,$2,$3::vector,$4,$5)
RETURNING id
`, rec.ImageID, rec.CaptionText, vectorLiteral, nullableString(rec.Provider), nullableString(rec.Model)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert image caption: %w", err)
	}
	return id, nil
}

// ImageStorageKeys maps image ids to their object storage keys.
func (s *Store) ImageStorageKeys(ctx context.Context, imageIDs []int64) (map[int64]string, error) {
	keys := make(map[int64]string, len(imageIDs))
	for _, id := range imageIDs {
		var key string
		err := s.DB.QueryRowContext(ctx, `SELECT storage_key FROM document_images WHERE id = $1`, id).Scan(&key)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys[id] = key
	}
	return keys, nil
}
