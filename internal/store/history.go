package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AskHistoryRecord is one answered question with its evidence trail.
type AskHistoryRecord struct {
	ID                int64
	UserID            string
	UserEmail         string
	Question          string
	Answer            string
	ConversationID    string
	DocumentsUsed     []DocumentUsed
	ChunksUsed        []int64
	ImagesUsed        []int64
	WebpageLinks      []string
	ConfidencePercent int
	Grounded          bool
	RetrievalOutcome  string
	FallbackMode      string
	Evidence          map[string]interface{}
	CreatedAt         time.Time
}

// DocumentUsed identifies one evidence document inside an ask record.
type DocumentUsed struct {
	DocumentID int64  `json:"document_id"`
	SourceName string `json:"source_name"`
	SourceType string `json:"source_type"`
}

// InsertAskHistory appends one ask record. Rows are never updated.
func (s *Store) InsertAskHistory(ctx context.Context, rec AskHistoryRecord) (int64, error) {
	if rec.DocumentsUsed == nil {
		rec.DocumentsUsed = []DocumentUsed{}
	}
	if rec.ChunksUsed == nil {
		rec.ChunksUsed = []int64{}
	}
	if rec.ImagesUsed == nil {
		rec.ImagesUsed = []int64{}
	}
	if rec.WebpageLinks == nil {
		rec.WebpageLinks = []string{}
	}
	if rec.Evidence == nil {
		rec.Evidence = map[string]interface{}{}
	}

	docsBytes, err := json.Marshal(rec.DocumentsUsed)
	if err != nil {
		return 0, fmt.Errorf("marshal documents used: %w", err)
	}
	chunksBytes, err := json.Marshal(rec.ChunksUsed)
	if err != nil {
		return 0, fmt.Errorf("marshal chunks used: %w", err)
	}
	imagesBytes, err := json.Marshal(rec.ImagesUsed)
	if err != nil {
		return 0, fmt.Errorf("marshal images used: %w", err)
	}
	linksBytes, err := json.Marshal(rec.WebpageLinks)
	if err != nil {
		return 0, fmt.Errorf("marshal webpage links: %w", err)
	}
	evidenceBytes, err := json.Marshal(rec.Evidence)
	if err != nil {
		return 0, fmt.Errorf("marshal evidence: %w", err)
	}

	var id int64
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO ask_history (user_id, user_email, question, answer, conversation_id, documents_used, chunks_used, images_used, webpage_links, confidence_percent, grounded, retrieval_outcome, fallback_mode, evidence)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id
`, nullableString(rec.UserID), rec.UserEmail, rec.Question, rec.Answer, nullableString(rec.ConversationID),
		docsBytes, chunksBytes, imagesBytes, linksBytes,
		rec.ConfidencePercent, rec.Grounded, rec.RetrievalOutcome, rec.FallbackMode, evidenceBytes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert ask history: %w", err)
	}
	return id, nil
}
