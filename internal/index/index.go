package index

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve"
)

// ChunkDoc is the keyword-indexed view of a text chunk.
type ChunkDoc struct {
	DocumentID int64  `json:"document_id"`
	ChunkType  string `json:"chunk_type"`
	Text       string `json:"text"`
}

// Hit is one keyword match with its bleve relevance score.
type Hit struct {
	ChunkID    int64
	DocumentID int64
	Score      float64
}

// KeywordIndex maintains a bleve index over chunk text for the broadened
// retrieval pass. Safe for concurrent use.
type KeywordIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

// Open opens (or creates) the index at path. An empty path opens an
// in-memory index.
func Open(path string) (*KeywordIndex, error) {
	if path == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
		return &KeywordIndex{index: idx}, nil
	}

	idx, err := bleve.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("open keyword index: %w", err)
		}
		idx, err = bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create keyword index: %w", err)
		}
	}
	return &KeywordIndex{index: idx}, nil
}

// IndexChunk adds or replaces one chunk in the index.
func (k *KeywordIndex) IndexChunk(chunkID, documentID int64, chunkType, text string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.index.Index(chunkKey(chunkID), ChunkDoc{
		DocumentID: documentID,
		ChunkType:  chunkType,
		Text:       text,
	})
}

// RemoveDocument deletes all indexed chunks that belong to documentID.
func (k *KeywordIndex) RemoveDocument(documentID int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	query := bleve.NewQueryStringQuery(fmt.Sprintf("document_id:%d", documentID))
	req := bleve.NewSearchRequestOptions(query, 1000, 0, false)
	res, err := k.index.Search(req)
	if err != nil {
		return err
	}
	batch := k.index.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	return k.index.Batch(batch)
}

// Search runs a query-string search and returns up to limit hits.
func (k *KeywordIndex) Search(q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	k.mu.RLock()
	defer k.mu.RUnlock()

	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, limit, 0, false)
	req.Fields = []string{"document_id"}
	res, err := k.index.Search(req)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		chunkID, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		h := Hit{ChunkID: chunkID, Score: hit.Score}
		if raw, ok := hit.Fields["document_id"]; ok {
			if f, ok := raw.(float64); ok {
				h.DocumentID = int64(f)
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Close releases the underlying index.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.index.Close()
}

func chunkKey(chunkID int64) string {
	return strconv.FormatInt(chunkID, 10)
}
