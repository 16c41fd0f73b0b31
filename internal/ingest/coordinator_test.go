package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/match9393/ContextForge/config"
)

type fakeEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn map[string]bool
	dim    int
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for _, text := range texts {
		if f.failOn[text] {
			return nil, fmt.Errorf("provider unavailable")
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func poolCoordinator(embedder Embedder) *Coordinator {
	cfg := &config.Config{}
	cfg.Ingest.EmbedBatchSize = 2
	cfg.Ingest.EmbedWorkers = 3
	return &Coordinator{
		cfg:      cfg,
		embedder: embedder,
		logger:   log.New(io.Discard, "", 0),
	}
}

func TestEmbedEntriesBatches(t *testing.T) {
	fake := &fakeEmbedder{dim: 4}
	c := poolCoordinator(fake)

	entries := make([]ChunkEntry, 5)
	for i := range entries {
		entries[i] = ChunkEntry{Text: fmt.Sprintf("chunk %d", i)}
	}
	vectors, warnings := c.embedEntries(context.Background(), entries)
	if len(warnings) != 0 {
		t.Fatalf("warnings: %v", warnings)
	}
	if fake.calls != 3 {
		t.Fatalf("batch calls: %d", fake.calls)
	}
	for i, v := range vectors {
		if len(v) != 4 {
			t.Fatalf("vector %d: %v", i, v)
		}
	}
}

func TestEmbedEntriesBatchFailureBecomesWarning(t *testing.T) {
	fake := &fakeEmbedder{dim: 4, failOn: map[string]bool{"chunk 2": true}}
	c := poolCoordinator(fake)

	entries := make([]ChunkEntry, 4)
	for i := range entries {
		entries[i] = ChunkEntry{Text: fmt.Sprintf("chunk %d", i)}
	}
	vectors, warnings := c.embedEntries(context.Background(), entries)
	if len(warnings) != 1 {
		t.Fatalf("warnings: %v", warnings)
	}
	// The failed batch covers entries 2 and 3.
	if vectors[2] != nil || vectors[3] != nil {
		t.Fatalf("failed batch should stay nil: %v", vectors)
	}
	if vectors[0] == nil || vectors[1] == nil {
		t.Fatalf("healthy batch lost: %v", vectors)
	}
}

func TestEmbedEntriesEmpty(t *testing.T) {
	c := poolCoordinator(&fakeEmbedder{dim: 4})
	vectors, warnings := c.embedEntries(context.Background(), nil)
	if len(vectors) != 0 || warnings != nil {
		t.Fatalf("vectors=%v warnings=%v", vectors, warnings)
	}
}

func TestImageRecordCarriesPayloadSize(t *testing.T) {
	img := ExtractedImage{
		PageNumber: 3,
		ImageIndex: 1,
		SourceURL:  "https://example.com/fig.png",
		MimeType:   "image/png",
		Data:       make([]byte, 2048),
		Width:      640,
		Height:     480,
	}
	rec := imageRecord(42, img, "images/42/p3-i1.png")
	if rec.DocumentID != 42 || rec.PageNumber != 3 || rec.ImageIndex != 1 {
		t.Fatalf("record identity: %+v", rec)
	}
	if rec.FileBytes != int64(len(img.Data)) {
		t.Fatalf("file bytes: %d", rec.FileBytes)
	}
	if rec.StorageKey != "images/42/p3-i1.png" || rec.MimeType != "image/png" {
		t.Fatalf("record storage fields: %+v", rec)
	}
	if rec.Width != 640 || rec.Height != 480 || rec.SourceURL != img.SourceURL {
		t.Fatalf("record metadata: %+v", rec)
	}
}
