package config

import (
	"testing"
	"time"
)

func TestIngestNormalizeBounds(t *testing.T) {
	c := IngestConfig{ChunkSizeChars: 50, ChunkOverlapChars: 500}.Normalize()
	if c.ChunkSizeChars != 200 {
		t.Fatalf("chunk size floor: got %d", c.ChunkSizeChars)
	}
	if c.ChunkOverlapChars != 150 {
		t.Fatalf("overlap clamp: got %d", c.ChunkOverlapChars)
	}
	if c.EmbedWorkers != 4 || c.EmbedBatchSize != 16 {
		t.Fatalf("worker defaults: %d/%d", c.EmbedWorkers, c.EmbedBatchSize)
	}
	if c.LockLease != 10*time.Minute {
		t.Fatalf("lock lease default: %v", c.LockLease)
	}
}

func TestCrawlNormalizeBatchCap(t *testing.T) {
	c := CrawlConfig{MaxBatchPages: 500}.Normalize()
	if c.MaxBatchPages != 100 {
		t.Fatalf("batch cap: got %d", c.MaxBatchPages)
	}
	c = CrawlConfig{MaxBatchPages: 25}.Normalize()
	if c.MaxBatchPages != 25 {
		t.Fatalf("valid batch size changed: got %d", c.MaxBatchPages)
	}
}

func TestAnswerValidateOrdering(t *testing.T) {
	ok := AnswerConfig{ConfidenceNone: 82, ConfidenceBroadened: 72, ConfidenceModelKnowledge: 42, ConfidenceOutOfScope: 18}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid scale rejected: %v", err)
	}
	bad := AnswerConfig{ConfidenceNone: 82, ConfidenceBroadened: 40, ConfidenceModelKnowledge: 42, ConfidenceOutOfScope: 18}
	if err := bad.Validate(); err == nil {
		t.Fatal("ungrounded mode above a grounded mode must be rejected")
	}
	outOfRange := AnswerConfig{ConfidenceNone: 120, ConfidenceBroadened: 72, ConfidenceModelKnowledge: 42, ConfidenceOutOfScope: 18}
	if err := outOfRange.Validate(); err == nil {
		t.Fatal("confidence above 100 must be rejected")
	}
}

func TestRetrievalValidate(t *testing.T) {
	ok := RetrievalConfig{TopK: 8, MaxRounds: 2, MaxVariants: 4, MinSimilarity: 0.3, BroadenedFactor: 0.8}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid retrieval config rejected: %v", err)
	}
	if err := (RetrievalConfig{TopK: 0, MaxRounds: 2, MaxVariants: 4, MinSimilarity: 0.3, BroadenedFactor: 0.8}).Validate(); err == nil {
		t.Fatal("zero top_k must be rejected")
	}
	if err := (RetrievalConfig{TopK: 8, MaxRounds: 2, MaxVariants: 4, MinSimilarity: 1.5, BroadenedFactor: 0.8}).Validate(); err == nil {
		t.Fatal("out-of-range similarity must be rejected")
	}
	single := ok
	single.MaxRounds = 1
	if err := single.Validate(); err != nil {
		t.Fatalf("single-round config rejected: %v", err)
	}
	for _, rounds := range []int{0, 3} {
		bad := ok
		bad.MaxRounds = rounds
		if err := bad.Validate(); err == nil {
			t.Fatalf("max_rounds %d must be rejected", rounds)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5432", User: "cf", Password: "secret", DBName: "contextforge"}
	want := "postgres://cf:secret@db:5432/contextforge?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN: got %q want %q", got, want)
	}
	p.URL = "postgres://override"
	if got := p.DSN(); got != "postgres://override" {
		t.Fatalf("URL override ignored: %q", got)
	}
}
