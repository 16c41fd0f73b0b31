package index

import "testing"

func TestIndexAndSearch(t *testing.T) {
	idx, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	if err := idx.IndexChunk(1, 10, "text", "the vacation policy grants fifteen days"); err != nil {
		t.Fatalf("IndexChunk: %v", err)
	}
	if err := idx.IndexChunk(2, 10, "table_row", "Plan=Pro; Price=49"); err != nil {
		t.Fatalf("IndexChunk: %v", err)
	}
	if err := idx.IndexChunk(3, 11, "text", "quarterly revenue grew in the report"); err != nil {
		t.Fatalf("IndexChunk: %v", err)
	}

	hits, err := idx.Search("vacation", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != 1 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if hits[0].DocumentID != 10 {
		t.Fatalf("expected document id 10, got %d", hits[0].DocumentID)
	}
	if hits[0].Score <= 0 {
		t.Fatalf("expected positive score, got %f", hits[0].Score)
	}
}

func TestRemoveDocument(t *testing.T) {
	idx, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	_ = idx.IndexChunk(1, 10, "text", "alpha beta gamma")
	_ = idx.IndexChunk(2, 10, "text", "alpha delta")
	_ = idx.IndexChunk(3, 11, "text", "alpha epsilon")

	if err := idx.RemoveDocument(10); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}
	hits, err := idx.Search("alpha", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != 3 {
		t.Fatalf("expected only document 11 chunk to remain: %+v", hits)
	}
}
