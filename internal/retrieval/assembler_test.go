package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/match9393/ContextForge/config"
)

type fakeDocStore struct {
	texts    map[int64]string
	siblings map[int64][]int64
}

func (f *fakeDocStore) DocumentText(_ context.Context, documentID int64, _ int) (string, error) {
	text, ok := f.texts[documentID]
	if !ok {
		return "", fmt.Errorf("no document %d", documentID)
	}
	return text, nil
}

func (f *fakeDocStore) SiblingDocumentIDs(_ context.Context, documentID int64) ([]int64, error) {
	return f.siblings[documentID], nil
}

func evidenceRow(id, docID int64, sim float64) Evidence {
	return Evidence{Modality: ModalityChunk, ID: id, DocumentID: docID, SourceName: fmt.Sprintf("doc-%d", docID), Similarity: sim}
}

func TestAssembleTopKOnly(t *testing.T) {
	cfg := config.RetrievalConfig{TopK: 2}
	a := NewAssembler(cfg, &fakeDocStore{}, testLogger())

	bundle := a.Assemble(context.Background(), []Evidence{
		evidenceRow(1, 10, 0.9),
		evidenceRow(2, 10, 0.8),
		evidenceRow(3, 11, 0.7),
	})
	if len(bundle.Rows) != 2 || bundle.Rows[1].ID != 2 {
		t.Fatalf("rows: %+v", bundle.Rows)
	}
	if bundle.Expanded != nil {
		t.Fatalf("unexpected expansion: %+v", bundle.Expanded)
	}
}

func TestAssembleExpandsTopDocuments(t *testing.T) {
	cfg := config.RetrievalConfig{TopK: 4, ExpandFullDocs: 1, ExpandDocCharCap: 8000}
	docs := &fakeDocStore{texts: map[int64]string{10: "full text of doc ten", 11: "doc eleven"}}
	a := NewAssembler(cfg, docs, testLogger())

	bundle := a.Assemble(context.Background(), []Evidence{
		evidenceRow(1, 10, 0.9),
		evidenceRow(2, 11, 0.8),
	})
	if len(bundle.Rows) != 2 {
		t.Fatalf("rows: %+v", bundle.Rows)
	}
	if len(bundle.Expanded) != 1 || bundle.Expanded[0].DocumentID != 10 {
		t.Fatalf("expanded: %+v", bundle.Expanded)
	}
	if bundle.Expanded[0].Text != "full text of doc ten" {
		t.Fatalf("expanded text: %q", bundle.Expanded[0].Text)
	}
}

func TestAssembleSiblingExpansion(t *testing.T) {
	cfg := config.RetrievalConfig{TopK: 4, ExpandFullDocs: 1, ExpandDocCharCap: 8000, ExpandDocsSetSiblings: true}
	docs := &fakeDocStore{
		texts:    map[int64]string{10: "doc ten", 12: "sibling twelve"},
		siblings: map[int64][]int64{10: {12}},
	}
	a := NewAssembler(cfg, docs, testLogger())

	bundle := a.Assemble(context.Background(), []Evidence{evidenceRow(1, 10, 0.9)})
	if len(bundle.Expanded) != 2 || bundle.Expanded[1].DocumentID != 12 {
		t.Fatalf("expanded: %+v", bundle.Expanded)
	}
}

func TestAssembleExpansionFailureDegrades(t *testing.T) {
	cfg := config.RetrievalConfig{TopK: 4, ExpandFullDocs: 2, ExpandDocCharCap: 8000}
	a := NewAssembler(cfg, &fakeDocStore{}, testLogger())

	bundle := a.Assemble(context.Background(), []Evidence{evidenceRow(1, 10, 0.9)})
	if len(bundle.Rows) != 1 || bundle.Expanded != nil {
		t.Fatalf("bundle: %+v", bundle)
	}
}
