package retrieval

import (
	"context"
	"log"

	"github.com/match9393/ContextForge/config"
)

// DocumentContext is one expanded full-document text block.
type DocumentContext struct {
	DocumentID int64
	SourceName string
	Text       string
}

// ContextBundle is the synthesis context: chunk-level rows for exact
// provenance plus optional full-document expansions.
type ContextBundle struct {
	Rows     []Evidence
	Expanded []DocumentContext
}

type documentTextStore interface {
	DocumentText(ctx context.Context, documentID int64, maxChars int) (string, error)
	SiblingDocumentIDs(ctx context.Context, documentID int64) ([]int64, error)
}

// Assembler selects the top-K evidence rows and optionally expands the
// best-scoring documents to their full text.
type Assembler struct {
	cfg    config.RetrievalConfig
	store  documentTextStore
	logger *log.Logger
}

func NewAssembler(cfg config.RetrievalConfig, st documentTextStore, logger *log.Logger) *Assembler {
	if logger == nil {
		logger = log.New(log.Writer(), "[CONTEXT] ", log.LstdFlags)
	}
	return &Assembler{cfg: cfg, store: st, logger: logger}
}

// Assemble bounds evidence to top-K and, when enabled, appends full
// document texts for the top-N distinct documents. Chunk rows are kept
// even when expansion runs. Expansion failures degrade to chunk-only
// context.
func (a *Assembler) Assemble(ctx context.Context, evidence []Evidence) ContextBundle {
	rows := evidence
	if a.cfg.TopK > 0 && len(rows) > a.cfg.TopK {
		rows = rows[:a.cfg.TopK]
	}
	bundle := ContextBundle{Rows: rows}
	if a.cfg.ExpandFullDocs <= 0 || len(rows) == 0 {
		return bundle
	}

	var docOrder []int64
	names := map[int64]string{}
	seen := map[int64]struct{}{}
	for _, ev := range rows {
		if _, ok := seen[ev.DocumentID]; ok {
			continue
		}
		seen[ev.DocumentID] = struct{}{}
		docOrder = append(docOrder, ev.DocumentID)
		names[ev.DocumentID] = ev.SourceName
		if len(docOrder) == a.cfg.ExpandFullDocs {
			break
		}
	}

	if a.cfg.ExpandDocsSetSiblings && len(docOrder) > 0 {
		siblings, err := a.store.SiblingDocumentIDs(ctx, docOrder[0])
		if err != nil {
			a.logger.Printf("warn: sibling lookup for document %d: %v", docOrder[0], err)
		}
		for _, id := range siblings {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			docOrder = append(docOrder, id)
			if len(docOrder) == a.cfg.ExpandFullDocs*2 {
				break
			}
		}
	}

	for _, id := range docOrder {
		text, err := a.store.DocumentText(ctx, id, a.cfg.ExpandDocCharCap)
		if err != nil {
			a.logger.Printf("warn: document text for %d: %v", id, err)
			continue
		}
		if text == "" {
			continue
		}
		bundle.Expanded = append(bundle.Expanded, DocumentContext{
			DocumentID: id,
			SourceName: names[id],
			Text:       text,
		})
	}
	return bundle
}
