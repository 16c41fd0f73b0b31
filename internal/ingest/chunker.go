package ingest

import (
	"regexp"
	"strings"

	"github.com/match9393/ContextForge/internal/store"
)

// ChunkEntry is one unit of text headed for embedding and storage. The
// coordinator converts entries to store.TextChunkRecord after embedding.
type ChunkEntry struct {
	Text      string
	ChunkType string
	PageStart int
	PageEnd   int
	Meta      map[string]any
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeText collapses all whitespace runs to single spaces and trims
// the ends. Narrative text is normalised before windowing so chunk
// boundaries are stable across re-ingests of identical content.
func NormalizeText(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// ChunkText splits normalised text into overlapping windows measured in
// runes. size is floored at 200 and overlap clamped to size-50 so the
// stride is always positive.
func ChunkText(text string, size, overlap int) []string {
	text = NormalizeText(text)
	if text == "" {
		return nil
	}
	if size < 200 {
		size = 200
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap > size-50 {
		overlap = size - 50
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	stride := size - overlap
	var out []string
	for start := 0; start < len(runes); start += stride {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// capEntries bounds entries to maxChunks. Table summaries are kept first;
// the remaining budget is split evenly between narrative chunks and table
// rows, each class guaranteed at least one slot when it has entries and
// budget remains. Document order is preserved within each class. The
// second return reports whether anything was dropped.
func capEntries(entries []ChunkEntry, maxChunks int) ([]ChunkEntry, bool) {
	if maxChunks <= 0 || len(entries) <= maxChunks {
		return entries, false
	}

	var summaries, texts, rows []ChunkEntry
	for _, e := range entries {
		switch e.ChunkType {
		case store.ChunkTypeTableSummary:
			summaries = append(summaries, e)
		case store.ChunkTypeTableRow:
			rows = append(rows, e)
		default:
			texts = append(texts, e)
		}
	}

	if len(summaries) > maxChunks {
		summaries = summaries[:maxChunks]
	}
	remaining := maxChunks - len(summaries)

	textBudget := remaining / 2
	rowBudget := remaining - textBudget
	if textBudget == 0 && len(texts) > 0 && rowBudget > 1 {
		textBudget = 1
		rowBudget--
	}
	if rowBudget == 0 && len(rows) > 0 && textBudget > 1 {
		rowBudget = 1
		textBudget--
	}
	if len(texts) < textBudget {
		rowBudget += textBudget - len(texts)
		textBudget = len(texts)
	}
	if len(rows) < rowBudget {
		extra := rowBudget - len(rows)
		rowBudget = len(rows)
		if textBudget+extra <= len(texts) {
			textBudget += extra
		} else {
			textBudget = len(texts)
		}
	}

	out := make([]ChunkEntry, 0, maxChunks)
	out = append(out, summaries...)
	out = append(out, texts[:textBudget]...)
	out = append(out, rows[:rowBudget]...)
	return out, true
}
