package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/match9393/ContextForge/internal/store"
)

const (
	tableSummaryMaxChars = 2000
	tableRowMaxChars     = 2200
)

var numericPattern = regexp.MustCompile(`[-+]?\d+(?:,\d{3})*(?:\.\d+)?`)

// htmlTable is one structured table lifted out of a page.
type htmlTable struct {
	Headers []string
	Rows    [][]string
}

// extractTables walks the document tree and returns every <table> as
// header row plus data rows. The first row supplies headers when the
// table has no explicit <th> cells.
func extractTables(root *html.Node) []htmlTable {
	var tables []htmlTable
	walkElements(root, "table", func(tableNode *html.Node) {
		var rows [][]string
		var headers []string
		walkElements(tableNode, "tr", func(tr *html.Node) {
			var cells []string
			isHeader := false
			for cell := tr.FirstChild; cell != nil; cell = cell.NextSibling {
				if cell.Type != html.ElementNode {
					continue
				}
				switch cell.Data {
				case "th":
					isHeader = true
					cells = append(cells, NormalizeText(nodeText(cell)))
				case "td":
					cells = append(cells, NormalizeText(nodeText(cell)))
				}
			}
			if len(cells) == 0 {
				return
			}
			if isHeader && headers == nil {
				headers = cells
				return
			}
			rows = append(rows, cells)
		})
		if headers == nil && len(rows) > 1 {
			headers = rows[0]
			rows = rows[1:]
		}
		if len(rows) == 0 && len(headers) == 0 {
			return
		}
		tables = append(tables, htmlTable{Headers: headers, Rows: rows})
	})
	return tables
}

// tableChunkEntries converts tables into one summary entry per table plus
// one entry per data row. Row entries carry parsed numeric values in
// their metadata for downstream filtering.
func tableChunkEntries(tables []htmlTable) []ChunkEntry {
	var entries []ChunkEntry
	for ti, table := range tables {
		cols := len(table.Headers)
		if cols == 0 && len(table.Rows) > 0 {
			cols = len(table.Rows[0])
		}

		var summary strings.Builder
		fmt.Fprintf(&summary, "Table %d (%d rows x %d columns).", ti+1, len(table.Rows), cols)
		if len(table.Headers) > 0 {
			fmt.Fprintf(&summary, " Columns: %s.", strings.Join(table.Headers, ", "))
		}
		for si := 0; si < len(table.Rows) && si < 2; si++ {
			fmt.Fprintf(&summary, " Sample row %d: %s.", si+1, formatRow(table.Headers, table.Rows[si]))
		}
		entries = append(entries, ChunkEntry{
			Text:      truncateRunes(summary.String(), tableSummaryMaxChars),
			ChunkType: store.ChunkTypeTableSummary,
			Meta: map[string]any{
				"table_index":  ti + 1,
				"row_count":    len(table.Rows),
				"column_count": cols,
			},
		})

		for ri, row := range table.Rows {
			text := fmt.Sprintf("Table %d row %d: %s", ti+1, ri+1, formatRow(table.Headers, row))
			meta := map[string]any{
				"table_index": ti + 1,
				"row_index":   ri + 1,
			}
			if nums := numericValues(row); len(nums) > 0 {
				meta["numeric_values"] = nums
			}
			entries = append(entries, ChunkEntry{
				Text:      truncateRunes(text, tableRowMaxChars),
				ChunkType: store.ChunkTypeTableRow,
				Meta:      meta,
			})
		}
	}
	return entries
}

// formatRow renders cells as "header=value" pairs when headers exist,
// otherwise as a plain semicolon list.
func formatRow(headers, cells []string) string {
	parts := make([]string, 0, len(cells))
	for i, cell := range cells {
		if i < len(headers) && headers[i] != "" {
			parts = append(parts, headers[i]+"="+cell)
		} else {
			parts = append(parts, cell)
		}
	}
	return strings.Join(parts, "; ")
}

func numericValues(cells []string) []float64 {
	var out []float64
	for _, cell := range cells {
		for _, match := range numericPattern.FindAllString(cell, -1) {
			v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
			if err == nil {
				out = append(out, v)
			}
		}
	}
	return out
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// walkElements applies fn to every element named tag under n, without
// descending into a matched element's own subtree for the same tag.
func walkElements(n *html.Node, tag string, fn func(*html.Node)) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == tag {
			fn(child)
			continue
		}
		walkElements(child, tag, fn)
	}
}

// nodeText collects the text content of a node's subtree.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteByte(' ')
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			visit(child)
		}
	}
	visit(n)
	return b.String()
}
