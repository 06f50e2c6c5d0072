package postprocess

import (
	"strconv"
	"strings"

	"github.com/markdave123-py/Groundwise/internal/models"
)

// NumberMarkers rewrites every citation marker as a bare [N] reference, for
// renderers that cannot follow cite: links.
func NumberMarkers(text string) string {
	return ReplaceMarkers(text, func(i int) string {
		return "[" + strconv.Itoa(i+1) + "]"
	})
}

// MarkdownTable renders table as a pipe grid. Pipes inside cells are escaped.
func MarkdownTable(table *models.ComparisonTableData) string {
	if table == nil || len(table.Headers) == 0 {
		return ""
	}
	var b strings.Builder
	writeRow(&b, table.Headers)
	seps := make([]string, len(table.Headers))
	for i := range seps {
		seps[i] = "---"
	}
	writeRow(&b, seps)
	for _, row := range table.Rows {
		writeRow(&b, row)
	}
	return b.String()
}

// MarkdownSources renders a numbered source list matching marker numbers.
func MarkdownSources(sources []models.Source) string {
	var b strings.Builder
	for i, s := range sources {
		title := s.Title
		if title == "" {
			title = s.URI
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". [")
		b.WriteString(title)
		b.WriteString("](")
		b.WriteString(s.URI)
		b.WriteString(")\n")
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(c, "|", `\|`), "\n", " "))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}
