package postprocess

import "github.com/markdave123-py/Groundwise/internal/models"

// Split finalizes a raw answer. The table is extracted from the raw text first
// and citation markers are injected into the remaining prose only, so markers
// never land inside table cells or JSON payloads. Marker-shaped text the model
// wrote is escaped in both the prose and the table.
func Split(raw string, citations []models.Citation, sources []models.Source) (Extraction, string) {
	ext := Extract(raw)
	if ext.Table != nil {
		escapeTable(ext.Table)
	}
	return ext, Inject(ext.RemainingText, citations, sources)
}

func escapeTable(t *models.ComparisonTableData) {
	for i, h := range t.Headers {
		t.Headers[i] = EscapeMarkers(h)
	}
	for _, row := range t.Rows {
		for j, cell := range row {
			row[j] = EscapeMarkers(cell)
		}
	}
}

// Render builds the view for one message.
func Render(prose string, table *models.ComparisonTableData) models.RenderedContent {
	return models.RenderedContent{
		Prose:     prose,
		Table:     table,
		Direction: Classify(prose),
	}
}
