package postprocess

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"github.com/markdave123-py/Groundwise/internal/models"
)

// Extraction phases reported in Extraction.Phase.
const (
	PhaseNone       = ""
	PhaseStructured = "structured"
	PhaseGrid       = "grid"
)

// Extraction is the split of an answer into prose and an optional table.
type Extraction struct {
	RemainingText string
	Table         *models.ComparisonTableData
	Phase         string
}

var (
	fenceRe    = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// Extract looks for a comparison table in responseText. A fenced JSON block
// carrying a "table" object wins; otherwise the text is scanned for a
// pipe-delimited grid. When nothing is found the input is returned untouched.
func Extract(responseText string) Extraction {
	if start, end, body, ok := findPayloadBlock(responseText); ok {
		p := parsePayload(body)
		outside := responseText[:start] + responseText[end:]
		if p.kind == payloadTable {
			return Extraction{
				RemainingText: joinParagraphs(tidy(outside), strings.TrimSpace(p.text)),
				Table:         p.table,
				Phase:         PhaseStructured,
			}
		}
		if rest, table, found := scanGrid(outside); found {
			return Extraction{RemainingText: rest, Table: table, Phase: PhaseGrid}
		}
	}

	if rest, table, found := scanGrid(responseText); found {
		return Extraction{RemainingText: rest, Table: table, Phase: PhaseGrid}
	}
	return Extraction{RemainingText: responseText}
}

// findPayloadBlock returns the byte span and body of the first fenced block,
// untagged or tagged json, whose object carries a "table" key. When no block
// has one, the first block that opens a JSON object is returned instead.
func findPayloadBlock(text string) (start, end int, body string, ok bool) {
	for _, m := range fenceRe.FindAllStringSubmatchIndex(text, -1) {
		lang := strings.ToLower(text[m[2]:m[3]])
		if lang != "" && lang != "json" {
			continue
		}
		b := strings.TrimSpace(text[m[4]:m[5]])
		if !strings.HasPrefix(b, "{") {
			continue
		}
		if hasTableKey(b) {
			return m[0], m[1], b, true
		}
		if !ok {
			start, end, body, ok = m[0], m[1], b, true
		}
	}
	return start, end, body, ok
}

func hasTableKey(body string) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return false
	}
	_, found := obj["table"]
	return found
}

type payloadKind int

const (
	payloadMalformed payloadKind = iota
	payloadNoTable
	payloadTable
)

type payload struct {
	kind  payloadKind
	text  string
	table *models.ComparisonTableData
}

func parsePayload(body string) payload {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return payload{kind: payloadMalformed}
	}
	if _, err := dec.Token(); err != io.EOF {
		return payload{kind: payloadMalformed}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return payload{kind: payloadNoTable}
	}
	text, _ := obj["text"].(string)

	table, ok := validateTable(obj["table"])
	if !ok {
		return payload{kind: payloadNoTable, text: text}
	}
	return payload{kind: payloadTable, text: text, table: table}
}

func validateTable(v any) (*models.ComparisonTableData, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	rawHeaders, ok := obj["headers"].([]any)
	if !ok || len(rawHeaders) == 0 {
		return nil, false
	}
	rawRows, ok := obj["rows"].([]any)
	if !ok || len(rawRows) == 0 {
		return nil, false
	}

	headers := make([]string, len(rawHeaders))
	for i, h := range rawHeaders {
		s, ok := cellString(h)
		if !ok {
			return nil, false
		}
		headers[i] = s
	}

	rows := make([][]string, 0, len(rawRows))
	for _, r := range rawRows {
		cells, ok := r.([]any)
		if !ok {
			return nil, false
		}
		row := make([]string, len(headers))
		for i := 0; i < len(cells) && i < len(row); i++ {
			s, ok := cellString(cells[i])
			if !ok {
				return nil, false
			}
			row[i] = s
		}
		rows = append(rows, row)
	}
	return &models.ComparisonTableData{Headers: headers, Rows: rows}, true
}

func cellString(v any) (string, bool) {
	switch c := v.(type) {
	case string:
		return c, true
	case json.Number:
		return c.String(), true
	case bool:
		if c {
			return "true", true
		}
		return "false", true
	case nil:
		return "", true
	default:
		return "", false
	}
}

// scanGrid finds the first pipe-delimited grid: a header line, a separator
// line with the same cell count and at least one data row.
func scanGrid(text string) (string, *models.ComparisonTableData, bool) {
	lines := strings.Split(text, "\n")
	for i := 0; i+1 < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" || !isSeparatorLine(lines[i+1]) {
			continue
		}
		headers := splitCells(lines[i])
		if len(headers) != len(splitCells(lines[i+1])) {
			continue
		}

		var rows [][]string
		j := i + 2
		for ; j < len(lines) && isDataRow(lines[j], len(headers)); j++ {
			rows = append(rows, splitCells(lines[j]))
		}
		if len(rows) == 0 {
			continue
		}

		rest := make([]string, 0, len(lines)-(j-i))
		rest = append(rest, lines[:i]...)
		rest = append(rest, lines[j:]...)
		table := &models.ComparisonTableData{Headers: headers, Rows: rows}
		return tidy(strings.Join(rest, "\n")), table, true
	}
	return text, nil, false
}

// splitCells trims the line, drops one leading and one trailing pipe and
// splits the rest on pipes.
func splitCells(line string) []string {
	cells := strings.Split(stripOuterPipes(line), "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func stripOuterPipes(line string) string {
	t := strings.TrimSpace(line)
	t = strings.TrimPrefix(t, "|")
	return strings.TrimSuffix(t, "|")
}

// isSeparatorLine reports whether every cell of line is an alignment marker
// such as ---, :--- or :---:.
func isSeparatorLine(line string) bool {
	for _, seg := range strings.Split(stripOuterPipes(line), "|") {
		if !isSeparatorSegment(seg) {
			return false
		}
	}
	return true
}

func isSeparatorSegment(seg string) bool {
	s := strings.TrimSpace(seg)
	s = strings.TrimPrefix(s, ":")
	s = strings.TrimSuffix(s, ":")
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			return false
		}
	}
	return true
}

func isDataRow(line string, width int) bool {
	return strings.Contains(line, "|") && len(splitCells(line)) == width
}

func tidy(text string) string {
	return strings.TrimSpace(blankRunRe.ReplaceAllString(text, "\n\n"))
}

func joinParagraphs(parts ...string) string {
	var buf bytes.Buffer
	for _, p := range parts {
		if p == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
	}
	return buf.String()
}
