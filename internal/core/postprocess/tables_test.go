package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Groundwise/internal/models"
)

func TestExtractStructuredBlock(t *testing.T) {
	input := "Here is the comparison.\n\n" +
		"```json\n" +
		`{"text":"Summary.","table":{"headers":["A","B"],"rows":[["1","2"]]}}` + "\n" +
		"```\n\n" +
		"More after."

	ext := Extract(input)
	require.NotNil(t, ext.Table)
	assert.Equal(t, PhaseStructured, ext.Phase)
	assert.Equal(t, &models.ComparisonTableData{
		Headers: []string{"A", "B"},
		Rows:    [][]string{{"1", "2"}},
	}, ext.Table)
	assert.Equal(t, "Here is the comparison.\n\nMore after.\n\nSummary.", ext.RemainingText)
}

func TestExtractStructuredBlockNormalizesCells(t *testing.T) {
	input := "```\n" +
		`{"table":{"headers":["Model","Score","Open"],"rows":[["x",90,true],["y",1.5],["z","a","b","extra"]]}}` +
		"\n```"

	ext := Extract(input)
	require.NotNil(t, ext.Table)
	assert.Equal(t, [][]string{
		{"x", "90", "true"},
		{"y", "1.5", ""},
		{"z", "a", "b"},
	}, ext.Table.Rows)
	assert.Equal(t, "", ext.RemainingText)
}

func TestExtractGrid(t *testing.T) {
	input := "Intro text.\n\n| Name | Score |\n| --- | --- |\n| Alice | 90 |\n| Bob | 85 |\n\nOutro text."

	ext := Extract(input)
	require.NotNil(t, ext.Table)
	assert.Equal(t, PhaseGrid, ext.Phase)
	assert.Equal(t, []string{"Name", "Score"}, ext.Table.Headers)
	assert.Equal(t, [][]string{{"Alice", "90"}, {"Bob", "85"}}, ext.Table.Rows)
	assert.Equal(t, "Intro text.\n\nOutro text.", ext.RemainingText)
}

func TestExtractNoTable(t *testing.T) {
	inputs := []string{
		"Just some prose with no table at all.",
		"  leading space kept\n\n\n\ntrailing space kept  ",
		"",
	}
	for _, input := range inputs {
		ext := Extract(input)
		assert.Nil(t, ext.Table)
		assert.Equal(t, PhaseNone, ext.Phase)
		assert.Equal(t, input, ext.RemainingText)
	}
}

func TestExtractMalformedBlock(t *testing.T) {
	t.Run("no grid anywhere keeps the original", func(t *testing.T) {
		input := "Before.\n```json\n{\"table\": {\"headers\": [\"A\"\n```\nAfter."
		ext := Extract(input)
		assert.Nil(t, ext.Table)
		assert.Equal(t, input, ext.RemainingText)
	})

	t.Run("grid outside the broken block", func(t *testing.T) {
		input := "```json\n{\"table\": oops}\n```\nNotes.\n| a | b |\n|---|---|\n| 1 | 2 |"
		ext := Extract(input)
		require.NotNil(t, ext.Table)
		assert.Equal(t, PhaseGrid, ext.Phase)
		assert.Equal(t, []string{"a", "b"}, ext.Table.Headers)
		assert.Equal(t, "Notes.", ext.RemainingText)
	})

	t.Run("invalid table shape falls through", func(t *testing.T) {
		input := "```json\n{\"text\":\"hi\",\"table\":{\"headers\":\"A,B\",\"rows\":[]}}\n```"
		ext := Extract(input)
		assert.Nil(t, ext.Table)
		assert.Equal(t, input, ext.RemainingText)
	})

	t.Run("empty rows is not a table", func(t *testing.T) {
		input := "```json\n{\"table\":{\"headers\":[\"A\"],\"rows\":[]}}\n```"
		assert.Nil(t, Extract(input).Table)
	})

	t.Run("trailing data after the object", func(t *testing.T) {
		input := "```json\n{\"table\":{\"headers\":[\"A\"],\"rows\":[[\"1\"]]}} extra\n```"
		assert.Nil(t, Extract(input).Table)
	})
}

func TestExtractIgnoresOtherCodeBlocks(t *testing.T) {
	input := "```go\nfunc main() {}\n```\n| k | v |\n| :-- | --: |\n| x | 1 |"
	ext := Extract(input)
	require.NotNil(t, ext.Table)
	assert.Equal(t, PhaseGrid, ext.Phase)
	assert.Equal(t, "```go\nfunc main() {}\n```", ext.RemainingText)
}

func TestExtractSkipsJSONBlocksWithoutTable(t *testing.T) {
	config := "```json\n{\"note\": \"config\"}\n```"
	input := "Intro.\n\n" + config + "\n\n" +
		"```json\n" +
		`{"text":"Sum.","table":{"headers":["A","B"],"rows":[["1","2"]]}}` + "\n" +
		"```"

	ext := Extract(input)
	require.NotNil(t, ext.Table)
	assert.Equal(t, PhaseStructured, ext.Phase)
	assert.Equal(t, []string{"A", "B"}, ext.Table.Headers)
	assert.Equal(t, [][]string{{"1", "2"}}, ext.Table.Rows)
	assert.Equal(t, "Intro.\n\n"+config+"\n\nSum.", ext.RemainingText)
}

func TestScanGrid(t *testing.T) {
	t.Run("header without rows is skipped", func(t *testing.T) {
		input := "| a | b |\n| - | - |\n\n| c | d |\n| --- | --- |\n| 1 | 2 |"
		rest, table, found := scanGrid(input)
		require.True(t, found)
		assert.Equal(t, []string{"c", "d"}, table.Headers)
		assert.Equal(t, "| a | b |\n| - | - |", rest)
	})

	t.Run("row with a different width ends the table", func(t *testing.T) {
		input := "| a | b |\n|---|---|\n| 1 | 2 |\n| 3 |\ntrailing"
		rest, table, found := scanGrid(input)
		require.True(t, found)
		assert.Equal(t, [][]string{{"1", "2"}}, table.Rows)
		assert.Equal(t, "| 3 |\ntrailing", rest)
	})

	t.Run("header width must match separator", func(t *testing.T) {
		_, _, found := scanGrid("| a | b | c |\n| --- | --- |\n| 1 | 2 |")
		assert.False(t, found)
	})

	t.Run("rows without outer pipes", func(t *testing.T) {
		_, table, found := scanGrid("a | b\n--- | ---\n1 | 2")
		require.True(t, found)
		assert.Equal(t, [][]string{{"1", "2"}}, table.Rows)
	})
}

func TestIsSeparatorLine(t *testing.T) {
	tests := []struct {
		line     string
		expected bool
	}{
		{"| --- | --- |", true},
		{"|:---|---:|:-:|", true},
		{"---", true},
		{"  | - |  ", true},
		{"| --- | text |", false},
		{"| --- | |", false},
		{"| : |", false},
		{"| -:- |", false},
		{"", false},
		{"| == |", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.expected, isSeparatorLine(tt.line))
		})
	}
}

func TestSplitCells(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCells("  | a |  b | "))
	assert.Equal(t, []string{"a", "", "c"}, splitCells("a||c"))
	assert.Equal(t, []string{""}, splitCells("|"))
}
