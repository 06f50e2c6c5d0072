package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Groundwise/internal/models"
)

func TestSplitInjectsIntoProseOnly(t *testing.T) {
	raw := "Go wins.\n\n| Lang | Speed |\n| --- | --- |\n| Go | fast |"
	citations := []models.Citation{cite(0, 8, "a")}

	ext, prose := Split(raw, citations, abSources)
	require.NotNil(t, ext.Table)
	assert.Equal(t, "Go wins.[1](cite:0)", prose)
	assert.Equal(t, [][]string{{"Go", "fast"}}, ext.Table.Rows)
	for _, row := range ext.Table.Rows {
		for _, cell := range row {
			assert.Empty(t, ParseMarkers(cell))
		}
	}
}

func TestSplitEscapesMarkersInTable(t *testing.T) {
	raw := "Compared.\n\n| Lang | Note [1](cite:0) |\n| --- | --- |\n| Go | fast [2](cite:1) |"

	ext, prose := Split(raw, nil, abSources)
	require.NotNil(t, ext.Table)
	assert.Equal(t, "Compared.", prose)
	assert.Equal(t, []string{"Lang", `Note [1](cite\:0)`}, ext.Table.Headers)
	assert.Equal(t, [][]string{{"Go", `fast [2](cite\:1)`}}, ext.Table.Rows)
}

func TestSplitWithoutTable(t *testing.T) {
	ext, prose := Split("Plain.", nil, nil)
	assert.Nil(t, ext.Table)
	assert.Equal(t, "Plain.", prose)
}

func TestRender(t *testing.T) {
	view := Render("مرحبا [1](cite:0)", nil)
	assert.Equal(t, models.DirectionRTL, view.Direction)
	assert.Nil(t, view.Table)
}
