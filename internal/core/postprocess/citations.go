// Package postprocess turns raw model output into renderable content: citation
// markers, an optional comparison table and a reading direction.
package postprocess

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/Groundwise/internal/models"
)

type placement struct {
	start  int
	point  int
	source int
}

// Inject embeds a marker for every placeable citation into content.
//
// Citations without a start index or pointing at an unknown source are
// dropped. The rest are ordered by start index and placed at their end index
// (or start index when there is none). A citation whose insertion point lies
// before the previous accepted one is skipped, so in overlapping spans the
// first citation in start order wins. Marker-shaped text already in content
// is escaped, leaving the placed markers as the only ones in the result.
func Inject(content string, citations []models.Citation, sources []models.Source) string {
	if len(citations) == 0 || len(sources) == 0 {
		return EscapeMarkers(content)
	}

	lookup := SourceIndex(sources)

	placements := make([]placement, 0, len(citations))
	for _, c := range citations {
		if c.StartIndex == nil {
			continue
		}
		idx, ok := lookup[c.URI]
		if !ok {
			continue
		}
		point := *c.StartIndex
		if c.EndIndex != nil {
			point = *c.EndIndex
		}
		placements = append(placements, placement{start: *c.StartIndex, point: point, source: idx})
	}
	if len(placements) == 0 {
		return EscapeMarkers(content)
	}
	sort.SliceStable(placements, func(i, j int) bool {
		return placements[i].start < placements[j].start
	})

	var b strings.Builder
	b.Grow(len(content) + len(placements)*12)
	cursor := 0
	for _, p := range placements {
		if p.point < cursor {
			continue
		}
		point := runeBoundary(content, p.point)
		b.WriteString(EscapeMarkers(content[cursor:point]))
		b.WriteString(Marker(p.source))
		cursor = point
	}
	b.WriteString(EscapeMarkers(content[cursor:]))
	return b.String()
}

// SourceIndex maps each source URI to the position of its first occurrence in
// sources, so that sources[index] is the cited document.
func SourceIndex(sources []models.Source) map[string]int {
	lookup := make(map[string]int, len(sources))
	for i, s := range sources {
		if _, seen := lookup[s.URI]; seen {
			continue
		}
		lookup[s.URI] = i
	}
	return lookup
}

// runeBoundary clamps i into content and moves it forward out of a multi-byte
// rune.
func runeBoundary(content string, i int) int {
	if i >= len(content) {
		return len(content)
	}
	for i < len(content) && !utf8.RuneStart(content[i]) {
		i++
	}
	return i
}
