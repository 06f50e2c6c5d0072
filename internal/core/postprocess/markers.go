package postprocess

import (
	"regexp"
	"strconv"
	"strings"
)

// MarkerScheme is the reserved link scheme of citation markers. A marker is a
// markdown link whose label is the 1-based display number and whose target is
// cite:<0-based source index>, e.g. [2](cite:1).
const MarkerScheme = "cite:"

var markerRe = regexp.MustCompile(`\[(\d+)\]\(cite:(\d+)\)`)

// MarkerRef locates one marker inside a text.
type MarkerRef struct {
	Start       int
	End         int
	SourceIndex int
}

// Marker returns the marker token for the source at the given 0-based index.
func Marker(sourceIndex int) string {
	return "[" + strconv.Itoa(sourceIndex+1) + "](" + MarkerScheme + strconv.Itoa(sourceIndex) + ")"
}

// ParseMarkers returns every well-formed marker in text, in order. Tokens whose
// label does not match the index are treated as ordinary links and skipped.
func ParseMarkers(text string) []MarkerRef {
	var refs []MarkerRef
	for _, m := range markerRe.FindAllStringSubmatchIndex(text, -1) {
		label, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		idx, err := strconv.Atoi(text[m[4]:m[5]])
		if err != nil || label != idx+1 {
			continue
		}
		refs = append(refs, MarkerRef{Start: m[0], End: m[1], SourceIndex: idx})
	}
	return refs
}

// ReplaceMarkers substitutes each marker with fn(sourceIndex).
func ReplaceMarkers(text string, fn func(sourceIndex int) string) string {
	refs := ParseMarkers(text)
	if len(refs) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, r := range refs {
		b.WriteString(text[cursor:r.Start])
		b.WriteString(fn(r.SourceIndex))
		cursor = r.End
	}
	b.WriteString(text[cursor:])
	return b.String()
}

// EscapeMarkers breaks up marker-shaped tokens the model wrote itself by
// escaping the scheme colon, so [1](cite:0) becomes [1](cite\:0). Only
// markers placed by Inject survive as markers.
func EscapeMarkers(text string) string {
	if !strings.Contains(text, "]("+MarkerScheme) {
		return text
	}
	return strings.ReplaceAll(text, "]("+MarkerScheme, `](cite\:`)
}

// StripMarkers removes all markers.
func StripMarkers(text string) string {
	return ReplaceMarkers(text, func(int) string { return "" })
}
