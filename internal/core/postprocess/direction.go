package postprocess

import "github.com/markdave123-py/Groundwise/internal/models"

// Classify returns DirectionRTL when text contains a rune from the Arabic
// block (U+0600..U+06FF) and DirectionLTR otherwise.
func Classify(text string) models.Direction {
	for _, r := range text {
		if r >= 0x0600 && r <= 0x06FF {
			return models.DirectionRTL
		}
	}
	return models.DirectionLTR
}
