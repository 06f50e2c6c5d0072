// Package attachments turns files uploaded alongside a question into plain
// text that can be quoted in the prompt.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/Groundwise/internal/core"
)

var (
	ErrEmptyAttachment = errors.New("attachment is empty")
	ErrNoText          = errors.New("no text could be extracted from attachment")
)

// DefaultMaxChars bounds the extracted text that is handed to the model.
const DefaultMaxChars = 20000

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
	maxChars       int
}

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor(useReadability bool, maxChars int) *DocconvExtractor {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &DocconvExtractor{useReadability: useReadability, maxChars: maxChars}
}

// ExtractText converts data to text. Plain text and markdown skip docconv.
// Blank lines are dropped and the result is cut at maxChars on a rune boundary.
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyAttachment
	}

	var text string
	if isPlainText(contentType) {
		text = string(data)
	} else {
		res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
		if err != nil {
			logrus.WithError(err).WithField("content_type", contentType).Warn("docconv: extraction failed")
			return "", fmt.Errorf("docconv: %w", err)
		}
		text = res.Body
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	text = compact(text)
	if text == "" {
		return "", ErrNoText
	}
	return truncate(text, e.maxChars), nil
}

func isPlainText(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return ct == "text/plain" || ct == "text/markdown"
}

func compact(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
