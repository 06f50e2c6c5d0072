// Package streaming applies a model stream to an in-flight response and
// finalizes it into a FinalView.
package streaming

import (
	"errors"
	"fmt"
	"strings"

	"github.com/markdave123-py/Groundwise/internal/core/postprocess"
	"github.com/markdave123-py/Groundwise/internal/models"
)

// State is the lifecycle position of a response.
type State int

const (
	StateStreaming State = iota
	StateFinalizing
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotStreaming is returned when a chunk or a finalize request reaches a
	// response that already left the streaming state.
	ErrNotStreaming = errors.New("response is not streaming")
	// ErrAborted marks a response that was cancelled or whose stream failed.
	ErrAborted = errors.New("response aborted")
)

// citationKey deduplicates citations re-sent for the same span.
type citationKey struct {
	start    int
	hasStart bool
	uri      string
}

// Response accumulates one streamed answer. It is not safe for concurrent use;
// chunks of a response are applied from a single goroutine.
type Response struct {
	ID string

	state     State
	text      strings.Builder
	citations []models.Citation
	seenCites map[citationKey]struct{}
	sources   []models.Source
	seenURIs  map[string]struct{}
	phase     string
	final     *models.FinalView
}

// NewResponse returns a response in the streaming state.
func NewResponse(id string) *Response {
	return &Response{
		ID:        id,
		state:     StateStreaming,
		seenCites: make(map[citationKey]struct{}),
		seenURIs:  make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (r *Response) State() State { return r.state }

// Text returns the raw accumulated text.
func (r *Response) Text() string { return r.text.String() }

// Sources returns the deduplicated sources in first-seen order.
func (r *Response) Sources() []models.Source { return r.sources }

// Citations returns the deduplicated citations in arrival order.
func (r *Response) Citations() []models.Citation { return r.citations }

// TablePhase reports how the final table was found, once done.
func (r *Response) TablePhase() string { return r.phase }

// Apply merges one chunk into the response.
func (r *Response) Apply(chunk models.StreamChunk) error {
	if r.state != StateStreaming {
		return ErrNotStreaming
	}
	r.text.WriteString(chunk.Text)

	for _, s := range chunk.Sources {
		if s.URI == "" {
			continue
		}
		if _, ok := r.seenURIs[s.URI]; ok {
			continue
		}
		r.seenURIs[s.URI] = struct{}{}
		r.sources = append(r.sources, s)
	}

	for _, c := range chunk.Citations {
		key := citationKey{uri: c.URI}
		if c.StartIndex != nil {
			key.start, key.hasStart = *c.StartIndex, true
		}
		if _, ok := r.seenCites[key]; ok {
			continue
		}
		r.seenCites[key] = struct{}{}
		r.citations = append(r.citations, c)
	}
	return nil
}

// Live renders the accumulated text with citation markers. It does not change
// the response and may be called after every chunk.
func (r *Response) Live() string {
	return postprocess.Inject(r.text.String(), r.citations, r.sources)
}

// Finalize splits the accumulated text into prose and table and moves the
// response to done. It runs at most once.
func (r *Response) Finalize() (*models.FinalView, error) {
	if r.state != StateStreaming {
		return nil, ErrNotStreaming
	}
	r.state = StateFinalizing

	ext, prose := postprocess.Split(r.text.String(), r.citations, r.sources)
	r.phase = ext.Phase
	r.final = &models.FinalView{
		Prose:     prose,
		Table:     ext.Table,
		Sources:   r.sources,
		Citations: r.citations,
	}
	r.state = StateDone
	return r.final, nil
}

// Abort moves a streaming response to the aborted state. It is a no-op for
// responses that already finished.
func (r *Response) Abort() {
	if r.state == StateStreaming {
		r.state = StateAborted
	}
}

// Final returns the final view of a done response, or nil.
func (r *Response) Final() *models.FinalView {
	if r.state != StateDone {
		return nil
	}
	return r.final
}
