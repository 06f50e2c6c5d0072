package streaming

import (
	"context"
	"fmt"

	"github.com/markdave123-py/Groundwise/internal/models"
)

// LiveFunc receives the prose with citation markers after each applied chunk.
type LiveFunc func(partial string)

// Consume applies chunks to resp in delivery order until the channel closes,
// then finalizes it. Cancellation of ctx is checked before every chunk; once
// observed the response is aborted and no further chunk or live update is
// applied. A chunk carrying an error aborts the response as well.
func Consume(ctx context.Context, resp *Response, chunks <-chan models.StreamChunk, onLive LiveFunc) (*models.FinalView, error) {
	for {
		if err := ctx.Err(); err != nil {
			resp.Abort()
			return nil, fmt.Errorf("%w: %w", ErrAborted, err)
		}

		select {
		case <-ctx.Done():
			resp.Abort()
			return nil, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		case chunk, ok := <-chunks:
			if !ok {
				return resp.Finalize()
			}
			if chunk.Err != nil {
				resp.Abort()
				return nil, fmt.Errorf("%w: stream failed: %w", ErrAborted, chunk.Err)
			}
			// A cancel that raced with this chunk wins.
			if ctx.Err() != nil {
				continue
			}
			if err := resp.Apply(chunk); err != nil {
				return nil, err
			}
			if onLive != nil {
				onLive(resp.Live())
			}
		}
	}
}
