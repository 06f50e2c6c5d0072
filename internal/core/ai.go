package core

import (
	"context"

	"github.com/markdave123-py/Groundwise/internal/models"
)

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider streams a grounded answer. The returned channel is closed when the
// answer is complete; a failure is delivered as a final chunk with Err set.
type LLMProvider interface {
	GenerateStream(ctx context.Context, systemPrompt string, history []models.ChatMessage, userPrompt string) (<-chan models.StreamChunk, error)
}
