package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/markdave123-py/Groundwise/internal/core"
	"github.com/markdave123-py/Groundwise/internal/models"
)

type GeminiLLM struct {
	client    *genai.Client
	modelName string
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: cl, modelName: modelName}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// GenerateStream starts a chat turn seeded with history and forwards every
// streamed response as a StreamChunk.
func (g *GeminiLLM) GenerateStream(ctx context.Context, systemPrompt string, history []models.ChatMessage, userPrompt string) (<-chan models.StreamChunk, error) {
	m := g.client.GenerativeModel(g.modelName)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	cs := m.StartChat()
	cs.History = historyContents(history)
	it := cs.SendMessageStream(ctx, genai.Text(userPrompt))

	out := make(chan models.StreamChunk, 8)
	go func() {
		defer close(out)
		send := func(c models.StreamChunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					logrus.WithError(err).WithField("model", g.modelName).Warn("gemini stream failed")
				}
				send(models.StreamChunk{Err: fmt.Errorf("gemini stream: %w", err)})
				return
			}
			if !send(chunkFromResponse(resp)) {
				return
			}
		}
	}()

	return out, nil
}

func historyContents(history []models.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return out
}

// chunkFromResponse converts the first candidate of a streamed response. Each
// cited URI doubles as a source titled by its host.
func chunkFromResponse(resp *genai.GenerateContentResponse) models.StreamChunk {
	var chunk models.StreamChunk
	if resp == nil || len(resp.Candidates) == 0 {
		return chunk
	}
	cand := resp.Candidates[0]

	if cand.Content != nil {
		var b strings.Builder
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		chunk.Text = b.String()
	}

	if cand.CitationMetadata == nil {
		return chunk
	}
	for _, cs := range cand.CitationMetadata.CitationSources {
		if cs == nil || cs.URI == nil || *cs.URI == "" {
			continue
		}
		c := models.Citation{URI: *cs.URI, License: cs.License}
		if cs.StartIndex != nil {
			v := int(*cs.StartIndex)
			c.StartIndex = &v
		}
		if cs.EndIndex != nil {
			v := int(*cs.EndIndex)
			c.EndIndex = &v
		}
		chunk.Citations = append(chunk.Citations, c)
		chunk.Sources = append(chunk.Sources, models.Source{URI: c.URI, Title: sourceTitle(c.URI)})
	}
	return chunk
}

func sourceTitle(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return uri
	}
	return strings.TrimPrefix(u.Host, "www.")
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
