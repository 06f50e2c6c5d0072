package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Groundwise/internal/core/streaming"
	"github.com/markdave123-py/Groundwise/internal/models"
)

func intPtr(i int) *int { return &i }

const tableBlock = "\n\n```json\n{\"text\":\"Compared.\",\"table\":{\"headers\":[\"Lang\",\"Speed\"],\"rows\":[[\"Go\",\"fast\"]]}}\n```"

func groundedChunks() []models.StreamChunk {
	return []models.StreamChunk{
		{
			Text:      "Go is fast.",
			Sources:   []models.Source{{Title: "a.io", URI: "https://a.io"}},
			Citations: []models.Citation{{StartIndex: intPtr(0), EndIndex: intPtr(10), URI: "https://a.io"}},
		},
		{Text: tableBlock},
	}
}

type harness struct {
	svc     *ChatService
	db      *fakeDB
	llm     *fakeLLM
	storage *fakeStorage
	index   *fakeIndexer
	metrics *fakeMetrics
}

func newHarness(llm *fakeLLM, extractor fakeExtractor) *harness {
	h := &harness{
		db:      newFakeDB(),
		llm:     llm,
		storage: &fakeStorage{},
		index:   &fakeIndexer{},
		metrics: newFakeMetrics(),
	}
	h.svc = NewChatService(ChatDeps{
		DB:        h.db,
		LLM:       h.llm,
		Embedder:  fakeEmbedder{},
		Storage:   h.storage,
		Extractor: extractor,
		Indexer:   h.index,
		Metrics:   h.metrics,
		Bucket:    "exports",
	})
	h.db.sessions["s1"] = &models.ChatSession{ID: "s1", UserID: "u1", Title: "Languages"}
	return h
}

func TestAskPersistsFinalView(t *testing.T) {
	h := newHarness(&fakeLLM{chunks: groundedChunks()}, fakeExtractor{})

	var (
		started string
		live    []string
	)
	res, err := h.svc.Ask(context.Background(), AskRequest{UserID: "u1", SessionID: "s1", Query: " Is Go fast? "}, AskHooks{
		OnStart: func(id string) { started = id },
		OnLive:  func(p string) { live = append(live, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, started, res.ResponseID)
	require.Len(t, live, 2)
	assert.Equal(t, "Go is fast[1](cite:0).", live[0])

	wantProse := "Go is fast[1](cite:0).\n\nCompared."
	wantTable := &models.ComparisonTableData{Headers: []string{"Lang", "Speed"}, Rows: [][]string{{"Go", "fast"}}}
	assert.Equal(t, wantProse, res.View.Prose)
	assert.Equal(t, wantTable, res.View.Table)
	assert.Equal(t, models.DirectionLTR, res.Rendered.Direction)

	msgs := h.db.stored()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "Is Go fast?", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, models.FormatSplit, msgs[1].Format)
	assert.Equal(t, wantProse, msgs[1].Content)
	assert.Equal(t, wantTable, msgs[1].Table)
	assert.Equal(t, res.MessageID, msgs[1].ID)

	require.Len(t, h.index.jobs, 1)
	assert.Equal(t, res.MessageID, h.index.jobs[0].MessageID)

	assert.Equal(t, 1, h.metrics.responses["done"])
	assert.Equal(t, 1, h.metrics.markers)
	assert.Equal(t, []string{"structured"}, h.metrics.phases)
}

func TestAskCancelLeavesNoAnswer(t *testing.T) {
	h := newHarness(&fakeLLM{chunks: groundedChunks()[:1], hold: true}, fakeExtractor{})

	var responseID string
	var cancelErr error
	_, err := h.svc.Ask(context.Background(), AskRequest{UserID: "u1", SessionID: "s1", Query: "Is Go fast?"}, AskHooks{
		OnStart: func(id string) { responseID = id },
		OnLive: func(string) {
			cancelErr = h.svc.Cancel(context.Background(), "u1", responseID)
		},
	})
	require.ErrorIs(t, err, streaming.ErrAborted)
	require.NoError(t, cancelErr)

	msgs := h.db.stored()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Empty(t, h.index.jobs)
	assert.Equal(t, 1, h.metrics.responses["aborted"])
	assert.Empty(t, h.metrics.phases)

	assert.ErrorIs(t, h.svc.Cancel(context.Background(), "u1", responseID), ErrNotFound)
}

func TestAskStreamFailureAborts(t *testing.T) {
	chunks := append(groundedChunks()[:1], models.StreamChunk{Err: errors.New("quota exceeded")})
	h := newHarness(&fakeLLM{chunks: chunks}, fakeExtractor{})

	_, err := h.svc.Ask(context.Background(), AskRequest{UserID: "u1", SessionID: "s1", Query: "q"}, AskHooks{})
	require.ErrorIs(t, err, streaming.ErrAborted)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Len(t, h.db.stored(), 1)
	assert.Equal(t, 1, h.metrics.responses["aborted"])
}

func TestAskRejectsBadRequests(t *testing.T) {
	h := newHarness(&fakeLLM{}, fakeExtractor{err: errors.New("unsupported")})
	h.db.sessions["s2"] = &models.ChatSession{ID: "s2", UserID: "u2"}

	tests := []struct {
		name string
		req  AskRequest
		want error
	}{
		{"empty query", AskRequest{UserID: "u1", SessionID: "s1", Query: "  "}, ErrEmptyQuery},
		{"unknown session", AskRequest{UserID: "u1", SessionID: "nope", Query: "q"}, ErrNotFound},
		{"foreign session", AskRequest{UserID: "u1", SessionID: "s2", Query: "q"}, ErrForbidden},
		{"bad attachment", AskRequest{UserID: "u1", SessionID: "s1", Query: "q", Attachment: &Attachment{Data: []byte{1}}}, ErrBadAttachment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Ask(context.Background(), tt.req, AskHooks{})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, h.db.stored())
}

func TestAskQuotesAttachmentAndHistory(t *testing.T) {
	llm := &fakeLLM{chunks: []models.StreamChunk{{Text: "Summary."}}}
	h := newHarness(llm, fakeExtractor{text: "Quarterly revenue grew."})
	h.db.messages = []models.ChatMessage{
		{ID: "m1", SessionID: "s1", Role: models.RoleUser, Content: "Earlier?", Format: models.FormatSplit},
		{ID: "m2", SessionID: "s1", Role: models.RoleAssistant, Content: "Yes[1](cite:0).", Format: models.FormatSplit,
			Table: &models.ComparisonTableData{Headers: []string{"A"}, Rows: [][]string{{"1"}}}},
	}

	_, err := h.svc.Ask(context.Background(), AskRequest{
		UserID: "u1", SessionID: "s1", Query: "Summarise this",
		Attachment: &Attachment{Name: "report.pdf", ContentType: "application/pdf", Data: []byte("%PDF")},
	}, AskHooks{})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(llm.prompt, "Summarise this\n\n"))
	assert.Contains(t, llm.prompt, `"report.pdf"`)
	assert.Contains(t, llm.prompt, "<attachment>\nQuarterly revenue grew.\n</attachment>")

	require.Len(t, llm.history, 2)
	assert.Equal(t, "Earlier?", llm.history[0].Content)
	assert.Equal(t, "Yes.\n\n| A |\n| --- |\n| 1 |", llm.history[1].Content)
}

func TestAskSupersededByNewerQuestion(t *testing.T) {
	h := newHarness(&fakeLLM{chunks: groundedChunks()}, fakeExtractor{})

	var (
		delivered int
		newer     string
	)
	_, err := h.svc.Ask(context.Background(), AskRequest{UserID: "u1", SessionID: "s1", Query: "q"}, AskHooks{
		OnStart: func(string) {
			_, newer = h.svc.manager.Begin(context.Background(), "s1")
		},
		OnLive: func(string) { delivered++ },
	})
	require.ErrorIs(t, err, streaming.ErrAborted)
	assert.Zero(t, delivered)
	assert.Len(t, h.db.stored(), 1)
	assert.True(t, h.svc.manager.IsCurrent("s1", newer), "finishing the old response keeps the newer one")
}

func TestSessionRehydratesRawAnswers(t *testing.T) {
	h := newHarness(&fakeLLM{}, fakeExtractor{})
	grid := "Go is fast.\n\n| A | B |\n|---|---|\n| 1 | 2 |"
	h.db.messages = []models.ChatMessage{
		{ID: "m1", SessionID: "s1", Role: models.RoleAssistant, Content: grid, Format: models.FormatRaw,
			Sources:   []models.Source{{Title: "a.io", URI: "https://a.io"}},
			Citations: []models.Citation{{StartIndex: intPtr(0), EndIndex: intPtr(10), URI: "https://a.io"}}},
		{ID: "m2", SessionID: "s1", Role: models.RoleAssistant, Content: grid, Format: models.FormatSplit},
		{ID: "m3", SessionID: "s1", Role: models.RoleUser, Content: "ما هو", Format: models.FormatSplit},
	}

	view, err := h.svc.Session(context.Background(), "u1", "s1")
	require.NoError(t, err)
	require.Len(t, view.Messages, 3)

	raw := view.Messages[0].Content
	assert.Equal(t, "Go is fast[1](cite:0).", raw.Prose)
	assert.Equal(t, &models.ComparisonTableData{Headers: []string{"A", "B"}, Rows: [][]string{{"1", "2"}}}, raw.Table)

	split := view.Messages[1].Content
	assert.Equal(t, grid, split.Prose)
	assert.Nil(t, split.Table)

	assert.Equal(t, models.DirectionRTL, view.Messages[2].Content.Direction)

	_, err = h.svc.Session(context.Background(), "u2", "s1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestExportUploadsTranscript(t *testing.T) {
	h := newHarness(&fakeLLM{chunks: groundedChunks()}, fakeExtractor{})
	_, err := h.svc.Ask(context.Background(), AskRequest{UserID: "u1", SessionID: "s1", Query: "Is Go fast?"}, AskHooks{})
	require.NoError(t, err)

	url, err := h.svc.Export(context.Background(), "u1", "s1")
	require.NoError(t, err)

	assert.Equal(t, "https://exports.example/users/u1/exports/s1.md", url)
	assert.Equal(t, "users/u1/exports/s1.md", h.storage.key)
	assert.Equal(t, "text/markdown; charset=utf-8", h.storage.contentType)

	want := "# Languages\n" +
		"\n**You:** Is Go fast?\n" +
		"\n**Assistant:**\n\nGo is fast[1].\n\nCompared.\n" +
		"\n| Lang | Speed |\n| --- | --- |\n| Go | fast |\n" +
		"\nSources:\n\n1. [a.io](https://a.io)\n"
	assert.Equal(t, want, string(h.storage.data))
}

func TestExportedTranscript(t *testing.T) {
	h := newHarness(&fakeLLM{chunks: groundedChunks()}, fakeExtractor{})
	ctx := context.Background()

	_, err := h.svc.ExportedTranscript(ctx, "u1", "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.svc.Ask(ctx, AskRequest{UserID: "u1", SessionID: "s1", Query: "Is Go fast?"}, AskHooks{})
	require.NoError(t, err)
	_, err = h.svc.Export(ctx, "u1", "s1")
	require.NoError(t, err)

	data, err := h.svc.ExportedTranscript(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, h.storage.data, data)
	assert.Contains(t, string(data), "**You:** Is Go fast?")

	_, err = h.svc.ExportedTranscript(ctx, "u2", "s1")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSearchStripsMarkers(t *testing.T) {
	h := newHarness(&fakeLLM{}, fakeExtractor{})
	h.db.matches = []models.MessageMatch{{MessageID: "m1", SessionID: "s1", Snippet: "Go is fast[1](cite:0).", Distance: 0.2}}

	got, err := h.svc.Search(context.Background(), "u1", "speed", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Go is fast.", got[0].Snippet)
	assert.Equal(t, "u1", h.db.searched.userID)
	assert.Equal(t, 10, h.db.searched.limit)

	_, err = h.svc.Search(context.Background(), "u1", " ", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestCreateAndListSessions(t *testing.T) {
	h := newHarness(&fakeLLM{}, fakeExtractor{})

	sess, err := h.svc.CreateSession(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "New chat", sess.Title)
	assert.NotEmpty(t, sess.ID)

	list, err := h.svc.ListSessions(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
