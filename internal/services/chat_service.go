package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/Groundwise/internal/core"
	"github.com/markdave123-py/Groundwise/internal/core/indexer"
	"github.com/markdave123-py/Groundwise/internal/core/postprocess"
	"github.com/markdave123-py/Groundwise/internal/core/streaming"
	"github.com/markdave123-py/Groundwise/internal/metrics"
	"github.com/markdave123-py/Groundwise/internal/models"
)

// TranscriptContentType is the media type of exported transcripts.
const TranscriptContentType = "text/markdown; charset=utf-8"

// SystemPrompt asks the model for grounded prose and, when the question
// compares things, a single fenced JSON block carrying the table.
const SystemPrompt = `You are a research assistant. Answer using up-to-date web sources and cite them.
Write the answer as plain markdown prose. Do not write citation markers yourself.
When the answer compares two or more items across attributes, add exactly one fenced json block of the form
{"text": "<one sentence summarising the comparison>", "table": {"headers": ["..."], "rows": [["..."]]}}
Every row must have one cell per header. Do not repeat the table as a markdown grid.`

const (
	defaultHistoryLimit = 20
	defaultSessionTitle = "New chat"
	snippetRunes        = 240
)

// AnswerIndexer queues finished answers for embedding.
type AnswerIndexer interface {
	Enqueue(job indexer.Job) bool
}

// Attachment is a file sent along with a question.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

type AskRequest struct {
	UserID     string
	SessionID  string
	Query      string
	Attachment *Attachment
}

// AskHooks receive progress of one answer. OnStart runs once the response
// is registered; OnLive runs after each applied chunk while the response is
// still current. Both may be nil.
type AskHooks struct {
	OnStart func(responseID string)
	OnLive  func(prose string)
}

type AskResult struct {
	ResponseID string
	MessageID  string
	View       *models.FinalView
	Rendered   models.RenderedContent
}

// MessageView is one stored message prepared for display.
type MessageView struct {
	ID        string                 `json:"id"`
	Role      string                 `json:"role"`
	Content   models.RenderedContent `json:"content"`
	Sources   []models.Source        `json:"sources"`
	Citations []models.Citation      `json:"citations"`
	CreatedAt time.Time              `json:"created_at"`
}

type SessionView struct {
	Session  models.ChatSession `json:"session"`
	Messages []MessageView      `json:"messages"`
}

type ChatDeps struct {
	DB        core.DbClient
	LLM       core.LLMProvider
	Embedder  core.EmbeddingProvider
	Storage   core.ObjectClient
	Extractor core.DocumentExtractor
	Indexer   AnswerIndexer
	Manager   *streaming.Manager
	Metrics   metrics.Metrics
	Bucket    string
}

type ChatService struct {
	db        core.DbClient
	llm       core.LLMProvider
	embedder  core.EmbeddingProvider
	storage   core.ObjectClient
	extractor core.DocumentExtractor
	indexer   AnswerIndexer
	manager   *streaming.Manager
	metrics   metrics.Metrics
	bucket    string

	historyLimit int
	now          func() time.Time
}

func NewChatService(d ChatDeps) *ChatService {
	if d.Manager == nil {
		d.Manager = streaming.NewManager()
	}
	return &ChatService{
		db:           d.DB,
		llm:          d.LLM,
		embedder:     d.Embedder,
		storage:      d.Storage,
		extractor:    d.Extractor,
		indexer:      d.Indexer,
		manager:      d.Manager,
		metrics:      d.Metrics,
		bucket:       d.Bucket,
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
	}
}

func (s *ChatService) CreateSession(ctx context.Context, userID, title string) (*models.ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultSessionTitle
	}
	sess := &models.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *ChatService) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	return s.db.ListSessionsByUser(ctx, userID)
}

// Ask streams one answer for a question in a session. A previous answer still
// streaming in the same session is cancelled. The answer is persisted only
// when its stream completes; a cancelled or failed stream leaves no assistant
// message behind and returns an error wrapping streaming.ErrAborted.
func (s *ChatService) Ask(ctx context.Context, req AskRequest, hooks AskHooks) (*AskResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if _, err := s.ownedSession(ctx, req.UserID, req.SessionID); err != nil {
		return nil, err
	}

	userPrompt := query
	if req.Attachment != nil {
		text, err := s.extractor.ExtractText(ctx, req.Attachment.Data, req.Attachment.ContentType)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadAttachment, err)
		}
		userPrompt = attachmentPrompt(query, req.Attachment.Name, text)
	}

	stored, err := s.db.GetMessagesBySession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := s.promptHistory(stored)

	respCtx, responseID := s.manager.Begin(ctx, req.SessionID)
	defer s.manager.Finish(req.SessionID, responseID)

	log := logrus.WithFields(logrus.Fields{"session_id": req.SessionID, "response_id": responseID})
	started := s.now()
	if hooks.OnStart != nil {
		hooks.OnStart(responseID)
	}

	if err := s.db.AddMessage(ctx, &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Role:      models.RoleUser,
		Content:   query,
		Format:    models.FormatSplit,
		CreatedAt: started.UTC(),
	}); err != nil {
		return nil, fmt.Errorf("store question: %w", err)
	}

	resp := streaming.NewResponse(responseID)
	chunks, err := s.llm.GenerateStream(respCtx, SystemPrompt, history, userPrompt)
	if err != nil {
		resp.Abort()
		s.observe(resp, started)
		return nil, fmt.Errorf("%w: start stream: %w", streaming.ErrAborted, err)
	}

	view, err := streaming.Consume(respCtx, resp, chunks, func(prose string) {
		if !s.manager.IsCurrent(req.SessionID, responseID) {
			s.metrics.IncrementLiveUpdatesDropped()
			return
		}
		if hooks.OnLive != nil {
			hooks.OnLive(prose)
		}
	})
	s.observe(resp, started)
	if err != nil {
		log.WithError(err).Info("response aborted")
		return nil, err
	}

	s.metrics.ObserveFinalView(len(postprocess.ParseMarkers(view.Prose)), resp.TablePhase())

	msg := &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Role:      models.RoleAssistant,
		Content:   view.Prose,
		Table:     view.Table,
		Sources:   view.Sources,
		Citations: view.Citations,
		Format:    models.FormatSplit,
		CreatedAt: s.now().UTC(),
	}
	// The answer is complete; keep it even if the caller went away meanwhile.
	if err := s.db.AddMessage(context.WithoutCancel(ctx), msg); err != nil {
		return nil, fmt.Errorf("store answer: %w", err)
	}
	if s.indexer != nil {
		s.indexer.Enqueue(indexer.Job{MessageID: msg.ID, Prose: view.Prose, Table: view.Table})
	}
	log.WithField("table_phase", resp.TablePhase()).Debug("response done")

	return &AskResult{
		ResponseID: responseID,
		MessageID:  msg.ID,
		View:       view,
		Rendered:   postprocess.Render(view.Prose, view.Table),
	}, nil
}

// Cancel stops an in-flight response owned by userID.
func (s *ChatService) Cancel(ctx context.Context, userID, responseID string) error {
	sessionID, ok := s.manager.SessionOf(responseID)
	if !ok {
		return ErrNotFound
	}
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	if err := s.manager.Cancel(responseID); err != nil {
		if errors.Is(err, streaming.ErrUnknownResponse) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Session loads a session with its messages rendered for display. Legacy raw
// answers are split on load; split answers are used as stored.
func (s *ChatService) Session(ctx context.Context, userID, sessionID string) (*SessionView, error) {
	sess, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.db.GetMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	views := make([]MessageView, 0, len(msgs))
	for _, m := range msgs {
		prose, table := displayContent(m)
		views = append(views, MessageView{
			ID:        m.ID,
			Role:      m.Role,
			Content:   postprocess.Render(prose, table),
			Sources:   m.Sources,
			Citations: m.Citations,
			CreatedAt: m.CreatedAt,
		})
	}
	return &SessionView{Session: *sess, Messages: views}, nil
}

// Export writes the session as a markdown transcript to object storage and
// returns its URL.
func (s *ChatService) Export(ctx context.Context, userID, sessionID string) (string, error) {
	view, err := s.Session(ctx, userID, sessionID)
	if err != nil {
		return "", err
	}
	url, err := s.storage.UploadFile(ctx, s.bucket, exportKey(userID, sessionID), []byte(Transcript(view)), TranscriptContentType)
	if err != nil {
		return "", fmt.Errorf("upload transcript: %w", err)
	}
	return url, nil
}

// ExportedTranscript reads back the transcript Export last wrote for the
// session. ErrNotFound means the session was never exported.
func (s *ChatService) ExportedTranscript(ctx context.Context, userID, sessionID string) ([]byte, error) {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	data, err := s.storage.GetFile(ctx, s.bucket, exportKey(userID, sessionID))
	if errors.Is(err, core.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("download transcript: %w", err)
	}
	return data, nil
}

func exportKey(userID, sessionID string) string {
	return path.Join("users", userID, "exports", sessionID+".md")
}

// Search returns the stored answers of userID closest to query.
func (s *ChatService) Search(ctx context.Context, userID, query string, limit int) ([]models.MessageMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d embeddings", len(vecs))
	}
	matches, err := s.db.SearchMessages(ctx, userID, vecs[0], limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	for i := range matches {
		matches[i].Snippet = snippet(postprocess.StripMarkers(matches[i].Snippet), snippetRunes)
	}
	return matches, nil
}

// Transcript renders a session as markdown. Markers become [N] references
// into the source list that follows each answer.
func Transcript(view *SessionView) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(view.Session.Title)
	b.WriteString("\n")
	for _, m := range view.Messages {
		b.WriteString("\n")
		if m.Role == models.RoleUser {
			b.WriteString("**You:** ")
			b.WriteString(m.Content.Prose)
			b.WriteString("\n")
			continue
		}
		b.WriteString("**Assistant:**\n\n")
		if m.Content.Prose != "" {
			b.WriteString(postprocess.NumberMarkers(m.Content.Prose))
			b.WriteString("\n")
		}
		if tbl := postprocess.MarkdownTable(m.Content.Table); tbl != "" {
			b.WriteString("\n")
			b.WriteString(tbl)
		}
		if len(m.Sources) > 0 {
			b.WriteString("\nSources:\n\n")
			b.WriteString(postprocess.MarkdownSources(m.Sources))
		}
	}
	return b.String()
}

func (s *ChatService) ownedSession(ctx context.Context, userID, sessionID string) (*models.ChatSession, error) {
	sess, err := s.db.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// promptHistory keeps the latest messages with markers removed and tables
// written back as grids so the model sees its earlier answers in full.
func (s *ChatService) promptHistory(msgs []models.ChatMessage) []models.ChatMessage {
	if len(msgs) > s.historyLimit {
		msgs = msgs[len(msgs)-s.historyLimit:]
	}
	out := make([]models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		prose, table := displayContent(m)
		content := postprocess.StripMarkers(prose)
		if tbl := postprocess.MarkdownTable(table); tbl != "" {
			content = strings.TrimSpace(content + "\n\n" + tbl)
		}
		out = append(out, models.ChatMessage{Role: m.Role, Content: content})
	}
	return out
}

func displayContent(m models.ChatMessage) (string, *models.ComparisonTableData) {
	if m.Role == models.RoleAssistant && m.Format == models.FormatRaw {
		ext, prose := postprocess.Split(m.Content, m.Citations, m.Sources)
		return prose, ext.Table
	}
	return m.Content, m.Table
}

func attachmentPrompt(query, name, text string) string {
	if name == "" {
		name = "attachment"
	}
	return fmt.Sprintf("%s\n\nThe user attached %q. Its text follows.\n\n<attachment>\n%s\n</attachment>", query, name, text)
}

func (s *ChatService) observe(resp *streaming.Response, started time.Time) {
	s.metrics.ObserveResponse(resp.State().String(), s.now().Sub(started).Seconds())
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max])) + "…"
}
