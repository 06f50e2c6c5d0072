package services

import (
	"context"
	"net/http"
	"sync"

	"github.com/markdave123-py/Groundwise/internal/core"
	"github.com/markdave123-py/Groundwise/internal/core/indexer"
	"github.com/markdave123-py/Groundwise/internal/models"
)

type fakeDB struct {
	mu       sync.Mutex
	users    map[string]*models.User
	sessions map[string]*models.ChatSession
	messages []models.ChatMessage
	matches  []models.MessageMatch
	searched struct {
		userID string
		limit  int
	}
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		users:    map[string]*models.User{},
		sessions: map[string]*models.ChatSession{},
	}
}

func (f *fakeDB) CreateUser(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.Email] = u
	return nil
}

func (f *fakeDB) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[email], nil
}

func (f *fakeDB) CreateSession(_ context.Context, s *models.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeDB) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id], nil
}

func (f *fakeDB) ListSessionsByUser(_ context.Context, userID string) ([]models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatSession
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeDB) AddMessage(_ context.Context, m *models.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeDB) GetMessagesBySession(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChatMessage
	for _, m := range f.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeDB) InsertMessageEmbedding(context.Context, string, []float32) error { return nil }

func (f *fakeDB) SearchMessages(_ context.Context, userID string, _ []float32, limit int) ([]models.MessageMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched.userID, f.searched.limit = userID, limit
	return append([]models.MessageMatch(nil), f.matches...), nil
}

func (f *fakeDB) Close() error { return nil }

func (f *fakeDB) stored() []models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChatMessage(nil), f.messages...)
}

// fakeLLM replays chunks. With hold set the stream stays open after the
// chunks until its context is cancelled.
type fakeLLM struct {
	chunks []models.StreamChunk
	hold   bool
	err    error

	mu      sync.Mutex
	prompt  string
	history []models.ChatMessage
}

func (f *fakeLLM) GenerateStream(ctx context.Context, _ string, history []models.ChatMessage, userPrompt string) (<-chan models.StreamChunk, error) {
	f.mu.Lock()
	f.prompt, f.history = userPrompt, history
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan models.StreamChunk)
	go func() {
		defer close(out)
		for _, c := range f.chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if f.hold {
			<-ctx.Done()
		}
	}()
	return out, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeStorage struct {
	bucket, key, contentType string
	data                     []byte
}

func (f *fakeStorage) UploadFile(_ context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	f.bucket, f.key, f.data, f.contentType = bucket, key, data, contentType
	return "https://" + bucket + ".example/" + key, nil
}

func (f *fakeStorage) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	if f.data == nil || bucket != f.bucket || key != f.key {
		return nil, core.ErrObjectNotFound
	}
	return f.data, nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) ExtractText(context.Context, []byte, string) (string, error) {
	return f.text, f.err
}

type fakeIndexer struct {
	mu   sync.Mutex
	jobs []indexer.Job
}

func (f *fakeIndexer) Enqueue(job indexer.Job) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return true
}

type fakeMetrics struct {
	mu        sync.Mutex
	responses map[string]int
	markers   int
	phases    []string
	liveDrops int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{responses: map[string]int{}}
}

func (f *fakeMetrics) Handler() http.Handler { return http.NotFoundHandler() }

func (f *fakeMetrics) ObserveResponse(state string, _ float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[state]++
}

func (f *fakeMetrics) ObserveFinalView(markers int, phase string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markers += markers
	f.phases = append(f.phases, phase)
}

func (f *fakeMetrics) IncrementLiveUpdatesDropped() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.liveDrops++
}
