// Package indexer embeds finished answers in the background so they can be
// found again by semantic search.
package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/Groundwise/internal/core"
	"github.com/markdave123-py/Groundwise/internal/core/postprocess"
	"github.com/markdave123-py/Groundwise/internal/models"
)

// EmbeddingStore is the slice of core.DbClient the indexer writes to.
type EmbeddingStore interface {
	InsertMessageEmbedding(ctx context.Context, messageID string, embedding []float32) error
}

// Job is one finished answer waiting to be embedded.
type Job struct {
	MessageID string
	Prose     string
	Table     *models.ComparisonTableData
}

// Config tunes the indexer.
//
// QueueSize: capacity of the in-memory job queue.
// MaxTokens: approximate token budget of the text sent to the embedder.
// Timeout:   per-job deadline.
type Config struct {
	QueueSize int
	MaxTokens int
	Timeout   time.Duration
}

func DefaultConfig() Config {
	return Config{QueueSize: 64, MaxTokens: 2000, Timeout: time.Minute}
}

type Indexer struct {
	store    EmbeddingStore
	embedder core.EmbeddingProvider
	cfg      Config
	jobs     chan Job

	mu   sync.Mutex
	wait func() error
}

func New(store EmbeddingStore, embedder core.EmbeddingProvider, cfg Config) *Indexer {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Indexer{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		jobs:     make(chan Job, cfg.QueueSize),
	}
}

// Start runs numWorkers goroutines reading from the job queue until ctx is done.
func (ix *Indexer) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for w := 1; w <= numWorkers; w++ {
		g.Go(func() error {
			log := logrus.WithField("worker", w)
			for {
				select {
				case <-gctx.Done():
					log.Debug("indexer worker shutting down")
					return nil
				case job := <-ix.jobs:
					if err := ix.processOne(gctx, job); err != nil {
						log.WithError(err).WithField("message_id", job.MessageID).Warn("indexing answer failed")
					}
				}
			}
		})
	}

	ix.mu.Lock()
	ix.wait = g.Wait
	ix.mu.Unlock()
}

// Wait blocks until every worker started by Start has returned.
func (ix *Indexer) Wait() error {
	ix.mu.Lock()
	wait := ix.wait
	ix.mu.Unlock()
	if wait == nil {
		return nil
	}
	return wait()
}

// Enqueue schedules an answer for indexing. It never blocks; when the queue
// is full the job is dropped and false is returned.
func (ix *Indexer) Enqueue(job Job) bool {
	select {
	case ix.jobs <- job:
		return true
	default:
		logrus.WithField("message_id", job.MessageID).Warn("indexer queue full, dropping answer")
		return false
	}
}

func (ix *Indexer) processOne(ctx context.Context, job Job) error {
	text := Document(job.Prose, job.Table, ix.cfg.MaxTokens)
	if text == "" {
		return nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, ix.cfg.Timeout)
	defer cancel()

	vecs, err := ix.embedder.EmbedTexts(jobCtx, []string{text})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("embed size mismatch: got %d want 1", len(vecs))
	}
	if err := ix.store.InsertMessageEmbedding(jobCtx, job.MessageID, vecs[0]); err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// Document builds the text that represents an answer in the index: the prose
// without citation markers followed by the table rows, bounded by maxTokens.
func Document(prose string, table *models.ComparisonTableData, maxTokens int) string {
	parts := []string{strings.TrimSpace(postprocess.StripMarkers(prose))}
	if table != nil {
		parts = append(parts, strings.Join(table.Headers, " | "))
		for _, row := range table.Rows {
			parts = append(parts, strings.Join(row, " | "))
		}
	}

	var (
		kept   []string
		tokSum int
	)
	for _, p := range parts {
		if p == "" {
			continue
		}
		t := approxTokens(p)
		if maxTokens > 0 && tokSum+t > maxTokens {
			break
		}
		kept = append(kept, p)
		tokSum += t
	}
	return strings.Join(kept, "\n")
}

// approxTokens estimates roughly four characters per token.
func approxTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
