package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/Groundwise/internal/config"
	"github.com/markdave123-py/Groundwise/internal/core/attachments"
	db "github.com/markdave123-py/Groundwise/internal/core/database"
	"github.com/markdave123-py/Groundwise/internal/core/indexer"
	"github.com/markdave123-py/Groundwise/internal/core/llm"
	objectclient "github.com/markdave123-py/Groundwise/internal/core/object-client"
	"github.com/markdave123-py/Groundwise/internal/core/streaming"
	"github.com/markdave123-py/Groundwise/internal/metrics"
	"github.com/markdave123-py/Groundwise/internal/services"
)

type App struct {
	DBClient *db.DatabaseClient
	LLM      *llm.GeminiLLM
	Embedder *llm.GeminiEmbedder
	Indexer  *indexer.Indexer
	Server   *Server

	cfg *config.Config
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{cfg: cfg}

	dbClient, err := db.NewDatabaseClient(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	logrus.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(initCtx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	// The genai clients outlive initialization, so they get ctx rather than initCtx.
	a.Embedder, err = llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	a.LLM, err = llm.NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the llm: %w", err)
	}

	a.Indexer = indexer.New(dbClient, a.Embedder, indexer.DefaultConfig())
	m := metrics.NewMetrics()

	chat := services.NewChatService(services.ChatDeps{
		DB:        dbClient,
		LLM:       a.LLM,
		Embedder:  a.Embedder,
		Storage:   objClient,
		Extractor: attachments.NewDocconvExtractor(false, attachments.DefaultMaxChars),
		Indexer:   a.Indexer,
		Manager:   streaming.NewManager(),
		Metrics:   m,
		Bucket:    cfg.BucketName,
	})
	users := services.NewUserService(dbClient)

	a.Server = NewServer(cfg, users, chat, m)
	return a, nil
}

// Run starts the indexer workers and serves HTTP until ctx is done, then
// shuts the server down and waits for the workers.
func (a *App) Run(ctx context.Context) error {
	a.Indexer.Start(ctx, a.cfg.IndexWorkers)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown")
	}
	return a.Indexer.Wait()
}

func (a *App) Close() {
	if a.LLM != nil {
		_ = a.LLM.Close()
	}
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
