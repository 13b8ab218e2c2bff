// Package app builds the running service from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ecombot/internal/api"
	"ecombot/internal/config"
	"ecombot/internal/history"
	"ecombot/internal/llm"
	"ecombot/internal/logging"
	"ecombot/internal/redis"
	"ecombot/internal/retrieval"
	"ecombot/internal/service/rag"
	"ecombot/internal/storage"
	"ecombot/internal/ui"
	"ecombot/internal/worker"
)

// Deps overrides the model clients Build would otherwise create from config.
type Deps struct {
	ChatModel model.BaseChatModel
	Embedder  embedding.Embedder
}

// App holds every long-lived component of the service.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *sql.DB
	Redis      *redis.Client
	History    history.Store
	Index      *retrieval.Index
	Chain      *rag.Chain
	Dispatcher *worker.Dispatcher
	Chat       *Chat
}

// Build opens storage, loads the passage index and compiles the chain.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, deps Deps) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.DB, err = storage.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err = storage.Migrate(a.DB, cfg.Database.Driver); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.History.Backend) {
	case "sql":
		a.History = history.NewSQLStore(a.DB)
	case "redis":
		a.Redis, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		a.History = history.NewRedisStore(a.Redis)
	default:
		a.History = history.NewMemoryStore()
	}

	chatModel := deps.ChatModel
	if chatModel == nil {
		if chatModel, err = llm.NewChatModel(ctx, cfg.Model); err != nil {
			return nil, err
		}
	}
	embedder := deps.Embedder
	if embedder == nil {
		if embedder, err = llm.NewEmbedder(ctx, cfg.Embedding); err != nil {
			return nil, err
		}
	}

	passages, err := retrieval.LoadPassages(ctx, a.DB)
	if err != nil {
		return nil, err
	}
	a.Index, err = retrieval.NewIndex(embedder, passages, cfg.Retrieval.TopK)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	if a.Index.Len() == 0 {
		logger.Warn("passage index is empty, answers will have no product context")
	} else {
		logger.Info("passage index loaded", zap.Int("passages", a.Index.Len()))
	}

	a.Chain, err = rag.New(ctx, chatModel, &thresholdRetriever{index: a.Index, threshold: cfg.Retrieval.ScoreThreshold}, a.History, rag.Config{
		RetrievalCount:     cfg.Retrieval.TopK,
		RewriteInstruction: cfg.Prompts.Rewrite,
		AnswerInstruction:  cfg.Prompts.Answer,
	}, logging.Module(logger, "rag"))
	if err != nil {
		return nil, err
	}

	a.Dispatcher = worker.NewDispatcher(cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize, logging.Module(logger, "worker"))
	a.Chat = NewChat(a.Chain, a.Dispatcher, cfg.Server.RequestTimeout)
	return a, nil
}

// Router mounts the chat page and the JSON API.
func (a *App) Router() (*gin.Engine, error) {
	router := gin.New()
	router.Use(api.RequestLogger(logging.Module(a.Logger, "http")), api.Recovery(a.Logger))

	page, err := ui.NewHandler(a.Chat, ui.NewBoard(), logging.Module(a.Logger, "ui"))
	if err != nil {
		return nil, fmt.Errorf("init chat page: %w", err)
	}
	page.RegisterRoutes(router)
	api.NewHandler(a.Chat, a.History, logging.Module(a.Logger, "api")).RegisterRoutes(router)
	return router, nil
}

// Close stops the dispatcher and releases storage connections.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
