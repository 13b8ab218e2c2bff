// Package rag assembles the history-aware retrieval chain that answers product
// questions.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"ecombot/internal/history"
	"ecombot/internal/models"
)

// ErrEmptyInput is returned when the question is empty or whitespace.
var ErrEmptyInput = errors.New("input must not be empty")

// Request is a single chain invocation.
type Request struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id"`
}

// Source is a passage the answer was grounded on.
type Source struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response carries the answer plus the standalone question used for retrieval.
type Response struct {
	Answer   string   `json:"answer"`
	Question string   `json:"question"`
	Sources  []Source `json:"sources"`
}

// Config holds the recognised chain parameters. Zero values fall back to the
// package defaults.
type Config struct {
	RetrievalCount     int
	RewriteInstruction string
	AnswerInstruction  string
}

func (c Config) withDefaults() Config {
	if c.RetrievalCount <= 0 {
		c.RetrievalCount = DefaultRetrievalCount
	}
	if strings.TrimSpace(c.RewriteInstruction) == "" {
		c.RewriteInstruction = DefaultRewriteInstruction
	}
	if strings.TrimSpace(c.AnswerInstruction) == "" {
		c.AnswerInstruction = DefaultAnswerInstruction
	}
	return c
}

// turn is filled in as it flows through the answer chain.
type turn struct {
	input    string
	question string
	history  []*schema.Message
	docs     []*schema.Document
}

// Chain runs rewrite, retrieval and answer synthesis for one session turn and
// records the exchange in the history store.
type Chain struct {
	rewrite   compose.Runnable[map[string]any, *schema.Message]
	answer    compose.Runnable[*turn, *schema.Message]
	retriever retriever.Retriever
	store     history.Store
	topK      int
	logger    *zap.Logger
}

// New compiles the rewrite and answer chains around the given model and retriever.
func New(ctx context.Context, chatModel model.BaseChatModel, r retriever.Retriever, store history.Store, cfg Config, logger *zap.Logger) (*Chain, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if r == nil {
		return nil, errors.New("retriever is required")
	}
	if store == nil {
		return nil, errors.New("history store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	c := &Chain{
		retriever: r,
		store:     store,
		topK:      cfg.RetrievalCount,
		logger:    logger,
	}

	rewriteTpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(cfg.RewriteInstruction),
		schema.MessagesPlaceholder(HistoryKey, true),
		schema.UserMessage("{input}"),
	)
	rewrite, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(rewriteTpl).
		AppendChatModel(chatModel).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rewrite chain: %w", err)
	}
	c.rewrite = rewrite

	answerTpl := prompt.FromMessages(schema.FString,
		schema.SystemMessage(cfg.AnswerInstruction),
		schema.MessagesPlaceholder(HistoryKey, true),
		schema.UserMessage("{input}"),
	)
	answer, err := compose.NewChain[*turn, *schema.Message]().
		AppendLambda(compose.InvokableLambda(c.condense)).
		AppendLambda(compose.InvokableLambda(c.retrieve)).
		AppendChatTemplate(answerTpl).
		AppendChatModel(chatModel).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile answer chain: %w", err)
	}
	c.answer = answer
	return c, nil
}

// Invoke answers req.Input for req.SessionID. The transcript is only extended
// when every step succeeds.
func (c *Chain) Invoke(ctx context.Context, req Request) (*Response, error) {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	start := time.Now()

	past, err := c.store.Messages(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	t := &turn{input: input, history: toSchemaMessages(past)}
	out, err := c.answer.Invoke(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("run chain: %w", err)
	}
	if out == nil {
		return nil, errors.New("run chain: empty model response")
	}
	// an abandoned turn must not reach the transcript
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run chain: %w", err)
	}

	err = c.store.Append(ctx, req.SessionID,
		models.NewMessage(req.SessionID, models.RoleUser, input),
		models.NewMessage(req.SessionID, models.RoleAssistant, out.Content),
	)
	if err != nil {
		return nil, fmt.Errorf("save history: %w", err)
	}

	c.logger.Info("answered question",
		zap.String("session_id", req.SessionID),
		zap.Int("history_len", len(past)),
		zap.Int("sources", len(t.docs)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Response{
		Answer:   out.Content,
		Question: t.question,
		Sources:  toSources(t.docs),
	}, nil
}

// condense rewrites the input into a standalone question when there is history
// to resolve references against.
func (c *Chain) condense(ctx context.Context, t *turn) (*turn, error) {
	t.question = t.input
	if len(t.history) == 0 {
		return t, nil
	}
	msg, err := c.rewrite.Invoke(ctx, map[string]any{
		"input":    t.input,
		HistoryKey: t.history,
	})
	if err != nil {
		return nil, fmt.Errorf("rewrite question: %w", err)
	}
	if msg == nil {
		return t, nil
	}
	if q := strings.TrimSpace(msg.Content); q != "" {
		t.question = q
	}
	c.logger.Debug("rewrote question", zap.String("input", t.input), zap.String("question", t.question))
	return t, nil
}

func (c *Chain) retrieve(ctx context.Context, t *turn) (map[string]any, error) {
	docs, err := c.retriever.Retrieve(ctx, t.question, retriever.WithTopK(c.topK))
	if err != nil {
		return nil, fmt.Errorf("retrieve passages: %w", err)
	}
	t.docs = docs
	return map[string]any{
		"input":    t.input,
		"context":  joinPassages(docs),
		HistoryKey: t.history,
	}, nil
}

func joinPassages(docs []*schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		parts = append(parts, doc.Content)
	}
	return strings.Join(parts, "\n\n")
}

func toSchemaMessages(history []*models.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{Role: role, Content: msg.Content})
	}
	return messages
}

func toSources(docs []*schema.Document) []Source {
	sources := make([]Source, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		src := Source{ID: doc.ID, Content: doc.Content, Metadata: doc.MetaData}
		if score, ok := doc.MetaData["score"].(float64); ok {
			src.Score = score
		}
		sources = append(sources, src)
	}
	return sources
}
