package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"ecombot/internal/retrieval"
	"ecombot/internal/service/rag"
	"ecombot/internal/worker"
)

type invoker interface {
	Invoke(ctx context.Context, req rag.Request) (*rag.Response, error)
}

// Chat runs chain invocations on the dispatcher so turns of one session never
// overlap.
type Chat struct {
	chain      invoker
	dispatcher *worker.Dispatcher
	timeout    time.Duration
}

func NewChat(chain invoker, dispatcher *worker.Dispatcher, timeout time.Duration) *Chat {
	return &Chat{chain: chain, dispatcher: dispatcher, timeout: timeout}
}

// Invoke blocks until the turn is answered, rejected or timed out.
func (c *Chat) Invoke(ctx context.Context, req rag.Request) (*rag.Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var resp *rag.Response
	err := c.dispatcher.Do(ctx, req.SessionID, func(ctx context.Context) error {
		r, err := c.chain.Invoke(ctx, req)
		resp = r
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, err
	}
	return resp, nil
}

// thresholdRetriever applies the configured minimum score to every query.
type thresholdRetriever struct {
	index     *retrieval.Index
	threshold float64
}

func (r *thresholdRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	if r.threshold > 0 {
		opts = append([]retriever.Option{retriever.WithScoreThreshold(r.threshold)}, opts...)
	}
	return r.index.Retrieve(ctx, query, opts...)
}
