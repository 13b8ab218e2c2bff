// Package ui serves the browser chat page.
package ui

import (
	"context"
	"strings"
	"time"
)

const timestampLayout = "Jan 2 15:04"

// Message is one entry of the displayed conversation.
type Message struct {
	Role      string
	Content   string
	Timestamp string
}

// State is what one visitor sees. It is never persisted.
type State struct {
	Messages []Message
}

// InvokeFunc answers a question on behalf of the page.
type InvokeFunc func(ctx context.Context, input string) (string, error)

// Step applies one submission to state. Blank input returns state unchanged
// without calling invoke. On failure the original state is returned with the
// error; on success a new state holds the user message and the answer.
func Step(ctx context.Context, state State, input string, invoke InvokeFunc) (State, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return state, nil
	}
	answer, err := invoke(ctx, input)
	if err != nil {
		return state, err
	}

	now := time.Now().Format(timestampLayout)
	next := State{Messages: make([]Message, 0, len(state.Messages)+2)}
	next.Messages = append(next.Messages, state.Messages...)
	next.Messages = append(next.Messages,
		Message{Role: "user", Content: input, Timestamp: now},
		Message{Role: "assistant", Content: answer, Timestamp: now},
	)
	return next, nil
}
