// Package history keeps per-session conversation transcripts.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ecombot/internal/models"
)

// ErrSessionRequired is returned for an empty session identifier.
var ErrSessionRequired = errors.New("session_id is required")

// Store maps a session identifier to its ordered transcript. A transcript is
// created empty on first reference and only ever grows.
type Store interface {
	// Messages returns a copy of the transcript for sessionID.
	Messages(ctx context.Context, sessionID string) ([]*models.Message, error)
	// Peek is Messages without creating the transcript when it does not exist.
	Peek(ctx context.Context, sessionID string) ([]*models.Message, error)
	// Append adds msgs to the end of the transcript as a single unit.
	Append(ctx context.Context, sessionID string, msgs ...*models.Message) error
}

func checkSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionRequired
	}
	return nil
}

func checkMessages(msgs []*models.Message) error {
	for i, msg := range msgs {
		if msg == nil {
			return fmt.Errorf("message %d is nil", i)
		}
	}
	return nil
}
