package history

import (
	"context"
	"encoding/json"
	"fmt"

	"ecombot/internal/models"
	"ecombot/internal/redis"
)

const redisKeyPrefix = "ecombot:history:"

// RedisStore keeps each transcript in a Redis list so several server
// processes can share sessions.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

func (s *RedisStore) Messages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	if err := checkSession(sessionID); err != nil {
		return nil, err
	}
	raw, err := s.client.LRange(ctx, redisKey(sessionID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	messages := make([]*models.Message, 0, len(raw))
	for _, item := range raw {
		var msg models.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// Peek is Messages; the list key only exists once something was appended.
func (s *RedisStore) Peek(ctx context.Context, sessionID string) ([]*models.Message, error) {
	return s.Messages(ctx, sessionID)
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, msgs ...*models.Message) error {
	if err := checkSession(sessionID); err != nil {
		return err
	}
	if err := checkMessages(msgs); err != nil {
		return err
	}
	values := make([]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		copyMsg := *msg
		copyMsg.SessionID = sessionID
		data, err := json.Marshal(copyMsg)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		values = append(values, data)
	}
	// one RPUSH with every value is atomic on the server
	if err := s.client.RPush(ctx, redisKey(sessionID), values...); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}
