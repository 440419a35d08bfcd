package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/arinzecomie/livechat-relay/internal/models"
)

// RedisStore keeps each session's history in a sorted set scored by the
// message's Unix-microsecond timestamp. Keys carry no TTL; retention is external.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client for rate limiting.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() {
	s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Mode reports ModeDurable.
func (s *RedisStore) Mode() Mode { return ModeDurable }

// CreateIndexesIfAbsent is a no-op: the sorted set is the index.
func (s *RedisStore) CreateIndexesIfAbsent(ctx context.Context) error {
	return nil
}

// sessionMessagesKey returns the key for a session's message sorted set.
func sessionMessagesKey(siteID, sessionID string) string {
	return fmt.Sprintf("site:%s:session:%s:messages", siteID, sessionID)
}

// Append stores a message in its session's sorted set.
func (s *RedisStore) Append(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := validate(msg); err != nil {
		return models.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, err
	}

	err = s.client.ZAdd(ctx, sessionMessagesKey(msg.SiteID, msg.SessionID), redis.Z{
		Score:  float64(msg.Cursor()),
		Member: string(data),
	}).Err()
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// QueryHistory retrieves one page of a session's messages, oldest-first.
func (s *RedisStore) QueryHistory(ctx context.Context, q HistoryQuery) ([]models.Message, error) {
	maxScore := "+inf"
	if q.Before > 0 {
		maxScore = "(" + strconv.FormatInt(q.Before, 10) // exclusive
	}

	// Newest first, then flipped
	results, err := s.client.ZRevRangeByScore(ctx, sessionMessagesKey(q.SiteID, q.SessionID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(q.limit()),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	reverse(messages)
	return messages, nil
}
