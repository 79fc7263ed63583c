package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "document_status:"

// Store 定义状态存储接口
type Store interface {
	SaveFinalStatus(ctx context.Context, status *DocumentStatus) error
	Close() error
}

// DocumentStatus 定义文档最终状态
type DocumentStatus struct {
	RunID      string    `json:"runId"`
	Document   string    `json:"document"`
	Status     string    `json:"status"`
	Outputs    []string  `json:"outputs,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Client is the subset of the redis client used by RedisStore.
type Client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore keeps final statuses in Redis with a TTL.
type RedisStore struct {
	redis Client
	ttl   time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to addr and verifies it with a PING.
func NewRedisStore(ctx context.Context, addr string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl}
}

// Key returns the redis key for a document within a run.
func Key(runID, document string) string {
	return keyPrefix + runID + ":" + document
}

// SaveFinalStatus 保存最终文档状态
func (s *RedisStore) SaveFinalStatus(ctx context.Context, status *DocumentStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := s.redis.Set(ctx, Key(status.RunID, status.Document), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
