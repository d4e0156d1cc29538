package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

// DefaultKey is the Redis hash invalid tokens are collected in.
const DefaultKey = "apns:invalid-tokens"

// HashClient is the subset of Redis hash operations the sink needs.
// cache.RedisClient implements it.
type HashClient interface {
	HSetCapped(ctx context.Context, key, field, value string, capacity int64) (bool, error)
	HPopN(ctx context.Context, key string, count int64) (map[string]string, error)
}

// RedisSink stores invalid tokens in a Redis hash keyed by token and shared
// by all replicas, so any instance can drain what another recorded.
// Re-adding a token replaces its record without using capacity.
type RedisSink struct {
	client   HashClient
	key      string
	capacity int64
	logger   *slog.Logger
}

// NewRedisSink creates the sink. A capacity <= 0 leaves the hash unbounded.
func NewRedisSink(client HashClient, key string, capacity int64, logger *slog.Logger) *RedisSink {
	if key == "" {
		key = DefaultKey
	}
	return &RedisSink{
		client:   client,
		key:      key,
		capacity: capacity,
		logger:   logger.With("component", "RedisInvalidTokenSink"),
	}
}

func (s *RedisSink) Add(ctx context.Context, token dispatch.InvalidToken) error {
	record, err := json.Marshal(token)
	if err != nil {
		return err
	}
	stored, err := s.client.HSetCapped(ctx, s.key, token.Token, string(record), s.capacity)
	if err != nil {
		return fmt.Errorf("failed to record invalid token: %w", err)
	}
	if !stored {
		return dispatch.ErrSinkFull
	}
	return nil
}

// Drain pops up to limit entries, all of them when limit <= 0, oldest first.
func (s *RedisSink) Drain(ctx context.Context, limit int) ([]dispatch.InvalidToken, error) {
	fields, err := s.client.HPopN(ctx, s.key, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to drain invalid tokens: %w", err)
	}

	out := make([]dispatch.InvalidToken, 0, len(fields))
	for field, record := range fields {
		var tok dispatch.InvalidToken
		if err := json.Unmarshal([]byte(record), &tok); err != nil {
			s.logger.Warn("Dropping unreadable invalid-token entry", "token", field, "err", err)
			continue
		}
		out = append(out, tok)
	}
	slices.SortFunc(out, func(a, b dispatch.InvalidToken) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}
