package apns

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
	"golang.org/x/sync/singleflight"
)

// BuildFunc creates a connection for a cache miss.
type BuildFunc func(ctx context.Context) (Conn, error)

// ConnectionCache keeps one live connection per variant.
//
// Builds are single-flight per key: concurrent callers asking for the same
// cold key share one build and its result, while other keys proceed
// independently. Failed builds are never cached; the next call retries.
type ConnectionCache struct {
	mu    sync.RWMutex
	conns map[string]Conn
	// gen is bumped on Invalidate so a build that started before the
	// invalidation does not repopulate the entry.
	gen    map[string]uint64
	flight singleflight.Group
	logger *slog.Logger
}

func NewConnectionCache(logger *slog.Logger) *ConnectionCache {
	return &ConnectionCache{
		conns:  make(map[string]Conn),
		gen:    make(map[string]uint64),
		logger: logger.With("component", "APNSConnectionCache"),
	}
}

// GetOrCreate returns the cached connection for key or builds it.
func (c *ConnectionCache) GetOrCreate(ctx context.Context, key string, build BuildFunc) (Conn, error) {
	if conn, ok := c.lookup(key); ok {
		return conn, nil
	}

	v, err, shared := c.flight.Do(key, func() (any, error) {
		if conn, ok := c.lookup(key); ok {
			return conn, nil
		}

		c.mu.RLock()
		startGen := c.gen[key]
		c.mu.RUnlock()

		// Waiters share this build, so one caller's cancellation must not fail it.
		conn, err := build(context.WithoutCancel(ctx))
		if err != nil {
			c.logger.Warn("Failed to build APNs connection", "variant_id", key, "err", err)
			return nil, err
		}
		if conn == nil {
			return nil, dispatch.ErrConnectionUnavailable
		}

		c.mu.Lock()
		if c.gen[key] == startGen {
			c.conns[key] = conn
		}
		c.mu.Unlock()

		c.logger.Debug("APNs connection cached", "variant_id", key)
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("APNs connection build shared", "variant_id", key)
	}
	return v.(Conn), nil
}

// Invalidate evicts and closes the connection for key, if any.
func (c *ConnectionCache) Invalidate(key string) {
	c.mu.Lock()
	conn, ok := c.conns[key]
	delete(c.conns, key)
	c.gen[key]++
	c.mu.Unlock()

	c.flight.Forget(key)
	if ok {
		conn.Close()
		c.logger.Info("APNs connection evicted", "variant_id", key)
	}
}

// Len reports how many connections are cached.
func (c *ConnectionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// Close evicts every cached connection.
func (c *ConnectionCache) Close() {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]Conn)
	for key := range conns {
		c.gen[key]++
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

func (c *ConnectionCache) lookup(key string) (Conn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[key]
	return conn, ok
}
