// Package mirror republishes room-wide whiteboard events on Redis pub/sub
// so that out-of-process observers can follow a room without holding a
// websocket.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"CollabBoard/internal/session"
)

const (
	queueSize      = 1024
	publishTimeout = 2 * time.Second
)

type event struct {
	channel string
	payload []byte
}

// RedisMirror publishes events from a buffered queue on its own goroutine
// so callers on the session event loop never wait for Redis. Events that
// arrive while the queue is full are dropped and counted.
type RedisMirror struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan event
	done   chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
}

// NewRedisMirror connects lazily to Redis and starts the publish worker.
// Channels are named <prefix>:<room>:events.
func NewRedisMirror(opts *redis.Options, prefix string, logger *slog.Logger) (*RedisMirror, error) {
	if prefix == "" {
		return nil, fmt.Errorf("channel prefix cannot be empty")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &RedisMirror{
		rdb:    redis.NewClient(opts),
		prefix: prefix,
		logger: logger,
		queue:  make(chan event, queueSize),
		done:   make(chan struct{}),
	}
	go m.run()
	return m, nil
}

// Channel returns the pub/sub channel for roomID.
func (m *RedisMirror) Channel(roomID string) string {
	return fmt.Sprintf("%s:%s:events", m.prefix, roomID)
}

// Ping verifies Redis connectivity.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

// Publish queues msg for roomID. It never blocks.
func (m *RedisMirror) Publish(roomID string, msg session.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("mirror: failed to marshal event", "room", roomID, "event", msg.Event, "error", err)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- event{channel: m.Channel(roomID), payload: payload}:
	default:
		m.dropped.Add(1)
		m.logger.Warn("mirror: queue full, dropping event", "room", roomID, "event", msg.Event)
	}
}

func (m *RedisMirror) run() {
	defer close(m.done)
	for ev := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := m.rdb.Publish(ctx, ev.channel, ev.payload).Err()
		cancel()
		if err != nil {
			m.logger.Warn("mirror: publish failed", "channel", ev.channel, "error", err)
			continue
		}
		m.published.Add(1)
	}
}

// Published returns how many events reached Redis.
func (m *RedisMirror) Published() int64 { return m.published.Load() }

// Dropped returns how many events were discarded because the queue was full.
func (m *RedisMirror) Dropped() int64 { return m.dropped.Load() }

// Close flushes queued events and closes the Redis connection. Publish
// calls after Close are discarded.
func (m *RedisMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	return m.rdb.Close()
}
