package net

import (
	"sync/atomic"
	"time"
)

// Metrics tracks websocket transport activity.
type Metrics struct {
	activeConnections   atomic.Int64
	totalConnections    atomic.Int64
	messagesReceived    atomic.Int64
	messagesSent        atomic.Int64
	malformedMessages   atomic.Int64
	connectionErrors    atomic.Int64
	broadcastErrors     atomic.Int64
	rateLimitViolations atomic.Int64
	lastMessageTime     atomic.Int64 // unix seconds

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) connectionOpened() {
	m.activeConnections.Add(1)
	m.totalConnections.Add(1)
}

func (m *Metrics) connectionClosed() { m.activeConnections.Add(-1) }

func (m *Metrics) messageReceived() {
	m.messagesReceived.Add(1)
	m.lastMessageTime.Store(time.Now().Unix())
}

func (m *Metrics) messageSent()        { m.messagesSent.Add(1) }
func (m *Metrics) malformedMessage()   { m.malformedMessages.Add(1) }
func (m *Metrics) connectionError()    { m.connectionErrors.Add(1) }
func (m *Metrics) broadcastError()     { m.broadcastErrors.Add(1) }
func (m *Metrics) rateLimitViolation() { m.rateLimitViolations.Add(1) }

// MetricsSnapshot is a point-in-time view of Metrics.
type MetricsSnapshot struct {
	ActiveConnections   int64     `json:"active_connections"`
	TotalConnections    int64     `json:"total_connections"`
	MessagesReceived    int64     `json:"messages_received"`
	MessagesSent        int64     `json:"messages_sent"`
	MalformedMessages   int64     `json:"malformed_messages"`
	ConnectionErrors    int64     `json:"connection_errors"`
	BroadcastErrors     int64     `json:"broadcast_errors"`
	RateLimitViolations int64     `json:"rate_limit_violations"`
	LastMessageAt       time.Time `json:"last_message_at,omitzero"`
	Uptime              string    `json:"uptime"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		ActiveConnections:   m.activeConnections.Load(),
		TotalConnections:    m.totalConnections.Load(),
		MessagesReceived:    m.messagesReceived.Load(),
		MessagesSent:        m.messagesSent.Load(),
		MalformedMessages:   m.malformedMessages.Load(),
		ConnectionErrors:    m.connectionErrors.Load(),
		BroadcastErrors:     m.broadcastErrors.Load(),
		RateLimitViolations: m.rateLimitViolations.Load(),
		Uptime:              time.Since(m.startTime).Round(time.Second).String(),
	}
	if ts := m.lastMessageTime.Load(); ts > 0 {
		s.LastMessageAt = time.Unix(ts, 0).UTC()
	}
	return s
}
