package net

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"CollabBoard/internal/config"
	"CollabBoard/internal/session"
)

// Handler consumes the events of every connected peer.
type Handler interface {
	Dispatch(sessionID string, env session.Envelope) session.Result
	Disconnect(sessionID string) []string
}

// Limits bounds what a single peer may do.
type Limits struct {
	MaxMessagesPerSecond int
	MaxMessageBytes      int64
	SendBufferSize       int
	WriteTimeout         time.Duration
	PongTimeout          time.Duration
}

// DefaultLimits returns the built-in transport limits.
func DefaultLimits() Limits {
	return Limits{
		MaxMessagesPerSecond: config.MaxMessagesPerSecond,
		MaxMessageBytes:      config.MaxMessageBytes,
		SendBufferSize:       config.ClientSendBufferSize,
		WriteTimeout:         config.WriteTimeout,
		PongTimeout:          config.PongTimeout,
	}
}

func (l Limits) pingInterval() time.Duration { return (l.PongTimeout * 9) / 10 }

type eventKind int

const (
	peerJoined eventKind = iota
	peerMessage
	peerLeft
)

// peerEvent is everything a peer hands to the loop. Registration,
// messages and departure share one channel so a peer's events are
// processed in the order they happened.
type peerEvent struct {
	kind eventKind
	peer *Peer
	env  session.Envelope
}

// PeerManager owns every websocket peer. All peer events are processed by
// Run on a single goroutine, one at a time; that loop is the only caller
// of the bound Handler.
type PeerManager struct {
	handler  Handler
	limits   Limits
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[string]*Peer

	events  chan peerEvent
	stopped chan struct{}
}

// NewPeerManager creates a manager. Call Bind before Run.
func NewPeerManager(limits Limits, logger *slog.Logger) *PeerManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PeerManager{
		limits:  limits,
		logger:  logger,
		metrics: NewMetrics(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The board has no auth; any page may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers:   make(map[string]*Peer),
		events:  make(chan peerEvent, config.InboundBufferSize),
		stopped: make(chan struct{}),
	}
}

// Bind sets the handler that receives peer events.
func (pm *PeerManager) Bind(h Handler) { pm.handler = h }

// Metrics returns the transport counters.
func (pm *PeerManager) Metrics() *Metrics { return pm.metrics }

// Len returns the number of connected peers.
func (pm *PeerManager) Len() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.peers)
}

// Done is closed once Run has returned.
func (pm *PeerManager) Done() <-chan struct{} { return pm.stopped }

// Run processes peer events until ctx is cancelled, then disconnects
// every peer.
func (pm *PeerManager) Run(ctx context.Context) {
	defer close(pm.stopped)
	defer pm.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-pm.events:
			switch ev.kind {
			case peerJoined:
				pm.add(ev.peer)
			case peerMessage:
				pm.dispatch(ev.peer, ev.env)
			case peerLeft:
				pm.remove(ev.peer)
			}
		}
	}
}

func (pm *PeerManager) add(p *Peer) {
	pm.mu.Lock()
	pm.peers[p.id] = p
	n := len(pm.peers)
	pm.mu.Unlock()

	pm.metrics.connectionOpened()
	pm.logger.Info("peer connected", "session", p.id, "remote", p.remote, "peers", n)
}

func (pm *PeerManager) dispatch(p *Peer, env session.Envelope) {
	if !pm.registered(p) || pm.handler == nil {
		return
	}
	pm.handler.Dispatch(p.id, env)
}

func (pm *PeerManager) remove(p *Peer) {
	pm.mu.Lock()
	if cur, ok := pm.peers[p.id]; !ok || cur != p {
		pm.mu.Unlock()
		return
	}
	delete(pm.peers, p.id)
	n := len(pm.peers)
	pm.mu.Unlock()

	close(p.send)
	pm.metrics.connectionClosed()

	var left []string
	if pm.handler != nil {
		left = pm.handler.Disconnect(p.id)
	}
	pm.logger.Info("peer disconnected", "session", p.id, "rooms", left, "peers", n)
}

func (pm *PeerManager) registered(p *Peer) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	cur, ok := pm.peers[p.id]
	return ok && cur == p
}

func (pm *PeerManager) closeAll() {
	pm.mu.Lock()
	peers := pm.peers
	pm.peers = make(map[string]*Peer)
	pm.mu.Unlock()

	for _, p := range peers {
		close(p.send)
		p.closeConn()
		pm.metrics.connectionClosed()
	}
	if len(peers) > 0 {
		pm.logger.Info("closed all peers", "count", len(peers))
	}
}

// Send encodes msg once and queues it for each listed session. A peer
// whose send buffer is full is disconnected rather than allowed to stall
// the room.
func (pm *PeerManager) Send(sessionIDs []string, msg session.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		pm.logger.Error("failed to marshal message", "event", msg.Event, "error", err)
		return
	}

	pm.mu.RLock()
	defer pm.mu.RUnlock()
	for _, id := range sessionIDs {
		p, ok := pm.peers[id]
		if !ok {
			continue
		}
		select {
		case p.send <- data:
		default:
			pm.metrics.broadcastError()
			pm.logger.Warn("send buffer full, closing slow peer", "session", id, "event", msg.Event)
			p.closeConn()
		}
	}
}

// post hands an event to the loop. It returns false once the loop has
// stopped.
func (pm *PeerManager) post(ev peerEvent) bool {
	select {
	case pm.events <- ev:
		return true
	case <-pm.stopped:
		return false
	}
}

// ServeWS upgrades the request and attaches a new peer.
func (pm *PeerManager) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := pm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		pm.metrics.connectionError()
		pm.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	p := &Peer{
		id:     uuid.NewString(),
		remote: r.RemoteAddr,
		conn:   conn,
		send:   make(chan []byte, pm.limits.SendBufferSize),
		pm:     pm,
	}
	if !pm.post(peerEvent{kind: peerJoined, peer: p}) {
		conn.Close()
		return
	}
	go p.writePump()
	go p.readPump()
}

// Peer is one websocket connection. Its session id is what the protocol
// knows it by.
type Peer struct {
	id     string
	remote string
	conn   *websocket.Conn
	send   chan []byte
	pm     *PeerManager

	closeOnce sync.Once

	// rate limiting; only touched by readPump
	windowStart  time.Time
	messageCount int
}

// ID returns the peer's session id.
func (p *Peer) ID() string { return p.id }

func (p *Peer) closeConn() {
	p.closeOnce.Do(func() { _ = p.conn.Close() })
}

func (p *Peer) allow(now time.Time) bool {
	if now.Sub(p.windowStart) > config.RateLimitWindow {
		p.windowStart = now
		p.messageCount = 0
	}
	p.messageCount++
	return p.messageCount <= p.pm.limits.MaxMessagesPerSecond
}

// rateLimited reports whether event counts against the per-peer budget.
// Only live previews do; events that change the room are never dropped.
func rateLimited(event string) bool {
	return event == session.EventCursorMove || event == session.EventStrokeSegment
}

// readPump decodes frames into envelopes and posts them to the loop. It
// owns the departure of the peer.
func (p *Peer) readPump() {
	defer func() {
		p.pm.post(peerEvent{kind: peerLeft, peer: p})
		p.closeConn()
	}()

	limits := p.pm.limits
	p.conn.SetReadLimit(limits.MaxMessageBytes)
	_ = p.conn.SetReadDeadline(time.Now().Add(limits.PongTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(limits.PongTimeout))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				p.pm.metrics.connectionError()
				p.pm.logger.Warn("read error", "session", p.id, "error", err)
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(limits.PongTimeout))

		var env session.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			p.pm.metrics.malformedMessage()
			p.pm.logger.Debug("dropping malformed frame", "session", p.id, "error", err)
			continue
		}

		if rateLimited(env.Event) && !p.allow(time.Now()) {
			p.pm.metrics.rateLimitViolation()
			p.pm.logger.Debug("rate limit exceeded, dropping message", "session", p.id, "event", env.Event)
			continue
		}
		p.pm.metrics.messageReceived()

		if !p.pm.post(peerEvent{kind: peerMessage, peer: p, env: env}) {
			return
		}
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings.
func (p *Peer) writePump() {
	limits := p.pm.limits
	ticker := time.NewTicker(limits.pingInterval())
	defer func() {
		ticker.Stop()
		p.closeConn()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(limits.WriteTimeout))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.pm.metrics.broadcastError()
				p.pm.logger.Debug("write error", "session", p.id, "error", err)
				return
			}
			p.pm.metrics.messageSent()

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(limits.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
