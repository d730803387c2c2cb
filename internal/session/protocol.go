// Package session turns inbound client events into room state changes
// and the broadcasts that keep every client's canvas in step with the
// room log.
//
// Protocol methods must be called from one goroutine at a time (the
// transport's event loop). That single-threaded discipline is what makes
// the order of op_applied, op_removed and canvas_cleared identical for
// every member of a room.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"CollabBoard/internal/rooms"
	"CollabBoard/internal/state"
)

// DefaultRoom is joined when a client does not name a room.
const DefaultRoom = "default"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrNotJoined        = errors.New("sender has not joined the room")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrNothingToUndo    = errors.New("nothing to undo")
	ErrNothingToRedo    = errors.New("nothing to redo")
)

// Emitter delivers a message to a set of sessions.
type Emitter interface {
	Send(sessionIDs []string, msg Message)
}

// Mirror receives every room-wide event for out-of-process observers.
// Publish must not block.
type Mirror interface {
	Publish(roomID string, msg Message)
}

// NopMirror discards everything.
type NopMirror struct{}

func (NopMirror) Publish(string, Message) {}

// Status classifies the outcome of one inbound event.
type Status string

const (
	StatusApplied  Status = "applied"
	StatusNotFound Status = "not_found" // empty undo or redo; nothing happened
	StatusIgnored  Status = "ignored"   // missing room or sender not in the room
	StatusRejected Status = "rejected"  // invalid payload or operation
)

// Result is what a handler did. Err is nil only for StatusApplied.
type Result struct {
	Status Status
	Err    error
}

// OK reports whether state changed or a broadcast went out.
func (r Result) OK() bool { return r.Status == StatusApplied }

var applied = Result{Status: StatusApplied}

func ignored(err error) Result  { return Result{Status: StatusIgnored, Err: err} }
func rejected(err error) Result { return Result{Status: StatusRejected, Err: err} }

// Protocol implements the server side of the whiteboard session.
type Protocol struct {
	registry *rooms.Registry
	emitter  Emitter
	mirror   Mirror
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithMirror sends room-wide events to m as well.
func WithMirror(m Mirror) Option {
	return func(p *Protocol) {
		if m != nil {
			p.mirror = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Protocol) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the time source used to stamp operations.
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) { p.now = now }
}

// New returns a Protocol over registry that delivers through emitter.
func New(registry *rooms.Registry, emitter Emitter, opts ...Option) *Protocol {
	p := &Protocol{
		registry: registry,
		emitter:  emitter,
		mirror:   NopMirror{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dispatch decodes env, runs the matching handler and, when the client
// asked for one, replies with an ack carrying the result.
func (p *Protocol) Dispatch(sessionID string, env Envelope) Result {
	res := p.route(sessionID, env)

	if env.Ack != nil {
		reply := AckReply{OK: res.OK(), Status: res.Status}
		if res.Err != nil {
			reply.Reason = res.Err.Error()
		}
		p.emitter.Send([]string{sessionID}, Message{Event: EventAck, Data: reply, Ack: env.Ack})
	}
	if res.Err != nil {
		p.logger.Debug("event not applied",
			"session", sessionID,
			"event", env.Event,
			"status", res.Status,
			"error", res.Err)
	}
	return res
}

func (p *Protocol) route(sessionID string, env Envelope) Result {
	switch env.Event {
	case EventJoinRoom:
		var in JoinRoom
		if len(env.Data) > 0 {
			if err := decode(env.Data, &in); err != nil {
				return rejected(err)
			}
		}
		return p.Join(sessionID, in.Room, in.UserName)

	case EventCursorMove:
		var in CursorMove
		if err := decode(env.Data, &in); err != nil {
			return rejected(err)
		}
		return p.CursorMove(sessionID, in.Room, in.X, in.Y)

	case EventStroke:
		var in Stroke
		if err := decode(env.Data, &in); err != nil {
			return rejected(err)
		}
		if in.Op == nil {
			return rejected(fmt.Errorf("%w: stroke without op", ErrMalformedPayload))
		}
		return p.SubmitStroke(sessionID, in.Room, *in.Op)

	case EventStrokeSegment:
		var in StrokeSegment
		if err := decode(env.Data, &in); err != nil {
			return rejected(err)
		}
		return p.StreamSegment(sessionID, in.Room, in.Segment)

	case EventGlobalUndo, EventGlobalRedo, EventClearCanvas:
		var in RoomRef
		if err := decode(env.Data, &in); err != nil {
			return rejected(err)
		}
		switch env.Event {
		case EventGlobalUndo:
			return p.Undo(sessionID, in.Room)
		case EventGlobalRedo:
			return p.Redo(sessionID, in.Room)
		default:
			return p.ClearCanvas(sessionID, in.Room)
		}

	default:
		return rejected(fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event))
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// Join registers the sender in roomID, creating the room if needed. The
// sender gets the full log, the member list and its color; everyone else
// is told about the newcomer.
func (p *Protocol) Join(sessionID, roomID, displayName string) Result {
	if roomID == "" {
		roomID = DefaultRoom
	}
	color := p.registry.AddParticipant(roomID, sessionID, displayName)
	room := p.registry.EnsureRoom(roomID)

	p.emitter.Send([]string{sessionID}, Message{
		Event: EventInitState,
		Data: InitState{
			History:   room.Snapshot(),
			Users:     room.Participants(),
			YourColor: color,
		},
	})

	me, _ := p.registry.Participant(roomID, sessionID)
	joined := Message{Event: EventUserJoined, Data: me}
	p.toOthers(roomID, sessionID, joined)
	p.mirror.Publish(roomID, joined)

	p.logger.Info("participant joined",
		"room", roomID,
		"session", sessionID,
		"name", me.Name,
		"color", color)
	return applied
}

// CursorMove relays the sender's pointer position to the rest of the room.
func (p *Protocol) CursorMove(sessionID, roomID string, x, y float64) Result {
	if !p.registry.IsMember(roomID, sessionID) {
		return ignored(ErrNotJoined)
	}
	p.toOthers(roomID, sessionID, Message{
		Event: EventCursorUpdate,
		Data:  CursorUpdate{SocketID: sessionID, X: x, Y: y},
	})
	return applied
}

// SubmitStroke appends a completed operation to the room log and echoes it
// to every member, sender included, so the server order is authoritative.
func (p *Protocol) SubmitStroke(sessionID, roomID string, op state.Operation) Result {
	room, ok := p.registry.Room(roomID)
	if !ok {
		return ignored(ErrRoomNotFound)
	}

	op = state.Stamp(op, sessionID, p.now())
	if err := room.Append(op); err != nil {
		return rejected(err)
	}

	p.toAll(roomID, Message{Event: EventOpApplied, Data: OpApplied{Op: op}})
	p.logger.Debug("operation applied", "room", roomID, "op", op.ID, "kind", op.Kind, "points", len(op.Points))
	return applied
}

// StreamSegment forwards an in-progress stroke segment for live preview.
// Segments are never logged.
func (p *Protocol) StreamSegment(sessionID, roomID string, segment json.RawMessage) Result {
	if !p.registry.IsMember(roomID, sessionID) {
		return ignored(ErrNotJoined)
	}
	p.toOthers(roomID, sessionID, Message{
		Event: EventStrokeSegment,
		Data:  SegmentRelay{Segment: segment, SocketID: sessionID},
	})
	return applied
}

// Undo removes the newest operation of the room, whoever drew it.
func (p *Protocol) Undo(sessionID, roomID string) Result {
	room, ok := p.registry.Room(roomID)
	if !ok {
		return ignored(ErrRoomNotFound)
	}
	op, ok := room.Undo()
	if !ok {
		return Result{Status: StatusNotFound, Err: ErrNothingToUndo}
	}

	p.toAll(roomID, Message{Event: EventOpRemoved, Data: OpRemoved{OpID: op.ID}})
	p.logger.Debug("operation undone", "room", roomID, "op", op.ID, "by", sessionID)
	return applied
}

// Redo re-appends the most recently undone operation at the log tail.
func (p *Protocol) Redo(sessionID, roomID string) Result {
	room, ok := p.registry.Room(roomID)
	if !ok {
		return ignored(ErrRoomNotFound)
	}
	op, ok := room.Redo()
	if !ok {
		return Result{Status: StatusNotFound, Err: ErrNothingToRedo}
	}

	p.toAll(roomID, Message{Event: EventOpApplied, Data: OpApplied{Op: op}})
	p.logger.Debug("operation redone", "room", roomID, "op", op.ID, "by", sessionID)
	return applied
}

// ClearCanvas empties the room log and redo buffer.
func (p *Protocol) ClearCanvas(sessionID, roomID string) Result {
	room, ok := p.registry.Room(roomID)
	if !ok {
		return ignored(ErrRoomNotFound)
	}
	room.Clear()

	p.toAll(roomID, Message{Event: EventCanvasCleared, Data: CanvasCleared{}})
	p.logger.Info("canvas cleared", "room", roomID, "by", sessionID)
	return applied
}

// Disconnect removes the session from every room it joined and tells the
// remaining members. It returns the rooms that were left.
func (p *Protocol) Disconnect(sessionID string) []string {
	left := p.registry.RemoveParticipant(sessionID)
	for _, roomID := range left {
		msg := Message{Event: EventUserLeft, Data: UserLeft{SocketID: sessionID}}
		p.toOthers(roomID, sessionID, msg)
		p.mirror.Publish(roomID, msg)
		p.logger.Info("participant left", "room", roomID, "session", sessionID)
	}
	return left
}

// toAll sends msg to every member of the room and mirrors it.
func (p *Protocol) toAll(roomID string, msg Message) {
	p.send(p.recipients(roomID, ""), msg)
	p.mirror.Publish(roomID, msg)
}

func (p *Protocol) toOthers(roomID, except string, msg Message) {
	p.send(p.recipients(roomID, except), msg)
}

func (p *Protocol) send(ids []string, msg Message) {
	if len(ids) == 0 {
		return
	}
	p.emitter.Send(ids, msg)
}

func (p *Protocol) recipients(roomID, except string) []string {
	members := p.registry.ListParticipants(roomID)
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.ID != except {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
