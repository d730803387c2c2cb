package session

import (
	"encoding/json"

	"CollabBoard/internal/rooms"
	"CollabBoard/internal/state"
)

// Inbound event names.
const (
	EventJoinRoom      = "join_room"
	EventCursorMove    = "cursor_move"
	EventStroke        = "stroke"
	EventStrokeSegment = "stroke_segment"
	EventGlobalUndo    = "global_undo"
	EventGlobalRedo    = "global_redo"
	EventClearCanvas   = "clear_canvas"
)

// Outbound event names. stroke_segment is relayed under its inbound name.
const (
	EventInitState     = "init_state"
	EventUserJoined    = "user_joined"
	EventUserLeft      = "user_left"
	EventOpApplied     = "op_applied"
	EventOpRemoved     = "op_removed"
	EventCanvasCleared = "canvas_cleared"
	EventCursorUpdate  = "cursor_update"
	EventAck           = "ack"
)

// Envelope is one inbound frame. Ack is set by clients that want an
// explicit result for the event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
}

// Message is one outbound frame.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
	Ack   *int64 `json:"ack,omitempty"`
}

// Inbound payloads.

type JoinRoom struct {
	Room     string `json:"room"`
	UserName string `json:"userName"`
}

type CursorMove struct {
	Room string  `json:"room"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type Stroke struct {
	Room string           `json:"room"`
	Op   *state.Operation `json:"op"`
}

type StrokeSegment struct {
	Room    string          `json:"room"`
	Segment json.RawMessage `json:"segment"`
}

// RoomRef is the payload of undo, redo and clear.
type RoomRef struct {
	Room string `json:"room"`
}

// Outbound payloads.

type InitState struct {
	History   []state.Operation   `json:"history"`
	Users     []rooms.Participant `json:"users"`
	YourColor string              `json:"yourColor"`
}

type UserLeft struct {
	SocketID string `json:"socketId"`
}

type OpApplied struct {
	Op state.Operation `json:"op"`
}

type OpRemoved struct {
	OpID string `json:"opId"`
}

type CanvasCleared struct{}

type CursorUpdate struct {
	SocketID string  `json:"socketId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type SegmentRelay struct {
	Segment  json.RawMessage `json:"segment"`
	SocketID string          `json:"socketId"`
}

// AckReply answers an Envelope that carried an ack id.
type AckReply struct {
	OK     bool   `json:"ok"`
	Status Status `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}
