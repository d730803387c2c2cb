package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CollabBoard/internal/rooms"
	"CollabBoard/internal/state"
)

type delivery struct {
	to  string
	msg Message
}

// recorder captures deliveries per session, in send order.
type recorder struct {
	sent []delivery
}

func (r *recorder) Send(ids []string, msg Message) {
	for _, id := range ids {
		r.sent = append(r.sent, delivery{to: id, msg: msg})
	}
}

func (r *recorder) inbox(id string) []Message {
	var out []Message
	for _, d := range r.sent {
		if d.to == id {
			out = append(out, d.msg)
		}
	}
	return out
}

func (r *recorder) events(id string) []string {
	var out []string
	for _, m := range r.inbox(id) {
		out = append(out, m.Event)
	}
	return out
}

func (r *recorder) reset() { r.sent = nil }

type mirrored struct {
	room string
	msg  Message
}

type mirrorRecorder struct {
	got []mirrored
}

func (m *mirrorRecorder) Publish(roomID string, msg Message) {
	m.got = append(m.got, mirrored{room: roomID, msg: msg})
}

func setup(t *testing.T) (*Protocol, *rooms.Registry, *recorder) {
	t.Helper()
	reg := rooms.NewRegistry(nil)
	rec := &recorder{}
	fixed := time.UnixMilli(1700000000000)
	return New(reg, rec, WithClock(func() time.Time { return fixed })), reg, rec
}

func op(id string, pts ...state.Point) state.Operation {
	if len(pts) == 0 {
		pts = []state.Point{{X: 0, Y: 0}, {X: 10, Y: 10}}
	}
	return state.Operation{ID: id, Kind: state.KindStroke, Points: pts, Color: "#000", Width: 2}
}

func TestProtocol_EndToEndScenario(t *testing.T) {
	p, reg, rec := setup(t)
	palette := reg.Palette()

	// P1 joins an empty room.
	require.True(t, p.Join("P1", "r1", "Alice").OK())
	inbox := rec.inbox("P1")
	require.Len(t, inbox, 1)
	assert.Equal(t, EventInitState, inbox[0].Event)
	init := inbox[0].Data.(InitState)
	assert.Empty(t, init.History)
	assert.Equal(t, []rooms.Participant{{ID: "P1", Name: "Alice", Color: palette[0]}}, init.Users)
	assert.Equal(t, palette[0], init.YourColor)
	rec.reset()

	// P1 submits s1; P1 is the whole room.
	require.True(t, p.SubmitStroke("P1", "r1", op("s1")).OK())
	inbox = rec.inbox("P1")
	require.Len(t, inbox, 1)
	assert.Equal(t, EventOpApplied, inbox[0].Event)
	assert.Equal(t, "s1", inbox[0].Data.(OpApplied).Op.ID)
	room, _ := reg.Room("r1")
	require.Len(t, room.Snapshot(), 1)
	rec.reset()

	// P2 joins and sees s1.
	require.True(t, p.Join("P2", "r1", "Bob").OK())
	p2 := rec.inbox("P2")
	require.Len(t, p2, 1)
	init = p2[0].Data.(InitState)
	require.Len(t, init.History, 1)
	assert.Equal(t, "s1", init.History[0].ID)
	assert.Equal(t, []string{"P1", "P2"}, []string{init.Users[0].ID, init.Users[1].ID})
	assert.Equal(t, palette[1], init.YourColor)

	p1 := rec.inbox("P1")
	require.Len(t, p1, 1)
	assert.Equal(t, EventUserJoined, p1[0].Event)
	assert.Equal(t, rooms.Participant{ID: "P2", Name: "Bob", Color: palette[1]}, p1[0].Data)
	rec.reset()

	// P1 undoes.
	require.True(t, p.Undo("P1", "r1").OK())
	for _, id := range []string{"P1", "P2"} {
		msgs := rec.inbox(id)
		require.Len(t, msgs, 1, id)
		assert.Equal(t, EventOpRemoved, msgs[0].Event)
		assert.Equal(t, OpRemoved{OpID: "s1"}, msgs[0].Data)
	}
	assert.Empty(t, room.Snapshot())
	rec.reset()

	// P1 redoes.
	require.True(t, p.Redo("P1", "r1").OK())
	for _, id := range []string{"P1", "P2"} {
		msgs := rec.inbox(id)
		require.Len(t, msgs, 1, id)
		assert.Equal(t, EventOpApplied, msgs[0].Event)
		assert.Equal(t, "s1", msgs[0].Data.(OpApplied).Op.ID)
	}
	snap := room.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "s1", snap[0].ID)
}

func TestProtocol_JoinDefaults(t *testing.T) {
	p, reg, rec := setup(t)

	require.True(t, p.Join("s", "", "").OK())
	assert.True(t, reg.IsMember(DefaultRoom, "s"))

	init := rec.inbox("s")[0].Data.(InitState)
	assert.Equal(t, rooms.DefaultName, init.Users[0].Name)
}

func TestProtocol_CursorMove(t *testing.T) {
	p, _, rec := setup(t)
	p.Join("a", "r1", "")
	p.Join("b", "r1", "")
	rec.reset()

	require.True(t, p.CursorMove("a", "r1", 3, 4).OK())
	assert.Empty(t, rec.inbox("a"), "sender does not get its own cursor")
	msgs := rec.inbox("b")
	require.Len(t, msgs, 1)
	assert.Equal(t, EventCursorUpdate, msgs[0].Event)
	assert.Equal(t, CursorUpdate{SocketID: "a", X: 3, Y: 4}, msgs[0].Data)

	t.Run("outsider is ignored", func(t *testing.T) {
		rec.reset()
		res := p.CursorMove("stranger", "r1", 1, 1)
		assert.Equal(t, StatusIgnored, res.Status)
		assert.ErrorIs(t, res.Err, ErrNotJoined)
		assert.Empty(t, rec.sent)
	})
}

func TestProtocol_SubmitStroke(t *testing.T) {
	t.Run("missing room is ignored silently", func(t *testing.T) {
		p, reg, rec := setup(t)
		res := p.SubmitStroke("a", "nowhere", op("s1"))
		assert.Equal(t, StatusIgnored, res.Status)
		assert.ErrorIs(t, res.Err, ErrRoomNotFound)
		assert.Empty(t, rec.sent)
		assert.Equal(t, 0, reg.Len(), "strokes never create rooms")
	})

	t.Run("degenerate op is dropped", func(t *testing.T) {
		p, reg, rec := setup(t)
		p.Join("a", "r1", "")
		rec.reset()

		res := p.SubmitStroke("a", "r1", op("s1", state.Point{X: 1, Y: 1}))
		assert.Equal(t, StatusRejected, res.Status)
		assert.ErrorIs(t, res.Err, state.ErrDegenerateOperation)
		assert.Empty(t, rec.sent)
		room, _ := reg.Room("r1")
		assert.Empty(t, room.Snapshot())
	})

	t.Run("echo includes the sender and stamps blanks", func(t *testing.T) {
		p, _, rec := setup(t)
		p.Join("a", "r1", "")
		p.Join("b", "r1", "")
		rec.reset()

		blank := state.Operation{Points: []state.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}
		require.True(t, p.SubmitStroke("a", "r1", blank).OK())
		assert.Equal(t, []string{EventOpApplied}, rec.events("a"))
		assert.Equal(t, []string{EventOpApplied}, rec.events("b"))

		got := rec.inbox("b")[0].Data.(OpApplied).Op
		assert.NotEmpty(t, got.ID)
		assert.Equal(t, "a", got.AuthorID)
		assert.Equal(t, state.KindStroke, got.Kind)
		assert.Equal(t, int64(1700000000000), got.CreatedAt)
	})

	t.Run("non-member may submit to an existing room", func(t *testing.T) {
		p, _, rec := setup(t)
		p.Join("a", "r1", "")
		rec.reset()

		require.True(t, p.SubmitStroke("outsider", "r1", op("s1")).OK())
		assert.Equal(t, []string{EventOpApplied}, rec.events("a"))
		assert.Empty(t, rec.inbox("outsider"))
	})
}

func TestProtocol_StreamSegment(t *testing.T) {
	p, reg, rec := setup(t)
	p.Join("a", "r1", "")
	p.Join("b", "r1", "")
	rec.reset()

	seg := json.RawMessage(`{"from":{"x":0,"y":0},"to":{"x":1,"y":1},"tool":"brush","color":"#f00","width":3}`)
	require.True(t, p.StreamSegment("a", "r1", seg).OK())

	assert.Empty(t, rec.inbox("a"))
	msgs := rec.inbox("b")
	require.Len(t, msgs, 1)
	assert.Equal(t, EventStrokeSegment, msgs[0].Event)
	assert.Equal(t, SegmentRelay{Segment: seg, SocketID: "a"}, msgs[0].Data)

	room, _ := reg.Room("r1")
	assert.Empty(t, room.Snapshot(), "segments are never logged")

	res := p.StreamSegment("a", "r2", seg)
	assert.Equal(t, StatusIgnored, res.Status)
}

func TestProtocol_EmptyUndoRedo(t *testing.T) {
	p, _, rec := setup(t)
	p.Join("a", "r1", "")
	rec.reset()

	res := p.Undo("a", "r1")
	assert.Equal(t, StatusNotFound, res.Status)
	assert.ErrorIs(t, res.Err, ErrNothingToUndo)

	res = p.Redo("a", "r1")
	assert.Equal(t, StatusNotFound, res.Status)
	assert.ErrorIs(t, res.Err, ErrNothingToRedo)

	assert.Empty(t, rec.sent)

	t.Run("missing room", func(t *testing.T) {
		assert.Equal(t, StatusIgnored, p.Undo("a", "zz").Status)
		assert.Equal(t, StatusIgnored, p.Redo("a", "zz").Status)
		assert.Equal(t, StatusIgnored, p.ClearCanvas("a", "zz").Status)
		assert.Empty(t, rec.sent)
	})
}

func TestProtocol_RedoAfterNewStroke(t *testing.T) {
	p, _, rec := setup(t)
	p.Join("a", "r1", "")
	p.SubmitStroke("a", "r1", op("s1"))
	p.Undo("a", "r1")
	p.SubmitStroke("a", "r1", op("s2"))
	rec.reset()

	assert.Equal(t, StatusNotFound, p.Redo("a", "r1").Status)
	assert.Empty(t, rec.sent)
}

func TestProtocol_ClearCanvas(t *testing.T) {
	p, reg, rec := setup(t)
	p.Join("a", "r1", "")
	p.Join("b", "r1", "")
	p.SubmitStroke("a", "r1", op("s1"))
	p.SubmitStroke("b", "r1", op("s2"))
	p.Undo("a", "r1")
	rec.reset()

	require.True(t, p.ClearCanvas("b", "r1").OK())
	assert.Equal(t, []string{EventCanvasCleared}, rec.events("a"))
	assert.Equal(t, []string{EventCanvasCleared}, rec.events("b"))

	room, _ := reg.Room("r1")
	assert.Empty(t, room.Snapshot())
	assert.Equal(t, StatusNotFound, p.Redo("a", "r1").Status)
}

func TestProtocol_Disconnect(t *testing.T) {
	p, reg, rec := setup(t)
	p.Join("a", "r1", "")
	p.Join("a", "r2", "")
	p.Join("b", "r1", "")
	p.Join("c", "r2", "")
	rec.reset()

	assert.Equal(t, []string{"r1", "r2"}, p.Disconnect("a"))
	assert.Equal(t, []Message{{Event: EventUserLeft, Data: UserLeft{SocketID: "a"}}}, rec.inbox("b"))
	assert.Equal(t, []Message{{Event: EventUserLeft, Data: UserLeft{SocketID: "a"}}}, rec.inbox("c"))
	assert.Empty(t, rec.inbox("a"))
	assert.False(t, reg.IsMember("r1", "a"))

	rec.reset()
	assert.Empty(t, p.Disconnect("ghost"))
	assert.Empty(t, rec.sent)
}

func TestProtocol_BroadcastOrder(t *testing.T) {
	p, _, rec := setup(t)
	p.Join("a", "r1", "")
	p.Join("b", "r1", "")
	rec.reset()

	p.SubmitStroke("a", "r1", op("s1"))
	p.SubmitStroke("b", "r1", op("s2"))
	p.Undo("a", "r1")
	p.Redo("b", "r1")
	p.ClearCanvas("a", "r1")

	want := []string{EventOpApplied, EventOpApplied, EventOpRemoved, EventOpApplied, EventCanvasCleared}
	assert.Equal(t, want, rec.events("a"))
	assert.Equal(t, want, rec.events("b"))
}

func TestProtocol_Mirror(t *testing.T) {
	reg := rooms.NewRegistry(nil)
	mir := &mirrorRecorder{}
	p := New(reg, &recorder{}, WithMirror(mir))

	p.Join("a", "r1", "")
	p.CursorMove("a", "r1", 1, 1)
	p.SubmitStroke("a", "r1", op("s1"))
	p.StreamSegment("a", "r1", json.RawMessage(`{}`))
	p.Undo("a", "r1")
	p.ClearCanvas("a", "r1")
	p.Disconnect("a")

	var got []string
	for _, m := range mir.got {
		assert.Equal(t, "r1", m.room)
		got = append(got, m.msg.Event)
	}
	assert.Equal(t, []string{EventUserJoined, EventOpApplied, EventOpRemoved, EventCanvasCleared, EventUserLeft}, got)
}

func TestProtocol_Dispatch(t *testing.T) {
	ack := func(n int64) *int64 { return &n }

	t.Run("routes every event", func(t *testing.T) {
		p, reg, rec := setup(t)
		steps := []Envelope{
			{Event: EventJoinRoom, Data: json.RawMessage(`{"room":"r1","userName":"Ann"}`)},
			{Event: EventCursorMove, Data: json.RawMessage(`{"room":"r1","x":1,"y":2}`)},
			{Event: EventStroke, Data: json.RawMessage(`{"room":"r1","op":{"id":"s1","type":"stroke","points":[[0,0],[10,10]],"color":"#000","width":2}}`)},
			{Event: EventStrokeSegment, Data: json.RawMessage(`{"room":"r1","segment":{"from":{"x":0,"y":0}}}`)},
			{Event: EventGlobalUndo, Data: json.RawMessage(`{"room":"r1"}`)},
			{Event: EventGlobalRedo, Data: json.RawMessage(`{"room":"r1"}`)},
			{Event: EventClearCanvas, Data: json.RawMessage(`{"room":"r1"}`)},
		}
		for _, env := range steps {
			res := p.Dispatch("a", env)
			assert.True(t, res.OK(), "%s: %v", env.Event, res.Err)
		}
		assert.Equal(t,
			[]string{EventInitState, EventOpApplied, EventOpRemoved, EventOpApplied, EventCanvasCleared},
			rec.events("a"))
		assert.True(t, reg.IsMember("r1", "a"))
	})

	t.Run("join without data uses defaults", func(t *testing.T) {
		p, reg, _ := setup(t)
		assert.True(t, p.Dispatch("a", Envelope{Event: EventJoinRoom}).OK())
		assert.True(t, reg.IsMember(DefaultRoom, "a"))
	})

	t.Run("join acks ok", func(t *testing.T) {
		p, _, rec := setup(t)
		p.Dispatch("a", Envelope{Event: EventJoinRoom, Data: json.RawMessage(`{"room":"r1"}`), Ack: ack(7)})

		msgs := rec.inbox("a")
		require.Len(t, msgs, 2)
		assert.Equal(t, EventAck, msgs[1].Event)
		assert.Equal(t, int64(7), *msgs[1].Ack)
		assert.Equal(t, AckReply{OK: true, Status: StatusApplied}, msgs[1].Data)
	})

	t.Run("failures are explicit only when acked", func(t *testing.T) {
		p, _, rec := setup(t)
		p.Join("a", "r1", "")
		rec.reset()

		p.Dispatch("a", Envelope{Event: EventGlobalUndo, Data: json.RawMessage(`{"room":"r1"}`)})
		assert.Empty(t, rec.sent)

		p.Dispatch("a", Envelope{Event: EventGlobalUndo, Data: json.RawMessage(`{"room":"r1"}`), Ack: ack(1)})
		msgs := rec.inbox("a")
		require.Len(t, msgs, 1)
		assert.Equal(t, AckReply{OK: false, Status: StatusNotFound, Reason: ErrNothingToUndo.Error()}, msgs[0].Data)
	})

	t.Run("degenerate stroke gets a rejection reason", func(t *testing.T) {
		p, _, rec := setup(t)
		p.Join("a", "r1", "")
		rec.reset()

		res := p.Dispatch("a", Envelope{
			Event: EventStroke,
			Data:  json.RawMessage(`{"room":"r1","op":{"id":"s1","points":[[0,0]]}}`),
			Ack:   ack(2),
		})
		assert.ErrorIs(t, res.Err, state.ErrDegenerateOperation)
		msgs := rec.inbox("a")
		require.Len(t, msgs, 1)
		reply := msgs[0].Data.(AckReply)
		assert.False(t, reply.OK)
		assert.Equal(t, StatusRejected, reply.Status)
		assert.Contains(t, reply.Reason, "at least 2 points")
	})

	t.Run("malformed and unknown events", func(t *testing.T) {
		p, _, _ := setup(t)
		tests := []struct {
			env  Envelope
			want error
		}{
			{Envelope{Event: EventStroke, Data: json.RawMessage(`{"room":"r1"}`)}, ErrMalformedPayload},
			{Envelope{Event: EventStroke, Data: json.RawMessage(`not json`)}, ErrMalformedPayload},
			{Envelope{Event: EventGlobalUndo}, ErrMalformedPayload},
			{Envelope{Event: EventCursorMove, Data: json.RawMessage(`[]`)}, ErrMalformedPayload},
			{Envelope{Event: "draw"}, ErrUnknownEvent},
		}
		for _, tt := range tests {
			res := p.Dispatch("a", tt.env)
			assert.Equal(t, StatusRejected, res.Status, tt.env.Event)
			assert.ErrorIs(t, res.Err, tt.want, tt.env.Event)
		}
	})
}
