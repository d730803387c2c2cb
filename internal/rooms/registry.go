package rooms

import (
	"sort"
	"sync"

	"CollabBoard/internal/state"
)

// DefaultPalette is the round-robin color pool for participants.
var DefaultPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
}

// DefaultName is used for participants that join without a display name.
const DefaultName = "Anonymous"

// Participant is one session registered in a room.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Room owns one operation log and one participant set. A single mutex
// guards both so that a log mutation and the membership it is broadcast
// to are observed together.
type Room struct {
	id string

	mu           sync.Mutex
	log          *state.OperationLog
	participants []Participant
	index        map[string]int // session id -> position in participants
}

func newRoom(id string) *Room {
	return &Room{
		id:           id,
		log:          state.NewOperationLog(),
		participants: make([]Participant, 0),
		index:        make(map[string]int),
	}
}

// ID returns the room name.
func (r *Room) ID() string { return r.id }

// Append submits op to the room log.
func (r *Room) Append(op state.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Append(op)
}

// Snapshot returns a copy of the room history.
func (r *Room) Snapshot() []state.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.Snapshot()
}

// Undo removes the newest operation from the history.
func (r *Room) Undo() (state.Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.UndoLast()
}

// Redo restores the most recently undone operation.
func (r *Room) Redo() (state.Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log.RedoLast()
}

// Clear empties the history and redo buffer.
func (r *Room) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log.Clear()
}

// Participants returns the members in join order.
func (r *Room) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

// Has reports whether sessionID is registered in the room.
func (r *Room) Has(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[sessionID]
	return ok
}

func (r *Room) add(sessionID, name string, palette []string) Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := Participant{
		ID:    sessionID,
		Name:  name,
		Color: palette[len(r.participants)%len(palette)],
	}
	if i, ok := r.index[sessionID]; ok {
		// Re-join keeps its slot.
		r.participants[i] = p
		return p
	}
	r.index[sessionID] = len(r.participants)
	r.participants = append(r.participants, p)
	return p
}

func (r *Room) remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[sessionID]
	if !ok {
		return false
	}
	r.participants = append(r.participants[:i], r.participants[i+1:]...)
	delete(r.index, sessionID)
	for j := i; j < len(r.participants); j++ {
		r.index[r.participants[j].ID] = j
	}
	return true
}

// Summary is a point-in-time view of a room for diagnostics.
type Summary struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
	Operations   int    `json:"operations"`
	Redoable     int    `json:"redoable"`
	Version      uint64 `json:"version"`
}

func (r *Room) summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Summary{
		ID:           r.id,
		Participants: len(r.participants),
		Operations:   r.log.Len(),
		Redoable:     r.log.RedoLen(),
		Version:      r.log.Version(),
	}
}

// Registry maps room names to rooms. Rooms are created lazily and live
// until Close.
type Registry struct {
	palette []string

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty registry. An empty palette falls back to
// DefaultPalette.
func NewRegistry(palette []string) *Registry {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	p := make([]string, len(palette))
	copy(p, palette)
	return &Registry{
		palette: p,
		rooms:   make(map[string]*Room),
	}
}

// Palette returns the colors used for assignment.
func (reg *Registry) Palette() []string {
	out := make([]string, len(reg.palette))
	copy(out, reg.palette)
	return out
}

// EnsureRoom returns the room, creating it when absent.
func (reg *Registry) EnsureRoom(roomID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		reg.rooms[roomID] = r
	}
	return r
}

// Room looks a room up without creating it.
func (reg *Registry) Room(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// AddParticipant registers sessionID in roomID and returns the color it
// was assigned: palette[current room size % palette size].
func (reg *Registry) AddParticipant(roomID, sessionID, displayName string) string {
	if displayName == "" {
		displayName = DefaultName
	}
	return reg.EnsureRoom(roomID).add(sessionID, displayName, reg.palette).Color
}

// Participant returns sessionID's entry in roomID.
func (reg *Registry) Participant(roomID, sessionID string) (Participant, bool) {
	r, ok := reg.Room(roomID)
	if !ok {
		return Participant{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[sessionID]
	if !ok {
		return Participant{}, false
	}
	return r.participants[i], true
}

// ListParticipants returns the room's members in join order, or an empty
// slice for an unknown room.
func (reg *Registry) ListParticipants(roomID string) []Participant {
	r, ok := reg.Room(roomID)
	if !ok {
		return []Participant{}
	}
	return r.Participants()
}

// IsMember reports whether sessionID is registered in roomID.
func (reg *Registry) IsMember(roomID, sessionID string) bool {
	r, ok := reg.Room(roomID)
	return ok && r.Has(sessionID)
}

// RemoveParticipant drops sessionID from every room it is in and returns
// those room ids, sorted.
func (reg *Registry) RemoveParticipant(sessionID string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	left := make([]string, 0)
	for id, r := range reg.rooms {
		if r.remove(sessionID) {
			left = append(left, id)
		}
	}
	sort.Strings(left)
	return left
}

// Rooms returns a summary of every room, sorted by id.
func (reg *Registry) Rooms() []Summary {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]Summary, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of rooms.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Close drops every room. The registry is empty but usable afterwards.
func (reg *Registry) Close() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.rooms = make(map[string]*Room)
}
