package state

// OperationLog is the ordered drawing history of one room plus the redo
// buffer filled by undo. Order is arrival order at the server, which is
// also render order.
//
// history and redo are disjoint: every operation lives in exactly one of
// them. OperationLog does no locking of its own; the owning room
// serializes access.
type OperationLog struct {
	history []Operation
	redo    []Operation // most recent removal last
	version uint64
}

// NewOperationLog returns an empty log.
func NewOperationLog() *OperationLog {
	return &OperationLog{
		history: make([]Operation, 0),
		redo:    make([]Operation, 0),
	}
}

// Append adds op at the tail and invalidates the redo buffer.
func (l *OperationLog) Append(op Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}
	l.history = append(l.history, op.Clone())
	clear(l.redo)
	l.redo = l.redo[:0]
	l.version++
	return nil
}

// Snapshot returns a deep copy of the history in order.
func (l *OperationLog) Snapshot() []Operation {
	out := make([]Operation, len(l.history))
	for i, op := range l.history {
		out[i] = op.Clone()
	}
	return out
}

// UndoLast moves the newest operation, whoever authored it, to the redo
// buffer. ok is false when the history is empty.
func (l *OperationLog) UndoLast() (op Operation, ok bool) {
	n := len(l.history)
	if n == 0 {
		return Operation{}, false
	}
	op = l.history[n-1]
	l.history[n-1] = Operation{}
	l.history = l.history[:n-1]
	l.redo = append(l.redo, op)
	l.version++
	return op.Clone(), true
}

// RedoLast re-appends the most recently undone operation at the tail of
// the history, not at its original position. ok is false when the redo
// buffer is empty.
func (l *OperationLog) RedoLast() (op Operation, ok bool) {
	n := len(l.redo)
	if n == 0 {
		return Operation{}, false
	}
	op = l.redo[n-1]
	l.redo[n-1] = Operation{}
	l.redo = l.redo[:n-1]
	l.history = append(l.history, op)
	l.version++
	return op.Clone(), true
}

// Clear drops the history and the redo buffer.
func (l *OperationLog) Clear() {
	l.history = make([]Operation, 0)
	l.redo = make([]Operation, 0)
	l.version++
}

func (l *OperationLog) Len() int     { return len(l.history) }
func (l *OperationLog) RedoLen() int { return len(l.redo) }

// Version counts effective mutations. It is for debugging only.
func (l *OperationLog) Version() uint64 { return l.version }
