package state

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Point is one planar coordinate of a stroke.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UnmarshalJSON accepts both {"x":1,"y":2} and [1,2].
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("point must have 2 coordinates, got %d", len(pair))
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}

	var obj struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid point: %w", err)
	}
	p.X, p.Y = obj.X, obj.Y
	return nil
}

// Kind tells renderers how to composite an operation. Both kinds sit in
// the log the same way.
type Kind string

const (
	KindStroke Kind = "stroke"
	KindErase  Kind = "erase"
)

var (
	// ErrDegenerateOperation is returned for operations with fewer than two points.
	ErrDegenerateOperation = errors.New("operation needs at least 2 points")
	// ErrUnknownKind is returned for kinds other than stroke or erase.
	ErrUnknownKind = errors.New("unknown operation kind")
)

// Operation is one completed stroke or erase. It is never mutated after
// it has been handed to an OperationLog.
type Operation struct {
	ID        string  `json:"id"`
	AuthorID  string  `json:"userId"`
	Kind      Kind    `json:"type"`
	Points    []Point `json:"points"`
	Color     string  `json:"color"`
	Width     float64 `json:"width"`
	CreatedAt int64   `json:"timestamp"` // unix millis, display only
}

// Validate reports whether the operation may enter a log.
func (op Operation) Validate() error {
	if len(op.Points) < 2 {
		return fmt.Errorf("%w (got %d)", ErrDegenerateOperation, len(op.Points))
	}
	switch op.Kind {
	case KindStroke, KindErase:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, op.Kind)
	}
	return nil
}

// Clone returns a copy that shares no memory with op.
func (op Operation) Clone() Operation {
	c := op
	if op.Points != nil {
		c.Points = make([]Point, len(op.Points))
		copy(c.Points, op.Points)
	}
	return c
}

// Rect is an axis-aligned bounding box.
type Rect struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

func (r Rect) Width() float64  { return r.MaxX - r.MinX }
func (r Rect) Height() float64 { return r.MaxY - r.MinY }

// Bounds returns the bounding box of every point in ops. ok is false when
// there are no points at all.
func Bounds(ops []Operation) (r Rect, ok bool) {
	for _, op := range ops {
		for _, pt := range op.Points {
			if !ok {
				r = Rect{MinX: pt.X, MinY: pt.Y, MaxX: pt.X, MaxY: pt.Y}
				ok = true
				continue
			}
			if pt.X < r.MinX {
				r.MinX = pt.X
			}
			if pt.X > r.MaxX {
				r.MaxX = pt.X
			}
			if pt.Y < r.MinY {
				r.MinY = pt.Y
			}
			if pt.Y > r.MaxY {
				r.MaxY = pt.Y
			}
		}
	}
	return r, ok
}
