// Package selection turns overlay pointer events into a capture rectangle.
//
// The page-side overlay forwards raw events (CSS pixels plus the
// device-pixel ratio); Tracker holds the drag state and decides whether
// the drag produced a rectangle.
package selection

import (
	"math"
	"sync"

	"github.com/hazyhaar/shotkit/pageshot/shot"
)

// MinSize is the smallest accepted width or height, in CSS pixels, checked
// before device-pixel scaling. The threshold follows what the user drew, so
// at a device-pixel ratio below 1 an accepted selection can be under 5
// device pixels; at ratio 1 or more it never is.
const MinSize = 5

// EventType is the overlay event kind.
type EventType string

const (
	EventDown   EventType = "down"
	EventMove   EventType = "move"
	EventUp     EventType = "up"
	EventCancel EventType = "cancel"
)

// Event is one overlay message.
type Event struct {
	Type EventType `json:"type"`
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	DPR  float64   `json:"dpr"`
}

// Outcome is what a Feed produced.
type Outcome int

const (
	None Outcome = iota
	Completed
	Discarded
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Discarded:
		return "discarded"
	case Cancelled:
		return "cancelled"
	}
	return "none"
}

// Tracker is the state of one overlay. It is finished after the first
// Completed, Discarded or Cancelled outcome and ignores later events.
type Tracker struct {
	mu       sync.Mutex
	dragging bool
	done     bool
	startX   float64
	startY   float64
	curX     float64
	curY     float64
}

// Feed applies ev. When the outcome is Completed, rect holds the selection
// scaled to device pixels.
func (t *Tracker) Feed(ev Event) (shot.Rect, Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return shot.Rect{}, None
	}
	switch ev.Type {
	case EventCancel:
		t.done = true
		return shot.Rect{}, Cancelled
	case EventDown:
		t.dragging = true
		t.startX, t.startY = ev.X, ev.Y
		t.curX, t.curY = ev.X, ev.Y
	case EventMove:
		if t.dragging {
			t.curX, t.curY = ev.X, ev.Y
		}
	case EventUp:
		if !t.dragging {
			return shot.Rect{}, None
		}
		t.curX, t.curY = ev.X, ev.Y
		t.dragging = false
		t.done = true
		css := Normalize(t.startX, t.startY, t.curX, t.curY)
		if css.W < MinSize || css.H < MinSize {
			return shot.Rect{}, Discarded
		}
		return css.Scale(ev.DPR), Completed
	}
	return shot.Rect{}, None
}

// Done reports whether the overlay reached a final outcome.
func (t *Tracker) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// CSSRect is a selection in CSS pixels, before scaling.
type CSSRect struct {
	X, Y, W, H float64
}

// Normalize builds the rectangle spanned by two corners in any drag
// direction.
func Normalize(x1, y1, x2, y2 float64) CSSRect {
	return CSSRect{
		X: math.Min(x1, x2),
		Y: math.Min(y1, y2),
		W: math.Abs(x2 - x1),
		H: math.Abs(y2 - y1),
	}
}

// Scale converts to device pixels. A non-positive ratio counts as 1.
func (r CSSRect) Scale(dpr float64) shot.Rect {
	if dpr <= 0 {
		dpr = 1
	}
	return shot.Rect{
		X:      int(math.Round(r.X * dpr)),
		Y:      int(math.Round(r.Y * dpr)),
		Width:  int(math.Round(r.W * dpr)),
		Height: int(math.Round(r.H * dpr)),
	}
}
