package anchor

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Rect is an element bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the visible area, zero for degenerate boxes.
func (r Rect) Area() float64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Distance returns the distance between the centers of two boxes.
func (r Rect) Distance(o Rect) float64 {
	ax, ay := r.Center()
	bx, by := o.Center()
	return math.Hypot(ax-bx, ay-by)
}

// Descriptor describes which element an action targets.
//
// Identity is structural: two descriptors are the same anchor only when they
// carry the same backend handle. The remaining fields are hints used when the
// handle has gone stale and the element must be found again.
type Descriptor struct {
	BackendNodeID int64   `json:"backend_node_id,omitempty"`
	Selector      string  `json:"selector,omitempty"`
	Role          string  `json:"role,omitempty"`
	Name          string  `json:"name,omitempty"`
	Text          string  `json:"text,omitempty"`
	Hint          *Rect   `json:"hint,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
}

// SameAs reports whether both descriptors point at the same backend handle.
func (d Descriptor) SameAs(o Descriptor) bool {
	return d.BackendNodeID != 0 && d.BackendNodeID == o.BackendNodeID
}

// HasHandle reports whether the descriptor carries a backend handle.
func (d Descriptor) HasHandle() bool {
	return d.BackendNodeID != 0
}

// Validate rejects descriptors that give resolution nothing to work with.
func (d Descriptor) Validate() error {
	if d.BackendNodeID < 0 {
		return fmt.Errorf("backend node id must be positive, got %d", d.BackendNodeID)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0,1], got %v", d.Confidence)
	}
	if d.BackendNodeID == 0 && d.Selector == "" && d.Role == "" && d.Name == "" && d.Text == "" {
		return errors.New("anchor needs a backend handle, selector, role, name or text")
	}
	return nil
}

// Key returns a stable cache key for the descriptor.
func (d Descriptor) Key() string {
	var b strings.Builder
	if d.BackendNodeID != 0 {
		fmt.Fprintf(&b, "b=%d", d.BackendNodeID)
	}
	for _, part := range []struct{ k, v string }{
		{"s", d.Selector}, {"r", d.Role}, {"n", d.Name}, {"t", d.Text},
	} {
		if part.v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(part.k)
		b.WriteByte('=')
		b.WriteString(part.v)
	}
	return b.String()
}

// String renders a short description safe for logs.
func (d Descriptor) String() string {
	switch {
	case d.BackendNodeID != 0 && d.Selector != "":
		return fmt.Sprintf("node#%d(%s)", d.BackendNodeID, d.Selector)
	case d.BackendNodeID != 0:
		return fmt.Sprintf("node#%d", d.BackendNodeID)
	case d.Selector != "":
		return d.Selector
	case d.Role != "":
		return fmt.Sprintf("[role=%s name=%q]", d.Role, d.Name)
	default:
		return fmt.Sprintf("[text=%q]", d.Text)
	}
}
