// Package tempo plans human-like delays around actions.
package tempo

import (
	"context"
	"math/rand"
	"sync"
	"time"
	"unicode/utf8"

	"browsernerd-actions/internal/anchor"
)

// Request describes the action a plan is prepared for.
type Request struct {
	SessionID string
	Op        string
	Mode      string
	Text      string
	Target    anchor.Descriptor
}

// Plan is the delay schedule for one action. PerChar has one entry per rune
// of the typed text when the mode paces characters, otherwise it is empty.
type Plan struct {
	Pre     time.Duration   `json:"pre"`
	Post    time.Duration   `json:"post"`
	PerChar []time.Duration `json:"per_char,omitempty"`
}

// Total is the latency the plan adds.
func (p Plan) Total() time.Duration {
	total := p.Pre + p.Post
	for _, d := range p.PerChar {
		total += d
	}
	return total
}

// Truncate scales the plan down so its total fits in budget. Delays are only
// ever shortened and PerChar keeps its length.
func (p Plan) Truncate(budget time.Duration) Plan {
	total := p.Total()
	if total <= budget {
		return p
	}
	out := Plan{PerChar: make([]time.Duration, len(p.PerChar))}
	if budget <= 0 || total <= 0 {
		return out
	}
	factor := float64(budget) / float64(total)
	scale := func(d time.Duration) time.Duration { return time.Duration(float64(d) * factor) }
	out.Pre = scale(p.Pre)
	out.Post = scale(p.Post)
	for i, d := range p.PerChar {
		out.PerChar[i] = scale(d)
	}
	return out
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Noop adds no latency.
type Noop struct{}

// Prepare returns an all-zero plan.
func (Noop) Prepare(req Request) Plan {
	if req.Mode == "natural" {
		return Plan{PerChar: make([]time.Duration, utf8.RuneCountInString(req.Text))}
	}
	return Plan{}
}

// Apply returns immediately.
func (Noop) Apply(ctx context.Context, d time.Duration) error {
	return nil
}

// HumanConfig tunes the human pacing planner.
type HumanConfig struct {
	// CharDelay is the base per-character delay. Defaults to 80ms.
	CharDelay time.Duration
	// Fast halves the base delay.
	Fast bool
	// Seed fixes the random source; zero seeds from the clock.
	Seed int64
}

// Human produces jittered delays that resemble a person at the keyboard.
type Human struct {
	mu   sync.Mutex
	rng  *rand.Rand
	base time.Duration
}

// NewHuman creates a human pacing planner.
func NewHuman(cfg HumanConfig) *Human {
	base := cfg.CharDelay
	if base <= 0 {
		base = 80 * time.Millisecond
	}
	if cfg.Fast {
		base /= 2
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Human{rng: rand.New(rand.NewSource(seed)), base: base}
}

// Prepare draws a plan for req.
func (h *Human) Prepare(req Request) Plan {
	h.mu.Lock()
	defer h.mu.Unlock()

	plan := Plan{
		Pre:  h.between(50*time.Millisecond, 200*time.Millisecond),
		Post: h.between(30*time.Millisecond, 120*time.Millisecond),
	}
	if req.Mode != "natural" {
		return plan
	}

	var prev rune
	for i, ch := range []rune(req.Text) {
		d := h.base + time.Duration(h.rng.Int63n(int64(h.base/2)+1))
		if h.rng.Float64() < 0.05 {
			d += time.Duration(h.rng.Int63n(int64(500 * time.Millisecond)))
		}
		if i > 0 && ch == prev {
			d /= 2
		}
		plan.PerChar = append(plan.PerChar, d)
		prev = ch
	}
	return plan
}

// Apply sleeps for d unless ctx ends first.
func (h *Human) Apply(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (h *Human) between(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(h.rng.Int63n(int64(hi-lo)+1))
}
