package locator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a session heals faster than allowed.
var ErrRateLimited = errors.New("heal rate limited")

// StrategyCache marks outcomes served from the resolution cache.
const StrategyCache = "cache"

// Config tunes resolution.
type Config struct {
	// MinConfidence must be exceeded by the best candidate's total.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
	MaxCandidates int     `yaml:"max_candidates" json:"max_candidates"`
	Weights       Weights `yaml:"weights" json:"weights"`
	// HealRatePerSec limits heals per session; zero disables the limit.
	HealRatePerSec float64 `yaml:"heal_rate_per_sec" json:"heal_rate_per_sec"`
	HealBurst      int     `yaml:"heal_burst" json:"heal_burst"`
}

// DefaultConfig returns the default resolution settings.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.5,
		MaxCandidates: 10,
		Weights:       DefaultWeights(),
		HealBurst:     1,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence %.2f outside [0,1]", c.MinConfidence)
	}
	if c.MaxCandidates <= 0 {
		return errors.New("max_candidates must be positive")
	}
	if c.HealRatePerSec < 0 {
		return errors.New("heal_rate_per_sec must not be negative")
	}
	w := c.Weights
	for _, v := range []float64{w.Seed, w.Backend, w.Geometry, w.Accessibility, w.Text, w.Fuzzy} {
		if v < 0 {
			return errors.New("weights must not be negative")
		}
	}
	return nil
}

// Resolver implements action.Locator on top of a Document.
type Resolver struct {
	doc    Document
	cfg    Config
	cache  Cache
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache remembers successful resolutions in c.
func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a resolver. Zero config fields take their defaults.
func NewResolver(doc Document, cfg Config, opts ...Option) *Resolver {
	def := DefaultConfig()
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.HealBurst <= 0 {
		cfg.HealBurst = def.HealBurst
	}
	r := &Resolver{
		doc:      doc,
		cfg:      cfg,
		logger:   zap.NewNop(),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "locator"))
	return r
}

// TryOnce runs one resolution for primary. A zero outcome with a nil error
// means no candidate exceeded the confidence threshold.
func (r *Resolver) TryOnce(ctx context.Context, route action.Route, primary anchor.Descriptor, reason string) (action.HealOutcome, error) {
	if !r.allow(route.SessionID) {
		r.logger.Info("heal denied by rate limit", zap.String("session_id", route.SessionID))
		return action.HealOutcome{}, ErrRateLimited
	}

	key := cacheKey(route.SessionID, primary)
	if out, ok := r.fromCache(ctx, route, key); ok {
		return out, nil
	}

	f := &finder{doc: r.doc, route: route, limit: r.cfg.MaxCandidates, logger: r.logger}
	found, err := f.run(ctx, primary)
	if err != nil {
		return action.HealOutcome{}, err
	}

	best, ok := r.pick(primary, found)
	if !ok {
		r.logger.Debug("no healing candidate",
			zap.String("reason", reason),
			zap.Stringer("anchor", primary),
			zap.Int("candidates", len(found)))
		return action.HealOutcome{}, nil
	}

	used := toDescriptor(primary, best)
	out := action.HealOutcome{UsedAnchor: &used, Score: best.score, Strategy: best.strategy}
	if r.cache != nil {
		if err := r.cache.Set(ctx, key, Entry{Anchor: used, Score: best.score, Strategy: best.strategy}); err != nil {
			r.logger.Warn("cache write failed", zap.Error(err))
		}
	}
	r.logger.Debug("resolved replacement",
		zap.String("reason", reason),
		zap.String("strategy", best.strategy),
		zap.Float64("score", best.score.Total),
		zap.Stringer("anchor", used))
	return out, nil
}

// pick scores and ranks the usable candidates and applies the threshold.
// Hidden or shapeless elements cannot take an action and are skipped.
func (r *Resolver) pick(primary anchor.Descriptor, found []candidate) (scored, bool) {
	items := make([]scored, 0, len(found))
	for _, c := range found {
		if !c.el.Visible || c.el.Box.Area() <= 0 {
			continue
		}
		items = append(items, scored{candidate: c, score: score(r.cfg.Weights, primary, c)})
	}
	if len(items) == 0 {
		return scored{}, false
	}
	rank(items)
	if len(items) > r.cfg.MaxCandidates {
		items = items[:r.cfg.MaxCandidates]
	}
	if items[0].score.Total <= r.cfg.MinConfidence {
		return scored{}, false
	}
	return items[0], true
}

// fromCache returns a cached resolution whose node is still present.
func (r *Resolver) fromCache(ctx context.Context, route action.Route, key string) (action.HealOutcome, bool) {
	if r.cache == nil {
		return action.HealOutcome{}, false
	}
	e, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("cache read failed", zap.Error(err))
		return action.HealOutcome{}, false
	}
	if !ok || !e.Anchor.HasHandle() {
		return action.HealOutcome{}, false
	}
	els, err := r.doc.Find(ctx, route, Query{Kind: QueryBackend, BackendNodeID: e.Anchor.BackendNodeID, Limit: 1})
	if err != nil || len(els) == 0 || !els[0].Visible {
		if derr := r.cache.Delete(ctx, key); derr != nil {
			r.logger.Warn("cache delete failed", zap.Error(derr))
		}
		return action.HealOutcome{}, false
	}
	used := e.Anchor
	return action.HealOutcome{UsedAnchor: &used, Score: e.Score, Strategy: StrategyCache}, true
}

func (r *Resolver) allow(sessionID string) bool {
	if r.cfg.HealRatePerSec <= 0 {
		return true
	}
	r.mu.Lock()
	lim, ok := r.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(r.cfg.HealRatePerSec), r.cfg.HealBurst)
		r.limiters[sessionID] = lim
	}
	r.mu.Unlock()
	return lim.AllowN(time.Now(), 1)
}

// Forget drops per-session state, such as when a session closes.
func (r *Resolver) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.limiters, sessionID)
	r.mu.Unlock()
}

func toDescriptor(primary anchor.Descriptor, best scored) anchor.Descriptor {
	el := best.el
	d := anchor.Descriptor{
		BackendNodeID: el.BackendNodeID,
		Selector:      el.Selector,
		Role:          el.Role,
		Name:          el.Name,
		Text:          el.Text,
		Confidence:    best.score.Total,
	}
	if d.Selector == "" && best.strategy == StrategySelector {
		d.Selector = primary.Selector
	}
	if el.Box.Area() > 0 {
		box := el.Box
		d.Hint = &box
	}
	return d
}

var _ action.Locator = (*Resolver)(nil)
