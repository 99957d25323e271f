// Package mangle keeps action lifecycle facts in a Mangle deductive store
// and derives rule-level views such as healed and failed actions.
package mangle

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"browsernerd-actions/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

//go:embed actions.mg
var builtinSchema string

// ErrNotReady is returned when no program has been loaded.
var ErrNotReady = errors.New("engine not ready")

// Fact is one ground atom with the time it was recorded.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// Engine wraps the Mangle store with a bounded fact buffer. Base facts live
// in the buffer; the store is rebuilt from it whenever the buffer is trimmed
// so derived facts never outlive their premises.
type Engine struct {
	cfg    config.MangleConfig
	logger *zap.Logger

	mu          sync.RWMutex
	sources     []string
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
	facts       []Fact
	index       map[string][]int
}

// NewEngine creates an engine loaded with the built-in action schema and the
// optional schema file from cfg.
func NewEngine(cfg config.MangleConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "mangle")),
		facts:  make([]Fact, 0, max(cfg.FactBufferLimit, 0)),
		index:  make(map[string][]int),
		store:  factstore.NewSimpleInMemoryStore(),
	}
	if !cfg.Enable {
		return e, nil
	}

	if !cfg.DisableBuiltin {
		if err := e.AddRule(builtinSchema); err != nil {
			return nil, fmt.Errorf("builtin schema: %w", err)
		}
	}
	if cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// LoadSchema adds the rules in a schema file.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if err := e.AddRule(string(data)); err != nil {
		return fmt.Errorf("schema %s: %w", path, err)
	}
	return nil
}

// AddRule adds declarations and rules to the program. The whole program is
// re-analyzed so new rules may refer to everything loaded before.
func (e *Engine) AddRule(source string) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sources := append(append([]string{}, e.sources...), source)
	unit, err := parse.Unit(strings.NewReader(strings.Join(sources, "\n")))
	if err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze rule: %w", err)
	}

	e.sources = sources
	e.programInfo = info
	return e.rebuildStore()
}

// AddFacts records facts and re-evaluates the program.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable || len(facts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	baseIdx := len(e.facts)
	e.facts = append(e.facts, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		trim := len(e.facts) - e.cfg.FactBufferLimit
		e.facts = append(e.facts[:0], e.facts[trim:]...)
		e.rebuildIndex()
		return e.rebuildStore()
	}

	for i, f := range facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], baseIdx+i)
		e.store.Add(e.factToAtom(f))
	}
	return e.eval()
}

// rebuildStore replaces the store with the buffered base facts and evaluates.
func (e *Engine) rebuildStore() error {
	e.store = factstore.NewSimpleInMemoryStore()
	for _, f := range e.facts {
		e.store.Add(e.factToAtom(f))
	}
	return e.eval()
}

func (e *Engine) eval() error {
	if e.programInfo == nil {
		return nil
	}
	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		e.logger.Warn("program evaluation failed", zap.Error(err))
		return fmt.Errorf("eval program: %w", err)
	}
	return nil
}

// Query runs a single-atom query such as `failed_action(A, K).` and returns
// one binding per matching fact, derived facts included.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}

	unit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, errors.New("no query found")
	}
	queryAtom := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				result[v.Symbol] = convertConstant(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// Evaluate returns every fact currently known for predicate.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}

	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	query := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	now := time.Now()
	facts := make([]Fact, 0)
	err := e.store.GetFacts(query, func(atom ast.Atom) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		facts = append(facts, atomToFact(atom, now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return facts, nil
}

// QueryTemporal returns buffered facts of predicate recorded within (after, before).
// Zero bounds are open.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0)
	for _, idx := range e.index[predicate] {
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}
	return results
}

// FactsByPredicate returns the buffered base facts of predicate.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	return e.QueryTemporal(predicate, time.Time{}, time.Time{})
}

// Facts returns a copy of the buffered base facts.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// Ready reports whether a program is loaded.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Enable && e.programInfo != nil
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}

func (e *Engine) factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func atomToFact(atom ast.Atom, ts time.Time) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: ts}
}

// toConstant maps Go values onto Mangle constants. Booleans become the
// strings "true" and "false" so rules can match them literally.
func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	switch term := c.(type) {
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			val, _ := term.StringValue()
			return val
		case ast.NumberType:
			if val, err := term.NumberValue(); err == nil {
				return val
			}
		case ast.Float64Type:
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	case nil:
		return nil
	default:
		return fmt.Sprintf("%v", c)
	}
}
