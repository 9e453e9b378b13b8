// Package logic wraps a Prolog interpreter as the backward-chaining engine
// of a reasoning session. Each Engine owns a dedicated interpreter with no
// shared state; queries are serialized by an internal mutex and every
// solution's bindings are converted to JSON.
package logic

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ichiban/prolog"
	pengine "github.com/ichiban/prolog/engine"

	"reasond/internal/core"
)

// EvaluateFn is the callback bridge entry point. It receives the JSON text
// passed to evaluate/2 and returns the JSON result text.
type EvaluateFn func(input string) (string, error)

// Config controls a single logic engine.
type Config struct {
	// MaxSolutions caps how many solutions QueryAll collects.
	MaxSolutions int
	// HomeDir, when set, has every *.pl file under it consulted at startup.
	HomeDir string
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{MaxSolutions: 10000}
}

// Stats tracks cumulative engine activity.
type Stats struct {
	Queries  int64
	Asserted int64
}

// Engine is one session's Prolog interpreter.
type Engine struct {
	mu       sync.Mutex
	interp   *prolog.Interpreter
	cfg      Config
	evaluate EvaluateFn
	captured []map[string]any
	stats    Stats
}

// New builds an engine, registers the evaluate/2 bridge predicate and
// consults the home directory when configured.
func New(cfg Config) (*Engine, error) {
	if cfg.MaxSolutions <= 0 {
		cfg.MaxSolutions = DefaultConfig().MaxSolutions
	}
	e := &Engine{
		interp: prolog.New(nil, nil),
		cfg:    cfg,
	}

	e.interp.Register1(pengine.NewAtom("$solution"), func(_ *pengine.VM, t pengine.Term, k pengine.Cont, env *pengine.Env) *pengine.Promise {
		e.captured = append(e.captured, bindingsJSON(t, env))
		return k(env)
	})

	e.interp.Register2(pengine.NewAtom("evaluate"), func(vm *pengine.VM, in, out pengine.Term, k pengine.Cont, env *pengine.Env) *pengine.Promise {
		text, ok := textOfTerm(in, env)
		if !ok {
			return pengine.Error(core.NewError(core.KindEngineError, "evaluate/2: input must be an atom or string"))
		}
		if e.evaluate == nil {
			return pengine.Error(core.NewError(core.KindEngineError, "evaluate/2: no callback bridge registered"))
		}
		result, err := e.evaluate(text)
		if err != nil {
			return pengine.Error(core.WrapError(core.KindToolError, err, "evaluate/2: %v", err))
		}
		return pengine.Unify(vm, out, pengine.NewAtom(result), k, env)
	})

	if cfg.HomeDir != "" {
		if err := e.consultDir(cfg.HomeDir); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// SetEvaluate installs the callback bridge for evaluate/2.
func (e *Engine) SetEvaluate(fn EvaluateFn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluate = fn
}

// bindingsJSON folds a ['Name'-Value, ...] pair list into one JSON object.
func bindingsJSON(t pengine.Term, env *pengine.Env) map[string]any {
	out := map[string]any{}
	pairs, _ := listSlice(t, env)
	for _, pair := range pairs {
		c, ok := env.Resolve(pair).(pengine.Compound)
		if !ok || c.Functor() != atomDash || c.Arity() != 2 {
			continue
		}
		name, ok := env.Resolve(c.Arg(0)).(pengine.Atom)
		if !ok {
			continue
		}
		out[atomText(name)] = termToJSON(c.Arg(1), env)
	}
	return out
}

func wrapGoal(goal string) string {
	vars := goalVariables(goal)
	pairs := make([]string, len(vars))
	for i, v := range vars {
		pairs[i] = "'" + v + "'-" + v
	}
	return "(" + goal + "), '$solution'([" + strings.Join(pairs, ",") + "])."
}

// QueryAll runs the goal to exhaustion and returns one bindings object per
// solution, capped at MaxSolutions. Context cancellation is honored between
// solutions.
func (e *Engine) QueryAll(ctx context.Context, goal string) ([]map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	goal = normalizeGoal(goal)
	if goal == "" {
		return nil, core.NewError(core.KindValidation, "goal must not be empty")
	}
	if e.interp == nil {
		return nil, core.NewError(core.KindEngineError, "engine closed")
	}
	e.stats.Queries++
	e.captured = nil

	sols, err := e.interp.Query(wrapGoal(goal))
	if err != nil {
		return nil, core.WrapError(core.KindSyntaxError, err, "invalid goal: %v", err)
	}
	defer sols.Close()

	for sols.Next() {
		if err := ctx.Err(); err != nil {
			return nil, core.WrapError(core.KindEvalTimeout, err, "query canceled after %d solutions", len(e.captured))
		}
		if len(e.captured) >= e.cfg.MaxSolutions {
			break
		}
	}
	if err := sols.Err(); err != nil {
		return nil, core.WrapError(core.KindEngineError, err, "query raised exception: %v", err)
	}
	out := make([]map[string]any, len(e.captured))
	copy(out, e.captured)
	e.captured = nil
	return out, nil
}

// QueryFirst runs the goal and returns the first solution's bindings. A
// goal that fails without raising maps to a no-solution error.
func (e *Engine) QueryFirst(ctx context.Context, goal string) (map[string]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	goal = normalizeGoal(goal)
	if goal == "" {
		return nil, core.NewError(core.KindValidation, "goal must not be empty")
	}
	if e.interp == nil {
		return nil, core.NewError(core.KindEngineError, "engine closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, core.WrapError(core.KindEvalTimeout, err, "query canceled")
	}
	e.stats.Queries++
	e.captured = nil

	sols, err := e.interp.Query(wrapGoal(goal))
	if err != nil {
		return nil, core.WrapError(core.KindSyntaxError, err, "invalid goal: %v", err)
	}
	defer sols.Close()

	if !sols.Next() {
		if err := sols.Err(); err != nil {
			return nil, core.WrapError(core.KindEngineError, err, "query raised exception: %v", err)
		}
		return nil, core.NewError(core.KindNoSolution, "no solution").WithDetails("%s", goal)
	}
	if len(e.captured) == 0 {
		return map[string]any{}, nil
	}
	first := e.captured[0]
	e.captured = nil
	return first, nil
}

// runOnce proves a single management goal such as assertz((...)).
func (e *Engine) runOnce(goal string) error {
	if e.interp == nil {
		return core.NewError(core.KindEngineError, "engine closed")
	}
	sols, err := e.interp.Query(goal + ".")
	if err != nil {
		return core.WrapError(core.KindSyntaxError, err, "invalid clause: %v", err)
	}
	defer sols.Close()
	if !sols.Next() {
		if err := sols.Err(); err != nil {
			return core.WrapError(core.KindEngineError, err, "goal raised exception: %v", err)
		}
		return core.NewError(core.KindNoSolution, "goal failed").WithDetails("%s", goal)
	}
	return nil
}

// Assertz appends a clause to the database.
func (e *Engine) Assertz(clause string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	clause = normalizeGoal(clause)
	if clause == "" {
		return core.NewError(core.KindValidation, "clause must not be empty")
	}
	if err := e.runOnce("assertz((" + clause + "))"); err != nil {
		return err
	}
	e.stats.Asserted++
	return nil
}

// Asserta prepends a clause to the database.
func (e *Engine) Asserta(clause string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	clause = normalizeGoal(clause)
	if clause == "" {
		return core.NewError(core.KindValidation, "clause must not be empty")
	}
	if err := e.runOnce("asserta((" + clause + "))"); err != nil {
		return err
	}
	e.stats.Asserted++
	return nil
}

// Retract removes the first clause matching the argument. Failure to match
// maps to a no-solution error.
func (e *Engine) Retract(clause string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	clause = normalizeGoal(clause)
	if clause == "" {
		return core.NewError(core.KindValidation, "clause must not be empty")
	}
	return e.runOnce("retract((" + clause + "))")
}

// RetractAll removes every clause whose head matches the argument.
func (e *Engine) RetractAll(head string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	head = normalizeGoal(head)
	if head == "" {
		return core.NewError(core.KindValidation, "head must not be empty")
	}
	return e.runOnce("retractall(" + head + ")")
}

// ConsultClauses loads each clause through assertz so that later retract
// and retractall calls can modify it. Directives are run as goals.
func (e *Engine) ConsultClauses(clauses []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.interp == nil {
		return core.NewError(core.KindEngineError, "engine closed")
	}
	for _, clause := range clauses {
		clause = normalizeGoal(clause)
		if clause == "" {
			return core.NewError(core.KindValidation, "clause must not be empty")
		}
		if rest, ok := strings.CutPrefix(clause, ":-"); ok {
			if err := e.runOnce(strings.TrimSpace(rest)); err != nil {
				return err
			}
			continue
		}
		if err := e.runOnce("assertz((" + clause + "))"); err != nil {
			return err
		}
		e.stats.Asserted++
	}
	return nil
}

// ConsultText loads clauses and directives from source text.
func (e *Engine) ConsultText(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return core.NewError(core.KindValidation, "clauses must not be empty")
	}
	if e.interp == nil {
		return core.NewError(core.KindEngineError, "engine closed")
	}
	if err := e.interp.Exec(text); err != nil {
		return core.WrapError(core.KindSyntaxError, err, "consult failed: %v", err)
	}
	return nil
}

// ConsultFile loads a Prolog source file.
func (e *Engine) ConsultFile(path string) error {
	if strings.ContainsRune(path, 0) {
		return core.NewError(core.KindInvalidFilePath, "path contains a NUL byte")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return core.WrapError(core.KindInvalidFilePath, err, "cannot read %s", path)
	}
	return e.ConsultText(string(data))
}

func (e *Engine) consultDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.pl"))
	if err != nil {
		return core.WrapError(core.KindInvalidFilePath, err, "bad home dir %s", dir)
	}
	sort.Strings(files)
	for _, f := range files {
		if err := e.ConsultFile(f); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns cumulative counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Close releases the interpreter.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interp = nil
}
