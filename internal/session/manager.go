package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"reasond/internal/core"
	"reasond/internal/logic"
	"reasond/internal/production"
	"reasond/internal/subprocess"
	"reasond/internal/toolbox"
)

// Rule engine backend selection.
const (
	ModeEmbedded   = "embedded"
	ModeSubprocess = "subprocess"
)

// Config bounds the manager.
type Config struct {
	MaxSessions      int
	MaxPerPrincipal  int
	MaxQueueDepth    int32
	MaxInflightEvals int64
	DefaultTimeoutMs int
	TTL              time.Duration

	// DefaultLimits is the per-session budget applied when a create request
	// carries no config block. Zero means core.DefaultLimits.
	DefaultLimits core.ResourceLimits

	RuleMode     string
	RuleDenyList []string
	LogicHomeDir string
	MaxSolutions int
	Subprocess   subprocess.Config
}

// DefaultConfig returns the standard admission and engine settings.
func DefaultConfig() Config {
	return Config{
		MaxSessions:      100,
		MaxPerPrincipal:  10,
		MaxQueueDepth:    10,
		MaxInflightEvals: 16,
		DefaultTimeoutMs: core.DefaultEvalTimeoutMs,
		TTL:              time.Hour,
		RuleMode:         ModeEmbedded,
		RuleDenyList:     production.DefaultConfig().DenyList,
	}
}

// cell holds a session's engine and its serialization lock.
type cell struct {
	mu      sync.Mutex
	waiting atomic.Int32
	rule    *production.Engine
	logic   *logic.Engine
}

// Manager owns every session in the process.
type Manager struct {
	cfg      Config
	store    *Store
	logger   *zap.Logger
	tools    *toolbox.Manager
	pool     *subprocess.Pool
	inflight *semaphore.Weighted
	started  time.Time

	evalsTotal  atomic.Int64
	evalsFailed atomic.Int64

	mu    sync.Mutex
	cells map[string]*cell
}

// NewManager builds a manager. tools provides the callback bridge engines
// call through; logger must not be nil.
func NewManager(cfg Config, tools *toolbox.Manager, logger *zap.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 100
	}
	if cfg.MaxPerPrincipal <= 0 {
		cfg.MaxPerPrincipal = 10
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = 10
	}
	if cfg.MaxInflightEvals <= 0 {
		cfg.MaxInflightEvals = 16
	}
	if cfg.DefaultTimeoutMs <= 0 {
		cfg.DefaultTimeoutMs = core.DefaultEvalTimeoutMs
	}
	if cfg.RuleMode == "" {
		cfg.RuleMode = ModeEmbedded
	}
	if cfg.DefaultLimits == (core.ResourceLimits{}) {
		cfg.DefaultLimits = core.DefaultLimits()
	}
	m := &Manager{
		cfg:      cfg,
		store:    NewStore(),
		logger:   logger,
		tools:    tools,
		inflight: semaphore.NewWeighted(cfg.MaxInflightEvals),
		started:  time.Now(),
		cells:    make(map[string]*cell),
	}
	if cfg.RuleMode == ModeSubprocess {
		m.pool = subprocess.NewPool(cfg.Subprocess)
	}
	return m
}

// bridge adapts the toolbox to the engines' evaluate hook.
func (m *Manager) bridge(input string) (string, error) {
	return m.tools.Evaluate(context.Background(), input)
}

// Create admits a new session: global cap, then per-principal cap, then
// engine construction.
func (m *Manager) Create(principal, name string, kind Kind, limits *core.ResourceLimits) (Metadata, error) {
	if principal == "" {
		return Metadata{}, core.NewError(core.KindMissingField, "user_id is required")
	}
	if kind != KindRule && kind != KindLogic {
		return Metadata{}, core.NewError(core.KindValidation, "unknown session kind %q", kind)
	}
	lim := m.cfg.DefaultLimits
	if limits != nil {
		lim = *limits
	}
	if err := lim.Validate(); err != nil {
		return Metadata{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store.CountActive() >= m.cfg.MaxSessions {
		return Metadata{}, core.NewError(core.KindGlobalSessionLimit,
			"global session limit reached (%d)", m.cfg.MaxSessions)
	}
	if m.store.CountForPrincipal(principal) >= m.cfg.MaxPerPrincipal {
		return Metadata{}, core.NewError(core.KindUserSessionLimit,
			"session limit for %s reached (%d)", principal, m.cfg.MaxPerPrincipal)
	}

	now := time.Now()
	meta := Metadata{
		ID:        NewID(),
		Principal: principal,
		Name:      name,
		Kind:      kind,
		Status:    StatusInitializing,
		Started:   now,
		Touched:   now,
		Limits:    lim,
	}
	if err := m.store.Insert(meta); err != nil {
		return Metadata{}, err
	}

	c := &cell{}
	switch kind {
	case KindRule:
		if m.pool == nil {
			eng := production.New(production.Config{Limits: lim, DenyList: m.cfg.RuleDenyList})
			eng.RegisterForeign("evaluate", func(args []production.Value) (production.Value, error) {
				if len(args) != 1 {
					return nil, core.NewError(core.KindValidation, "evaluate expects one JSON string argument")
				}
				input, ok := args[0].(production.Str)
				if !ok {
					return nil, core.NewError(core.KindValidation, "evaluate expects a string argument")
				}
				out, err := m.bridge(string(input))
				if err != nil {
					return nil, err
				}
				return production.Str(out), nil
			})
			c.rule = eng
		}
	case KindLogic:
		eng, err := logic.New(logic.Config{MaxSolutions: m.cfg.MaxSolutions, HomeDir: m.cfg.LogicHomeDir})
		if err != nil {
			m.store.Remove(meta.ID)
			return Metadata{}, core.WrapError(core.KindInternal, err, "logic engine init: %v", err)
		}
		eng.SetEvaluate(m.bridge)
		c.logic = eng
	}
	m.cells[meta.ID] = c

	m.store.Update(meta.ID, func(s *Metadata) { s.Status = StatusActive })
	meta.Status = StatusActive

	m.logger.Info("session created",
		zap.String("session_id", meta.ID),
		zap.String("principal", principal),
		zap.String("kind", string(kind)))
	return meta, nil
}

// Get returns session metadata.
func (m *Manager) Get(id string) (Metadata, error) {
	meta, ok := m.store.Get(id)
	if !ok {
		return Metadata{}, core.NewError(core.KindSessionNotFound, "session %s not found", id)
	}
	return meta, nil
}

// ListForPrincipal returns a principal's sessions.
func (m *Manager) ListForPrincipal(principal string) []Metadata {
	return m.store.ListForPrincipal(principal)
}

// Terminate ends a session and destroys its engine. Terminating an already
// terminated or unknown session is a not-found error.
func (m *Manager) Terminate(id string) error {
	meta, ok := m.store.Get(id)
	if !ok || meta.Status == StatusTerminated {
		return core.NewError(core.KindSessionNotFound, "session %s not found", id)
	}

	m.mu.Lock()
	c := m.cells[id]
	delete(m.cells, id)
	m.mu.Unlock()

	m.store.Update(id, func(s *Metadata) { s.Status = StatusTerminated })

	if c != nil {
		// Wait for a running evaluation to release the engine.
		c.mu.Lock()
		if c.logic != nil {
			c.logic.Close()
		}
		c.mu.Unlock()
	}
	if m.pool != nil && meta.Kind == KindRule {
		m.pool.Release(id)
	}
	m.logger.Info("session terminated", zap.String("session_id", id))
	return nil
}

// lookup resolves an active session of the expected kind and its cell.
func (m *Manager) lookup(id string, kind Kind) (Metadata, *cell, error) {
	meta, ok := m.store.Get(id)
	if !ok || meta.Status == StatusTerminated {
		return Metadata{}, nil, core.NewError(core.KindSessionNotFound, "session %s not found", id)
	}
	if meta.Kind != kind {
		return Metadata{}, nil, core.NewError(core.KindWrongSessionKind,
			"session %s is a %s session", id, meta.Kind).
			WithDetails("expected=%s actual=%s", kind, meta.Kind)
	}
	m.mu.Lock()
	c := m.cells[id]
	m.mu.Unlock()
	if c == nil {
		return Metadata{}, nil, core.NewError(core.KindSessionNotFound, "session %s not found", id)
	}
	return meta, c, nil
}

// admit reserves a queue slot on the cell; the returned release must be
// called once the engine lock is dropped.
func (m *Manager) admit(c *cell) (func(), error) {
	if c.waiting.Load() >= m.cfg.MaxQueueDepth {
		return nil, core.NewError(core.KindQueueFull,
			"session queue depth %d exceeded", m.cfg.MaxQueueDepth)
	}
	c.waiting.Add(1)
	return func() { c.waiting.Add(-1) }, nil
}

// WithRuleEngine runs fn with exclusive access to the session's embedded
// rule engine.
func (m *Manager) WithRuleEngine(id string, fn func(*production.Engine) error) error {
	_, c, err := m.lookup(id, KindRule)
	if err != nil {
		return err
	}
	if c.rule == nil {
		return core.NewError(core.KindEngineError, "session %s runs its rule engine out of process", id)
	}
	release, err := m.admit(c)
	if err != nil {
		return err
	}
	defer release()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fn(c.rule); err != nil {
		return err
	}
	m.touch(id, c.rule)
	return nil
}

// WithLogicEngine runs fn with exclusive access to the session's logic
// engine.
func (m *Manager) WithLogicEngine(id string, fn func(*logic.Engine) error) error {
	_, c, err := m.lookup(id, KindLogic)
	if err != nil {
		return err
	}
	release, err := m.admit(c)
	if err != nil {
		return err
	}
	defer release()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fn(c.logic); err != nil {
		return err
	}
	m.store.Update(id, func(s *Metadata) {
		s.Touched = time.Now()
		s.Status = StatusActive
	})
	return nil
}

func (m *Manager) touch(id string, eng *production.Engine) {
	facts, rules := eng.Counts()
	m.store.Update(id, func(s *Metadata) {
		s.Touched = time.Now()
		s.Status = StatusActive
		s.Usage.Facts = facts
		s.Usage.Rules = rules
	})
}

// setStatus records a lifecycle transition. Terminated is final and never
// overwritten here.
func (m *Manager) setStatus(id string, st Status) {
	m.store.Update(id, func(s *Metadata) {
		if s.Status != StatusTerminated {
			s.Status = st
		}
	})
}

type evalOutcome struct {
	res core.EvalResult
	err error
}

// EvalRule evaluates a script in a rule session with a timeout. On timeout
// the evaluation finishes in the background and releases the engine lock;
// the caller gets the timeout error immediately.
func (m *Manager) EvalRule(ctx context.Context, id string, req core.EvalRequest) (core.EvalResult, error) {
	_, c, err := m.lookup(id, KindRule)
	if err != nil {
		return core.EvalResult{}, err
	}
	if strings.TrimSpace(req.Script) == "" {
		return core.EvalResult{}, core.NewError(core.KindMissingField, "script is required")
	}
	script := req.Script
	switch req.Mode {
	case "", core.EvalModeCommand:
	case core.EvalModeRun:
		// Fire rules to quiescence after loading the script.
		script += "\n(run)"
	default:
		return core.EvalResult{}, core.NewError(core.KindValidation,
			"unsupported eval mode %q", req.Mode)
	}
	timeoutMs := req.Timeout()
	if timeoutMs < 0 {
		return core.EvalResult{}, core.NewError(core.KindValidation, "timeout_ms must not be negative")
	}
	m.evalsTotal.Add(1)
	if timeoutMs == 0 {
		m.evalsFailed.Add(1)
		return core.EvalResult{}, core.NewError(core.KindEvalTimeout, "timeout_ms of 0 expires immediately")
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond

	if !m.inflight.TryAcquire(1) {
		m.evalsFailed.Add(1)
		return core.EvalResult{}, core.NewError(core.KindConcurrencyLimit,
			"too many concurrent evaluations")
	}
	release, err := m.admit(c)
	if err != nil {
		m.inflight.Release(1)
		m.evalsFailed.Add(1)
		return core.EvalResult{}, err
	}

	if m.pool != nil {
		defer m.inflight.Release(1)
		defer release()
		c.mu.Lock()
		defer c.mu.Unlock()
		m.setStatus(id, StatusEvaluating)
		res, err := m.pool.Execute(id, script, timeout)
		if err != nil || !res.IsSuccess() {
			m.evalsFailed.Add(1)
		}
		m.store.Update(id, func(s *Metadata) {
			if s.Status != StatusTerminated {
				s.Status = StatusActive
			}
			if err == nil {
				s.Touched = time.Now()
			}
		})
		return res, err
	}

	done := make(chan evalOutcome, 1)
	go func() {
		defer m.inflight.Release(1)
		defer release()
		c.mu.Lock()
		defer c.mu.Unlock()
		m.setStatus(id, StatusEvaluating)
		start := time.Now()
		out, evalErr := c.rule.Eval(script)
		factsAdded, rulesFired := c.rule.TakeMetrics()
		metrics := core.EvalMetrics{
			ElapsedMs:  time.Since(start).Milliseconds(),
			FactsAdded: &factsAdded,
			RulesFired: &rulesFired,
		}
		m.touch(id, c.rule)
		if evalErr != nil {
			switch core.KindOf(evalErr) {
			case core.KindSyntaxError, core.KindEngineError:
				// Engine-level failures are failed results, not transport errors.
				done <- evalOutcome{res: core.Failure(evalErr.Error(), 1, evalErr.Error(), metrics)}
			default:
				done <- evalOutcome{err: evalErr}
			}
			return
		}
		done <- evalOutcome{res: core.Success(out, metrics)}
	}()

	select {
	case o := <-done:
		if o.err != nil || !o.res.IsSuccess() {
			m.evalsFailed.Add(1)
		}
		return o.res, o.err
	case <-time.After(timeout):
		m.evalsFailed.Add(1)
		return core.EvalResult{}, core.NewError(core.KindEvalTimeout,
			"evaluation exceeded %s", timeout)
	case <-ctx.Done():
		m.evalsFailed.Add(1)
		return core.EvalResult{}, core.WrapError(core.KindEvalTimeout, ctx.Err(), "request canceled")
	}
}

// QueryLogic proves a goal in a logic session. all selects exhaustive
// search; the result is one bindings object or a slice of them.
func (m *Manager) QueryLogic(ctx context.Context, id, goal string, all bool, timeoutMs int) (any, error) {
	_, c, err := m.lookup(id, KindLogic)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(goal) == "" {
		return nil, core.NewError(core.KindMissingField, "goal is required")
	}
	if timeoutMs <= 0 {
		timeoutMs = m.cfg.DefaultTimeoutMs
	}
	timeout := time.Duration(timeoutMs) * time.Millisecond

	m.evalsTotal.Add(1)
	if !m.inflight.TryAcquire(1) {
		m.evalsFailed.Add(1)
		return nil, core.NewError(core.KindConcurrencyLimit, "too many concurrent evaluations")
	}
	release, err := m.admit(c)
	if err != nil {
		m.inflight.Release(1)
		m.evalsFailed.Add(1)
		return nil, err
	}

	type queryOutcome struct {
		result any
		err    error
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan queryOutcome, 1)
	go func() {
		defer cancel()
		defer m.inflight.Release(1)
		defer release()
		c.mu.Lock()
		defer c.mu.Unlock()
		m.setStatus(id, StatusEvaluating)
		var (
			result any
			qErr   error
		)
		if all {
			result, qErr = c.logic.QueryAll(qctx, goal)
		} else {
			result, qErr = c.logic.QueryFirst(qctx, goal)
		}
		m.store.Update(id, func(s *Metadata) {
			if s.Status != StatusTerminated {
				s.Status = StatusActive
			}
			if qErr == nil {
				s.Touched = time.Now()
			}
		})
		done <- queryOutcome{result: result, err: qErr}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			m.evalsFailed.Add(1)
		}
		return o.result, o.err
	case <-time.After(timeout + 50*time.Millisecond):
		m.evalsFailed.Add(1)
		return nil, core.NewError(core.KindEvalTimeout, "query exceeded %s", timeout)
	}
}

// ConsultLogic loads each clause into a logic session and reports how many
// were loaded. Clauses go in through assertz so a later retract can remove
// them.
func (m *Manager) ConsultLogic(id string, clauses []string) (int, error) {
	if len(clauses) == 0 {
		return 0, core.NewError(core.KindMissingField, "clauses are required")
	}
	err := m.WithLogicEngine(id, func(e *logic.Engine) error {
		return e.ConsultClauses(clauses)
	})
	if err != nil {
		return 0, err
	}
	return len(clauses), nil
}

// RetractLogic removes one clause, or every matching clause when all is set.
func (m *Manager) RetractLogic(id, clause string, all bool) error {
	return m.WithLogicEngine(id, func(e *logic.Engine) error {
		if all {
			return e.RetractAll(clause)
		}
		return e.Retract(clause)
	})
}

// SweepIdle terminates sessions untouched longer than the TTL and marks
// sessions untouched for more than half the TTL as idle. Any engine use
// returns an idle session to active. Returns how many were evicted.
func (m *Manager) SweepIdle() int {
	if m.cfg.TTL <= 0 {
		return 0
	}
	now := time.Now()
	cutoff := now.Add(-m.cfg.TTL)
	idleCutoff := now.Add(-m.cfg.TTL / 2)
	evicted := 0
	for _, meta := range m.store.All() {
		if meta.Status == StatusTerminated {
			continue
		}
		if meta.Touched.Before(cutoff) {
			if err := m.Terminate(meta.ID); err == nil {
				evicted++
			}
			continue
		}
		if meta.Status == StatusActive && meta.Touched.Before(idleCutoff) {
			m.setStatus(meta.ID, StatusIdle)
		}
	}
	if evicted > 0 {
		m.logger.Info("idle sessions evicted", zap.Int("count", evicted))
	}
	return evicted
}

// Metrics snapshots manager counters.
func (m *Manager) Metrics() core.MetricsSnapshot {
	return core.MetricsSnapshot{
		ActiveSessions: m.store.CountActive(),
		EvalsTotal:     m.evalsTotal.Load(),
		EvalsFailed:    m.evalsFailed.Load(),
		UptimeSeconds:  int64(time.Since(m.started).Seconds()),
	}
}

// Close terminates every session and shuts the subprocess pool down.
func (m *Manager) Close() {
	for _, meta := range m.store.All() {
		if meta.Status != StatusTerminated {
			_ = m.Terminate(meta.ID)
		}
	}
	if m.pool != nil {
		m.pool.Close()
	}
}
