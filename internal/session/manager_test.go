package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"reasond/internal/core"
	"reasond/internal/logic"
	"reasond/internal/production"
	"reasond/internal/toolbox"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxSolutions = 100
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewManager(cfg, toolbox.NewManager(""), zap.NewNop())
	t.Cleanup(m.Close)
	return m
}

func TestCreateAndLifecycle(t *testing.T) {
	m := newTestManager(t, nil)

	meta, err := m.Create("alice", "scratch", KindRule, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if meta.Status != StatusActive {
		t.Fatalf("status = %s, want active", meta.Status)
	}
	if !strings.HasPrefix(meta.ID, "sess-") {
		t.Fatalf("unexpected id %q", meta.ID)
	}

	got, err := m.Get(meta.ID)
	if err != nil || got.Principal != "alice" {
		t.Fatalf("Get() = %+v, %v", got, err)
	}

	list := m.ListForPrincipal("alice")
	if len(list) != 1 || list[0].ID != meta.ID {
		t.Fatalf("ListForPrincipal() = %+v", list)
	}

	if err := m.Terminate(meta.ID); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if err := m.Terminate(meta.ID); !core.IsKind(err, core.KindSessionNotFound) {
		t.Fatalf("second Terminate() error = %v, want session not found", err)
	}
}

func TestCreateValidation(t *testing.T) {
	m := newTestManager(t, nil)

	if _, err := m.Create("", "x", KindRule, nil); !core.IsKind(err, core.KindMissingField) {
		t.Fatalf("empty principal error = %v", err)
	}
	if _, err := m.Create("alice", "x", Kind("weird"), nil); !core.IsKind(err, core.KindValidation) {
		t.Fatalf("bad kind error = %v", err)
	}
	bad := core.DefaultLimits()
	bad.MaxFacts = -1
	if _, err := m.Create("alice", "x", KindRule, &bad); !core.IsKind(err, core.KindValidation) {
		t.Fatalf("bad limits error = %v", err)
	}
}

func TestPerPrincipalCap(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.MaxPerPrincipal = 2 })

	for i := 0; i < 2; i++ {
		if _, err := m.Create("bob", "", KindRule, nil); err != nil {
			t.Fatalf("Create() #%d error = %v", i, err)
		}
	}
	if _, err := m.Create("bob", "", KindRule, nil); !core.IsKind(err, core.KindUserSessionLimit) {
		t.Fatalf("over-cap error = %v, want user session limit", err)
	}
	// Other principals are unaffected.
	if _, err := m.Create("carol", "", KindRule, nil); err != nil {
		t.Fatalf("Create() for carol error = %v", err)
	}
}

func TestGlobalCap(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.MaxSessions = 1 })

	meta, err := m.Create("alice", "", KindRule, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := m.Create("dave", "", KindRule, nil); !core.IsKind(err, core.KindGlobalSessionLimit) {
		t.Fatalf("over-cap error = %v, want global session limit", err)
	}
	// Terminated sessions free capacity.
	if err := m.Terminate(meta.ID); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if _, err := m.Create("dave", "", KindRule, nil); err != nil {
		t.Fatalf("Create() after terminate error = %v", err)
	}
}

func TestWrongSessionKind(t *testing.T) {
	m := newTestManager(t, nil)

	rule, _ := m.Create("alice", "", KindRule, nil)
	if _, err := m.QueryLogic(context.Background(), rule.ID, "p(X)", true, 0); !core.IsKind(err, core.KindWrongSessionKind) {
		t.Fatalf("QueryLogic on rule session error = %v", err)
	}

	lg, _ := m.Create("alice", "", KindLogic, nil)
	_, err := m.EvalRule(context.Background(), lg.ID, core.EvalRequest{Script: "(+ 1 2)"})
	if !core.IsKind(err, core.KindWrongSessionKind) {
		t.Fatalf("EvalRule on logic session error = %v", err)
	}
}

func TestConfiguredDefaultLimits(t *testing.T) {
	m := newTestManager(t, func(c *Config) {
		c.DefaultLimits = core.ResourceLimits{MaxFacts: 7, MaxRules: 3, MaxMemoryMB: 64}
	})

	meta, err := m.Create("alice", "", KindRule, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if meta.Limits.MaxFacts != 7 || meta.Limits.MaxRules != 3 {
		t.Fatalf("limits = %+v", meta.Limits)
	}

	// An explicit config block still wins over the configured default.
	lim := core.ResourceLimits{MaxFacts: 2, MaxRules: 2, MaxMemoryMB: 32}
	meta, err = m.Create("alice", "", KindRule, &lim)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if meta.Limits != lim {
		t.Fatalf("limits = %+v", meta.Limits)
	}
}

func TestEvalRuleRunMode(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindRule, nil)

	script := `(defrule kick (trigger) => (assert (kicked)))
(assert (trigger))`
	res, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: script, Mode: core.EvalModeRun})
	if err != nil {
		t.Fatalf("EvalRule() error = %v", err)
	}
	if !res.IsSuccess() || res.Metrics.RulesFired == nil || *res.Metrics.RulesFired != 1 {
		t.Fatalf("result = %+v", res)
	}

	_, err = m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(facts)", Mode: "interactive"})
	if !core.IsKind(err, core.KindValidation) {
		t.Fatalf("unsupported mode error = %v", err)
	}
}

func TestEvalRule(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindRule, nil)

	res, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(+ 1 2)"})
	if err != nil {
		t.Fatalf("EvalRule() error = %v", err)
	}
	if !res.IsSuccess() || res.Stdout != "3" {
		t.Fatalf("result = %+v", res)
	}
	if res.Metrics.ElapsedMs < 0 {
		t.Fatalf("elapsed = %d", res.Metrics.ElapsedMs)
	}
}

func TestEvalRuleSyntaxErrorIsFailedResult(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindRule, nil)

	res, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(assert (a"})
	if err != nil {
		t.Fatalf("EvalRule() error = %v, want failed result", err)
	}
	if res.IsSuccess() || res.ExitCode != 1 || res.Stderr == "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestEvalRuleZeroTimeout(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindRule, nil)

	zero := 0
	_, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(+ 1 2)", TimeoutMs: &zero})
	if !core.IsKind(err, core.KindEvalTimeout) {
		t.Fatalf("error = %v, want eval timeout", err)
	}
}

func TestEvalRuleMissingScript(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindRule, nil)

	_, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "   "})
	if !core.IsKind(err, core.KindMissingField) {
		t.Fatalf("error = %v, want missing field", err)
	}
}

func TestEvalRuleTimeoutLeavesSessionUsable(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindRule, nil)

	err := m.WithRuleEngine(meta.ID, func(e *production.Engine) error {
		e.RegisterForeign("slow", func(args []production.Value) (production.Value, error) {
			time.Sleep(300 * time.Millisecond)
			return production.Integer(1), nil
		})
		return nil
	})
	if err != nil {
		t.Fatalf("WithRuleEngine() error = %v", err)
	}

	short := 50
	_, err = m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(slow)", TimeoutMs: &short})
	if !core.IsKind(err, core.KindEvalTimeout) {
		t.Fatalf("error = %v, want eval timeout", err)
	}

	// The stuck evaluation finishes in the background; a later call succeeds.
	res, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(+ 2 2)"})
	if err != nil || res.Stdout != "4" {
		t.Fatalf("follow-up eval = %+v, %v", res, err)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.MaxInflightEvals = 1 })
	meta, _ := m.Create("alice", "", KindRule, nil)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	err := m.WithRuleEngine(meta.ID, func(e *production.Engine) error {
		e.RegisterForeign("gate", func(args []production.Value) (production.Value, error) {
			close(entered)
			<-proceed
			return production.Integer(1), nil
		})
		return nil
	})
	if err != nil {
		t.Fatalf("WithRuleEngine() error = %v", err)
	}

	firstDone := make(chan error, 1)
	go func() {
		_, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(gate)"})
		firstDone <- err
	}()
	<-entered

	_, err = m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(+ 1 1)"})
	if !core.IsKind(err, core.KindConcurrencyLimit) {
		t.Fatalf("error = %v, want concurrency limit", err)
	}

	close(proceed)
	if err := <-firstDone; err != nil {
		t.Fatalf("gated eval error = %v", err)
	}
}

func TestQueueFull(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.MaxQueueDepth = 1 })
	meta, _ := m.Create("alice", "", KindLogic, nil)

	holding := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.WithLogicEngine(meta.ID, func(e *logic.Engine) error {
			close(holding)
			<-proceed
			return nil
		})
	}()
	<-holding

	err := m.WithLogicEngine(meta.ID, func(e *logic.Engine) error { return nil })
	if !core.IsKind(err, core.KindQueueFull) {
		t.Fatalf("error = %v, want queue full", err)
	}

	close(proceed)
	if err := <-done; err != nil {
		t.Fatalf("holder error = %v", err)
	}
}

func TestQueryLogic(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindLogic, nil)

	if _, err := m.ConsultLogic(meta.ID, []string{"parent(tom, bob).", "parent(bob, ann)."}); err != nil {
		t.Fatalf("ConsultLogic() error = %v", err)
	}

	result, err := m.QueryLogic(context.Background(), meta.ID, "parent(tom, X)", true, 0)
	if err != nil {
		t.Fatalf("QueryLogic() error = %v", err)
	}
	all, ok := result.([]map[string]any)
	if !ok || len(all) != 1 || all[0]["X"] != "bob" {
		t.Fatalf("result = %#v", result)
	}

	result, err = m.QueryLogic(context.Background(), meta.ID, "parent(P, ann)", false, 0)
	if err != nil {
		t.Fatalf("QueryLogic(first) error = %v", err)
	}
	first, ok := result.(map[string]any)
	if !ok || first["P"] != "bob" {
		t.Fatalf("result = %#v", result)
	}

	if _, err := m.QueryLogic(context.Background(), meta.ID, "parent(zeus, X)", false, 0); !core.IsKind(err, core.KindNoSolution) {
		t.Fatalf("no-solution error = %v", err)
	}
}

func TestConsultLogicCountsClauses(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindLogic, nil)

	n, err := m.ConsultLogic(meta.ID, []string{"a(1).", "a(2).", "b(X) :- a(X)."})
	if err != nil {
		t.Fatalf("ConsultLogic() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("clause count = %d, want 3", n)
	}

	if _, err := m.ConsultLogic(meta.ID, nil); !core.IsKind(err, core.KindMissingField) {
		t.Fatalf("empty clauses error = %v", err)
	}
	if _, err := m.ConsultLogic(meta.ID, []string{"broken(("}); !core.IsKind(err, core.KindSyntaxError) {
		t.Fatalf("bad clause error = %v", err)
	}
}

func TestRetractLogic(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindLogic, nil)

	if _, err := m.ConsultLogic(meta.ID, []string{"color(red).", "color(green).", "color(blue)."}); err != nil {
		t.Fatalf("ConsultLogic() error = %v", err)
	}
	if err := m.RetractLogic(meta.ID, "color(green)", false); err != nil {
		t.Fatalf("RetractLogic() error = %v", err)
	}
	if err := m.RetractLogic(meta.ID, "color(_)", true); err != nil {
		t.Fatalf("RetractLogic(all) error = %v", err)
	}
	if _, err := m.QueryLogic(context.Background(), meta.ID, "color(C)", false, 0); !core.IsKind(err, core.KindNoSolution) {
		t.Fatalf("after retractall error = %v", err)
	}
}

func TestStatusLifecycle(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.TTL = time.Minute })
	meta, _ := m.Create("alice", "", KindRule, nil)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	err := m.WithRuleEngine(meta.ID, func(e *production.Engine) error {
		e.RegisterForeign("gate", func(args []production.Value) (production.Value, error) {
			close(entered)
			<-proceed
			return production.Integer(1), nil
		})
		return nil
	})
	if err != nil {
		t.Fatalf("WithRuleEngine() error = %v", err)
	}

	evalDone := make(chan error, 1)
	go func() {
		_, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(gate)"})
		evalDone <- err
	}()
	<-entered
	if got, _ := m.Get(meta.ID); got.Status != StatusEvaluating {
		t.Fatalf("mid-eval status = %s, want evaluating", got.Status)
	}
	close(proceed)
	if err := <-evalDone; err != nil {
		t.Fatalf("EvalRule() error = %v", err)
	}
	if got, _ := m.Get(meta.ID); got.Status != StatusActive {
		t.Fatalf("post-eval status = %s, want active", got.Status)
	}

	// Untouched past half the TTL the sweep marks the session idle without
	// evicting it.
	m.store.Update(meta.ID, func(s *Metadata) { s.Touched = time.Now().Add(-45 * time.Second) })
	if n := m.SweepIdle(); n != 0 {
		t.Fatalf("SweepIdle() = %d, want 0", n)
	}
	if got, _ := m.Get(meta.ID); got.Status != StatusIdle {
		t.Fatalf("swept status = %s, want idle", got.Status)
	}

	if _, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(+ 1 1)"}); err != nil {
		t.Fatalf("EvalRule() error = %v", err)
	}
	if got, _ := m.Get(meta.ID); got.Status != StatusActive {
		t.Fatalf("revived status = %s, want active", got.Status)
	}
}

func TestSweepIdle(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.TTL = time.Minute })

	fresh, _ := m.Create("alice", "", KindRule, nil)
	stale, _ := m.Create("alice", "", KindRule, nil)
	m.store.Update(stale.ID, func(s *Metadata) { s.Touched = time.Now().Add(-2 * time.Minute) })

	if n := m.SweepIdle(); n != 1 {
		t.Fatalf("SweepIdle() = %d, want 1", n)
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Fatalf("fresh session gone: %v", err)
	}
	got, _ := m.Get(stale.ID)
	if got.Status != StatusTerminated {
		t.Fatalf("stale status = %s", got.Status)
	}
}

func TestMetricsCounters(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindRule, nil)

	if _, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(+ 1 2)"}); err != nil {
		t.Fatalf("EvalRule() error = %v", err)
	}
	if _, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(assert (x"}); err != nil {
		t.Fatalf("EvalRule() error = %v", err)
	}

	snap := m.Metrics()
	if snap.ActiveSessions != 1 || snap.EvalsTotal != 2 || snap.EvalsFailed != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestUsageTracking(t *testing.T) {
	m := newTestManager(t, nil)
	meta, _ := m.Create("alice", "", KindRule, nil)

	if _, err := m.EvalRule(context.Background(), meta.ID, core.EvalRequest{Script: "(assert (a 1)) (assert (b 2))"}); err != nil {
		t.Fatalf("EvalRule() error = %v", err)
	}
	got, _ := m.Get(meta.ID)
	if got.Usage.Facts != 2 {
		t.Fatalf("usage facts = %d, want 2", got.Usage.Facts)
	}
	if !got.Touched.After(meta.Touched) {
		t.Fatal("touched timestamp did not advance")
	}
}
