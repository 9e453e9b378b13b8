package core

// DefaultEvalTimeoutMs is applied when a request omits timeout_ms.
const DefaultEvalTimeoutMs = 2000

// Evaluation modes. Omitted means command.
const (
	EvalModeCommand = "command"
	EvalModeRun     = "run"
)

// EvalRequest is the body of an evaluate call against a rule session.
type EvalRequest struct {
	Script    string `json:"script"`
	TimeoutMs *int   `json:"timeout_ms,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// Timeout returns the effective timeout in milliseconds. A nil field means
// the default; an explicit zero is returned as zero and rejected upstream.
func (r EvalRequest) Timeout() int {
	if r.TimeoutMs == nil {
		return DefaultEvalTimeoutMs
	}
	return *r.TimeoutMs
}

// EvalMetrics accompanies every evaluation result.
type EvalMetrics struct {
	ElapsedMs  int64  `json:"elapsed_ms"`
	FactsAdded *int64 `json:"facts_added,omitempty"`
	RulesFired *int64 `json:"rules_fired,omitempty"`
}

// EvalResult is the outcome of one evaluation. ExitCode is zero exactly
// when Err is nil.
type EvalResult struct {
	Stdout   string      `json:"stdout"`
	Stderr   string      `json:"stderr"`
	ExitCode int         `json:"exit_code"`
	Metrics  EvalMetrics `json:"metrics"`
	Err      *string     `json:"error,omitempty"`
}

// Success builds a passing result.
func Success(stdout string, metrics EvalMetrics) EvalResult {
	return EvalResult{Stdout: stdout, Metrics: metrics}
}

// Failure builds a failing result. A zero exitCode is promoted to 1 so the
// exit-code/error invariant holds.
func Failure(stderr string, exitCode int, errMsg string, metrics EvalMetrics) EvalResult {
	if exitCode == 0 {
		exitCode = 1
	}
	return EvalResult{Stderr: stderr, ExitCode: exitCode, Metrics: metrics, Err: &errMsg}
}

// IsSuccess reports whether the evaluation completed cleanly.
func (r EvalResult) IsSuccess() bool { return r.ExitCode == 0 && r.Err == nil }

// ResourceLimits bounds a single session's engine.
type ResourceLimits struct {
	MaxFacts    int `json:"max_facts" yaml:"max_facts"`
	MaxRules    int `json:"max_rules" yaml:"max_rules"`
	MaxMemoryMB int `json:"max_memory_mb" yaml:"max_memory_mb"`
}

// DefaultLimits returns the standard per-session budget.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{MaxFacts: 1000, MaxRules: 500, MaxMemoryMB: 128}
}

// StrictLimits is a reduced budget for untrusted principals.
func StrictLimits() ResourceLimits {
	return ResourceLimits{MaxFacts: 100, MaxRules: 50, MaxMemoryMB: 32}
}

// RelaxedLimits is an expanded budget for trusted workloads.
func RelaxedLimits() ResourceLimits {
	return ResourceLimits{MaxFacts: 10000, MaxRules: 5000, MaxMemoryMB: 512}
}

// Validate rejects non-positive or absurd limits.
func (l ResourceLimits) Validate() error {
	switch {
	case l.MaxFacts <= 0 || l.MaxFacts > 100000:
		return NewError(KindValidation, "max_facts must be in 1..100000, got %d", l.MaxFacts)
	case l.MaxRules <= 0 || l.MaxRules > 10000:
		return NewError(KindValidation, "max_rules must be in 1..10000, got %d", l.MaxRules)
	case l.MaxMemoryMB <= 0 || l.MaxMemoryMB > 4096:
		return NewError(KindValidation, "max_memory_mb must be in 1..4096, got %d", l.MaxMemoryMB)
	}
	return nil
}

// ResourceUsage is a point-in-time snapshot of a session's consumption.
type ResourceUsage struct {
	Facts    int      `json:"facts"`
	Rules    int      `json:"rules"`
	Objects  int      `json:"objects"`
	MemoryMB *float64 `json:"memory_mb,omitempty"`
}
