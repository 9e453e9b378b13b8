package core

// REST wire shapes shared by the server, the typed client and the MCP
// adapter. Timestamps are RFC 3339 strings.

// CreateSessionRequest opens a new session for a principal.
type CreateSessionRequest struct {
	UserID string          `json:"user_id"`
	Name   string          `json:"name,omitempty"`
	Config *ResourceLimits `json:"config,omitempty"`
}

// SessionResponse describes one session.
type SessionResponse struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Name      string         `json:"name,omitempty"`
	Started   string         `json:"started"`
	Touched   string         `json:"touched"`
	Status    string         `json:"status"`
	Resources ResourceUsage  `json:"resources"`
	Limits    ResourceLimits `json:"limits"`
}

// SessionListResponse lists a principal's sessions.
type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Count    int               `json:"count"`
}

// TerminateResponse acknowledges a session termination.
type TerminateResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// QueryRequest runs a goal against a logic session.
type QueryRequest struct {
	Goal         string `json:"goal"`
	AllSolutions bool   `json:"all_solutions,omitempty"`
}

// QueryResponse carries a query outcome. Result is the bindings object of
// the first solution or, for all_solutions, an array of bindings objects.
type QueryResponse struct {
	Result    any   `json:"result"`
	Success   bool  `json:"success"`
	RuntimeMs int64 `json:"runtime_ms"`
}

// ConsultRequest loads clauses into a logic session.
type ConsultRequest struct {
	Clauses []string `json:"clauses"`
}

// ConsultResponse acknowledges a consult.
type ConsultResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// RetractRequest removes clauses from a logic session.
type RetractRequest struct {
	Clause string `json:"clause"`
	All    bool   `json:"all,omitempty"`
}

// RetractResponse acknowledges a retract.
type RetractResponse struct {
	Status string `json:"status"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// MetricsSnapshot is the /metrics payload.
type MetricsSnapshot struct {
	ActiveSessions int   `json:"active_sessions"`
	EvalsTotal     int64 `json:"evals_total"`
	EvalsFailed    int64 `json:"evals_failed"`
	UptimeSeconds  int64 `json:"uptime_seconds"`
}
