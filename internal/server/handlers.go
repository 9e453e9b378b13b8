package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"reasond/internal/audit"
	"reasond/internal/core"
	"reasond/internal/session"
)

func (s *Server) handleCreateSession(kind session.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req core.CreateSessionRequest
		if err := s.readJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		meta, err := s.manager.Create(req.UserID, req.Name, kind, req.Config)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, meta.Response())
	}
}

func (s *Server) handleGetSession(kind session.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meta, err := s.getKinded(r.PathValue("id"), kind)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meta.Response())
	}
}

func (s *Server) handleTerminate(kind session.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := s.getKinded(id, kind); err != nil {
			writeError(w, err)
			return
		}
		if err := s.manager.Terminate(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, core.TerminateResponse{Status: "terminated", SessionID: id})
	}
}

// getKinded resolves a session and rejects kind mismatches so the rule and
// logic surfaces stay separate.
func (s *Server) getKinded(id string, kind session.Kind) (session.Metadata, error) {
	meta, err := s.manager.Get(id)
	if err != nil {
		return session.Metadata{}, err
	}
	if meta.Kind != kind {
		return session.Metadata{}, core.NewError(core.KindWrongSessionKind,
			"session %s is a %s session", id, meta.Kind)
	}
	return meta, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	principal := r.PathValue("pid")
	metas := s.manager.ListForPrincipal(principal)
	resp := core.SessionListResponse{Sessions: make([]core.SessionResponse, 0, len(metas)), Count: len(metas)}
	for _, m := range metas {
		resp.Sessions = append(resp.Sessions, m.Response())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req core.EvalRequest
	if err := s.readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.manager.EvalRule(r.Context(), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	s.record(r.Context(), id, "rule", "evaluate", res.ExitCode, res.Metrics.ElapsedMs)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req core.QueryRequest
	if err := s.readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	start := time.Now()
	result, err := s.manager.QueryLogic(r.Context(), id, req.Goal, req.AllSolutions, 0)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		// A goal that simply fails is a successful request with no result.
		if core.IsKind(err, core.KindNoSolution) {
			s.record(r.Context(), id, "logic", "query", 1, elapsed)
			writeJSON(w, http.StatusOK, core.QueryResponse{Success: false, RuntimeMs: elapsed})
			return
		}
		writeError(w, err)
		return
	}
	s.record(r.Context(), id, "logic", "query", 0, elapsed)
	writeJSON(w, http.StatusOK, core.QueryResponse{Result: result, Success: true, RuntimeMs: elapsed})
}

func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req core.ConsultRequest
	if err := s.readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	count, err := s.manager.ConsultLogic(id, req.Clauses)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, core.ConsultResponse{Status: "clauses_loaded", Count: count})
}

func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req core.RetractRequest
	if err := s.readJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Clause == "" {
		writeError(w, core.NewError(core.KindMissingField, "clause is required"))
		return
	}
	if err := s.manager.RetractLogic(id, req.Clause, req.All); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, core.RetractResponse{Status: "retracted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.HealthResponse{Status: "ok", Version: s.cfg.Version})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, core.NewError(core.KindInternal, "draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Metrics())
}

// record appends to the audit ledger when one is configured. Failures are
// logged, never surfaced.
func (s *Server) record(ctx context.Context, sessionID, kind, op string, exitCode int, elapsedMs int64) {
	if s.audit == nil {
		return
	}
	meta, err := s.manager.Get(sessionID)
	principal := ""
	if err == nil {
		principal = meta.Principal
	}
	entry := audit.Entry{
		SessionID: sessionID,
		Principal: principal,
		Kind:      kind,
		Operation: op,
		ExitCode:  exitCode,
		ElapsedMs: elapsedMs,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", zap.Error(err))
	}
}
