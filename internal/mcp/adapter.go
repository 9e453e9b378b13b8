// Package mcp exposes a running reasond server to MCP hosts over stdio.
// Each tool maps onto one REST client call; the adapter lazily opens one
// internally maintained session per engine kind.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"reasond/internal/client"
	"reasond/internal/core"
)

// Config configures the adapter.
type Config struct {
	ServerURL string
	UserID    string
	Version   string
}

// Adapter bridges MCP tool calls to the REST surface.
type Adapter struct {
	api     *client.Client
	userID  string
	version string

	mu           sync.Mutex
	ruleSession  string
	logicSession string
}

// NewAdapter builds an adapter against the given server.
func NewAdapter(cfg Config) *Adapter {
	if cfg.UserID == "" {
		cfg.UserID = "mcp-adapter"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Adapter{
		api:     client.New(cfg.ServerURL),
		userID:  cfg.UserID,
		version: cfg.Version,
	}
}

// Server builds the MCP server with every tool registered.
func (a *Adapter) Server() *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "reasond", Version: a.version}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "rules.eval",
		Description: "Evaluate a script in the forward-chaining rule session.",
	}, a.rulesEval)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "rules.assert",
		Description: "Assert one fact into the rule session's working memory.",
	}, a.rulesAssert)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "rules.reset",
		Description: "Reset the rule session to its initial facts.",
	}, a.rulesReset)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "rules.status",
		Description: "Report the rule session's state and resource usage.",
	}, a.rulesStatus)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "logic.query",
		Description: "Prove a goal in the backward-chaining logic session.",
	}, a.logicQuery)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "logic.consult",
		Description: "Load clauses into the logic session's knowledge base.",
	}, a.logicConsult)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "logic.retract",
		Description: "Retract a clause from the logic session's knowledge base.",
	}, a.logicRetract)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "logic.status",
		Description: "Report the logic session's state and resource usage.",
	}, a.logicStatus)

	return s
}

// Run serves MCP over stdio until ctx is canceled.
func (a *Adapter) Run(ctx context.Context) error {
	return a.Server().Run(ctx, &mcp.StdioTransport{})
}

// ruleSessionID returns the adapter's rule session, creating it on first
// use.
func (a *Adapter) ruleSessionID(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ruleSession != "" {
		return a.ruleSession, nil
	}
	sess, err := a.api.CreateSession(ctx, core.CreateSessionRequest{UserID: a.userID, Name: "mcp-rules"})
	if err != nil {
		return "", err
	}
	a.ruleSession = sess.SessionID
	return a.ruleSession, nil
}

func (a *Adapter) logicSessionID(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logicSession != "" {
		return a.logicSession, nil
	}
	sess, err := a.api.CreateLogicSession(ctx, core.CreateSessionRequest{UserID: a.userID, Name: "mcp-logic"})
	if err != nil {
		return "", err
	}
	a.logicSession = sess.SessionID
	return a.logicSession, nil
}

// toolError turns any client error into an MCP tool result with IsError
// set, so hosts see the failure as the tool's outcome rather than a
// protocol fault.
func toolError(err error) *mcp.CallToolResult {
	resp := core.ToResponse(err)
	text, merr := json.Marshal(resp)
	if merr != nil {
		text = []byte(resp.Error)
	}
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
	}
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	text, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
	}, nil
}

type rulesEvalInput struct {
	Script    string `json:"script"`
	TimeoutMs *int   `json:"timeout_ms,omitempty"`
}

func (a *Adapter) rulesEval(ctx context.Context, req *mcp.CallToolRequest, in rulesEvalInput) (*mcp.CallToolResult, any, error) {
	id, err := a.ruleSessionID(ctx)
	if err != nil {
		return toolError(err), nil, nil
	}
	res, err := a.api.Evaluate(ctx, id, core.EvalRequest{Script: in.Script, TimeoutMs: in.TimeoutMs})
	if err != nil {
		return toolError(err), nil, nil
	}
	out, err := toolJSON(res)
	return out, nil, err
}

type rulesAssertInput struct {
	Fact string `json:"fact"`
}

func (a *Adapter) rulesAssert(ctx context.Context, req *mcp.CallToolRequest, in rulesAssertInput) (*mcp.CallToolResult, any, error) {
	if in.Fact == "" {
		return toolError(core.NewError(core.KindMissingField, "fact is required")), nil, nil
	}
	id, err := a.ruleSessionID(ctx)
	if err != nil {
		return toolError(err), nil, nil
	}
	res, err := a.api.Evaluate(ctx, id, core.EvalRequest{Script: assertScript(in.Fact)})
	if err != nil {
		return toolError(err), nil, nil
	}
	out, err := toolJSON(res)
	return out, nil, err
}

// assertScript wraps a bare fact in an assert form. A fact already written
// with parentheses is used as-is.
func assertScript(fact string) string {
	if len(fact) > 0 && fact[0] == '(' {
		return "(assert " + fact + ")"
	}
	return "(assert (" + fact + "))"
}

func (a *Adapter) rulesReset(ctx context.Context, req *mcp.CallToolRequest, in struct{}) (*mcp.CallToolResult, any, error) {
	id, err := a.ruleSessionID(ctx)
	if err != nil {
		return toolError(err), nil, nil
	}
	res, err := a.api.Evaluate(ctx, id, core.EvalRequest{Script: "(reset)"})
	if err != nil {
		return toolError(err), nil, nil
	}
	out, err := toolJSON(res)
	return out, nil, err
}

func (a *Adapter) rulesStatus(ctx context.Context, req *mcp.CallToolRequest, in struct{}) (*mcp.CallToolResult, any, error) {
	id, err := a.ruleSessionID(ctx)
	if err != nil {
		return toolError(err), nil, nil
	}
	sess, err := a.api.GetSession(ctx, id)
	if err != nil {
		return toolError(err), nil, nil
	}
	out, err := toolJSON(sess)
	return out, nil, err
}

type logicQueryInput struct {
	Goal         string `json:"goal"`
	AllSolutions bool   `json:"all_solutions,omitempty"`
}

func (a *Adapter) logicQuery(ctx context.Context, req *mcp.CallToolRequest, in logicQueryInput) (*mcp.CallToolResult, any, error) {
	id, err := a.logicSessionID(ctx)
	if err != nil {
		return toolError(err), nil, nil
	}
	res, err := a.api.Query(ctx, id, core.QueryRequest{Goal: in.Goal, AllSolutions: in.AllSolutions})
	if err != nil {
		return toolError(err), nil, nil
	}
	out, err := toolJSON(res)
	return out, nil, err
}

type logicConsultInput struct {
	Clauses []string `json:"clauses"`
}

func (a *Adapter) logicConsult(ctx context.Context, req *mcp.CallToolRequest, in logicConsultInput) (*mcp.CallToolResult, any, error) {
	id, err := a.logicSessionID(ctx)
	if err != nil {
		return toolError(err), nil, nil
	}
	res, err := a.api.Consult(ctx, id, in.Clauses)
	if err != nil {
		return toolError(err), nil, nil
	}
	out, err := toolJSON(res)
	return out, nil, err
}

type logicRetractInput struct {
	Clause string `json:"clause"`
	All    bool   `json:"all,omitempty"`
}

func (a *Adapter) logicRetract(ctx context.Context, req *mcp.CallToolRequest, in logicRetractInput) (*mcp.CallToolResult, any, error) {
	id, err := a.logicSessionID(ctx)
	if err != nil {
		return toolError(err), nil, nil
	}
	res, err := a.api.Retract(ctx, id, core.RetractRequest{Clause: in.Clause, All: in.All})
	if err != nil {
		return toolError(err), nil, nil
	}
	out, err := toolJSON(res)
	return out, nil, err
}

func (a *Adapter) logicStatus(ctx context.Context, req *mcp.CallToolRequest, in struct{}) (*mcp.CallToolResult, any, error) {
	id, err := a.logicSessionID(ctx)
	if err != nil {
		return toolError(err), nil, nil
	}
	sess, err := a.api.GetLogicSession(ctx, id)
	if err != nil {
		return toolError(err), nil, nil
	}
	out, err := toolJSON(sess)
	return out, nil, err
}
