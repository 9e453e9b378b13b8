// Package tools holds the built-in tools registered with the toolbox at
// process startup: echo, the remote evaluator proxy, an LLM completion
// tool, a Datalog scratchpad and the server re-entry tool.
package tools

import (
	"net/http"
	"time"

	"reasond/internal/toolbox"
)

// Config wires the built-in tools to their backends.
type Config struct {
	// EvaluatorURL is the remote evaluator endpoint for the evaluate tool.
	EvaluatorURL string
	// LLMModel names the model the llm tool completes with.
	LLMModel string
	// ServerURL, when set, enables the reason tool against that server.
	ServerURL string
	// HTTPClient overrides the shared HTTP client.
	HTTPClient *http.Client
}

// RegisterBuiltins adds every built-in tool to the manager.
func RegisterBuiltins(m *toolbox.Manager, cfg Config) error {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	for _, t := range []toolbox.Tool{
		echoTool(),
		evaluateTool(cfg.EvaluatorURL, httpClient),
		llmTool(cfg.LLMModel),
		datalogTool(),
	} {
		if err := m.Register(t); err != nil {
			return err
		}
	}
	if cfg.ServerURL != "" {
		if err := m.Register(reasonTool(cfg.ServerURL, httpClient)); err != nil {
			return err
		}
	}
	return nil
}
