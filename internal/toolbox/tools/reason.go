package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"reasond/internal/client"
	"reasond/internal/core"
	"reasond/internal/toolbox"
)

type reasonArgs struct {
	Operation string `json:"operation"`
	UserID    string `json:"user_id,omitempty"`
	Kind      string `json:"kind,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Script    string `json:"script,omitempty"`
	Goal      string `json:"goal,omitempty"`
	TimeoutMs *int   `json:"timeout_ms,omitempty"`
}

// reasonTool re-enters the server's REST surface from inside an engine
// program: a running rule can open a sibling session, evaluate in it, or
// pose a logic query. Exercises bridge re-entrancy end to end.
func reasonTool(serverURL string, httpClient *http.Client) toolbox.Tool {
	c := client.New(serverURL, client.WithHTTPClient(httpClient))
	return toolbox.Tool{
		Name:        "reason",
		Description: "Re-enters the reasoning server: health, create_session, evaluate, logic_query",
		Category:    "reasoning",
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			var a reasonArgs
			if err := json.Unmarshal(args, &a); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			switch a.Operation {
			case "health":
				return c.Health(ctx)
			case "create_session":
				if a.UserID == "" {
					return nil, fmt.Errorf("create_session requires user_id")
				}
				req := core.CreateSessionRequest{UserID: a.UserID}
				if a.Kind == "logic" {
					return c.CreateLogicSession(ctx, req)
				}
				return c.CreateSession(ctx, req)
			case "evaluate":
				if a.SessionID == "" || a.Script == "" {
					return nil, fmt.Errorf("evaluate requires session_id and script")
				}
				return c.Evaluate(ctx, a.SessionID, core.EvalRequest{Script: a.Script, TimeoutMs: a.TimeoutMs})
			case "logic_query":
				if a.SessionID == "" || a.Goal == "" {
					return nil, fmt.Errorf("logic_query requires session_id and goal")
				}
				return c.Query(ctx, a.SessionID, core.QueryRequest{Goal: a.Goal})
			default:
				return nil, fmt.Errorf("unknown operation %q", a.Operation)
			}
		},
	}
}
