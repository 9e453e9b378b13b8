package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"reasond/internal/toolbox"
)

// evaluateTool proxies its arguments to a remote evaluator service and
// returns the response body JSON. It is the default target for bridge
// payloads without an explicit tool key.
func evaluateTool(url string, httpClient *http.Client) toolbox.Tool {
	return toolbox.Tool{
		Name:        "evaluate",
		Description: "Forwards a JSON payload to the configured remote evaluator",
		Category:    "reasoning",
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			if url == "" {
				return nil, fmt.Errorf("no remote evaluator configured")
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(args))
			if err != nil {
				return nil, fmt.Errorf("build evaluator request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := httpClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("evaluator unreachable: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			if err != nil {
				return nil, fmt.Errorf("read evaluator response: %w", err)
			}
			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("evaluator returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
			}

			var out any
			if err := json.Unmarshal(body, &out); err != nil {
				return map[string]any{"result": string(body)}, nil
			}
			return out, nil
		},
	}
}
