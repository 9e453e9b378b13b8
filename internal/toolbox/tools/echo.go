package tools

import (
	"context"
	"encoding/json"

	"reasond/internal/toolbox"
)

func echoTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "echo",
		Description: "Returns its arguments unchanged; useful for verifying the callback bridge",
		Category:    "diagnostics",
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			var v any
			if err := json.Unmarshal(args, &v); err != nil {
				v = string(args)
			}
			return map[string]any{
				"echoed":  v,
				"message": "echo tool received and returned your input",
			}, nil
		},
	}
}
