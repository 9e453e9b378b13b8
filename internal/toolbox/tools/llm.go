package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"reasond/internal/toolbox"
)

const defaultLLMModel = "gemini-2.0-flash"

type llmArgs struct {
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
}

// llmTool runs a one-shot completion against the Gemini API. The client is
// created per call so the API key is only required when the tool is used;
// the SDK reads GEMINI_API_KEY from the environment.
func llmTool(model string) toolbox.Tool {
	if model == "" {
		model = defaultLLMModel
	}
	return toolbox.Tool{
		Name:        "llm",
		Description: "One-shot LLM completion for neural sub-queries from engine programs",
		Category:    "reasoning",
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			var a llmArgs
			if err := json.Unmarshal(args, &a); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			if a.Prompt == "" {
				return nil, fmt.Errorf("missing required argument: prompt")
			}

			client, err := genai.NewClient(ctx, &genai.ClientConfig{
				Backend: genai.BackendGeminiAPI,
			})
			if err != nil {
				return nil, fmt.Errorf("create LLM client: %w", err)
			}

			var genCfg *genai.GenerateContentConfig
			if a.System != "" {
				genCfg = &genai.GenerateContentConfig{
					SystemInstruction: genai.NewContentFromText(a.System, genai.RoleUser),
				}
			}
			resp, err := client.Models.GenerateContent(ctx, model, genai.Text(a.Prompt), genCfg)
			if err != nil {
				return nil, fmt.Errorf("completion failed: %w", err)
			}
			return map[string]any{
				"model": model,
				"text":  resp.Text(),
			}, nil
		},
	}
}
