package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func bridgeManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager("")
	m.MustRegister(echoTool())
	m.MustRegister(Tool{
		Name: "evaluate",
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			return map[string]any{"evaluated": string(args)}, nil
		},
	})
	m.MustRegister(Tool{
		Name: "fail",
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, errors.New("backend unreachable")
		},
	})
	m.MustRegister(Tool{
		Name: "panic",
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			panic("unexpected state")
		},
	})
	return m
}

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("bridge returned invalid JSON %q: %v", raw, err)
	}
	return out
}

func TestBridgeToolDispatch(t *testing.T) {
	m := bridgeManager(t)
	raw, err := m.Evaluate(context.Background(), `{"tool":"echo","arguments":{"x":1}}`)
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, raw)
	if out["status"] != "success" {
		t.Errorf("status = %v", out["status"])
	}
	echoed, ok := out["echoed"].(map[string]any)
	if !ok || echoed["x"] != float64(1) {
		t.Errorf("echoed = %v", out["echoed"])
	}
}

func TestBridgeDefaultEvaluator(t *testing.T) {
	m := bridgeManager(t)
	raw, err := m.Evaluate(context.Background(), `{"prompt":"is it safe?"}`)
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, raw)
	if out["status"] != "success" {
		t.Fatalf("status = %v", out["status"])
	}
	if evaluated, _ := out["evaluated"].(string); !strings.Contains(evaluated, "is it safe?") {
		t.Errorf("default evaluator did not receive whole payload: %v", out["evaluated"])
	}
}

func TestBridgeInvalidJSON(t *testing.T) {
	m := bridgeManager(t)
	raw, err := m.Evaluate(context.Background(), "{not json")
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, raw)
	if out["status"] != "error" {
		t.Errorf("status = %v, want error", out["status"])
	}
	if out["message"] == "" {
		t.Error("missing message")
	}
}

func TestBridgeToolFailure(t *testing.T) {
	m := bridgeManager(t)
	raw, err := m.Evaluate(context.Background(), `{"tool":"fail"}`)
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, raw)
	if out["status"] != "error" {
		t.Errorf("status = %v", out["status"])
	}
	if msg, _ := out["message"].(string); !strings.Contains(msg, "backend unreachable") {
		t.Errorf("message = %v", out["message"])
	}
}

func TestBridgeUnknownTool(t *testing.T) {
	m := bridgeManager(t)
	raw, err := m.Evaluate(context.Background(), `{"tool":"missing"}`)
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, raw)
	if out["status"] != "error" {
		t.Errorf("status = %v", out["status"])
	}
}

func TestBridgeRecoversPanic(t *testing.T) {
	m := bridgeManager(t)
	raw, err := m.Evaluate(context.Background(), `{"tool":"panic"}`)
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, raw)
	if out["status"] != "error" {
		t.Errorf("status = %v", out["status"])
	}
	if msg, _ := out["message"].(string); !strings.Contains(msg, "panicked") {
		t.Errorf("message = %v", out["message"])
	}
}

func TestBridgeEmptyToolField(t *testing.T) {
	m := bridgeManager(t)
	raw, err := m.Evaluate(context.Background(), `{"tool":""}`)
	if err != nil {
		t.Fatal(err)
	}
	out := decode(t, raw)
	if out["status"] != "error" {
		t.Errorf("status = %v", out["status"])
	}
}
