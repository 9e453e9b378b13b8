package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
)

// Evaluate is the callback bridge entry point. It accepts the JSON text an
// engine program passed to its evaluate hook, dispatches it to a tool, and
// always returns a JSON response text: tool-level failures come back as
// {"status":"error","message":…} rather than a Go error. The tool runs on a
// freshly spawned OS-thread-locked goroutine which is joined before
// returning, so a blocking engine thread never runs tool code directly.
func (m *Manager) Evaluate(ctx context.Context, input string) (string, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(input), &probe); err != nil {
		return errorJSON(fmt.Sprintf("invalid JSON input: %v", err)), nil
	}

	name := m.defaultTool
	args := json.RawMessage(input)
	if _, ok := probe["tool"]; ok {
		var req Request
		if err := json.Unmarshal([]byte(input), &req); err != nil || req.Tool == "" {
			return errorJSON("field \"tool\" must be a non-empty string"), nil
		}
		name = req.Tool
		args = req.Arguments
		if args == nil {
			args = json.RawMessage("{}")
		}
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		v, err := m.Execute(ctx, name, args)
		done <- outcome{value: v, err: err}
	}()
	res := <-done

	if res.err != nil {
		return errorJSON(res.err.Error()), nil
	}
	return successJSON(res.value)
}

// successJSON wraps a tool result. Object results are flattened next to the
// status field; anything else lands under "result".
func successJSON(v any) (string, error) {
	payload := map[string]any{"status": "success"}
	switch typed := v.(type) {
	case nil:
	case map[string]any:
		for k, val := range typed {
			if k != "status" {
				payload[k] = val
			}
		}
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("tool result is not JSON-marshalable: %w", err)
		}
		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err == nil {
			for k, val := range obj {
				if k != "status" {
					payload[k] = val
				}
			}
		} else {
			var plain any
			_ = json.Unmarshal(data, &plain)
			payload["result"] = plain
		}
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("cannot marshal bridge response: %w", err)
	}
	return string(out), nil
}

func errorJSON(msg string) string {
	out, _ := json.Marshal(map[string]any{"status": "error", "message": msg})
	return string(out)
}
