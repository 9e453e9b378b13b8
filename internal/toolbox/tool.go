// Package toolbox provides the tool registry and the callback bridge that
// lets engine programs invoke registered Go tools through a JSON protocol.
package toolbox

import (
	"context"
	"encoding/json"
)

// ExecuteFunc runs a tool. Arguments arrive as raw JSON; the result may be
// any JSON-marshalable value.
type ExecuteFunc func(ctx context.Context, args json.RawMessage) (any, error)

// Tool is a registered capability callable from engine programs.
type Tool struct {
	// Name uniquely identifies the tool.
	Name string
	// Description explains what the tool does.
	Description string
	// Category groups related tools for listing.
	Category string
	// Execute performs the tool's action.
	Execute ExecuteFunc
}

// Request is the dispatch shape of the callback bridge protocol.
type Request struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// Info is the listing shape returned by List.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}
