package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"reasond/internal/toolbox"
)

type datalogArgs struct {
	Facts []string `json:"facts,omitempty"`
	Rules []string `json:"rules,omitempty"`
	Query string   `json:"query"`
}

// datalogTool evaluates a self-contained Datalog program with Mangle and
// returns the rows matching the query atom. Constants in the query filter
// rows; variables become binding columns.
func datalogTool() toolbox.Tool {
	return toolbox.Tool{
		Name:        "datalog",
		Description: "Evaluates a Datalog program and returns query bindings",
		Category:    "reasoning",
		Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
			var a datalogArgs
			if err := json.Unmarshal(args, &a); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
			if strings.TrimSpace(a.Query) == "" {
				return nil, fmt.Errorf("missing required argument: query")
			}

			var src strings.Builder
			for _, line := range append(append([]string{}, a.Facts...), a.Rules...) {
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				src.WriteString(line)
				if !strings.HasSuffix(line, ".") {
					src.WriteString(".")
				}
				src.WriteString("\n")
			}

			unit, err := parse.Unit(bytes.NewReader([]byte(src.String())))
			if err != nil {
				return nil, fmt.Errorf("parse program: %w", err)
			}
			programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
			if err != nil {
				return nil, fmt.Errorf("analyze program: %w", err)
			}
			store := factstore.NewSimpleInMemoryStore()
			if _, err := mengine.EvalProgramWithStats(programInfo, store); err != nil {
				return nil, fmt.Errorf("evaluate program: %w", err)
			}

			queryAtom, err := parseQueryAtom(a.Query)
			if err != nil {
				return nil, err
			}

			var rows []map[string]any
			err = store.GetFacts(ast.NewQuery(queryAtom.Predicate), func(fact ast.Atom) error {
				row := make(map[string]any)
				if len(fact.Args) != len(queryAtom.Args) {
					return nil
				}
				for i, arg := range queryAtom.Args {
					if v, ok := arg.(ast.Variable); ok {
						if v.Symbol != "_" {
							row[v.Symbol] = baseTermToValue(fact.Args[i])
						}
						continue
					}
					if arg.String() != fact.Args[i].String() {
						return nil
					}
				}
				rows = append(rows, row)
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("query store: %w", err)
			}
			return map[string]any{
				"rows":  rows,
				"count": len(rows),
			}, nil
		},
	}
}

func parseQueryAtom(query string) (ast.Atom, error) {
	clean := strings.TrimSpace(query)
	clean = strings.TrimPrefix(clean, "?")
	clean = strings.TrimSuffix(strings.TrimSpace(clean), ".")
	atom, err := parse.Atom(clean)
	if err != nil {
		atom, err = parse.Atom(clean + ".")
		if err != nil {
			return ast.Atom{}, fmt.Errorf("parse query %q: %w", query, err)
		}
	}
	return atom, nil
}

func baseTermToValue(term ast.BaseTerm) any {
	switch v := term.(type) {
	case ast.Constant:
		switch v.Type {
		case ast.StringType, ast.NameType, ast.BytesType:
			return v.Symbol
		case ast.NumberType:
			return v.NumValue
		case ast.Float64Type:
			return math.Float64frombits(uint64(v.NumValue))
		default:
			return v.String()
		}
	case ast.Variable:
		return v.Symbol
	default:
		return term.String()
	}
}
