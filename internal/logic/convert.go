package logic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ichiban/prolog/engine"
)

var (
	atomTrue      = engine.NewAtom("true")
	atomFalse     = engine.NewAtom("false")
	atomEmptyList = engine.NewAtom("[]")
	atomDot       = engine.NewAtom(".")
	atomDash      = engine.NewAtom("-")
)

// atomText returns the unquoted text of an atom.
func atomText(a engine.Atom) string {
	s := a.String()
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		s = strings.ReplaceAll(s[1:len(s)-1], `\'`, `'`)
	}
	return s
}

// termToJSON converts a resolved term into its JSON value following the
// fixed mapping: unbound variable -> null, true/false atoms -> booleans,
// [] -> empty array, atoms -> strings, numbers -> numbers, proper lists ->
// arrays, -(K,V) -> single-pair object, other compounds ->
// {"functor": name, "args": [...]}.
func termToJSON(t engine.Term, env *engine.Env) any {
	switch x := env.Resolve(t).(type) {
	case engine.Variable:
		return nil
	case engine.Atom:
		switch x {
		case atomTrue:
			return true
		case atomFalse:
			return false
		case atomEmptyList:
			return []any{}
		default:
			return atomText(x)
		}
	case engine.Integer:
		return int64(x)
	case engine.Float:
		return float64(x)
	case engine.Compound:
		if x.Functor() == atomDash && x.Arity() == 2 {
			key := env.Resolve(x.Arg(0))
			var name string
			if a, ok := key.(engine.Atom); ok {
				name = atomText(a)
			} else {
				name = formatTerm(key, env)
			}
			return map[string]any{name: termToJSON(x.Arg(1), env)}
		}
		if x.Functor() == atomDot && x.Arity() == 2 {
			items, proper := listSlice(x, env)
			if !proper {
				return formatTerm(x, env)
			}
			out := make([]any, len(items))
			for i, item := range items {
				out[i] = termToJSON(item, env)
			}
			return out
		}
		args := make([]any, x.Arity())
		for i := range args {
			args[i] = termToJSON(x.Arg(i), env)
		}
		return map[string]any{"functor": atomText(x.Functor()), "args": args}
	default:
		return formatTerm(x, env)
	}
}

// listSlice walks a cons chain; proper is false when the tail is anything
// other than [].
func listSlice(t engine.Term, env *engine.Env) (items []engine.Term, proper bool) {
	cur := env.Resolve(t)
	for {
		c, ok := cur.(engine.Compound)
		if !ok || c.Functor() != atomDot || c.Arity() != 2 {
			break
		}
		items = append(items, c.Arg(0))
		cur = env.Resolve(c.Arg(1))
	}
	if a, ok := cur.(engine.Atom); ok && a == atomEmptyList {
		return items, true
	}
	return items, false
}

// jsonToTerm is the inverse mapping. Object pairs become -(K,V) compounds;
// multi-key objects become a list of pairs with sorted keys.
func jsonToTerm(v any) engine.Term {
	switch x := v.(type) {
	case nil:
		return engine.NewVariable()
	case bool:
		if x {
			return atomTrue
		}
		return atomFalse
	case string:
		return engine.NewAtom(x)
	case float64:
		if x == float64(int64(x)) {
			return engine.Integer(int64(x))
		}
		return engine.Float(x)
	case int64:
		return engine.Integer(x)
	case []any:
		items := make([]engine.Term, len(x))
		for i, item := range x {
			items[i] = jsonToTerm(item)
		}
		return engine.List(items...)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]engine.Term, len(keys))
		for i, k := range keys {
			pairs[i] = atomDash.Apply(engine.NewAtom(k), jsonToTerm(x[k]))
		}
		if len(pairs) == 1 {
			return pairs[0]
		}
		return engine.List(pairs...)
	default:
		return engine.NewAtom(fmt.Sprint(x))
	}
}

// formatTerm renders a term as text for fallbacks and error messages.
func formatTerm(t engine.Term, env *engine.Env) string {
	switch x := env.Resolve(t).(type) {
	case engine.Variable:
		return "_"
	case engine.Atom:
		return atomText(x)
	case engine.Integer:
		return fmt.Sprintf("%d", int64(x))
	case engine.Float:
		return fmt.Sprintf("%g", float64(x))
	case engine.Compound:
		if x.Functor() == atomDot && x.Arity() == 2 {
			items, proper := listSlice(x, env)
			parts := make([]string, len(items))
			for i, item := range items {
				parts[i] = formatTerm(item, env)
			}
			if proper {
				return "[" + strings.Join(parts, ",") + "]"
			}
			tail := env.Resolve(x.Arg(1))
			for {
				c, ok := tail.(engine.Compound)
				if !ok || c.Functor() != atomDot || c.Arity() != 2 {
					break
				}
				tail = env.Resolve(c.Arg(1))
			}
			return "[" + strings.Join(parts, ",") + "|" + formatTerm(tail, env) + "]"
		}
		parts := make([]string, x.Arity())
		for i := range parts {
			parts[i] = formatTerm(x.Arg(i), env)
		}
		return atomText(x.Functor()) + "(" + strings.Join(parts, ",") + ")"
	default:
		return fmt.Sprint(x)
	}
}

// textOfTerm extracts Go text from an atom or a code/char list argument.
func textOfTerm(t engine.Term, env *engine.Env) (string, bool) {
	switch x := env.Resolve(t).(type) {
	case engine.Atom:
		return atomText(x), true
	case engine.Compound:
		items, proper := listSlice(x, env)
		if !proper {
			return "", false
		}
		var b strings.Builder
		for _, item := range items {
			switch c := env.Resolve(item).(type) {
			case engine.Integer:
				b.WriteRune(rune(c))
			case engine.Atom:
				b.WriteString(atomText(c))
			default:
				return "", false
			}
		}
		return b.String(), true
	}
	return "", false
}
