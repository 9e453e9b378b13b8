// Package production implements an embedded forward-chaining production
// system with CLIPS surface syntax: a working memory of ordered facts, rules
// with pattern/test/not conditional elements, a salience-ordered agenda with
// refraction, and a small builtin function set. Engines are single-threaded;
// the caller serializes access.
package production

import (
	"strconv"
	"strings"
)

// Value is any datum the engine evaluates or stores in working memory.
type Value interface {
	// Form returns the printed CLIPS form of the value.
	Form() string
}

// Symbol is a bare CLIPS symbol such as foo, TRUE or initial-fact.
type Symbol string

// Str is a double-quoted CLIPS string.
type Str string

// Integer is a CLIPS integer.
type Integer int64

// Float is a CLIPS float.
type Float float64

// Variable is a single-field pattern variable such as ?x.
type Variable string

// List is a parenthesized form: an expression, a fact pattern, or a fact.
type List []Value

const (
	// True and False are the CLIPS boolean symbols.
	True  = Symbol("TRUE")
	False = Symbol("FALSE")
)

// void is the result of forms with no value, such as printout.
type void struct{}

func (void) Form() string { return "" }

// Void is returned by side-effecting builtins.
var Void Value = void{}

func (s Symbol) Form() string { return string(s) }
func (s Str) Form() string    { return strconv.Quote(string(s)) }
func (i Integer) Form() string {
	return strconv.FormatInt(int64(i), 10)
}
func (f Float) Form() string {
	out := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if !strings.ContainsAny(out, ".eE") {
		out += ".0"
	}
	return out
}
func (v Variable) Form() string { return string(v) }

func (l List) Form() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = v.Form()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// truthy follows CLIPS semantics: everything except FALSE is true.
func truthy(v Value) bool {
	s, ok := v.(Symbol)
	return !ok || s != False
}

func boolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// display renders a value the way printout does: strings unquoted,
// everything else in printed form.
func display(v Value) string {
	if s, ok := v.(Str); ok {
		return string(s)
	}
	return v.Form()
}

// numeric pulls a Go float out of a numeric value.
func numeric(v Value) (float64, bool) {
	switch n := v.(type) {
	case Integer:
		return float64(n), true
	case Float:
		return float64(n), true
	}
	return 0, false
}

// valueEqual is structural equality in printed-form terms.
func valueEqual(a, b Value) bool {
	la, aok := a.(List)
	lb, bok := b.(List)
	if aok != bok {
		return false
	}
	if aok {
		if len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !valueEqual(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}
