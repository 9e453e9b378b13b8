package production

import (
	"math"
	"strings"

	"reasond/internal/core"
)

type builtinFn func(e *Engine, args []Value) (Value, error)

var builtins map[string]builtinFn

func init() {
	builtins = map[string]builtinFn{
		"+":       numericFold("+", func(a, b float64) float64 { return a + b }),
		"-":       numericFold("-", func(a, b float64) float64 { return a - b }),
		"*":       numericFold("*", func(a, b float64) float64 { return a * b }),
		"/":       divide,
		"mod":     modulo,
		"min":     numericFold("min", math.Min),
		"max":     numericFold("max", math.Max),
		"abs":     absFn,
		"<":       comparison("<", func(a, b float64) bool { return a < b }),
		"<=":      comparison("<=", func(a, b float64) bool { return a <= b }),
		">":       comparison(">", func(a, b float64) bool { return a > b }),
		">=":      comparison(">=", func(a, b float64) bool { return a >= b }),
		"=":       comparison("=", func(a, b float64) bool { return a == b }),
		"<>":      comparison("<>", func(a, b float64) bool { return a != b }),
		"eq":      eqFn(true),
		"neq":     eqFn(false),
		"not":     notFn,
		"str-cat": strCat(func(s string) Value { return Str(s) }),
		"sym-cat": strCat(func(s string) Value { return Symbol(s) }),
		"upcase":  caseFn(strings.ToUpper),
		"lowcase": caseFn(strings.ToLower),
		"length":  lengthFn,
	}
}

func argErr(fn, want string, got Value) error {
	return core.NewError(core.KindEngineError, "%s expects %s, got %s", fn, want, got.Form())
}

func toNumbers(fn string, args []Value) ([]float64, bool, error) {
	nums := make([]float64, len(args))
	allInt := true
	for i, a := range args {
		n, ok := numeric(a)
		if !ok {
			return nil, false, argErr(fn, "numbers", a)
		}
		if _, isInt := a.(Integer); !isInt {
			allInt = false
		}
		nums[i] = n
	}
	return nums, allInt, nil
}

func numberValue(n float64, asInt bool) Value {
	if asInt {
		return Integer(int64(n))
	}
	return Float(n)
}

func numericFold(name string, op func(a, b float64) float64) builtinFn {
	return func(e *Engine, args []Value) (Value, error) {
		if len(args) == 0 {
			return nil, core.NewError(core.KindEngineError, "%s expects at least one argument", name)
		}
		nums, allInt, err := toNumbers(name, args)
		if err != nil {
			return nil, err
		}
		acc := nums[0]
		if name == "-" && len(nums) == 1 {
			acc = -acc
		}
		for _, n := range nums[1:] {
			acc = op(acc, n)
		}
		return numberValue(acc, allInt), nil
	}
}

func divide(e *Engine, args []Value) (Value, error) {
	nums, allInt, err := toNumbers("/", args)
	if err != nil {
		return nil, err
	}
	if len(nums) < 2 {
		return nil, core.NewError(core.KindEngineError, "/ expects at least two arguments")
	}
	acc := nums[0]
	for _, n := range nums[1:] {
		if n == 0 {
			return nil, core.NewError(core.KindEngineError, "division by zero")
		}
		acc /= n
	}
	if allInt && acc == math.Trunc(acc) {
		return Integer(int64(acc)), nil
	}
	return Float(acc), nil
}

func modulo(e *Engine, args []Value) (Value, error) {
	if len(args) != 2 {
		return nil, core.NewError(core.KindEngineError, "mod expects two arguments")
	}
	a, aok := args[0].(Integer)
	b, bok := args[1].(Integer)
	if !aok || !bok {
		return nil, argErr("mod", "integers", args[0])
	}
	if b == 0 {
		return nil, core.NewError(core.KindEngineError, "division by zero")
	}
	return a % b, nil
}

func absFn(e *Engine, args []Value) (Value, error) {
	if len(args) != 1 {
		return nil, core.NewError(core.KindEngineError, "abs expects one argument")
	}
	switch n := args[0].(type) {
	case Integer:
		if n < 0 {
			return -n, nil
		}
		return n, nil
	case Float:
		return Float(math.Abs(float64(n))), nil
	}
	return nil, argErr("abs", "a number", args[0])
}

func comparison(name string, op func(a, b float64) bool) builtinFn {
	return func(e *Engine, args []Value) (Value, error) {
		if len(args) < 2 {
			return nil, core.NewError(core.KindEngineError, "%s expects at least two arguments", name)
		}
		nums, _, err := toNumbers(name, args)
		if err != nil {
			return nil, err
		}
		for i := 1; i < len(nums); i++ {
			if !op(nums[i-1], nums[i]) {
				return False, nil
			}
		}
		return True, nil
	}
}

func eqFn(want bool) builtinFn {
	return func(e *Engine, args []Value) (Value, error) {
		if len(args) < 2 {
			return nil, core.NewError(core.KindEngineError, "eq expects at least two arguments")
		}
		for _, a := range args[1:] {
			if valueEqual(args[0], a) != want {
				return False, nil
			}
		}
		return True, nil
	}
}

func notFn(e *Engine, args []Value) (Value, error) {
	if len(args) != 1 {
		return nil, core.NewError(core.KindEngineError, "not expects one argument")
	}
	return boolValue(!truthy(args[0])), nil
}

func strCat(wrap func(string) Value) builtinFn {
	return func(e *Engine, args []Value) (Value, error) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(display(a))
		}
		return wrap(b.String()), nil
	}
}

func caseFn(op func(string) string) builtinFn {
	return func(e *Engine, args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, core.NewError(core.KindEngineError, "expects one argument")
		}
		switch v := args[0].(type) {
		case Str:
			return Str(op(string(v))), nil
		case Symbol:
			return Symbol(op(string(v))), nil
		}
		return nil, argErr("upcase/lowcase", "a string or symbol", args[0])
	}
}

func lengthFn(e *Engine, args []Value) (Value, error) {
	if len(args) != 1 {
		return nil, core.NewError(core.KindEngineError, "length expects one argument")
	}
	switch v := args[0].(type) {
	case Str:
		return Integer(len(v)), nil
	case Symbol:
		return Integer(len(v)), nil
	case List:
		return Integer(len(v)), nil
	}
	return nil, argErr("length", "a string, symbol or list", args[0])
}
