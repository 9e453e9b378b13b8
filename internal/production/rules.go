package production

import (
	"sort"
	"strconv"
	"strings"

	"reasond/internal/core"
)

func (e *Engine) defrule(args []Value) (Value, error) {
	if len(args) < 2 {
		return nil, core.NewError(core.KindSyntaxError, "defrule expects a name, patterns, => and actions")
	}
	name, ok := args[0].(Symbol)
	if !ok {
		return nil, core.NewError(core.KindSyntaxError, "defrule name must be a symbol, got %s", args[0].Form())
	}
	body := args[1:]
	// Optional docstring.
	if len(body) > 0 {
		if _, isStr := body[0].(Str); isStr {
			body = body[1:]
		}
	}

	rule := &Rule{Name: string(name), order: e.ruleOrder}

	// Optional (declare (salience N)).
	if len(body) > 0 {
		if decl, ok := body[0].(List); ok && len(decl) >= 2 {
			if head, ok := decl[0].(Symbol); ok && head == "declare" {
				sal, ok := decl[1].(List)
				if !ok || len(sal) != 2 {
					return nil, core.NewError(core.KindSyntaxError, "declare expects (salience N)")
				}
				if sh, ok := sal[0].(Symbol); !ok || sh != "salience" {
					return nil, core.NewError(core.KindSyntaxError, "declare expects (salience N)")
				}
				n, ok := sal[1].(Integer)
				if !ok {
					return nil, core.NewError(core.KindSyntaxError, "salience must be an integer")
				}
				rule.Salience = int(n)
				body = body[1:]
			}
		}
	}

	arrow := -1
	for i, form := range body {
		if s, ok := form.(Symbol); ok && s == "=>" {
			arrow = i
			break
		}
	}
	if arrow < 0 {
		return nil, core.NewError(core.KindSyntaxError, "defrule %s is missing =>", name)
	}

	for _, form := range body[:arrow] {
		p, err := compilePattern(form)
		if err != nil {
			return nil, err
		}
		rule.patterns = append(rule.patterns, p)
	}
	if len(rule.patterns) == 0 {
		// A rule with an empty LHS matches initial-fact, as in CLIPS.
		rule.patterns = []pattern{{fields: List{Symbol("initial-fact")}}}
	}
	rule.actions = body[arrow+1:]

	if _, exists := e.rules[rule.Name]; !exists && len(e.rules) >= e.cfg.Limits.MaxRules {
		return nil, core.NewError(core.KindResourceLimit, "rule limit reached (%d)", e.cfg.Limits.MaxRules)
	}
	e.rules[rule.Name] = rule
	e.ruleOrder++
	return Void, nil
}

func compilePattern(form Value) (pattern, error) {
	list, ok := form.(List)
	if !ok || len(list) == 0 {
		return pattern{}, core.NewError(core.KindSyntaxError, "rule pattern must be a non-empty list, got %s", form.Form())
	}
	if head, ok := list[0].(Symbol); ok {
		switch head {
		case "not":
			if len(list) != 2 {
				return pattern{}, core.NewError(core.KindSyntaxError, "not expects one pattern")
			}
			inner, err := compilePattern(list[1])
			if err != nil {
				return pattern{}, err
			}
			if inner.negated || inner.test != nil {
				return pattern{}, core.NewError(core.KindSyntaxError, "not cannot wrap not or test")
			}
			inner.negated = true
			return inner, nil
		case "test":
			if len(list) != 2 {
				return pattern{}, core.NewError(core.KindSyntaxError, "test expects one expression")
			}
			return pattern{test: list[1]}, nil
		}
	}
	if _, ok := list[0].(Symbol); !ok {
		return pattern{}, core.NewError(core.KindSyntaxError, "pattern head must be a symbol, got %s", list[0].Form())
	}
	return pattern{fields: list}, nil
}

type activation struct {
	rule     *Rule
	bindings map[Variable]Value
	factIdx  []int
	recency  int
}

func (a activation) key() string {
	parts := make([]string, 0, len(a.factIdx)+1)
	parts = append(parts, a.rule.Name)
	for _, idx := range a.factIdx {
		parts = append(parts, strconv.Itoa(idx))
	}
	return strings.Join(parts, ",")
}

// matchFields unifies a pattern field list against a fact, extending
// bindings. A bare ? matches anything without binding.
func matchFields(pat, fact List, bindings map[Variable]Value) (map[Variable]Value, bool) {
	if len(pat) != len(fact) {
		return nil, false
	}
	for i := range pat {
		switch p := pat[i].(type) {
		case Variable:
			if p == "?" {
				continue
			}
			if bound, ok := bindings[p]; ok {
				if !valueEqual(bound, fact[i]) {
					return nil, false
				}
				continue
			}
			next := make(map[Variable]Value, len(bindings)+1)
			for k, v := range bindings {
				next[k] = v
			}
			next[p] = fact[i]
			bindings = next
		case List:
			inner, ok := fact[i].(List)
			if !ok {
				return nil, false
			}
			var matched bool
			if bindings, matched = matchFields(p, inner, bindings); !matched {
				return nil, false
			}
		default:
			if !valueEqual(pat[i], fact[i]) {
				return nil, false
			}
		}
	}
	return bindings, true
}

// activations computes every current activation of rule via backtracking
// over the positive patterns.
func (e *Engine) activations(rule *Rule) ([]activation, error) {
	var out []activation
	var walk func(i int, bindings map[Variable]Value, used []int) error
	walk = func(i int, bindings map[Variable]Value, used []int) error {
		if i == len(rule.patterns) {
			recency := -1
			for _, idx := range used {
				if idx > recency {
					recency = idx
				}
			}
			out = append(out, activation{
				rule:     rule,
				bindings: bindings,
				factIdx:  append([]int(nil), used...),
				recency:  recency,
			})
			return nil
		}
		p := rule.patterns[i]
		switch {
		case p.test != nil:
			sc := &scope{vars: bindings}
			v, err := e.eval(p.test, sc)
			if err != nil {
				return err
			}
			if !truthy(v) {
				return nil
			}
			return walk(i+1, bindings, used)
		case p.negated:
			for _, f := range e.facts {
				if _, ok := matchFields(p.fields, f.Fields, bindings); ok {
					return nil
				}
			}
			return walk(i+1, bindings, used)
		default:
			for _, f := range e.facts {
				next, ok := matchFields(p.fields, f.Fields, bindings)
				if !ok {
					continue
				}
				if err := walk(i+1, next, append(used, f.Index)); err != nil {
					return err
				}
			}
			return nil
		}
	}
	err := walk(0, map[Variable]Value{}, nil)
	return out, err
}

// agenda collects unfired activations of every rule, ordered by salience,
// then recency, then definition order.
func (e *Engine) agenda() ([]activation, error) {
	var all []activation
	for _, rule := range e.rules {
		acts, err := e.activations(rule)
		if err != nil {
			return nil, err
		}
		for _, act := range acts {
			if !e.fired[act.key()] {
				all = append(all, act)
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].rule.Salience != all[j].rule.Salience {
			return all[i].rule.Salience > all[j].rule.Salience
		}
		if all[i].recency != all[j].recency {
			return all[i].recency > all[j].recency
		}
		return all[i].rule.order < all[j].rule.order
	})
	return all, nil
}

// Run fires rules until quiescence or the step bound. A negative bound
// means no bound.
func (e *Engine) Run(maxSteps int) (int, error) {
	fired := 0
	for maxSteps < 0 || fired < maxSteps {
		if e.halted {
			break
		}
		agenda, err := e.agenda()
		if err != nil {
			return fired, err
		}
		if len(agenda) == 0 {
			break
		}
		act := agenda[0]
		e.fired[act.key()] = true
		e.rulesFired++
		fired++
		sc := &scope{vars: act.bindings}
		for _, action := range act.rule.actions {
			if _, err := e.eval(action, sc); err != nil {
				return fired, err
			}
			if e.halted {
				break
			}
		}
	}
	return fired, nil
}

func (e *Engine) runForm(args []Value, sc *scope) (Value, error) {
	limit := -1
	if len(args) == 1 {
		v, err := e.eval(args[0], sc)
		if err != nil {
			return nil, err
		}
		n, ok := v.(Integer)
		if !ok {
			return nil, core.NewError(core.KindSyntaxError, "run expects an integer bound, got %s", v.Form())
		}
		limit = int(n)
	} else if len(args) > 1 {
		return nil, core.NewError(core.KindSyntaxError, "run expects at most one argument")
	}
	fired, err := e.Run(limit)
	if err != nil {
		return nil, err
	}
	return Integer(fired), nil
}

func (e *Engine) defdeffacts(args []Value) (Value, error) {
	if len(args) < 1 {
		return nil, core.NewError(core.KindSyntaxError, "deffacts expects a name")
	}
	name, ok := args[0].(Symbol)
	if !ok {
		return nil, core.NewError(core.KindSyntaxError, "deffacts name must be a symbol, got %s", args[0].Form())
	}
	body := args[1:]
	if len(body) > 0 {
		if _, isStr := body[0].(Str); isStr {
			body = body[1:]
		}
	}
	block := deffactsBlock{name: string(name)}
	for _, form := range body {
		fields, ok := form.(List)
		if !ok || len(fields) == 0 {
			return nil, core.NewError(core.KindSyntaxError, "deffacts entries must be fact forms, got %s", form.Form())
		}
		for _, field := range fields {
			if _, isVar := field.(Variable); isVar {
				return nil, core.NewError(core.KindSyntaxError, "deffacts entries must be ground, got %s", form.Form())
			}
		}
		block.facts = append(block.facts, fields)
	}
	// Redefinition replaces the previous block of the same name.
	for i, existing := range e.deffacts {
		if existing.name == block.name {
			e.deffacts[i] = block
			return Void, nil
		}
	}
	e.deffacts = append(e.deffacts, block)
	return Void, nil
}
