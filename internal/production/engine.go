package production

import (
	"sort"
	"strings"

	"reasond/internal/core"
)

// ForeignFn is a host function callable from rule programs. Arguments arrive
// fully evaluated.
type ForeignFn func(args []Value) (Value, error)

// Config bounds and shapes a single engine instance.
type Config struct {
	Limits   core.ResourceLimits
	DenyList []string
}

// DefaultConfig applies the standard resource budget and deny list.
func DefaultConfig() Config {
	return Config{
		Limits:   core.DefaultLimits(),
		DenyList: []string{"system", "load", "save", "open", "close"},
	}
}

// Fact is one entry in working memory. Fields[0] is the head symbol.
type Fact struct {
	Index  int
	Fields List
}

// Rule is a compiled defrule.
type Rule struct {
	Name     string
	Salience int
	patterns []pattern
	actions  []Value
	order    int // definition order, for agenda tie-breaks
}

type pattern struct {
	negated bool
	test    Value // non-nil for (test …) conditional elements
	fields  List
}

type deffactsBlock struct {
	name  string
	facts []List
}

// Engine is one session's production system. Not safe for concurrent use.
type Engine struct {
	cfg  Config
	deny map[string]bool

	facts     []*Fact
	factByKey map[string]*Fact
	nextFact  int

	rules     map[string]*Rule
	ruleOrder int
	deffacts  []deffactsBlock
	fired     map[string]bool // refraction memory

	foreign map[string]ForeignFn

	out    strings.Builder
	halted bool

	factsAdded int64
	rulesFired int64
}

// New builds an empty engine. Working memory starts blank; call Eval with
// (reset) to seed initial-fact and deffacts.
func New(cfg Config) *Engine {
	deny := make(map[string]bool, len(cfg.DenyList))
	for _, name := range cfg.DenyList {
		deny[name] = true
	}
	return &Engine{
		cfg:       cfg,
		deny:      deny,
		factByKey: make(map[string]*Fact),
		rules:     make(map[string]*Rule),
		fired:     make(map[string]bool),
		foreign:   make(map[string]ForeignFn),
	}
}

// RegisterForeign exposes a host function to rule programs. Registering an
// empty name or nil function is ignored.
func (e *Engine) RegisterForeign(name string, fn ForeignFn) {
	if name == "" || fn == nil {
		return
	}
	e.foreign[name] = fn
}

// Counts reports current working-memory and rule-base sizes.
func (e *Engine) Counts() (facts, rules int) {
	return len(e.facts), len(e.rules)
}

// TakeMetrics returns and resets the per-evaluation counters.
func (e *Engine) TakeMetrics() (factsAdded, rulesFired int64) {
	factsAdded, rulesFired = e.factsAdded, e.rulesFired
	e.factsAdded, e.rulesFired = 0, 0
	return
}

// Eval parses and evaluates every form in script, returning the captured
// printout output. When nothing was printed and the final form produced a
// value, its printed form is returned instead.
func (e *Engine) Eval(script string) (string, error) {
	forms, err := ReadAll(script)
	if err != nil {
		return "", err
	}
	e.out.Reset()
	e.halted = false

	var last Value = Void
	for _, form := range forms {
		last, err = e.eval(form, nil)
		if err != nil {
			return e.out.String(), err
		}
		if e.halted {
			break
		}
	}
	if out := e.out.String(); out != "" {
		return out, nil
	}
	if _, isVoid := last.(void); isVoid {
		return "", nil
	}
	return last.Form(), nil
}

// scope carries ?var bindings during rule firing and bind forms.
type scope struct {
	vars   map[Variable]Value
	parent *scope
}

func (s *scope) lookup(v Variable) (Value, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if val, ok := cur.vars[v]; ok {
			return val, true
		}
	}
	return nil, false
}

func (s *scope) bind(v Variable, val Value) {
	if s.vars == nil {
		s.vars = make(map[Variable]Value)
	}
	s.vars[v] = val
}

func (e *Engine) eval(form Value, sc *scope) (Value, error) {
	switch v := form.(type) {
	case Symbol, Str, Integer, Float:
		return v, nil
	case Variable:
		if sc != nil {
			if val, ok := sc.lookup(v); ok {
				return val, nil
			}
		}
		return nil, core.NewError(core.KindEngineError, "unbound variable %s", v)
	case List:
		return e.evalCall(v, sc)
	default:
		return v, nil
	}
}

func (e *Engine) evalCall(call List, sc *scope) (Value, error) {
	if len(call) == 0 {
		return nil, core.NewError(core.KindSyntaxError, "empty expression")
	}
	head, ok := call[0].(Symbol)
	if !ok {
		return nil, core.NewError(core.KindSyntaxError, "expression head must be a symbol, got %s", call[0].Form())
	}
	name := string(head)

	if e.deny[name] {
		return nil, core.NewError(core.KindCommandBlocked, "function %q is blocked by the security policy", name)
	}

	// Special forms evaluate their own arguments.
	switch name {
	case "defrule":
		return e.defrule(call[1:])
	case "deffacts":
		return e.defdeffacts(call[1:])
	case "assert":
		return e.assertForm(call[1:], sc)
	case "retract":
		return e.retractForm(call[1:], sc)
	case "if":
		return e.ifForm(call[1:], sc)
	case "bind":
		return e.bindForm(call[1:], sc)
	case "and":
		last := Value(True)
		for _, arg := range call[1:] {
			v, err := e.eval(arg, sc)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				return False, nil
			}
			last = v
		}
		return last, nil
	case "or":
		for _, arg := range call[1:] {
			v, err := e.eval(arg, sc)
			if err != nil {
				return nil, err
			}
			if truthy(v) {
				return v, nil
			}
		}
		return False, nil
	case "printout":
		return e.printout(call[1:], sc)
	case "run":
		return e.runForm(call[1:], sc)
	case "reset":
		return Void, e.Reset()
	case "clear":
		e.Clear()
		return Void, nil
	case "facts":
		e.listFacts()
		return Void, nil
	case "rules":
		e.listRules()
		return Void, nil
	case "halt":
		e.halted = true
		return Void, nil
	}

	args := make([]Value, 0, len(call)-1)
	for _, arg := range call[1:] {
		v, err := e.eval(arg, sc)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	if fn, ok := builtins[name]; ok {
		return fn(e, args)
	}
	if fn, ok := e.foreign[name]; ok {
		out, err := fn(args)
		if err != nil {
			return nil, core.WrapError(core.KindEngineError, err, "call to %s failed: %v", name, err)
		}
		if out == nil {
			out = Void
		}
		return out, nil
	}
	return nil, core.NewError(core.KindEngineError, "unknown function %q", name)
}

// assertFact adds one ground fact, returning it, or nil when it is a
// duplicate. Enforces the fact budget.
func (e *Engine) assertFact(fields List) (*Fact, error) {
	key := fields.Form()
	if _, dup := e.factByKey[key]; dup {
		return nil, nil
	}
	if len(e.facts) >= e.cfg.Limits.MaxFacts {
		return nil, core.NewError(core.KindResourceLimit, "fact limit reached (%d)", e.cfg.Limits.MaxFacts)
	}
	f := &Fact{Index: e.nextFact, Fields: fields}
	e.nextFact++
	e.facts = append(e.facts, f)
	e.factByKey[key] = f
	e.factsAdded++
	return f, nil
}

func (e *Engine) retractFact(f *Fact) {
	delete(e.factByKey, f.Fields.Form())
	for i, cur := range e.facts {
		if cur == f {
			e.facts = append(e.facts[:i], e.facts[i+1:]...)
			return
		}
	}
}

func (e *Engine) assertForm(args []Value, sc *scope) (Value, error) {
	var last Value = False
	for _, arg := range args {
		tmpl, ok := arg.(List)
		if !ok || len(tmpl) == 0 {
			return nil, core.NewError(core.KindSyntaxError, "assert expects fact forms, got %s", arg.Form())
		}
		fields := make(List, len(tmpl))
		for i, field := range tmpl {
			if i == 0 {
				if _, ok := field.(Symbol); !ok {
					return nil, core.NewError(core.KindSyntaxError, "fact head must be a symbol, got %s", field.Form())
				}
				fields[i] = field
				continue
			}
			v, err := e.eval(field, sc)
			if err != nil {
				return nil, err
			}
			fields[i] = v
		}
		f, err := e.assertFact(fields)
		if err != nil {
			return nil, err
		}
		if f == nil {
			last = False
		} else {
			last = Symbol("<Fact-" + Integer(f.Index).Form() + ">")
		}
	}
	return last, nil
}

func (e *Engine) retractForm(args []Value, sc *scope) (Value, error) {
	if len(args) == 0 {
		return nil, core.NewError(core.KindSyntaxError, "retract expects fact indexes or *")
	}
	if len(args) == 1 {
		if s, ok := args[0].(Symbol); ok && s == "*" {
			e.facts = nil
			e.factByKey = make(map[string]*Fact)
			return Void, nil
		}
	}
	for _, arg := range args {
		v, err := e.eval(arg, sc)
		if err != nil {
			return nil, err
		}
		idx, ok := v.(Integer)
		if !ok {
			return nil, core.NewError(core.KindSyntaxError, "retract expects integer fact indexes, got %s", v.Form())
		}
		var target *Fact
		for _, f := range e.facts {
			if f.Index == int(idx) {
				target = f
				break
			}
		}
		if target == nil {
			return nil, core.NewError(core.KindEngineError, "no fact with index %d", idx)
		}
		e.retractFact(target)
	}
	return Void, nil
}

// ifForm implements (if cond then act… [else act…]).
func (e *Engine) ifForm(args []Value, sc *scope) (Value, error) {
	if len(args) < 2 {
		return nil, core.NewError(core.KindSyntaxError, "if expects a condition and a then branch")
	}
	cond, err := e.eval(args[0], sc)
	if err != nil {
		return nil, err
	}
	if then, ok := args[1].(Symbol); !ok || then != "then" {
		return nil, core.NewError(core.KindSyntaxError, "if expects 'then' after the condition")
	}
	thenActs, elseActs := args[2:], []Value(nil)
	for i, a := range thenActs {
		if s, ok := a.(Symbol); ok && s == "else" {
			elseActs = thenActs[i+1:]
			thenActs = thenActs[:i]
			break
		}
	}
	acts := thenActs
	if !truthy(cond) {
		acts = elseActs
	}
	var last Value = Void
	for _, act := range acts {
		if last, err = e.eval(act, sc); err != nil {
			return nil, err
		}
	}
	return last, nil
}

func (e *Engine) bindForm(args []Value, sc *scope) (Value, error) {
	if len(args) != 2 {
		return nil, core.NewError(core.KindSyntaxError, "bind expects a variable and a value")
	}
	v, ok := args[0].(Variable)
	if !ok {
		return nil, core.NewError(core.KindSyntaxError, "bind expects a variable, got %s", args[0].Form())
	}
	if sc == nil {
		return nil, core.NewError(core.KindEngineError, "bind outside rule or function context")
	}
	val, err := e.eval(args[1], sc)
	if err != nil {
		return nil, err
	}
	sc.bind(v, val)
	return val, nil
}

func (e *Engine) printout(args []Value, sc *scope) (Value, error) {
	if len(args) == 0 {
		return nil, core.NewError(core.KindSyntaxError, "printout expects a router name")
	}
	// Only the t router is wired; output goes to the eval capture buffer.
	for _, arg := range args[1:] {
		if s, ok := arg.(Symbol); ok && s == "crlf" {
			e.out.WriteByte('\n')
			continue
		}
		v, err := e.eval(arg, sc)
		if err != nil {
			return nil, err
		}
		e.out.WriteString(display(v))
	}
	return Void, nil
}

// Reset clears working memory, seeds initial-fact as f-0 and re-asserts
// every deffacts block. Refraction memory is dropped.
func (e *Engine) Reset() error {
	e.facts = nil
	e.factByKey = make(map[string]*Fact)
	e.nextFact = 0
	e.fired = make(map[string]bool)
	if _, err := e.assertFact(List{Symbol("initial-fact")}); err != nil {
		return err
	}
	for _, block := range e.deffacts {
		for _, fields := range block.facts {
			if _, err := e.assertFact(fields); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clear removes facts, rules and deffacts. Foreign functions survive.
func (e *Engine) Clear() {
	e.facts = nil
	e.factByKey = make(map[string]*Fact)
	e.nextFact = 0
	e.rules = make(map[string]*Rule)
	e.ruleOrder = 0
	e.deffacts = nil
	e.fired = make(map[string]bool)
}

func (e *Engine) listFacts() {
	sorted := make([]*Fact, len(e.facts))
	copy(sorted, e.facts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	for _, f := range sorted {
		e.out.WriteString("f-" + Integer(f.Index).Form() + "     " + f.Fields.Form() + "\n")
	}
	e.out.WriteString("For a total of " + Integer(len(sorted)).Form() + " facts.\n")
}

func (e *Engine) listRules() {
	names := make([]string, 0, len(e.rules))
	for name := range e.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e.out.WriteString(name + "\n")
	}
}
