package production

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"reasond/internal/core"
)

// reader turns CLIPS source text into parsed forms.
type reader struct {
	src  []rune
	pos  int
	line int
}

func newReader(src string) *reader {
	return &reader{src: []rune(src), line: 1}
}

func syntaxErr(line int, format string, args ...any) error {
	return core.NewError(core.KindSyntaxError, "line %d: %s", line, fmt.Sprintf(format, args...))
}

// ReadAll parses every top-level form in src.
func ReadAll(src string) ([]Value, error) {
	r := newReader(src)
	var forms []Value
	for {
		r.skipSpace()
		if r.eof() {
			return forms, nil
		}
		form, err := r.readForm()
		if err != nil {
			return nil, err
		}
		forms = append(forms, form)
	}
}

func (r *reader) eof() bool { return r.pos >= len(r.src) }

func (r *reader) peek() rune { return r.src[r.pos] }

func (r *reader) next() rune {
	c := r.src[r.pos]
	r.pos++
	if c == '\n' {
		r.line++
	}
	return c
}

func (r *reader) skipSpace() {
	for !r.eof() {
		c := r.peek()
		switch {
		case unicode.IsSpace(c):
			r.next()
		case c == ';':
			for !r.eof() && r.peek() != '\n' {
				r.next()
			}
		default:
			return
		}
	}
}

func (r *reader) readForm() (Value, error) {
	r.skipSpace()
	if r.eof() {
		return nil, syntaxErr(r.line, "unexpected end of input")
	}
	switch c := r.peek(); {
	case c == '(':
		return r.readList()
	case c == ')':
		return nil, syntaxErr(r.line, "unexpected )")
	case c == '"':
		return r.readString()
	default:
		return r.readAtom()
	}
}

func (r *reader) readList() (Value, error) {
	open := r.line
	r.next() // (
	list := List{}
	for {
		r.skipSpace()
		if r.eof() {
			return nil, syntaxErr(open, "unterminated list")
		}
		if r.peek() == ')' {
			r.next()
			return list, nil
		}
		item, err := r.readForm()
		if err != nil {
			return nil, err
		}
		list = append(list, item)
	}
}

func (r *reader) readString() (Value, error) {
	open := r.line
	r.next() // "
	var b strings.Builder
	for {
		if r.eof() {
			return nil, syntaxErr(open, "unterminated string")
		}
		c := r.next()
		switch c {
		case '"':
			return Str(b.String()), nil
		case '\\':
			if r.eof() {
				return nil, syntaxErr(open, "unterminated string")
			}
			esc := r.next()
			switch esc {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(esc)
			}
		default:
			b.WriteRune(c)
		}
	}
}

func isDelimiter(c rune) bool {
	return unicode.IsSpace(c) || c == '(' || c == ')' || c == '"' || c == ';'
}

func (r *reader) readAtom() (Value, error) {
	line := r.line
	start := r.pos
	for !r.eof() && !isDelimiter(r.peek()) {
		r.next()
	}
	text := string(r.src[start:r.pos])

	switch {
	case strings.HasPrefix(text, "$?"):
		return nil, syntaxErr(line, "multifield variables are not supported: %s", text)
	case strings.HasPrefix(text, "?"):
		return Variable(text), nil
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Integer(i), nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return Float(f), nil
	}
	return Symbol(text), nil
}
