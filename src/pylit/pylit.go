// Package pylit decodes and encodes the Python literal syntax used by
// pyControl: task print payloads arrive as repr()'d dicts and calibration
// results files are stored as a dict literal readable by ast.literal_eval.
//
// The supported subset is what repr() emits for plain data: dicts, lists,
// tuples, strings, integers, floats, booleans and None.
package pylit

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrSyntax reports malformed literal text. Returned errors wrap it and
// include the byte offset of the problem.
var ErrSyntax = errors.New("invalid python literal")

// Dict is a decoded Python dict. Keys preserves source order. Integer keys
// are stored in decimal string form; FormatKey restores them on encode.
type Dict struct {
	Keys   []string
	Values map[string]any
}

// Float returns the value for key as a float64. Integer values convert.
func (d *Dict) Float(key string) (float64, bool) {
	switch t := d.Values[key].(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// Int returns the value for key as an int. Float values must be integral.
func (d *Dict) Int(key string) (int, bool) {
	switch t := d.Values[key].(type) {
	case int64:
		return int(t), true
	case float64:
		if !math.IsInf(t, 0) && t == math.Trunc(t) {
			return int(t), true
		}
	}
	return 0, false
}

// ScalarString renders a decoded scalar the way pyControl tasks identify
// pokes: strings pass through, integers format in decimal.
func ScalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case int64:
		return strconv.FormatInt(t, 10), true
	}
	return "", false
}

// Parse decodes a single Python literal. Decoded values are mapped to
// *Dict, []any (lists and tuples), string, int64, float64, bool and nil.
func Parse(src string) (any, error) {
	p := &parser{src: src}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errf("trailing data")
	}
	return v, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) errf(format string, args ...any) error {
	return fmt.Errorf("%w: %s at offset %d", ErrSyntax, fmt.Sprintf(format, args...), p.pos)
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) value() (any, error) {
	if p.pos >= len(p.src) {
		return nil, p.errf("unexpected end of input")
	}
	switch c := p.src[p.pos]; {
	case c == '{':
		return p.dict()
	case c == '[':
		return p.seq(']')
	case c == '(':
		return p.seq(')')
	case c == '\'' || c == '"':
		return p.str()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case isIdentByte(c):
		return p.ident()
	default:
		return nil, p.errf("unexpected character %q", c)
	}
}

func (p *parser) dict() (*Dict, error) {
	p.pos++ // '{'
	d := &Dict{Values: map[string]any{}}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, p.errf("unterminated dict")
		}
		if p.src[p.pos] == '}' {
			p.pos++
			return d, nil
		}
		kv, err := p.value()
		if err != nil {
			return nil, err
		}
		key, ok := ScalarString(kv)
		if !ok {
			return nil, p.errf("unsupported dict key type %T", kv)
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ':' {
			return nil, p.errf("expected ':' after dict key")
		}
		p.pos++
		p.skipSpace()
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		if _, dup := d.Values[key]; !dup {
			d.Keys = append(d.Keys, key)
		}
		d.Values[key] = v
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.pos < len(p.src) && p.src[p.pos] == '}' {
			p.pos++
			return d, nil
		}
		return nil, p.errf("expected ',' or '}'")
	}
}

func (p *parser) seq(closing byte) ([]any, error) {
	p.pos++ // opening bracket
	items := []any{}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, p.errf("unterminated sequence")
		}
		if p.src[p.pos] == closing {
			p.pos++
			return items, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
			continue
		}
		if p.pos < len(p.src) && p.src[p.pos] == closing {
			p.pos++
			return items, nil
		}
		return nil, p.errf("expected ',' or %q", closing)
	}
}

func (p *parser) str() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return "", p.errf("unterminated escape")
			}
			switch e := p.src[p.pos]; e {
			case '\\', '\'', '"':
				b.WriteByte(e)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '0':
				b.WriteByte(0)
			default:
				return "", p.errf("unsupported escape \\%c", e)
			}
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", p.errf("unterminated string")
}

func (p *parser) number() (any, error) {
	start := p.pos
	if c := p.src[p.pos]; c == '-' || c == '+' {
		p.pos++
	}
	isFloat := false
scan:
	for p.pos < len(p.src) {
		switch c := p.src[p.pos]; {
		case c >= '0' && c <= '9':
			p.pos++
		case c == '.':
			isFloat = true
			p.pos++
		case c == 'e' || c == 'E':
			isFloat = true
			p.pos++
			if p.pos < len(p.src) && (p.src[p.pos] == '-' || p.src[p.pos] == '+') {
				p.pos++
			}
		default:
			break scan
		}
	}
	text := p.src[start:p.pos]
	if !isFloat {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, nil
		}
		// out of int64 range, fall through to float
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, p.errf("bad number %q", text)
	}
	return f, nil
}

func (p *parser) ident() (any, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentByte(p.src[p.pos]) {
		p.pos++
	}
	switch word := p.src[start:p.pos]; word {
	case "True":
		return true, nil
	case "False":
		return false, nil
	case "None":
		return nil, nil
	default:
		return nil, p.errf("unknown identifier %q", word)
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// FormatFloat renders a finite v the way Python's repr does: integral values
// keep a trailing ".0", everything else uses the shortest decimal form that
// round-trips.
func FormatFloat(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// FormatKey renders a poke identifier as a Python dict key: plain decimal
// integers go bare, everything else single-quoted. Pokes parsed from integer
// keys therefore serialize back as integers.
func FormatKey(s string) string {
	if isDecimal(s) {
		return s
	}
	return Quote(s)
}

func isDecimal(s string) bool {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Quote renders s as a single-quoted Python string literal.
func Quote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '\'':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}
