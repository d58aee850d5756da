package formula

import (
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// lex splits src into tokens. Characters outside the arithmetic grammar are
// rejected here, so comparisons, logical operators and argument lists never
// reach the parser.
func lex(src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		r, w := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += w
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i += w
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i += w
		case r == '+' || r == '-' || r == '*' || r == '/':
			if next := i + w; next < len(src) && (r == '*' || r == '/') && rune(src[next]) == r {
				return nil, fmt.Errorf("operator %q at %d is not allowed", src[i:next+1], i)
			}
			toks = append(toks, token{kind: tokOp, text: string(r), pos: i})
			i += w
		case isDigit(r) || r == '.':
			j := scanNumber(src, i)
			v, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil && !isRangeErr(err) {
				return nil, fmt.Errorf("bad number %q at %d", src[i:j], i)
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], num: v, pos: i})
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i + w
			for j < len(src) {
				r2, w2 := utf8.DecodeRuneInString(src[j:])
				if r2 != '_' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				j += w2
			}
			name := src[i:j]
			if _, reserved := keywords[name]; reserved {
				return nil, fmt.Errorf("keyword %q at %d is not allowed", name, i)
			}
			toks = append(toks, token{kind: tokIdent, text: name, pos: i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", r, i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

var keywords = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "in": {}, "is": {},
	"if": {}, "else": {}, "lambda": {},
	"True": {}, "False": {}, "None": {},
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// scanNumber returns the end of a decimal literal starting at i:
// digits, an optional fraction and an optional exponent.
func scanNumber(src string, i int) int {
	j := i
	for j < len(src) && isDigit(rune(src[j])) {
		j++
	}
	if j < len(src) && src[j] == '.' {
		j++
		for j < len(src) && isDigit(rune(src[j])) {
			j++
		}
	}
	if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
		k := j + 1
		if k < len(src) && (src[k] == '+' || src[k] == '-') {
			k++
		}
		if k < len(src) && isDigit(rune(src[k])) {
			for k < len(src) && isDigit(rune(src[k])) {
				k++
			}
			j = k
		}
	}
	return j
}

// Overflowing literals parse to ±Inf and are caught by the result check.
func isRangeErr(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}
