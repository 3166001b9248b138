package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLT
	tokLE
	tokGT
	tokGE
	tokEQ
	tokNE
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func lex(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case r == '+':
			toks = append(toks, token{kind: tokPlus, pos: i})
			i++
		case r == '-':
			toks = append(toks, token{kind: tokMinus, pos: i})
			i++
		case r == '*':
			toks = append(toks, token{kind: tokStar, pos: i})
			i++
		case r == '/':
			toks = append(toks, token{kind: tokSlash, pos: i})
			i++
		case r == '<':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{kind: tokLE, pos: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokLT, pos: i})
				i++
			}
		case r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{kind: tokGE, pos: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokGT, pos: i})
				i++
			}
		case r == '=':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{kind: tokEQ, pos: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokEQ, pos: i})
				i++
			}
		case r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{kind: tokNE, pos: i})
				i += 2
			} else {
				return nil, apperr.New(apperr.KindParseError, "unexpected '!' at position %d", i)
			}
		case r == '"':
			j := i + 1
			for j < len(runes) && runes[j] != '"' {
				j++
			}
			if j >= len(runes) {
				return nil, apperr.New(apperr.KindParseError, "unterminated quoted field at position %d", i)
			}
			toks = append(toks, token{kind: tokIdent, text: string(runes[i+1 : j]), pos: i})
			i = j + 1
		case unicode.IsDigit(r) || r == '.':
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.' || runes[j] == 'e' || runes[j] == 'E' ||
				((runes[j] == '+' || runes[j] == '-') && j > i && (runes[j-1] == 'e' || runes[j-1] == 'E'))) {
				j++
			}
			text := string(runes[i:j])
			v, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, apperr.New(apperr.KindParseError, "malformed number %q at position %d", text, i)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: v, pos: i})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.') {
				j++
			}
			word := string(runes[i:j])
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, token{kind: tokAnd, pos: i})
			case "OR":
				toks = append(toks, token{kind: tokOr, pos: i})
			case "NOT":
				toks = append(toks, token{kind: tokNot, pos: i})
			default:
				toks = append(toks, token{kind: tokIdent, text: word, pos: i})
			}
			i = j
		default:
			return nil, apperr.New(apperr.KindParseError, "unexpected character %q at position %d", string(r), i)
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(runes)})
	return toks, nil
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokIdent:
		return fmt.Sprintf("field %q", t.text)
	case tokNumber:
		return fmt.Sprintf("number %s", t.text)
	default:
		return fmt.Sprintf("token at position %d", t.pos)
	}
}
