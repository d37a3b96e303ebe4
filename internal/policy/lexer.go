package policy

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokenThingName tokenKind = iota
	tokenColon
	tokenAnd
	tokenOr
	tokenIdent
	tokenEOF
)

type token struct {
	kind  tokenKind
	value string
}

// lex tokenizes a principal rule expression. Grammar (normative):
//
//	start := or
//	or    := and ('OR' and)*
//	and   := unary ('AND' unary)*
//	unary := 'thingName' ':' ident
//	ident := [A-Za-z0-9_\-\\:]+ ('*')?
//
// An unescaped ':' inside an ident is a lexer error; '\:' escapes one
// colon into the ident's value.
func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	i := 0
	n := len(runes)

	skipSpace := func() {
		for i < n && isSpace(runes[i]) {
			i++
		}
	}

	for {
		skipSpace()
		if i >= n {
			tokens = append(tokens, token{kind: tokenEOF})
			return tokens, nil
		}

		switch {
		case hasKeywordAt(runes, i, "thingName"):
			tokens = append(tokens, token{kind: tokenThingName})
			i += len("thingName")
		case hasKeywordAt(runes, i, "AND"):
			tokens = append(tokens, token{kind: tokenAnd})
			i += len("AND")
		case hasKeywordAt(runes, i, "OR"):
			tokens = append(tokens, token{kind: tokenOr})
			i += len("OR")
		case runes[i] == ':':
			tokens = append(tokens, token{kind: tokenColon})
			i++
		default:
			ident, consumed, err := lexIdent(runes[i:])
			if err != nil {
				return nil, err
			}
			if consumed == 0 {
				return nil, fmt.Errorf("unexpected character %q at position %d", runes[i], i)
			}
			tokens = append(tokens, token{kind: tokenIdent, value: ident})
			i += consumed
		}
	}
}

// lexIdent consumes one ident token from the start of runes: letters,
// digits, '_', '-', and escaped colons ('\:'), with at most a single
// leading and/or trailing '*'. It stops at whitespace or EOF. An
// unescaped ':' is a lexer error.
func lexIdent(runes []rune) (value string, consumed int, err error) {
	var b strings.Builder
	i := 0
	n := len(runes)

	for i < n && !isSpace(runes[i]) {
		switch runes[i] {
		case '\\':
			if i+1 < n && runes[i+1] == ':' {
				b.WriteRune(':')
				i += 2
				continue
			}
			return "", 0, fmt.Errorf("dangling escape at position %d", i)
		case ':':
			return "", 0, fmt.Errorf("unescaped ':' inside ident at position %d (use '\\:' to escape)", i)
		default:
			if runes[i] != '*' && !isIdentChar(runes[i]) {
				return "", 0, fmt.Errorf("unexpected character %q inside ident at position %d", runes[i], i)
			}
			b.WriteRune(runes[i])
			i++
		}
	}

	ident := b.String()
	if err := validateWildcardPlacement(ident); err != nil {
		return "", 0, err
	}
	return ident, i, nil
}

// validateWildcardPlacement enforces "no interior '*' other than a
// leading and/or trailing one".
func validateWildcardPlacement(ident string) error {
	interior := ident
	interior = strings.TrimPrefix(interior, "*")
	interior = strings.TrimSuffix(interior, "*")
	if strings.Contains(interior, "*") {
		return fmt.Errorf("ident %q has an interior wildcard, which is not allowed", ident)
	}
	return nil
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }

func hasKeywordAt(runes []rune, i int, keyword string) bool {
	kw := []rune(keyword)
	if i+len(kw) > len(runes) {
		return false
	}
	for j, r := range kw {
		if runes[i+j] != r {
			return false
		}
	}
	// the keyword must not be immediately followed by another ident
	// character, else "ANDroid" would lex as AND + "roid".
	end := i + len(kw)
	if end < len(runes) && isIdentChar(runes[end]) {
		return false
	}
	return true
}

func isIdentChar(r rune) bool {
	return r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-'
}
