// Package search implements the note query language: a lexer splits the
// query into full-text words and expression tokens, the parser turns them
// into an expression tree, and the service evaluates the tree against the
// graph cache and ranks what it returns.
package search

import (
	"strconv"
	"strings"
	"unicode"
)

// Token is one lexed word of a query.
type Token struct {
	Token      string
	InQuotes   bool
	StartIndex int
	EndIndex   int
}

func (t Token) String() string {
	if t.InQuotes {
		return `"` + t.Token + `"`
	}
	return t.Token
}

// Lexed is the lexer output. Everything before the first attribute or
// "note." word is full text; the rest is the expression.
type Lexed struct {
	FulltextQuery    string
	FulltextTokens   []Token
	ExpressionTokens []Token
}

func isQuote(r rune) bool { return r == '"' || r == '\'' || r == '`' }

func isOperatorSymbol(r rune) bool {
	switch r {
	case '=', '*', '>', '<', '!', '%', '~':
		return true
	}
	return false
}

// Lex splits a query into tokens. Input is lowercased; quoted words keep
// spaces and operator characters, and a backslash escapes the next rune.
func Lex(query string) Lexed {
	query = strings.ToLower(query)
	runes := []rune(query)

	var out Lexed
	var (
		word          []rune
		quote         rune
		escaped       bool
		fulltextEnded bool
		start         = -1
	)

	finish := func(end int, keepEmpty bool) {
		if len(word) == 0 && !keepEmpty {
			return
		}
		tok := Token{Token: string(word), InQuotes: quote != 0, StartIndex: start, EndIndex: end}
		if fulltextEnded {
			out.ExpressionTokens = append(out.ExpressionTokens, tok)
		} else {
			out.FulltextTokens = append(out.FulltextTokens, tok)
		}
		word, start = nil, -1
	}
	push := func(i int, r rune) {
		if start < 0 {
			start = i
		}
		word = append(word, r)
	}

	for i, r := range runes {
		if escaped {
			push(i, r)
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}

		if isQuote(r) {
			switch {
			case quote == 0:
				finish(i-1, false)
				quote = r
				start = i + 1
			case quote == r:
				finish(i-1, true)
				quote = 0
			default:
				push(i, r)
			}
			continue
		}
		if quote != 0 {
			push(i, r)
			continue
		}

		if len(word) == 0 && (r == '#' || r == '~') && !fulltextEnded {
			next := rune(0)
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			// "~=" in the full-text part is still full text.
			if r == '#' || (next != '=' && next != '*' && next != 0 && !unicode.IsSpace(next)) {
				fulltextEnded = true
			}
		}

		if !fulltextEnded && len(word) == 4 && string(word) == "note" && r == '.' {
			fulltextEnded = true
			finish(i-1, false)
			push(i, r)
			finish(i, false)
			continue
		}

		switch {
		case unicode.IsSpace(r):
			finish(i-1, false)
			continue
		case fulltextEnded && r == '.' && isNumber(string(word)):
			push(i, r)
			continue
		case fulltextEnded && (r == '(' || r == ')' || r == '.' || r == ','):
			finish(i-1, false)
			push(i, r)
			finish(i, false)
			continue
		case fulltextEnded && len(word) > 0 && isAttributeStart(word, r):
			push(i, r)
			continue
		case fulltextEnded && len(word) > 0 && isOperatorSymbol(word[len(word)-1]) != isOperatorSymbol(r):
			finish(i-1, false)
		}
		push(i, r)
	}
	finish(len(runes)-1, false)

	words := make([]string, len(out.FulltextTokens))
	for i, t := range out.FulltextTokens {
		words[i] = t.Token
	}
	out.FulltextQuery = strings.Join(words, " ")
	return out
}

// isAttributeStart keeps "#!name" and "~name" together: the sigil and a
// negation right after it belong to the attribute word.
func isAttributeStart(word []rune, r rune) bool {
	if word[0] != '#' && word[0] != '~' {
		return false
	}
	if len(word) == 1 {
		if word[0] == '~' && (r == '=' || r == '*') {
			return false
		}
		return r == '!' || !isOperatorSymbol(r)
	}
	return len(word) == 2 && word[1] == '!' && !isOperatorSymbol(r)
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
