package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenTexts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Token
	}
	return out
}

func TestLex(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		fulltext   []string
		expression []string
	}{
		{"fulltext only", "Apple  Pie", []string{"apple", "pie"}, nil},
		{"label comparison", "apple #Status = Open", []string{"apple"}, []string{"#status", "=", "open"}},
		{"operator without spaces", "#status=open", nil, []string{"#status", "=", "open"}},
		{"negated label", "#!archived", nil, []string{"#!archived"}},
		{"two-rune operator", "#rank>=10", nil, []string{"#rank", ">=", "10"}},
		{"relation property", "~author.title *=* bob", nil, []string{"~author", ".", "title", "*=*", "bob"}},
		{"note property", "note.dateCreated >= today-7", nil, []string{"note", ".", "datecreated", ">=", "today-7"}},
		{"decimal number", "#price < 1.5", nil, []string{"#price", "<", "1.5"}},
		{"parentheses", "#a and (#b or #c)", nil, []string{"#a", "and", "(", "#b", "or", "#c", ")"}},
		{"order by list", "#a orderBy note.title, #b desc", nil, []string{"#a", "orderby", "note", ".", "title", ",", "#b", "desc"}},
		{"escaped space", `foo\ bar`, []string{"foo bar"}, nil},
		{"fuzzy operator", "#name ~= jhon", nil, []string{"#name", "~=", "jhon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lexed := Lex(tt.query)
			assert.Equal(t, tt.fulltext, nilIfEmpty(tokenTexts(lexed.FulltextTokens)))
			assert.Equal(t, tt.expression, nilIfEmpty(tokenTexts(lexed.ExpressionTokens)))
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestLexQuotes(t *testing.T) {
	lexed := Lex(`"hello world" #author = 'Bob (Jr.)'`)

	require.Len(t, lexed.FulltextTokens, 1)
	assert.Equal(t, "hello world", lexed.FulltextTokens[0].Token)
	assert.True(t, lexed.FulltextTokens[0].InQuotes)
	assert.Equal(t, "hello world", lexed.FulltextQuery)

	require.Len(t, lexed.ExpressionTokens, 3)
	last := lexed.ExpressionTokens[2]
	assert.Equal(t, "bob (jr.)", last.Token)
	assert.True(t, last.InQuotes)
	assert.Equal(t, `"bob (jr.)"`, last.String())
}

func TestLexEmptyQuotes(t *testing.T) {
	lexed := Lex(`#title = ""`)
	require.Len(t, lexed.ExpressionTokens, 3)
	assert.Equal(t, "", lexed.ExpressionTokens[2].Token)
	assert.True(t, lexed.ExpressionTokens[2].InQuotes)
}

func TestLexTracksPositions(t *testing.T) {
	lexed := Lex("abc #def")
	require.Len(t, lexed.FulltextTokens, 1)
	assert.Equal(t, 0, lexed.FulltextTokens[0].StartIndex)
	assert.Equal(t, 2, lexed.FulltextTokens[0].EndIndex)
	require.Len(t, lexed.ExpressionTokens, 1)
	assert.Equal(t, 4, lexed.ExpressionTokens[0].StartIndex)
	assert.Equal(t, 7, lexed.ExpressionTokens[0].EndIndex)
}

func TestGroupParens(t *testing.T) {
	nodes, err := GroupParens(Lex("#a and (#b or (#c))").ExpressionTokens)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.False(t, nodes[0].IsGroup())
	require.True(t, nodes[2].IsGroup())
	assert.Equal(t, "(#b or (#c))", nodes[2].String())
	require.Len(t, nodes[2].Group, 3)
	assert.True(t, nodes[2].Group[2].IsGroup())
}

func TestGroupParensQuotedParensAreTokens(t *testing.T) {
	nodes, err := GroupParens(Lex(`#a = ")"`).ExpressionTokens)
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
}

func TestGroupParensErrors(t *testing.T) {
	_, err := GroupParens(Lex("#a and (#b").ExpressionTokens)
	assert.ErrorContains(t, err, "did not find matching right parenthesis")

	_, err = GroupParens(Lex("#a )").ExpressionTokens)
	assert.ErrorContains(t, err, "unexpected ')'")
}

func TestMentionsArchived(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"#archived", true},
		{"#!archived", true},
		{"#archived = yes", true},
		{"note.isArchived = true", true},
		{"#status = archived", false},
		{"#status = isarchived", false},
		{`#status = "#archived"`, false},
		{"#rank > 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, mentionsArchived(Lex(tt.query).ExpressionTokens))
		})
	}
}
