package search

import (
	"fmt"
	"strings"
)

// Node is a token or a parenthesized group of nodes.
type Node struct {
	Token Token
	Group []Node // non-nil for a group
}

// IsGroup reports whether the node is a parenthesized group.
func (n Node) IsGroup() bool { return n.Group != nil }

func (n Node) String() string {
	if !n.IsGroup() {
		return n.Token.String()
	}
	return "(" + renderNodes(n.Group) + ")"
}

func renderNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, " ")
}

// GroupParens nests tokens between "(" and ")" into groups. Quoted
// parentheses are ordinary tokens.
func GroupParens(tokens []Token) ([]Node, error) {
	nodes, rest, err := groupUntilClose(tokens, 0)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("unexpected ')' at position %d", rest[0].StartIndex)
	}
	return nodes, nil
}

func groupUntilClose(tokens []Token, depth int) ([]Node, []Token, error) {
	nodes := []Node{}
	for len(tokens) > 0 {
		tok := tokens[0]
		tokens = tokens[1:]
		switch {
		case tok.InQuotes:
			nodes = append(nodes, Node{Token: tok})
		case tok.Token == "(":
			group, rest, err := groupUntilClose(tokens, depth+1)
			if err != nil {
				return nil, nil, err
			}
			if len(rest) == 0 || rest[0].Token != ")" {
				return nil, nil, fmt.Errorf("did not find matching right parenthesis for '(' at position %d", tok.StartIndex)
			}
			nodes = append(nodes, Node{Token: tok, Group: group})
			tokens = rest[1:]
		case tok.Token == ")":
			if depth == 0 {
				return nil, nil, fmt.Errorf("unexpected ')' at position %d", tok.StartIndex)
			}
			return nodes, append([]Token{tok}, tokens...), nil
		default:
			nodes = append(nodes, Node{Token: tok})
		}
	}
	return nodes, nil, nil
}
