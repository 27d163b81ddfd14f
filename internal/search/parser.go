package search

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/canopy/internal/graph"
	"github.com/lazypower/canopy/internal/textnorm"
)

// parser turns grouped expression tokens into an Expression. Errors go to
// the search context; parsing continues where it can so the first error
// is reported with whatever else the query still means.
type parser struct {
	sc      *Context
	regexes *regexCache
}

// parse builds the full expression of a search: the implicit archived and
// ancestor filters, the full-text part and the expression part.
func (p *parser) parse(lexed Lexed, nodes []Node) Expression {
	expression := p.expression(nodes, 0)

	var archived Expression
	if !p.sc.IncludeArchived && !mentionsArchived(lexed.ExpressionTokens) {
		archived = p.propertyComparison("isarchived", "=", "false")
	}

	var ancestor Expression
	if id := p.sc.AncestorNoteID; id != "" && (id != graph.RootID || p.sc.AncestorDepth != "") {
		ancestor = newAncestorExp(id, p.sc.AncestorDepth, p.sc)
	}

	exp := andOf(archived, ancestor, p.fulltext(lexed.FulltextTokens), expression)

	if p.sc.OrderBy != "" && p.sc.OrderBy != "relevancy" {
		ve := NewValueExtractor([]string{"note", p.sc.OrderBy})
		if err := ve.Validate(); err != nil {
			p.sc.AddError(err.Error())
			return exp
		}
		exp = &orderByAndLimitExp{
			orders: []orderDefinition{{extractor: ve, desc: p.sc.OrderDirection == "desc"}},
			limit:  p.sc.Limit,
			sub:    exp,
		}
	}
	return exp
}

// mentionsArchived reports whether the query itself asks about archived
// notes, in which case they are not filtered out implicitly. Only the label
// and the isArchived property count; a value that happens to read
// "archived" does not.
func mentionsArchived(tokens []Token) bool {
	for i, t := range tokens {
		if t.InQuotes {
			continue
		}
		switch t.Token {
		case "#archived", "#!archived":
			return true
		case "isarchived":
			if i > 0 && tokens[i-1].Token == "." && !tokens[i-1].InQuotes {
				return true
			}
		}
	}
	return false
}

func (p *parser) fulltext(tokens []Token) Expression {
	if len(tokens) == 0 {
		return nil
	}
	words := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if w := textnorm.Normalize(t.Token); w != "" {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil
	}
	p.sc.highlight(words...)

	flat := &noteFlatTextExp{tokens: words}
	if p.sc.FastSearch {
		return flat
	}
	return orOf(flat, &noteContentExp{op: "*=*", tokens: words, flatText: true})
}

// level tracks how deep expression is nested, for the top-level-only
// orderBy rule.
func (p *parser) expression(nodes []Node, level int) Expression {
	if len(nodes) == 0 {
		return nil
	}
	s := &scope{parser: p, nodes: nodes, level: level}
	return s.run()
}

// scope is the parse state of one parenthesis level.
type scope struct {
	*parser
	nodes       []Node
	i           int
	level       int
	expressions []Expression
	op          string
}

// tok returns the token text at i, or "" for a group or past the end.
func (s *scope) tok(i int) string {
	if i < 0 || i >= len(s.nodes) || s.nodes[i].IsGroup() {
		return ""
	}
	return s.nodes[i].Token.Token
}

func (s *scope) isOperatorAt(i int) bool {
	if i >= len(s.nodes) || s.nodes[i].IsGroup() {
		return false
	}
	return IsOperator(s.nodes[i].Token.Token)
}

// near renders the tokens around i for error messages.
func (s *scope) near(i int) string {
	lo, hi := max(i-2, 0), min(i+3, len(s.nodes))
	if lo >= hi {
		return `"` + renderNodes(s.nodes) + `"`
	}
	out := renderNodes(s.nodes[lo:hi])
	if lo > 0 {
		out = "..." + out
	}
	if hi < len(s.nodes) {
		out += "..."
	}
	return `"` + out + `"`
}

func (s *scope) aggregate() Expression {
	if s.op == "or" {
		return orOf(s.expressions...)
	}
	return andOf(s.expressions...)
}

func (s *scope) run() Expression {
	for s.i = 0; s.i < len(s.nodes); s.i++ {
		node := s.nodes[s.i]
		if node.IsGroup() {
			s.expressions = append(s.expressions, s.expression(node.Group, s.level+1))
			s.implicitAnd()
			continue
		}

		switch token := node.Token.Token; {
		case node.Token.InQuotes:
			s.sc.AddError(fmt.Sprintf("Unrecognized expression %q", token))
		case strings.HasPrefix(token, "#") || strings.HasPrefix(token, "~"):
			s.expressions = append(s.expressions, s.attribute(token))
		case token == "orderby" || token == "limit":
			if s.level != 0 {
				s.sc.AddError("orderBy can appear only on the top expression level")
				continue
			}
			exp := s.orderByAndLimit()
			exp.sub = s.aggregate()
			return exp
		case token == "not":
			s.i++
			if s.i >= len(s.nodes) || !s.nodes[s.i].IsGroup() {
				s.sc.AddError(fmt.Sprintf("not keyword should be followed by sub-expression in parenthesis, got %q instead", s.tok(s.i)))
				continue
			}
			s.expressions = append(s.expressions, &notExp{sub: s.expression(s.nodes[s.i].Group, s.level+1)})
		case token == "note":
			s.i++
			s.expressions = append(s.expressions, s.noteProperty())
		case token == "and" || token == "or":
			if s.op == "" {
				s.op = token
			} else if s.op != token {
				s.sc.AddError("Mixed usage of AND/OR - always use parenthesis to group AND/OR expressions.")
			}
		case IsOperator(token):
			s.sc.AddError(fmt.Sprintf("Misplaced or incomplete expression %q", token))
		default:
			s.sc.AddError(fmt.Sprintf("Unrecognized expression %q", token))
		}
		s.implicitAnd()
	}
	return s.aggregate()
}

func (s *scope) implicitAnd() {
	if s.op == "" && len(s.expressions) > 1 {
		s.op = "and"
	}
}

// attribute parses "#label", "#!label", "~relation" and what follows them.
func (s *scope) attribute(token string) Expression {
	isLabel := token[0] == '#'
	name := token[1:]
	negated := strings.HasPrefix(name, "!")
	if negated {
		name = name[1:]
	}
	if name == "" {
		s.sc.AddError(fmt.Sprintf("Attribute name is missing in %s", s.near(s.i)))
		return nil
	}

	var exp Expression
	if isLabel {
		exp = s.label(name)
	} else {
		exp = s.relation(name)
	}
	if exp != nil && negated {
		return &notExp{sub: exp}
	}
	return exp
}

func (s *scope) label(name string) Expression {
	s.sc.highlight(name)

	if s.i < len(s.nodes)-2 && s.isOperatorAt(s.i+1) {
		op := s.tok(s.i + 1)
		s.i += 2
		value, ok := s.constantOperand()
		if !ok {
			return nil
		}
		s.sc.highlight(value)
		if s.sc.FuzzyAttributeSearch && op == "=" {
			op = "*=*"
		}
		cmp, err := s.regexes.buildComparator(op, value)
		if err != nil {
			s.sc.AddError(fmt.Sprintf("%s in %s", err, s.near(s.i-1)))
			return nil
		}
		return &labelComparisonExp{typ: graph.Label, name: name, op: op, value: value, comparator: cmp}
	}
	if s.isOperatorAt(s.i + 1) {
		s.sc.AddError(fmt.Sprintf("Misplaced or incomplete expression %q", s.tok(s.i+1)))
		s.i++
		return nil
	}
	return &attributeExistsExp{typ: graph.Label, name: name, prefixMatch: s.sc.FuzzyAttributeSearch}
}

func (s *scope) relation(name string) Expression {
	s.sc.highlight(name)

	switch {
	case s.i < len(s.nodes)-2 && s.tok(s.i+1) == ".":
		s.i++
		sub := s.noteProperty()
		if sub == nil {
			return nil
		}
		return &relationWhereExp{name: name, sub: sub}
	case s.isOperatorAt(s.i + 1):
		s.sc.AddError(fmt.Sprintf("Relation can be compared only with property, e.g. ~relation.title=hello in %s", s.near(s.i)))
		return nil
	}
	return &attributeExistsExp{typ: graph.Relation, name: name, prefixMatch: s.sc.FuzzyAttributeSearch}
}

// noteProperty parses what follows "note" or a relation name, starting at
// the "." separator.
func (s *scope) noteProperty() Expression {
	if s.tok(s.i) != "." {
		s.sc.AddError(fmt.Sprintf("Expected \".\" to separate field path, got %q in %s", s.tok(s.i), s.near(s.i)))
		return nil
	}
	s.i++

	switch prop := s.tok(s.i); {
	case prop == "content" || prop == "rawcontent":
		op := s.tok(s.i + 1)
		if !slices.Contains(contentOperators, op) {
			s.sc.AddError(fmt.Sprintf("After content expected operator, but got %q in %s", op, s.near(s.i)))
			return nil
		}
		if s.i+2 >= len(s.nodes) {
			s.sc.AddError(fmt.Sprintf("Misplaced or incomplete expression %q", op))
			return nil
		}
		s.i += 2
		value := textnorm.Normalize(s.tok(s.i))
		s.sc.highlight(value)
		exp := &noteContentExp{op: op, tokens: []string{value}, raw: prop == "rawcontent"}
		if op == "%=" {
			re, err := s.regexes.compile(value)
			if err != nil {
				s.sc.AddError(fmt.Sprintf("invalid regular expression %q: %s", value, err))
				return nil
			}
			exp.re = re
		}
		return exp

	case prop == "parents" || prop == "children" || prop == "ancestors":
		s.i++
		sub := s.noteProperty()
		if sub == nil {
			return nil
		}
		switch prop {
		case "parents":
			return &childOfExp{sub: sub}
		case "children":
			return &parentOfExp{sub: sub}
		}
		return &descendantOfExp{sub: sub}

	case prop == "labels" || prop == "relations":
		if s.tok(s.i+1) != "." || s.tok(s.i+2) == "" {
			s.sc.AddError(fmt.Sprintf("Expected \".\" to separate field path, got %q in %s", s.tok(s.i+1), s.near(s.i)))
			return nil
		}
		s.i += 2
		if prop == "labels" {
			return s.label(s.tok(s.i))
		}
		return s.relation(s.tok(s.i))

	case prop == "text":
		if s.tok(s.i+1) != "*=*" {
			s.sc.AddError(fmt.Sprintf("Virtual attribute \"note.text\" supports only *=* operator, instead given %q in %s", s.tok(s.i+1), s.near(s.i)))
			return nil
		}
		if s.i+2 >= len(s.nodes) {
			s.sc.AddError("Misplaced or incomplete expression \"*=*\"")
			return nil
		}
		s.i += 2
		value := textnorm.Normalize(s.tok(s.i))
		s.sc.highlight(value)
		return orOf(
			s.propertyComparison("title", "*=*", value),
			&noteContentExp{op: "*=*", tokens: []string{value}},
		)

	case IsProperty(prop):
		op := s.tok(s.i + 1)
		if !IsOperator(op) || s.i+2 >= len(s.nodes) {
			s.sc.AddError(fmt.Sprintf("Misplaced or incomplete expression after note property %q in %s", prop, s.near(s.i)))
			s.i = len(s.nodes)
			return nil
		}
		s.i += 2
		value, ok := s.constantOperand()
		if !ok {
			return nil
		}
		return s.propertyComparison(prop, op, value)
	}

	s.sc.AddError(fmt.Sprintf("Unrecognized note property %q in %s", s.tok(s.i), s.near(s.i)))
	return nil
}

func (p *parser) propertyComparison(prop, op, value string) Expression {
	cmp, err := p.regexes.buildComparator(op, value)
	if err != nil {
		p.sc.AddError(err.Error())
		return nil
	}
	return &propertyComparisonExp{property: prop, op: op, value: strings.ToLower(value), comparator: cmp}
}

var dateConstant = regexp.MustCompile(`^(now|today|month|year)([+-]\d+)?$`)

// constantOperand reads the value at s.i. Attribute references cannot be
// compared against; date constants resolve relative to the search clock.
func (s *scope) constantOperand() (string, bool) {
	if s.i >= len(s.nodes) || s.nodes[s.i].IsGroup() {
		s.sc.AddError(fmt.Sprintf("Expected a constant in %s", s.near(s.i)))
		return "", false
	}
	operand := s.nodes[s.i].Token
	if operand.InQuotes {
		return operand.Token, true
	}
	if strings.HasPrefix(operand.Token, "#") || strings.HasPrefix(operand.Token, "~") || operand.Token == "note" {
		s.sc.AddError(fmt.Sprintf("Error near token %q in %s, it's possible to compare with constant only.", operand.Token, s.near(s.i)))
		return "", false
	}

	m := dateConstant.FindStringSubmatch(operand.Token)
	if m == nil {
		return operand.Token, true
	}
	delta := 0
	if m[2] != "" {
		delta, _ = strconv.Atoi(m[2])
	} else if sign := s.tok(s.i + 1); (sign == "+" || sign == "-") && s.i+2 < len(s.nodes) {
		n, err := strconv.Atoi(s.tok(s.i + 2))
		if err != nil {
			s.sc.AddError(fmt.Sprintf("Expected a number after %q in %s", sign, s.near(s.i+1)))
			return "", false
		}
		if sign == "-" {
			n = -n
		}
		delta = n
		s.i += 2
	}
	return dateValue(s.sc.now, m[1], delta), true
}

// dateValue formats the date constant name shifted by delta units: seconds
// for now, days for today, months and years for the others.
func dateValue(now time.Time, name string, delta int) string {
	switch name {
	case "now":
		return now.Add(time.Duration(delta) * time.Second).Format("2006-01-02 15:04:05")
	case "today":
		return now.AddDate(0, 0, delta).Format("2006-01-02")
	case "month":
		return now.AddDate(0, delta, 0).Format("2006-01")
	}
	return now.AddDate(delta, 0, 0).Format("2006")
}

// orderByAndLimit parses "orderBy a.b desc, c limit N".
func (s *scope) orderByAndLimit() *orderByAndLimitExp {
	exp := &orderByAndLimitExp{}
	if s.tok(s.i) == "orderby" {
		for {
			var path []string
			for {
				s.i++
				if s.i >= len(s.nodes) {
					break
				}
				path = append(path, s.tok(s.i))
				s.i++
				if s.tok(s.i) != "." {
					break
				}
			}
			desc := false
			if d := s.tok(s.i); d == "asc" || d == "desc" {
				desc = d == "desc"
				s.i++
			}
			ve := NewValueExtractor(path)
			if err := ve.Validate(); err != nil {
				s.sc.AddError(err.Error())
			} else {
				exp.orders = append(exp.orders, orderDefinition{extractor: ve, desc: desc})
			}
			if s.tok(s.i) != "," {
				break
			}
		}
	}
	if s.tok(s.i) == "limit" {
		n, err := strconv.Atoi(s.tok(s.i + 1))
		if err != nil || n < 0 {
			s.sc.AddError(fmt.Sprintf("Expected a number after limit, got %q", s.tok(s.i+1)))
		} else {
			exp.limit = n
		}
	}
	s.i = len(s.nodes)
	return exp
}
