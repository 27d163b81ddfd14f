package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/canopy/internal/graph"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sahilm/fuzzy"
)

// Comparator tests a lowercased attribute or property value.
type Comparator func(value string) bool

var operators = map[string]bool{
	"=": true, "!=": true,
	"*=*": true, "*=": true, "=*": true,
	">": true, ">=": true, "<": true, "<=": true,
	"%=": true, "~=": true,
}

// IsOperator reports whether s is a comparison operator.
func IsOperator(s string) bool { return operators[s] }

// regexCache holds compiled "%=" patterns; the same query runs repeatedly
// from search notes and the API.
type regexCache struct {
	c *gocache.Cache
}

func newRegexCache(ttl time.Duration) *regexCache {
	return &regexCache{c: gocache.New(ttl, 2*ttl)}
}

func (rc *regexCache) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := rc.c.Get(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.c.SetDefault(pattern, re)
	return re, nil
}

// buildComparator returns the test for "value <op> compared". Ordering
// operators compare numerically when compared is a number and as strings
// otherwise.
func (rc *regexCache) buildComparator(op, compared string) (Comparator, error) {
	compared = strings.ToLower(compared)

	if num, err := strconv.ParseFloat(compared, 64); err == nil {
		if cmp := numericComparator(op, num); cmp != nil {
			return cmp, nil
		}
	}

	switch op {
	case "=":
		return func(v string) bool { return v == compared }, nil
	case "!=":
		return func(v string) bool { return v != compared }, nil
	case ">":
		return func(v string) bool { return v > compared }, nil
	case ">=":
		return func(v string) bool { return v >= compared }, nil
	case "<":
		return func(v string) bool { return v < compared }, nil
	case "<=":
		return func(v string) bool { return v <= compared }, nil
	case "*=":
		return func(v string) bool { return v != "" && strings.HasSuffix(v, compared) }, nil
	case "=*":
		return func(v string) bool { return v != "" && strings.HasPrefix(v, compared) }, nil
	case "*=*":
		return func(v string) bool { return v != "" && strings.Contains(v, compared) }, nil
	case "%=":
		re, err := rc.compile(compared)
		if err != nil {
			return nil, fmt.Errorf("invalid regular expression %q: %w", compared, err)
		}
		return func(v string) bool { return v != "" && re.MatchString(v) }, nil
	case "~=":
		return func(v string) bool { return v != "" && fuzzyMatch(compared, v) }, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func numericComparator(op string, compared float64) Comparator {
	parse := func(v string) (float64, bool) {
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	switch op {
	case ">":
		return func(v string) bool { f, ok := parse(v); return ok && f > compared }
	case ">=":
		return func(v string) bool { f, ok := parse(v); return ok && f >= compared }
	case "<":
		return func(v string) bool { f, ok := parse(v); return ok && f < compared }
	case "<=":
		return func(v string) bool { f, ok := parse(v); return ok && f <= compared }
	}
	return nil
}

// fuzzyMatch reports whether the runes of pattern appear in value in order.
func fuzzyMatch(pattern, value string) bool {
	return len(fuzzy.Find(pattern, []string{value})) > 0
}

// fuzzyAttributes finds attributes whose name fuzzily matches name, for
// attribute-name typos when no name starts with it.
func fuzzyAttributes(cache *graph.Cache, typ graph.AttributeType, name string) []*graph.Attribute {
	var out []*graph.Attribute
	for _, m := range fuzzy.Find(name, cache.AttributeNames(typ)) {
		out = append(out, cache.FindAttributes(typ, m.Str)...)
	}
	return out
}
