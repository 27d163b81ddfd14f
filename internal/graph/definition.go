package graph

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Definition describes a promoted attribute, parsed from the value of a
// "label:<name>" or "relation:<name>" label, e.g. "promoted,number,single,precision=2".
type Definition struct {
	IsPromoted      bool
	LabelType       string // text, number, boolean, date, datetime, time, url
	Multiplicity    string // single, multi
	NumberPrecision int
	PromotedAlias   string
	InverseRelation string
}

var labelTypes = map[string]bool{
	"text": true, "number": true, "boolean": true, "date": true,
	"datetime": true, "time": true, "url": true,
}

// ParseDefinition parses a comma separated definition. Unknown tokens are
// logged and skipped; a non-numeric precision is an error.
func ParseDefinition(value string, logger *slog.Logger) (Definition, error) {
	var def Definition
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		key, arg, _ := strings.Cut(token, "=")
		arg = strings.TrimSpace(arg)

		switch {
		case token == "":
		case token == "promoted":
			def.IsPromoted = true
		case labelTypes[token]:
			def.LabelType = token
		case token == "single" || token == "multi":
			def.Multiplicity = token
		case key == "precision":
			n, err := strconv.Atoi(arg)
			if err != nil {
				return def, fmt.Errorf("precision %q is not a number", arg)
			}
			def.NumberPrecision = n
		case key == "alias":
			def.PromotedAlias = arg
		case key == "inverse":
			def.InverseRelation = arg
		default:
			if logger != nil {
				logger.Warn("unrecognized attribute definition token", "token", token)
			}
		}
	}
	return def, nil
}
