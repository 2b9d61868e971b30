package csv2geojson

import (
	"fmt"
	"strings"
)

// Clause is an attribute predicate over a named CSV column, written on the
// command line as "column=value". A clause without "=" matches any row where
// the column is present and non-empty.
type Clause struct {
	Key   string
	Value string
	Any   bool
}

// ParseClause parses an expression such as "CO_ESTADO_GESTOR=42". The
// expression is carried verbatim: key and value are split on the first "="
// only, with no trimming or normalization.
func ParseClause(expr string) (Clause, error) {
	if expr == "" {
		return Clause{}, fmt.Errorf("empty filter expression")
	}

	key, value, found := strings.Cut(expr, "=")
	if key == "" {
		return Clause{}, fmt.Errorf("filter expression %q has no column name", expr)
	}
	if !found {
		return Clause{Key: key, Any: true}, nil
	}
	return Clause{Key: key, Value: value}, nil
}

// ParseClauses parses a list of expressions, failing on the first bad one.
func ParseClauses(exprs []string) ([]Clause, error) {
	if len(exprs) == 0 {
		return nil, nil
	}

	clauses := make([]Clause, 0, len(exprs))
	for _, expr := range exprs {
		c, err := ParseClause(expr)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}

// String renders the clause back in its command-line form.
func (c Clause) String() string {
	if c.Any {
		return c.Key
	}
	return c.Key + "=" + c.Value
}

// matches evaluates the clause against one row
func (c Clause) matches(row map[string]string) bool {
	value, ok := row[c.Key]
	if !ok {
		return false
	}
	if c.Any {
		return strings.TrimSpace(value) != ""
	}
	return value == c.Value
}
