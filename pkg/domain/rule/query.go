package rule

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Predicate is one field=value equality test. Predicates in a query are ANDed.
type Predicate struct {
	Field string
	Value string
}

func (p Predicate) String() string {
	if strings.ContainsAny(p.Value, ", =\"") {
		return fmt.Sprintf("%s=%q", p.Field, p.Value)
	}
	return p.Field + "=" + p.Value
}

// Query is a parsed rule query.
type Query []Predicate

func (q Query) String() string {
	parts := make([]string, len(q))
	for i, p := range q {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

type queryAST struct {
	Predicates []*predicateAST `parser:"@@ ( ',' @@ )*"`
}

type predicateAST struct {
	Field string   `parser:"@Word '='"`
	Value []string `parser:"( @Word | @String )*"`
}

var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(?:\\.|[^"])*"`},
	{Name: "Word", Pattern: `[^\s,="]+`},
	{Name: "Punct", Pattern: `[,=]`},
	{Name: "whitespace", Pattern: `\s+`},
})

var queryParser = participle.MustBuild[queryAST](
	participle.Lexer(queryLexer),
	participle.Unquote("String"),
	participle.Elide("whitespace"),
)

// ParseQuery parses a comma separated list of field=value predicates, e.g.
// `severity=low,name="Weak cipher, CBC mode"`. Unquoted values may contain
// spaces; runs of whitespace inside them collapse to one space.
func ParseQuery(s string) (Query, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	ast, err := queryParser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	q := make(Query, 0, len(ast.Predicates))
	for _, p := range ast.Predicates {
		q = append(q, Predicate{
			Field: strings.ToLower(p.Field),
			Value: strings.Join(p.Value, " "),
		})
	}
	return q, nil
}
