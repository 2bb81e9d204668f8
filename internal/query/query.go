// Package query implements the evaluator behind the FFI handle's
// execute/stream operations: a self-describing JSON query-spec over
// variable/label matches, optional edge-traversal clauses, a predicate
// tree, and ordered projections.
//
// The evaluator is a direct interpreter over the query-spec document,
// not a parsed grammar — there's no SQL-like text to tokenize, so
// "planning" here means validating the document and choosing a
// left-to-right evaluation order for its matches, the way a tinySQL
// query plan walks its AST directly rather than compiling to bytecode.
package query

import (
	"encoding/json"
	"fmt"

	"github.com/sombra-db/sombra/internal/sombraerr"
)

// CurrentSchemaVersion is the only schema_version this evaluator accepts.
const CurrentSchemaVersion = 1

// QuerySpec is the parsed form of an execute()/stream() input document.
type QuerySpec struct {
	SchemaVersion int             `json:"schema_version"`
	Matches       []MatchClause   `json:"matches"`
	Edges         []EdgeClause    `json:"edges,omitempty"`
	Predicate     *PredicateNode  `json:"predicate,omitempty"`
	Projections   []Projection    `json:"projections"`
	Distinct      bool            `json:"distinct,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
}

// MatchClause binds Var to every node carrying Label.
type MatchClause struct {
	Var   string `json:"var"`
	Label string `json:"label"`
}

// EdgeClause narrows the cross product of two already-matched variables
// to pairs actually connected by an edge of Type in Direction.
type EdgeClause struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Type      string `json:"type,omitempty"`
	Direction string `json:"direction,omitempty"` // "out" (default) or "in"
}

// Projection selects one output column.
type Projection struct {
	Kind  string `json:"kind"` // "prop" or "id"
	Var   string `json:"var"`
	Prop  string `json:"prop,omitempty"`
	Alias string `json:"alias"`
}

// Literal is a typed JSON value, matching the {t, v} shape used
// throughout the query-spec and by pager.PropertyValue round-trips.
type Literal struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v"`
}

// PredicateNode is one node of the predicate tree: either a leaf
// comparison (Op in eq/ne/lt/lte/gt/gte against Var.Prop and Value) or a
// boolean combinator (Op in and/or/not over Children).
type PredicateNode struct {
	Op       string           `json:"op"`
	Var      string           `json:"var,omitempty"`
	Prop     string           `json:"prop,omitempty"`
	Value    *Literal         `json:"value,omitempty"`
	Children []*PredicateNode `json:"children,omitempty"`
}

var comparisonOps = map[string]bool{"eq": true, "ne": true, "lt": true, "lte": true, "gt": true, "gte": true}
var boolOps = map[string]bool{"and": true, "or": true, "not": true}

// ParseSpec unmarshals raw JSON into a QuerySpec. Malformed JSON is
// reported as sombraerr.JSON, never sombraerr.Analyzer — Analyzer is
// reserved for documents that parse but fail schema validation.
func ParseSpec(raw []byte) (*QuerySpec, error) {
	var spec QuerySpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, sombraerr.Wrap(sombraerr.JSON, "query.ParseSpec", err)
	}
	return &spec, nil
}

// plan is the validated, order-fixed evaluation plan for a QuerySpec.
type plan struct {
	spec     *QuerySpec
	varOrder []string // declaration order of every bound variable
	features []string
}

// analyze validates spec against the schema and fixes an evaluation
// order, raising Analyzer before any graph access happens.
func analyze(spec *QuerySpec) (*plan, error) {
	if spec.SchemaVersion != CurrentSchemaVersion {
		return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").
			WithContext("unsupported schema_version %d, want %d", spec.SchemaVersion, CurrentSchemaVersion)
	}
	if len(spec.Matches) == 0 {
		return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("matches must be non-empty")
	}

	bound := make(map[string]bool)
	var varOrder []string
	for _, m := range spec.Matches {
		if m.Var == "" || m.Label == "" {
			return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("match clause requires var and label")
		}
		if bound[m.Var] {
			return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("duplicate match variable %q", m.Var)
		}
		bound[m.Var] = true
		varOrder = append(varOrder, m.Var)
	}

	features := []string{"matches"}
	for _, e := range spec.Edges {
		if !bound[e.From] {
			return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("edge clause references unbound variable %q", e.From)
		}
		if !bound[e.To] {
			return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("edge clause references unbound variable %q", e.To)
		}
		if e.Direction != "" && e.Direction != "out" && e.Direction != "in" {
			return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("unknown edge direction %q", e.Direction)
		}
	}
	if len(spec.Edges) > 0 {
		features = append(features, "edges")
	}

	if spec.Predicate != nil {
		if err := validatePredicate(spec.Predicate, bound); err != nil {
			return nil, err
		}
		features = append(features, "predicate")
	}

	if len(spec.Projections) == 0 {
		return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("projections must be non-empty")
	}
	for _, p := range spec.Projections {
		if !bound[p.Var] {
			return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("projection references unbound variable %q", p.Var)
		}
		switch p.Kind {
		case "prop":
			if p.Prop == "" {
				return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("prop projection requires prop")
			}
		case "id":
			// no extra field needed
		default:
			return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("unknown projection kind %q", p.Kind)
		}
		if p.Alias == "" {
			return nil, sombraerr.New(sombraerr.Analyzer, "query.analyze").WithContext("projection requires alias")
		}
	}
	if spec.Distinct {
		features = append(features, "distinct")
	}

	return &plan{spec: spec, varOrder: varOrder, features: features}, nil
}

func validatePredicate(n *PredicateNode, bound map[string]bool) error {
	switch {
	case comparisonOps[n.Op]:
		if !bound[n.Var] {
			return sombraerr.New(sombraerr.Analyzer, "query.validatePredicate").WithContext("predicate references unbound variable %q", n.Var)
		}
		if n.Prop == "" {
			return sombraerr.New(sombraerr.Analyzer, "query.validatePredicate").WithContext("comparison requires prop")
		}
		if n.Value == nil {
			return sombraerr.New(sombraerr.Analyzer, "query.validatePredicate").WithContext("comparison requires value")
		}
		return nil
	case boolOps[n.Op]:
		if len(n.Children) == 0 {
			return sombraerr.New(sombraerr.Analyzer, "query.validatePredicate").WithContext("%s requires children", n.Op)
		}
		if n.Op == "not" && len(n.Children) != 1 {
			return sombraerr.New(sombraerr.Analyzer, "query.validatePredicate").WithContext("not takes exactly one child")
		}
		for _, c := range n.Children {
			if err := validatePredicate(c, bound); err != nil {
				return err
			}
		}
		return nil
	default:
		return sombraerr.New(sombraerr.Analyzer, "query.validatePredicate").WithContext("unknown predicate operator %q", n.Op)
	}
}

func (p *plan) String() string {
	return fmt.Sprintf("plan{vars=%v features=%v}", p.varOrder, p.features)
}
