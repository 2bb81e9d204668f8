package query

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/sombra-db/sombra/internal/concurrency"
	"github.com/sombra-db/sombra/internal/graph"
	"github.com/sombra-db/sombra/internal/pager"
	"github.com/sombra-db/sombra/internal/sombraerr"
)

// Row is one output record: projection alias -> value.
type Row map[string]any

// Result is what Execute returns: the full row set plus bookkeeping the
// handle's execute() operation reports back to the caller.
type Result struct {
	Rows      []Row
	RequestID string
	Features  []string
}

// Executor evaluates query-specs against a single open graph store.
type Executor struct {
	store *graph.Store
	reg   *concurrency.Registry
}

// NewExecutor builds an evaluator over store. reg may be nil, in which
// case requests cannot be cancelled mid-flight by request ID.
func NewExecutor(store *graph.Store, reg *concurrency.Registry) *Executor {
	return &Executor{store: store, reg: reg}
}

// binding maps every matched variable to the node it's currently bound
// to, for one candidate row.
type binding map[string]graph.NodeID

// Execute evaluates spec against the snapshot readTxID and returns every
// matching row.
func (e *Executor) Execute(ctx context.Context, readTxID pager.TxID, spec *QuerySpec) (*Result, error) {
	p, err := analyze(spec)
	if err != nil {
		return nil, err
	}

	requestCtx, requestID := e.begin(ctx, spec.RequestID)
	if e.reg != nil {
		defer e.reg.Done(requestID)
	}

	rows, err := e.evalRows(requestCtx, readTxID, p, -1)
	if err != nil {
		return nil, err
	}
	return &Result{Rows: rows, RequestID: requestID, Features: p.features}, nil
}

// Cursor is the incremental form returned by Stream: one row materializes
// per Next() call, and Close() (or cancelRequest) stops it early.
type Cursor struct {
	exec      *Executor
	readTxID  pager.TxID
	plan      *plan
	requestID string
	ctx       context.Context
	cancel    context.CancelFunc
	bindings  []binding
	pos       int
	closed    bool

	// OnClose, if set, runs once when Close is called — the handle layer
	// uses this to release the reader snapshot Stream pinned for this
	// cursor's lifetime, without query needing to import internal/txn.
	OnClose func()
}

// Stream prepares a Cursor over spec. Binding enumeration happens eagerly
// (the evaluator has no lazy join yet), but row materialization —
// property fetches and projection — happens one row at a time in Next,
// so a caller that stops early after a handful of rows never pays to
// decode the rest.
func (e *Executor) Stream(ctx context.Context, readTxID pager.TxID, spec *QuerySpec) (*Cursor, error) {
	p, err := analyze(spec)
	if err != nil {
		return nil, err
	}
	requestCtx, requestID := e.begin(ctx, spec.RequestID)

	bindings, err := e.enumerateBindings(requestCtx, readTxID, p)
	if err != nil {
		if e.reg != nil {
			e.reg.Done(requestID)
		}
		return nil, err
	}

	cctx, cancel := context.WithCancel(requestCtx)
	return &Cursor{
		exec:      e,
		readTxID:  readTxID,
		plan:      p,
		requestID: requestID,
		ctx:       cctx,
		cancel:    cancel,
		bindings:  bindings,
	}, nil
}

// RequestID reports the request ID this cursor cancels under.
func (c *Cursor) RequestID() string { return c.requestID }

// Next produces the next row, or (nil, false, nil) once exhausted.
// Returns Cancelled if cancelRequest fired for this cursor's request ID.
func (c *Cursor) Next() (Row, bool, error) {
	if c.closed {
		return nil, false, sombraerr.New(sombraerr.Closed, "query.Cursor.Next")
	}
	if err := c.ctx.Err(); err != nil {
		return nil, false, sombraerr.Wrap(sombraerr.Cancelled, "query.Cursor.Next", err)
	}
	if c.pos >= len(c.bindings) {
		return nil, false, nil
	}
	b := c.bindings[c.pos]
	c.pos++

	keep, row, err := c.exec.materialize(c.readTxID, c.plan, b)
	if err != nil {
		return nil, false, err
	}
	if !keep {
		return c.Next()
	}
	return row, true, nil
}

// Close releases the cursor's request-id registration. Safe to call more
// than once.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	if c.exec.reg != nil {
		c.exec.reg.Done(c.requestID)
	}
	if c.OnClose != nil {
		c.OnClose()
	}
}

func (e *Executor) begin(ctx context.Context, requestID string) (context.Context, string) {
	if e.reg != nil {
		return e.reg.Register(ctx, requestID)
	}
	if requestID == "" {
		requestID = fmt.Sprintf("req-%p", &requestID)
	}
	return ctx, requestID
}

// evalRows enumerates bindings and materializes every row that survives
// the predicate, up to limit rows (limit < 0 means unbounded).
func (e *Executor) evalRows(ctx context.Context, readTxID pager.TxID, p *plan, limit int) ([]Row, error) {
	bindings, err := e.enumerateBindings(ctx, readTxID, p)
	if err != nil {
		return nil, err
	}

	var rows []Row
	seen := make(map[string]bool)
	for _, b := range bindings {
		if err := ctx.Err(); err != nil {
			return nil, sombraerr.Wrap(sombraerr.Cancelled, "query.evalRows", err)
		}
		keep, row, err := e.materialize(readTxID, p, b)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		if p.spec.Distinct {
			key := rowKey(row)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		rows = append(rows, row)
		if limit >= 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

// enumerateBindings seeds each match variable's candidate set from the
// label postings index, joins them left-to-right, then narrows by every
// edge clause — a naive but correct plan: no cost-based ordering, no
// index intersection beyond the label seed itself.
func (e *Executor) enumerateBindings(ctx context.Context, readTxID pager.TxID, p *plan) ([]binding, error) {
	bindings := []binding{{}}

	for _, m := range p.spec.Matches {
		ids, err := e.store.ListNodesWithLabel(m.Label)
		if err != nil {
			return nil, sombraerr.Wrap(sombraerr.IO, "query.enumerateBindings", err)
		}
		var next []binding
		for _, b := range bindings {
			for _, id := range ids {
				nb := cloneBinding(b)
				nb[m.Var] = id
				next = append(next, nb)
			}
		}
		bindings = next
		if len(bindings) == 0 {
			return bindings, nil
		}
	}

	for _, e2 := range p.spec.Edges {
		dir := graph.DirOut
		if e2.Direction == "in" {
			dir = graph.DirIn
		}
		var next []binding
		for _, b := range bindings {
			if err := ctx.Err(); err != nil {
				return nil, sombraerr.Wrap(sombraerr.Cancelled, "query.enumerateBindings", err)
			}
			neighbors, err := e.store.Neighbors(b[e2.From], dir, e2.Type, false)
			if err != nil {
				return nil, sombraerr.Wrap(sombraerr.IO, "query.enumerateBindings", err)
			}
			for _, n := range neighbors {
				if n.Node == b[e2.To] {
					next = append(next, b)
					break
				}
			}
		}
		bindings = next
	}

	return bindings, nil
}

// materialize evaluates the predicate and, if it passes, builds the
// projected row for binding b.
func (e *Executor) materialize(readTxID pager.TxID, p *plan, b binding) (bool, Row, error) {
	if p.spec.Predicate != nil {
		ok, err := e.evalPredicate(readTxID, p.spec.Predicate, b)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			return false, nil, nil
		}
	}

	row := make(Row, len(p.spec.Projections))
	for _, proj := range p.spec.Projections {
		id, ok := b[proj.Var]
		if !ok {
			return false, nil, sombraerr.New(sombraerr.Analyzer, "query.materialize").WithContext("unbound projection variable %q", proj.Var)
		}
		switch proj.Kind {
		case "id":
			row[proj.Alias] = id
		case "prop":
			rec, err := e.store.GetNode(readTxID, id)
			if err != nil {
				return false, nil, err
			}
			keyID, ok := e.store.Catalog.PropKeys.Lookup(proj.Prop)
			if !ok {
				row[proj.Alias] = nil
				continue
			}
			v, ok := rec.Props[keyID]
			if !ok {
				row[proj.Alias] = nil
				continue
			}
			row[proj.Alias] = propScalar(v)
		}
	}
	return true, row, nil
}

func (e *Executor) evalPredicate(readTxID pager.TxID, n *PredicateNode, b binding) (bool, error) {
	switch n.Op {
	case "and":
		for _, c := range n.Children {
			ok, err := e.evalPredicate(readTxID, c, b)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case "or":
		for _, c := range n.Children {
			ok, err := e.evalPredicate(readTxID, c, b)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		ok, err := e.evalPredicate(readTxID, n.Children[0], b)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	id, ok := b[n.Var]
	if !ok {
		return false, sombraerr.New(sombraerr.Analyzer, "query.evalPredicate").WithContext("unbound predicate variable %q", n.Var)
	}
	rec, err := e.store.GetNode(readTxID, id)
	if err != nil {
		return false, err
	}
	keyID, ok := e.store.Catalog.PropKeys.Lookup(n.Prop)
	if !ok {
		return false, nil // property never interned: no node has it set
	}
	actual, ok := rec.Props[keyID]
	if !ok {
		return false, nil
	}
	want, err := literalToProperty(n.Value)
	if err != nil {
		return false, err
	}
	return compare(n.Op, actual, want)
}

func cloneBinding(b binding) binding {
	nb := make(binding, len(b)+1)
	for k, v := range b {
		nb[k] = v
	}
	return nb
}

func rowKey(r Row) string {
	buf, _ := json.Marshal(r)
	return string(buf)
}

// propScalar converts a stored property into a plain Go value suitable
// for JSON/FFI marshaling.
func propScalar(v pager.PropertyValue) any {
	switch v.Kind {
	case pager.PropNull:
		return nil
	case pager.PropBool:
		return v.Bool
	case pager.PropInt:
		return v.Int
	case pager.PropFloat:
		return v.Float
	case pager.PropString:
		return v.Str
	case pager.PropBytes:
		return base64.StdEncoding.EncodeToString(v.Bytes)
	case pager.PropDateTime:
		return v.DateTime
	}
	return nil
}

// literalToProperty decodes a query-spec {t, v} literal into the same
// PropertyValue shape stored on disk, so predicate comparisons reuse one
// notion of equality with createNode/updateNode.
func literalToProperty(lit *Literal) (pager.PropertyValue, error) {
	switch lit.T {
	case "Null":
		return pager.NullValue(), nil
	case "Bool":
		var v bool
		if err := json.Unmarshal(lit.V, &v); err != nil {
			return pager.PropertyValue{}, sombraerr.Wrap(sombraerr.JSON, "query.literalToProperty", err)
		}
		return pager.BoolValue(v), nil
	case "Int":
		var v int64
		if err := json.Unmarshal(lit.V, &v); err != nil {
			return pager.PropertyValue{}, sombraerr.Wrap(sombraerr.JSON, "query.literalToProperty", err)
		}
		return pager.IntValue(v), nil
	case "Float":
		var v float64
		if err := json.Unmarshal(lit.V, &v); err != nil {
			return pager.PropertyValue{}, sombraerr.Wrap(sombraerr.JSON, "query.literalToProperty", err)
		}
		return pager.FloatValue(v), nil
	case "String":
		var v string
		if err := json.Unmarshal(lit.V, &v); err != nil {
			return pager.PropertyValue{}, sombraerr.Wrap(sombraerr.JSON, "query.literalToProperty", err)
		}
		return pager.StringValue(v), nil
	case "DateTime":
		var v int64
		if err := json.Unmarshal(lit.V, &v); err != nil {
			return pager.PropertyValue{}, sombraerr.Wrap(sombraerr.JSON, "query.literalToProperty", err)
		}
		return pager.DateTimeValue(v), nil
	default:
		return pager.PropertyValue{}, sombraerr.New(sombraerr.Analyzer, "query.literalToProperty").WithContext("unknown literal type %q", lit.T)
	}
}

// compare evaluates a leaf comparison operator between a stored property
// and a query literal, requiring matching kinds except where ordering on
// Int/Float is the obvious intent.
func compare(op string, actual, want pager.PropertyValue) (bool, error) {
	if op == "eq" || op == "ne" {
		eq := propertyEqual(actual, want)
		if op == "ne" {
			return !eq, nil
		}
		return eq, nil
	}

	af, aok := numeric(actual)
	wf, wok := numeric(want)
	if !aok || !wok {
		return false, sombraerr.New(sombraerr.Analyzer, "query.compare").WithContext("ordering comparison requires numeric operands")
	}
	switch op {
	case "lt":
		return af < wf, nil
	case "lte":
		return af <= wf, nil
	case "gt":
		return af > wf, nil
	case "gte":
		return af >= wf, nil
	}
	return false, sombraerr.New(sombraerr.Analyzer, "query.compare").WithContext("unknown comparison operator %q", op)
}

func numeric(v pager.PropertyValue) (float64, bool) {
	switch v.Kind {
	case pager.PropInt:
		return float64(v.Int), true
	case pager.PropFloat:
		return v.Float, true
	case pager.PropDateTime:
		return float64(v.DateTime), true
	}
	return 0, false
}

func propertyEqual(a, b pager.PropertyValue) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case pager.PropNull:
		return true
	case pager.PropBool:
		return a.Bool == b.Bool
	case pager.PropInt:
		return a.Int == b.Int
	case pager.PropFloat:
		return a.Float == b.Float
	case pager.PropString:
		return a.Str == b.Str
	case pager.PropBytes:
		return string(a.Bytes) == string(b.Bytes)
	case pager.PropDateTime:
		return a.DateTime == b.DateTime
	}
	return false
}
