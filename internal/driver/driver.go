// Package driver implements a database/sql driver for Sombra.
//
// What: a minimal driver that exposes a Handle via the standard
// database/sql interfaces. There is no SQL grammar — the "query" text a
// caller passes to Query/Exec is a query-spec or mutate-ops JSON document,
// the same documents the handle's execute()/mutate() accept directly.
// How: a small DSN ("file:path") opens (or shares) a *sombra.Handle; each
// database/sql connection wraps it, translating QueryContext/ExecContext
// into Handle.Execute/Handle.Mutate calls and adapting their results into
// driver.Rows/driver.Result.
// Why: integrating with database/sql gives Go programs that already speak
// that interface a familiar way to reach an embedded Sombra database
// without adopting the handle's Go-native API directly.
package driver

import (
	"context"
	"database/sql"
	gosqldriver "database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sombra-db/sombra"
	"github.com/sombra-db/sombra/internal/config"
	"github.com/sombra-db/sombra/internal/query"
)

var defaultDrv = &drv{}

func init() {
	sql.Register("sombra", defaultDrv)
}

// SetDefaultHandle registers h as the handle subsequent Open("") calls
// share, for embedding environments that already hold an open *sombra.Handle
// and want a database/sql view over the same one rather than opening the
// file a second time.
func SetDefaultHandle(h *sombra.Handle) {
	defaultDrv.shared = h
}

type drv struct {
	shared *sombra.Handle
}

func (d *drv) Open(name string) (gosqldriver.Conn, error) {
	if d.shared != nil {
		return &conn{h: d.shared, owned: false}, nil
	}
	path, ok := strings.CutPrefix(name, "file:")
	if !ok {
		return nil, fmt.Errorf("sombra: unsupported DSN %q, expected file:<path>", name)
	}
	h, err := sombra.Open(path, config.Default())
	if err != nil {
		return nil, err
	}
	return &conn{h: h, owned: true}, nil
}

type conn struct {
	h     *sombra.Handle
	owned bool
}

func (c *conn) Prepare(queryText string) (gosqldriver.Stmt, error) {
	return &stmt{c: c, query: queryText}, nil
}

func (c *conn) Close() error {
	if c.owned {
		return c.h.Close()
	}
	return nil
}

func (c *conn) Begin() (gosqldriver.Tx, error) {
	return nil, fmt.Errorf("sombra: multi-statement transactions are not exposed over database/sql; each Exec/Query already commits atomically")
}

func (c *conn) Ping(ctx context.Context) error {
	_, err := c.h.CountNodesWithLabel("")
	return err
}

func (c *conn) ExecContext(ctx context.Context, queryText string, args []gosqldriver.NamedValue) (gosqldriver.Result, error) {
	var ops []sombra.MutationOp
	if err := json.Unmarshal([]byte(queryText), &ops); err != nil {
		return nil, fmt.Errorf("sombra: exec text must be a JSON array of mutation ops: %w", err)
	}
	summary, err := c.h.Mutate(ctx, ops)
	if err != nil {
		return nil, err
	}
	return execResult{summary: summary}, nil
}

func (c *conn) Exec(queryText string, args []gosqldriver.Value) (gosqldriver.Result, error) {
	return c.ExecContext(context.Background(), queryText, namedValues(args))
}

func (c *conn) QueryContext(ctx context.Context, queryText string, args []gosqldriver.NamedValue) (gosqldriver.Rows, error) {
	spec, err := query.ParseSpec([]byte(queryText))
	if err != nil {
		return nil, err
	}
	res, err := c.h.Execute(ctx, spec)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(spec.Projections))
	for i, p := range spec.Projections {
		cols[i] = p.Alias
	}
	return &rowsResult{cols: cols, rows: res.Rows}, nil
}

func (c *conn) Query(queryText string, args []gosqldriver.Value) (gosqldriver.Rows, error) {
	return c.QueryContext(context.Background(), queryText, namedValues(args))
}

func namedValues(args []gosqldriver.Value) []gosqldriver.NamedValue {
	n := make([]gosqldriver.NamedValue, len(args))
	for i, v := range args {
		n[i] = gosqldriver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return n
}

type stmt struct {
	c     *conn
	query string
}

func (s *stmt) Close() error  { return nil }
func (s *stmt) NumInput() int { return -1 } // placeholders, if any, are inside the JSON body itself

func (s *stmt) Exec(args []gosqldriver.Value) (gosqldriver.Result, error) {
	return s.c.Exec(s.query, args)
}
func (s *stmt) Query(args []gosqldriver.Value) (gosqldriver.Rows, error) {
	return s.c.Query(s.query, args)
}

// execResult adapts a mutate() summary into database/sql's Result.
type execResult struct {
	summary *sombra.MutationSummary
}

func (r execResult) LastInsertId() (int64, error) {
	if len(r.summary.CreatedNodes) > 0 {
		return int64(r.summary.CreatedNodes[len(r.summary.CreatedNodes)-1]), nil
	}
	if len(r.summary.CreatedEdges) > 0 {
		return int64(r.summary.CreatedEdges[len(r.summary.CreatedEdges)-1]), nil
	}
	return 0, nil
}

func (r execResult) RowsAffected() (int64, error) {
	return int64(len(r.summary.CreatedNodes) + len(r.summary.CreatedEdges)), nil
}

// rowsResult adapts a query.Result's row set into database/sql's Rows.
type rowsResult struct {
	cols []string
	rows []query.Row
	pos  int
}

func (r *rowsResult) Columns() []string { return r.cols }
func (r *rowsResult) Close() error      { return nil }

func (r *rowsResult) Next(dest []gosqldriver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	for i, col := range r.cols {
		dest[i] = toDriverValue(row[col])
	}
	return nil
}

// toDriverValue narrows a projected value to one of the concrete types
// database/sql's driver.Value accepts: int64, float64, bool, []byte,
// string, time.Time, or nil.
func toDriverValue(v any) gosqldriver.Value {
	switch t := v.(type) {
	case nil, int64, float64, bool, []byte, string:
		return t
	case uint64:
		return int64(t)
	case int:
		return int64(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
