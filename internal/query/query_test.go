package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sombra-db/sombra/internal/graph"
	"github.com/sombra-db/sombra/internal/pager"
)

func seedStore(t *testing.T) (*pager.Pager, *graph.Store, pager.TxID) {
	t.Helper()
	dir := t.TempDir()
	p, err := pager.OpenPager(pager.PagerConfig{
		DBPath: filepath.Join(dir, "test.db"),
		WALDir: filepath.Join(dir, "test.db-wal"),
	})
	if err != nil {
		t.Fatalf("open pager: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	txID, err := p.BeginTx()
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	s, err := graph.OpenStore(p, txID)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	_, err = s.CreateNode(txID, []string{"User"}, map[string]pager.PropertyValue{
		"name": pager.StringValue("Ada Lovelace"),
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	_, err = s.CreateNode(txID, []string{"User"}, map[string]pager.PropertyValue{
		"name": pager.StringValue("Grace Hopper"),
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	s.SyncRoots()
	if err := p.CommitTx(txID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return p, s, txID
}

func TestExecuteDemoRoundTrip(t *testing.T) {
	p, s, txID := seedStore(t)
	_ = txID

	exec := NewExecutor(s, nil)
	spec := &QuerySpec{
		SchemaVersion: CurrentSchemaVersion,
		Matches:       []MatchClause{{Var: "u", Label: "User"}},
		Predicate: &PredicateNode{
			Op: "eq", Var: "u", Prop: "name",
			Value: &Literal{T: "String", V: []byte(`"Ada Lovelace"`)},
		},
		Projections: []Projection{{Kind: "prop", Var: "u", Prop: "name", Alias: "name"}},
	}

	readTxID := p.HeaderSnapshot().NextTxID - 1
	res, err := exec.Execute(context.Background(), readTxID, spec)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected exactly 1 row, got %d: %+v", len(res.Rows), res.Rows)
	}
	if res.Rows[0]["name"] != "Ada Lovelace" {
		t.Fatalf("unexpected row: %+v", res.Rows[0])
	}
}

func TestAnalyzeRejectsUnknownSchemaVersion(t *testing.T) {
	_, err := analyze(&QuerySpec{SchemaVersion: 99, Matches: []MatchClause{{Var: "u", Label: "User"}}, Projections: []Projection{{Kind: "id", Var: "u", Alias: "id"}}})
	if err == nil {
		t.Fatal("expected analyzer error for unknown schema version")
	}
}

func TestAnalyzeRejectsUnknownVariable(t *testing.T) {
	spec := &QuerySpec{
		SchemaVersion: CurrentSchemaVersion,
		Matches:       []MatchClause{{Var: "u", Label: "User"}},
		Projections:   []Projection{{Kind: "id", Var: "ghost", Alias: "id"}},
	}
	if _, err := analyze(spec); err == nil {
		t.Fatal("expected analyzer error for unbound projection variable")
	}
}

func TestStreamCursorCancellation(t *testing.T) {
	p, s, _ := seedStore(t)
	exec := NewExecutor(s, nil)
	spec := &QuerySpec{
		SchemaVersion: CurrentSchemaVersion,
		Matches:       []MatchClause{{Var: "u", Label: "User"}},
		Projections:   []Projection{{Kind: "id", Var: "u", Alias: "id"}},
	}

	readTxID := p.HeaderSnapshot().NextTxID - 1
	cur, err := exec.Stream(context.Background(), readTxID, spec)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer cur.Close()

	row, ok, err := cur.Next()
	if err != nil || !ok || row == nil {
		t.Fatalf("expected first row, got ok=%v err=%v", ok, err)
	}

	cur.Close()
	if _, ok, err := cur.Next(); err == nil || ok {
		t.Fatalf("expected Closed error after Close, got ok=%v err=%v", ok, err)
	}
}
