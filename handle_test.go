package sombra

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sombra-db/sombra/internal/config"
	"github.com/sombra-db/sombra/internal/pager"
	"github.com/sombra-db/sombra/internal/query"
)

func openTestHandle(t *testing.T) *Handle {
	t.Helper()
	dir := t.TempDir()
	h, err := Open(filepath.Join(dir, "test.db"), config.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestSeedDemoAndExecuteRoundTrip(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()

	if err := h.SeedDemo(); err != nil {
		t.Fatalf("seedDemo: %v", err)
	}

	spec := &query.QuerySpec{
		SchemaVersion: query.CurrentSchemaVersion,
		Matches:       []query.MatchClause{{Var: "u", Label: "User"}},
		Predicate: &query.PredicateNode{
			Op: "eq", Var: "u", Prop: "name",
			Value: &query.Literal{T: "String", V: []byte(`"Ada Lovelace"`)},
		},
		Projections: []query.Projection{{Kind: "prop", Var: "u", Prop: "name", Alias: "name"}},
	}

	res, err := h.Execute(ctx, spec)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0]["name"] != "Ada Lovelace" {
		t.Fatalf("unexpected rows: %+v", res.Rows)
	}
}

func TestBuilderBulkCreateAndAliasResolution(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()

	res, err := h.CreateBuilder().
		Node([]string{"User"}, map[string]pager.PropertyValue{"n": pager.IntValue(1)}, "a").
		Node([]string{"User"}, map[string]pager.PropertyValue{"n": pager.IntValue(2)}, "b").
		Edge("a", "KNOWS", "b").
		Execute(ctx)
	if err != nil {
		t.Fatalf("builder execute: %v", err)
	}
	if len(res.Nodes) != 2 || len(res.Edges) != 1 {
		t.Fatalf("unexpected summary: %+v", res)
	}

	rec, err := h.GetNodeRecord(res.Aliases["a"])
	if err != nil {
		t.Fatalf("get node a: %v", err)
	}
	keyID, ok := h.store.Catalog.PropKeys.Lookup("n")
	if !ok {
		t.Fatal("prop key n not interned")
	}
	if rec.Props[keyID].Int != 1 {
		t.Fatalf("expected alias a to resolve to n=1, got %+v", rec.Props)
	}
}

func TestCloseIsIdempotentAndBlocksFurtherOps(t *testing.T) {
	dir := t.TempDir()
	h, err := Open(filepath.Join(dir, "test.db"), config.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second close should succeed, got: %v", err)
	}

	_, err = h.CreateNode(context.Background(), []string{"X"}, nil)
	if err == nil {
		t.Fatal("expected Closed error for op after close")
	}
}

func TestDeleteNodeCascadeSemantics(t *testing.T) {
	h := openTestHandle(t)
	ctx := context.Background()

	a, err := h.CreateNode(ctx, []string{"Person"}, nil)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := h.CreateNode(ctx, []string{"Person"}, nil)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if _, err := h.CreateEdge(ctx, a, b, "knows", nil); err != nil {
		t.Fatalf("create edge: %v", err)
	}

	if err := h.DeleteNode(ctx, a, false); err == nil {
		t.Fatal("expected Conflict deleting node with incident edge")
	}
	if err := h.DeleteNode(ctx, a, true); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if _, err := h.GetNodeRecord(a); err == nil {
		t.Fatal("expected node a gone after cascade delete")
	}
}

func TestPragmaGetAndSet(t *testing.T) {
	h := openTestHandle(t)

	v, err := h.Pragma("synchronous", nil)
	if err != nil {
		t.Fatalf("pragma get: %v", err)
	}
	if v != "full" {
		t.Fatalf("expected default synchronous=full, got %q", v)
	}

	normal := "normal"
	v, err = h.Pragma("synchronous", &normal)
	if err != nil {
		t.Fatalf("pragma set: %v", err)
	}
	if v != "normal" {
		t.Fatalf("expected synchronous=normal after set, got %q", v)
	}

	if _, err := h.Pragma("not_a_pragma", nil); err == nil {
		t.Fatal("expected NotFound for unknown pragma")
	}
}

func TestSnappyVersionCodecRoundTrip(t *testing.T) {
	dir := t.TempDir()
	opts := config.Default()
	opts.VersionCodec = config.CodecSnappy

	h, err := Open(filepath.Join(dir, "test.db"), opts)
	if err != nil {
		t.Fatalf("open with versionCodec=snappy: %v", err)
	}
	defer h.Close()

	ctx := context.Background()
	id, err := h.CreateNode(ctx, []string{"User"}, map[string]pager.PropertyValue{
		"bio": pager.StringValue("a long enough string for Snappy to bother with"),
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}

	rec, err := h.GetNodeRecord(id)
	if err != nil {
		t.Fatalf("get node record: %v", err)
	}
	bio, ok := rec.Props[mustPropKeyID(t, h, "bio")]
	if !ok || bio.Str != "a long enough string for Snappy to bother with" {
		t.Fatalf("property did not survive compressed version round-trip: %+v", rec.Props)
	}
}

func mustPropKeyID(t *testing.T, h *Handle, name string) pager.PropKeyID {
	t.Helper()
	id, ok := h.store.Catalog.PropKeys.Lookup(name)
	if !ok {
		t.Fatalf("property key %q not interned", name)
	}
	return id
}
