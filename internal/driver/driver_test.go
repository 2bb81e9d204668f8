package driver

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sombra-db/sombra"
	"github.com/sombra-db/sombra/internal/pager"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sombra", "file:"+filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestExecCreatesNodesAndEdges(t *testing.T) {
	db := openTestDB(t)

	ops := []sombra.MutationOp{
		{Op: "createNode", Labels: []string{"User"}},
		{Op: "createNode", Labels: []string{"User"}},
	}
	raw, err := json.Marshal(ops)
	require.NoError(t, err)

	res, err := db.Exec(string(raw))
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	require.Equal(t, int64(2), affected)
}

func TestQueryReturnsProjectedRows(t *testing.T) {
	db := openTestDB(t)

	ops := []sombra.MutationOp{
		{Op: "createNode", Labels: []string{"User"}, Props: map[string]pager.PropertyValue{
			"name": pager.StringValue("Ada Lovelace"),
		}},
	}
	raw, _ := json.Marshal(ops)
	if _, err := db.Exec(string(raw)); err != nil {
		t.Fatalf("exec: %v", err)
	}

	spec := `{
		"schema_version": 1,
		"matches": [{"var": "u", "label": "User"}],
		"projections": [{"kind": "prop", "var": "u", "prop": "name", "alias": "name"}]
	}`
	rows, err := db.Query(spec)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	if !rows.Next() {
		t.Fatal("expected at least one row")
	}
	var name string
	if err := rows.Scan(&name); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if name != "Ada Lovelace" {
		t.Fatalf("expected Ada Lovelace, got %q", name)
	}
}

func TestOpenRejectsBadDSN(t *testing.T) {
	db, err := sql.Open("sombra", "mem://nope")
	require.NoError(t, err, "sql.Open itself should succeed (DSN parsed lazily)")
	defer db.Close()
	require.Error(t, db.Ping(), "expected Ping to fail for an unsupported DSN")
}
