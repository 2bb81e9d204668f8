package graph

import (
	"path/filepath"
	"testing"

	"github.com/sombra-db/sombra/internal/pager"
)

func openTestStore(t *testing.T) (*pager.Pager, *Store) {
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
	s, err := OpenStore(p, txID)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	s.SyncRoots()
	if err := p.CommitTx(txID); err != nil {
		t.Fatalf("commit bootstrap tx: %v", err)
	}
	return p, s
}

func withWriteTx(t *testing.T, p *pager.Pager, fn func(pager.TxID)) {
	t.Helper()
	txID, err := p.BeginTx()
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	fn(txID)
	if err := p.CommitTx(txID); err != nil {
		t.Fatalf("commit tx: %v", err)
	}
}

func props(kv ...any) map[string]pager.PropertyValue {
	out := make(map[string]pager.PropertyValue)
	for i := 0; i < len(kv); i += 2 {
		k := kv[i].(string)
		switch v := kv[i+1].(type) {
		case string:
			out[k] = pager.StringValue(v)
		case int64:
			out[k] = pager.IntValue(v)
		case int:
			out[k] = pager.IntValue(int64(v))
		}
	}
	return out
}

func TestCreateAndGetNodeRoundTrip(t *testing.T) {
	p, s := openTestStore(t)

	var id NodeID
	withWriteTx(t, p, func(txID pager.TxID) {
		var err error
		id, err = s.CreateNode(txID, []string{"Person"}, props("name", "ada"))
		if err != nil {
			t.Fatalf("create node: %v", err)
		}
	})

	rec, err := s.GetNode(p.HeaderSnapshot().NextTxID-1, id)
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if len(rec.Labels) != 1 {
		t.Fatalf("expected 1 label, got %d", len(rec.Labels))
	}
	nameID, _ := s.PropKeyName(0)
	_ = nameID
}

func TestCreateEdgeRejectsMissingEndpoints(t *testing.T) {
	p, s := openTestStore(t)

	withWriteTx(t, p, func(txID pager.TxID) {
		_, err := s.CreateEdge(txID, 999, 1000, "knows", nil)
		if err == nil {
			t.Fatal("expected error creating edge between nonexistent nodes")
		}
	})
}

func TestCreateEdgeAndNeighborsSymmetric(t *testing.T) {
	p, s := openTestStore(t)

	var a, b NodeID
	var edge EdgeID
	withWriteTx(t, p, func(txID pager.TxID) {
		var err error
		a, err = s.CreateNode(txID, []string{"Person"}, nil)
		if err != nil {
			t.Fatalf("create a: %v", err)
		}
		b, err = s.CreateNode(txID, []string{"Person"}, nil)
		if err != nil {
			t.Fatalf("create b: %v", err)
		}
		edge, err = s.CreateEdge(txID, a, b, "knows", nil)
		if err != nil {
			t.Fatalf("create edge: %v", err)
		}
	})

	outN, err := s.Neighbors(a, DirOut, "", false)
	if err != nil {
		t.Fatalf("neighbors out: %v", err)
	}
	if len(outN) != 1 || outN[0].Node != b || outN[0].Edge != edge {
		t.Fatalf("unexpected out neighbors: %+v", outN)
	}

	inN, err := s.Neighbors(b, DirIn, "", false)
	if err != nil {
		t.Fatalf("neighbors in: %v", err)
	}
	if len(inN) != 1 || inN[0].Node != a || inN[0].Edge != edge {
		t.Fatalf("unexpected in neighbors: %+v", inN)
	}
}

func TestBFSRespectsMaxDepthAndDistinct(t *testing.T) {
	p, s := openTestStore(t)

	var n0, n1, n2, n3 NodeID
	withWriteTx(t, p, func(txID pager.TxID) {
		var err error
		n0, err = s.CreateNode(txID, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		n1, err = s.CreateNode(txID, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		n2, err = s.CreateNode(txID, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		n3, err = s.CreateNode(txID, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.CreateEdge(txID, n0, n1, "link", nil); err != nil {
			t.Fatal(err)
		}
		if _, err := s.CreateEdge(txID, n1, n2, "link", nil); err != nil {
			t.Fatal(err)
		}
		if _, err := s.CreateEdge(txID, n2, n3, "link", nil); err != nil {
			t.Fatal(err)
		}
	})

	zeroDepth, err := s.BFS(n0, BFSOptions{Direction: DirOut, MaxDepth: 0})
	if err != nil {
		t.Fatalf("bfs depth 0: %v", err)
	}
	if len(zeroDepth) != 1 || zeroDepth[0].Node != n0 {
		t.Fatalf("expected only start node at depth 0, got %+v", zeroDepth)
	}

	twoDeep, err := s.BFS(n0, BFSOptions{Direction: DirOut, MaxDepth: 2, Distinct: true})
	if err != nil {
		t.Fatalf("bfs depth 2: %v", err)
	}
	if len(twoDeep) != 3 {
		t.Fatalf("expected start+2 reached nodes, got %d: %+v", len(twoDeep), twoDeep)
	}
	if twoDeep[len(twoDeep)-1].Node != n2 || twoDeep[len(twoDeep)-1].Depth != 2 {
		t.Fatalf("expected n2 at depth 2 last, got %+v", twoDeep)
	}
}

func TestDeleteNodeRequiresCascadeWhenEdgesExist(t *testing.T) {
	p, s := openTestStore(t)

	var a, b NodeID
	withWriteTx(t, p, func(txID pager.TxID) {
		var err error
		a, err = s.CreateNode(txID, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		b, err = s.CreateNode(txID, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.CreateEdge(txID, a, b, "knows", nil); err != nil {
			t.Fatal(err)
		}
	})

	withWriteTx(t, p, func(txID pager.TxID) {
		err := s.DeleteNode(txID, a, false)
		if err == nil {
			t.Fatal("expected conflict deleting node with incident edge, cascade=false")
		}
	})

	withWriteTx(t, p, func(txID pager.TxID) {
		if err := s.DeleteNode(txID, a, true); err != nil {
			t.Fatalf("cascade delete: %v", err)
		}
	})

	readTx := p.HeaderSnapshot().NextTxID - 1
	if _, err := s.GetNode(readTx, a); err == nil {
		t.Fatal("expected node a to be gone after cascade delete")
	}
}

func TestUpdateNodeSetAndUnset(t *testing.T) {
	p, s := openTestStore(t)

	var id NodeID
	withWriteTx(t, p, func(txID pager.TxID) {
		var err error
		id, err = s.CreateNode(txID, nil, props("name", "ada", "age", int64(30)))
		if err != nil {
			t.Fatal(err)
		}
	})

	withWriteTx(t, p, func(txID pager.TxID) {
		err := s.UpdateNode(txID, id, PropPatch{
			Set:   map[string]pager.PropertyValue{"age": pager.IntValue(31)},
			Unset: []string{"name"},
		})
		if err != nil {
			t.Fatalf("update node: %v", err)
		}
	})

	readTx := p.HeaderSnapshot().NextTxID - 1
	rec, err := s.GetNode(readTx, id)
	if err != nil {
		t.Fatalf("get node after update: %v", err)
	}
	ageKey, ok := s.Catalog.PropKeys.Lookup("age")
	if !ok {
		t.Fatal("age key not interned")
	}
	if v, ok := rec.Props[ageKey]; !ok || v.Int != 31 {
		t.Fatalf("expected age=31, got %+v", rec.Props)
	}
	nameKey, ok := s.Catalog.PropKeys.Lookup("name")
	if ok {
		if _, stillSet := rec.Props[nameKey]; stillSet {
			t.Fatal("expected name to be unset")
		}
	}
}

func TestBuilderResolvesAliasesAtomically(t *testing.T) {
	p, s := openTestStore(t)

	var res *BuildResult
	withWriteTx(t, p, func(txID pager.TxID) {
		var err error
		res, err = s.CreateBuilder().
			AddNode("alice", []string{"Person"}, props("name", "alice")).
			AddNode("bob", []string{"Person"}, props("name", "bob")).
			AddEdge("alice", "bob", "knows", nil).
			Commit(txID)
		if err != nil {
			t.Fatalf("builder commit: %v", err)
		}
	})

	if len(res.Nodes) != 2 || len(res.Edges) != 1 {
		t.Fatalf("unexpected build result: %+v", res)
	}
	alice, ok := res.Aliases["alice"]
	if !ok {
		t.Fatal("missing alias alice")
	}
	neighbors, err := s.Neighbors(alice, DirOut, "knows", false)
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if len(neighbors) != 1 {
		t.Fatalf("expected 1 neighbor via alias edge, got %d", len(neighbors))
	}
}

func TestCountAndListNodesWithLabel(t *testing.T) {
	p, s := openTestStore(t)

	withWriteTx(t, p, func(txID pager.TxID) {
		for i := 0; i < 3; i++ {
			if _, err := s.CreateNode(txID, []string{"Person"}, nil); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := s.CreateNode(txID, []string{"Company"}, nil); err != nil {
			t.Fatal(err)
		}
	})

	count, err := s.CountNodesWithLabel("Person")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 Person nodes, got %d", count)
	}

	ids, err := s.ListNodesWithLabel("Person")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}

	missing, err := s.CountNodesWithLabel("Ghost")
	if err != nil {
		t.Fatalf("count missing label: %v", err)
	}
	if missing != 0 {
		t.Fatalf("expected 0 for never-interned label, got %d", missing)
	}
}
