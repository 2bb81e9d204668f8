package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sombra-db/sombra"
	"github.com/sombra-db/sombra/internal/config"
	"github.com/sombra-db/sombra/internal/query"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	dir := t.TempDir()
	h, err := sombra.Open(filepath.Join(dir, "test.db"), config.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	if err := h.SeedDemo(); err != nil {
		t.Fatalf("seedDemo: %v", err)
	}
	return &server{h: h}
}

func TestHandleStatusReportsOK(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/status", nil)
	s.handleStatus(w, r)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok=true, got %+v", body)
	}
}

func TestHandleQueryReturnsDemoRow(t *testing.T) {
	s := newTestServer(t)

	spec, err := query.ParseSpec([]byte(`{
		"schema_version": 1,
		"matches": [{"var": "u", "label": "User"}],
		"predicate": {"op": "eq", "var": "u", "prop": "name", "value": {"t": "String", "v": "Ada Lovelace"}},
		"projections": [{"kind": "prop", "var": "u", "prop": "name", "alias": "name"}]
	}`))
	if err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	raw, _ := json.Marshal(queryRequest{Spec: spec})

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/query", bytes.NewReader(raw))
	s.handleQuery(w, r)

	var resp queryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Count != 1 {
		t.Fatalf("expected 1 row, got %d: %+v", resp.Count, resp.Rows)
	}
}
