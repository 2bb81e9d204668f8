package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}
}

func TestValidateRejectsBadPageSize(t *testing.T) {
	o := Default()
	o.PageSize = 1000
	if err := o.Validate(); err == nil {
		t.Fatal("expected error for non-power-of-two page size")
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sombra.yaml")
	if err := os.WriteFile(path, []byte("synchronous: normal\ncachePages: 2048\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if opts.Synchronous != SyncNormal {
		t.Fatalf("expected synchronous=normal, got %q", opts.Synchronous)
	}
	if opts.CachePages != 2048 {
		t.Fatalf("expected cachePages=2048, got %d", opts.CachePages)
	}
	if opts.PageSize != Default().PageSize {
		t.Fatalf("expected unset pageSize to retain default, got %d", opts.PageSize)
	}
}

func TestIsKnownPragma(t *testing.T) {
	if !IsKnownPragma("synchronous") {
		t.Fatal("expected synchronous to be a known pragma")
	}
	if IsKnownPragma("bogus") {
		t.Fatal("expected bogus pragma to be unknown")
	}
}
