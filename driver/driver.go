// Package driver is Sombra's public database/sql driver entry point: a
// thin re-export over internal/driver, keeping a stable public surface
// separate from the hidden implementation package.
package driver

import (
	"database/sql"

	"github.com/sombra-db/sombra"
	id "github.com/sombra-db/sombra/internal/driver"
)

// DriverName is the registered database/sql driver name for Sombra.
const DriverName = "sombra"

// Open is a convenience wrapper around sql.Open(DriverName, dsn). dsn must
// be "file:<path>".
func Open(dsn string) (*sql.DB, error) { return sql.Open(DriverName, dsn) }

// OpenFile opens a file-backed Sombra database by constructing a file: DSN.
func OpenFile(path string) (*sql.DB, error) { return Open("file:" + path) }

// OpenWithHandle registers an already-open *sombra.Handle as the driver's
// shared handle and returns a *sql.DB view over it — useful for embedding
// a database/sql consumer alongside code that already holds the handle.
func OpenWithHandle(h *sombra.Handle) (*sql.DB, error) {
	SetDefaultHandle(h)
	return Open("")
}

// SetDefaultHandle re-exports internal/driver's handle registration so
// callers can share a handle without going through OpenWithHandle.
var SetDefaultHandle = id.SetDefaultHandle
