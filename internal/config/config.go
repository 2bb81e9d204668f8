// Package config defines the tunable options accepted by open() and the
// CLI/server entry points that wrap it: flags for anything set per
// invocation, a YAML file for anything with more than a couple of knobs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SyncMode controls how aggressively commits are fsynced.
type SyncMode string

const (
	SyncFull   SyncMode = "full"
	SyncNormal SyncMode = "normal"
	SyncOff    SyncMode = "off"
)

// VersionCodec selects whether payloads are compressed before being
// written to the on-disk version history.
type VersionCodec string

const (
	CodecNone   VersionCodec = "none"
	CodecSnappy VersionCodec = "snappy"
)

// Options mirrors the open(path, options) parameter set exactly.
type Options struct {
	CreateIfMissing bool `yaml:"createIfMissing"`

	PageSize   uint32 `yaml:"pageSize"`
	CachePages uint32 `yaml:"cachePages"`

	Synchronous SyncMode `yaml:"synchronous"`

	CommitCoalesceMs int `yaml:"commitCoalesceMs"`
	CommitMaxFrames  int `yaml:"commitMaxFrames"`
	CommitMaxCommits int `yaml:"commitMaxCommits"`

	GroupCommitMaxWriters int `yaml:"groupCommitMaxWriters"`
	GroupCommitMaxFrames  int `yaml:"groupCommitMaxFrames"`
	GroupCommitMaxWaitMs  int `yaml:"groupCommitMaxWaitMs"`

	AsyncFsync bool `yaml:"asyncFsync"`

	WALSegmentBytes        int64 `yaml:"walSegmentBytes"`
	WALPreallocateSegments int   `yaml:"walPreallocateSegments"`

	AutocheckpointMs *uint32 `yaml:"autocheckpointMs"` // nil disables the interval trigger

	VersionCodec VersionCodec `yaml:"versionCodec"`

	SnapshotPoolSize int `yaml:"snapshotPoolSize"`

	DistinctNeighborsDefault bool `yaml:"distinctNeighborsDefault"`

	// Schema, if non-empty, is checked by the query analyzer against
	// property names referenced in a query-spec. Left unset, the
	// analyzer accepts any interned property name.
	Schema map[string][]string `yaml:"schema,omitempty"`

	// VacuumCron, when non-empty, schedules internal/scheduler's
	// background vacuum sweep on this cron expression (robfig/cron/v3
	// syntax). Empty disables the scheduled sweep; vacuum still runs on
	// explicit request.
	VacuumCron string `yaml:"vacuumCron,omitempty"`
}

// Default returns the option set open() uses when the caller supplies
// none, matching the documented defaults.
func Default() Options {
	return Options{
		CreateIfMissing:          true,
		PageSize:                 8192,
		CachePages:               1024,
		Synchronous:              SyncFull,
		CommitCoalesceMs:         5,
		CommitMaxFrames:          256,
		CommitMaxCommits:         32,
		GroupCommitMaxWriters:    1,
		GroupCommitMaxFrames:     256,
		GroupCommitMaxWaitMs:     5,
		AsyncFsync:               false,
		WALSegmentBytes:          16 << 20,
		WALPreallocateSegments:   1,
		AutocheckpointMs:         nil,
		VersionCodec:             CodecNone,
		SnapshotPoolSize:         64,
		DistinctNeighborsDefault: false,
	}
}

// Validate checks option values outside their documented domain.
func (o Options) Validate() error {
	if o.PageSize != 0 && (o.PageSize < 512 || o.PageSize&(o.PageSize-1) != 0) {
		return fmt.Errorf("config: pageSize must be a power of two >= 512, got %d", o.PageSize)
	}
	switch o.Synchronous {
	case "", SyncFull, SyncNormal, SyncOff:
	default:
		return fmt.Errorf("config: unknown synchronous mode %q", o.Synchronous)
	}
	switch o.VersionCodec {
	case "", CodecNone, CodecSnappy:
	default:
		return fmt.Errorf("config: unknown versionCodec %q", o.VersionCodec)
	}
	if o.WALSegmentBytes < 0 {
		return fmt.Errorf("config: walSegmentBytes must be >= 0")
	}
	return nil
}

// Load reads a YAML config file, layering it over Default() so an
// omitted field keeps its default rather than zeroing out.
func Load(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Pragma holds the subset of Options the running handle can inspect or
// change at runtime via pragma(name, value?).
type Pragma struct {
	Synchronous      SyncMode
	AutocheckpointMs *uint32
	WALCoalesceMs    int
}

// PragmaNames lists every runtime-tunable pragma name.
var PragmaNames = []string{"synchronous", "autocheckpoint_ms", "wal_coalesce_ms"}

func IsKnownPragma(name string) bool {
	for _, n := range PragmaNames {
		if n == name {
			return true
		}
	}
	return false
}
