// Package mvcc implements snapshot-isolation versioning for node and edge
// records: version chains keyed by entity ID, visibility governed purely by
// commit transaction IDs, and watermark-driven garbage collection.
package mvcc

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/snappy"
)

// compressMinBytes is the smallest payload EnableCompression will actually
// run through Snappy; Snappy's own frame overhead makes compressing
// anything smaller a net loss, so shorter payloads are stored raw with a
// tag byte marking them as such.
const compressMinBytes = 128

const (
	codecTagRaw    byte = 0
	codecTagSnappy byte = 1
)

// TxID identifies the transaction that produced or superseded a version.
// It doubles as Sombra's logical clock — visibility is defined entirely in
// terms of commit order, so no separate timestamp is needed.
type TxID uint64

// Version holds one revision of a node or edge record.
type Version struct {
	EntityID       uint64
	CommitTx       TxID // transaction that created this version
	SupersededByTx TxID // transaction that superseded it; 0 if still current
	Payload        []byte
	Tombstone      bool // true if this version represents a delete

	next *Version // older version in the chain, nil at the tail
}

// Store holds the version chains for one record kind (nodes, or edges).
// The latest version for an entity sits at the head of its chain; older
// versions trail behind it via next until GC prunes them.
type Store struct {
	mu       sync.RWMutex
	versions map[uint64]*Version
	pruned   map[uint64]struct{} // entities whose chain has lost at least one version to GC
	compress bool
}

// NewStore creates an empty version store.
func NewStore() *Store {
	return &Store{
		versions: make(map[uint64]*Version),
		pruned:   make(map[uint64]struct{}),
	}
}

// EnableCompression switches the store to Snappy-compress every payload of
// at least compressMinBytes from this call forward (the versionCodec config
// option); shorter payloads are stored raw behind a tag byte. Must be called
// right after NewStore, before the first Put — GetVisible decompresses
// unconditionally once enabled, so a store can't mix compressed and
// plain entries.
func (s *Store) EnableCompression() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compress = true
}

// HasChain reports whether entityID has any version tracked in memory at
// all. Callers (the graph layer) use this to tell "never touched this
// process's lifetime, read straight from the durable B-tree" apart from
// "has an in-memory version chain, consult it for visibility."
func (s *Store) HasChain(entityID uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.versions[entityID]
	return ok
}

// Put records a new version of entityID created by txID, superseding
// whatever version was previously current.
func (s *Store) Put(txID TxID, entityID uint64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.versions[entityID]
	if prev != nil {
		prev.SupersededByTx = txID
	}
	if s.compress {
		payload = tagAndCompress(payload)
	}
	s.versions[entityID] = &Version{
		EntityID: entityID,
		CommitTx: txID,
		Payload:  payload,
		next:     prev,
	}
}

// Delete records a tombstone version for entityID, closing out its chain
// for any reader whose snapshot is at or after txID.
func (s *Store) Delete(txID TxID, entityID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.versions[entityID]
	if prev == nil {
		return ErrEntityNotFound
	}
	prev.SupersededByTx = txID
	s.versions[entityID] = &Version{
		EntityID:  entityID,
		CommitTx:  txID,
		Tombstone: true,
		next:      prev,
	}
	return nil
}

// GetVisible walks entityID's version chain and returns the payload of the
// version visible to a reader whose snapshot is readTxID — the newest
// version with CommitTx <= readTxID that has not been superseded at or
// before readTxID. Returns (nil, false, nil) if no version is visible
// because the entity did not exist yet. Returns ErrSnapshotTooOld if the
// chain has been pruned past the point this snapshot needs (GC already
// discarded every version old enough to satisfy readTxID).
func (s *Store) GetVisible(readTxID TxID, entityID uint64) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.versions[entityID]
	var oldestSeen *Version
	for v != nil {
		oldestSeen = v
		if v.CommitTx <= TxID(readTxID) && (v.SupersededByTx == 0 || v.SupersededByTx > readTxID) {
			if v.Tombstone {
				return nil, false, nil
			}
			if s.compress {
				decoded, err := untagAndDecompress(v.Payload)
				if err != nil {
					return nil, false, fmt.Errorf("mvcc: decompress version: %w", err)
				}
				return decoded, true, nil
			}
			return v.Payload, true, nil
		}
		v = v.next
	}
	if oldestSeen != nil && oldestSeen.CommitTx > readTxID {
		// Every surviving version postdates this snapshot. That's normal
		// if the entity simply didn't exist yet at readTxID — but if GC
		// has ever pruned an older version from this exact chain, we
		// can't tell the two cases apart, so fail safe with
		// SnapshotTooOld rather than silently reporting "not found".
		if _, wasPruned := s.pruned[entityID]; wasPruned {
			return nil, false, ErrSnapshotTooOld
		}
	}
	return nil, false, nil
}

// GarbageCollect drops every version in every chain that is no longer
// visible to any reader whose snapshot is >= watermark. The newest version
// of a chain is kept, except that a chain whose newest version is a
// tombstone committed at or before watermark is removed entirely,
// tombstone included. Returns the number of versions removed.
func (s *Store) GarbageCollect(watermark TxID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, head := range s.versions {
		if head.Tombstone && head.CommitTx <= watermark {
			// Every active reader's snapshot is at or after the tombstone's
			// commit, so every one of them already sees "not found" — the
			// whole chain, tombstone included, can go.
			delete(s.versions, id)
			for v := head; v != nil; v = v.next {
				removed++
			}
			continue
		}

		cur := head
		for cur.next != nil {
			nxt := cur.next
			if nxt.SupersededByTx != 0 && nxt.SupersededByTx <= watermark {
				// nxt is no longer visible to any active reader: unlink it
				// and everything behind it.
				for v := nxt; v != nil; v = v.next {
					removed++
				}
				cur.next = nil
				s.pruned[id] = struct{}{}
				break
			}
			cur = nxt
		}
	}
	return removed
}

// Count returns the number of entities with at least one version.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.versions)
}

// ChainDepth returns the number of versions retained for entityID, or 0 if
// it has none.
func (s *Store) ChainDepth(entityID uint64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	depth := 0
	for v := s.versions[entityID]; v != nil; v = v.next {
		depth++
	}
	return depth
}

// tagAndCompress prefixes payload with a one-byte codec tag so each
// version is self-describing regardless of whether it cleared the
// compression size floor.
func tagAndCompress(payload []byte) []byte {
	if len(payload) < compressMinBytes {
		tagged := make([]byte, 1+len(payload))
		tagged[0] = codecTagRaw
		copy(tagged[1:], payload)
		return tagged
	}
	compressed := snappy.Encode(nil, payload)
	tagged := make([]byte, 1+len(compressed))
	tagged[0] = codecTagSnappy
	copy(tagged[1:], compressed)
	return tagged
}

// untagAndDecompress reverses tagAndCompress.
func untagAndDecompress(tagged []byte) ([]byte, error) {
	if len(tagged) == 0 {
		return nil, fmt.Errorf("mvcc: empty tagged payload")
	}
	switch tagged[0] {
	case codecTagRaw:
		return tagged[1:], nil
	case codecTagSnappy:
		return snappy.Decode(nil, tagged[1:])
	default:
		return nil, fmt.Errorf("mvcc: unknown codec tag %d", tagged[0])
	}
}

var (
	ErrEntityNotFound = fmt.Errorf("mvcc: entity not found")
	ErrSnapshotTooOld = fmt.Errorf("mvcc: snapshot too old, versions already collected")
)
