package pager

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// ───────────────────────────────────────────────────────────────────────────
// Interning catalogs — name → dictionary-ID, append-only
// ───────────────────────────────────────────────────────────────────────────
//
// Sombra keeps three independent interning tables, each backed by its own
// B-tree keyed by name and storing a 4-byte little-endian dictionary ID:
// labels, edge types, and property keys. IDs are never reused or renamed
// once assigned, so every reader can cache (name -> ID) forever; an
// in-memory mirror map on top of the B-tree makes repeated lookups of hot
// names allocation-free.

// InternTable is a single append-only name interning dictionary.
type InternTable struct {
	mu     sync.RWMutex
	pager  *Pager
	tree   *BTree
	byName map[string]uint32
	byID   map[uint32]string
	nextID uint32
}

// OpenInternTable opens or creates an interning table rooted at root. If
// root is InvalidPageID a new, empty B-tree is created and its root
// returned via the second result.
func OpenInternTable(p *Pager, txID TxID, root PageID) (*InternTable, PageID, error) {
	it := &InternTable{
		pager:  p,
		byName: make(map[string]uint32),
		byID:   make(map[uint32]string),
		nextID: 1,
	}

	if root == InvalidPageID {
		bt, err := CreateBTree(p, txID)
		if err != nil {
			return nil, InvalidPageID, fmt.Errorf("create intern table: %w", err)
		}
		it.tree = bt
		return it, bt.Root(), nil
	}

	it.tree = NewBTree(p, root)
	if err := it.tree.ScanRange(nil, nil, func(key, val []byte) bool {
		name := string(key)
		id := binary.LittleEndian.Uint32(val)
		it.byName[name] = id
		it.byID[id] = name
		if id >= it.nextID {
			it.nextID = id + 1
		}
		return true
	}); err != nil {
		return nil, InvalidPageID, fmt.Errorf("load intern table: %w", err)
	}
	return it, root, nil
}

// Intern returns the dictionary ID for name, assigning and persisting a
// fresh one if name has not been seen before. name is first normalized to
// NFC so that visually identical label/edge-type/property-key spellings
// built from different combining-character sequences intern to the same
// ID rather than silently coexisting as distinct dictionary entries.
func (it *InternTable) Intern(txID TxID, rawName string) (uint32, error) {
	name := norm.NFC.String(rawName)
	it.mu.RLock()
	if id, ok := it.byName[name]; ok {
		it.mu.RUnlock()
		return id, nil
	}
	it.mu.RUnlock()

	it.mu.Lock()
	defer it.mu.Unlock()
	// Re-check after acquiring the write lock.
	if id, ok := it.byName[name]; ok {
		return id, nil
	}

	id := it.nextID
	it.nextID++

	var val [4]byte
	binary.LittleEndian.PutUint32(val[:], id)
	if err := it.tree.Insert(txID, []byte(name), val[:]); err != nil {
		it.nextID--
		return 0, err
	}

	it.byName[name] = id
	it.byID[id] = name
	return id, nil
}

// Lookup returns the dictionary ID for an already-interned name.
func (it *InternTable) Lookup(rawName string) (uint32, bool) {
	name := norm.NFC.String(rawName)
	it.mu.RLock()
	defer it.mu.RUnlock()
	id, ok := it.byName[name]
	return id, ok
}

// Name returns the name for a dictionary ID.
func (it *InternTable) Name(id uint32) (string, bool) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	name, ok := it.byID[id]
	return name, ok
}

// Root returns the interning B-tree's root page ID.
func (it *InternTable) Root() PageID { return it.tree.Root() }

// Count returns the number of interned names.
func (it *InternTable) Count() int {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return len(it.byName)
}

// ───────────────────────────────────────────────────────────────────────────
// Catalog — the three interning tables together
// ───────────────────────────────────────────────────────────────────────────

// Catalog bundles the label, edge-type, and property-key dictionaries for
// a single database file.
type Catalog struct {
	Labels    *InternTable
	EdgeTypes *InternTable
	PropKeys  *InternTable
}

// OpenCatalog opens (or creates, for a brand-new file) all three
// dictionaries, updating the pager's header page with any freshly
// allocated tree roots.
func OpenCatalog(p *Pager, txID TxID) (*Catalog, error) {
	hdr := p.HeaderSnapshot()

	labels, labelsRoot, err := OpenInternTable(p, txID, hdr.LabelCatalogRoot)
	if err != nil {
		return nil, fmt.Errorf("open label catalog: %w", err)
	}
	edgeTypes, edgeTypesRoot, err := OpenInternTable(p, txID, hdr.EdgeTypeCatalogRoot)
	if err != nil {
		return nil, fmt.Errorf("open edge-type catalog: %w", err)
	}
	propKeys, propKeysRoot, err := OpenInternTable(p, txID, hdr.PropKeyCatalogRoot)
	if err != nil {
		return nil, fmt.Errorf("open prop-key catalog: %w", err)
	}

	p.UpdateHeader(func(h *Header) {
		h.LabelCatalogRoot = labelsRoot
		h.EdgeTypeCatalogRoot = edgeTypesRoot
		h.PropKeyCatalogRoot = propKeysRoot
	})

	return &Catalog{Labels: labels, EdgeTypes: edgeTypes, PropKeys: propKeys}, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Record keys
// ───────────────────────────────────────────────────────────────────────────
//
// Node and edge records are stored in their own B-trees:
//   node tree:  key = 8-byte big-endian NodeId        value = encoded NodeRecord
//   edge tree:  key = 8-byte big-endian EdgeId         value = encoded EdgeRecord
//   adjacency:  key = NodeId(8) ++ dir(1) ++ EdgeTypeId(4) ++ EdgeId(8)
//               value = 8-byte big-endian counterpart NodeId

// IDKey encodes a 64-bit node or edge ID as a big-endian B-tree key, which
// keeps keys in ascending numeric order for range scans.
func IDKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

// ParseIDKey decodes an IDKey back into its 64-bit ID.
func ParseIDKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
