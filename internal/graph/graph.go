// Package graph encodes and decodes nodes, edges, adjacency, and postings
// on top of the pager's B-trees and catalog, and implements the
// node/edge CRUD, traversal, and batch-create operations described by
// the FFI handle contract.
//
// A Store holds exactly the five B-tree roots a Sombra file needs beyond
// its catalog dictionaries: the primary node and edge tables, the label
// and edge-type posting lists, and the combined directional adjacency
// index. All mutation happens inside a single writer transaction; reads
// go through the in-memory MVCC version store (internal/mvcc) first,
// falling back to the B-tree's current value when an entity has no
// in-memory version chain (nothing this process session has touched it,
// so the durable value is visible to every reader by definition).
package graph

import (
	"fmt"
	"sync"

	"github.com/sombra-db/sombra/internal/mvcc"
	"github.com/sombra-db/sombra/internal/pager"
	"github.com/sombra-db/sombra/internal/sombraerr"
)

// NodeID, EdgeID, LabelID, EdgeTypeID, PropKeyID mirror the identifier
// primitives of the storage layer below; declared here rather than
// imported from pager so the graph layer's public API doesn't leak
// storage-layer vocabulary.
type (
	NodeID     = uint64
	EdgeID     = uint64
	LabelID    = uint32
	EdgeTypeID = uint32
	PropKeyID  = uint32
)

// Direction selects which adjacency side a traversal follows.
type Direction uint8

const (
	DirOut Direction = iota
	DirIn
)

func (d Direction) String() string {
	if d == DirIn {
		return "in"
	}
	return "out"
}

// NodeRecord is the decoded, in-memory form of a node.
type NodeRecord struct {
	ID     NodeID
	Labels []LabelID
	Props  map[PropKeyID]pager.PropertyValue
}

// EdgeRecord is the decoded, in-memory form of an edge.
type EdgeRecord struct {
	ID    EdgeID
	Src   NodeID
	Dst   NodeID
	Type  EdgeTypeID
	Props map[PropKeyID]pager.PropertyValue
}

// Store is the graph layer's handle onto one open database file.
type Store struct {
	p       *pager.Pager
	Catalog *pager.Catalog

	// treeMu serializes root-pointer swaps against concurrent readers.
	// Sombra has exactly one writer at a time, but a root swap (a B-tree
	// split/merge reaching the top) and a concurrent reader's traversal
	// both touch the BTree struct's root field; this keeps that narrow
	// window race-free without slowing down the common read path, since
	// it's only taken for the duration of a pointer read/write, not a
	// whole traversal.
	treeMu sync.RWMutex

	nodeTree      *pager.BTree
	edgeTree      *pager.BTree
	adjTree       *pager.BTree
	labelPostings *pager.BTree
	typePostings  *pager.BTree

	NodeVersions *mvcc.Store
	EdgeVersions *mvcc.Store
}

// OpenStore opens (creating if absent) every B-tree root the graph layer
// needs, persisting freshly allocated roots into the header page the
// same way OpenCatalog does. Must run inside the bootstrap/first writer
// transaction of a brand-new file.
func OpenStore(p *pager.Pager, txID pager.TxID) (*Store, error) {
	cat, err := pager.OpenCatalog(p, txID)
	if err != nil {
		return nil, fmt.Errorf("graph: open catalog: %w", err)
	}

	hdr := p.HeaderSnapshot()

	nodeTree, nodeRoot, err := openOrCreateTree(p, txID, hdr.NodeIndexRoot)
	if err != nil {
		return nil, fmt.Errorf("graph: open node tree: %w", err)
	}
	edgeTree, edgeRoot, err := openOrCreateTree(p, txID, hdr.EdgeIndexRoot)
	if err != nil {
		return nil, fmt.Errorf("graph: open edge tree: %w", err)
	}
	adjTree, adjRoot, err := openOrCreateTree(p, txID, hdr.AdjacencyIndexRoot)
	if err != nil {
		return nil, fmt.Errorf("graph: open adjacency tree: %w", err)
	}
	labelPostings, labelRoot, err := openOrCreateTree(p, txID, hdr.LabelPostingsRoot)
	if err != nil {
		return nil, fmt.Errorf("graph: open label postings: %w", err)
	}
	typePostings, typeRoot, err := openOrCreateTree(p, txID, hdr.TypePostingsRoot)
	if err != nil {
		return nil, fmt.Errorf("graph: open type postings: %w", err)
	}

	p.UpdateHeader(func(h *pager.Header) {
		h.NodeIndexRoot = nodeRoot
		h.EdgeIndexRoot = edgeRoot
		h.AdjacencyIndexRoot = adjRoot
		h.LabelPostingsRoot = labelRoot
		h.TypePostingsRoot = typeRoot
	})

	return &Store{
		p:             p,
		Catalog:       cat,
		nodeTree:      nodeTree,
		edgeTree:      edgeTree,
		adjTree:       adjTree,
		labelPostings: labelPostings,
		typePostings:  typePostings,
		NodeVersions:  mvcc.NewStore(),
		EdgeVersions:  mvcc.NewStore(),
	}, nil
}

func openOrCreateTree(p *pager.Pager, txID pager.TxID, root pager.PageID) (*pager.BTree, pager.PageID, error) {
	if root != pager.InvalidPageID {
		return pager.NewBTree(p, root), root, nil
	}
	bt, err := pager.CreateBTree(p, txID)
	if err != nil {
		return nil, pager.InvalidPageID, err
	}
	return bt, bt.Root(), nil
}

// SyncRoots writes every tree's current root page ID back into the
// header page. Call this once per write transaction, before Commit, so a
// root changed by a split/merge during the transaction is durable.
func (s *Store) SyncRoots() {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	s.p.UpdateHeader(func(h *pager.Header) {
		h.NodeIndexRoot = s.nodeTree.Root()
		h.EdgeIndexRoot = s.edgeTree.Root()
		h.AdjacencyIndexRoot = s.adjTree.Root()
		h.LabelPostingsRoot = s.labelPostings.Root()
		h.TypePostingsRoot = s.typePostings.Root()
		h.LabelCatalogRoot = s.Catalog.Labels.Root()
		h.EdgeTypeCatalogRoot = s.Catalog.EdgeTypes.Root()
		h.PropKeyCatalogRoot = s.Catalog.PropKeys.Root()
	})
}

// allocNodeID draws the next node ID from the header counter.
func (s *Store) allocNodeID() NodeID {
	var id NodeID
	s.p.UpdateHeader(func(h *pager.Header) {
		id = h.NextNodeID
		h.NextNodeID++
	})
	return id
}

// allocEdgeID draws the next edge ID from the header counter.
func (s *Store) allocEdgeID() EdgeID {
	var id EdgeID
	s.p.UpdateHeader(func(h *pager.Header) {
		id = h.NextEdgeID
		h.NextEdgeID++
	})
	return id
}

// internLabels interns every label name and returns their IDs, in input
// order (callers that need a deterministic on-disk encoding sort before
// writing, see EncodeNode).
func (s *Store) internLabels(txID pager.TxID, names []string) ([]LabelID, error) {
	ids := make([]LabelID, len(names))
	for i, name := range names {
		id, err := s.Catalog.Labels.Intern(txID, name)
		if err != nil {
			return nil, sombraerr.Wrap(sombraerr.IO, "graph.internLabels", err)
		}
		ids[i] = id
	}
	return ids, nil
}

func (s *Store) internEdgeType(txID pager.TxID, name string) (EdgeTypeID, error) {
	id, err := s.Catalog.EdgeTypes.Intern(txID, name)
	if err != nil {
		return 0, sombraerr.Wrap(sombraerr.IO, "graph.internEdgeType", err)
	}
	return id, nil
}

func (s *Store) internProps(txID pager.TxID, props map[string]pager.PropertyValue) (map[PropKeyID]pager.PropertyValue, error) {
	out := make(map[PropKeyID]pager.PropertyValue, len(props))
	for name, v := range props {
		if err := v.Validate(); err != nil {
			return nil, sombraerr.Wrap(sombraerr.InvalidArg, "graph.internProps", err)
		}
		id, err := s.Catalog.PropKeys.Intern(txID, name)
		if err != nil {
			return nil, sombraerr.Wrap(sombraerr.IO, "graph.internProps", err)
		}
		out[id] = v
	}
	return out, nil
}

// PropKeyName resolves a property key ID back to its interned name.
func (s *Store) PropKeyName(id PropKeyID) (string, bool) { return s.Catalog.PropKeys.Name(id) }

// LabelName resolves a label ID back to its interned name.
func (s *Store) LabelName(id LabelID) (string, bool) { return s.Catalog.Labels.Name(id) }

// EdgeTypeName resolves an edge-type ID back to its interned name.
func (s *Store) EdgeTypeName(id EdgeTypeID) (string, bool) { return s.Catalog.EdgeTypes.Name(id) }

// LabelID looks up an already-interned label name without creating it.
func (s *Store) LabelID(name string) (LabelID, bool) { return s.Catalog.Labels.Lookup(name) }

// EdgeTypeID looks up an already-interned edge-type name without
// creating it.
func (s *Store) EdgeTypeID(name string) (EdgeTypeID, bool) { return s.Catalog.EdgeTypes.Lookup(name) }

// Roots returns every B-tree root page ID the graph layer owns, for use
// by vacuum's reachability scan and CLI inspection.
func (s *Store) Roots() []pager.PageID {
	s.treeMu.RLock()
	defer s.treeMu.RUnlock()
	return []pager.PageID{
		s.nodeTree.Root(),
		s.edgeTree.Root(),
		s.adjTree.Root(),
		s.labelPostings.Root(),
		s.typePostings.Root(),
		s.Catalog.Labels.Root(),
		s.Catalog.EdgeTypes.Root(),
		s.Catalog.PropKeys.Root(),
	}
}
