package graph

import (
	"github.com/sombra-db/sombra/internal/mvcc"
	"github.com/sombra-db/sombra/internal/pager"
	"github.com/sombra-db/sombra/internal/sombraerr"
)

// PropPatch describes a set/unset property mutation, as accepted by
// updateNode/updateEdge.
type PropPatch struct {
	Set   map[string]pager.PropertyValue
	Unset []string
}

// ── Create ──────────────────────────────────────────────────────────────

// CreateNode allocates a NodeId, interns every label and property key,
// stores the record, and adds one (LabelId, NodeId) posting per label.
func (s *Store) CreateNode(txID pager.TxID, labels []string, props map[string]pager.PropertyValue) (NodeID, error) {
	labelIDs, err := s.internLabels(txID, labels)
	if err != nil {
		return 0, err
	}
	propMap, err := s.internProps(txID, props)
	if err != nil {
		return 0, err
	}

	id := s.allocNodeID()
	data, err := EncodeNode(labelIDs, propMap)
	if err != nil {
		return 0, sombraerr.Wrap(sombraerr.InvalidArg, "graph.CreateNode", err)
	}

	s.treeMu.Lock()
	err = s.nodeTree.Insert(txID, nodeKey(id), data)
	s.treeMu.Unlock()
	if err != nil {
		return 0, sombraerr.Wrap(sombraerr.IO, "graph.CreateNode", err)
	}

	for _, lbl := range labelIDs {
		s.treeMu.Lock()
		err = s.labelPostings.Insert(txID, labelPostingKey(lbl, id), nil)
		s.treeMu.Unlock()
		if err != nil {
			return 0, sombraerr.Wrap(sombraerr.IO, "graph.CreateNode", err).WithContext("label posting")
		}
	}

	s.NodeVersions.Put(mvcc.TxID(txID), id, data)
	return id, nil
}

// CreateEdge verifies src and dst are live at the writer's view, then
// allocates an EdgeId and inserts the edge record, edge-type posting,
// and both directions of adjacency.
func (s *Store) CreateEdge(txID pager.TxID, src, dst NodeID, typeName string, props map[string]pager.PropertyValue) (EdgeID, error) {
	if _, err := s.GetNode(pager.TxID(txID), src); err != nil {
		return 0, sombraerr.Wrap(sombraerr.NotFound, "graph.CreateEdge", err).WithContext("src=%d", src)
	}
	if _, err := s.GetNode(pager.TxID(txID), dst); err != nil {
		return 0, sombraerr.Wrap(sombraerr.NotFound, "graph.CreateEdge", err).WithContext("dst=%d", dst)
	}

	typ, err := s.internEdgeType(txID, typeName)
	if err != nil {
		return 0, err
	}
	propMap, err := s.internProps(txID, props)
	if err != nil {
		return 0, err
	}

	id := s.allocEdgeID()
	data, err := EncodeEdge(src, dst, typ, propMap)
	if err != nil {
		return 0, sombraerr.Wrap(sombraerr.InvalidArg, "graph.CreateEdge", err)
	}

	s.treeMu.Lock()
	err = s.edgeTree.Insert(txID, edgeKey(id), data)
	s.treeMu.Unlock()
	if err != nil {
		return 0, sombraerr.Wrap(sombraerr.IO, "graph.CreateEdge", err)
	}

	s.treeMu.Lock()
	err = s.typePostings.Insert(txID, typePostingKey(typ, id), nil)
	s.treeMu.Unlock()
	if err != nil {
		return 0, sombraerr.Wrap(sombraerr.IO, "graph.CreateEdge", err).WithContext("type posting")
	}

	if err := s.insertAdjacency(txID, src, dst, typ, id, DirOut); err != nil {
		return 0, err
	}
	if err := s.insertAdjacency(txID, dst, src, typ, id, DirIn); err != nil {
		return 0, err
	}

	s.EdgeVersions.Put(mvcc.TxID(txID), id, data)
	return id, nil
}

func (s *Store) insertAdjacency(txID pager.TxID, owner, counterpart NodeID, typ EdgeTypeID, edge EdgeID, dir Direction) error {
	s.treeMu.Lock()
	err := s.adjTree.Insert(txID, adjKey(owner, dir, typ, edge), adjValue(counterpart))
	s.treeMu.Unlock()
	if err != nil {
		return sombraerr.Wrap(sombraerr.IO, "graph.insertAdjacency", err)
	}
	return nil
}

// ── Read ────────────────────────────────────────────────────────────────

// GetNode returns the node visible to readTxID, or NotFound if it
// doesn't exist (or has been deleted) at that snapshot.
func (s *Store) GetNode(readTxID pager.TxID, id NodeID) (*NodeRecord, error) {
	data, err := s.readEntity(s.NodeVersions, s.nodeTree, readTxID, id)
	if err != nil {
		return nil, err
	}
	rec, err := DecodeNode(id, data)
	if err != nil {
		return nil, sombraerr.Wrap(sombraerr.Corruption, "graph.GetNode", err)
	}
	return rec, nil
}

// GetEdge returns the edge visible to readTxID, or NotFound.
func (s *Store) GetEdge(readTxID pager.TxID, id EdgeID) (*EdgeRecord, error) {
	data, err := s.readEntity(s.EdgeVersions, s.edgeTree, readTxID, id)
	if err != nil {
		return nil, err
	}
	rec, err := DecodeEdge(id, data)
	if err != nil {
		return nil, sombraerr.Wrap(sombraerr.Corruption, "graph.GetEdge", err)
	}
	return rec, nil
}

// readEntity resolves the payload visible to readTxID for an entity key,
// consulting the in-memory MVCC chain first and falling back to the
// B-tree's current value when the entity has no tracked chain at all.
func (s *Store) readEntity(versions *mvcc.Store, tree *pager.BTree, readTxID pager.TxID, id uint64) ([]byte, error) {
	if versions.HasChain(id) {
		payload, ok, err := versions.GetVisible(mvcc.TxID(readTxID), id)
		if err != nil {
			return nil, sombraerr.Wrap(sombraerr.SnapshotTooOld, "graph.readEntity", err)
		}
		if !ok {
			return nil, sombraerr.New(sombraerr.NotFound, "graph.readEntity").WithContext("id=%d", id)
		}
		return payload, nil
	}

	s.treeMu.RLock()
	data, found, err := tree.Get(pager.IDKey(id))
	s.treeMu.RUnlock()
	if err != nil {
		return nil, sombraerr.Wrap(sombraerr.IO, "graph.readEntity", err)
	}
	if !found {
		return nil, sombraerr.New(sombraerr.NotFound, "graph.readEntity").WithContext("id=%d", id)
	}
	return data, nil
}

// ── Update ──────────────────────────────────────────────────────────────

// UpdateNode merges patch into the node's current property map and
// writes a new version, retaining the old payload in the in-memory MVCC
// chain so earlier snapshots keep seeing it.
func (s *Store) UpdateNode(txID pager.TxID, id NodeID, patch PropPatch) error {
	s.treeMu.RLock()
	cur, found, err := s.nodeTree.Get(nodeKey(id))
	s.treeMu.RUnlock()
	if err != nil {
		return sombraerr.Wrap(sombraerr.IO, "graph.UpdateNode", err)
	}
	if !found {
		return sombraerr.New(sombraerr.NotFound, "graph.UpdateNode").WithContext("id=%d", id)
	}
	rec, err := DecodeNode(id, cur)
	if err != nil {
		return sombraerr.Wrap(sombraerr.Corruption, "graph.UpdateNode", err)
	}

	if err := s.applyPatch(txID, rec.Props, patch); err != nil {
		return err
	}

	data, err := EncodeNode(rec.Labels, rec.Props)
	if err != nil {
		return sombraerr.Wrap(sombraerr.InvalidArg, "graph.UpdateNode", err)
	}

	s.treeMu.Lock()
	err = s.nodeTree.Insert(txID, nodeKey(id), data)
	s.treeMu.Unlock()
	if err != nil {
		return sombraerr.Wrap(sombraerr.IO, "graph.UpdateNode", err)
	}

	s.NodeVersions.Put(mvcc.TxID(txID), id, data)
	return nil
}

// UpdateEdge merges patch into the edge's property map. A PropPatch only
// sets or unsets properties, so the edge's Src, Dst and Type are
// re-encoded unchanged; there is no way to change them through this call.
func (s *Store) UpdateEdge(txID pager.TxID, id EdgeID, patch PropPatch) error {
	s.treeMu.RLock()
	cur, found, err := s.edgeTree.Get(edgeKey(id))
	s.treeMu.RUnlock()
	if err != nil {
		return sombraerr.Wrap(sombraerr.IO, "graph.UpdateEdge", err)
	}
	if !found {
		return sombraerr.New(sombraerr.NotFound, "graph.UpdateEdge").WithContext("id=%d", id)
	}
	rec, err := DecodeEdge(id, cur)
	if err != nil {
		return sombraerr.Wrap(sombraerr.Corruption, "graph.UpdateEdge", err)
	}

	if err := s.applyPatch(txID, rec.Props, patch); err != nil {
		return err
	}

	data, err := EncodeEdge(rec.Src, rec.Dst, rec.Type, rec.Props)
	if err != nil {
		return sombraerr.Wrap(sombraerr.InvalidArg, "graph.UpdateEdge", err)
	}

	s.treeMu.Lock()
	err = s.edgeTree.Insert(txID, edgeKey(id), data)
	s.treeMu.Unlock()
	if err != nil {
		return sombraerr.Wrap(sombraerr.IO, "graph.UpdateEdge", err)
	}

	s.EdgeVersions.Put(mvcc.TxID(txID), id, data)
	return nil
}

func (s *Store) applyPatch(txID pager.TxID, props map[PropKeyID]pager.PropertyValue, patch PropPatch) error {
	for _, name := range patch.Unset {
		id, ok := s.Catalog.PropKeys.Lookup(name)
		if !ok {
			continue // never set, nothing to unset
		}
		delete(props, id)
	}
	for name, v := range patch.Set {
		if err := v.Validate(); err != nil {
			return sombraerr.Wrap(sombraerr.InvalidArg, "graph.applyPatch", err)
		}
		id, err := s.Catalog.PropKeys.Intern(txID, name)
		if err != nil {
			return sombraerr.Wrap(sombraerr.IO, "graph.applyPatch", err)
		}
		props[id] = v
	}
	return nil
}

// ── Delete ──────────────────────────────────────────────────────────────

// DeleteNode removes a node. With cascade=false it fails with Conflict
// if the node has any incident edge; with cascade=true it first deletes
// every incident edge (both directions), then the node itself.
func (s *Store) DeleteNode(txID pager.TxID, id NodeID, cascade bool) error {
	rec, err := s.GetNode(txID, id)
	if err != nil {
		return err
	}

	incident, err := s.incidentEdges(id)
	if err != nil {
		return err
	}
	if len(incident) > 0 && !cascade {
		return sombraerr.New(sombraerr.Conflict, "graph.DeleteNode").
			WithContext("node %d has %d incident edge(s)", id, len(incident))
	}
	for _, eid := range incident {
		if err := s.DeleteEdge(txID, eid); err != nil {
			return err
		}
	}

	for _, lbl := range rec.Labels {
		s.treeMu.Lock()
		_, _ = s.labelPostings.Delete(txID, labelPostingKey(lbl, id))
		s.treeMu.Unlock()
	}

	s.treeMu.Lock()
	_, err = s.nodeTree.Delete(txID, nodeKey(id))
	s.treeMu.Unlock()
	if err != nil {
		return sombraerr.Wrap(sombraerr.IO, "graph.DeleteNode", err)
	}

	if err := s.NodeVersions.Delete(mvcc.TxID(txID), id); err != nil {
		// The node had no in-memory chain yet (untouched this session);
		// seed one with its current payload so the tombstone is visible
		// to readers holding an older snapshot.
		s.NodeVersions.Put(mvcc.TxID(txID)-1, id, mustEncode(rec))
		_ = s.NodeVersions.Delete(mvcc.TxID(txID), id)
	}
	return nil
}

// DeleteEdge removes an edge record, its type posting, and both
// directions of adjacency.
func (s *Store) DeleteEdge(txID pager.TxID, id EdgeID) error {
	rec, err := s.GetEdge(txID, id)
	if err != nil {
		return err
	}

	s.treeMu.Lock()
	_, _ = s.typePostings.Delete(txID, typePostingKey(rec.Type, id))
	_, _ = s.adjTree.Delete(txID, adjKey(rec.Src, DirOut, rec.Type, id))
	_, _ = s.adjTree.Delete(txID, adjKey(rec.Dst, DirIn, rec.Type, id))
	_, err = s.edgeTree.Delete(txID, edgeKey(id))
	s.treeMu.Unlock()
	if err != nil {
		return sombraerr.Wrap(sombraerr.IO, "graph.DeleteEdge", err)
	}

	if err := s.EdgeVersions.Delete(mvcc.TxID(txID), id); err != nil {
		s.EdgeVersions.Put(mvcc.TxID(txID)-1, id, mustEncode(rec))
		_ = s.EdgeVersions.Delete(mvcc.TxID(txID), id)
	}
	return nil
}

// incidentEdges returns every edge touching node id, either direction.
func (s *Store) incidentEdges(id NodeID) ([]EdgeID, error) {
	var out []EdgeID
	for _, dir := range []Direction{DirOut, DirIn} {
		prefix := adjPrefix(id, dir)
		s.treeMu.RLock()
		err := s.adjTree.ScanRange(prefix, nil, func(key, _ []byte) bool {
			n, d, _, edge := parseAdjKey(key)
			if n != id || d != dir {
				return false
			}
			out = append(out, edge)
			return true
		})
		s.treeMu.RUnlock()
		if err != nil {
			return nil, sombraerr.Wrap(sombraerr.IO, "graph.incidentEdges", err)
		}
	}
	return out, nil
}

func mustEncode(rec any) []byte {
	switch r := rec.(type) {
	case *NodeRecord:
		data, _ := EncodeNode(r.Labels, r.Props)
		return data
	case *EdgeRecord:
		data, _ := EncodeEdge(r.Src, r.Dst, r.Type, r.Props)
		return data
	}
	return nil
}

// ── Counts & label listing ────────────────────────────────────────────

// CountNodesWithLabel counts postings for label. O(n) over the posting
// range; fine at the scale this core targets (no maintained counters to
// keep consistent across concurrent structural changes).
func (s *Store) CountNodesWithLabel(labelName string) (int, error) {
	label, ok := s.LabelID(labelName)
	if !ok {
		return 0, nil
	}
	count := 0
	prefix := labelPostingPrefix(label)
	s.treeMu.RLock()
	err := s.labelPostings.ScanRange(prefix, nil, func(key, _ []byte) bool {
		l, _, _ := parseLabelPostingKey(key)
		if l != label {
			return false
		}
		count++
		return true
	})
	s.treeMu.RUnlock()
	if err != nil {
		return 0, sombraerr.Wrap(sombraerr.IO, "graph.CountNodesWithLabel", err)
	}
	return count, nil
}

// CountEdgesWithType counts postings for an edge type.
func (s *Store) CountEdgesWithType(typeName string) (int, error) {
	typ, ok := s.EdgeTypeID(typeName)
	if !ok {
		return 0, nil
	}
	count := 0
	prefix := typePostingPrefix(typ)
	s.treeMu.RLock()
	err := s.typePostings.ScanRange(prefix, nil, func(key, _ []byte) bool {
		t, _ := parseTypePostingKey(key)
		if t != typ {
			return false
		}
		count++
		return true
	})
	s.treeMu.RUnlock()
	if err != nil {
		return 0, sombraerr.Wrap(sombraerr.IO, "graph.CountEdgesWithType", err)
	}
	return count, nil
}

// ListNodesWithLabel returns every NodeId carrying label, ascending.
func (s *Store) ListNodesWithLabel(labelName string) ([]NodeID, error) {
	label, ok := s.LabelID(labelName)
	if !ok {
		return nil, nil
	}
	var out []NodeID
	prefix := labelPostingPrefix(label)
	s.treeMu.RLock()
	err := s.labelPostings.ScanRange(prefix, nil, func(key, _ []byte) bool {
		l, node, _ := parseLabelPostingKey(key)
		if l != label {
			return false
		}
		out = append(out, node)
		return true
	})
	s.treeMu.RUnlock()
	if err != nil {
		return nil, sombraerr.Wrap(sombraerr.IO, "graph.ListNodesWithLabel", err)
	}
	return out, nil
}

func parseLabelPostingKey(key []byte) (label LabelID, node NodeID, ok bool) {
	if len(key) < 12 {
		return 0, 0, false
	}
	return beUint32(key[0:4]), beUint64(key[4:12]), true
}

func parseTypePostingKey(key []byte) (typ EdgeTypeID, ok bool) {
	if len(key) < 4 {
		return 0, false
	}
	return beUint32(key[0:4]), true
}
