package graph

import (
	"container/list"

	"github.com/sombra-db/sombra/internal/sombraerr"
)

// Neighbor is one edge/counterpart-node pair returned by Neighbors.
type Neighbor struct {
	Edge EdgeID
	Node NodeID
	Type EdgeTypeID
}

// Neighbors lists the nodes (and connecting edges) adjacent to id in the
// given direction, optionally narrowed to a single edge type. When
// distinct is true, repeated counterpart nodes (multi-edges between the
// same pair) collapse to their first occurrence.
func (s *Store) Neighbors(id NodeID, dir Direction, edgeType string, distinct bool) ([]Neighbor, error) {
	var prefix []byte
	var wantType EdgeTypeID
	filterByType := edgeType != ""
	if filterByType {
		typ, ok := s.EdgeTypeID(edgeType)
		if !ok {
			return nil, nil // unknown type interned by nobody yet: no neighbors
		}
		wantType = typ
		prefix = adjTypePrefix(id, dir, typ)
	} else {
		prefix = adjPrefix(id, dir)
	}

	var out []Neighbor
	seen := make(map[NodeID]struct{})

	s.treeMu.RLock()
	err := s.adjTree.ScanRange(prefix, nil, func(key, value []byte) bool {
		node, keyDir, typ, edge := parseAdjKey(key)
		if node != id || keyDir != dir {
			return false
		}
		if filterByType && typ != wantType {
			return false
		}
		counterpart := parseAdjValue(value)
		if distinct {
			if _, dup := seen[counterpart]; dup {
				return true
			}
			seen[counterpart] = struct{}{}
		}
		out = append(out, Neighbor{Edge: edge, Node: counterpart, Type: typ})
		return true
	})
	s.treeMu.RUnlock()
	if err != nil {
		return nil, sombraerr.Wrap(sombraerr.IO, "graph.Neighbors", err)
	}
	return out, nil
}

// BFSNode is one entry of a breadth-first traversal result, tagged with
// its distance from the start node.
type BFSNode struct {
	Node  NodeID
	Depth int
}

// BFSOptions configures a bfsTraversal call.
type BFSOptions struct {
	Direction Direction
	EdgeType  string // "" means any type
	MaxDepth  int    // 0 means start node only
	Distinct  bool   // collapse multi-edges between the same pair during expansion
}

// BFS walks the adjacency index breadth-first from start, returning every
// reached node tagged with its depth. A MaxDepth of 0 returns only the
// start node. Filters are applied during expansion, not as a post-hoc
// pass, so traversal never walks past the requested type or depth.
func (s *Store) BFS(start NodeID, opts BFSOptions) ([]BFSNode, error) {
	visited := map[NodeID]int{start: 0}
	order := []BFSNode{{Node: start, Depth: 0}}

	if opts.MaxDepth <= 0 {
		return order, nil
	}

	queue := list.New()
	queue.PushBack(start)

	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(NodeID)
		depth := visited[front]
		if depth >= opts.MaxDepth {
			continue
		}

		neighbors, err := s.Neighbors(front, opts.Direction, opts.EdgeType, opts.Distinct)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if _, ok := visited[n.Node]; ok {
				continue
			}
			visited[n.Node] = depth + 1
			order = append(order, BFSNode{Node: n.Node, Depth: depth + 1})
			queue.PushBack(n.Node)
		}
	}
	return order, nil
}
