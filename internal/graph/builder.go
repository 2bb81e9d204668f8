package graph

import (
	"github.com/sombra-db/sombra/internal/pager"
	"github.com/sombra-db/sombra/internal/sombraerr"
)

// nodeSpec stages one node to create; alias is optional and lets later
// edges in the same batch refer back to it before it has a real ID.
type nodeSpec struct {
	alias  string
	labels []string
	props  map[string]pager.PropertyValue
}

// edgeSpec stages one edge to create. Either endpoint is given as an
// alias into this batch's node specs, or as an existing NodeID.
type edgeSpec struct {
	srcAlias, dstAlias string
	srcID, dstID       *NodeID
	typeName           string
	props              map[string]pager.PropertyValue
}

// Builder accumulates a batch of node and edge creates that commit
// atomically in a single writer transaction, resolving aliases to the
// IDs allocated earlier in the same batch.
type Builder struct {
	s     *Store
	nodes []nodeSpec
	edges []edgeSpec
}

// BuildResult reports the IDs the builder allocated, plus the
// alias -> NodeId mapping for every aliased node in the batch.
type BuildResult struct {
	Nodes   []NodeID
	Edges   []EdgeID
	Aliases map[string]NodeID
}

// CreateBuilder starts a new batch-create against this store.
func (s *Store) CreateBuilder() *Builder {
	return &Builder{s: s}
}

// AddNode stages a node. alias may be "" if nothing in this batch needs
// to reference it by edge.
func (b *Builder) AddNode(alias string, labels []string, props map[string]pager.PropertyValue) *Builder {
	b.nodes = append(b.nodes, nodeSpec{alias: alias, labels: labels, props: props})
	return b
}

// AddEdge stages an edge between two aliases declared earlier in this
// same batch via AddNode.
func (b *Builder) AddEdge(srcAlias, dstAlias, typeName string, props map[string]pager.PropertyValue) *Builder {
	b.edges = append(b.edges, edgeSpec{srcAlias: srcAlias, dstAlias: dstAlias, typeName: typeName, props: props})
	return b
}

// AddEdgeFromExisting stages an edge whose src (or dst, or both) is an
// already-committed node rather than one staged in this batch.
func (b *Builder) AddEdgeFromExisting(src, dst NodeID, typeName string, props map[string]pager.PropertyValue) *Builder {
	s, d := src, dst
	b.edges = append(b.edges, edgeSpec{srcID: &s, dstID: &d, typeName: typeName, props: props})
	return b
}

// AddEdgeMixed stages an edge where srcAlias/dstAlias (if non-empty) take
// precedence over srcID/dstID, letting a batch mix new and existing
// endpoints freely.
func (b *Builder) AddEdgeMixed(srcAlias string, srcID NodeID, dstAlias string, dstID NodeID, typeName string, props map[string]pager.PropertyValue) *Builder {
	spec := edgeSpec{srcAlias: srcAlias, dstAlias: dstAlias, typeName: typeName, props: props}
	if srcAlias == "" {
		spec.srcID = &srcID
	}
	if dstAlias == "" {
		spec.dstID = &dstID
	}
	b.edges = append(b.edges, spec)
	return b
}

// Commit creates every staged node, then every staged edge, inside txID,
// resolving aliases against the nodes just created. Nodes are created in
// staging order before any edge, so an edge may reference any alias
// declared anywhere in the batch regardless of order.
func (b *Builder) Commit(txID pager.TxID) (*BuildResult, error) {
	res := &BuildResult{Aliases: make(map[string]NodeID)}

	for _, ns := range b.nodes {
		id, err := b.s.CreateNode(txID, ns.labels, ns.props)
		if err != nil {
			return nil, err
		}
		res.Nodes = append(res.Nodes, id)
		if ns.alias != "" {
			if _, dup := res.Aliases[ns.alias]; dup {
				return nil, sombraerr.New(sombraerr.InvalidArg, "graph.Builder.Commit").
					WithContext("duplicate alias %q", ns.alias)
			}
			res.Aliases[ns.alias] = id
		}
	}

	for _, es := range b.edges {
		src, err := b.resolveEndpoint(res, es.srcAlias, es.srcID)
		if err != nil {
			return nil, err
		}
		dst, err := b.resolveEndpoint(res, es.dstAlias, es.dstID)
		if err != nil {
			return nil, err
		}
		id, err := b.s.CreateEdge(txID, src, dst, es.typeName, es.props)
		if err != nil {
			return nil, err
		}
		res.Edges = append(res.Edges, id)
	}

	return res, nil
}

func (b *Builder) resolveEndpoint(res *BuildResult, alias string, id *NodeID) (NodeID, error) {
	if alias != "" {
		nid, ok := res.Aliases[alias]
		if !ok {
			return 0, sombraerr.New(sombraerr.InvalidArg, "graph.Builder.Commit").
				WithContext("unresolved alias %q", alias)
		}
		return nid, nil
	}
	if id != nil {
		return *id, nil
	}
	return 0, sombraerr.New(sombraerr.InvalidArg, "graph.Builder.Commit").WithContext("edge endpoint missing alias and id")
}
