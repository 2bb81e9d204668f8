package graph

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/sombra-db/sombra/internal/pager"
)

// ───────────────────────────────────────────────────────────────────────────
// Record encoding
// ───────────────────────────────────────────────────────────────────────────
//
// Node wire format:
//   [0:2]  label count (uint16 LE)
//   labels: label count * uint32 LE, ascending
//   props:  pager.MarshalProps format
//
// Edge wire format:
//   [0:8]   Src  NodeID  (uint64 LE)
//   [8:16]  Dst  NodeID  (uint64 LE)
//   [16:20] Type EdgeTypeID (uint32 LE)
//   props:  pager.MarshalProps format

// EncodeNode serializes a node record (without its ID, which is carried
// by the B-tree key) into the compact binary format.
func EncodeNode(labels []LabelID, props map[PropKeyID]pager.PropertyValue) ([]byte, error) {
	sorted := append([]LabelID(nil), labels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	propBuf, err := pager.MarshalProps(props)
	if err != nil {
		return nil, fmt.Errorf("encode node: %w", err)
	}

	buf := make([]byte, 2+4*len(sorted)+len(propBuf))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(sorted)))
	off := 2
	for _, l := range sorted {
		binary.LittleEndian.PutUint32(buf[off:off+4], l)
		off += 4
	}
	copy(buf[off:], propBuf)
	return buf, nil
}

// DecodeNode parses the wire format produced by EncodeNode.
func DecodeNode(id NodeID, data []byte) (*NodeRecord, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("decode node %d: truncated label count", id)
	}
	n := int(binary.LittleEndian.Uint16(data[0:2]))
	off := 2
	if off+4*n > len(data) {
		return nil, fmt.Errorf("decode node %d: truncated labels", id)
	}
	labels := make([]LabelID, n)
	for i := 0; i < n; i++ {
		labels[i] = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
	}
	props, err := pager.UnmarshalProps(data[off:])
	if err != nil {
		return nil, fmt.Errorf("decode node %d: %w", id, err)
	}
	return &NodeRecord{ID: id, Labels: labels, Props: props}, nil
}

// EncodeEdge serializes an edge record (without its ID) into the compact
// binary format.
func EncodeEdge(src, dst NodeID, typ EdgeTypeID, props map[PropKeyID]pager.PropertyValue) ([]byte, error) {
	propBuf, err := pager.MarshalProps(props)
	if err != nil {
		return nil, fmt.Errorf("encode edge: %w", err)
	}
	buf := make([]byte, 20+len(propBuf))
	binary.LittleEndian.PutUint64(buf[0:8], src)
	binary.LittleEndian.PutUint64(buf[8:16], dst)
	binary.LittleEndian.PutUint32(buf[16:20], typ)
	copy(buf[20:], propBuf)
	return buf, nil
}

// DecodeEdge parses the wire format produced by EncodeEdge.
func DecodeEdge(id EdgeID, data []byte) (*EdgeRecord, error) {
	if len(data) < 20 {
		return nil, fmt.Errorf("decode edge %d: truncated header", id)
	}
	src := binary.LittleEndian.Uint64(data[0:8])
	dst := binary.LittleEndian.Uint64(data[8:16])
	typ := binary.LittleEndian.Uint32(data[16:20])
	props, err := pager.UnmarshalProps(data[20:])
	if err != nil {
		return nil, fmt.Errorf("decode edge %d: %w", id, err)
	}
	return &EdgeRecord{ID: id, Src: src, Dst: dst, Type: typ, Props: props}, nil
}

// ───────────────────────────────────────────────────────────────────────────
// Key encodings
// ───────────────────────────────────────────────────────────────────────────

// nodeKey and edgeKey key the primary node/edge B-trees by big-endian ID,
// matching pager.IDKey / pager.ParseIDKey.
func nodeKey(id NodeID) []byte { return pager.IDKey(id) }
func edgeKey(id EdgeID) []byte { return pager.IDKey(id) }

// labelPostingKey keys the label-postings tree: LabelId(4BE) || NodeId(8BE).
func labelPostingKey(label LabelID, node NodeID) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], label)
	binary.BigEndian.PutUint64(buf[4:12], node)
	return buf
}

// labelPostingPrefix returns the prefix identifying every posting for a
// single label, for a ScanRange over all its member nodes.
func labelPostingPrefix(label LabelID) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, label)
	return buf
}

// typePostingKey keys the edge-type-postings tree: EdgeTypeId(4BE) || EdgeId(8BE).
func typePostingKey(typ EdgeTypeID, edge EdgeID) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], typ)
	binary.BigEndian.PutUint64(buf[4:12], edge)
	return buf
}

func typePostingPrefix(typ EdgeTypeID) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, typ)
	return buf
}

// adjKey keys the combined adjacency tree:
// NodeId(8BE) || Direction(1) || EdgeTypeId(4BE) || EdgeId(8BE).
// Ordering by this key gives, for a fixed node and direction, edges
// grouped by type and then ordered by edge ID — exactly the access
// pattern neighbors()/bfsTraversal() need.
func adjKey(node NodeID, dir Direction, typ EdgeTypeID, edge EdgeID) []byte {
	buf := make([]byte, 21)
	binary.BigEndian.PutUint64(buf[0:8], node)
	buf[8] = byte(dir)
	binary.BigEndian.PutUint32(buf[9:13], typ)
	binary.BigEndian.PutUint64(buf[13:21], edge)
	return buf
}

// adjPrefix returns the prefix selecting every adjacency entry for node
// in direction dir, across all edge types.
func adjPrefix(node NodeID, dir Direction) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint64(buf[0:8], node)
	buf[8] = byte(dir)
	return buf
}

// adjTypePrefix narrows further to a single edge type.
func adjTypePrefix(node NodeID, dir Direction, typ EdgeTypeID) []byte {
	buf := make([]byte, 13)
	binary.BigEndian.PutUint64(buf[0:8], node)
	buf[8] = byte(dir)
	binary.BigEndian.PutUint32(buf[9:13], typ)
	return buf
}

// parseAdjKey decodes an adjacency key back into its fields.
func parseAdjKey(key []byte) (node NodeID, dir Direction, typ EdgeTypeID, edge EdgeID) {
	node = binary.BigEndian.Uint64(key[0:8])
	dir = Direction(key[8])
	typ = binary.BigEndian.Uint32(key[9:13])
	edge = binary.BigEndian.Uint64(key[13:21])
	return
}

// adjValue encodes the counterpart node ID stored as an adjacency
// posting's value.
func adjValue(counterpart NodeID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, counterpart)
	return buf
}

func parseAdjValue(v []byte) NodeID { return binary.BigEndian.Uint64(v) }

func beUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func beUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }
