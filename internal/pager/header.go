package pager

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Header page – page 0
// ───────────────────────────────────────────────────────────────────────────
//
// Layout (fits in one page, default 8 KiB):
//
//  Offset  Size  Field
//  ──────  ────  ───────────────────
//  0       32    Common PageHeader (Type=Header, ID=0)
//  32      8     Magic               [8]byte "SOMBRADB"
//  40      4     FormatVersion       uint32 LE
//  44      4     PageSize            uint32 LE
//  48      8     PageCount           uint64 LE  (total pages in file)
//  56      8     FeatureFlags        uint64 LE  (bitmask)
//  64      4     LabelCatalogRoot    uint32 LE
//  68      4     EdgeTypeCatalogRoot uint32 LE
//  72      4     PropKeyCatalogRoot  uint32 LE
//  76      4     NodeIndexRoot       uint32 LE  (B-tree root over NodeId)
//  80      4     EdgeIndexRoot       uint32 LE  (B-tree root over EdgeId)
//  84      4     AdjacencyIndexRoot  uint32 LE  (B-tree root over adjacency postings)
//  88      4     FreeListHead        uint32 LE  (top of the LIFO free-page stack, 0 if empty)
//  92      8     CheckpointLSN       uint64 LE
//  100     8     NextTxID            uint64 LE
//  108     8     NextNodeID          uint64 LE
//  116     8     NextEdgeID          uint64 LE
//  124     4     NextPageID          uint32 LE
//  128     4     LabelPostingsRoot   uint32 LE  (B-tree root over LabelId||NodeId)
//  132     4     TypePostingsRoot    uint32 LE  (B-tree root over EdgeTypeId||EdgeId)
//  136     56    Reserved            [56]byte (future use — zero-filled)
//
// The CRC in the common header covers the entire page.

const (
	// HeaderMagic identifies a valid Sombra database file.
	HeaderMagic = "SOMBRADB"

	// CurrentFormatVersion is the on-disk format version.
	CurrentFormatVersion uint32 = 1

	hMagicOff               = PageHeaderSize              // 32
	hFormatVersionOff       = hMagicOff + 8                // 40
	hPageSizeOff            = hFormatVersionOff + 4        // 44
	hPageCountOff           = hPageSizeOff + 4             // 48
	hFeatureFlagsOff        = hPageCountOff + 8            // 56
	hLabelCatalogRootOff    = hFeatureFlagsOff + 8         // 64
	hEdgeTypeCatalogRootOff = hLabelCatalogRootOff + 4     // 68
	hPropKeyCatalogRootOff  = hEdgeTypeCatalogRootOff + 4  // 72
	hNodeIndexRootOff       = hPropKeyCatalogRootOff + 4   // 76
	hEdgeIndexRootOff       = hNodeIndexRootOff + 4        // 80
	hAdjacencyIndexRootOff  = hEdgeIndexRootOff + 4        // 84
	hFreeListHeadOff        = hAdjacencyIndexRootOff + 4   // 88
	hCheckpointLSNOff       = hFreeListHeadOff + 4         // 92
	hNextTxIDOff            = hCheckpointLSNOff + 8        // 100
	hNextNodeIDOff          = hNextTxIDOff + 8             // 108
	hNextEdgeIDOff          = hNextNodeIDOff + 8           // 116
	hNextPageIDOff          = hNextEdgeIDOff + 8           // 124
	hLabelPostingsRootOff   = hNextPageIDOff + 4           // 128
	hTypePostingsRootOff    = hLabelPostingsRootOff + 4    // 132
)

// FeatureFlag bits (bitmask). Version 1 has no flags set.
const (
	FeatureCompression FeatureFlag = 1 << iota // history chunks stored Snappy-compressed
	FeatureEncryption                          // reserved: page-level encryption
)

// FeatureFlag is a bitmask of optional format features.
type FeatureFlag uint64

// SupportedFeatures is the set of features understood by this build.
// Any flag outside of this set causes the file to be rejected.
const SupportedFeatures FeatureFlag = FeatureCompression

// Header holds the parsed contents of page 0.
type Header struct {
	FormatVersion       uint32
	PageSize            uint32
	PageCount           uint64
	FeatureFlags        FeatureFlag
	LabelCatalogRoot    PageID
	EdgeTypeCatalogRoot PageID
	PropKeyCatalogRoot  PageID
	NodeIndexRoot       PageID
	EdgeIndexRoot       PageID
	AdjacencyIndexRoot  PageID
	FreeListHead        PageID
	CheckpointLSN       LSN
	NextTxID            TxID
	NextNodeID          uint64
	NextEdgeID          uint64
	NextPageID          PageID
	LabelPostingsRoot   PageID
	TypePostingsRoot    PageID
}

// MarshalHeaderPage serializes a Header into a full page buffer.
func MarshalHeaderPage(h *Header, pageSize int) []byte {
	buf := NewPage(pageSize, PageTypeHeader, 0)

	copy(buf[hMagicOff:hMagicOff+8], HeaderMagic)

	binary.LittleEndian.PutUint32(buf[hFormatVersionOff:], h.FormatVersion)
	binary.LittleEndian.PutUint32(buf[hPageSizeOff:], h.PageSize)
	binary.LittleEndian.PutUint64(buf[hPageCountOff:], h.PageCount)
	binary.LittleEndian.PutUint64(buf[hFeatureFlagsOff:], uint64(h.FeatureFlags))
	binary.LittleEndian.PutUint32(buf[hLabelCatalogRootOff:], uint32(h.LabelCatalogRoot))
	binary.LittleEndian.PutUint32(buf[hEdgeTypeCatalogRootOff:], uint32(h.EdgeTypeCatalogRoot))
	binary.LittleEndian.PutUint32(buf[hPropKeyCatalogRootOff:], uint32(h.PropKeyCatalogRoot))
	binary.LittleEndian.PutUint32(buf[hNodeIndexRootOff:], uint32(h.NodeIndexRoot))
	binary.LittleEndian.PutUint32(buf[hEdgeIndexRootOff:], uint32(h.EdgeIndexRoot))
	binary.LittleEndian.PutUint32(buf[hAdjacencyIndexRootOff:], uint32(h.AdjacencyIndexRoot))
	binary.LittleEndian.PutUint32(buf[hFreeListHeadOff:], uint32(h.FreeListHead))
	binary.LittleEndian.PutUint64(buf[hCheckpointLSNOff:], uint64(h.CheckpointLSN))
	binary.LittleEndian.PutUint64(buf[hNextTxIDOff:], uint64(h.NextTxID))
	binary.LittleEndian.PutUint64(buf[hNextNodeIDOff:], h.NextNodeID)
	binary.LittleEndian.PutUint64(buf[hNextEdgeIDOff:], h.NextEdgeID)
	binary.LittleEndian.PutUint32(buf[hNextPageIDOff:], uint32(h.NextPageID))
	binary.LittleEndian.PutUint32(buf[hLabelPostingsRootOff:], uint32(h.LabelPostingsRoot))
	binary.LittleEndian.PutUint32(buf[hTypePostingsRootOff:], uint32(h.TypePostingsRoot))

	SetPageCRC(buf)
	return buf
}

// UnmarshalHeaderPage decodes page 0 from buf, validating magic, version,
// feature flags, and CRC.
func UnmarshalHeaderPage(buf []byte) (*Header, error) {
	if len(buf) < MinPageSize {
		return nil, fmt.Errorf("header page too small: %d bytes", len(buf))
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, fmt.Errorf("header page CRC: %w", err)
	}
	magic := string(buf[hMagicOff : hMagicOff+8])
	if magic != HeaderMagic {
		return nil, fmt.Errorf("bad magic %q, expected %q", magic, HeaderMagic)
	}
	h := &Header{
		FormatVersion:       binary.LittleEndian.Uint32(buf[hFormatVersionOff:]),
		PageSize:            binary.LittleEndian.Uint32(buf[hPageSizeOff:]),
		PageCount:           binary.LittleEndian.Uint64(buf[hPageCountOff:]),
		FeatureFlags:        FeatureFlag(binary.LittleEndian.Uint64(buf[hFeatureFlagsOff:])),
		LabelCatalogRoot:    PageID(binary.LittleEndian.Uint32(buf[hLabelCatalogRootOff:])),
		EdgeTypeCatalogRoot: PageID(binary.LittleEndian.Uint32(buf[hEdgeTypeCatalogRootOff:])),
		PropKeyCatalogRoot:  PageID(binary.LittleEndian.Uint32(buf[hPropKeyCatalogRootOff:])),
		NodeIndexRoot:       PageID(binary.LittleEndian.Uint32(buf[hNodeIndexRootOff:])),
		EdgeIndexRoot:       PageID(binary.LittleEndian.Uint32(buf[hEdgeIndexRootOff:])),
		AdjacencyIndexRoot:  PageID(binary.LittleEndian.Uint32(buf[hAdjacencyIndexRootOff:])),
		FreeListHead:        PageID(binary.LittleEndian.Uint32(buf[hFreeListHeadOff:])),
		CheckpointLSN:       LSN(binary.LittleEndian.Uint64(buf[hCheckpointLSNOff:])),
		NextTxID:            TxID(binary.LittleEndian.Uint64(buf[hNextTxIDOff:])),
		NextNodeID:          binary.LittleEndian.Uint64(buf[hNextNodeIDOff:]),
		NextEdgeID:          binary.LittleEndian.Uint64(buf[hNextEdgeIDOff:]),
		NextPageID:          PageID(binary.LittleEndian.Uint32(buf[hNextPageIDOff:])),
		LabelPostingsRoot:   PageID(binary.LittleEndian.Uint32(buf[hLabelPostingsRootOff:])),
		TypePostingsRoot:    PageID(binary.LittleEndian.Uint32(buf[hTypePostingsRootOff:])),
	}

	if h.FormatVersion != CurrentFormatVersion {
		return nil, fmt.Errorf("unsupported format version %d (this build supports %d)",
			h.FormatVersion, CurrentFormatVersion)
	}
	if h.PageSize < MinPageSize || h.PageSize > MaxPageSize {
		return nil, fmt.Errorf("page size %d out of range [%d..%d]",
			h.PageSize, MinPageSize, MaxPageSize)
	}
	if h.PageSize&(h.PageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d is not a power of two", h.PageSize)
	}
	if h.FeatureFlags & ^SupportedFeatures != 0 {
		return nil, fmt.Errorf("unsupported feature flags: %016x", h.FeatureFlags)
	}

	return h, nil
}

// NewHeader creates a default Header for a new database file.
func NewHeader(pageSize uint32) *Header {
	return &Header{
		FormatVersion:       CurrentFormatVersion,
		PageSize:            pageSize,
		PageCount:           1, // only the header page so far
		FeatureFlags:        0,
		LabelCatalogRoot:    InvalidPageID,
		EdgeTypeCatalogRoot: InvalidPageID,
		PropKeyCatalogRoot:  InvalidPageID,
		NodeIndexRoot:       InvalidPageID,
		EdgeIndexRoot:       InvalidPageID,
		AdjacencyIndexRoot:  InvalidPageID,
		LabelPostingsRoot:   InvalidPageID,
		TypePostingsRoot:    InvalidPageID,
		FreeListHead:        InvalidPageID,
		CheckpointLSN:       0,
		NextTxID:            1,
		NextNodeID:          1,
		NextEdgeID:          1,
		NextPageID:          1, // page 0 is the header
	}
}
