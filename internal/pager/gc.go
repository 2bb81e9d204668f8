package pager

import (
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Garbage collector (vacuum)
// ───────────────────────────────────────────────────────────────────────────
//
// The GC performs a reachability scan over every allocated page. It starts
// from the header page plus every root the caller supplies — the three
// catalog dictionaries, the node/edge/adjacency B-tree indexes — and marks
// every page reachable from them. Any allocated page not visited and not
// already on the free list is an orphan and gets pushed onto it.
//
// This reclaims pages lost to:
//   - a crash mid-write that left a partially built B-tree behind
//   - overflow chains orphaned by an in-place value replacement
//   - free-list chain pages leaked by an interrupted checkpoint

// GCResult holds statistics about a garbage collection run.
type GCResult struct {
	TotalPages     int      // total allocated pages in the file
	ReachablePages int      // pages reachable from the given roots
	FreeBefore     int      // free pages before GC
	FreeAfter      int      // free pages after GC
	Reclaimed      int      // newly freed orphan pages
	Errors         []string // non-fatal issues found during the scan
}

// GC performs a full reachability-based garbage collection, rooted at the
// given B-tree root page IDs (InvalidPageID entries are skipped). It must
// be called with no writer transaction in flight. Reclaimed orphan pages
// are freed immediately (not staged per-transaction) since the scan itself
// already establishes that nothing holds them live.
func (p *Pager) GC(roots []PageID) (*GCResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	totalPages := int(p.hdr.NextPageID)
	if totalPages < 1 {
		return &GCResult{}, nil
	}

	result := &GCResult{
		TotalPages: totalPages,
		FreeBefore: p.freeMgr.Count(),
	}

	reachable := make(map[PageID]struct{}, totalPages)
	reachable[0] = struct{}{} // header page

	for _, root := range roots {
		p.walkBTree(root, reachable, result)
	}
	p.walkFreeListChain(p.hdr.FreeListHead, reachable)

	result.ReachablePages = len(reachable)

	freeSet := make(map[PageID]struct{})
	for _, pid := range p.freeMgr.AllFree() {
		freeSet[pid] = struct{}{}
	}
	for _, staged := range p.freeMgr.staging {
		for _, pid := range staged {
			freeSet[pid] = struct{}{}
		}
	}

	var reclaimed int
	for pid := PageID(0); pid < PageID(totalPages); pid++ {
		if _, isReachable := reachable[pid]; isReachable {
			continue
		}
		if _, isFree := freeSet[pid]; isFree {
			continue
		}
		p.freeMgr.Free(pid)
		reclaimed++
	}

	result.Reclaimed = reclaimed
	result.FreeAfter = p.freeMgr.Count()

	return result, nil
}

// walkBTree recursively marks all pages of a B-tree as reachable.
func (p *Pager) walkBTree(rootID PageID, reachable map[PageID]struct{}, result *GCResult) {
	p.walkBTreePage(rootID, reachable, result)
}

func (p *Pager) walkBTreePage(pid PageID, reachable map[PageID]struct{}, result *GCResult) {
	if pid == InvalidPageID {
		return
	}
	if _, seen := reachable[pid]; seen {
		return
	}
	reachable[pid] = struct{}{}

	buf, err := p.ReadPage(pid)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("read page %d: %v", pid, err))
		return
	}
	defer p.UnpinPage(pid)

	bp := WrapBTreePage(buf)
	if bp.IsLeaf() {
		sc := bp.slotCount()
		for i := 0; i < sc; i++ {
			entry := bp.GetLeafEntry(i)
			if entry.Overflow {
				p.walkOverflowChain(entry.OverflowPageID, reachable, result)
			}
		}
		return
	}

	sc := bp.slotCount()
	for i := 0; i < sc; i++ {
		ie := bp.GetInternalEntry(i)
		p.walkBTreePage(ie.ChildID, reachable, result)
	}
	p.walkBTreePage(bp.RightChild(), reachable, result)
}

func (p *Pager) walkOverflowChain(headID PageID, reachable map[PageID]struct{}, result *GCResult) {
	pid := headID
	for pid != InvalidPageID {
		if _, seen := reachable[pid]; seen {
			break
		}
		reachable[pid] = struct{}{}

		buf, err := p.ReadPage(pid)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("read overflow %d: %v", pid, err))
			return
		}
		op := WrapOverflowPage(buf)
		next := op.NextOverflow()
		p.UnpinPage(pid)
		pid = next
	}
}

func (p *Pager) walkFreeListChain(headID PageID, reachable map[PageID]struct{}) {
	pid := headID
	for pid != InvalidPageID {
		if _, seen := reachable[pid]; seen {
			break
		}
		reachable[pid] = struct{}{}

		buf, err := p.ReadPage(pid)
		if err != nil {
			break
		}
		fl := WrapFreeListPage(buf)
		next := fl.NextFreeList()
		p.UnpinPage(pid)
		pid = next
	}
}
