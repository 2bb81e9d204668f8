package pager

import (
	"fmt"

	"github.com/sombra-db/sombra/internal/pager/wal"
)

// ───────────────────────────────────────────────────────────────────────────
// Crash Recovery
// ───────────────────────────────────────────────────────────────────────────
//
// Recovery reads every WAL segment from the beginning and replays only
// fully committed transactions whose page images have an LSN greater than
// the last durable checkpoint LSN. Uncommitted or aborted transactions are
// discarded. A torn record at the tail of the newest segment (a crash
// mid-append) is silently dropped by the WAL reader rather than treated as
// corruption.
//
// Algorithm:
//   1. Read every WAL record across all segments, in LSN order.
//   2. Build a map TxID → list of PAGE_IMAGE records.
//   3. Track which TxIDs have a COMMIT record (committed set).
//   4. For each committed TX, apply PAGE_IMAGE records whose LSN is
//      greater than the header page's checkpoint LSN.
//   5. Fsync the database file.
//   6. Update and flush the header page with the new checkpoint LSN.
//   7. Drop WAL segments now fully reflected on disk.

// Recover replays the WAL and applies committed transactions.
func (p *Pager) Recover() error {
	records, err := p.wal.ReadAll()
	if err != nil {
		return fmt.Errorf("recover read WAL: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	type txRecords struct {
		pages     []*wal.Record
		committed bool
		aborted   bool
	}
	txMap := make(map[uint64]*txRecords)

	var maxLSN uint64
	var maxTxID uint64

	for _, rec := range records {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}

		switch rec.Type {
		case wal.RecordBegin:
			txMap[rec.TxID] = &txRecords{}
		case wal.RecordPageImage:
			tr, ok := txMap[rec.TxID]
			if !ok {
				tr = &txRecords{}
				txMap[rec.TxID] = tr
			}
			tr.pages = append(tr.pages, rec)
		case wal.RecordCommit:
			if tr, ok := txMap[rec.TxID]; ok {
				tr.committed = true
			}
		case wal.RecordAbort:
			if tr, ok := txMap[rec.TxID]; ok {
				tr.aborted = true
			}
		case wal.RecordCheckpoint:
			// Checkpoint marker; no direct effect on replay.
		}
	}

	var applied int
	for _, tr := range txMap {
		if !tr.committed || tr.aborted {
			continue
		}
		for _, rec := range tr.pages {
			if rec.LSN <= uint64(p.hdr.CheckpointLSN) {
				continue
			}
			if err := p.writePageRaw(PageID(rec.PageID), rec.Data); err != nil {
				return fmt.Errorf("recover apply page %d: %w", rec.PageID, err)
			}
			applied++
		}
	}

	if applied > 0 {
		if err := p.file.Sync(); err != nil {
			return err
		}

		p.hdr.CheckpointLSN = LSN(maxLSN)
		if TxID(maxTxID+1) > p.hdr.NextTxID {
			p.hdr.NextTxID = TxID(maxTxID + 1)
		}

		for _, tr := range txMap {
			if !tr.committed {
				continue
			}
			for _, rec := range tr.pages {
				if PageID(rec.PageID+1) > p.hdr.NextPageID {
					p.hdr.NextPageID = PageID(rec.PageID + 1)
					p.hdr.PageCount = uint64(p.hdr.NextPageID)
				}
			}
		}

		hdrBuf := MarshalHeaderPage(p.hdr, p.pageSize)
		if err := p.writePageRaw(0, hdrBuf); err != nil {
			return fmt.Errorf("recover header page: %w", err)
		}
		if err := p.file.Sync(); err != nil {
			return err
		}
	}

	p.wal.SetNextLSN(maxLSN + 1)

	return p.wal.DropThrough(maxLSN, p.pageSize)
}
