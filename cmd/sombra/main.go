// Command sombra is the operator CLI: inspect, verify, repair, checkpoint,
// vacuum, and a line-oriented query REPL over a Sombra database file.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/sombra-db/sombra/internal/config"
	"github.com/sombra-db/sombra/internal/pager"
	"github.com/sombra-db/sombra/internal/query"
	"github.com/sombra-db/sombra/internal/sombraerr"

	"github.com/sombra-db/sombra"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "inspect":
		err = runInspect(args)
	case "verify":
		err = runVerify(args)
	case "repair":
		err = runRepair(args)
	case "checkpoint":
		err = runCheckpoint(args)
	case "vacuum":
		err = runVacuum(args)
	case "repl":
		err = runRepl(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "sombra: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "sombra %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: sombra <command> [flags]

commands:
  inspect     print header, WAL, and (optionally) page/tree detail
  verify      run a full page-checksum and structural integrity scan
  repair      replay the WAL and checkpoint, recovering from a crash
  checkpoint  apply committed WAL frames and truncate the log
  vacuum      run an out-of-cadence reachability sweep (freed-page GC)
  repl        read newline-delimited query-specs from stdin and print rows`)
}

// ── inspect ──────────────────────────────────────────────────────────────

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	db := fs.String("db", "", "path to the database file")
	page := fs.Int("page", -1, "inspect a single page by ID (default: none)")
	wal := fs.Bool("wal", false, "also inspect the WAL directory")
	tree := fs.Int64("tree", -1, "dump the B-tree rooted at this page ID")
	fs.Parse(args)
	if *db == "" {
		return fmt.Errorf("-db is required")
	}

	hdr, err := pager.InspectHeader(*db)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	fmt.Printf("format version:     %d\n", hdr.FormatVersion)
	fmt.Printf("page size:          %s\n", humanize.Bytes(uint64(hdr.PageSize)))
	fmt.Printf("page count:         %d (%s)\n", hdr.PageCount, humanize.Bytes(hdr.PageCount*uint64(hdr.PageSize)))
	fmt.Printf("header CRC valid:   %v\n", hdr.CRCValid)
	fmt.Printf("checkpoint LSN:     %d\n", hdr.CheckpointLSN)
	fmt.Printf("next tx id:         %d\n", hdr.NextTxID)
	fmt.Printf("next page id:       %d\n", hdr.NextPageID)
	fmt.Printf("free list head:     %d\n", hdr.FreeListHead)
	fmt.Printf("roots: label=%d edgeType=%d propKey=%d node=%d edge=%d adjacency=%d labelPostings=%d typePostings=%d\n",
		hdr.LabelCatalogRoot, hdr.EdgeTypeCatalogRoot, hdr.PropKeyCatalogRoot,
		hdr.NodeIndexRoot, hdr.EdgeIndexRoot, hdr.AdjacencyIndexRoot,
		hdr.LabelPostingsRoot, hdr.TypePostingsRoot)

	if *page >= 0 {
		info, err := pager.InspectPage(*db, pager.PageID(*page), int(hdr.PageSize))
		if err != nil {
			return fmt.Errorf("inspect page %d: %w", *page, err)
		}
		fmt.Printf("\npage %d: type=%s lsn=%d crcValid=%v isLeaf=%v keys=%d\n",
			info.ID, info.TypeStr, info.LSN, info.CRCValid, info.IsLeaf, info.KeyCount)
	}

	if *tree >= 0 {
		dump, err := pager.DumpTree(*db, pager.PageID(*tree), int(hdr.PageSize))
		if err != nil {
			return fmt.Errorf("dump tree at %d: %w", *tree, err)
		}
		fmt.Println()
		fmt.Print(dump)
	}

	if *wal {
		info, err := pager.InspectWAL(*db+"-wal", int(hdr.PageSize))
		if err != nil {
			return fmt.Errorf("inspect WAL: %w", err)
		}
		fmt.Printf("\nWAL: segments=%d records=%d txCount=%d committed=%d aborted=%d pageImages=%d lsn=[%d,%d]\n",
			info.Segments, info.Records, info.TxCount, info.Committed, info.Aborted, info.PageImages, info.MinLSN, info.MaxLSN)
	}

	return nil
}

// ── verify ───────────────────────────────────────────────────────────────

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	db := fs.String("db", "", "path to the database file")
	fs.Parse(args)
	if *db == "" {
		return fmt.Errorf("-db is required")
	}

	issues, err := pager.VerifyDB(*db)
	if err != nil {
		return err
	}
	if len(issues) == 0 {
		fmt.Println("ok: no integrity issues found")
		return nil
	}
	for _, issue := range issues {
		fmt.Println("issue:", issue)
	}
	return fmt.Errorf("%d integrity issue(s) found", len(issues))
}

// ── repair ───────────────────────────────────────────────────────────────

// repair simply opens the pager (which replays the WAL via Recover on open)
// and checkpoints, the same recovery path every normal Open takes after an
// unclean shutdown — exposed standalone for operators who want to repair
// without also starting the graph layer or a vacuum scheduler.
func runRepair(args []string) error {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	db := fs.String("db", "", "path to the database file")
	fs.Parse(args)
	if *db == "" {
		return fmt.Errorf("-db is required")
	}

	p, err := pager.OpenPager(pager.PagerConfig{DBPath: *db, WALDir: *db + "-wal"})
	if err != nil {
		return fmt.Errorf("open (recovery runs here): %w", err)
	}
	defer p.Close()
	if err := p.Checkpoint(); err != nil {
		return fmt.Errorf("checkpoint after recovery: %w", err)
	}
	fmt.Println("ok: WAL replayed and checkpointed")
	return nil
}

// ── checkpoint ───────────────────────────────────────────────────────────

func runCheckpoint(args []string) error {
	fs := flag.NewFlagSet("checkpoint", flag.ExitOnError)
	db := fs.String("db", "", "path to the database file")
	fs.Parse(args)
	if *db == "" {
		return fmt.Errorf("-db is required")
	}

	p, err := pager.OpenPager(pager.PagerConfig{DBPath: *db, WALDir: *db + "-wal"})
	if err != nil {
		return err
	}
	defer p.Close()
	if err := p.Checkpoint(); err != nil {
		return err
	}
	fmt.Println("ok: checkpoint applied")
	return nil
}

// ── vacuum ───────────────────────────────────────────────────────────────

func runVacuum(args []string) error {
	fs := flag.NewFlagSet("vacuum", flag.ExitOnError)
	db := fs.String("db", "", "path to the database file")
	fs.Parse(args)
	if *db == "" {
		return fmt.Errorf("-db is required")
	}

	h, err := sombra.Open(*db, config.Default())
	if err != nil {
		return err
	}
	defer h.Close()

	res, err := h.RunVacuumNow(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("ok: scanned %d pages, %d reachable, %d reclaimed\n", res.TotalPages, res.ReachablePages, res.Reclaimed)
	return nil
}

// ── repl ─────────────────────────────────────────────────────────────────

// repl reads one JSON query-spec per line from stdin and prints its rows as
// JSON to stdout — there is no SQL grammar here, so the REPL speaks the
// same query-spec documents execute()/stream() accept.
func runRepl(args []string) error {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	db := fs.String("db", "", "path to the database file")
	createIfMissing := fs.Bool("create", true, "create the database file if missing")
	fs.Parse(args)
	if *db == "" {
		return fmt.Errorf("-db is required")
	}

	opts := config.Default()
	opts.CreateIfMissing = *createIfMissing
	h, err := sombra.Open(*db, opts)
	if err != nil {
		return err
	}
	defer h.Close()

	fmt.Fprintln(os.Stderr, "sombra repl: one query-spec JSON document per line, Ctrl-D to exit")
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 4096), 4<<20)
	enc := json.NewEncoder(os.Stdout)
	for sc.Scan() {
		line := sc.Text()
		if len(line) == 0 {
			continue
		}
		spec, err := query.ParseSpec([]byte(line))
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
			continue
		}
		res, err := h.Execute(context.Background(), spec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "execute error [%s]: %v\n", sombraerr.CodeOf(err), err)
			continue
		}
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(os.Stderr, "encode error: %v\n", err)
		}
	}
	return sc.Err()
}
