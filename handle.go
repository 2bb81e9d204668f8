// Package sombra is the embedded property-graph database's top-level
// facade: a single Handle wraps one open database file and exposes every mutation, read, traversal, and query operation a
// binding needs behind one entry point.
package sombra

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sombra-db/sombra/internal/concurrency"
	"github.com/sombra-db/sombra/internal/config"
	"github.com/sombra-db/sombra/internal/graph"
	"github.com/sombra-db/sombra/internal/pager"
	"github.com/sombra-db/sombra/internal/query"
	"github.com/sombra-db/sombra/internal/scheduler"
	"github.com/sombra-db/sombra/internal/sombraerr"
	"github.com/sombra-db/sombra/internal/txn"
)

// Handle is the single entry point bindings use to open, mutate, query,
// and close a Sombra database.
type Handle struct {
	mu sync.RWMutex

	p      *pager.Pager
	txm    *txn.Manager
	store  *graph.Store
	exec   *query.Executor
	reg    *concurrency.Registry
	vacuum *scheduler.VacuumScheduler

	opts   config.Options
	logger *log.Logger
	closed bool
}

// Open opens the database file at path (creating it if opts.CreateIfMissing
// and it doesn't exist), bootstraps the graph layer's B-trees on a brand
// new file, and starts the background vacuum cadence if configured.
func Open(path string, opts config.Options) (*Handle, error) {
	if err := opts.Validate(); err != nil {
		return nil, sombraerr.Wrap(sombraerr.InvalidArg, "sombra.Open", err)
	}

	p, err := pager.OpenPager(pager.PagerConfig{
		DBPath:        path,
		WALDir:        path + "-wal",
		PageSize:      int(opts.PageSize),
		MaxCachePages: int(opts.CachePages),
	})
	if err != nil {
		return nil, sombraerr.Wrap(sombraerr.IO, "sombra.Open", err)
	}

	txID, err := p.BeginTx()
	if err != nil {
		p.Close()
		return nil, sombraerr.Wrap(sombraerr.IO, "sombra.Open", err)
	}
	store, err := graph.OpenStore(p, txID)
	if err != nil {
		p.AbortTx(txID)
		p.Close()
		return nil, sombraerr.Wrap(sombraerr.IO, "sombra.Open", err)
	}
	if opts.VersionCodec == config.CodecSnappy {
		store.NodeVersions.EnableCompression()
		store.EdgeVersions.EnableCompression()
	}
	store.SyncRoots()
	if err := p.CommitTx(txID); err != nil {
		p.Close()
		return nil, sombraerr.Wrap(sombraerr.IO, "sombra.Open", err)
	}

	logger := log.Default()
	txm := txn.NewManager(p, txn.Config{})
	reg := concurrency.NewRegistry()
	exec := query.NewExecutor(store, reg)

	h := &Handle{
		p:      p,
		txm:    txm,
		store:  store,
		exec:   exec,
		reg:    reg,
		opts:   opts,
		logger: logger,
	}

	if opts.VacuumCron != "" {
		vac, err := scheduler.New(opts.VacuumCron, 0, h.runVacuum, logger)
		if err != nil {
			h.Close()
			return nil, sombraerr.Wrap(sombraerr.InvalidArg, "sombra.Open", err)
		}
		vac.Start()
		h.vacuum = vac
	}

	return h, nil
}

// RunVacuumNow performs an out-of-cadence reachability sweep, the same
// one internal/scheduler would otherwise trigger on its cron cadence.
// It waits for any in-flight write to finish and holds the writer slot
// for the duration of the sweep.
func (h *Handle) RunVacuumNow(ctx context.Context) (scheduler.GCResult, error) {
	if err := h.checkOpen("vacuum"); err != nil {
		return scheduler.GCResult{}, err
	}
	return h.runVacuum(ctx)
}

func (h *Handle) runVacuum(ctx context.Context) (scheduler.GCResult, error) {
	// pager.GC must not run while a writer is in flight; holding the
	// writer slot keeps writes out for the sweep.
	w, err := h.txm.BeginWrite(ctx)
	if err != nil {
		return scheduler.GCResult{}, err
	}
	defer h.txm.Rollback(w)
	res, err := h.p.GC(h.store.Roots())
	if err != nil {
		return scheduler.GCResult{}, err
	}
	return scheduler.GCResult{TotalPages: res.TotalPages, ReachablePages: res.ReachablePages, Reclaimed: res.Reclaimed}, nil
}

// Close shuts the handle down: stops the vacuum scheduler, runs a final
// checkpoint, and closes the underlying pager. Idempotent — calling Close
// twice returns success both times, per the stable error taxonomy (every
// other operation after Close returns sombraerr.Closed).
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.vacuum != nil {
		h.vacuum.Stop()
	}
	if err := h.p.Close(); err != nil {
		return sombraerr.Wrap(sombraerr.IO, "sombra.Close", err)
	}
	return nil
}

func (h *Handle) checkOpen(op string) error {
	if h.closed {
		return sombraerr.New(sombraerr.Closed, op)
	}
	return nil
}

// withReadTx acquires a reader snapshot for a single-shot read op and
// releases it before returning.
func (h *Handle) withReadTx(op string, fn func(readTxID pager.TxID) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if err := h.checkOpen(op); err != nil {
		return err
	}
	snap := h.txm.BeginRead()
	defer snap.Release()
	return fn(snap.TxID)
}

// withWriteTx runs fn inside a fresh writer transaction, syncing the
// graph layer's tree roots and committing on success, or rolling back on
// any error fn returns.
func (h *Handle) withWriteTx(ctx context.Context, op string, fn func(txID pager.TxID) error) error {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return sombraerr.New(sombraerr.Closed, op)
	}

	w, err := h.txm.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := fn(w.TxID); err != nil {
		h.txm.Rollback(w)
		return err
	}
	h.store.SyncRoots()
	if err := h.txm.Commit(w); err != nil {
		return err
	}
	if err := h.txm.RequestCheckpoint(false); err != nil {
		h.logger.Printf("sombra: deferred checkpoint request failed: %v", err)
	}
	return nil
}

// ── Mutations ─────────────────────────────────────────────────────────

// CreateNode allocates a new node carrying labels and props.
func (h *Handle) CreateNode(ctx context.Context, labels []string, props map[string]pager.PropertyValue) (uint64, error) {
	var id uint64
	err := h.withWriteTx(ctx, "createNode", func(txID pager.TxID) error {
		var err error
		id, err = h.store.CreateNode(txID, labels, props)
		return err
	})
	return id, err
}

// CreateEdge creates a new edge from src to dst.
func (h *Handle) CreateEdge(ctx context.Context, src, dst uint64, edgeType string, props map[string]pager.PropertyValue) (uint64, error) {
	var id uint64
	err := h.withWriteTx(ctx, "createEdge", func(txID pager.TxID) error {
		var err error
		id, err = h.store.CreateEdge(txID, src, dst, edgeType, props)
		return err
	})
	return id, err
}

// UpdateNode merges patch into node id's properties.
func (h *Handle) UpdateNode(ctx context.Context, id uint64, patch graph.PropPatch) error {
	return h.withWriteTx(ctx, "updateNode", func(txID pager.TxID) error {
		return h.store.UpdateNode(txID, id, patch)
	})
}

// UpdateEdge merges patch into edge id's properties.
func (h *Handle) UpdateEdge(ctx context.Context, id uint64, patch graph.PropPatch) error {
	return h.withWriteTx(ctx, "updateEdge", func(txID pager.TxID) error {
		return h.store.UpdateEdge(txID, id, patch)
	})
}

// DeleteNode removes node id, cascading into its incident edges when
// cascade is true, or failing with Conflict when it isn't and the node
// has any.
func (h *Handle) DeleteNode(ctx context.Context, id uint64, cascade bool) error {
	return h.withWriteTx(ctx, "deleteNode", func(txID pager.TxID) error {
		return h.store.DeleteNode(txID, id, cascade)
	})
}

// DeleteEdge removes edge id.
func (h *Handle) DeleteEdge(ctx context.Context, id uint64) error {
	return h.withWriteTx(ctx, "deleteEdge", func(txID pager.TxID) error {
		return h.store.DeleteEdge(txID, id)
	})
}

// MutationOp is one step of a mutate() script, tagged by Op.
type MutationOp struct {
	Op       string // createNode | createEdge | updateNode | updateEdge | deleteNode | deleteEdge
	Labels   []string
	Props    map[string]pager.PropertyValue
	Src, Dst uint64
	Type     string
	ID       uint64
	Patch    graph.PropPatch
	Cascade  bool
}

// MutationSummary reports what a mutate() batch did.
type MutationSummary struct {
	CreatedNodes []uint64
	CreatedEdges []uint64
}

// Mutate runs every op in ops atomically: either all of them commit
// together, or (on the first error) none of them do.
func (h *Handle) Mutate(ctx context.Context, ops []MutationOp) (*MutationSummary, error) {
	summary := &MutationSummary{}
	err := h.withWriteTx(ctx, "mutate", func(txID pager.TxID) error {
		for i, op := range ops {
			var err error
			switch op.Op {
			case "createNode":
				var id uint64
				id, err = h.store.CreateNode(txID, op.Labels, op.Props)
				if err == nil {
					summary.CreatedNodes = append(summary.CreatedNodes, id)
				}
			case "createEdge":
				var id uint64
				id, err = h.store.CreateEdge(txID, op.Src, op.Dst, op.Type, op.Props)
				if err == nil {
					summary.CreatedEdges = append(summary.CreatedEdges, id)
				}
			case "updateNode":
				err = h.store.UpdateNode(txID, op.ID, op.Patch)
			case "updateEdge":
				err = h.store.UpdateEdge(txID, op.ID, op.Patch)
			case "deleteNode":
				err = h.store.DeleteNode(txID, op.ID, op.Cascade)
			case "deleteEdge":
				err = h.store.DeleteEdge(txID, op.ID)
			default:
				err = sombraerr.New(sombraerr.InvalidArg, "mutate").WithContext("unknown op %q at index %d", op.Op, i)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// CreateBuilder starts a batch create() whose Commit runs in its own
// writer transaction.
func (h *Handle) CreateBuilder() *Builder {
	return &Builder{h: h, inner: h.store.CreateBuilder()}
}

// Builder is the handle-level wrapper around graph.Builder that owns its
// own writer transaction, matching the FFI create() builder's
// fluent-then-commit shape.
type Builder struct {
	h     *Handle
	inner *graph.Builder
}

func (b *Builder) Node(labels []string, props map[string]pager.PropertyValue, alias string) *Builder {
	b.inner.AddNode(alias, labels, props)
	return b
}

func (b *Builder) Edge(srcAlias, edgeType, dstAlias string) *Builder {
	b.inner.AddEdge(srcAlias, dstAlias, edgeType, nil)
	return b
}

func (b *Builder) EdgeWithProps(srcAlias, edgeType, dstAlias string, props map[string]pager.PropertyValue) *Builder {
	b.inner.AddEdge(srcAlias, dstAlias, edgeType, props)
	return b
}

// Execute commits the staged batch atomically and returns its summary.
func (b *Builder) Execute(ctx context.Context) (*graph.BuildResult, error) {
	var res *graph.BuildResult
	err := b.h.withWriteTx(ctx, "create", func(txID pager.TxID) error {
		var err error
		res, err = b.inner.Commit(txID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ── Reads ───────────────────────────────────────────────────────────────

// GetNodeRecord returns node id as it exists at a fresh read snapshot.
func (h *Handle) GetNodeRecord(id uint64) (*graph.NodeRecord, error) {
	var rec *graph.NodeRecord
	err := h.withReadTx("getNodeRecord", func(readTxID pager.TxID) error {
		var err error
		rec, err = h.store.GetNode(readTxID, id)
		return err
	})
	return rec, err
}

// GetEdgeRecord returns edge id as it exists at a fresh read snapshot.
func (h *Handle) GetEdgeRecord(id uint64) (*graph.EdgeRecord, error) {
	var rec *graph.EdgeRecord
	err := h.withReadTx("getEdgeRecord", func(readTxID pager.TxID) error {
		var err error
		rec, err = h.store.GetEdge(readTxID, id)
		return err
	})
	return rec, err
}

// Direction strings accepted by Neighbors/BFSTraversal.
const (
	DirectionOut  = "out"
	DirectionIn   = "in"
	DirectionBoth = "both"
)

func parseDirection(s string) (graph.Direction, error) {
	switch s {
	case "", DirectionOut:
		return graph.DirOut, nil
	case DirectionIn:
		return graph.DirIn, nil
	default:
		return 0, sombraerr.New(sombraerr.InvalidArg, "parseDirection").WithContext("unknown direction %q", s)
	}
}

// Neighbors lists id's adjacent nodes. direction "both" merges out and in.
func (h *Handle) Neighbors(id uint64, direction, edgeType string, distinct bool) ([]graph.Neighbor, error) {
	if direction == DirectionBoth {
		var out []graph.Neighbor
		for _, dir := range []graph.Direction{graph.DirOut, graph.DirIn} {
			n, err := h.store.Neighbors(id, dir, edgeType, distinct)
			if err != nil {
				return nil, err
			}
			out = append(out, n...)
		}
		return out, nil
	}
	dir, err := parseDirection(direction)
	if err != nil {
		return nil, err
	}
	return h.store.Neighbors(id, dir, edgeType, distinct)
}

// BFSTraversal walks the adjacency index from startId to maxDepth.
func (h *Handle) BFSTraversal(startID uint64, maxDepth int, direction string, distinct bool) ([]graph.BFSNode, error) {
	if maxDepth < 0 {
		return nil, sombraerr.New(sombraerr.InvalidArg, "bfsTraversal").WithContext("maxDepth must be >= 0, got %d", maxDepth)
	}
	dir, err := parseDirection(direction)
	if err != nil {
		return nil, err
	}
	return h.store.BFS(startID, graph.BFSOptions{Direction: dir, MaxDepth: maxDepth, Distinct: distinct})
}

// CountNodesWithLabel counts nodes carrying label.
func (h *Handle) CountNodesWithLabel(label string) (int, error) {
	return h.store.CountNodesWithLabel(label)
}

// CountEdgesWithType counts edges of type typ.
func (h *Handle) CountEdgesWithType(typ string) (int, error) {
	return h.store.CountEdgesWithType(typ)
}

// ListNodesWithLabel lists every node carrying label.
func (h *Handle) ListNodesWithLabel(label string) ([]uint64, error) {
	return h.store.ListNodesWithLabel(label)
}

// ── Query spec execution ─────────────────────────────────────────────

// Execute evaluates a query-spec and returns every matching row.
func (h *Handle) Execute(ctx context.Context, spec *query.QuerySpec) (*query.Result, error) {
	var res *query.Result
	err := h.withReadTx("execute", func(readTxID pager.TxID) error {
		var err error
		res, err = h.exec.Execute(ctx, readTxID, spec)
		return err
	})
	return res, err
}

// Stream prepares a lazily-consumed Cursor over a query-spec. The
// returned snapshot stays pinned for the cursor's lifetime — call
// Cursor.Close when done, or let CancelRequest cancel it mid-flight.
func (h *Handle) Stream(ctx context.Context, spec *query.QuerySpec) (*query.Cursor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if err := h.checkOpen("stream"); err != nil {
		return nil, err
	}
	snap := h.txm.BeginRead()
	cur, err := h.exec.Stream(ctx, snap.TxID, spec)
	if err != nil {
		snap.Release()
		return nil, err
	}
	cur.OnClose = snap.Release
	return cur, nil
}

// CancelRequest cancels the in-flight execute()/stream() call registered
// under requestID. Returns false if no such request is currently tracked.
func (h *Handle) CancelRequest(requestID string) bool {
	return h.reg.Cancel(requestID)
}

// Intern exposes catalog property-key interning for callers that build
// query-specs (or batch mutations) referencing a property before it has
// ever been written.
func (h *Handle) Intern(ctx context.Context, name string) (uint32, error) {
	var id uint32
	err := h.withWriteTx(ctx, "intern", func(txID pager.TxID) error {
		var err error
		id, err = h.store.Catalog.PropKeys.Intern(txID, name)
		return err
	})
	return id, err
}

// Pragma gets (value == nil) or sets a runtime-tunable option.
func (h *Handle) Pragma(name string, value *string) (string, error) {
	if !config.IsKnownPragma(name) {
		return "", sombraerr.New(sombraerr.NotFound, "pragma").WithContext("unknown pragma %q", name)
	}
	switch name {
	case "synchronous":
		if value != nil {
			h.opts.Synchronous = config.SyncMode(*value)
		}
		return string(h.opts.Synchronous), nil
	case "autocheckpoint_ms":
		if value != nil {
			var ms uint32
			if _, err := fmt.Sscanf(*value, "%d", &ms); err != nil {
				return "", sombraerr.Wrap(sombraerr.InvalidArg, "pragma", err)
			}
			h.opts.AutocheckpointMs = &ms
		}
		if h.opts.AutocheckpointMs == nil {
			return "", nil
		}
		return fmt.Sprintf("%d", *h.opts.AutocheckpointMs), nil
	case "wal_coalesce_ms":
		if value != nil {
			var ms int
			if _, err := fmt.Sscanf(*value, "%d", &ms); err != nil {
				return "", sombraerr.Wrap(sombraerr.InvalidArg, "pragma", err)
			}
			h.opts.CommitCoalesceMs = ms
		}
		return fmt.Sprintf("%d", h.opts.CommitCoalesceMs), nil
	}
	return "", sombraerr.New(sombraerr.Unknown, "pragma")
}

// SeedDemo populates a small canonical sample graph used by tests and
// bindings: two User nodes connected by a KNOWS edge.
func (h *Handle) SeedDemo() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := h.CreateBuilder().
		Node([]string{"User"}, map[string]pager.PropertyValue{"name": pager.StringValue("Ada Lovelace")}, "ada").
		Node([]string{"User"}, map[string]pager.PropertyValue{"name": pager.StringValue("Grace Hopper")}, "grace").
		Edge("ada", "KNOWS", "grace").
		Execute(ctx)
	return err
}

// Stats reports the transaction manager's live bookkeeping, useful for
// CLI inspect output.
func (h *Handle) Stats() txn.Stats {
	return h.txm.Stats()
}
