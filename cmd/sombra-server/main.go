// Command sombra-server exposes a running Handle over gRPC (manual
// ServiceDesc + JSON codec, no protobuf codegen) and a parallel HTTP/JSON
// API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/sombra-db/sombra"
	"github.com/sombra-db/sombra/internal/config"
	"github.com/sombra-db/sombra/internal/query"
	"github.com/sombra-db/sombra/internal/sombraerr"
)

var (
	flagDB      = flag.String("db", "sombra.db", "path to the database file")
	flagHTTP    = flag.String("http", ":8080", "HTTP listen address (empty to disable)")
	flagGRPC    = flag.String("grpc", ":9090", "gRPC listen address (empty to disable)")
	flagVacuum  = flag.String("vacuum-cron", "", "cron expression for the background vacuum sweep (empty disables it)")
	flagVerbose = flag.Bool("v", false, "verbose logging")
)

// ── wire types ───────────────────────────────────────────────────────────

type execRequest struct {
	Ops []sombra.MutationOp `json:"ops"`
}
type execResponse struct {
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
	CreatedNodes []uint64 `json:"created_nodes,omitempty"`
	CreatedEdges []uint64 `json:"created_edges,omitempty"`
	Duration     string   `json:"duration"`
}

type queryRequest struct {
	Spec *query.QuerySpec `json:"spec"`
}
type queryResponse struct {
	Rows      []query.Row `json:"rows,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Features  []string    `json:"features,omitempty"`
	Error     string      `json:"error,omitempty"`
	Duration  string      `json:"duration"`
	Count     int         `json:"count"`
}

// streamRequest drives a bounded pull over a Cursor: MaxRows caps how many
// rows one RPC call materializes before closing the cursor, since the
// manual ServiceDesc below registers Stream as a unary method (no
// grpc.StreamDesc) — true server-streaming is left to a future protobuf
// service definition.
type streamRequest struct {
	Spec    *query.QuerySpec `json:"spec"`
	MaxRows int              `json:"max_rows"`
}
type streamResponse struct {
	Rows  []query.Row `json:"rows,omitempty"`
	Done  bool        `json:"done"`
	Error string      `json:"error,omitempty"`
}

// ── gRPC JSON codec ──────────────────────────────────────────────────────

type jsonCodec struct{}

func (jsonCodec) Name() string                      { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)     { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// ── gRPC service descriptor (manual, no protobuf) ───────────────────────

type SombraServer interface {
	Exec(context.Context, *execRequest) (*execResponse, error)
	Query(context.Context, *queryRequest) (*queryResponse, error)
	Stream(context.Context, *streamRequest) (*streamResponse, error)
}

func registerSombraServer(s *grpc.Server, srv SombraServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "sombra.Sombra",
		HandlerType: (*SombraServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Exec", Handler: _Sombra_Exec_Handler},
			{MethodName: "Query", Handler: _Sombra_Query_Handler},
			{MethodName: "Stream", Handler: _Sombra_Stream_Handler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "sombra",
	}, srv)
}

func _Sombra_Exec_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(execRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SombraServer).Exec(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sombra.Sombra/Exec"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(SombraServer).Exec(ctx, req.(*execRequest)) }
	return interceptor(ctx, in, info, handler)
}

func _Sombra_Query_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(queryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SombraServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sombra.Sombra/Query"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(SombraServer).Query(ctx, req.(*queryRequest)) }
	return interceptor(ctx, in, info, handler)
}

func _Sombra_Stream_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(streamRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SombraServer).Stream(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/sombra.Sombra/Stream"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(SombraServer).Stream(ctx, req.(*streamRequest)) }
	return interceptor(ctx, in, info, handler)
}

// ── server implementation ───────────────────────────────────────────────

type server struct {
	h *sombra.Handle
}

func (s *server) Exec(ctx context.Context, req *execRequest) (*execResponse, error) {
	start := time.Now()
	summary, err := s.h.Mutate(ctx, req.Ops)
	if err != nil {
		return &execResponse{Success: false, Error: err.Error(), Duration: time.Since(start).String()}, nil
	}
	return &execResponse{
		Success:      true,
		CreatedNodes: summary.CreatedNodes,
		CreatedEdges: summary.CreatedEdges,
		Duration:     time.Since(start).String(),
	}, nil
}

func (s *server) Query(ctx context.Context, req *queryRequest) (*queryResponse, error) {
	start := time.Now()
	res, err := s.h.Execute(ctx, req.Spec)
	if err != nil {
		return &queryResponse{Error: err.Error(), Duration: time.Since(start).String()}, nil
	}
	return &queryResponse{
		Rows:      res.Rows,
		RequestID: res.RequestID,
		Features:  res.Features,
		Duration:  time.Since(start).String(),
		Count:     len(res.Rows),
	}, nil
}

func (s *server) Stream(ctx context.Context, req *streamRequest) (*streamResponse, error) {
	cur, err := s.h.Stream(ctx, req.Spec)
	if err != nil {
		return &streamResponse{Error: err.Error()}, nil
	}
	defer cur.Close()

	limit := req.MaxRows
	if limit <= 0 {
		limit = 100
	}
	var rows []query.Row
	done := false
	for len(rows) < limit {
		row, ok, err := cur.Next()
		if err != nil {
			if sombraerr.Is(err, sombraerr.Cancelled) {
				done = true
				break
			}
			return &streamResponse{Error: err.Error()}, nil
		}
		if !ok {
			done = true
			break
		}
		rows = append(rows, row)
	}
	return &streamResponse{Rows: rows, Done: done}, nil
}

// ── HTTP handlers ────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) handleExec(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, _ := s.Exec(r.Context(), &req)
	writeJSON(w, resp)
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, _ := s.Query(r.Context(), &req)
	writeJSON(w, resp)
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req streamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	resp, _ := s.Stream(r.Context(), &req)
	writeJSON(w, resp)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.h.Stats()
	writeJSON(w, map[string]any{
		"ok":    true,
		"time":  time.Now().Format(time.RFC3339),
		"stats": stats.String(),
	})
}

func main() {
	flag.Parse()

	opts := config.Default()
	opts.VacuumCron = *flagVacuum
	h, err := sombra.Open(*flagDB, opts)
	if err != nil {
		log.Fatalf("open %s: %v", *flagDB, err)
	}
	defer h.Close()

	srv := &server{h: h}
	encoding.RegisterCodec(jsonCodec{})

	if *flagGRPC != "" {
		go func() {
			lis, err := net.Listen("tcp", *flagGRPC)
			if err != nil {
				log.Fatalf("gRPC listen error: %v", err)
			}
			gs := grpc.NewServer()
			registerSombraServer(gs, srv)
			log.Printf("gRPC listening on %s", *flagGRPC)
			if err := gs.Serve(lis); err != nil {
				log.Printf("gRPC serve error: %v", err)
			}
		}()
	}

	if *flagHTTP != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/exec", srv.handleExec)
		mux.HandleFunc("/api/query", srv.handleQuery)
		mux.HandleFunc("/api/stream", srv.handleStream)
		mux.HandleFunc("/api/status", srv.handleStatus)
		log.Printf("HTTP listening on %s", *flagHTTP)
		if err := http.ListenAndServe(*flagHTTP, mux); err != nil {
			log.Fatalf("HTTP serve error: %v", err)
		}
	} else {
		select {}
	}
}
