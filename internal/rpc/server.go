package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/spectre/internal/engine"
	"github.com/steveyegge/spectre/internal/store"
)

// maxBodyBytes caps request bodies; ingest batches beyond this should
// be split by the caller.
const maxBodyBytes = 64 << 20

// rpcTracer uses the global provider: a no-op until telemetry is
// initialized.
var rpcTracer = otel.Tracer("github.com/steveyegge/spectre/rpc")

var rpcMetrics struct {
	requests  metric.Int64Counter
	latencyMs metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/steveyegge/spectre/rpc")
	rpcMetrics.requests, _ = m.Int64Counter("spectre.rpc.requests",
		metric.WithDescription("RPC requests handled"),
		metric.WithUnit("{request}"),
	)
	rpcMetrics.latencyMs, _ = m.Float64Histogram("spectre.rpc.latency_ms",
		metric.WithDescription("RPC request latency"),
		metric.WithUnit("ms"),
	)
}

// Server hosts one engine behind an HTTP mux with reader/writer
// locking: exactly one writer at a time, no readers during a write.
type Server struct {
	mu      sync.RWMutex
	circuit *engine.Circuit

	httpServer *http.Server
}

// NewServer wraps a circuit.
func NewServer(c *engine.Circuit) *Server {
	return &Server{circuit: c}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	mux.HandleFunc("POST /v1/ingest/batch", s.handleIngestBatch)
	mux.HandleFunc("POST /v1/views", s.handleRegister)
	mux.HandleFunc("DELETE /v1/views/{id}", s.handleUnregister)
	mux.HandleFunc("POST /v1/reset", s.handleReset)
	mux.HandleFunc("GET /v1/snapshot", s.handleSnapshotSave)
	mux.HandleFunc("PUT /v1/snapshot", s.handleSnapshotLoad)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// ListenAndServe starts serving until ctx is canceled, then drains.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()
	log.Printf("rpc: listening on %s", ln.Addr())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// WithRead runs fn while holding the read lock, for callers (snapshot
// autosave) living outside the HTTP surface.
func (s *Server) WithRead(fn func(*engine.Circuit) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.circuit)
}

// WithWrite runs fn while holding the write lock, for manifest
// re-registration and other out-of-band writers.
func (s *Server) WithWrite(fn func(*engine.Circuit) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.circuit)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	defer s.observe("ingest", time.Now())

	var req IngestRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := req.Entry()
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	_, span := rpcTracer.Start(r.Context(), "spectre.ingest",
		trace.WithAttributes(
			attribute.String("ingest.table", entry.Table),
			attribute.String("ingest.op", entry.Op.String()),
		))
	s.mu.Lock()
	updates := s.circuit.IngestSingle(entry)
	s.mu.Unlock()
	span.SetAttributes(attribute.Int("ingest.updates", len(updates)))
	span.End()

	s.reply(w, IngestResponse{Updates: updates})
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	defer s.observe("ingest_batch", time.Now())

	var reqs []IngestRequest
	if !s.decode(w, r, &reqs) {
		return
	}

	entries := make([]store.BatchEntry, 0, len(reqs))
	dropped := 0
	for _, req := range reqs {
		entry, err := req.Entry()
		if err != nil {
			// Invalid entries are dropped, not fatal: the rest of the
			// batch still applies.
			log.Printf("rpc: dropping batch entry table=%s id=%s: %v", req.Table, req.ID, err)
			dropped++
			continue
		}
		entries = append(entries, entry)
	}

	_, span := rpcTracer.Start(r.Context(), "spectre.ingest_batch",
		trace.WithAttributes(attribute.Int("ingest.entries", len(entries))))
	s.mu.Lock()
	updates := s.circuit.IngestBatch(entries)
	s.mu.Unlock()
	span.SetAttributes(attribute.Int("ingest.updates", len(updates)))
	span.End()

	s.reply(w, IngestResponse{Updates: updates, Dropped: dropped})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	defer s.observe("register_view", time.Now())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	reg, err := engine.ParseRegistration(body)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	initial := s.circuit.RegisterView(reg)
	s.mu.Unlock()

	s.reply(w, RegisterResponse{Initial: initial})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	defer s.observe("unregister_view", time.Now())

	id := r.PathValue("id")

	s.mu.Lock()
	removed := s.circuit.UnregisterView(id)
	s.mu.Unlock()

	if !removed {
		s.fail(w, http.StatusNotFound, fmt.Errorf("no view %q", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	defer s.observe("reset", time.Now())

	s.mu.Lock()
	s.circuit.Reset()
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshotSave(w http.ResponseWriter, r *http.Request) {
	defer s.observe("save_state", time.Now())

	s.mu.RLock()
	data, err := s.circuit.SaveState()
	s.mu.RUnlock()

	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleSnapshotLoad(w http.ResponseWriter, r *http.Request) {
	defer s.observe("load_state", time.Now())

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	loaded, err := engine.LoadState(data)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	s.circuit = loaded
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := HealthResponse{
		Status: "ok",
		Tables: len(s.circuit.DB.Tables),
		Views:  len(s.circuit.Views),
	}
	s.mu.RUnlock()
	s.reply(w, resp)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(into); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) reply(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("rpc: write response: %v", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	msg := err.Error()
	// Trim noisy json decoder prefixes for client display.
	msg = strings.TrimPrefix(msg, "json: ")
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func (s *Server) observe(op string, start time.Time) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("rpc.operation", op))
	rpcMetrics.requests.Add(ctx, 1, attrs)
	rpcMetrics.latencyMs.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
}
