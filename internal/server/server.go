// Package server exposes the snapshot store and codec over a JSON HTTP API.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"archhive/internal/hivescript"
	"archhive/internal/snapdiff"
	"archhive/internal/store"
)

const (
	// HTTP timeouts.
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second

	// Request validation limits.
	maxRequestBody  = 4 * 1024 * 1024 // 4MB; snapshots of large systems run long
	maxLineLength   = 64 * 1024
	maxLines        = 100000
	shutdownTimeout = 10 * time.Second

	// Retry configuration for store writes.
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	// Failed saves queue size.
	failedSavesQueueSize = 100
	failedSavesInterval  = 30 * time.Second
)

// failedSave is a snapshot that could not be written to the store on first
// attempt, held in memory for retry.
type failedSave struct {
	lines []string
	scope string
}

// Server handles the HTTP API.
type Server struct {
	store        *store.Store
	codec        *hivescript.Codec
	apiKey       string
	failedSaves  chan failedSave
	healthMu     sync.RWMutex
	statsMu      sync.RWMutex
	requestCount int64
	errorCount   int64
	healthy      bool
}

// New builds a server over the given store and codec. An empty apiKey
// disables authentication.
func New(st *store.Store, codec *hivescript.Codec, apiKey string) *Server {
	return &Server{
		store:       st,
		codec:       codec,
		apiKey:      apiKey,
		failedSaves: make(chan failedSave, failedSavesQueueSize),
		healthy:     true,
	}
}

// Handler returns the routed handler with logging and security headers
// applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/v1/snapshots", s.handleSnapshots)
	mux.HandleFunc("/api/v1/snapshots/", s.handleSnapshotByName)
	mux.HandleFunc("/api/v1/diff", s.handleDiff)
	mux.HandleFunc("/api/v1/spec", s.handleSpec)
	mux.HandleFunc("/health", s.handleHealth)
	return loggingMiddleware(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	if s.apiKey != "" {
		log.Println("[INFO] API key authentication enabled")
	} else {
		log.Println("[WARN] Running without API key authentication")
	}
	log.Printf("[INFO] Retry configuration: max_retries=%d, initial_backoff=%v, max_backoff=%v",
		maxRetries, initialBackoff, maxBackoff)

	go s.processFailedSaves(ctx)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", port),
		Handler:        s.Handler(),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: 1 << 16, // 64KB max header size
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] Server starting on port %d", port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("[INFO] Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Println("[INFO] Server shutdown complete")
	return nil
}

// processFailedSaves drains the failed-saves queue on a ticker, retrying
// store writes that previously failed.
func (s *Server) processFailedSaves(ctx context.Context) {
	ticker := time.NewTicker(failedSavesInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainFailedSaves(ctx)
		}
	}
}

// drainFailedSaves retries queued saves until the queue is empty or a save
// fails again, in which case the item is re-queued for the next tick.
func (s *Server) drainFailedSaves(ctx context.Context) {
	for {
		select {
		case fs := <-s.failedSaves:
			if _, err := s.store.Save(ctx, fs.lines, fs.scope); err != nil {
				log.Printf("[WARN] Retry save still failing: %v", err)
				select {
				case s.failedSaves <- fs:
				default:
					log.Printf("[ERROR] Failed saves queue full, dropping snapshot")
				}
				return
			}
			s.setHealthy(true)
		default:
			return
		}
	}
}

type snapshotRequest struct {
	Lines []string `json:"lines"`
	Scope string   `json:"scope,omitempty"`
}

type snapshotSummary struct {
	Version  string `json:"version"`
	System   string `json:"system,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Packages int    `json:"packages"`
	Configs  int    `json:"configs"`
	Tweaks   int    `json:"tweaks"`
}

type snapshotResponse struct {
	Filename string          `json:"filename"`
	Warnings []string        `json:"warnings"`
	Summary  snapshotSummary `json:"summary"`
}

func summarize(snap *hivescript.Snapshot) snapshotSummary {
	return snapshotSummary{
		Version:  snap.Version,
		System:   snap.System,
		Scope:    snap.Scope,
		Packages: len(snap.Packages),
		Configs:  len(snap.ConfigFiles),
		Tweaks:   len(snap.Tweaks),
	}
}

func warningStrings(warnings []hivescript.Warning) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Error())
	}
	return out
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodPost {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		s.incrementErrorCount()
		log.Printf("[WARN] Unauthorized request from %s", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.incrementErrorCount()
		log.Printf("[ERROR] Failed to decode snapshot request from %s: %v", r.RemoteAddr, err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Lines) == 0 || len(req.Lines) > maxLines {
		s.incrementErrorCount()
		http.Error(w, "Invalid line count", http.StatusBadRequest)
		return
	}
	for _, line := range req.Lines {
		if len(line) > maxLineLength {
			s.incrementErrorCount()
			http.Error(w, "Line too long", http.StatusBadRequest)
			return
		}
	}

	snap, warnings := s.codec.DecodeSnapshot(req.Lines)
	scope := req.Scope
	if scope == "" {
		scope = snap.Scope
	}

	ctx := r.Context()
	filename, err := s.saveWithRetry(ctx, req.Lines, scope)
	if err != nil {
		log.Printf("[WARN] Failed to save snapshot after %d retries: %v", maxRetries, err)
		select {
		case s.failedSaves <- failedSave{lines: req.Lines, scope: scope}:
			log.Printf("[INFO] Snapshot queued for retry processing")
		default:
			log.Printf("[WARN] Failed saves queue is full, snapshot will not be retried")
			s.setHealthy(false)
		}
		http.Error(w, "Storage unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, snapshotResponse{
		Filename: filename,
		Warnings: warningStrings(warnings),
		Summary:  summarize(snap),
	})
}

func (s *Server) saveWithRetry(ctx context.Context, lines []string, scope string) (string, error) {
	var filename string
	err := retry.Do(func() error {
		var err error
		filename, err = s.store.Save(ctx, lines, scope)
		return err
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	return filename, err
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodGet {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries, err := s.store.List(r.Context())
	if err != nil {
		s.incrementErrorCount()
		log.Printf("[ERROR] Failed to list snapshots: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type snapshotDetail struct {
	Filename string          `json:"filename"`
	Lines    []string        `json:"lines"`
	Warnings []string        `json:"warnings"`
	Summary  snapshotSummary `json:"summary"`
}

func (s *Server) handleSnapshotByName(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodGet {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/v1/snapshots/")
	if name == "" || name != path.Base(name) {
		s.incrementErrorCount()
		http.Error(w, "Invalid snapshot name", http.StatusBadRequest)
		return
	}

	lines, err := s.store.Read(r.Context(), name)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		s.incrementErrorCount()
		http.Error(w, "Snapshot not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.incrementErrorCount()
		log.Printf("[ERROR] Failed to read snapshot %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	snap, warnings := s.codec.DecodeSnapshot(lines)
	writeJSON(w, http.StatusOK, snapshotDetail{
		Filename: name,
		Lines:    lines,
		Warnings: warningStrings(warnings),
		Summary:  summarize(snap),
	})
}

type diffRequest struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

type diffResponse struct {
	Before string           `json:"before"`
	After  string           `json:"after"`
	Result *snapdiff.Result `json:"result"`
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodPost {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req diffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.incrementErrorCount()
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	beforeLines, err := s.store.Read(ctx, req.Before)
	if err != nil {
		s.incrementErrorCount()
		http.Error(w, fmt.Sprintf("Before snapshot: %v", err), http.StatusNotFound)
		return
	}
	afterLines, err := s.store.Read(ctx, req.After)
	if err != nil {
		s.incrementErrorCount()
		http.Error(w, fmt.Sprintf("After snapshot: %v", err), http.StatusNotFound)
		return
	}

	before, _ := s.codec.DecodeSnapshot(beforeLines)
	after, _ := s.codec.DecodeSnapshot(afterLines)

	writeJSON(w, http.StatusOK, diffResponse{
		Before: req.Before,
		After:  req.After,
		Result: snapdiff.Diff(before, after),
	})
}

func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodGet {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reg := s.codec.Registry()
	spec := struct {
		Version  string            `json:"version"`
		Prefixes map[string]string `json:"prefixes"`
	}{
		Version:  reg.Version(),
		Prefixes: reg.PrefixMap(),
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.incrementRequestCount()

	s.healthMu.RLock()
	healthy := s.healthy
	s.healthMu.RUnlock()

	s.statsMu.RLock()
	requestCount := s.requestCount
	errorCount := s.errorCount
	s.statsMu.RUnlock()

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := fmt.Sprintf(`{"status":%q,"requests":%d,"errors":%d}`, status, requestCount, errorCount)
	if _, err := w.Write([]byte(response)); err != nil {
		log.Printf("[WARN] Error writing health response: %v", err)
	}
}

// authorized checks the X-API-Key header when a key is configured. Keys are
// never accepted from query params, which would expose them in logs.
func (s *Server) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	return constantTimeCompare(r.Header.Get("X-API-Key"), s.apiKey)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] Failed to encode response: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")

		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)

		if duration > 1*time.Second {
			log.Printf("[WARN] Slow request: %s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, duration)
		} else {
			log.Printf("[DEBUG] %s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, duration)
		}
	})
}

func (s *Server) incrementRequestCount() {
	s.statsMu.Lock()
	s.requestCount++
	s.statsMu.Unlock()
}

func (s *Server) incrementErrorCount() {
	s.statsMu.Lock()
	s.errorCount++
	s.statsMu.Unlock()
}

func (s *Server) setHealthy(healthy bool) {
	s.healthMu.Lock()
	changed := s.healthy != healthy
	s.healthy = healthy
	s.healthMu.Unlock()

	if !changed {
		return
	}
	if healthy {
		log.Printf("[INFO] Server health status changed to healthy")
	} else {
		log.Printf("[WARN] Server health status changed to degraded")
	}
}

// constantTimeCompare performs constant-time string comparison to prevent timing attacks.
func constantTimeCompare(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
