package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/orchestrator/state"
)

// server is the thin HTTP adapter around app.driver: request/response JSON
// binding only, with no orchestration logic of its own. Per SPEC_FULL.md's
// non-goals, the HTTP surface itself is intentionally minimal.
type server struct {
	app *app
	mux *http.ServeMux
}

func newServer(a *app) *server {
	s := &server{app: a, mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/v1/query", s.handleQuery)
	return s
}

func (s *server) run() error {
	addr := httpAddr(s.app.cfg.Server.HTTPPort)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  s.app.cfg.Server.ReadTimeout,
		WriteTimeout: s.app.cfg.Server.WriteTimeout,
	}
	s.app.logger.Info("listening", zap.String("addr", addr))
	return httpServer.ListenAndServe()
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type queryRequest struct {
	UserInput string         `json:"user_input"`
	UIContext map[string]any `json:"ui_context"`
	SessionID string         `json:"session_id"`
	RequestID string         `json:"request_id,omitempty"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	st := state.New(req.RequestID, req.UserInput, req.UIContext)
	st.SessionID = req.SessionID

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	resp := s.app.driver.Run(ctx, st)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.app.logger.Warn("query timed out", zap.String("request_id", req.RequestID))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func httpAddr(port int) string {
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf(":%d", port)
}
