// Package httpapi exposes the orchestrator's view of the stack over HTTP:
// aggregate health, per-service states, the dependency graph, and a
// websocket feed of state transitions.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-go-golems/stackctl/pkg/graph"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Server struct {
	Addr      string
	StackName string
	Store     *state.Store
	Graph     *graph.Graph
	Sub       message.Subscriber
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to localhost; cross-origin reads are harmless.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/services", s.handleServices)
		r.Get("/graph", s.handleGraph)
		r.Get("/events", s.handleEvents)
	})
	return r
}

// ListenAndServe runs the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.Addr).Msg("http api listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http api")
	}
}

// handleHealthz reports aggregate stack health: 200 only when every service
// is healthy, 503 otherwise, always with the per-service breakdown.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	snap := s.Store.Snapshot()
	healthy := true
	for _, st := range snap {
		if st != state.StatusHealthy {
			healthy = false
			break
		}
	}
	code := http.StatusOK
	status := "healthy"
	if !healthy {
		code = http.StatusServiceUnavailable
		status = "degraded"
	}
	writeJSON(w, code, map[string]any{
		"stack":    s.StackName,
		"status":   status,
		"services": snap,
	})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": s.Store.Snapshot()})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": s.Graph.Nodes(),
		"edges": s.Graph.AllEdges(),
		"order": s.Graph.TopoOrder(),
	})
}

// handleEvents upgrades to a websocket and forwards every state transition
// published on the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Sub == nil {
		http.Error(w, "event feed not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	msgs, err := s.Sub.Subscribe(ctx, state.EventsTopic)
	if err != nil {
		log.Warn().Err(err).Msg("subscribe failed")
		return
	}

	// Detect client disconnect; the read side carries no data.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for msg := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode response failed")
	}
}
