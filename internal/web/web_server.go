package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/BetterCallFirewall/postcap/internal/models"
	"github.com/BetterCallFirewall/postcap/internal/replay"
	"github.com/BetterCallFirewall/postcap/internal/websocket"
)

type captureStore interface {
	All() []models.ObservedRequest
	Get(id string) (models.ObservedRequest, bool)
}

type controller interface {
	Settings() (host, name string)
	Reconfigure(host, name string) bool
	CollectionJSON() ([]byte, error)
}

type replayer interface {
	Replay(ctx context.Context, capture models.ObservedRequest) (*replay.Result, error)
}

// Server exposes the viewer API: captured traffic, the live collection
// document, capture settings, replays and the websocket feed.
type Server struct {
	addr     string
	captures captureStore
	control  controller
	replay   replayer
	hub      *websocket.Hub
	logger   *slog.Logger
	server   *http.Server
}

func NewServer(addr string, captures captureStore, control controller, rep replayer, hub *websocket.Hub, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		captures: captures,
		control:  control,
		replay:   rep,
		hub:      hub,
		logger:   logger.With("component", "web"),
	}
}

func newCORS() *cors.Cors {
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders: []string{"*"},
	})
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/requests", s.handleRequests)
	mux.HandleFunc("/api/requests/", s.handleRequestByID)
	mux.HandleFunc("/api/collection", s.handleCollection)
	mux.HandleFunc("/api/config", s.handleConfig)

	mux.HandleFunc("/ws", s.hub.ServeWS)

	mux.HandleFunc(
		"/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
	)

	return newCORS().Handler(mux)
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	s.logger.Info("viewer api listening", "addr", s.addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
