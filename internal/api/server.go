package api

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/maskguard/maskguard/pkg/logging"
)

// Server wraps the HTTP server hosting the REST API, the live websocket
// endpoint, and the metrics endpoint.
type Server struct {
	httpServer *http.Server
	log        *logging.Logger
}

// NewServer builds the router and HTTP server. The live and metrics handlers
// are plain http.Handlers so the api package stays decoupled from their
// internals.
func NewServer(addr string, handler *Handler, liveHandler, metricsHandler http.Handler, log *logging.Logger) *Server {
	r := mux.NewRouter()
	handler.RegisterRoutes(r)
	r.Handle("/ws/live", liveHandler).Methods("GET")
	r.Handle("/metrics", metricsHandler).Methods("GET")

	r.Use(loggingMiddleware(log.WithComponent("http")))

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: r,
			// No write timeout: websocket sessions and CSV exports are
			// long-lived by design.
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log.WithComponent("api"),
	}
}

// Start begins serving. It blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info("http server listening", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func loggingMiddleware(log *logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("request handled", map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			})
		})
	}
}

// openImage decodes an image file from disk.
func openImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}
