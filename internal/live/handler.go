package live

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/maskguard/maskguard/internal/metrics"
	"github.com/maskguard/maskguard/internal/pipeline"
	"github.com/maskguard/maskguard/pkg/logging"
)

// PipelineFactory builds a fresh pipeline (with its own tracker and gate)
// for each accepted connection.
type PipelineFactory func() *pipeline.Pipeline

// Handler upgrades HTTP requests to live detection sessions.
type Handler struct {
	upgrader    websocket.Upgrader
	newPipeline PipelineFactory
	log         *logging.Logger
	metrics     *metrics.Metrics
}

// NewHandler creates the /ws/live handler.
func NewHandler(factory PipelineFactory, log *logging.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 20,
			WriteBufferSize: 64 << 10,
			// The service fronts its own UI or trusted tooling; origin
			// enforcement belongs to the deployment proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		newPipeline: factory,
		log:         log,
		metrics:     m,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.ActiveSessions.Inc()
		defer h.metrics.ActiveSessions.Dec()
	}

	session := NewSession(uuid.New().String()[:8], conn, h.newPipeline(), h.log)
	session.Run(r.Context())
}
