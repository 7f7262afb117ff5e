package live

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maskguard/maskguard/internal/pipeline"
	"github.com/maskguard/maskguard/pkg/logging"
)

// State is the lifecycle state of one live session.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// clientMessage is the envelope for everything a client may send.
type clientMessage struct {
	Type string `json:"type"`

	// config fields
	CooldownSeconds  *float64 `json:"cooldown_seconds,omitempty"`
	SnapshotsEnabled *bool    `json:"snapshots_enabled,omitempty"`

	// frame fields
	Data string `json:"data,omitempty"`
}

type configAck struct {
	Type             string  `json:"type"`
	CooldownSeconds  float64 `json:"cooldown_seconds"`
	SnapshotsEnabled bool    `json:"snapshots_enabled"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type resultMessage struct {
	Type string `json:"type"`
	pipeline.FrameResult
}

// Session coordinates one live connection. It owns a dedicated pipeline
// (tracker + gate), so identities never leak across connections. Frames are
// processed strictly serially: the next message is not read until the
// current frame completes, which is the session's backpressure mechanism.
type Session struct {
	id       string
	conn     *websocket.Conn
	pipeline *pipeline.Pipeline
	state    State
	frameIdx int
	log      *logging.Logger
	now      func() time.Time
}

// NewSession wraps an accepted websocket connection.
func NewSession(id string, conn *websocket.Conn, p *pipeline.Pipeline, log *logging.Logger) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		pipeline: p,
		state:    StateConnecting,
		log:      log.WithComponent("live").WithField("session", id),
		now:      time.Now,
	}
}

// State returns the session's lifecycle state.
func (s *Session) State() State { return s.state }

// Run drives the receive → detect → track → gate → emit loop until the
// connection closes. Teardown discards the tracker and gate with the session.
func (s *Session) Run(ctx context.Context) {
	s.state = StateActive
	s.log.Info("session active")
	defer func() {
		s.state = StateClosed
		s.log.Info("session closed", map[string]interface{}{"frames": s.frameIdx})
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("connection error", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		if err := s.handleMessage(ctx, data); err != nil {
			// Write failures mean the peer is gone; everything else was
			// already surfaced to the client as an error message.
			return
		}
	}
}

func (s *Session) handleMessage(ctx context.Context, data []byte) error {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return s.writeError("invalid message: not JSON")
	}

	switch msg.Type {
	case "config":
		return s.handleConfig(msg)
	case "frame":
		return s.handleFrame(ctx, msg)
	case "ping":
		return s.conn.WriteJSON(map[string]string{"type": "pong"})
	default:
		return s.writeError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// handleConfig applies a config update atomically; it takes effect on the
// next processed frame.
func (s *Session) handleConfig(msg clientMessage) error {
	if msg.CooldownSeconds != nil {
		secs := *msg.CooldownSeconds
		if secs < 1 {
			return s.writeError("cooldown_seconds must be >= 1")
		}
		s.pipeline.Gate().SetCooldown(time.Duration(secs * float64(time.Second)))
	}
	if msg.SnapshotsEnabled != nil {
		s.pipeline.SetSnapshotsEnabled(*msg.SnapshotsEnabled)
	}
	return s.conn.WriteJSON(configAck{
		Type:             "config_ack",
		CooldownSeconds:  s.pipeline.Gate().Cooldown().Seconds(),
		SnapshotsEnabled: s.pipeline.SnapshotsEnabled(),
	})
}

func (s *Session) handleFrame(ctx context.Context, msg clientMessage) error {
	img, err := decodeFrame(msg.Data)
	if err != nil {
		// Malformed input rejects this single message; the session stays up.
		return s.writeError("invalid frame payload")
	}

	result := s.pipeline.ProcessFrame(ctx, img, s.frameIdx, s.now())
	s.frameIdx++

	return s.conn.WriteJSON(resultMessage{Type: "result", FrameResult: result})
}

func (s *Session) writeError(message string) error {
	return s.conn.WriteJSON(errorMessage{Type: "error", Message: message})
}

// decodeFrame decodes a base64 (optionally data-URL prefixed) encoded image.
func decodeFrame(data string) (image.Image, error) {
	if data == "" {
		return nil, fmt.Errorf("empty frame data")
	}
	if idx := strings.IndexByte(data, ','); idx >= 0 {
		data = data[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid image: %w", err)
	}
	return img, nil
}
