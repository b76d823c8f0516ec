package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/replay"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Recorder stores the records produced by a model run.
type Recorder interface {
	RecordPredictions(ctx context.Context, runID string, records []model.PredictionRecord) error
}

// Observer is notified of every scored batch.
type Observer interface {
	ObservePredictions(records []model.PredictionRecord, elapsed time.Duration)
}

// Replayer is the control surface of a replay engine.
type Replayer interface {
	Start()
	Pause()
	SetSpeed(speed float64)
	Seek(t time.Time)
	State() replay.State
}

// Handler manages WebSocket connections and answers prediction requests
// with a loaded dual model.
type Handler struct {
	hub    *Hub
	bridge *Bridge
	model  *predictor.DualModel
	logger *zap.Logger

	// Optional sinks; nil disables them.
	Recorder Recorder
	Observer Observer
	Replay   Replayer
}

func NewHandler(hub *Hub, dm *predictor.DualModel, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:    hub,
		bridge: NewBridge(hub, logger),
		model:  dm,
		logger: logger,
	}
}

// Bridge returns the broadcaster shared by all clients, for use as a
// replay callback.
func (h *Handler) Bridge() *Bridge {
	return h.bridge
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:  h.hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.hub.Register(client)
	go client.writePump()

	h.sendModelInfo(client)
	if h.Replay != nil {
		h.sendReplayState(client)
	}

	h.readPump(r.Context(), client)
}

func (h *Handler) readPump(ctx context.Context, c *Client) {
	defer func() {
		h.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		h.handleMessage(ctx, c, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *Client, msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		h.sendError(c, "", "request", fmt.Errorf("invalid message: %w", err))
		return
	}

	switch env.Type {
	case TypePredictRequest:
		var p PredictRequestPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(c, "", "request", fmt.Errorf("invalid predict payload: %w", err))
			return
		}
		h.predict(ctx, c, p)

	case TypeReplayStart, TypeReplayPause, TypeReplaySetSpeed, TypeReplaySeek:
		if h.Replay == nil {
			h.sendError(c, "", "request", errors.New("replay is not enabled"))
			return
		}
		h.handleReplay(c, env)

	default:
		h.sendError(c, "", "request", fmt.Errorf("unknown message type %q", env.Type))
	}
}

func (h *Handler) predict(ctx context.Context, c *Client, p PredictRequestPayload) {
	start := time.Now()
	records, err := h.model.Predict(p.FeatureRows())
	if err != nil {
		kind := "request"
		if k, ok := model.KindOf(err); ok {
			kind = string(k)
		}
		h.sendError(c, p.ID, kind, err)
		return
	}
	if h.Observer != nil {
		h.Observer.ObservePredictions(records, time.Since(start))
	}
	if h.Recorder != nil {
		if err := h.Recorder.RecordPredictions(ctx, h.model.RunID, records); err != nil {
			h.logger.Warn("recording predictions", zap.Error(err))
		}
	}

	msg, err := NewEnvelope(TypePredictResult, PredictResultPayload{
		ID:      p.ID,
		RunID:   h.model.RunID,
		Records: records,
	})
	if err != nil {
		h.logger.Error("marshaling predict result", zap.Error(err))
		return
	}
	h.send(c, msg)
	h.bridge.OnPredictions(h.model.RunID, records)
}

func (h *Handler) handleReplay(c *Client, env Envelope) {
	switch env.Type {
	case TypeReplayStart:
		h.Replay.Start()

	case TypeReplayPause:
		h.Replay.Pause()

	case TypeReplaySetSpeed:
		var p SetSpeedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(c, "", "request", fmt.Errorf("invalid set_speed payload: %w", err))
			return
		}
		h.Replay.SetSpeed(p.Speed)

	case TypeReplaySeek:
		var p SeekPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			h.sendError(c, "", "request", fmt.Errorf("invalid seek payload: %w", err))
			return
		}
		t, err := time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			h.sendError(c, "", "request", fmt.Errorf("invalid seek timestamp: %w", err))
			return
		}
		h.Replay.Seek(t)
	}
}

func (h *Handler) sendReplayState(c *Client) {
	msg, err := NewEnvelope(TypeReplayState, ReplayStateFrom(h.Replay.State()))
	if err != nil {
		h.logger.Error("marshaling replay state", zap.Error(err))
		return
	}
	h.send(c, msg)
}

func (h *Handler) sendModelInfo(c *Client) {
	msg, err := NewEnvelope(TypeModelInfo, ModelInfoFromDual(h.model))
	if err != nil {
		h.logger.Error("marshaling model info", zap.Error(err))
		return
	}
	h.send(c, msg)
}

func (h *Handler) sendError(c *Client, id, kind string, err error) {
	h.logger.Debug("predict error", zap.String("kind", kind), zap.Error(err))
	msg, mErr := NewEnvelope(TypePredictError, PredictErrorPayload{ID: id, Kind: kind, Message: err.Error()})
	if mErr != nil {
		return
	}
	h.send(c, msg)
}

func (h *Handler) send(c *Client, msg []byte) {
	h.hub.Send(c, msg)
}

// NewServeMux routes /ws to h, /metrics to metrics (when non-nil) and
// answers /health.
func NewServeMux(h *Handler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.Handle("/ws", h)
	return mux
}
