package ws

import (
	"go.uber.org/zap"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/replay"
)

// Bridge broadcasts prediction and replay events to every client of the
// hub. It implements replay.Callback.
type Bridge struct {
	hub    *Hub
	logger *zap.Logger
}

func NewBridge(hub *Hub, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{hub: hub, logger: logger}
}

// OnPredictions sends an alert:violation message for each violating record.
func (b *Bridge) OnPredictions(runID string, records []model.PredictionRecord) {
	for _, r := range records {
		if !r.PredictedViolation {
			continue
		}
		b.broadcast(TypeAlertViolation, AlertViolationPayload{RunID: runID, Record: r})
	}
}

func (b *Bridge) OnState(state replay.State) {
	b.broadcast(TypeReplayState, ReplayStateFrom(state))
}

func (b *Bridge) OnStep(step replay.Step) {
	b.broadcast(TypeReplayStep, step)
}

func (b *Bridge) OnSummary(summary replay.Summary) {
	b.broadcast(TypeReplaySummary, summary)
}

func (b *Bridge) broadcast(msgType string, payload any) {
	msg, err := NewEnvelope(msgType, payload)
	if err != nil {
		b.logger.Error("marshaling message", zap.String("type", msgType), zap.Error(err))
		return
	}
	b.hub.Broadcast(msg)
}
