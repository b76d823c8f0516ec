package ws

import (
	"encoding/json"
	"time"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/replay"
)

// Envelope wraps all WebSocket messages with a type discriminator.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants
const (
	// Client -> Server
	TypePredictRequest = "predict:request"
	TypeReplayStart    = "replay:start"
	TypeReplayPause    = "replay:pause"
	TypeReplaySetSpeed = "replay:set_speed"
	TypeReplaySeek     = "replay:seek"

	// Server -> Client
	TypePredictResult  = "predict:result"
	TypePredictError   = "predict:error"
	TypeModelInfo      = "model:info"
	TypeAlertViolation = "alert:violation"
	TypeReplayState    = "replay:state"
	TypeReplayStep     = "replay:step"
	TypeReplaySummary  = "replay:summary"
)

// Client -> Server messages

// PredictRequestPayload carries feature rows; a JSON null is a missing value.
type PredictRequestPayload struct {
	ID   string                `json:"id,omitempty"`
	Rows []map[string]*float64 `json:"rows"`
}

type SetSpeedPayload struct {
	Speed float64 `json:"speed"`
}

type SeekPayload struct {
	Timestamp string `json:"timestamp"`
}

// Server -> Client messages

type PredictResultPayload struct {
	ID      string                   `json:"id,omitempty"`
	RunID   string                   `json:"run_id,omitempty"`
	Records []model.PredictionRecord `json:"records"`
}

type PredictErrorPayload struct {
	ID      string `json:"id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ModelInfoPayload struct {
	RunID        string            `json:"run_id,omitempty"`
	FeatureNames []string          `json:"feature_names"`
	Threshold    float64           `json:"threshold"`
	Metrics      predictor.Metrics `json:"metrics"`
	CreatedAt    string            `json:"created_at"`
}

type AlertViolationPayload struct {
	RunID  string                 `json:"run_id,omitempty"`
	Record model.PredictionRecord `json:"record"`
}

type ReplayStatePayload struct {
	Time    string  `json:"time"`
	Speed   float64 `json:"speed"`
	Running bool    `json:"running"`
}

func NewEnvelope(msgType string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// FeatureRows converts request rows to feature maps, with nulls as missing values.
func (p PredictRequestPayload) FeatureRows() []map[string]float64 {
	rows := make([]map[string]float64, len(p.Rows))
	for i, r := range p.Rows {
		row := make(map[string]float64, len(r))
		for k, v := range r {
			if v == nil {
				row[k] = model.Missing
				continue
			}
			row[k] = *v
		}
		rows[i] = row
	}
	return rows
}

func ModelInfoFromDual(dm *predictor.DualModel) ModelInfoPayload {
	return ModelInfoPayload{
		RunID:        dm.RunID,
		FeatureNames: dm.FeatureNames,
		Threshold:    dm.Threshold,
		Metrics:      dm.Metrics,
		CreatedAt:    dm.CreatedAt.Format(time.RFC3339),
	}
}

func ReplayStateFrom(s replay.State) ReplayStatePayload {
	return ReplayStatePayload{
		Time:    s.Time.Format(time.RFC3339),
		Speed:   s.Speed,
		Running: s.Running,
	}
}
