package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/replay"
)

func TestBridge_OnPredictions(t *testing.T) {
	hub := NewHub(nil)
	c := &Client{hub: hub, send: make(chan []byte, 16)}
	hub.Register(c)

	bridge := NewBridge(hub, nil)
	bridge.OnPredictions("run-7", []model.PredictionRecord{
		{PredictedValue: 8, Alert: model.AlertSafe},
		{PredictedValue: 22, PredictedViolation: true, ViolationProbability: 0.9, Alert: model.AlertViolation},
		{PredictedValue: 19, PredictedViolation: true, ViolationProbability: 0.7, Alert: model.AlertViolation},
	})

	require.Len(t, c.send, 2, "only violations are broadcast")

	var env Envelope
	require.NoError(t, json.Unmarshal(<-c.send, &env))
	assert.Equal(t, TypeAlertViolation, env.Type)

	var p AlertViolationPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "run-7", p.RunID)
	assert.Equal(t, 22.0, p.Record.PredictedValue)
	assert.Equal(t, model.AlertViolation, p.Record.Alert)
}

func TestBridge_NoClients(t *testing.T) {
	bridge := NewBridge(NewHub(nil), nil)
	assert.NotPanics(t, func() {
		bridge.OnPredictions("", []model.PredictionRecord{{PredictedViolation: true}})
	})
}

func TestBridge_ReplayEvents(t *testing.T) {
	hub := NewHub(nil)
	c := &Client{hub: hub, send: make(chan []byte, 16)}
	hub.Register(c)

	ts := time.Date(2024, 11, 21, 18, 0, 0, 0, time.UTC)
	bridge := NewBridge(hub, nil)
	bridge.OnState(replay.State{Time: ts, Speed: 3600, Running: true})
	bridge.OnStep(replay.Step{
		Timestamp: ts,
		Record:    model.PredictionRecord{PredictedValue: 22, PredictedViolation: true, Alert: model.AlertViolation},
		Actual:    24,
	})
	bridge.OnSummary(replay.Summary{Steps: 1, Alerts: 1})

	require.Len(t, c.send, 3)

	var env Envelope
	require.NoError(t, json.Unmarshal(<-c.send, &env))
	assert.Equal(t, TypeReplayState, env.Type)
	var st ReplayStatePayload
	require.NoError(t, json.Unmarshal(env.Payload, &st))
	assert.Equal(t, "2024-11-21T18:00:00Z", st.Time)
	assert.True(t, st.Running)

	require.NoError(t, json.Unmarshal(<-c.send, &env))
	assert.Equal(t, TypeReplayStep, env.Type)
	var step replay.Step
	require.NoError(t, json.Unmarshal(env.Payload, &step))
	assert.Equal(t, 24.0, step.Actual)
	assert.Equal(t, model.AlertViolation, step.Record.Alert)

	require.NoError(t, json.Unmarshal(<-c.send, &env))
	assert.Equal(t, TypeReplaySummary, env.Type)
}
