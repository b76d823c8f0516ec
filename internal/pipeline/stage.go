// Package pipeline runs the training pipeline as a sequence of named stages
// and the fetch flow that maintains the processed series file.
package pipeline

import "fmt"

// Stage names the step of a run that produced an error.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageIngest   Stage = "ingest"
	StageFeatures Stage = "features"
	StageSplit    Stage = "split"
	StageTrain    Stage = "train"
	StagePersist  Stage = "persist"
	StageRegister Stage = "register"
)

// StageError annotates the first failure of a run with its stage.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
