package streamdriver

import (
	"fmt"
)

type Stage string

const (
	StageRead      = Stage("read")
	StageConstruct = Stage("construct")
	StageResample  = Stage("resample")
	StageStore     = Stage("store")
	StageProcess   = Stage("process")
	StageWrite     = Stage("write")
)

// StageError tells which stage of a run failed. ChunkIndex is negative
// if the failure is not related to a specific chunk.
type StageError struct {
	Stage      Stage
	ChunkIndex int
	Err        error
}

func newStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, ChunkIndex: -1, Err: err}
}

func newChunkError(stage Stage, chunkIndex int, err error) *StageError {
	return &StageError{Stage: stage, ChunkIndex: chunkIndex, Err: err}
}

func (e *StageError) Error() string {
	if e.ChunkIndex >= 0 {
		return fmt.Sprintf("stage '%s' failed on chunk #%d: %v", e.Stage, e.ChunkIndex, e.Err)
	}
	return fmt.Sprintf("stage '%s' failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
