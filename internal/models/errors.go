package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means the frame source could not be (re)opened.
	// Fatal once reconnection attempts are exhausted.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrPreprocess means a frame could not be transformed. Never retried.
	ErrPreprocess = errors.New("preprocess failed")
	// ErrInference means the model failed on a frame.
	ErrInference = errors.New("inference failed")
	// ErrStorageWrite means an image or record could not be persisted.
	ErrStorageWrite = errors.New("storage write failed")
	// ErrModelLoad means the model could not be loaded. Fatal at startup.
	ErrModelLoad = errors.New("model load failed")
)

// Storage phases of the two-phase persist.
const (
	PhaseImage  = "image"
	PhaseRecord = "record"
)

// FrameError scopes a non-fatal error to a single frame.
type FrameError struct {
	Seq   uint64
	Stage string
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %s: %v", e.Seq, e.Stage, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// StorageWriteError reports which persist phase failed.
type StorageWriteError struct {
	Phase string
	Path  string
	Err   error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write (%s phase) %s: %v", e.Phase, e.Path, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// Is makes every StorageWriteError match ErrStorageWrite.
func (e *StorageWriteError) Is(target error) bool { return target == ErrStorageWrite }

// IsFatal reports whether err must terminate the pipeline.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrModelLoad)
}
