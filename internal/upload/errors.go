package upload

import "errors"

var (
	ErrTaskNotFound   = errors.New("upload not found")
	ErrNoTransport    = errors.New("no transport configured")
	ErrInterrupted    = errors.New("interrupted by restart")
	errUnknownFailure = errors.New("upload failed")
)
