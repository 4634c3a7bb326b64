package processor

import (
	"errors"
	"fmt"
)

// Kinds of pipeline failure, matched with errors.Is.
var (
	ErrDecode = errors.New("decode failed")
	ErrEncode = errors.New("encode failed")
	ErrWrite  = errors.New("write failed")
)

// ProcessingError reports which step failed for which input.
type ProcessingError struct {
	Kind error  // ErrDecode, ErrEncode or ErrWrite
	Path string // staged input path
	Err  error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("process %s: %v: %v", e.Path, e.Kind, e.Err)
}

func (e *ProcessingError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
