package probe

import (
	"errors"
	"fmt"

	"github.com/andresuchdata/uploadprobe/internal/domain"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrFileNotFound      = errors.New("file not found")
	ErrPresignFailed     = errors.New("presign failed")
	ErrUploadFailed      = errors.New("upload failed")
	ErrFinalizeFailed    = errors.New("finalize failed")
	ErrDownloadFailed    = errors.New("download failed")
	ErrVerifyFailed      = errors.New("verify failed")
	ErrInspectFailed     = errors.New("inspect failed")
)

// StepError reports the step a run stopped at. It matches both its Kind
// sentinel and the underlying cause with errors.Is / errors.As.
type StepError struct {
	Step domain.Step
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// FailedStep returns the step err stopped at, if it carries one.
func FailedStep(err error) (domain.Step, bool) {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step, true
	}
	return "", false
}
