package pipeline

import (
	"errors"
	"fmt"
)

// ErrInsufficientLabels signals the classifier training safeguard: the labeled
// subset is too small or single-class. Downstream stages degrade instead of failing
var ErrInsufficientLabels = errors.New("insufficient labeled data to train classifiers")

// Action represents what the runner should do after a stage error
type Action int

const (
	// ActionContinue proceeds to the next stage
	ActionContinue Action = iota

	// ActionDegrade records the condition and proceeds; dependent optional
	// stages are expected to handle the missing output themselves
	ActionDegrade

	// ActionHalt aborts the run; downstream invariants cannot be trusted
	ActionHalt
)

// String returns a human-readable action name
func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionDegrade:
		return "degrade"
	case ActionHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// FatalInputError means an upstream artifact is missing or malformed
// The failing stage writes no output
type FatalInputError struct {
	Stage    string
	Artifact string
	Err      error
}

func (e *FatalInputError) Error() string {
	return fmt.Sprintf("stage %s: fatal input %s: %v", e.Stage, e.Artifact, e.Err)
}

func (e *FatalInputError) Unwrap() error {
	return e.Err
}

// NewFatalInputError wraps an artifact read failure
func NewFatalInputError(stage, artifact string, err error) *FatalInputError {
	return &FatalInputError{Stage: stage, Artifact: artifact, Err: err}
}

// DataQualityError means a structural invariant was violated after a transform
// (NaN past the fill policy, duplicate wallet keys, join inflation). Always halts:
// a corrupted join key cannot be repaired without risking mis-attributed risk data
type DataQualityError struct {
	Stage  string
	Check  string
	Detail string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("stage %s: data quality check %s failed: %s", e.Stage, e.Check, e.Detail)
}

// NewDataQualityError records a failed invariant check
func NewDataQualityError(stage, check, detail string) *DataQualityError {
	return &DataQualityError{Stage: stage, Check: check, Detail: detail}
}

// ServiceError means an external service call failed after bounded retries
// Callers map it to a per-wallet sentinel value rather than aborting the batch
type ServiceError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service %s failed after %d attempts: %v", e.Service, e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError wraps an exhausted external call
func NewServiceError(service string, attempts int, err error) *ServiceError {
	return &ServiceError{Service: service, Attempts: attempts, Err: err}
}

// ClassifyError maps a stage error to the runner action
func ClassifyError(err error) Action {
	if err == nil {
		return ActionContinue
	}

	if errors.Is(err, ErrInsufficientLabels) {
		return ActionDegrade
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return ActionDegrade
	}

	var inputErr *FatalInputError
	if errors.As(err, &inputErr) {
		return ActionHalt
	}

	var qualityErr *DataQualityError
	if errors.As(err, &qualityErr) {
		return ActionHalt
	}

	// Unrecognized errors halt; continuing would risk corrupted artifacts
	return ActionHalt
}
