package speech

import (
	"errors"
	"fmt"

	"github.com/mdobak/go-xerrors"
)

// Kind classifies pipeline failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindData is a malformed or undecodable clip. Skipped per file.
	KindData
	// KindConfig is missing or incompatible persisted state, e.g. no checkpoint.
	KindConfig
	// KindTraining aborts a training run: shape mismatches, unsplittable data.
	KindTraining
	// KindTransport is an upstream dataset download failure.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindConfig:
		return "config"
	case KindTraining:
		return "training"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

var (
	ErrData      = errors.New("data error")
	ErrConfig    = errors.New("config error")
	ErrTraining  = errors.New("training error")
	ErrTransport = errors.New("transport error")

	// ErrNoCheckpoint is returned by inference when no model has been trained.
	ErrNoCheckpoint = &Error{Kind: KindConfig, Op: "load checkpoint", Err: errors.New("no trained model checkpoint found")}
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind, so errors.Is(err, ErrConfig)
// holds for every config error.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrData:
		return e.Kind == KindData
	case ErrConfig:
		return e.Kind == KindConfig
	case ErrTraining:
		return e.Kind == KindTraining
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// NewError wraps err with a kind and a stack trace.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: xerrors.New(err)}
}

func dataErrorf(op, format string, args ...any) error {
	return NewError(KindData, op, fmt.Errorf(format, args...))
}

func configErrorf(op, format string, args ...any) error {
	return NewError(KindConfig, op, fmt.Errorf(format, args...))
}

func trainingErrorf(op, format string, args ...any) error {
	return NewError(KindTraining, op, fmt.Errorf(format, args...))
}
