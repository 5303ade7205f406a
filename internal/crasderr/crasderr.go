// Package crasderr defines the closed set of error kinds the control
// surface and internal subsystems use to classify failures (spec §7).
package crasderr

import "fmt"

// Kind is a closed enumeration of error classes. Handlers branch on Kind
// rather than matching on formatted text.
type Kind int

const (
	// InvalidArgument marks a value out of range or a malformed id.
	InvalidArgument Kind = iota
	// NotFound marks an unknown node/device/model id.
	NotFound
	// Busy marks a resource already in use (e.g. an HFP SCO socket not ready).
	Busy
	// TransientIO marks a card/socket error the caller may retry or escalate.
	TransientIO
	// FatalDevice marks a failure that triggers a scheduled suspend and disconnect.
	FatalDevice
	// CapabilityMissing marks a feature UCM does not advertise for the device.
	CapabilityMissing
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid-argument"
	case NotFound:
		return "not-found"
	case Busy:
		return "busy"
	case TransientIO:
		return "transient-i/o"
	case FatalDevice:
		return "fatal-device"
	case CapabilityMissing:
		return "capability-missing"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// errors.As without parsing strings.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind with an optional wrapped cause.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Is reports whether err is a crasderr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
