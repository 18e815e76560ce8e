package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that need a distinct remediation.
type ErrorKind string

const (
	KindUnknown                ErrorKind = ""
	KindPermissionDenied       ErrorKind = "permission-denied"
	KindDeviceNotFound         ErrorKind = "device-not-found"
	KindDeviceBusy             ErrorKind = "device-busy"
	KindUnsupportedConstraints ErrorKind = "unsupported-constraints"
	KindInsecureContext        ErrorKind = "insecure-context"
	KindSignalingUnreachable   ErrorKind = "signaling-unreachable"
	KindNegotiationTimeout     ErrorKind = "negotiation-timeout"
	KindPeerConnectionFailed   ErrorKind = "peer-connection-failed"
	KindRoomAllocationFailed   ErrorKind = "room-allocation-failed"
)

var remediation = map[ErrorKind]string{
	KindPermissionDenied:       "Camera permission was denied. Please allow camera access and try again.",
	KindDeviceNotFound:         "No camera or microphone found. Please connect a camera and microphone.",
	KindDeviceBusy:             "Camera is already in use by another application. Please close other video apps.",
	KindUnsupportedConstraints: "Camera does not support the required settings.",
	KindInsecureContext:        "Camera access blocked due to security restrictions. Please use a secure (wss) connection.",
	KindSignalingUnreachable:   "Cannot reach the call server. Check your connection and start again.",
	KindNegotiationTimeout:     "The call took too long to connect. Start again to meet someone new.",
	KindPeerConnectionFailed:   "The connection to your partner was lost. Start again to reconnect.",
	KindRoomAllocationFailed:   "Could not create a call room. Continuing in offline mode.",
}

// Remediation returns the user-facing recovery message for the kind.
func (k ErrorKind) Remediation() string {
	if msg, ok := remediation[k]; ok {
		return msg
	}
	return "Something went wrong. Please try again."
}

// Fatal reports whether the kind forces the session into the failed state.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindSignalingUnreachable, KindNegotiationTimeout, KindPeerConnectionFailed:
		return true
	}
	return false
}

var (
	ErrInvalidState = errors.New("operation not valid in current state")
	ErrNotConnected = errors.New("signaling not connected")
	ErrClosed       = errors.New("closed")
)

// Error is a classified failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and the failing operation.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
