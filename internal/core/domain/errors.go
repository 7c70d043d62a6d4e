package domain

import (
	"errors"
	"strings"
)

var (
	ErrDeviceUnavailable     = errors.New("device unavailable")
	ErrRelayUnavailable      = errors.New("relay unavailable")
	ErrJoinRejected          = errors.New("join rejected")
	ErrLinkNegotiationFailed = errors.New("link negotiation failed")
	ErrInvalidCallConfig     = errors.New("invalid call config")
	ErrAlreadyInCall         = errors.New("already in a call")
	ErrNotFound              = errors.New("not found")
)

// DeviceUnavailableError names the capture device classes that could not be
// obtained. It matches ErrDeviceUnavailable with errors.Is.
type DeviceUnavailableError struct {
	Kinds []MediaKind
	Err   error
}

func (e *DeviceUnavailableError) Error() string {
	names := make([]string, 0, len(e.Kinds))
	for _, k := range e.Kinds {
		names = append(names, string(k))
	}
	msg := ErrDeviceUnavailable.Error()
	if len(names) > 0 {
		msg += ": no usable " + strings.Join(names, "/")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceUnavailableError) Is(target error) bool {
	return target == ErrDeviceUnavailable
}

func (e *DeviceUnavailableError) Unwrap() error {
	return e.Err
}
