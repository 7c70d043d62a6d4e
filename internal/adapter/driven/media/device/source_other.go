//go:build !linux

package device

import (
	"context"
	"errors"

	"github.com/Wyydra/meshcall/internal/core/port"
)

var errUnsupported = errors.New("device capture is only available on linux")

type Source struct{}

func NewSource() (*Source, error) {
	return &Source{}, nil
}

func (s *Source) Acquire(context.Context, bool, bool) (port.LocalMedia, error) {
	return nil, errUnsupported
}
