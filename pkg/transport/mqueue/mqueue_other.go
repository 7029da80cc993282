//go:build !linux

package mqueue

import (
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/transport"
)

type dispatcher struct{}

func (d *dispatcher) close() error { return nil }

func (p *Protocol) OpenWriter(transport.StreamSpec) (transport.Writer, error) {
	return nil, sdkerrors.NewTransportError("POSIX message queues are not available", sdkerrors.ErrUnsupported)
}

func (p *Protocol) OpenReader(transport.StreamSpec, func()) (transport.Reader, error) {
	return nil, sdkerrors.NewTransportError("POSIX message queues are not available", sdkerrors.ErrUnsupported)
}
