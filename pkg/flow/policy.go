package flow

import (
	"fmt"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/transport"
)

// ConnType selects the delivery semantic of a connection.
type ConnType int

const (
	// Data keeps one sample; a write overwrites the previous one.
	Data ConnType = iota
	// Buffer is a FIFO of Size samples; a write to a full buffer is rejected.
	Buffer
)

func (t ConnType) String() string {
	if t == Buffer {
		return "buffer"
	}
	return "data"
}

// LockPolicy selects the synchronisation of the connection storage.
type LockPolicy int

const (
	// LockFree uses atomics only. It assumes a single writer and a single
	// reader per connection.
	LockFree LockPolicy = iota
	// Locked guards the storage with a mutex.
	Locked
)

func (l LockPolicy) String() string {
	if l == Locked {
		return "locked"
	}
	return "lock_free"
}

// ConnPolicy describes how a connection is built. For streams it must be
// identical on both sides.
type ConnPolicy struct {
	Type ConnType
	// Init delivers the output port's last written sample on connect.
	Init       bool
	LockPolicy LockPolicy
	// Size is the buffer capacity, used only with Buffer.
	Size int
	// Pull defers delivery to the reader: writes only store, and the reader
	// fetches on demand. In-process, the read that obtains new data raises
	// the new-data event; a stream still raises it on arrival.
	Pull bool
	// Transport is a transport protocol id; transport.Local (0) keeps the
	// connection in-process.
	Transport int
	// NameID names the stream of a non-local connection.
	NameID string
}

// DataPolicy returns a push, lock-free Data policy.
func DataPolicy() ConnPolicy {
	return ConnPolicy{Type: Data}
}

// BufferPolicy returns a push, lock-free Buffer policy of the given size.
func BufferPolicy(size int) ConnPolicy {
	return ConnPolicy{Type: Buffer, Size: size}
}

func (p ConnPolicy) String() string {
	return fmt.Sprintf("%s(size=%d,%s,pull=%t,init=%t,transport=%d,name_id=%q)",
		p.Type, p.Size, p.LockPolicy, p.Pull, p.Init, p.Transport, p.NameID)
}

// validate checks the parts of a policy common to connections and streams.
func (p ConnPolicy) validate() error {
	if p.Type == Buffer && p.Size <= 0 {
		return sdkerrors.ErrInvalidBufferSize
	}
	if p.Type != Data && p.Type != Buffer {
		return sdkerrors.NewConnectionError(fmt.Sprintf("unknown connection type %d", p.Type), nil)
	}
	if p.Transport != transport.Local {
		if _, ok := transport.Lookup(p.Transport); !ok {
			return fmt.Errorf("%w: %d", sdkerrors.ErrUnknownTransport, p.Transport)
		}
	}
	return nil
}

// validateStream additionally requires a named, non-local transport.
func (p ConnPolicy) validateStream() error {
	if p.Transport == transport.Local {
		return sdkerrors.ErrLocalStream
	}
	if p.NameID == "" {
		return sdkerrors.ErrMissingNameID
	}
	return p.validate()
}

func (p ConnPolicy) streamSpec() transport.StreamSpec {
	spec := transport.StreamSpec{NameID: p.NameID, Pull: p.Pull}
	if p.Type == Buffer {
		spec.Kind = transport.KindBuffer
		spec.Size = p.Size
	}
	return spec
}
