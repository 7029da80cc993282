// Package transport defines the byte-level stream endpoints that carry
// port connections across process boundaries, and the registry of
// protocols implementing them.
//
// A stream is connection-less: the writer and the reader open the same
// named channel independently, each from its own process. The channel name
// is derived from the connection policy with StreamName, so both sides must
// use the same policy.
package transport

import (
	"fmt"
	"strings"
	"sync"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// Protocol ids. Local (0) is reserved for in-process connections and can
// never be registered.
const (
	Local  = 0
	MQueue = 2
	NATS   = 3
)

// Kind is the delivery semantic of a stream.
type Kind int

const (
	// KindData keeps only the most recent sample.
	KindData Kind = iota
	// KindBuffer is a bounded FIFO that rejects writes when full.
	KindBuffer
)

// StreamSpec identifies one stream and its semantic.
type StreamSpec struct {
	NameID string
	Kind   Kind
	// Size is the buffer capacity; ignored for KindData.
	Size int
	// Pull records that the reader fetches on demand. Readers are still
	// notified on arrival.
	Pull bool
}

// StreamName returns the channel name both endpoints open:
// "/" + NameID + "." + kind + ".w2r", where kind is "data" or
// "buffer<Size>". Slashes inside NameID are replaced by underscores.
func StreamName(spec StreamSpec) string {
	kind := "data"
	if spec.Kind == KindBuffer {
		kind = fmt.Sprintf("buffer%d", spec.Size)
	}
	return "/" + strings.ReplaceAll(spec.NameID, "/", "_") + "." + kind + ".w2r"
}

// Capacity returns the number of messages the stream holds.
func (s StreamSpec) Capacity() int {
	if s.Kind == KindBuffer {
		return s.Size
	}
	return 1
}

// Writer is the sending endpoint of a stream.
type Writer interface {
	// Write sends one message. It returns false without error when a buffer
	// stream is full. Data streams replace a pending message instead.
	Write(msg []byte) (bool, error)
	Close() error
}

// Reader is the receiving endpoint of a stream. Read never blocks: ok is
// false when nothing is pending. Data streams return only the most recent
// pending message.
type Reader interface {
	Read() (msg []byte, ok bool, err error)
	Close() error
}

// Protocol opens stream endpoints over one transport mechanism.
type Protocol interface {
	ID() int
	Name() string
	OpenWriter(spec StreamSpec) (Writer, error)
	// OpenReader opens the receiving side. notify, when not nil, is called
	// on message arrival from a dispatcher goroutine.
	OpenReader(spec StreamSpec, notify func()) (Reader, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[int]Protocol{}
)

// Register makes p available under p.ID().
func Register(p Protocol) error {
	if p.ID() == Local {
		return sdkerrors.NewTransportError("transport id 0 is reserved for local connections", nil)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if existing, ok := registry[p.ID()]; ok {
		return sdkerrors.NewTransportError(
			fmt.Sprintf("transport id %d already registered by %s", p.ID(), existing.Name()), nil)
	}
	registry[p.ID()] = p
	return nil
}

// Lookup returns the protocol registered under id.
func Lookup(id int) (Protocol, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[id]
	return p, ok
}

// Unregister removes the protocol registered under id, if any.
func Unregister(id int) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, id)
}
