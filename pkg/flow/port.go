package flow

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/wehubfusion/Daedalus/pkg/metrics"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/transport"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var (
	pkgLogger atomic.Pointer[zap.Logger]
	tracer    = otel.Tracer("daedalus/flow")
)

// SetLogger sets the logger of ports created afterwards. Passing nil
// restores the zap global logger.
func SetLogger(logger *zap.Logger) {
	pkgLogger.Store(logger)
}

func defaultLogger() *zap.Logger {
	if l := pkgLogger.Load(); l != nil {
		return l
	}
	return zap.L()
}

// Port is the type-independent view of an input or output port.
type Port interface {
	Name() string
	IsInput() bool
	// TypeName names the sample type carried by the port.
	TypeName() string
	Connected() bool
	// Connections returns the number of connections and streams.
	Connections() int

	// CreateConnection connects this port to other in-process or, for a
	// non-local policy, through a pair of streams.
	CreateConnection(other Port, policy ConnPolicy) error
	// CreateStream binds this port to one half of a named stream.
	CreateStream(policy ConnPolicy) error
	// Disconnect removes every connection and stream of the port.
	Disconnect()
}

// EventPort is a port raising a new-data event.
type EventPort interface {
	Port
	NewDataEvent() *Event
}

func typeName[T any]() string {
	var zero T
	return fmt.Sprintf("%T", zero)
}

// connection is one established channel between two ports, or one half of a
// stream when only one port is set. Stream halves created together by a
// non-local connect point at each other through partner.
type connection[T any] struct {
	id     uuid.UUID
	policy ConnPolicy

	out     *OutputPort[T]
	in      *InputPort[T]
	partner *connection[T]

	head ChannelElement[T]
	tail ChannelElement[T]

	closers   []func() error
	transport string
	logger    *zap.Logger

	disconnected atomic.Bool
}

func newConnection[T any](policy ConnPolicy) *connection[T] {
	return &connection[T]{id: uuid.New(), policy: policy}
}

// writtenBy reports whether c was established by out, directly or through its
// stream partner.
func (c *connection[T]) writtenBy(out *OutputPort[T]) bool {
	return c.out == out || (c.partner != nil && c.partner.out == out)
}

// disconnect removes c from its ports, releases its transport endpoints and
// disconnects its partner. Only the first call has an effect.
func (c *connection[T]) disconnect() {
	if !c.disconnected.CompareAndSwap(false, true) {
		return
	}
	if c.out != nil {
		c.out.conns.remove(c)
	}
	if c.in != nil {
		c.in.conns.remove(c)
	}
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			c.logger.Warn("Failed to close stream endpoint",
				zap.String("connection", c.id.String()),
				zap.String("name_id", c.policy.NameID),
				zap.Error(err))
		}
	}
	if c.transport != "" {
		metrics.Default().StreamClosed(c.transport)
	}
	if c.partner != nil {
		c.partner.disconnect()
	}
}

// connList is a copy-on-write list of connections. Readers load it without
// locking; writers serialise on mu.
type connList[T any] struct {
	mu    sync.Mutex
	conns atomic.Pointer[[]*connection[T]]
}

func (l *connList[T]) load() []*connection[T] {
	if p := l.conns.Load(); p != nil {
		return *p
	}
	return nil
}

// addIf appends c when check, run under the list lock, returns nil.
func (l *connList[T]) addIf(c *connection[T], check func([]*connection[T]) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.load()
	if check != nil {
		if err := check(cur); err != nil {
			return err
		}
	}
	next := append(slices.Clone(cur), c)
	l.conns.Store(&next)
	return nil
}

func (l *connList[T]) remove(c *connection[T]) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.load()
	i := slices.Index(cur, c)
	if i < 0 {
		return false
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	l.conns.Store(&next)
	return true
}

func (l *connList[T]) takeAll() []*connection[T] {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.load()
	l.conns.Store(nil)
	return cur
}

// lookupProtocol returns the protocol of a validated stream policy.
func lookupProtocol(policy ConnPolicy) (transport.Protocol, error) {
	p, ok := transport.Lookup(policy.Transport)
	if !ok {
		return nil, fmt.Errorf("%w: %d", sdkerrors.ErrUnknownTransport, policy.Transport)
	}
	return p, nil
}
