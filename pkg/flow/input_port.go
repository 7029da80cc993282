package flow

import (
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// InputPort reads samples of type T from its connections and streams. With
// several connections a read prefers the connection that delivered last and
// falls back to any other connection holding new data.
type InputPort[T any] struct {
	name    string
	conns   connList[T]
	current atomic.Pointer[connection[T]]
	event   Event
	logger  *zap.Logger

	codecMu sync.RWMutex
	codec   Codec[T]
}

func NewInputPort[T any](name string) *InputPort[T] {
	return &InputPort[T]{
		name:   name,
		logger: defaultLogger(),
		codec:  JSONCodec[T]{},
	}
}

func (p *InputPort[T]) Name() string     { return p.name }
func (p *InputPort[T]) IsInput() bool    { return true }
func (p *InputPort[T]) TypeName() string { return typeName[T]() }
func (p *InputPort[T]) Connected() bool  { return len(p.conns.load()) > 0 }
func (p *InputPort[T]) Connections() int { return len(p.conns.load()) }

// NewDataEvent is raised once per delivered sample with this port as
// argument.
func (p *InputPort[T]) NewDataEvent() *Event { return &p.event }

// SetCodec sets the codec used by streams created afterwards.
func (p *InputPort[T]) SetCodec(c Codec[T]) {
	p.codecMu.Lock()
	p.codec = c
	p.codecMu.Unlock()
}

func (p *InputPort[T]) Codec() Codec[T] {
	p.codecMu.RLock()
	defer p.codecMu.RUnlock()
	return p.codec
}

// Read copies the next sample into sample. A sample already read is copied
// again and reported as OldData.
func (p *InputPort[T]) Read(sample *T) FlowStatus {
	return p.read(sample, true)
}

// ReadNew is Read without copying old data: sample is only written when
// the result is NewData.
func (p *InputPort[T]) ReadNew(sample *T) FlowStatus {
	return p.read(sample, false)
}

func (p *InputPort[T]) read(sample *T, copyOldData bool) FlowStatus {
	conns := p.conns.load()
	if len(conns) == 0 {
		return NoData
	}

	status := NoData
	cur := p.current.Load()
	if cur != nil && slices.Contains(conns, cur) {
		status = cur.tail.Read(sample, copyOldData)
		if status == NewData {
			return NewData
		}
	}

	for _, c := range conns {
		if c == cur {
			continue
		}
		var v T
		if c.tail.Read(&v, false) == NewData {
			*sample = v
			p.current.Store(c)
			return NewData
		}
	}
	return status
}

// Clear drops the samples stored in every connection.
func (p *InputPort[T]) Clear() {
	for _, c := range p.conns.load() {
		c.tail.Clear()
	}
}

// ConnectTo connects out to p with policy.
func (p *InputPort[T]) ConnectTo(out *OutputPort[T], policy ConnPolicy) error {
	return connect(out, p, policy)
}

func (p *InputPort[T]) CreateConnection(other Port, policy ConnPolicy) error {
	out, ok := other.(*OutputPort[T])
	if !ok {
		return incompatible(p, other)
	}
	return connect(out, p, policy)
}

// CreateStream binds p to the reading half of the stream policy.NameID.
func (p *InputPort[T]) CreateStream(policy ConnPolicy) (err error) {
	_, span := startSpan("flow.InputPort.CreateStream", p, policy)
	defer endSpan(span, &err)

	if err := policy.validateStream(); err != nil {
		return err
	}
	check := compatible[T](nil, policy)
	if err := check(p.conns.load()); err != nil {
		return err
	}
	c, err := newReaderHalf(p, policy)
	if err != nil {
		return err
	}
	if err := p.conns.addIf(c, check); err != nil {
		c.disconnect()
		return err
	}
	return nil
}

// Disconnect removes every connection and stream of p. Connected output
// ports drop their side as well.
func (p *InputPort[T]) Disconnect() {
	for _, c := range p.conns.takeAll() {
		c.disconnect()
	}
	p.current.Store(nil)
}

func (p *InputPort[T]) newData() {
	p.event.Fire(p)
}
