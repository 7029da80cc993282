package flow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/wehubfusion/Daedalus/pkg/metrics"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OutputPort writes samples of type T to every connected input port and
// stream. It keeps the last written sample for Init policies.
type OutputPort[T any] struct {
	name    string
	conns   connList[T]
	last    atomic.Pointer[T]
	logger  *zap.Logger
	metrics *metrics.Collector

	codecMu sync.RWMutex
	codec   Codec[T]
}

func NewOutputPort[T any](name string) *OutputPort[T] {
	return &OutputPort[T]{
		name:    name,
		logger:  defaultLogger(),
		metrics: metrics.Default(),
		codec:   JSONCodec[T]{},
	}
}

func (p *OutputPort[T]) Name() string     { return p.name }
func (p *OutputPort[T]) IsInput() bool    { return false }
func (p *OutputPort[T]) TypeName() string { return typeName[T]() }
func (p *OutputPort[T]) Connected() bool  { return len(p.conns.load()) > 0 }
func (p *OutputPort[T]) Connections() int { return len(p.conns.load()) }

// SetCodec sets the codec used by streams created afterwards.
func (p *OutputPort[T]) SetCodec(c Codec[T]) {
	p.codecMu.Lock()
	p.codec = c
	p.codecMu.Unlock()
}

func (p *OutputPort[T]) Codec() Codec[T] {
	p.codecMu.RLock()
	defer p.codecMu.RUnlock()
	return p.codec
}

// Write delivers sample to every connection. It returns WriteFailure when
// any connection rejected it and NotConnected when there is none. The
// sample is kept as the last written value in every case.
func (p *OutputPort[T]) Write(sample T) WriteStatus {
	p.last.Store(&sample)

	conns := p.conns.load()
	status := WriteSuccess
	if len(conns) == 0 {
		status = NotConnected
	}
	for _, c := range conns {
		if !c.head.Write(sample) {
			status = WriteFailure
		}
	}

	p.metrics.PortWrite(p.name, status.String())
	return status
}

// LastWritten returns the last sample passed to Write.
func (p *OutputPort[T]) LastWritten() (T, bool) {
	if v := p.last.Load(); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

// ConnectTo connects p to in with policy.
func (p *OutputPort[T]) ConnectTo(in *InputPort[T], policy ConnPolicy) error {
	return connect(p, in, policy)
}

func (p *OutputPort[T]) CreateConnection(other Port, policy ConnPolicy) error {
	in, ok := other.(*InputPort[T])
	if !ok {
		return incompatible(p, other)
	}
	return connect(p, in, policy)
}

// CreateStream binds p to the writing half of the stream policy.NameID.
func (p *OutputPort[T]) CreateStream(policy ConnPolicy) (err error) {
	_, span := startSpan("flow.OutputPort.CreateStream", p, policy)
	defer endSpan(span, &err)

	if err := policy.validateStream(); err != nil {
		return err
	}
	c, err := newWriterHalf(p, policy)
	if err != nil {
		return err
	}
	p.conns.addIf(c, nil)
	p.initialize(c)
	return nil
}

// Disconnect removes every connection and stream of p.
func (p *OutputPort[T]) Disconnect() {
	for _, c := range p.conns.takeAll() {
		c.disconnect()
	}
}

// DisconnectFrom removes the connection between p and in. It returns false
// when there is none.
func (p *OutputPort[T]) DisconnectFrom(in *InputPort[T]) bool {
	if in == nil {
		return false
	}
	for _, c := range in.conns.load() {
		if c.writtenBy(p) {
			c.disconnect()
			return true
		}
	}
	return false
}

func (p *OutputPort[T]) initialize(c *connection[T]) {
	if !c.policy.Init {
		return
	}
	if v, ok := p.LastWritten(); ok {
		c.head.Write(v)
	}
}

// connect establishes out -> in. Nothing is built when it fails.
func connect[T any](out *OutputPort[T], in *InputPort[T], policy ConnPolicy) (err error) {
	if out == nil || in == nil {
		return fmt.Errorf("%w: nil port", sdkerrors.ErrIncompatiblePort)
	}
	_, span := startSpan("flow.Connect", out, policy)
	span.SetAttributes(attribute.String("port.input", in.name))
	defer endSpan(span, &err)

	if err := policy.validate(); err != nil {
		return err
	}
	check := compatible(out, policy)

	if policy.Transport == transport.Local {
		c := newLocalConnection(out, in, policy)
		if err := in.conns.addIf(c, check); err != nil {
			return err
		}
		out.conns.addIf(c, nil)
		out.initialize(c)
		out.logger.Debug("Ports connected",
			zap.String("output", out.name),
			zap.String("input", in.name),
			zap.Stringer("policy", policy))
		return nil
	}

	if policy.NameID == "" {
		policy.NameID = uuid.NewString()
	}
	if err := check(in.conns.load()); err != nil {
		return err
	}

	wc, err := newWriterHalf(out, policy)
	if err != nil {
		return err
	}
	rc, err := newReaderHalf(in, policy)
	if err != nil {
		wc.disconnect()
		return err
	}
	wc.partner, rc.partner = rc, wc

	if err := in.conns.addIf(rc, check); err != nil {
		rc.disconnect()
		return err
	}
	out.conns.addIf(wc, nil)
	out.initialize(wc)
	out.logger.Debug("Ports connected through stream",
		zap.String("output", out.name),
		zap.String("input", in.name),
		zap.Stringer("policy", policy))
	return nil
}

// compatible returns the check run against the input port's connections: the
// pair must not be connected yet and all connections share one Type.
func compatible[T any](out *OutputPort[T], policy ConnPolicy) func([]*connection[T]) error {
	return func(existing []*connection[T]) error {
		for _, c := range existing {
			if out != nil && c.writtenBy(out) {
				return fmt.Errorf("%w: %s is already connected", sdkerrors.ErrAlreadyConnected, out.name)
			}
			if c.policy.Type != policy.Type {
				return fmt.Errorf("%w: input holds a %s connection, requested %s",
					sdkerrors.ErrAlreadyConnected, c.policy.Type, policy.Type)
			}
		}
		return nil
	}
}

func incompatible(p, other Port) error {
	if other == nil {
		return fmt.Errorf("%w: nil port", sdkerrors.ErrIncompatiblePort)
	}
	return fmt.Errorf("%w: %s (%s, input=%t) and %s (%s, input=%t)", sdkerrors.ErrIncompatiblePort,
		p.Name(), p.TypeName(), p.IsInput(), other.Name(), other.TypeName(), other.IsInput())
}

func startSpan(name string, p Port, policy ConnPolicy) (context.Context, trace.Span) {
	return tracer.Start(context.Background(), name, trace.WithAttributes(
		attribute.String("port.name", p.Name()),
		attribute.String("policy.type", policy.Type.String()),
		attribute.Int("policy.size", policy.Size),
		attribute.Bool("policy.pull", policy.Pull),
		attribute.Int("policy.transport", policy.Transport),
		attribute.String("policy.name_id", policy.NameID),
	))
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
