package natsjs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/config"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("daedalus/natsjs")

// Breaker defaults for stream writers.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 5 * time.Second
)

// Protocol opens JetStream stream endpoints. It implements
// transport.Protocol under id transport.NATS.
type Protocol struct {
	js      JSContext
	storage nats.StorageType
	ackWait time.Duration
	logger  *zap.Logger

	failureThreshold int64
	resetTimeout     time.Duration

	// ack acknowledges a consumed message; replaced in tests.
	ack func(*nats.Msg) error
}

type Option func(*Protocol)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Protocol) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCircuitBreaker sets the consecutive publish failures after which a
// writer fails fast, and how long it does so before probing again.
func WithCircuitBreaker(threshold int64, resetTimeout time.Duration) Option {
	return func(p *Protocol) {
		p.failureThreshold = threshold
		p.resetTimeout = resetTimeout
	}
}

func New(js JSContext, cfg config.NATSConfig, opts ...Option) (*Protocol, error) {
	if js == nil {
		return nil, sdkerrors.NewTransportError("JetStream context cannot be nil", nil)
	}

	p := &Protocol{
		js:               js,
		storage:          nats.MemoryStorage,
		ackWait:          cfg.AckWait,
		logger:           zap.L(),
		failureThreshold: DefaultFailureThreshold,
		resetTimeout:     DefaultResetTimeout,
		ack:              func(m *nats.Msg) error { return m.Ack() },
	}
	switch cfg.Storage {
	case "", "memory":
	case "file":
		p.storage = nats.FileStorage
	default:
		return nil, sdkerrors.NewTransportError(fmt.Sprintf("unknown JetStream storage %q", cfg.Storage), nil)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Register creates a Protocol and makes it available to connection policies
// with Transport set to transport.NATS.
func Register(js JSContext, cfg config.NATSConfig, opts ...Option) (*Protocol, error) {
	p, err := New(js, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := transport.Register(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Protocol) ID() int      { return transport.NATS }
func (p *Protocol) Name() string { return "nats" }

func (p *Protocol) ensure(spec transport.StreamSpec) (err error) {
	cfg := streamConfig(spec, p.storage)

	_, span := tracer.Start(context.Background(), "natsjs.EnsureStream")
	span.SetAttributes(
		attribute.String("stream.name", cfg.Name),
		attribute.String("stream.subject", Subject(spec)),
		attribute.Int64("stream.max_msgs", cfg.MaxMsgs),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if spec.Kind == transport.KindBuffer && spec.Size <= 0 {
		return sdkerrors.ErrInvalidBufferSize
	}
	info, err := ensureStream(p.js, cfg)
	if err != nil {
		return sdkerrors.NewTransportError("failed to ensure JetStream stream", err)
	}
	if info != nil && (info.Config.MaxMsgs != cfg.MaxMsgs || info.Config.Discard != cfg.Discard) {
		p.logger.Warn("Existing stream has different limits",
			zap.String("stream", cfg.Name),
			zap.Int64("max_msgs", info.Config.MaxMsgs),
			zap.Int64("expected_max_msgs", cfg.MaxMsgs))
	}
	return nil
}

type writer struct {
	p       *Protocol
	subject string
	breaker *concurrency.CircuitBreaker
	closed  atomic.Bool
}

func (p *Protocol) OpenWriter(spec transport.StreamSpec) (transport.Writer, error) {
	if err := p.ensure(spec); err != nil {
		return nil, err
	}
	w := &writer{
		p:       p,
		subject: Subject(spec),
		breaker: concurrency.NewCircuitBreaker(p.failureThreshold, p.resetTimeout),
	}
	w.breaker.OnStateChange(func(from, to concurrency.CircuitBreakerState) {
		p.logger.Warn("Stream writer circuit changed state",
			zap.String("subject", w.subject),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	})
	return w, nil
}

func (w *writer) Write(msg []byte) (bool, error) {
	if w.closed.Load() {
		return false, sdkerrors.ErrTransportClosed
	}
	if w.breaker.IsOpen() {
		return false, sdkerrors.ErrCircuitOpen
	}

	_, err := w.p.js.Publish(w.subject, msg)
	if err == nil {
		w.breaker.RecordSuccess()
		return true, nil
	}
	if isStreamFull(err) {
		w.breaker.RecordSuccess()
		return false, nil
	}
	w.breaker.RecordFailure()
	return false, fmt.Errorf("failed to publish to %s: %w", w.subject, err)
}

func (w *writer) Close() error {
	w.closed.Store(true)
	return nil
}

type reader struct {
	p      *Protocol
	kind   transport.Kind
	stream string
	notify func()
	sub    JSSubscription

	mu      sync.Mutex
	pending []delivery
	// seen is the highest stream sequence queued so far.
	seen   uint64
	closed atomic.Bool
}

type delivery struct {
	seq uint64
	msg *nats.Msg
}

// streamSeq returns the stream sequence of a JetStream delivery, or false
// for a message without ack metadata.
func streamSeq(m *nats.Msg) (uint64, bool) {
	meta, err := m.Metadata()
	if err != nil {
		return 0, false
	}
	return meta.Sequence.Stream, true
}

func (p *Protocol) OpenReader(spec transport.StreamSpec, notify func()) (transport.Reader, error) {
	if err := p.ensure(spec); err != nil {
		return nil, err
	}

	r := &reader{p: p, kind: spec.Kind, stream: StreamName(spec), notify: notify}
	opts := []nats.SubOpt{
		nats.BindStream(r.stream),
		nats.Durable(durableName(spec)),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
	}
	if p.ackWait > 0 {
		opts = append(opts, nats.AckWait(p.ackWait))
	}

	sub, err := p.js.Subscribe(Subject(spec), r.onMsg, opts...)
	if err != nil {
		return nil, sdkerrors.NewTransportError("failed to subscribe to "+Subject(spec), err)
	}
	r.sub = sub
	p.logger.Debug("JetStream reader subscribed",
		zap.String("stream", r.stream),
		zap.Bool("pull", spec.Pull))
	return r, nil
}

func (r *reader) onMsg(m *nats.Msg) {
	if r.closed.Load() {
		return
	}
	seq, ok := streamSeq(m)

	r.mu.Lock()
	if ok && seq <= r.seen {
		// Redelivery after AckWait. Keep the newest delivery of a queued
		// message so its ack matches; ack one that was already read again.
		queued := false
		for i := range r.pending {
			if r.pending[i].seq == seq {
				r.pending[i].msg = m
				queued = true
				break
			}
		}
		r.mu.Unlock()
		if !queued {
			if err := r.p.ack(m); err != nil {
				r.p.logger.Debug("Failed to ack redelivered message",
					zap.String("stream", r.stream),
					zap.Uint64("seq", seq),
					zap.Error(err))
			}
		}
		return
	}
	if ok {
		r.seen = seq
	}
	r.pending = append(r.pending, delivery{seq: seq, msg: m})
	r.mu.Unlock()

	if r.notify != nil {
		r.notify()
	}
}

func (r *reader) Read() ([]byte, bool, error) {
	if r.closed.Load() {
		return nil, false, sdkerrors.ErrTransportClosed
	}

	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil, false, nil
	}
	var taken []delivery
	if r.kind == transport.KindBuffer {
		taken = r.pending[:1]
		r.pending = r.pending[1:]
	} else {
		taken = r.pending
		r.pending = nil
	}
	r.mu.Unlock()

	var ackErr error
	for _, d := range taken {
		if err := r.p.ack(d.msg); err != nil && ackErr == nil {
			ackErr = fmt.Errorf("failed to ack message on %s: %w", r.stream, err)
		}
	}
	return taken[len(taken)-1].msg.Data, true, ackErr
}

// Close unsubscribes. Messages received but not read stay in the stream for
// the next reader.
func (r *reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()

	if r.sub == nil || !r.sub.IsValid() {
		return nil
	}
	return r.sub.Unsubscribe()
}
