// Package mqueue carries streams over POSIX message queues, so that the two
// ends of a connection can live in different processes on one host.
//
// Each stream maps to one queue named after transport.StreamName. Buffer
// streams use a queue of Size messages and reject writes when it is full.
// Data streams use a queue of one message: the writer discards the stale
// message and the reader drains to the latest. Readers in push mode are
// registered with an epoll dispatcher running on its own OS thread.
//
// POSIX message queues are only available on Linux; on other platforms every
// open fails with errors.ErrUnsupported.
package mqueue

import (
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/config"
	"github.com/wehubfusion/Daedalus/pkg/transport"
	"go.uber.org/zap"
)

// DefaultMsgSize is the message size used when the configuration leaves it
// unset.
const DefaultMsgSize = 8192

// Protocol opens message-queue stream endpoints. It implements
// transport.Protocol under id transport.MQueue.
type Protocol struct {
	msgSize int
	logger  *zap.Logger

	mu   sync.Mutex
	disp *dispatcher
}

type Option func(*Protocol)

// WithLogger sets the logger used for open/close diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Protocol) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(cfg config.MQueueConfig, opts ...Option) *Protocol {
	p := &Protocol{
		msgSize: cfg.MsgSize,
		logger:  zap.L(),
	}
	if p.msgSize <= 0 {
		p.msgSize = DefaultMsgSize
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register creates a Protocol from cfg and makes it available to connection
// policies with Transport set to transport.MQueue.
func Register(cfg config.MQueueConfig, opts ...Option) (*Protocol, error) {
	p := New(cfg, opts...)
	if err := transport.Register(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Protocol) ID() int      { return transport.MQueue }
func (p *Protocol) Name() string { return "mqueue" }
func (p *Protocol) MsgSize() int { return p.msgSize }

// Close stops the push dispatcher. Endpoints opened earlier stay usable in
// pull mode; a later push reader starts a new dispatcher.
func (p *Protocol) Close() error {
	p.mu.Lock()
	d := p.disp
	p.disp = nil
	p.mu.Unlock()

	if d == nil {
		return nil
	}
	return d.close()
}
