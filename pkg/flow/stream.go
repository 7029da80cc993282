package flow

import (
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/transport"
	"go.uber.org/zap"
)

// streamWriter encodes samples onto a transport stream. It is the only
// element after the output endpoint of a writer half.
type streamWriter[T any] struct {
	element[T]
	w      transport.Writer
	codec  Codec[T]
	name   string
	logger *zap.Logger
}

func (e *streamWriter[T]) Write(sample T) bool {
	msg, err := e.codec.Encode(sample)
	if err != nil {
		e.logger.Warn("Failed to encode sample", zap.String("stream", e.name), zap.Error(err))
		return false
	}
	ok, err := e.w.Write(msg)
	if err != nil {
		e.logger.Warn("Failed to write to stream", zap.String("stream", e.name), zap.Error(err))
		return false
	}
	return ok
}

// streamReader decodes samples from a transport stream. It is the only
// element before the input endpoint of a reader half. Data streams keep the
// last sample so a re-read reports OldData like an in-process connection.
type streamReader[T any] struct {
	element[T]
	r      transport.Reader
	codec  Codec[T]
	kind   transport.Kind
	name   string
	logger *zap.Logger

	mu   sync.Mutex
	last T
	has  bool
}

func (e *streamReader[T]) Read(sample *T, copyOldData bool) FlowStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg, ok, err := e.r.Read()
	if err != nil {
		e.logger.Warn("Failed to read from stream", zap.String("stream", e.name), zap.Error(err))
	}
	if ok {
		v, err := e.codec.Decode(msg)
		if err == nil {
			*sample = v
			if e.kind == transport.KindData {
				e.last = v
				e.has = true
			}
			return NewData
		}
		e.logger.Warn("Dropping undecodable sample", zap.String("stream", e.name), zap.Error(err))
	}

	if e.has {
		if copyOldData {
			*sample = e.last
		}
		return OldData
	}
	return NoData
}

func (e *streamReader[T]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	var zero T
	e.last = zero
	e.has = false
	for {
		if _, ok, err := e.r.Read(); !ok || err != nil {
			return
		}
	}
}
