package flow

import (
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/metrics"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/transport"
	"go.uber.org/zap"
)

// newStorage returns the storage element for (Type, LockPolicy, Pull). In
// pull mode the storage never signals; the input endpoint raises the event
// when a read obtains new data.
func newStorage[T any](policy ConnPolicy) ChannelElement[T] {
	signal := !policy.Pull

	switch policy.Type {
	case Buffer:
		if policy.LockPolicy == Locked {
			return &bufferElement[T]{store: NewLockedBuffer[T](policy.Size), signal: signal}
		}
		return &bufferElement[T]{store: NewLockFreeBuffer[T](policy.Size), signal: signal}
	default:
		if policy.LockPolicy == Locked {
			return &dataElement[T]{store: NewLockedData[T](), signal: signal}
		}
		return &dataElement[T]{store: NewLockFreeData[T](), signal: signal}
	}
}

// newLocalConnection builds output endpoint -> storage -> input endpoint.
func newLocalConnection[T any](out *OutputPort[T], in *InputPort[T], policy ConnPolicy) *connection[T] {
	c := newConnection[T](policy)
	c.out, c.in = out, in
	c.logger = out.logger

	head := &outputEndpoint[T]{}
	storage := newStorage[T](policy)
	tail := &inputEndpoint[T]{port: in, pull: policy.Pull}
	link[T](head, storage)
	link[T](storage, tail)

	c.head, c.tail = head, tail
	return c
}

// newWriterHalf opens the writing endpoint of the stream named by policy
// and builds output endpoint -> stream writer.
func newWriterHalf[T any](out *OutputPort[T], policy ConnPolicy) (*connection[T], error) {
	proto, err := lookupProtocol(policy)
	if err != nil {
		return nil, err
	}
	spec := policy.streamSpec()
	name := transport.StreamName(spec)

	w, err := proto.OpenWriter(spec)
	if err != nil {
		return nil, sdkerrors.NewTransportError(fmt.Sprintf("failed to open %s writer for %s", proto.Name(), name), err)
	}

	c := newConnection[T](policy)
	c.out = out
	c.logger = out.logger
	c.closers = append(c.closers, w.Close)
	c.transport = proto.Name()
	metrics.Default().StreamOpened(proto.Name())

	head := &outputEndpoint[T]{}
	sw := &streamWriter[T]{w: w, codec: out.Codec(), name: name, logger: out.logger}
	link[T](head, sw)
	c.head = head

	out.logger.Debug("Stream writer opened",
		zap.String("port", out.name),
		zap.String("stream", name),
		zap.String("transport", proto.Name()))
	return c, nil
}

// newReaderHalf opens the reading endpoint of the stream named by policy
// and builds stream reader -> input endpoint. The transport signals the
// endpoint on each arrival in both modes; with Pull the bytes are only
// fetched when the port reads.
func newReaderHalf[T any](in *InputPort[T], policy ConnPolicy) (*connection[T], error) {
	proto, err := lookupProtocol(policy)
	if err != nil {
		return nil, err
	}
	spec := policy.streamSpec()
	name := transport.StreamName(spec)

	tail := &inputEndpoint[T]{port: in}
	r, err := proto.OpenReader(spec, tail.Signal)
	if err != nil {
		return nil, sdkerrors.NewTransportError(fmt.Sprintf("failed to open %s reader for %s", proto.Name(), name), err)
	}

	c := newConnection[T](policy)
	c.in = in
	c.logger = in.logger
	c.closers = append(c.closers, r.Close)
	c.transport = proto.Name()
	metrics.Default().StreamOpened(proto.Name())

	sr := &streamReader[T]{r: r, codec: in.Codec(), kind: spec.Kind, name: name, logger: in.logger}
	link[T](sr, tail)
	c.tail = tail

	in.logger.Debug("Stream reader opened",
		zap.String("port", in.name),
		zap.String("stream", name),
		zap.String("transport", proto.Name()))
	return c, nil
}
