// Package natsjs carries streams over NATS JetStream, so that the two ends of
// a connection can live on different hosts.
//
// Each stream maps to one work-queue JetStream stream with a single subject.
// Buffer streams hold at most Size messages and reject publishes when full;
// Data streams hold one message and replace it on publish. The reader keeps
// a manual-ack push subscription and acknowledges a message when it consumes
// it, so unread messages keep counting against the capacity. A message
// redelivered after AckWait is recognised by its stream sequence and is
// never queued twice.
package natsjs

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/Daedalus/pkg/transport"
)

// JSContext is the subset of JetStream used by the protocol. Tests provide
// an in-memory implementation.
type JSContext interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (JSSubscription, error)
	StreamInfo(stream string) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error)
}

type JSSubscription interface {
	Unsubscribe() error
	IsValid() bool
}

// WrapNATSJetStream adapts a nats.JetStreamContext to JSContext.
func WrapNATSJetStream(js nats.JetStreamContext) JSContext {
	return &natsJSAdapter{js: js}
}

type natsJSAdapter struct {
	js nats.JetStreamContext
}

func (a *natsJSAdapter) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return a.js.Publish(subj, data, opts...)
}

func (a *natsJSAdapter) Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (JSSubscription, error) {
	sub, err := a.js.Subscribe(subj, cb, opts...)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *natsJSAdapter) StreamInfo(stream string) (*nats.StreamInfo, error) {
	return a.js.StreamInfo(stream)
}

func (a *natsJSAdapter) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	return a.js.AddStream(cfg)
}

var invalidToken = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func sanitize(nameID string) string {
	return invalidToken.ReplaceAllString(nameID, "_")
}

func kindToken(spec transport.StreamSpec) string {
	if spec.Kind == transport.KindBuffer {
		return fmt.Sprintf("buffer%d", spec.Size)
	}
	return "data"
}

// StreamName returns the JetStream stream backing spec, for example
// DAEDALUS_setpoint_BUFFER3.
func StreamName(spec transport.StreamSpec) string {
	return "DAEDALUS_" + sanitize(spec.NameID) + "_" + strings.ToUpper(kindToken(spec))
}

// Subject returns the subject carrying spec, for example
// daedalus.stream.setpoint.buffer3.
func Subject(spec transport.StreamSpec) string {
	return "daedalus.stream." + sanitize(spec.NameID) + "." + kindToken(spec)
}

func durableName(spec transport.StreamSpec) string {
	return StreamName(spec) + "_READER"
}

// streamConfig returns the work-queue configuration of spec.
func streamConfig(spec transport.StreamSpec, storage nats.StorageType) *nats.StreamConfig {
	cfg := &nats.StreamConfig{
		Name:      StreamName(spec),
		Subjects:  []string{Subject(spec)},
		Retention: nats.WorkQueuePolicy,
		Storage:   storage,
		MaxMsgs:   int64(spec.Capacity()),
		Discard:   nats.DiscardOld,
	}
	if spec.Kind == transport.KindBuffer {
		cfg.Discard = nats.DiscardNew
	}
	return cfg
}

// ensureStream creates the stream when it does not exist yet. Both
// endpoints call it; the loser of a creation race sees the stream in use.
func ensureStream(js JSContext, cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	info, err := js.StreamInfo(cfg.Name)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return nil, fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
	}

	info, err = js.AddStream(cfg)
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return js.StreamInfo(cfg.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}
	return info, nil
}

// errCodeStoreFailed is the JetStream error code of a publish rejected by
// the stream limits, as with DiscardNew on a full stream.
const errCodeStoreFailed nats.ErrorCode = 10077

func isStreamFull(err error) bool {
	var apiErr *nats.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode == errCodeStoreFailed ||
		strings.Contains(apiErr.Description, "maximum messages exceeded")
}
