package natsjs

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// mockJS is an in-memory JetStream holding work-queue streams. It applies
// MaxMsgs with the stream's discard policy and removes a message when it is
// acknowledged through ack. Deliveries carry a JetStream ack subject, and
// redeliver replays every unacknowledged message as the server does after
// AckWait.
type mockJS struct {
	mu          sync.Mutex
	streams     map[string]*mockStream
	publishErr  error
	publishes   int
	addStreams  int
	unsubscribe int
	acks        int
}

type mockStream struct {
	cfg  nats.StreamConfig
	seq  uint64
	msgs []*mockEntry
	sub  *mockSubscription
}

type mockEntry struct {
	seq       uint64
	data      []byte
	delivered int
}

// delivery builds the message a push consumer receives for e.
func (s *mockStream) delivery(e *mockEntry) *nats.Msg {
	e.delivered++
	return &nats.Msg{
		Subject: s.cfg.Subjects[0],
		Data:    e.data,
		Reply: fmt.Sprintf("$JS.ACK.%s.%s_READER.%d.%d.%d.0.%d",
			s.cfg.Name, s.cfg.Name, e.delivered, e.seq, e.seq, len(s.msgs)),
		Sub: &nats.Subscription{},
	}
}

type mockSubscription struct {
	owner  *mockJS
	stream *mockStream
	cb     nats.MsgHandler
	valid  bool
}

func newMockJS() *mockJS {
	return &mockJS{streams: make(map[string]*mockStream)}
}

func (m *mockJS) streamFor(subj string) *mockStream {
	for _, s := range m.streams {
		for _, sub := range s.cfg.Subjects {
			if sub == subj {
				return s
			}
		}
	}
	return nil
}

func (m *mockJS) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	m.mu.Lock()
	m.publishes++
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return nil, err
	}
	s := m.streamFor(subj)
	if s == nil {
		m.mu.Unlock()
		return nil, nats.ErrNoStreamResponse
	}
	if s.cfg.MaxMsgs > 0 && int64(len(s.msgs)) >= s.cfg.MaxMsgs {
		if s.cfg.Discard == nats.DiscardNew {
			m.mu.Unlock()
			return nil, &nats.APIError{Code: 503, ErrorCode: errCodeStoreFailed, Description: "maximum messages exceeded"}
		}
		s.msgs = s.msgs[1:]
	}
	s.seq++
	e := &mockEntry{seq: s.seq, data: append([]byte(nil), data...)}
	s.msgs = append(s.msgs, e)
	seq := s.seq

	var cb nats.MsgHandler
	var msg *nats.Msg
	if s.sub != nil && s.sub.valid {
		cb = s.sub.cb
		msg = s.delivery(e)
	}
	m.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
	return &nats.PubAck{Stream: s.cfg.Name, Sequence: seq}, nil
}

func (m *mockJS) Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (JSSubscription, error) {
	m.mu.Lock()
	s := m.streamFor(subj)
	if s == nil {
		m.mu.Unlock()
		return nil, nats.ErrStreamNotFound
	}
	if s.sub != nil && s.sub.valid {
		m.mu.Unlock()
		return nil, errors.New("multiple non-filtered consumers not allowed on workqueue stream")
	}
	sub := &mockSubscription{owner: m, stream: s, cb: cb, valid: true}
	s.sub = sub
	backlog := make([]*nats.Msg, 0, len(s.msgs))
	for _, e := range s.msgs {
		backlog = append(backlog, s.delivery(e))
	}
	m.mu.Unlock()

	for _, msg := range backlog {
		cb(msg)
	}
	return sub, nil
}

func (m *mockJS) StreamInfo(stream string) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{
		Config: s.cfg,
		State:  nats.StreamState{Msgs: uint64(len(s.msgs))},
	}, nil
}

func (m *mockJS) AddStream(cfg *nats.StreamConfig) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[cfg.Name]; ok {
		return nil, nats.ErrStreamNameAlreadyInUse
	}
	if strings.ContainsAny(cfg.Name, ". */>") {
		return nil, nats.ErrInvalidStreamName
	}
	m.addStreams++
	m.streams[cfg.Name] = &mockStream{cfg: *cfg}
	return &nats.StreamInfo{Config: *cfg}, nil
}

// ack removes the acknowledged sequence from its stream, as a work-queue
// stream does.
func (m *mockJS) ack(msg *nats.Msg) error {
	meta, err := msg.Metadata()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[meta.Stream]
	if !ok {
		return nats.ErrStreamNotFound
	}
	m.acks++
	for i, e := range s.msgs {
		if e.seq == meta.Sequence.Stream {
			s.msgs = append(s.msgs[:i:i], s.msgs[i+1:]...)
			return nil
		}
	}
	// Already discarded by the stream limits or acked.
	return nil
}

// redeliver hands every unacknowledged message of stream to its subscriber
// again.
func (m *mockJS) redeliver(stream string) {
	m.mu.Lock()
	s, ok := m.streams[stream]
	if !ok || s.sub == nil || !s.sub.valid {
		m.mu.Unlock()
		return
	}
	cb := s.sub.cb
	msgs := make([]*nats.Msg, 0, len(s.msgs))
	for _, e := range s.msgs {
		msgs = append(msgs, s.delivery(e))
	}
	m.mu.Unlock()

	for _, msg := range msgs {
		cb(msg)
	}
}

func (m *mockJS) stored(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[stream]; ok {
		return len(s.msgs)
	}
	return -1
}

func (s *mockSubscription) Unsubscribe() error {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	if !s.valid {
		return nats.ErrBadSubscription
	}
	s.valid = false
	s.owner.unsubscribe++
	return nil
}

func (s *mockSubscription) IsValid() bool {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	return s.valid
}
