package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/spacehost/spacehost/internal/core"
)

// fakeConn records every frame delivered to a connection, whether direct
// or via a topic.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

type envelope struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// received decodes every frame the connection got so far.
func (c *fakeConn) received(t *testing.T) []envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad frame %q: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) countSubject(t *testing.T, subject string) int {
	t.Helper()
	n := 0
	for _, env := range c.received(t) {
		if env.Subject == subject {
			n++
		}
	}
	return n
}

// fakeBroker delivers published frames synchronously to subscribers, the
// contract the real topic broker provides.
type fakeBroker struct {
	topics map[string]map[core.SessionID]core.SignalConn
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{topics: make(map[string]map[core.SessionID]core.SignalConn)}
}

func (b *fakeBroker) Publish(topic string, f core.Frame) {
	if f == nil {
		return
	}
	for _, conn := range b.topics[topic] {
		_ = conn.TrySend(f)
	}
}

func (b *fakeBroker) Subscribe(topic string, sid core.SessionID, conn core.SignalConn) {
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[core.SessionID]core.SignalConn)
		b.topics[topic] = subs
	}
	subs[sid] = conn
}

func (b *fakeBroker) Unsubscribe(topic string, sid core.SessionID) {
	delete(b.topics[topic], sid)
}

func (b *fakeBroker) Drop(sid core.SessionID) {
	for _, subs := range b.topics {
		delete(subs, sid)
	}
}

// fakeRouter approves every consume unless told otherwise.
type fakeRouter struct {
	canConsume func(producerID string, caps json.RawMessage) bool
}

func (r *fakeRouter) CanConsume(producerID string, caps json.RawMessage) bool {
	if r.canConsume == nil {
		return true
	}
	return r.canConsume(producerID, caps)
}

type fakeProducer struct {
	id     string
	closed bool
}

func (p *fakeProducer) ID() string { return p.id }
func (p *fakeProducer) Close()     { p.closed = true }

type fakeDataProducer struct {
	id     string
	closed bool
}

func (p *fakeDataProducer) ID() string { return p.id }
func (p *fakeDataProducer) SctpStreamParameters() json.RawMessage {
	return json.RawMessage(`{"streamId":0}`)
}
func (p *fakeDataProducer) Close() { p.closed = true }

type fakeConsumer struct {
	id         string
	producerID string
	paused     bool
	closed     bool
}

func (c *fakeConsumer) ID() string                    { return c.id }
func (c *fakeConsumer) ProducerID() string            { return c.producerID }
func (c *fakeConsumer) RtpParameters() json.RawMessage { return json.RawMessage(`{}`) }
func (c *fakeConsumer) Pause()                        { c.paused = true }
func (c *fakeConsumer) Resume()                       { c.paused = false }
func (c *fakeConsumer) Close()                        { c.closed = true }

type fakeDataConsumer struct {
	id             string
	dataProducerID string
	closed         bool
}

func (c *fakeDataConsumer) ID() string             { return c.id }
func (c *fakeDataConsumer) DataProducerID() string { return c.dataProducerID }
func (c *fakeDataConsumer) SctpStreamParameters() json.RawMessage {
	return json.RawMessage(`{"streamId":1,"ordered":false}`)
}
func (c *fakeDataConsumer) Close() { c.closed = true }

// fakeTransport counts engine calls so tests can assert idempotency.
type fakeTransport struct {
	produceCalls     int
	produceDataCalls int
	consumeCalls     int
	consumeDataCalls int
	producers        []*fakeProducer
	dataProducers    []*fakeDataProducer
	consumers        []*fakeConsumer
}

func (t *fakeTransport) Produce(_ context.Context, _ json.RawMessage) (core.Producer, error) {
	t.produceCalls++
	p := &fakeProducer{id: fmt.Sprintf("prod-%d", t.produceCalls)}
	t.producers = append(t.producers, p)
	return p, nil
}

func (t *fakeTransport) ProduceData(_ context.Context, _ json.RawMessage) (core.DataProducer, error) {
	t.produceDataCalls++
	p := &fakeDataProducer{id: fmt.Sprintf("dataprod-%d", t.produceDataCalls)}
	t.dataProducers = append(t.dataProducers, p)
	return p, nil
}

func (t *fakeTransport) Consume(_ context.Context, producerID string, _ json.RawMessage, paused bool) (core.Consumer, error) {
	t.consumeCalls++
	c := &fakeConsumer{
		id:         fmt.Sprintf("cons-%d", t.consumeCalls),
		producerID: producerID,
		paused:     paused,
	}
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *fakeTransport) ConsumeData(_ context.Context, dataProducerID string) (core.DataConsumer, error) {
	t.consumeDataCalls++
	return &fakeDataConsumer{
		id:             fmt.Sprintf("datacons-%d", t.consumeDataCalls),
		dataProducerID: dataProducerID,
	}, nil
}

func (t *fakeTransport) Close() {}

// testPlayer bundles one connected fake client.
type testPlayer struct {
	sid  core.SessionID
	conn *fakeConn
}

func mustAddPlayer(t *testing.T, p *Players, sid core.SessionID) *testPlayer {
	t.Helper()
	conn := &fakeConn{}
	if _, err := p.AddPlayer(sid, conn); err != nil {
		t.Fatalf("add player %s: %v", sid, err)
	}
	return &testPlayer{sid: sid, conn: conn}
}
