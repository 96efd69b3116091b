package app

import (
	"github.com/spacehost/spacehost/internal/core"
)

type linkEntry struct {
	producerTransport core.MediaTransport
	consumerTransport core.MediaTransport
	producer          core.Producer
	dataProducer      core.DataProducer

	// consumers[peer] is this connection's consumer of peer's stream.
	consumers     map[core.SessionID]core.Consumer
	dataConsumers map[core.SessionID]core.DataConsumer
}

// LinkTable holds every media handle owned per connection: the two
// transports, the producers, and the (owner, peer) consumer maps.
// Accessed only from the orchestrator's execution context.
type LinkTable struct {
	entries map[core.SessionID]*linkEntry
}

func NewLinkTable() *LinkTable {
	return &LinkTable{entries: make(map[core.SessionID]*linkEntry)}
}

func (t *LinkTable) entry(sid core.SessionID) *linkEntry {
	e, ok := t.entries[sid]
	if !ok {
		e = &linkEntry{
			consumers:     make(map[core.SessionID]core.Consumer),
			dataConsumers: make(map[core.SessionID]core.DataConsumer),
		}
		t.entries[sid] = e
	}
	return e
}

func (t *LinkTable) SetTransport(sid core.SessionID, kind core.TransportKind, tr core.MediaTransport) {
	e := t.entry(sid)
	if kind == core.TransportProducer {
		e.producerTransport = tr
	} else {
		e.consumerTransport = tr
	}
}

func (t *LinkTable) Transport(sid core.SessionID, kind core.TransportKind) (core.MediaTransport, bool) {
	e, ok := t.entries[sid]
	if !ok {
		return nil, false
	}
	tr := e.producerTransport
	if kind == core.TransportConsumer {
		tr = e.consumerTransport
	}
	if tr == nil {
		return nil, false
	}
	return tr, true
}

func (t *LinkTable) SetProducer(sid core.SessionID, p core.Producer) {
	t.entry(sid).producer = p
}

func (t *LinkTable) Producer(sid core.SessionID) (core.Producer, bool) {
	e, ok := t.entries[sid]
	if !ok || e.producer == nil {
		return nil, false
	}
	return e.producer, true
}

func (t *LinkTable) SetDataProducer(sid core.SessionID, p core.DataProducer) {
	t.entry(sid).dataProducer = p
}

func (t *LinkTable) DataProducer(sid core.SessionID) (core.DataProducer, bool) {
	e, ok := t.entries[sid]
	if !ok || e.dataProducer == nil {
		return nil, false
	}
	return e.dataProducer, true
}

// Consumer returns owner's consumer of peer's stream, if one exists.
func (t *LinkTable) Consumer(owner, peer core.SessionID) (core.Consumer, bool) {
	e, ok := t.entries[owner]
	if !ok {
		return nil, false
	}
	c, ok := e.consumers[peer]
	return c, ok
}

func (t *LinkTable) PutConsumer(owner, peer core.SessionID, c core.Consumer) {
	t.entry(owner).consumers[peer] = c
}

func (t *LinkTable) DataConsumer(owner, peer core.SessionID) (core.DataConsumer, bool) {
	e, ok := t.entries[owner]
	if !ok {
		return nil, false
	}
	c, ok := e.dataConsumers[peer]
	return c, ok
}

func (t *LinkTable) PutDataConsumer(owner, peer core.SessionID, c core.DataConsumer) {
	t.entry(owner).dataConsumers[peer] = c
}

// SetAudioPaused pauses or resumes every audio consumer the connection
// owns, i.e. all incoming audio it is receiving.
func (t *LinkTable) SetAudioPaused(sid core.SessionID, paused bool) {
	e, ok := t.entries[sid]
	if !ok {
		return
	}
	for _, c := range e.consumers {
		if paused {
			c.Pause()
		} else {
			c.Resume()
		}
	}
}

// RemoveAll tears down every handle owned by the connection and drops its
// entry, plus any consumers other connections hold of its streams.
// Resource release is delegated to the media engine via Close.
func (t *LinkTable) RemoveAll(sid core.SessionID) {
	if e, ok := t.entries[sid]; ok {
		for _, c := range e.consumers {
			c.Close()
		}
		for _, c := range e.dataConsumers {
			c.Close()
		}
		if e.producer != nil {
			e.producer.Close()
		}
		if e.dataProducer != nil {
			e.dataProducer.Close()
		}
		if e.producerTransport != nil {
			e.producerTransport.Close()
		}
		if e.consumerTransport != nil {
			e.consumerTransport.Close()
		}
		delete(t.entries, sid)
	}

	// Peers may still hold consumers of this connection's streams.
	for _, e := range t.entries {
		if c, ok := e.consumers[sid]; ok {
			c.Close()
			delete(e.consumers, sid)
		}
		if c, ok := e.dataConsumers[sid]; ok {
			c.Close()
			delete(e.dataConsumers, sid)
		}
	}
}
