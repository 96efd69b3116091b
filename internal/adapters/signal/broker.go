package signal

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/spacehost/spacehost/internal/core"
)

// Broker is the in-process topic broadcast primitive. Publish delivers a
// frame to every subscribed connection synchronously; slow connections
// drop frames through their TrySend backpressure.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[core.SessionID]core.SignalConn
}

func NewBroker() *Broker {
	return &Broker{topics: make(map[string]map[core.SessionID]core.SignalConn)}
}

func (b *Broker) Publish(topic string, f core.Frame) {
	if f == nil {
		return
	}
	b.mu.RLock()
	subs := make([]core.SignalConn, 0, len(b.topics[topic]))
	for _, conn := range b.topics[topic] {
		subs = append(subs, conn)
	}
	b.mu.RUnlock()

	dropped := 0
	for _, conn := range subs {
		if err := conn.TrySend(f); err != nil {
			dropped++
		}
	}
	if dropped > 0 {
		log.Debug().Str("module", "signal.broker").Str("topic", topic).Int("dropped", dropped).Msg("publish dropped frames")
	}
}

func (b *Broker) Subscribe(topic string, sid core.SessionID, conn core.SignalConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[core.SessionID]core.SignalConn)
		b.topics[topic] = subs
	}
	subs[sid] = conn
}

func (b *Broker) Unsubscribe(topic string, sid core.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(subs, sid)
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// Drop removes the connection from every topic, mirroring what the
// socket layer can no longer do once the connection is closed.
func (b *Broker) Drop(sid core.SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.topics {
		delete(subs, sid)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Subscribers reports how many connections are on a topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
