package core

// Frame is a raw wire payload (a marshalled envelope).
type Frame []byte

// SessionID identifies one live connection. It is the key for every
// per-connection table in the app layer.
type SessionID string

// SignalConn abstracts the system messaging transport for one connection.
// Owned by the adapter; the adapter must Close() it.
type SignalConn interface {
	TrySend(Frame) error
	Close()
}

// Broker is the topic-based broadcast primitive. Publish delivers the
// frame to every connection currently subscribed to the topic,
// synchronously with respect to the caller.
type Broker interface {
	Publish(topic string, f Frame)
	Subscribe(topic string, sid SessionID, conn SignalConn)
	Unsubscribe(topic string, sid SessionID)
	// Drop removes the connection from every topic. Called on disconnect,
	// when the socket can no longer unsubscribe itself.
	Drop(sid SessionID)
}
