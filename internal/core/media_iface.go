package core

import (
	"context"
	"encoding/json"
)

// TransportKind distinguishes the two media transports a connection owns.
type TransportKind int

const (
	TransportProducer TransportKind = iota
	TransportConsumer
)

// MediaRouter is the media-routing engine boundary. It owns codec
// negotiation and the actual stream plumbing; the app layer only asks it
// questions and holds the handles it returns.
type MediaRouter interface {
	// CanConsume reports whether a connection with the given receive
	// capabilities is able to consume the producer's stream.
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool
}

// MediaTransport carries streams in one direction for one connection.
type MediaTransport interface {
	// Produce creates an audio producer from client-negotiated RTP
	// parameters.
	Produce(ctx context.Context, rtpParameters json.RawMessage) (Producer, error)
	// ProduceData creates a data producer from client SCTP stream
	// parameters.
	ProduceData(ctx context.Context, sctpStreamParameters json.RawMessage) (DataProducer, error)
	// Consume creates a consumer of the given producer's audio. Created
	// paused when paused is true; the client resumes it explicitly.
	Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage, paused bool) (Consumer, error)
	// ConsumeData creates a data consumer of the given data producer.
	ConsumeData(ctx context.Context, dataProducerID string) (DataConsumer, error)
	Close()
}

type Producer interface {
	ID() string
	Close()
}

type DataProducer interface {
	ID() string
	SctpStreamParameters() json.RawMessage
	Close()
}

type Consumer interface {
	ID() string
	ProducerID() string
	RtpParameters() json.RawMessage
	Pause()
	Resume()
	Close()
}

type DataConsumer interface {
	ID() string
	DataProducerID() string
	SctpStreamParameters() json.RawMessage
	Close()
}
