package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/spacehost/spacehost/internal/core"
)

var ErrTransportClosed = errors.New("transport closed")

// opusRtpParameters describes the single send codec; consumers get it
// verbatim so the client can match the incoming track.
var opusRtpParameters = json.RawMessage(`{"codecs":[{"mimeType":"audio/opus","clockRate":48000,"channels":2,"payloadType":111}]}`)

// Transport is one PeerConnection carrying streams in one direction for
// one connection. Producer transports receive; consumer transports send.
type Transport struct {
	kind   core.TransportKind
	engine *Engine
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	// audioRelay and dataRelay bind media arriving on the connection to
	// the producer handles created over signaling, whichever comes first.
	audioRelay *Relay
	dataRelay  *DataRelay

	mu      sync.Mutex
	onOffer func(sdp string)
	closed  bool
}

// NewTransport creates a transport of the given kind. The caller answers
// the client's offer with ApplyOfferAndCreateAnswer before any media
// flows.
func (e *Engine) NewTransport(kind core.TransportKind) (*Transport, error) {
	pc, err := e.api.NewPeerConnection(e.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := &Transport{
		kind:       kind,
		engine:     e,
		pc:         pc,
		logger:     log.With().Str("module", "rtc").Logger(),
		audioRelay: NewRelay(),
		dataRelay:  NewDataRelay(),
	}

	if kind == core.TransportProducer {
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if track.Kind() != webrtc.RTPCodecTypeAudio {
				t.logger.Warn().Str("kind", track.Kind().String()).Msg("ignoring non-audio track")
				return
			}
			t.audioRelay.Start(context.Background(), track, &t.logger)
		})
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			t.dataRelay.Bind(dc)
		})
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug().Str("state", state.String()).Msg("transport state")
	})

	return t, nil
}

// OnICECandidate registers the trickle-ICE callback. nil candidates from
// the gatherer mark the end of gathering and are dropped.
func (t *Transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// OnNegotiationOffer registers the callback invoked with a local offer
// whenever the server adds a track or data channel after the initial
// exchange. The client answers with ApplyAnswer.
func (t *Transport) OnNegotiationOffer(fn func(sdp string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOffer = fn
}

// ApplyOfferAndCreateAnswer performs the initial exchange: the client
// offers, the server answers.
func (t *Transport) ApplyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}

	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return &answer, nil
}

// ApplyAnswer completes a server-initiated renegotiation.
func (t *Transport) ApplyAnswer(sdp string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (t *Transport) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(ci)
}

// renegotiate offers the current local state to the client. Caller holds
// t.mu.
func (t *Transport) renegotiate() error {
	if t.onOffer == nil {
		return errors.New("no negotiation callback")
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	t.onOffer(offer.SDP)
	return nil
}

// Produce creates the connection's audio producer. The track itself
// arrives over the peer connection and attaches to the producer's relay
// whenever it lands.
func (t *Transport) Produce(ctx context.Context, rtpParameters json.RawMessage) (core.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.kind != core.TransportProducer {
		return nil, errors.New("produce on consumer transport")
	}

	p := &Producer{
		id:            uuid.NewString(),
		engine:        t.engine,
		relay:         t.audioRelay,
		rtpParameters: rtpParameters,
	}
	t.engine.registerProducer(p)
	t.logger.Info().Str("producer_id", p.id).Msg("producer created")
	return p, nil
}

// ProduceData creates the connection's data producer, fed by whatever
// data channel the client opens on this transport.
func (t *Transport) ProduceData(ctx context.Context, sctpStreamParameters json.RawMessage) (core.DataProducer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.kind != core.TransportProducer {
		return nil, errors.New("produce data on consumer transport")
	}

	p := &DataProducer{
		id:         uuid.NewString(),
		engine:     t.engine,
		relay:      t.dataRelay,
		sctpParams: sctpStreamParameters,
	}
	t.engine.registerDataProducer(p)
	t.logger.Info().Str("data_producer_id", p.id).Msg("data producer created")
	return p, nil
}

// Consume adds an outbound track carrying the producer's audio and
// renegotiates so the client picks it up.
func (t *Transport) Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage, paused bool) (core.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.kind != core.TransportConsumer {
		return nil, errors.New("consume on producer transport")
	}

	producer, ok := t.engine.producer(producerID)
	if !ok {
		return nil, fmt.Errorf("unknown producer %q", producerID)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, id, "spacehost")
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("add track: %w", err)
	}

	out := NewOutTrack(track, paused)
	producer.relay.AddOut(id, out)

	if err := t.renegotiate(); err != nil {
		producer.relay.RemoveOut(id)
		_ = t.pc.RemoveTrack(sender)
		return nil, err
	}

	t.logger.Info().Str("consumer_id", id).Str("producer_id", producerID).Msg("consumer created")
	return &Consumer{
		id:         id,
		producerID: producerID,
		transport:  t,
		relay:      producer.relay,
		out:        out,
		sender:     sender,
	}, nil
}

// ConsumeData opens an outbound data channel mirroring the data
// producer's stream. Unordered, no retransmits: stale state updates are
// worthless.
func (t *Transport) ConsumeData(ctx context.Context, dataProducerID string) (core.DataConsumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.kind != core.TransportConsumer {
		return nil, errors.New("consume data on producer transport")
	}

	producer, ok := t.engine.dataProducer(dataProducerID)
	if !ok {
		return nil, fmt.Errorf("unknown data producer %q", dataProducerID)
	}

	id := uuid.NewString()
	ordered := false
	var maxRetransmits uint16
	dc, err := t.pc.CreateDataChannel(id, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		producer.relay.AddOut(id, dc)
	})

	if err := t.renegotiate(); err != nil {
		_ = dc.Close()
		return nil, err
	}

	t.logger.Info().Str("data_consumer_id", id).Str("data_producer_id", dataProducerID).Msg("data consumer created")
	return &DataConsumer{
		id:             id,
		dataProducerID: dataProducerID,
		sctpParams:     producer.sctpParams,
		relay:          producer.relay,
		dc:             dc,
	}, nil
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.audioRelay.Stop()
	t.dataRelay.Stop()
	if err := t.pc.Close(); err != nil {
		t.logger.Debug().Err(err).Msg("close peer connection")
	}
}

// Consumer is one outbound audio track on a consumer transport.
type Consumer struct {
	id         string
	producerID string
	transport  *Transport
	relay      *Relay
	out        *OutTrack
	sender     *webrtc.RTPSender
}

func (c *Consumer) ID() string { return c.id }

func (c *Consumer) ProducerID() string { return c.producerID }

func (c *Consumer) RtpParameters() json.RawMessage { return opusRtpParameters }

func (c *Consumer) Pause()  { c.out.MarkPaused() }
func (c *Consumer) Resume() { c.out.MarkOk() }

func (c *Consumer) Close() {
	c.relay.RemoveOut(c.id)
	if err := c.transport.pc.RemoveTrack(c.sender); err != nil {
		c.transport.logger.Debug().Err(err).Str("consumer_id", c.id).Msg("remove track")
	}
}

// DataConsumer is one outbound data channel on a consumer transport.
type DataConsumer struct {
	id             string
	dataProducerID string
	sctpParams     json.RawMessage
	relay          *DataRelay
	dc             *webrtc.DataChannel
}

func (c *DataConsumer) ID() string { return c.id }

func (c *DataConsumer) DataProducerID() string { return c.dataProducerID }

func (c *DataConsumer) SctpStreamParameters() json.RawMessage { return c.sctpParams }

func (c *DataConsumer) Close() {
	c.relay.RemoveOut(c.id)
	_ = c.dc.Close()
}
