// Package rtc implements the media-routing engine on top of pion/webrtc.
// One PeerConnection per transport; producer audio is fanned out by
// per-producer RTP relays, producer data by data-channel relays.
package rtc

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Engine is the process-wide media router. It owns codec configuration
// and the registry of live producers, and hands out transports.
type Engine struct {
	api *webrtc.API
	cfg webrtc.Configuration

	mu            sync.RWMutex
	producers     map[string]*Producer
	dataProducers map[string]*DataProducer
}

func NewEngine(stunURLs []string) (*Engine, error) {
	media := &webrtc.MediaEngine{}
	if err := media.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, err
	}

	cfg := webrtc.Configuration{}
	if len(stunURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunURLs}}
	}

	return &Engine{
		api:           webrtc.NewAPI(webrtc.WithMediaEngine(media)),
		cfg:           cfg,
		producers:     make(map[string]*Producer),
		dataProducers: make(map[string]*DataProducer),
	}, nil
}

// capabilities is the subset of the client's receive descriptor the
// router needs for the compatibility check.
type capabilities struct {
	Codecs []struct {
		MimeType string `json:"mimeType"`
	} `json:"codecs"`
}

// CanConsume reports whether a receiver with the given capabilities can
// consume the producer's stream. False for unknown producers and for
// capability sets without a matching audio codec.
func (e *Engine) CanConsume(producerID string, rtpCapabilities json.RawMessage) bool {
	e.mu.RLock()
	_, ok := e.producers[producerID]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	var caps capabilities
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		log.Debug().Err(err).Str("module", "rtc").Str("producer_id", producerID).Msg("bad rtp capabilities")
		return false
	}
	for _, codec := range caps.Codecs {
		if strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) {
			return true
		}
	}
	return false
}

func (e *Engine) registerProducer(p *Producer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.producers[p.id] = p
}

func (e *Engine) unregisterProducer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.producers, id)
}

func (e *Engine) producer(id string) (*Producer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.producers[id]
	return p, ok
}

func (e *Engine) registerDataProducer(p *DataProducer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dataProducers[p.id] = p
}

func (e *Engine) unregisterDataProducer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.dataProducers, id)
}

func (e *Engine) dataProducer(id string) (*DataProducer, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.dataProducers[id]
	return p, ok
}

// Producer is one connection's outbound audio stream inside the engine.
type Producer struct {
	id     string
	engine *Engine
	relay  *Relay

	// rtpParameters are the client-negotiated parameters, kept opaque.
	rtpParameters json.RawMessage
}

func (p *Producer) ID() string { return p.id }

func (p *Producer) Close() {
	p.relay.Stop()
	p.engine.unregisterProducer(p.id)
}

// DataRelay forwards messages from a producer's data channel to every
// consumer data channel.
type DataRelay struct {
	mu   sync.RWMutex
	outs map[string]*webrtc.DataChannel
}

func NewDataRelay() *DataRelay {
	return &DataRelay{outs: make(map[string]*webrtc.DataChannel)}
}

// Bind attaches the source channel; every received message is fanned out.
func (r *DataRelay) Bind(src *webrtc.DataChannel) {
	src.OnMessage(func(msg webrtc.DataChannelMessage) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		for _, out := range r.outs {
			if out.ReadyState() != webrtc.DataChannelStateOpen {
				continue
			}
			if msg.IsString {
				_ = out.SendText(string(msg.Data))
			} else {
				_ = out.Send(msg.Data)
			}
		}
	})
}

func (r *DataRelay) AddOut(id string, dc *webrtc.DataChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs[id] = dc
}

func (r *DataRelay) RemoveOut(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outs, id)
}

func (r *DataRelay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.outs {
		delete(r.outs, id)
	}
}

// DataProducer is one connection's outbound data stream.
type DataProducer struct {
	id         string
	engine     *Engine
	relay      *DataRelay
	sctpParams json.RawMessage
}

func (p *DataProducer) ID() string { return p.id }

func (p *DataProducer) SctpStreamParameters() json.RawMessage { return p.sctpParams }

func (p *DataProducer) Close() {
	p.relay.Stop()
	p.engine.unregisterDataProducer(p.id)
}
