package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type trackState int32

const (
	trackStateOk trackState = iota
	trackStatePaused
	trackStateDelete
)

// OutTrack is a single outgoing audio sink for one consumer.
type OutTrack struct {
	Track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func NewOutTrack(track *webrtc.TrackLocalStaticRTP, paused bool) *OutTrack {
	ot := &OutTrack{Track: track}
	if paused {
		ot.state.Store(int32(trackStatePaused))
	}
	return ot
}

func (ot *OutTrack) getState() trackState { return trackState(ot.state.Load()) }

func (ot *OutTrack) MarkOk()     { ot.state.Store(int32(trackStateOk)) }
func (ot *OutTrack) MarkPaused() { ot.state.Store(int32(trackStatePaused)) }
func (ot *OutTrack) MarkDelete() { ot.state.Store(int32(trackStateDelete)) }

// Relay forwards RTP from one producer's remote track to every
// consumer's OutTrack. The source may attach after consumers exist; the
// loop starts when it does.
type Relay struct {
	mu      sync.RWMutex
	outs    map[string]*OutTrack
	src     *webrtc.TrackRemote
	cancel  context.CancelFunc
	started bool
}

func NewRelay() *Relay {
	return &Relay{outs: make(map[string]*OutTrack)}
}

// Start binds the source track and spawns the forwarding loop. Restarting
// with a new source replaces the previous loop.
func (r *Relay) Start(ctx context.Context, src *webrtc.TrackRemote, logger *zerolog.Logger) {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.src = src
	r.cancel = cancel
	r.started = true
	r.mu.Unlock()

	go r.loop(loopCtx, src, logger)
}

func (r *Relay) loop(ctx context.Context, src *webrtc.TrackRemote, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP error, stopping")
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*OutTrack, len(r.outs))
	for id, ot := range r.outs {
		snapshot[id] = ot
	}
	r.mu.RUnlock()

	dirty := make([]string, 0)
	for id, ot := range snapshot {
		switch ot.getState() {
		case trackStateDelete:
			dirty = append(dirty, id)
		case trackStatePaused:
		case trackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				logger.Debug().Err(err).Str("consumer_id", id).Msg("relay write RTP error, dropping out track")
				ot.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}

	if len(dirty) > 0 {
		r.mu.Lock()
		for _, id := range dirty {
			delete(r.outs, id)
		}
		r.mu.Unlock()
	}
}

func (r *Relay) AddOut(id string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs[id] = ot
}

func (r *Relay) RemoveOut(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outs[id]; ok {
		ot.MarkDelete()
		delete(r.outs, id)
	}
}

// Stop ends the forwarding loop and detaches every consumer.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	for id, ot := range r.outs {
		ot.MarkDelete()
		delete(r.outs, id)
	}
}
