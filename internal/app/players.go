package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/spacehost/spacehost/internal/core"
	"github.com/spacehost/spacehost/internal/domain"
	"github.com/spacehost/spacehost/internal/protocol"
)

// ErrTransportMissing is returned by Produce/ProduceData when the
// connection has not created its producer transport yet.
var ErrTransportMissing = errors.New("producer transport not found")

func spaceTopic(space domain.SpaceID) string {
	return "space/" + string(space)
}

// Players orchestrates connection lifecycle, space membership, presence
// broadcast, and the producer/consumer media graph. All state mutation is
// serialized behind one mutex, the process-wide equivalent of the single
// event-loop execution context the protocol assumes.
type Players struct {
	mu sync.Mutex

	ids    *IDPool
	reg    *Registry
	links  *LinkTable
	queues map[core.SessionID][]core.SessionID

	broker core.Broker
	router core.MediaRouter
}

func NewPlayers(broker core.Broker, router core.MediaRouter) *Players {
	return &Players{
		ids:    NewIDPool(),
		reg:    NewRegistry(),
		links:  NewLinkTable(),
		queues: make(map[core.SessionID][]core.SessionID),
		broker: broker,
		router: router,
	}
}

// Registry exposes read-only membership queries (HTTP stats).
func (p *Players) Registry() *Registry { return p.reg }

// AddPlayer admits a new connection, allocating its player id. The
// connection is not admitted when the pool is exhausted.
func (p *Players) AddPlayer(sid core.SessionID, conn core.SignalConn) (domain.PlayerID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.ids.Allocate()
	if err != nil {
		log.Error().Str("module", "app.players").Str("sid", string(sid)).Msg("no open player ids")
		return 0, err
	}

	p.reg.Add(sid, &domain.Player{ID: id}, conn)
	log.Info().Str("module", "app.players").Uint8("player_id", uint8(id)).Msg("player connected")
	return id, nil
}

// RemovePlayer tears down every trace of the connection. Safe to call on
// a connection with partial state; the leave is a no-op if it never
// joined a space.
func (p *Players) RemovePlayer(sid core.SessionID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	player := p.mustPlayer(sid)
	log.Info().Str("module", "app.players").Uint8("player_id", uint8(player.ID)).Msg("player disconnected")

	p.leaveSpace(sid, false)
	p.broker.Drop(sid)

	p.links.RemoveAll(sid)
	delete(p.queues, sid)
	p.ids.Release(player.ID)
	p.reg.Remove(sid)
}

// JoinSpace subscribes the connection to the space topic, announces it,
// introduces it to every existing member, and wires the media graph.
func (p *Players) JoinSpace(ctx context.Context, sid core.SessionID, space domain.SpaceID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	player := p.mustPlayer(sid)
	if player.InSpace() {
		p.leaveSpace(sid, true)
	}

	log.Info().Str("module", "app.players").Uint8("player_id", uint8(player.ID)).Str("space", string(space)).Msg("player joined space")

	conn, _ := p.reg.Conn(sid)
	topic := spaceTopic(space)

	// Subscribe before publishing so the new member sees its own join
	// event through the topic.
	p.broker.Subscribe(topic, sid, conn)
	p.broker.Publish(topic, frame(protocol.OutPlayerJoined, protocol.PlayerJoinedData{
		PlayerID: player.ID,
		Name:     protocol.OptString(player.Name),
		Avatar:   protocol.OptString(player.Avatar),
		Handle:   protocol.OptString(player.Handle),
	}))

	// Tell the new member about everyone already here, and attempt the
	// media graph in both directions for each pair.
	for _, other := range p.reg.MembersOfSpace(space) {
		p.send(conn, protocol.OutPlayerJoined, protocol.PlayerJoinedData{
			PlayerID: other.Player.ID,
			Name:     protocol.OptString(other.Player.Name),
			Avatar:   protocol.OptString(other.Player.Avatar),
			Handle:   protocol.OptString(other.Player.Handle),
		})

		p.createConsumer(ctx, sid, other.SID)
		p.createDataConsumer(ctx, sid, other.SID)
		p.createConsumer(ctx, other.SID, sid)
		p.createDataConsumer(ctx, other.SID, sid)
	}

	p.reg.SetSpace(sid, space)

	p.send(conn, protocol.OutJoinSuccessful, protocol.JoinSuccessfulData{PlayerID: player.ID})

	// Late joiners may already be producing; fan their streams out.
	p.publishProducer(ctx, sid)
	p.publishDataProducer(ctx, sid)
}

// LeaveSpace removes the connection from its current space. A no-op when
// it is not in one, so it is safe during teardown and safe to call twice.
func (p *Players) LeaveSpace(sid core.SessionID, stillOpen bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leaveSpace(sid, stillOpen)
}

func (p *Players) leaveSpace(sid core.SessionID, stillOpen bool) {
	player := p.mustPlayer(sid)
	if !player.InSpace() {
		return
	}

	space := player.Space
	log.Info().Str("module", "app.players").Uint8("player_id", uint8(player.ID)).Str("space", string(space)).Msg("player left space")

	if stillOpen {
		p.broker.Unsubscribe(spaceTopic(space), sid)
	}
	p.reg.SetSpace(sid, "")

	p.broker.Publish(spaceTopic(space), frame(protocol.OutPlayerLeft, player.ID))
}

// PublishMessage broadcasts a chat message to the player's space.
func (p *Players) PublishMessage(sid core.SessionID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(text) > domain.MaxMessageLen {
		return domain.ErrMessageTooLong
	}
	player := p.mustPlayer(sid)
	if !player.InSpace() {
		return nil
	}

	p.broker.Publish(spaceTopic(player.Space), frame(protocol.OutPlayerMessage, protocol.PlayerMessageData{
		ID:        uuid.NewString(),
		PlayerID:  player.ID,
		Message:   text,
		Timestamp: time.Now().UnixMilli(),
	}))
	return nil
}

// PublishFallingState broadcasts the player's falling flag to its space.
func (p *Players) PublishFallingState(sid core.SessionID, isFalling bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	player := p.mustPlayer(sid)
	player.Falling = isFalling
	if !player.InSpace() {
		return
	}

	p.broker.Publish(spaceTopic(player.Space), frame(protocol.OutPlayerFallingState, protocol.PlayerFallingStateData{
		PlayerID:  player.ID,
		IsFalling: isFalling,
	}))
}

// PublishName stores the new name (empty clears it) and, if the player is
// in a space, broadcasts the change.
func (p *Players) PublishName(sid core.SessionID, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	player := p.mustPlayer(sid)
	if err := player.SetName(name); err != nil {
		return err
	}
	if !player.InSpace() {
		return nil
	}

	p.broker.Publish(spaceTopic(player.Space), frame(protocol.OutPlayerName, protocol.PlayerNameData{
		PlayerID: player.ID,
		Name:     protocol.OptString(name),
	}))
	return nil
}

// PublishAvatar stores the new avatar reference and broadcasts the change.
func (p *Players) PublishAvatar(sid core.SessionID, avatar string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	player := p.mustPlayer(sid)
	player.Avatar = avatar
	if !player.InSpace() {
		return
	}

	p.broker.Publish(spaceTopic(player.Space), frame(protocol.OutPlayerAvatar, protocol.PlayerAvatarData{
		PlayerID: player.ID,
		Avatar:   protocol.OptString(avatar),
	}))
}

// PublishHandle stores the new social handle and broadcasts the change.
func (p *Players) PublishHandle(sid core.SessionID, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	player := p.mustPlayer(sid)
	if err := player.SetHandle(handle); err != nil {
		return err
	}
	if !player.InSpace() {
		return nil
	}

	p.broker.Publish(spaceTopic(player.Space), frame(protocol.OutPlayerHandle, protocol.PlayerHandleData{
		PlayerID: player.ID,
		Handle:   protocol.OptString(handle),
	}))
	return nil
}

// SetRtpCapabilities records the client's receive capabilities.
func (p *Players) SetRtpCapabilities(sid core.SessionID, caps json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mustPlayer(sid).RtpCapabilities = caps
}

// SetReadyToConsume flips the readiness flag. On the false to true
// transition the consume queue is drained once and discarded.
func (p *Players) SetReadyToConsume(ctx context.Context, sid core.SessionID, ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mustPlayer(sid).ReadyToConsume = ready
	if !ready {
		return
	}

	queue, ok := p.queues[sid]
	if !ok {
		return
	}
	for _, peer := range queue {
		p.createConsumer(ctx, sid, peer)
		p.createDataConsumer(ctx, sid, peer)
	}
	delete(p.queues, sid)
}

// SetTransport registers an outbound or inbound media transport. A
// replaced transport is closed so its engine resources are released.
func (p *Players) SetTransport(sid core.SessionID, kind core.TransportKind, tr core.MediaTransport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mustPlayer(sid)
	if old, ok := p.links.Transport(sid, kind); ok && old != tr {
		old.Close()
	}
	p.links.SetTransport(sid, kind, tr)
}

// Produce creates the connection's audio producer and fans it out to the
// space, letting already-joined peers pick up the late stream.
func (p *Players) Produce(ctx context.Context, sid core.SessionID, rtpParameters json.RawMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mustPlayer(sid)
	tr, ok := p.links.Transport(sid, core.TransportProducer)
	if !ok {
		return "", ErrTransportMissing
	}

	producer, err := tr.Produce(ctx, rtpParameters)
	if err != nil {
		return "", fmt.Errorf("produce: %w", err)
	}
	// A repeat produce displaces the previous stream.
	if old, ok := p.links.Producer(sid); ok {
		old.Close()
	}
	p.links.SetProducer(sid, producer)

	p.publishProducer(ctx, sid)
	return producer.ID(), nil
}

// ProduceData creates the connection's data producer and fans it out.
func (p *Players) ProduceData(ctx context.Context, sid core.SessionID, sctpStreamParameters json.RawMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mustPlayer(sid)
	tr, ok := p.links.Transport(sid, core.TransportProducer)
	if !ok {
		return "", ErrTransportMissing
	}

	producer, err := tr.ProduceData(ctx, sctpStreamParameters)
	if err != nil {
		return "", fmt.Errorf("produce data: %w", err)
	}
	if old, ok := p.links.DataProducer(sid); ok {
		old.Close()
	}
	p.links.SetDataProducer(sid, producer)

	p.publishDataProducer(ctx, sid)
	return producer.ID(), nil
}

// SetAudioPaused pauses or resumes all audio the connection is receiving
// (local mute).
func (p *Players) SetAudioPaused(sid core.SessionID, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links.SetAudioPaused(sid, paused)
}

// publishProducer offers this connection's audio producer to every other
// member of its space. No-op when it has no producer or no space.
func (p *Players) publishProducer(ctx context.Context, sid core.SessionID) {
	player := p.mustPlayer(sid)
	if !player.InSpace() {
		return
	}
	for _, other := range p.reg.MembersOfSpace(player.Space) {
		p.createConsumer(ctx, other.SID, sid)
	}
}

func (p *Players) publishDataProducer(ctx context.Context, sid core.SessionID) {
	player := p.mustPlayer(sid)
	if !player.InSpace() {
		return
	}
	for _, other := range p.reg.MembersOfSpace(player.Space) {
		p.createDataConsumer(ctx, other.SID, sid)
	}
}

// createConsumer attempts to make self consume peer's audio stream.
// Deferred to the consume queue while self is not ready; silently skipped
// while the graph is still converging (no producer, no transport, no
// capabilities, codec mismatch); idempotent once a consumer exists.
func (p *Players) createConsumer(ctx context.Context, self, peer core.SessionID) {
	if self == peer {
		return
	}
	selfPlayer, ok := p.reg.Get(self)
	if !ok {
		return
	}

	if !selfPlayer.ReadyToConsume {
		p.enqueue(self, peer)
		return
	}

	producer, ok := p.links.Producer(peer)
	if !ok {
		return
	}
	if _, exists := p.links.Consumer(self, peer); exists {
		return
	}
	tr, ok := p.links.Transport(self, core.TransportConsumer)
	if !ok {
		return
	}
	caps := selfPlayer.RtpCapabilities
	if caps == nil {
		return
	}
	peerPlayer, ok := p.reg.Get(peer)
	if !ok {
		return
	}
	if !p.router.CanConsume(producer.ID(), caps) {
		return
	}

	// Created paused; the client resumes once its UI is ready.
	consumer, err := tr.Consume(ctx, producer.ID(), caps, true)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.players").Uint8("player_id", uint8(selfPlayer.ID)).Msg("consume failed")
		return
	}

	// The connection may have gone away while the engine worked; discard
	// stale results instead of storing them.
	if _, ok := p.reg.Get(self); !ok {
		consumer.Close()
		return
	}
	p.links.PutConsumer(self, peer, consumer)

	conn, _ := p.reg.Conn(self)
	p.send(conn, protocol.OutCreateConsumer, protocol.CreateConsumerData{
		PlayerID:      peerPlayer.ID,
		ID:            consumer.ID(),
		ProducerID:    producer.ID(),
		RtpParameters: consumer.RtpParameters(),
	})
}

// createDataConsumer is the data-channel analogue of createConsumer.
func (p *Players) createDataConsumer(ctx context.Context, self, peer core.SessionID) {
	if self == peer {
		return
	}
	selfPlayer, ok := p.reg.Get(self)
	if !ok {
		return
	}

	if !selfPlayer.ReadyToConsume {
		p.enqueue(self, peer)
		return
	}

	producer, ok := p.links.DataProducer(peer)
	if !ok {
		return
	}
	if _, exists := p.links.DataConsumer(self, peer); exists {
		return
	}
	tr, ok := p.links.Transport(self, core.TransportConsumer)
	if !ok {
		return
	}
	peerPlayer, ok := p.reg.Get(peer)
	if !ok {
		return
	}

	consumer, err := tr.ConsumeData(ctx, producer.ID())
	if err != nil {
		log.Warn().Err(err).Str("module", "app.players").Uint8("player_id", uint8(selfPlayer.ID)).Msg("consume data failed")
		return
	}
	if consumer.SctpStreamParameters() == nil {
		consumer.Close()
		return
	}

	if _, ok := p.reg.Get(self); !ok {
		consumer.Close()
		return
	}
	p.links.PutDataConsumer(self, peer, consumer)

	conn, _ := p.reg.Conn(self)
	p.send(conn, protocol.OutCreateDataConsumer, protocol.CreateDataConsumerData{
		PlayerID:             peerPlayer.ID,
		ID:                   consumer.ID(),
		DataProducerID:       producer.ID(),
		SctpStreamParameters: consumer.SctpStreamParameters(),
	})
}

// enqueue records peer in self's consume queue, deduplicated.
func (p *Players) enqueue(self, peer core.SessionID) {
	for _, queued := range p.queues[self] {
		if queued == peer {
			return
		}
	}
	p.queues[self] = append(p.queues[self], peer)
}

// mustPlayer panics when the session has no registered player. The
// transport layer admits connections before dispatching messages, so a
// miss is a programming error, not a recoverable condition.
func (p *Players) mustPlayer(sid core.SessionID) *domain.Player {
	player, ok := p.reg.Get(sid)
	if !ok {
		panic(fmt.Sprintf("player not found for session %q", sid))
	}
	return player
}

func (p *Players) send(conn core.SignalConn, subject string, data any) {
	if conn == nil {
		return
	}
	f := frame(subject, data)
	if f == nil {
		return
	}
	if err := conn.TrySend(f); err != nil {
		log.Debug().Err(err).Str("module", "app.players").Str("subject", subject).Msg("direct send dropped")
	}
}

func frame(subject string, data any) core.Frame {
	b, err := json.Marshal(protocol.Outbound{Subject: subject, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "app.players").Str("subject", subject).Msg("marshal envelope")
		return nil
	}
	return b
}
