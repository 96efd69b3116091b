package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/spacehost/spacehost/internal/core"
	"github.com/spacehost/spacehost/internal/domain"
	"github.com/spacehost/spacehost/internal/protocol"
)

func (ctl *Controller) dispatch(sess *session, data []byte) {
	var env protocol.Inbound
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(sess, "bad_payload")
		return
	}

	ctx := context.Background()

	switch env.Subject {
	case protocol.InSetRtpCapabilities:
		ctl.handleSetRtpCapabilities(sess, env.Data)
	case protocol.InSetReadyToConsume:
		ctl.handleSetReadyToConsume(ctx, sess, env.Data)
	case protocol.InJoinSpace:
		ctl.handleJoinSpace(ctx, sess, env.Data)
	case protocol.InLeaveSpace:
		ctl.Players.LeaveSpace(sess.sid, true)
	case protocol.InSetName:
		ctl.handleSetName(sess, env.Data)
	case protocol.InSetAvatar:
		ctl.handleSetAvatar(sess, env.Data)
	case protocol.InSetHandle:
		ctl.handleSetHandle(sess, env.Data)
	case protocol.InSendMessage:
		ctl.handleSendMessage(sess, env.Data)
	case protocol.InSetFallingState:
		ctl.handleSetFallingState(sess, env.Data)
	case protocol.InCreateProducerTransport:
		ctl.handleCreateTransport(sess, env.Data, core.TransportProducer)
	case protocol.InCreateConsumerTransport:
		ctl.handleCreateTransport(sess, env.Data, core.TransportConsumer)
	case protocol.InConnectTransport:
		ctl.handleConnectTransport(sess, env.Data)
	case protocol.InTransportAnswer:
		ctl.handleTransportAnswer(sess, env.Data)
	case protocol.InProduce:
		ctl.handleProduce(ctx, sess, env.Data)
	case protocol.InProduceData:
		ctl.handleProduceData(ctx, sess, env.Data)
	case protocol.InSetAudioPaused:
		ctl.handleSetAudioPaused(sess, env.Data)
	default:
		log.Warn().Str("module", "signal").Str("subject", env.Subject).Msg("unknown subject")
	}
}

func (ctl *Controller) handleSetRtpCapabilities(sess *session, data json.RawMessage) {
	var p protocol.SetRtpCapabilitiesData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}
	ctl.Players.SetRtpCapabilities(sess.sid, p.Capabilities)
}

func (ctl *Controller) handleSetReadyToConsume(ctx context.Context, sess *session, data json.RawMessage) {
	var p protocol.SetReadyToConsumeData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}
	ctl.Players.SetReadyToConsume(ctx, sess.sid, p.Ready)
}

func (ctl *Controller) handleJoinSpace(ctx context.Context, sess *session, data json.RawMessage) {
	var p protocol.JoinSpaceData
	if err := json.Unmarshal(data, &p); err != nil || p.SpaceID == "" {
		ctl.sendError(sess, "bad_payload")
		return
	}
	ctl.Players.JoinSpace(ctx, sess.sid, domain.SpaceID(p.SpaceID))
}

func (ctl *Controller) handleSetName(sess *session, data json.RawMessage) {
	var p protocol.SetNameData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}
	name := ""
	if p.Name != nil {
		name = *p.Name
	}
	if err := ctl.Players.PublishName(sess.sid, name); err != nil {
		ctl.sendError(sess, err.Error())
	}
}

func (ctl *Controller) handleSetAvatar(sess *session, data json.RawMessage) {
	var p protocol.SetAvatarData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}
	avatar := ""
	if p.Avatar != nil {
		avatar = *p.Avatar
	}
	ctl.Players.PublishAvatar(sess.sid, avatar)
}

func (ctl *Controller) handleSetHandle(sess *session, data json.RawMessage) {
	var p protocol.SetHandleData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}
	handle := ""
	if p.Handle != nil {
		handle = *p.Handle
	}
	if err := ctl.Players.PublishHandle(sess.sid, handle); err != nil {
		ctl.sendError(sess, err.Error())
	}
}

func (ctl *Controller) handleSendMessage(sess *session, data json.RawMessage) {
	var p protocol.SendMessageData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}
	if len(p.Text) == 0 {
		ctl.sendError(sess, "bad_payload")
		return
	}
	if !ctl.Limiter.Allow(sess.playerID) {
		ctl.sendError(sess, "rate limited")
		return
	}
	if err := ctl.Players.PublishMessage(sess.sid, p.Text); err != nil {
		ctl.sendError(sess, err.Error())
	}
}

func (ctl *Controller) handleSetFallingState(sess *session, data json.RawMessage) {
	var p protocol.SetFallingStateData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}
	ctl.Players.PublishFallingState(sess.sid, p.IsFalling)
}

// handleCreateTransport builds a media transport for the connection and
// answers the client's SDP offer.
func (ctl *Controller) handleCreateTransport(sess *session, data json.RawMessage, kind core.TransportKind) {
	var p protocol.CreateTransportData
	if err := json.Unmarshal(data, &p); err != nil || p.SDP == "" {
		ctl.sendError(sess, "bad_payload")
		return
	}

	tr, err := ctl.Media.NewTransport(kind)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("new transport")
		ctl.sendError(sess, "transport failed")
		return
	}

	iceType := "producer"
	if kind == core.TransportConsumer {
		iceType = "consumer"
	}
	tr.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		out := protocol.IceCandidateData{Type: iceType, Candidate: ci.Candidate}
		if ci.SDPMid != nil {
			out.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			out.SDPMLineIndex = *ci.SDPMLineIndex
		}
		ctl.sendJSON(sess, protocol.OutIceCandidate, out)
	})
	// Consumer transports renegotiate when tracks are added later.
	tr.OnNegotiationOffer(func(sdp string) {
		subject := protocol.OutProducerTransportCreated
		if kind == core.TransportConsumer {
			subject = protocol.OutConsumerTransportCreated
		}
		ctl.sendJSON(sess, subject, protocol.TransportCreatedData{SDP: sdp})
	})

	answer, err := tr.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("apply offer")
		tr.Close()
		ctl.sendError(sess, "transport failed")
		return
	}

	if kind == core.TransportProducer {
		if sess.producerTr != nil {
			sess.producerTr.Close()
		}
		sess.producerTr = tr
	} else {
		if sess.consumerTr != nil {
			sess.consumerTr.Close()
		}
		sess.consumerTr = tr
	}
	ctl.Players.SetTransport(sess.sid, kind, tr)

	subject := protocol.OutProducerTransportCreated
	if kind == core.TransportConsumer {
		subject = protocol.OutConsumerTransportCreated
	}
	ctl.sendJSON(sess, subject, protocol.TransportCreatedData{SDP: answer.SDP})
}

func (ctl *Controller) handleConnectTransport(sess *session, data json.RawMessage) {
	var p protocol.ConnectTransportData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}

	tr := sess.producerTr
	if p.Type == "consumer" {
		tr = sess.consumerTr
	}
	if tr == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sess.sid)).Str("type", p.Type).Msg("candidate for missing transport")
		return
	}

	ci := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if err := tr.AddICECandidate(ci); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("add ice candidate")
	}
}

// handleTransportAnswer completes a renegotiation the server started
// when it added a track or data channel to a consumer transport.
func (ctl *Controller) handleTransportAnswer(sess *session, data json.RawMessage) {
	var p protocol.TransportAnswerData
	if err := json.Unmarshal(data, &p); err != nil || p.SDP == "" {
		ctl.sendError(sess, "bad_payload")
		return
	}

	tr := sess.producerTr
	if p.Type == "consumer" {
		tr = sess.consumerTr
	}
	if tr == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sess.sid)).Str("type", p.Type).Msg("answer for missing transport")
		return
	}
	if err := tr.ApplyAnswer(p.SDP); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("apply answer")
		ctl.sendError(sess, "transport failed")
	}
}

func (ctl *Controller) handleProduce(ctx context.Context, sess *session, data json.RawMessage) {
	var p protocol.ProduceData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}
	id, err := ctl.Players.Produce(ctx, sess.sid, p.RtpParameters)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("produce failed")
		ctl.sendError(sess, err.Error())
		return
	}
	ctl.sendJSON(sess, protocol.OutProduced, protocol.ProducedData{ID: id})
}

func (ctl *Controller) handleProduceData(ctx context.Context, sess *session, data json.RawMessage) {
	var p protocol.ProduceDataData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}
	id, err := ctl.Players.ProduceData(ctx, sess.sid, p.SctpStreamParameters)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("produce data failed")
		ctl.sendError(sess, err.Error())
		return
	}
	ctl.sendJSON(sess, protocol.OutDataProduced, protocol.ProducedData{ID: id})
}

func (ctl *Controller) handleSetAudioPaused(sess *session, data json.RawMessage) {
	var p protocol.SetAudioPausedData
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess, "bad_payload")
		return
	}
	ctl.Players.SetAudioPaused(sess.sid, p.Paused)
}

func (ctl *Controller) sendError(sess *session, msg string) {
	ctl.sendJSON(sess, protocol.OutError, protocol.ErrorData{Message: msg})
}

func (ctl *Controller) sendJSON(sess *session, subject string, data any) {
	b, err := json.Marshal(protocol.Outbound{Subject: subject, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("subject", subject).Msg("marshal envelope")
		return
	}
	_ = sess.conn.TrySend(b)
}
