// Package protocol defines the JSON envelope vocabulary exchanged with
// clients over the signaling socket.
package protocol

import (
	"encoding/json"

	"github.com/spacehost/spacehost/internal/domain"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// Outbound is the envelope for messages sent to the client, directly or
// through a space topic.
type Outbound struct {
	Subject string `json:"subject"`
	Data    any    `json:"data"`
}

// Inbound subjects.
const (
	InSetRtpCapabilities      = "set_rtp_capabilities"
	InSetReadyToConsume       = "set_ready_to_consume"
	InJoinSpace               = "join_space"
	InLeaveSpace              = "leave_space"
	InSetName                 = "set_name"
	InSetAvatar               = "set_avatar"
	InSetHandle               = "set_handle"
	InSendMessage             = "send_message"
	InSetFallingState         = "set_falling_state"
	InCreateProducerTransport = "create_producer_transport"
	InCreateConsumerTransport = "create_consumer_transport"
	InConnectTransport        = "connect_transport"
	InTransportAnswer         = "transport_answer"
	InProduce                 = "produce"
	InProduceData             = "produce_data"
	InSetAudioPaused          = "set_audio_paused"
)

// Outbound subjects.
const (
	OutPlayerJoined             = "player_joined"
	OutPlayerLeft               = "player_left"
	OutPlayerMessage            = "player_message"
	OutPlayerFallingState       = "player_falling_state"
	OutPlayerName               = "player_name"
	OutPlayerAvatar             = "player_avatar"
	OutPlayerHandle             = "player_handle"
	OutJoinSuccessful           = "join_successful"
	OutCreateConsumer           = "create_consumer"
	OutCreateDataConsumer       = "create_data_consumer"
	OutProducerTransportCreated = "producer_transport_created"
	OutConsumerTransportCreated = "consumer_transport_created"
	OutIceCandidate             = "ice_candidate"
	OutProduced                 = "produced"
	OutDataProduced             = "data_produced"
	OutError                    = "error"
)

// SetRtpCapabilitiesData declares what the client can receive.
type SetRtpCapabilitiesData struct {
	Capabilities json.RawMessage `json:"capabilities"`
}

type SetReadyToConsumeData struct {
	Ready bool `json:"ready"`
}

type JoinSpaceData struct {
	SpaceID string `json:"spaceId" binding:"required"`
}

// SetNameData carries null to clear the name; same for avatar and handle.
type SetNameData struct {
	Name *string `json:"name"`
}

type SetAvatarData struct {
	Avatar *string `json:"avatar"`
}

type SetHandleData struct {
	Handle *string `json:"handle"`
}

type SendMessageData struct {
	Text string `json:"text"`
}

type SetFallingStateData struct {
	IsFalling bool `json:"isFalling"`
}

// CreateTransportData carries the client's SDP offer for a new transport.
type CreateTransportData struct {
	SDP string `json:"sdp"`
}

// ConnectTransportData carries a trickled ICE candidate for one of the
// connection's transports. SDPMid and SDPMLineIndex are pointers so an
// omitted field is distinguishable from mid "" / m-line 0.
type ConnectTransportData struct {
	Type          string  `json:"type"` // "producer" or "consumer"
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// TransportAnswerData carries the client's SDP answer to a
// server-initiated renegotiation offer.
type TransportAnswerData struct {
	Type string `json:"type"` // "producer" or "consumer"
	SDP  string `json:"sdp"`
}

type ProduceData struct {
	RtpParameters json.RawMessage `json:"rtpParameters"`
}

type ProduceDataData struct {
	SctpStreamParameters json.RawMessage `json:"sctpStreamParameters"`
}

type SetAudioPausedData struct {
	Paused bool `json:"paused"`
}

// PlayerJoinedData describes a member of a space. Absent attributes are
// serialized as null.
type PlayerJoinedData struct {
	PlayerID domain.PlayerID `json:"playerId"`
	Name     *string         `json:"name"`
	Avatar   *string         `json:"avatar"`
	Handle   *string         `json:"handle"`
}

type PlayerMessageData struct {
	ID        string          `json:"id"`
	PlayerID  domain.PlayerID `json:"playerId"`
	Message   string          `json:"message"`
	Timestamp int64           `json:"timestamp"`
}

type PlayerFallingStateData struct {
	PlayerID  domain.PlayerID `json:"playerId"`
	IsFalling bool            `json:"isFalling"`
}

type PlayerNameData struct {
	PlayerID domain.PlayerID `json:"playerId"`
	Name     *string         `json:"name"`
}

type PlayerAvatarData struct {
	PlayerID domain.PlayerID `json:"playerId"`
	Avatar   *string         `json:"avatar"`
}

type PlayerHandleData struct {
	PlayerID domain.PlayerID `json:"playerId"`
	Handle   *string         `json:"handle"`
}

type JoinSuccessfulData struct {
	PlayerID domain.PlayerID `json:"playerId"`
}

type CreateConsumerData struct {
	PlayerID      domain.PlayerID `json:"playerId"`
	ID            string          `json:"id"`
	ProducerID    string          `json:"producerId"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
}

type CreateDataConsumerData struct {
	PlayerID             domain.PlayerID `json:"playerId"`
	ID                   string          `json:"id"`
	DataProducerID       string          `json:"dataProducerId"`
	SctpStreamParameters json.RawMessage `json:"sctpStreamParameters"`
}

type TransportCreatedData struct {
	SDP string `json:"sdp"`
}

type IceCandidateData struct {
	Type          string `json:"type"`
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

type ProducedData struct {
	ID string `json:"id"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// OptString maps the registry's empty-means-absent convention to JSON null.
func OptString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
