// Package domain contains entity meta-data without logic.
package domain

import (
	"encoding/json"
	"errors"
)

const (
	// MaxPlayerID bounds the identity pool. Id 0 is reserved as the
	// invalid sentinel, so at most 255 players can be connected at once.
	MaxPlayerID = 255

	MaxNameLen    = 36
	MaxHandleLen  = 64
	MaxMessageLen = 1024
)

var (
	ErrNameTooLong    = errors.New("name too long")
	ErrHandleTooLong  = errors.New("handle too long")
	ErrMessageTooLong = errors.New("message too long")
)

// PlayerID is a small integer unique among currently connected players.
// Zero is never allocated.
type PlayerID uint8

// SpaceID names a space. Empty means "not in a space".
type SpaceID string

// Player is the full per-connection record. Empty string and nil fields
// mean "absent"; there is no separate unset state.
type Player struct {
	ID      PlayerID
	Space   SpaceID
	Name    string
	Avatar  string
	Handle  string
	Falling bool

	// RtpCapabilities is the opaque receive-capability descriptor declared
	// by the client, nil until set.
	RtpCapabilities json.RawMessage
	ReadyToConsume  bool
}

// InSpace reports whether the player currently belongs to a space.
func (p *Player) InSpace() bool { return p.Space != "" }

func (p *Player) SetName(name string) error {
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	p.Name = name
	return nil
}

func (p *Player) SetHandle(handle string) error {
	if len(handle) > MaxHandleLen {
		return ErrHandleTooLong
	}
	p.Handle = handle
	return nil
}
