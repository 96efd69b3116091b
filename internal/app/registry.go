package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/spacehost/spacehost/internal/core"
	"github.com/spacehost/spacehost/internal/domain"
)

type regEntry struct {
	Player *domain.Player
	Conn   core.SignalConn
}

// Registry holds the per-connection player records. Mutation happens only
// from the orchestrator's execution context; the read lock also serves
// HTTP stats queries.
type Registry struct {
	mu      sync.RWMutex
	entries map[core.SessionID]*regEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[core.SessionID]*regEntry)}
}

func (r *Registry) Add(sid core.SessionID, player *domain.Player, conn core.SignalConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[sid] = &regEntry{Player: player, Conn: conn}
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Uint8("player_id", uint8(player.ID)).Msg("registered player")
}

func (r *Registry) Get(sid core.SessionID) (*domain.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sid]
	if !ok {
		return nil, false
	}
	return e.Player, true
}

func (r *Registry) Conn(sid core.SessionID) (core.SignalConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sid]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// SetSpace records the player's space membership. Membership is the one
// player field read outside the orchestrator (HTTP stats), so the write
// happens under the registry lock those readers take.
func (r *Registry) SetSpace(sid core.SessionID, space domain.SpaceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sid]; ok {
		e.Player.Space = space
	}
}

func (r *Registry) Remove(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sid)
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed player")
}

// MemberSnap is a point-in-time view of one space member.
type MemberSnap struct {
	SID    core.SessionID
	Player *domain.Player
	Conn   core.SignalConn
}

// MembersOfSpace snapshots every connection currently in the space.
func (r *Registry) MembersOfSpace(space domain.SpaceID) []MemberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberSnap, 0, len(r.entries))
	for sid, e := range r.entries {
		if e.Player.Space == space {
			out = append(out, MemberSnap{SID: sid, Player: e.Player, Conn: e.Conn})
		}
	}
	return out
}

// PlayerCount reports how many connections are in the space.
func (r *Registry) PlayerCount(space domain.SpaceID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, e := range r.entries {
		if e.Player.Space == space {
			count++
		}
	}
	return count
}
