package app

import (
	"errors"

	"github.com/spacehost/spacehost/internal/domain"
)

// ErrExhausted is returned when every id in the pool is in use.
var ErrExhausted = errors.New("no open player ids")

// IDPool hands out player ids 1..MaxPlayerID. Id 0 is the invalid
// sentinel and is never allocated. Allocation scans forward from the last
// assigned value and wraps, so a freshly released id is not immediately
// reused. Not safe for concurrent use; the orchestrator serializes access.
type IDPool struct {
	previous domain.PlayerID
	inUse    map[domain.PlayerID]struct{}
}

func NewIDPool() *IDPool {
	return &IDPool{inUse: make(map[domain.PlayerID]struct{})}
}

// Allocate returns a free player id or ErrExhausted after a full wrap.
func (p *IDPool) Allocate() (domain.PlayerID, error) {
	for i := 0; i < domain.MaxPlayerID; i++ {
		p.previous++
		if p.previous == 0 { // uint8 wrap skips the reserved 0
			p.previous = 1
		}
		if _, taken := p.inUse[p.previous]; !taken {
			p.inUse[p.previous] = struct{}{}
			return p.previous, nil
		}
	}
	return 0, ErrExhausted
}

// Release returns an id to the pool. Releasing an id that is not in use
// is a no-op.
func (p *IDPool) Release(id domain.PlayerID) {
	delete(p.inUse, id)
}

// InUse reports how many ids are currently allocated.
func (p *IDPool) InUse() int { return len(p.inUse) }
