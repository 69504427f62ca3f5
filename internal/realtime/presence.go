package realtime

import (
	"sync"
	"time"
)

// PresenceRegistry tracks which users currently have live connections.
// Purely in-memory; a restart loses everything and clients re-register on
// reconnect. Constructed once per process and passed to whoever needs it.
type PresenceRegistry struct {
	mu       sync.RWMutex
	conns    map[string]map[string]struct{} // userID -> conn IDs
	lastSeen map[string]time.Time
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		conns:    make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

// MarkOnline registers a connection for the user. Returns true when this is
// the user's first live connection, i.e. the transition that should be
// broadcast as "user came online".
func (p *PresenceRegistry) MarkOnline(userID, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		p.conns[userID] = set
	}
	set[connID] = struct{}{}
	delete(p.lastSeen, userID)
	return !ok
}

// MarkOffline removes a connection. When the user's last connection goes away
// it stamps last-seen and returns (true, stamp); otherwise (false, zero).
func (p *PresenceRegistry) MarkOffline(userID, connID string) (bool, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[userID]
	if !ok {
		return false, time.Time{}
	}
	delete(set, connID)
	if len(set) > 0 {
		return false, time.Time{}
	}

	delete(p.conns, userID)
	now := time.Now()
	p.lastSeen[userID] = now
	return true, now
}

func (p *PresenceRegistry) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.conns[userID]
	return ok
}

// OnlineUsers returns the IDs of every user with at least one connection.
func (p *PresenceRegistry) OnlineUsers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := make([]string, 0, len(p.conns))
	for userID := range p.conns {
		users = append(users, userID)
	}
	return users
}

// LastSeen reports when a now-offline user's last connection closed.
func (p *PresenceRegistry) LastSeen(userID string) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.lastSeen[userID]
	return t, ok
}
