package fanout

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var ErrBusClosed = errors.New("fan-out bus closed")

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Bus is an in-process Transport. Several hubs sharing one Bus behave like
// instances sharing a Redis server. Delivery is synchronous.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	closed bool
	// failing makes Publish return err, for exercising degraded delivery.
	failing error
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]subscription)}
}

func (b *Bus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	if b.failing != nil {
		err := b.failing
		b.mu.RUnlock()
		return err
	}
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, topic); ok {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	for _, s := range matched {
		s.handler(topic, payload)
	}
	return nil
}

func (b *Bus) Subscribe(_ context.Context, pattern string, handler Handler) (func() error, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{id: id, pattern: pattern, handler: handler}

	return func() error {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		return nil
	}, nil
}

// SetFailure makes every Publish fail with err until called with nil.
func (b *Bus) SetFailure(err error) {
	b.mu.Lock()
	b.failing = err
	b.mu.Unlock()
}

func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subs = make(map[uint64]subscription)
	b.mu.Unlock()
	return nil
}

// MemoryPresence is an in-process Presence with per-node TTLs.
type MemoryPresence struct {
	clock clock.Clock

	mu      sync.Mutex
	online  map[string]map[string]time.Time // user -> node -> expiry
	members map[string]map[string]struct{}  // room -> users
	failing error
}

func NewMemoryPresence(clk clock.Clock) *MemoryPresence {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryPresence{
		clock:   clk,
		online:  make(map[string]map[string]time.Time),
		members: make(map[string]map[string]struct{}),
	}
}

func (p *MemoryPresence) MarkOnline(_ context.Context, userID, nodeID string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return p.failing
	}
	nodes, ok := p.online[userID]
	if !ok {
		nodes = make(map[string]time.Time)
		p.online[userID] = nodes
	}
	nodes[nodeID] = p.clock.Now().Add(ttl)
	return nil
}

func (p *MemoryPresence) MarkOffline(_ context.Context, userID, nodeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return p.failing
	}
	if nodes, ok := p.online[userID]; ok {
		delete(nodes, nodeID)
		if len(nodes) == 0 {
			delete(p.online, userID)
		}
	}
	return nil
}

func (p *MemoryPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return false, p.failing
	}
	now := p.clock.Now()
	for _, expiry := range p.online[userID] {
		if now.Before(expiry) {
			return true, nil
		}
	}
	return false, nil
}

func (p *MemoryPresence) AddRoomMember(_ context.Context, room, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return p.failing
	}
	users, ok := p.members[room]
	if !ok {
		users = make(map[string]struct{})
		p.members[room] = users
	}
	users[userID] = struct{}{}
	return nil
}

func (p *MemoryPresence) RemoveRoomMember(_ context.Context, room, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return p.failing
	}
	if users, ok := p.members[room]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.members, room)
		}
	}
	return nil
}

func (p *MemoryPresence) RoomMembers(_ context.Context, room string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failing != nil {
		return nil, p.failing
	}
	out := make([]string, 0, len(p.members[room]))
	for userID := range p.members[room] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out, nil
}

// SetFailure makes every call fail with err until called with nil.
func (p *MemoryPresence) SetFailure(err error) {
	p.mu.Lock()
	p.failing = err
	p.mu.Unlock()
}
