package websocket

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"notify-service/internal/buffer"

	"github.com/benbjohnson/clock"
)

const (
	defaultShards           = 32
	defaultMaxConnsPerUser  = 5
	defaultMaxSubscriptions = 100
)

type clientSet map[string]*Client

// shard owns a subset of users. A connection and all of its channel and room
// memberships live in the shard of its user, so registering, deregistering
// and evicting a connection take one lock.
type shard struct {
	mu       sync.RWMutex
	conns    clientSet
	users    map[string]clientSet
	channels map[string]clientSet
	rooms    map[string]clientSet

	// departed remembers the channels of users whose last connection closed,
	// so channel traffic is buffered for them until they come back.
	departed    map[string]*departedUser
	departedIdx map[string]map[string]struct{} // channel -> user ids
}

type departedUser struct {
	channels []string
	until    time.Time
}

func newShard() *shard {
	return &shard{
		conns:    make(clientSet),
		users:    make(map[string]clientSet),
		channels: make(map[string]clientSet),
		rooms:    make(map[string]clientSet),

		departed:    make(map[string]*departedUser),
		departedIdx: make(map[string]map[string]struct{}),
	}
}

func (s *shard) forgetDeparted(userID string) {
	d, ok := s.departed[userID]
	if !ok {
		return
	}
	delete(s.departed, userID)
	for _, ch := range d.channels {
		if users, ok := s.departedIdx[ch]; ok {
			delete(users, userID)
			if len(users) == 0 {
				delete(s.departedIdx, ch)
			}
		}
	}
}

func addMember(index map[string]clientSet, key string, c *Client) {
	set, ok := index[key]
	if !ok {
		set = make(clientSet)
		index[key] = set
	}
	set[c.id] = c
}

func removeMember(index map[string]clientSet, key string, c *Client) {
	if set, ok := index[key]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

// Departure describes a connection removed from the registry.
type Departure struct {
	Client      *Client
	Channels    []string
	Rooms       []string
	LastForUser bool
	// RoomsVacated lists rooms the user no longer has any local connection in.
	RoomsVacated []string
}

// RegistryConfig sizes a Registry. Zero values take the package defaults.
type RegistryConfig struct {
	Shards           int
	MaxConnsPerUser  int
	MaxSubscriptions int
	// Buffer receives messages for absent users. Nil disables buffering.
	Buffer *buffer.Buffer
	// Retention is how long a departed user's channels keep collecting
	// messages. It defaults to the buffer's TTL.
	Retention time.Duration
	Clock     clock.Clock
}

// Registry is the set of live connections, indexed by connection id, user id,
// channel and room.
type Registry struct {
	shards           []*shard
	maxPerUser       int
	maxSubscriptions int
	buffer           *buffer.Buffer
	retention        time.Duration
	clock            clock.Clock

	// index maps connection id to client across shards.
	index sync.Map
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	if cfg.MaxConnsPerUser <= 0 {
		cfg.MaxConnsPerUser = defaultMaxConnsPerUser
	}
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = defaultMaxSubscriptions
	}
	if cfg.Retention <= 0 && cfg.Buffer != nil {
		cfg.Retention = cfg.Buffer.TTL()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	r := &Registry{
		shards:           make([]*shard, cfg.Shards),
		maxPerUser:       cfg.MaxConnsPerUser,
		maxSubscriptions: cfg.MaxSubscriptions,
		buffer:           cfg.Buffer,
		retention:        cfg.Retention,
		clock:            cfg.Clock,
	}
	for i := range r.shards {
		r.shards[i] = newShard()
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Register adds c. When c is the user's only local connection, buffered
// messages are drained into it under the shard lock, so a concurrent
// DirectMessage either sees the connection or lands in the buffer first.
// Messages the connection cannot accept go back to the buffer. It returns
// the number of drained messages.
func (r *Registry) Register(c *Client) (int, error) {
	s := r.shardFor(c.userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.users[c.userID]) >= r.maxPerUser {
		return 0, ErrConnectionLimitExceeded
	}
	s.conns[c.id] = c
	addMember(s.users, c.userID, c)
	r.index.Store(c.id, c)

	if len(s.users[c.userID]) != 1 || r.buffer == nil {
		return 0, nil
	}
	s.forgetDeparted(c.userID)

	drained := 0
	pending := r.buffer.DrainFor(c.userID)
	for i, m := range pending {
		if err := c.sendRaw(m.Payload, false); err != nil {
			for _, rest := range pending[i:] {
				r.buffer.Enqueue(c.userID, rest.Payload)
			}
			break
		}
		drained++
	}
	return drained, nil
}

// Deregister removes a connection and every membership it held.
func (r *Registry) Deregister(connID string) (Departure, bool) {
	v, ok := r.index.Load(connID)
	if !ok {
		return Departure{}, false
	}
	c := v.(*Client)
	s := r.shardFor(c.userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[connID]; !ok {
		return Departure{}, false
	}

	d := Departure{Client: c}
	for ch := range c.channels {
		removeMember(s.channels, ch, c)
		d.Channels = append(d.Channels, ch)
	}
	for room := range c.rooms {
		removeMember(s.rooms, room, c)
		d.Rooms = append(d.Rooms, room)
		if !userInRoomLocked(s, room, c.userID) {
			d.RoomsVacated = append(d.RoomsVacated, room)
		}
	}
	c.channels = make(map[string]struct{})
	c.rooms = make(map[string]struct{})

	delete(s.conns, connID)
	removeMember(s.users, c.userID, c)
	r.index.Delete(connID)
	d.LastForUser = len(s.users[c.userID]) == 0
	if d.LastForUser && r.buffer != nil {
		r.rememberDepartedLocked(s, c.userID, d.Channels)
	}

	sort.Strings(d.Channels)
	sort.Strings(d.Rooms)
	sort.Strings(d.RoomsVacated)
	return d, true
}

// rememberDepartedLocked keeps the channels of a user whose last connection
// closed. The private user channel is skipped: direct messages buffer on
// their own.
func (r *Registry) rememberDepartedLocked(s *shard, userID string, channels []string) {
	var kept []string
	for _, ch := range channels {
		if _, private := isUserChannel(ch); !private {
			kept = append(kept, ch)
		}
	}
	if len(kept) == 0 {
		return
	}
	s.departed[userID] = &departedUser{channels: kept, until: r.clock.Now().Add(r.retention)}
	for _, ch := range kept {
		users, ok := s.departedIdx[ch]
		if !ok {
			users = make(map[string]struct{})
			s.departedIdx[ch] = users
		}
		users[userID] = struct{}{}
	}
}

func userInRoomLocked(s *shard, room, userID string) bool {
	for _, m := range s.rooms[room] {
		if m.userID == userID {
			return true
		}
	}
	return false
}

func (r *Registry) Get(connID string) (*Client, bool) {
	v, ok := r.index.Load(connID)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

func (r *Registry) ConnectionsForUser(userID string) []*Client {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedClients(s.users[userID])
}

// Subscribe adds connID to channel. It reports whether the connection was
// newly subscribed.
func (r *Registry) Subscribe(connID, channel string) (bool, error) {
	c, ok := r.Get(connID)
	if !ok {
		return false, ErrConnectionNotFound
	}
	s := r.shardFor(c.userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[connID]; !ok {
		return false, ErrConnectionNotFound
	}
	if _, ok := c.channels[channel]; ok {
		return false, nil
	}
	if len(c.channels) >= r.maxSubscriptions {
		return false, ErrTooManySubscriptions
	}
	c.channels[channel] = struct{}{}
	addMember(s.channels, channel, c)
	return true, nil
}

func (r *Registry) Unsubscribe(connID, channel string) bool {
	c, ok := r.Get(connID)
	if !ok {
		return false
	}
	s := r.shardFor(c.userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := c.channels[channel]; !ok {
		return false
	}
	delete(c.channels, channel)
	removeMember(s.channels, channel, c)
	return true
}

// JoinRoom adds connID to room. firstForUser is true when no other local
// connection of the same user was already in the room.
func (r *Registry) JoinRoom(connID, room string) (firstForUser bool, err error) {
	c, ok := r.Get(connID)
	if !ok {
		return false, ErrConnectionNotFound
	}
	s := r.shardFor(c.userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conns[connID]; !ok {
		return false, ErrConnectionNotFound
	}
	if _, ok := c.rooms[room]; ok {
		return false, nil
	}
	if len(c.rooms) >= r.maxSubscriptions {
		return false, ErrTooManySubscriptions
	}
	firstForUser = !userInRoomLocked(s, room, c.userID)
	c.rooms[room] = struct{}{}
	addMember(s.rooms, room, c)
	return firstForUser, nil
}

// LeaveRoom removes connID from room. lastForUser is true when the user has
// no local connection left in the room.
func (r *Registry) LeaveRoom(connID, room string) (left, lastForUser bool) {
	c, ok := r.Get(connID)
	if !ok {
		return false, false
	}
	s := r.shardFor(c.userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := c.rooms[room]; !ok {
		return false, false
	}
	delete(c.rooms, room)
	removeMember(s.rooms, room, c)
	return true, !userInRoomLocked(s, room, c.userID)
}

// ChannelSubscribers returns the local connections subscribed to channel.
func (r *Registry) ChannelSubscribers(channel string) []*Client {
	return r.collect(func(s *shard) clientSet { return s.channels[channel] })
}

// RoomClients returns the local connections in room.
func (r *Registry) RoomClients(room string) []*Client {
	return r.collect(func(s *shard) clientSet { return s.rooms[room] })
}

// RoomMembers returns the distinct local user ids in room.
func (r *Registry) RoomMembers(room string) []string {
	seen := make(map[string]struct{})
	for _, c := range r.RoomClients(room) {
		seen[c.userID] = struct{}{}
	}
	return sortedKeys(seen)
}

// Memberships returns the channels and rooms connID belongs to.
func (r *Registry) Memberships(connID string) (channels, rooms []string) {
	c, ok := r.Get(connID)
	if !ok {
		return nil, nil
	}
	s := r.shardFor(c.userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(c.channels), sortedKeys(c.rooms)
}

func (r *Registry) collect(pick func(*shard) clientSet) []*Client {
	var out []*Client
	for _, s := range r.shards {
		s.mu.RLock()
		for _, c := range pick(s) {
			out = append(out, c)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// DeliverOrBuffer queues data to the user's local connections, or stores it
// in the offline buffer if there are none. The check and the buffer write
// happen under the user's shard lock, which Register also holds while
// draining.
func (r *Registry) DeliverOrBuffer(userID string, data []byte) (delivered int, buffered bool, evicted int, err error) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if conns := s.users[userID]; len(conns) > 0 {
		for _, c := range conns {
			if c.sendRaw(data, false) == nil {
				delivered++
			}
		}
		return delivered, false, 0, nil
	}
	if r.buffer == nil {
		return 0, false, 0, nil
	}
	evicted, err = r.buffer.Enqueue(userID, data)
	if err != nil {
		return 0, false, 0, err
	}
	return 0, true, evicted, nil
}

// BufferForDeparted stores data for every user whose last connection closed
// while subscribed to channel, within the retention window. It returns how
// many users it was buffered for and how many older entries were evicted.
func (r *Registry) BufferForDeparted(channel string, data []byte) (buffered, evicted int) {
	if r.buffer == nil {
		return 0, 0
	}
	now := r.clock.Now()
	for _, s := range r.shards {
		s.mu.Lock()
		for userID := range s.departedIdx[channel] {
			d := s.departed[userID]
			if d == nil || !now.Before(d.until) || len(s.users[userID]) > 0 {
				s.forgetDeparted(userID)
				continue
			}
			n, err := r.buffer.Enqueue(userID, data)
			if err != nil {
				continue
			}
			buffered++
			evicted += n
		}
		s.mu.Unlock()
	}
	return buffered, evicted
}

// PurgeDeparted drops departed-user records past the retention window.
func (r *Registry) PurgeDeparted() int {
	now := r.clock.Now()
	purged := 0
	for _, s := range r.shards {
		s.mu.Lock()
		for userID, d := range s.departed {
			if !now.Before(d.until) {
				s.forgetDeparted(userID)
				purged++
			}
		}
		s.mu.Unlock()
	}
	return purged
}

// EvictIdleOlderThan returns connections with no activity since now-d.
// The caller closes them, which deregisters them.
func (r *Registry) EvictIdleOlderThan(d time.Duration, now time.Time) []*Client {
	cutoff := now.Add(-d)
	var idle []*Client
	for _, s := range r.shards {
		s.mu.RLock()
		for _, c := range s.conns {
			if c.LastActivity().Before(cutoff) {
				idle = append(idle, c)
			}
		}
		s.mu.RUnlock()
	}
	return idle
}

// All returns every registered connection.
func (r *Registry) All() []*Client {
	return r.collect(func(s *shard) clientSet { return s.conns })
}

// Users returns the distinct user ids with at least one local connection.
func (r *Registry) Users() []string {
	var out []string
	for _, s := range r.shards {
		s.mu.RLock()
		for userID := range s.users {
			out = append(out, userID)
		}
		s.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Count() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}

func sortedClients(set clientSet) []*Client {
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
