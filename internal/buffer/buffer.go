// Package buffer holds events for users that have no live connection so they
// can be replayed when the user comes back.
package buffer

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxEntries = 100
	DefaultMaxBytes   = 256 * 1024
	DefaultTTL        = 24 * time.Hour
	DefaultSweepEvery = time.Minute
)

var ErrMessageTooLarge = errors.New("message exceeds per-user buffer size")

type Config struct {
	MaxEntries int
	MaxBytes   int
	TTL        time.Duration
	SweepEvery time.Duration
	Clock      clock.Clock
	Logger     zerolog.Logger
}

// Message is one payload held for an absent user.
type Message struct {
	UserID     string
	Payload    []byte
	EnqueuedAt time.Time
	ExpiresAt  time.Time
}

type queue struct {
	items []Message
	bytes int
}

func (q *queue) popFront() {
	q.bytes -= len(q.items[0].Payload)
	q.items[0] = Message{}
	q.items = q.items[1:]
}

// Buffer is a bounded FIFO per user. The bound applies to both entry count and
// total payload bytes; the oldest entries are evicted first.
type Buffer struct {
	maxEntries int
	maxBytes   int
	ttl        time.Duration
	sweepEvery time.Duration
	clock      clock.Clock
	logger     zerolog.Logger

	mu     sync.Mutex
	queues map[string]*queue
}

func New(cfg Config) *Buffer {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepEvery
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Buffer{
		maxEntries: cfg.MaxEntries,
		maxBytes:   cfg.MaxBytes,
		ttl:        cfg.TTL,
		sweepEvery: cfg.SweepEvery,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With().Str("component", "message_buffer").Logger(),
		queues:     make(map[string]*queue),
	}
}

// Enqueue appends payload to the user's queue and returns how many older
// entries were evicted to keep the queue within bounds.
func (b *Buffer) Enqueue(userID string, payload []byte) (int, error) {
	if len(payload) > b.maxBytes {
		return 0, ErrMessageTooLarge
	}
	now := b.clock.Now()
	msg := Message{
		UserID:     userID,
		Payload:    payload,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(b.ttl),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[userID]
	if !ok {
		q = &queue{}
		b.queues[userID] = q
	}

	evicted := 0
	for len(q.items) > 0 && (len(q.items)+1 > b.maxEntries || q.bytes+len(payload) > b.maxBytes) {
		q.popFront()
		evicted++
	}
	q.items = append(q.items, msg)
	q.bytes += len(payload)

	if evicted > 0 {
		b.logger.Debug().Str("userID", userID).Int("evicted", evicted).Msg("buffer full, evicted oldest entries")
	}
	return evicted, nil
}

// DrainFor removes and returns every unexpired message for userID in
// enqueue order.
func (b *Buffer) DrainFor(userID string) []Message {
	now := b.clock.Now()

	b.mu.Lock()
	q, ok := b.queues[userID]
	delete(b.queues, userID)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	out := make([]Message, 0, len(q.items))
	for _, m := range q.items {
		if now.Before(m.ExpiresAt) {
			out = append(out, m)
		}
	}
	return out
}

// PurgeExpired drops entries past their TTL and returns how many were removed.
func (b *Buffer) PurgeExpired() int {
	now := b.clock.Now()
	purged := 0

	b.mu.Lock()
	for userID, q := range b.queues {
		// Entries are appended in time order, so expired ones form a prefix.
		for len(q.items) > 0 && !now.Before(q.items[0].ExpiresAt) {
			q.popFront()
			purged++
		}
		if len(q.items) == 0 {
			delete(b.queues, userID)
		}
	}
	b.mu.Unlock()

	if purged > 0 {
		b.logger.Info().Int("purged", purged).Msg("purged expired buffered messages")
	}
	return purged
}

// Len returns the number of entries held for userID.
func (b *Buffer) Len(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[userID]; ok {
		return len(q.items)
	}
	return 0
}

// Bytes returns the payload bytes held for userID.
func (b *Buffer) Bytes(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[userID]; ok {
		return q.bytes
	}
	return 0
}

// Stats returns the number of users with buffered messages and the total
// number of entries.
func (b *Buffer) Stats() (users, entries int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range b.queues {
		entries += len(q.items)
	}
	return len(b.queues), entries
}

// TTL is how long an entry is kept before it expires.
func (b *Buffer) TTL() time.Duration { return b.ttl }

// SweepEvery is the configured interval between PurgeExpired calls.
func (b *Buffer) SweepEvery() time.Duration { return b.sweepEvery }
