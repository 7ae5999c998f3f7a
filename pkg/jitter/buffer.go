// Package jitter implements the latency buffer between packet arrival and
// delivery. Packets are held for the configured target latency to smooth
// network timing variation; with the drop policy enabled, packets that miss
// their playout deadline are discarded instead of delivered late.
package jitter

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// Packet - same as pion RTP packet
type Packet = rtp.Packet

type Stats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Depth     int    `json:"depth"`
}

type item struct {
	packet  *Packet
	arrival time.Time
}

// Buffer - ordered packet queue with a release deadline per packet.
// Write and Read may run on different goroutines. Latency and drop
// policy are adjustable at any time and apply from the next decision.
type Buffer struct {
	latency atomic.Uint32 // ms
	drop    atomic.Bool

	mu       sync.Mutex
	queue    []item
	lastSeq  uint16
	hasLast  bool
	released uint64
	dropped  uint64

	now func() time.Time // for tests
}

func NewBuffer(latencyMs uint32, drop bool) *Buffer {
	b := &Buffer{now: time.Now}
	b.latency.Store(latencyMs)
	b.drop.Store(drop)
	return b
}

func (b *Buffer) SetLatency(ms uint32) {
	b.latency.Store(ms)
}

func (b *Buffer) Latency() uint32 {
	return b.latency.Load()
}

func (b *Buffer) SetDrop(enabled bool) {
	b.drop.Store(enabled)
}

func (b *Buffer) Drop() bool {
	return b.drop.Load()
}

// Write - queue packet for delivery after the current target latency.
// Returns false when the packet was discarded by the drop policy: a
// packet whose sequence number is at or behind the last released one
// arrived too late to be played.
func (b *Buffer) Write(packet *Packet) bool {
	arrival := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasLast && b.drop.Load() {
		// diff is int16 so the uint16 wrap works out
		if diff := int16(packet.SequenceNumber - b.lastSeq); diff <= 0 {
			b.dropped++
			return false
		}
	}

	// keep the queue sorted by sequence number
	i := len(b.queue)
	for i > 0 && int16(packet.SequenceNumber-b.queue[i-1].packet.SequenceNumber) < 0 {
		i--
	}
	b.queue = append(b.queue, item{})
	copy(b.queue[i+1:], b.queue[i:])
	b.queue[i] = item{packet: packet, arrival: arrival}
	return true
}

// Read - pop the next packet that has been held for the target latency,
// nil if none is ready yet. The deadline uses the live latency value, so
// lowering the latency mid-stream releases queued packets sooner.
func (b *Buffer) Read() *Packet {
	now := b.now()
	latency := time.Duration(b.latency.Load()) * time.Millisecond

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil
	}

	head := b.queue[0]
	if now.Before(head.arrival.Add(latency)) {
		return nil
	}

	b.queue = b.queue[1:]
	b.lastSeq = head.packet.SequenceNumber
	b.hasLast = true
	b.released++
	return head.packet
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Delivered: b.released, Dropped: b.dropped, Depth: len(b.queue)}
}
