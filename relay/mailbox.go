package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/metrics"
)

// ErrMailboxFull is returned when a peer's queue is at capacity. The
// sender should back off and retry; the protocol tolerates drops.
var ErrMailboxFull = errors.New("relay: mailbox full")

// queued is one message waiting for pickup.
type queued struct {
	from     interfaces.PeerID
	payload  []byte
	received time.Time
}

// Mailboxes is the relay's store-and-forward state: one FIFO queue per
// recipient, bounded per peer, swept by TTL. The relay never inspects
// payloads; they are already-encrypted protocol bytes.
type Mailboxes struct {
	mu         sync.Mutex
	boxes      map[interfaces.PeerID][]queued
	perPeerCap int
	now        func() time.Time
}

// NewMailboxes creates the mailbox store. perPeerCap bounds each
// recipient's queue.
func NewMailboxes(perPeerCap int) *Mailboxes {
	if perPeerCap <= 0 {
		perPeerCap = 128
	}
	return &Mailboxes{
		boxes:      make(map[interfaces.PeerID][]queued),
		perPeerCap: perPeerCap,
		now:        time.Now,
	}
}

// Enqueue queues a payload for the recipient.
func (m *Mailboxes) Enqueue(to, from interfaces.PeerID, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.boxes[to]) >= m.perPeerCap {
		metrics.RecordRelayMessage("enqueue", "full", 0)
		return ErrMailboxFull
	}

	m.boxes[to] = append(m.boxes[to], queued{
		from:     from,
		payload:  payload,
		received: m.now(),
	})
	metrics.RecordRelayMessage("enqueue", "ok", len(payload))
	metrics.SetMailboxDepth(m.depthLocked())
	return nil
}

// Dequeue removes and returns the oldest payload queued for the
// recipient. ok is false when the mailbox is empty.
func (m *Mailboxes) Dequeue(to interfaces.PeerID) (from interfaces.PeerID, payload []byte, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	box := m.boxes[to]
	if len(box) == 0 {
		metrics.RecordRelayMessage("dequeue", "empty", 0)
		return interfaces.PeerID{}, nil, false
	}

	head := box[0]
	if len(box) == 1 {
		delete(m.boxes, to)
	} else {
		m.boxes[to] = box[1:]
	}

	metrics.RecordRelayMessage("dequeue", "ok", len(head.payload))
	metrics.SetMailboxDepth(m.depthLocked())
	return head.from, head.payload, true
}

// Sweep drops messages older than ttl and returns how many were dropped.
func (m *Mailboxes) Sweep(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)
	dropped := 0
	for peer, box := range m.boxes {
		kept := box[:0]
		for _, msg := range box {
			if msg.received.Before(cutoff) {
				dropped++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(m.boxes, peer)
		} else {
			m.boxes[peer] = kept
		}
	}

	if dropped > 0 {
		metrics.RecordSweep(dropped)
		metrics.SetMailboxDepth(m.depthLocked())
	}
	return dropped
}

// Depth returns the total queued message count across all mailboxes.
func (m *Mailboxes) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depthLocked()
}

func (m *Mailboxes) depthLocked() int {
	depth := 0
	for _, box := range m.boxes {
		depth += len(box)
	}
	return depth
}
