package session

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Pending tracks one outbound request awaiting its response.
type Pending struct {
	TransID     string
	Owner       uint64
	Peer        string
	MessageType uint32
	SentAt      time.Time
	Deadline    time.Time
	// Done, when set, receives the response instead of routing it to Owner.
	Done chan Envelope
}

// PendingTable stores outstanding transactions by trans_id.
type PendingTable struct {
	mu    sync.Mutex
	items map[string]Pending
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		items: make(map[string]Pending),
	}
}

func (t *PendingTable) Add(p Pending) {
	key := strings.TrimSpace(p.TransID)
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[key] = p
}

// Take removes and returns the transaction for transID.
func (t *PendingTable) Take(transID string) (Pending, bool) {
	key := strings.TrimSpace(transID)
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.items[key]
	if ok {
		delete(t.items, key)
	}
	return p, ok
}

// Expired removes and returns every transaction whose deadline is before now.
func (t *PendingTable) Expired(now time.Time) []Pending {
	return t.takeWhere(func(p Pending) bool {
		return !p.Deadline.IsZero() && now.After(p.Deadline)
	})
}

// DropPeer removes and returns every transaction addressed to peer.
func (t *PendingTable) DropPeer(peer string) []Pending {
	return t.takeWhere(func(p Pending) bool {
		return p.Peer == peer
	})
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *PendingTable) takeWhere(match func(Pending) bool) []Pending {
	t.mu.Lock()
	var out []Pending
	for key, p := range t.items {
		if match(p) {
			out = append(out, p)
			delete(t.items, key)
		}
	}
	t.mu.Unlock()
	sortPending(out)
	return out
}

func sortPending(list []Pending) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].TransID < list[j].TransID
	})
}
