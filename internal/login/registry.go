package login

import (
	"errors"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/devsession/internal/task"
)

var (
	ErrSessionExists    = errors.New("login: session already registered")
	ErrInvalidSessionID = errors.New("login: session id required")
)

// Member is the view of a live session instance the registry exposes.
type Member interface {
	TaskID() task.ID
	DevURI() string
	DevType() string
	SessionID() string
}

// Handle proves ownership of one registry entry.
type Handle struct {
	ID  string
	Gen uint64
}

func (h Handle) Valid() bool {
	return h.ID != "" && h.Gen != 0
}

// Entry is one row of a registry snapshot.
type Entry struct {
	SessionID string
	Member    Member
}

type registryEntry struct {
	member Member
	gen    uint64
}

// Registry maps session id to the instance currently serving it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	nextGen uint64
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
	}
}

func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Insert registers m under id. An existing entry is never overwritten.
func (r *Registry) Insert(id string, m Member) (Handle, error) {
	if strings.TrimSpace(id) == "" {
		return Handle{}, ErrInvalidSessionID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return Handle{}, ErrSessionExists
	}
	r.nextGen++
	r.entries[id] = registryEntry{member: m, gen: r.nextGen}
	return Handle{ID: id, Gen: r.nextGen}, nil
}

// Erase removes id if present.
func (r *Registry) Erase(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Release erases h.ID only while it still holds the entry h was issued for.
func (r *Registry) Release(h Handle) bool {
	if !h.Valid() {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[h.ID]
	if !ok || cur.gen != h.Gen {
		return false
	}
	delete(r.entries, h.ID)
	return true
}

func (r *Registry) Lookup(id string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.member, ok
}

func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns the current entries sorted by session id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, Entry{SessionID: id, Member: e.member})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// All iterates a point-in-time snapshot, so it always terminates even while
// sessions come and go.
func (r *Registry) All() iter.Seq2[string, Member] {
	snap := r.Snapshot()
	return func(yield func(string, Member) bool) {
		for _, e := range snap {
			if !yield(e.SessionID, e.Member) {
				return
			}
		}
	}
}
