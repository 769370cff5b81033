package inbox

import (
	"sync"
)

// Store is the in-memory keyed cache of proposals. It is the single owner
// of local proposal state: the reconciliation loop replaces it wholesale
// with authoritative snapshots, the mutation dispatcher applies optimistic
// patches, and the presentation layer reads copies and subscribes to
// change notifications.
//
// Replace always wins over outstanding optimistic patches: every Replace
// advances the store epoch, and rollbacks recorded against an older epoch
// are discarded because the authoritative snapshot superseded them.
type Store struct {
	mu           sync.RWMutex
	byID         map[string]*Proposal
	order        []string
	pendingCount int
	epoch        uint64

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// NewStore creates an empty proposal store.
func NewStore() *Store {
	return &Store{
		byID: make(map[string]*Proposal),
		subs: make(map[int]func()),
	}
}

// Replace installs a fresh authoritative snapshot, discarding all prior
// contents including any optimistic local state. Idempotent for identical
// snapshots.
func (s *Store) Replace(snap Snapshot) {
	s.mu.Lock()
	byID := make(map[string]*Proposal, len(snap.Proposals))
	order := make([]string, 0, len(snap.Proposals))
	for i := range snap.Proposals {
		p := snap.Proposals[i].Clone()
		byID[p.ID] = &p
		order = append(order, p.ID)
	}
	s.byID = byID
	s.order = order
	s.pendingCount = snap.PendingCount
	s.epoch++
	s.mu.Unlock()

	s.notify()
}

// Get returns a copy of the proposal with the given id.
func (s *Store) Get(id string) (Proposal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return Proposal{}, false
	}
	return p.Clone(), true
}

// List returns copies of all proposals in snapshot order.
func (s *Store) List() []Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Proposal, 0, len(s.order))
	for _, id := range s.order {
		if p, ok := s.byID[id]; ok {
			out = append(out, p.Clone())
		}
	}
	return out
}

// PendingCount returns the pending proposal count: server-derived on each
// Replace, recomputed locally when optimistic patches change statuses.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingCount
}

// Len returns the number of proposals in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Epoch returns the snapshot epoch. It advances on every Replace and is
// used to discard rollbacks that an authoritative snapshot superseded.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Patch applies an optimistic mutation to the proposal with the given id
// and returns the epoch the patch was applied under. Returns false if the
// proposal is not present.
func (s *Store) Patch(id string, mutate func(p *Proposal)) (uint64, bool) {
	s.mu.Lock()
	p, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return 0, false
	}
	mutate(p)
	epoch := s.epoch
	s.recountPending()
	s.mu.Unlock()

	s.notify()
	return epoch, true
}

// Rollback restores a previously captured proposal state, but only if no
// authoritative snapshot arrived since the optimistic patch was applied
// (the epoch is unchanged). Returns true if the restore was applied.
func (s *Store) Rollback(prev Proposal, epoch uint64) bool {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false
	}
	if _, ok := s.byID[prev.ID]; !ok {
		s.mu.Unlock()
		return false
	}
	restored := prev.Clone()
	s.byID[prev.ID] = &restored
	s.recountPending()
	s.mu.Unlock()

	s.notify()
	return true
}

// Subscribe registers a callback invoked after every store change. The
// returned function unsubscribes. Callbacks run synchronously on the
// mutating goroutine and must not call back into the store's write API.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// recountPending recomputes the pending count from local statuses. Caller
// must hold the write lock.
func (s *Store) recountPending() {
	n := 0
	for _, p := range s.byID {
		if p.Status == StatusPending {
			n++
		}
	}
	s.pendingCount = n
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
