package orders

import "errors"

var (
	ErrReplayDetected      = errors.New("signed order replay detected")
	ErrReplayStoreFull     = errors.New("replay store full")
	ErrStoreNotInitialized = errors.New("replay store not initialized for account")
)

// StoreCapacity is the fixed number of concurrent signed-order entries one
// account may hold.
const StoreCapacity = 32

type replayEntry struct {
	hash    string
	maxSlot uint64
	used    bool
}

// ReplayStore is a fixed-capacity ring of recently accepted signed-order
// hashes for one account. An entry occupies its slot until maxSlot passes,
// after which it may be evicted by a new insert. Inserting a hash already
// present fails with ErrReplayDetected; inserting when every slot is live
// fails with ErrReplayStoreFull.
type ReplayStore struct {
	entries [StoreCapacity]replayEntry
}

func NewReplayStore() *ReplayStore {
	return &ReplayStore{}
}

func (s *ReplayStore) Contains(hash string) bool {
	for i := range s.entries {
		if s.entries[i].used && s.entries[i].hash == hash {
			return true
		}
	}
	return false
}

func (s *ReplayStore) Insert(hash string, maxSlot, currentSlot uint64) error {
	free := -1
	for i := range s.entries {
		e := &s.entries[i]
		if e.used && e.hash == hash {
			return ErrReplayDetected
		}
		if free == -1 && (!e.used || e.maxSlot < currentSlot) {
			free = i
		}
	}
	if free == -1 {
		return ErrReplayStoreFull
	}
	s.entries[free] = replayEntry{hash: hash, maxSlot: maxSlot, used: true}
	return nil
}

// ReplayEntry is the exported form of one occupied slot, used when the store
// is captured into or restored from a snapshot.
type ReplayEntry struct {
	Hash    string
	MaxSlot uint64
}

// Entries returns the occupied slots, expired ones included.
func (s *ReplayStore) Entries() []ReplayEntry {
	var out []ReplayEntry
	for i := range s.entries {
		if s.entries[i].used {
			out = append(out, ReplayEntry{Hash: s.entries[i].hash, MaxSlot: s.entries[i].maxSlot})
		}
	}
	return out
}

// Restore refills the store from snapshot entries. Entries beyond capacity
// are dropped oldest-first by position.
func (s *ReplayStore) Restore(entries []ReplayEntry) {
	*s = ReplayStore{}
	for i, e := range entries {
		if i >= StoreCapacity {
			break
		}
		s.entries[i] = replayEntry{hash: e.Hash, maxSlot: e.MaxSlot, used: true}
	}
}

// Live counts entries that have not yet expired at currentSlot.
func (s *ReplayStore) Live(currentSlot uint64) int {
	n := 0
	for i := range s.entries {
		if s.entries[i].used && s.entries[i].maxSlot >= currentSlot {
			n++
		}
	}
	return n
}
