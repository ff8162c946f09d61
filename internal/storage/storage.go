package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/eugenenazirov/buildcfg/internal/descriptor"
)

var (
	// ErrEmpty indicates no descriptor has been stored yet.
	ErrEmpty = errors.New("no descriptor has been resolved yet")
)

// Snapshot is a resolved descriptor together with when it was stored.
type Snapshot struct {
	Descriptor descriptor.Descriptor
	UpdatedAt  time.Time
	Revision   uint64
}

// Storage provides access to the most recently resolved descriptor.
type Storage interface {
	Current() (Snapshot, error)
	Replace(d descriptor.Descriptor) (Snapshot, error)
}

// MemoryStorage keeps the latest snapshot in-memory and guards access with a RWMutex.
type MemoryStorage struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	snapshot Snapshot
	set      bool
}

// NewMemoryStorage returns an empty store. A nil clock means wall time.
func NewMemoryStorage(clock clockwork.Clock) *MemoryStorage {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStorage{clock: clock}
}

// Current returns a copy of the latest snapshot.
func (s *MemoryStorage) Current() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return Snapshot{}, ErrEmpty
	}
	return cloneSnapshot(s.snapshot), nil
}

// Replace stores d as the latest descriptor and bumps the revision.
func (s *MemoryStorage) Replace(d descriptor.Descriptor) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = Snapshot{
		Descriptor: d,
		UpdatedAt:  s.clock.Now().UTC(),
		Revision:   s.snapshot.Revision + 1,
	}
	s.set = true

	return cloneSnapshot(s.snapshot), nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	out := src
	out.Descriptor.Plugins = append([]string(nil), src.Descriptor.Plugins...)
	out.Descriptor.SigningConfigs = append(out.Descriptor.SigningConfigs[:0:0], src.Descriptor.SigningConfigs...)
	out.Descriptor.BuildTypes = append(out.Descriptor.BuildTypes[:0:0], src.Descriptor.BuildTypes...)
	out.Descriptor.Dependencies = append(out.Descriptor.Dependencies[:0:0], src.Descriptor.Dependencies...)
	return out
}
