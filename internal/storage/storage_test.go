package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/eugenenazirov/buildcfg/internal/descriptor"
)

func testDescriptor(versionCode int) descriptor.Descriptor {
	return descriptor.Descriptor{
		Plugins:   []string{"com.android.application"},
		Namespace: descriptor.Namespace,
		DefaultConfig: descriptor.DefaultConfig{
			ApplicationID: descriptor.ApplicationID,
			VersionCode:   versionCode,
		},
	}
}

func TestCurrentBeforeReplaceReturnsErrEmpty(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage(nil)
	if _, err := store.Current(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestReplaceUpdatesState(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 11, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStorage(clock)

	first, err := store.Replace(testDescriptor(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", first.Revision)
	}
	if !first.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updatedAt %s, got %s", clock.Now(), first.UpdatedAt)
	}

	clock.Advance(time.Hour)
	if _, err := store.Replace(testDescriptor(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Current()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", got.Revision)
	}
	if got.Descriptor.DefaultConfig.VersionCode != 2 {
		t.Fatalf("expected versionCode 2, got %d", got.Descriptor.DefaultConfig.VersionCode)
	}
	if !got.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updatedAt %s, got %s", clock.Now(), got.UpdatedAt)
	}
}

func TestCurrentReturnsDefensiveCopy(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage(nil)
	if _, err := store.Replace(testDescriptor(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := store.Current()
	got.Descriptor.Plugins[0] = "mutated"

	again, _ := store.Current()
	if again.Descriptor.Plugins[0] != "com.android.application" {
		t.Fatalf("expected defensive copy, got %v", again.Descriptor.Plugins)
	}
}

func TestMemoryStorageConcurrentAccess(t *testing.T) {
	store := NewMemoryStorage(nil)
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(2)

		go func(code int) {
			defer wg.Done()
			if _, err := store.Replace(testDescriptor(code)); err != nil {
				t.Errorf("Replace failed: %v", err)
			}
		}(i + 1)

		go func() {
			defer wg.Done()
			if _, err := store.Current(); err != nil && !errors.Is(err, ErrEmpty) {
				t.Errorf("Current failed: %v", err)
			}
		}()
	}

	wg.Wait()

	got, err := store.Current()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Revision != 32 {
		t.Fatalf("expected revision 32, got %d", got.Revision)
	}
}
