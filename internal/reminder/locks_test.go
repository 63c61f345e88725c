package reminder

import (
	"sync"
	"testing"
	"time"
)

func TestLockMap_Cleanup(t *testing.T) {
	now := t0
	lm := &lockMap{now: func() time.Time { return now }}

	idle := lm.lock("g1")
	idle.Unlock()
	held := lm.lock("g2")
	defer held.Unlock()
	refreshed := lm.lock("g3")
	refreshed.Unlock()

	now = now.Add(time.Hour)
	again := lm.lock("g3")
	again.Unlock()
	if again != refreshed {
		t.Fatal("lock() returned a new mutex for a live key")
	}

	if n := lm.cleanup(30 * time.Minute); n != 1 {
		t.Errorf("cleanup() = %d, want 1", n)
	}

	mu := lm.lock("g1")
	if mu == idle {
		t.Error("lock() handed out a mutex that cleanup removed")
	}
	mu.Unlock()

	mu = lm.lock("g3")
	if mu != refreshed {
		t.Error("cleanup removed a recently used lock")
	}
	mu.Unlock()

	if _, ok := lm.locks.Load("g2"); !ok {
		t.Error("cleanup removed a held lock")
	}
}

func TestLockMap_CleanupRacesWithLock(t *testing.T) {
	lm := &lockMap{}
	counter := 0

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 200 {
				mu := lm.lock("g1")
				counter++
				mu.Unlock()
			}
		})
	}
	wg.Go(func() {
		for range 200 {
			lm.cleanup(-time.Second)
		}
	})
	wg.Wait()

	if counter != 8*200 {
		t.Errorf("counter = %d, want %d", counter, 8*200)
	}
}
