package reminder

import (
	"sync"
	"time"
)

const lockIdleTimeout = 30 * time.Minute

// partitionLock is a mutex with last-access tracking for cleanup.
type partitionLock struct {
	lastUsed time.Time
	mu       sync.Mutex
	touch    sync.Mutex
	dead     bool // removed from the map; guarded by touch
}

// lockMap hands out one mutex per partition key and drops idle ones.
type lockMap struct {
	now   func() time.Time
	locks sync.Map // partition key -> *partitionLock
}

func (lm *lockMap) clock() time.Time {
	if lm.now != nil {
		return lm.now()
	}
	return time.Now()
}

// lock returns the partition mutex for key, already locked. A mutex that cleanup
// removed is never returned, so two callers cannot hold different mutexes for one key.
func (lm *lockMap) lock(key string) *sync.Mutex {
	for {
		val, _ := lm.locks.LoadOrStore(key, &partitionLock{lastUsed: lm.clock()})
		pl := val.(*partitionLock) //nolint:errcheck,forcetypeassert,revive // only *partitionLock is stored
		pl.mu.Lock()
		pl.touch.Lock()
		if pl.dead {
			pl.touch.Unlock()
			pl.mu.Unlock()
			continue
		}
		pl.lastUsed = lm.clock()
		pl.touch.Unlock()
		return &pl.mu
	}
}

func (lm *lockMap) cleanup(idleTimeout time.Duration) int {
	now := lm.clock()
	removed := 0
	lm.locks.Range(func(key, val any) bool {
		pl := val.(*partitionLock) //nolint:errcheck,forcetypeassert,revive // only *partitionLock is stored
		pl.touch.Lock()
		defer pl.touch.Unlock()
		// Held locks are in use no matter how old lastUsed is.
		if now.Sub(pl.lastUsed) <= idleTimeout || !pl.mu.TryLock() {
			return true
		}
		pl.dead = true
		lm.locks.CompareAndDelete(key, pl)
		pl.mu.Unlock()
		removed++
		return true
	})
	return removed
}
