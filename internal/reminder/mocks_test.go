package reminder

import (
	"context"
	"errors"
	"sync"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/store"
)

var errDiskFull = errors.New("disk full")

// faultyRepo wraps a MemoryStore and fails selected operations.
type faultyRepo struct {
	*store.MemoryStore
	failStatus  map[string]bool
	failCreate  bool
	failFindAll bool
	mu          sync.Mutex
}

func newFaultyRepo(s *store.MemoryStore) *faultyRepo {
	return &faultyRepo{MemoryStore: s, failStatus: make(map[string]bool)}
}

func (r *faultyRepo) failStatusFor(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failStatus[id] = true
}

func (r *faultyRepo) CreateReminder(ctx context.Context, nr store.NewReminder) (store.Reminder, error) {
	r.mu.Lock()
	fail := r.failCreate
	r.mu.Unlock()
	if fail {
		return store.Reminder{}, &store.Error{Op: "create reminder", Err: errDiskFull}
	}
	return r.MemoryStore.CreateReminder(ctx, nr)
}

func (r *faultyRepo) FindAllPending(ctx context.Context) ([]store.Reminder, error) {
	if r.failFindAll {
		return nil, &store.Error{Op: "find all pending", Err: errDiskFull}
	}
	return r.MemoryStore.FindAllPending(ctx)
}

func (r *faultyRepo) UpdateReminderStatus(ctx context.Context, id string, status store.Status) error {
	r.mu.Lock()
	fail := r.failStatus[id]
	r.mu.Unlock()
	if fail {
		return &store.Error{Op: "update reminder status", Err: errDiskFull}
	}
	return r.MemoryStore.UpdateReminderStatus(ctx, id, status)
}

func (r *faultyRepo) CompleteReminder(ctx context.Context, id string, status store.Status) (bool, error) {
	r.mu.Lock()
	fail := r.failStatus[id]
	r.mu.Unlock()
	if fail {
		return false, &store.Error{Op: "complete reminder", Err: errDiskFull}
	}
	return r.MemoryStore.CompleteReminder(ctx, id, status)
}

// recorder is a DeliverFunc that records the reminders it was called with.
type recorder struct {
	err   error
	calls []store.Reminder
	mu    sync.Mutex
}

func (d *recorder) deliver(_ context.Context, r store.Reminder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, r)
	return d.err
}

func (d *recorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *recorder) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	for i, r := range d.calls {
		out[i] = r.ID
	}
	return out
}
