package reminder

import (
	"cmp"
	"slices"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/store"
)

// PartitionKey returns the tracking key for a guild and optional service.
func PartitionKey(guildID, service string) string {
	if service == "" {
		return guildID
	}
	return guildID + ":" + service
}

// RestorePlan says which pending rows to re-arm and which to cancel after a restart.
type RestorePlan struct {
	// Latest holds the surviving row for each partition key.
	Latest map[string]store.Reminder
	// Stale holds every other pending row, ordered by scheduled time then id.
	Stale []store.Reminder
}

// Keys returns the partition keys in Latest in sorted order.
func (p RestorePlan) Keys() []string {
	keys := make([]string, 0, len(p.Latest))
	for k := range p.Latest {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// PlanRestore keeps the latest pending row per partition and marks the rest stale.
// Rows with equal scheduled times are ordered by created time, then by id.
func PlanRestore(pending []store.Reminder) RestorePlan {
	plan := RestorePlan{Latest: make(map[string]store.Reminder, len(pending))}

	for _, r := range pending {
		key := PartitionKey(r.GuildID, r.Service)
		cur, ok := plan.Latest[key]
		switch {
		case !ok:
			plan.Latest[key] = r
		case newer(r, cur):
			plan.Stale = append(plan.Stale, cur)
			plan.Latest[key] = r
		default:
			plan.Stale = append(plan.Stale, r)
		}
	}

	slices.SortFunc(plan.Stale, func(a, b store.Reminder) int {
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return plan
}

// newer reports whether a wins over b for the same partition.
func newer(a, b store.Reminder) bool {
	if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
		return c > 0
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c > 0
	}
	return a.ID > b.ID
}
