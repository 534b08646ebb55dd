// Package store holds the in-memory collections behind the ledger: transactions,
// the category tree and recurring rules. The stores are plain data structures with
// lookups; they enforce no cross-collection rules and are not safe for concurrent
// use. Ordering and atomicity belong to the ledger package that owns them.
package store

import "sort"

// changeLog records which ids were written or removed since the store was cloned,
// so a commit can persist only what changed.
type changeLog struct {
	upserted map[string]struct{}
	deleted  map[string]struct{}
}

func newChangeLog() changeLog {
	return changeLog{
		upserted: make(map[string]struct{}),
		deleted:  make(map[string]struct{}),
	}
}

func (c changeLog) put(id string) {
	delete(c.deleted, id)
	c.upserted[id] = struct{}{}
}

// remove also records ids created and dropped within the same working copy;
// deleting a row that was never persisted is harmless.
func (c changeLog) remove(id string) {
	delete(c.upserted, id)
	c.deleted[id] = struct{}{}
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Changes lists ids written and removed since the last clone.
type Changes struct {
	Upserted []string
	Deleted  []string
}

func (c changeLog) snapshot() Changes {
	return Changes{Upserted: sortedKeys(c.upserted), Deleted: sortedKeys(c.deleted)}
}
