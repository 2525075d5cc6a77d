package session

import (
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/memory"
)

// Merge folds a stored session row into the in-memory session and returns
// current. Scalar fields keep their in-memory value when non-empty and
// otherwise adopt the stored value. Metadata and ExtraData are shallow
// merged with in-memory keys winning. Memory lists follow the same rule
// list by list.
//
// A stored session that was ended stays inactive. Created keeps the earlier
// non-zero timestamp and Updated the later one.
//
// Merge is idempotent: merging the same stored row twice leaves current
// unchanged after the first call.
func Merge(current, stored *core.Session) *core.Session {
	if stored == nil {
		return current
	}
	if current == nil {
		return stored.Clone()
	}

	current.Name = firstNonEmpty(current.Name, stored.Name)
	current.UserID = firstNonEmpty(current.UserID, stored.UserID)
	current.OwnerID = firstNonEmpty(current.OwnerID, stored.OwnerID)
	current.Active = current.Active && stored.Active

	current.Metadata = MergeMaps(current.Metadata, stored.Metadata)
	current.ExtraData = MergeMaps(current.ExtraData, stored.ExtraData)

	mem := memory.FromSnapshot(current.Memory)
	mem.Load(stored.Memory)
	current.Memory = mem.Snapshot()

	if !stored.Created.IsZero() && (current.Created.IsZero() || stored.Created.Before(current.Created)) {
		current.Created = stored.Created
	}
	if stored.Updated.After(current.Updated) {
		current.Updated = stored.Updated
	}

	return current
}

// MergeMaps returns a new map holding every key of stored overlaid with
// every key of current. It returns nil when both are empty.
func MergeMaps(current, stored map[string]any) map[string]any {
	if len(current) == 0 && len(stored) == 0 {
		return current
	}
	out := make(map[string]any, len(current)+len(stored))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range current {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
