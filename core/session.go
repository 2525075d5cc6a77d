package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session is a durable conversation identity plus its memory snapshot and
// metadata. A Session is owned by the agent that is running it; storage
// adapters only persist and return copies and never change business fields.
//
// Contract:
//   - ID is generated when absent and stays stable for the session's lifetime
//   - Clone performs deep copies of maps/slices for safe divergence
//   - Updated is set by the owner on every mutation that is persisted
type Session struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	OwnerID   string         `json:"owner_id,omitempty"`
	Active    bool           `json:"active"`
	Memory    MemorySnapshot `json:"memory"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ExtraData map[string]any `json:"extra_data,omitempty"`
	Created   time.Time      `json:"created"`
	Updated   time.Time      `json:"updated"`
}

// NewSession creates an active session. An empty id is replaced with a fresh UUID.
func NewSession(id string) *Session {
	if id == "" {
		id = NewID()
	}
	now := time.Now()
	return &Session{
		ID:        id,
		Active:    true,
		Metadata:  map[string]any{},
		ExtraData: map[string]any{},
		Created:   now,
		Updated:   now,
	}
}

// NewID returns a random identifier used for sessions, runs and tool calls.
func NewID() string { return uuid.NewString() }

// Touch sets Updated to now.
func (s *Session) Touch() { s.Updated = time.Now() }

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Memory = s.Memory.Clone()
	clone.Metadata = cloneMap(s.Metadata)
	clone.ExtraData = cloneMap(s.ExtraData)
	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StorageAdapter persists sessions. Implementations must create their
// backing table / keyspace lazily: when an operation fails because the store
// does not exist yet, they call Create and retry the operation once.
//
// Writes for one session id are last-writer-wins; there is no optimistic
// concurrency control.
type StorageAdapter interface {
	// Create prepares the backing store. It is idempotent.
	Create(ctx context.Context) error
	// Read returns the stored session or (nil, nil) when no row matches.
	Read(ctx context.Context, sessionID string) (*Session, error)
	// Upsert inserts or replaces the row and returns the stored state.
	Upsert(ctx context.Context, session *Session) (*Session, error)
	// Delete removes the row. Deleting a missing row is not an error.
	Delete(ctx context.Context, sessionID string) error
	// ListIDs returns session ids, newest first, optionally filtered by user and owner.
	ListIDs(ctx context.Context, userID, ownerID string) ([]string, error)
}
