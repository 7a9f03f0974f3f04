// Package memory implements the conversation-memory contract: durable
// per-user chat history plus a small scoped key/value context store,
// addressed by user identity. It is distinct from workflow state — there
// is no durable checkpoint/restart of a run here, only conversation
// history a MemoryReader/MemoryWriter vertex reads and appends to.
package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by CtxGet when no value is stored for the key.
var ErrNotFound = errors.New("memory: not found")

// Entry is one turn of conversation history.
type Entry struct {
	Role    string
	Content string
	Ts      time.Time
}

// Memory is the contract a MemoryReader/MemoryWriter vertex depends on.
// Implementations may be in-memory, SQLite, or MySQL-backed; the core
// depends only on this surface.
type Memory interface {
	// Append records one conversation turn for userID.
	Append(ctx context.Context, userID, role, content string) error

	// Recent returns the last n entries for userID, oldest first.
	Recent(ctx context.Context, userID string, n int) ([]Entry, error)

	// CtxSet stores an arbitrary value under key, scoped to userID. A
	// zero ttl means the value never expires.
	CtxSet(ctx context.Context, userID, key string, value any, ttl time.Duration) error

	// CtxGet retrieves a value previously stored with CtxSet. Returns
	// ErrNotFound if absent or expired.
	CtxGet(ctx context.Context, userID, key string) (any, error)
}

// SummarizeFunc is the optional hook a MemoryWriter invokes after appending;
// implementers may omit it without violating the core contract.
type SummarizeFunc func(ctx context.Context, userID string, history []Entry) (string, error)
