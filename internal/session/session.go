// Package session provides session metadata persistence.
//
// A session is created on the first message of a conversation and mutated
// after every completed turn (message count, last activity). Deleting a
// session is a soft delete in the PostgreSQL store — the record is marked
// deleted, never removed — while the in-memory store for anonymous users
// may hard delete.
//
// Thread Safety: both stores are safe for concurrent use. Note that
// read-then-write finalization updates are not linearizable; concurrent
// turns on one session can race on the message counter. This is accepted
// weak consistency, not a counter guarantee.
package session

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations, checked with errors.Is().
var (
	// ErrNotFound indicates the requested session does not exist for this owner.
	ErrNotFound = errors.New("session not found")

	// ErrEmptyID indicates an operation without a session id.
	ErrEmptyID = errors.New("empty session id")

	// ErrEmptyOwner indicates an operation without an owner id.
	ErrEmptyOwner = errors.New("empty owner id")
)

// Status is the lifecycle state of a session.
type Status string

// Session lifecycle: created → active → (archived | deleted). Archived and
// deleted are terminal from the relay's perspective; a new send mints a
// fresh session rather than resurrecting one.
const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// TitleMaxLen bounds the title derived from the first message's prefix.
const TitleMaxLen = 80

// Session is the metadata record for one conversation.
type Session struct {
	ID           string
	OwnerID      string
	Title        string
	MessageCount int
	LastActivity time.Time
	Status       Status
	Starred      bool
	Tags         []string
	// Metadata is a free-form map; it includes nested per-message metadata
	// and an optional live browser-session descriptor.
	Metadata  map[string]any
	CreatedAt time.Time
}

// Update is a partial mutation; nil fields are left untouched.
type Update struct {
	Title        *string
	MessageCount *int
	LastActivity *time.Time
	Status       *Status
	Starred      *bool
	Tags         []string
	Metadata     map[string]any
}

// Store is the session store contract consumed by the relay and the API.
type Store interface {
	// Get returns the session owned by ownerID, or ErrNotFound.
	Get(ctx context.Context, ownerID, sessionID string) (*Session, error)

	// Upsert creates or fully replaces a session record.
	Upsert(ctx context.Context, sess *Session) error

	// Update applies a partial mutation to an existing session.
	Update(ctx context.Context, ownerID, sessionID string, upd Update) error

	// Delete removes the session. The PostgreSQL store soft-deletes
	// (status = deleted); the in-memory store hard-deletes.
	Delete(ctx context.Context, ownerID, sessionID string) error

	// List returns the owner's non-deleted sessions ordered by last
	// activity descending, with the total count before pagination.
	List(ctx context.Context, ownerID string, limit, offset int) ([]*Session, int, error)
}

// DeriveTitle produces a session title from a bounded prefix of the first
// message. Rune-safe so multi-byte text is never split mid-character.
func DeriveTitle(firstMessage string) string {
	runes := []rune(firstMessage)
	if len(runes) <= TitleMaxLen {
		return firstMessage
	}
	return string(runes[:TitleMaxLen])
}
