package session

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// MemoryStore holds sessions in memory for anonymous users and local mode.
// Nothing survives a restart, and Delete is a hard delete; anonymous users
// never reach the durable store. This is a policy boundary to preserve,
// not a bug.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[storeKey]*Session
}

type storeKey struct {
	ownerID   string
	sessionID string
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[storeKey]*Session)}
}

// Get returns a copy of the session, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, ownerID, sessionID string) (*Session, error) {
	if err := validateKeys(ownerID, sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[storeKey{ownerID, sessionID}]
	if !ok || sess.Status == StatusDeleted {
		return nil, ErrNotFound
	}
	return copySession(sess), nil
}

// Upsert creates or replaces a session record.
func (s *MemoryStore) Upsert(_ context.Context, sess *Session) error {
	if err := validateKeys(sess.OwnerID, sess.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[storeKey{sess.OwnerID, sess.ID}] = copySession(sess)
	return nil
}

// Update applies a partial mutation.
func (s *MemoryStore) Update(_ context.Context, ownerID, sessionID string, upd Update) error {
	if err := validateKeys(ownerID, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[storeKey{ownerID, sessionID}]
	if !ok || sess.Status == StatusDeleted {
		return ErrNotFound
	}

	if upd.Title != nil {
		sess.Title = *upd.Title
	}
	if upd.MessageCount != nil {
		sess.MessageCount = *upd.MessageCount
	}
	if upd.LastActivity != nil {
		sess.LastActivity = *upd.LastActivity
	}
	if upd.Status != nil {
		sess.Status = *upd.Status
	}
	if upd.Starred != nil {
		sess.Starred = *upd.Starred
	}
	if upd.Tags != nil {
		sess.Tags = slices.Clone(upd.Tags)
	}
	if upd.Metadata != nil {
		sess.Metadata = maps.Clone(upd.Metadata)
	}
	return nil
}

// Delete hard-deletes the record (anonymous sessions are not durable).
func (s *MemoryStore) Delete(_ context.Context, ownerID, sessionID string) error {
	if err := validateKeys(ownerID, sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey{ownerID, sessionID}
	if _, ok := s.sessions[key]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, key)
	return nil
}

// List returns non-deleted sessions ordered by last activity descending.
func (s *MemoryStore) List(_ context.Context, ownerID string, limit, offset int) ([]*Session, int, error) {
	if ownerID == "" {
		return nil, 0, ErrEmptyOwner
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*Session
	for key, sess := range s.sessions {
		if key.ownerID == ownerID && sess.Status != StatusDeleted {
			all = append(all, copySession(sess))
		}
	}
	slices.SortFunc(all, func(a, b *Session) int {
		return b.LastActivity.Compare(a.LastActivity)
	})

	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func copySession(sess *Session) *Session {
	out := *sess
	out.Tags = slices.Clone(sess.Tags)
	out.Metadata = maps.Clone(sess.Metadata)
	return &out
}
