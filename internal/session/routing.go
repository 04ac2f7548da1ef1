package session

import "context"

// RoutingStore sends the designated anonymous owner to a non-durable store
// and every other owner to the durable one. Managed mode uses it so
// header-less requests never touch PostgreSQL.
type RoutingStore struct {
	anonOwner string
	anonymous Store
	durable   Store
}

// NewRoutingStore creates a store that routes anonOwner to anonymous and
// everyone else to durable.
func NewRoutingStore(anonOwner string, anonymous, durable Store) *RoutingStore {
	return &RoutingStore{anonOwner: anonOwner, anonymous: anonymous, durable: durable}
}

func (r *RoutingStore) pick(ownerID string) Store {
	if ownerID == r.anonOwner {
		return r.anonymous
	}
	return r.durable
}

func (r *RoutingStore) Get(ctx context.Context, ownerID, sessionID string) (*Session, error) {
	return r.pick(ownerID).Get(ctx, ownerID, sessionID)
}

func (r *RoutingStore) Upsert(ctx context.Context, sess *Session) error {
	return r.pick(sess.OwnerID).Upsert(ctx, sess)
}

func (r *RoutingStore) Update(ctx context.Context, ownerID, sessionID string, upd Update) error {
	return r.pick(ownerID).Update(ctx, ownerID, sessionID, upd)
}

func (r *RoutingStore) Delete(ctx context.Context, ownerID, sessionID string) error {
	return r.pick(ownerID).Delete(ctx, ownerID, sessionID)
}

func (r *RoutingStore) List(ctx context.Context, ownerID string, limit, offset int) ([]*Session, int, error) {
	return r.pick(ownerID).List(ctx, ownerID, limit, offset)
}
