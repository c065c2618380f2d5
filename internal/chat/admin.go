package chat

import (
	"context"
	"sync"
)

// AdminLookup finds the deployment's admin account.
type AdminLookup interface {
	FindAdminID(ctx context.Context) (string, error)
}

// AdminResolver caches the admin's user id after the first successful lookup.
// Single-admin deployment: members always converse with this account, and the
// unread counter needs to know which recipient is the admin.
type AdminResolver struct {
	lookup AdminLookup

	mu sync.Mutex
	id string
}

func NewAdminResolver(lookup AdminLookup) *AdminResolver {
	return &AdminResolver{lookup: lookup}
}

// AdminID returns the cached admin id, looking it up on first use. The admin
// account may not exist yet right after a fresh install; callers get the
// lookup error and retry on the next call.
func (r *AdminResolver) AdminID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.id != "" {
		return r.id, nil
	}
	id, err := r.lookup.FindAdminID(ctx)
	if err != nil {
		return "", err
	}
	r.id = id
	return id, nil
}
