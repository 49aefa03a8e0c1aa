package registry

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry with the same whole-list TTL
// semantics as the Redis implementation. Used by tests and single-process
// deployments.
type MemoryRegistry struct {
	mu    sync.Mutex
	lists map[string]*memoryList
	now   func() time.Time
}

type memoryList struct {
	ids      []int64
	expireAt time.Time
}

var _ Registry = (*MemoryRegistry)(nil)

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		lists: map[string]*memoryList{},
		now:   time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (r *MemoryRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryRegistry) Register(ctx context.Context, namespace string, userID, historyID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := listKey(namespace, userID)
	l := r.lists[key]
	if l == nil || !l.expireAt.After(r.now()) {
		l = &memoryList{}
		r.lists[key] = l
	}
	l.ids = append(l.ids, historyID)
	l.expireAt = r.now().Add(TTL)
	return nil
}

func (r *MemoryRegistry) ListActive(ctx context.Context, namespace string, userID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.lists[listKey(namespace, userID)]
	if l == nil || !l.expireAt.After(r.now()) {
		return nil, nil
	}
	out := make([]int64, len(l.ids))
	copy(out, l.ids)
	return out, nil
}

func (r *MemoryRegistry) IsActive(ctx context.Context, namespace string, userID, historyID int64) (bool, error) {
	ids, err := r.ListActive(ctx, namespace, userID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == historyID {
			return true, nil
		}
	}
	return false, nil
}
