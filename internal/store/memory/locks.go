package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// pruneAt is the table size above which expired leases are swept on
// Acquire. Request digests claimed for replay protection are never released.
const pruneAt = 4096

type lease struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager with expiring in-process leases.
type LockManager struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLockManager creates an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{leases: make(map[string]lease), now: time.Now}
}

// Acquire takes key for ttl or fails with ErrLockHeld. An expired lease is
// taken over.
func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.leases[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	if len(m.leases) >= pruneAt {
		for k, l := range m.leases {
			if !now.Before(l.expires) {
				delete(m.leases, k)
			}
		}
	}
	token := uuid.NewString()
	m.leases[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.leases[key]; ok && cur.token == token {
				delete(m.leases, key)
			}
		})
	}, nil
}
