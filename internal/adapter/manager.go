package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Annany2002/nebula-gateway/internal/domain"
)

const (
	connectTimeout = 10 * time.Second
	// defaultRetireDelay is how long a replaced pool stays open for the
	// requests that already hold it.
	defaultRetireDelay = 30 * time.Second
)

// OpenFunc opens an adapter for a descriptor. Manager uses Open by default.
type OpenFunc func(ctx context.Context, desc *domain.DatabaseDescriptor, pool PoolOptions) (Adapter, error)

type managedAdapter struct {
	adapter Adapter
	connKey string
}

// Manager keeps one pooled adapter per database descriptor. Requests share
// the pool; each query checks out its own connection from it.
type Manager struct {
	mu          sync.RWMutex
	adapters    map[int64]managedAdapter
	retiring    map[*sql.DB]*time.Timer
	group       singleflight.Group
	pool        PoolOptions
	open        OpenFunc
	retireDelay time.Duration
}

// NewManager returns a Manager that opens databases with the given pool limits.
func NewManager(pool PoolOptions) *Manager {
	return &Manager{
		adapters:    make(map[int64]managedAdapter),
		retiring:    make(map[*sql.DB]*time.Timer),
		pool:        pool,
		open:        Open,
		retireDelay: defaultRetireDelay,
	}
}

// WithRetireDelay sets how long a pool replaced after a settings change stays
// open before it is closed.
func (m *Manager) WithRetireDelay(d time.Duration) *Manager {
	m.retireDelay = d
	return m
}

// WithOpenFunc replaces the opener. Tests use it to count or fail opens.
func (m *Manager) WithOpenFunc(open OpenFunc) *Manager {
	m.open = open
	return m
}

// connectionKey changes whenever the admin edits how a database is reached,
// so a stale pool is replaced instead of reused.
func connectionKey(desc *domain.DatabaseDescriptor) string {
	return fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s|%s", desc.Engine, desc.FilePath, desc.Host, desc.Port,
		desc.Username, desc.Password, desc.DBName, desc.SchemaName)
}

// Get returns the adapter of desc, opening it on first use. Concurrent first
// uses of the same descriptor share one open.
func (m *Manager) Get(ctx context.Context, desc *domain.DatabaseDescriptor) (Adapter, error) {
	key := connectionKey(desc)

	m.mu.RLock()
	entry, ok := m.adapters[desc.ID]
	m.mu.RUnlock()
	if ok && entry.connKey == key {
		return entry.adapter, nil
	}

	v, err, _ := m.group.Do(strconv.FormatInt(desc.ID, 10)+"|"+key, func() (any, error) {
		m.mu.RLock()
		entry, ok := m.adapters[desc.ID]
		m.mu.RUnlock()
		if ok && entry.connKey == key {
			return entry.adapter, nil
		}

		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), connectTimeout)
		defer cancel()
		a, err := m.open(openCtx, desc, m.pool)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		stale, hadStale := m.adapters[desc.ID]
		m.adapters[desc.ID] = managedAdapter{adapter: a, connKey: key}
		m.mu.Unlock()

		if hadStale {
			customLog.Printf("Adapter: Connection settings of database %d changed, replacing pool", desc.ID)
			m.retire(desc.ID, stale.adapter.DB())
		}
		customLog.Printf("Adapter: Opened %s pool for database %d", desc.Engine, desc.ID)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Adapter), nil
}

// retire closes db once the retire delay has passed. Requests that fetched
// it before the swap keep a working pool until then.
func (m *Manager) retire(id int64, db *sql.DB) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retiring[db] = time.AfterFunc(m.retireDelay, func() {
		m.mu.Lock()
		delete(m.retiring, db)
		m.mu.Unlock()
		if err := db.Close(); err != nil {
			customLog.Warnf("Adapter: Failed to close replaced pool of database %d: %v", id, err)
		}
	})
}

// Close closes every pool the manager opened, including replaced pools still
// waiting to retire.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for db, timer := range m.retiring {
		// A timer that already fired closes its pool itself.
		if timer.Stop() {
			if err := db.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(m.retiring, db)
	}
	for id, entry := range m.adapters {
		if err := entry.adapter.DB().Close(); err != nil {
			errs = append(errs, fmt.Errorf("database %d: %w", id, err))
		}
		delete(m.adapters, id)
	}
	return errors.Join(errs...)
}
