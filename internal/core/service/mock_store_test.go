package service

import (
	"context"
	"sync"
	"time"

	"github.com/elidria/stock-reserve/internal/core/domain"
	"github.com/elidria/stock-reserve/internal/port"
)

// mockStore emulates the relational store in memory. Begin takes txMu for the
// duration of the transaction, which stands in for row locking; staged writes
// become visible only on Commit.
type mockStore struct {
	txMu sync.Mutex

	lockMu sync.Mutex
	locks  map[string]mockLockRow

	dataMu       sync.Mutex
	resources    map[int64]domain.StockSnapshot
	versions     map[int64]uint64
	reservations map[int64]domain.Reservation
	nextID       int64
	audits       []domain.AuditEntry

	auditErr      error
	conflictsLeft int    // StockForUpdate fails with ErrTransientConflict while > 0
	beforeBegin   func() // test hook, runs before each Begin
}

type mockLockRow struct {
	token     string
	expiresAt time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		locks:        make(map[string]mockLockRow),
		resources:    make(map[int64]domain.StockSnapshot),
		versions:     make(map[int64]uint64),
		reservations: make(map[int64]domain.Reservation),
	}
}

func (m *mockStore) addResource(id int64, stock int, published bool) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.resources[id] = domain.StockSnapshot{
		ResourceID:    id,
		StockQuantity: stock,
		Published:     published,
		UpdatedAt:     time.Now(),
	}
}

func (m *mockStore) version(id int64) uint64 {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return m.versions[id]
}

func (m *mockStore) stock(id int64) int {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return m.resources[id].StockQuantity
}

func (m *mockStore) reservation(id int64) *domain.Reservation {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	if r, ok := m.reservations[id]; ok {
		return &r
	}
	return nil
}

func (m *mockStore) heldLocks() int {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	n := 0
	for _, row := range m.locks {
		if row.expiresAt.After(time.Now()) {
			n++
		}
	}
	return n
}

func (m *mockStore) TryAcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	if row, ok := m.locks[key]; ok && row.expiresAt.After(time.Now()) {
		return false, nil
	}
	m.locks[key] = mockLockRow{token: token, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (m *mockStore) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	if row, ok := m.locks[key]; ok && row.token == token {
		delete(m.locks, key)
		return true, nil
	}
	return false, nil
}

func (m *mockStore) BumpVersion(ctx context.Context, resourceID int64) (uint64, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.versions[resourceID]++
	return m.versions[resourceID], nil
}

func (m *mockStore) Begin(ctx context.Context) (port.StoreTx, error) {
	if m.beforeBegin != nil {
		m.beforeBegin()
	}
	m.txMu.Lock()
	return &mockTx{
		store:      m,
		confirms:   make(map[int64]mockConfirm),
		decrements: make(map[int64]int),
	}, nil
}

func (m *mockStore) ReservationByID(ctx context.Context, id int64) (*domain.Reservation, error) {
	return m.reservation(id), nil
}

func (m *mockStore) SessionReservations(ctx context.Context, sessionID string, now time.Time) ([]domain.Reservation, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()

	var out []domain.Reservation
	for _, r := range m.reservations {
		if r.SessionID == sessionID && r.ExpiresAt.After(now) && r.OrderID == 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStore) Availability(ctx context.Context, resourceID int64, now time.Time) (int, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()

	res, ok := m.resources[resourceID]
	if !ok || !res.Published {
		return 0, domain.ErrResourceUnavailable
	}

	reserved := 0
	for _, r := range m.reservations {
		if r.ResourceID == resourceID && r.ExpiresAt.After(now) && r.OrderID == 0 {
			reserved += r.Quantity
		}
	}
	return res.StockQuantity - reserved, nil
}

func (m *mockStore) DeleteReservation(ctx context.Context, id int64) (bool, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()

	if _, ok := m.reservations[id]; !ok {
		return false, nil
	}
	delete(m.reservations, id)
	return true, nil
}

func (m *mockStore) AppendAudit(ctx context.Context, e domain.AuditEntry) error {
	if m.auditErr != nil {
		return m.auditErr
	}
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.audits = append(m.audits, e)
	return nil
}

type mockConfirm struct {
	orderID   int64
	expiresAt time.Time
}

type mockTx struct {
	store      *mockStore
	inserted   []domain.Reservation
	confirms   map[int64]mockConfirm
	decrements map[int64]int
	deleteAt   *time.Time
	done       bool
}

func (t *mockTx) StockForUpdate(ctx context.Context, resourceID int64) (*domain.StockSnapshot, error) {
	t.store.dataMu.Lock()
	defer t.store.dataMu.Unlock()

	if t.store.conflictsLeft > 0 {
		t.store.conflictsLeft--
		return nil, domain.ErrTransientConflict
	}

	res, ok := t.store.resources[resourceID]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (t *mockTx) PendingQuantity(ctx context.Context, resourceID int64, now time.Time) (int, error) {
	t.store.dataMu.Lock()
	defer t.store.dataMu.Unlock()

	reserved := 0
	for _, r := range t.store.reservations {
		if r.ResourceID == resourceID && r.ExpiresAt.After(now) && r.OrderID == 0 {
			reserved += r.Quantity
		}
	}
	return reserved, nil
}

func (t *mockTx) InsertReservation(ctx context.Context, r *domain.Reservation) (int64, error) {
	t.store.dataMu.Lock()
	t.store.nextID++
	r.ID = t.store.nextID
	t.store.dataMu.Unlock()

	t.inserted = append(t.inserted, *r)
	return r.ID, nil
}

func (t *mockTx) ReservationForUpdate(ctx context.Context, id int64) (*domain.Reservation, error) {
	return t.store.reservation(id), nil
}

func (t *mockTx) ConfirmReservation(ctx context.Context, id, orderID int64, expiresAt time.Time) error {
	t.confirms[id] = mockConfirm{orderID: orderID, expiresAt: expiresAt}
	return nil
}

func (t *mockTx) DecrementStock(ctx context.Context, resourceID int64, quantity int) error {
	t.decrements[resourceID] += quantity
	return nil
}

func (t *mockTx) ExpiredForUpdate(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	t.store.dataMu.Lock()
	defer t.store.dataMu.Unlock()

	var out []domain.Reservation
	for _, r := range t.store.reservations {
		if !r.ExpiresAt.After(now) && r.OrderID == 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *mockTx) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	t.deleteAt = &now
	return t.countExpired(now), nil
}

func (t *mockTx) countExpired(now time.Time) int64 {
	t.store.dataMu.Lock()
	defer t.store.dataMu.Unlock()

	var n int64
	for _, r := range t.store.reservations {
		if !r.ExpiresAt.After(now) && r.OrderID == 0 {
			n++
		}
	}
	return n
}

func (t *mockTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true

	t.store.dataMu.Lock()
	for _, r := range t.inserted {
		t.store.reservations[r.ID] = r
	}
	for id, c := range t.confirms {
		r := t.store.reservations[id]
		r.OrderID = c.orderID
		r.ExpiresAt = c.expiresAt
		t.store.reservations[id] = r
	}
	for id, qty := range t.decrements {
		res := t.store.resources[id]
		res.StockQuantity -= qty
		t.store.resources[id] = res
	}
	if t.deleteAt != nil {
		for id, r := range t.store.reservations {
			if !r.ExpiresAt.After(*t.deleteAt) && r.OrderID == 0 {
				delete(t.store.reservations, id)
			}
		}
	}
	t.store.dataMu.Unlock()

	t.store.txMu.Unlock()
	return nil
}

func (t *mockTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.txMu.Unlock()
	return nil
}

// mockCache records hint traffic so tests can assert it is write-only from
// the admission path's perspective.
type mockCache struct {
	mu        sync.Mutex
	hints     map[int64]int
	published int
	reads     int
}

func newMockCache() *mockCache {
	return &mockCache{hints: make(map[int64]int)}
}

func (c *mockCache) PublishAvailability(ctx context.Context, resourceID int64, available int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hints[resourceID] = available
	c.published++
	return nil
}

func (c *mockCache) CachedAvailability(ctx context.Context, resourceID int64) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	v, ok := c.hints[resourceID]
	return v, ok, nil
}

func (c *mockCache) InvalidateAvailability(ctx context.Context, resourceID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.hints, resourceID)
	return nil
}
