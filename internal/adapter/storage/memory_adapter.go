package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// FaultFunc is consulted before every write a MemoryRepository transaction
// makes. A non-nil error aborts the write.
type FaultFunc func(op string, rec domain.InventoryRecord) error

// MemoryRepository is a single-node InventoryRepository. Transactions are
// serialized and work on a copy that replaces the live state on commit.
type MemoryRepository struct {
	mu        sync.Mutex
	records   map[string]domain.InventoryRecord
	movements []domain.Movement
	fault     FaultFunc
	writes    atomic.Int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]domain.InventoryRecord)}
}

// InjectFault installs f for subsequent writes; nil removes it.
func (m *MemoryRepository) InjectFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// Writes counts committed record writes.
func (m *MemoryRepository) Writes() int64 {
	return m.writes.Load()
}

func (m *MemoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		memoryState: memoryState{records: make(map[string]domain.InventoryRecord, len(m.records))},
		fault:       m.fault,
	}
	for id, rec := range m.records {
		tx.records[id] = cloneRecord(rec)
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.records = tx.records
	m.movements = append(m.movements, tx.movements...)
	m.writes.Add(tx.writes)
	return nil
}

func (m *MemoryRepository) FindByID(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().FindByID(ctx, id)
}

func (m *MemoryRepository) FindOne(ctx context.Context, filter domain.Filter) (*domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().FindOne(ctx, filter)
}

func (m *MemoryRepository) FindAll(ctx context.Context, filter domain.Filter) ([]domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().FindAll(ctx, filter)
}

func (m *MemoryRepository) FindPage(ctx context.Context, filter domain.Filter, page domain.PageRequest) (domain.Page[domain.InventoryRecord], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state().FindPage(ctx, filter, page)
}

func (m *MemoryRepository) ListMovements(_ context.Context, recordID string, page domain.PageRequest) (domain.Page[domain.Movement], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page = page.Normalized()
	matched := []domain.Movement{}
	for i := len(m.movements) - 1; i >= 0; i-- {
		if m.movements[i].RecordID == recordID {
			matched = append(matched, m.movements[i])
		}
	}

	out := domain.Page[domain.Movement]{Total: len(matched), Items: []domain.Movement{}}
	if page.Offset < len(matched) {
		end := min(page.Offset+page.Limit, len(matched))
		out.Items = matched[page.Offset:end]
	}
	return out, nil
}

func (m *MemoryRepository) state() memoryState {
	return memoryState{records: m.records}
}

// memoryState answers reads over a record map. Results are copies.
type memoryState struct {
	records map[string]domain.InventoryRecord
}

func (s memoryState) FindByID(_ context.Context, id string) (*domain.InventoryRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	c := cloneRecord(rec)
	return &c, nil
}

func (s memoryState) FindOne(ctx context.Context, filter domain.Filter) (*domain.InventoryRecord, error) {
	recs, err := s.FindAll(ctx, filter)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return &recs[0], nil
}

func (s memoryState) FindAll(_ context.Context, filter domain.Filter) ([]domain.InventoryRecord, error) {
	return s.match(filter, domain.PageRequest{}), nil
}

func (s memoryState) FindPage(_ context.Context, filter domain.Filter, page domain.PageRequest) (domain.Page[domain.InventoryRecord], error) {
	page = page.Normalized()
	all := s.match(filter, page)

	out := domain.Page[domain.InventoryRecord]{Total: len(all), Items: []domain.InventoryRecord{}}
	if page.Offset < len(all) {
		end := min(page.Offset+page.Limit, len(all))
		out.Items = all[page.Offset:end]
	}
	return out, nil
}

func (s memoryState) match(filter domain.Filter, page domain.PageRequest) []domain.InventoryRecord {
	pred := filter.Predicate()
	out := []domain.InventoryRecord{}
	for _, rec := range s.records {
		if domain.Evaluate(pred, rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	sortRecords(out, page)
	return out
}

type memoryTx struct {
	memoryState
	movements []domain.Movement
	fault     FaultFunc
	writes    int64
}

func (t *memoryTx) check(op string, rec domain.InventoryRecord) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op, rec)
}

func (t *memoryTx) Create(_ context.Context, rec domain.InventoryRecord) (domain.InventoryRecord, error) {
	if err := t.check("create", rec); err != nil {
		return domain.InventoryRecord{}, err
	}
	if rec.Quantity < 0 {
		return domain.InventoryRecord{}, fmt.Errorf("insert inventory record: quantity %d below zero", rec.Quantity)
	}
	if _, exists := t.records[rec.ID]; exists || t.keyTaken(rec.Key(), rec.ID) {
		return domain.InventoryRecord{}, fmt.Errorf("%w: %s", domain.ErrDuplicateLot, rec.Key())
	}

	rec.Version = 1
	t.records[rec.ID] = cloneRecord(rec)
	t.writes++
	return rec, nil
}

func (t *memoryTx) Update(_ context.Context, rec domain.InventoryRecord) (domain.InventoryRecord, error) {
	if err := t.check("update", rec); err != nil {
		return domain.InventoryRecord{}, err
	}
	if rec.Quantity < 0 {
		return domain.InventoryRecord{}, fmt.Errorf("update inventory record: quantity %d below zero", rec.Quantity)
	}

	current, ok := t.records[rec.ID]
	if !ok || current.Version != rec.Version {
		return domain.InventoryRecord{}, fmt.Errorf("%w: record %s at version %d", domain.ErrConcurrencyConflict, rec.ID, rec.Version)
	}
	if t.keyTaken(rec.Key(), rec.ID) {
		return domain.InventoryRecord{}, fmt.Errorf("%w: %s", domain.ErrDuplicateLot, rec.Key())
	}

	rec.Version++
	rec.CreatedAt, rec.CreatedBy = current.CreatedAt, current.CreatedBy
	t.records[rec.ID] = cloneRecord(rec)
	t.writes++
	return rec, nil
}

func (t *memoryTx) Delete(_ context.Context, id string, version int) error {
	current, ok := t.records[id]
	if err := t.check("delete", current); err != nil {
		return err
	}
	if !ok || current.Version != version {
		return fmt.Errorf("%w: record %s at version %d", domain.ErrConcurrencyConflict, id, version)
	}

	delete(t.records, id)
	t.writes++
	return nil
}

func (t *memoryTx) AppendMovement(_ context.Context, mv domain.Movement) error {
	t.movements = append(t.movements, mv)
	return nil
}

func (t *memoryTx) keyTaken(key domain.LocationKey, exceptID string) bool {
	for id, rec := range t.records {
		if id != exceptID && rec.Key() == key {
			return true
		}
	}
	return false
}

func cloneRecord(rec domain.InventoryRecord) domain.InventoryRecord {
	if rec.ExpirationDate != nil {
		t := *rec.ExpirationDate
		rec.ExpirationDate = &t
	}
	return rec
}

// sortRecords orders like the MySQL adapter's ORDER BY clauses.
func sortRecords(recs []domain.InventoryRecord, page domain.PageRequest) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		switch page.SortBy {
		case domain.SortExpirationDate:
			if (a.ExpirationDate == nil) != (b.ExpirationDate == nil) {
				return b.ExpirationDate == nil
			}
			if a.ExpirationDate != nil && !a.ExpirationDate.Equal(*b.ExpirationDate) {
				return a.ExpirationDate.Before(*b.ExpirationDate) != page.Desc
			}
		case domain.SortQuantity:
			if a.Quantity != b.Quantity {
				return (a.Quantity < b.Quantity) != page.Desc
			}
		case domain.SortCreatedAt:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt) != page.Desc
			}
		case domain.SortUpdatedAt:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt) != page.Desc
			}
		default:
			if (a.ExpirationDate == nil) != (b.ExpirationDate == nil) {
				return b.ExpirationDate == nil
			}
			if a.ExpirationDate != nil && !a.ExpirationDate.Equal(*b.ExpirationDate) {
				return a.ExpirationDate.Before(*b.ExpirationDate)
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	})
}

// MemoryCatalog is an in-process master-data Catalog.
type MemoryCatalog struct {
	mu         sync.RWMutex
	warehouses map[string]domain.Warehouse
	variants   map[string]domain.Variant
	units      map[string]domain.Unit
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		warehouses: make(map[string]domain.Warehouse),
		variants:   make(map[string]domain.Variant),
		units:      make(map[string]domain.Unit),
	}
}

func (c *MemoryCatalog) AddWarehouse(wh domain.Warehouse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warehouses[wh.ID] = wh
}

func (c *MemoryCatalog) AddVariant(v domain.Variant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variants[v.ID] = v
}

func (c *MemoryCatalog) AddUnit(u domain.Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.units[u.ID] = u
}

func (c *MemoryCatalog) FindWarehouse(_ context.Context, id string) (*domain.Warehouse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wh, ok := c.warehouses[id]
	if !ok {
		return nil, nil
	}
	return &wh, nil
}

func (c *MemoryCatalog) FindVariant(_ context.Context, id string) (*domain.Variant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variants[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (c *MemoryCatalog) FindUnit(_ context.Context, id string) (*domain.Unit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.units[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// LocalLocker is a KeyLocker for a single process. A key's entry lives only
// while someone holds or waits on it.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.keys[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.keys[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-lk.ch
				l.forget(key, lk)
			})
		}, nil
	case <-ctx.Done():
		l.forget(key, lk)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) forget(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.keys, key)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// MemorySequencer issues per-scope counters starting at 1.
type MemorySequencer struct {
	mu   sync.Mutex
	next map[string]int64
}

func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{next: make(map[string]int64)}
}

func (s *MemorySequencer) Next(_ context.Context, scope string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[scope]++
	return s.next[scope], nil
}

// MemoryIdempotency keeps claimed request keys for the life of the process.
type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]struct{})}
}

func (m *MemoryIdempotency) SetIdempotency(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *MemoryIdempotency) ReleaseIdempotency(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
