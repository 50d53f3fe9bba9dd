package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	opCheckIn       = "check_in"
	opCheckOut      = "check_out"
	opAdjust        = "adjust"
	opTransfer      = "transfer"
	opWriteOff      = "write_off"
	opPhysicalCount = "physical_count"
	opDelete        = "delete"

	defaultMaxAttempts = 3
	lockKeyPrefix      = "inventory:lock:"
	idempotencyPrefix  = "inventory:request:"
)

// LedgerService is the inventory ledger engine. Every mutation validates its
// command, checks master data, takes the per-variant locks, then re-reads
// and writes inside one store transaction.
type LedgerService struct {
	repo        port.InventoryRepository
	catalog     port.Catalog
	locker      port.KeyLocker
	batches     *BatchGenerator
	idempotency port.IdempotencyStore
	events      *EventDispatcher
	observer    port.LedgerObserver
	logger      *zap.Logger
	validate    *validator.Validate
	now         func() time.Time
	maxAttempts int
}

type Option func(*LedgerService)

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func WithIdempotency(store port.IdempotencyStore) Option {
	return func(s *LedgerService) { s.idempotency = store }
}

func WithEvents(d *EventDispatcher) Option {
	return func(s *LedgerService) { s.events = d }
}

func WithObserver(o port.LedgerObserver) Option {
	return func(s *LedgerService) { s.observer = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *LedgerService) { s.logger = l }
}

// WithMaxAttempts bounds how often an operation is retried after a
// concurrency conflict.
func WithMaxAttempts(n int) Option {
	return func(s *LedgerService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewLedgerService(repo port.InventoryRepository, catalog port.Catalog, locker port.KeyLocker, batches *BatchGenerator, opts ...Option) *LedgerService {
	s := &LedgerService{
		repo:        repo,
		catalog:     catalog,
		locker:      locker,
		batches:     batches,
		logger:      zap.NewNop(),
		validate:    newValidator(),
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutation is one serialized, transactional ledger operation. run is
// re-invoked from scratch on every attempt.
type mutation struct {
	op        string
	requestID string
	lockKeys  []string
	run       func(ctx context.Context, tx port.InventoryTx) error
}

func (s *LedgerService) execute(ctx context.Context, m mutation) (err error) {
	start := time.Now()
	defer func() {
		if s.observer != nil {
			outcome := "success"
			if err != nil {
				outcome = domain.Kind(err)
			}
			s.observer.ObserveOperation(m.op, outcome, time.Since(start))
		}
	}()

	if m.requestID != "" && s.idempotency != nil {
		key := idempotencyPrefix + m.op + ":" + m.requestID
		ok, ierr := s.idempotency.SetIdempotency(ctx, key)
		if ierr != nil {
			return fmt.Errorf("idempotency check failed: %w", ierr)
		}
		if !ok {
			return domain.ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := s.idempotency.ReleaseIdempotency(context.WithoutCancel(ctx), key); rerr != nil {
				s.logger.Warn("failed to release request id", zap.String("request_id", m.requestID), zap.Error(rerr))
			}
		}()
	}

	unlock, err := s.lockAll(ctx, m.lockKeys)
	if err != nil {
		return err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		err = s.repo.RunInTx(ctx, m.run)
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) || attempt >= s.maxAttempts {
			return err
		}
		s.logger.Debug("retrying after concurrency conflict",
			zap.String("operation", m.op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

// lockAll takes the keys in sorted order so two transfers in opposite
// directions cannot deadlock.
func (s *LedgerService) lockAll(ctx context.Context, keys []string) (func(), error) {
	uniq := make(map[string]struct{}, len(keys))
	sorted := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, dup := uniq[k]; dup {
			continue
		}
		uniq[k] = struct{}{}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	release := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, k := range sorted {
		unlock, err := s.locker.Lock(ctx, lockKeyPrefix+k)
		if err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		releases = append(releases, unlock)
	}
	return release, nil
}

func (s *LedgerService) emit(events ...domain.LedgerEvent) {
	if s.events == nil {
		return
	}
	for _, ev := range events {
		if !s.events.Enqueue(ev) {
			s.logger.Warn("dropped ledger event", zap.String("event_id", ev.ID), zap.String("type", string(ev.Type)))
		}
	}
}

func (s *LedgerService) requireWarehouse(ctx context.Context, id string) (*domain.Warehouse, error) {
	wh, err := s.catalog.FindWarehouse(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find warehouse %s: %w", id, err)
	}
	if wh == nil {
		return nil, fmt.Errorf("%w: warehouse %s", domain.ErrNotFound, id)
	}
	return wh, nil
}

func (s *LedgerService) requireVariantAndUnit(ctx context.Context, variantID, unitID string) error {
	v, err := s.catalog.FindVariant(ctx, variantID)
	if err != nil {
		return fmt.Errorf("find variant %s: %w", variantID, err)
	}
	if v == nil {
		return fmt.Errorf("%w: variant %s", domain.ErrNotFound, variantID)
	}

	u, err := s.catalog.FindUnit(ctx, unitID)
	if err != nil {
		return fmt.Errorf("find unit %s: %w", unitID, err)
	}
	if u == nil {
		return fmt.Errorf("%w: unit %s", domain.ErrNotFound, unitID)
	}
	return nil
}

// effectiveExpiration falls back to the warehouse registration horizon and
// rejects dates already in the past.
func effectiveExpiration(requested *time.Time, wh *domain.Warehouse, now time.Time) (*time.Time, error) {
	exp := requested
	if exp == nil && !wh.RegistrationExpirationDate.IsZero() {
		t := wh.RegistrationExpirationDate
		exp = &t
	}
	if exp != nil && exp.Before(now) {
		return nil, fmt.Errorf("%w: expiration %s is before %s", domain.ErrExpiredStock,
			exp.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return exp, nil
}

// pickLot resolves the lot a decrement draws from: the first-expiring lot of
// the requested unit and status that holds at least qty.
func pickLot(ctx context.Context, tx port.InventoryTx, warehouseID, variantID, batch, unitID string, status domain.InventoryStatus, qty int) (*domain.InventoryRecord, error) {
	candidates, err := tx.FindAll(ctx, domain.Filter{
		WarehouseID: warehouseID,
		VariantID:   variantID,
		Batch:       batch,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: warehouse %s variant %s", domain.ErrInventoryNotFound, warehouseID, variantID)
	}

	matched, largest := false, 0
	for i := range candidates {
		c := candidates[i]
		if c.UnitID != unitID || c.Status != status {
			continue
		}
		matched = true
		if c.Quantity >= qty {
			return &c, nil
		}
		largest = max(largest, c.Quantity)
	}

	if !matched {
		return nil, fmt.Errorf("%w: no lot of variant %s in warehouse %s with unit %s and status %s",
			domain.ErrAttributeMismatch, variantID, warehouseID, unitID, status)
	}
	return nil, fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientStock, qty, largest)
}

func holdsUnit(lots []domain.InventoryRecord, unitID string) bool {
	for _, l := range lots {
		if l.UnitID == unitID {
			return true
		}
	}
	return false
}

// mergeInto adds qty to the lot at key, or creates the lot. A lot holding the
// batch under another unit or status is a mismatch, never a merge. Without a
// batch, stock of the variant held only under other units is a mismatch too.
func (s *LedgerService) mergeInto(ctx context.Context, tx port.InventoryTx, key domain.LocationKey, qty int, exp *time.Time, actor string, now time.Time) (domain.InventoryRecord, int, error) {
	existing, err := tx.FindOne(ctx, domain.Filter{
		WarehouseID: key.WarehouseID,
		VariantID:   key.VariantID,
		UnitID:      key.UnitID,
		Status:      key.Status,
		Batch:       key.Batch,
	})
	if err != nil {
		return domain.InventoryRecord{}, 0, err
	}

	if existing == nil && key.Batch != "" {
		other, err := tx.FindOne(ctx, domain.Filter{
			WarehouseID: key.WarehouseID,
			VariantID:   key.VariantID,
			Batch:       key.Batch,
		})
		if err != nil {
			return domain.InventoryRecord{}, 0, err
		}
		if other != nil {
			return domain.InventoryRecord{}, 0, fmt.Errorf("%w: batch %s is held with unit %s and status %s",
				domain.ErrAttributeMismatch, key.Batch, other.UnitID, other.Status)
		}
	}

	if existing == nil && key.Batch == "" {
		held, err := tx.FindAll(ctx, domain.Filter{
			WarehouseID: key.WarehouseID,
			VariantID:   key.VariantID,
			Status:      key.Status,
		})
		if err != nil {
			return domain.InventoryRecord{}, 0, err
		}
		if len(held) > 0 && !holdsUnit(held, key.UnitID) {
			return domain.InventoryRecord{}, 0, fmt.Errorf("%w: variant %s in warehouse %s is held with unit %s",
				domain.ErrAttributeMismatch, key.VariantID, key.WarehouseID, held[0].UnitID)
		}
	}

	if existing == nil {
		if key.Batch == "" {
			key.Batch, err = s.batches.Generate(ctx, key.WarehouseID, key.VariantID, now)
			if err != nil {
				return domain.InventoryRecord{}, 0, err
			}
		}
		created, err := tx.Create(ctx, domain.NewInventoryRecord(key, qty, exp, actor, now))
		if errors.Is(err, domain.ErrDuplicateLot) {
			return domain.InventoryRecord{}, 0, fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
		}
		return created, 0, err
	}

	rec := *existing
	rec.Quantity += qty
	rec.ExpirationDate = domain.LaterOf(rec.ExpirationDate, exp)
	rec.Touch(actor, now)

	updated, err := tx.Update(ctx, rec)
	return updated, existing.Quantity, err
}

// CheckIn receives stock into a lot, merging into an existing lot of the
// same identity.
func (s *LedgerService) CheckIn(ctx context.Context, cmd CheckInCommand) (domain.InventoryRecord, error) {
	if err := s.validateCommand(cmd); err != nil {
		return domain.InventoryRecord{}, err
	}
	status := statusOrDefault(cmd.Status)

	wh, err := s.requireWarehouse(ctx, cmd.WarehouseID)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	if err := s.requireVariantAndUnit(ctx, cmd.VariantID, cmd.UnitID); err != nil {
		return domain.InventoryRecord{}, err
	}

	now := s.now()
	exp, err := effectiveExpiration(cmd.ExpirationDate, wh, now)
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	key := domain.LocationKey{
		WarehouseID: cmd.WarehouseID,
		VariantID:   cmd.VariantID,
		UnitID:      cmd.UnitID,
		Batch:       cmd.Batch,
		Status:      status,
	}

	var result domain.InventoryRecord
	err = s.execute(ctx, mutation{
		op:        opCheckIn,
		requestID: cmd.RequestID,
		lockKeys:  []string{key.LockKey()},
		run: func(ctx context.Context, tx port.InventoryTx) error {
			rec, before, err := s.mergeInto(ctx, tx, key, cmd.Quantity, exp, cmd.Actor, now)
			if err != nil {
				return err
			}
			result = rec
			return tx.AppendMovement(ctx, domain.NewMovement(domain.MovementCheckIn, rec, before, cmd.Actor, now))
		},
	})
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.logger.Info("inventory checked in",
		zap.String("record_id", result.ID),
		zap.String("key", result.Key().String()),
		zap.Int("quantity", cmd.Quantity),
		zap.Int("balance", result.Quantity),
	)
	ev := domain.NewLedgerEvent(domain.EventCheckedIn, result, cmd.Quantity, now)
	ev.Actor = cmd.Actor
	s.emit(ev)

	return result, nil
}

// decrement is the shared body of CheckOut and WriteOff.
func (s *LedgerService) decrement(ctx context.Context, op string, movement domain.MovementType, requestID, actor, warehouseID, variantID, unitID, batch string, status domain.InventoryStatus, qty int, reason, notes string) (domain.InventoryRecord, time.Time, error) {
	if _, err := s.requireWarehouse(ctx, warehouseID); err != nil {
		return domain.InventoryRecord{}, time.Time{}, err
	}
	if err := s.requireVariantAndUnit(ctx, variantID, unitID); err != nil {
		return domain.InventoryRecord{}, time.Time{}, err
	}

	now := s.now()
	key := domain.LocationKey{WarehouseID: warehouseID, VariantID: variantID}

	var result domain.InventoryRecord
	err := s.execute(ctx, mutation{
		op:        op,
		requestID: requestID,
		lockKeys:  []string{key.LockKey()},
		run: func(ctx context.Context, tx port.InventoryTx) error {
			lot, err := pickLot(ctx, tx, warehouseID, variantID, batch, unitID, status, qty)
			if err != nil {
				return err
			}

			rec := *lot
			rec.Quantity -= qty
			rec.Touch(actor, now)

			updated, err := tx.Update(ctx, rec)
			if err != nil {
				return err
			}
			result = updated

			m := domain.NewMovement(movement, updated, lot.Quantity, actor, now)
			m.Reason = reason
			m.Notes = notes
			return tx.AppendMovement(ctx, m)
		},
	})
	return result, now, err
}

// CheckOut issues stock from the first-expiring matching lot. A lot that
// reaches zero is kept for its audit trail.
func (s *LedgerService) CheckOut(ctx context.Context, cmd CheckOutCommand) (domain.InventoryRecord, error) {
	if err := s.validateCommand(cmd); err != nil {
		return domain.InventoryRecord{}, err
	}

	result, now, err := s.decrement(ctx, opCheckOut, domain.MovementCheckOut, cmd.RequestID, cmd.Actor,
		cmd.WarehouseID, cmd.VariantID, cmd.UnitID, cmd.Batch, statusOrDefault(cmd.Status), cmd.Quantity, "", "")
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.logger.Info("inventory checked out",
		zap.String("record_id", result.ID),
		zap.String("key", result.Key().String()),
		zap.Int("quantity", cmd.Quantity),
		zap.Int("balance", result.Quantity),
	)
	ev := domain.NewLedgerEvent(domain.EventCheckedOut, result, cmd.Quantity, now)
	ev.Actor = cmd.Actor
	s.emit(ev)

	return result, nil
}

// WriteOff removes available stock from the books. The reason and notes are
// kept on the movement and the event.
func (s *LedgerService) WriteOff(ctx context.Context, cmd WriteOffCommand) (domain.InventoryRecord, error) {
	cmd.Reason = strings.TrimSpace(cmd.Reason)
	if err := s.validateCommand(cmd); err != nil {
		return domain.InventoryRecord{}, err
	}

	result, now, err := s.decrement(ctx, opWriteOff, domain.MovementWriteOff, cmd.RequestID, cmd.Actor,
		cmd.WarehouseID, cmd.VariantID, cmd.UnitID, cmd.Batch, domain.StatusAvailable, cmd.Quantity, cmd.Reason, cmd.Notes)
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.logger.Info("inventory written off",
		zap.String("record_id", result.ID),
		zap.String("key", result.Key().String()),
		zap.Int("quantity", cmd.Quantity),
		zap.String("reason", cmd.Reason),
	)
	ev := domain.NewLedgerEvent(domain.EventWrittenOff, result, cmd.Quantity, now)
	ev.Actor = cmd.Actor
	ev.Reason = cmd.Reason
	ev.Notes = cmd.Notes
	s.emit(ev)

	return result, nil
}

// AdjustQuantity overwrites the quantity of an existing lot. It is the
// administrative correction path, so batch, unit and expiration may change.
func (s *LedgerService) AdjustQuantity(ctx context.Context, cmd AdjustQuantityCommand) (domain.InventoryRecord, error) {
	if err := s.validateCommand(cmd); err != nil {
		return domain.InventoryRecord{}, err
	}
	status := statusOrDefault(cmd.Status)

	if _, err := s.requireWarehouse(ctx, cmd.WarehouseID); err != nil {
		return domain.InventoryRecord{}, err
	}
	if err := s.requireVariantAndUnit(ctx, cmd.VariantID, cmd.UnitID); err != nil {
		return domain.InventoryRecord{}, err
	}

	now := s.now()
	key := domain.LocationKey{WarehouseID: cmd.WarehouseID, VariantID: cmd.VariantID}

	var (
		result domain.InventoryRecord
		before int
	)
	err := s.execute(ctx, mutation{
		op:        opAdjust,
		requestID: cmd.RequestID,
		lockKeys:  []string{key.LockKey()},
		run: func(ctx context.Context, tx port.InventoryTx) error {
			candidates, err := tx.FindAll(ctx, domain.Filter{
				WarehouseID: cmd.WarehouseID,
				VariantID:   cmd.VariantID,
				Status:      status,
			})
			if err != nil {
				return err
			}

			var target *domain.InventoryRecord
			if cmd.Batch != "" {
				for i := range candidates {
					if candidates[i].Batch == cmd.Batch {
						target = &candidates[i]
						break
					}
				}
			}
			if target == nil {
				switch len(candidates) {
				case 0:
					return fmt.Errorf("%w: warehouse %s variant %s status %s",
						domain.ErrInventoryNotFound, cmd.WarehouseID, cmd.VariantID, status)
				case 1:
					target = &candidates[0]
				default:
					return fmt.Errorf("%w: %d lots match, batch is required", domain.ErrValidation, len(candidates))
				}
			}

			rec := *target
			rec.Quantity = cmd.Quantity
			if cmd.Batch != "" {
				rec.Batch = cmd.Batch
			}
			if cmd.ExpirationDate != nil {
				rec.ExpirationDate = cmd.ExpirationDate
			}
			rec.UnitID = cmd.UnitID
			rec.Touch(cmd.Actor, now)

			updated, err := tx.Update(ctx, rec)
			if errors.Is(err, domain.ErrDuplicateLot) {
				return fmt.Errorf("%w: lot %s already exists", domain.ErrAttributeMismatch, rec.Key())
			}
			if err != nil {
				return err
			}
			result, before = updated, target.Quantity
			return tx.AppendMovement(ctx, domain.NewMovement(domain.MovementAdjust, updated, before, cmd.Actor, now))
		},
	})
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.logger.Info("inventory adjusted",
		zap.String("record_id", result.ID),
		zap.String("key", result.Key().String()),
		zap.Int("before", before),
		zap.Int("after", result.Quantity),
	)
	ev := domain.NewLedgerEvent(domain.EventAdjusted, result, result.Quantity-before, now)
	ev.Actor = cmd.Actor
	s.emit(ev)

	return result, nil
}

// Transfer moves stock between warehouses. Both legs and both movements are
// committed in one transaction or not at all.
func (s *LedgerService) Transfer(ctx context.Context, cmd TransferCommand) (TransferResult, error) {
	if err := s.validateCommand(cmd); err != nil {
		return TransferResult{}, err
	}
	status := statusOrDefault(cmd.Status)

	if _, err := s.requireWarehouse(ctx, cmd.SourceWarehouseID); err != nil {
		return TransferResult{}, err
	}
	target, err := s.requireWarehouse(ctx, cmd.TargetWarehouseID)
	if err != nil {
		return TransferResult{}, err
	}
	if err := s.requireVariantAndUnit(ctx, cmd.VariantID, cmd.UnitID); err != nil {
		return TransferResult{}, err
	}

	now := s.now()
	exp, err := effectiveExpiration(cmd.ExpirationDate, target, now)
	if err != nil {
		return TransferResult{}, err
	}

	srcKey := domain.LocationKey{WarehouseID: cmd.SourceWarehouseID, VariantID: cmd.VariantID}
	dstKey := domain.LocationKey{WarehouseID: cmd.TargetWarehouseID, VariantID: cmd.VariantID}

	var result TransferResult
	err = s.execute(ctx, mutation{
		op:        opTransfer,
		requestID: cmd.RequestID,
		lockKeys:  []string{srcKey.LockKey(), dstKey.LockKey()},
		run: func(ctx context.Context, tx port.InventoryTx) error {
			transferID := uuid.NewString()

			lot, err := pickLot(ctx, tx, cmd.SourceWarehouseID, cmd.VariantID, cmd.Batch, cmd.UnitID, status, cmd.Quantity)
			if err != nil {
				return err
			}

			out := *lot
			out.Quantity -= cmd.Quantity
			out.Touch(cmd.Actor, now)
			source, err := tx.Update(ctx, out)
			if err != nil {
				return err
			}
			mOut := domain.NewMovement(domain.MovementTransferOut, source, lot.Quantity, cmd.Actor, now)
			mOut.Reference = transferID
			if err := tx.AppendMovement(ctx, mOut); err != nil {
				return err
			}

			inKey := domain.LocationKey{
				WarehouseID: cmd.TargetWarehouseID,
				VariantID:   cmd.VariantID,
				UnitID:      cmd.UnitID,
				Batch:       lot.Batch,
				Status:      status,
			}
			dest, before, err := s.mergeInto(ctx, tx, inKey, cmd.Quantity, exp, cmd.Actor, now)
			if err != nil {
				return err
			}
			mIn := domain.NewMovement(domain.MovementTransferIn, dest, before, cmd.Actor, now)
			mIn.Reference = transferID
			if err := tx.AppendMovement(ctx, mIn); err != nil {
				return err
			}

			result = TransferResult{TransferID: transferID, Source: source, Target: dest}
			return nil
		},
	})
	if err != nil {
		return TransferResult{}, err
	}

	s.logger.Info("inventory transferred",
		zap.String("transfer_id", result.TransferID),
		zap.String("source_record_id", result.Source.ID),
		zap.String("target_record_id", result.Target.ID),
		zap.Int("quantity", cmd.Quantity),
	)
	ev := domain.NewLedgerEvent(domain.EventTransferred, result.Source, cmd.Quantity, now)
	ev.TargetWarehouseID = result.Target.WarehouseID
	ev.TargetRecordID = result.Target.ID
	ev.Actor = cmd.Actor
	s.emit(ev)

	return result, nil
}

// PhysicalCountAdjustment reconciles the system quantity to a counted one.
// A count equal to the system quantity returns the record without writing.
func (s *LedgerService) PhysicalCountAdjustment(ctx context.Context, cmd PhysicalCountCommand) (domain.InventoryRecord, error) {
	if err := s.validateCommand(cmd); err != nil {
		return domain.InventoryRecord{}, err
	}
	status := statusOrDefault(cmd.Status)

	wh, err := s.requireWarehouse(ctx, cmd.WarehouseID)
	if err != nil {
		return domain.InventoryRecord{}, err
	}
	if err := s.requireVariantAndUnit(ctx, cmd.VariantID, cmd.UnitID); err != nil {
		return domain.InventoryRecord{}, err
	}

	now := s.now()
	key := domain.LocationKey{
		WarehouseID: cmd.WarehouseID,
		VariantID:   cmd.VariantID,
		UnitID:      cmd.UnitID,
		Batch:       cmd.Batch,
		Status:      status,
	}

	var (
		result  domain.InventoryRecord
		before  int
		changed bool
	)
	err = s.execute(ctx, mutation{
		op:        opPhysicalCount,
		requestID: cmd.RequestID,
		lockKeys:  []string{key.LockKey()},
		run: func(ctx context.Context, tx port.InventoryTx) error {
			changed = false

			existing, err := tx.FindOne(ctx, domain.Filter{
				WarehouseID: key.WarehouseID,
				VariantID:   key.VariantID,
				UnitID:      key.UnitID,
				Status:      key.Status,
				Batch:       key.Batch,
			})
			if err != nil {
				return err
			}

			if existing == nil {
				if cmd.PhysicalCount == 0 {
					return fmt.Errorf("%w: nothing recorded and nothing counted", domain.ErrNoAdjustmentNeeded)
				}
				newKey := key
				if newKey.Batch == "" {
					newKey.Batch, err = s.batches.Generate(ctx, key.WarehouseID, key.VariantID, now)
					if err != nil {
						return err
					}
				}
				var exp *time.Time
				if !wh.RegistrationExpirationDate.IsZero() {
					t := wh.RegistrationExpirationDate
					exp = &t
				}
				created, err := tx.Create(ctx, domain.NewInventoryRecord(newKey, cmd.PhysicalCount, exp, cmd.Actor, now))
				if errors.Is(err, domain.ErrDuplicateLot) {
					return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
				}
				if err != nil {
					return err
				}
				result, before, changed = created, 0, true
			} else {
				if existing.Quantity == cmd.PhysicalCount {
					result = *existing
					return nil
				}
				rec := *existing
				rec.Quantity = cmd.PhysicalCount
				rec.Touch(cmd.Actor, now)
				updated, err := tx.Update(ctx, rec)
				if err != nil {
					return err
				}
				result, before, changed = updated, existing.Quantity, true
			}

			m := domain.NewMovement(domain.MovementPhysicalCount, result, before, cmd.Actor, now)
			m.Reason = cmd.Reason
			m.Notes = cmd.Notes
			return tx.AppendMovement(ctx, m)
		},
	})
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	if !changed {
		s.logger.Debug("physical count matches system quantity",
			zap.String("record_id", result.ID),
			zap.Int("quantity", result.Quantity),
		)
		return result, nil
	}

	s.logger.Info("inventory counted",
		zap.String("record_id", result.ID),
		zap.String("key", result.Key().String()),
		zap.Int("before", before),
		zap.Int("after", result.Quantity),
	)
	ev := domain.NewLedgerEvent(domain.EventCounted, result, result.Quantity-before, now)
	ev.Actor = cmd.Actor
	ev.Reason = cmd.Reason
	ev.Notes = cmd.Notes
	s.emit(ev)

	return result, nil
}

// Delete removes an empty record.
func (s *LedgerService) Delete(ctx context.Context, cmd DeleteCommand) error {
	if err := s.validateCommand(cmd); err != nil {
		return err
	}

	current, err := s.repo.FindByID(ctx, cmd.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: id %s", domain.ErrInventoryNotFound, cmd.ID)
	}

	now := s.now()
	var deleted domain.InventoryRecord
	err = s.execute(ctx, mutation{
		op:        opDelete,
		requestID: cmd.RequestID,
		lockKeys:  []string{current.Key().LockKey()},
		run: func(ctx context.Context, tx port.InventoryTx) error {
			rec, err := tx.FindByID(ctx, cmd.ID)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("%w: id %s", domain.ErrInventoryNotFound, cmd.ID)
			}
			if rec.Quantity > 0 {
				return fmt.Errorf("%w: record %s holds %d", domain.ErrNonZeroStockDeletion, rec.ID, rec.Quantity)
			}
			if err := tx.AppendMovement(ctx, domain.NewMovement(domain.MovementDelete, *rec, rec.Quantity, cmd.Actor, now)); err != nil {
				return err
			}
			deleted = *rec
			return tx.Delete(ctx, rec.ID, rec.Version)
		},
	})
	if err != nil {
		return err
	}

	s.logger.Info("inventory deleted", zap.String("record_id", deleted.ID), zap.String("key", deleted.Key().String()))
	ev := domain.NewLedgerEvent(domain.EventDeleted, deleted, 0, now)
	ev.Actor = cmd.Actor
	s.emit(ev)

	return nil
}
