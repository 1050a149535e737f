package stock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"backoffice/internal/core/apperror"
	appctx "backoffice/internal/core/context"
	"backoffice/internal/core/entity"
	"backoffice/internal/core/id"
	"backoffice/internal/core/numerator"
	"backoffice/internal/core/tx"
	"backoffice/internal/core/types"
	"backoffice/internal/domain/catalogs/warehouse"
	"backoffice/pkg/logger"
)

var tracer = otel.Tracer("backoffice/stock")

// WarehouseResolver turns user-supplied warehouse references into warehouses.
// *warehouse.Service satisfies it.
type WarehouseResolver interface {
	Resolve(ctx context.Context, ref string) (*warehouse.Warehouse, error)
	ResolveActive(ctx context.Context, ref string) (*warehouse.Warehouse, error)
	Get(ctx context.Context, whID id.ID) (*warehouse.Warehouse, error)
}

// Service owns every write to the stock ledger. Writes for the same
// (item, warehouse) key are serialized: in-process by a KeyLocker and across
// processes by MovementRepository.LockKey, taken in the write transaction and
// again in the transaction that stores the replayed balance. Observers are
// notified after the KeyLocker is released.
type Service struct {
	movements  MovementRepository
	balances   BalanceRepository
	warehouses WarehouseResolver
	txManager  tx.Manager
	publisher  Publisher
	recorder   Recorder
	numbers    numerator.Generator
	locks      *KeyLocker
	stale      sync.Map // BalanceKey -> struct{}
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the observer notification sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithNumerator numbers reconciliation and transfer documents that arrive
// without a document number.
func WithNumerator(g numerator.Generator) Option {
	return func(s *Service) {
		s.numbers = g
	}
}

// WithClock overrides time.Now; used by tests for deterministic ordering.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the ledger service.
func NewService(
	movements MovementRepository,
	balances BalanceRepository,
	warehouses WarehouseResolver,
	txManager tx.Manager,
	opts ...Option,
) *Service {
	if txManager == nil {
		txManager = tx.Passthrough
	}
	s := &Service{
		movements:  movements,
		balances:   balances,
		warehouses: warehouses,
		txManager:  txManager,
		publisher:  nopPublisher{},
		recorder:   nopRecorder{},
		locks:      NewKeyLocker(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// --- Inputs and results ---

// AppendInput describes one movement to record.
type AppendInput struct {
	ItemID         string
	Warehouse      string
	MovementType   entity.MovementType
	Quantity       types.Quantity
	UnitPrice      types.Money
	DocumentNumber string
	DocumentType   string
	Description    string
	Actor          string
}

// MutationResult is returned by every successful write. Warnings report
// follow-up steps that failed after the movement was committed.
type MutationResult struct {
	Movement  *entity.StockMovement
	Balance   *entity.StockBalance
	Anomalies []entity.BalanceAnomaly
	Warnings  []apperror.Warning
}

// ReconcileInput sets a key's quantity to a counted value.
type ReconcileInput struct {
	ItemID         string
	Warehouse      string
	NewQuantity    types.Quantity
	UnitPrice      types.Money
	Actor          string
	DocumentNumber string
	Description    string
}

// ReconcileResult extends MutationResult with the delta that was applied.
// Movement is nil when the counted quantity already matched.
type ReconcileResult struct {
	MutationResult
	PreviousQuantity types.Quantity
	Delta            types.Quantity
}

// Noop reports whether reconcile recorded nothing.
func (r *ReconcileResult) Noop() bool {
	return r.Movement == nil
}

// TransferInput moves stock between two warehouses.
type TransferInput struct {
	ItemID         string
	From           string
	To             string
	Quantity       types.Quantity
	Actor          string
	DocumentNumber string
	Description    string
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Out         *entity.StockMovement
	In          *entity.StockMovement
	FromBalance *entity.StockBalance
	ToBalance   *entity.StockBalance
	Warnings    []apperror.Warning
}

// RecomputeResult is the outcome of a full replay.
type RecomputeResult struct {
	Balance   entity.StockBalance
	Anomalies []entity.BalanceAnomaly
}

// --- Append ---

// Append validates and records a single movement, then refreshes the
// projection and notifies observers. Validation failures write nothing.
func (s *Service) Append(ctx context.Context, in AppendInput) (*MutationResult, error) {
	ctx, span := tracer.Start(ctx, "stock.Append",
		trace.WithAttributes(attribute.String("stock.item_id", in.ItemID)))
	defer span.End()

	wh, err := s.validateAppend(ctx, &in)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	m := s.newMovement(ctx, in.ItemID, wh, in.MovementType, in.Quantity, in.UnitPrice)
	m.DocumentNumber = strings.TrimSpace(in.DocumentNumber)
	m.DocumentType = strings.TrimSpace(in.DocumentType)
	m.Description = strings.TrimSpace(in.Description)
	m.CreatedBy = appctx.ResolveActor(ctx, in.Actor)

	key := m.Key()
	unlock := s.locks.Lock(key.String())
	defer unlock()

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.movements.LockKey(ctx, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		m.CreatedAt = s.now()
		return s.movements.Append(ctx, m)
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("append movement: %w", err)
	}
	s.recorder.MovementAppended(m.MovementType)

	logger.Info(ctx, "stock movement appended",
		"movement_id", m.ID,
		"item_id", m.ItemID,
		"warehouse", m.WarehouseName,
		"type", m.MovementType,
		"quantity", m.Quantity.String(),
	)

	res, notices := s.settle(ctx, key, wh.Name, m)
	unlock()
	s.notify(ctx, key, res, notices)
	res.Movement = m
	return res, nil
}

func (s *Service) validateAppend(ctx context.Context, in *AppendInput) (*warehouse.Warehouse, error) {
	var fe apperror.FieldErrors

	in.ItemID = strings.TrimSpace(in.ItemID)
	if in.ItemID == "" {
		fe.Add("itemId", "itemId is required")
	}
	wh, err := s.resolveActiveField(ctx, "warehouseName", in.Warehouse, &fe)
	if err != nil {
		return nil, err
	}
	in.Quantity = types.RoundQuantity(in.Quantity)
	if !in.Quantity.IsPositive() {
		fe.Add("quantity", "quantity must be positive")
	}
	if !in.MovementType.IsValid() {
		fe.Add("movementType", fmt.Sprintf("unknown movement type %q", in.MovementType))
	}
	if in.UnitPrice.IsNegative() {
		fe.Add("unitPrice", "unitPrice must not be negative")
	}
	if err := fe.Err(); err != nil {
		return nil, err
	}
	return wh, nil
}

// resolveActiveField resolves ref and records resolution problems as field
// errors. Only infrastructure failures are returned as errors.
func (s *Service) resolveActiveField(ctx context.Context, field, ref string, fe *apperror.FieldErrors) (*warehouse.Warehouse, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		fe.Add(field, "warehouse is required")
		return nil, nil
	}
	wh, err := s.warehouses.ResolveActive(ctx, ref)
	switch {
	case err == nil:
		return wh, nil
	case apperror.IsNotFound(err):
		fe.Add(field, fmt.Sprintf("warehouse %q not found", ref))
	case apperror.HasCode(err, apperror.CodeWarehouseInactive):
		fe.Add(field, fmt.Sprintf("warehouse %q is not active", ref))
	case apperror.IsValidation(err):
		fe.Add(field, "warehouse is required")
	default:
		return nil, fmt.Errorf("resolve warehouse: %w", err)
	}
	return nil, nil
}

// --- Reconcile ---

// Reconcile sets the quantity at (item, warehouse) to a counted value by
// appending an adjustment for the difference. A zero difference records
// nothing. The read of the current quantity and the append happen under the
// key lock, so concurrent reconciles of the same key apply one after the other.
func (s *Service) Reconcile(ctx context.Context, in ReconcileInput) (*ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "stock.Reconcile",
		trace.WithAttributes(attribute.String("stock.item_id", in.ItemID)))
	defer span.End()

	wh, err := s.validateReconcile(ctx, &in)
	if err != nil {
		s.recorder.ReconcileCompleted(OutcomeRejected)
		recordSpanError(span, err)
		return nil, err
	}

	key := entity.BalanceKey{ItemID: in.ItemID, WarehouseID: wh.ID}
	unlock := s.locks.Lock(key.String())
	defer unlock()

	var (
		current ReplayResult
		m       *entity.StockMovement
		delta   types.Quantity
	)
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.movements.LockKey(ctx, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		movs, err := s.movements.ListByItemAndWarehouse(ctx, key.ItemID, &key.WarehouseID)
		if err != nil {
			return fmt.Errorf("read ledger: %w", err)
		}
		current = Replay(movs)
		delta = in.NewQuantity.Sub(current.Quantity)

		switch delta.Sign() {
		case 0:
			return nil
		case 1:
			m = s.newMovement(ctx, key.ItemID, wh, entity.MovementAdjustmentIncrement, delta, in.UnitPrice)
		default:
			m = s.newMovement(ctx, key.ItemID, wh, entity.MovementAdjustmentDecrement, delta.Abs(), in.UnitPrice)
		}
		if m.DocumentNumber, err = s.documentNumber(ctx, in.DocumentNumber, reconcileNumbering); err != nil {
			return err
		}
		m.DocumentType = "reconciliation"
		m.Description = strings.TrimSpace(in.Description)
		m.CreatedBy = appctx.ResolveActor(ctx, in.Actor)
		m.CreatedAt = s.now()
		return s.movements.Append(ctx, m)
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("reconcile %s: %w", key, err)
	}

	res := &ReconcileResult{PreviousQuantity: current.Quantity, Delta: delta}

	if m == nil {
		s.recorder.ReconcileCompleted(OutcomeNoop)
		logger.Debug(ctx, "reconcile: quantity already matches",
			"item_id", key.ItemID, "warehouse", wh.Name, "quantity", in.NewQuantity.String())
		bal, err := s.balanceFor(ctx, key, wh.Name, false)
		if err != nil {
			// The ledger itself is fine; report the replayed figures.
			b := current.Balance(key, wh.Name, s.now())
			bal = &b
			res.Warnings = append(res.Warnings, staleWarning(key, "read_failed", err))
		}
		res.Balance = bal
		return res, nil
	}

	if delta.IsPositive() {
		s.recorder.ReconcileCompleted(OutcomeIncrement)
	} else {
		s.recorder.ReconcileCompleted(OutcomeDecrement)
	}
	s.recorder.MovementAppended(m.MovementType)

	logger.Info(ctx, "stock reconciled",
		"item_id", key.ItemID,
		"warehouse", wh.Name,
		"previous", current.Quantity.String(),
		"target", in.NewQuantity.String(),
		"movement_type", m.MovementType,
		"movement_id", m.ID,
	)

	settled, notices := s.settle(ctx, key, wh.Name, m)
	unlock()
	s.notify(ctx, key, settled, notices)
	res.MutationResult = *settled
	res.Movement = m
	return res, nil
}

func (s *Service) validateReconcile(ctx context.Context, in *ReconcileInput) (*warehouse.Warehouse, error) {
	var fe apperror.FieldErrors

	in.ItemID = strings.TrimSpace(in.ItemID)
	if in.ItemID == "" {
		fe.Add("itemId", "itemId is required")
	}
	wh, err := s.resolveActiveField(ctx, "warehouseName", in.Warehouse, &fe)
	if err != nil {
		return nil, err
	}
	in.NewQuantity = types.RoundQuantity(in.NewQuantity)
	if in.NewQuantity.IsNegative() {
		fe.Add("newQuantity", "newQuantity must not be negative")
	}
	if in.UnitPrice.IsNegative() {
		fe.Add("unitPrice", "unitPrice must not be negative")
	}
	if err := fe.Err(); err != nil {
		return nil, err
	}
	return wh, nil
}

// --- Transfer ---

// Transfer moves quantity of an item from one warehouse to another at the
// source's current average price. Both legs are written in one transaction.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (*TransferResult, error) {
	ctx, span := tracer.Start(ctx, "stock.Transfer",
		trace.WithAttributes(attribute.String("stock.item_id", in.ItemID)))
	defer span.End()

	from, to, err := s.validateTransfer(ctx, &in)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	fromKey := entity.BalanceKey{ItemID: in.ItemID, WarehouseID: from.ID}
	toKey := entity.BalanceKey{ItemID: in.ItemID, WarehouseID: to.ID}
	unlock := s.locks.Lock(fromKey.String(), toKey.String())
	defer unlock()

	var out, inMov *entity.StockMovement
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		first, second := fromKey, toKey
		if second.String() < first.String() {
			first, second = second, first
		}
		for _, k := range []entity.BalanceKey{first, second} {
			if err := s.movements.LockKey(ctx, k); err != nil {
				return fmt.Errorf("lock %s: %w", k, err)
			}
		}

		movs, err := s.movements.ListByItemAndWarehouse(ctx, fromKey.ItemID, &fromKey.WarehouseID)
		if err != nil {
			return fmt.Errorf("read source ledger: %w", err)
		}
		src := Replay(movs)
		if in.Quantity.GreaterThan(src.Quantity) {
			return apperror.NewInsufficientStock(in.ItemID, in.Quantity.String(), src.Quantity.String()).
				WithDetail("warehouse", from.Name)
		}

		docNumber, err := s.documentNumber(ctx, in.DocumentNumber, transferNumbering)
		if err != nil {
			return err
		}
		actor := appctx.ResolveActor(ctx, in.Actor)
		now := s.now()
		out = s.newMovement(ctx, in.ItemID, from, entity.MovementTransferOut, in.Quantity, src.AveragePrice)
		inMov = s.newMovement(ctx, in.ItemID, to, entity.MovementTransferIn, in.Quantity, src.AveragePrice)
		for _, m := range []*entity.StockMovement{out, inMov} {
			m.DocumentNumber = docNumber
			m.DocumentType = "transfer"
			m.Description = strings.TrimSpace(in.Description)
			m.CreatedBy = actor
			m.CreatedAt = now
			if err := s.movements.Append(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		if apperror.IsAppError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("transfer %s: %w", in.ItemID, err)
	}
	s.recorder.MovementAppended(out.MovementType)
	s.recorder.MovementAppended(inMov.MovementType)

	logger.Info(ctx, "stock transferred",
		"item_id", in.ItemID,
		"from", from.Name,
		"to", to.Name,
		"quantity", in.Quantity.String(),
	)

	fromRes, fromNotices := s.settle(ctx, fromKey, from.Name, out)
	toRes, toNotices := s.settle(ctx, toKey, to.Name, inMov)
	unlock()
	s.notify(ctx, fromKey, fromRes, fromNotices)
	s.notify(ctx, toKey, toRes, toNotices)

	res := &TransferResult{
		Out:         out,
		In:          inMov,
		FromBalance: fromRes.Balance,
		ToBalance:   toRes.Balance,
		Warnings:    append(fromRes.Warnings, toRes.Warnings...),
	}

	ev := TransferEvent{
		ItemID:        in.ItemID,
		FromWarehouse: from.Name,
		ToWarehouse:   to.Name,
		Quantity:      in.Quantity,
		UnitPrice:     out.UnitPrice,
		OutMovementID: out.ID,
		InMovementID:  inMov.ID,
		CompletedAt:   out.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, ChannelTransferCompleted, ev); err != nil {
		res.Warnings = append(res.Warnings, staleWarning(toKey, "publish_failed", err))
	}
	return res, nil
}

func (s *Service) validateTransfer(ctx context.Context, in *TransferInput) (*warehouse.Warehouse, *warehouse.Warehouse, error) {
	var fe apperror.FieldErrors

	in.ItemID = strings.TrimSpace(in.ItemID)
	if in.ItemID == "" {
		fe.Add("itemId", "itemId is required")
	}
	from, err := s.resolveActiveField(ctx, "fromWarehouse", in.From, &fe)
	if err != nil {
		return nil, nil, err
	}
	to, err := s.resolveActiveField(ctx, "toWarehouse", in.To, &fe)
	if err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && from.ID == to.ID {
		fe.Add("toWarehouse", "source and destination warehouses must differ")
	}
	in.Quantity = types.RoundQuantity(in.Quantity)
	if !in.Quantity.IsPositive() {
		fe.Add("quantity", "quantity must be positive")
	}
	if err := fe.Err(); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

// --- Projection ---

// Recompute rebuilds the balance for (item, warehouse) from the full ledger
// and publishes balance_updated.
func (s *Service) Recompute(ctx context.Context, itemID, warehouseRef string) (*RecomputeResult, error) {
	var fe apperror.FieldErrors
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		fe.Add("itemId", "itemId is required")
	}
	if strings.TrimSpace(warehouseRef) == "" {
		fe.Add("warehouseName", "warehouse is required")
	}
	if err := fe.Err(); err != nil {
		return nil, err
	}
	wh, err := s.warehouses.Resolve(ctx, warehouseRef)
	if err != nil {
		return nil, err
	}

	key := entity.BalanceKey{ItemID: itemID, WarehouseID: wh.ID}
	unlock := s.locks.Lock(key.String())
	defer unlock()

	previous, err := s.balances.Get(ctx, key)
	if err != nil && !apperror.IsNotFound(err) {
		logger.Warn(ctx, "previous balance unreadable, recomputing anyway", "key", key.String(), "error", err)
	}

	res, err := s.refresh(ctx, key, wh.Name)
	if err != nil {
		s.markStale(ctx, key, err)
		return nil, err
	}
	unlock()

	ev := ChangeEvent{
		ItemID:        key.ItemID,
		WarehouseID:   key.WarehouseID,
		WarehouseName: wh.Name,
		Quantity:      res.Balance.Quantity,
		Balance:       &res.Balance,
	}
	if err := s.publisher.Publish(ctx, ChannelBalanceUpdated, ev); err != nil {
		logger.Warn(ctx, "balance_updated publish failed", "key", key.String(), "error", err)
	}
	if len(res.Anomalies) > 0 && (previous == nil || previous.AnomalyCount < len(res.Anomalies)) {
		s.publishAlert(ctx, key, wh.Name, res.Anomalies)
	}
	return res, nil
}

// refresh replays key and stores the result in a transaction that holds the
// key's advisory lock, so a replay from another process cannot land on top
// of a newer one. Callers hold the in-process key lock.
func (s *Service) refresh(ctx context.Context, key entity.BalanceKey, warehouseName string) (*RecomputeResult, error) {
	var res *RecomputeResult
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.movements.LockKey(ctx, key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		var err error
		res, err = s.recompute(ctx, key, warehouseName)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.stale.Delete(key)
	return res, nil
}

// recompute replays the ledger for key and stores the result.
func (s *Service) recompute(ctx context.Context, key entity.BalanceKey, warehouseName string) (res *RecomputeResult, err error) {
	ctx, span := tracer.Start(ctx, "stock.recompute",
		trace.WithAttributes(attribute.String("stock.key", key.String())))
	start := time.Now()
	defer func() {
		s.recorder.RecomputeObserved(time.Since(start), err)
		recordSpanError(span, err)
		span.End()
	}()

	movs, err := s.movements.ListByItemAndWarehouse(ctx, key.ItemID, &key.WarehouseID)
	if err != nil {
		return nil, fmt.Errorf("list movements for %s: %w", key, err)
	}
	replayed := Replay(movs)
	bal := replayed.Balance(key, warehouseName, s.now())

	if replayed.MovementCount > 0 {
		if err := s.balances.Upsert(ctx, &bal); err != nil {
			return nil, fmt.Errorf("store balance for %s: %w", key, err)
		}
	}

	if n := len(replayed.Anomalies); n > 0 {
		s.recorder.AnomaliesDetected(n)
		logger.Warn(ctx, "negative balance clamped during replay",
			"key", key.String(),
			"anomalies", n,
		)
	}
	return &RecomputeResult{Balance: bal, Anomalies: replayed.Anomalies}, nil
}

// notice is an event held back until the key lock is released. Bus handlers
// read the projection and may take the same lock.
type notice struct {
	channel string
	payload any

	// required notices leave observers behind when lost; the key is marked stale.
	required bool
}

// settle refreshes the projection for a movement that is already committed
// and prepares the notifications. Failures become warnings; the write stands.
func (s *Service) settle(ctx context.Context, key entity.BalanceKey, warehouseName string, m *entity.StockMovement) (*MutationResult, []notice) {
	res := &MutationResult{}

	rec, err := s.refresh(ctx, key, warehouseName)
	if err != nil {
		s.markStale(ctx, key, err)
		res.Warnings = append(res.Warnings, staleWarning(key, "recompute_failed", err))
	} else {
		res.Balance = &rec.Balance
		for _, a := range rec.Anomalies {
			if a.MovementID == m.ID {
				res.Anomalies = append(res.Anomalies, a)
			}
		}
	}
	res.Warnings = append(res.Warnings, AnomalyWarnings(res.Anomalies)...)

	mid := m.ID
	created := ChangeEvent{
		ItemID:        key.ItemID,
		WarehouseID:   key.WarehouseID,
		WarehouseName: warehouseName,
		MovementType:  m.MovementType,
		Quantity:      m.Quantity,
		MovementID:    &mid,
	}
	updated := created
	updated.Balance = res.Balance

	notices := []notice{
		{channel: ChannelMovementCreated, payload: created, required: true},
		{channel: ChannelBalanceUpdated, payload: updated, required: true},
	}
	if len(res.Anomalies) > 0 {
		notices = append(notices, notice{channel: ChannelAlertUpdated, payload: AlertEvent{
			ItemID:        key.ItemID,
			WarehouseID:   key.WarehouseID,
			WarehouseName: warehouseName,
			Anomalies:     res.Anomalies,
		}})
	}
	return res, notices
}

// notify publishes notices in order. It must run without the key lock held.
// The first failed required notice marks key stale and ends delivery.
func (s *Service) notify(ctx context.Context, key entity.BalanceKey, res *MutationResult, notices []notice) {
	for _, n := range notices {
		err := s.publisher.Publish(ctx, n.channel, n.payload)
		if err == nil {
			continue
		}
		if n.required {
			s.publishFailed(ctx, key, res, err)
			return
		}
		logger.Warn(ctx, n.channel+" publish failed", "key", key.String(), "error", err)
	}
}

// publishFailed marks key stale so observers that missed the event still see
// a fresh replay on their next read.
func (s *Service) publishFailed(ctx context.Context, key entity.BalanceKey, res *MutationResult, err error) {
	if !apperror.HasWarning(res.Warnings, apperror.WarnProjectionStale) {
		s.markStale(ctx, key, err)
		res.Warnings = append(res.Warnings, staleWarning(key, "publish_failed", err))
	}
}

func (s *Service) publishAlert(ctx context.Context, key entity.BalanceKey, warehouseName string, anomalies []entity.BalanceAnomaly) {
	ev := AlertEvent{
		ItemID:        key.ItemID,
		WarehouseID:   key.WarehouseID,
		WarehouseName: warehouseName,
		Anomalies:     anomalies,
	}
	if err := s.publisher.Publish(ctx, ChannelAlertUpdated, ev); err != nil {
		logger.Warn(ctx, "alert_updated publish failed", "key", key.String(), "error", err)
	}
}

func (s *Service) markStale(ctx context.Context, key entity.BalanceKey, cause error) {
	s.stale.Store(key, struct{}{})
	s.recorder.ProjectionStale()
	logger.Warn(ctx, "balance projection is stale", "key", key.String(), "error", cause)
	if err := s.balances.MarkStale(ctx, key); err != nil && !apperror.IsNotFound(err) {
		logger.Debug(ctx, "could not persist stale flag", "key", key.String(), "error", err)
	}
}

// IsStale reports whether key awaits a corrective replay in this process.
func (s *Service) IsStale(key entity.BalanceKey) bool {
	_, ok := s.stale.Load(key)
	return ok
}

// --- Reads ---

// GetBalance returns the balance for an item at one warehouse, or summed
// across all warehouses when warehouseRef is empty. Unknown items read as zero.
func (s *Service) GetBalance(ctx context.Context, itemID, warehouseRef string) (*entity.StockBalance, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, apperror.NewValidationFields(apperror.FieldErrors{{Field: "itemId", Message: "itemId is required"}})
	}

	if strings.TrimSpace(warehouseRef) == "" {
		return s.aggregate(ctx, itemID)
	}

	wh, err := s.warehouses.Resolve(ctx, warehouseRef)
	if err != nil {
		return nil, err
	}
	return s.balanceFor(ctx, entity.BalanceKey{ItemID: itemID, WarehouseID: wh.ID}, wh.Name, true)
}

// balanceFor returns the stored balance, replaying first when the row is
// missing or stale.
func (s *Service) balanceFor(ctx context.Context, key entity.BalanceKey, warehouseName string, lock bool) (*entity.StockBalance, error) {
	if !s.IsStale(key) {
		b, err := s.balances.Get(ctx, key)
		if err == nil && !b.Stale {
			return b, nil
		}
		if err != nil && !apperror.IsNotFound(err) {
			return nil, fmt.Errorf("get balance %s: %w", key, err)
		}
	}

	if lock {
		unlock := s.locks.Lock(key.String())
		defer unlock()
	}
	res, err := s.refresh(ctx, key, warehouseName)
	if err != nil {
		return nil, err
	}
	return &res.Balance, nil
}

func (s *Service) aggregate(ctx context.Context, itemID string) (*entity.StockBalance, error) {
	keys, err := s.movements.ListKeys(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list keys for %s: %w", itemID, err)
	}
	rows := make([]entity.StockBalance, 0, len(keys))
	for _, k := range keys {
		name, err := s.warehouseName(ctx, k.WarehouseID)
		if err != nil {
			return nil, err
		}
		b, err := s.balanceFor(ctx, k, name, true)
		if err != nil {
			return nil, err
		}
		rows = append(rows, *b)
	}
	agg := Aggregate(itemID, rows, s.now())
	return &agg, nil
}

// BalanceQuery filters ListBalances.
type BalanceQuery struct {
	ItemID      string
	Warehouse   string
	ExcludeZero bool
}

// ListBalances returns per-warehouse balances. Stale rows are replayed before
// they are returned.
func (s *Service) ListBalances(ctx context.Context, q BalanceQuery) ([]entity.StockBalance, error) {
	filter := BalanceFilter{ItemID: strings.TrimSpace(q.ItemID), ExcludeZero: q.ExcludeZero}
	if strings.TrimSpace(q.Warehouse) != "" {
		wh, err := s.warehouses.Resolve(ctx, q.Warehouse)
		if err != nil {
			return nil, err
		}
		filter.WarehouseID = &wh.ID
	}

	rows, err := s.balances.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	for i := range rows {
		if !rows[i].Stale && !s.IsStale(rows[i].Key()) {
			continue
		}
		fresh, err := s.balanceFor(ctx, rows[i].Key(), rows[i].WarehouseName, true)
		if err != nil {
			return nil, err
		}
		rows[i] = *fresh
	}
	return s.appendUnstored(ctx, rows, filter)
}

// appendUnstored adds stale keys matching filter that have no stored row yet,
// which happens when the first recompute of a key failed.
func (s *Service) appendUnstored(ctx context.Context, rows []entity.StockBalance, filter BalanceFilter) ([]entity.StockBalance, error) {
	listed := make(map[entity.BalanceKey]struct{}, len(rows))
	for i := range rows {
		listed[rows[i].Key()] = struct{}{}
	}
	var missing []entity.BalanceKey
	s.stale.Range(func(k, _ any) bool {
		key := k.(entity.BalanceKey)
		if _, ok := listed[key]; ok {
			return true
		}
		if filter.ItemID != "" && key.ItemID != filter.ItemID {
			return true
		}
		if filter.WarehouseID != nil && key.WarehouseID != *filter.WarehouseID {
			return true
		}
		missing = append(missing, key)
		return true
	})

	for _, key := range missing {
		name, err := s.warehouseName(ctx, key.WarehouseID)
		if err != nil {
			return nil, err
		}
		b, err := s.balanceFor(ctx, key, name, true)
		if err != nil {
			return nil, err
		}
		if filter.ExcludeZero && b.Quantity.IsZero() {
			continue
		}
		rows = append(rows, *b)
	}
	return rows, nil
}

// ListMovements returns an item's movements in ledger order, optionally
// restricted to one warehouse.
func (s *Service) ListMovements(ctx context.Context, itemID, warehouseRef string) ([]entity.StockMovement, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, apperror.NewValidationFields(apperror.FieldErrors{{Field: "itemId", Message: "itemId is required"}})
	}
	var whID *id.ID
	if strings.TrimSpace(warehouseRef) != "" {
		wh, err := s.warehouses.Resolve(ctx, warehouseRef)
		if err != nil {
			return nil, err
		}
		whID = &wh.ID
	}
	return s.movements.ListByItemAndWarehouse(ctx, itemID, whID)
}

// HistoryQuery filters History.
type HistoryQuery struct {
	ItemID       string
	Warehouse    string
	MovementType string
	FromDate     *time.Time
	ToDate       *time.Time
	Limit        int
	Offset       int
}

// History returns movements newest first for audit views.
func (s *Service) History(ctx context.Context, q HistoryQuery) ([]entity.StockMovement, error) {
	filter := MovementFilter{
		ItemID:   strings.TrimSpace(q.ItemID),
		FromDate: q.FromDate,
		ToDate:   q.ToDate,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if q.MovementType != "" {
		mt := entity.MovementType(strings.ToUpper(strings.TrimSpace(q.MovementType)))
		if !mt.IsValid() {
			return nil, apperror.NewValidation("unknown movement type").WithDetail("movementType", q.MovementType)
		}
		filter.MovementType = &mt
	}
	if strings.TrimSpace(q.Warehouse) != "" {
		wh, err := s.warehouses.Resolve(ctx, q.Warehouse)
		if err != nil {
			return nil, err
		}
		filter.WarehouseID = &wh.ID
	}
	filter.Normalize()
	return s.movements.History(ctx, filter)
}

// --- Drift detection ---

// DriftReport compares a stored balance with a fresh replay.
type DriftReport struct {
	Key      entity.BalanceKey    `json:"key"`
	Stored   *entity.StockBalance `json:"stored,omitempty"`
	Replayed entity.StockBalance  `json:"replayed"`
	Drifted  bool                 `json:"drifted"`
}

// Verify replays key and compares the result with the stored row without writing.
func (s *Service) Verify(ctx context.Context, key entity.BalanceKey) (*DriftReport, error) {
	name, err := s.warehouseName(ctx, key.WarehouseID)
	if err != nil {
		return nil, err
	}
	movs, err := s.movements.ListByItemAndWarehouse(ctx, key.ItemID, &key.WarehouseID)
	if err != nil {
		return nil, fmt.Errorf("list movements for %s: %w", key, err)
	}
	replayed := Replay(movs).Balance(key, name, s.now())
	report := &DriftReport{Key: key, Replayed: replayed}

	stored, err := s.balances.Get(ctx, key)
	switch {
	case err == nil:
		report.Stored = stored
		report.Drifted = stored.Stale || !sameBalance(stored, &replayed)
	case apperror.IsNotFound(err):
		report.Drifted = replayed.MovementCount > 0
	default:
		return nil, fmt.Errorf("get balance %s: %w", key, err)
	}
	return report, nil
}

// VerifySummary counts the outcome of VerifyAll.
type VerifySummary struct {
	Checked  int `json:"checked"`
	Drifted  int `json:"drifted"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// VerifyAll checks every key in the ledger and rebuilds drifted balances.
func (s *Service) VerifyAll(ctx context.Context) (VerifySummary, error) {
	var sum VerifySummary
	keys, err := s.movements.ListKeys(ctx, "")
	if err != nil {
		return sum, fmt.Errorf("list keys: %w", err)
	}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Checked++

		report, err := s.Verify(ctx, key)
		if err != nil {
			sum.Failed++
			logger.Error(ctx, "drift check failed", "key", key.String(), "error", err)
			continue
		}
		if !report.Drifted {
			continue
		}
		sum.Drifted++

		unlock := s.locks.Lock(key.String())
		_, err = s.refresh(ctx, key, report.Replayed.WarehouseName)
		unlock()
		if err != nil {
			sum.Failed++
			s.markStale(ctx, key, err)
			continue
		}
		sum.Repaired++
		logger.Info(ctx, "drifted balance rebuilt", "key", key.String())
	}
	return sum, nil
}

// --- helpers ---

func (s *Service) newMovement(ctx context.Context, itemID string, wh *warehouse.Warehouse, mt entity.MovementType, qty types.Quantity, price types.Money) *entity.StockMovement {
	return &entity.StockMovement{
		ID:            id.New(),
		ItemID:        itemID,
		WarehouseID:   wh.ID,
		WarehouseName: wh.Name,
		MovementType:  mt,
		Quantity:      qty,
		UnitPrice:     price.Round(types.PricePlaces),
		CreatedBy:     appctx.ResolveActor(ctx, ""),
		CreatedAt:     s.now(),
	}
}

func (s *Service) warehouseName(ctx context.Context, whID id.ID) (string, error) {
	wh, err := s.warehouses.Get(ctx, whID)
	if err != nil {
		return "", fmt.Errorf("get warehouse %s: %w", whID, err)
	}
	return wh.Name, nil
}

var (
	reconcileNumbering = numerator.DefaultConfig("CNT")
	transferNumbering  = numerator.DefaultConfig("TRF")
)

// documentNumber returns given, or the next number of cfg's sequence when
// given is empty and a numerator is configured.
func (s *Service) documentNumber(ctx context.Context, given string, cfg numerator.Config) (string, error) {
	if n := strings.TrimSpace(given); n != "" || s.numbers == nil {
		return n, nil
	}
	n, err := s.numbers.Next(ctx, cfg, s.now())
	if err != nil {
		return "", fmt.Errorf("next document number: %w", err)
	}
	return n, nil
}

// AnomalyWarnings reports each clamped outflow as a NEGATIVE_BALANCE_ANOMALY warning.
func AnomalyWarnings(anomalies []entity.BalanceAnomaly) []apperror.Warning {
	out := make([]apperror.Warning, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out,
			apperror.NewWarning(apperror.WarnNegativeBalance, "outflow exceeded stock on hand; balance clamped at zero").
				WithDetail("movementId", a.MovementID.String()).
				WithDetail("requested", a.Requested.String()).
				WithDetail("available", a.Available.String()).
				WithDetail("shortfall", a.Shortfall.String()))
	}
	return out
}

func staleWarning(key entity.BalanceKey, reason string, cause error) apperror.Warning {
	return apperror.NewWarning(apperror.WarnProjectionStale,
		"movement recorded but the balance could not be refreshed; it will be rebuilt on next read").
		WithDetail("itemId", key.ItemID).
		WithDetail("warehouseId", key.WarehouseID.String()).
		WithDetail("reason", reason).
		WithDetail("error", cause.Error())
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
