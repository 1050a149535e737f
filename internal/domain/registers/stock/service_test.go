package stock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"backoffice/internal/core/apperror"
	appctx "backoffice/internal/core/context"
	"backoffice/internal/core/entity"
	"backoffice/internal/core/tx"
	"backoffice/internal/core/types"
	"backoffice/internal/domain/catalogs/warehouse"
	"backoffice/internal/domain/registers/stock"
	"backoffice/internal/infrastructure/numerator"
	"backoffice/internal/infrastructure/storage/memory"
	"backoffice/pkg/logger"
)

type published struct {
	channel string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	fail   atomic.Bool
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, payload any) error {
	if p.fail.Load() {
		return errors.New("bus unavailable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{channel, payload})
	return nil
}

func (p *recordingPublisher) on(channel string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, e := range p.events {
		if e.channel == channel {
			out = append(out, e.payload)
		}
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

type flakyBalances struct {
	*memory.BalanceRepo
	failUpsert atomic.Bool
	failGet    atomic.Bool
}

func (f *flakyBalances) Get(ctx context.Context, key entity.BalanceKey) (*entity.StockBalance, error) {
	if f.failGet.Load() {
		return nil, errors.New("connection reset")
	}
	return f.BalanceRepo.Get(ctx, key)
}

func (f *flakyBalances) Upsert(ctx context.Context, b *entity.StockBalance) error {
	if f.failUpsert.Load() {
		return errors.New("connection reset")
	}
	return f.BalanceRepo.Upsert(ctx, b)
}

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	svc       *stock.Service
	movements *memory.MovementRepo
	balances  *flakyBalances
	pub       *recordingPublisher
	main      *warehouse.Warehouse
	bar       *warehouse.Warehouse
	old       *warehouse.Warehouse
}

func newFixture(t *testing.T, opts ...stock.Option) *fixture {
	t.Helper()

	main := warehouse.NewWarehouse("MAIN", "Main")
	bar := warehouse.NewWarehouse("BAR", "Bar")
	old := warehouse.NewWarehouse("OLD", "Old")
	old.Status = warehouse.StatusInactive

	registry := warehouse.NewService(memory.NewWarehouseRepo(main, bar, old), nil, "Main")
	f := &fixture{
		movements: memory.NewMovementRepo(),
		balances:  &flakyBalances{BalanceRepo: memory.NewBalanceRepo()},
		pub:       &recordingPublisher{},
		main:      main,
		bar:       bar,
		old:       old,
	}
	clock := &tickClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	opts = append([]stock.Option{stock.WithPublisher(f.pub), stock.WithClock(clock.Now)}, opts...)
	f.svc = stock.NewService(f.movements, f.balances, registry, nil, opts...)
	return f
}

func dec(s string) types.Quantity { return types.MustDecimal(s) }

func assertBalance(t *testing.T, b *entity.StockBalance, qty, value, avg string) {
	t.Helper()
	require.NotNil(t, b)
	assert.True(t, dec(qty).Equal(b.Quantity), "quantity: want %s, got %s", qty, b.Quantity)
	assert.True(t, dec(value).Equal(b.TotalValue), "totalValue: want %s, got %s", value, b.TotalValue)
	assert.True(t, dec(avg).Equal(b.AveragePrice), "averagePrice: want %s, got %s", avg, b.AveragePrice)
}

func TestReconcile_InitialStockThenConsumptionAndCorrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Reconcile(ctx, stock.ReconcileInput{
		ItemID: "I1", Warehouse: "Main", NewQuantity: dec("100"), UnitPrice: dec("5000"), Actor: "user",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Movement)
	assert.Equal(t, entity.MovementAdjustmentIncrement, res.Movement.MovementType)
	assert.True(t, dec("100").Equal(res.Movement.Quantity))
	assert.Equal(t, "user", res.Movement.CreatedBy)
	assertBalance(t, res.Balance, "100", "500000", "5000")

	_, err = f.svc.Append(ctx, stock.AppendInput{
		ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementSale, Quantity: dec("30"), UnitPrice: dec("1"),
	})
	require.NoError(t, err)

	bal, err := f.svc.GetBalance(ctx, "I1", "Main")
	require.NoError(t, err)
	assertBalance(t, bal, "70", "350000", "5000")

	res, err = f.svc.Reconcile(ctx, stock.ReconcileInput{
		ItemID: "I1", Warehouse: "Main", NewQuantity: dec("50"), UnitPrice: dec("5000"), Actor: "user",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Movement)
	assert.Equal(t, entity.MovementAdjustmentDecrement, res.Movement.MovementType)
	assert.True(t, dec("20").Equal(res.Movement.Quantity))
	assert.True(t, dec("-20").Equal(res.Delta))
	assert.True(t, dec("70").Equal(res.PreviousQuantity))
	assertBalance(t, res.Balance, "50", "250000", "5000")
}

func TestReconcile_AtTargetIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec("12.5"), UnitPrice: dec("3")})
	require.NoError(t, err)
	f.pub.reset()

	res, err := f.svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "main", NewQuantity: dec("12.5"), UnitPrice: dec("99")})
	require.NoError(t, err)
	assert.True(t, res.Noop())
	assert.True(t, res.Delta.IsZero())
	assertBalance(t, res.Balance, "12.5", "37.5", "3")
	assert.Equal(t, 1, f.movements.Len())
	assert.Empty(t, f.pub.on(stock.ChannelBalanceUpdated))
}

func TestReconcile_ConcurrentCallsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec("100"), UnitPrice: dec("10")})
	require.NoError(t, err)

	targets := []string{"40", "70"}
	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, n := range targets {
		wg.Add(1)
		go func(i int, n string) {
			defer wg.Done()
			_, errs[i] = f.svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec(n), UnitPrice: dec("10")})
		}(i, n)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	bal, err := f.svc.GetBalance(ctx, "I1", "Main")
	require.NoError(t, err)
	assert.True(t, bal.Quantity.Equal(dec("40")) || bal.Quantity.Equal(dec("70")),
		"final quantity %s must be one of the targets", bal.Quantity)

	movs, err := f.svc.ListMovements(ctx, "I1", "Main")
	require.NoError(t, err)
	require.Len(t, movs, 3)
	// 100 -> 40 -> 70 ends on an increment; 100 -> 70 -> 40 ends on a decrement.
	last := movs[len(movs)-1]
	if bal.Quantity.Equal(dec("70")) {
		assert.Equal(t, entity.MovementAdjustmentIncrement, last.MovementType)
	} else {
		assert.Equal(t, entity.MovementAdjustmentDecrement, last.MovementType)
	}
	assert.True(t, dec("30").Equal(last.Quantity))
}

func TestReconcile_PublishesBalanceUpdatedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec("5"), UnitPrice: dec("2")})
	require.NoError(t, err)

	events := f.pub.on(stock.ChannelBalanceUpdated)
	require.Len(t, events, 1)
	ev, ok := events[0].(stock.ChangeEvent)
	require.True(t, ok)
	assert.Equal(t, "I1", ev.ItemID)
	assert.Equal(t, "Main", ev.WarehouseName)
	assert.Equal(t, f.main.ID, ev.WarehouseID)
	assert.Equal(t, entity.MovementAdjustmentIncrement, ev.MovementType)
	require.NotNil(t, ev.Balance)
	assert.True(t, dec("5").Equal(ev.Balance.Quantity))

	assert.Len(t, f.pub.on(stock.ChannelMovementCreated), 1)
	assert.Empty(t, f.pub.on(stock.ChannelAlertUpdated))
}

func TestAppend_ValidationListsEveryField(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Append(context.Background(), stock.AppendInput{
		ItemID:       " ",
		Warehouse:    "",
		MovementType: entity.MovementType("GIFT"),
		Quantity:     dec("0"),
		UnitPrice:    dec("-1"),
	})
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	fields, ok := appErr.Details["fields"].(apperror.FieldErrors)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"itemId", "warehouseName", "quantity", "movementType", "unitPrice"}, fields.Fields())
	assert.Contains(t, appErr.Message, "warehouse is required")
	assert.Contains(t, appErr.Message, "quantity must be positive")

	assert.Zero(t, f.movements.Len())
	assert.Empty(t, f.pub.on(stock.ChannelMovementCreated))
}

func TestAppend_RejectsInactiveAndUnknownWarehouse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, ref := range []string{"Old", "Nowhere", "Mai"} {
		_, err := f.svc.Append(ctx, stock.AppendInput{
			ItemID: "I1", Warehouse: ref, MovementType: entity.MovementPurchase, Quantity: dec("1"),
		})
		require.Error(t, err, ref)
		assert.True(t, apperror.IsValidation(err), ref)
	}
	assert.Zero(t, f.movements.Len())
}

func TestAppend_ResolvesWarehouseByCodeAndID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, ref := range []string{"BAR", "bar", f.bar.ID.String()} {
		res, err := f.svc.Append(ctx, stock.AppendInput{
			ItemID: "I1", Warehouse: ref, MovementType: entity.MovementPurchase, Quantity: dec("1"), UnitPrice: dec("2"),
		})
		require.NoError(t, err, ref)
		assert.Equal(t, f.bar.ID, res.Movement.WarehouseID)
		assert.Equal(t, "Bar", res.Movement.WarehouseName)
	}
}

func TestAppend_ActorFallsBackToRequestUser(t *testing.T) {
	f := newFixture(t)
	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{UserID: "chef-7"})

	res, err := f.svc.Append(ctx, stock.AppendInput{
		ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "chef-7", res.Movement.CreatedBy)

	res, err = f.svc.Append(context.Background(), stock.AppendInput{
		ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("1"),
	})
	require.NoError(t, err)
	assert.Equal(t, appctx.SystemActor, res.Movement.CreatedBy)
}

func TestAppend_OverdrawClampsAndAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Append(ctx, stock.AppendInput{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("2"), UnitPrice: dec("10")})
	require.NoError(t, err)

	res, err := f.svc.Append(ctx, stock.AppendInput{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementSale, Quantity: dec("5")})
	require.NoError(t, err)
	assertBalance(t, res.Balance, "0", "0", "0")
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, res.Movement.ID, res.Anomalies[0].MovementID)
	assert.True(t, dec("3").Equal(res.Anomalies[0].Shortfall))
	assert.True(t, apperror.HasWarning(res.Warnings, apperror.WarnNegativeBalance))
	assert.Equal(t, 1, res.Balance.AnomalyCount)
	assert.Len(t, f.pub.on(stock.ChannelAlertUpdated), 1)

	// A later inflow does not re-alert for the old anomaly.
	res, err = f.svc.Append(ctx, stock.AppendInput{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("1"), UnitPrice: dec("4")})
	require.NoError(t, err)
	assert.Empty(t, res.Anomalies)
	assert.Len(t, f.pub.on(stock.ChannelAlertUpdated), 1)
	assertBalance(t, res.Balance, "1", "4", "4")
}

func TestAppend_RecomputeFailureReturnsStaleWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.balances.failUpsert.Store(true)
	res, err := f.svc.Append(ctx, stock.AppendInput{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("4"), UnitPrice: dec("2.5")})
	require.NoError(t, err)
	require.NotNil(t, res.Movement)
	assert.Nil(t, res.Balance)
	assert.True(t, apperror.HasWarning(res.Warnings, apperror.WarnProjectionStale))
	assert.Equal(t, 1, f.movements.Len())

	key := entity.BalanceKey{ItemID: "I1", WarehouseID: f.main.ID}
	assert.True(t, f.svc.IsStale(key))

	f.balances.failUpsert.Store(false)
	bal, err := f.svc.GetBalance(ctx, "I1", "Main")
	require.NoError(t, err)
	assertBalance(t, bal, "4", "10", "2.5")
	assert.False(t, f.svc.IsStale(key))
}

func TestAppend_PublishFailureReturnsStaleWarning(t *testing.T) {
	f := newFixture(t)
	f.pub.fail.Store(true)

	res, err := f.svc.Append(context.Background(), stock.AppendInput{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("1"), UnitPrice: dec("1")})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, apperror.WarnProjectionStale, res.Warnings[0].Code)
	assert.Equal(t, "publish_failed", res.Warnings[0].Details["reason"])
	assertBalance(t, res.Balance, "1", "1", "1")
}

func TestLedger_RecordsAreImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Append(ctx, stock.AppendInput{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("3"), UnitPrice: dec("1")})
	require.NoError(t, err)

	// Mutating the returned struct must not leak into the store.
	res.Movement.Quantity = dec("999")

	first, err := f.svc.ListMovements(ctx, "I1", "Main")
	require.NoError(t, err)
	second, err := f.svc.ListMovements(ctx, "I1", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.True(t, dec("3").Equal(first[0].Quantity))
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec("100"), UnitPrice: dec("5000")})
	require.NoError(t, err)

	res, err := f.svc.Transfer(ctx, stock.TransferInput{ItemID: "I1", From: "Main", To: "Bar", Quantity: dec("40")})
	require.NoError(t, err)
	assert.Equal(t, entity.MovementTransferOut, res.Out.MovementType)
	assert.Equal(t, entity.MovementTransferIn, res.In.MovementType)
	assert.True(t, dec("5000").Equal(res.In.UnitPrice))
	assertBalance(t, res.FromBalance, "60", "300000", "5000")
	assertBalance(t, res.ToBalance, "40", "200000", "5000")
	assert.Len(t, f.pub.on(stock.ChannelTransferCompleted), 1)

	agg, err := f.svc.GetBalance(ctx, "I1", "")
	require.NoError(t, err)
	assertBalance(t, agg, "100", "500000", "5000")

	_, err = f.svc.Transfer(ctx, stock.TransferInput{ItemID: "I1", From: "Main", To: "Bar", Quantity: dec("61")})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock))

	_, err = f.svc.Transfer(ctx, stock.TransferInput{ItemID: "I1", From: "Main", To: "MAIN", Quantity: dec("1")})
	require.Error(t, err)
	assert.True(t, apperror.IsValidation(err))

	assert.Equal(t, 3, f.movements.Len())
}

func TestGetBalance_UnknownItemIsZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bal, err := f.svc.GetBalance(ctx, "nothing", "Main")
	require.NoError(t, err)
	assertBalance(t, bal, "0", "0", "0")

	agg, err := f.svc.GetBalance(ctx, "nothing", "")
	require.NoError(t, err)
	assertBalance(t, agg, "0", "0", "0")

	_, err = f.svc.GetBalance(ctx, "", "Main")
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.GetBalance(ctx, "I1", "Nowhere")
	assert.True(t, apperror.IsNotFound(err))
}

func TestRecompute_IsRepeatable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, in := range []stock.AppendInput{
		{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("3"), UnitPrice: dec("1.1")},
		{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("4"), UnitPrice: dec("2.2")},
		{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementSale, Quantity: dec("5")},
	} {
		_, err := f.svc.Append(ctx, in)
		require.NoError(t, err)
	}

	first, err := f.svc.Recompute(ctx, "I1", "Main")
	require.NoError(t, err)
	second, err := f.svc.Recompute(ctx, "I1", "Main")
	require.NoError(t, err)
	assert.True(t, first.Balance.Quantity.Equal(second.Balance.Quantity))
	assert.True(t, first.Balance.TotalValue.Equal(second.Balance.TotalValue))
	assert.True(t, first.Balance.AveragePrice.Equal(second.Balance.AveragePrice))
	assert.True(t, dec("2").Equal(second.Balance.Quantity))
}

func TestVerifyAll_RepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec("10"), UnitPrice: dec("2")})
	require.NoError(t, err)
	_, err = f.svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I2", Warehouse: "Bar", NewQuantity: dec("1"), UnitPrice: dec("2")})
	require.NoError(t, err)

	key := entity.BalanceKey{ItemID: "I1", WarehouseID: f.main.ID}
	tampered, err := f.balances.Get(ctx, key)
	require.NoError(t, err)
	tampered.Quantity = dec("11")
	require.NoError(t, f.balances.BalanceRepo.Upsert(ctx, tampered))

	report, err := f.svc.Verify(ctx, key)
	require.NoError(t, err)
	assert.True(t, report.Drifted)

	sum, err := f.svc.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, stock.VerifySummary{Checked: 2, Drifted: 1, Repaired: 1}, sum)

	bal, err := f.balances.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(bal.Quantity))
}

func TestHistory_FiltersAndPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Append(ctx, stock.AppendInput{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("1")})
		require.NoError(t, err)
	}
	_, err := f.svc.Append(ctx, stock.AppendInput{ItemID: "I1", Warehouse: "Bar", MovementType: entity.MovementSale, Quantity: dec("1")})
	require.NoError(t, err)

	all, err := f.svc.History(ctx, stock.HistoryQuery{ItemID: "I1"})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, entity.MovementSale, all[0].MovementType, "newest first")

	sales, err := f.svc.History(ctx, stock.HistoryQuery{MovementType: "sale"})
	require.NoError(t, err)
	assert.Len(t, sales, 1)

	page, err := f.svc.History(ctx, stock.HistoryQuery{Warehouse: "Main", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, err = f.svc.History(ctx, stock.HistoryQuery{MovementType: "GIFT"})
	assert.True(t, apperror.IsValidation(err))
}

func TestDocumentNumbers_AssignedWhenMissing(t *testing.T) {
	ctx := context.Background()
	main := warehouse.NewWarehouse("MAIN", "Main")
	bar := warehouse.NewWarehouse("BAR", "Bar")
	registry := warehouse.NewService(memory.NewWarehouseRepo(main, bar), nil, "Main")
	clock := &tickClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	svc := stock.NewService(memory.NewMovementRepo(), memory.NewBalanceRepo(), registry, nil,
		stock.WithNumerator(numerator.NewMemory()),
		stock.WithClock(clock.Now),
	)

	first, err := svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec("10"), UnitPrice: dec("2")})
	require.NoError(t, err)
	assert.Equal(t, "CNT-2026-00001", first.Movement.DocumentNumber)

	noop, err := svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec("10")})
	require.NoError(t, err)
	require.True(t, noop.Noop())

	explicit, err := svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec("8"), DocumentNumber: " INV-77 "})
	require.NoError(t, err)
	assert.Equal(t, "INV-77", explicit.Movement.DocumentNumber)

	second, err := svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec("9"), UnitPrice: dec("2")})
	require.NoError(t, err)
	assert.Equal(t, "CNT-2026-00002", second.Movement.DocumentNumber, "no-op counts do not consume numbers")

	tr, err := svc.Transfer(ctx, stock.TransferInput{ItemID: "I1", From: "Main", To: "Bar", Quantity: dec("3")})
	require.NoError(t, err)
	assert.Equal(t, "TRF-2026-00001", tr.Out.DocumentNumber)
	assert.Equal(t, tr.Out.DocumentNumber, tr.In.DocumentNumber)
}

type txScope struct {
	locked map[entity.BalanceKey]bool
}

type txScopeKey struct{}

// scopedTx gives each outermost transaction its own scope so repositories
// can see which key locks it holds.
var scopedTx = tx.ManagerFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txScopeKey{}).(*txScope); ok {
		return fn(ctx)
	}
	return fn(context.WithValue(ctx, txScopeKey{}, &txScope{locked: map[entity.BalanceKey]bool{}}))
})

type lockingMovements struct {
	*memory.MovementRepo
}

func (r lockingMovements) LockKey(ctx context.Context, key entity.BalanceKey) error {
	sc, ok := ctx.Value(txScopeKey{}).(*txScope)
	if !ok {
		return errors.New("key locked outside a transaction")
	}
	sc.locked[key] = true
	return nil
}

type guardedBalances struct {
	*memory.BalanceRepo
	upserts atomic.Int32
}

func (g *guardedBalances) Upsert(ctx context.Context, b *entity.StockBalance) error {
	sc, ok := ctx.Value(txScopeKey{}).(*txScope)
	if !ok || !sc.locked[b.Key()] {
		return errors.New("balance stored without holding the key lock")
	}
	g.upserts.Add(1)
	return g.BalanceRepo.Upsert(ctx, b)
}

func TestBalanceWritesHoldKeyLock(t *testing.T) {
	ctx := context.Background()
	main := warehouse.NewWarehouse("MAIN", "Main")
	bar := warehouse.NewWarehouse("BAR", "Bar")
	registry := warehouse.NewService(memory.NewWarehouseRepo(main, bar), nil, "Main")
	balances := &guardedBalances{BalanceRepo: memory.NewBalanceRepo()}
	svc := stock.NewService(lockingMovements{memory.NewMovementRepo()}, balances, registry, scopedTx)

	app, err := svc.Append(ctx, stock.AppendInput{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("10"), UnitPrice: dec("3")})
	require.NoError(t, err)
	assert.Empty(t, app.Warnings)

	rec, err := svc.Reconcile(ctx, stock.ReconcileInput{ItemID: "I1", Warehouse: "Main", NewQuantity: dec("8")})
	require.NoError(t, err)
	assert.Empty(t, rec.Warnings)

	tr, err := svc.Transfer(ctx, stock.TransferInput{ItemID: "I1", From: "Main", To: "Bar", Quantity: dec("3")})
	require.NoError(t, err)
	assert.Empty(t, tr.Warnings)

	_, err = svc.Recompute(ctx, "I1", "Bar")
	require.NoError(t, err)

	require.NoError(t, balances.MarkStale(ctx, entity.BalanceKey{ItemID: "I1", WarehouseID: main.ID}))
	bal, err := svc.GetBalance(ctx, "I1", "Main")
	require.NoError(t, err)
	assertBalance(t, bal, "5", "15", "3")

	assert.Equal(t, int32(6), balances.upserts.Load())
}

func TestRecompute_PreviousBalanceReadFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ctx := logger.WithLogger(context.Background(), &logger.Logger{SugaredLogger: zap.New(core).Sugar()})

	f := newFixture(t)
	_, err := f.svc.Append(ctx, stock.AppendInput{ItemID: "I1", Warehouse: "Main", MovementType: entity.MovementPurchase, Quantity: dec("2"), UnitPrice: dec("1")})
	require.NoError(t, err)

	f.balances.failGet.Store(true)
	res, err := f.svc.Recompute(ctx, "I1", "Main")
	require.NoError(t, err)
	assertBalance(t, &res.Balance, "2", "2", "1")

	warned := logs.FilterMessage("previous balance unreadable, recomputing anyway")
	require.Equal(t, 1, warned.Len())
	assert.Equal(t, "connection reset", warned.All()[0].ContextMap()["error"])
}
