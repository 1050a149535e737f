package stock

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/core/entity"
	"backoffice/internal/core/types"
)

// divisionPlaces bounds intermediate precision when an outflow removes value
// at the running average.
const divisionPlaces int32 = 12

// ReplayResult is the state reached by folding a key's movements in order.
type ReplayResult struct {
	Quantity       types.Quantity
	TotalValue     types.Money
	AveragePrice   types.Money
	MovementCount  int
	LastMovementAt time.Time
	Anomalies      []entity.BalanceAnomaly
}

// Replay folds movements into a balance using the weighted-average rule.
//
// Inflows add quantity and quantity*unitPrice. Outflows remove quantity and
// value at the average price held before the outflow; the movement's own
// unit price is ignored. An outflow larger than the stock on hand clamps the
// balance at zero and is reported as an anomaly.
//
// Replay does not modify movements and gives the same result for the same
// input regardless of input order.
func Replay(movements []entity.StockMovement) ReplayResult {
	ordered := make([]*entity.StockMovement, len(movements))
	for i := range movements {
		ordered[i] = &movements[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Before(ordered[j])
	})

	qty := decimal.Zero
	value := decimal.Zero
	var res ReplayResult

	for _, m := range ordered {
		q := m.Quantity
		switch {
		case m.MovementType.IsInflow():
			qty = qty.Add(q)
			value = value.Add(q.Mul(m.UnitPrice))

		case m.MovementType.IsOutflow():
			if q.GreaterThan(qty) {
				res.Anomalies = append(res.Anomalies, entity.BalanceAnomaly{
					MovementID:   m.ID,
					ItemID:       m.ItemID,
					WarehouseID:  m.WarehouseID,
					MovementType: m.MovementType,
					Requested:    q,
					Available:    qty,
					Shortfall:    q.Sub(qty),
					OccurredAt:   m.CreatedAt,
				})
				qty = decimal.Zero
				value = decimal.Zero
				break
			}
			if qty.IsPositive() {
				// value * q / qty is q * avgBefore without rounding avgBefore first.
				value = value.Sub(value.Mul(q).DivRound(qty, divisionPlaces))
			}
			qty = qty.Sub(q)

		default:
			continue
		}

		if qty.IsZero() {
			value = decimal.Zero
		}
		res.MovementCount++
		res.LastMovementAt = m.CreatedAt
	}

	res.Quantity = types.RoundQuantity(qty)
	res.TotalValue = types.RoundMoney(value)
	res.AveragePrice = types.AveragePrice(res.TotalValue, res.Quantity)
	return res
}

// Balance converts the result into a projection row for key.
func (r ReplayResult) Balance(key entity.BalanceKey, warehouseName string, now time.Time) entity.StockBalance {
	return entity.StockBalance{
		ItemID:         key.ItemID,
		WarehouseID:    key.WarehouseID,
		WarehouseName:  warehouseName,
		Quantity:       r.Quantity,
		TotalValue:     r.TotalValue,
		AveragePrice:   r.AveragePrice,
		AnomalyCount:   len(r.Anomalies),
		MovementCount:  r.MovementCount,
		LastMovementAt: r.LastMovementAt,
		UpdatedAt:      now,
	}
}

// Aggregate sums per-warehouse balances for one item. The average price is
// recomputed from the summed value and quantity, not averaged across rows.
func Aggregate(itemID string, balances []entity.StockBalance, now time.Time) entity.StockBalance {
	agg := entity.StockBalance{
		ItemID:       itemID,
		Quantity:     decimal.Zero,
		TotalValue:   decimal.Zero,
		AveragePrice: decimal.Zero,
		UpdatedAt:    now,
	}
	for _, b := range balances {
		agg.Quantity = agg.Quantity.Add(b.Quantity)
		agg.TotalValue = agg.TotalValue.Add(b.TotalValue)
		agg.AnomalyCount += b.AnomalyCount
		agg.MovementCount += b.MovementCount
		agg.Stale = agg.Stale || b.Stale
		if b.LastMovementAt.After(agg.LastMovementAt) {
			agg.LastMovementAt = b.LastMovementAt
		}
	}
	agg.AveragePrice = types.AveragePrice(agg.TotalValue, agg.Quantity)
	return agg
}

// sameBalance reports whether two rows agree on every projected figure.
func sameBalance(a, b *entity.StockBalance) bool {
	return a.Quantity.Equal(b.Quantity) &&
		a.TotalValue.Equal(b.TotalValue) &&
		a.AveragePrice.Equal(b.AveragePrice) &&
		a.AnomalyCount == b.AnomalyCount &&
		a.MovementCount == b.MovementCount
}
