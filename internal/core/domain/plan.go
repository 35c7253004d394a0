package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// LotMutation is one planned quantity/state change for a single lot. Applying
// it must bump the lot's version from VersionBefore to VersionBefore+1.
type LotMutation struct {
	LotID          int64
	ProductID      int64
	Code           string
	QuantityBefore int
	QuantityAfter  int
	StateAfter     LotState
	VersionBefore  int
}

// OrderPlan is the validated outcome of an order against a locked lot set.
// Mutations are ordered by ascending lot id.
type OrderPlan struct {
	Total     float64
	Mutations []LotMutation
}

// PlanOrder validates an order's lines against the locked lots and plans the
// resulting mutations. Lines referencing the same lot accumulate against a
// working copy, so a later line sees the stock a former line already claimed.
// Any violation rejects the whole order; the caller applies either every
// mutation or none.
func PlanOrder(typ OrderType, lots map[int64]Lot, lines []OrderLine, now time.Time) (*OrderPlan, error) {
	if !typ.Valid() {
		return nil, Validationf("invalid order type %q", typ)
	}
	if len(lines) == 0 {
		return nil, Validationf("order has no items")
	}

	working := make(map[int64]Lot, len(lots))
	for id, lot := range lots {
		working[id] = lot
	}

	var total float64
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, Validationf("item quantity must be positive")
		}
		lot, ok := working[line.LotID]
		if !ok {
			return nil, fmt.Errorf("lot %d: %w", line.LotID, ErrNotFound)
		}

		switch typ {
		case OrderTypeSale:
			if lot.State != LotStateAvailable {
				return nil, Validationf("lot %s is not available (state: %s)", lot.Code, lot.State)
			}
			if lot.Quantity < line.Quantity {
				return nil, Validationf("insufficient stock in lot %s: available %d, requested %d",
					lot.Code, lot.Quantity, line.Quantity)
			}
			if lot.Expired(now) {
				return nil, Validationf("lot %s is expired", lot.Code)
			}
			lot.Quantity -= line.Quantity
		case OrderTypePurchase:
			lot.Quantity += line.Quantity
		}

		working[line.LotID] = lot
		total += float64(line.Quantity) * line.UnitPrice
	}

	plan := &OrderPlan{Total: math.Round(total*100) / 100}
	for _, id := range sortedTouchedIDs(lots, working) {
		before, after := lots[id], working[id]
		state := before.State
		// A sale that drains a lot reserves it. Purchases leave state alone.
		if typ == OrderTypeSale && after.Quantity == 0 {
			state = LotStateReserved
		}
		plan.Mutations = append(plan.Mutations, LotMutation{
			LotID:          id,
			ProductID:      before.ProductID,
			Code:           before.Code,
			QuantityBefore: before.Quantity,
			QuantityAfter:  after.Quantity,
			StateAfter:     state,
			VersionBefore:  before.Version,
		})
	}
	return plan, nil
}

// PlanReversal plans the inventory reversal for cancelling a pending order.
// Sale orders give their quantity back and free the lots; purchase orders
// take it back out, and the whole cancellation fails if any lot no longer
// holds enough (its stock may have been sold on in the meantime).
func PlanReversal(typ OrderType, lots map[int64]Lot, items []OrderItem) (*OrderPlan, error) {
	if len(items) == 0 {
		return nil, Validationf("order has no items to reverse")
	}

	working := make(map[int64]Lot, len(lots))
	for id, lot := range lots {
		working[id] = lot
	}

	for _, item := range items {
		lot, ok := working[item.LotID]
		if !ok {
			return nil, fmt.Errorf("lot %d: %w", item.LotID, ErrNotFound)
		}
		switch typ {
		case OrderTypeSale:
			lot.Quantity += item.Quantity
		case OrderTypePurchase:
			if lot.Quantity < item.Quantity {
				return nil, Validationf("cannot cancel: lot %s has insufficient quantity to reverse", lot.Code)
			}
			lot.Quantity -= item.Quantity
		}
		working[item.LotID] = lot
	}

	plan := &OrderPlan{}
	for _, id := range sortedTouchedIDs(lots, working) {
		before, after := lots[id], working[id]
		state := before.State
		if typ == OrderTypeSale {
			state = LotStateAvailable
		}
		plan.Mutations = append(plan.Mutations, LotMutation{
			LotID:          id,
			ProductID:      before.ProductID,
			Code:           before.Code,
			QuantityBefore: before.Quantity,
			QuantityAfter:  after.Quantity,
			StateAfter:     state,
			VersionBefore:  before.Version,
		})
	}
	return plan, nil
}

func sortedTouchedIDs(before, after map[int64]Lot) []int64 {
	ids := make([]int64, 0, len(after))
	for id := range after {
		if before[id].Quantity != after[id].Quantity || before[id].State != after[id].State {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
