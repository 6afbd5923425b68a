/*
balance.go - Derived aggregates per lot

PURPOSE:
  Computes, for any lot, the four aggregates the gatekeeper checks and
  the UI displays: kilograms received, kilograms moved out, remaining
  balance, and treated-but-not-yet-moved balance. Everything is
  recomputed by scanning the collections on every call - an O(n) scan
  traded for zero update-anomaly risk, which is the right trade at this
  data scale.

INVARIANTS (maintained by the Keeper, observable here):
  - BalanceKg is never negative
  - moved kilograms never exceed treated kilograms (within Epsilon)
  - moved kilograms never exceed received kilograms (within Epsilon)

SEE ALSO:
  - keeper.go: enforces the invariants on every mutation
*/
package ledger

import (
	"context"
	"math"
)

// Engine computes derived balances by scanning the store.
type Engine struct {
	store Store
}

// NewEngine creates a balance engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// UsedKg returns the total kilograms moved out of the lot.
func (e *Engine) UsedKg(ctx context.Context, lotID string) (float64, error) {
	movs, err := e.store.MovementsByLot(ctx, lotID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, m := range movs {
		total += m.QtyKg
	}
	return total, nil
}

// TreatedKg returns the total kilograms of the lot that have been
// treated.
func (e *Engine) TreatedKg(ctx context.Context, lotID string) (float64, error) {
	trts, err := e.store.TreatmentsByLot(ctx, lotID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, t := range trts {
		total += t.QtyKg
	}
	return total, nil
}

// BalanceKg is the remaining lot balance, floored at zero.
func BalanceKg(lotQtyKg, usedKg float64) float64 {
	return math.Max(0, lotQtyKg-usedKg)
}

// TreatedAvailableKg is the treated-but-not-yet-moved balance, floored
// at zero.
func TreatedAvailableKg(treatedKg, usedKg float64) float64 {
	return math.Max(0, treatedKg-usedKg)
}

// =============================================================================
// DISPLAY VIEWS
// =============================================================================

// UnitBreakdown is one kilogram figure rendered in all three units.
// The kilogram value is authoritative; sack and bag are derived for
// display and never persisted.
type UnitBreakdown struct {
	Kg  float64 `json:"kg"`
	Sc  float64 `json:"sc"`
	Bag float64 `json:"bag"`
}

// Breakdown renders kg in all three units using the given ratios.
func Breakdown(kg float64, s Settings) UnitBreakdown {
	return UnitBreakdown{
		Kg:  kg,
		Sc:  kg / s.sackRatio(),
		Bag: kg / s.bagRatio(),
	}
}

// LotBalances carries every aggregate for one lot in every unit.
type LotBalances struct {
	Received         UnitBreakdown
	Used             UnitBreakdown
	Treated          UnitBreakdown
	Balance          UnitBreakdown
	TreatedAvailable UnitBreakdown
}

// Balances computes all aggregates for the lot under the given
// settings.
func (e *Engine) Balances(ctx context.Context, lot SeedLot, s Settings) (LotBalances, error) {
	used, err := e.UsedKg(ctx, lot.ID)
	if err != nil {
		return LotBalances{}, err
	}
	treated, err := e.TreatedKg(ctx, lot.ID)
	if err != nil {
		return LotBalances{}, err
	}

	return LotBalances{
		Received:         Breakdown(lot.QtyKg, s),
		Used:             Breakdown(used, s),
		Treated:          Breakdown(treated, s),
		Balance:          Breakdown(BalanceKg(lot.QtyKg, used), s),
		TreatedAvailable: Breakdown(TreatedAvailableKg(treated, used), s),
	}, nil
}
