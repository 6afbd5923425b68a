/*
convert.go - Unit conversion between kilograms, sacks, and bags

PURPOSE:
  Pure conversion functions between the three supported units. Sacks and
  bags convert through the configurable ratios in Settings; kilograms
  are the identity. Conversions are plain float64 arithmetic with no
  rounding, so every downstream comparison uses Epsilon to absorb
  floating point drift.

EPSILON:
  The 1e-6 tolerance is load-bearing. Boundary-equal quantities (move
  exactly what was treated, shrink a lot to exactly what was shipped)
  must be accepted, and without the tolerance they are rejected on
  floating point noise.

SEE ALSO:
  - balance.go: aggregates compared against Epsilon
  - keeper.go: every guard condition uses Epsilon
*/
package ledger

// Epsilon is the tolerance applied to every balance comparison.
const Epsilon = 1e-6

// ToKg converts a quantity recorded in unit to kilograms using the
// given ratios. Returns ErrInvalidUnit for an unknown unit tag.
func ToKg(qty float64, unit Unit, s Settings) (float64, error) {
	switch unit {
	case UnitKg:
		return qty, nil
	case UnitSack:
		return qty * s.sackRatio(), nil
	case UnitBag:
		return qty * s.bagRatio(), nil
	}
	return 0, ErrInvalidUnit
}

// FromKg converts kilograms back to the given unit. Returns
// ErrInvalidUnit for an unknown unit tag.
func FromKg(kg float64, unit Unit, s Settings) (float64, error) {
	switch unit {
	case UnitKg:
		return kg, nil
	case UnitSack:
		return kg / s.sackRatio(), nil
	case UnitBag:
		return kg / s.bagRatio(), nil
	}
	return 0, ErrInvalidUnit
}
