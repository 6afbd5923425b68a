/*
keeper.go - Mutation gatekeeper

PURPOSE:
  Every create/update/delete goes through the Keeper. It re-derives the
  affected lot's aggregates fresh, checks them against the balance
  invariants, and only then commits. Rejections are synchronous and
  non-partial: either the whole mutation persists or nothing does.

THE CENTRAL RULE:
  For a given lot, at all times:

    sum(movements.qty_kg) <= sum(treatments.qty_kg) <= unbounded
    sum(movements.qty_kg) <= lot.qty_kg

  within Epsilon. A movement may only draw from material that has been
  treated and not yet moved. Edits and deletes re-run the checks with
  the record under change excluded, so deleting a movement is always
  permitted while deleting a treatment may not be.

  Treatments are deliberately not capped against the lot's own intake;
  over-treating is accepted and surfaces in the displayed figures.

CONCURRENCY:
  A single process-wide mutex serializes every read-validate-write
  sequence. The invariants span three collections (movements check
  treatments check lots), so a per-lot lock would still need a global
  order; one mutex is simpler and more than fast enough here.

SIDE EFFECTS:
  On every successful mutation the Keeper persists, appends an audit
  event, and fans out a typed data-changed notification plus the event
  as an alarm. Fan-out is best effort and never gates the mutation.

SEE ALSO:
  - balance.go: the aggregates checked here
  - errors.go: rejection types returned to callers
*/
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Keeper validates and commits mutations against the three ledgers.
type Keeper struct {
	mu       sync.Mutex
	store    Store
	engine   *Engine
	notifier Notifier
	log      *zap.Logger
}

// NewKeeper creates a gatekeeper over the given store. notifier and log
// may be nil.
func NewKeeper(store Store, notifier Notifier, log *zap.Logger) *Keeper {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Keeper{
		store:    store,
		engine:   NewEngine(store),
		notifier: notifier,
		log:      log,
	}
}

// Engine exposes the balance engine backed by the same store.
func (k *Keeper) Engine() *Engine { return k.engine }

// =============================================================================
// INPUTS
// =============================================================================

// LotInput carries the fields to create a seed lot.
type LotInput struct {
	Variety    string  `json:"variety"`
	Supplier   string  `json:"supplier"`
	LotCode    string  `json:"lot_code"`
	Unit       Unit    `json:"unit"`
	Qty        float64 `json:"qty"`
	ReceivedAt string  `json:"received_at"`
}

// LotPatch carries a partial lot update; nil fields keep their current
// value.
type LotPatch struct {
	Variety    *string  `json:"variety"`
	Supplier   *string  `json:"supplier"`
	LotCode    *string  `json:"lot_code"`
	Unit       *Unit    `json:"unit"`
	Qty        *float64 `json:"qty"`
	ReceivedAt *string  `json:"received_at"`
}

// TreatmentInput carries the fields to create a treatment.
type TreatmentInput struct {
	LotID        string  `json:"lot_id"`
	Product      string  `json:"product"`
	DosePer100Kg float64 `json:"dose_per_100kg"`
	Operator     string  `json:"operator"`
	Unit         Unit    `json:"unit"`
	Qty          float64 `json:"qty"`
	TreatedAt    string  `json:"treated_at"`
}

// TreatmentPatch carries a partial treatment update.
type TreatmentPatch struct {
	LotID        *string  `json:"lot_id"`
	Product      *string  `json:"product"`
	DosePer100Kg *float64 `json:"dose_per_100kg"`
	Operator     *string  `json:"operator"`
	Unit         *Unit    `json:"unit"`
	Qty          *float64 `json:"qty"`
	TreatedAt    *string  `json:"treated_at"`
}

// MovementInput carries the fields to create a movement.
type MovementInput struct {
	LotID           string          `json:"lot_id"`
	DestinationType DestinationType `json:"destination_type"`
	DestinationName string          `json:"destination_name"`
	Unit            Unit            `json:"unit"`
	Qty             float64         `json:"qty"`
	MovedAt         string          `json:"moved_at"`
	Notes           string          `json:"notes"`
}

// MovementPatch carries a partial movement update.
type MovementPatch struct {
	LotID           *string          `json:"lot_id"`
	DestinationType *DestinationType `json:"destination_type"`
	DestinationName *string          `json:"destination_name"`
	Unit            *Unit            `json:"unit"`
	Qty             *float64         `json:"qty"`
	MovedAt         *string          `json:"moved_at"`
	Notes           *string          `json:"notes"`
}

// =============================================================================
// SETTINGS
// =============================================================================

// UpdateSettings replaces the unit ratios. Existing qty_kg figures are
// not recomputed; the new ratios apply to subsequent writes and to
// display conversions.
func (k *Keeper) UpdateSettings(ctx context.Context, by string, s Settings) (Settings, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if s.KgPerSack <= 0 {
		return Settings{}, &FieldError{Field: "kg_per_sc", Message: "must be a positive number"}
	}
	if s.KgPerBag <= 0 {
		return Settings{}, &FieldError{Field: "kg_per_bag", Message: "must be a positive number"}
	}

	if err := k.store.SaveSettings(ctx, s); err != nil {
		return Settings{}, err
	}

	k.commit(ctx, by, "settings", "update", "settings", map[string]any{
		"kg_per_sc":  s.KgPerSack,
		"kg_per_bag": s.KgPerBag,
	}, KindSettings)
	return s, nil
}

// =============================================================================
// LOTS
// =============================================================================

// CreateLot records a new intake. qty_kg is fixed at this moment using
// the current settings.
func (k *Keeper) CreateLot(ctx context.Context, by string, in LotInput) (SeedLot, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := validateLotFields(in.Variety, in.Supplier, in.LotCode, in.ReceivedAt, in.Unit, in.Qty); err != nil {
		return SeedLot{}, err
	}

	settings, err := k.store.Settings(ctx)
	if err != nil {
		return SeedLot{}, err
	}
	qtyKg, err := ToKg(in.Qty, in.Unit, settings)
	if err != nil {
		return SeedLot{}, err
	}

	now := time.Now().UTC()
	lot := SeedLot{
		ID:         uuid.NewString(),
		Variety:    in.Variety,
		Supplier:   in.Supplier,
		LotCode:    in.LotCode,
		Unit:       in.Unit,
		Qty:        in.Qty,
		QtyKg:      qtyKg,
		ReceivedAt: in.ReceivedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := k.store.SaveLot(ctx, lot); err != nil {
		return SeedLot{}, err
	}

	k.commit(ctx, by, "lot", "create", lot.ID, map[string]any{
		"variety":  lot.Variety,
		"lot_code": lot.LotCode,
	}, KindLots)
	return lot, nil
}

// UpdateLot edits a lot, recomputing qty_kg with the current settings.
// Shrinking the lot below what has already been moved out is rejected.
func (k *Keeper) UpdateLot(ctx context.Context, by, id string, patch LotPatch) (SeedLot, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	lot, err := k.store.Lot(ctx, id)
	if err != nil {
		return SeedLot{}, err
	}
	if lot == nil {
		return SeedLot{}, ErrLotNotFound
	}

	updated := *lot
	applyString(&updated.Variety, patch.Variety)
	applyString(&updated.Supplier, patch.Supplier)
	applyString(&updated.LotCode, patch.LotCode)
	applyString(&updated.ReceivedAt, patch.ReceivedAt)
	if patch.Unit != nil {
		updated.Unit = *patch.Unit
	}
	if patch.Qty != nil {
		updated.Qty = *patch.Qty
	}
	if err := validateLotFields(updated.Variety, updated.Supplier, updated.LotCode, updated.ReceivedAt, updated.Unit, updated.Qty); err != nil {
		return SeedLot{}, err
	}

	settings, err := k.store.Settings(ctx)
	if err != nil {
		return SeedLot{}, err
	}
	newQtyKg, err := ToKg(updated.Qty, updated.Unit, settings)
	if err != nil {
		return SeedLot{}, err
	}

	used, err := k.engine.UsedKg(ctx, id)
	if err != nil {
		return SeedLot{}, err
	}
	if newQtyKg < used-Epsilon {
		return SeedLot{}, &InvariantError{
			Code:        CodeBelowMovedVolume,
			Message:     "new volume is smaller than the kilograms already moved out",
			LotID:       id,
			RequestedKg: newQtyKg,
			AvailableKg: used,
		}
	}

	updated.QtyKg = newQtyKg
	updated.UpdatedAt = time.Now().UTC()
	if err := k.store.SaveLot(ctx, updated); err != nil {
		return SeedLot{}, err
	}

	k.commit(ctx, by, "lot", "update", id, map[string]any{
		"variety":  updated.Variety,
		"lot_code": updated.LotCode,
	}, KindLots)
	return updated, nil
}

// DeleteLot removes a lot, refusing while any treatment or movement
// still references it.
func (k *Keeper) DeleteLot(ctx context.Context, by, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	lot, err := k.store.Lot(ctx, id)
	if err != nil {
		return err
	}
	if lot == nil {
		return ErrLotNotFound
	}

	trts, err := k.store.TreatmentsByLot(ctx, id)
	if err != nil {
		return err
	}
	movs, err := k.store.MovementsByLot(ctx, id)
	if err != nil {
		return err
	}
	if len(trts) > 0 || len(movs) > 0 {
		return ErrLotHasDependents
	}

	if err := k.store.DeleteLot(ctx, id); err != nil {
		return err
	}

	k.commit(ctx, by, "lot", "delete", id, nil, KindLots)
	return nil
}

// =============================================================================
// TREATMENTS
// =============================================================================

// CreateTreatment records a chemical application against an existing
// lot. The treated total is not capped against the lot's intake.
func (k *Keeper) CreateTreatment(ctx context.Context, by string, in TreatmentInput) (Treatment, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := validateTreatmentFields(in.Product, in.TreatedAt, in.Unit, in.Qty, in.DosePer100Kg); err != nil {
		return Treatment{}, err
	}

	lot, err := k.store.Lot(ctx, in.LotID)
	if err != nil {
		return Treatment{}, err
	}
	if lot == nil {
		return Treatment{}, ErrLotNotFound
	}

	settings, err := k.store.Settings(ctx)
	if err != nil {
		return Treatment{}, err
	}
	qtyKg, err := ToKg(in.Qty, in.Unit, settings)
	if err != nil {
		return Treatment{}, err
	}

	now := time.Now().UTC()
	t := Treatment{
		ID:           uuid.NewString(),
		LotID:        in.LotID,
		Product:      in.Product,
		DosePer100Kg: in.DosePer100Kg,
		Operator:     in.Operator,
		Unit:         in.Unit,
		Qty:          in.Qty,
		QtyKg:        qtyKg,
		TreatedAt:    in.TreatedAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := k.store.SaveTreatment(ctx, t); err != nil {
		return Treatment{}, err
	}

	k.commit(ctx, by, "treatment", "create", t.ID, map[string]any{
		"lot_id":  t.LotID,
		"product": t.Product,
	}, KindTreatments, KindLots)
	return t, nil
}

// UpdateTreatment edits a treatment. The lot's treated total as it
// would stand after the edit must still cover the kilograms already
// moved out; when the treatment is re-pointed at another lot, the lot
// it leaves is checked too.
func (k *Keeper) UpdateTreatment(ctx context.Context, by, id string, patch TreatmentPatch) (Treatment, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.store.Treatment(ctx, id)
	if err != nil {
		return Treatment{}, err
	}
	if t == nil {
		return Treatment{}, ErrTreatmentNotFound
	}

	updated := *t
	applyString(&updated.Product, patch.Product)
	applyString(&updated.Operator, patch.Operator)
	applyString(&updated.TreatedAt, patch.TreatedAt)
	applyString(&updated.LotID, patch.LotID)
	if patch.Unit != nil {
		updated.Unit = *patch.Unit
	}
	if patch.Qty != nil {
		updated.Qty = *patch.Qty
	}
	if patch.DosePer100Kg != nil {
		updated.DosePer100Kg = *patch.DosePer100Kg
	}
	if err := validateTreatmentFields(updated.Product, updated.TreatedAt, updated.Unit, updated.Qty, updated.DosePer100Kg); err != nil {
		return Treatment{}, err
	}

	lot, err := k.store.Lot(ctx, updated.LotID)
	if err != nil {
		return Treatment{}, err
	}
	if lot == nil {
		return Treatment{}, ErrLotNotFound
	}

	settings, err := k.store.Settings(ctx)
	if err != nil {
		return Treatment{}, err
	}
	qtyKg, err := ToKg(updated.Qty, updated.Unit, settings)
	if err != nil {
		return Treatment{}, err
	}
	updated.QtyKg = qtyKg

	if err := k.checkTreatedCovers(ctx, updated.LotID, id, qtyKg); err != nil {
		return Treatment{}, err
	}
	if updated.LotID != t.LotID {
		// The treatment leaves its old lot entirely.
		if err := k.checkTreatedCovers(ctx, t.LotID, id, 0); err != nil {
			return Treatment{}, err
		}
	}

	updated.UpdatedAt = time.Now().UTC()
	if err := k.store.SaveTreatment(ctx, updated); err != nil {
		return Treatment{}, err
	}

	k.commit(ctx, by, "treatment", "update", id, map[string]any{
		"lot_id":  updated.LotID,
		"product": updated.Product,
	}, KindTreatments, KindLots)
	return updated, nil
}

// DeleteTreatment removes a treatment unless doing so would leave the
// lot's movements uncovered by the remaining treated volume.
func (k *Keeper) DeleteTreatment(ctx context.Context, by, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	t, err := k.store.Treatment(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrTreatmentNotFound
	}

	if err := k.checkTreatedCovers(ctx, t.LotID, id, 0); err != nil {
		return err
	}

	if err := k.store.DeleteTreatment(ctx, id); err != nil {
		return err
	}

	k.commit(ctx, by, "treatment", "delete", id, map[string]any{
		"lot_id": t.LotID,
	}, KindTreatments, KindLots)
	return nil
}

// checkTreatedCovers verifies that the lot's movements would still be
// covered if the treatment excludeID contributed replacementKg instead
// of its current kilograms.
func (k *Keeper) checkTreatedCovers(ctx context.Context, lotID, excludeID string, replacementKg float64) error {
	trts, err := k.store.TreatmentsByLot(ctx, lotID)
	if err != nil {
		return err
	}
	total := replacementKg
	for _, x := range trts {
		if x.ID != excludeID {
			total += x.QtyKg
		}
	}

	used, err := k.engine.UsedKg(ctx, lotID)
	if err != nil {
		return err
	}
	if used > total+Epsilon {
		return &InvariantError{
			Code:        CodeMovementsExceedTreated,
			Message:     "change would leave movements exceeding the treated volume",
			LotID:       lotID,
			RequestedKg: total,
			AvailableKg: used,
		}
	}
	return nil
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// CreateMovement records an outbound shipment. The quantity must fit
// within both the treated-available headroom and the lot balance.
func (k *Keeper) CreateMovement(ctx context.Context, by string, in MovementInput) (Movement, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := validateMovementFields(in.DestinationType, in.DestinationName, in.MovedAt, in.Unit, in.Qty); err != nil {
		return Movement{}, err
	}

	lot, err := k.store.Lot(ctx, in.LotID)
	if err != nil {
		return Movement{}, err
	}
	if lot == nil {
		return Movement{}, ErrLotNotFound
	}

	settings, err := k.store.Settings(ctx)
	if err != nil {
		return Movement{}, err
	}
	qtyKg, err := ToKg(in.Qty, in.Unit, settings)
	if err != nil {
		return Movement{}, err
	}

	if err := k.checkMovementFits(ctx, *lot, "", qtyKg); err != nil {
		return Movement{}, err
	}

	now := time.Now().UTC()
	m := Movement{
		ID:              uuid.NewString(),
		LotID:           in.LotID,
		DestinationType: in.DestinationType,
		DestinationName: in.DestinationName,
		Unit:            in.Unit,
		Qty:             in.Qty,
		QtyKg:           qtyKg,
		MovedAt:         in.MovedAt,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := k.store.SaveMovement(ctx, m); err != nil {
		return Movement{}, err
	}

	k.commit(ctx, by, "movement", "create", m.ID, map[string]any{
		"lot_id":      m.LotID,
		"destination": m.DestinationName,
	}, KindMovements, KindLots)
	return m, nil
}

// UpdateMovement edits a movement, re-running both availability checks
// with this movement excluded from the moved total.
func (k *Keeper) UpdateMovement(ctx context.Context, by, id string, patch MovementPatch) (Movement, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, err := k.store.Movement(ctx, id)
	if err != nil {
		return Movement{}, err
	}
	if m == nil {
		return Movement{}, ErrMovementNotFound
	}

	updated := *m
	applyString(&updated.LotID, patch.LotID)
	applyString(&updated.DestinationName, patch.DestinationName)
	applyString(&updated.MovedAt, patch.MovedAt)
	if patch.DestinationType != nil {
		updated.DestinationType = *patch.DestinationType
	}
	if patch.Unit != nil {
		updated.Unit = *patch.Unit
	}
	if patch.Qty != nil {
		updated.Qty = *patch.Qty
	}
	if patch.Notes != nil {
		updated.Notes = *patch.Notes
	}
	if err := validateMovementFields(updated.DestinationType, updated.DestinationName, updated.MovedAt, updated.Unit, updated.Qty); err != nil {
		return Movement{}, err
	}

	lot, err := k.store.Lot(ctx, updated.LotID)
	if err != nil {
		return Movement{}, err
	}
	if lot == nil {
		return Movement{}, ErrLotNotFound
	}

	settings, err := k.store.Settings(ctx)
	if err != nil {
		return Movement{}, err
	}
	qtyKg, err := ToKg(updated.Qty, updated.Unit, settings)
	if err != nil {
		return Movement{}, err
	}
	updated.QtyKg = qtyKg

	if err := k.checkMovementFits(ctx, *lot, id, qtyKg); err != nil {
		return Movement{}, err
	}

	updated.UpdatedAt = time.Now().UTC()
	if err := k.store.SaveMovement(ctx, updated); err != nil {
		return Movement{}, err
	}

	k.commit(ctx, by, "movement", "update", id, map[string]any{
		"lot_id":      updated.LotID,
		"destination": updated.DestinationName,
	}, KindMovements, KindLots)
	return updated, nil
}

// DeleteMovement removes a movement. Removing a shipment only frees
// capacity, so this always succeeds for an existing record.
func (k *Keeper) DeleteMovement(ctx context.Context, by, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, err := k.store.Movement(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrMovementNotFound
	}

	if err := k.store.DeleteMovement(ctx, id); err != nil {
		return err
	}

	k.commit(ctx, by, "movement", "delete", id, map[string]any{
		"lot_id": m.LotID,
	}, KindMovements, KindLots)
	return nil
}

// checkMovementFits runs both availability checks for a prospective
// movement quantity, excluding excludeID from the moved total.
func (k *Keeper) checkMovementFits(ctx context.Context, lot SeedLot, excludeID string, qtyKg float64) error {
	movs, err := k.store.MovementsByLot(ctx, lot.ID)
	if err != nil {
		return err
	}
	var used float64
	for _, x := range movs {
		if x.ID != excludeID {
			used += x.QtyKg
		}
	}

	treated, err := k.engine.TreatedKg(ctx, lot.ID)
	if err != nil {
		return err
	}

	treatedAvailable := TreatedAvailableKg(treated, used)
	if qtyKg > treatedAvailable+Epsilon {
		return &InvariantError{
			Code:        CodeExceedsTreatedAvailable,
			Message:     "quantity exceeds the treated volume available",
			LotID:       lot.ID,
			RequestedKg: qtyKg,
			AvailableKg: treatedAvailable,
		}
	}
	if qtyKg > (lot.QtyKg-used)+Epsilon {
		return &InvariantError{
			Code:        CodeExceedsLotBalance,
			Message:     "quantity exceeds the lot balance",
			LotID:       lot.ID,
			RequestedKg: qtyKg,
			AvailableKg: BalanceKg(lot.QtyKg, used),
		}
	}
	return nil
}

// =============================================================================
// AUDIT
// =============================================================================

// Events returns recent audit events, most recent first. limit is
// clamped to [1, 200]; zero or negative means the default of 50.
func (k *Keeper) Events(ctx context.Context, limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	return k.store.RecentEvents(ctx, limit)
}

// commit records the audit event and fans out notifications. Both are
// best effort: the mutation has already been persisted.
func (k *Keeper) commit(ctx context.Context, by, entity, action, refID string, details map[string]any, kinds ...EntityKind) {
	if strings.TrimSpace(by) == "" {
		by = "anonymous"
	}
	ev := AuditEvent{
		ID:      uuid.NewString(),
		When:    time.Now().UTC(),
		By:      by,
		Entity:  entity,
		Action:  action,
		RefID:   refID,
		Details: details,
	}
	if err := k.store.AppendEvent(ctx, ev); err != nil {
		k.log.Warn("audit event not recorded",
			zap.String("entity", entity),
			zap.String("action", action),
			zap.Error(err))
	}

	for _, kind := range kinds {
		k.notifier.DataChanged(kind)
	}
	k.notifier.Alarm(ev)
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateLotFields(variety, supplier, lotCode, receivedAt string, unit Unit, qty float64) error {
	switch {
	case strings.TrimSpace(variety) == "":
		return &FieldError{Field: "variety", Message: "is required"}
	case strings.TrimSpace(supplier) == "":
		return &FieldError{Field: "supplier", Message: "is required"}
	case strings.TrimSpace(lotCode) == "":
		return &FieldError{Field: "lot_code", Message: "is required"}
	case strings.TrimSpace(receivedAt) == "":
		return &FieldError{Field: "received_at", Message: "is required"}
	}
	if !unit.Valid() {
		return ErrInvalidUnit
	}
	if qty <= 0 {
		return &FieldError{Field: "qty", Message: "must be a positive number"}
	}
	return nil
}

func validateTreatmentFields(product, treatedAt string, unit Unit, qty, dose float64) error {
	if strings.TrimSpace(product) == "" {
		return &FieldError{Field: "product", Message: "is required"}
	}
	if strings.TrimSpace(treatedAt) == "" {
		return &FieldError{Field: "treated_at", Message: "is required"}
	}
	if !unit.Valid() {
		return ErrInvalidUnit
	}
	if qty <= 0 {
		return &FieldError{Field: "qty", Message: "must be a positive number"}
	}
	if dose < 0 {
		return &FieldError{Field: "dose_per_100kg", Message: "must not be negative"}
	}
	return nil
}

func validateMovementFields(destType DestinationType, destName, movedAt string, unit Unit, qty float64) error {
	if !destType.Valid() {
		return &FieldError{Field: "destination_type", Message: `must be "lavoura" or "fazenda"`}
	}
	if strings.TrimSpace(destName) == "" {
		return &FieldError{Field: "destination_name", Message: "is required"}
	}
	if strings.TrimSpace(movedAt) == "" {
		return &FieldError{Field: "moved_at", Message: "is required"}
	}
	if !unit.Valid() {
		return ErrInvalidUnit
	}
	if qty <= 0 {
		return &FieldError{Field: "qty", Message: "must be a positive number"}
	}
	return nil
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}
