/*
Package ledger implements the core record keeping for seed lot inventory.

PURPOSE:
  This package contains the domain model and the consistency engine for
  three related ledgers: seed lots (intake), treatments (chemical
  application), and movements (outbound shipments). Balances are always
  derived by scanning the collections - there is no cached counter that
  can drift out of sync.

KEY CONCEPTS IN THIS FILE (types.go):
  - Settings: global unit ratios (kg per sack, kg per bulk bag)
  - SeedLot: a received batch of one variety/supplier/lot code
  - Treatment: partial or full chemical treatment of a lot's quantity
  - Movement: an outbound shipment of treated material to a destination
  - AuditEvent: append-only record of every successful mutation

DESIGN PRINCIPLES:
  1. Weak references: treatments and movements point at a lot by id;
     deleting a lot with dependents is forbidden instead of cascading.
  2. Authoritative kilograms: every quantity is normalized to kg at
     write time using the Settings in force at that moment. Sack and
     bag figures are derived for display and never persisted.
  3. Recompute on read: aggregates are summed fresh from the
     collections on every query and every mutation attempt.

SEE ALSO:
  - convert.go: unit conversion between kg, sc, and bag
  - balance.go: derived aggregates per lot
  - keeper.go: mutation validation and commit
*/
package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// UNITS
// =============================================================================

// Unit identifies the measurement unit a quantity was recorded in.
type Unit string

const (
	UnitKg   Unit = "kg"
	UnitSack Unit = "sc"
	UnitBag  Unit = "bag"
)

// Valid reports whether u is one of the three supported units.
func (u Unit) Valid() bool {
	switch u {
	case UnitKg, UnitSack, UnitBag:
		return true
	}
	return false
}

// =============================================================================
// SETTINGS - Global unit ratios
// =============================================================================

// Default ratios used at first boot and as a fallback when a stored
// ratio is non-positive.
const (
	DefaultKgPerSack = 60.0
	DefaultKgPerBag  = 1000.0
)

// Settings holds the configurable conversion ratios. It is a singleton:
// updates replace the whole document, last write wins, no history.
type Settings struct {
	KgPerSack float64 `json:"kg_per_sc"`
	KgPerBag  float64 `json:"kg_per_bag"`
}

// DefaultSettings returns the ratios installed at first boot.
func DefaultSettings() Settings {
	return Settings{KgPerSack: DefaultKgPerSack, KgPerBag: DefaultKgPerBag}
}

func (s Settings) sackRatio() float64 {
	if s.KgPerSack > 0 {
		return s.KgPerSack
	}
	return DefaultKgPerSack
}

func (s Settings) bagRatio() float64 {
	if s.KgPerBag > 0 {
		return s.KgPerBag
	}
	return DefaultKgPerBag
}

// =============================================================================
// RECORDS
// =============================================================================

// SeedLot represents one received batch. QtyKg is computed from Qty and
// Unit when the lot is created or edited, using the Settings in force at
// that moment, and is the authoritative figure for every balance check.
type SeedLot struct {
	ID         string    `json:"id"`
	Variety    string    `json:"variety"`
	Supplier   string    `json:"supplier"`
	LotCode    string    `json:"lot_code"`
	Unit       Unit      `json:"unit"`
	Qty        float64   `json:"qty"`
	QtyKg      float64   `json:"qty_kg"`
	ReceivedAt string    `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Treatment represents a chemical application consuming part of a lot's
// quantity. The sum of a lot's treatment kilograms bounds what may be
// moved out.
type Treatment struct {
	ID           string    `json:"id"`
	LotID        string    `json:"lot_id"`
	Product      string    `json:"product"`
	DosePer100Kg float64   `json:"dose_per_100kg"`
	Operator     string    `json:"operator"`
	Unit         Unit      `json:"unit"`
	Qty          float64   `json:"qty"`
	QtyKg        float64   `json:"qty_kg"`
	TreatedAt    string    `json:"treated_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DestinationType is the kind of destination a movement ships to.
type DestinationType string

const (
	DestinationLavoura DestinationType = "lavoura"
	DestinationFazenda DestinationType = "fazenda"
)

// Valid reports whether d is a known destination type.
func (d DestinationType) Valid() bool {
	return d == DestinationLavoura || d == DestinationFazenda
}

// Movement represents an outbound shipment of treated material.
type Movement struct {
	ID              string          `json:"id"`
	LotID           string          `json:"lot_id"`
	DestinationType DestinationType `json:"destination_type"`
	DestinationName string          `json:"destination_name"`
	Unit            Unit            `json:"unit"`
	Qty             float64         `json:"qty"`
	QtyKg           float64         `json:"qty_kg"`
	MovedAt         string          `json:"moved_at"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// =============================================================================
// AUDIT
// =============================================================================

// AuditEvent is an append-only log entry recorded on every successful
// mutation. Events are never edited or deleted.
type AuditEvent struct {
	ID      string         `json:"id"`
	When    time.Time      `json:"when"`
	By      string         `json:"by"`
	Entity  string         `json:"entity"`
	Action  string         `json:"action"`
	RefID   string         `json:"ref_id"`
	Details map[string]any `json:"details,omitempty"`
}

// Message renders the event as the human-readable alarm line broadcast
// to connected clients.
func (e AuditEvent) Message() string {
	return fmt.Sprintf("[%s] %s %s %s (%s)",
		e.When.Format("2006-01-02 15:04:05"), e.By, e.Action, e.Entity, e.RefID)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// EntityKind tags a data-changed broadcast so observers can refresh
// selectively.
type EntityKind string

const (
	KindSettings   EntityKind = "settings"
	KindLots       EntityKind = "lots"
	KindTreatments EntityKind = "treatments"
	KindMovements  EntityKind = "movements"
)

// Notifier receives best-effort fan-out after a successful mutation.
// Implementations must never block; delivery failures do not affect the
// mutation's outcome.
type Notifier interface {
	// DataChanged announces that records of the given kind changed.
	DataChanged(kind EntityKind)

	// Alarm broadcasts a recorded audit event.
	Alarm(ev AuditEvent)
}

// NopNotifier discards all notifications. Used in tests and as the
// default when no hub is wired.
type NopNotifier struct{}

func (NopNotifier) DataChanged(EntityKind) {}
func (NopNotifier) Alarm(AuditEvent)       {}
