/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DERIVED FIGURES:
  LotRowDTO carries the lot's aggregates in all three units. Kilogram
  figures are passed through untouched; the sack/bag figures are display
  values rounded through decimal so 1000/60 does not leak fifteen digits
  to the UI.

IDENTITY:
  Every mutating request body may carry "by". The X-User header takes
  precedence; both absent means "anonymous".

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/balance.go: LotBalances source for LotRowDTO
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrovale/seedlot-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ErrorResponse is the JSON body for all non-2xx responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// StatusDTO is the health check response.
type StatusDTO struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
}

// SettingsDTO mirrors ledger.Settings on the wire.
type SettingsDTO struct {
	KgPerSack float64 `json:"kg_per_sc"`
	KgPerBag  float64 `json:"kg_per_bag"`
}

// UpdateSettingsRequest is the request to replace the unit ratios.
type UpdateSettingsRequest struct {
	KgPerSack float64 `json:"kg_per_sc"`
	KgPerBag  float64 `json:"kg_per_bag"`
	By        string  `json:"by,omitempty"`
}

// LotDTO represents a seed lot as entered.
type LotDTO struct {
	ID         string  `json:"id"`
	Variety    string  `json:"variety"`
	Supplier   string  `json:"supplier"`
	LotCode    string  `json:"lot_code"`
	Unit       string  `json:"unit"`
	Qty        float64 `json:"qty"`
	QtyKg      float64 `json:"qty_kg"`
	ReceivedAt string  `json:"received_at"`
	CreatedAt  string  `json:"created_at,omitempty"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

// LotRowDTO is a lot enriched with its derived figures in all three
// units, as returned by the list endpoint.
type LotRowDTO struct {
	LotDTO

	ReceivedKg  float64 `json:"received_kg"`
	ReceivedSc  float64 `json:"received_sc"`
	ReceivedBag float64 `json:"received_bag"`

	MovedKg  float64 `json:"moved_kg"`
	MovedSc  float64 `json:"moved_sc"`
	MovedBag float64 `json:"moved_bag"`

	BalanceKg  float64 `json:"balance_kg"`
	BalanceSc  float64 `json:"balance_sc"`
	BalanceBag float64 `json:"balance_bag"`

	TreatedKg  float64 `json:"treated_kg"`
	TreatedSc  float64 `json:"treated_sc"`
	TreatedBag float64 `json:"treated_bag"`

	TreatedAvailableKg  float64 `json:"treated_available_kg"`
	TreatedAvailableSc  float64 `json:"treated_available_sc"`
	TreatedAvailableBag float64 `json:"treated_available_bag"`
}

// CreateLotRequest is the request to record an intake.
type CreateLotRequest struct {
	Variety    string  `json:"variety"`
	Supplier   string  `json:"supplier"`
	LotCode    string  `json:"lot_code"`
	Unit       string  `json:"unit"`
	Qty        float64 `json:"qty"`
	ReceivedAt string  `json:"received_at"`
	By         string  `json:"by,omitempty"`
}

// UpdateLotRequest is a partial lot update; nil fields keep their
// current value.
type UpdateLotRequest struct {
	Variety    *string  `json:"variety"`
	Supplier   *string  `json:"supplier"`
	LotCode    *string  `json:"lot_code"`
	Unit       *string  `json:"unit"`
	Qty        *float64 `json:"qty"`
	ReceivedAt *string  `json:"received_at"`
	By         string   `json:"by,omitempty"`
}

// TreatmentDTO represents a treatment. The list and mutate endpoints
// attach lot_name so the UI does not join client-side.
type TreatmentDTO struct {
	ID           string  `json:"id"`
	LotID        string  `json:"lot_id"`
	LotName      string  `json:"lot_name,omitempty"`
	Product      string  `json:"product"`
	DosePer100Kg float64 `json:"dose_per_100kg"`
	Operator     string  `json:"operator,omitempty"`
	Unit         string  `json:"unit"`
	Qty          float64 `json:"qty"`
	QtyKg        float64 `json:"qty_kg"`
	TreatedAt    string  `json:"treated_at"`
	CreatedAt    string  `json:"created_at,omitempty"`
	UpdatedAt    string  `json:"updated_at,omitempty"`
}

// CreateTreatmentRequest is the request to record a treatment.
type CreateTreatmentRequest struct {
	LotID        string  `json:"lot_id"`
	Product      string  `json:"product"`
	DosePer100Kg float64 `json:"dose_per_100kg"`
	Operator     string  `json:"operator"`
	Unit         string  `json:"unit"`
	Qty          float64 `json:"qty"`
	TreatedAt    string  `json:"treated_at"`
	By           string  `json:"by,omitempty"`
}

// UpdateTreatmentRequest is a partial treatment update.
type UpdateTreatmentRequest struct {
	LotID        *string  `json:"lot_id"`
	Product      *string  `json:"product"`
	DosePer100Kg *float64 `json:"dose_per_100kg"`
	Operator     *string  `json:"operator"`
	Unit         *string  `json:"unit"`
	Qty          *float64 `json:"qty"`
	TreatedAt    *string  `json:"treated_at"`
	By           string   `json:"by,omitempty"`
}

// MovementDTO represents an outbound shipment.
type MovementDTO struct {
	ID              string  `json:"id"`
	LotID           string  `json:"lot_id"`
	DestinationType string  `json:"destination_type"`
	DestinationName string  `json:"destination_name"`
	Unit            string  `json:"unit"`
	Qty             float64 `json:"qty"`
	QtyKg           float64 `json:"qty_kg"`
	MovedAt         string  `json:"moved_at"`
	Notes           string  `json:"notes,omitempty"`
	CreatedAt       string  `json:"created_at,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

// CreateMovementRequest is the request to record a movement.
type CreateMovementRequest struct {
	LotID           string  `json:"lot_id"`
	DestinationType string  `json:"destination_type"`
	DestinationName string  `json:"destination_name"`
	Unit            string  `json:"unit"`
	Qty             float64 `json:"qty"`
	MovedAt         string  `json:"moved_at"`
	Notes           string  `json:"notes"`
	By              string  `json:"by,omitempty"`
}

// UpdateMovementRequest is a partial movement update.
type UpdateMovementRequest struct {
	LotID           *string  `json:"lot_id"`
	DestinationType *string  `json:"destination_type"`
	DestinationName *string  `json:"destination_name"`
	Unit            *string  `json:"unit"`
	Qty             *float64 `json:"qty"`
	MovedAt         *string  `json:"moved_at"`
	Notes           *string  `json:"notes"`
	By              string   `json:"by,omitempty"`
}

// EventDTO represents an audit event in the activity feed.
type EventDTO struct {
	ID      string         `json:"id"`
	When    string         `json:"when"`
	By      string         `json:"by"`
	Entity  string         `json:"entity"`
	Action  string         `json:"action"`
	RefID   string         `json:"ref_id"`
	Details map[string]any `json:"details,omitempty"`
	Message string         `json:"message"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
	By         string `json:"by,omitempty"`
}

// DeleteResponse acknowledges a successful delete.
type DeleteResponse struct {
	OK        bool   `json:"ok"`
	RemovedID string `json:"removed_id,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toLotDTO(lot ledger.SeedLot) LotDTO {
	return LotDTO{
		ID:         lot.ID,
		Variety:    lot.Variety,
		Supplier:   lot.Supplier,
		LotCode:    lot.LotCode,
		Unit:       string(lot.Unit),
		Qty:        lot.Qty,
		QtyKg:      lot.QtyKg,
		ReceivedAt: lot.ReceivedAt,
		CreatedAt:  formatTime(lot.CreatedAt),
		UpdatedAt:  formatTime(lot.UpdatedAt),
	}
}

func toLotRowDTO(lot ledger.SeedLot, b ledger.LotBalances) LotRowDTO {
	return LotRowDTO{
		LotDTO: toLotDTO(lot),

		ReceivedKg:  b.Received.Kg,
		ReceivedSc:  round3(b.Received.Sc),
		ReceivedBag: round3(b.Received.Bag),

		MovedKg:  b.Used.Kg,
		MovedSc:  round3(b.Used.Sc),
		MovedBag: round3(b.Used.Bag),

		BalanceKg:  b.Balance.Kg,
		BalanceSc:  round3(b.Balance.Sc),
		BalanceBag: round3(b.Balance.Bag),

		TreatedKg:  b.Treated.Kg,
		TreatedSc:  round3(b.Treated.Sc),
		TreatedBag: round3(b.Treated.Bag),

		TreatedAvailableKg:  b.TreatedAvailable.Kg,
		TreatedAvailableSc:  round3(b.TreatedAvailable.Sc),
		TreatedAvailableBag: round3(b.TreatedAvailable.Bag),
	}
}

func toTreatmentDTO(t ledger.Treatment, lotName string) TreatmentDTO {
	return TreatmentDTO{
		ID:           t.ID,
		LotID:        t.LotID,
		LotName:      lotName,
		Product:      t.Product,
		DosePer100Kg: t.DosePer100Kg,
		Operator:     t.Operator,
		Unit:         string(t.Unit),
		Qty:          t.Qty,
		QtyKg:        t.QtyKg,
		TreatedAt:    t.TreatedAt,
		CreatedAt:    formatTime(t.CreatedAt),
		UpdatedAt:    formatTime(t.UpdatedAt),
	}
}

func toMovementDTO(m ledger.Movement) MovementDTO {
	return MovementDTO{
		ID:              m.ID,
		LotID:           m.LotID,
		DestinationType: string(m.DestinationType),
		DestinationName: m.DestinationName,
		Unit:            string(m.Unit),
		Qty:             m.Qty,
		QtyKg:           m.QtyKg,
		MovedAt:         m.MovedAt,
		Notes:           m.Notes,
		CreatedAt:       formatTime(m.CreatedAt),
		UpdatedAt:       formatTime(m.UpdatedAt),
	}
}

func toEventDTO(ev ledger.AuditEvent) EventDTO {
	return EventDTO{
		ID:      ev.ID,
		When:    ev.When.Format(time.RFC3339),
		By:      ev.By,
		Entity:  ev.Entity,
		Action:  ev.Action,
		RefID:   ev.RefID,
		Details: ev.Details,
		Message: ev.Message(),
	}
}

// round3 rounds a display value to 3 decimal places.
func round3(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(3).Float64()
	return f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
