/*
handlers.go - HTTP API handlers for the seed lot tracker

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates every mutation to the gatekeeper.

ENDPOINTS:
  Status:
    GET    /api/status                 Health check and version

  Settings:
    GET    /api/settings               Current unit ratios
    PUT    /api/settings               Replace unit ratios

  Seed lots:
    GET    /api/seed-lots              List lots with derived figures
    POST   /api/seed-lots              Record intake
    PUT    /api/seed-lots/{id}         Edit lot
    DELETE /api/seed-lots/{id}         Delete lot (no dependents)

  Treatments:
    GET    /api/treatments             List (with lot_name)
    POST   /api/treatments             Record treatment
    PUT    /api/treatments/{id}        Edit treatment
    DELETE /api/treatments/{id}        Delete treatment (guarded)

  Movements:
    GET    /api/movements              List, sorted by moved_at
    POST   /api/movements              Record movement (guarded)
    PUT    /api/movements/{id}         Edit movement (guarded)
    DELETE /api/movements/{id}         Delete movement (always allowed)

  Events:
    GET    /api/events?limit=N         Audit feed, newest first

  Scenarios:
    GET    /api/scenarios              List demo scenarios
    POST   /api/scenarios/load         Load a demo scenario
    POST   /api/scenarios/reset        Reset the database

IDENTITY:
  Mutations attribute changes to the X-User header, falling back to the
  request body's "by" field, falling back to "anonymous". There is no
  authentication; the name is an audit label, not a credential.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, rejected invariants (with machine code)
  - 404: Record not found
  - 500: Storage errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agrovale/seedlot-engine/ledger"
)

// Version is reported by the status endpoint.
const Version = "1.6.0"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  ledger.Store
	Engine *ledger.Engine
	Keeper *ledger.Keeper

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler over the given gatekeeper.
func NewHandler(store ledger.Store, keeper *ledger.Keeper) *Handler {
	return &Handler{
		Store:  store,
		Engine: keeper.Engine(),
		Keeper: keeper,
	}
}

// =============================================================================
// STATUS
// =============================================================================

// GetStatus returns the health check payload.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusDTO{OK: true, Version: Version})
}

// =============================================================================
// SETTINGS
// =============================================================================

// GetSettings returns the current unit ratios.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.Settings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{KgPerSack: s.KgPerSack, KgPerBag: s.KgPerBag})
}

// UpdateSettings replaces the unit ratios.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s, err := h.Keeper.UpdateSettings(r.Context(), userName(r, req.By), ledger.Settings{
		KgPerSack: req.KgPerSack,
		KgPerBag:  req.KgPerBag,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{KgPerSack: s.KgPerSack, KgPerBag: s.KgPerBag})
}

// =============================================================================
// SEED LOTS
// =============================================================================

// ListLots returns all lots with their derived figures in every unit.
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	lots, err := h.Store.Lots(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list lots", err)
		return
	}
	settings, err := h.Store.Settings(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}

	rows := make([]LotRowDTO, 0, len(lots))
	for _, lot := range lots {
		balances, err := h.Engine.Balances(ctx, lot, settings)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to compute balances", err)
			return
		}
		rows = append(rows, toLotRowDTO(lot, balances))
	}
	writeJSON(w, http.StatusOK, rows)
}

// CreateLot records a new intake.
func (h *Handler) CreateLot(w http.ResponseWriter, r *http.Request) {
	var req CreateLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lot, err := h.Keeper.CreateLot(r.Context(), userName(r, req.By), ledger.LotInput{
		Variety:    req.Variety,
		Supplier:   req.Supplier,
		LotCode:    req.LotCode,
		Unit:       ledger.Unit(req.Unit),
		Qty:        req.Qty,
		ReceivedAt: req.ReceivedAt,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLotDTO(lot))
}

// UpdateLot edits a lot.
func (h *Handler) UpdateLot(w http.ResponseWriter, r *http.Request) {
	var req UpdateLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lot, err := h.Keeper.UpdateLot(r.Context(), userName(r, req.By), chi.URLParam(r, "id"), ledger.LotPatch{
		Variety:    req.Variety,
		Supplier:   req.Supplier,
		LotCode:    req.LotCode,
		Unit:       unitPtr(req.Unit),
		Qty:        req.Qty,
		ReceivedAt: req.ReceivedAt,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLotDTO(lot))
}

// DeleteLot removes a lot with no dependents.
func (h *Handler) DeleteLot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Keeper.DeleteLot(r.Context(), userName(r, bodyBy(r)), id); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{OK: true, RemovedID: id})
}

// =============================================================================
// TREATMENTS
// =============================================================================

// ListTreatments returns all treatments, each with its lot_name.
func (h *Handler) ListTreatments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	treatments, err := h.Store.Treatments(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list treatments", err)
		return
	}

	dtos := make([]TreatmentDTO, 0, len(treatments))
	for _, t := range treatments {
		dtos = append(dtos, toTreatmentDTO(t, h.lotName(r, t.LotID)))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTreatment records a treatment against an existing lot.
func (h *Handler) CreateTreatment(w http.ResponseWriter, r *http.Request) {
	var req CreateTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, err := h.Keeper.CreateTreatment(r.Context(), userName(r, req.By), ledger.TreatmentInput{
		LotID:        req.LotID,
		Product:      req.Product,
		DosePer100Kg: req.DosePer100Kg,
		Operator:     req.Operator,
		Unit:         ledger.Unit(req.Unit),
		Qty:          req.Qty,
		TreatedAt:    req.TreatedAt,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTreatmentDTO(t, h.lotName(r, t.LotID)))
}

// UpdateTreatment edits a treatment.
func (h *Handler) UpdateTreatment(w http.ResponseWriter, r *http.Request) {
	var req UpdateTreatmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, err := h.Keeper.UpdateTreatment(r.Context(), userName(r, req.By), chi.URLParam(r, "id"), ledger.TreatmentPatch{
		LotID:        req.LotID,
		Product:      req.Product,
		DosePer100Kg: req.DosePer100Kg,
		Operator:     req.Operator,
		Unit:         unitPtr(req.Unit),
		Qty:          req.Qty,
		TreatedAt:    req.TreatedAt,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTreatmentDTO(t, h.lotName(r, t.LotID)))
}

// DeleteTreatment removes a treatment, guarded against uncovering
// movements.
func (h *Handler) DeleteTreatment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Keeper.DeleteTreatment(r.Context(), userName(r, bodyBy(r)), id); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{OK: true, RemovedID: id})
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// ListMovements returns all movements sorted by moved_at.
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.Store.Movements(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list movements", err)
		return
	}

	sort.SliceStable(movements, func(i, j int) bool {
		return movements[i].MovedAt < movements[j].MovedAt
	})

	dtos := make([]MovementDTO, 0, len(movements))
	for _, m := range movements {
		dtos = append(dtos, toMovementDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMovement records an outbound shipment.
func (h *Handler) CreateMovement(w http.ResponseWriter, r *http.Request) {
	var req CreateMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, err := h.Keeper.CreateMovement(r.Context(), userName(r, req.By), ledger.MovementInput{
		LotID:           req.LotID,
		DestinationType: ledger.DestinationType(req.DestinationType),
		DestinationName: req.DestinationName,
		Unit:            ledger.Unit(req.Unit),
		Qty:             req.Qty,
		MovedAt:         req.MovedAt,
		Notes:           req.Notes,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMovementDTO(m))
}

// UpdateMovement edits a movement.
func (h *Handler) UpdateMovement(w http.ResponseWriter, r *http.Request) {
	var req UpdateMovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m, err := h.Keeper.UpdateMovement(r.Context(), userName(r, req.By), chi.URLParam(r, "id"), ledger.MovementPatch{
		LotID:           req.LotID,
		DestinationType: destPtr(req.DestinationType),
		DestinationName: req.DestinationName,
		Unit:            unitPtr(req.Unit),
		Qty:             req.Qty,
		MovedAt:         req.MovedAt,
		Notes:           req.Notes,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTO(m))
}

// DeleteMovement removes a movement.
func (h *Handler) DeleteMovement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Keeper.DeleteMovement(r.Context(), userName(r, bodyBy(r)), id); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{OK: true, RemovedID: id})
}

// =============================================================================
// EVENTS
// =============================================================================

// ListEvents returns recent audit events, newest first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.Keeper.Events(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	dtos := make([]EventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, toEventDTO(ev))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// userName resolves the actor for audit attribution: the X-User header,
// then the body's "by" field, then "anonymous".
func userName(r *http.Request, by string) string {
	if name := strings.TrimSpace(r.Header.Get("X-User")); name != "" {
		return name
	}
	if name := strings.TrimSpace(by); name != "" {
		return name
	}
	return "anonymous"
}

// bodyBy extracts "by" from a delete request body, which is optional
// and may be absent entirely.
func bodyBy(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	var body struct {
		By string `json:"by"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body.By
}

// lotName renders "variety • lot_code" for display; falls back to the
// raw id when the lot is gone.
func (h *Handler) lotName(r *http.Request, lotID string) string {
	lot, err := h.Store.Lot(r.Context(), lotID)
	if err != nil || lot == nil {
		return lotID
	}
	return lot.Variety + " • " + lot.LotCode
}

func unitPtr(s *string) *ledger.Unit {
	if s == nil {
		return nil
	}
	u := ledger.Unit(*s)
	return &u
}

func destPtr(s *string) *ledger.DestinationType {
	if s == nil {
		return nil
	}
	d := ledger.DestinationType(*s)
	return &d
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps domain errors to HTTP statuses, surfacing the
// machine-readable code on rejected invariants.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case ledger.IsClientError(err):
		var inv *ledger.InvariantError
		if errors.As(err, &inv) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: inv.Message, Code: inv.Code})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
