/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario resets the database and then
	drives the gatekeeper exactly like API clients would, so the loaded
	state always satisfies the balance invariants.

AVAILABLE SCENARIOS:

	harvest-intake:   Fresh intakes in every unit, nothing treated yet
	treatment-flow:   A lot mid-pipeline: treated, partially shipped
	season-close:     Several lots at season end, balances nearly drawn down

HOW SCENARIOS WORK:
 1. Reset database (clear all data, restore default settings)
 2. Create lots via the gatekeeper
 3. Add treatments and movements in dependency order
 4. All mutations are attributed to "scenario-loader"

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "treatment-flow"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: shared helpers and error writers
  - ledger/keeper.go: the mutation path scenarios drive
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agrovale/seedlot-engine/ledger"
)

const scenarioActor = "scenario-loader"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "harvest-intake",
		Name:        "Harvest Intake",
		Description: "Fresh lots received in kg, sacks, and bulk bags; nothing treated yet",
	},
	{
		ID:          "treatment-flow",
		Name:        "Treatment Flow",
		Description: "A lot mid-pipeline: partially treated, one shipment out",
	},
	{
		ID:          "season-close",
		Name:        "Season Close",
		Description: "Several lots at season end with balances nearly drawn down",
	},
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the id of the last loaded scenario.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"scenario_id": h.currentScenario})
}

// LoadScenario resets the database and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	var err error
	switch req.ScenarioID {
	case "harvest-intake":
		err = h.loadHarvestIntakeScenario(ctx)
	case "treatment-flow":
		err = h.loadTreatmentFlowScenario(ctx)
	case "season-close":
		err = h.loadSeasonCloseScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"scenario_id": req.ScenarioID,
	})
}

// ResetDatabase clears all data and restores default settings.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// =============================================================================
// LOADERS
// =============================================================================

// loadHarvestIntakeScenario creates three fresh lots, one per unit.
func (h *Handler) loadHarvestIntakeScenario(ctx context.Context) error {
	lots := []ledger.LotInput{
		{
			Variety: "BRS 1010", Supplier: "Sementes Boa Terra", LotCode: "BT-2025-014",
			Unit: ledger.UnitBag, Qty: 2, ReceivedAt: "2025-08-02",
		},
		{
			Variety: "TMG 7063", Supplier: "AgroNorte", LotCode: "AN-2025-031",
			Unit: ledger.UnitSack, Qty: 120, ReceivedAt: "2025-08-05",
		},
		{
			Variety: "M 8808", Supplier: "Fazenda Santa Rita", LotCode: "SR-2025-007",
			Unit: ledger.UnitKg, Qty: 1500, ReceivedAt: "2025-08-09",
		},
	}
	for _, in := range lots {
		if _, err := h.Keeper.CreateLot(ctx, scenarioActor, in); err != nil {
			return err
		}
	}
	return nil
}

// loadTreatmentFlowScenario builds one lot mid-pipeline: a 2000 kg
// intake, 500 kg treated, 400 kg shipped, leaving 100 kg of headroom.
func (h *Handler) loadTreatmentFlowScenario(ctx context.Context) error {
	lot, err := h.Keeper.CreateLot(ctx, scenarioActor, ledger.LotInput{
		Variety: "BRS 1010", Supplier: "Sementes Boa Terra", LotCode: "BT-2025-014",
		Unit: ledger.UnitBag, Qty: 2, ReceivedAt: "2025-08-02",
	})
	if err != nil {
		return err
	}

	if _, err := h.Keeper.CreateTreatment(ctx, scenarioActor, ledger.TreatmentInput{
		LotID: lot.ID, Product: "Standak Top", DosePer100Kg: 200,
		Operator: "Carlos", Unit: ledger.UnitKg, Qty: 500, TreatedAt: "2025-08-10",
	}); err != nil {
		return err
	}

	_, err = h.Keeper.CreateMovement(ctx, scenarioActor, ledger.MovementInput{
		LotID: lot.ID, DestinationType: ledger.DestinationLavoura,
		DestinationName: "Talhão 12", Unit: ledger.UnitKg, Qty: 400,
		MovedAt: "2025-08-12",
	})
	return err
}

// loadSeasonCloseScenario creates two lots with balances nearly drawn
// down, the state operators see at the end of planting.
func (h *Handler) loadSeasonCloseScenario(ctx context.Context) error {
	first, err := h.Keeper.CreateLot(ctx, scenarioActor, ledger.LotInput{
		Variety: "TMG 7063", Supplier: "AgroNorte", LotCode: "AN-2025-031",
		Unit: ledger.UnitSack, Qty: 100, ReceivedAt: "2025-07-20",
	})
	if err != nil {
		return err
	}
	if _, err := h.Keeper.CreateTreatment(ctx, scenarioActor, ledger.TreatmentInput{
		LotID: first.ID, Product: "Vitavax-Thiram", DosePer100Kg: 250,
		Operator: "Marina", Unit: ledger.UnitSack, Qty: 100, TreatedAt: "2025-07-25",
	}); err != nil {
		return err
	}
	if _, err := h.Keeper.CreateMovement(ctx, scenarioActor, ledger.MovementInput{
		LotID: first.ID, DestinationType: ledger.DestinationLavoura,
		DestinationName: "Talhão 3", Unit: ledger.UnitSack, Qty: 60,
		MovedAt: "2025-08-01",
	}); err != nil {
		return err
	}
	if _, err := h.Keeper.CreateMovement(ctx, scenarioActor, ledger.MovementInput{
		LotID: first.ID, DestinationType: ledger.DestinationFazenda,
		DestinationName: "Fazenda Aurora", Unit: ledger.UnitSack, Qty: 35,
		MovedAt: "2025-08-15",
	}); err != nil {
		return err
	}

	second, err := h.Keeper.CreateLot(ctx, scenarioActor, ledger.LotInput{
		Variety: "M 8808", Supplier: "Fazenda Santa Rita", LotCode: "SR-2025-007",
		Unit: ledger.UnitKg, Qty: 1200, ReceivedAt: "2025-07-28",
	})
	if err != nil {
		return err
	}
	if _, err := h.Keeper.CreateTreatment(ctx, scenarioActor, ledger.TreatmentInput{
		LotID: second.ID, Product: "Standak Top", DosePer100Kg: 200,
		Operator: "Carlos", Unit: ledger.UnitKg, Qty: 1200, TreatedAt: "2025-08-03",
	}); err != nil {
		return err
	}
	_, err = h.Keeper.CreateMovement(ctx, scenarioActor, ledger.MovementInput{
		LotID: second.ID, DestinationType: ledger.DestinationLavoura,
		DestinationName: "Talhão 7", Unit: ledger.UnitKg, Qty: 1100,
		MovedAt: "2025-08-20", Notes: "last load of the season",
	})
	return err
}
