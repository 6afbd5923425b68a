/*
handlers_test.go - HTTP-level tests for the REST surface

Exercises the routes through the real chi router against an in-memory
store, covering the response shapes, the derived lot figures, the
error mapping (invariant -> 400 with code, missing -> 404) and actor
attribution from the X-User header.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrovale/seedlot-engine/api"
	"github.com/agrovale/seedlot-engine/ledger"
	"github.com/agrovale/seedlot-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mem := store.NewMemory()
	keeper := ledger.NewKeeper(mem, nil, nil)
	handler := api.NewHandler(mem, keeper)
	srv := httptest.NewServer(api.NewRouter(handler, nil, nil))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, user string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func doJSONList(t *testing.T, srv *httptest.Server, path string) (*http.Response, []map[string]any) {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func createLot(t *testing.T, srv *httptest.Server, unit string, qty float64) string {
	t.Helper()
	resp, body := doJSON(t, srv, http.MethodPost, "/api/seed-lots", "tester", map[string]any{
		"variety": "BRS 1010", "supplier": "Boa Terra", "lot_code": "BT-2025-014",
		"unit": unit, "qty": qty, "received_at": "2025-08-02",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func createTreatment(t *testing.T, srv *httptest.Server, lotID string, kg float64) string {
	t.Helper()
	resp, body := doJSON(t, srv, http.MethodPost, "/api/treatments", "tester", map[string]any{
		"lot_id": lotID, "product": "Standak Top", "operator": "Carlos",
		"unit": "kg", "qty": kg, "treated_at": "2025-08-10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

// =============================================================================
// STATUS AND SETTINGS
// =============================================================================

func TestGetStatus(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, api.Version, body["version"])
}

func TestSettings_DefaultsAndUpdate(t *testing.T) {
	srv := newTestServer(t)

	// GIVEN: a fresh database
	// THEN: the default ratios are served
	resp, body := doJSON(t, srv, http.MethodGet, "/api/settings", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 60.0, body["kg_per_sc"])
	assert.Equal(t, 1000.0, body["kg_per_bag"])

	// WHEN: updating the ratios
	resp, body = doJSON(t, srv, http.MethodPut, "/api/settings", "maria", map[string]any{
		"kg_per_sc": 40.0, "kg_per_bag": 800.0,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 40.0, body["kg_per_sc"])

	// THEN: invalid ratios are rejected
	resp, body = doJSON(t, srv, http.MethodPut, "/api/settings", "maria", map[string]any{
		"kg_per_sc": 0.0, "kg_per_bag": 800.0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

// =============================================================================
// SEED LOTS
// =============================================================================

func TestListLots_EnrichedInAllUnits(t *testing.T) {
	// GIVEN: a 2-bag lot with 500 kg treated and 400 kg moved
	srv := newTestServer(t)
	lotID := createLot(t, srv, "bag", 2)
	createTreatment(t, srv, lotID, 500)
	resp, _ := doJSON(t, srv, http.MethodPost, "/api/movements", "tester", map[string]any{
		"lot_id": lotID, "destination_type": "lavoura", "destination_name": "Talhão 12",
		"unit": "kg", "qty": 400, "moved_at": "2025-08-12",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// WHEN: listing lots
	resp, rows := doJSONList(t, srv, "/api/seed-lots")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 1)
	row := rows[0]

	// THEN: every derived figure is present in kg, sacks and bags
	assert.Equal(t, 2000.0, row["received_kg"])
	assert.Equal(t, 400.0, row["moved_kg"])
	assert.Equal(t, 1600.0, row["balance_kg"])
	assert.Equal(t, 500.0, row["treated_kg"])
	assert.Equal(t, 100.0, row["treated_available_kg"])

	assert.InDelta(t, 2000.0/60, row["received_sc"].(float64), 0.001)
	assert.Equal(t, 1.6, row["balance_bag"])
	assert.Equal(t, 0.1, row["treated_available_bag"])
}

func TestUpdateLot_ShrinkBelowMovedIs400(t *testing.T) {
	srv := newTestServer(t)
	lotID := createLot(t, srv, "bag", 2)
	createTreatment(t, srv, lotID, 500)
	doJSON(t, srv, http.MethodPost, "/api/movements", "tester", map[string]any{
		"lot_id": lotID, "destination_type": "lavoura", "destination_name": "Talhão 12",
		"unit": "kg", "qty": 400, "moved_at": "2025-08-12",
	})

	resp, body := doJSON(t, srv, http.MethodPut, "/api/seed-lots/"+lotID, "tester", map[string]any{
		"unit": "kg", "qty": 300,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "below_moved_volume", body["code"])
}

func TestDeleteLot_Responses(t *testing.T) {
	srv := newTestServer(t)
	lotID := createLot(t, srv, "kg", 100)

	resp, body := doJSON(t, srv, http.MethodDelete, "/api/seed-lots/"+lotID, "tester", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, lotID, body["removed_id"])

	resp, body = doJSON(t, srv, http.MethodDelete, "/api/seed-lots/"+lotID, "tester", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

// =============================================================================
// TREATMENTS AND MOVEMENTS
// =============================================================================

func TestListTreatments_CarriesLotName(t *testing.T) {
	srv := newTestServer(t)
	lotID := createLot(t, srv, "kg", 1000)
	createTreatment(t, srv, lotID, 200)

	resp, rows := doJSONList(t, srv, "/api/treatments")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 1)
	assert.Equal(t, "BRS 1010 • BT-2025-014", rows[0]["lot_name"])
	assert.Equal(t, 200.0, rows[0]["qty_kg"])
}

func TestCreateMovement_InvariantBecomes400WithCode(t *testing.T) {
	// GIVEN: only 500 kg treated
	// WHEN: posting a 600 kg movement
	// THEN: 400 with the machine-readable code
	srv := newTestServer(t)
	lotID := createLot(t, srv, "bag", 2)
	createTreatment(t, srv, lotID, 500)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/movements", "tester", map[string]any{
		"lot_id": lotID, "destination_type": "lavoura", "destination_name": "Talhão 12",
		"unit": "kg", "qty": 600, "moved_at": "2025-08-12",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "exceeds_treated_available", body["code"])
	assert.NotEmpty(t, body["error"])
}

func TestDeleteTreatment_GuardBecomes400(t *testing.T) {
	srv := newTestServer(t)
	lotID := createLot(t, srv, "bag", 2)
	trID := createTreatment(t, srv, lotID, 500)
	doJSON(t, srv, http.MethodPost, "/api/movements", "tester", map[string]any{
		"lot_id": lotID, "destination_type": "lavoura", "destination_name": "Talhão 12",
		"unit": "kg", "qty": 400, "moved_at": "2025-08-12",
	})

	resp, body := doJSON(t, srv, http.MethodDelete, "/api/treatments/"+trID, "tester", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "movements_exceed_treated", body["code"])
}

func TestListMovements_SortedByDate(t *testing.T) {
	srv := newTestServer(t)
	lotID := createLot(t, srv, "kg", 1000)
	createTreatment(t, srv, lotID, 1000)

	for _, day := range []string{"2025-08-20", "2025-08-05", "2025-08-12"} {
		resp, _ := doJSON(t, srv, http.MethodPost, "/api/movements", "tester", map[string]any{
			"lot_id": lotID, "destination_type": "fazenda", "destination_name": "Sede",
			"unit": "kg", "qty": 100, "moved_at": day,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, rows := doJSONList(t, srv, "/api/movements")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 3)
	assert.Equal(t, "2025-08-05", rows[0]["moved_at"])
	assert.Equal(t, "2025-08-12", rows[1]["moved_at"])
	assert.Equal(t, "2025-08-20", rows[2]["moved_at"])
}

// =============================================================================
// EVENTS AND ATTRIBUTION
// =============================================================================

func TestEvents_AttributionFromHeaderThenBody(t *testing.T) {
	srv := newTestServer(t)

	// X-User wins over the body field
	resp, _ := doJSON(t, srv, http.MethodPost, "/api/seed-lots", "maria", map[string]any{
		"variety": "BRS", "supplier": "Boa Terra", "lot_code": "A",
		"unit": "kg", "qty": 10, "received_at": "2025-08-02", "by": "jose",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Body "by" used when the header is absent
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/seed-lots", "", map[string]any{
		"variety": "BRS", "supplier": "Boa Terra", "lot_code": "B",
		"unit": "kg", "qty": 10, "received_at": "2025-08-02", "by": "jose",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Neither -> anonymous
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/seed-lots", "", map[string]any{
		"variety": "BRS", "supplier": "Boa Terra", "lot_code": "C",
		"unit": "kg", "qty": 10, "received_at": "2025-08-02",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	_, rows := doJSONList(t, srv, "/api/events")
	require.Len(t, rows, 3)
	actors := []string{}
	for _, ev := range rows {
		actors = append(actors, ev["by"].(string))
		assert.NotEmpty(t, ev["message"])
	}
	assert.ElementsMatch(t, []string{"maria", "jose", "anonymous"}, actors)
}

func TestEvents_LimitParameter(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 4; i++ {
		doJSON(t, srv, http.MethodPost, "/api/seed-lots", "tester", map[string]any{
			"variety": "BRS", "supplier": "Boa Terra", "lot_code": fmt.Sprintf("L-%d", i),
			"unit": "kg", "qty": 10, "received_at": "2025-08-02",
		})
	}

	resp, rows := doJSONList(t, srv, "/api/events?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, rows, 2)

	// Nonsense limits fall back to the default
	resp, rows = doJSONList(t, srv, "/api/events?limit=banana")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, rows, 4)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_ListLoadAndReset(t *testing.T) {
	srv := newTestServer(t)

	_, list := doJSONList(t, srv, "/api/scenarios")
	require.Len(t, list, 3)

	// WHEN: loading the treatment-flow scenario
	resp, body := doJSON(t, srv, http.MethodPost, "/api/scenarios/load", "tester", map[string]any{
		"scenario_id": "treatment-flow",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	resp, body = doJSON(t, srv, http.MethodGet, "/api/scenarios/current", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "treatment-flow", body["scenario_id"])

	// THEN: the seeded lot shows the expected headroom
	_, rows := doJSONList(t, srv, "/api/seed-lots")
	require.Len(t, rows, 1)
	assert.Equal(t, 100.0, rows[0]["treated_available_kg"])

	// Unknown scenarios are a client error
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/scenarios/load", "tester", map[string]any{
		"scenario_id": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Reset wipes everything back to defaults
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/scenarios/reset", "tester", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, rows = doJSONList(t, srv, "/api/seed-lots")
	assert.Empty(t, rows)
}
