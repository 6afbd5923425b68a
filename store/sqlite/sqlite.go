/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists settings, seed lots, treatments, movements, and the audit
  event log in a single SQLite file. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  settings:   Single-row document holding the unit ratios
  seed_lots:  Intake records
  treatments: Chemical applications, each referencing a lot
  movements:  Outbound shipments, each referencing a lot
  events:     Append-only audit log

APPEND-ONLY ENFORCEMENT:
  The events table has no UPDATE or DELETE path; the only write is the
  INSERT in AppendEvent, and Reset for the demo loader.

DERIVED FIGURES:
  Balances are never stored. They are recomputed from the rows on every
  read, so the database holds only the entered facts.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The mutation gatekeeper holds
  its own lock around read-validate-write sequences; the mutex here
  only protects individual statements.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't
  block the single writer.

USAGE:
  st, err := sqlite.New("./data/seedlot.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

SEE ALSO:
  - ledger/store.go: Interface definition
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agrovale/seedlot-engine/ledger"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Settings (single-row document)
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		kg_per_sc REAL NOT NULL,
		kg_per_bag REAL NOT NULL
	);

	-- Seed lots (intake records)
	CREATE TABLE IF NOT EXISTS seed_lots (
		id TEXT PRIMARY KEY,
		variety TEXT NOT NULL,
		supplier TEXT NOT NULL,
		lot_code TEXT NOT NULL,
		unit TEXT NOT NULL,
		qty REAL NOT NULL,
		qty_kg REAL NOT NULL,
		received_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Treatments (chemical applications)
	CREATE TABLE IF NOT EXISTS treatments (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL,
		product TEXT NOT NULL,
		dose_per_100kg REAL NOT NULL DEFAULT 0,
		operator TEXT,
		unit TEXT NOT NULL,
		qty REAL NOT NULL,
		qty_kg REAL NOT NULL,
		treated_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_treatments_lot
		ON treatments(lot_id);

	-- Movements (outbound shipments)
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL,
		destination_type TEXT NOT NULL,
		destination_name TEXT NOT NULL,
		unit TEXT NOT NULL,
		qty REAL NOT NULL,
		qty_kg REAL NOT NULL,
		moved_at TEXT NOT NULL,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_lot
		ON movements(lot_id);

	-- Audit events (append-only)
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		when_at TEXT NOT NULL,
		actor TEXT NOT NULL,
		entity TEXT NOT NULL,
		action TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		details_json TEXT
	);

	-- Hot path: the event feed reads newest first
	CREATE INDEX IF NOT EXISTS idx_events_when
		ON events(when_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SETTINGS
// =============================================================================

// Settings returns the stored ratios, seeding the defaults on first read.
func (s *Store) Settings(ctx context.Context) (ledger.Settings, error) {
	s.mu.RLock()
	var set ledger.Settings
	err := s.db.QueryRowContext(ctx,
		"SELECT kg_per_sc, kg_per_bag FROM settings WHERE id = 1",
	).Scan(&set.KgPerSack, &set.KgPerBag)
	s.mu.RUnlock()

	if err == sql.ErrNoRows {
		def := ledger.DefaultSettings()
		if err := s.SaveSettings(ctx, def); err != nil {
			return ledger.Settings{}, err
		}
		return def, nil
	}
	if err != nil {
		return ledger.Settings{}, err
	}
	return set, nil
}

// SaveSettings replaces the settings row.
func (s *Store) SaveSettings(ctx context.Context, set ledger.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO settings (id, kg_per_sc, kg_per_bag)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kg_per_sc = excluded.kg_per_sc,
			kg_per_bag = excluded.kg_per_bag
	`
	_, err := s.db.ExecContext(ctx, query, set.KgPerSack, set.KgPerBag)
	return err
}

// =============================================================================
// SEED LOTS
// =============================================================================

const lotColumns = "id, variety, supplier, lot_code, unit, qty, qty_kg, received_at, created_at, updated_at"

// Lot returns the lot with the given id, or (nil, nil) if absent.
func (s *Store) Lot(ctx context.Context, id string) (*ledger.SeedLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+lotColumns+" FROM seed_lots WHERE id = ?", id)

	lot, err := scanLot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

// Lots returns all lots ordered by creation time.
func (s *Store) Lots(ctx context.Context) ([]ledger.SeedLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+lotColumns+" FROM seed_lots ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []ledger.SeedLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// SaveLot inserts or replaces a lot.
func (s *Store) SaveLot(ctx context.Context, lot ledger.SeedLot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO seed_lots (` + lotColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			variety = excluded.variety,
			supplier = excluded.supplier,
			lot_code = excluded.lot_code,
			unit = excluded.unit,
			qty = excluded.qty,
			qty_kg = excluded.qty_kg,
			received_at = excluded.received_at,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		lot.ID, lot.Variety, lot.Supplier, lot.LotCode,
		string(lot.Unit), lot.Qty, lot.QtyKg, lot.ReceivedAt,
		lot.CreatedAt.Format(time.RFC3339),
		lot.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// DeleteLot removes a lot. The gatekeeper enforces the dependent guard.
func (s *Store) DeleteLot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM seed_lots WHERE id = ?", id)
	return err
}

// =============================================================================
// TREATMENTS
// =============================================================================

const treatmentColumns = "id, lot_id, product, dose_per_100kg, operator, unit, qty, qty_kg, treated_at, created_at, updated_at"

func (s *Store) Treatment(ctx context.Context, id string) (*ledger.Treatment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+treatmentColumns+" FROM treatments WHERE id = ?", id)

	t, err := scanTreatment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) Treatments(ctx context.Context) ([]ledger.Treatment, error) {
	return s.queryTreatments(ctx,
		"SELECT "+treatmentColumns+" FROM treatments ORDER BY created_at ASC")
}

func (s *Store) TreatmentsByLot(ctx context.Context, lotID string) ([]ledger.Treatment, error) {
	return s.queryTreatments(ctx,
		"SELECT "+treatmentColumns+" FROM treatments WHERE lot_id = ? ORDER BY created_at ASC", lotID)
}

func (s *Store) queryTreatments(ctx context.Context, query string, args ...any) ([]ledger.Treatment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var treatments []ledger.Treatment
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, err
		}
		treatments = append(treatments, t)
	}
	return treatments, rows.Err()
}

func (s *Store) SaveTreatment(ctx context.Context, t ledger.Treatment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO treatments (` + treatmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lot_id = excluded.lot_id,
			product = excluded.product,
			dose_per_100kg = excluded.dose_per_100kg,
			operator = excluded.operator,
			unit = excluded.unit,
			qty = excluded.qty,
			qty_kg = excluded.qty_kg,
			treated_at = excluded.treated_at,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.LotID, t.Product, t.DosePer100Kg, t.Operator,
		string(t.Unit), t.Qty, t.QtyKg, t.TreatedAt,
		t.CreatedAt.Format(time.RFC3339),
		t.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) DeleteTreatment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM treatments WHERE id = ?", id)
	return err
}

// =============================================================================
// MOVEMENTS
// =============================================================================

const movementColumns = "id, lot_id, destination_type, destination_name, unit, qty, qty_kg, moved_at, notes, created_at, updated_at"

func (s *Store) Movement(ctx context.Context, id string) (*ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+movementColumns+" FROM movements WHERE id = ?", id)

	m, err := scanMovement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) Movements(ctx context.Context) ([]ledger.Movement, error) {
	return s.queryMovements(ctx,
		"SELECT "+movementColumns+" FROM movements ORDER BY created_at ASC")
}

func (s *Store) MovementsByLot(ctx context.Context, lotID string) ([]ledger.Movement, error) {
	return s.queryMovements(ctx,
		"SELECT "+movementColumns+" FROM movements WHERE lot_id = ? ORDER BY created_at ASC", lotID)
}

func (s *Store) queryMovements(ctx context.Context, query string, args ...any) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *Store) SaveMovement(ctx context.Context, m ledger.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO movements (` + movementColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lot_id = excluded.lot_id,
			destination_type = excluded.destination_type,
			destination_name = excluded.destination_name,
			unit = excluded.unit,
			qty = excluded.qty,
			qty_kg = excluded.qty_kg,
			moved_at = excluded.moved_at,
			notes = excluded.notes,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.LotID, string(m.DestinationType), m.DestinationName,
		string(m.Unit), m.Qty, m.QtyKg, m.MovedAt, m.Notes,
		m.CreatedAt.Format(time.RFC3339),
		m.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) DeleteMovement(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM movements WHERE id = ?", id)
	return err
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AppendEvent records an audit event. Append-only.
func (s *Store) AppendEvent(ctx context.Context, ev ledger.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	detailsJSON, _ := json.Marshal(ev.Details)

	query := `
		INSERT INTO events (id, when_at, actor, entity, action, ref_id, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		ev.ID,
		ev.When.Format(time.RFC3339Nano),
		ev.By,
		ev.Entity,
		ev.Action,
		ev.RefID,
		string(detailsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, most recent first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]ledger.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, when_at, actor, entity, action, ref_id, details_json
		FROM events
		ORDER BY when_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ledger.AuditEvent
	for rows.Next() {
		var (
			ev          ledger.AuditEvent
			whenAt      string
			detailsJSON sql.NullString
		)
		if err := rows.Scan(&ev.ID, &whenAt, &ev.By, &ev.Entity, &ev.Action, &ev.RefID, &detailsJSON); err != nil {
			return nil, err
		}
		ev.When, _ = time.Parse(time.RFC3339Nano, whenAt)
		if detailsJSON.Valid && detailsJSON.String != "" && detailsJSON.String != "null" {
			json.Unmarshal([]byte(detailsJSON.String), &ev.Details)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data and restores default settings (for the demo
// scenario loader).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	tables := []string{"movements", "treatments", "seed_lots", "events", "settings"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	return s.SaveSettings(ctx, ledger.DefaultSettings())
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLot(row rowScanner) (ledger.SeedLot, error) {
	var (
		lot                  ledger.SeedLot
		unit                 string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&lot.ID, &lot.Variety, &lot.Supplier, &lot.LotCode,
		&unit, &lot.Qty, &lot.QtyKg, &lot.ReceivedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return lot, err
	}
	lot.Unit = ledger.Unit(unit)
	lot.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	lot.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return lot, nil
}

func scanTreatment(row rowScanner) (ledger.Treatment, error) {
	var (
		t                    ledger.Treatment
		operator             sql.NullString
		unit                 string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&t.ID, &t.LotID, &t.Product, &t.DosePer100Kg, &operator,
		&unit, &t.Qty, &t.QtyKg, &t.TreatedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return t, err
	}
	t.Operator = operator.String
	t.Unit = ledger.Unit(unit)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return t, nil
}

func scanMovement(row rowScanner) (ledger.Movement, error) {
	var (
		m                    ledger.Movement
		destType, unit       string
		notes                sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&m.ID, &m.LotID, &destType, &m.DestinationName,
		&unit, &m.Qty, &m.QtyKg, &m.MovedAt, &notes,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return m, err
	}
	m.DestinationType = ledger.DestinationType(destType)
	m.Unit = ledger.Unit(unit)
	m.Notes = notes.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return m, nil
}
