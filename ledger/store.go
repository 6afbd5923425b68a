/*
store.go - Persistence interface for the three ledgers

PURPOSE:
  Defines the interface between the domain logic and the database.
  Lots, treatments, and movements are plain CRUD collections; the audit
  event log is append-only. Lookup methods return (nil, nil) when the
  record is absent so callers can translate that into their own
  not-found error.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: file-backed SQLite store
  - ledger/store/memory.go: in-memory store for tests and dev

SEE ALSO:
  - keeper.go: the only writer in normal operation
  - balance.go: read-only aggregate scans
*/
package ledger

import "context"

// Store handles persistence for settings, the three record collections,
// and the audit log.
type Store interface {
	// Settings returns the current unit ratios, seeding the defaults on
	// first read.
	Settings(ctx context.Context) (Settings, error)

	// SaveSettings replaces the settings document. Last write wins.
	SaveSettings(ctx context.Context, s Settings) error

	// Lot returns the lot with the given id, or (nil, nil) if absent.
	Lot(ctx context.Context, id string) (*SeedLot, error)

	// Lots returns all lots ordered by creation time.
	Lots(ctx context.Context) ([]SeedLot, error)

	// SaveLot inserts or replaces a lot.
	SaveLot(ctx context.Context, lot SeedLot) error

	// DeleteLot removes a lot. The caller enforces the dependent guard.
	DeleteLot(ctx context.Context, id string) error

	Treatment(ctx context.Context, id string) (*Treatment, error)
	Treatments(ctx context.Context) ([]Treatment, error)
	TreatmentsByLot(ctx context.Context, lotID string) ([]Treatment, error)
	SaveTreatment(ctx context.Context, t Treatment) error
	DeleteTreatment(ctx context.Context, id string) error

	Movement(ctx context.Context, id string) (*Movement, error)
	Movements(ctx context.Context) ([]Movement, error)
	MovementsByLot(ctx context.Context, lotID string) ([]Movement, error)
	SaveMovement(ctx context.Context, m Movement) error
	DeleteMovement(ctx context.Context, id string) error

	// AppendEvent records an audit event. Append-only: no update, no
	// delete.
	AppendEvent(ctx context.Context, ev AuditEvent) error

	// RecentEvents returns up to limit events, most recent first.
	RecentEvents(ctx context.Context, limit int) ([]AuditEvent, error)

	// Reset clears all records and restores default settings. Used by
	// the demo scenario loader.
	Reset(ctx context.Context) error
}
