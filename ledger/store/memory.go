// Package store provides an in-memory ledger.Store implementation.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/agrovale/seedlot-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	settings   *ledger.Settings
	lots       map[string]ledger.SeedLot
	treatments map[string]ledger.Treatment
	movements  map[string]ledger.Movement
	events     []ledger.AuditEvent
}

func NewMemory() *Memory {
	return &Memory{
		lots:       make(map[string]ledger.SeedLot),
		treatments: make(map[string]ledger.Treatment),
		movements:  make(map[string]ledger.Movement),
	}
}

var _ ledger.Store = (*Memory)(nil)

// =============================================================================
// SETTINGS
// =============================================================================

func (m *Memory) Settings(_ context.Context) (ledger.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return ledger.DefaultSettings(), nil
	}
	return *m.settings, nil
}

func (m *Memory) SaveSettings(_ context.Context, s ledger.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &s
	return nil
}

// =============================================================================
// LOTS
// =============================================================================

func (m *Memory) Lot(_ context.Context, id string) (*ledger.SeedLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lot, ok := m.lots[id]
	if !ok {
		return nil, nil
	}
	return &lot, nil
}

func (m *Memory) Lots(_ context.Context) ([]ledger.SeedLot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.SeedLot, 0, len(m.lots))
	for _, lot := range m.lots {
		result = append(result, lot)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) SaveLot(_ context.Context, lot ledger.SeedLot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lot.ID] = lot
	return nil
}

func (m *Memory) DeleteLot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lots, id)
	return nil
}

// =============================================================================
// TREATMENTS
// =============================================================================

func (m *Memory) Treatment(_ context.Context, id string) (*ledger.Treatment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.treatments[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) Treatments(_ context.Context) ([]ledger.Treatment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.Treatment, 0, len(m.treatments))
	for _, t := range m.treatments {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) TreatmentsByLot(_ context.Context, lotID string) ([]ledger.Treatment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ledger.Treatment
	for _, t := range m.treatments {
		if t.LotID == lotID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) SaveTreatment(_ context.Context, t ledger.Treatment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.treatments[t.ID] = t
	return nil
}

func (m *Memory) DeleteTreatment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.treatments, id)
	return nil
}

// =============================================================================
// MOVEMENTS
// =============================================================================

func (m *Memory) Movement(_ context.Context, id string) (*ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mv, ok := m.movements[id]
	if !ok {
		return nil, nil
	}
	return &mv, nil
}

func (m *Memory) Movements(_ context.Context) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.Movement, 0, len(m.movements))
	for _, mv := range m.movements {
		result = append(result, mv)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) MovementsByLot(_ context.Context, lotID string) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []ledger.Movement
	for _, mv := range m.movements {
		if mv.LotID == lotID {
			result = append(result, mv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) SaveMovement(_ context.Context, mv ledger.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements[mv.ID] = mv
	return nil
}

func (m *Memory) DeleteMovement(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.movements, id)
	return nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) AppendEvent(_ context.Context, ev ledger.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) RecentEvents(_ context.Context, limit int) ([]ledger.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]ledger.AuditEvent, len(m.events))
	copy(result, m.events)
	// Newest first; events are appended in order.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].When.After(result[j].When)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = nil
	m.lots = make(map[string]ledger.SeedLot)
	m.treatments = make(map[string]ledger.Treatment)
	m.movements = make(map[string]ledger.Movement)
	m.events = nil
	return nil
}
