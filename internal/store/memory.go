// Package store holds alert definitions, alert dedup state, and bounded
// per-coordinate snapshot history in memory.
package store

import (
	"sync"

	"github.com/floodloop/risk-stream/internal/domain"
)

// Memory is the in-memory store. Safe for concurrent use.
type Memory struct {
	mu           sync.RWMutex
	defs         map[string]domain.AlertDefinition
	byKey        map[string]map[string]struct{} // coordinate key -> definition IDs
	byCity       map[string]map[string]struct{} // city ID -> definition IDs
	lastFired    map[string]domain.RiskLevel    // definition ID -> last recorded level
	history      map[string][]domain.RiskSnapshot
	historyLimit int
}

// NewMemory creates a store retaining at most historyLimit snapshots per
// coordinate key.
func NewMemory(historyLimit int) *Memory {
	return &Memory{
		defs:         make(map[string]domain.AlertDefinition),
		byKey:        make(map[string]map[string]struct{}),
		byCity:       make(map[string]map[string]struct{}),
		lastFired:    make(map[string]domain.RiskLevel),
		history:      make(map[string][]domain.RiskSnapshot),
		historyLimit: historyLimit,
	}
}

// SaveDefinition inserts or replaces a definition, reindexing it under its
// coordinate key and city.
func (m *Memory) SaveDefinition(def domain.AlertDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.defs[def.ID]; ok {
		m.unindexLocked(old)
	}
	m.defs[def.ID] = def
	m.indexLocked(def)
}

// Definition returns the definition with the given ID.
func (m *Memory) Definition(id string) (domain.AlertDefinition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[id]
	return def, ok
}

// DeleteDefinition removes a definition and its dedup state. Reports whether
// the definition existed.
func (m *Memory) DeleteDefinition(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.defs[id]
	if !ok {
		return false
	}
	m.unindexLocked(def)
	delete(m.defs, id)
	delete(m.lastFired, id)
	return true
}

// ListDefinitions returns all definitions in unspecified order.
func (m *Memory) ListDefinitions() []domain.AlertDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.AlertDefinition, 0, len(m.defs))
	for _, def := range m.defs {
		out = append(out, def)
	}
	return out
}

// DefinitionsForKey returns the definitions registered at a coordinate key.
func (m *Memory) DefinitionsForKey(key string) []domain.AlertDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectLocked(m.byKey[key])
}

// DefinitionsForCity returns the definitions registered for a city.
func (m *Memory) DefinitionsForCity(cityID string) []domain.AlertDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectLocked(m.byCity[cityID])
}

// LastFired returns a copy of the per-definition dedup state.
func (m *Memory) LastFired() map[string]domain.RiskLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]domain.RiskLevel, len(m.lastFired))
	for id, level := range m.lastFired {
		out[id] = level
	}
	return out
}

// SetLastFired merges changed levels into the dedup state.
func (m *Memory) SetLastFired(changed map[string]domain.RiskLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, level := range changed {
		m.lastFired[id] = level
	}
}

// AppendSnapshot records a scored poll result under its coordinate key,
// discarding the oldest entries beyond the retention limit.
func (m *Memory) AppendSnapshot(snap domain.RiskSnapshot) {
	key := snap.Coordinate.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	h := append(m.history[key], snap)
	if len(h) > m.historyLimit {
		h = h[len(h)-m.historyLimit:]
	}
	m.history[key] = h
}

// History returns up to limit snapshots for a coordinate key, newest first.
// limit <= 0 means all retained snapshots.
func (m *Memory) History(key string, limit int) []domain.RiskSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := m.history[key]
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}

	out := make([]domain.RiskSnapshot, limit)
	for i := 0; i < limit; i++ {
		out[i] = h[len(h)-1-i]
	}
	return out
}

func (m *Memory) indexLocked(def domain.AlertDefinition) {
	key := def.Coordinate.Key()
	if m.byKey[key] == nil {
		m.byKey[key] = make(map[string]struct{})
	}
	m.byKey[key][def.ID] = struct{}{}

	if m.byCity[def.CityID] == nil {
		m.byCity[def.CityID] = make(map[string]struct{})
	}
	m.byCity[def.CityID][def.ID] = struct{}{}
}

func (m *Memory) unindexLocked(def domain.AlertDefinition) {
	key := def.Coordinate.Key()
	delete(m.byKey[key], def.ID)
	if len(m.byKey[key]) == 0 {
		delete(m.byKey, key)
	}
	delete(m.byCity[def.CityID], def.ID)
	if len(m.byCity[def.CityID]) == 0 {
		delete(m.byCity, def.CityID)
	}
}

func (m *Memory) collectLocked(ids map[string]struct{}) []domain.AlertDefinition {
	if len(ids) == 0 {
		return nil
	}
	out := make([]domain.AlertDefinition, 0, len(ids))
	for id := range ids {
		out = append(out, m.defs[id])
	}
	return out
}
