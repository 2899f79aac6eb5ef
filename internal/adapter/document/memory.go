// Package document provides an in-memory implementation of the document
// collaborator contract, used by cmd/agent and tests. Hosts embedding the
// pipeline supply their own implementation backed by the real canvas.
package document

import (
	"reflect"
	"sync"

	"easel-ai/internal/domain"
)

// Memory is a canvas document held as a record map. Diff extraction works by
// before/after snapshot comparison, which keeps inverse application exact.
type Memory struct {
	mu       sync.Mutex
	records  map[string]domain.Record
	selected []string
	viewport domain.Rect
}

var _ domain.Document = (*Memory)(nil)

// NewMemory creates an empty document.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]domain.Record)}
}

// SetSelection marks record ids as selected; unknown ids are kept and simply
// resolve to nothing.
func (m *Memory) SetSelection(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = ids
}

// SetViewport sets the viewport rectangle reported to the agent.
func (m *Memory) SetViewport(r domain.Rect) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewport = r
}

// Records returns a snapshot of all records.
func (m *Memory) Records() []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, domain.CloneRecord(r))
	}
	return out
}

// ExtractDiff runs fn and returns the diff of every record it touched.
func (m *Memory) ExtractDiff(fn func()) domain.Diff {
	before := m.snapshot()
	fn()
	after := m.snapshot()

	diff := domain.Diff{
		Added:   map[string]domain.Record{},
		Updated: map[string]domain.RecordChange{},
		Removed: map[string]domain.Record{},
	}
	for id, rec := range after {
		prev, ok := before[id]
		switch {
		case !ok:
			diff.Added[id] = rec
		case !recordsEqual(prev, rec):
			diff.Updated[id] = domain.RecordChange{Before: prev, After: rec}
		}
	}
	for id, rec := range before {
		if _, ok := after[id]; !ok {
			diff.Removed[id] = rec
		}
	}
	return diff
}

// ApplyDiff applies a diff forward.
func (m *Memory) ApplyDiff(diff domain.Diff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range diff.Added {
		m.records[id] = domain.CloneRecord(rec)
	}
	for id, ch := range diff.Updated {
		m.records[id] = domain.CloneRecord(ch.After)
	}
	for id := range diff.Removed {
		delete(m.records, id)
	}
}

// ApplyInverseDiff undoes a diff exactly: added records are removed, updated
// records restored to their before state, removed records restored.
func (m *Memory) ApplyInverseDiff(diff domain.Diff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range diff.Added {
		delete(m.records, id)
	}
	for id, ch := range diff.Updated {
		m.records[id] = domain.CloneRecord(ch.Before)
	}
	for id, rec := range diff.Removed {
		m.records[id] = domain.CloneRecord(rec)
	}
}

func (m *Memory) CreateRecord(r domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = domain.CloneRecord(r)
}

func (m *Memory) UpdateRecord(r domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; !ok {
		return
	}
	m.records[r.ID] = domain.CloneRecord(r)
}

func (m *Memory) DeleteRecord(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}

func (m *Memory) GetRecord(id string) (domain.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return domain.Record{}, false
	}
	return domain.CloneRecord(r), true
}

func (m *Memory) GetSelectedRecords() []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Record, 0, len(m.selected))
	for _, id := range m.selected {
		if r, ok := m.records[id]; ok {
			out = append(out, domain.CloneRecord(r))
		}
	}
	return out
}

func (m *Memory) GetViewportBounds() domain.Rect {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport
}

func (m *Memory) snapshot() map[string]domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Record, len(m.records))
	for id, r := range m.records {
		out[id] = domain.CloneRecord(r)
	}
	return out
}

func recordsEqual(a, b domain.Record) bool {
	if a.ID != b.ID || a.Type != b.Type {
		return false
	}
	// Props values come from decoded JSON and may be nested.
	return reflect.DeepEqual(a.Props, b.Props)
}
