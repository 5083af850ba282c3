// Package simmodel builds, stores and serves the precomputed event-to-event
// content similarity matrix.
package simmodel

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrModelUnavailable means no artifact exists yet.
	ErrModelUnavailable = errors.New("similarity model unavailable")
	// ErrModelCorrupt means the artifact exists but cannot be used.
	ErrModelCorrupt = errors.New("similarity model corrupt")
)

// Model is an immutable N×N similarity matrix over EventIDs. Row i and
// column i both belong to EventIDs[i].
type Model struct {
	EventIDs       []int64     `json:"event_ids"`
	Matrix         [][]float64 `json:"similarity_matrix"`
	BuiltAt        time.Time   `json:"built_at"`
	VocabularySize int         `json:"vocabulary_size"`

	index map[int64]int
}

// New validates the shape of ids and matrix and indexes the ids.
func New(ids []int64, matrix [][]float64) (*Model, error) {
	m := &Model{EventIDs: ids, Matrix: matrix}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) init() error {
	n := len(m.EventIDs)
	if len(m.Matrix) != n {
		return fmt.Errorf("%w: %d event ids but %d matrix rows", ErrModelCorrupt, n, len(m.Matrix))
	}
	index := make(map[int64]int, n)
	for i, id := range m.EventIDs {
		if _, dup := index[id]; dup {
			return fmt.Errorf("%w: duplicate event id %d", ErrModelCorrupt, id)
		}
		index[id] = i
		if len(m.Matrix[i]) != n {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrModelCorrupt, i, len(m.Matrix[i]), n)
		}
	}
	m.index = index
	return nil
}

// Len is the number of events in the model. A nil model has length 0.
func (m *Model) Len() int {
	if m == nil {
		return 0
	}
	return len(m.EventIDs)
}

// Available reports whether the model can drive hybrid scoring.
func (m *Model) Available() bool {
	return m.Len() > 0
}

func (m *Model) IndexOf(eventID int64) (int, bool) {
	if m == nil {
		return 0, false
	}
	idx, ok := m.index[eventID]
	return idx, ok
}

func (m *Model) Row(i int) []float64 {
	return m.Matrix[i]
}

// Similarity returns the stored score between two events, and false if either
// is unknown to the model.
func (m *Model) Similarity(a, b int64) (float64, bool) {
	i, okA := m.IndexOf(a)
	j, okB := m.IndexOf(b)
	if !okA || !okB {
		return 0, false
	}
	return m.Matrix[i][j], true
}

// Version identifies the build for cache keys and status output.
func (m *Model) Version() string {
	if m == nil {
		return "none"
	}
	if m.BuiltAt.IsZero() {
		return fmt.Sprintf("n%d", m.Len())
	}
	return m.BuiltAt.UTC().Format("20060102T150405.000Z")
}
