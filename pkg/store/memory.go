package store

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/maskguard/maskguard/pkg/models"
)

// MemoryStore is an in-memory implementation of the event store, used in
// tests and model-less demo deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	events []models.Event
	nextID int64
}

// NewMemoryStore creates a new in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// AppendEvent persists an event and returns its assigned ID.
func (s *MemoryStore) AppendEvent(event *models.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *event
	e.ID = s.nextID
	s.nextID++
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.events = append(s.events, e)
	return e.ID, nil
}

func matches(e models.Event, filter EventFilter) bool {
	if filter.Source != "" && e.Source != filter.Source {
		return false
	}
	if filter.Label != "" && e.Label != filter.Label {
		return false
	}
	if !filter.Start.IsZero() && e.Timestamp.Before(filter.Start) {
		return false
	}
	if !filter.End.IsZero() && e.Timestamp.After(filter.End) {
		return false
	}
	return true
}

// QueryEvents returns matching events, newest first.
func (s *MemoryStore) QueryEvents(filter EventFilter) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Event
	for _, e := range s.events {
		if matches(e, filter) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// EventStats aggregates totals by label and source for the filter window.
func (s *MemoryStore) EventStats(filter EventFilter) (*EventStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &EventStats{
		ByLabel:  make(map[models.Label]int),
		BySource: make(map[models.EventSource]int),
	}
	for _, e := range s.events {
		if !matches(e, filter) {
			continue
		}
		stats.Total++
		stats.ByLabel[e.Label]++
		stats.BySource[e.Source]++
	}
	return stats, nil
}

// ExportCSV streams matching events as CSV in the fixed column order.
func (s *MemoryStore) ExportCSV(w io.Writer, filter EventFilter) error {
	events, err := s.QueryEvents(filter)
	if err != nil {
		return err
	}
	return writeCSV(w, events)
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck() error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
