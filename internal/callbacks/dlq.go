package callbacks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// NoopDLQStore is a DLQ store that discards all failed alerts.
type NoopDLQStore struct{}

func (NoopDLQStore) Save(context.Context, FailedAlert) error { return nil }
func (NoopDLQStore) List(context.Context, int) ([]FailedAlert, error) {
	return []FailedAlert{}, nil
}
func (NoopDLQStore) Delete(context.Context, string) error { return nil }

// MemoryDLQStore keeps failed alerts in memory (tests and development).
type MemoryDLQStore struct {
	mu     sync.RWMutex
	alerts map[string]FailedAlert
}

// NewMemoryDLQStore creates an in-memory DLQ store.
func NewMemoryDLQStore() *MemoryDLQStore {
	return &MemoryDLQStore{alerts: make(map[string]FailedAlert)}
}

func (m *MemoryDLQStore) Save(_ context.Context, alert FailedAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[alert.ID] = alert
	return nil
}

func (m *MemoryDLQStore) List(_ context.Context, limit int) ([]FailedAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedAlerts(m.alerts, limit), nil
}

func (m *MemoryDLQStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alerts, id)
	return nil
}

// FileDLQStore keeps failed alerts in a JSON file so they survive restarts.
type FileDLQStore struct {
	mu       sync.RWMutex
	filePath string
	alerts   map[string]FailedAlert
}

// NewFileDLQStore opens (or starts) the DLQ file at filePath.
func NewFileDLQStore(filePath string) (*FileDLQStore, error) {
	store := &FileDLQStore{
		filePath: filePath,
		alerts:   make(map[string]FailedAlert),
	}
	if err := store.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load DLQ file: %w", err)
	}
	return store, nil
}

func (f *FileDLQStore) Save(_ context.Context, alert FailedAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts[alert.ID] = alert
	return f.persist()
}

func (f *FileDLQStore) List(_ context.Context, limit int) ([]FailedAlert, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedAlerts(f.alerts, limit), nil
}

func (f *FileDLQStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alerts, id)
	return f.persist()
}

func (f *FileDLQStore) load() error {
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return err
	}
	var alerts map[string]FailedAlert
	if err := json.Unmarshal(data, &alerts); err != nil {
		return fmt.Errorf("unmarshal DLQ data: %w", err)
	}
	if alerts != nil {
		f.alerts = alerts
	}
	return nil
}

func (f *FileDLQStore) persist() error {
	data, err := json.MarshalIndent(f.alerts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal DLQ data: %w", err)
	}

	// Write then rename so a crash never leaves a half-written file.
	tmpPath := f.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write DLQ file: %w", err)
	}
	if err := os.Rename(tmpPath, f.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename DLQ file: %w", err)
	}
	return nil
}

// Close is a no-op; every Save is already persisted.
func (f *FileDLQStore) Close() error {
	return nil
}

func sortedAlerts(in map[string]FailedAlert, limit int) []FailedAlert {
	out := make([]FailedAlert, 0, len(in))
	for _, a := range in {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
