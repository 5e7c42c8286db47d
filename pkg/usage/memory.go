package usage

import (
	"context"
	"sync"

	"github.com/jordanlanch/bioforge/pkg/models"
)

// MemoryRepository is a thread-safe in-memory Repository
type MemoryRepository struct {
	mu      sync.RWMutex
	records []models.UsageRecord
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Count counts matching records
func (m *MemoryRepository) Count(_ context.Context, userID string, tool models.ToolType, day string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.records {
		if r.UserID == userID && r.ToolType == tool && (day == "" || r.Date == day) {
			n++
		}
	}
	return n, nil
}

// Record appends a record
func (m *MemoryRepository) Record(_ context.Context, rec models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}
