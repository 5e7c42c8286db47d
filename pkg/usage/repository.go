// Package usage counts metered tool invocations. Records are append-only and
// never deduplicated.
package usage

import (
	"context"

	"github.com/jordanlanch/bioforge/pkg/models"
)

// Repository is the persistence boundary for usage records
type Repository interface {
	// Count returns how many records exist for the user and tool. An empty
	// day counts all time; otherwise only records dated day (YYYY-MM-DD).
	Count(ctx context.Context, userID string, tool models.ToolType, day string) (int, error)
	// Record appends one record.
	Record(ctx context.Context, rec models.UsageRecord) error
}
