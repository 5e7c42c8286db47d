package usage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jordanlanch/bioforge/pkg/models"
)

// SQLRepository stores usage records in a SQL database
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository creates a new SQL-backed usage repository
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Count counts records for a user and tool, optionally restricted to one day
func (r *SQLRepository) Count(ctx context.Context, userID string, tool models.ToolType, day string) (int, error) {
	query := `SELECT COUNT(*) FROM usage_records WHERE user_id = $1 AND tool_type = $2`
	args := []any{userID, string(tool)}
	if day != "" {
		query += ` AND date = $3`
		args = append(args, day)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return n, nil
}

// Record inserts one usage record
func (r *SQLRepository) Record(ctx context.Context, rec models.UsageRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, user_id, tool_type, date, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, string(rec.ToolType), rec.Date, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}
