package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/models"
)

const subscriptionColumns = `id, user_id, plan_type, expires_at, is_active, cancelled, created_at, updated_at`

// SQLRepository stores subscriptions in a SQL database (PostgreSQL or SQLite)
type SQLRepository struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewSQLRepository creates a new SQL-backed repository
func NewSQLRepository(db *sql.DB, clock clockwork.Clock) *SQLRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SQLRepository{db: db, clock: clock}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// queryRower is satisfied by both *sql.DB and *sql.Tx
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var (
		sub       models.Subscription
		plan      string
		expiresAt sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &plan, &expiresAt, &sub.IsActive, &sub.Cancelled, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	// unknown plan strings degrade to free
	sub.PlanType, _ = models.ParsePlanType(plan)
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		sub.ExpiresAt = &t
	}
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

func (r *SQLRepository) current(ctx context.Context, q queryRower, userID string) (*models.Subscription, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE user_id = $1 AND is_active = $2
		 ORDER BY created_at DESC LIMIT 1`,
		userID, true)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query current subscription: %w", err)
	}
	return sub, nil
}

// Current returns the user's most recent active subscription, or nil
func (r *SQLRepository) Current(ctx context.Context, userID string) (*models.Subscription, error) {
	return r.current(ctx, r.db, userID)
}

// Upgrade replaces the user's active subscription in a single transaction
func (r *SQLRepository) Upgrade(ctx context.Context, userID string, plan models.PlanType, expiresAt *time.Time) (*models.Subscription, error) {
	now := r.clock.Now().UTC()
	sub := &models.Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		PlanType:  plan,
		IsActive:  true,
		Cancelled: false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var expires any
	if expiresAt != nil {
		t := expiresAt.UTC()
		sub.ExpiresAt = &t
		expires = t
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = $1, updated_at = $2 WHERE user_id = $3 AND is_active = $4`,
		false, now, userID, true); err != nil {
		return nil, fmt.Errorf("failed to deactivate previous subscriptions: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.UserID, string(sub.PlanType), expires, sub.IsActive, sub.Cancelled, sub.CreatedAt, sub.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit upgrade: %w", err)
	}
	return sub, nil
}

// Cancel sets cancelled on the current active subscription
func (r *SQLRepository) Cancel(ctx context.Context, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sub, err := r.current(ctx, tx, userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrNoActiveSubscription
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE subscriptions SET cancelled = $1, updated_at = $2 WHERE id = $3`,
		true, r.clock.Now().UTC(), sub.ID); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancel: %w", err)
	}
	return nil
}

// DeactivateExpired marks a subscription inactive and free
func (r *SQLRepository) DeactivateExpired(ctx context.Context, subscriptionID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET is_active = $1, plan_type = $2, updated_at = $3 WHERE id = $4`,
		false, string(models.PlanFree), r.clock.Now().UTC(), subscriptionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate subscription: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListExpiring returns active paid subscriptions with an expiry set
func (r *SQLRepository) ListExpiring(ctx context.Context) ([]models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE is_active = $1 AND plan_type <> $2 AND expires_at IS NOT NULL`,
		true, string(models.PlanFree))
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
