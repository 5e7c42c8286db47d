package database

var migrations = map[string][]string{
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			plan_type   TEXT NOT NULL DEFAULT 'free',
			expires_at  TIMESTAMPTZ NULL,
			is_active   BOOLEAN NOT NULL DEFAULT TRUE,
			cancelled   BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_active
			ON subscriptions (user_id, is_active, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			tool_type   TEXT NOT NULL,
			date        TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_user_tool_date
			ON usage_records (user_id, tool_type, date)`,
	},
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			plan_type   TEXT NOT NULL DEFAULT 'free',
			expires_at  TIMESTAMP NULL,
			is_active   BOOLEAN NOT NULL DEFAULT 1,
			cancelled   BOOLEAN NOT NULL DEFAULT 0,
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_active
			ON subscriptions (user_id, is_active, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			tool_type   TEXT NOT NULL,
			date        TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_records_user_tool_date
			ON usage_records (user_id, tool_type, date)`,
	},
}
