// Package migrations holds the idempotent DDL for this system's five
// tables. The monorepo has no migration tool anywhere in it — every
// service that owns Postgres state (auth-service's integration
// harness, join-service's WipeDB helper) just runs CREATE TABLE IF NOT
// EXISTS / ALTER ... ADD COLUMN IF NOT EXISTS directly against the
// pool, so EnsureSchema follows the same shape rather than reaching
// for golang-migrate or goose.
package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates every table this system needs if it does not
// already exist. Safe to call on every process boot.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}
	return nil
}

var statements = []string{
	`CREATE TABLE IF NOT EXISTS mailings (
		id UUID PRIMARY KEY,
		filename TEXT NOT NULL UNIQUE,
		storage_url TEXT NOT NULL,
		status TEXT NOT NULL,
		total_lines INTEGER NOT NULL DEFAULT 0,
		processed_lines INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt TIMESTAMPTZ,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_mailings_status ON mailings (status);`,

	`CREATE TABLE IF NOT EXISTS outbox_messages (
		id UUID PRIMARY KEY,
		mailing_id UUID NOT NULL REFERENCES mailings (id),
		target_queue TEXT NOT NULL,
		payload JSONB NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		published_at TIMESTAMPTZ,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox_messages (published, created_at) WHERE NOT published;`,

	`CREATE TABLE IF NOT EXISTS mailing_entries (
		id UUID PRIMARY KEY,
		mailing_id UUID NOT NULL REFERENCES mailings (id),
		email TEXT NOT NULL,
		verification_token TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_attempt TIMESTAMPTZ,
		external_id TEXT NOT NULL DEFAULT '',
		invalid_reason TEXT NOT NULL DEFAULT '',
		validation_details TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (mailing_id, email)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_mailing_entries_status ON mailing_entries (mailing_id, status);`,

	`CREATE TABLE IF NOT EXISTS dead_letters (
		id UUID PRIMARY KEY,
		mailing_id UUID NOT NULL REFERENCES mailings (id),
		filename TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,

	`CREATE TABLE IF NOT EXISTS outbox_dead_letters (
		id UUID PRIMARY KEY,
		mailing_id UUID NOT NULL REFERENCES mailings (id),
		target_queue TEXT NOT NULL,
		payload JSONB NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}
