package postgres

// schema is applied in order by Store.Migrate. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS postings (
		id              TEXT PRIMARY KEY,
		category        TEXT NOT NULL,
		amount          NUMERIC(14,2) NOT NULL,
		entry_type      TEXT NOT NULL CHECK (entry_type IN ('DEBIT', 'CREDIT')),
		status          TEXT NOT NULL DEFAULT 'POSTED',
		reference_id    TEXT NOT NULL,
		reversal_for_id TEXT REFERENCES postings (id),
		driver_id       TEXT NOT NULL,
		lease_id        TEXT,
		vehicle_id      TEXT,
		medallion_id    TEXT,
		description     TEXT NOT NULL DEFAULT '',
		void_reason     TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL,
		voided_at       TIMESTAMPTZ,
		CHECK ((entry_type = 'DEBIT' AND amount > 0) OR (entry_type = 'CREDIT' AND amount < 0))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_postings_driver ON postings (driver_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_postings_reference ON postings (reference_id)`,
	// a posting can be reversed at most once
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_postings_reversal ON postings (reversal_for_id) WHERE reversal_for_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS balances (
		id              TEXT PRIMARY KEY,
		category        TEXT NOT NULL,
		reference_id    TEXT NOT NULL UNIQUE,
		original_amount NUMERIC(14,2) NOT NULL CHECK (original_amount > 0),
		prior_balance   NUMERIC(14,2) NOT NULL DEFAULT 0,
		balance         NUMERIC(14,2) NOT NULL,
		status          TEXT NOT NULL,
		driver_id       TEXT NOT NULL,
		lease_id        TEXT,
		vehicle_id      TEXT,
		medallion_id    TEXT,
		version         INT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		CHECK (balance >= 0 AND balance <= original_amount + prior_balance),
		CHECK ((status = 'CLOSED') = (balance <= 0))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_balances_driver_status ON balances (driver_id, status)`,

	`CREATE TABLE IF NOT EXISTS balance_applications (
		id         TEXT PRIMARY KEY,
		balance_id TEXT NOT NULL REFERENCES balances (id),
		posting_id TEXT NOT NULL REFERENCES postings (id),
		amount     NUMERIC(14,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_balance_applications_balance ON balance_applications (balance_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_balance_applications_posting ON balance_applications (posting_id)`,
}
