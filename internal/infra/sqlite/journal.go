package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tutu-network/memberledger/internal/domain"
)

// ─── Journal Schema ─────────────────────────────────────────────────────────

// JournalMigrations returns the ledger state schema.
// Each string is a single SQL statement (SQLite executes one at a time).
func JournalMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS registries (
			address             TEXT PRIMARY KEY,
			owner               TEXT NOT NULL DEFAULT '',
			reward_resource     TEXT NOT NULL,
			bonus_resource      TEXT NOT NULL,
			card_resource       TEXT NOT NULL,
			certificates_issued INTEGER NOT NULL DEFAULT 0,
			fee_reserve         INTEGER NOT NULL DEFAULT 0,
			max_reward_amount   INTEGER NOT NULL DEFAULT 0,
			created_at          TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS resources (
			address      TEXT PRIMARY KEY,
			registry     TEXT NOT NULL,
			kind         TEXT NOT NULL,
			total_supply INTEGER NOT NULL DEFAULT 0,
			name         TEXT NOT NULL DEFAULT '',
			symbol       TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT '',
			divisibility INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_registry ON resources(registry)`,

		`CREATE TABLE IF NOT EXISTS certificates (
			resource  TEXT NOT NULL,
			id        INTEGER NOT NULL,
			level     TEXT NOT NULL,
			issued_at TEXT NOT NULL,
			holder    TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (resource, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_certificates_holder ON certificates(holder)`,

		`CREATE TABLE IF NOT EXISTS holdings (
			account  TEXT NOT NULL,
			resource TEXT NOT NULL,
			amount   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (account, resource)
		)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      TEXT NOT NULL,
			type           TEXT NOT NULL,
			registry       TEXT NOT NULL DEFAULT '',
			resource       TEXT NOT NULL DEFAULT '',
			account        TEXT NOT NULL DEFAULT '',
			amount         INTEGER NOT NULL DEFAULT 0,
			certificate_id INTEGER NOT NULL DEFAULT 0,
			task           TEXT NOT NULL DEFAULT '',
			description    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_registry ON ledger_entries(registry, id)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_account ON ledger_entries(account, id)`,
	}
}

// ─── Commit ─────────────────────────────────────────────────────────────────

// Commit writes one ledger transaction. Either every row lands or none does.
func (db *DB) Commit(ctx context.Context, b domain.Batch) (err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, r := range b.Registries {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO registries (address, owner, reward_resource, bonus_resource, card_resource,
				certificates_issued, fee_reserve, max_reward_amount, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				certificates_issued = excluded.certificates_issued,
				fee_reserve         = excluded.fee_reserve,
				max_reward_amount   = excluded.max_reward_amount
		`, r.Address, r.Owner, r.RewardResource, r.BonusResource, r.CardResource,
			u64(r.CertificatesIssued), u64(r.FeeReserve), u64(r.MaxRewardAmount), formatTime(r.CreatedAt)); err != nil {
			return fmt.Errorf("upsert registry %s: %w", r.Address, err)
		}
	}

	for _, r := range b.Resources {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO resources (address, registry, kind, total_supply, name, symbol, description, divisibility)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				total_supply = excluded.total_supply
		`, r.Address, r.Registry, string(r.Kind), u64(r.TotalSupply),
			r.Metadata.Name, r.Metadata.Symbol, r.Metadata.Description, r.Metadata.Divisibility); err != nil {
			return fmt.Errorf("upsert resource %s: %w", r.Address, err)
		}
	}

	for _, c := range b.Certificates {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO certificates (resource, id, level, issued_at, holder)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(resource, id) DO UPDATE SET
				level = excluded.level
		`, c.Resource, u64(c.Certificate.ID), c.Certificate.Level, formatTime(c.Certificate.IssuedAt), c.Holder); err != nil {
			return fmt.Errorf("upsert certificate %d: %w", c.Certificate.ID, err)
		}
	}

	for _, h := range b.CertificateHolders {
		if _, err = tx.ExecContext(ctx,
			`UPDATE certificates SET holder = ? WHERE resource = ? AND id = ?`,
			h.Holder, h.Resource, u64(h.CertificateID)); err != nil {
			return fmt.Errorf("move certificate %d: %w", h.CertificateID, err)
		}
	}

	for _, h := range b.Holdings {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO holdings (account, resource, amount)
			VALUES (?, ?, ?)
			ON CONFLICT(account, resource) DO UPDATE SET
				amount = excluded.amount
		`, h.Account, h.Resource, u64(h.Amount)); err != nil {
			return fmt.Errorf("upsert holding %s/%s: %w", h.Account, h.Resource, err)
		}
	}

	for _, e := range b.Entries {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (timestamp, type, registry, resource, account, amount, certificate_id, task, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, formatTime(e.Timestamp), string(e.Type), e.Registry, e.Resource, e.Account,
			u64(e.Amount), u64(e.CertificateID), string(e.Task), e.Description); err != nil {
			return fmt.Errorf("insert %s entry: %w", e.Type, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ─── Restore ────────────────────────────────────────────────────────────────

// ListRegistries returns stored registry addresses, oldest first.
func (db *DB) ListRegistries(ctx context.Context) ([]domain.Address, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT address FROM registries ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Address
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, domain.Address(a))
	}
	return out, rows.Err()
}

// LoadSnapshot rebuilds the stored state of a registry.
func (db *DB) LoadSnapshot(ctx context.Context, registry domain.Address) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{}
	r := &snap.Registry

	var issued, reserve, maxReward int64
	var createdAt string
	err := db.db.QueryRowContext(ctx, `
		SELECT address, owner, reward_resource, bonus_resource, card_resource,
			certificates_issued, fee_reserve, max_reward_amount, created_at
		FROM registries WHERE address = ?
	`, registry).Scan(&r.Address, &r.Owner, &r.RewardResource, &r.BonusResource, &r.CardResource,
		&issued, &reserve, &maxReward, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registry %s: %w", registry, domain.ErrRegistryNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load registry %s: %w", registry, err)
	}
	r.CertificatesIssued = fromI64(issued)
	r.FeeReserve = fromI64(reserve)
	r.MaxRewardAmount = fromI64(maxReward)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	if snap.Resources, err = db.loadResources(ctx, registry); err != nil {
		return nil, err
	}
	if snap.Certificates, err = db.loadCertificates(ctx, r.CardResource); err != nil {
		return nil, err
	}
	if snap.Holdings, err = db.loadHoldings(ctx, r.RewardResource, r.BonusResource); err != nil {
		return nil, err
	}
	return snap, nil
}

func (db *DB) loadResources(ctx context.Context, registry domain.Address) ([]domain.ResourceState, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT address, registry, kind, total_supply, name, symbol, description, divisibility
		FROM resources WHERE registry = ? ORDER BY rowid
	`, registry)
	if err != nil {
		return nil, fmt.Errorf("load resources: %w", err)
	}
	defer rows.Close()

	var out []domain.ResourceState
	for rows.Next() {
		var (
			s      domain.ResourceState
			kind   string
			supply int64
		)
		if err := rows.Scan(&s.Address, &s.Registry, &kind, &supply,
			&s.Metadata.Name, &s.Metadata.Symbol, &s.Metadata.Description, &s.Metadata.Divisibility); err != nil {
			return nil, err
		}
		s.Kind = domain.ResourceKind(kind)
		s.TotalSupply = fromI64(supply)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) loadCertificates(ctx context.Context, resource domain.Address) ([]domain.CertificateRecord, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, level, issued_at, holder FROM certificates
		WHERE resource = ? ORDER BY id
	`, resource)
	if err != nil {
		return nil, fmt.Errorf("load certificates: %w", err)
	}
	defer rows.Close()

	var out []domain.CertificateRecord
	for rows.Next() {
		var (
			c        = domain.CertificateRecord{Resource: resource}
			id       int64
			issuedAt string
		)
		if err := rows.Scan(&id, &c.Certificate.Level, &issuedAt, &c.Holder); err != nil {
			return nil, err
		}
		c.Certificate.ID = fromI64(id)
		if c.Certificate.IssuedAt, err = parseTime(issuedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (db *DB) loadHoldings(ctx context.Context, resources ...domain.Address) ([]domain.Holding, error) {
	var out []domain.Holding
	for _, res := range resources {
		rows, err := db.db.QueryContext(ctx, `
			SELECT account, amount FROM holdings WHERE resource = ? ORDER BY account
		`, res)
		if err != nil {
			return nil, fmt.Errorf("load holdings: %w", err)
		}
		for rows.Next() {
			h := domain.Holding{Resource: res}
			var amount int64
			if err := rows.Scan(&h.Account, &amount); err != nil {
				rows.Close()
				return nil, err
			}
			h.Amount = fromI64(amount)
			out = append(out, h)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ─── Entries ────────────────────────────────────────────────────────────────

// ListEntries returns the most recent ledger entries of a registry, newest
// first. An empty account matches every account.
func (db *DB) ListEntries(ctx context.Context, registry, account domain.Address, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, timestamp, type, registry, resource, account, amount, certificate_id, task, description
		FROM ledger_entries
		WHERE (registry = ? OR resource IN (SELECT address FROM resources WHERE registry = ?))
			AND (? = '' OR account = ?)
		ORDER BY id DESC LIMIT ?
	`, registry, registry, account, account, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var (
			e            domain.LedgerEntry
			ts, typ, tsk string
			amount, cid  int64
		)
		if err := rows.Scan(&e.ID, &ts, &typ, &e.Registry, &e.Resource, &e.Account,
			&amount, &cid, &tsk, &e.Description); err != nil {
			return nil, err
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.Type = domain.EntryType(typ)
		e.Task = domain.TaskKind(tsk)
		e.Amount = fromI64(amount)
		e.CertificateID = fromI64(cid)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntryCount returns the number of stored ledger entries.
func (db *DB) EntryCount(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries`).Scan(&n)
	return n, err
}

var _ domain.Journal = (*DB)(nil)
