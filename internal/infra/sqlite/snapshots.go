package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tutu-network/memberledger/internal/domain"
)

// ─── Snapshot Schema ────────────────────────────────────────────────────────

// SnapshotMigrations returns the supply snapshot schema.
func SnapshotMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS supply_snapshots (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			registry            TEXT NOT NULL,
			reward_supply       INTEGER NOT NULL DEFAULT 0,
			bonus_supply        INTEGER NOT NULL DEFAULT 0,
			certificate_supply  INTEGER NOT NULL DEFAULT 0,
			certificates_issued INTEGER NOT NULL DEFAULT 0,
			fee_reserve         INTEGER NOT NULL DEFAULT 0,
			taken_at            TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_supply_snapshots_registry ON supply_snapshots(registry, id)`,
	}
}

// ─── Snapshot Operations ────────────────────────────────────────────────────

// InsertSupplySnapshot saves a point-in-time view of a registry's totals.
func (db *DB) InsertSupplySnapshot(ctx context.Context, s domain.SupplySnapshot) (int64, error) {
	res, err := db.db.ExecContext(ctx, `
		INSERT INTO supply_snapshots (registry, reward_supply, bonus_supply, certificate_supply,
			certificates_issued, fee_reserve, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.Registry, u64(s.RewardSupply), u64(s.BonusSupply), u64(s.CertificateSupply),
		u64(s.CertificatesIssued), u64(s.FeeReserve), formatTime(s.TakenAt))
	if err != nil {
		return 0, fmt.Errorf("insert supply snapshot: %w", err)
	}
	return res.LastInsertId()
}

// ListSupplySnapshots returns the most recent snapshots of a registry,
// newest first.
func (db *DB) ListSupplySnapshots(ctx context.Context, registry domain.Address, limit int) ([]domain.SupplySnapshot, error) {
	if limit <= 0 {
		limit = 24
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT registry, reward_supply, bonus_supply, certificate_supply, certificates_issued, fee_reserve, taken_at
		FROM supply_snapshots WHERE registry = ?
		ORDER BY id DESC LIMIT ?
	`, registry, limit)
	if err != nil {
		return nil, fmt.Errorf("list supply snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.SupplySnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LatestSupplySnapshot returns the newest snapshot of a registry.
// ok is false when none has been taken yet.
func (db *DB) LatestSupplySnapshot(ctx context.Context, registry domain.Address) (s domain.SupplySnapshot, ok bool, err error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT registry, reward_supply, bonus_supply, certificate_supply, certificates_issued, fee_reserve, taken_at
		FROM supply_snapshots WHERE registry = ?
		ORDER BY id DESC LIMIT 1
	`, registry)
	s, err = scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SupplySnapshot{}, false, nil
	}
	if err != nil {
		return domain.SupplySnapshot{}, false, err
	}
	return s, true, nil
}

// PruneSupplySnapshots keeps only the newest keep snapshots of a registry.
func (db *DB) PruneSupplySnapshots(ctx context.Context, registry domain.Address, keep int) (int64, error) {
	res, err := db.db.ExecContext(ctx, `
		DELETE FROM supply_snapshots
		WHERE registry = ? AND id NOT IN (
			SELECT id FROM supply_snapshots WHERE registry = ? ORDER BY id DESC LIMIT ?
		)
	`, registry, registry, keep)
	if err != nil {
		return 0, fmt.Errorf("prune supply snapshots: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (domain.SupplySnapshot, error) {
	var s domain.SupplySnapshot
	var reward, bonus, certs, issued, fee int64
	var takenAt string
	if err := row.Scan(&s.Registry, &reward, &bonus, &certs, &issued, &fee, &takenAt); err != nil {
		return domain.SupplySnapshot{}, err
	}
	t, err := parseTime(takenAt)
	if err != nil {
		return domain.SupplySnapshot{}, err
	}
	s.RewardSupply = fromI64(reward)
	s.BonusSupply = fromI64(bonus)
	s.CertificateSupply = fromI64(certs)
	s.CertificatesIssued = fromI64(issued)
	s.FeeReserve = fromI64(fee)
	s.TakenAt = t
	return s, nil
}
