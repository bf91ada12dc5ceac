package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the ledger runtime depends on them.

// Journal durably records committed transactions.
type Journal interface {
	// Commit writes one transaction's changes atomically.
	Commit(ctx context.Context, b Batch) error

	// LoadSnapshot rebuilds the stored state of a registry.
	LoadSnapshot(ctx context.Context, registry Address) (*Snapshot, error)

	// ListRegistries returns stored registry addresses, oldest first.
	ListRegistries(ctx context.Context) ([]Address, error)
}

// EntryPublisher fans committed ledger entries out to subscribers.
type EntryPublisher interface {
	Publish(ctx context.Context, e LedgerEntry) error
}
