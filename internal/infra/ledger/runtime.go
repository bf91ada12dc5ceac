// Package ledger implements the ledger runtime that hosts membership
// registries: address allocation, all-or-nothing transactions, a minute
// resolution clock, holder vaults and certificate proofs.
//
// Top-level transactions are serialized by a single lock. A registry never
// locks anything itself; it mutates its state inside Execute and registers
// undo steps so an aborted transaction leaves no trace.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutu-network/memberledger/internal/domain"
)

// AddressKind is the prefix of an allocated address.
type AddressKind string

const (
	ComponentAddress AddressKind = "component"
	ResourceAddress  AddressKind = "resource"
)

// Config controls runtime behavior.
type Config struct {
	MaxAddresses int              // Upper bound on allocated addresses (default: 65536)
	Clock        func() time.Time // Time source (default: time.Now)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAddresses: 1 << 16,
		Clock:        time.Now,
	}
}

// Runtime is the execution environment for registries.
type Runtime struct {
	mu        sync.Mutex
	cfg       Config
	journal   domain.Journal
	publisher domain.EntryPublisher
	logger    *zap.Logger

	addresses map[domain.Address]AddressKind
	books     map[domain.Address]*resourceBook
	vaults    map[domain.Address]*vault
}

// New creates a runtime. journal and publisher may be nil.
func New(cfg Config, journal domain.Journal, publisher domain.EntryPublisher, logger *zap.Logger) *Runtime {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxAddresses <= 0 {
		cfg.MaxAddresses = DefaultConfig().MaxAddresses
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		cfg:       cfg,
		journal:   journal,
		publisher: publisher,
		logger:    logger,
		addresses: make(map[domain.Address]AddressKind),
		books:     make(map[domain.Address]*resourceBook),
		vaults:    make(map[domain.Address]*vault),
	}
}

// Now returns the runtime clock truncated to the minute.
func (rt *Runtime) Now() time.Time {
	return rt.cfg.Clock().UTC().Truncate(time.Minute)
}

// Execute runs fn as caller.
//
// Without an open transaction in ctx, Execute opens one with caller as the
// signer, runs fn and commits the staged batch to the journal. Any error,
// including a journal failure or a panic, rolls every registered mutation
// back. With an open transaction, fn joins it and only the current caller
// changes for the duration of the call.
func (rt *Runtime) Execute(ctx context.Context, caller domain.Address, fn func(ctx context.Context, tx *Tx) error) error {
	if tx := TxFrom(ctx); tx != nil {
		prev := tx.caller
		tx.caller = caller
		defer func() { tx.caller = prev }()
		return fn(ctx, tx)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	tx := newTx(uuid.NewString(), caller, rt.Now())
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(withTx(ctx, tx), tx); err != nil {
		rt.logger.Debug("transaction aborted",
			zap.String("tx", tx.id),
			zap.String("signer", caller.String()),
			zap.Error(err))
		return err
	}

	if b := tx.batch(); rt.journal != nil && !b.Empty() {
		if err := rt.journal.Commit(ctx, b); err != nil {
			rt.logger.Error("journal commit failed", zap.String("tx", tx.id), zap.Error(err))
			return fmt.Errorf("commit transaction %s: %w", tx.id, err)
		}
	}
	committed = true

	for _, hook := range tx.afterCommit {
		hook()
	}
	rt.publish(ctx, tx.entries)
	return nil
}

// View runs fn with the runtime state stable. Inside a transaction fn runs
// directly; outside it waits for the running transaction to finish.
func (rt *Runtime) View(ctx context.Context, fn func()) {
	if TxFrom(ctx) != nil {
		fn()
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	fn()
}

func (rt *Runtime) publish(ctx context.Context, entries []domain.LedgerEntry) {
	if rt.publisher == nil {
		return
	}
	for _, e := range entries {
		if err := rt.publisher.Publish(ctx, e); err != nil {
			rt.logger.Warn("publish ledger entry",
				zap.String("type", string(e.Type)),
				zap.Error(err))
		}
	}
}

// ─── Address Allocation ─────────────────────────────────────────────────────

// AllocateAddress reserves a fresh address inside the open transaction.
func (rt *Runtime) AllocateAddress(ctx context.Context, kind AddressKind) (domain.Address, error) {
	tx := TxFrom(ctx)
	if tx == nil {
		return "", domain.ErrNoTransaction
	}
	if len(rt.addresses) >= rt.cfg.MaxAddresses {
		return "", fmt.Errorf("%d addresses in use: %w", len(rt.addresses), domain.ErrResourceAllocationExhausted)
	}

	addr := domain.Address(fmt.Sprintf("%s_%s", kind, uuid.NewString()))
	rt.addresses[addr] = kind
	tx.OnAbort(func() { delete(rt.addresses, addr) })
	return addr, nil
}

// AddressCount returns the number of allocated addresses.
func (rt *Runtime) AddressCount(ctx context.Context) int {
	var n int
	rt.View(ctx, func() { n = len(rt.addresses) })
	return n
}

// Restore loads addresses, minted certificate ids, vault balances and
// certificate holdings from a journal snapshot, and returns the minter of
// every restored resource keyed by address. It must run before any
// transaction touches the registry.
func (rt *Runtime) Restore(snap *domain.Snapshot) (map[domain.Address]*Minter, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for _, r := range snap.Resources {
		if _, taken := rt.books[r.Address]; taken {
			return nil, fmt.Errorf("resource %s already has a minter: %w", r.Address, domain.ErrAuthorizationDenied)
		}
	}

	minters := make(map[domain.Address]*Minter, len(snap.Resources))
	rt.addresses[snap.Registry.Address] = ComponentAddress
	for _, r := range snap.Resources {
		rt.addresses[r.Address] = ResourceAddress
		rt.books[r.Address] = newResourceBook(r.Kind)
		minters[r.Address] = &Minter{rt: rt, resource: r.Address, kind: r.Kind}
	}
	for _, h := range snap.Holdings {
		rt.vaultFor(h.Account).fungible[h.Resource] = h.Amount
	}
	for _, c := range snap.Certificates {
		if book, ok := rt.books[c.Resource]; ok {
			book.minted[c.Certificate.ID] = struct{}{}
		}
		if c.Holder.IsZero() {
			continue
		}
		rt.vaultFor(c.Holder).addCertificate(c.Resource, c.Certificate)
	}
	return minters, nil
}
