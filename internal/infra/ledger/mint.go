package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tutu-network/memberledger/internal/domain"
)

// ─── Minters ────────────────────────────────────────────────────────────────
//
// A Minter is the only way to create a bucket the runtime will accept. The
// runtime hands out one Minter per resource address, either when the
// resource is registered or when it is restored from the journal, and keeps
// the set of certificate ids each resource has minted.

// Minter creates buckets of one resource.
type Minter struct {
	rt       *Runtime
	resource domain.Address
	kind     domain.ResourceKind
}

type resourceBook struct {
	kind   domain.ResourceKind
	minted map[uint64]struct{}
}

func newResourceBook(kind domain.ResourceKind) *resourceBook {
	return &resourceBook{kind: kind, minted: make(map[uint64]struct{})}
}

func (b *resourceBook) wasMinted(id uint64) bool {
	if b == nil {
		return false
	}
	_, ok := b.minted[id]
	return ok
}

// RegisterResource claims the minter of an allocated resource address.
// Each address yields exactly one minter.
func (rt *Runtime) RegisterResource(ctx context.Context, addr domain.Address, kind domain.ResourceKind) (*Minter, error) {
	tx := TxFrom(ctx)
	if tx == nil {
		return nil, domain.ErrNoTransaction
	}
	if rt.addresses[addr] != ResourceAddress {
		return nil, fmt.Errorf("register %s: %w", addr, domain.ErrUnknownResource)
	}
	if _, taken := rt.books[addr]; taken {
		return nil, fmt.Errorf("resource %s already has a minter: %w", addr, domain.ErrAuthorizationDenied)
	}

	rt.books[addr] = newResourceBook(kind)
	tx.OnAbort(func() { delete(rt.books, addr) })
	return &Minter{rt: rt, resource: addr, kind: kind}, nil
}

// Resource returns the address the minter creates buckets of.
func (m *Minter) Resource() domain.Address { return m.resource }

// Credits creates a bucket of amount units. Supply accounting is the
// caller's job.
func (m *Minter) Credits(ctx context.Context, amount uint64) (domain.CreditBucket, error) {
	tx := TxFrom(ctx)
	if tx == nil {
		return domain.CreditBucket{}, domain.ErrNoTransaction
	}
	if !m.kind.Fungible() {
		return domain.CreditBucket{}, fmt.Errorf("credits of %s: %w", m.kind, domain.ErrWrongResourceKind)
	}

	b := domain.CreditBucket{
		Handle:   uuid.NewString(),
		Resource: m.resource,
		Kind:     m.kind,
		Amount:   amount,
	}
	tx.credits[b.Handle] = b
	return b, nil
}

// Certificate creates the bucket holding c and records its id as minted.
func (m *Minter) Certificate(ctx context.Context, c domain.Certificate) (domain.CertificateBucket, error) {
	tx := TxFrom(ctx)
	if tx == nil {
		return domain.CertificateBucket{}, domain.ErrNoTransaction
	}
	if m.kind.Fungible() {
		return domain.CertificateBucket{}, fmt.Errorf("certificate of %s: %w", m.kind, domain.ErrWrongResourceKind)
	}
	book := m.rt.books[m.resource]
	if book.wasMinted(c.ID) {
		return domain.CertificateBucket{}, fmt.Errorf("certificate %d: %w", c.ID, domain.ErrDuplicateIdentity)
	}

	book.minted[c.ID] = struct{}{}
	tx.OnAbort(func() { delete(book.minted, c.ID) })

	b := domain.CertificateBucket{
		Handle:      uuid.NewString(),
		Resource:    m.resource,
		Certificate: c,
	}
	tx.certBuckets[b.Handle] = b
	return b, nil
}
