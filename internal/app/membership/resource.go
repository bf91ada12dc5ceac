package membership

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/tutu-network/memberledger/internal/domain"
	"github.com/tutu-network/memberledger/internal/infra/ledger"
)

// ResourceManager owns one mintable resource kind: its supply counter, its
// mint rule and, for the certificate kind, the set of minted certificates.
// Buckets come from the runtime minter the manager holds, so no other code
// can create units of its resource.
//
// The mint rule permits only calls made while minter is the current caller
// of the transaction. The management rule permits level updates only when
// owner signed the transaction.
type ResourceManager struct {
	state  domain.ResourceState
	mint   *ledger.Minter
	minter domain.Address
	owner  domain.Address
	certs  map[uint64]domain.Certificate
}

func newResourceManager(mint *ledger.Minter, kind domain.ResourceKind, registry, owner domain.Address) *ResourceManager {
	m := &ResourceManager{
		state: domain.ResourceState{
			Address:  mint.Resource(),
			Kind:     kind,
			Registry: registry,
			Metadata: domain.DefaultMetadata(kind),
		},
		mint:   mint,
		minter: registry,
		owner:  owner,
	}
	if !kind.Fungible() {
		m.certs = make(map[uint64]domain.Certificate)
	}
	return m
}

// Address returns the resource address.
func (m *ResourceManager) Address() domain.Address { return m.state.Address }

// Kind returns the resource kind.
func (m *ResourceManager) Kind() domain.ResourceKind { return m.state.Kind }

// Metadata returns the locked metadata.
func (m *ResourceManager) Metadata() domain.ResourceMetadata { return m.state.Metadata }

// TotalSupply returns the units minted so far. Callers outside a
// transaction must hold a runtime view.
func (m *ResourceManager) TotalSupply() uint64 { return m.state.TotalSupply }

func (m *ResourceManager) authorizeMint(tx *ledger.Tx) error {
	if tx.Caller() != m.minter {
		return fmt.Errorf("mint %s called by %s: %w", m.state.Kind, tx.Caller(), domain.ErrAuthorizationDenied)
	}
	return nil
}

func (m *ResourceManager) grow(tx *ledger.Tx, n uint64) error {
	prev := m.state.TotalSupply
	if prev > math.MaxUint64-n {
		return fmt.Errorf("mint %d %s: %w", n, m.state.Kind, domain.ErrSupplyOverflow)
	}
	m.state.TotalSupply = prev + n
	tx.OnAbort(func() { m.state.TotalSupply = prev })
	tx.PutResource(m.state)
	return nil
}

// Mint creates amount fresh units of a fungible kind.
// A zero amount yields a valid empty bucket.
func (m *ResourceManager) Mint(ctx context.Context, amount uint64) (domain.CreditBucket, error) {
	tx := ledger.TxFrom(ctx)
	if tx == nil {
		return domain.CreditBucket{}, domain.ErrNoTransaction
	}
	if err := m.authorizeMint(tx); err != nil {
		return domain.CreditBucket{}, err
	}
	if !m.state.Kind.Fungible() {
		return domain.CreditBucket{}, fmt.Errorf("mint amount of %s: %w", m.state.Kind, domain.ErrWrongResourceKind)
	}
	if err := m.grow(tx, amount); err != nil {
		return domain.CreditBucket{}, err
	}
	return m.mint.Credits(ctx, amount)
}

// MintIdentified creates the certificate c. The id must not have been
// minted before.
func (m *ResourceManager) MintIdentified(ctx context.Context, c domain.Certificate) (domain.CertificateBucket, error) {
	tx := ledger.TxFrom(ctx)
	if tx == nil {
		return domain.CertificateBucket{}, domain.ErrNoTransaction
	}
	if err := m.authorizeMint(tx); err != nil {
		return domain.CertificateBucket{}, err
	}
	if m.certs == nil {
		return domain.CertificateBucket{}, fmt.Errorf("mint identified %s: %w", m.state.Kind, domain.ErrWrongResourceKind)
	}
	if _, exists := m.certs[c.ID]; exists {
		return domain.CertificateBucket{}, fmt.Errorf("certificate %d: %w", c.ID, domain.ErrDuplicateIdentity)
	}
	if err := m.grow(tx, 1); err != nil {
		return domain.CertificateBucket{}, err
	}
	b, err := m.mint.Certificate(ctx, c)
	if err != nil {
		return domain.CertificateBucket{}, err
	}

	m.certs[c.ID] = c
	tx.OnAbort(func() { delete(m.certs, c.ID) })
	tx.PutCertificate(domain.CertificateRecord{Resource: m.state.Address, Certificate: c})
	return b, nil
}

// UpdateLevel changes the level of a minted certificate. Only the owner
// credential configured at initialization may do this.
func (m *ResourceManager) UpdateLevel(ctx context.Context, id uint64, level string) (domain.Certificate, error) {
	tx := ledger.TxFrom(ctx)
	if tx == nil {
		return domain.Certificate{}, domain.ErrNoTransaction
	}
	if m.certs == nil {
		return domain.Certificate{}, fmt.Errorf("update level of %s: %w", m.state.Kind, domain.ErrWrongResourceKind)
	}
	if m.owner.IsZero() || tx.Signer() != m.owner {
		return domain.Certificate{}, fmt.Errorf("update level signed by %s: %w", tx.Signer(), domain.ErrAuthorizationDenied)
	}
	prev, ok := m.certs[id]
	if !ok {
		return domain.Certificate{}, fmt.Errorf("certificate %d: %w", id, domain.ErrCertificateNotFound)
	}

	next := prev
	next.Level = level
	m.certs[id] = next
	tx.OnAbort(func() { m.certs[id] = prev })
	tx.PutCertificate(domain.CertificateRecord{Resource: m.state.Address, Certificate: next})
	return next, nil
}

// Certificate returns a minted certificate.
func (m *ResourceManager) Certificate(id uint64) (domain.Certificate, bool) {
	c, ok := m.certs[id]
	return c, ok
}

// certificateIDs returns the minted ids in ascending order.
func (m *ResourceManager) certificateIDs() []uint64 {
	ids := make([]uint64, 0, len(m.certs))
	for id := range m.certs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
