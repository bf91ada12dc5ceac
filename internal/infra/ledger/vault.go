package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/tutu-network/memberledger/internal/domain"
)

// vault holds everything deposited into one account.
type vault struct {
	fungible map[domain.Address]uint64
	cards    map[domain.Address]map[uint64]struct{}
}

func newVault() *vault {
	return &vault{
		fungible: make(map[domain.Address]uint64),
		cards:    make(map[domain.Address]map[uint64]struct{}),
	}
}

func (v *vault) addCertificate(resource domain.Address, c domain.Certificate) {
	ids, ok := v.cards[resource]
	if !ok {
		ids = make(map[uint64]struct{})
		v.cards[resource] = ids
	}
	ids[c.ID] = struct{}{}
}

func (v *vault) certificateIDs(resource domain.Address) []uint64 {
	ids := make([]uint64, 0, len(v.cards[resource]))
	for id := range v.cards[resource] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (rt *Runtime) vaultFor(account domain.Address) *vault {
	v, ok := rt.vaults[account]
	if !ok {
		v = newVault()
		rt.vaults[account] = v
	}
	return v
}

// ─── Deposits ───────────────────────────────────────────────────────────────

// Deposit puts a credit bucket into an account vault. The bucket must have
// been minted in the current transaction and is consumed.
func (rt *Runtime) Deposit(ctx context.Context, account domain.Address, b domain.CreditBucket) error {
	tx := TxFrom(ctx)
	if tx == nil {
		return domain.ErrNoTransaction
	}
	if account.IsZero() {
		return domain.ErrInvalidAccount
	}
	b, err := tx.takeCredit(b)
	if err != nil {
		return err
	}
	if b.IsEmpty() {
		return nil
	}

	v := rt.vaultFor(account)
	prev := v.fungible[b.Resource]
	if prev > math.MaxUint64-b.Amount {
		return fmt.Errorf("deposit %d into %s: %w", b.Amount, account, domain.ErrSupplyOverflow)
	}
	v.fungible[b.Resource] = prev + b.Amount
	tx.OnAbort(func() { v.fungible[b.Resource] = prev })

	tx.putHolding(domain.Holding{Account: account, Resource: b.Resource, Amount: prev + b.Amount})
	tx.Record(domain.LedgerEntry{
		Type:     domain.EntryDeposit,
		Resource: b.Resource,
		Account:  account,
		Amount:   b.Amount,
	})
	return nil
}

// DepositCertificate puts a certificate bucket into an account vault. The
// bucket must have been minted in the current transaction and is consumed.
func (rt *Runtime) DepositCertificate(ctx context.Context, account domain.Address, b domain.CertificateBucket) error {
	tx := TxFrom(ctx)
	if tx == nil {
		return domain.ErrNoTransaction
	}
	if account.IsZero() {
		return domain.ErrInvalidAccount
	}
	b, err := tx.takeCertificate(b)
	if err != nil {
		return err
	}

	v := rt.vaultFor(account)
	v.addCertificate(b.Resource, b.Certificate)
	id := b.Certificate.ID
	tx.OnAbort(func() { delete(v.cards[b.Resource], id) })

	tx.putHolder(domain.CertificateHolding{Resource: b.Resource, CertificateID: id, Holder: account})
	tx.Record(domain.LedgerEntry{
		Type:          domain.EntryDeposit,
		Resource:      b.Resource,
		Account:       account,
		Amount:        1,
		CertificateID: id,
	})
	return nil
}

// Balance returns an account's holding of a fungible resource.
func (rt *Runtime) Balance(ctx context.Context, account, resource domain.Address) uint64 {
	var n uint64
	rt.View(ctx, func() {
		if v, ok := rt.vaults[account]; ok {
			n = v.fungible[resource]
		}
	})
	return n
}

// CertificateIDs returns the ids of the certificates an account holds.
func (rt *Runtime) CertificateIDs(ctx context.Context, account, resource domain.Address) []uint64 {
	var ids []uint64
	rt.View(ctx, func() {
		if v, ok := rt.vaults[account]; ok {
			ids = v.certificateIDs(resource)
		}
	})
	return ids
}

// ─── Proofs ─────────────────────────────────────────────────────────────────

// CreateProof proves that account holds at least one certificate of
// resource. Only the transaction signer may create proofs from its own
// vault, and the proof is forgotten when the transaction ends.
func (rt *Runtime) CreateProof(ctx context.Context, account, resource domain.Address) (domain.CertificateProof, error) {
	tx := TxFrom(ctx)
	if tx == nil {
		return domain.CertificateProof{}, domain.ErrNoTransaction
	}
	if account != tx.signer {
		return domain.CertificateProof{}, fmt.Errorf("proof from %s signed by %s: %w", account, tx.signer, domain.ErrAuthorizationDenied)
	}

	var ids []uint64
	if v, ok := rt.vaults[account]; ok {
		book := rt.books[resource]
		for _, id := range v.certificateIDs(resource) {
			if book.wasMinted(id) {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return domain.CertificateProof{}, fmt.Errorf("%s holds no %s: %w", account, resource, domain.ErrAuthorizationDenied)
	}

	p := domain.CertificateProof{
		ID:             uuid.NewString(),
		Account:        account,
		Resource:       resource,
		CertificateIDs: ids,
	}
	tx.proofs[p.ID] = p
	return p, nil
}

// VerifyProof checks that p was issued in the current transaction for
// resource and that its account still holds one of the proven certificates,
// each of which resource must have minted. It returns the runtime's own copy
// of the proof; fields of p beyond its id are not trusted.
func (rt *Runtime) VerifyProof(ctx context.Context, p domain.CertificateProof, resource domain.Address) (domain.CertificateProof, error) {
	tx := TxFrom(ctx)
	if tx == nil {
		return domain.CertificateProof{}, fmt.Errorf("%w: %w", domain.ErrAuthorizationDenied, domain.ErrNoTransaction)
	}
	if p.IsZero() {
		return domain.CertificateProof{}, fmt.Errorf("no certificate proof presented: %w", domain.ErrAuthorizationDenied)
	}

	issued, ok := tx.proofs[p.ID]
	if !ok {
		return domain.CertificateProof{}, fmt.Errorf("proof %s not issued in this transaction: %w", p.ID, domain.ErrAuthorizationDenied)
	}
	if issued.Resource != resource {
		return domain.CertificateProof{}, fmt.Errorf("proof %s is for %s, want %s: %w", p.ID, issued.Resource, resource, domain.ErrAuthorizationDenied)
	}

	book := rt.books[resource]
	if v, ok := rt.vaults[issued.Account]; ok {
		for _, id := range issued.CertificateIDs {
			if _, held := v.cards[resource][id]; held && book.wasMinted(id) {
				return issued, nil
			}
		}
	}
	return domain.CertificateProof{}, fmt.Errorf("%s no longer holds the proven certificates: %w", issued.Account, domain.ErrAuthorizationDenied)
}
