package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/tutu-network/memberledger/internal/domain"
)

// Tx is one atomic unit of work. Mutations register an undo step with
// OnAbort and stage their durable form with the Put* methods; the runtime
// either commits the staged batch or replays the undo steps in reverse.
type Tx struct {
	id     string
	signer domain.Address
	caller domain.Address
	now    time.Time

	undo        []func()
	afterCommit []func()
	proofs      map[string]domain.CertificateProof
	credits     map[string]domain.CreditBucket
	certBuckets map[string]domain.CertificateBucket

	registries   staged[domain.Address, domain.RegistryState]
	resources    staged[domain.Address, domain.ResourceState]
	certificates staged[certKey, domain.CertificateRecord]
	holders      staged[certKey, domain.CertificateHolding]
	holdings     staged[holdingKey, domain.Holding]
	entries      []domain.LedgerEntry
}

type certKey struct {
	resource domain.Address
	id       uint64
}

type holdingKey struct {
	account  domain.Address
	resource domain.Address
}

func newTx(id string, signer domain.Address, now time.Time) *Tx {
	return &Tx{
		id:          id,
		signer:      signer,
		caller:      signer,
		now:         now,
		proofs:      make(map[string]domain.CertificateProof),
		credits:     make(map[string]domain.CreditBucket),
		certBuckets: make(map[string]domain.CertificateBucket),
	}
}

// ID returns the transaction id.
func (tx *Tx) ID() string { return tx.id }

// Signer is the account or component that opened the transaction.
func (tx *Tx) Signer() domain.Address { return tx.signer }

// Caller is the component currently executing inside the transaction.
func (tx *Tx) Caller() domain.Address { return tx.caller }

// Now is the transaction timestamp, truncated to the minute.
func (tx *Tx) Now() time.Time { return tx.now }

// OnAbort registers a step that reverts an in-memory mutation.
func (tx *Tx) OnAbort(fn func()) { tx.undo = append(tx.undo, fn) }

// AfterCommit registers a hook that runs once the transaction is durable.
func (tx *Tx) AfterCommit(fn func()) { tx.afterCommit = append(tx.afterCommit, fn) }

// PutRegistry stages the latest state of a registry.
func (tx *Tx) PutRegistry(s domain.RegistryState) { tx.registries.put(s.Address, s) }

// PutResource stages the latest state of a resource kind.
func (tx *Tx) PutResource(s domain.ResourceState) { tx.resources.put(s.Address, s) }

// PutCertificate stages a certificate record.
func (tx *Tx) PutCertificate(r domain.CertificateRecord) {
	tx.certificates.put(certKey{r.Resource, r.Certificate.ID}, r)
}

func (tx *Tx) putHolder(h domain.CertificateHolding) {
	tx.holders.put(certKey{h.Resource, h.CertificateID}, h)
}

func (tx *Tx) putHolding(h domain.Holding) {
	tx.holdings.put(holdingKey{h.Account, h.Resource}, h)
}

// Record appends a ledger entry stamped with the transaction time.
func (tx *Tx) Record(e domain.LedgerEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = tx.now
	}
	tx.entries = append(tx.entries, e)
}

// Entries returns the entries recorded so far.
func (tx *Tx) Entries() []domain.LedgerEntry {
	out := make([]domain.LedgerEntry, len(tx.entries))
	copy(out, tx.entries)
	return out
}

// takeCredit consumes a credit bucket minted in this transaction and
// returns the runtime's copy of it.
func (tx *Tx) takeCredit(b domain.CreditBucket) (domain.CreditBucket, error) {
	held, ok := tx.credits[b.Handle]
	if !ok || held != b {
		return domain.CreditBucket{}, fmt.Errorf("%d %s: %w", b.Amount, b.Resource, domain.ErrInvalidBucket)
	}
	delete(tx.credits, b.Handle)
	return held, nil
}

// takeCertificate consumes a certificate bucket minted in this transaction.
func (tx *Tx) takeCertificate(b domain.CertificateBucket) (domain.CertificateBucket, error) {
	held, ok := tx.certBuckets[b.Handle]
	if !ok || held.Resource != b.Resource || held.Certificate.ID != b.Certificate.ID {
		return domain.CertificateBucket{}, fmt.Errorf("certificate %d of %s: %w", b.Certificate.ID, b.Resource, domain.ErrInvalidBucket)
	}
	delete(tx.certBuckets, b.Handle)
	return held, nil
}

func (tx *Tx) batch() domain.Batch {
	return domain.Batch{
		Registries:         tx.registries.vals,
		Resources:          tx.resources.vals,
		Certificates:       tx.certificates.vals,
		CertificateHolders: tx.holders.vals,
		Holdings:           tx.holdings.vals,
		Entries:            tx.entries,
	}
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// staged keeps the last value per key in first-insertion order.
type staged[K comparable, V any] struct {
	idx  map[K]int
	vals []V
}

func (s *staged[K, V]) put(k K, v V) {
	if s.idx == nil {
		s.idx = make(map[K]int)
	}
	if i, ok := s.idx[k]; ok {
		s.vals[i] = v
		return
	}
	s.idx[k] = len(s.vals)
	s.vals = append(s.vals, v)
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type txKey struct{}

func withTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom returns the transaction carried by ctx, or nil.
func TxFrom(ctx context.Context) *Tx {
	tx, _ := ctx.Value(txKey{}).(*Tx)
	return tx
}
