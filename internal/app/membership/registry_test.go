package membership

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tutu-network/memberledger/internal/domain"
	"github.com/tutu-network/memberledger/internal/infra/ledger"
	"github.com/tutu-network/memberledger/internal/infra/observability"
)

// memJournal records committed batches in memory.
type memJournal struct {
	mu      sync.Mutex
	batches []domain.Batch
	fail    error
}

func (j *memJournal) Commit(_ context.Context, b domain.Batch) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.batches = append(j.batches, b)
	return nil
}

func (j *memJournal) LoadSnapshot(context.Context, domain.Address) (*domain.Snapshot, error) {
	return nil, domain.ErrRegistryNotFound
}

func (j *memJournal) ListRegistries(context.Context) ([]domain.Address, error) {
	return nil, nil
}

func (j *memJournal) setFail(err error) {
	j.mu.Lock()
	j.fail = err
	j.mu.Unlock()
}

func (j *memJournal) last() domain.Batch {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.batches[len(j.batches)-1]
}

var testNow = time.Date(2026, 3, 14, 15, 9, 26, 535, time.UTC)

const (
	owner   domain.Address = "account_owner"
	alice   domain.Address = "account_alice"
	bob     domain.Address = "account_bob"
	mallory domain.Address = "account_mallory"
)

func newTestRuntime(t *testing.T, j domain.Journal) *ledger.Runtime {
	t.Helper()
	cfg := ledger.DefaultConfig()
	cfg.Clock = func() time.Time { return testNow }
	return ledger.New(cfg, j, nil, nil)
}

func newTestRegistry(t *testing.T, rt *ledger.Runtime, policy Policy) *Registry {
	t.Helper()
	reg, err := Initialize(context.Background(), rt, owner, Options{Policy: policy})
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	return reg
}

func newTestService(t *testing.T) (*Service, *ledger.Runtime, *memJournal) {
	t.Helper()
	j := &memJournal{}
	rt := newTestRuntime(t, j)
	reg := newTestRegistry(t, rt, Policy{})
	return NewService(rt, reg, ServiceConfig{}, nil), rt, j
}

// holderOf mints a certificate and deposits it into account without going
// through the service.
func holderOf(t *testing.T, rt *ledger.Runtime, reg *Registry, account domain.Address) domain.Certificate {
	t.Helper()
	var cert domain.Certificate
	err := rt.Execute(context.Background(), account, func(ctx context.Context, tx *ledger.Tx) error {
		b, err := reg.MintCertificate(ctx)
		if err != nil {
			return err
		}
		cert = b.Certificate
		return rt.DepositCertificate(ctx, account, b)
	})
	if err != nil {
		t.Fatalf("mint certificate for %s: %v", account, err)
	}
	return cert
}

// withProof runs fn in a transaction signed by account with a fresh proof
// of account's membership.
func withProof(rt *ledger.Runtime, reg *Registry, account domain.Address, fn func(ctx context.Context, p domain.CertificateProof) error) error {
	return rt.Execute(context.Background(), account, func(ctx context.Context, tx *ledger.Tx) error {
		p, err := rt.CreateProof(ctx, account, reg.CardResource())
		if err != nil {
			return err
		}
		return fn(ctx, p)
	})
}

// ─── Initialize ─────────────────────────────────────────────────────────────

func TestInitialize_AllocatesAddresses(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})

	if got := rt.AddressCount(ctx); got != 4 {
		t.Errorf("AddressCount() = %d, want 4", got)
	}
	seen := map[domain.Address]bool{}
	for _, a := range []domain.Address{reg.Address(), reg.RewardResource(), reg.BonusResource(), reg.CardResource()} {
		if a.IsZero() {
			t.Fatal("registry has an empty address")
		}
		if seen[a] {
			t.Errorf("address %s allocated twice", a)
		}
		seen[a] = true
	}
	if reg.Owner() != owner {
		t.Errorf("Owner() = %s, want %s", reg.Owner(), owner)
	}

	s := reg.Supply(ctx)
	if s.RewardSupply != 0 || s.BonusSupply != 0 || s.CertificateSupply != 0 || s.FeeReserve != 0 {
		t.Errorf("fresh registry supply = %+v, want zeros", s)
	}
	if got := reg.State(ctx).CreatedAt; !got.Equal(testNow.Truncate(time.Minute)) {
		t.Errorf("CreatedAt = %v, want minute-truncated clock", got)
	}
}

func TestInitialize_MetadataIsLocked(t *testing.T) {
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})

	if got := reg.reward.Metadata().Symbol; got != "REW" {
		t.Errorf("reward symbol = %q, want REW", got)
	}
	if got := reg.cards.Metadata().Symbol; got != "MEM_CARD" {
		t.Errorf("card symbol = %q, want MEM_CARD", got)
	}
	for _, m := range reg.managers() {
		if m.Metadata().Divisibility != 0 {
			t.Errorf("%s divisibility = %d, want 0", m.Kind(), m.Metadata().Divisibility)
		}
	}
}

func TestInitialize_RequiresOwner(t *testing.T) {
	rt := newTestRuntime(t, nil)
	_, err := Initialize(context.Background(), rt, "", Options{})
	if !errors.Is(err, domain.ErrInvalidAccount) {
		t.Errorf("Initialize(\"\") error = %v, want ErrInvalidAccount", err)
	}
}

func TestInitialize_AllocationExhausted(t *testing.T) {
	ctx := context.Background()
	rt := ledger.New(ledger.Config{MaxAddresses: 3}, nil, nil, nil)

	_, err := Initialize(ctx, rt, owner, Options{})
	if !errors.Is(err, domain.ErrResourceAllocationExhausted) {
		t.Fatalf("Initialize() error = %v, want ErrResourceAllocationExhausted", err)
	}
	if got := rt.AddressCount(ctx); got != 0 {
		t.Errorf("AddressCount() after failed Initialize = %d, want 0", got)
	}
}

func TestInitialize_Independent(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	first := newTestRegistry(t, rt, Policy{})
	second := newTestRegistry(t, rt, Policy{})

	if first.Address() == second.Address() {
		t.Fatal("two registries share an address")
	}

	holderOf(t, rt, first, alice)
	holderOf(t, rt, first, alice)
	if err := withProof(rt, first, alice, func(ctx context.Context, p domain.CertificateProof) error {
		_, err := first.IssueReward(ctx, domain.SayHi{Amount: 5}, p)
		return err
	}); err != nil {
		t.Fatalf("IssueReward() error: %v", err)
	}

	if got := second.CertificatesIssued(ctx); got != 0 {
		t.Errorf("second CertificatesIssued() = %d, want 0", got)
	}
	if got := second.RewardSupply(ctx); got != 0 {
		t.Errorf("second RewardSupply() = %d, want 0", got)
	}
	if c := holderOf(t, rt, second, bob); c.ID != 1 {
		t.Errorf("second registry first id = %d, want 1", c.ID)
	}
}

func TestInitialize_ProofOfOtherRegistryDenied(t *testing.T) {
	rt := newTestRuntime(t, nil)
	first := newTestRegistry(t, rt, Policy{})
	second := newTestRegistry(t, rt, Policy{})
	holderOf(t, rt, first, alice)

	err := withProof(rt, first, alice, func(ctx context.Context, p domain.CertificateProof) error {
		_, err := second.IssueReward(ctx, domain.SayHi{Amount: 1}, p)
		return err
	})
	if !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("cross-registry proof error = %v, want ErrAuthorizationDenied", err)
	}
}

// ─── MintCertificate ────────────────────────────────────────────────────────

func TestMintCertificate_IDsStrictlyIncreasing(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})

	for want := uint64(1); want <= 10; want++ {
		b, err := reg.MintCertificate(ctx)
		if err != nil {
			t.Fatalf("MintCertificate() #%d error: %v", want, err)
		}
		if b.Certificate.ID != want {
			t.Errorf("certificate id = %d, want %d", b.Certificate.ID, want)
		}
		if b.Certificate.Level != domain.InitialLevel {
			t.Errorf("level = %q, want %q", b.Certificate.Level, domain.InitialLevel)
		}
		if !b.Certificate.IssuedAt.Equal(testNow.Truncate(time.Minute)) {
			t.Errorf("IssuedAt = %v, want minute-truncated clock", b.Certificate.IssuedAt)
		}
		if b.Resource != reg.CardResource() {
			t.Errorf("bucket resource = %s, want %s", b.Resource, reg.CardResource())
		}
	}

	if got := reg.CertificateSupply(ctx); got != 10 {
		t.Errorf("CertificateSupply() = %d, want 10", got)
	}
	if got := len(reg.Certificates(ctx)); got != 10 {
		t.Errorf("len(Certificates()) = %d, want 10", got)
	}
}

func TestMintCertificate_DuplicateIdentityRollsBack(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})

	// Occupy id 2 out of band so the counter collides on the second mint.
	err := rt.Execute(ctx, reg.Address(), func(ctx context.Context, tx *ledger.Tx) error {
		_, err := reg.cards.MintIdentified(ctx, domain.Certificate{ID: 2, Level: domain.InitialLevel})
		return err
	})
	if err != nil {
		t.Fatalf("MintIdentified(2) error: %v", err)
	}

	if _, err := reg.MintCertificate(ctx); err != nil {
		t.Fatalf("first MintCertificate() error: %v", err)
	}
	_, err = reg.MintCertificate(ctx)
	if !errors.Is(err, domain.ErrDuplicateIdentity) {
		t.Fatalf("second MintCertificate() error = %v, want ErrDuplicateIdentity", err)
	}

	if got := reg.CertificatesIssued(ctx); got != 1 {
		t.Errorf("CertificatesIssued() = %d, want 1 (counter rolled back)", got)
	}
	if got := reg.CertificateSupply(ctx); got != 2 {
		t.Errorf("CertificateSupply() = %d, want 2", got)
	}
}

// ─── IssueReward ────────────────────────────────────────────────────────────

func TestIssueReward_EndToEnd(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})

	cert := holderOf(t, rt, reg, alice)
	if cert.ID != 1 || cert.Level != "0" {
		t.Fatalf("certificate = %+v, want id 1 level 0", cert)
	}

	var reward, bonus domain.CreditBucket
	err := withProof(rt, reg, alice, func(ctx context.Context, p domain.CertificateProof) error {
		b, err := reg.IssueReward(ctx, domain.AttendEvent{Event: "my_nice_event", Amount: 413}, p)
		if err != nil {
			return err
		}
		if b.Amount != 413 || b.Kind != domain.KindRewardCredit {
			t.Errorf("AttendEvent bucket = %+v, want 413 reward credits", b)
		}
		reward, bonus, err = reg.IssueDualReward(ctx, p)
		return err
	})
	if err != nil {
		t.Fatalf("issue rewards: %v", err)
	}

	if reward.Amount != 13 || reward.Resource != reg.RewardResource() {
		t.Errorf("dual reward bucket = %+v, want 13 reward credits", reward)
	}
	if bonus.Amount != 7 || bonus.Resource != reg.BonusResource() {
		t.Errorf("dual bonus bucket = %+v, want 7 bonus credits", bonus)
	}
	if got := reg.RewardSupply(ctx); got != 426 {
		t.Errorf("RewardSupply() = %d, want 426", got)
	}
	if got := reg.BonusSupply(ctx); got != 7 {
		t.Errorf("BonusSupply() = %d, want 7", got)
	}
}

func TestIssueReward_SupplyConservation(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})
	holderOf(t, rt, reg, alice)

	tasks := []domain.Task{
		domain.Vote{Poll: "budget", Amount: 10},
		domain.AttendEvent{Event: "meetup", Amount: 25},
		domain.SayHi{Amount: 1},
		domain.Reasoned{Amount: 1 << 40, Reason: "kept the lights on"},
		domain.SayHi{Amount: 0},
	}
	const duals = 3

	var wantReward uint64
	err := withProof(rt, reg, alice, func(ctx context.Context, p domain.CertificateProof) error {
		for _, task := range tasks {
			b, err := reg.IssueReward(ctx, task, p)
			if err != nil {
				return err
			}
			if b.Amount != task.Payout() {
				t.Errorf("%s bucket amount = %d, want %d", task.Kind(), b.Amount, task.Payout())
			}
			wantReward += task.Payout()
		}
		for i := 0; i < duals; i++ {
			if _, _, err := reg.IssueDualReward(ctx, p); err != nil {
				return err
			}
			wantReward += DualRewardCredits
		}
		return nil
	})
	if err != nil {
		t.Fatalf("issue rewards: %v", err)
	}

	if got := reg.RewardSupply(ctx); got != wantReward {
		t.Errorf("RewardSupply() = %d, want %d", got, wantReward)
	}
	if got := reg.BonusSupply(ctx); got != duals*DualBonusCredits {
		t.Errorf("BonusSupply() = %d, want %d", got, duals*DualBonusCredits)
	}
}

func TestIssueReward_ZeroAmount(t *testing.T) {
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})
	holderOf(t, rt, reg, alice)

	err := withProof(rt, reg, alice, func(ctx context.Context, p domain.CertificateProof) error {
		b, err := reg.IssueReward(ctx, domain.SayHi{Amount: 0}, p)
		if err != nil {
			return err
		}
		if !b.IsEmpty() || b.Resource != reg.RewardResource() {
			t.Errorf("SayHi(0) bucket = %+v, want empty reward bucket", b)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("SayHi(0) error: %v", err)
	}
}

func TestIssueReward_AuthorizationGate(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})
	holderOf(t, rt, reg, alice)

	tests := []struct {
		name  string
		proof domain.CertificateProof
	}{
		{"no proof", domain.CertificateProof{}},
		{"forged proof", domain.CertificateProof{ID: "forged", Account: alice, Resource: reg.CardResource(), CertificateIDs: []uint64{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rt.Execute(ctx, alice, func(ctx context.Context, tx *ledger.Tx) error {
				_, err := reg.IssueReward(ctx, domain.SayHi{Amount: 50}, tt.proof)
				return err
			})
			if !errors.Is(err, domain.ErrAuthorizationDenied) {
				t.Errorf("IssueReward() error = %v, want ErrAuthorizationDenied", err)
			}
			err = rt.Execute(ctx, alice, func(ctx context.Context, tx *ledger.Tx) error {
				_, _, err := reg.IssueDualReward(ctx, tt.proof)
				return err
			})
			if !errors.Is(err, domain.ErrAuthorizationDenied) {
				t.Errorf("IssueDualReward() error = %v, want ErrAuthorizationDenied", err)
			}
		})
	}

	if got := reg.RewardSupply(ctx); got != 0 {
		t.Errorf("RewardSupply() = %d, want 0", got)
	}
	if got := reg.BonusSupply(ctx); got != 0 {
		t.Errorf("BonusSupply() = %d, want 0", got)
	}
}

func TestIssueReward_ProofDoesNotOutliveTransaction(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})
	holderOf(t, rt, reg, alice)

	var stale domain.CertificateProof
	if err := withProof(rt, reg, alice, func(_ context.Context, p domain.CertificateProof) error {
		stale = p
		return nil
	}); err != nil {
		t.Fatalf("CreateProof() error: %v", err)
	}

	if _, err := reg.IssueReward(ctx, domain.SayHi{Amount: 1}, stale); !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("stale proof outside transaction error = %v, want ErrAuthorizationDenied", err)
	}
	err := rt.Execute(ctx, alice, func(ctx context.Context, tx *ledger.Tx) error {
		_, err := reg.IssueReward(ctx, domain.SayHi{Amount: 1}, stale)
		return err
	})
	if !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("stale proof in new transaction error = %v, want ErrAuthorizationDenied", err)
	}
	if got := reg.RewardSupply(ctx); got != 0 {
		t.Errorf("RewardSupply() = %d, want 0", got)
	}
}

func TestIssueReward_Cap(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{MaxRewardAmount: 100})
	holderOf(t, rt, reg, alice)

	err := withProof(rt, reg, alice, func(ctx context.Context, p domain.CertificateProof) error {
		_, err := reg.IssueReward(ctx, domain.Reasoned{Amount: 101, Reason: "too generous"}, p)
		return err
	})
	if !errors.Is(err, domain.ErrAmountExceedsCap) {
		t.Fatalf("IssueReward(101) error = %v, want ErrAmountExceedsCap", err)
	}
	if got := reg.RewardSupply(ctx); got != 0 {
		t.Errorf("RewardSupply() after capped reward = %d, want 0", got)
	}

	err = withProof(rt, reg, alice, func(ctx context.Context, p domain.CertificateProof) error {
		_, err := reg.IssueReward(ctx, domain.Vote{Poll: "cap", Amount: 100}, p)
		return err
	})
	if err != nil {
		t.Fatalf("IssueReward(100) error: %v", err)
	}
	if got := reg.State(ctx).MaxRewardAmount; got != 100 {
		t.Errorf("stored MaxRewardAmount = %d, want 100", got)
	}
}

func TestIssueReward_NilTask(t *testing.T) {
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})
	_, err := reg.IssueReward(context.Background(), nil, domain.CertificateProof{})
	if !errors.Is(err, domain.ErrUnknownTask) {
		t.Errorf("IssueReward(nil) error = %v, want ErrUnknownTask", err)
	}
}

// ─── DepositFee ─────────────────────────────────────────────────────────────

func TestDepositFee_Permissionless(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})

	if got := reg.FeeReserve(ctx); got != 0 {
		t.Fatalf("initial FeeReserve() = %d, want 0", got)
	}
	err := rt.Execute(ctx, mallory, func(ctx context.Context, tx *ledger.Tx) error {
		return reg.DepositFee(ctx, 100)
	})
	if err != nil {
		t.Fatalf("DepositFee(100) error: %v", err)
	}
	if got := reg.FeeReserve(ctx); got != 100 {
		t.Errorf("FeeReserve() = %d, want 100", got)
	}
}

// ─── ResourceManager ────────────────────────────────────────────────────────

func TestResourceManager_DirectMintDenied(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})

	err := rt.Execute(ctx, mallory, func(ctx context.Context, tx *ledger.Tx) error {
		_, err := reg.reward.Mint(ctx, 1000)
		return err
	})
	if !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("direct Mint() error = %v, want ErrAuthorizationDenied", err)
	}

	err = rt.Execute(ctx, mallory, func(ctx context.Context, tx *ledger.Tx) error {
		_, err := reg.cards.MintIdentified(ctx, domain.Certificate{ID: 99})
		return err
	})
	if !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("direct MintIdentified() error = %v, want ErrAuthorizationDenied", err)
	}

	if _, err := reg.bonus.Mint(ctx, 1); !errors.Is(err, domain.ErrNoTransaction) {
		t.Errorf("Mint() outside transaction error = %v, want ErrNoTransaction", err)
	}
	if got := reg.RewardSupply(ctx); got != 0 {
		t.Errorf("RewardSupply() = %d, want 0", got)
	}
}

func TestResourceManager_WrongKind(t *testing.T) {
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})

	err := rt.Execute(context.Background(), reg.Address(), func(ctx context.Context, tx *ledger.Tx) error {
		if _, err := reg.cards.Mint(ctx, 1); !errors.Is(err, domain.ErrWrongResourceKind) {
			t.Errorf("cards.Mint() error = %v, want ErrWrongResourceKind", err)
		}
		if _, err := reg.reward.MintIdentified(ctx, domain.Certificate{ID: 1}); !errors.Is(err, domain.ErrWrongResourceKind) {
			t.Errorf("reward.MintIdentified() error = %v, want ErrWrongResourceKind", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
}

// ─── UpdateCertificateLevel ─────────────────────────────────────────────────

func TestUpdateCertificateLevel(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})
	cert := holderOf(t, rt, reg, alice)

	update := func(signer domain.Address, id uint64, level string) error {
		return rt.Execute(ctx, signer, func(ctx context.Context, tx *ledger.Tx) error {
			_, err := reg.UpdateCertificateLevel(ctx, id, level)
			return err
		})
	}

	if err := update(alice, cert.ID, "gold"); !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("holder update error = %v, want ErrAuthorizationDenied", err)
	}
	if _, err := reg.UpdateCertificateLevel(ctx, cert.ID, "gold"); !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("unsigned update error = %v, want ErrAuthorizationDenied", err)
	}
	if err := update(owner, 42, "gold"); !errors.Is(err, domain.ErrCertificateNotFound) {
		t.Errorf("unknown id update error = %v, want ErrCertificateNotFound", err)
	}
	if err := update(owner, cert.ID, "gold"); err != nil {
		t.Fatalf("owner update error: %v", err)
	}

	got, err := reg.Certificate(ctx, cert.ID)
	if err != nil {
		t.Fatalf("Certificate() error: %v", err)
	}
	if got.Level != "gold" {
		t.Errorf("Level = %q, want gold", got.Level)
	}
	if !got.IssuedAt.Equal(cert.IssuedAt) {
		t.Errorf("IssuedAt changed from %v to %v", cert.IssuedAt, got.IssuedAt)
	}
}

// ─── Journal ────────────────────────────────────────────────────────────────

func TestJournal_ReceivesEntries(t *testing.T) {
	j := &memJournal{}
	rt := newTestRuntime(t, j)
	reg := newTestRegistry(t, rt, Policy{})
	holderOf(t, rt, reg, alice)

	b := j.last()
	if len(b.Certificates) != 1 || len(b.CertificateHolders) != 1 {
		t.Fatalf("mint batch = %d certificates, %d holders; want 1 and 1", len(b.Certificates), len(b.CertificateHolders))
	}
	if b.CertificateHolders[0].Holder != alice {
		t.Errorf("holder = %s, want %s", b.CertificateHolders[0].Holder, alice)
	}

	err := withProof(rt, reg, alice, func(ctx context.Context, p domain.CertificateProof) error {
		_, err := reg.IssueReward(ctx, domain.AttendEvent{Event: "my_nice_event", Amount: 413}, p)
		return err
	})
	if err != nil {
		t.Fatalf("IssueReward() error: %v", err)
	}

	entries := j.last().Entries
	if len(entries) != 1 {
		t.Fatalf("reward batch has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Type != domain.EntryIssue || e.Task != domain.TaskAttendEvent || e.Amount != 413 {
		t.Errorf("entry = %+v, want ISSUE attend_event 413", e)
	}
	if e.Description != "attended event my_nice_event" {
		t.Errorf("Description = %q", e.Description)
	}
	if e.Account != alice {
		t.Errorf("Account = %s, want %s", e.Account, alice)
	}
}

func TestIssueReward_RecordsVerifiedHolder(t *testing.T) {
	j := &memJournal{}
	rt := newTestRuntime(t, j)
	reg := newTestRegistry(t, rt, Policy{})
	holderOf(t, rt, reg, alice)

	err := withProof(rt, reg, alice, func(ctx context.Context, p domain.CertificateProof) error {
		p.Account = bob
		if _, err := reg.IssueReward(ctx, domain.SayHi{Amount: 3}, p); err != nil {
			return err
		}
		_, _, err := reg.IssueDualReward(ctx, p)
		return err
	})
	if err != nil {
		t.Fatalf("issue with relabelled proof: %v", err)
	}

	entries := j.last().Entries
	if len(entries) != 3 {
		t.Fatalf("batch has %d entries, want 3", len(entries))
	}
	for _, e := range entries {
		if e.Account != alice {
			t.Errorf("%s entry Account = %s, want %s", e.Task, e.Account, alice)
		}
	}
}

func TestForgedBuckets_DoNotAuthorizeOrCredit(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})
	svc := NewService(rt, reg, ServiceConfig{}, nil)

	err := rt.Execute(ctx, bob, func(ctx context.Context, tx *ledger.Tx) error {
		return rt.DepositCertificate(ctx, bob, domain.CertificateBucket{
			Resource:    reg.CardResource(),
			Certificate: domain.Certificate{ID: 999, Level: domain.InitialLevel},
		})
	})
	if !errors.Is(err, domain.ErrInvalidBucket) {
		t.Errorf("forged certificate deposit error = %v, want ErrInvalidBucket", err)
	}
	if _, err := svc.Reward(ctx, bob, domain.SayHi{Amount: 50}); !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("Reward() after forged certificate error = %v, want ErrAuthorizationDenied", err)
	}

	err = rt.Execute(ctx, bob, func(ctx context.Context, tx *ledger.Tx) error {
		return rt.Deposit(ctx, bob, domain.CreditBucket{
			Resource: reg.RewardResource(),
			Kind:     domain.KindRewardCredit,
			Amount:   1_000_000,
		})
	})
	if !errors.Is(err, domain.ErrInvalidBucket) {
		t.Errorf("forged credit deposit error = %v, want ErrInvalidBucket", err)
	}

	if got := rt.Balance(ctx, bob, reg.RewardResource()); got != 0 {
		t.Errorf("bob balance = %d, want 0", got)
	}
	s := reg.Supply(ctx)
	if s.RewardSupply != 0 || s.CertificateSupply != 0 || s.CertificatesIssued != 0 {
		t.Errorf("supply = %+v, want all zero", s)
	}
}

func TestIssueReward_BucketDepositsOnce(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})
	holderOf(t, rt, reg, alice)

	var kept domain.CreditBucket
	err := withProof(rt, reg, alice, func(ctx context.Context, p domain.CertificateProof) error {
		b, err := reg.IssueReward(ctx, domain.SayHi{Amount: 5}, p)
		if err != nil {
			return err
		}
		if err := rt.Deposit(ctx, alice, b); err != nil {
			return err
		}
		if err := rt.Deposit(ctx, bob, b); !errors.Is(err, domain.ErrInvalidBucket) {
			t.Errorf("second Deposit() error = %v, want ErrInvalidBucket", err)
		}
		kept = b
		return nil
	})
	if err != nil {
		t.Fatalf("IssueReward() error: %v", err)
	}

	err = rt.Execute(ctx, bob, func(ctx context.Context, tx *ledger.Tx) error {
		return rt.Deposit(ctx, bob, kept)
	})
	if !errors.Is(err, domain.ErrInvalidBucket) {
		t.Errorf("Deposit() in later transaction error = %v, want ErrInvalidBucket", err)
	}

	if got := rt.Balance(ctx, alice, reg.RewardResource()); got != 5 {
		t.Errorf("alice balance = %d, want 5", got)
	}
	if got := rt.Balance(ctx, bob, reg.RewardResource()); got != 0 {
		t.Errorf("bob balance = %d, want 0", got)
	}
	if got := reg.RewardSupply(ctx); got != 5 {
		t.Errorf("RewardSupply() = %d, want 5", got)
	}
}

func TestTracer_RecordsRegistrySpans(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	tracer := observability.NewTracer(observability.DefaultTracerConfig())
	reg, err := Initialize(ctx, rt, owner, Options{Tracer: tracer})
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	holderOf(t, rt, reg, alice)
	tracer.Reset()

	err = withProof(rt, reg, alice, func(ctx context.Context, p domain.CertificateProof) error {
		_, err := reg.IssueReward(ctx, domain.SayHi{Amount: 1}, p)
		return err
	})
	if err != nil {
		t.Fatalf("IssueReward() error: %v", err)
	}
	_, err = reg.IssueReward(observability.WithTraceID(ctx, "req-denied"), domain.Vote{Poll: "p", Amount: 2}, domain.CertificateProof{})
	if !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Fatalf("IssueReward() without proof error = %v, want ErrAuthorizationDenied", err)
	}

	spans := tracer.Spans(0)
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	ok, denied := spans[0], spans[1]
	if ok.Operation != "registry.issue_reward" || ok.Status != observability.SpanOK || ok.Attrs["task"] != "say_hi" {
		t.Errorf("granted span = %+v", ok)
	}
	if denied.Status != observability.SpanError || denied.Attrs["task"] != "vote" || denied.TraceID != "req-denied" {
		t.Errorf("denied span = %+v", denied)
	}
	if !strings.Contains(denied.Attrs["error"], domain.ErrAuthorizationDenied.Error()) {
		t.Errorf("denied span error = %q, want it to name the denial", denied.Attrs["error"])
	}
}

func TestRestore_ReproducesState(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{MaxRewardAmount: 500})
	cert := holderOf(t, rt, reg, alice)

	snap := &domain.Snapshot{
		Registry: reg.State(ctx),
		Resources: []domain.ResourceState{
			{Address: reg.RewardResource(), Kind: domain.KindRewardCredit, Registry: reg.Address(), TotalSupply: 413},
			{Address: reg.BonusResource(), Kind: domain.KindBonusCredit, Registry: reg.Address(), TotalSupply: 7},
			{Address: reg.CardResource(), Kind: domain.KindMemberCard, Registry: reg.Address(), TotalSupply: 1},
		},
		Certificates: []domain.CertificateRecord{{Resource: reg.CardResource(), Certificate: cert, Holder: alice}},
		Holdings:     []domain.Holding{{Account: alice, Resource: reg.RewardResource(), Amount: 413}},
	}

	rt2 := newTestRuntime(t, nil)
	restored, err := Restore(rt2, snap, Options{})
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if restored.Policy().MaxRewardAmount != 500 {
		t.Errorf("restored cap = %d, want 500", restored.Policy().MaxRewardAmount)
	}
	if got := restored.RewardSupply(ctx); got != 413 {
		t.Errorf("restored RewardSupply() = %d, want 413", got)
	}
	if got := rt2.Balance(ctx, alice, restored.RewardResource()); got != 413 {
		t.Errorf("restored balance = %d, want 413", got)
	}

	// alice's restored certificate still proves membership.
	err = withProof(rt2, restored, alice, func(ctx context.Context, p domain.CertificateProof) error {
		_, err := restored.IssueReward(ctx, domain.SayHi{Amount: 1}, p)
		return err
	})
	if err != nil {
		t.Fatalf("IssueReward() after restore error: %v", err)
	}
	if c := holderOf(t, rt2, restored, bob); c.ID != 2 {
		t.Errorf("next id after restore = %d, want 2", c.ID)
	}
}

func TestRestore_SameRuntimeTwice(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	reg := newTestRegistry(t, rt, Policy{})

	snap := &domain.Snapshot{
		Registry: reg.State(ctx),
		Resources: []domain.ResourceState{
			{Address: reg.RewardResource(), Kind: domain.KindRewardCredit, Registry: reg.Address()},
			{Address: reg.BonusResource(), Kind: domain.KindBonusCredit, Registry: reg.Address()},
			{Address: reg.CardResource(), Kind: domain.KindMemberCard, Registry: reg.Address()},
		},
	}
	if _, err := Restore(rt, snap, Options{}); !errors.Is(err, domain.ErrAuthorizationDenied) {
		t.Errorf("Restore() into the live runtime error = %v, want ErrAuthorizationDenied", err)
	}
}

func TestRestore_MissingRegistry(t *testing.T) {
	rt := newTestRuntime(t, nil)
	if _, err := Restore(rt, nil, Options{}); !errors.Is(err, domain.ErrRegistryNotFound) {
		t.Errorf("Restore(nil) error = %v, want ErrRegistryNotFound", err)
	}
}
