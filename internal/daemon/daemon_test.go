package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tutu-network/memberledger/internal/domain"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Registry.Owner = "account_owner"
	cfg.Metrics.Enabled = false
	return cfg
}

func newTestDaemon(t *testing.T, cfg Config) *Daemon {
	t.Helper()
	d, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return d
}

func TestNew_RequiresOwnerOnEmptyJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.Owner = ""
	_, err := New(context.Background(), cfg, nil)
	if !errors.Is(err, ErrNoOwner) {
		t.Errorf("New() error = %v, want ErrNoOwner", err)
	}
}

func TestNew_RestoresAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	d := newTestDaemon(t, cfg)
	addr := d.Registry.Address()
	if _, err := d.Service.Join(ctx, "account_alice"); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if _, err := d.Service.Reward(ctx, "account_alice", domain.AttendEvent{Event: "my_nice_event", Amount: 413}); err != nil {
		t.Fatalf("Reward() error: %v", err)
	}
	if err := d.Service.DepositFee(ctx, "account_bob", 100); err != nil {
		t.Fatalf("DepositFee() error: %v", err)
	}
	d.Close()

	// The owner no longer matters once a registry is stored.
	cfg.Registry.Owner = ""
	d = newTestDaemon(t, cfg)
	defer d.Close()

	if d.Registry.Address() != addr {
		t.Errorf("restored registry = %s, want %s", d.Registry.Address(), addr)
	}
	if d.Registry.Owner() != "account_owner" {
		t.Errorf("restored owner = %s", d.Registry.Owner())
	}
	s := d.Registry.Supply(ctx)
	if s.RewardSupply != 413 || s.CertificateSupply != 1 || s.CertificatesIssued != 1 || s.FeeReserve != 100 {
		t.Errorf("restored supply = %+v", s)
	}

	acct, err := d.Service.Balances(ctx, "account_alice")
	if err != nil {
		t.Fatal(err)
	}
	if acct.RewardCredits != 413 || len(acct.Certificates) != 1 {
		t.Errorf("restored account = %+v", acct)
	}

	// Restored membership still authorizes rewards and new ids continue.
	if _, err := d.Service.Reward(ctx, "account_alice", domain.SayHi{Amount: 1}); err != nil {
		t.Errorf("Reward() after restore error: %v", err)
	}
	cert, err := d.Service.Join(ctx, "account_bob")
	if err != nil {
		t.Fatal(err)
	}
	if cert.ID != 2 {
		t.Errorf("next certificate id = %d, want 2", cert.ID)
	}
}

func TestTakeSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Snapshots.Keep = 2
	d := newTestDaemon(t, cfg)
	defer d.Close()

	if _, err := d.Service.Join(ctx, "account_alice"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := d.TakeSnapshot(ctx); err != nil {
			t.Fatalf("TakeSnapshot() error: %v", err)
		}
	}

	snaps, err := d.DB.ListSupplySnapshots(ctx, d.Registry.Address(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("snapshots kept = %d, want 2", len(snaps))
	}
	if snaps[0].CertificateSupply != 1 {
		t.Errorf("snapshot = %+v", snaps[0])
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Port = 0
	d := newTestDaemon(t, cfg)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
