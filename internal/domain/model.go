// Package domain contains pure membership ledger types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture and depends on nothing.
package domain

import (
	"fmt"
	"time"
)

// ─── Addresses ──────────────────────────────────────────────────────────────

// Address identifies a component, a resource kind or a holder account
// inside the ledger runtime.
type Address string

// String returns the raw address.
func (a Address) String() string { return string(a) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == "" }

// AnonymousAccount signs fee deposits made without naming an account.
const AnonymousAccount Address = "account_anonymous"

// ─── Resource Types ─────────────────────────────────────────────────────────

// ResourceKind names one of the three mintable resources owned by a registry.
type ResourceKind string

const (
	KindRewardCredit ResourceKind = "reward_credit"
	KindBonusCredit  ResourceKind = "bonus_credit"
	KindMemberCard   ResourceKind = "member_card"
)

// Fungible reports whether units of this kind are interchangeable.
func (k ResourceKind) Fungible() bool {
	return k == KindRewardCredit || k == KindBonusCredit
}

// ResourceMetadata is the locked descriptive metadata of a resource kind.
type ResourceMetadata struct {
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Description  string `json:"description,omitempty"`
	Divisibility uint8  `json:"divisibility"`
}

// DefaultMetadata returns the metadata a registry attaches to each kind.
// All kinds are indivisible.
func DefaultMetadata(kind ResourceKind) ResourceMetadata {
	switch kind {
	case KindRewardCredit:
		return ResourceMetadata{Name: "Reward_Token", Symbol: "REW", Description: "Rewards for activity"}
	case KindBonusCredit:
		return ResourceMetadata{Name: "Bonus_Token", Symbol: "BON", Description: "Bonus rewards for activity"}
	case KindMemberCard:
		return ResourceMetadata{Name: "Member Card", Symbol: "MEM_CARD"}
	default:
		return ResourceMetadata{Name: string(kind)}
	}
}

// ─── Certificates ───────────────────────────────────────────────────────────

// InitialLevel is the level every freshly minted certificate starts at.
const InitialLevel = "0"

// Certificate is the non-fungible membership record.
type Certificate struct {
	ID       uint64    `json:"id"`
	Level    string    `json:"level"`
	IssuedAt time.Time `json:"issued_at"`
}

// ─── Buckets ────────────────────────────────────────────────────────────────

// CreditBucket holds a freshly minted quantity of a fungible resource.
// Handle is assigned by the ledger runtime at mint time. Only a bucket whose
// handle the runtime issued in the current transaction can be deposited, and
// only once.
type CreditBucket struct {
	Handle   string       `json:"-"`
	Resource Address      `json:"resource"`
	Kind     ResourceKind `json:"kind"`
	Amount   uint64       `json:"amount"`
}

// IsEmpty reports whether the bucket carries no units.
func (b CreditBucket) IsEmpty() bool { return b.Amount == 0 }

// CertificateBucket represents ownership of exactly one certificate.
type CertificateBucket struct {
	Handle      string      `json:"-"`
	Resource    Address     `json:"resource"`
	Certificate Certificate `json:"certificate"`
}

// CertificateProof attests that Account held the listed certificates of
// Resource when the proof was created. Proofs are issued and checked by the
// ledger runtime and are only valid inside the transaction that created them.
type CertificateProof struct {
	ID             string   `json:"id"`
	Account        Address  `json:"account"`
	Resource       Address  `json:"resource"`
	CertificateIDs []uint64 `json:"certificate_ids"`
}

// IsZero reports whether no proof was presented.
func (p CertificateProof) IsZero() bool { return p.ID == "" }

// ─── Persisted State ────────────────────────────────────────────────────────

// RegistryState is the durable form of a membership registry.
type RegistryState struct {
	Address            Address   `json:"address"`
	Owner              Address   `json:"owner,omitempty"`
	RewardResource     Address   `json:"reward_resource"`
	BonusResource      Address   `json:"bonus_resource"`
	CardResource       Address   `json:"card_resource"`
	CertificatesIssued uint64    `json:"certificates_issued"`
	FeeReserve         uint64    `json:"fee_reserve"`
	MaxRewardAmount    uint64    `json:"max_reward_amount"`
	CreatedAt          time.Time `json:"created_at"`
}

// ResourceState is the durable form of one resource kind.
type ResourceState struct {
	Address     Address          `json:"address"`
	Kind        ResourceKind     `json:"kind"`
	Registry    Address          `json:"registry"`
	TotalSupply uint64           `json:"total_supply"`
	Metadata    ResourceMetadata `json:"metadata"`
}

// CertificateRecord is a minted certificate and its current holder.
// An empty Holder means the certificate has not been deposited yet.
type CertificateRecord struct {
	Resource    Address     `json:"resource"`
	Certificate Certificate `json:"certificate"`
	Holder      Address     `json:"holder,omitempty"`
}

// Holding is an account's balance of one fungible resource.
type Holding struct {
	Account  Address `json:"account"`
	Resource Address `json:"resource"`
	Amount   uint64  `json:"amount"`
}

// CertificateHolding moves a certificate into an account vault.
type CertificateHolding struct {
	Resource      Address `json:"resource"`
	CertificateID uint64  `json:"certificate_id"`
	Holder        Address `json:"holder"`
}

// Batch is everything a single committed transaction changed.
// Certificates carry certificate data only; holder changes travel in
// CertificateHolders and are applied after the data.
type Batch struct {
	Registries         []RegistryState
	Resources          []ResourceState
	Certificates       []CertificateRecord
	CertificateHolders []CertificateHolding
	Holdings           []Holding
	Entries            []LedgerEntry
}

// Empty reports whether the batch carries no changes.
func (b Batch) Empty() bool {
	return len(b.Registries) == 0 && len(b.Resources) == 0 && len(b.Certificates) == 0 &&
		len(b.CertificateHolders) == 0 && len(b.Holdings) == 0 && len(b.Entries) == 0
}

// Snapshot is the full restorable state of one registry.
type Snapshot struct {
	Registry     RegistryState
	Resources    []ResourceState
	Certificates []CertificateRecord
	Holdings     []Holding
}

// SupplySnapshot is a point-in-time view of a registry's totals.
type SupplySnapshot struct {
	Registry           Address   `json:"registry"`
	RewardSupply       uint64    `json:"reward_supply"`
	BonusSupply        uint64    `json:"bonus_supply"`
	CertificateSupply  uint64    `json:"certificate_supply"`
	CertificatesIssued uint64    `json:"certificates_issued"`
	FeeReserve         uint64    `json:"fee_reserve"`
	TakenAt            time.Time `json:"taken_at"`
}

// String formats the snapshot for CLI output.
func (s SupplySnapshot) String() string {
	return fmt.Sprintf("reward=%d bonus=%d certificates=%d fee_reserve=%d",
		s.RewardSupply, s.BonusSupply, s.CertificateSupply, s.FeeReserve)
}
