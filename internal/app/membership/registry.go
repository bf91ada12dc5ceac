// Package membership implements the membership registry: certificate
// issuance, task rewards gated by certificate proofs and the fee reserve.
//
// The registry:
//  1. Owns the reward, bonus and certificate resource managers
//  2. Allocates certificate ids from its own counter (first id is 1)
//  3. Verifies certificate proofs through the ledger runtime before minting credits
//  4. Accepts fee deposits from anyone
//
// Every operation runs inside one ledger runtime transaction, so a failure
// anywhere leaves no counter, supply or reserve change behind.
package membership

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"github.com/tutu-network/memberledger/internal/domain"
	"github.com/tutu-network/memberledger/internal/infra/ledger"
	"github.com/tutu-network/memberledger/internal/infra/observability"
)

// Options configures a registry. All fields are optional.
type Options struct {
	Policy Policy
	Logger *zap.Logger
	Tracer *observability.Tracer
}

// Registry is the membership aggregate root.
type Registry struct {
	rt     *ledger.Runtime
	logger *zap.Logger
	tracer *observability.Tracer
	policy Policy

	state  domain.RegistryState
	reward *ResourceManager
	bonus  *ResourceManager
	cards  *ResourceManager
}

func newRegistry(rt *ledger.Runtime, opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rt:     rt,
		logger: logger.Named("registry"),
		tracer: opts.Tracer,
		policy: opts.Policy,
	}
}

// Initialize deploys a new registry. owner becomes the management credential
// of the certificate kind. Each call yields an independent registry.
func Initialize(ctx context.Context, rt *ledger.Runtime, owner domain.Address, opts Options) (*Registry, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("registry owner: %w", domain.ErrInvalidAccount)
	}
	r := newRegistry(rt, opts)

	span := r.tracer.StartSpan(ctx, "registry.initialize", map[string]string{"owner": owner.String()})
	err := rt.Execute(ctx, owner, func(ctx context.Context, tx *ledger.Tx) error {
		addr, err := rt.AllocateAddress(ctx, ledger.ComponentAddress)
		if err != nil {
			return fmt.Errorf("allocate registry: %w", err)
		}
		kinds := [3]domain.ResourceKind{domain.KindRewardCredit, domain.KindBonusCredit, domain.KindMemberCard}
		var mints [3]*ledger.Minter
		for i, kind := range kinds {
			res, err := rt.AllocateAddress(ctx, ledger.ResourceAddress)
			if err != nil {
				return fmt.Errorf("allocate resource: %w", err)
			}
			if mints[i], err = rt.RegisterResource(ctx, res, kind); err != nil {
				return err
			}
		}

		r.reward = newResourceManager(mints[0], domain.KindRewardCredit, addr, "")
		r.bonus = newResourceManager(mints[1], domain.KindBonusCredit, addr, "")
		r.cards = newResourceManager(mints[2], domain.KindMemberCard, addr, owner)
		r.state = domain.RegistryState{
			Address:         addr,
			Owner:           owner,
			RewardResource:  r.reward.Address(),
			BonusResource:   r.bonus.Address(),
			CardResource:    r.cards.Address(),
			MaxRewardAmount: r.policy.MaxRewardAmount,
			CreatedAt:       tx.Now(),
		}

		tx.PutRegistry(r.state)
		for _, m := range r.managers() {
			tx.PutResource(m.state)
		}
		return nil
	})
	r.tracer.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	r.logger.Info("registry initialized",
		zap.String("registry", r.state.Address.String()),
		zap.String("owner", owner.String()))
	return r, nil
}

// Restore rebuilds a registry from a journal snapshot and loads its holder
// vaults into the runtime. The stored cap wins over opts.Policy.
func Restore(rt *ledger.Runtime, snap *domain.Snapshot, opts Options) (*Registry, error) {
	if snap == nil || snap.Registry.Address.IsZero() {
		return nil, domain.ErrRegistryNotFound
	}
	r := newRegistry(rt, opts)
	r.state = snap.Registry
	r.policy.MaxRewardAmount = snap.Registry.MaxRewardAmount

	s := snap.Registry
	owned := map[domain.Address]bool{s.RewardResource: true, s.BonusResource: true, s.CardResource: true}
	for _, rs := range snap.Resources {
		if !owned[rs.Address] {
			return nil, fmt.Errorf("resource %s does not belong to registry %s", rs.Address, s.Address)
		}
	}
	for _, c := range snap.Certificates {
		if c.Resource != s.CardResource {
			return nil, fmt.Errorf("certificate %d of unknown resource %s", c.Certificate.ID, c.Resource)
		}
	}

	mints, err := rt.Restore(snap)
	if err != nil {
		return nil, err
	}
	for addr := range owned {
		if mints[addr] == nil {
			return nil, fmt.Errorf("registry %s: resource %s: %w", s.Address, addr, domain.ErrUnknownResource)
		}
	}
	r.reward = newResourceManager(mints[s.RewardResource], domain.KindRewardCredit, s.Address, "")
	r.bonus = newResourceManager(mints[s.BonusResource], domain.KindBonusCredit, s.Address, "")
	r.cards = newResourceManager(mints[s.CardResource], domain.KindMemberCard, s.Address, s.Owner)

	for _, rs := range snap.Resources {
		m := r.managerAt(rs.Address)
		m.state.TotalSupply = rs.TotalSupply
		if rs.Metadata.Name != "" {
			m.state.Metadata = rs.Metadata
		}
	}
	for _, c := range snap.Certificates {
		r.cards.certs[c.Certificate.ID] = c.Certificate
	}

	r.logger.Info("registry restored",
		zap.String("registry", s.Address.String()),
		zap.Uint64("certificates_issued", s.CertificatesIssued))
	return r, nil
}

func (r *Registry) managers() []*ResourceManager {
	return []*ResourceManager{r.reward, r.bonus, r.cards}
}

func (r *Registry) managerAt(addr domain.Address) *ResourceManager {
	for _, m := range r.managers() {
		if m.state.Address == addr {
			return m
		}
	}
	return nil
}

// ─── Issuance ───────────────────────────────────────────────────────────────

// MintCertificate mints the next membership certificate. Anyone may call it
// and nothing stops one account from collecting several.
func (r *Registry) MintCertificate(ctx context.Context) (domain.CertificateBucket, error) {
	var bucket domain.CertificateBucket
	span := r.tracer.StartSpan(ctx, "registry.mint_certificate", nil)
	err := r.rt.Execute(ctx, r.state.Address, func(ctx context.Context, tx *ledger.Tx) error {
		prev := r.state.CertificatesIssued
		if prev == math.MaxUint64 {
			return fmt.Errorf("certificate counter: %w", domain.ErrSupplyOverflow)
		}
		r.state.CertificatesIssued = prev + 1
		tx.OnAbort(func() { r.state.CertificatesIssued = prev })

		b, err := r.cards.MintIdentified(ctx, domain.Certificate{
			ID:       r.state.CertificatesIssued,
			Level:    domain.InitialLevel,
			IssuedAt: tx.Now(),
		})
		if err != nil {
			return err
		}
		tx.PutRegistry(r.state)
		tx.Record(domain.LedgerEntry{
			Type:          domain.EntryMint,
			Registry:      r.state.Address,
			Resource:      b.Resource,
			Account:       tx.Signer(),
			Amount:        1,
			CertificateID: b.Certificate.ID,
		})
		tx.AfterCommit(func() {
			observability.CertificatesIssued.Inc()
			r.logger.Info("certificate minted",
				zap.Uint64("id", b.Certificate.ID),
				zap.String("signer", tx.Signer().String()))
		})
		bucket = b
		return nil
	})
	r.tracer.EndSpan(span, err)
	return bucket, err
}

// IssueReward mints the reward credits task is worth. proof must have been
// created by the runtime in the current transaction and attest a held
// certificate of this registry.
func (r *Registry) IssueReward(ctx context.Context, task domain.Task, proof domain.CertificateProof) (domain.CreditBucket, error) {
	if task == nil {
		return domain.CreditBucket{}, fmt.Errorf("nil task: %w", domain.ErrUnknownTask)
	}

	var bucket domain.CreditBucket
	span := r.tracer.StartSpan(ctx, "registry.issue_reward", map[string]string{"task": string(task.Kind())})
	err := r.rt.Execute(ctx, r.state.Address, func(ctx context.Context, tx *ledger.Tx) error {
		holder, err := r.rt.VerifyProof(ctx, proof, r.state.CardResource)
		if err != nil {
			return err
		}
		amount, err := payout(task)
		if err != nil {
			return err
		}
		if err := r.policy.check(amount); err != nil {
			return err
		}
		b, err := r.reward.Mint(ctx, amount)
		if err != nil {
			return err
		}

		tx.Record(domain.LedgerEntry{
			Type:        domain.EntryIssue,
			Registry:    r.state.Address,
			Resource:    b.Resource,
			Account:     holder.Account,
			Amount:      amount,
			Task:        task.Kind(),
			Description: domain.DescribeTask(task),
		})
		tx.AfterCommit(func() {
			observability.CreditsMinted.WithLabelValues(string(domain.KindRewardCredit), string(task.Kind())).Add(float64(amount))
			fields := append([]zap.Field{
				zap.String("task", string(task.Kind())),
				zap.Uint64("amount", amount),
				zap.String("account", holder.Account.String()),
			}, auditFields(task)...)
			r.logger.Info("reward issued", fields...)
		})
		bucket = b
		return nil
	})
	r.observeDenied("issue_reward", err)
	r.tracer.EndSpan(span, err)
	return bucket, err
}

// IssueDualReward mints the fixed pair of 13 reward and 7 bonus credits for
// a certificate holder.
func (r *Registry) IssueDualReward(ctx context.Context, proof domain.CertificateProof) (domain.CreditBucket, domain.CreditBucket, error) {
	var reward, bonus domain.CreditBucket
	span := r.tracer.StartSpan(ctx, "registry.issue_dual_reward", nil)
	err := r.rt.Execute(ctx, r.state.Address, func(ctx context.Context, tx *ledger.Tx) error {
		holder, err := r.rt.VerifyProof(ctx, proof, r.state.CardResource)
		if err != nil {
			return err
		}
		if reward, err = r.reward.Mint(ctx, DualRewardCredits); err != nil {
			return err
		}
		if bonus, err = r.bonus.Mint(ctx, DualBonusCredits); err != nil {
			return err
		}

		for _, b := range []domain.CreditBucket{reward, bonus} {
			tx.Record(domain.LedgerEntry{
				Type:     domain.EntryIssue,
				Registry: r.state.Address,
				Resource: b.Resource,
				Account:  holder.Account,
				Amount:   b.Amount,
				Task:     domain.TaskDual,
			})
		}
		tx.AfterCommit(func() {
			observability.CreditsMinted.WithLabelValues(string(domain.KindRewardCredit), string(domain.TaskDual)).Add(float64(DualRewardCredits))
			observability.CreditsMinted.WithLabelValues(string(domain.KindBonusCredit), string(domain.TaskDual)).Add(float64(DualBonusCredits))
			r.logger.Info("dual reward issued", zap.String("account", holder.Account.String()))
		})
		return nil
	})
	r.observeDenied("issue_dual_reward", err)
	r.tracer.EndSpan(span, err)
	if err != nil {
		return domain.CreditBucket{}, domain.CreditBucket{}, err
	}
	return reward, bonus, nil
}

// DepositFee adds amount to the fee reserve. No authorization is required.
func (r *Registry) DepositFee(ctx context.Context, amount uint64) error {
	span := r.tracer.StartSpan(ctx, "registry.deposit_fee", map[string]string{"amount": strconv.FormatUint(amount, 10)})
	err := r.rt.Execute(ctx, r.state.Address, func(ctx context.Context, tx *ledger.Tx) error {
		prev := r.state.FeeReserve
		if prev > math.MaxUint64-amount {
			return fmt.Errorf("fee reserve: %w", domain.ErrSupplyOverflow)
		}
		r.state.FeeReserve = prev + amount
		tx.OnAbort(func() { r.state.FeeReserve = prev })

		tx.PutRegistry(r.state)
		tx.Record(domain.LedgerEntry{
			Type:     domain.EntryFeeDeposit,
			Registry: r.state.Address,
			Account:  tx.Signer(),
			Amount:   amount,
		})
		tx.AfterCommit(func() { observability.FeeDeposited.Add(float64(amount)) })
		return nil
	})
	r.tracer.EndSpan(span, err)
	return err
}

// UpdateCertificateLevel sets the level of a minted certificate. The
// transaction must be signed by the registry owner.
func (r *Registry) UpdateCertificateLevel(ctx context.Context, id uint64, level string) (domain.Certificate, error) {
	var cert domain.Certificate
	span := r.tracer.StartSpan(ctx, "registry.update_level", map[string]string{"level": level})
	err := r.rt.Execute(ctx, r.state.Address, func(ctx context.Context, tx *ledger.Tx) error {
		c, err := r.cards.UpdateLevel(ctx, id, level)
		if err != nil {
			return err
		}
		tx.Record(domain.LedgerEntry{
			Type:          domain.EntryLevel,
			Registry:      r.state.Address,
			Resource:      r.state.CardResource,
			Account:       tx.Signer(),
			CertificateID: id,
			Description:   level,
		})
		tx.AfterCommit(func() {
			r.logger.Info("certificate level updated", zap.Uint64("id", id), zap.String("level", level))
		})
		cert = c
		return nil
	})
	r.observeDenied("update_level", err)
	r.tracer.EndSpan(span, err)
	return cert, err
}

func (r *Registry) observeDenied(op string, err error) {
	if errors.Is(err, domain.ErrAuthorizationDenied) {
		observability.AuthorizationDenied.WithLabelValues(op).Inc()
		r.logger.Warn("authorization denied", zap.String("operation", op), zap.Error(err))
	}
}

// ─── Accessors ──────────────────────────────────────────────────────────────

// Address returns the registry component address.
func (r *Registry) Address() domain.Address { return r.state.Address }

// Owner returns the management credential of the certificate kind.
func (r *Registry) Owner() domain.Address { return r.state.Owner }

// RewardResource returns the reward credit resource address.
func (r *Registry) RewardResource() domain.Address { return r.state.RewardResource }

// BonusResource returns the bonus credit resource address.
func (r *Registry) BonusResource() domain.Address { return r.state.BonusResource }

// CardResource returns the membership certificate resource address.
func (r *Registry) CardResource() domain.Address { return r.state.CardResource }

// Policy returns the issuance policy in force.
func (r *Registry) Policy() Policy { return r.policy }

// State returns a copy of the registry state.
func (r *Registry) State(ctx context.Context) domain.RegistryState {
	var s domain.RegistryState
	r.rt.View(ctx, func() { s = r.state })
	return s
}

// FeeReserve returns the fee reserve balance.
func (r *Registry) FeeReserve(ctx context.Context) uint64 {
	return r.State(ctx).FeeReserve
}

// CertificatesIssued returns the certificate counter.
func (r *Registry) CertificatesIssued(ctx context.Context) uint64 {
	return r.State(ctx).CertificatesIssued
}

// RewardSupply returns the total reward credits minted.
func (r *Registry) RewardSupply(ctx context.Context) uint64 { return r.Supply(ctx).RewardSupply }

// BonusSupply returns the total bonus credits minted.
func (r *Registry) BonusSupply(ctx context.Context) uint64 { return r.Supply(ctx).BonusSupply }

// CertificateSupply returns the number of certificates minted.
func (r *Registry) CertificateSupply(ctx context.Context) uint64 {
	return r.Supply(ctx).CertificateSupply
}

// Supply returns the registry totals as of now.
func (r *Registry) Supply(ctx context.Context) domain.SupplySnapshot {
	var s domain.SupplySnapshot
	r.rt.View(ctx, func() {
		s = domain.SupplySnapshot{
			Registry:           r.state.Address,
			RewardSupply:       r.reward.TotalSupply(),
			BonusSupply:        r.bonus.TotalSupply(),
			CertificateSupply:  r.cards.TotalSupply(),
			CertificatesIssued: r.state.CertificatesIssued,
			FeeReserve:         r.state.FeeReserve,
		}
	})
	s.TakenAt = r.rt.Now()
	return s
}

// Certificate returns a minted certificate by id.
func (r *Registry) Certificate(ctx context.Context, id uint64) (domain.Certificate, error) {
	var (
		c  domain.Certificate
		ok bool
	)
	r.rt.View(ctx, func() { c, ok = r.cards.Certificate(id) })
	if !ok {
		return domain.Certificate{}, fmt.Errorf("certificate %d: %w", id, domain.ErrCertificateNotFound)
	}
	return c, nil
}

// Certificates returns every minted certificate in id order.
func (r *Registry) Certificates(ctx context.Context) []domain.Certificate {
	var out []domain.Certificate
	r.rt.View(ctx, func() {
		for _, id := range r.cards.certificateIDs() {
			out = append(out, r.cards.certs[id])
		}
	})
	return out
}
