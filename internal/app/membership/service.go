package membership

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tutu-network/memberledger/internal/domain"
	"github.com/tutu-network/memberledger/internal/infra/ledger"
)

// ServiceConfig controls account-level behavior on top of the registry.
type ServiceConfig struct {
	// OneCertificatePerAccount rejects Join for accounts that already hold
	// a certificate. The registry itself never enforces this.
	OneCertificatePerAccount bool `toml:"one_certificate_per_account"`
}

// Account is an account's view of one registry.
type Account struct {
	Account       domain.Address       `json:"account"`
	RewardCredits uint64               `json:"reward_credits"`
	BonusCredits  uint64               `json:"bonus_credits"`
	Certificates  []domain.Certificate `json:"certificates"`
}

// Service runs account transactions against a registry: every method opens
// one transaction signed by the account, calls the registry and deposits
// whatever was minted into the account's vault.
type Service struct {
	rt     *ledger.Runtime
	reg    *Registry
	cfg    ServiceConfig
	logger *zap.Logger
}

// NewService creates a service for reg.
func NewService(rt *ledger.Runtime, reg *Registry, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rt: rt, reg: reg, cfg: cfg, logger: logger.Named("service")}
}

// Registry returns the registry the service operates on.
func (s *Service) Registry() *Registry { return s.reg }

// Join mints a certificate and deposits it into account.
func (s *Service) Join(ctx context.Context, account domain.Address) (domain.Certificate, error) {
	if account.IsZero() {
		return domain.Certificate{}, domain.ErrInvalidAccount
	}
	var cert domain.Certificate
	err := s.rt.Execute(ctx, account, func(ctx context.Context, tx *ledger.Tx) error {
		if s.cfg.OneCertificatePerAccount {
			if held := s.rt.CertificateIDs(ctx, account, s.reg.CardResource()); len(held) > 0 {
				return fmt.Errorf("%s holds certificate %d: %w", account, held[0], domain.ErrAlreadyMember)
			}
		}
		b, err := s.reg.MintCertificate(ctx)
		if err != nil {
			return err
		}
		if err := s.rt.DepositCertificate(ctx, account, b); err != nil {
			return err
		}
		cert = b.Certificate
		return nil
	})
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("join %s: %w", account, err)
	}
	return cert, nil
}

// Reward proves account's membership, issues the task reward and deposits it.
func (s *Service) Reward(ctx context.Context, account domain.Address, task domain.Task) (domain.CreditBucket, error) {
	var bucket domain.CreditBucket
	err := s.rt.Execute(ctx, account, func(ctx context.Context, tx *ledger.Tx) error {
		proof, err := s.rt.CreateProof(ctx, account, s.reg.CardResource())
		if err != nil {
			return err
		}
		b, err := s.reg.IssueReward(ctx, task, proof)
		if err != nil {
			return err
		}
		if err := s.rt.Deposit(ctx, account, b); err != nil {
			return err
		}
		bucket = b
		return nil
	})
	if err != nil {
		return domain.CreditBucket{}, fmt.Errorf("reward %s: %w", account, err)
	}
	return bucket, nil
}

// DualReward proves account's membership, issues the fixed dual reward and
// deposits both buckets.
func (s *Service) DualReward(ctx context.Context, account domain.Address) (domain.CreditBucket, domain.CreditBucket, error) {
	var reward, bonus domain.CreditBucket
	err := s.rt.Execute(ctx, account, func(ctx context.Context, tx *ledger.Tx) error {
		proof, err := s.rt.CreateProof(ctx, account, s.reg.CardResource())
		if err != nil {
			return err
		}
		if reward, bonus, err = s.reg.IssueDualReward(ctx, proof); err != nil {
			return err
		}
		if err := s.rt.Deposit(ctx, account, reward); err != nil {
			return err
		}
		return s.rt.Deposit(ctx, account, bonus)
	})
	if err != nil {
		return domain.CreditBucket{}, domain.CreditBucket{}, fmt.Errorf("dual reward %s: %w", account, err)
	}
	return reward, bonus, nil
}

// DepositFee adds amount to the fee reserve on behalf of account. An empty
// account signs as domain.AnonymousAccount.
func (s *Service) DepositFee(ctx context.Context, account domain.Address, amount uint64) error {
	if account.IsZero() {
		account = domain.AnonymousAccount
	}
	err := s.rt.Execute(ctx, account, func(ctx context.Context, tx *ledger.Tx) error {
		return s.reg.DepositFee(ctx, amount)
	})
	if err != nil {
		return fmt.Errorf("deposit fee: %w", err)
	}
	return nil
}

// UpdateLevel changes a certificate level in a transaction signed by signer.
func (s *Service) UpdateLevel(ctx context.Context, signer domain.Address, id uint64, level string) (domain.Certificate, error) {
	var cert domain.Certificate
	err := s.rt.Execute(ctx, signer, func(ctx context.Context, tx *ledger.Tx) error {
		c, err := s.reg.UpdateCertificateLevel(ctx, id, level)
		cert = c
		return err
	})
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("update level of certificate %d: %w", id, err)
	}
	return cert, nil
}

// Balances returns what account holds of this registry's resources.
func (s *Service) Balances(ctx context.Context, account domain.Address) (Account, error) {
	if account.IsZero() {
		return Account{}, domain.ErrInvalidAccount
	}
	out := Account{
		Account:       account,
		RewardCredits: s.rt.Balance(ctx, account, s.reg.RewardResource()),
		BonusCredits:  s.rt.Balance(ctx, account, s.reg.BonusResource()),
		Certificates:  []domain.Certificate{},
	}
	for _, id := range s.rt.CertificateIDs(ctx, account, s.reg.CardResource()) {
		c, err := s.reg.Certificate(ctx, id)
		if err != nil {
			return Account{}, err
		}
		out.Certificates = append(out.Certificates, c)
	}
	return out, nil
}
