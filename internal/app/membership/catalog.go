package membership

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tutu-network/memberledger/internal/domain"
)

// Fixed payout of IssueDualReward.
const (
	DualRewardCredits uint64 = 13
	DualBonusCredits  uint64 = 7
)

// Policy tightens the issuance contract. The zero value keeps it permissive.
type Policy struct {
	// MaxRewardAmount caps the reward credits one task may pay out.
	// Zero means uncapped.
	MaxRewardAmount uint64 `toml:"max_reward_amount"`
}

func (p Policy) check(amount uint64) error {
	if p.MaxRewardAmount > 0 && amount > p.MaxRewardAmount {
		return fmt.Errorf("amount %d over cap %d: %w", amount, p.MaxRewardAmount, domain.ErrAmountExceedsCap)
	}
	return nil
}

// payout returns the reward credits task is worth. Only the value variants
// of the task union are accepted.
func payout(task domain.Task) (uint64, error) {
	switch task.(type) {
	case domain.Vote, domain.AttendEvent, domain.SayHi, domain.Reasoned:
		return task.Payout(), nil
	default:
		return 0, fmt.Errorf("task %T: %w", task, domain.ErrUnknownTask)
	}
}

// auditFields returns the structured log fields for a task.
func auditFields(task domain.Task) []zap.Field {
	switch t := task.(type) {
	case domain.Vote:
		return []zap.Field{zap.String("poll", t.Poll)}
	case domain.AttendEvent:
		return []zap.Field{zap.String("event", t.Event)}
	case domain.Reasoned:
		return []zap.Field{zap.String("reason", t.Reason)}
	default:
		return nil
	}
}
