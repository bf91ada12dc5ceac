package domain

import (
	"fmt"
	"math"
)

// ─── Task Catalog ───────────────────────────────────────────────────────────
// A Task is a one-shot request for a reward. The set of variants is closed:
// new kinds are added here and in the registry's payout switch.

// TaskKind identifies a task variant.
type TaskKind string

const (
	TaskVote        TaskKind = "vote"
	TaskAttendEvent TaskKind = "attend_event"
	TaskSayHi       TaskKind = "say_hi"
	TaskReasoned    TaskKind = "reasoned"

	// TaskDual tags the fixed two-resource payout. It is not a Task variant.
	TaskDual TaskKind = "dual"
)

// Task is the sealed union of reward-triggering actions.
type Task interface {
	Kind() TaskKind
	// Payout is the number of reward credits the task is worth.
	Payout() uint64
	sealed()
}

// Vote rewards taking part in a poll.
type Vote struct {
	Poll   string
	Amount uint32
}

// AttendEvent rewards attending an event.
type AttendEvent struct {
	Event  string
	Amount uint32
}

// SayHi rewards a greeting.
type SayHi struct {
	Amount uint32
}

// Reasoned is a generic award. Reason is kept for the audit trail only.
type Reasoned struct {
	Amount uint64
	Reason string
}

func (Vote) Kind() TaskKind        { return TaskVote }
func (AttendEvent) Kind() TaskKind { return TaskAttendEvent }
func (SayHi) Kind() TaskKind       { return TaskSayHi }
func (Reasoned) Kind() TaskKind    { return TaskReasoned }

func (t Vote) Payout() uint64        { return uint64(t.Amount) }
func (t AttendEvent) Payout() uint64 { return uint64(t.Amount) }
func (t SayHi) Payout() uint64       { return uint64(t.Amount) }
func (t Reasoned) Payout() uint64    { return t.Amount }

func (Vote) sealed()        {}
func (AttendEvent) sealed() {}
func (SayHi) sealed()       {}
func (Reasoned) sealed()    {}

// TaskRequest is the wire form of a Task.
type TaskRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=vote attend_event say_hi reasoned"`
	Poll   string `json:"poll,omitempty"`
	Event  string `json:"event,omitempty"`
	Reason string `json:"reason,omitempty"`
	Amount uint64 `json:"amount"`
}

// ParseTask converts a wire request into a Task.
// Vote, AttendEvent and SayHi carry 32-bit amounts.
func ParseTask(req TaskRequest) (Task, error) {
	narrow := func() (uint32, error) {
		if req.Amount > math.MaxUint32 {
			return 0, fmt.Errorf("%s amount %d exceeds %d: %w", req.Kind, req.Amount, uint32(math.MaxUint32), ErrInvalidTask)
		}
		return uint32(req.Amount), nil
	}

	switch TaskKind(req.Kind) {
	case TaskVote:
		amt, err := narrow()
		if err != nil {
			return nil, err
		}
		return Vote{Poll: req.Poll, Amount: amt}, nil
	case TaskAttendEvent:
		amt, err := narrow()
		if err != nil {
			return nil, err
		}
		return AttendEvent{Event: req.Event, Amount: amt}, nil
	case TaskSayHi:
		amt, err := narrow()
		if err != nil {
			return nil, err
		}
		return SayHi{Amount: amt}, nil
	case TaskReasoned:
		return Reasoned{Amount: req.Amount, Reason: req.Reason}, nil
	default:
		return nil, fmt.Errorf("task kind %q: %w", req.Kind, ErrUnknownTask)
	}
}

// DescribeTask returns the audit description of a task.
func DescribeTask(t Task) string {
	switch t := t.(type) {
	case Vote:
		return fmt.Sprintf("voted for poll %s", t.Poll)
	case AttendEvent:
		return fmt.Sprintf("attended event %s", t.Event)
	case SayHi:
		return "said hi"
	case Reasoned:
		return t.Reason
	default:
		return ""
	}
}
