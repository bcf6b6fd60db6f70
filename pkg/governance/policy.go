package governance

import (
	"fmt"

	"github.com/tfarhan00/tahu-program/pkg/dao"
)

// VoteCounting selects how repeated votes are tallied.
type VoteCounting string

const (
	// VoteCountingOnePerVoter keeps one counted vote per identity. A repeat
	// with the same choice is ignored; a changed choice moves the vote.
	VoteCountingOnePerVoter VoteCounting = "one_per_voter"
	// VoteCountingCounted counts every call, with no deduplication.
	VoteCountingCounted VoteCounting = "counted"
)

// ExecutionMode selects whether Execute checks the thresholds.
type ExecutionMode string

const (
	ExecutionModeGated ExecutionMode = "gated"
	// ExecutionModeUnchecked applies changes without consulting the tally.
	ExecutionModeUnchecked ExecutionMode = "unchecked"
)

// Policy holds the engine's hardening switches.
type Policy struct {
	VoteCounting  VoteCounting
	ExecutionMode ExecutionMode
	// RequireMembership binds mutators to the caller: administrative calls
	// need a member or operator, proposals need a proposer with enough
	// weight, and votes must come from a member voting as themselves.
	RequireMembership bool
	// EnforceVotingWindow rejects votes outside [start, end) and votes on
	// executed proposals.
	EnforceVotingWindow bool
	// ValidateChangesOnCreate decodes every change when a proposal is
	// created rather than first at execution.
	ValidateChangesOnCreate bool
}

// DefaultPolicy returns the hardened policy.
func DefaultPolicy() Policy {
	return Policy{
		VoteCounting:            VoteCountingOnePerVoter,
		ExecutionMode:           ExecutionModeGated,
		RequireMembership:       true,
		EnforceVotingWindow:     true,
		ValidateChangesOnCreate: true,
	}
}

// UncheckedPolicy switches every guard off: votes are counted per call,
// execution ignores the thresholds and any verified caller may mutate any
// organization. Failed executions still write nothing.
func UncheckedPolicy() Policy {
	return Policy{
		VoteCounting:  VoteCountingCounted,
		ExecutionMode: ExecutionModeUnchecked,
	}
}

// Validate rejects unknown enum values.
func (p Policy) Validate() error {
	switch p.VoteCounting {
	case VoteCountingOnePerVoter, VoteCountingCounted:
	default:
		return fmt.Errorf("%w: unknown vote counting %q", dao.ErrInvalidArgument, p.VoteCounting)
	}
	switch p.ExecutionMode {
	case ExecutionModeGated, ExecutionModeUnchecked:
	default:
		return fmt.Errorf("%w: unknown execution mode %q", dao.ErrInvalidArgument, p.ExecutionMode)
	}
	return nil
}
