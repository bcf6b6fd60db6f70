package governance

import (
	"context"
	"fmt"
	"math"

	"github.com/google/cel-go/cel"

	"github.com/tfarhan00/tahu-program/pkg/dao"
)

// Decision is the outcome of checking a tally against thresholds.
type Decision struct {
	Approved   bool                 `json:"approved"`
	Tally      dao.Tally            `json:"tally"`
	Thresholds dao.VotingThresholds `json:"thresholds"`
	// Reason names the first unmet condition; empty when approved.
	Reason string `json:"reason,omitempty"`
}

// Evaluate approves iff yes+no+abstain reaches the participation threshold
// and yes reaches the approval threshold. Integer comparison, no rounding.
func Evaluate(t dao.Tally, th dao.VotingThresholds) Decision {
	d := Decision{Tally: t, Thresholds: th}
	switch total := t.Total(); {
	case total < th.VoteParticipationThreshold:
		d.Reason = fmt.Sprintf("participation %d < %d", total, th.VoteParticipationThreshold)
	case t.Yes < th.VoteApprovalThreshold:
		d.Reason = fmt.Sprintf("approval %d < %d", t.Yes, th.VoteApprovalThreshold)
	default:
		d.Approved = true
	}
	return d
}

// ApprovalRule is an extra condition checked after the thresholds pass.
type ApprovalRule interface {
	Approve(ctx context.Context, t dao.Tally, d dao.DAO) (bool, error)
}

// CELApprovalRule is an ApprovalRule written as a CEL expression over the
// int variables yes, no, abstain, total and members, e.g. "yes > no".
type CELApprovalRule struct {
	expr string
	prg  cel.Program
}

// NewCELApprovalRule compiles expr. The expression must yield a bool.
func NewCELApprovalRule(expr string) (*CELApprovalRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("yes", cel.IntType),
		cel.Variable("no", cel.IntType),
		cel.Variable("abstain", cel.IntType),
		cel.Variable("total", cel.IntType),
		cel.Variable("members", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: approval rule compile: %v", dao.ErrInvalidArgument, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: approval rule must return bool, got %s", dao.ErrInvalidArgument, ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("approval rule program: %w", err)
	}
	return &CELApprovalRule{expr: expr, prg: prg}, nil
}

func (r *CELApprovalRule) String() string { return r.expr }

func (r *CELApprovalRule) Approve(ctx context.Context, t dao.Tally, d dao.DAO) (bool, error) {
	out, _, err := r.prg.ContextEval(ctx, map[string]any{
		"yes":     clampInt(t.Yes),
		"no":      clampInt(t.No),
		"abstain": clampInt(t.Abstain),
		"total":   clampInt(t.Total()),
		"members": int64(len(d.Members)),
	})
	if err != nil {
		return false, fmt.Errorf("approval rule eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("approval rule result not bool")
	}
	return val, nil
}

func clampInt(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}
