// Package governance implements the DAO governance state machine: the
// membership and threshold operations, proposal creation, voting, and
// threshold-gated, exactly-once execution of proposed changes.
//
// Every mutating entry point runs as one store transaction. The caller's
// identity comes from auth.GetPrincipal; the transaction reads what it
// needs, derives new record values, appends an audit entry and commits
// once. Any error leaves every record unchanged.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tfarhan00/tahu-program/pkg/audit"
	"github.com/tfarhan00/tahu-program/pkg/auth"
	"github.com/tfarhan00/tahu-program/pkg/dao"
	"github.com/tfarhan00/tahu-program/pkg/dispatch"
	"github.com/tfarhan00/tahu-program/pkg/observability"
	"github.com/tfarhan00/tahu-program/pkg/store"
)

// Engine is the governance state machine over a Store.
type Engine struct {
	store     store.Store
	policy    Policy
	rule      ApprovalRule
	clock     func() time.Time
	logger    *slog.Logger
	telemetry *observability.Provider
}

// NewEngine creates an engine. Call Policy.Validate first if the policy
// comes from configuration.
func NewEngine(s store.Store, policy Policy) *Engine {
	return &Engine{
		store:  s,
		policy: policy,
		clock:  time.Now,
		logger: slog.Default().With("component", "governance"),
	}
}

// WithClock overrides clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithLogger replaces the default component logger.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger.With("component", "governance")
	return e
}

// WithApprovalRule adds a condition Execute checks after the thresholds.
// It is ignored in ExecutionModeUnchecked.
func (e *Engine) WithApprovalRule(rule ApprovalRule) *Engine {
	e.rule = rule
	return e
}

// WithTelemetry tracks every mutating entry point with p.
func (e *Engine) WithTelemetry(p *observability.Provider) *Engine {
	e.telemetry = p
	return e
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy { return e.policy }

// CreateDAO creates an organization. Any verified caller may create one.
func (e *Engine) CreateDAO(ctx context.Context, d dao.DAO) (dao.DAO, error) {
	var created dao.DAO
	err := e.run(ctx, "governance.create_dao", observability.DAOOperation(d.ID), func(ctx context.Context, caller auth.Principal) error {
		if err := d.Validate(); err != nil {
			return err
		}
		created = d.Normalized()
		return e.store.Update(ctx, func(tx store.Tx) error {
			if err := tx.CreateDAO(ctx, created); err != nil {
				return err
			}
			return e.journal(ctx, tx, audit.ActionDAOCreate, created.ID, daoSubject(created.ID), caller, created)
		})
	})
	if err != nil {
		return dao.DAO{}, err
	}
	return created, nil
}

// UpdateDAO patches the organization named by u.DAO. Each present field
// replaces the current value; absent fields are left alone.
func (e *Engine) UpdateDAO(ctx context.Context, u dao.Update) (dao.DAO, error) {
	return e.mutateDAO(ctx, "governance.update_dao", u.DAO, audit.ActionDAOUpdate, u, func(d dao.DAO) (dao.DAO, bool, error) {
		if err := u.Validate(); err != nil {
			return d, false, err
		}
		return d.Apply(u), true, nil
	})
}

// AddMember appends m.Member to the member list. Duplicates are kept.
func (e *Engine) AddMember(ctx context.Context, m dao.Member) (dao.DAO, error) {
	return e.mutateDAO(ctx, "governance.add_member", m.DAO, audit.ActionMemberAdd, m, func(d dao.DAO) (dao.DAO, bool, error) {
		if m.Member == "" {
			return d, false, fmt.Errorf("%w: member is required", dao.ErrInvalidArgument)
		}
		return d.WithMember(m.Member), true, nil
	})
}

// RemoveMember removes the first occurrence of m.Member. Removing an
// absent member succeeds and writes nothing.
func (e *Engine) RemoveMember(ctx context.Context, m dao.Member) (dao.DAO, error) {
	return e.mutateDAO(ctx, "governance.remove_member", m.DAO, audit.ActionMemberRemove, m, func(d dao.DAO) (dao.DAO, bool, error) {
		next, removed := d.WithoutMember(m.Member)
		return next, removed, nil
	})
}

// ChangeVotingThresholds replaces the thresholds of daoID.
func (e *Engine) ChangeVotingThresholds(ctx context.Context, daoID dao.ID, th dao.VotingThresholds) (dao.DAO, error) {
	return e.mutateDAO(ctx, "governance.change_voting_thresholds", daoID, audit.ActionThresholdsChange, th, func(d dao.DAO) (dao.DAO, bool, error) {
		d.Thresholds = th
		return d, true, nil
	})
}

// mutateDAO runs an administrative change to one organization. mutate
// reports false when there is nothing to write.
func (e *Engine) mutateDAO(ctx context.Context, op string, daoID dao.ID, action audit.Action, payload any, mutate func(dao.DAO) (dao.DAO, bool, error)) (dao.DAO, error) {
	var result dao.DAO
	err := e.run(ctx, op, observability.DAOOperation(daoID), func(ctx context.Context, caller auth.Principal) error {
		if daoID == "" {
			return fmt.Errorf("%w: dao id is required", dao.ErrInvalidArgument)
		}
		return e.store.Update(ctx, func(tx store.Tx) error {
			current, err := tx.GetDAO(ctx, daoID)
			if err != nil {
				return err
			}
			if err := e.authorizeAdmin(caller, current); err != nil {
				return err
			}
			next, changed, err := mutate(current)
			if err != nil {
				return err
			}
			result = next
			if !changed {
				return nil
			}
			if err := tx.PutDAO(ctx, next); err != nil {
				return err
			}
			return e.journal(ctx, tx, action, daoID, daoSubject(daoID), caller, payload)
		})
	})
	if err != nil {
		return dao.DAO{}, err
	}
	return result, nil
}

// CreateProposal stores p at (daoID, p.ID). The value is kept as
// submitted apart from the binding to daoID and the tally: ballots are
// dropped, and the counters start at zero unless the policy both counts
// every call and executes unchecked. The window is not checked.
func (e *Engine) CreateProposal(ctx context.Context, daoID dao.ID, p dao.Proposal) (dao.Proposal, error) {
	var created dao.Proposal
	err := e.run(ctx, "governance.create_proposal", observability.ProposalOperation(daoID, p.ID), func(ctx context.Context, caller auth.Principal) error {
		if p.DAO != "" && p.DAO != daoID {
			return fmt.Errorf("%w: proposal bound to %s, not %s", dao.ErrInvalidArgument, p.DAO, daoID)
		}
		created = p.Clone()
		created.DAO = daoID
		created.Ballots = nil
		if e.policy.VoteCounting == VoteCountingOnePerVoter || e.policy.ExecutionMode == ExecutionModeGated {
			created.YesVotes, created.NoVotes, created.AbstainVotes = 0, 0, 0
		}

		if e.policy.ValidateChangesOnCreate {
			if _, err := dispatch.DecodeFor(daoID, created.Changes); err != nil {
				return err
			}
		}
		return e.store.Update(ctx, func(tx store.Tx) error {
			d, err := tx.GetDAO(ctx, daoID)
			if err != nil {
				return err
			}
			if err := e.authorizeProposer(caller, d, created.Proposer); err != nil {
				return err
			}
			if err := tx.CreateProposal(ctx, created); err != nil {
				return err
			}
			return e.journal(ctx, tx, audit.ActionProposalCreate, daoID, proposalSubject(daoID, created.ID), caller, created)
		})
	})
	if err != nil {
		return dao.Proposal{}, err
	}
	return created, nil
}

// Vote records v against proposal v.ProposalID of daoID.
func (e *Engine) Vote(ctx context.Context, daoID dao.ID, v dao.Vote) (dao.Proposal, error) {
	var updated dao.Proposal
	err := e.run(ctx, "governance.vote", observability.ProposalOperation(daoID, v.ProposalID), func(ctx context.Context, caller auth.Principal) error {
		if !v.Type.Valid() {
			return fmt.Errorf("%w: unknown vote type %q", dao.ErrInvalidArgument, v.Type)
		}
		return e.store.Update(ctx, func(tx store.Tx) error {
			p, err := tx.GetProposal(ctx, daoID, v.ProposalID)
			if err != nil {
				return err
			}
			d, err := tx.GetDAO(ctx, daoID)
			if err != nil {
				return err
			}
			if err := e.authorizeVoter(caller, d, v.Voter); err != nil {
				return err
			}
			if e.policy.EnforceVotingWindow {
				if p.Executed {
					return fmt.Errorf("%w: proposal %d", dao.ErrAlreadyExecuted, p.ID)
				}
				if now := e.now(); !p.VotingOpen(now) {
					return fmt.Errorf("%w: now %d outside [%d, %d)", dao.ErrVotingClosed, now, p.StartTime, p.EndTime)
				}
			}

			if e.policy.VoteCounting == VoteCountingCounted {
				updated, err = p.RecordVote(v.Type)
			} else {
				updated, err = p.RecordBallot(v.Voter, v.Type)
			}
			if err != nil {
				return err
			}
			if err := tx.PutProposal(ctx, updated); err != nil {
				return err
			}
			return e.journal(ctx, tx, audit.ActionProposalVote, daoID, proposalSubject(daoID, p.ID), caller, v)
		})
	})
	if err != nil {
		return dao.Proposal{}, err
	}
	return updated, nil
}

// Execute applies every change of an approved proposal in list order and
// marks it executed. Either all changes and the flag are committed, or
// nothing is.
func (e *Engine) Execute(ctx context.Context, daoID dao.ID, proposalID uint64) (dao.Proposal, error) {
	var executed dao.Proposal
	err := e.run(ctx, "governance.execute", observability.ProposalOperation(daoID, proposalID), func(ctx context.Context, caller auth.Principal) error {
		return e.store.Update(ctx, func(tx store.Tx) error {
			p, err := tx.GetProposal(ctx, daoID, proposalID)
			if err != nil {
				return err
			}
			if p.Executed {
				return fmt.Errorf("%w: proposal %d", dao.ErrAlreadyExecuted, p.ID)
			}
			d, err := tx.GetDAO(ctx, daoID)
			if err != nil {
				return err
			}
			if e.policy.ExecutionMode != ExecutionModeUnchecked {
				decision, err := e.decide(ctx, p, d)
				if err != nil {
					return err
				}
				if !decision.Approved {
					return fmt.Errorf("%w: %s", dao.ErrApprovalNotMet, decision.Reason)
				}
			}
			if err := dispatch.ApplyAll(ctx, tx, p); err != nil {
				return err
			}
			executed, err = p.MarkExecuted()
			if err != nil {
				return err
			}
			if err := tx.PutProposal(ctx, executed); err != nil {
				return err
			}
			return e.journal(ctx, tx, audit.ActionProposalExecute, daoID, proposalSubject(daoID, p.ID), caller, executed.Tally())
		})
	})
	if err != nil {
		return dao.Proposal{}, err
	}
	return executed, nil
}

// GetDAO reads an organization.
func (e *Engine) GetDAO(ctx context.Context, id dao.ID) (dao.DAO, error) {
	var d dao.DAO
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		d, err = r.GetDAO(ctx, id)
		return err
	})
	return d, err
}

// GetProposal reads a proposal.
func (e *Engine) GetProposal(ctx context.Context, daoID dao.ID, id uint64) (dao.Proposal, error) {
	var p dao.Proposal
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		p, err = r.GetProposal(ctx, daoID, id)
		return err
	})
	return p, err
}

// Evaluate reports what Execute would decide for the proposal right now,
// without writing anything.
func (e *Engine) Evaluate(ctx context.Context, daoID dao.ID, proposalID uint64) (Decision, error) {
	var decision Decision
	err := e.store.View(ctx, func(r store.Reader) error {
		p, err := r.GetProposal(ctx, daoID, proposalID)
		if err != nil {
			return err
		}
		d, err := r.GetDAO(ctx, daoID)
		if err != nil {
			return err
		}
		decision, err = e.decide(ctx, p, d)
		return err
	})
	return decision, err
}

func (e *Engine) decide(ctx context.Context, p dao.Proposal, d dao.DAO) (Decision, error) {
	decision := Evaluate(p.Tally(), d.Thresholds)
	if !decision.Approved || e.rule == nil {
		return decision, nil
	}
	ok, err := e.rule.Approve(ctx, p.Tally(), d)
	if err != nil {
		return decision, err
	}
	if !ok {
		decision.Approved = false
		decision.Reason = fmt.Sprintf("approval rule %v rejected", e.rule)
	}
	return decision, nil
}

func (e *Engine) authorizeAdmin(caller auth.Principal, d dao.DAO) error {
	if !e.policy.RequireMembership || caller.HasRole(auth.RoleOperator) {
		return nil
	}
	if !d.IsMember(dao.ID(caller.GetID())) {
		return fmt.Errorf("%w: %s is not a member of %s", dao.ErrUnauthorized, caller.GetID(), d.ID)
	}
	return nil
}

func (e *Engine) authorizeProposer(caller auth.Principal, d dao.DAO, proposer dao.ID) error {
	if !e.policy.RequireMembership {
		return nil
	}
	if proposer != dao.ID(caller.GetID()) {
		return fmt.Errorf("%w: caller %s cannot propose as %s", dao.ErrUnauthorized, caller.GetID(), proposer)
	}
	need := max(d.Thresholds.ProposalCreationThreshold, 1)
	if w := d.Weight(proposer); w < need {
		return fmt.Errorf("%w: proposer weight %d < %d", dao.ErrUnauthorized, w, need)
	}
	return nil
}

func (e *Engine) authorizeVoter(caller auth.Principal, d dao.DAO, voter dao.ID) error {
	if !e.policy.RequireMembership {
		return nil
	}
	if voter != dao.ID(caller.GetID()) {
		return fmt.Errorf("%w: caller %s cannot vote as %s", dao.ErrUnauthorized, caller.GetID(), voter)
	}
	if !d.IsMember(voter) {
		return fmt.Errorf("%w: %s is not a member of %s", dao.ErrUnauthorized, voter, d.ID)
	}
	return nil
}

func (e *Engine) journal(ctx context.Context, tx store.Tx, action audit.Action, daoID dao.ID, subject string, caller auth.Principal, payload any) error {
	entry, err := audit.NewEntry(action, daoID, subject, caller.GetID(), payload, e.clock())
	if err != nil {
		return err
	}
	_, err = tx.Append(ctx, entry)
	return err
}

// run resolves the caller, tracks the operation and logs its outcome.
func (e *Engine) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context, auth.Principal) error) (err error) {
	if e.telemetry != nil {
		var finish func(error)
		ctx, finish = e.telemetry.TrackOperation(ctx, op, attrs...)
		defer func() { finish(err) }()
	}

	logAttrs := make([]any, 0, 2*len(attrs)+4)
	logAttrs = append(logAttrs, "operation", op)
	for _, a := range attrs {
		logAttrs = append(logAttrs, string(a.Key), a.Value.Emit())
	}

	caller, perr := auth.GetPrincipal(ctx)
	if perr != nil {
		err = fmt.Errorf("%w: %w", dao.ErrUnauthorized, perr)
		e.logger.WarnContext(ctx, "operation rejected", append(logAttrs, "code", dao.ErrorCode(err), "error", err)...)
		return err
	}
	logAttrs = append(logAttrs, "actor", caller.GetID())

	if err = fn(ctx, caller); err != nil {
		level := slog.LevelWarn
		if dao.ErrorCode(err) == dao.CodeInternal {
			level = slog.LevelError
		}
		e.logger.Log(ctx, level, "operation rejected", append(logAttrs, "code", dao.ErrorCode(err), "error", err)...)
		return err
	}
	e.logger.InfoContext(ctx, "operation committed", logAttrs...)
	return nil
}

func (e *Engine) now() uint64 {
	if ts := e.clock().Unix(); ts > 0 {
		return uint64(ts)
	}
	return 0
}

func daoSubject(id dao.ID) string { return "dao/" + string(id) }

func proposalSubject(daoID dao.ID, id uint64) string {
	return "proposal/" + string(daoID) + "/" + strconv.FormatUint(id, 10)
}

// IsRetryable reports whether err came from a concurrent writer and the
// call may be repeated as is.
func IsRetryable(err error) bool {
	return errors.Is(err, dao.ErrConflict)
}
