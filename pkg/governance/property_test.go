//go:build property
// +build property

package governance_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/tfarhan00/tahu-program/pkg/auth"
	"github.com/tfarhan00/tahu-program/pkg/dao"
	"github.com/tfarhan00/tahu-program/pkg/governance"
	"github.com/tfarhan00/tahu-program/pkg/store"
)

var voteTypes = []dao.VoteType{dao.VoteYes, dao.VoteNo, dao.VoteAbstain}

func genVoteType() gopter.Gen {
	return gen.IntRange(0, len(voteTypes)-1).Map(func(i int) dao.VoteType { return voteTypes[i] })
}

func caller(id string) context.Context {
	return auth.WithPrincipal(context.Background(), &auth.BasePrincipal{ID: id})
}

func fixture(policy governance.Policy, th dao.VotingThresholds, voters int) (*governance.Engine, error) {
	e := governance.NewEngine(store.NewMemoryStore(), policy).
		WithClock(func() time.Time { return time.Unix(150, 0) }).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	members := make([]dao.ID, voters)
	for i := range members {
		members[i] = dao.ID(fmt.Sprintf("m%d", i))
	}
	if _, err := e.CreateDAO(caller("m0"), dao.DAO{ID: "d", Name: "n", Members: members, Thresholds: th}); err != nil {
		return nil, err
	}
	_, err := e.CreateProposal(caller("m0"), "d", dao.Proposal{ID: 1, Proposer: "m0", StartTime: 100, EndTime: 200})
	return e, err
}

// TestCountedVotesAccumulate verifies that in counted mode n votes of one
// type raise that counter by exactly n.
// Property: counter(type) == n after n calls
func TestCountedVotesAccumulate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	policy := governance.DefaultPolicy()
	policy.VoteCounting = governance.VoteCountingCounted

	properties.Property("each counted vote adds one", prop.ForAll(
		func(n int, vt dao.VoteType) bool {
			e, err := fixture(policy, dao.VotingThresholds{ProposalCreationThreshold: 1}, 1)
			if err != nil {
				return false
			}
			var p dao.Proposal
			for i := 0; i < n; i++ {
				p, err = e.Vote(caller("m0"), "d", dao.Vote{ProposalID: 1, Voter: "m0", Type: vt})
				if err != nil {
					return false
				}
			}
			if n == 0 {
				p, _ = e.GetProposal(context.Background(), "d", 1)
			}
			want := dao.Tally{}
			switch vt {
			case dao.VoteYes:
				want.Yes = uint64(n)
			case dao.VoteNo:
				want.No = uint64(n)
			case dao.VoteAbstain:
				want.Abstain = uint64(n)
			}
			return p.Tally() == want
		},
		gen.IntRange(0, 20),
		genVoteType(),
	))

	properties.TestingRun(t)
}

// TestBallotsCountLastChoice verifies one-per-voter counting.
// Property: tally == histogram of each voter's last choice
func TestBallotsCountLastChoice(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("tally reflects the last ballot per voter", prop.ForAll(
		func(voters []int, choices []dao.VoteType) bool {
			e, err := fixture(governance.DefaultPolicy(), dao.VotingThresholds{ProposalCreationThreshold: 1}, 4)
			if err != nil {
				return false
			}
			last := map[int]dao.VoteType{}
			for i := 0; i < len(voters) && i < len(choices); i++ {
				id := fmt.Sprintf("m%d", voters[i])
				if _, err := e.Vote(caller(id), "d", dao.Vote{ProposalID: 1, Voter: dao.ID(id), Type: choices[i]}); err != nil {
					return false
				}
				last[voters[i]] = choices[i]
			}
			var want dao.Tally
			for _, vt := range last {
				switch vt {
				case dao.VoteYes:
					want.Yes++
				case dao.VoteNo:
					want.No++
				case dao.VoteAbstain:
					want.Abstain++
				}
			}
			p, err := e.GetProposal(context.Background(), "d", 1)
			return err == nil && p.Tally() == want
		},
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.SliceOf(genVoteType()),
	))

	properties.TestingRun(t)
}

// TestExecuteGate verifies execution succeeds exactly when both thresholds
// hold, and a rejected execute changes nothing.
// Property: Execute ok <=> yes >= approval && total >= participation
func TestExecuteGate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("execution is gated by thresholds", prop.ForAll(
		func(yes, no, approval, participation int) bool {
			th := dao.VotingThresholds{
				ProposalCreationThreshold:  1,
				VoteApprovalThreshold:      uint64(approval),
				VoteParticipationThreshold: uint64(participation),
			}
			e, err := fixture(governance.DefaultPolicy(), th, yes+no+1)
			if err != nil {
				return false
			}
			for i := 0; i < yes+no; i++ {
				vt := dao.VoteYes
				if i >= yes {
					vt = dao.VoteNo
				}
				id := fmt.Sprintf("m%d", i)
				if _, err := e.Vote(caller(id), "d", dao.Vote{ProposalID: 1, Voter: dao.ID(id), Type: vt}); err != nil {
					return false
				}
			}

			_, err = e.Execute(caller("m0"), "d", 1)
			shouldPass := yes >= approval && yes+no >= participation
			if shouldPass {
				return err == nil
			}
			if !errors.Is(err, dao.ErrApprovalNotMet) {
				return false
			}
			p, err := e.GetProposal(context.Background(), "d", 1)
			return err == nil && !p.Executed
		},
		gen.IntRange(0, 5),
		gen.IntRange(0, 5),
		gen.IntRange(0, 6),
		gen.IntRange(0, 11),
	))

	properties.TestingRun(t)
}
