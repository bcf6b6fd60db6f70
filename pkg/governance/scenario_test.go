package governance

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tfarhan00/tahu-program/pkg/audit"
	"github.com/tfarhan00/tahu-program/pkg/dao"
	"github.com/tfarhan00/tahu-program/pkg/observability"
	"github.com/tfarhan00/tahu-program/pkg/store"
)

func scenarioBackends() map[string]func(t *testing.T) store.Store {
	return map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return store.NewMemoryStore() },
		"sqlite": func(t *testing.T) store.Store {
			s, err := store.OpenSQL(context.Background(), store.DialectSQLite, ":memory:")
			require.NoError(t, err)
			require.NoError(t, s.Migrate(context.Background()))
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"redis": func(t *testing.T) store.Store {
			mr := miniredis.RunT(t)
			s := store.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

// A five-member organization approves a description change with three
// yes votes and two abstentions.
func TestScenario_ProposalLifecycle(t *testing.T) {
	for name, open := range scenarioBackends() {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			telemetry, err := observability.NewWithProviders(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
			require.NoError(t, err)
			e := newEngine(t, s, DefaultPolicy()).WithTelemetry(telemetry)
			ctx := context.Background()

			seedDAO(t, e, dao.VotingThresholds{ProposalCreationThreshold: 1, VoteApprovalThreshold: 3, VoteParticipationThreshold: 5})
			seedProposal(t, e, describeChange(t, "v2"))

			vote(t, e, "alice", dao.VoteYes)
			vote(t, e, "bob", dao.VoteYes)
			vote(t, e, "carol", dao.VoteYes)
			vote(t, e, "dave", dao.VoteAbstain)

			_, err = e.Execute(as("erin"), "dao-1", 1)
			require.ErrorIs(t, err, dao.ErrApprovalNotMet)

			vote(t, e, "erin", dao.VoteAbstain)

			decision, err := e.Evaluate(ctx, "dao-1", 1)
			require.NoError(t, err)
			assert.True(t, decision.Approved)
			assert.Equal(t, dao.Tally{Yes: 3, Abstain: 2}, decision.Tally)

			p, err := e.Execute(as("erin"), "dao-1", 1)
			require.NoError(t, err)
			assert.True(t, p.Executed)

			d, err := e.GetDAO(ctx, "dao-1")
			require.NoError(t, err)
			assert.Equal(t, "v2", d.Description)
			assert.Equal(t, "Guild", d.Name)
			assert.Equal(t, members, d.Members)

			stored, err := e.GetProposal(ctx, "dao-1", 1)
			require.NoError(t, err)
			assert.True(t, stored.Executed)
			assert.Equal(t, dao.Tally{Yes: 3, Abstain: 2}, stored.Tally())

			_, err = e.Execute(as("erin"), "dao-1", 1)
			assert.ErrorIs(t, err, dao.ErrAlreadyExecuted)

			entries, err := s.Journal(ctx)
			require.NoError(t, err)
			require.NoError(t, audit.Verify(entries))
			require.Len(t, entries, 8)
			assert.Equal(t, audit.ActionProposalExecute, entries[7].Action)
		})
	}
}
