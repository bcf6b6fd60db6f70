package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfarhan00/tahu-program/pkg/dao"
)

type fakeRecords struct {
	daos map[dao.ID]dao.DAO
	puts int
}

func newFakeRecords(ds ...dao.DAO) *fakeRecords {
	f := &fakeRecords{daos: make(map[dao.ID]dao.DAO)}
	for _, d := range ds {
		f.daos[d.ID] = d
	}
	return f
}

func (f *fakeRecords) GetDAO(_ context.Context, id dao.ID) (dao.DAO, error) {
	d, ok := f.daos[id]
	if !ok {
		return dao.DAO{}, dao.ErrNotFound
	}
	return d.Clone(), nil
}

func (f *fakeRecords) PutDAO(_ context.Context, d dao.DAO) error {
	f.puts++
	f.daos[d.ID] = d
	return nil
}

func guild() dao.DAO {
	return dao.DAO{
		ID:          "dao-1",
		Name:        "Guild",
		Description: "v1",
		Members:     []dao.ID{"alice", "bob"},
		Thresholds:  dao.VotingThresholds{ProposalCreationThreshold: 1, VoteApprovalThreshold: 1, VoteParticipationThreshold: 1},
	}
}

func TestDecode_UpdateDAO(t *testing.T) {
	c, err := Decode(dao.ProposedChange{
		Kind:    dao.ChangeKindUpdateDAO,
		Target:  "dao-1",
		Payload: []byte(`{"new_description":"v2","new_voting_thresholds":{"proposal_creation_threshold":1,"vote_approval_threshold":3,"vote_participation_threshold":5}}`),
	})
	require.NoError(t, err)

	u, ok := c.(UpdateDAO)
	require.True(t, ok)
	assert.Equal(t, dao.ID("dao-1"), u.Target)
	require.NotNil(t, u.Update.Description)
	assert.Equal(t, "v2", *u.Update.Description)
	assert.Nil(t, u.Update.Name)
	assert.Equal(t, uint64(5), u.Update.Thresholds.VoteParticipationThreshold)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		change dao.ProposedChange
	}{
		{"not json", dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte(`nope`)}},
		{"empty", dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1"}},
		{"unknown field", dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte(`{"colour":"red"}`)}},
		{"wrong type", dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte(`{"new_name":7}`)}},
		{"negative threshold", dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte(`{"new_voting_thresholds":{"proposal_creation_threshold":-1,"vote_approval_threshold":0,"vote_participation_threshold":0}}`)}},
		{"partial thresholds", dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte(`{"new_voting_thresholds":{"vote_approval_threshold":1}}`)}},
		{"trailing data", dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte(`{} {}`)}},
		{"trailing brace", dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte(`{"new_name":"x"}}`)}},
		{"trailing bracket", dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte(`{"new_name":"x"}]`)}},
		{"dao mismatch", dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte(`{"dao_id":"dao-2"}`)}},
		{"bad action", dao.ProposedChange{Kind: dao.ChangeKindUpdateMember, Target: "bob", Payload: []byte(`{"action":"promote"}`)}},
		{"replace without replacement", dao.ProposedChange{Kind: dao.ChangeKindUpdateMember, Target: "bob", Payload: []byte(`{"action":"replace"}`)}},
		{"member without target", dao.ProposedChange{Kind: dao.ChangeKindUpdateMember, Payload: []byte(`{"action":"add"}`)}},
		{"unknown kind", dao.ProposedChange{Kind: "DELETE_DAO", Target: "dao-1", Payload: []byte(`{}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.change)
			assert.ErrorIs(t, err, dao.ErrMalformedChangePayload)
		})
	}
}

func TestDecode_OtherAcceptsAnything(t *testing.T) {
	c, err := Decode(dao.ProposedChange{Kind: dao.ChangeKindOther, Target: "x", Payload: []byte{0xff, 0x00}})
	require.NoError(t, err)
	assert.Equal(t, dao.ChangeKindOther, c.Kind())

	rec := newFakeRecords(guild())
	require.NoError(t, Apply(context.Background(), rec, dao.Proposal{DAO: "dao-1"}, c))
	assert.Zero(t, rec.puts)
}

func TestApply_UpdateDAO(t *testing.T) {
	rec := newFakeRecords(guild())
	change, err := NewUpdateDAOChange("dao-1", dao.Update{Name: strPtr("X")})
	require.NoError(t, err)

	require.NoError(t, ApplyAll(context.Background(), rec, dao.Proposal{DAO: "dao-1", Changes: []dao.ProposedChange{change}}))

	got := rec.daos["dao-1"]
	want := guild()
	want.Name = "X"
	assert.Equal(t, want, got)
}

func TestApply_UpdateDAOOtherOrganization(t *testing.T) {
	other := guild()
	other.ID = "dao-2"
	rec := newFakeRecords(guild(), other)
	change, err := NewUpdateDAOChange("dao-2", dao.Update{Name: strPtr("hijacked")})
	require.NoError(t, err)

	err = ApplyAll(context.Background(), rec, dao.Proposal{DAO: "dao-1", Changes: []dao.ProposedChange{change}})
	assert.ErrorIs(t, err, dao.ErrUnauthorized)
	assert.Equal(t, "Guild", rec.daos["dao-2"].Name)
}

func TestApply_UpdateMember(t *testing.T) {
	tests := []struct {
		name   string
		target dao.ID
		edit   dao.MemberUpdate
		want   []dao.ID
		err    error
	}{
		{"add", "carol", dao.MemberUpdate{Action: dao.MemberActionAdd}, []dao.ID{"alice", "bob", "carol"}, nil},
		{"remove", "alice", dao.MemberUpdate{Action: dao.MemberActionRemove}, []dao.ID{"bob"}, nil},
		{"remove absent", "zed", dao.MemberUpdate{Action: dao.MemberActionRemove}, []dao.ID{"alice", "bob"}, nil},
		{"replace", "bob", dao.MemberUpdate{Action: dao.MemberActionReplace, Replacement: "dave"}, []dao.ID{"alice", "dave"}, nil},
		{"replace absent", "zed", dao.MemberUpdate{Action: dao.MemberActionReplace, Replacement: "dave"}, []dao.ID{"alice", "bob"}, dao.ErrNotFound},
		{"other dao", "carol", dao.MemberUpdate{DAO: "dao-2", Action: dao.MemberActionAdd}, []dao.ID{"alice", "bob"}, dao.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newFakeRecords(guild())
			change, err := NewUpdateMemberChange(tt.target, tt.edit)
			require.NoError(t, err)

			err = ApplyAll(context.Background(), rec, dao.Proposal{DAO: "dao-1", Changes: []dao.ProposedChange{change}})
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, rec.daos["dao-1"].Members)
		})
	}
}

func TestApplyAll_InOrder(t *testing.T) {
	rec := newFakeRecords(guild())
	first, err := NewUpdateMemberChange("carol", dao.MemberUpdate{Action: dao.MemberActionAdd})
	require.NoError(t, err)
	second, err := NewUpdateMemberChange("carol", dao.MemberUpdate{Action: dao.MemberActionReplace, Replacement: "dave"})
	require.NoError(t, err)

	p := dao.Proposal{DAO: "dao-1", Changes: []dao.ProposedChange{first, second}}
	require.NoError(t, ApplyAll(context.Background(), rec, p))
	assert.Equal(t, []dao.ID{"alice", "bob", "dave"}, rec.daos["dao-1"].Members)
}

func TestDecodeAll_ReportsIndex(t *testing.T) {
	good, err := NewUpdateDAOChange("dao-1", dao.Update{Name: strPtr("X")})
	require.NoError(t, err)
	bad := dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte(`{`)}

	_, err = DecodeAll([]dao.ProposedChange{good, bad})
	require.ErrorIs(t, err, dao.ErrMalformedChangePayload)
	assert.Contains(t, err.Error(), "change 1")
}

func TestDecode_TrailingWhitespace(t *testing.T) {
	_, err := Decode(dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: "dao-1", Payload: []byte("{\"new_name\":\"x\"}\n ")})
	assert.NoError(t, err)
}

func TestDecodeFor(t *testing.T) {
	own, err := NewUpdateMemberChange("carol", dao.MemberUpdate{DAO: "dao-1", Action: dao.MemberActionAdd})
	require.NoError(t, err)
	unbound, err := NewUpdateMemberChange("carol", dao.MemberUpdate{Action: dao.MemberActionAdd})
	require.NoError(t, err)
	foreignMember, err := NewUpdateMemberChange("carol", dao.MemberUpdate{DAO: "dao-2", Action: dao.MemberActionAdd})
	require.NoError(t, err)
	foreignDAO, err := NewUpdateDAOChange("dao-2", dao.Update{Name: strPtr("X")})
	require.NoError(t, err)

	decoded, err := DecodeFor("dao-1", []dao.ProposedChange{own, unbound})
	require.NoError(t, err)
	assert.Len(t, decoded, 2)

	_, err = DecodeFor("dao-1", []dao.ProposedChange{own, foreignMember})
	require.ErrorIs(t, err, dao.ErrUnauthorized)
	assert.Contains(t, err.Error(), "change 1")

	_, err = DecodeFor("dao-1", []dao.ProposedChange{foreignDAO})
	assert.ErrorIs(t, err, dao.ErrUnauthorized)

	_, err = DecodeFor("dao-1", []dao.ProposedChange{{Kind: dao.ChangeKindUpdateMember, Target: "carol", Payload: []byte(`{"action":"add"}]`)}})
	assert.ErrorIs(t, err, dao.ErrMalformedChangePayload)
}

func TestEncode_Canonical(t *testing.T) {
	a, err := Encode(dao.ChangeKindUpdateDAO, map[string]any{"new_name": "X", "new_description": "Y"})
	require.NoError(t, err)
	b, err := Encode(dao.ChangeKindUpdateDAO, dao.Update{Description: strPtr("Y"), Name: strPtr("X")})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"new_description":"Y","new_name":"X"}`, string(a))

	_, err = Encode(dao.ChangeKindUpdateMember, dao.MemberUpdate{Action: "promote"})
	assert.ErrorIs(t, err, dao.ErrMalformedChangePayload)
}

func strPtr(s string) *string { return &s }
