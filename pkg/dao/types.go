// Package dao holds the governance record types and the pure value
// operations applied to them. Nothing here touches storage: callers load a
// record, derive a new value and hand it back to a store transaction.
package dao

import "fmt"

// ID identifies an organization, a member or any other addressable record.
type ID string

// VotingThresholds gate proposal creation and execution.
type VotingThresholds struct {
	// ProposalCreationThreshold is the minimum voting weight (member-list
	// multiplicity) a proposer must hold.
	ProposalCreationThreshold uint64 `json:"proposal_creation_threshold"`
	// VoteApprovalThreshold is the minimum number of Yes votes.
	VoteApprovalThreshold uint64 `json:"vote_approval_threshold"`
	// VoteParticipationThreshold is the minimum number of Yes+No+Abstain votes.
	VoteParticipationThreshold uint64 `json:"vote_participation_threshold"`
}

// DAO is the organization record.
type DAO struct {
	ID          ID               `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Members     []ID             `json:"members"`
	Thresholds  VotingThresholds `json:"voting_thresholds"`
}

// Update is a partial DAO patch. Nil fields are left untouched; present
// fields replace the current value wholesale.
type Update struct {
	DAO         ID                `json:"dao_id,omitempty"`
	Name        *string           `json:"new_name,omitempty"`
	Description *string           `json:"new_description,omitempty"`
	Members     *[]ID             `json:"new_members,omitempty"`
	Thresholds  *VotingThresholds `json:"new_voting_thresholds,omitempty"`
}

// Member names one member of one organization.
type Member struct {
	DAO    ID `json:"dao_id"`
	Member ID `json:"member_pubkey"`
}

// MemberAction is the edit carried by an UpdateMember change.
type MemberAction string

const (
	MemberActionAdd     MemberAction = "add"
	MemberActionRemove  MemberAction = "remove"
	MemberActionReplace MemberAction = "replace"
)

// MemberUpdate is the payload of an UpdateMember change. The change target
// is the member being edited.
type MemberUpdate struct {
	DAO         ID           `json:"dao_id,omitempty"`
	Action      MemberAction `json:"action"`
	Replacement ID           `json:"replacement,omitempty"`
}

// ChangeKind tags a ProposedChange.
type ChangeKind string

const (
	ChangeKindUpdateMember ChangeKind = "UPDATE_MEMBER"
	ChangeKindUpdateDAO    ChangeKind = "UPDATE_DAO"
	ChangeKindOther        ChangeKind = "OTHER"
)

// Valid reports whether k is one of the known kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeKindUpdateMember, ChangeKindUpdateDAO, ChangeKindOther:
		return true
	default:
		return false
	}
}

// ProposedChange is one entry of a proposal's change list. Payload is opaque
// until the dispatcher decodes it for Kind.
type ProposedChange struct {
	Kind    ChangeKind `json:"change_type"`
	Target  ID         `json:"target"`
	Payload []byte     `json:"data"`
}

// VoteType is a single ballot choice.
type VoteType string

const (
	VoteYes     VoteType = "YES"
	VoteNo      VoteType = "NO"
	VoteAbstain VoteType = "ABSTAIN"
)

// Valid reports whether v is one of the known vote types.
func (v VoteType) Valid() bool {
	switch v {
	case VoteYes, VoteNo, VoteAbstain:
		return true
	default:
		return false
	}
}

// Vote is one caller's choice on one proposal.
type Vote struct {
	ProposalID uint64   `json:"proposal_id"`
	Voter      ID       `json:"voter"`
	Type       VoteType `json:"vote_type"`
}

// Tally is the aggregate of a proposal's counters.
type Tally struct {
	Yes     uint64 `json:"yes"`
	No      uint64 `json:"no"`
	Abstain uint64 `json:"abstain"`
}

// Total returns Yes+No+Abstain, saturating at the uint64 maximum.
func (t Tally) Total() uint64 {
	total := t.Yes
	for _, n := range []uint64{t.No, t.Abstain} {
		if total+n < total {
			return ^uint64(0)
		}
		total += n
	}
	return total
}

func (t Tally) String() string {
	return fmt.Sprintf("yes=%d no=%d abstain=%d total=%d", t.Yes, t.No, t.Abstain, t.Total())
}
