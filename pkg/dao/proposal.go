package dao

import (
	"fmt"
	"maps"
)

// Proposal is a bundle of changes plus its running tally. Everything except
// the counters, Ballots and Executed is fixed at creation.
type Proposal struct {
	ID          uint64           `json:"id"`
	DAO         ID               `json:"dao_id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Changes     []ProposedChange `json:"proposed_changes"`
	Proposer    ID               `json:"proposer"`
	// StartTime and EndTime bound the voting window [StartTime, EndTime),
	// in unix seconds.
	StartTime    uint64 `json:"start_time"`
	EndTime      uint64 `json:"end_time"`
	YesVotes     uint64 `json:"yes_votes"`
	NoVotes      uint64 `json:"no_votes"`
	AbstainVotes uint64 `json:"abstain_votes"`
	Executed     bool   `json:"executed"`
	// Ballots maps each voter to the last vote counted for them. Only the
	// one-vote-per-voter policy fills it.
	Ballots map[ID]VoteType `json:"ballots,omitempty"`
}

// Tally returns the proposal's counters.
func (p Proposal) Tally() Tally {
	return Tally{Yes: p.YesVotes, No: p.NoVotes, Abstain: p.AbstainVotes}
}

// Clone returns a deep copy of p.
func (p Proposal) Clone() Proposal {
	out := p
	if p.Changes != nil {
		out.Changes = make([]ProposedChange, len(p.Changes))
		for i, c := range p.Changes {
			out.Changes[i] = c
			if c.Payload != nil {
				out.Changes[i].Payload = append([]byte(nil), c.Payload...)
			}
		}
	}
	if p.Ballots != nil {
		out.Ballots = maps.Clone(p.Ballots)
	}
	return out
}

// VotingOpen reports whether now falls inside [StartTime, EndTime).
func (p Proposal) VotingOpen(now uint64) bool {
	return now >= p.StartTime && now < p.EndTime
}

// RecordVote counts one vote of type v. Repeated calls are all counted.
func (p Proposal) RecordVote(v VoteType) (Proposal, error) {
	out := p.Clone()
	counter, err := out.counter(v)
	if err != nil {
		return p, err
	}
	if *counter == ^uint64(0) {
		return p, fmt.Errorf("%w: %s counter overflow", ErrInvalidArgument, v)
	}
	*counter++
	return out, nil
}

// RecordBallot records voter's vote v, keeping at most one counted vote per
// voter. A repeat of the same choice changes nothing; a changed choice
// moves the voter's unit from the old counter to the new one.
func (p Proposal) RecordBallot(voter ID, v VoteType) (Proposal, error) {
	if !v.Valid() {
		return p, fmt.Errorf("%w: unknown vote type %q", ErrInvalidArgument, v)
	}
	prev, seen := p.Ballots[voter]
	if seen && prev == v {
		return p.Clone(), nil
	}

	out, err := p.RecordVote(v)
	if err != nil {
		return p, err
	}
	if seen {
		counter, err := out.counter(prev)
		if err != nil {
			return p, err
		}
		if *counter > 0 {
			*counter--
		}
	}
	if out.Ballots == nil {
		out.Ballots = make(map[ID]VoteType)
	}
	out.Ballots[voter] = v
	return out, nil
}

// MarkExecuted returns p with Executed set. It fails if p already ran.
func (p Proposal) MarkExecuted() (Proposal, error) {
	if p.Executed {
		return p, fmt.Errorf("%w: proposal %d", ErrAlreadyExecuted, p.ID)
	}
	out := p.Clone()
	out.Executed = true
	return out, nil
}

func (p *Proposal) counter(v VoteType) (*uint64, error) {
	switch v {
	case VoteYes:
		return &p.YesVotes, nil
	case VoteNo:
		return &p.NoVotes, nil
	case VoteAbstain:
		return &p.AbstainVotes, nil
	default:
		return nil, fmt.Errorf("%w: unknown vote type %q", ErrInvalidArgument, v)
	}
}
