// Package dispatch turns a proposal's tagged changes into typed variants and
// applies them. The variant set is closed: UpdateDAO, UpdateMember and
// Other, each decoded from its payload by its own schema-checked decoder.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/tfarhan00/tahu-program/pkg/dao"
)

// Records is the state a change may read and write. store.Tx satisfies it.
type Records interface {
	GetDAO(ctx context.Context, id dao.ID) (dao.DAO, error)
	PutDAO(ctx context.Context, d dao.DAO) error
}

// Change is one decoded proposed change.
type Change interface {
	Kind() dao.ChangeKind
	apply(ctx context.Context, rec Records, p dao.Proposal) error
}

// UpdateDAO patches the target organization.
type UpdateDAO struct {
	Target dao.ID
	Update dao.Update
}

func (UpdateDAO) Kind() dao.ChangeKind { return dao.ChangeKindUpdateDAO }

func (c UpdateDAO) apply(ctx context.Context, rec Records, p dao.Proposal) error {
	if c.Target != p.DAO {
		return fmt.Errorf("%w: proposal for %s cannot update dao %s", dao.ErrUnauthorized, p.DAO, c.Target)
	}
	current, err := rec.GetDAO(ctx, c.Target)
	if err != nil {
		return err
	}
	return rec.PutDAO(ctx, current.Apply(c.Update))
}

// UpdateMember edits one entry of the proposal's member list. Target is
// the member being edited.
type UpdateMember struct {
	Target dao.ID
	Edit   dao.MemberUpdate
}

func (UpdateMember) Kind() dao.ChangeKind { return dao.ChangeKindUpdateMember }

func (c UpdateMember) apply(ctx context.Context, rec Records, p dao.Proposal) error {
	if c.Edit.DAO != "" && c.Edit.DAO != p.DAO {
		return fmt.Errorf("%w: proposal for %s cannot edit members of %s", dao.ErrUnauthorized, p.DAO, c.Edit.DAO)
	}
	current, err := rec.GetDAO(ctx, p.DAO)
	if err != nil {
		return err
	}

	var next dao.DAO
	switch c.Edit.Action {
	case dao.MemberActionAdd:
		next = current.WithMember(c.Target)
	case dao.MemberActionRemove:
		next, _ = current.WithoutMember(c.Target)
	case dao.MemberActionReplace:
		var ok bool
		next, ok = current.ReplaceMember(c.Target, c.Edit.Replacement)
		if !ok {
			return fmt.Errorf("%w: member %s of dao %s", dao.ErrNotFound, c.Target, p.DAO)
		}
	default:
		return fmt.Errorf("%w: unknown member action %q", dao.ErrMalformedChangePayload, c.Edit.Action)
	}
	return rec.PutDAO(ctx, next)
}

// Other is the extension point for kinds without a handler. Applying it
// does nothing and never fails.
type Other struct {
	Target  dao.ID
	Payload []byte
}

func (Other) Kind() dao.ChangeKind { return dao.ChangeKindOther }

func (Other) apply(context.Context, Records, dao.Proposal) error { return nil }

// Decode converts a tagged change into its variant.
func Decode(c dao.ProposedChange) (Change, error) {
	switch c.Kind {
	case dao.ChangeKindUpdateDAO:
		var u dao.Update
		if err := decodePayload(c.Kind, c.Payload, &u); err != nil {
			return nil, err
		}
		if u.DAO != "" && u.DAO != c.Target {
			return nil, fmt.Errorf("%w: payload dao_id %s does not match target %s",
				dao.ErrMalformedChangePayload, u.DAO, c.Target)
		}
		return UpdateDAO{Target: c.Target, Update: u}, nil
	case dao.ChangeKindUpdateMember:
		var m dao.MemberUpdate
		if err := decodePayload(c.Kind, c.Payload, &m); err != nil {
			return nil, err
		}
		if c.Target == "" {
			return nil, fmt.Errorf("%w: member change without target", dao.ErrMalformedChangePayload)
		}
		return UpdateMember{Target: c.Target, Edit: m}, nil
	case dao.ChangeKindOther:
		return Other{Target: c.Target, Payload: append([]byte(nil), c.Payload...)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown change kind %q", dao.ErrMalformedChangePayload, c.Kind)
	}
}

// DecodeAll decodes every change, failing on the first bad one.
func DecodeAll(changes []dao.ProposedChange) ([]Change, error) {
	out := make([]Change, 0, len(changes))
	for i, c := range changes {
		decoded, err := Decode(c)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
		out = append(out, decoded)
	}
	return out, nil
}

// DecodeFor decodes changes for a proposal of daoID and rejects any change
// bound to a different organization, the same way Apply would.
func DecodeFor(daoID dao.ID, changes []dao.ProposedChange) ([]Change, error) {
	decoded, err := DecodeAll(changes)
	if err != nil {
		return nil, err
	}
	for i, c := range decoded {
		var bound dao.ID
		switch c := c.(type) {
		case UpdateDAO:
			bound = c.Target
		case UpdateMember:
			bound = c.Edit.DAO
		}
		if bound != "" && bound != daoID {
			return nil, fmt.Errorf("change %d (%s): %w: proposal for %s cannot change dao %s",
				i, c.Kind(), dao.ErrUnauthorized, daoID, bound)
		}
	}
	return decoded, nil
}

// Apply runs one decoded change of proposal p against rec.
func Apply(ctx context.Context, rec Records, p dao.Proposal, c Change) error {
	return c.apply(ctx, rec, p)
}

// ApplyAll decodes and applies p's changes in list order. Changes are
// applied one at a time, so a failure at index k leaves 0..k-1 written to
// rec; callers run it inside a transaction they discard on error.
func ApplyAll(ctx context.Context, rec Records, p dao.Proposal) error {
	for i, pc := range p.Changes {
		c, err := Decode(pc)
		if err != nil {
			return fmt.Errorf("change %d: %w", i, err)
		}
		if err := Apply(ctx, rec, p, c); err != nil {
			return fmt.Errorf("change %d (%s): %w", i, c.Kind(), err)
		}
	}
	return nil
}

// Encode produces the canonical payload bytes for kind. Payloads for
// UpdateDAO and UpdateMember are checked against their schema.
func Encode(kind dao.ChangeKind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize %s payload: %w", kind, err)
	}
	switch kind {
	case dao.ChangeKindUpdateDAO:
		var u dao.Update
		err = decodePayload(kind, canonical, &u)
	case dao.ChangeKindUpdateMember:
		var m dao.MemberUpdate
		err = decodePayload(kind, canonical, &m)
	case dao.ChangeKindOther:
	default:
		err = fmt.Errorf("%w: unknown change kind %q", dao.ErrMalformedChangePayload, kind)
	}
	if err != nil {
		return nil, err
	}
	return canonical, nil
}

// NewUpdateDAOChange builds an UpdateDAO change against daoID.
func NewUpdateDAOChange(daoID dao.ID, u dao.Update) (dao.ProposedChange, error) {
	payload, err := Encode(dao.ChangeKindUpdateDAO, u)
	if err != nil {
		return dao.ProposedChange{}, err
	}
	return dao.ProposedChange{Kind: dao.ChangeKindUpdateDAO, Target: daoID, Payload: payload}, nil
}

// NewUpdateMemberChange builds an UpdateMember change editing member.
func NewUpdateMemberChange(member dao.ID, m dao.MemberUpdate) (dao.ProposedChange, error) {
	payload, err := Encode(dao.ChangeKindUpdateMember, m)
	if err != nil {
		return dao.ProposedChange{}, err
	}
	return dao.ProposedChange{Kind: dao.ChangeKindUpdateMember, Target: member, Payload: payload}, nil
}
