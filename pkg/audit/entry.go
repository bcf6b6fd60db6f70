// Package audit implements the hash-chained journal of committed governance
// transitions. Entries are built with NewEntry, chained with Seal inside the
// same store transaction that commits the transition, and checked with Verify.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/tfarhan00/tahu-program/pkg/dao"
)

// Genesis is the previous hash of the first entry in a journal.
const Genesis = "genesis"

var (
	ErrChainBroken  = errors.New("hash chain is broken")
	ErrInvalidEntry = errors.New("invalid journal entry")
)

// Action names a committed transition.
type Action string

const (
	ActionDAOCreate        Action = "dao.create"
	ActionDAOUpdate        Action = "dao.update"
	ActionMemberAdd        Action = "dao.member.add"
	ActionMemberRemove     Action = "dao.member.remove"
	ActionThresholdsChange Action = "dao.thresholds.change"
	ActionProposalCreate   Action = "proposal.create"
	ActionProposalVote     Action = "proposal.vote"
	ActionProposalExecute  Action = "proposal.execute"
)

// Entry is one immutable journal record.
type Entry struct {
	ID           string          `json:"entry_id"`
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	Action       Action          `json:"action"`
	DAO          dao.ID          `json:"dao_id"`
	Subject      string          `json:"subject"`
	Actor        string          `json:"actor"`
	Payload      json.RawMessage `json:"payload"`
	PayloadHash  string          `json:"payload_hash"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// Head is the tip of a journal: the last sequence and its entry hash.
type Head struct {
	Sequence uint64
	Hash     string
}

// GenesisHead is the head of an empty journal.
var GenesisHead = Head{Hash: Genesis}

// HeadOf returns the head a journal has after e.
func HeadOf(e Entry) Head {
	return Head{Sequence: e.Sequence, Hash: e.EntryHash}
}

// NewEntry builds an unsealed entry. The payload is stored in RFC 8785
// canonical form so its hash does not depend on the encoder.
func NewEntry(action Action, daoID dao.ID, subject, actor string, payload any, now time.Time) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to serialize payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	return Entry{
		ID:          uuid.New().String(),
		Timestamp:   now.UTC(),
		Action:      action,
		DAO:         daoID,
		Subject:     subject,
		Actor:       actor,
		Payload:     canonical,
		PayloadHash: computeHash(canonical),
	}, nil
}

// Seal links e after head and fills in its sequence and hashes.
func Seal(head Head, e Entry) (Entry, error) {
	if e.Action == "" {
		return Entry{}, fmt.Errorf("%w: missing action", ErrInvalidEntry)
	}
	if head.Hash == "" {
		head = GenesisHead
	}
	e.Sequence = head.Sequence + 1
	e.PreviousHash = head.Hash
	h, err := entryHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.EntryHash = h
	return e, nil
}

// Verify walks entries from genesis and reports the first break.
func Verify(entries []Entry) error {
	expected := GenesisHead
	for i, e := range entries {
		if e.Sequence != expected.Sequence+1 {
			return fmt.Errorf("%w: entry %d has sequence %d but expected %d",
				ErrChainBroken, i, e.Sequence, expected.Sequence+1)
		}
		if e.PreviousHash != expected.Hash {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, i, e.PreviousHash, expected.Hash)
		}
		if got := computeHash(e.Payload); got != e.PayloadHash {
			return fmt.Errorf("%w: entry %d payload hash mismatch", ErrChainBroken, i)
		}
		computed, err := entryHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrChainBroken, i, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
				ErrChainBroken, i, computed, e.EntryHash)
		}
		expected = HeadOf(e)
	}
	return nil
}

func computeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func entryHash(e Entry) (string, error) {
	hashable := struct {
		ID           string `json:"entry_id"`
		Sequence     uint64 `json:"sequence"`
		Timestamp    string `json:"timestamp"`
		Action       Action `json:"action"`
		DAO          dao.ID `json:"dao_id"`
		Subject      string `json:"subject"`
		Actor        string `json:"actor"`
		PayloadHash  string `json:"payload_hash"`
		PreviousHash string `json:"previous_hash"`
	}{
		ID:           e.ID,
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:       e.Action,
		DAO:          e.DAO,
		Subject:      e.Subject,
		Actor:        e.Actor,
		PayloadHash:  e.PayloadHash,
		PreviousHash: e.PreviousHash,
	}
	raw, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry: %w", err)
	}
	return computeHash(canonical), nil
}
