// Package store persists governance records. Every mutation runs inside
// Update as a single unit of work: reads and writes go through a Tx, writes
// are staged, and nothing becomes visible unless the callback returns nil.
package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tfarhan00/tahu-program/pkg/audit"
	"github.com/tfarhan00/tahu-program/pkg/dao"
)

// Reader is the read side of a transaction.
type Reader interface {
	GetDAO(ctx context.Context, id dao.ID) (dao.DAO, error)
	GetProposal(ctx context.Context, daoID dao.ID, id uint64) (dao.Proposal, error)
}

// Tx is a unit of work. Writes are visible to later reads on the same Tx.
type Tx interface {
	Reader
	// CreateDAO fails with dao.ErrAlreadyExists if the id is taken.
	CreateDAO(ctx context.Context, d dao.DAO) error
	// PutDAO overwrites an existing DAO and fails with dao.ErrNotFound otherwise.
	PutDAO(ctx context.Context, d dao.DAO) error
	// CreateProposal stores p at (p.DAO, p.ID) and fails with
	// dao.ErrAlreadyExists if the slot is taken.
	CreateProposal(ctx context.Context, p dao.Proposal) error
	PutProposal(ctx context.Context, p dao.Proposal) error
	// Append seals e after the journal head and stages it.
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Store is a transactional record store.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Reader) error) error
	// Journal returns every committed audit entry in sequence order.
	Journal(ctx context.Context) ([]audit.Entry, error)
	Close() error
}

func proposalKey(daoID dao.ID, id uint64) string {
	return string(daoID) + "/" + strconv.FormatUint(id, 10)
}

func notFound(kind string, key any) error {
	return fmt.Errorf("%w: %s %v", dao.ErrNotFound, kind, key)
}

func alreadyExists(kind string, key any) error {
	return fmt.Errorf("%w: %s %v", dao.ErrAlreadyExists, kind, key)
}
