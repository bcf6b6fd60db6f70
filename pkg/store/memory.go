package store

import (
	"context"
	"sync"

	"github.com/tfarhan00/tahu-program/pkg/audit"
	"github.com/tfarhan00/tahu-program/pkg/dao"
)

// MemoryStore keeps records in process memory. Update holds the write lock
// for the whole callback, so transactions are serialized.
type MemoryStore struct {
	mu        sync.RWMutex
	daos      map[dao.ID]dao.DAO
	proposals map[string]dao.Proposal
	journal   []audit.Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		daos:      make(map[dao.ID]dao.DAO),
		proposals: make(map[string]dao.Proposal),
	}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		base:      s,
		daos:      make(map[dao.ID]dao.DAO),
		proposals: make(map[string]dao.Proposal),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, d := range tx.daos {
		s.daos[id] = d
	}
	for k, p := range tx.proposals {
		s.proposals[k] = p
	}
	s.journal = append(s.journal, tx.journal...)
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memoryTx{base: s})
}

func (s *MemoryStore) Journal(ctx context.Context) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry(nil), s.journal...), nil
}

func (s *MemoryStore) Close() error { return nil }

// memoryTx overlays staged writes on the committed maps. A nil overlay
// marks a read-only view.
type memoryTx struct {
	base      *MemoryStore
	daos      map[dao.ID]dao.DAO
	proposals map[string]dao.Proposal
	journal   []audit.Entry
}

func (t *memoryTx) GetDAO(_ context.Context, id dao.ID) (dao.DAO, error) {
	if d, ok := t.daos[id]; ok {
		return d.Clone(), nil
	}
	if d, ok := t.base.daos[id]; ok {
		return d.Clone(), nil
	}
	return dao.DAO{}, notFound("dao", id)
}

func (t *memoryTx) GetProposal(_ context.Context, daoID dao.ID, id uint64) (dao.Proposal, error) {
	key := proposalKey(daoID, id)
	if p, ok := t.proposals[key]; ok {
		return p.Clone(), nil
	}
	if p, ok := t.base.proposals[key]; ok {
		return p.Clone(), nil
	}
	return dao.Proposal{}, notFound("proposal", key)
}

func (t *memoryTx) CreateDAO(ctx context.Context, d dao.DAO) error {
	if _, err := t.GetDAO(ctx, d.ID); err == nil {
		return alreadyExists("dao", d.ID)
	}
	t.daos[d.ID] = d.Clone()
	return nil
}

func (t *memoryTx) PutDAO(ctx context.Context, d dao.DAO) error {
	if _, err := t.GetDAO(ctx, d.ID); err != nil {
		return err
	}
	t.daos[d.ID] = d.Clone()
	return nil
}

func (t *memoryTx) CreateProposal(ctx context.Context, p dao.Proposal) error {
	if _, err := t.GetProposal(ctx, p.DAO, p.ID); err == nil {
		return alreadyExists("proposal", proposalKey(p.DAO, p.ID))
	}
	t.proposals[proposalKey(p.DAO, p.ID)] = p.Clone()
	return nil
}

func (t *memoryTx) PutProposal(ctx context.Context, p dao.Proposal) error {
	if _, err := t.GetProposal(ctx, p.DAO, p.ID); err != nil {
		return err
	}
	t.proposals[proposalKey(p.DAO, p.ID)] = p.Clone()
	return nil
}

func (t *memoryTx) Append(_ context.Context, e audit.Entry) (audit.Entry, error) {
	head := audit.GenesisHead
	switch {
	case len(t.journal) > 0:
		head = audit.HeadOf(t.journal[len(t.journal)-1])
	case len(t.base.journal) > 0:
		head = audit.HeadOf(t.base.journal[len(t.base.journal)-1])
	}
	sealed, err := audit.Seal(head, e)
	if err != nil {
		return audit.Entry{}, err
	}
	t.journal = append(t.journal, sealed)
	return sealed, nil
}
