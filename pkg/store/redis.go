package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tfarhan00/tahu-program/pkg/audit"
	"github.com/tfarhan00/tahu-program/pkg/dao"
)

// DefaultRedisPrefix namespaces every key the store writes.
const DefaultRedisPrefix = "tahu:"

// RedisStore implements Store over Redis with optimistic transactions:
// every key read inside Update is WATCHed, writes are buffered, and the
// buffer is flushed in one MULTI/EXEC. If another client touched a watched
// key the commit fails with dao.ErrConflict.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStore(client, DefaultRedisPrefix), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) daoKey(id dao.ID) string { return s.prefix + "dao:" + string(id) }

func (s *RedisStore) proposalKey(daoID dao.ID, id uint64) string {
	return s.prefix + "proposal:" + proposalKey(daoID, id)
}

func (s *RedisStore) journalKey() string { return s.prefix + "journal" }

func (s *RedisStore) Update(ctx context.Context, fn func(Tx) error) error {
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		t := &redisTx{
			store:  s,
			cmd:    rtx,
			watch:  func(key string) error { return rtx.Watch(ctx, key).Err() },
			writes: make(map[string][]byte),
		}
		if err := fn(t); err != nil {
			return err
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, value := range t.writes {
				pipe.Set(ctx, key, value, 0)
			}
			for _, raw := range t.journal {
				pipe.RPush(ctx, s.journalKey(), raw)
			}
			return nil
		})
		return err
	}, s.journalKey())
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: watched key changed", dao.ErrConflict)
	}
	return err
}

func (s *RedisStore) View(ctx context.Context, fn func(Reader) error) error {
	return fn(&redisTx{store: s, cmd: s.client})
}

func (s *RedisStore) Journal(ctx context.Context) ([]audit.Entry, error) {
	raws, err := s.client.LRange(ctx, s.journalKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	entries := make([]audit.Entry, 0, len(raws))
	for _, raw := range raws {
		var e audit.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// redisReader is the subset of commands shared by *redis.Client and *redis.Tx.
type redisReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	LIndex(ctx context.Context, key string, index int64) *redis.StringCmd
}

type redisTx struct {
	store *RedisStore
	cmd   redisReader
	// watch is nil on read-only views.
	watch   func(key string) error
	writes  map[string][]byte
	journal [][]byte
	head    *audit.Head
}

func (t *redisTx) load(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok := t.writes[key]
	if !ok {
		if t.watch != nil {
			if err := t.watch(key); err != nil {
				return false, fmt.Errorf("failed to watch %s: %w", key, err)
			}
		}
		b, err := t.cmd.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to get %s: %w", key, err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (t *redisTx) stage(key string, v any) error {
	if t.writes == nil {
		return errors.New("redis store: write on read-only view")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	t.writes[key] = raw
	return nil
}

func (t *redisTx) GetDAO(ctx context.Context, id dao.ID) (dao.DAO, error) {
	var d dao.DAO
	ok, err := t.load(ctx, t.store.daoKey(id), &d)
	if err != nil {
		return dao.DAO{}, err
	}
	if !ok {
		return dao.DAO{}, notFound("dao", id)
	}
	return d, nil
}

func (t *redisTx) GetProposal(ctx context.Context, daoID dao.ID, id uint64) (dao.Proposal, error) {
	var p dao.Proposal
	ok, err := t.load(ctx, t.store.proposalKey(daoID, id), &p)
	if err != nil {
		return dao.Proposal{}, err
	}
	if !ok {
		return dao.Proposal{}, notFound("proposal", proposalKey(daoID, id))
	}
	return p, nil
}

func (t *redisTx) CreateDAO(ctx context.Context, d dao.DAO) error {
	if _, err := t.GetDAO(ctx, d.ID); err == nil {
		return alreadyExists("dao", d.ID)
	} else if !errors.Is(err, dao.ErrNotFound) {
		return err
	}
	return t.stage(t.store.daoKey(d.ID), d)
}

func (t *redisTx) PutDAO(ctx context.Context, d dao.DAO) error {
	if _, err := t.GetDAO(ctx, d.ID); err != nil {
		return err
	}
	return t.stage(t.store.daoKey(d.ID), d)
}

func (t *redisTx) CreateProposal(ctx context.Context, p dao.Proposal) error {
	if _, err := t.GetProposal(ctx, p.DAO, p.ID); err == nil {
		return alreadyExists("proposal", proposalKey(p.DAO, p.ID))
	} else if !errors.Is(err, dao.ErrNotFound) {
		return err
	}
	return t.stage(t.store.proposalKey(p.DAO, p.ID), p)
}

func (t *redisTx) PutProposal(ctx context.Context, p dao.Proposal) error {
	if _, err := t.GetProposal(ctx, p.DAO, p.ID); err != nil {
		return err
	}
	return t.stage(t.store.proposalKey(p.DAO, p.ID), p)
}

func (t *redisTx) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if t.writes == nil {
		return audit.Entry{}, errors.New("redis store: append on read-only view")
	}
	if t.head == nil {
		head := audit.GenesisHead
		raw, err := t.cmd.LIndex(ctx, t.store.journalKey(), -1).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return audit.Entry{}, fmt.Errorf("failed to read journal head: %w", err)
		default:
			var last audit.Entry
			if err := json.Unmarshal(raw, &last); err != nil {
				return audit.Entry{}, fmt.Errorf("failed to decode journal head: %w", err)
			}
			head = audit.HeadOf(last)
		}
		t.head = &head
	}

	sealed, err := audit.Seal(*t.head, e)
	if err != nil {
		return audit.Entry{}, err
	}
	raw, err := json.Marshal(sealed)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("failed to encode journal entry: %w", err)
	}
	t.journal = append(t.journal, raw)
	next := audit.HeadOf(sealed)
	t.head = &next
	return sealed, nil
}
