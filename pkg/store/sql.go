package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tfarhan00/tahu-program/pkg/audit"
	"github.com/tfarhan00/tahu-program/pkg/dao"
)

// Dialect selects the SQL flavor of a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DriverName returns the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS daos (
		id TEXT PRIMARY KEY,
		record JSON NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS proposals (
		dao_id TEXT NOT NULL,
		id TEXT NOT NULL,
		record JSON NOT NULL,
		PRIMARY KEY (dao_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS journal (
		sequence INTEGER PRIMARY KEY,
		entry_id TEXT NOT NULL UNIQUE,
		entry_hash TEXT NOT NULL,
		record TEXT NOT NULL
	)`,
}

// Journal records stay TEXT on Postgres too: JSONB would reformat the
// canonical payload bytes the entry hashes cover.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS daos (
		id TEXT PRIMARY KEY,
		record JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS proposals (
		dao_id TEXT NOT NULL,
		id TEXT NOT NULL,
		record JSONB NOT NULL,
		PRIMARY KEY (dao_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS journal (
		sequence BIGINT PRIMARY KEY,
		entry_id TEXT NOT NULL UNIQUE,
		entry_hash TEXT NOT NULL,
		record TEXT NOT NULL
	)`,
}

const (
	queryGetDAO         = `SELECT record FROM daos WHERE id = ?`
	queryInsertDAO      = `INSERT INTO daos (id, record) VALUES (?, ?)`
	queryUpdateDAO      = `UPDATE daos SET record = ? WHERE id = ?`
	queryGetProposal    = `SELECT record FROM proposals WHERE dao_id = ? AND id = ?`
	queryInsertProposal = `INSERT INTO proposals (dao_id, id, record) VALUES (?, ?, ?)`
	queryUpdateProposal = `UPDATE proposals SET record = ? WHERE dao_id = ? AND id = ?`
	queryJournalHead    = `SELECT sequence, entry_hash FROM journal ORDER BY sequence DESC LIMIT 1`
	queryInsertEntry    = `INSERT INTO journal (sequence, entry_id, entry_hash, record) VALUES (?, ?, ?, ?)`
	queryJournal        = `SELECT record FROM journal ORDER BY sequence ASC`
)

// SQLStore implements Store over database/sql. It supports SQLite and
// Postgres through the Dialect.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// OpenSQL opens dsn with the driver for dialect and verifies the connection.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", dialect, err)
	}
	return NewSQLStore(db, dialect), nil
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectPostgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&sqlTx{tx: tx, dialect: s.dialect, lock: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	return nil
}

func (s *SQLStore) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: s.dialect == DialectPostgres})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&sqlTx{tx: tx, dialect: s.dialect})
}

func (s *SQLStore) Journal(ctx context.Context) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, queryJournal)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
	// lock adds FOR UPDATE to reads on Postgres so concurrent writers
	// serialize on the rows they touch.
	lock bool
}

func (t *sqlTx) query(q string) string {
	if t.lock && t.dialect == DialectPostgres && strings.HasPrefix(q, "SELECT") {
		q += " FOR UPDATE"
	}
	return rebind(t.dialect, q)
}

func (t *sqlTx) GetDAO(ctx context.Context, id dao.ID) (dao.DAO, error) {
	var d dao.DAO
	if err := t.getRecord(ctx, &d, queryGetDAO, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dao.DAO{}, notFound("dao", id)
		}
		return dao.DAO{}, fmt.Errorf("failed to get dao: %w", err)
	}
	return d, nil
}

func (t *sqlTx) GetProposal(ctx context.Context, daoID dao.ID, id uint64) (dao.Proposal, error) {
	var p dao.Proposal
	if err := t.getRecord(ctx, &p, queryGetProposal, string(daoID), strconv.FormatUint(id, 10)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dao.Proposal{}, notFound("proposal", proposalKey(daoID, id))
		}
		return dao.Proposal{}, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}

func (t *sqlTx) CreateDAO(ctx context.Context, d dao.DAO) error {
	if _, err := t.GetDAO(ctx, d.ID); err == nil {
		return alreadyExists("dao", d.ID)
	} else if !errors.Is(err, dao.ErrNotFound) {
		return err
	}
	record, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode dao: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, rebind(t.dialect, queryInsertDAO), string(d.ID), string(record)); err != nil {
		return fmt.Errorf("failed to insert dao: %w", translate(err))
	}
	return nil
}

func (t *sqlTx) PutDAO(ctx context.Context, d dao.DAO) error {
	record, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode dao: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, rebind(t.dialect, queryUpdateDAO), string(record), string(d.ID))
	if err != nil {
		return fmt.Errorf("failed to update dao: %w", translate(err))
	}
	return expectOneRow(res, "dao", d.ID)
}

func (t *sqlTx) CreateProposal(ctx context.Context, p dao.Proposal) error {
	if _, err := t.GetProposal(ctx, p.DAO, p.ID); err == nil {
		return alreadyExists("proposal", proposalKey(p.DAO, p.ID))
	} else if !errors.Is(err, dao.ErrNotFound) {
		return err
	}
	record, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode proposal: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, rebind(t.dialect, queryInsertProposal),
		string(p.DAO), strconv.FormatUint(p.ID, 10), string(record))
	if err != nil {
		return fmt.Errorf("failed to insert proposal: %w", translate(err))
	}
	return nil
}

func (t *sqlTx) PutProposal(ctx context.Context, p dao.Proposal) error {
	record, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode proposal: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, rebind(t.dialect, queryUpdateProposal),
		string(record), string(p.DAO), strconv.FormatUint(p.ID, 10))
	if err != nil {
		return fmt.Errorf("failed to update proposal: %w", translate(err))
	}
	return expectOneRow(res, "proposal", proposalKey(p.DAO, p.ID))
}

func (t *sqlTx) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	head := audit.GenesisHead
	var seq int64
	var hash string
	err := t.tx.QueryRowContext(ctx, t.query(queryJournalHead)).Scan(&seq, &hash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return audit.Entry{}, fmt.Errorf("failed to read journal head: %w", err)
	default:
		head = audit.Head{Sequence: uint64(seq), Hash: hash}
	}

	sealed, err := audit.Seal(head, e)
	if err != nil {
		return audit.Entry{}, err
	}
	record, err := json.Marshal(sealed)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("failed to encode journal entry: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, rebind(t.dialect, queryInsertEntry),
		int64(sealed.Sequence), sealed.ID, sealed.EntryHash, string(record))
	if err != nil {
		return audit.Entry{}, fmt.Errorf("failed to append journal entry: %w", translate(err))
	}
	return sealed, nil
}

func (t *sqlTx) getRecord(ctx context.Context, dst any, q string, args ...any) error {
	var raw []byte
	if err := t.tx.QueryRowContext(ctx, t.query(q), args...).Scan(&raw); err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func expectOneRow(res sql.Result, kind string, key any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return notFound(kind, key)
	}
	return nil
}

// rebind rewrites ? placeholders to $1, $2, ... for Postgres.
func rebind(d Dialect, q string) string {
	if d != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// translate maps a constraint violation from a concurrent writer to
// dao.ErrConflict.
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "23505" || pqErr.Code == "40001") {
		return fmt.Errorf("%w: %s", dao.ErrConflict, pqErr.Message)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_BUSY:
			return fmt.Errorf("%w: %s", dao.ErrConflict, liteErr.Error())
		}
	}
	return err
}
