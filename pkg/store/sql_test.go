package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfarhan00/tahu-program/pkg/dao"
)

func TestRebind(t *testing.T) {
	assert.Equal(t, queryUpdateProposal, rebind(DialectSQLite, queryUpdateProposal))
	assert.Equal(t,
		`UPDATE proposals SET record = $1 WHERE dao_id = $2 AND id = $3`,
		rebind(DialectPostgres, queryUpdateProposal))
}

func TestSQLStore_PostgresCreateDAO(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, DialectPostgres)
	ctx := context.Background()
	d := fixtureDAO()
	record, err := json.Marshal(d)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT record FROM daos WHERE id = $1 FOR UPDATE`)).
		WithArgs("dao-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO daos (id, record) VALUES ($1, $2)`)).
		WithArgs("dao-1", string(record)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Update(ctx, func(tx Tx) error { return tx.CreateDAO(ctx, d) }))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_PutProposalMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, DialectSQLite)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(queryUpdateProposal)).
		WithArgs(sqlmock.AnyArg(), "dao-1", "1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = s.Update(ctx, func(tx Tx) error { return tx.PutProposal(ctx, fixtureProposal()) })
	assert.ErrorIs(t, err, dao.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UniqueViolationIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, DialectPostgres)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT sequence, entry_hash FROM journal ORDER BY sequence DESC LIMIT 1 FOR UPDATE`)).
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "entry_hash"}).AddRow(int64(4), "sha256:abc"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO journal (sequence, entry_id, entry_hash, record) VALUES ($1, $2, $3, $4)`)).
		WithArgs(int64(5), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err = s.Update(ctx, func(tx Tx) error {
		e, err := tx.Append(ctx, journalEntry(t, "dao.update"))
		if err == nil {
			assert.Equal(t, uint64(5), e.Sequence)
		}
		return err
	})
	assert.ErrorIs(t, err, dao.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Journal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, DialectSQLite)
	mock.ExpectQuery(regexp.QuoteMeta(queryJournal)).
		WillReturnRows(sqlmock.NewRows([]string{"record"}).
			AddRow(`{"entry_id":"e1","sequence":1,"action":"dao.create","previous_hash":"genesis"}`))

	entries, err := s.Journal(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].ID)
	assert.Equal(t, "genesis", entries[0].PreviousHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewSQLStore(db, DialectPostgres)
	for range postgresSchema {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
