package dbexec

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowgraph/internal/sqlutil"
)

func TestPoolExecutor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM blog").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	exec := NewPoolExecutor(db)
	rows, err := exec.QueryContext(context.Background(), "SELECT id FROM blog")
	require.NoError(t, err)

	cols, err := rows.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, cols)
	require.True(t, rows.Next())
	var id int
	require.NoError(t, rows.Scan(&id))
	assert.Equal(t, 1, id)
	assert.False(t, rows.NextResultSet())
	require.NoError(t, rows.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolExecutor_NilDB(t *testing.T) {
	exec := NewPoolExecutor(nil)
	_, err := exec.QueryContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
	_, err = exec.ExecContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
}

func TestSessionExecutor_PreparesConnection(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("USE `blogs`").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET SESSION TRANSACTION READ ONLY").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM blog").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("SET SESSION TRANSACTION READ WRITE").WillReturnResult(sqlmock.NewResult(0, 0))

	exec := NewSessionExecutor(SessionExecutorConfig{
		DB:      db,
		Dialect: sqlutil.MySQL,
		Schema:  "blogs",
		Init:    []string{"SET SESSION TRANSACTION READ ONLY"},
		Reset:   []string{"SET SESSION TRANSACTION READ WRITE"},
	})

	rows, err := exec.QueryContext(context.Background(), "SELECT id FROM blog")
	require.NoError(t, err)
	for rows.Next() {
	}
	require.NoError(t, rows.Close())
	require.NoError(t, rows.Close(), "second close is harmless")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionExecutor_PostgresSearchPath(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`SET search_path TO "reporting"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM scratch").WillReturnResult(sqlmock.NewResult(0, 3))

	exec := NewSessionExecutor(SessionExecutorConfig{DB: db, Dialect: sqlutil.Postgres, Schema: "reporting"})
	res, err := exec.ExecContext(context.Background(), "DELETE FROM scratch")
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionExecutor_InitFailureReleasesConnection(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("SET LOCK_TIMEOUT 1000").WillReturnError(assert.AnError)

	exec := NewSessionExecutor(SessionExecutorConfig{DB: db, Dialect: sqlutil.SQLServer, Init: []string{"SET LOCK_TIMEOUT 1000"}})
	_, err = exec.QueryContext(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
