package rowsource

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowgraph/internal/dbexec"
)

func TestMemory_ForwardAndAbsolute(t *testing.T) {
	ctx := context.Background()
	src := NewMemory(NewTable([]string{"id"}, []any{1}, []any{2}, []any{3}))

	assert.Equal(t, []string{"id"}, Names(src.Columns()))

	ok, err := src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, src.Value(0))
	assert.Nil(t, src.Value(5))

	ok, err = src.Absolute(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, src.Value(0))

	ok, err = src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = src.Absolute(ctx, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_MultipleResultSets(t *testing.T) {
	ctx := context.Background()
	src := NewMemory(
		NewTable([]string{"id"}, []any{1}),
		NewTable([]string{"post_id", "blog_id"}, []any{10, 1}),
	)

	ok, err := src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	more, err := src.NextResultSet(ctx)
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, []string{"post_id", "blog_id"}, Names(src.Columns()))

	ok, err = src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, src.Value(0))

	more, err = src.NextResultSet(ctx)
	require.NoError(t, err)
	assert.False(t, more)
	assert.Nil(t, src.Columns())
}

func TestMemory_Close(t *testing.T) {
	src := NewMemory(NewTable([]string{"id"}, []any{1}))
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, src.Closed())
	assert.Equal(t, 2, src.CloseCount())

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestForwardOnly(t *testing.T) {
	src := ForwardOnly(NewMemory())
	_, scrollable := src.(Positioner)
	assert.False(t, scrollable)
	_, multi := src.(Multi)
	assert.False(t, multi)
}

func TestSQL_ScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRowsWithColumnDefinition(
			sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
			sqlmock.NewColumn("title").OfType("VARCHAR", ""),
		).AddRow(int64(1), "first").AddRow(int64(2), nil),
	)

	rows, err := dbexec.NewPoolExecutor(db).QueryContext(context.Background(), "SELECT id, title FROM blog")
	require.NoError(t, err)
	src, err := FromRows(rows)
	require.NoError(t, err)

	assert.Equal(t, []Column{{Name: "id", TypeName: "BIGINT"}, {Name: "title", TypeName: "VARCHAR"}}, src.Columns())

	ctx := context.Background()
	ok, err := src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), src.Value(0))
	assert.Equal(t, "first", src.Value(1))

	ok, err = src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, src.Value(1))

	ok, err = src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, src.Closed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_RowError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(1).RowError(0, assert.AnError),
	)

	rows, err := dbexec.NewPoolExecutor(db).QueryContext(context.Background(), "SELECT id FROM blog")
	require.NoError(t, err)
	src, err := FromRows(rows)
	require.NoError(t, err)

	_, err = src.Next(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, src.Close())
}
