package cursor

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowgraph/internal/mapping"
	"rowgraph/internal/materialize"
	"rowgraph/internal/meta"
	"rowgraph/internal/rowsource"
)

type item struct {
	N int64
}

type post struct {
	ID int64
}

type blog struct {
	ID    int64
	Posts []*post
}

func itemDescriptor(t *testing.T) (*mapping.Descriptor, *mapping.Registry) {
	t.Helper()
	d, err := mapping.NewBuilder("item", reflect.TypeFor[item]()).ID("N", "n").Build(meta.Default())
	require.NoError(t, err)
	reg := mapping.NewRegistry()
	require.NoError(t, reg.Add(d))
	return d, reg
}

func fiveRows() *rowsource.Memory {
	return rowsource.NewMemory(rowsource.NewTable([]string{"n"},
		[]any{int64(0)}, []any{int64(1)}, []any{int64(2)}, []any{int64(3)}, []any{int64(4)}))
}

func newCursor(t *testing.T, src rowsource.Source, bounds materialize.Bounds) *Cursor {
	t.Helper()
	d, reg := itemDescriptor(t)
	return New(Config{
		StatementID: "items",
		Handler:     materialize.NewHandler(materialize.Config{Mappings: reg, Settings: materialize.DefaultSettings()}),
		Source:      src,
		Descriptor:  d,
		Bounds:      bounds,
	})
}

func drain(t *testing.T, c *Cursor) []any {
	t.Helper()
	var out []any
	for v, err := range c.All(context.Background()) {
		require.NoError(t, err)
		out = append(out, v)
	}
	return out
}

func TestCursor_OffsetAndLimit(t *testing.T) {
	tests := []struct {
		name    string
		forward bool
	}{
		{name: "scrollable"},
		{name: "forward only", forward: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := fiveRows()
			var src rowsource.Source = mem
			if tt.forward {
				src = rowsource.ForwardOnly(mem)
			}
			c := newCursor(t, src, materialize.Bounds{Offset: 1, Limit: 2})
			assert.Equal(t, Created, c.State())

			got := drain(t, c)
			assert.Equal(t, []any{&item{N: 1}, &item{N: 2}}, got)
			assert.True(t, c.IsConsumed())
			assert.False(t, c.IsOpen())
			assert.Equal(t, 2, c.CurrentIndex())
			assert.Equal(t, 1, mem.CloseCount())
		})
	}
}

func TestCursor_IteratorLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newCursor(t, fiveRows(), materialize.DefaultBounds())

	it, err := c.Iterator()
	require.NoError(t, err)
	assert.Equal(t, -1, c.CurrentIndex())

	_, err = c.Iterator()
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
	assert.Contains(t, usage.Error(), "more than one iterator")

	ok, err := it.HasNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, c.IsOpen())

	ok, err = it.HasNext(ctx)
	require.NoError(t, err)
	require.True(t, ok, "HasNext does not advance")

	v, err := it.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, &item{N: 0}, v)
	assert.Equal(t, 0, c.CurrentIndex())

	for range 4 {
		_, err = it.Next(ctx)
		require.NoError(t, err)
	}
	_, err = it.Next(ctx)
	require.ErrorAs(t, err, &usage)
	assert.True(t, c.IsConsumed())
}

func TestCursor_Close(t *testing.T) {
	ctx := context.Background()
	mem := fiveRows()
	c := newCursor(t, mem, materialize.DefaultBounds())
	it, err := c.Iterator()
	require.NoError(t, err)
	_, err = it.Next(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, mem.CloseCount())
	assert.Equal(t, Closed, c.State())

	ok, err := it.HasNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a closed cursor yields nothing")

	closed := newCursor(t, fiveRows(), materialize.DefaultBounds())
	require.NoError(t, closed.Close())
	_, err = closed.Iterator()
	var usage *UsageError
	require.ErrorAs(t, err, &usage)
}

func TestCursor_EmptySource(t *testing.T) {
	mem := rowsource.NewMemory(rowsource.NewTable([]string{"n"}))
	c := newCursor(t, mem, materialize.DefaultBounds())
	assert.Empty(t, drain(t, c))
	assert.True(t, c.IsConsumed())
	assert.Equal(t, 1, mem.CloseCount())
}

func TestCursor_NestedOrdered(t *testing.T) {
	postD, err := mapping.NewBuilder("post", reflect.TypeFor[post]()).ID("ID", "post_id").Build(meta.Default())
	require.NoError(t, err)
	blogD, err := mapping.NewBuilder("blog", reflect.TypeFor[blog]()).
		ID("ID", "blog_id").
		Map(mapping.ColumnMapping{Property: "Posts", NestedMapID: "post"}).
		Build(meta.Default())
	require.NoError(t, err)
	reg := mapping.NewRegistry()
	require.NoError(t, reg.Add(postD, blogD))

	h := materialize.NewHandler(materialize.Config{
		Mappings:  reg,
		Statement: &mapping.Statement{ID: "blogs", ResultMaps: []string{"blog"}, ResultOrdered: true},
		Settings:  materialize.DefaultSettings(),
	})
	src := rowsource.NewMemory(rowsource.NewTable([]string{"blog_id", "post_id"},
		[]any{int64(1), int64(10)},
		[]any{int64(1), int64(11)},
		[]any{int64(2), int64(20)},
	))
	c := New(Config{StatementID: "blogs", Handler: h, Source: src, Descriptor: blogD})

	var sizes []int
	for v, err := range c.All(context.Background()) {
		require.NoError(t, err)
		sizes = append(sizes, len(v.(*blog).Posts))
	}
	assert.Equal(t, []int{2, 1}, sizes, "each blog is complete when it is yielded")
}

type failingSource struct {
	*rowsource.Memory
}

func (failingSource) Next(context.Context) (bool, error) {
	return false, assert.AnError
}

func TestCursor_FetchErrorCloses(t *testing.T) {
	mem := fiveRows()
	c := newCursor(t, failingSource{Memory: mem}, materialize.DefaultBounds())

	var errs []error
	for _, err := range c.All(context.Background()) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	var driverErr *materialize.DriverError
	require.ErrorAs(t, errs[0], &driverErr)
	assert.ErrorIs(t, errs[0], assert.AnError)
	assert.Equal(t, Closed, c.State())
	assert.Equal(t, 1, mem.CloseCount())
}
