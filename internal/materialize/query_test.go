package materialize

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowgraph/internal/lazy"
	"rowgraph/internal/mapping"
	"rowgraph/internal/planner"
	"rowgraph/internal/rowkey"
	"rowgraph/internal/rowsource"
)

// fakeExecutor answers nested queries from canned results.
type fakeExecutor struct {
	results   map[string][]any
	queries   []string
	params    []any
	cachedKey *rowkey.Key
	deferred  []string
}

func (f *fakeExecutor) Query(_ context.Context, stmt *mapping.Statement, param any, _ *rowkey.Key) ([]any, error) {
	f.queries = append(f.queries, stmt.ID)
	f.params = append(f.params, param)
	return f.results[stmt.ID], nil
}

func (f *fakeExecutor) CreateCacheKey(stmt *mapping.Statement, param any, _ Bounds) (*rowkey.Key, error) {
	return rowkey.New(stmt.ID, param), nil
}

func (f *fakeExecutor) IsCached(key *rowkey.Key) bool {
	return f.cachedKey != nil && f.cachedKey.Equal(key)
}

func (f *fakeExecutor) DeferLoad(_ *mapping.Statement, _ any, property string, _ *rowkey.Key, _ reflect.Type) error {
	f.deferred = append(f.deferred, property)
	return nil
}

func (f *fakeExecutor) Closed() bool                            { return false }
func (f *fakeExecutor) ExecutionContext() lazy.ExecutionContext { return f }
func (f *fakeExecutor) TryEnter() bool                          { return true }
func (f *fakeExecutor) Exit()                                   {}
func (f *fakeExecutor) Close() error                            { return nil }

func (f *fakeExecutor) Load(_ context.Context, req lazy.Request) ([]any, error) {
	f.queries = append(f.queries, req.StatementID)
	f.params = append(f.params, req.Param)
	return f.results[req.StatementID], nil
}

func (f *fakeExecutor) Fork(context.Context) (lazy.ExecutionContext, error) {
	return f, nil
}

type writer struct {
	ID    int64
	Posts []*post
}

type lazyWriter struct {
	ID    int64
	Posts lazy.Slot[[]*post]
}

func writerRegistry(t *testing.T, typ reflect.Type, m mapping.ColumnMapping) (*mapping.Descriptor, *mapping.Registry) {
	d := build(t, mapping.NewBuilder("writer", typ).ID("ID", "id").Map(m))
	reg := registry(t, d)
	require.NoError(t, reg.AddStatement(&mapping.Statement{
		ID:     "postsByWriter",
		Source: planner.Raw{SQL: "SELECT id, body FROM posts WHERE writer_id = ?", Params: []string{"writer"}},
	}))
	return d, reg
}

func writerRows() rowsource.Source {
	return rowsource.NewMemory(rowsource.NewTable([]string{"id", "kind"}, []any{int64(7), "draft"}))
}

func TestNestedQuery_Eager(t *testing.T) {
	d, reg := writerRegistry(t, reflect.TypeFor[writer](),
		mapping.ColumnMapping{Property: "Posts", Column: "id", NestedQueryID: "postsByWriter"})
	exec := &fakeExecutor{results: map[string][]any{"postsByWriter": {&post{ID: 1, Body: "x"}}}}
	h := NewHandler(Config{Executor: exec, Mappings: reg, Settings: DefaultSettings()})

	list := collect(t, h, writerRows(), d)
	require.Len(t, list, 1)
	assert.Equal(t, &writer{ID: 7, Posts: []*post{{ID: 1, Body: "x"}}}, list[0])
	assert.Equal(t, []string{"postsByWriter"}, exec.queries)
	assert.Equal(t, []any{int64(7)}, exec.params)
}

func TestNestedQuery_LazyLoadsOnce(t *testing.T) {
	d, reg := writerRegistry(t, reflect.TypeFor[lazyWriter](),
		mapping.ColumnMapping{Property: "Posts", Column: "id", NestedQueryID: "postsByWriter", Lazy: true})
	exec := &fakeExecutor{results: map[string][]any{"postsByWriter": {&post{ID: 1, Body: "x"}}}}
	h := NewHandler(Config{Executor: exec, Mappings: reg, Settings: DefaultSettings()})

	list := collect(t, h, writerRows(), d)
	require.Len(t, list, 1)
	w := list[0].(*lazyWriter)
	assert.Empty(t, exec.queries, "nothing is loaded during materialization")
	assert.True(t, w.Posts.Pending())

	ctx := context.Background()
	posts, err := w.Posts.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*post{{ID: 1, Body: "x"}}, posts)

	_, err = w.Posts.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, exec.queries, 1)
}

func TestNestedQuery_LazyOnPlainFieldLoadsEagerly(t *testing.T) {
	d, reg := writerRegistry(t, reflect.TypeFor[writer](),
		mapping.ColumnMapping{Property: "Posts", Column: "id", NestedQueryID: "postsByWriter"})
	exec := &fakeExecutor{results: map[string][]any{"postsByWriter": {&post{ID: 2}}}}
	settings := DefaultSettings()
	settings.LazyLoadingEnabled = true
	h := NewHandler(Config{Executor: exec, Mappings: reg, Settings: settings})

	list := collect(t, h, writerRows(), d)
	require.Len(t, list, 1)
	assert.Len(t, list[0].(*writer).Posts, 1)
	assert.Len(t, exec.queries, 1)
}

func TestNestedQuery_EagerIntoSlot(t *testing.T) {
	d, reg := writerRegistry(t, reflect.TypeFor[lazyWriter](),
		mapping.ColumnMapping{Property: "Posts", Column: "id", NestedQueryID: "postsByWriter"})
	exec := &fakeExecutor{results: map[string][]any{"postsByWriter": {&post{ID: 3}}}}
	h := NewHandler(Config{Executor: exec, Mappings: reg, Settings: DefaultSettings()})

	list := collect(t, h, writerRows(), d)
	w := list[0].(*lazyWriter)
	posts, ok := w.Posts.Peek()
	require.True(t, ok)
	assert.Equal(t, []*post{{ID: 3}}, posts)
}

func TestNestedQuery_CachedKeyDefersLoad(t *testing.T) {
	d, reg := writerRegistry(t, reflect.TypeFor[writer](),
		mapping.ColumnMapping{Property: "Posts", Column: "id", NestedQueryID: "postsByWriter"})
	exec := &fakeExecutor{cachedKey: rowkey.New("postsByWriter", int64(7))}
	h := NewHandler(Config{Executor: exec, Mappings: reg, Settings: DefaultSettings()})

	list := collect(t, h, writerRows(), d)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].(*writer).Posts)
	assert.Empty(t, exec.queries)
	assert.Equal(t, []string{"Posts"}, exec.deferred)
}

func TestNestedQuery_CompositeParameter(t *testing.T) {
	d, reg := writerRegistry(t, reflect.TypeFor[writer](), mapping.ColumnMapping{
		Property:      "Posts",
		NestedQueryID: "postsByWriter",
		Composites: []mapping.ColumnMapping{
			{Property: "writer", Column: "id"},
			{Property: "kind", Column: "kind"},
		},
	})
	exec := &fakeExecutor{}
	h := NewHandler(Config{Executor: exec, Mappings: reg, Settings: DefaultSettings()})

	collect(t, h, writerRows(), d)
	require.Len(t, exec.params, 1)
	assert.Equal(t, map[string]any{"writer": int64(7), "kind": "draft"}, exec.params[0])
}

func TestNestedQuery_NeedsExecutor(t *testing.T) {
	d, reg := writerRegistry(t, reflect.TypeFor[writer](),
		mapping.ColumnMapping{Property: "Posts", Column: "id", NestedQueryID: "postsByWriter"})
	h := NewHandler(Config{Mappings: reg, Settings: DefaultSettings()})

	err := h.HandleRowValues(context.Background(), writerRows(), d, &ListSink{}, DefaultBounds(), nil)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func multiSetDescriptors(t *testing.T, extra ...mapping.ColumnMapping) *mapping.Registry {
	postD := build(t, mapping.NewBuilder("postSet", reflect.TypeFor[post]()).
		ID("ID", "post_id").
		Result("Body", "body"))
	b := mapping.NewBuilder("blogSet", reflect.TypeFor[blog]()).
		ID("ID", "blog_id").
		Result("Title", "title").
		Map(mapping.ColumnMapping{Property: "Posts", NestedMapID: "postSet", ResultSet: "posts", Column: "blog_id", ForeignColumn: "blog_id"}).
		Map(extra...)
	return registry(t, build(t, b), postD)
}

func multiSetRows() *rowsource.Memory {
	return rowsource.NewMemory(
		rowsource.NewTable([]string{"blog_id", "title"},
			[]any{int64(1), "first"},
			[]any{int64(2), "second"},
		),
		rowsource.NewTable([]string{"post_id", "blog_id", "body"},
			[]any{int64(10), int64(1), "x"},
			[]any{int64(11), int64(1), "y"},
			[]any{int64(12), int64(2), "z"},
		),
	)
}

func TestHandleResultSets_PendingLinks(t *testing.T) {
	stmt := &mapping.Statement{ID: "blogsWithPosts", ResultMaps: []string{"blogSet"}, ResultSets: []string{"blogs", "posts"}}
	h := NewHandler(Config{Mappings: multiSetDescriptors(t), Statement: stmt, Settings: DefaultSettings()})

	src := multiSetRows()
	list, err := h.HandleResultSets(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, list, 2)

	first := list[0].(*blog)
	assert.Equal(t, []*post{{ID: 10, Body: "x"}, {ID: 11, Body: "y"}}, first.Posts)
	second := list[1].(*blog)
	assert.Equal(t, []*post{{ID: 12, Body: "z"}}, second.Posts)
	assert.Equal(t, 1, src.CloseCount())
}

type blogWithDrafts struct {
	blog
	Drafts []*post
}

func TestHandleResultSets_ResultSetClaimedTwice(t *testing.T) {
	postD := build(t, mapping.NewBuilder("postSet", reflect.TypeFor[post]()).ID("ID", "post_id"))
	blogD := build(t, mapping.NewBuilder("blogSet", reflect.TypeFor[blogWithDrafts]()).
		ID("ID", "blog_id").
		Map(mapping.ColumnMapping{Property: "Posts", NestedMapID: "postSet", ResultSet: "posts", Column: "blog_id", ForeignColumn: "blog_id"}).
		Map(mapping.ColumnMapping{Property: "Drafts", NestedMapID: "postSet", ResultSet: "posts", Column: "blog_id", ForeignColumn: "blog_id"}))
	stmt := &mapping.Statement{ID: "blogsWithPosts", ResultMaps: []string{"blogSet"}, ResultSets: []string{"blogs", "posts"}}
	h := NewHandler(Config{Mappings: registry(t, blogD, postD), Statement: stmt, Settings: DefaultSettings()})

	_, err := h.HandleResultSets(context.Background(), multiSetRows())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), `"posts"`)
}

type failingSource struct {
	rowsource.Source
	err error
}

func (f failingSource) Next(context.Context) (bool, error) {
	return false, f.err
}

func TestHandleResultSets_DriverError(t *testing.T) {
	d := authorDescriptor(t)
	mem := rowsource.NewMemory(rowsource.NewTable([]string{"id", "name", "email"}, []any{int64(1), "ann", nil}))
	myErr := &mysql.MySQLError{Number: 1146, Message: "Table 'blog.authors' doesn't exist"}
	h := NewHandler(Config{
		Mappings:  registry(t, d),
		Statement: &mapping.Statement{ID: "authors", ResultMaps: []string{"author"}},
		Settings:  DefaultSettings(),
	})

	_, err := h.HandleResultSets(context.Background(), failingSource{Source: mem, err: myErr})
	var driverErr *DriverError
	require.ErrorAs(t, err, &driverErr)
	assert.Equal(t, "authors", driverErr.StatementID)
	assert.Contains(t, err.Error(), "mysql error 1146")

	var got *mysql.MySQLError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, uint16(1146), got.Number)
	assert.Equal(t, 1, mem.CloseCount(), "the source is closed once")
}

func TestHandleResultSets_NoDescriptors(t *testing.T) {
	h := NewHandler(Config{Statement: &mapping.Statement{ID: "bare"}, Settings: DefaultSettings()})
	src := rowsource.NewMemory(rowsource.NewTable([]string{"id"}, []any{int64(1)}))
	_, err := h.HandleResultSets(context.Background(), src)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.True(t, src.Closed())
}
