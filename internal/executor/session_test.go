package executor

import (
	"context"
	"database/sql"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/suite"

	"rowgraph/internal/cursor"
	"rowgraph/internal/dbexec"
	"rowgraph/internal/lazy"
	"rowgraph/internal/mapping"
	"rowgraph/internal/materialize"
	"rowgraph/internal/meta"
	"rowgraph/internal/planner"
)

type author struct {
	ID    int64
	Name  string
	Blogs []*blog
}

type blog struct {
	ID     int64
	Title  string
	Author *author
}

type lazyBlog struct {
	ID     int64
	Title  string
	Author lazy.Slot[*author]
}

const (
	authorSQL      = "SELECT id, name FROM author WHERE id = ?"
	blogsSQL       = "SELECT id, title, author_id FROM blog WHERE author_id = ?"
	allBlogsSQL    = "SELECT id, title, author_id FROM blog"
	allAuthorsSQL  = "SELECT id, name FROM author"
	flushedBlogSQL = "SELECT id, title, author_id FROM blog ORDER BY id"
)

type SessionSuite struct {
	suite.Suite
	db      *sql.DB
	mock    sqlmock.Sqlmock
	reg     *mapping.Registry
	session *Session
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.db, s.mock = db, mock
	s.reg = s.registry()
	s.session = s.open(ScopeSession)
}

func (s *SessionSuite) TearDownTest() {
	s.NoError(s.session.Close())
	s.NoError(s.mock.ExpectationsWereMet())
	_ = s.db.Close()
}

func (s *SessionSuite) open(scope LocalCacheScope) *Session {
	f, err := NewFactory(Config{
		DB:         dbexec.NewPoolExecutor(s.db),
		Mappings:   s.reg,
		CacheScope: scope,
	})
	s.Require().NoError(err)
	return f.Open()
}

func (s *SessionSuite) build(b *mapping.Builder) *mapping.Descriptor {
	d, err := b.Build(meta.Default())
	s.Require().NoError(err)
	return d
}

func (s *SessionSuite) registry() *mapping.Registry {
	reg := mapping.NewRegistry()
	s.Require().NoError(reg.Add(
		s.build(mapping.NewBuilder("author", reflect.TypeFor[author]()).
			ID("ID", "id").
			Result("Name", "name").
			Map(mapping.ColumnMapping{Property: "Blogs", Column: "id", NestedQueryID: "blogsByAuthor"})),
		s.build(mapping.NewBuilder("plainAuthor", reflect.TypeFor[author]()).
			ID("ID", "id").
			Result("Name", "name")),
		s.build(mapping.NewBuilder("blog", reflect.TypeFor[blog]()).
			ID("ID", "id").
			Result("Title", "title").
			Map(mapping.ColumnMapping{Property: "Author", Column: "author_id", NestedQueryID: "authorByID"})),
		s.build(mapping.NewBuilder("lazyBlog", reflect.TypeFor[lazyBlog]()).
			ID("ID", "id").
			Result("Title", "title").
			Map(mapping.ColumnMapping{Property: "Author", Column: "author_id", NestedQueryID: "plainAuthorByID", Lazy: true})),
	))
	for _, stmt := range []*mapping.Statement{
		{ID: "authorByID", Source: planner.Raw{SQL: authorSQL, Params: []string{"id"}}, ResultMaps: []string{"author"}},
		{ID: "plainAuthorByID", Source: planner.Raw{SQL: authorSQL, Params: []string{"id"}}, ResultMaps: []string{"plainAuthor"}},
		{ID: "allAuthors", Source: planner.Raw{SQL: allAuthorsSQL}, ResultMaps: []string{"plainAuthor"}},
		{ID: "blogsByAuthor", Source: planner.Raw{SQL: blogsSQL, Params: []string{"author_id"}}, ResultMaps: []string{"blog"}},
		{ID: "lazyBlogs", Source: planner.Raw{SQL: allBlogsSQL}, ResultMaps: []string{"lazyBlog"}},
		{ID: "flushedBlogs", Source: planner.Raw{SQL: flushedBlogSQL}, ResultMaps: []string{"lazyBlog"}, FlushCache: true},
		{ID: "twoMaps", Source: planner.Raw{SQL: allAuthorsSQL}, ResultMaps: []string{"plainAuthor", "blog"}},
	} {
		s.Require().NoError(reg.AddStatement(stmt))
	}
	s.Require().NoError(reg.Validate())
	return reg
}

func (s *SessionSuite) expectAuthors(n int) {
	rows := sqlmock.NewRows([]string{"id", "name"})
	for i := 1; i <= n; i++ {
		rows.AddRow(int64(i), "author")
	}
	s.mock.ExpectQuery(regexp.QuoteMeta(allAuthorsSQL)).WillReturnRows(rows)
}

func (s *SessionSuite) TestCyclicNestedQueriesShareInstances() {
	s.mock.ExpectQuery(regexp.QuoteMeta(authorSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ann"))
	s.mock.ExpectQuery(regexp.QuoteMeta(blogsSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id"}).
			AddRow(int64(10), "first", int64(1)).
			AddRow(int64(11), "second", int64(1)))

	got, err := s.session.SelectOne(context.Background(), "authorByID", int64(1))
	s.Require().NoError(err)
	a := got.(*author)
	s.Equal("ann", a.Name)
	s.Require().Len(a.Blogs, 2)
	for _, b := range a.Blogs {
		s.Same(a, b.Author, "the blog's author is the instance being loaded")
	}
}

func (s *SessionSuite) TestLocalCache() {
	ctx := context.Background()
	s.expectAuthors(2)

	first, err := s.session.SelectList(ctx, "allAuthors", nil)
	s.Require().NoError(err)
	second, err := s.session.SelectList(ctx, "allAuthors", nil)
	s.Require().NoError(err)
	s.Len(second, 2)
	s.Same(first[0], second[0], "the second call is served from the local cache")

	s.session.ClearCache()
	s.expectAuthors(2)
	_, err = s.session.SelectList(ctx, "allAuthors", nil)
	s.Require().NoError(err)
}

func (s *SessionSuite) TestStatementScopeClearsCache() {
	ctx := context.Background()
	session := s.open(ScopeStatement)
	defer session.Close()

	s.expectAuthors(1)
	s.expectAuthors(1)
	_, err := session.SelectList(ctx, "allAuthors", nil)
	s.Require().NoError(err)
	_, err = session.SelectList(ctx, "allAuthors", nil)
	s.Require().NoError(err)
}

func (s *SessionSuite) TestFlushCacheStatement() {
	ctx := context.Background()
	for range 2 {
		s.mock.ExpectQuery(regexp.QuoteMeta(flushedBlogSQL)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id"}))
	}
	_, err := s.session.SelectList(ctx, "flushedBlogs", nil)
	s.Require().NoError(err)
	_, err = s.session.SelectList(ctx, "flushedBlogs", nil)
	s.Require().NoError(err)
}

func (s *SessionSuite) TestSelectOneTooMany() {
	s.expectAuthors(2)
	_, err := s.session.SelectOne(context.Background(), "allAuthors", nil)
	var tooMany *TooManyResultsError
	s.Require().ErrorAs(err, &tooMany)
	s.Equal(2, tooMany.Count)
}

func (s *SessionSuite) TestBounds() {
	s.expectAuthors(5)
	list, err := s.session.SelectList(context.Background(), "allAuthors", nil, WithBounds(1, 2))
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(int64(2), list[0].(*author).ID)
	s.Equal(int64(3), list[1].(*author).ID)
}

func (s *SessionSuite) TestSelectAs() {
	s.expectAuthors(2)
	authors, err := SelectAs[*author](context.Background(), s.session, "allAuthors", nil)
	s.Require().NoError(err)
	s.Len(authors, 2)
	s.Equal(int64(1), authors[0].ID)
}

func (s *SessionSuite) TestSelectWithSinkHoldsSession() {
	ctx := context.Background()
	s.expectAuthors(3)

	var ids []int64
	err := s.session.Select(ctx, "allAuthors", nil, materialize.SinkFunc(func(rc *materialize.ResultContext) error {
		ids = append(ids, rc.Object().(*author).ID)
		s.False(s.session.TryEnter(), "the session is busy while a select runs")
		_, err := s.session.SelectList(ctx, "allAuthors", nil)
		s.ErrorIs(err, ErrBusy)
		return nil
	}))
	s.Require().NoError(err)
	s.Equal([]int64{1, 2, 3}, ids)

	s.Require().True(s.session.TryEnter())
	s.session.Exit()
}

func (s *SessionSuite) TestLazyProperty() {
	ctx := context.Background()
	s.mock.ExpectQuery(regexp.QuoteMeta(allBlogsSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id"}).
			AddRow(int64(10), "first", int64(1)))

	list, err := s.session.SelectList(ctx, "lazyBlogs", nil)
	s.Require().NoError(err)
	b := list[0].(*lazyBlog)
	s.True(b.Author.Pending())

	s.mock.ExpectQuery(regexp.QuoteMeta(authorSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ann"))
	a, err := b.Author.Get(ctx)
	s.Require().NoError(err)
	s.Equal("ann", a.Name)

	again, err := b.Author.Get(ctx)
	s.Require().NoError(err)
	s.Same(a, again)
}

func (s *SessionSuite) TestLazyPropertyAfterSessionClosed() {
	ctx := context.Background()
	s.mock.ExpectQuery(regexp.QuoteMeta(allBlogsSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id"}).
			AddRow(int64(10), "first", int64(1)))

	list, err := s.session.SelectList(ctx, "lazyBlogs", nil)
	s.Require().NoError(err)
	b := list[0].(*lazyBlog)
	s.Require().NoError(s.session.Close())
	s.True(b.Author.Pending())

	s.mock.ExpectQuery(regexp.QuoteMeta(authorSQL)).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ann"))
	a, err := b.Author.Get(ctx)
	s.Require().NoError(err, "a closed session forks a fresh one for the load")
	s.Equal(&author{ID: 1, Name: "ann"}, a)
	s.False(b.Author.Pending())
}

func (s *SessionSuite) TestSelectMap() {
	ctx := context.Background()
	s.expectAuthors(3)

	m, err := s.session.SelectMap(ctx, "allAuthors", nil, "ID")
	s.Require().NoError(err)
	s.Require().Len(m, 3)
	for id, v := range m {
		s.Equal(id, v.(*author).ID)
	}

	list, err := s.session.SelectList(ctx, "allAuthors", nil)
	s.Require().NoError(err)
	s.Same(list[0], m[int64(1)], "map and list share the cached instances")
}

func (s *SessionSuite) TestSelectMapDuplicateKeys() {
	s.expectAuthors(3)
	m, err := s.session.SelectMap(context.Background(), "allAuthors", nil, "Name", WithBounds(0, 2))
	s.Require().NoError(err)
	s.Require().Len(m, 1)
	s.Equal(int64(2), m["author"].(*author).ID, "the last object wins")
}

func (s *SessionSuite) TestSelectMapAs() {
	s.expectAuthors(2)
	authors, err := SelectMapAs[int64, *author](context.Background(), s.session, "allAuthors", nil, "ID")
	s.Require().NoError(err)
	s.Require().Len(authors, 2)
	s.Equal(int64(2), authors[2].ID)
}

func (s *SessionSuite) TestSelectMapUnknownKey() {
	s.expectAuthors(1)
	_, err := s.session.SelectMap(context.Background(), "allAuthors", nil, "Missing")
	s.Require().Error(err)
	s.Contains(err.Error(), `map key "Missing"`)
}

func (s *SessionSuite) TestCursor() {
	ctx := context.Background()
	s.expectAuthors(5)

	c, err := s.session.SelectCursor(ctx, "allAuthors", nil, WithBounds(1, 2))
	s.Require().NoError(err)
	var ids []int64
	for v, err := range c.All(ctx) {
		s.Require().NoError(err)
		ids = append(ids, v.(*author).ID)
	}
	s.Equal([]int64{2, 3}, ids)
	s.True(c.IsConsumed())
}

func (s *SessionSuite) TestCursorClosedWithSession() {
	ctx := context.Background()
	s.expectAuthors(3)
	session := s.open(ScopeSession)

	c, err := session.SelectCursor(ctx, "allAuthors", nil)
	s.Require().NoError(err)
	s.Require().NoError(session.Close())
	s.Equal(cursor.Closed, c.State())
}

func (s *SessionSuite) TestCursorNeedsOneDescriptor() {
	_, err := s.session.SelectCursor(context.Background(), "twoMaps", nil)
	var cfgErr *mapping.ConfigurationError
	s.Require().ErrorAs(err, &cfgErr)
}

func (s *SessionSuite) TestDriverError() {
	s.mock.ExpectQuery(regexp.QuoteMeta(allAuthorsSQL)).
		WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'blog.author' doesn't exist"})

	_, err := s.session.SelectList(context.Background(), "allAuthors", nil)
	var driverErr *materialize.DriverError
	s.Require().ErrorAs(err, &driverErr)
	s.Contains(err.Error(), "mysql error 1146")
}

func (s *SessionSuite) TestUnknownStatement() {
	_, err := s.session.SelectList(context.Background(), "missing", nil)
	var cfgErr *mapping.ConfigurationError
	s.Require().ErrorAs(err, &cfgErr)
}

func (s *SessionSuite) TestClosedSession() {
	session := s.open(ScopeSession)
	s.Require().NoError(session.Close())
	s.Require().NoError(session.Close())
	s.True(session.Closed())
	s.False(session.TryEnter())

	_, err := session.SelectList(context.Background(), "allAuthors", nil)
	s.ErrorIs(err, ErrClosed)
}

func (s *SessionSuite) TestCacheKey() {
	stmt, ok := s.reg.Statement("authorByID")
	s.Require().True(ok)

	k1, err := s.session.CreateCacheKey(stmt, int64(1), materialize.DefaultBounds())
	s.Require().NoError(err)
	k2, err := s.session.CreateCacheKey(stmt, int64(1), materialize.DefaultBounds())
	s.Require().NoError(err)
	k3, err := s.session.CreateCacheKey(stmt, int64(2), materialize.DefaultBounds())
	s.Require().NoError(err)
	k4, err := s.session.CreateCacheKey(stmt, int64(1), materialize.Bounds{Offset: 1, Limit: 1})
	s.Require().NoError(err)

	s.True(k1.Equal(k2))
	s.False(k1.Equal(k3))
	s.False(k1.Equal(k4))
}

func TestParseLocalCacheScope(t *testing.T) {
	for in, want := range map[string]LocalCacheScope{"": ScopeSession, "SESSION": ScopeSession, "statement": ScopeStatement} {
		got, err := ParseLocalCacheScope(in)
		if err != nil || got != want {
			t.Fatalf("ParseLocalCacheScope(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLocalCacheScope("global"); err == nil {
		t.Fatal("expected an error for an unknown scope")
	}
}
