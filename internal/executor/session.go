package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"rowgraph/internal/cursor"
	"rowgraph/internal/lazy"
	"rowgraph/internal/logging"
	"rowgraph/internal/mapping"
	"rowgraph/internal/materialize"
	"rowgraph/internal/meta"
	"rowgraph/internal/rowkey"
	"rowgraph/internal/rowsource"
)

var (
	// ErrClosed is returned by every call on a closed session.
	ErrClosed = errors.New("executor was closed")
	// ErrBusy is returned when a call starts while another is still running.
	ErrBusy = errors.New("session is in use by another call")
)

// TooManyResultsError is returned by SelectOne when more than one object was found.
type TooManyResultsError struct {
	StatementID string
	Count       int
}

func (e *TooManyResultsError) Error() string {
	return fmt.Sprintf("expected one result (or none) from %s, but found %d", e.StatementID, e.Count)
}

// executionPlaceholder marks a cache key whose query is still running.
type executionPlaceholder struct{}

type deferredLoad struct {
	stmtID   string
	owner    any
	property string
	key      *rowkey.Key
	target   reflect.Type
}

// Session executes statements one call at a time. It is not safe for
// concurrent use; lazy loaders borrow it through TryEnter and fork a new
// session when it is busy.
type Session struct {
	id     string
	f      *Factory
	logger *logging.Logger

	mu         sync.Mutex
	closed     atomic.Bool
	queryStack int
	cache      *rowkey.Table[any]
	deferred   []*deferredLoad
	cursors    []*cursor.Cursor
}

// ID returns the session's execution id.
func (s *Session) ID() string { return s.id }

// SelectList runs a statement and returns its objects.
func (s *Session) SelectList(ctx context.Context, statementID string, param any, opts ...SelectOption) ([]any, error) {
	stmt, err := s.enter(statementID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	o := collectOptions(opts)
	return s.query(s.context(ctx), stmt, param, o.bounds, nil, nil)
}

// SelectOne runs a statement expected to produce at most one object.
func (s *Session) SelectOne(ctx context.Context, statementID string, param any) (any, error) {
	list, err := s.SelectList(ctx, statementID, param)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, nil
	case 1:
		return list[0], nil
	}
	return nil, &TooManyResultsError{StatementID: statementID, Count: len(list)}
}

// Select runs a statement and pushes every object into sink.
func (s *Session) Select(ctx context.Context, statementID string, param any, sink materialize.Sink, opts ...SelectOption) error {
	if sink == nil {
		return errors.New("executor: nil result sink")
	}
	stmt, err := s.enter(statementID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	o := collectOptions(opts)
	_, err = s.query(s.context(ctx), stmt, param, o.bounds, sink, nil)
	return err
}

// SelectAs runs a statement and converts its objects to T.
func SelectAs[T any](ctx context.Context, s *Session, statementID string, param any, opts ...SelectOption) ([]T, error) {
	list, err := s.SelectList(ctx, statementID, param, opts...)
	if err != nil {
		return nil, err
	}
	out, err := meta.Convert(list, reflect.TypeFor[[]T]())
	if err != nil {
		return nil, fmt.Errorf("results of %s: %w", statementID, err)
	}
	typed, _ := out.([]T)
	return typed, nil
}

// SelectMap runs a statement and indexes its objects by the mapKey property,
// which may be a dotted path. Objects sharing a key keep the last one. The
// list is read through the local cache like SelectList.
func (s *Session) SelectMap(ctx context.Context, statementID string, param any, mapKey string, opts ...SelectOption) (map[any]any, error) {
	list, err := s.SelectList(ctx, statementID, param, opts...)
	if err != nil {
		return nil, err
	}
	sink := &materialize.MapSink{Classes: s.f.classes, Key: mapKey}
	for _, obj := range list {
		if err := sink.Add(obj); err != nil {
			return nil, fmt.Errorf("results of %s: %w", statementID, err)
		}
	}
	return sink.Map(), nil
}

// SelectMapAs is SelectMap with typed keys and values.
func SelectMapAs[K comparable, V any](ctx context.Context, s *Session, statementID string, param any, mapKey string, opts ...SelectOption) (map[K]V, error) {
	m, err := s.SelectMap(ctx, statementID, param, mapKey, opts...)
	if err != nil {
		return nil, err
	}
	out, err := meta.Convert(m, reflect.TypeFor[map[K]V]())
	if err != nil {
		return nil, fmt.Errorf("results of %s: %w", statementID, err)
	}
	typed, _ := out.(map[K]V)
	return typed, nil
}

// SelectCursor opens a cursor over a statement with a single result descriptor.
// Cursor results bypass the local cache. The cursor is closed with the session.
func (s *Session) SelectCursor(ctx context.Context, statementID string, param any, opts ...SelectOption) (*cursor.Cursor, error) {
	stmt, err := s.enter(statementID)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	if len(stmt.ResultMaps) != 1 {
		return nil, mapping.Errorf(stmt.ID, "cursor results cannot be mapped to %d result descriptors", len(stmt.ResultMaps))
	}
	d, ok := s.f.mappings.Descriptor(stmt.ResultMaps[0])
	if !ok {
		return nil, mapping.Errorf(stmt.ID, "unknown result descriptor %q", stmt.ResultMaps[0])
	}
	o := collectOptions(opts)
	ctx = s.context(ctx)
	src, err := s.open(ctx, stmt, param)
	if err != nil {
		return nil, err
	}
	c := cursor.New(cursor.Config{
		StatementID: stmt.ID,
		Handler:     sessionRows{s: s, h: s.handler(stmt, materialize.DefaultBounds(), nil)},
		Source:      src,
		Descriptor:  d,
		Bounds:      o.bounds,
		Logger:      s.logger,
		Metrics:     s.f.metrics,
	})
	s.cursors = append(s.cursors, c)
	return c, nil
}

// ClearCache empties the local cache.
func (s *Session) ClearCache() {
	s.cache.Clear()
}

// Close releases open cursors and the local cache. Later calls fail with ErrClosed.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, c := range s.cursors {
		errs = append(errs, c.Close())
	}
	s.cursors = nil
	s.deferred = nil
	s.cache.Clear()
	s.logger.Debug("session closed")
	return errors.Join(errs...)
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// TryEnter claims the session for one lazy load.
func (s *Session) TryEnter() bool {
	if s.closed.Load() || !s.mu.TryLock() {
		return false
	}
	if s.closed.Load() {
		s.mu.Unlock()
		return false
	}
	return true
}

// Exit releases a session claimed by TryEnter.
func (s *Session) Exit() {
	s.mu.Unlock()
}

// Load runs a lazy load request. The caller holds the session through TryEnter.
func (s *Session) Load(ctx context.Context, req lazy.Request) ([]any, error) {
	stmt, ok := s.f.mappings.Statement(req.StatementID)
	if !ok {
		return nil, mapping.Errorf(req.StatementID, "unknown statement")
	}
	return s.query(s.context(ctx), stmt, req.Param, materialize.DefaultBounds(), nil, req.Key)
}

// Fork opens a sibling session from the same factory.
func (s *Session) Fork(context.Context) (lazy.ExecutionContext, error) {
	return s.f.Open(), nil
}

// ExecutionContext returns the session itself.
func (s *Session) ExecutionContext() lazy.ExecutionContext {
	return s
}

// Query runs a nested statement during materialization.
func (s *Session) Query(ctx context.Context, stmt *mapping.Statement, param any, key *rowkey.Key) ([]any, error) {
	return s.query(ctx, stmt, param, materialize.DefaultBounds(), nil, key)
}

// CreateCacheKey identifies a statement execution by statement id, bounds,
// the planned SQL and its arguments.
func (s *Session) CreateCacheKey(stmt *mapping.Statement, param any, bounds materialize.Bounds) (*rowkey.Key, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if stmt.Source == nil {
		return nil, mapping.Errorf(stmt.ID, "statement has no SQL source")
	}
	q, err := stmt.Source.Plan(s.f.dialect, param)
	if err != nil {
		return nil, fmt.Errorf("failed to plan %s: %w", stmt.ID, err)
	}
	key := rowkey.New(stmt.ID, bounds.Offset, bounds.Limit, q.SQL)
	key.UpdateAll(q.Args...)
	return key, nil
}

// IsCached reports whether key holds a result or a query in progress.
func (s *Session) IsCached(key *rowkey.Key) bool {
	_, ok := s.cache.Get(key)
	return ok
}

// DeferLoad assigns the cached result for key to owner.property, now when
// it is complete or after the outermost query otherwise.
func (s *Session) DeferLoad(stmt *mapping.Statement, owner any, property string, key *rowkey.Key, target reflect.Type) error {
	if s.closed.Load() {
		return ErrClosed
	}
	dl := &deferredLoad{stmtID: stmt.ID, owner: owner, property: property, key: key, target: target}
	if s.canLoad(key) {
		return s.load(context.Background(), dl)
	}
	s.deferred = append(s.deferred, dl)
	return nil
}

func (s *Session) enter(statementID string) (*mapping.Statement, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	stmt, ok := s.f.mappings.Statement(statementID)
	if !ok {
		return nil, mapping.Errorf(statementID, "unknown statement")
	}
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	if s.closed.Load() {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	return stmt, nil
}

func (s *Session) context(ctx context.Context) context.Context {
	if logging.GetExecutionID(ctx) == s.id {
		return ctx
	}
	return logging.WithExecutionIDContext(ctx, s.id)
}

func (s *Session) query(ctx context.Context, stmt *mapping.Statement, param any, bounds materialize.Bounds, sink materialize.Sink, key *rowkey.Key) ([]any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if key == nil {
		var err error
		if key, err = s.CreateCacheKey(stmt, param, bounds); err != nil {
			return nil, err
		}
	}
	if s.queryStack == 0 && stmt.FlushCache {
		s.cache.Clear()
	}

	list, err := s.queryStacked(ctx, stmt, param, bounds, sink, key)
	if err != nil {
		return nil, err
	}

	if s.queryStack == 0 {
		loads := s.deferred
		s.deferred = nil
		for _, dl := range loads {
			if err := s.load(ctx, dl); err != nil {
				return nil, err
			}
		}
		if s.f.scope == ScopeStatement {
			s.cache.Clear()
		}
	}
	return list, nil
}

func (s *Session) queryStacked(ctx context.Context, stmt *mapping.Statement, param any, bounds materialize.Bounds, sink materialize.Sink, key *rowkey.Key) ([]any, error) {
	s.queryStack++
	defer func() { s.queryStack-- }()

	if sink == nil {
		if v, ok := s.cache.Get(key); ok {
			if _, running := v.(executionPlaceholder); running {
				return nil, fmt.Errorf("statement %s re-entered while its result is being loaded", stmt.ID)
			}
			if s.f.metrics != nil {
				s.f.metrics.RecordLocalCacheHit(ctx, stmt.ID)
			}
			s.logger.DebugContext(ctx, "local cache hit", slog.String("statement", stmt.ID))
			list, _ := v.([]any)
			return list, nil
		}
	}
	return s.queryFromDatabase(ctx, stmt, param, bounds, sink, key)
}

func (s *Session) queryFromDatabase(ctx context.Context, stmt *mapping.Statement, param any, bounds materialize.Bounds, sink materialize.Sink, key *rowkey.Key) ([]any, error) {
	s.cache.Put(key, executionPlaceholder{})
	list, err := s.doQuery(ctx, stmt, param, bounds, sink)
	s.cache.Delete(key)
	if err != nil {
		return nil, err
	}
	s.cache.Put(key, list)
	return list, nil
}

func (s *Session) doQuery(ctx context.Context, stmt *mapping.Statement, param any, bounds materialize.Bounds, sink materialize.Sink) (list []any, err error) {
	ctx, span := startQuerySpan(ctx, "rowgraph.query",
		attribute.String("rowgraph.statement", stmt.ID),
		attribute.String("rowgraph.session", s.id),
		attribute.Int("rowgraph.query.depth", s.queryStack),
	)
	start := time.Now()
	defer func() {
		finishQuerySpan(span, err, len(list))
		if s.f.metrics != nil {
			s.f.metrics.RecordQuery(ctx, stmt.ID, time.Since(start), err != nil)
		}
	}()

	src, err := s.open(ctx, stmt, param)
	if err != nil {
		return nil, err
	}
	list, err = s.handler(stmt, bounds, sink).HandleResultSets(ctx, src)
	if err != nil {
		return nil, err
	}
	if s.f.metrics != nil {
		s.f.metrics.RecordResultsCount(ctx, int64(len(list)), stmt.ID)
	}
	return list, nil
}

func (s *Session) open(ctx context.Context, stmt *mapping.Statement, param any) (*rowsource.SQL, error) {
	if stmt.Source == nil {
		return nil, mapping.Errorf(stmt.ID, "statement has no SQL source")
	}
	q, err := stmt.Source.Plan(s.f.dialect, param)
	if err != nil {
		return nil, fmt.Errorf("failed to plan %s: %w", stmt.ID, err)
	}
	s.logger.DebugContext(ctx, "executing statement",
		slog.String("statement", stmt.ID),
		slog.String("sql", q.SQL),
		slog.Int("args", len(q.Args)),
	)
	rows, err := s.f.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, &materialize.DriverError{StatementID: stmt.ID, Err: err}
	}
	src, err := rowsource.FromRows(rows)
	if err != nil {
		return nil, &materialize.DriverError{StatementID: stmt.ID, Err: err}
	}
	return src, nil
}

func (s *Session) handler(stmt *mapping.Statement, bounds materialize.Bounds, sink materialize.Sink) *materialize.Handler {
	return materialize.NewHandler(materialize.Config{
		Executor:  s,
		Statement: stmt,
		Mappings:  s.f.mappings,
		Types:     s.f.types,
		Objects:   s.f.objects,
		Classes:   s.f.classes,
		Settings:  s.f.settings,
		Bounds:    bounds,
		Sink:      sink,
		Logger:    s.logger,
		Metrics:   s.f.metrics,
	})
}

func (s *Session) canLoad(key *rowkey.Key) bool {
	v, ok := s.cache.Get(key)
	if !ok {
		return false
	}
	_, running := v.(executionPlaceholder)
	return !running
}

// load assigns a completed cached result to its owner.
func (s *Session) load(ctx context.Context, dl *deferredLoad) error {
	v, _ := s.cache.Get(dl.key)
	list, _ := v.([]any)
	value, err := lazy.Extract(list, dl.target)
	if err != nil {
		return mapping.Errorf(dl.stmtID, "deferred load of %q: %v", dl.property, err)
	}
	if s.f.metrics != nil {
		s.f.metrics.RecordDeferredLoad(ctx, dl.stmtID)
	}
	if value == nil {
		return nil
	}
	cls := s.f.classes.Of(dl.owner)
	if !cls.IsMap() {
		if _, ok := lazy.ValueType(cls.SetterType(dl.property)); ok {
			addr, err := s.f.classes.Addr(dl.owner, dl.property)
			if err != nil {
				return err
			}
			_, err = lazy.Assign(addr, value)
			return err
		}
	}
	return s.f.classes.Set(dl.owner, dl.property, value)
}

// sessionRows holds the session for each cursor fetch so nested queries run
// under the same exclusion as a select call.
type sessionRows struct {
	s *Session
	h *materialize.Handler
}

func (r sessionRows) HandleRowValues(ctx context.Context, src rowsource.Source, d *mapping.Descriptor, sink materialize.Sink, bounds materialize.Bounds, parent *mapping.ColumnMapping) error {
	if r.s.closed.Load() {
		return ErrClosed
	}
	if !r.s.mu.TryLock() {
		return ErrBusy
	}
	defer r.s.mu.Unlock()
	return r.h.HandleRowValues(r.s.context(ctx), src, d, sink, bounds, parent)
}
