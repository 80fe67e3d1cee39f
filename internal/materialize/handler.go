// Package materialize turns rows of a row source into object graphs described
// by mapping descriptors.
//
// A Handler is created for one statement execution and owns all row-scan
// state: the objects built per row identity, the ancestors of the object under
// construction, the links waiting for named result sets and the automapping
// cache. None of it survives the execution.
package materialize

import (
	"context"
	"log/slog"

	"rowgraph/internal/logging"
	"rowgraph/internal/mapping"
	"rowgraph/internal/meta"
	"rowgraph/internal/observability"
	"rowgraph/internal/rowkey"
	"rowgraph/internal/rowsource"
	"rowgraph/internal/typehandler"
)

// Config wires a Handler to its collaborators.
type Config struct {
	// Executor runs nested queries; it may be nil when no descriptor uses one.
	Executor  Executor
	Statement *mapping.Statement
	Mappings  *mapping.Registry
	Types     *typehandler.Registry
	Objects   ObjectFactory
	Classes   *meta.Registry
	Settings  Settings
	// Bounds apply to the leading result sets of HandleResultSets.
	Bounds Bounds
	// Sink replaces list collection in HandleResultSets.
	Sink    Sink
	Logger  *logging.Logger
	Metrics *observability.MaterializeMetrics
}

// Handler materializes the result sets of one statement execution.
// It is not safe for concurrent use.
type Handler struct {
	exec     Executor
	stmt     *mapping.Statement
	mappings *mapping.Registry
	types    *typehandler.Registry
	objects  ObjectFactory
	classes  *meta.Registry
	settings Settings
	bounds   Bounds
	sink     Sink
	logger   *logging.Logger
	metrics  *observability.MaterializeMetrics

	nestedObjects    *rowkey.Table[any]
	ancestors        map[string]any
	previousRowValue any
	pendingLinks     *rowkey.Table[[]pendingLink]
	nextResultMaps   map[string]*mapping.ColumnMapping
	autoMappings     map[string][]autoMapping
}

// NewHandler returns a handler for one statement execution. Missing
// collaborators fall back to the default registries.
func NewHandler(cfg Config) *Handler {
	classes := cfg.Classes
	if classes == nil {
		classes = meta.Default()
	}
	objects := cfg.Objects
	if objects == nil {
		objects = meta.NewFactory(classes)
	}
	types := cfg.Types
	if types == nil {
		types = typehandler.NewRegistry()
	}
	mappings := cfg.Mappings
	if mappings == nil {
		mappings = mapping.NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	bounds := cfg.Bounds
	if bounds == (Bounds{}) {
		bounds = DefaultBounds()
	}
	return &Handler{
		exec:           cfg.Executor,
		stmt:           cfg.Statement,
		mappings:       mappings,
		types:          types,
		objects:        objects,
		classes:        classes,
		settings:       cfg.Settings,
		bounds:         bounds,
		sink:           cfg.Sink,
		logger:         logger,
		metrics:        cfg.Metrics,
		nestedObjects:  rowkey.NewTable[any](),
		ancestors:      make(map[string]any),
		pendingLinks:   rowkey.NewTable[[]pendingLink](),
		nextResultMaps: make(map[string]*mapping.ColumnMapping),
		autoMappings:   make(map[string][]autoMapping),
	}
}

func (h *Handler) statementID() string {
	if h.stmt == nil {
		return ""
	}
	return h.stmt.ID
}

func (h *Handler) resultOrdered() bool {
	return h.stmt != nil && h.stmt.ResultOrdered
}

// HandleResultSets materializes every result set of src: one per descriptor
// listed on the statement, then the named result sets routed to the mappings
// that registered them. A single list is returned as is; several lists are
// returned as a list of lists. With a custom sink the list is empty.
// The source is closed before returning.
func (h *Handler) HandleResultSets(ctx context.Context, src rowsource.Source) ([]any, error) {
	defer h.closeSource(ctx, src)
	if h.stmt == nil {
		return nil, configErrorf("", "no statement to handle result sets for")
	}

	var lists []any
	hasSet := len(src.Columns()) > 0
	if hasSet && len(h.stmt.ResultMaps) == 0 {
		return nil, configErrorf(h.stmt.ID, "a query was run and no result descriptors were found for the statement")
	}

	setIndex := 0
	for hasSet && setIndex < len(h.stmt.ResultMaps) {
		d, ok := h.mappings.Descriptor(h.stmt.ResultMaps[setIndex])
		if !ok {
			return nil, configErrorf(h.stmt.ID, "unknown result descriptor %q", h.stmt.ResultMaps[setIndex])
		}
		list, err := h.handleResultSet(ctx, src, d, nil)
		if err != nil {
			return nil, err
		}
		if list != nil {
			lists = append(lists, list)
		}
		more, err := h.nextResultSet(ctx, src)
		if err != nil {
			return nil, err
		}
		hasSet = more
		h.cleanUpAfterResultSet()
		setIndex++
	}

	for hasSet && setIndex < len(h.stmt.ResultSets) {
		if parent, ok := h.nextResultMaps[h.stmt.ResultSets[setIndex]]; ok {
			d, ok := h.mappings.Descriptor(parent.NestedMapID)
			if !ok {
				return nil, configErrorf(h.stmt.ID, "result set %q references unknown descriptor %q",
					h.stmt.ResultSets[setIndex], parent.NestedMapID)
			}
			if _, err := h.handleResultSet(ctx, src, d, parent); err != nil {
				return nil, err
			}
		}
		more, err := h.nextResultSet(ctx, src)
		if err != nil {
			return nil, err
		}
		hasSet = more
		h.cleanUpAfterResultSet()
		setIndex++
	}

	if len(lists) == 1 {
		return lists[0].([]any), nil
	}
	if lists == nil {
		return []any{}, nil
	}
	return lists, nil
}

func (h *Handler) handleResultSet(ctx context.Context, src rowsource.Source, d *mapping.Descriptor, parent *mapping.ColumnMapping) ([]any, error) {
	switch {
	case parent != nil:
		return nil, h.HandleRowValues(ctx, src, d, nil, DefaultBounds(), parent)
	case h.sink == nil:
		list := &ListSink{}
		if err := h.HandleRowValues(ctx, src, d, list, h.bounds, nil); err != nil {
			return nil, err
		}
		return list.List(), nil
	}
	return nil, h.HandleRowValues(ctx, src, d, h.sink, h.bounds, nil)
}

func (h *Handler) nextResultSet(ctx context.Context, src rowsource.Source) (bool, error) {
	multi, ok := src.(rowsource.Multi)
	if !ok {
		return false, nil
	}
	more, err := multi.NextResultSet(ctx)
	if err != nil {
		return false, &DriverError{StatementID: h.statementID(), Err: err}
	}
	return more && len(src.Columns()) > 0, nil
}

func (h *Handler) cleanUpAfterResultSet() {
	h.nestedObjects.Clear()
}

func (h *Handler) closeSource(ctx context.Context, src rowsource.Source) {
	if err := src.Close(); err != nil {
		h.logger.DebugContext(ctx, "failed to close row source",
			slog.String("statement", h.statementID()),
			slog.String("error", err.Error()),
		)
	}
}

// HandleRowValues materializes the current result set of src with d,
// delivering every top-level object to sink, or linking it into the owners
// waiting on parent when parent is set.
func (h *Handler) HandleRowValues(ctx context.Context, src rowsource.Source, d *mapping.Descriptor, sink Sink, bounds Bounds, parent *mapping.ColumnMapping) error {
	rs := newResultSet(src, h.types)
	if d.HasNestedMappings() {
		if h.settings.SafeRowBoundsEnabled && !bounds.IsDefault() {
			return configErrorf(h.statementID(), "statements with nested result mappings cannot be safely constrained by row bounds; "+
				"disable safe_row_bounds_enabled to bypass this check")
		}
		if h.sink != nil && h.settings.SafeResultHandlerEnabled && !h.resultOrdered() {
			return configErrorf(h.statementID(), "statements with nested result mappings cannot be safely used with a custom result sink; "+
				"disable safe_result_handler_enabled or mark the statement result ordered")
		}
		return h.handleNestedRowValues(ctx, rs, d, sink, bounds, parent)
	}
	return h.handleSimpleRowValues(ctx, rs, d, sink, bounds, parent)
}

func (h *Handler) handleSimpleRowValues(ctx context.Context, rs *resultSet, d *mapping.Descriptor, sink Sink, bounds Bounds, parent *mapping.ColumnMapping) error {
	rc := &ResultContext{}
	if err := h.skipRows(ctx, rs.src, bounds); err != nil {
		return err
	}
	for {
		more, err := h.advance(ctx, rc, rs.src, bounds)
		if err != nil || !more {
			return err
		}
		h.rowScanned(ctx, d)
		resolved, err := h.resolveDiscriminated(ctx, rs, d, "")
		if err != nil {
			return err
		}
		obj, err := h.getRowValue(ctx, rs, resolved, "")
		if err != nil {
			return err
		}
		if err := h.storeObject(rs, sink, rc, obj, parent); err != nil {
			return err
		}
	}
}

func (h *Handler) handleNestedRowValues(ctx context.Context, rs *resultSet, d *mapping.Descriptor, sink Sink, bounds Bounds, parent *mapping.ColumnMapping) error {
	rc := &ResultContext{}
	if err := h.skipRows(ctx, rs.src, bounds); err != nil {
		return err
	}
	ordered := h.resultOrdered()
	rowValue := h.previousRowValue
	for {
		more, err := h.advance(ctx, rc, rs.src, bounds)
		if err != nil {
			return err
		}
		if !more {
			break
		}
		h.rowScanned(ctx, d)
		resolved, err := h.resolveDiscriminated(ctx, rs, d, "")
		if err != nil {
			return err
		}
		rowKey, err := h.createRowKey(rs, resolved, "")
		if err != nil {
			return err
		}
		partial, _ := h.nestedObjects.Get(rowKey)
		if partial != nil && h.metrics != nil {
			h.metrics.RecordNestedCacheHit(ctx, resolved.ID())
		}
		if ordered && partial == nil && rowValue != nil {
			h.nestedObjects.Clear()
			if err := h.storeObject(rs, sink, rc, rowValue, parent); err != nil {
				return err
			}
		}
		rowValue, err = h.getNestedRowValue(ctx, rs, resolved, rowKey, "", partial)
		if err != nil {
			return err
		}
		if partial == nil && !ordered {
			if err := h.storeObject(rs, sink, rc, rowValue, parent); err != nil {
				return err
			}
		}
	}
	if ordered && rowValue != nil && h.shouldProcessMoreRows(rc, bounds) {
		if err := h.storeObject(rs, sink, rc, rowValue, parent); err != nil {
			return err
		}
		h.previousRowValue = nil
	} else if rowValue != nil {
		h.previousRowValue = rowValue
	}
	return nil
}

// advance moves to the next row while the bounds and the sink allow more objects.
func (h *Handler) advance(ctx context.Context, rc *ResultContext, src rowsource.Source, bounds Bounds) (bool, error) {
	if !h.shouldProcessMoreRows(rc, bounds) || src.Closed() {
		return false, nil
	}
	more, err := src.Next(ctx)
	if err != nil {
		return false, &DriverError{StatementID: h.statementID(), Err: err}
	}
	return more, nil
}

func (h *Handler) shouldProcessMoreRows(rc *ResultContext, bounds Bounds) bool {
	return !rc.Stopped() && rc.Count() < bounds.limit()
}

// skipRows positions scrollable sources directly and reads past the offset
// on forward-only ones.
func (h *Handler) skipRows(ctx context.Context, src rowsource.Source, bounds Bounds) error {
	if bounds.Offset <= 0 {
		return nil
	}
	if p, ok := src.(rowsource.Positioner); ok {
		if _, err := p.Absolute(ctx, bounds.Offset); err != nil {
			return &DriverError{StatementID: h.statementID(), Err: err}
		}
		return nil
	}
	for i := 0; i < bounds.Offset; i++ {
		more, err := src.Next(ctx)
		if err != nil {
			return &DriverError{StatementID: h.statementID(), Err: err}
		}
		if !more {
			break
		}
	}
	return nil
}

func (h *Handler) storeObject(rs *resultSet, sink Sink, rc *ResultContext, obj any, parent *mapping.ColumnMapping) error {
	if parent != nil {
		return h.linkToParents(rs, parent, obj)
	}
	rc.next(obj)
	if sink == nil {
		return nil
	}
	return sink.Handle(rc)
}

func (h *Handler) rowScanned(ctx context.Context, d *mapping.Descriptor) {
	if h.metrics != nil {
		h.metrics.RecordRowScanned(ctx, d.ID())
	}
}
