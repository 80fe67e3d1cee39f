// Package executor runs mapped statements against a database and feeds the
// rows through the materializer.
//
// A Session owns a local cache of statement results keyed by statement,
// parameter and bounds. Nested queries that hit a result still being loaded
// by an outer query are deferred and assigned once the outermost query
// completes, which lets cyclic graphs share one instance per key.
package executor

import (
	"errors"

	"github.com/google/uuid"

	"rowgraph/internal/dbexec"
	"rowgraph/internal/logging"
	"rowgraph/internal/mapping"
	"rowgraph/internal/materialize"
	"rowgraph/internal/meta"
	"rowgraph/internal/observability"
	"rowgraph/internal/rowkey"
	"rowgraph/internal/sqlutil"
	"rowgraph/internal/typehandler"
)

// Config holds the collaborators shared by every session of a Factory.
type Config struct {
	DB       dbexec.QueryExecutor
	Dialect  sqlutil.Dialect
	Mappings *mapping.Registry
	Types    *typehandler.Registry
	Classes  *meta.Registry
	Objects  materialize.ObjectFactory
	// Settings defaults to materialize.DefaultSettings.
	Settings   *materialize.Settings
	CacheScope LocalCacheScope
	Logger     *logging.Logger
	Metrics    *observability.MaterializeMetrics
}

// Factory opens sessions.
type Factory struct {
	db       dbexec.QueryExecutor
	dialect  sqlutil.Dialect
	mappings *mapping.Registry
	types    *typehandler.Registry
	classes  *meta.Registry
	objects  materialize.ObjectFactory
	settings materialize.Settings
	scope    LocalCacheScope
	logger   *logging.Logger
	metrics  *observability.MaterializeMetrics
}

// NewFactory validates cfg and fills in the default registries.
func NewFactory(cfg Config) (*Factory, error) {
	if cfg.DB == nil {
		return nil, errors.New("executor: database executor is required")
	}
	if cfg.Mappings == nil {
		return nil, errors.New("executor: mapping registry is required")
	}
	f := &Factory{
		db:       cfg.DB,
		dialect:  cfg.Dialect,
		mappings: cfg.Mappings,
		types:    cfg.Types,
		classes:  cfg.Classes,
		objects:  cfg.Objects,
		settings: materialize.DefaultSettings(),
		scope:    cfg.CacheScope,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if cfg.Settings != nil {
		f.settings = *cfg.Settings
	}
	if f.types == nil {
		f.types = typehandler.NewRegistry()
	}
	if f.classes == nil {
		f.classes = meta.Default()
	}
	if f.objects == nil {
		f.objects = meta.NewFactory(f.classes)
	}
	if f.logger == nil {
		f.logger = logging.Discard()
	}
	return f, nil
}

// Open returns a new session with an empty local cache.
func (f *Factory) Open() *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		f:      f,
		logger: f.logger.WithExecutionID(id),
		cache:  rowkey.NewTable[any](),
	}
}
