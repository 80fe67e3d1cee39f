package materialize

import (
	"context"
	"reflect"

	"rowgraph/internal/lazy"
	"rowgraph/internal/mapping"
	"rowgraph/internal/rowkey"
)

// Executor runs nested queries on behalf of a Handler.
type Executor interface {
	// Query runs stmt with param, caching the result under key.
	Query(ctx context.Context, stmt *mapping.Statement, param any, key *rowkey.Key) ([]any, error)
	CreateCacheKey(stmt *mapping.Statement, param any, bounds Bounds) (*rowkey.Key, error)
	// IsCached reports whether key is cached or is being loaded by an outer query.
	IsCached(key *rowkey.Key) bool
	// DeferLoad assigns the cached result for key to owner.property once the
	// outermost query completes.
	DeferLoad(stmt *mapping.Statement, owner any, property string, key *rowkey.Key, target reflect.Type) error
	Closed() bool
	// ExecutionContext is the handle lazy loaders run their query on.
	ExecutionContext() lazy.ExecutionContext
}

// ObjectFactory creates result objects.
type ObjectFactory interface {
	Create(t reflect.Type) (any, error)
	CreateWithArgs(t reflect.Type, argTypes []reflect.Type, args []any) (any, error)
	IsCollection(t reflect.Type) bool
}
