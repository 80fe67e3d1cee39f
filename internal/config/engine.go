package config

import (
	"rowgraph/internal/executor"
	"rowgraph/internal/materialize"
)

// Settings converts the engine section into materializer settings.
func (e *EngineConfig) Settings() (materialize.Settings, error) {
	auto, err := materialize.ParseAutoMappingBehavior(e.AutoMappingBehavior)
	if err != nil {
		return materialize.Settings{}, err
	}
	unknown, err := materialize.ParseUnknownColumnBehavior(e.UnknownColumnBehavior)
	if err != nil {
		return materialize.Settings{}, err
	}
	return materialize.Settings{
		AutoMappingBehavior:       auto,
		UnknownColumnBehavior:     unknown,
		ReturnInstanceForEmptyRow: e.ReturnInstanceForEmptyRow,
		CallSettersOnNulls:        e.CallSettersOnNulls,
		MapUnderscoreToCamelCase:  e.MapUnderscoreToCamelCase,
		SafeRowBoundsEnabled:      e.SafeRowBoundsEnabled,
		SafeResultHandlerEnabled:  e.SafeResultHandlerEnabled,
		LazyLoadingEnabled:        e.LazyLoadingEnabled,
	}, nil
}

// CacheScope parses LocalCacheScope.
func (e *EngineConfig) CacheScope() (executor.LocalCacheScope, error) {
	return executor.ParseLocalCacheScope(e.LocalCacheScope)
}
