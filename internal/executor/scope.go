package executor

import (
	"fmt"
	"strings"
)

// LocalCacheScope controls how long query results stay in a session's local cache.
type LocalCacheScope int

const (
	// ScopeSession keeps results until the session is closed or the cache is cleared.
	ScopeSession LocalCacheScope = iota
	// ScopeStatement clears the cache after every outermost query.
	ScopeStatement
)

func (s LocalCacheScope) String() string {
	if s == ScopeStatement {
		return "statement"
	}
	return "session"
}

// ParseLocalCacheScope accepts "session" (the default for "") and "statement".
func ParseLocalCacheScope(s string) (LocalCacheScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "session":
		return ScopeSession, nil
	case "statement":
		return ScopeStatement, nil
	}
	return ScopeSession, fmt.Errorf("invalid local cache scope %q (expected session or statement)", s)
}
