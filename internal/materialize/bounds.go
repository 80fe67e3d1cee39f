package materialize

import "math"

// NoRowLimit is the limit of unbounded reads.
const NoRowLimit = math.MaxInt

// Bounds restricts which top-level objects are delivered: Offset rows are
// skipped and at most Limit objects are delivered. A Limit of zero or less
// means no limit.
type Bounds struct {
	Offset int
	Limit  int
}

// DefaultBounds reads every row.
func DefaultBounds() Bounds {
	return Bounds{Limit: NoRowLimit}
}

// IsDefault reports whether b restricts nothing.
func (b Bounds) IsDefault() bool {
	return b.Offset <= 0 && b.limit() == NoRowLimit
}

func (b Bounds) limit() int {
	if b.Limit <= 0 {
		return NoRowLimit
	}
	return b.Limit
}
