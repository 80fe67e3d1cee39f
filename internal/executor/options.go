package executor

import "rowgraph/internal/materialize"

type selectOptions struct {
	bounds materialize.Bounds
}

// SelectOption adjusts one select call.
type SelectOption func(*selectOptions)

// WithBounds skips offset objects and returns at most limit; a limit of zero
// or less means no limit.
func WithBounds(offset, limit int) SelectOption {
	return func(o *selectOptions) {
		o.bounds = materialize.Bounds{Offset: offset, Limit: limit}
	}
}

func collectOptions(opts []SelectOption) selectOptions {
	o := selectOptions{bounds: materialize.DefaultBounds()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.bounds.Limit <= 0 {
		o.bounds.Limit = materialize.NoRowLimit
	}
	return o
}
