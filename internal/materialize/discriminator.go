package materialize

import (
	"context"
	"log/slog"

	"rowgraph/internal/mapping"
)

// resolveDiscriminated follows the discriminator chain of d for the current
// row. The chain stops at an unknown case, at a descriptor carrying the same
// discriminator again, or at a descriptor already visited.
func (h *Handler) resolveDiscriminated(ctx context.Context, rs *resultSet, d *mapping.Descriptor, prefix string) (*mapping.Descriptor, error) {
	visited := make(map[string]struct{})
	disc := d.Discriminator()
	for disc != nil {
		value, err := h.discriminatorValue(rs, disc, prefix)
		if err != nil {
			return nil, err
		}
		id, ok := disc.Case(value)
		if !ok {
			break
		}
		next, ok := h.mappings.Descriptor(id)
		if !ok {
			break
		}
		h.logger.DebugContext(ctx, "discriminator matched",
			slog.String("descriptor", d.ID()),
			slog.String("value", value),
			slog.String("resolved", id),
		)
		d = next
		last := disc
		disc = d.Discriminator()
		if _, seen := visited[id]; seen || disc == last {
			break
		}
		visited[id] = struct{}{}
	}
	return d, nil
}

func (h *Handler) discriminatorValue(rs *resultSet, disc *mapping.Discriminator, prefix string) (string, error) {
	m := &disc.Mapping
	v, err := rs.readMapping(m, prefixed(m.Column, prefix))
	if err != nil {
		return "", err
	}
	if v == nil {
		return "null", nil
	}
	return stringValue(v), nil
}
