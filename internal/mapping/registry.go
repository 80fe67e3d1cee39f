package mapping

import (
	"reflect"
	"sort"
	"sync"

	"rowgraph/internal/meta"
	"rowgraph/internal/planner"
)

// Statement is a named query together with the descriptors for its result sets.
type Statement struct {
	ID     string
	Source planner.Source
	// ParamType is the type built for composite nested-query parameters;
	// nil means map[string]any.
	ParamType reflect.Type
	// ResultMaps lists one descriptor id per leading result set.
	ResultMaps []string
	// ResultSets names every result set in order; sets past ResultMaps are
	// routed to the mapping that registered their name.
	ResultSets    []string
	ResultOrdered bool
	FlushCache    bool
}

// Registry holds descriptors and statements by id. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
	statements  map[string]*Statement
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
		statements:  make(map[string]*Statement),
	}
}

// Add registers descriptors; ids must be unique.
func (r *Registry) Add(ds ...*Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range ds {
		if _, exists := r.descriptors[d.id]; exists {
			return Errorf(d.id, "descriptor already registered")
		}
		r.descriptors[d.id] = d
	}
	return nil
}

// AddStatement registers a statement. Its descriptor ids are checked by Validate.
func (r *Registry) AddStatement(s *Statement) error {
	if s.ID == "" {
		return Errorf("statement", "missing id")
	}
	if s.Source == nil {
		return Errorf(s.ID, "statement has no SQL source")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.statements[s.ID]; exists {
		return Errorf(s.ID, "statement already registered")
	}
	r.statements[s.ID] = s
	return nil
}

// Descriptor returns the descriptor registered under id.
func (r *Registry) Descriptor(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[id]
	return d, ok
}

// Statement returns the statement registered under id.
func (r *Registry) Statement(id string) (*Statement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statements[id]
	return s, ok
}

// StatementIDs lists statement ids in sorted order.
func (r *Registry) StatementIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.statements))
	for id := range r.statements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that every referenced descriptor and statement exists.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.descriptors {
		for _, m := range d.mappings {
			if m.NestedMapID != "" {
				if _, ok := r.descriptors[m.NestedMapID]; !ok {
					return Errorf(d.id, "property %q references unknown descriptor %q", m.Property, m.NestedMapID)
				}
			}
			if m.NestedQueryID != "" {
				if _, ok := r.statements[m.NestedQueryID]; !ok {
					return Errorf(d.id, "property %q references unknown statement %q", m.Property, m.NestedQueryID)
				}
			}
		}
		if disc := d.discriminator; disc != nil {
			for value, id := range disc.Cases {
				if _, ok := r.descriptors[id]; !ok {
					return Errorf(d.id, "discriminator case %q references unknown descriptor %q", value, id)
				}
			}
		}
	}
	for _, s := range r.statements {
		for _, id := range s.ResultMaps {
			if _, ok := r.descriptors[id]; !ok {
				return Errorf(s.ID, "unknown result descriptor %q", id)
			}
		}
	}
	return nil
}

// Inline registers and returns a mapping-free descriptor for statements that
// only declare a result type. Its id is derived from the statement id.
func (r *Registry) Inline(statementID string, typ reflect.Type, objects *meta.Registry) (*Descriptor, error) {
	id := statementID + "-Inline"
	if d, ok := r.Descriptor(id); ok {
		return d, nil
	}
	d, err := NewBuilder(id, typ).Build(objects)
	if err != nil {
		return nil, err
	}
	if err := r.Add(d); err != nil {
		return nil, err
	}
	return d, nil
}
