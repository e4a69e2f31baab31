package command

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry holds command descriptors in registration order. It is filled at
// startup and only read afterwards; a rejected registration leaves it unchanged.
type Registry struct {
	mu       sync.RWMutex
	ordered  []*Descriptor
	patterns map[string]*Descriptor
	aliases  map[string]*Descriptor
	// triggers indexes pattern-less descriptors by lower-cased label.
	triggers map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{
		patterns: make(map[string]*Descriptor),
		aliases:  make(map[string]*Descriptor),
		triggers: make(map[string]*Descriptor),
	}
}

// Register validates d, lower-cases its pattern and aliases and appends it.
// A pattern or alias colliding with any registered pattern or alias, or a
// trigger-only descriptor repeating another one's label, is rejected with
// ErrDuplicatePattern.
func (r *Registry) Register(d Descriptor) error {
	stored, err := prepare(d)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names := stored.Aliases
	if stored.Pattern != "" {
		names = append([]string{stored.Pattern}, names...)
	}
	for _, name := range names {
		if owner, ok := r.lookup(name); ok {
			return fmt.Errorf("%w: %q already registered by %q", ErrDuplicatePattern, name, owner.Label())
		}
	}
	label := strings.ToLower(stored.Label())
	if stored.Pattern == "" {
		if _, ok := r.triggers[label]; ok {
			return fmt.Errorf("%w: trigger %q already registered", ErrDuplicatePattern, stored.Label())
		}
	}

	if stored.Pattern != "" {
		r.patterns[stored.Pattern] = stored
	} else {
		r.triggers[label] = stored
	}
	for _, alias := range stored.Aliases {
		r.aliases[alias] = stored
	}
	r.ordered = append(r.ordered, stored)

	return nil
}

// Find resolves name case-insensitively against patterns first, then aliases.
func (r *Registry) Find(name string) (*Descriptor, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.lookup(name)
}

// Triggers returns every descriptor carrying a trigger condition, in
// registration order.
func (r *Registry) Triggers() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	triggers := make([]*Descriptor, 0, len(r.ordered))
	for _, d := range r.ordered {
		if d.Trigger != TriggerNone {
			triggers = append(triggers, d)
		}
	}

	return triggers
}

// All returns every registered descriptor in registration order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.ordered)
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.ordered)
}

func (r *Registry) lookup(name string) (*Descriptor, bool) {
	if d, ok := r.patterns[name]; ok {
		return d, true
	}
	d, ok := r.aliases[name]
	return d, ok
}

func prepare(d Descriptor) (*Descriptor, error) {
	if d.Handler == nil {
		return nil, fmt.Errorf("%w: %q has no handler", ErrInvalidDescriptor, d.Label())
	}
	if !d.Trigger.valid() {
		return nil, fmt.Errorf("%w: %q has unknown trigger %q", ErrInvalidDescriptor, d.Label(), d.Trigger)
	}

	d.Pattern = strings.ToLower(strings.TrimSpace(d.Pattern))
	if d.Pattern == "" && d.Trigger == TriggerNone {
		return nil, fmt.Errorf("%w: pattern or trigger is required", ErrInvalidDescriptor)
	}
	if strings.ContainsFunc(d.Pattern, isSpace) {
		return nil, fmt.Errorf("%w: pattern %q contains whitespace", ErrInvalidDescriptor, d.Pattern)
	}
	if d.Pattern == "" && len(d.Aliases) > 0 {
		return nil, fmt.Errorf("%w: %q has aliases without a pattern", ErrInvalidDescriptor, d.Label())
	}
	if d.Timeout < 0 {
		return nil, fmt.Errorf("%w: %q has negative timeout", ErrInvalidDescriptor, d.Label())
	}

	aliases := make([]string, 0, len(d.Aliases))
	for _, alias := range d.Aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias == "" || strings.ContainsFunc(alias, isSpace) {
			return nil, fmt.Errorf("%w: %q has invalid alias %q", ErrInvalidDescriptor, d.Label(), alias)
		}
		if alias == d.Pattern || slices.Contains(aliases, alias) {
			return nil, fmt.Errorf("%w: %q repeats alias %q", ErrDuplicatePattern, d.Label(), alias)
		}
		aliases = append(aliases, alias)
	}
	d.Aliases = aliases

	return &d, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
