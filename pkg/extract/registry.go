package extract

import (
	"context"
	"fmt"
	"sort"

	"github.com/volatiletech/sqlboiler/v4/boil"
	"golang.org/x/exp/maps"

	"github.com/bloxapp/chain-extract/pkg/storage"
)

// Descriptor is a registered extractor together with its resolved
// dependencies.
type Descriptor struct {
	Extractor        Extractor
	Dependencies     []string
	DisablePerfBoost bool

	// Conditions must hold for a block before it's handed to Extractor.
	Conditions []storage.Condition
}

func (d *Descriptor) Name() string {
	return d.Extractor.Name()
}

// Registry is the fixed, ordered list of extractors a scheduler runs.
type Registry struct {
	descriptors []*Descriptor
	byName      map[string]*Descriptor
}

type RegistryOption func(*registryOptions)

type registryOptions struct {
	disablePerfBoost map[string]bool
}

// WithPerfBoostDisabled forces the named extractors to process blocks one at
// a time regardless of what they declare.
func WithPerfBoostDisabled(names ...string) RegistryOption {
	return func(o *registryOptions) {
		for _, name := range names {
			o.disablePerfBoost[name] = true
		}
	}
}

// NewRegistry registers extractors in the given order. Names must be unique and
// every dependency must be registered before its dependents.
func NewRegistry(extractors []Extractor, opts ...RegistryOption) (*Registry, error) {
	options := registryOptions{disablePerfBoost: map[string]bool{}}
	for _, opt := range opts {
		opt(&options)
	}

	r := &Registry{byName: map[string]*Descriptor{}}
	for _, extractor := range extractors {
		name := extractor.Name()
		if name == "" {
			return nil, fmt.Errorf("extractor %T has an empty name", extractor)
		}
		if _, ok := r.byName[name]; ok {
			return nil, fmt.Errorf("duplicate extractor: %s", name)
		}

		d := &Descriptor{Extractor: extractor}
		if dependent, ok := extractor.(Dependent); ok {
			seen := map[string]bool{}
			for _, dep := range dependent.Dependencies() {
				if dep == name {
					return nil, fmt.Errorf("extractor %s depends on itself", name)
				}
				if seen[dep] {
					continue
				}
				seen[dep] = true
				if _, ok := r.byName[dep]; !ok {
					known := maps.Keys(r.byName)
					sort.Strings(known)
					return nil, fmt.Errorf(
						"extractor %s depends on %s, which is not registered before it (registered: %v)",
						name, dep, known,
					)
				}
				d.Dependencies = append(d.Dependencies, dep)
				d.Conditions = append(d.Conditions, storage.Condition{
					Extractor: dep,
					Status:    storage.StatusDone,
				})
			}
		}
		if disabler, ok := extractor.(PerfBoostDisabler); ok {
			d.DisablePerfBoost = disabler.DisablePerfBoost()
		}
		if options.disablePerfBoost[name] {
			d.DisablePerfBoost = true
			delete(options.disablePerfBoost, name)
		}

		r.descriptors = append(r.descriptors, d)
		r.byName[name] = d
	}
	if len(options.disablePerfBoost) > 0 {
		unknown := maps.Keys(options.disablePerfBoost)
		sort.Strings(unknown)
		return nil, fmt.Errorf("cannot disable perf boost of unregistered extractors: %v", unknown)
	}
	return r, nil
}

// Descriptors returns the registered extractors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	return r.descriptors
}

// Names returns the names of the registered extractors in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		names[i] = d.Name()
	}
	return names
}

func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Migrate creates the tables of every registered Migrator, in registration
// order.
func (r *Registry) Migrate(ctx context.Context, exec boil.ContextExecutor) error {
	for _, d := range r.descriptors {
		migrator, ok := d.Extractor.(Migrator)
		if !ok {
			continue
		}
		if err := migrator.Migrate(ctx, exec); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", d.Name(), err)
		}
	}
	return nil
}
