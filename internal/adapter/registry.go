package adapter

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Builtin lists the productivity domains shipped with the engine. Their schemas only
// require a JSON object; concrete shapes belong to the modules that own them.
func Builtin() []Definition {
	return []Definition{
		{Name: "tasks", EntityType: "task"},
		{Name: "habits", EntityType: "habit"},
		{Name: "pomodoro", EntityType: "pomodoro_session"},
		{Name: "alarms", EntityType: "alarm"},
		{Name: "mail", EntityType: "mail_message"},
		{Name: "notes", EntityType: "note"},
	}
}

// registryFile is the YAML layout of SYNC_DOMAINS_FILE.
type registryFile struct {
	Domains []Definition `yaml:"domains"`
}

// LoadFile reads domain definitions from a YAML file.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-provided path
	if err != nil {
		return nil, fmt.Errorf("failed to read domains file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse domains file: %w", err)
	}
	return file.Domains, nil
}

// Registry resolves adapters by domain name, preserving registration order.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds a registry, rejecting duplicate names or entity types.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	entityTypes := make(map[string]string, len(adapters))

	for _, a := range adapters {
		if _, exists := r.adapters[a.Name()]; exists {
			return nil, fmt.Errorf("duplicate sync domain: %s", a.Name())
		}
		if owner, exists := entityTypes[a.EntityType()]; exists {
			return nil, fmt.Errorf("entity type %s used by both %s and %s", a.EntityType(), owner, a.Name())
		}
		r.adapters[a.Name()] = a
		entityTypes[a.EntityType()] = a.Name()
		r.order = append(r.order, a.Name())
	}
	return r, nil
}

// Build compiles definitions and keeps only the enabled names, in enabled order.
// An empty enabled list keeps every definition.
func Build(defs []Definition, enabled []string) (*Registry, error) {
	byName := make(map[string]Definition, len(defs))
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		if _, exists := byName[def.Name]; !exists {
			names = append(names, def.Name)
		}
		byName[def.Name] = def
	}
	if len(enabled) > 0 {
		names = enabled
	}

	adapters := make([]Adapter, 0, len(names))
	for _, name := range names {
		def, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
		}
		a, err := New(def)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return NewRegistry(adapters...)
}

// Get returns the adapter for a domain name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
	}
	return a, nil
}

// All returns adapters in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// Names returns domain names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
