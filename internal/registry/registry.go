// Package registry holds the immutable gate taxonomy: which gates exist,
// which are required, how they depend on each other, and which skip reasons
// each accepts. It is built once at startup and shared read-only.
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Definition declares one gate.
type Definition struct {
	Name        string
	Required    bool
	DependsOn   []string
	SkipReasons []string // non-empty marks the gate skippable
}

// ConfigError reports an invalid gate graph. It is fatal at startup: the
// engine must not run with a broken taxonomy.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "gate registry: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Registry is the validated, ordered gate set. Declaration order is
// significant: it is the routing tie-break.
type Registry struct {
	defs  []Definition
	index map[string]int
}

// New validates the definitions and builds a registry. It fails fast with a
// *ConfigError on duplicate or malformed names, references to undefined
// gates, or dependency cycles.
func New(defs []Definition) (*Registry, error) {
	if len(defs) == 0 {
		return nil, configErrorf("no gates defined")
	}
	index := make(map[string]int, len(defs))
	for i, d := range defs {
		if !nameRe.MatchString(d.Name) {
			return nil, configErrorf("gate name %q is not a lowercase token", d.Name)
		}
		if _, dup := index[d.Name]; dup {
			return nil, configErrorf("gate %q defined twice", d.Name)
		}
		index[d.Name] = i
	}
	for _, d := range defs {
		for _, dep := range d.DependsOn {
			if _, ok := index[dep]; !ok {
				return nil, configErrorf("gate %q depends on undefined gate %q", d.Name, dep)
			}
		}
		for _, reason := range d.SkipReasons {
			if reason == "" {
				return nil, configErrorf("gate %q lists an empty skip reason", d.Name)
			}
		}
	}
	r := &Registry{defs: cloneDefs(defs), index: index}
	if cycle := r.findCycle(); cycle != nil {
		return nil, configErrorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return r, nil
}

// findCycle runs a colored depth-first search over the dependency edges and
// returns one cycle path if any exists.
func (r *Registry) findCycle() []string {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // fully explored
	)
	color := make(map[string]int, len(r.defs))
	var path []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		path = append(path, name)
		for _, dep := range r.defs[r.index[name]].DependsOn {
			switch color[dep] {
			case gray:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	for _, d := range r.defs {
		if color[d.Name] == white && visit(d.Name) {
			return cycle
		}
	}
	return nil
}

// Has reports whether a gate with this name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Definition returns the gate's declaration.
func (r *Registry) Definition(name string) (Definition, bool) {
	i, ok := r.index[name]
	if !ok {
		return Definition{}, false
	}
	return cloneDef(r.defs[i]), true
}

// Names returns all gate names in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.defs))
	for i, d := range r.defs {
		names[i] = d.Name
	}
	return names
}

// RequiredGates returns the required gate names in declaration order.
func (r *Registry) RequiredGates() []string {
	var names []string
	for _, d := range r.defs {
		if d.Required {
			names = append(names, d.Name)
		}
	}
	return names
}

// DependsOn returns the direct dependencies of a gate, sorted by declaration
// order of the dependency gates. Unknown names return nil.
func (r *Registry) DependsOn(name string) []string {
	i, ok := r.index[name]
	if !ok {
		return nil
	}
	deps := append([]string(nil), r.defs[i].DependsOn...)
	sort.Slice(deps, func(a, b int) bool { return r.index[deps[a]] < r.index[deps[b]] })
	return deps
}

// IsSkippable reports whether the gate declares any allowed skip reasons.
// A skip on a gate without them never satisfies the gate.
func (r *Registry) IsSkippable(name string) bool {
	i, ok := r.index[name]
	if !ok {
		return false
	}
	return len(r.defs[i].SkipReasons) > 0
}

// AllowsSkipReason reports whether reason is one of the gate's declared
// skip reasons.
func (r *Registry) AllowsSkipReason(name, reason string) bool {
	i, ok := r.index[name]
	if !ok || reason == "" {
		return false
	}
	for _, allowed := range r.defs[i].SkipReasons {
		if allowed == reason {
			return true
		}
	}
	return false
}

// Order returns the declaration index of a gate, or -1 when unknown.
func (r *Registry) Order(name string) int {
	i, ok := r.index[name]
	if !ok {
		return -1
	}
	return i
}

// Len returns the number of registered gates.
func (r *Registry) Len() int {
	return len(r.defs)
}

func cloneDef(d Definition) Definition {
	d.DependsOn = append([]string(nil), d.DependsOn...)
	d.SkipReasons = append([]string(nil), d.SkipReasons...)
	return d
}

func cloneDefs(defs []Definition) []Definition {
	out := make([]Definition, len(defs))
	for i, d := range defs {
		out[i] = cloneDef(d)
	}
	return out
}
