// Package zones manages the YAML zone registry: per-location descriptions
// and the extra alert recipients for each monitored zone.
package zones

import (
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Zone describes one monitored location.
type Zone struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Aliases     []string `yaml:"aliases"`
	Recipients  []string `yaml:"recipients"`
}

// Config is the top-level YAML structure.
type Config struct {
	Zones []Zone `yaml:"zones"`
}

// Registry holds loaded zones, keyed by lower-cased name and alias.
type Registry struct {
	byKey map[string]*Zone
	order []string // preserves definition order
}

// Empty returns a registry with no zones.
func Empty() *Registry {
	return &Registry{byKey: make(map[string]*Zone)}
}

// Load reads the YAML file at path and returns a Registry.
// If the file does not exist, Load returns an empty Registry (not an error).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// Parse builds a Registry from YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	r := &Registry{byKey: make(map[string]*Zone, len(cfg.Zones))}
	for i := range cfg.Zones {
		z := &cfg.Zones[i]
		z.Name = strings.TrimSpace(z.Name)
		if z.Name == "" {
			continue
		}
		r.byKey[key(z.Name)] = z
		for _, alias := range z.Aliases {
			if k := key(alias); k != "" {
				if _, taken := r.byKey[k]; !taken {
					r.byKey[k] = z
				}
			}
		}
		r.order = append(r.order, z.Name)
	}
	return r, nil
}

func key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Get returns a zone by name or alias, case-insensitively.
func (r *Registry) Get(name string) (*Zone, bool) {
	z, ok := r.byKey[key(name)]
	return z, ok
}

// All returns all zones in definition order.
func (r *Registry) All() []*Zone {
	result := make([]*Zone, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byKey[key(name)])
	}
	return result
}

// Names returns a sorted list of zone names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Canonical returns the registered name for location, or location itself
// when it is not registered.
func (r *Registry) Canonical(location string) string {
	if z, ok := r.Get(location); ok {
		return z.Name
	}
	return strings.TrimSpace(location)
}

// RecipientsFor returns the extra alert recipients of a location.
func (r *Registry) RecipientsFor(location string) []string {
	z, ok := r.Get(location)
	if !ok {
		return nil
	}
	return append([]string(nil), z.Recipients...)
}

// Holder serves the current Registry and swaps it on reload.
type Holder struct {
	path string
	mu   sync.RWMutex
	reg  *Registry
}

// NewHolder loads path into a Holder.
func NewHolder(path string) (*Holder, error) {
	reg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Holder{path: path, reg: reg}, nil
}

// Path returns the backing YAML file.
func (h *Holder) Path() string { return h.path }

// Registry returns the current registry. A zero Holder serves an empty one.
func (h *Holder) Registry() *Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.reg == nil {
		return Empty()
	}
	return h.reg
}

// Reload re-reads the file. On error the previous registry stays in place.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}
	reg, err := Load(h.path)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.reg = reg
	h.mu.Unlock()
	return nil
}

// RecipientsFor resolves against the current registry.
func (h *Holder) RecipientsFor(location string) []string {
	return h.Registry().RecipientsFor(location)
}
