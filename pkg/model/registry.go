package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrRegistryClosed is returned by every Registry call after Close.
	ErrRegistryClosed = errors.New("registry closed")

	// ErrNotDefined is returned when a realm or cluster has no definition.
	ErrNotDefined = errors.New("not defined")
)

// Registry holds fleet definitions by name. Defining a name twice merges
// the second definition into the first. Lookups return copies, so callers
// may modify what they receive. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	realms   map[string]*Realm
	clusters map[string]*Cluster
	closed   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		realms:   make(map[string]*Realm),
		clusters: make(map[string]*Cluster),
	}
}

// DefineRealm adds r or merges it into an existing realm of the same name.
// Clusters inside r get their RealmName set, and clusters sharing a name are
// merged so names stay unique within the realm.
func (reg *Registry) DefineRealm(r *Realm) error {
	if r == nil || r.Name == "" {
		return fmt.Errorf("define realm: name is required")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return ErrRegistryClosed
	}

	incoming := r.Clone()
	clusters, err := FoldClusters(incoming.Clusters)
	if err != nil {
		return fmt.Errorf("define realm %s: %w", r.Name, err)
	}
	incoming.Clusters = clusters
	for _, c := range incoming.Clusters {
		c.RealmName = incoming.Name
	}

	existing, ok := reg.realms[r.Name]
	if !ok {
		reg.realms[r.Name] = incoming
		return nil
	}
	if err := existing.Merge(incoming); err != nil {
		return fmt.Errorf("define realm %s: %w", r.Name, err)
	}
	return nil
}

// DefineCluster adds a cluster that belongs to no realm, or merges it into
// an existing one of the same name.
func (reg *Registry) DefineCluster(c *Cluster) error {
	if c == nil || c.Name == "" {
		return fmt.Errorf("define cluster: name is required")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return ErrRegistryClosed
	}

	existing, ok := reg.clusters[c.Name]
	if !ok {
		reg.clusters[c.Name] = c.Clone()
		return nil
	}
	if err := existing.Merge(c); err != nil {
		return fmt.Errorf("define cluster %s: %w", c.Name, err)
	}
	return nil
}

// Realm returns a copy of the named realm.
func (reg *Registry) Realm(name string) (*Realm, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if reg.closed {
		return nil, ErrRegistryClosed
	}
	r, ok := reg.realms[name]
	if !ok {
		return nil, fmt.Errorf("realm %s: %w", name, ErrNotDefined)
	}
	return r.Clone(), nil
}

// Cluster returns a copy of the named cluster. Realm-less clusters are
// matched by name; clusters inside realms by full name ("prod-web").
func (reg *Registry) Cluster(name string) (*Cluster, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if reg.closed {
		return nil, ErrRegistryClosed
	}
	if c, ok := reg.clusters[name]; ok {
		return c.Clone(), nil
	}
	for _, r := range reg.realms {
		for _, c := range r.Clusters {
			if c.FullName() == name {
				return c.Clone(), nil
			}
		}
	}
	return nil, fmt.Errorf("cluster %s: %w", name, ErrNotDefined)
}

// Realms returns copies of every realm, sorted by name.
func (reg *Registry) Realms() ([]*Realm, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if reg.closed {
		return nil, ErrRegistryClosed
	}
	out := make([]*Realm, 0, len(reg.realms))
	for _, r := range reg.realms {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Clusters returns copies of every realm-less cluster, sorted by name.
func (reg *Registry) Clusters() ([]*Cluster, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if reg.closed {
		return nil, ErrRegistryClosed
	}
	out := make([]*Cluster, 0, len(reg.clusters))
	for _, c := range reg.clusters {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes the realm or realm-less cluster with the given name.
func (reg *Registry) Remove(name string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return ErrRegistryClosed
	}
	if _, ok := reg.realms[name]; ok {
		delete(reg.realms, name)
		return nil
	}
	if _, ok := reg.clusters[name]; ok {
		delete(reg.clusters, name)
		return nil
	}
	return fmt.Errorf("remove %s: %w", name, ErrNotDefined)
}

// Close drops every definition. Later calls return ErrRegistryClosed.
func (reg *Registry) Close() error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return ErrRegistryClosed
	}
	reg.closed = true
	reg.realms = nil
	reg.clusters = nil
	return nil
}
