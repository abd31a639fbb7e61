package fixture

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

type BuildFunc func(cfg Config) (Handle, error)

type entry struct {
	kind   Kind
	handle Handle
}

// Registry holds at most one handle per fixture name.
type Registry struct {
	// create serializes GetOrCreate so a name is never built twice. mu only
	// guards entries, builders may still read the registry.
	create  sync.Mutex
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// GetOrCreate returns the handle registered under name, or builds and
// registers one. An existing handle wins whatever kind and cfg are asked
// for. A failed build registers nothing. build must not call GetOrCreate.
func (r *Registry) GetOrCreate(name string, kind Kind, cfg Config, build BuildFunc) (Handle, error) {
	r.create.Lock()
	defer r.create.Unlock()

	if h, ok := r.Get(name); ok {
		return h, nil
	}

	h, err := build(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entries[name] = entry{kind: kind, handle: h}
	r.mu.Unlock()

	return h, nil
}

func (r *Registry) Get(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handle, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ForEach visits every handle sorted by name. The registry is not locked
// while visiting.
func (r *Registry) ForEach(visit func(name string, kind Kind, h Handle)) {
	for _, n := range r.snapshot(false) {
		visit(n.name, n.kind, n.handle)
	}
}

type named struct {
	name string
	entry
}

func (r *Registry) snapshot(reset bool) []named {
	r.mu.Lock()
	all := make([]named, 0, len(r.entries))
	for name, e := range r.entries {
		all = append(all, named{name: name, entry: e})
	}
	if reset {
		r.entries = make(map[string]entry)
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })
	return all
}

// CloseAll closes and forgets every handle, clients before nodes. Every
// close is attempted; failures come back as *CloseError values in a
// *multierror.Error.
func (r *Registry) CloseAll() error {
	all := r.snapshot(true)
	sort.SliceStable(all, func(i, j int) bool {
		return closeRank(all[i].kind) < closeRank(all[j].kind)
	})

	var errs *multierror.Error
	for _, n := range all {
		if err := n.handle.Close(); err != nil {
			errs = multierror.Append(errs, &CloseError{Name: n.name, Kind: n.kind, Err: err})
		}
	}
	return errs.ErrorOrNil()
}

// closeRank orders teardown: anything talking to a node goes first.
func closeRank(k Kind) int {
	if k == KindNode {
		return 1
	}
	return 0
}
