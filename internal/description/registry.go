package description

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samber/lo"
)

var (
	// ErrDuplicateName indicates a second registration under the same name.
	ErrDuplicateName = errors.New("description: name already registered")
	// ErrUnregistered indicates a hook-carrying description without a handle.
	ErrUnregistered = errors.New("description: not registered")
)

// Registry interns descriptions and hands out stable handles.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Description
	names  map[Handle]string
}

// handles are process-wide so trees interned by different registries never collide.
var lastHandle atomic.Int64

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Description),
		names:  make(map[Handle]string),
	}
}

// Register interns d and every node reachable from it. Nodes already interned
// (shared subtrees) keep their handle. Child nodes are named after their path.
func (r *Registry) Register(name string, d *Description) (*Description, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	r.byName[name] = d
	r.intern(name, d)
	return d, nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, d *Description) *Description {
	d, err := r.Register(name, d)
	if err != nil {
		panic(err)
	}
	return d
}

func (r *Registry) intern(name string, d *Description) {
	if d == nil || d.handle != 0 {
		return
	}
	d.handle = Handle(lastHandle.Add(1))
	r.names[d.handle] = name
	for _, k := range sortedFieldKeys(d.Fields) {
		r.intern(name+"."+k, d.Fields[k])
	}
	r.intern(name+".*", d.AnyKey)
}

// Lookup returns the description registered under name.
func (r *Registry) Lookup(name string) (*Description, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Name returns the path name a handle was interned under.
func (r *Registry) Name(h Handle) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names[h]
}

// Len reports the number of interned nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

func sortedFieldKeys(m map[string]*Description) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
