package controller

import (
	"fmt"
	"sync"
)

// Binding remembers which device a role was last bound to.
type Binding struct {
	GUID      string `json:"guid"`
	LastIndex int    `json:"last_index"`
}

// Registry holds one binding per controller role and the device indices
// currently held open by each role.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
	held     map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding), held: make(map[string]int)}
}

// Hold marks index as in use by role.
func (r *Registry) Hold(role string, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held[role] = index
}

// Release clears the index held by role.
func (r *Registry) Release(role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, role)
}

// HeldByOthers returns the indices held by every role except role.
// Identical pads share a GUID, so a rebind must not consider them.
func (r *Registry) HeldByOthers(role string) map[int]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int]bool, len(r.held))
	for k, i := range r.held {
		if k != role {
			out[i] = true
		}
	}
	return out
}

// Remember records the device bound to role.
func (r *Registry) Remember(role, guid string, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[role] = Binding{GUID: guid, LastIndex: index}
}

// Binding returns the last binding of role.
func (r *Registry) Binding(role string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[role]
	return b, ok
}

// Bindings returns a copy of all bindings.
func (r *Registry) Bindings() map[string]Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Binding, len(r.bindings))
	for k, v := range r.bindings {
		out[k] = v
	}
	return out
}

// Find scans present devices for guid, starting at the last known index.
// Indices in skip are never opened. Devices that do not match are closed
// again.
func Find(source DeviceSource, b Binding, skip map[int]bool) (Device, int, error) {
	indices := []int{b.LastIndex}
	for i := 0; i < MaxDevices; i++ {
		if i != b.LastIndex {
			indices = append(indices, i)
		}
	}

	for _, i := range indices {
		if skip[i] {
			continue
		}
		dev, err := source.Open(i)
		if err != nil {
			continue
		}
		if dev.GUID() == b.GUID {
			return dev, i, nil
		}
		dev.Close()
	}
	return nil, -1, fmt.Errorf("%w with guid %s", ErrNoDevice, b.GUID)
}
