// Package heuristics holds the registry of known counterparty addresses used
// to classify transactions.
package heuristics

import (
	"sort"
	"strings"
	"sync"

	"github.com/hervehildenbrand/flow-radar/pkg/models"
)

// UnknownLabel is the label learned addresses are filed under.
const UnknownLabel = "unknown"

// Role selects one of the registry's address mappings.
type Role string

// Roles
const (
	RoleCEX    Role = "cex"
	RoleBridge Role = "bridge"
)

// Snapshot is the serialized form of a registry.
type Snapshot struct {
	CEX    map[string][]string `json:"cex"`
	Bridge map[string][]string `json:"bridge"`
}

// Registry holds labelled address lists for centralized exchanges and bridges.
// It is safe for one writer and many readers.
type Registry struct {
	mu     sync.RWMutex
	cex    map[string][]string
	bridge map[string][]string

	// Lower-cased membership sets for O(1) lookup.
	cexIndex    map[string]bool
	bridgeIndex map[string]bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		cex:         make(map[string][]string),
		bridge:      make(map[string][]string),
		cexIndex:    make(map[string]bool),
		bridgeIndex: make(map[string]bool),
	}
}

// FromSnapshot builds a registry from its serialized form.
func FromSnapshot(s Snapshot) *Registry {
	r := New()
	for label, addrs := range s.CEX {
		r.cex[label] = make([]string, 0, len(addrs))
		for _, addr := range addrs {
			r.pushLocked(RoleCEX, label, addr)
		}
	}
	for label, addrs := range s.Bridge {
		r.bridge[label] = make([]string, 0, len(addrs))
		for _, addr := range addrs {
			r.pushLocked(RoleBridge, label, addr)
		}
	}
	return r
}

// IsKnownCEX reports whether addr is listed under any exchange label.
func (r *Registry) IsKnownCEX(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cexIndex[strings.ToLower(addr)]
}

// IsKnownBridge reports whether addr is listed under any bridge label.
func (r *Registry) IsKnownBridge(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bridgeIndex[strings.ToLower(addr)]
}

// CEXLabel returns the first exchange label addr is listed under, in label
// order.
func (r *Registry) CEXLabel(addr string) (string, bool) {
	addr = strings.ToLower(addr)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.cexIndex[addr] {
		return "", false
	}
	labels := make([]string, 0, len(r.cex))
	for label := range r.cex {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		for _, a := range r.cex[label] {
			if strings.EqualFold(a, addr) {
				return label, true
			}
		}
	}
	return "", false
}

// IsKnownDomestic reports whether both endpoints are known exchange addresses.
// There is no separate domestic set.
func (r *Registry) IsKnownDomestic(from, to string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cexIndex[strings.ToLower(from)] && r.cexIndex[strings.ToLower(to)]
}

// PushCEX appends addr under label. Duplicates are kept.
func (r *Registry) PushCEX(label, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushLocked(RoleCEX, label, addr)
}

// PushBridge appends addr under label. Duplicates are kept.
func (r *Registry) PushBridge(label, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushLocked(RoleBridge, label, addr)
}

// PushByCategory files addr under the "unknown" label of the role matching
// category. Foreign maps to exchanges, Bridge to bridges; anything else is
// ignored. Returns true if the registry changed.
func (r *Registry) PushByCategory(category models.Category, addr string) bool {
	switch category {
	case models.CategoryForeign:
		r.PushCEX(UnknownLabel, addr)
		return true
	case models.CategoryBridge:
		r.PushBridge(UnknownLabel, addr)
		return true
	default:
		return false
	}
}

func (r *Registry) pushLocked(role Role, label, addr string) {
	switch role {
	case RoleCEX:
		r.cex[label] = append(r.cex[label], addr)
		r.cexIndex[strings.ToLower(addr)] = true
	case RoleBridge:
		r.bridge[label] = append(r.bridge[label], addr)
		r.bridgeIndex[strings.ToLower(addr)] = true
	}
}

// Replace swaps the contents of r for a copy of other's.
func (r *Registry) Replace(other *Registry) {
	snap := other.Snapshot()
	fresh := FromSnapshot(snap)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cex, r.bridge = fresh.cex, fresh.bridge
	r.cexIndex, r.bridgeIndex = fresh.cexIndex, fresh.bridgeIndex
}

// Snapshot returns a deep copy of the registry contents.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		CEX:    copyMapping(r.cex),
		Bridge: copyMapping(r.bridge),
	}
}

// Labels returns the address lists for role, copied.
func (r *Registry) Labels(role Role) map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if role == RoleBridge {
		return copyMapping(r.bridge)
	}
	return copyMapping(r.cex)
}

// Count returns the number of listed entries (duplicates included) per role.
func (r *Registry) Count() (cex, bridge int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, addrs := range r.cex {
		cex += len(addrs)
	}
	for _, addrs := range r.bridge {
		bridge += len(addrs)
	}
	return cex, bridge
}

func copyMapping(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for label, addrs := range m {
		out[label] = append([]string(nil), addrs...)
		if out[label] == nil {
			out[label] = []string{}
		}
	}
	return out
}
