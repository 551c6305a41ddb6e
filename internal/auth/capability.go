package auth

import (
	"sort"
	"sync"
)

// Capability names a permission bound to roles through role_permissions.
// Storage is free text; the application side goes through these constants.
type Capability string

const (
	CapManageOptions   Capability = "manage_options"
	CapManageUsers     Capability = "manage_users"
	CapViewReports     Capability = "view_reports"
	CapEditEstimates   Capability = "edit_estimates"
	CapEditInvoices    Capability = "edit_invoices"
	CapManageInventory Capability = "manage_inventory"
)

var (
	capMu    sync.RWMutex
	capIndex = map[Capability]struct{}{}
)

func init() {
	Register(CapManageOptions, CapManageUsers, CapViewReports, CapEditEstimates, CapEditInvoices, CapManageInventory)
}

// Register adds capabilities to the known set. Modules call it at boot for
// the capabilities they guard.
func Register(caps ...Capability) {
	capMu.Lock()
	defer capMu.Unlock()
	for _, c := range caps {
		if c != "" {
			capIndex[c] = struct{}{}
		}
	}
}

func Lookup(name string) (Capability, bool) {
	capMu.RLock()
	defer capMu.RUnlock()
	c := Capability(name)
	_, ok := capIndex[c]
	return c, ok
}

func IsRegistered(c Capability) bool {
	_, ok := Lookup(string(c))
	return ok
}

// Registered lists known capabilities in name order.
func Registered() []Capability {
	capMu.RLock()
	defer capMu.RUnlock()
	out := make([]Capability, 0, len(capIndex))
	for c := range capIndex {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c Capability) String() string { return string(c) }
