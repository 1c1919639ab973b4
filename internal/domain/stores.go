package domain

import "strings"

// StoreRole is the logical purpose of a named store.
type StoreRole string

const (
	RoleGeneral StoreRole = "general"
	RoleStatic  StoreRole = "static"
	RoleImages  StoreRole = "images"
	RoleTiles   StoreRole = "tiles"
)

// StoreRoles lists every role that has a canonical store in each version.
var StoreRoles = []StoreRole{RoleGeneral, RoleStatic, RoleImages, RoleTiles}

// StoreNames derives version-qualified store names: "<prefix>-<role>-<version>".
// Bumping Version on deploy yields a clean set of stores; the previous ones become stale.
type StoreNames struct {
	Prefix  string
	Version Version
}

// For returns the canonical store name for role.
func (n StoreNames) For(role StoreRole) string {
	return n.Prefix + "-" + string(role) + "-" + string(n.Version)
}

// Canonical returns the canonical names of the current version, in StoreRoles order.
func (n StoreNames) Canonical() []string {
	out := make([]string, 0, len(StoreRoles))
	for _, r := range StoreRoles {
		out = append(out, n.For(r))
	}
	return out
}

// Owns reports whether name carries this subsystem's naming prefix.
func (n StoreNames) Owns(name string) bool {
	return n.Prefix != "" && strings.HasPrefix(name, n.Prefix+"-")
}

// IsStale reports whether name belongs to this subsystem but is not a current canonical store.
func (n StoreNames) IsStale(name string) bool {
	if !n.Owns(name) {
		return false
	}
	for _, c := range n.Canonical() {
		if c == name {
			return false
		}
	}
	return true
}
