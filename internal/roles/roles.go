// Package roles holds the permission sets that gate administrative ledger
// operations.
package roles

import (
	"errors"
	"sort"
	"strings"
)

// Permission names a capability that identities may hold.
type Permission string

const (
	Owner    Permission = "owner"
	Upgrader Permission = "upgrader"
)

var (
	// ErrUnauthorized is returned when the caller lacks the required permission.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadyBootstrapped is returned by a second Bootstrap call.
	ErrAlreadyBootstrapped = errors.New("role registry already bootstrapped")
	// ErrEmptyIdentity is returned when an identity is blank.
	ErrEmptyIdentity = errors.New("identity is required")
)

// Known reports whether p is a permission the registry understands.
func Known(p Permission) bool {
	return p == Owner || p == Upgrader
}

// ParsePermission converts a string to Permission.
func ParsePermission(s string) (Permission, bool) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	return p, Known(p)
}

// Registry maps each permission to the identities holding it.
type Registry struct {
	members      map[Permission]map[string]struct{}
	bootstrapped bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[Permission]map[string]struct{})}
}

// Bootstrap performs the one-time initial grant of every permission to admin.
func (r *Registry) Bootstrap(admin string) error {
	admin = strings.TrimSpace(admin)
	if admin == "" {
		return ErrEmptyIdentity
	}
	if r.bootstrapped {
		return ErrAlreadyBootstrapped
	}
	r.add(Owner, admin)
	r.add(Upgrader, admin)
	r.bootstrapped = true
	return nil
}

// HasRole reports whether identity holds permission. Surrounding
// whitespace is ignored, matching how identities are stored.
func (r *Registry) HasRole(identity string, p Permission) bool {
	set, ok := r.members[p]
	if !ok {
		return false
	}
	_, ok = set[strings.TrimSpace(identity)]
	return ok
}

// Require returns ErrUnauthorized unless identity holds permission.
func (r *Registry) Require(identity string, p Permission) error {
	if !r.HasRole(identity, p) {
		return ErrUnauthorized
	}
	return nil
}

// Grant adds identity to permission. The caller must hold Owner.
func (r *Registry) Grant(caller string, p Permission, identity string) error {
	if err := r.Require(caller, Owner); err != nil {
		return err
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrEmptyIdentity
	}
	r.add(p, identity)
	return nil
}

// Revoke removes identity from permission. The caller must hold Owner.
func (r *Registry) Revoke(caller string, p Permission, identity string) error {
	if err := r.Require(caller, Owner); err != nil {
		return err
	}
	if set, ok := r.members[p]; ok {
		delete(set, strings.TrimSpace(identity))
	}
	return nil
}

// Members returns the sorted identities holding permission.
func (r *Registry) Members(p Permission) []string {
	set := r.members[p]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of the membership table.
func (r *Registry) Snapshot() map[Permission][]string {
	out := make(map[Permission][]string, len(r.members))
	for p := range r.members {
		out[p] = r.Members(p)
	}
	return out
}

// Restore rebuilds a registry from a membership table. A non-empty table
// marks the registry as bootstrapped.
func Restore(table map[Permission][]string) *Registry {
	r := NewRegistry()
	for p, ids := range table {
		for _, id := range ids {
			r.add(p, id)
		}
	}
	r.bootstrapped = len(table) > 0
	return r
}

// Clone returns an independent copy.
func (r *Registry) Clone() *Registry {
	c := Restore(r.Snapshot())
	c.bootstrapped = r.bootstrapped
	return c
}

func (r *Registry) add(p Permission, identity string) {
	set, ok := r.members[p]
	if !ok {
		set = make(map[string]struct{})
		r.members[p] = set
	}
	set[identity] = struct{}{}
}
