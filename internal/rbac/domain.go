package rbac

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Role represents a high-level actor grouping.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCenter  Role = "center"
	RoleTeacher Role = "teacher"
	RoleParent  Role = "parent"
)

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleAdmin, RoleCenter, RoleTeacher, RoleParent:
		return role, nil
	default:
		return "", fmt.Errorf("rbac: unknown role %q", raw)
	}
}

// Capability is an atomic permission checked by the finance engine.
type Capability string

const (
	CapInvoicesGenerate Capability = "finance.invoices.generate"
	CapInvoicesCancel   Capability = "finance.invoices.cancel"
	CapPaymentsRecord   Capability = "finance.payments.record"
	CapExpensesRecord   Capability = "finance.expenses.record"
	CapExpensesApprove  Capability = "finance.expenses.approve"
	CapFinanceView      Capability = "finance.view"
	CapFeesManage       Capability = "fees.manage"
	CapFeesView         Capability = "fees.view"
)

// AllCapabilities lists every capability known to the system.
func AllCapabilities() []Capability {
	return []Capability{
		CapInvoicesGenerate,
		CapInvoicesCancel,
		CapPaymentsRecord,
		CapExpensesRecord,
		CapExpensesApprove,
		CapFinanceView,
		CapFeesManage,
		CapFeesView,
	}
}

// Set is an immutable-by-convention collection of granted capabilities. It is
// passed explicitly into every engine call.
type Set map[Capability]struct{}

// NewSet builds a Set from the supplied capabilities.
func NewSet(caps ...Capability) Set {
	set := make(Set, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether c is granted. A nil set grants nothing.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// HasAny reports whether at least one of caps is granted.
func (s Set) HasAny(caps ...Capability) bool {
	for _, c := range caps {
		if s.Has(c) {
			return true
		}
	}
	return false
}

// List returns the granted capabilities in lexical order.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Set) clone() Set {
	out := make(Set, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Flag is a per-center override toggling one capability for a role.
type Flag struct {
	CenterID   uuid.UUID
	Role       Role
	Capability Capability
	Enabled    bool
}

// Defaults returns the baseline capabilities for a role.
func Defaults(role Role) Set {
	switch role {
	case RoleAdmin:
		return NewSet(AllCapabilities()...)
	case RoleCenter:
		return NewSet(
			CapInvoicesGenerate,
			CapInvoicesCancel,
			CapPaymentsRecord,
			CapExpensesRecord,
			CapFinanceView,
			CapFeesManage,
			CapFeesView,
		)
	case RoleTeacher:
		return NewSet(CapFeesView)
	default:
		return NewSet()
	}
}

// Apply overlays flags matching role onto base and returns a new set.
func Apply(base Set, role Role, flags []Flag) Set {
	out := base.clone()
	for _, f := range flags {
		if f.Role != role {
			continue
		}
		if f.Enabled {
			out[f.Capability] = struct{}{}
		} else {
			delete(out, f.Capability)
		}
	}
	return out
}
