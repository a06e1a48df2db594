package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Headers populated by the upstream authentication gateway.
const (
	HeaderRole     = "X-Actor-Role"
	HeaderCenterID = "X-Center-ID"
)

// Principal describes the resolved caller.
type Principal struct {
	Role         Role
	CenterID     uuid.UUID
	Capabilities Set
}

type principalKey struct{}

// ContextWithPrincipal stores p on ctx.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal resolved for the request, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// CapabilitiesFromContext returns the caller's capability set, empty when unresolved.
func CapabilitiesFromContext(ctx context.Context) Set {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.Capabilities
	}
	return NewSet()
}

// Middleware wires capability resolution for HTTP handlers.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// Resolve loads the caller's capabilities and stores the principal on the request context.
func (m Middleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, err := ParseRole(r.Header.Get(HeaderRole))
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		var centerID uuid.UUID
		if raw := strings.TrimSpace(r.Header.Get(HeaderCenterID)); raw != "" {
			centerID, err = uuid.Parse(raw)
			if err != nil {
				http.Error(w, "invalid center id", http.StatusBadRequest)
				return
			}
		}
		caps, err := m.Service.Resolve(r.Context(), role, centerID)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("rbac resolve", slog.Any("error", err), slog.String("role", string(role)))
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		ctx := ContextWithPrincipal(r.Context(), Principal{Role: role, CenterID: centerID, Capabilities: caps})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAny ensures the caller holds at least one of the capabilities.
func (m Middleware) RequireAny(caps ...Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(caps) == 0 || CapabilitiesFromContext(r.Context()).HasAny(caps...) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// CanAccessCenter reports whether the principal may act on centerID. Admins span
// all centers; everyone else is scoped to the center set by the gateway.
func (p Principal) CanAccessCenter(centerID uuid.UUID) bool {
	if p.Role == RoleAdmin {
		return true
	}
	return p.CenterID != uuid.Nil && p.CenterID == centerID
}
