package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/keyward/internal/models"
	pkghttp "github.com/BradenHooton/keyward/pkg/http"
)

// ScopeAuthorizer decides whether an authenticated key holds the required
// scopes. A denial is an error wrapping models.ErrInsufficientScopes.
type ScopeAuthorizer interface {
	Authorize(ctx context.Context, info *models.APIKeyInfo, required []string, requirement models.ScopeRequirement) error
}

// RequireScope creates middleware that requires a single scope.
// Must run after APIKeyMiddleware.
func RequireScope(authz ScopeAuthorizer, requiredScope string) func(next http.Handler) http.Handler {
	return requireScopes(authz, []string{requiredScope}, models.ScopeAll)
}

// RequireAllScopes creates middleware that requires every listed scope
func RequireAllScopes(authz ScopeAuthorizer, requiredScopes ...string) func(next http.Handler) http.Handler {
	return requireScopes(authz, requiredScopes, models.ScopeAll)
}

// RequireAnyScope creates middleware that allows access if any of the listed
// scopes is granted. An empty list denies everything.
func RequireAnyScope(authz ScopeAuthorizer, requiredScopes ...string) func(next http.Handler) http.Handler {
	return requireScopes(authz, requiredScopes, models.ScopeAny)
}

func requireScopes(authz ScopeAuthorizer, required []string, requirement models.ScopeRequirement) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := GetAPIKeyFromContext(r)
			if info == nil {
				pkghttp.WriteUnauthorized(w, unauthorizedMessage)
				return
			}

			if err := authz.Authorize(r.Context(), info, required, requirement); err != nil {
				if errors.Is(err, models.ErrInsufficientScopes) {
					pkghttp.WriteInsufficientScope(w, "insufficient scope", requirement.String()+": "+strings.Join(required, " "))
					return
				}
				pkghttp.WriteUnauthorized(w, unauthorizedMessage)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
