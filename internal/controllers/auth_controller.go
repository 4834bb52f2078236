package controllers

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/sheenhq/runhub/pkg/runhub/core"
	"github.com/sheenhq/runhub/pkg/runhub/domain"
)

// UserRepo defines the lookup the auth layer needs.
type UserRepo interface {
	FindByKeyID(keyID string) (*domain.User, error)
}

// AuthController authenticates platform API calls. Keys look like
// "<keyID>.<secret>"; only a bcrypt hash of the secret is stored.
type AuthController struct {
	UserRepo UserRepo
}

func NewBaseController(userRepo UserRepo) *AuthController {
	return &AuthController{UserRepo: userRepo}
}

func (ac *AuthController) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		keyID, secret, ok := strings.Cut(apiKey, ".")
		if !ok || keyID == "" || secret == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		u, err := ac.UserRepo.FindByKeyID(keyID)
		if err != nil || u == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.SecretHash), []byte(secret)); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), core.CtxKeyUsername, u.Username)
		ctx = context.WithValue(ctx, core.CtxKeyRole, u.Role)
		ctx = context.WithValue(ctx, core.CtxKeyProjectID, u.ProjectID)
		next(w, r.WithContext(ctx))
	}
}

// callerRole returns the authenticated role, defaulting to staff.
func callerRole(ctx context.Context) string {
	if v := ctx.Value(core.CtxKeyRole); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return domain.RoleStaff
}

// callerProject returns the authenticated project id.
func callerProject(ctx context.Context) string {
	if v := ctx.Value(core.CtxKeyProjectID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
