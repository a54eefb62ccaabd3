package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	apiContext "klips/internal/api/context"
	apierrors "klips/internal/pkg/errors"
	"klips/internal/platform/auth"
	"klips/internal/platform/models"
	"klips/internal/platform/repositories"
)

// APIKeyStore resolves hashed API keys.
type APIKeyStore interface {
	GetByHash(ctx context.Context, hash string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id string) error
}

type AuthMiddleware struct {
	tokenSvc *auth.TokenService
	keys     APIKeyStore
	now      func() time.Time
}

func NewAuthMiddleware(tokenSvc *auth.TokenService, keys APIKeyStore) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc, keys: keys, now: time.Now}
}

// Handle accepts "Authorization: Bearer <jwt>" or "X-API-Key: klp_live_...".
func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var claims *auth.Claims
		var err error

		if key := r.Header.Get("X-API-Key"); key != "" {
			claims, err = m.fromAPIKey(r.Context(), key)
		} else {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.WriteError(w, http.StatusUnauthorized, apierrors.ErrCodeUnauthorized, "Missing authorization header", nil)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				apierrors.WriteError(w, http.StatusUnauthorized, apierrors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
				return
			}

			if auth.LooksLikeAPIKey(parts[1]) {
				claims, err = m.fromAPIKey(r.Context(), parts[1])
			} else {
				claims, err = m.tokenSvc.ValidateToken(parts[1])
			}
		}

		if err != nil {
			apierrors.WriteError(w, http.StatusUnauthorized, apierrors.ErrCodeUnauthorized, "Invalid or expired credentials", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}

var errKeyUnusable = errors.New("api key revoked or expired")

func (m *AuthMiddleware) fromAPIKey(ctx context.Context, raw string) (*auth.Claims, error) {
	if !auth.LooksLikeAPIKey(raw) {
		return nil, repositories.ErrNotFound
	}

	key, err := m.keys.GetByHash(ctx, auth.HashAPIKey(raw))
	if err != nil {
		return nil, err
	}
	if !key.Usable(m.now().Unix()) {
		return nil, errKeyUnusable
	}

	if err := m.keys.UpdateLastUsed(ctx, key.ID); err != nil {
		log.Warn().Err(err).Str("api_key_id", key.ID).Msg("failed to record api key use")
	}

	return &auth.Claims{
		UserID:         key.UserID,
		OrganizationID: key.OrganizationID,
		Role:           key.Role,
		Scopes:         key.Scopes,
		APIKeyID:       key.ID,
	}, nil
}
