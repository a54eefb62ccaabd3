package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	apiContext "klips/internal/api/context"
	apierrors "klips/internal/pkg/errors"
	"klips/internal/platform/auth"
	"klips/internal/platform/repositories"
)

type TenantContext struct {
	OrgID   string
	OrgSlug string
}

type TenantMiddleware struct {
	orgRepo *repositories.OrganizationRepository
}

func NewTenantMiddleware(orgRepo *repositories.OrganizationRepository) *TenantMiddleware {
	return &TenantMiddleware{orgRepo: orgRepo}
}

func (m *TenantMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
		if !ok {
			apierrors.WriteError(w, http.StatusUnauthorized, apierrors.ErrCodeUnauthorized, "No authentication claims found", nil)
			return
		}

		org, err := m.orgRepo.GetByID(r.Context(), claims.OrganizationID)
		if errors.Is(err, repositories.ErrNotFound) || (err == nil && org.DeletedAt != nil) {
			apierrors.WriteError(w, http.StatusForbidden, apierrors.ErrCodeForbidden, "Organization not found", nil)
			return
		}
		if err != nil {
			log.Error().Err(err).Str("organization_id", claims.OrganizationID).Msg("failed to load organization")
			apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to load organization", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Tenant, &TenantContext{
			OrgID:   org.ID,
			OrgSlug: org.Slug,
		})

		next(w, r.WithContext(ctx))
	}
}

// Tenant returns the tenant stored by TenantMiddleware.
func Tenant(ctx context.Context) *TenantContext {
	t, _ := ctx.Value(apiContext.Tenant).(*TenantContext)
	return t
}
