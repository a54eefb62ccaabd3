package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	apiContext "klips/internal/api/context"
	"klips/internal/api/handlers"
	"klips/internal/api/middleware"
	"klips/internal/pkg/errors"
	"klips/internal/platform/auth"
)

type Dependencies struct {
	OrgHandler       *handlers.OrgHandler
	APIKeyHandler    *handlers.APIKeyHandler
	WebhookHandler   *handlers.WebhookHandler
	LinkHandler      *handlers.LinkHandler
	DomainHandler    *handlers.DomainHandler
	AuditHandler     *handlers.AuditHandler
	RedirectHandler  *handlers.RedirectHandler
	HealthHandler    *handlers.HealthHandler
	MetricsHandler   *handlers.MetricsHandler
	AuthMiddleware   *middleware.AuthMiddleware
	TenantMiddleware *middleware.TenantMiddleware
	RateLimiter      *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	authMid := deps.AuthMiddleware.Handle
	tenantMid := deps.TenantMiddleware.Handle
	read := deps.RateLimiter.Handle(middleware.LimitAPIRead)
	write := deps.RateLimiter.Handle(middleware.LimitAPIWrite)
	admin := requireRole(auth.RoleAdmin, auth.RoleOwner)
	observe := middleware.Observe

	// Operational
	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Public redirect. httprouter cannot mix a root wildcard with the static
	// routes, so short codes are served from the not-found fallback.
	router.NotFound = shortCodeRoute(
		chain(deps.RedirectHandler.Handle, observe("redirect"), deps.RateLimiter.Handle(middleware.LimitRedirect)))

	// Organization bootstrap
	router.POST("/api/v1/organizations",
		chain(deps.OrgHandler.Create, observe("organizations.create"), write))
	router.GET("/api/v1/organizations/current",
		chain(deps.OrgHandler.GetCurrent, observe("organizations.current"), authMid, tenantMid, read))

	// API keys
	router.POST("/api/v1/api-keys",
		chain(deps.APIKeyHandler.Create, observe("api_keys.create"), authMid, tenantMid, write, admin))
	router.GET("/api/v1/api-keys",
		chain(deps.APIKeyHandler.List, observe("api_keys.list"), authMid, tenantMid, read, admin))
	router.DELETE("/api/v1/api-keys/:key_id",
		chain(deps.APIKeyHandler.Revoke, observe("api_keys.revoke"), authMid, tenantMid, write, admin))

	// Webhooks
	router.POST("/api/v1/webhooks",
		chain(deps.WebhookHandler.Create, observe("webhooks.create"), authMid, tenantMid, write, admin))
	router.GET("/api/v1/webhooks",
		chain(deps.WebhookHandler.List, observe("webhooks.list"), authMid, tenantMid, read))
	router.GET("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Get, observe("webhooks.get"), authMid, tenantMid, read))
	router.PATCH("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Update, observe("webhooks.update"), authMid, tenantMid, write, admin))
	router.DELETE("/api/v1/webhooks/:webhook_id",
		chain(deps.WebhookHandler.Delete, observe("webhooks.delete"), authMid, tenantMid, write, admin))
	router.POST("/api/v1/webhooks/:webhook_id/test",
		chain(deps.WebhookHandler.Test, observe("webhooks.test"), authMid, tenantMid, write, admin))
	router.GET("/api/v1/webhooks/:webhook_id/deliveries",
		chain(deps.WebhookHandler.Deliveries, observe("webhooks.deliveries"), authMid, tenantMid, read))
	router.POST("/api/v1/webhooks/:webhook_id/rotate-secret",
		chain(deps.WebhookHandler.RotateSecret, observe("webhooks.rotate_secret"), authMid, tenantMid, write, admin))

	// Links
	router.POST("/api/v1/links",
		chain(deps.LinkHandler.Create, observe("links.create"), authMid, tenantMid, write))
	router.GET("/api/v1/links",
		chain(deps.LinkHandler.List, observe("links.list"), authMid, tenantMid, read))
	router.GET("/api/v1/links/:link_id",
		chain(deps.LinkHandler.Get, observe("links.get"), authMid, tenantMid, read))
	router.PATCH("/api/v1/links/:link_id",
		chain(deps.LinkHandler.Update, observe("links.update"), authMid, tenantMid, write))
	router.DELETE("/api/v1/links/:link_id",
		chain(deps.LinkHandler.Delete, observe("links.delete"), authMid, tenantMid, write))
	router.GET("/api/v1/links/:link_id/qr",
		chain(deps.LinkHandler.GetQRCode, observe("links.qr"), authMid, tenantMid, read))

	// Custom domains
	router.POST("/api/v1/domains",
		chain(deps.DomainHandler.Add, observe("domains.add"), authMid, tenantMid, write, admin))
	router.GET("/api/v1/domains",
		chain(deps.DomainHandler.List, observe("domains.list"), authMid, tenantMid, read))
	router.POST("/api/v1/domains/:domain_id/verify",
		chain(deps.DomainHandler.Verify, observe("domains.verify"), authMid, tenantMid, write, admin))

	// Audit
	router.GET("/api/v1/audit-logs",
		chain(deps.AuditHandler.List, observe("audit_logs.list"), authMid, tenantMid, read, admin))

	return router
}

// shortCodeRoute serves GET /<short_code> and 404s anything else.
func shortCodeRoute(handle httprouter.Handle) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.URL.Path, "/")
		if (r.Method != http.MethodGet && r.Method != http.MethodHead) || code == "" || strings.Contains(code, "/") {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Not found", nil)
			return
		}
		handle(w, r, httprouter.Params{{Key: "short_code", Value: code}})
	})
}

// chain applies middlewares outermost first.
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// wrap adapts an http.HandlerFunc to httprouter and exposes the route params
// and the request itself through the context.
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		ctx = context.WithValue(ctx, apiContext.Request, r)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
			if !ok || !claims.HasRole(roles...) {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
