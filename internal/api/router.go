package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "keygate/internal/api/context"
	"keygate/internal/api/handlers"
	"keygate/internal/api/middleware"
)

type Dependencies struct {
	LicenseHandler  *handlers.LicenseHandler
	AdminHandler    *handlers.AdminHandler
	AdminKeyHandler *handlers.AdminKeyHandler
	JWKSHandler     *handlers.JWKSHandler
	HealthHandler   *handlers.HealthHandler
	AdminAuth       *middleware.AdminAuthMiddleware
	RateLimiter     *middleware.RateLimiter
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	rl := deps.RateLimiter
	adminAuth := deps.AdminAuth

	// Public activation surface
	router.POST("/api/v1/license/activate",
		chain(deps.LicenseHandler.Activate, rl.Limit("activate")))
	router.POST("/api/v1/license/refresh",
		chain(deps.LicenseHandler.Refresh, rl.Limit("verify")))
	router.POST("/api/v1/license/introspect",
		chain(deps.LicenseHandler.Introspect, rl.Limit("verify")))

	// Key discovery
	router.GET("/.well-known/jwks.json", wrap(deps.JWKSHandler.Get))

	router.GET("/healthz", wrap(deps.HealthHandler.Check))

	// Administrative collaborator interface
	router.POST("/api/v1/admin/licenses",
		chain(deps.AdminHandler.GenerateKeys, adminAuth.Handle, rl.Limit("admin")))
	router.GET("/api/v1/admin/licenses",
		chain(deps.AdminHandler.List, adminAuth.Handle, rl.Limit("admin")))
	router.GET("/api/v1/admin/licenses/:license_id",
		chain(deps.AdminHandler.Get, adminAuth.Handle, rl.Limit("admin")))
	router.POST("/api/v1/admin/licenses/:license_id/extend",
		chain(deps.AdminHandler.Extend, adminAuth.Handle, rl.Limit("admin")))
	router.POST("/api/v1/admin/licenses/:license_id/revoke",
		chain(deps.AdminHandler.Revoke, adminAuth.Handle, rl.Limit("admin")))
	router.POST("/api/v1/admin/licenses/:license_id/bump-token-version",
		chain(deps.AdminHandler.BumpTokenVersion, adminAuth.Handle, rl.Limit("admin")))
	router.GET("/api/v1/admin/licenses/:license_id/activations",
		chain(deps.AdminHandler.ListActivations, adminAuth.Handle, rl.Limit("admin")))
	router.POST("/api/v1/admin/licenses/:license_id/devices/:device_id/revoke",
		chain(deps.AdminHandler.RevokeDevice, adminAuth.Handle, rl.Limit("admin")))

	// Admin key management
	router.POST("/api/v1/admin/keys",
		chain(deps.AdminKeyHandler.Create, adminAuth.Handle, rl.Limit("admin")))
	router.GET("/api/v1/admin/keys",
		chain(deps.AdminKeyHandler.List, adminAuth.Handle, rl.Limit("admin")))
	router.DELETE("/api/v1/admin/keys/:key_id",
		chain(deps.AdminKeyHandler.Revoke, adminAuth.Handle, rl.Limit("admin")))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
