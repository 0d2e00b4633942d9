// internal/api/http/router.go
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mind-engage/lti-tool/internal/config"
	"github.com/mind-engage/lti-tool/internal/lti/deeplink"
	"github.com/mind-engage/lti-tool/internal/lti/keyring"
	"github.com/mind-engage/lti-tool/internal/lti/launch"
	"github.com/mind-engage/lti-tool/internal/lti/reconcile"
	"github.com/mind-engage/lti-tool/internal/lti/store"
	"github.com/mind-engage/lti-tool/internal/rbac"
)

// Deps carries everything the router mounts.
type Deps struct {
	Cfg       config.Config
	Store     store.Store
	Validator *launch.Validator
	Keyring   *keyring.Keyring
}

// NewRouter assembles the tool's HTTP surface.
func NewRouter(d Deps) http.Handler {
	lti := &LTIHandlers{
		Validator: d.Validator,
		Syncer:    &reconcile.Syncer{Store: d.Store},
		Cfg:       d.Cfg,
	}
	svc := &ServiceHandlers{Store: d.Store}
	dl := &DeepLinkHandlers{Responder: &deeplink.Responder{Keyring: d.Keyring}}
	admin := &AdminHandlers{
		Store:         d.Store,
		AdminUser:     d.Cfg.AdminUser,
		AdminPassHash: d.Cfg.AdminPassHash,
	}
	jwks := &keyring.JWKSHandler{Keyring: d.Keyring}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// OIDC login initiation arrives as GET or POST, with or without the
	// registration UUID in the path.
	r.Get("/lti/login", lti.Login)
	r.Post("/lti/login", lti.Login)
	r.Get("/lti/login/{registration_uuid}", lti.Login)
	r.Post("/lti/login/{registration_uuid}", lti.Login)

	r.Post("/lti/launch", lti.Launch)

	r.Get("/.well-known/jwks.json", jwks.ServeHTTP)
	r.Head("/.well-known/jwks.json", jwks.ServeHTTP)
	r.Get("/lti/config.json/{registration_uuid}", lti.Config)

	// Routes that only make sense inside a launched session. The sync and
	// deep-linking routes are additionally gated on the launch's roles.
	r.Group(func(lr chi.Router) {
		lr.Use(LaunchSession(d.Validator))
		lr.Use(RequireLaunch)
		lr.Get("/lti/session", svc.Session)
		lr.With(rbac.Require(rbac.PermRosterSync, launchRoles)).
			Post("/lti/members/sync", svc.SyncMembers)
		lr.With(rbac.Require(rbac.PermLineItemsSync, launchRoles)).
			Post("/lti/lineitems/sync", svc.SyncLineItems)
		lr.With(rbac.Require(rbac.PermDeepLink, launchRoles)).
			Post("/lti/deeplink/respond", dl.Respond)
	})

	r.Group(func(ar chi.Router) {
		ar.Use(admin.BasicAuth)
		ar.Post("/admin/registrations", admin.SaveRegistration)
		ar.Post("/admin/deployments/activate", admin.ActivateDeployment)
	})

	return r
}
