package rest

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/frahmantamala/user-management/api"
	"github.com/frahmantamala/user-management/internal/transport/middleware"
	"github.com/frahmantamala/user-management/internal/transport/swagger"
	"github.com/frahmantamala/user-management/internal/user"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

const openAPIPath = "/openapi.yml"

type RouterDeps struct {
	DB           *sql.DB
	HealthChecks map[string]HealthCheck
	UserHandler  *user.Handler
	Verifier     middleware.TokenVerifier
	OpenAPI      *openapi3.T
	Origins      string
	Logger       *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, deps RouterDeps) error {
	healthHandler := NewHealthHandler(deps.DB, deps.HealthChecks)

	validate, err := middleware.OpenAPIValidator(deps.OpenAPI, deps.Logger)
	if err != nil {
		return err
	}
	authenticate := middleware.Authenticate(deps.Verifier, deps.Logger)

	router.Use(middleware.CORS(deps.Origins))
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.LoggingMiddleware(deps.Logger))
	router.Use(middleware.RecoveryMiddleware(deps.Logger))
	router.Use(chiMiddleware.Timeout(30 * time.Second))

	router.Get(openAPIPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPI)
	})
	router.Handle("/swagger/*", swagger.Handler(openAPIPath))

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		r.Group(func(pub chi.Router) {
			pub.Use(validate)
			pub.Post("/auth/lookup", deps.UserHandler.AuthenticateLookup)
			pub.Post("/users", deps.UserHandler.CreateUser)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(authenticate)
			pr.Use(validate)

			pr.Get("/users", deps.UserHandler.SearchUsers)
			pr.Get("/users/me", deps.UserHandler.GetCurrentUser)
			pr.Put("/users/me", deps.UserHandler.UpdateCurrentUser)

			pr.Route("/users/{id}", func(ur chi.Router) {
				ur.Get("/", deps.UserHandler.GetUser)
				ur.Put("/", deps.UserHandler.UpdateUser)
				ur.Delete("/", deps.UserHandler.DeleteUser)
				ur.Post("/password", deps.UserHandler.ChangePassword)
				ur.Post("/deactivate", deps.UserHandler.DeactivateUser)
				ur.Post("/reactivate", deps.UserHandler.ReactivateUser)
				ur.Get("/audit", deps.UserHandler.GetAuditTrail)
			})
		})
	})

	return nil
}
