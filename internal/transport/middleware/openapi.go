package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/user-management/internal"
	"github.com/frahmantamala/user-management/internal/transport"
	"github.com/frahmantamala/user-management/pkg/logger"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
)

// LoadOpenAPI parses and validates the document. Startup fails on an invalid
// document rather than serving requests against it.
func LoadOpenAPI(ctx context.Context, data []byte) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	return doc, nil
}

// OpenAPIValidator rejects requests whose parameters or body do not match the
// document. Paths the document does not describe pass through to the router.
// Authentication is enforced by Authenticate, not here.
func OpenAPIValidator(doc *openapi3.T, lg *slog.Logger) (func(http.Handler) http.Handler, error) {
	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	h := transport.NewBaseHandler(lg)
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				var routeErr *routers.RouteError
				if !errors.As(err, &routeErr) {
					logger.FromOr(r.Context(), h.Logger).Warn("openapi route lookup failed", "error", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				logger.FromOr(r.Context(), h.Logger).Info("request failed schema validation", "error", err)
				h.WriteAppError(w, requestValidationError(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

func requestValidationError(err error) *internal.AppError {
	field := "body"
	message := err.Error()

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			field = reqErr.Parameter.Name
		}
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			if path := schemaErr.JSONPointer(); len(path) > 0 {
				field = path[0]
			}
			message = schemaErr.Reason
		} else if reqErr.Reason != "" {
			message = reqErr.Reason
		}
	}

	return internal.NewValidationFieldError(field, message, internal.ErrCodeValidationFailed)
}
