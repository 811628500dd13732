package middleware

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/user-management/internal"
	"github.com/frahmantamala/user-management/internal/auth"
	"github.com/frahmantamala/user-management/internal/transport"
	"github.com/frahmantamala/user-management/pkg/logger"
)

type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Authenticate requires a valid bearer token and stores its user_id as the
// caller identity. The request logger gains a caller_id field.
func Authenticate(verifier TokenVerifier, lg *slog.Logger) func(http.Handler) http.Handler {
	h := transport.NewBaseHandler(lg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := h.ExtractTokenFromHeader(r)
			if token == "" {
				h.WriteAppError(w, internal.NewUnauthorizedError("Missing bearer token", internal.ErrCodeInvalidToken))
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				logger.FromOr(r.Context(), h.Logger).Warn("token rejected", "error", err)
				if appErr, ok := internal.IsAppError(err); ok {
					h.WriteAppError(w, appErr)
					return
				}
				h.WriteAppError(w, internal.ErrInvalidToken)
				return
			}

			callerID, _ := claims.CallerID()
			ctx := internal.ContextWithCallerID(r.Context(), callerID)
			ctx = logger.With(ctx, "caller_id", callerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
