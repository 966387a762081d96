package orgcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/registryhq/orgcp/internal/logging"
	"github.com/registryhq/orgcp/pkg/directory"
)

type ctxKey string

const callerKey ctxKey = "orgcp_caller"

// userResolver is the slice of the directory the auth middleware needs.
type userResolver interface {
	GetUser(ctx context.Context, name string) (*directory.User, error)
}

// withCaller resolves the authenticated caller from the X-Auth-User header
// set by the edge proxy and stores the directory record on the context.
func withCaller(resolver userResolver, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, requestID := logging.WithRequestID(r.Context(), r.Header.Get("X-Request-Id"))
		w.Header().Set("X-Request-Id", requestID)

		name := r.Header.Get("X-Auth-User")
		if name == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}

		user, err := resolver.GetUser(ctx, name)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "unknown user")
				return
			}
			log.Error().Err(err).Str("user", name).Str("requestID", requestID).Msg("Caller lookup failed")
			writeError(w, http.StatusBadGateway, "upstream_error", "could not resolve caller")
			return
		}

		next(w, r.WithContext(context.WithValue(ctx, callerKey, user)))
	}
}

// callerFrom returns the authenticated caller stored by withCaller.
func callerFrom(ctx context.Context) *directory.User {
	user, _ := ctx.Value(callerKey).(*directory.User)
	return user
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Int("status", status).Msg("Encode JSON response failed")
	}
}
