package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

// Identity is asserted by the upstream auth gateway.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	RoleOperator = "operator"
)

type viewerKey struct{}

// Identify reads the caller identity headers. Requests without them continue
// as guests; a malformed user id is rejected.
func Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := order.Viewer{Actor: order.ActorCustomer}

		if raw := strings.TrimSpace(r.Header.Get(HeaderUserID)); raw != "" {
			id, err := uuid.FromString(raw)
			if err != nil {
				log.Warn().Err(err).Str("user_id", raw).Msg("Invalid user id header")
				respondWithError(w, http.StatusUnauthorized, "Invalid user identity")
				return
			}
			v.UserID = uuid.NullUUID{UUID: id, Valid: true}
		}
		if strings.EqualFold(r.Header.Get(HeaderUserRole), RoleOperator) {
			v.Actor = order.ActorOperator
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), viewerKey{}, v)))
	})
}

func viewerFrom(ctx context.Context) order.Viewer {
	if v, ok := ctx.Value(viewerKey{}).(order.Viewer); ok {
		return v
	}
	return order.Viewer{Actor: order.ActorCustomer}
}

// RequireUser rejects guests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !viewerFrom(r.Context()).UserID.Valid {
			respondWithError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := viewerFrom(r.Context())
		switch {
		case v.Actor == order.ActorOperator:
			next.ServeHTTP(w, r)
		case !v.UserID.Valid:
			respondWithError(w, http.StatusUnauthorized, "Authentication required")
		default:
			respondWithError(w, http.StatusForbidden, "Operator role required")
		}
	})
}
