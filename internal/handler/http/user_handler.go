package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/user"
)

type NotificationPreferencesRequest struct {
	OptOut *bool `json:"opt_out" validate:"required"`
}

type UserHandler struct {
	service  user.Service
	validate *validator.Validate
}

func NewUserHandler(service user.Service) *UserHandler {
	return &UserHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *UserHandler) RegisterRoutes(router chi.Router) {
	router.With(RequireUser).Put("/users/me/notifications", h.handleSetNotifications)
}

func (h *UserHandler) handleSetNotifications(w http.ResponseWriter, r *http.Request) {
	var requestPayload NotificationPreferencesRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}
	userID := viewerFrom(r.Context()).UserID.UUID

	if err := h.service.SetNotificationsOptOut(r.Context(), userID, *requestPayload.OptOut); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to update notification preferences via service")
		respondWithServiceError(w, err, "Failed to update notification preferences")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
