package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/returns"
)

type CreateReturnRequest struct {
	Reason       string           `json:"reason" validate:"required,max=1000"`
	RefundAmount *decimal.Decimal `json:"refund_amount,omitempty"`
}

type UpdateReturnStatusRequest struct {
	Status       string           `json:"status" validate:"required,oneof=APROBADA RECHAZADA PRODUCTO_RECIBIDO REEMBOLSADA"`
	ReturnLabel  string           `json:"return_label" validate:"max=100"`
	RefundAmount *decimal.Decimal `json:"refund_amount,omitempty"`
}

type ReturnHandler struct {
	service  returns.Service
	validate *validator.Validate
}

func NewReturnHandler(service returns.Service) *ReturnHandler {
	return &ReturnHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *ReturnHandler) RegisterRoutes(router chi.Router) {
	router.With(RequireUser).Post("/orders/{id}/returns", h.handleCreateReturn)
	router.Get("/orders/{id}/returns", h.handleListReturns)
	router.Get("/returns/{id}", h.handleGetReturn)
	router.With(RequireOperator).Patch("/admin/returns/{id}/status", h.handleUpdateStatus)
}

func (h *ReturnHandler) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	var requestPayload CreateReturnRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	req, err := h.service.Create(r.Context(), returns.CreateRequest{
		OrderID:      orderID,
		By:           viewerFrom(r.Context()),
		Reason:       requestPayload.Reason,
		RefundAmount: requestPayload.RefundAmount,
	})
	if err != nil {
		log.Warn().Err(err).Stringer("order_id", orderID).Msg("Failed to create return request via service")
		respondWithServiceError(w, err, "Failed to create return request")
		return
	}

	respondWithJSON(w, http.StatusCreated, req)
}

func (h *ReturnHandler) handleListReturns(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	list, err := h.service.ListByOrder(r.Context(), orderID, viewerFrom(r.Context()))
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to list return requests via service")
		respondWithServiceError(w, err, "Failed to list return requests")
		return
	}
	if list == nil {
		list = []returns.Request{}
	}

	respondWithJSON(w, http.StatusOK, list)
}

func (h *ReturnHandler) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	returnID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	req, err := h.service.Get(r.Context(), returnID, viewerFrom(r.Context()))
	if err != nil {
		log.Error().Err(err).Stringer("return_id", returnID).Msg("Failed to get return request via service")
		respondWithServiceError(w, err, "Failed to retrieve return request")
		return
	}

	respondWithJSON(w, http.StatusOK, req)
}

func (h *ReturnHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	returnID, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	var requestPayload UpdateReturnStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	req, err := h.service.UpdateStatus(r.Context(), returns.UpdateRequest{
		ReturnID:     returnID,
		To:           returns.State(requestPayload.Status),
		By:           viewerFrom(r.Context()),
		ReturnLabel:  requestPayload.ReturnLabel,
		RefundAmount: requestPayload.RefundAmount,
	})
	if err != nil {
		log.Error().Err(err).Stringer("return_id", returnID).Msg("Failed to update return status via service")
		respondWithServiceError(w, err, "Failed to update return status")
		return
	}

	respondWithJSON(w, http.StatusOK, req)
}
