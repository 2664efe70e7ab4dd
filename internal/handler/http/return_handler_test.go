package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	httphandler "github.com/vasiliy-maslov/storefront/internal/handler/http"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/returns"
)

func TestReturnHandler_handleCreateReturn(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	orderID := uuid.Must(uuid.NewV4())

	t.Run("success", func(t *testing.T) {
		mockService := new(MockReturnService)
		router := newRouter(httphandler.NewReturnHandler(mockService))
		created := &returns.Request{ID: uuid.Must(uuid.NewV4()), OrderID: orderID, State: returns.StateSolicitada, Reason: "wrong size"}
		mockService.On("Create", mock.Anything, mock.MatchedBy(func(req returns.CreateRequest) bool {
			return req.OrderID == orderID &&
				req.By == customer(userID) &&
				req.Reason == "wrong size" &&
				req.RefundAmount != nil && req.RefundAmount.Equal(decimal.NewFromInt(10))
		})).Return(created, nil).Once()

		body := []byte(`{"reason":"wrong size","refund_amount":"10"}`)
		req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/returns", bytes.NewReader(body))
		req.Header.Set(httphandler.HeaderUserID, userID.String())
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusCreated, rr.Code)
		var got returns.Request
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, returns.StateSolicitada, got.State)
	})

	t.Run("guest_rejected", func(t *testing.T) {
		mockService := new(MockReturnService)
		router := newRouter(httphandler.NewReturnHandler(mockService))

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/returns", bytes.NewReader([]byte(`{"reason":"x"}`))))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("window_closed", func(t *testing.T) {
		mockService := new(MockReturnService)
		router := newRouter(httphandler.NewReturnHandler(mockService))
		mockService.On("Create", mock.Anything, mock.Anything).Return(nil, returns.ErrWindowClosed).Once()

		req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/returns", bytes.NewReader([]byte(`{"reason":"late"}`)))
		req.Header.Set(httphandler.HeaderUserID, userID.String())
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestReturnHandler_handleListReturns_Empty(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())
	mockService := new(MockReturnService)
	router := newRouter(httphandler.NewReturnHandler(mockService))
	mockService.On("ListByOrder", mock.Anything, orderID, order.Viewer{Actor: order.ActorCustomer}).Return(nil, nil).Once()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+orderID.String()+"/returns", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestReturnHandler_handleUpdateStatus(t *testing.T) {
	operatorID := uuid.Must(uuid.NewV4())
	returnID := uuid.Must(uuid.NewV4())
	operator := order.Viewer{Actor: order.ActorOperator, UserID: uuid.NullUUID{UUID: operatorID, Valid: true}}

	newRequest := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPatch, "/admin/returns/"+returnID.String()+"/status", bytes.NewReader([]byte(body)))
		req.Header.Set(httphandler.HeaderUserID, operatorID.String())
		req.Header.Set(httphandler.HeaderUserRole, httphandler.RoleOperator)
		return req
	}

	t.Run("approve", func(t *testing.T) {
		mockService := new(MockReturnService)
		router := newRouter(httphandler.NewReturnHandler(mockService))
		mockService.On("UpdateStatus", mock.Anything, returns.UpdateRequest{
			ReturnID: returnID, To: returns.StateAprobada, By: operator, ReturnLabel: "RET-1",
		}).Return(&returns.Request{ID: returnID, State: returns.StateAprobada, ReturnLabel: "RET-1"}, nil).Once()

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newRequest(`{"status":"APROBADA","return_label":"RET-1"}`))

		assert.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("cannot_reopen", func(t *testing.T) {
		mockService := new(MockReturnService)
		router := newRouter(httphandler.NewReturnHandler(mockService))

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newRequest(`{"status":"SOLICITADA"}`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything)
	})

	t.Run("illegal_transition", func(t *testing.T) {
		mockService := new(MockReturnService)
		router := newRouter(httphandler.NewReturnHandler(mockService))
		mockService.On("UpdateStatus", mock.Anything, mock.Anything).Return(nil, returns.ErrInvalidTransition).Once()

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, newRequest(`{"status":"REEMBOLSADA"}`))

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}
