package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront/internal/apperr"
	httphandler "github.com/vasiliy-maslov/storefront/internal/handler/http"
	"github.com/vasiliy-maslov/storefront/internal/payment"
)

func TestPaymentHandler_handleConfirm(t *testing.T) {
	o := sampleOrder(uuid.Must(uuid.NewV4()))

	tests := []struct {
		name       string
		result     *payment.Result
		serviceErr error
		wantStatus int
	}{
		{name: "created", result: &payment.Result{Order: o, Created: true}, wantStatus: http.StatusCreated},
		{name: "already_confirmed", result: &payment.Result{Order: o}, wantStatus: http.StatusOK},
		{name: "unpaid", serviceErr: apperr.ErrPaymentIncomplete, wantStatus: http.StatusPaymentRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockPaymentService)
			router := newRouter(httphandler.NewPaymentHandler(mockService))
			if tt.serviceErr != nil {
				mockService.On("Confirm", mock.Anything, "cs_test_1").Return(nil, tt.serviceErr).Once()
			} else {
				mockService.On("Confirm", mock.Anything, "cs_test_1").Return(tt.result, nil).Once()
			}

			body := []byte(`{"session_id":"cs_test_1"}`)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/confirm", bytes.NewReader(body)))

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.result != nil {
				var got httphandler.ConfirmPaymentResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
				assert.Equal(t, tt.result.Created, got.Created)
				assert.Equal(t, o.ID, got.Order.ID)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestPaymentHandler_handleConfirm_ShortfallsReported(t *testing.T) {
	o := sampleOrder(uuid.Must(uuid.NewV4()))
	productID := uuid.Must(uuid.NewV4())
	mockService := new(MockPaymentService)
	router := newRouter(httphandler.NewPaymentHandler(mockService))
	mockService.On("Confirm", mock.Anything, "cs_test_1").Return(&payment.Result{
		Order:           o,
		Created:         true,
		StockShortfalls: []payment.Shortfall{{ProductID: productID, Quantity: 2, Reason: "insufficient stock"}},
	}, nil).Once()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/confirm", bytes.NewReader([]byte(`{"session_id":"cs_test_1"}`))))

	require.Equal(t, http.StatusCreated, rr.Code)
	var got httphandler.ConfirmPaymentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got.StockShortfalls, 1)
	assert.Equal(t, productID, got.StockShortfalls[0].ProductID)
}

func TestPaymentHandler_handleConfirm_MissingSession(t *testing.T) {
	mockService := new(MockPaymentService)
	router := newRouter(httphandler.NewPaymentHandler(mockService))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/confirm", bytes.NewReader([]byte(`{}`))))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	mockService.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything)
}

func TestPaymentHandler_handleWebhook(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	t.Run("applied", func(t *testing.T) {
		mockService := new(MockPaymentService)
		router := newRouter(httphandler.NewPaymentHandler(mockService))
		mockService.On("HandleWebhook", mock.Anything, payload, "t=1,v1=abc").
			Return(&payment.Result{Order: sampleOrder(uuid.Must(uuid.NewV4())), Created: true}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(payload))
		req.Header.Set(httphandler.HeaderStripeSignature, "t=1,v1=abc")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("ignored_event", func(t *testing.T) {
		mockService := new(MockPaymentService)
		router := newRouter(httphandler.NewPaymentHandler(mockService))
		mockService.On("HandleWebhook", mock.Anything, payload, "t=1,v1=abc").Return(nil, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(payload))
		req.Header.Set(httphandler.HeaderStripeSignature, "t=1,v1=abc")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	})

	t.Run("bad_signature", func(t *testing.T) {
		mockService := new(MockPaymentService)
		router := newRouter(httphandler.NewPaymentHandler(mockService))
		mockService.On("HandleWebhook", mock.Anything, payload, "").
			Return(nil, apperr.Validation("invalid webhook signature")).Once()

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(payload)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
