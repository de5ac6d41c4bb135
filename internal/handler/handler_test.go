package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/handler/dto"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/service"
	"github.com/checkoutd/checkoutd/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withAuth injects a fixed caller, standing in for the auth middleware.
func withAuth(ac *model.AuthContext) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(r.Context(), ac)))
		})
	}
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandler_Hello(t *testing.T) {
	rec := httptest.NewRecorder()
	New("1.2.3").Hello(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeBody[map[string]string](t, rec)
	assert.Equal(t, "checkoutd", body["service"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestHandler_NotFoundAndMethodNotAllowed(t *testing.T) {
	h := New("dev")

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody[dto.ErrorResponse](t, rec).Code)

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, httptest.NewRequest(http.MethodPut, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decodeBody[dto.ErrorResponse](t, rec).Code)
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", service.ValidationError{{Field: "amount", Message: "Too low."}}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"wrapped not found", fmt.Errorf("load: %w", service.ErrCheckoutNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"endpoint not found", webhook.ErrEndpointNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"not permitted", service.ErrNotPermitted, http.StatusForbidden, "FORBIDDEN"},
		{"not open", service.ErrNotOpenCheckout, http.StatusForbidden, "CHECKOUT_NOT_OPEN"},
		{"not confirmed", service.ErrNotConfirmedCheckout, http.StatusForbidden, "CHECKOUT_NOT_CONFIRMED"},
		{"expired", service.ErrExpiredCheckout, http.StatusGone, "CHECKOUT_EXPIRED"},
		{"payment", fmt.Errorf("%w: %w", service.ErrPaymentError, errors.New("card_declined")), http.StatusBadRequest, "PAYMENT_ERROR"},
		{"unknown", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleServiceError(rec, discardLogger(), tt.err)
			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody[dto.ErrorResponse](t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.NotEqual(t, "connection reset", body.Error)
		})
	}
}

func TestHandleServiceError_ValidationFields(t *testing.T) {
	rec := httptest.NewRecorder()
	handleServiceError(rec, discardLogger(), service.ValidationError{{Field: "product_price_id", Message: "Price not found."}})

	body := decodeBody[dto.ErrorResponse](t, rec)
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "product_price_id", body.Errors[0].Field)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Email string `json:"email" validate:"required,email"`
	}

	tests := []struct {
		name   string
		body   io.Reader
		ok     bool
		status int
		code   string
	}{
		{"valid", strings.NewReader(`{"email":"a@example.com"}`), true, http.StatusOK, ""},
		{"empty body", strings.NewReader(""), false, http.StatusBadRequest, "INVALID_REQUEST"},
		{"malformed", strings.NewReader(`{"email":`), false, http.StatusBadRequest, "INVALID_REQUEST"},
		{"invalid field", strings.NewReader(`{"email":"nope"}`), false, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", tt.body)
			var dst payload
			ok := decodeJSON(rec, req, &dst)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, "a@example.com", dst.Email)
				return
			}
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[dto.ErrorResponse](t, rec).Code)
		})
	}
}

func TestDecodeJSON_ReportsJSONFieldNames(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"product_price_id":"not-a-uuid","customer_billing_address":{"country":"XX"}}`))

	var dst dto.CheckoutCreateRequest
	require.False(t, decodeJSON(rec, req, &dst))

	body := decodeBody[dto.ErrorResponse](t, rec)
	var fields []string
	for _, e := range body.Errors {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "product_price_id")
	assert.Contains(t, fields, "customer_billing_address.country")
}

func TestParsePage(t *testing.T) {
	page, errs := parsePage(httptest.NewRequest(http.MethodGet, "/?page=3&limit=20", nil))
	assert.Empty(t, errs)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 20, page.Limit)

	page, errs = parsePage(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, errs)
	assert.Equal(t, 1, page.Page)

	_, errs = parsePage(httptest.NewRequest(http.MethodGet, "/?page=0&limit=100000", nil))
	assert.Len(t, errs, 2)
}

func jsonReader(t *testing.T, v any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}
