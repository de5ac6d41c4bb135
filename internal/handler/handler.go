// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/checkoutd/checkoutd/internal/handler/dto"
	"github.com/checkoutd/checkoutd/internal/payment"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/checkoutd/checkoutd/internal/service"
	"github.com/checkoutd/checkoutd/internal/webhook"
)

// Handler serves the routes that belong to no resource.
type Handler struct {
	version string
}

// New creates a new Handler instance.
func New(version string) *Handler {
	return &Handler{version: version}
}

// Hello reports the service name and version.
// GET /
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "checkoutd",
		"version": h.version,
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{Error: message, Code: code})
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads and validates a request body. It writes the error
// response and returns false when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body is required")
		default:
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		}
		return false
	}
	if err := validateStruct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func validateStruct(v any) service.ValidationError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return service.ValidationError{{Field: "body", Message: err.Error()}}
	}
	out := make(service.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, service.FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: fieldMessage(fe),
		})
	}
	return out
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "Field required."
	case "email":
		return "Invalid email address."
	case "url":
		return "Invalid URL."
	case "uuid":
		return "Invalid UUID."
	case "ip":
		return "Invalid IP address."
	case "iso3166_1_alpha2":
		return "Invalid country code."
	case "oneof":
		return "Must be one of: " + fe.Param() + "."
	case "max":
		return "Must be at most " + fe.Param() + "."
	case "min":
		return "Must be at least " + fe.Param() + "."
	case "gte":
		return "Must be greater than or equal to " + fe.Param() + "."
	default:
		return "Invalid value."
	}
}

func writeValidationError(w http.ResponseWriter, errs service.ValidationError) {
	writeJSON(w, http.StatusUnprocessableEntity, dto.ErrorResponse{
		Error:  "Validation failed",
		Code:   "VALIDATION_ERROR",
		Errors: errs,
	})
}

// handleServiceError maps service errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr service.ValidationError
	if errors.As(err, &verr) {
		writeValidationError(w, verr)
		return
	}

	switch {
	case errors.Is(err, service.ErrCheckoutNotFound),
		errors.Is(err, service.ErrOrganizationNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrOAuth2ClientNotFound),
		errors.Is(err, webhook.ErrEndpointNotFound),
		errors.Is(err, webhook.ErrDeliveryNotFound),
		errors.Is(err, repository.ErrAPIKeyNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	case errors.Is(err, service.ErrNotPermitted):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Not permitted")
	case errors.Is(err, service.ErrNotOpenCheckout):
		writeError(w, http.StatusForbidden, "CHECKOUT_NOT_OPEN", "Checkout is not open")
	case errors.Is(err, service.ErrNotConfirmedCheckout):
		writeError(w, http.StatusForbidden, "CHECKOUT_NOT_CONFIRMED", "Checkout is not confirmed")
	case errors.Is(err, service.ErrExpiredCheckout):
		writeError(w, http.StatusGone, "CHECKOUT_EXPIRED", "Checkout is expired")
	case errors.Is(err, service.ErrPaymentError):
		writeError(w, http.StatusBadRequest, "PAYMENT_ERROR", payment.UserMessage(err))
	default:
		logger.Error("unhandled service error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}

// parsePage reads the page and limit query parameters.
func parsePage(r *http.Request) (repository.Page, service.ValidationError) {
	var errs service.ValidationError
	page := repository.Page{Page: 1, Limit: repository.DefaultPageLimit}
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, service.FieldError{Field: "page", Message: "Must be a positive integer."})
		} else {
			page.Page = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > repository.MaxPageLimit {
			errs = append(errs, service.FieldError{
				Field:   "limit",
				Message: "Must be between 1 and " + strconv.Itoa(repository.MaxPageLimit) + ".",
			})
		} else {
			page.Limit = n
		}
	}
	return page, errs
}

// parseBool reads an optional boolean query parameter.
func parseBool(r *http.Request, name string, def bool) (bool, service.ValidationError) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, service.ValidationError{{Field: name, Message: "Must be a boolean."}}
	}
	return b, nil
}
