package webhook

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// Lookup errors returned by Repository and mapped to 404 by the API.
var (
	ErrEndpointNotFound = errors.New("webhook endpoint not found")
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
)

// DeliveryError is the outcome of a failed delivery attempt as it is stored
// on the delivery row.
type DeliveryError struct {
	// HTTPStatus is zero when no response was received.
	HTTPStatus int
	Reason     string
	// Final failures exhaust the delivery regardless of attempts left.
	Final bool
}

func (e *DeliveryError) Error() string {
	return e.Reason
}

// statusPtr is the nullable http_status column value.
func (e *DeliveryError) statusPtr() *int {
	if e.HTTPStatus == 0 {
		return nil
	}
	status := e.HTTPStatus
	return &status
}

// endpointGone fails a delivery whose endpoint can no longer receive it.
func endpointGone(reason string) *DeliveryError {
	return &DeliveryError{Reason: reason, Final: true}
}

// responseFailure classifies a non-2xx response. 410 Gone tells us the
// receiver was removed on purpose, so it is not retried.
func responseFailure(status int) *DeliveryError {
	return &DeliveryError{
		HTTPStatus: status,
		Reason:     fmt.Sprintf("HTTP %d", status),
		Final:      status == http.StatusGone,
	}
}

// transportFailure wraps an error raised before a response arrived.
func transportFailure(stage string, err error) *DeliveryError {
	return &DeliveryError{Reason: stage + ": " + err.Error()}
}

func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
