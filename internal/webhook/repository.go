package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/checkoutd/checkoutd/internal/model"
)

// Repository handles webhook database operations.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new webhook repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const endpointColumns = `
	id, organization_id, target_url, secret, enabled, event_types,
	name, description, created_at, updated_at, deleted_at
`

const deliveryColumns = `
	id, endpoint_id, event_id, event_type, payload_json,
	status, attempt_count, max_attempts, next_retry_at,
	last_attempt_at, last_http_status, last_error,
	created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateEndpoint creates a new webhook endpoint.
func (r *Repository) CreateEndpoint(ctx context.Context, e *model.WebhookEndpoint) error {
	query := `
		INSERT INTO webhook_endpoints (
			id, organization_id, target_url, secret, enabled,
			event_types, name, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		e.ID,
		e.OrganizationID,
		e.TargetURL,
		e.Secret,
		e.Enabled,
		pq.Array(eventTypeStrings(e.EventTypes)),
		e.Name,
		e.Description,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// GetEndpoint retrieves a live webhook endpoint by ID.
func (r *Repository) GetEndpoint(ctx context.Context, id string) (*model.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1 AND deleted_at IS NULL`

	e, err := scanEndpoint(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoint: %w", err)
	}
	return e, nil
}

// GetOrganizationEndpoint retrieves an endpoint only if it belongs to orgID.
func (r *Repository) GetOrganizationEndpoint(ctx context.Context, orgID, id string) (*model.WebhookEndpoint, error) {
	e, err := r.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.OrganizationID != orgID {
		return nil, ErrEndpointNotFound
	}
	return e, nil
}

// ListEndpointsByOrganization retrieves all live endpoints of an organization.
func (r *Repository) ListEndpointsByOrganization(ctx context.Context, orgID string) ([]*model.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`
	return r.queryEndpoints(ctx, query, orgID)
}

// ListActiveEndpointsByOrganizationAndEvent retrieves enabled endpoints
// subscribed to eventType.
func (r *Repository) ListActiveEndpointsByOrganizationAndEvent(ctx context.Context, orgID string, eventType model.EventType) ([]*model.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + `
		FROM webhook_endpoints
		WHERE organization_id = $1
		  AND deleted_at IS NULL
		  AND enabled = true
		  AND $2 = ANY(event_types)
		ORDER BY created_at
	`
	return r.queryEndpoints(ctx, query, orgID, string(eventType))
}

func (r *Repository) queryEndpoints(ctx context.Context, query string, args ...any) ([]*model.WebhookEndpoint, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []*model.WebhookEndpoint{}
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// UpdateEndpoint updates the mutable fields of an endpoint.
func (r *Repository) UpdateEndpoint(ctx context.Context, e *model.WebhookEndpoint) error {
	query := `
		UPDATE webhook_endpoints
		SET target_url = $2, enabled = $3, event_types = $4,
			name = $5, description = $6, updated_at = $7
		WHERE id = $1 AND deleted_at IS NULL
	`

	e.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		e.ID,
		e.TargetURL,
		e.Enabled,
		pq.Array(eventTypeStrings(e.EventTypes)),
		e.Name,
		e.Description,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update webhook endpoint: %w", err)
	}
	return requireAffected(result, ErrEndpointNotFound)
}

// UpdateEndpointSecret replaces the signing secret of an endpoint.
func (r *Repository) UpdateEndpointSecret(ctx context.Context, id, secret string) error {
	query := `
		UPDATE webhook_endpoints
		SET secret = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, secret, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update endpoint secret: %w", err)
	}
	return requireAffected(result, ErrEndpointNotFound)
}

// DeleteEndpoint soft-deletes a webhook endpoint.
func (r *Repository) DeleteEndpoint(ctx context.Context, id string) error {
	query := `
		UPDATE webhook_endpoints
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	return requireAffected(result, ErrEndpointNotFound)
}

// CreateDelivery creates a delivery record. A second delivery of the same
// event to the same endpoint is ignored.
func (r *Repository) CreateDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (
			id, endpoint_id, event_id, event_type, payload_json,
			status, attempt_count, max_attempts, next_retry_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (endpoint_id, event_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.EndpointID,
		d.EventID,
		string(d.EventType),
		d.PayloadJSON,
		string(d.Status),
		d.AttemptCount,
		d.MaxAttempts,
		d.NextRetryAt,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// ClaimDueDeliveries leases up to limit due deliveries by pushing their
// next_retry_at forward by lease. Concurrent workers skip each other's rows,
// and a worker that dies mid-send leaves its rows due again once the lease ends.
func (r *Repository) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
	query := `
		UPDATE webhook_deliveries
		SET next_retry_at = $3, updated_at = $1
		WHERE id IN (
			SELECT d.id
			FROM webhook_deliveries d
			JOIN webhook_endpoints e ON d.endpoint_id = e.id
			WHERE d.status IN ('pending', 'failed')
			  AND d.next_retry_at <= $1
			  AND e.deleted_at IS NULL
			  AND e.enabled = true
			ORDER BY d.next_retry_at
			LIMIT $2
			FOR UPDATE OF d SKIP LOCKED
		)
		RETURNING ` + deliveryColumns

	rows, err := r.db.QueryContext(ctx, query, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

// UpdateDeliverySuccess marks a delivery as successful.
func (r *Repository) UpdateDeliverySuccess(ctx context.Context, id string, httpStatus int) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'success',
			attempt_count = attempt_count + 1,
			last_attempt_at = $2,
			last_http_status = $3,
			last_error = '',
			updated_at = $2
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC(), httpStatus)
	if err != nil {
		return fmt.Errorf("update delivery success: %w", err)
	}
	return requireAffected(result, ErrDeliveryNotFound)
}

// UpdateDeliveryFailure records a failed attempt and schedules the next one.
func (r *Repository) UpdateDeliveryFailure(ctx context.Context, id string, httpStatus *int, errMsg string, nextRetryAt time.Time, exhausted bool) error {
	status := model.DeliveryStatusFailed
	if exhausted {
		status = model.DeliveryStatusExhausted
	}
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}

	query := `
		UPDATE webhook_deliveries
		SET status = $2,
			attempt_count = attempt_count + 1,
			last_attempt_at = $3,
			last_http_status = $4,
			last_error = $5,
			next_retry_at = $6,
			updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, string(status), time.Now().UTC(), httpStatus, errMsg, nextRetryAt)
	if err != nil {
		return fmt.Errorf("update delivery failure: %w", err)
	}
	return requireAffected(result, ErrDeliveryNotFound)
}

// GetDelivery retrieves one delivery of an endpoint.
func (r *Repository) GetDelivery(ctx context.Context, endpointID, id string) (*model.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1 AND endpoint_id = $2`

	d, err := scanDelivery(r.db.QueryRowContext(ctx, query, id, endpointID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery: %w", err)
	}
	return d, nil
}

// ListDeliveriesByEndpoint returns one page of an endpoint's deliveries,
// newest first, optionally filtered by status.
func (r *Repository) ListDeliveriesByEndpoint(ctx context.Context, endpointID string, statuses []model.DeliveryStatus, limit, offset int) ([]*model.WebhookDelivery, int, error) {
	var where strings.Builder
	args := []any{endpointID}
	where.WriteString("WHERE endpoint_id = $1")

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			args = append(args, string(s))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		fmt.Fprintf(&where, " AND status IN (%s)", strings.Join(placeholders, ","))
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM webhook_deliveries ` + where.String()
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM webhook_deliveries %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		deliveryColumns, where.String(), len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	deliveries, err := scanDeliveries(rows)
	if err != nil {
		return nil, 0, err
	}
	return deliveries, total, nil
}

// ResetDeliveryForRetry makes an exhausted delivery due again.
func (r *Repository) ResetDeliveryForRetry(ctx context.Context, endpointID, id string) error {
	query := `
		UPDATE webhook_deliveries
		SET status = 'pending',
			attempt_count = 0,
			next_retry_at = $3,
			updated_at = $3
		WHERE id = $1 AND endpoint_id = $2 AND status = 'exhausted'
	`

	result, err := r.db.ExecContext(ctx, query, id, endpointID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset delivery: %w", err)
	}
	return requireAffected(result, ErrDeliveryNotFound)
}

// GetQueueDepth returns the count of pending and failed deliveries.
func (r *Repository) GetQueueDepth(ctx context.Context) (int64, error) {
	query := `SELECT COUNT(*) FROM webhook_deliveries WHERE status IN ('pending', 'failed')`

	var count int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count queue depth: %w", err)
	}
	return count, nil
}

func scanEndpoint(row rowScanner) (*model.WebhookEndpoint, error) {
	var e model.WebhookEndpoint
	var eventTypes []string
	if err := row.Scan(
		&e.ID,
		&e.OrganizationID,
		&e.TargetURL,
		&e.Secret,
		&e.Enabled,
		pq.Array(&eventTypes),
		&e.Name,
		&e.Description,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.DeletedAt,
	); err != nil {
		return nil, err
	}

	e.EventTypes = make([]model.EventType, len(eventTypes))
	for i, et := range eventTypes {
		e.EventTypes[i] = model.EventType(et)
	}
	return &e, nil
}

func scanDelivery(row rowScanner) (*model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	var eventType, status string
	var httpStatus sql.NullInt64
	if err := row.Scan(
		&d.ID,
		&d.EndpointID,
		&d.EventID,
		&eventType,
		&d.PayloadJSON,
		&status,
		&d.AttemptCount,
		&d.MaxAttempts,
		&d.NextRetryAt,
		&d.LastAttemptAt,
		&httpStatus,
		&d.LastError,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}

	d.EventType = model.EventType(eventType)
	d.Status = model.DeliveryStatus(status)
	if httpStatus.Valid {
		code := int(httpStatus.Int64)
		d.LastHTTPStatus = &code
	}
	return &d, nil
}

func scanDeliveries(rows *sql.Rows) ([]*model.WebhookDelivery, error) {
	deliveries := []*model.WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func eventTypeStrings(types []model.EventType) []string {
	out := make([]string, len(types))
	for i, et := range types {
		out[i] = string(et)
	}
	return out
}
