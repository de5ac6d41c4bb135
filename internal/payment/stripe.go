// Package payment wraps the Stripe API behind the operations checkouts need.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/checkoutd/checkoutd/internal/metrics"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// Stripe event types the checkout flow reacts to.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
)

// Metadata key linking Stripe objects back to a checkout.
const MetadataCheckoutID = "checkout_id"

var (
	// ErrInvalidTaxLocation is returned when Stripe cannot locate the customer for tax.
	ErrInvalidTaxLocation = errors.New("invalid tax location")
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("invalid stripe signature")
	// ErrUnhandledEvent is returned for event types the checkout flow ignores.
	ErrUnhandledEvent = errors.New("unhandled stripe event")
)

// CustomerParams describes a Stripe customer to create.
type CustomerParams struct {
	Email          string
	Name           string
	BillingAddress *model.Address
}

// PaymentIntentParams describes a payment intent confirmed on creation.
type PaymentIntentParams struct {
	CheckoutID          string
	Amount              int64
	Currency            string
	CustomerID          string
	ConfirmationTokenID string
	ReturnURL           string
	// SaveForFutureUse keeps the payment method on the customer for renewals.
	SaveForFutureUse bool
}

// PaymentIntent is the subset of a Stripe payment intent stored on checkouts.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	CustomerID   string
	Amount       int64
}

// TaxParams describes an exclusive tax calculation for one line item.
type TaxParams struct {
	Reference string
	Amount    int64
	Currency  string
	Address   model.Address
	TaxID     *model.TaxID
}

// Event is a verified, normalized Stripe event.
type Event struct {
	ID         string
	Type       string
	CheckoutID string
	Intent     PaymentIntent
	Created    time.Time
}

// StripeClient talks to the Stripe API.
type StripeClient struct {
	api                 *client.API
	secretKey           string
	webhookSecret       string
	statementDescriptor string
	metrics             metrics.Recorder
	logger              *slog.Logger
}

// Option configures a StripeClient.
type Option func(*StripeClient)

// WithMetrics sets the recorder for API call latency.
func WithMetrics(m metrics.Recorder) Option {
	return func(c *StripeClient) { c.metrics = m }
}

// WithStatementDescriptor sets the descriptor shown on card statements.
func WithStatementDescriptor(d string) Option {
	return func(c *StripeClient) { c.statementDescriptor = d }
}

// WithBackends overrides the Stripe backends. Used by tests.
func WithBackends(b *stripe.Backends) Option {
	return func(c *StripeClient) { c.api.Init(c.secretKey, b) }
}

// NewStripeClient creates a client for secretKey that verifies webhooks with webhookSecret.
func NewStripeClient(secretKey, webhookSecret string, logger *slog.Logger, opts ...Option) *StripeClient {
	api := &client.API{}
	api.Init(secretKey, nil)

	c := &StripeClient{
		api:           api,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		metrics:       metrics.NewNoop(),
		logger:        logger.With("component", "stripe"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateCustomer creates a Stripe customer and returns its id.
func (c *StripeClient) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(p.Email),
	}
	params.Context = ctx
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	if p.BillingAddress != nil {
		params.Address = addressParams(*p.BillingAddress)
	}

	start := time.Now()
	cus, err := c.api.Customers.New(params)
	c.observe("customer.create", start, err)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cus.ID, nil
}

// CreatePaymentIntent creates and confirms a payment intent for a checkout.
// Requests are idempotent per checkout and confirmation token.
func (c *StripeClient) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:            stripe.Int64(p.Amount),
		Currency:          stripe.String(p.Currency),
		Customer:          stripe.String(p.CustomerID),
		ConfirmationToken: stripe.String(p.ConfirmationTokenID),
		Confirm:           stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata(MetadataCheckoutID, p.CheckoutID)
	params.SetIdempotencyKey("checkout_" + p.CheckoutID + "_" + p.ConfirmationTokenID)
	if p.ReturnURL != "" {
		params.ReturnURL = stripe.String(p.ReturnURL)
	}
	if c.statementDescriptor != "" {
		params.StatementDescriptorSuffix = stripe.String(c.statementDescriptor)
	}
	if p.SaveForFutureUse {
		params.SetupFutureUsage = stripe.String("off_session")
	}

	start := time.Now()
	pi, err := c.api.PaymentIntents.New(params)
	c.observe("payment_intent.create", start, err)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return toPaymentIntent(pi), nil
}

// CalculateTax returns the exclusive tax amount for p.
func (c *StripeClient) CalculateTax(ctx context.Context, p TaxParams) (int64, error) {
	params := &stripe.TaxCalculationParams{
		Currency: stripe.String(p.Currency),
		LineItems: []*stripe.TaxCalculationLineItemParams{{
			Amount:    stripe.Int64(p.Amount),
			Reference: stripe.String(p.Reference),
		}},
		CustomerDetails: &stripe.TaxCalculationCustomerDetailsParams{
			Address:       addressParams(p.Address),
			AddressSource: stripe.String("billing"),
		},
	}
	params.Context = ctx
	if p.TaxID != nil {
		params.CustomerDetails.TaxIDs = []*stripe.TaxCalculationCustomerDetailsTaxIDParams{{
			Type:  stripe.String(p.TaxID.Type),
			Value: stripe.String(p.TaxID.Value),
		}}
	}

	start := time.Now()
	calc, err := c.api.TaxCalculations.New(params)
	c.observe("tax_calculation.create", start, err)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == "customer_tax_location_invalid" {
			return 0, ErrInvalidTaxLocation
		}
		return 0, fmt.Errorf("calculate tax: %w", err)
	}
	return calc.TaxAmountExclusive, nil
}

// UserMessage returns the message of a Stripe error that may be shown to the
// customer, such as a card decline. Other errors yield a generic message.
func UserMessage(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard && stripeErr.Msg != "" {
		return stripeErr.Msg
	}
	return "Payment failed"
}

// ConstructEvent verifies a webhook payload and normalizes the event.
// Events the checkout flow does not handle return ErrUnhandledEvent.
func (c *StripeClient) ConstructEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ParseEvent(event)
}

// ParseEvent normalizes a payment intent event.
func ParseEvent(event stripe.Event) (*Event, error) {
	eventType := string(event.Type)
	if eventType != EventPaymentIntentSucceeded && eventType != EventPaymentIntentFailed {
		return &Event{ID: event.ID, Type: eventType}, ErrUnhandledEvent
	}
	if event.Data == nil {
		return nil, fmt.Errorf("stripe event %s has no data", event.ID)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}

	return &Event{
		ID:         event.ID,
		Type:       eventType,
		CheckoutID: pi.Metadata[MetadataCheckoutID],
		Intent:     *toPaymentIntent(&pi),
		Created:    time.Unix(event.Created, 0).UTC(),
	}, nil
}

func (c *StripeClient) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.logger.Warn("stripe_call_failed", "operation", operation, "error", err)
	}
	c.metrics.ObserveStripeCall(operation, status, time.Since(start))
}

func toPaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	return out
}

func addressParams(a model.Address) *stripe.AddressParams {
	p := &stripe.AddressParams{Country: stripe.String(a.Country)}
	if a.Line1 != "" {
		p.Line1 = stripe.String(a.Line1)
	}
	if a.Line2 != "" {
		p.Line2 = stripe.String(a.Line2)
	}
	if a.PostalCode != "" {
		p.PostalCode = stripe.String(a.PostalCode)
	}
	if a.City != "" {
		p.City = stripe.String(a.City)
	}
	if a.State != "" {
		p.State = stripe.String(a.State)
	}
	return p
}
