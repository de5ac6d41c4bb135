package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/checkoutd/checkoutd/internal/auth"
	"github.com/checkoutd/checkoutd/internal/metrics"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/payment"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/google/uuid"
)

// Limits on custom field data attached to a checkout.
const (
	maxCustomFields         = 50
	maxCustomFieldKeyLength = 40
)

// Keys stored in a checkout's payment processor metadata.
const (
	ProcessorMetadataCustomerID         = "customer_id"
	ProcessorMetadataIntentID           = "intent_id"
	ProcessorMetadataIntentClientSecret = "intent_client_secret"
	ProcessorMetadataIntentStatus       = "intent_status"
)

// CheckoutStore is the persistence the checkout service needs.
type CheckoutStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// AfterCommit defers fn until the outermost transaction on ctx commits.
	AfterCommit(ctx context.Context, fn func(ctx context.Context))

	CreateCheckout(ctx context.Context, c *model.Checkout) error
	GetCheckout(ctx context.Context, id string, lock bool) (*model.Checkout, error)
	GetCheckoutByClientSecret(ctx context.Context, clientSecret string, now time.Time, lock bool) (*model.Checkout, error)
	UpdateCheckout(ctx context.Context, c *model.Checkout) error
	ListCheckouts(ctx context.Context, filter repository.CheckoutFilter, page repository.Page) ([]*model.Checkout, int, error)
	ExpireOpenCheckouts(ctx context.Context, now time.Time) ([]string, error)

	GetProductPrice(ctx context.Context, id string) (*model.ProductPrice, *model.Product, error)
	ListProductPrices(ctx context.Context, productID string) ([]*model.ProductPrice, error)
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	GetOrganizationMember(ctx context.Context, orgID, userID string) (*model.OrganizationMember, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	GetOrCreateUser(ctx context.Context, user *model.User) (*model.User, error)
	SetUserStripeCustomerID(ctx context.Context, userID, customerID string) error

	CreateOrder(ctx context.Context, o *model.Order) error
	CreateSubscription(ctx context.Context, s *model.Subscription) error
	GetSubscription(ctx context.Context, id string, lock bool) (*model.Subscription, error)
	UpdateSubscription(ctx context.Context, s *model.Subscription) error
}

// PaymentProcessor is the external processor backing paid checkouts.
type PaymentProcessor interface {
	CreateCustomer(ctx context.Context, p payment.CustomerParams) (string, error)
	CreatePaymentIntent(ctx context.Context, p payment.PaymentIntentParams) (*payment.PaymentIntent, error)
	CalculateTax(ctx context.Context, p payment.TaxParams) (int64, error)
}

// CheckoutConfig holds the checkout settings taken from application config.
type CheckoutConfig struct {
	BaseURL            string
	TTL                time.Duration
	PlatformFeePercent int
	PlatformFeeFixed   int
}

// CheckoutService runs the checkout session lifecycle.
type CheckoutService struct {
	store     CheckoutStore
	processor PaymentProcessor
	events    EventPublisher
	cfg       CheckoutConfig
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(store CheckoutStore, processor PaymentProcessor, events EventPublisher, cfg CheckoutConfig, recorder metrics.Recorder, logger *slog.Logger) *CheckoutService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if events == nil {
		events = noopPublisher{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &CheckoutService{
		store:     store,
		processor: processor,
		events:    events,
		cfg:       cfg,
		metrics:   recorder,
		logger:    logger.With("component", "checkout"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// BaseURL returns the origin of the hosted checkout pages.
func (s *CheckoutService) BaseURL() string {
	return s.cfg.BaseURL
}

// CheckoutCreateInput defines input for creating a checkout.
type CheckoutCreateInput struct {
	ProductPriceID         string
	Amount                 *int64
	SubscriptionID         *string
	SuccessURL             *string
	EmbedOrigin            *string
	CustomerName           *string
	CustomerEmail          *string
	CustomerIPAddress      *string
	CustomerBillingAddress *model.Address
	CustomerTaxID          *string
	Metadata               map[string]string
	CustomFieldData        map[string]any
}

// CheckoutClientCreateInput defines input for a checkout opened from a
// public product page.
type CheckoutClientCreateInput struct {
	ProductPriceID    string
	Amount            *int64
	CustomerEmail     *string
	CustomerIPAddress *string
}

// CheckoutUpdateInput defines input for updating a checkout.
// Nil fields are left unchanged.
type CheckoutUpdateInput struct {
	ProductPriceID         *string
	Amount                 *int64
	CustomerName           *string
	CustomerEmail          *string
	CustomerIPAddress      *string
	CustomerBillingAddress *model.Address
	CustomerTaxID          *string
	Metadata               map[string]string
	CustomFieldData        map[string]any
	SuccessURL             *string
	EmbedOrigin            *string
}

// CheckoutUpdatePublicInput is the subset of updates a customer may make.
type CheckoutUpdatePublicInput struct {
	ProductPriceID         *string
	Amount                 *int64
	CustomerName           *string
	CustomerEmail          *string
	CustomerBillingAddress *model.Address
	CustomerTaxID          *string
	CustomFieldData        map[string]any
}

func (in CheckoutUpdatePublicInput) toUpdate() CheckoutUpdateInput {
	return CheckoutUpdateInput{
		ProductPriceID:         in.ProductPriceID,
		Amount:                 in.Amount,
		CustomerName:           in.CustomerName,
		CustomerEmail:          in.CustomerEmail,
		CustomerBillingAddress: in.CustomerBillingAddress,
		CustomerTaxID:          in.CustomerTaxID,
		CustomFieldData:        in.CustomFieldData,
	}
}

// CheckoutConfirmInput defines input for confirming a checkout.
type CheckoutConfirmInput struct {
	CheckoutUpdatePublicInput
	ConfirmationTokenID *string
}

// CheckoutListInput defines input for listing checkouts.
type CheckoutListInput struct {
	OrganizationID string
	ProductID      string
	Status         model.CheckoutStatus
	Page           repository.Page
}

// Create opens a checkout for a price of one of the caller's organizations.
func (s *CheckoutService) Create(ctx context.Context, ac *model.AuthContext, in CheckoutCreateInput) (*model.Checkout, error) {
	var (
		checkout *model.Checkout
		events   eventBuffer
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		s.publishAfterCommit(ctx, &events)
		price, product, err := s.loadPrice(ctx, in.ProductPriceID)
		if err != nil {
			return err
		}
		member, err := s.isMember(ctx, product.OrganizationID, ac.UserID)
		if err != nil {
			return err
		}
		if !member {
			return invalid("product_price_id", "Price does not exist.")
		}

		c, err := s.newCheckout(price, product, in.Amount)
		if err != nil {
			return err
		}

		if in.SubscriptionID != nil {
			if err := s.validateSubscriptionUpgrade(ctx, *in.SubscriptionID, price, product); err != nil {
				return err
			}
			c.SubscriptionID = in.SubscriptionID
		}
		if in.SuccessURL != nil {
			c.SuccessURL = *in.SuccessURL
		}
		c.EmbedOrigin = in.EmbedOrigin
		c.CustomerName = trimmedOrNil(in.CustomerName)
		c.CustomerEmail = trimmedOrNil(in.CustomerEmail)
		c.CustomerIPAddress = in.CustomerIPAddress
		c.CustomerBillingAddress = in.CustomerBillingAddress
		c.CustomerTaxID = trimmedOrNil(in.CustomerTaxID)
		if in.Metadata != nil {
			c.Metadata = maps.Clone(in.Metadata)
		}
		if in.CustomFieldData != nil {
			if err := validateCustomFieldData(in.CustomFieldData); err != nil {
				return err
			}
			c.CustomFieldData = maps.Clone(in.CustomFieldData)
		}

		if err := s.updateTax(ctx, c, product, false); err != nil {
			return err
		}
		if err := s.insert(ctx, c); err != nil {
			return err
		}
		checkout = c
		events.add(c.OrganizationID, model.EventTypeCheckoutCreated, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCheckoutCreated()
	s.logger.Info("checkout_created", "checkout_id", checkout.ID, "organization_id", checkout.OrganizationID)
	return s.withRelations(ctx, checkout)
}

// ClientCreate opens a checkout from a public product page.
func (s *CheckoutService) ClientCreate(ctx context.Context, in CheckoutClientCreateInput) (*model.Checkout, error) {
	var (
		checkout *model.Checkout
		events   eventBuffer
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		s.publishAfterCommit(ctx, &events)
		price, product, err := s.loadPrice(ctx, in.ProductPriceID)
		if err != nil {
			return err
		}
		c, err := s.newCheckout(price, product, in.Amount)
		if err != nil {
			return err
		}
		c.CustomerEmail = trimmedOrNil(in.CustomerEmail)
		c.CustomerIPAddress = in.CustomerIPAddress

		if err := s.updateTax(ctx, c, product, false); err != nil {
			return err
		}
		if err := s.insert(ctx, c); err != nil {
			return err
		}
		checkout = c
		events.add(c.OrganizationID, model.EventTypeCheckoutCreated, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncCheckoutCreated()
	return s.withRelations(ctx, checkout)
}

// Get returns a checkout of one of the caller's organizations.
func (s *CheckoutService) Get(ctx context.Context, ac *model.AuthContext, id string) (*model.Checkout, error) {
	c, err := s.store.GetCheckout(ctx, id, false)
	if err != nil {
		return nil, mapCheckoutErr(err)
	}
	member, err := s.isMember(ctx, c.OrganizationID, ac.UserID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrCheckoutNotFound
	}
	return s.withRelations(ctx, c)
}

// List returns checkouts of the caller's organizations.
func (s *CheckoutService) List(ctx context.Context, ac *model.AuthContext, in CheckoutListInput) ([]*model.Checkout, int, error) {
	filter := repository.CheckoutFilter{
		MemberUserID:   ac.UserID,
		OrganizationID: in.OrganizationID,
		ProductID:      in.ProductID,
		Status:         in.Status,
	}
	checkouts, total, err := s.store.ListCheckouts(ctx, filter, in.Page)
	if err != nil {
		return nil, 0, err
	}
	loader := newRelationLoader(s.store)
	for _, c := range checkouts {
		if err := loader.load(ctx, c); err != nil {
			return nil, 0, err
		}
	}
	return checkouts, total, nil
}

// ClientGet returns an unexpired checkout by its client secret.
func (s *CheckoutService) ClientGet(ctx context.Context, clientSecret string) (*model.Checkout, error) {
	c, err := s.store.GetCheckoutByClientSecret(ctx, clientSecret, s.now(), false)
	if err != nil {
		return nil, mapCheckoutErr(err)
	}
	return s.withRelations(ctx, c)
}

// Update modifies an open checkout of one of the caller's organizations.
func (s *CheckoutService) Update(ctx context.Context, ac *model.AuthContext, id string, in CheckoutUpdateInput) (*model.Checkout, error) {
	var (
		checkout *model.Checkout
		events   eventBuffer
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		s.publishAfterCommit(ctx, &events)
		c, err := s.store.GetCheckout(ctx, id, true)
		if err != nil {
			return mapCheckoutErr(err)
		}
		member, err := s.isMember(ctx, c.OrganizationID, ac.UserID)
		if err != nil {
			return err
		}
		if !member {
			return ErrCheckoutNotFound
		}

		if _, _, err := s.applyUpdate(ctx, c, in); err != nil {
			return err
		}
		if err := s.store.UpdateCheckout(ctx, c); err != nil {
			return fmt.Errorf("update checkout: %w", err)
		}
		checkout = c
		events.add(c.OrganizationID, model.EventTypeCheckoutUpdated, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.withRelations(ctx, checkout)
}

// ClientUpdate modifies an open checkout by its client secret.
func (s *CheckoutService) ClientUpdate(ctx context.Context, clientSecret string, in CheckoutUpdatePublicInput) (*model.Checkout, error) {
	var (
		checkout *model.Checkout
		events   eventBuffer
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		s.publishAfterCommit(ctx, &events)
		c, err := s.store.GetCheckoutByClientSecret(ctx, clientSecret, s.now(), true)
		if err != nil {
			return mapCheckoutErr(err)
		}
		if _, _, err := s.applyUpdate(ctx, c, in.toUpdate()); err != nil {
			return err
		}
		if err := s.store.UpdateCheckout(ctx, c); err != nil {
			return fmt.Errorf("update checkout: %w", err)
		}
		checkout = c
		events.add(c.OrganizationID, model.EventTypeCheckoutUpdated, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.withRelations(ctx, checkout)
}

// ClientConfirm applies the final customer input and starts the payment.
// Paid checkouts move to confirmed and wait for the processor outcome.
// Free checkouts succeed immediately.
func (s *CheckoutService) ClientConfirm(ctx context.Context, clientSecret string, in CheckoutConfirmInput) (*model.Checkout, error) {
	var (
		checkout *model.Checkout
		events   eventBuffer
	)
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		s.publishAfterCommit(ctx, &events)
		c, err := s.store.GetCheckoutByClientSecret(ctx, clientSecret, s.now(), true)
		if err != nil {
			return mapCheckoutErr(err)
		}
		price, product, err := s.applyUpdate(ctx, c, in.toUpdate())
		if err != nil {
			return err
		}
		if err := validateConfirmable(c, product, in.ConfirmationTokenID); err != nil {
			return err
		}

		user, err := s.store.GetOrCreateUser(ctx, &model.User{
			ID:        uuid.NewString(),
			Email:     *c.CustomerEmail,
			CreatedAt: s.now(),
		})
		if err != nil {
			return fmt.Errorf("resolve customer: %w", err)
		}
		c.CustomerID = &user.ID

		if c.IsPaymentRequired() {
			if err := s.startPayment(ctx, c, price, user, *in.ConfirmationTokenID); err != nil {
				return err
			}
		}
		if err := s.transition(c, model.CheckoutStatusConfirmed); err != nil {
			return err
		}
		if !c.IsPaymentRequired() {
			if err := s.transition(c, model.CheckoutStatusSucceeded); err != nil {
				return err
			}
			if err := s.fulfil(ctx, c, price, product, &events); err != nil {
				return err
			}
		}

		if err := s.store.UpdateCheckout(ctx, c); err != nil {
			return fmt.Errorf("update checkout: %w", err)
		}
		checkout = c
		events.add(c.OrganizationID, model.EventTypeCheckoutUpdated, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("checkout_confirmed", "checkout_id", checkout.ID, "status", checkout.Status)
	return s.withRelations(ctx, checkout)
}

// HandleStripeSuccess marks a confirmed checkout as paid and fulfils it.
func (s *CheckoutService) HandleStripeSuccess(ctx context.Context, checkoutID string, intent payment.PaymentIntent) error {
	var events eventBuffer
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		s.publishAfterCommit(ctx, &events)
		c, err := s.lockConfirmed(ctx, checkoutID)
		if err != nil {
			return err
		}
		price, product, err := s.store.GetProductPrice(ctx, c.ProductPriceID)
		if err != nil {
			return fmt.Errorf("load checkout price: %w", err)
		}

		c.SetProcessorMetadata(ProcessorMetadataIntentStatus, intent.Status)
		if err := s.transition(c, model.CheckoutStatusSucceeded); err != nil {
			return err
		}
		if err := s.fulfil(ctx, c, price, product, &events); err != nil {
			return err
		}
		if err := s.store.UpdateCheckout(ctx, c); err != nil {
			return fmt.Errorf("update checkout: %w", err)
		}
		events.add(c.OrganizationID, model.EventTypeCheckoutUpdated, c)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("checkout_succeeded", "checkout_id", checkoutID, "intent_id", intent.ID)
	return nil
}

// HandleStripeFailure marks a confirmed checkout as failed.
func (s *CheckoutService) HandleStripeFailure(ctx context.Context, checkoutID string, intent payment.PaymentIntent) error {
	var events eventBuffer
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		s.publishAfterCommit(ctx, &events)
		c, err := s.lockConfirmed(ctx, checkoutID)
		if err != nil {
			return err
		}
		c.SetProcessorMetadata(ProcessorMetadataIntentStatus, intent.Status)
		if err := s.transition(c, model.CheckoutStatusFailed); err != nil {
			return err
		}
		if err := s.store.UpdateCheckout(ctx, c); err != nil {
			return fmt.Errorf("update checkout: %w", err)
		}
		events.add(c.OrganizationID, model.EventTypeCheckoutUpdated, c)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("checkout_failed", "checkout_id", checkoutID, "intent_id", intent.ID)
	return nil
}

// ExpireOpenCheckouts expires every open checkout past its deadline and
// returns how many were expired.
func (s *CheckoutService) ExpireOpenCheckouts(ctx context.Context) (int, error) {
	ids, err := s.store.ExpireOpenCheckouts(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.metrics.IncCheckoutsExpired(len(ids))
		s.logger.Info("checkouts_expired", "count", len(ids))
	}
	return len(ids), nil
}

func (s *CheckoutService) loadPrice(ctx context.Context, priceID string) (*model.ProductPrice, *model.Product, error) {
	price, product, err := s.store.GetProductPrice(ctx, priceID)
	if err != nil {
		if errors.Is(err, repository.ErrPriceNotFound) {
			return nil, nil, invalid("product_price_id", "Price does not exist.")
		}
		return nil, nil, fmt.Errorf("load price: %w", err)
	}
	if price.IsArchived || product.IsArchived {
		return nil, nil, invalid("product_price_id", "Price is archived.")
	}
	return price, product, nil
}

func (s *CheckoutService) isMember(ctx context.Context, orgID, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	_, err := s.store.GetOrganizationMember(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

func (s *CheckoutService) newCheckout(price *model.ProductPrice, product *model.Product, requested *int64) (*model.Checkout, error) {
	amount, currency, err := resolveAmount(price, requested)
	if err != nil {
		return nil, err
	}
	secret, err := auth.GenerateToken(auth.TokenPrefixCheckoutClientSecret)
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &model.Checkout{
		ID:               uuid.NewString(),
		PaymentProcessor: model.PaymentProcessorStripe,
		Status:           model.CheckoutStatusOpen,
		ClientSecret:     secret,
		ExpiresAt:        now.Add(s.cfg.TTL),
		SuccessURL:       s.cfg.BaseURL + "/checkout/" + model.CheckoutIDPlaceholder + "/confirmation",
		Amount:           amount,
		Currency:         currency,
		ProductID:        product.ID,
		ProductPriceID:   price.ID,
		OrganizationID:   product.OrganizationID,
		Metadata:         map[string]string{},
		CustomFieldData:  map[string]any{},
		CreatedAt:        now,
	}, nil
}

func (s *CheckoutService) insert(ctx context.Context, c *model.Checkout) error {
	if err := s.store.CreateCheckout(ctx, c); err != nil {
		return fmt.Errorf("create checkout: %w", err)
	}
	return nil
}

// validateSubscriptionUpgrade checks that a checkout may upgrade subscriptionID.
func (s *CheckoutService) validateSubscriptionUpgrade(ctx context.Context, subscriptionID string, price *model.ProductPrice, product *model.Product) error {
	if !price.IsRecurring() {
		return invalid("subscription_id", "Only recurring prices can upgrade a subscription.")
	}
	sub, err := s.store.GetSubscription(ctx, subscriptionID, false)
	if err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return invalid("subscription_id", "Subscription does not exist.")
		}
		return fmt.Errorf("load subscription: %w", err)
	}
	if sub.OrganizationID != product.OrganizationID {
		return invalid("subscription_id", "Subscription does not exist.")
	}
	subPrice, _, err := s.store.GetProductPrice(ctx, sub.PriceID)
	if err != nil {
		return fmt.Errorf("load subscription price: %w", err)
	}
	if subPrice.AmountType != model.PriceAmountTypeFree {
		return invalid("subscription_id", "Only free subscriptions can be upgraded.")
	}
	return nil
}

// applyUpdate mutates c with in and recomputes tax. It returns the
// checkout's resulting price and product.
func (s *CheckoutService) applyUpdate(ctx context.Context, c *model.Checkout, in CheckoutUpdateInput) (*model.ProductPrice, *model.Product, error) {
	if c.Status != model.CheckoutStatusOpen {
		return nil, nil, ErrNotOpenCheckout
	}
	if c.IsExpired(s.now()) {
		return nil, nil, ErrExpiredCheckout
	}

	price, product, err := s.store.GetProductPrice(ctx, c.ProductPriceID)
	if err != nil {
		return nil, nil, fmt.Errorf("load checkout price: %w", err)
	}

	if in.ProductPriceID != nil && *in.ProductPriceID != c.ProductPriceID {
		newPrice, newProduct, err := s.store.GetProductPrice(ctx, *in.ProductPriceID)
		if err != nil && !errors.Is(err, repository.ErrPriceNotFound) {
			return nil, nil, fmt.Errorf("load price: %w", err)
		}
		if err != nil || newPrice.IsArchived || newPrice.ProductID != c.ProductID {
			return nil, nil, invalid("product_price_id", "Price does not belong to the product.")
		}
		amount, currency, err := resolveAmount(newPrice, in.Amount)
		if err != nil {
			return nil, nil, err
		}
		price, product = newPrice, newProduct
		c.ProductPriceID = price.ID
		c.Amount, c.Currency = amount, currency
	} else if in.Amount != nil && price.AmountType == model.PriceAmountTypeCustom {
		if err := validateCustomAmount(price, *in.Amount); err != nil {
			return nil, nil, err
		}
		amount := *in.Amount
		c.Amount = &amount
	}

	if in.CustomerName != nil {
		c.CustomerName = trimmedOrNil(in.CustomerName)
	}
	if in.CustomerEmail != nil {
		c.CustomerEmail = trimmedOrNil(in.CustomerEmail)
	}
	if in.CustomerIPAddress != nil {
		c.CustomerIPAddress = in.CustomerIPAddress
	}
	if in.CustomerBillingAddress != nil {
		c.CustomerBillingAddress = in.CustomerBillingAddress
	}
	if in.CustomerTaxID != nil {
		c.CustomerTaxID = trimmedOrNil(in.CustomerTaxID)
	}
	if in.Metadata != nil {
		c.Metadata = maps.Clone(in.Metadata)
	}
	if in.CustomFieldData != nil {
		if err := validateCustomFieldData(in.CustomFieldData); err != nil {
			return nil, nil, err
		}
		c.CustomFieldData = maps.Clone(in.CustomFieldData)
	}
	if in.SuccessURL != nil {
		c.SuccessURL = *in.SuccessURL
	}
	if in.EmbedOrigin != nil {
		c.EmbedOrigin = in.EmbedOrigin
	}

	if err := s.updateTax(ctx, c, product, true); err != nil {
		return nil, nil, err
	}
	return price, product, nil
}

// updateTax recomputes the tax of c. Non-strict callers tolerate an address
// Stripe cannot locate and leave the tax unknown.
func (s *CheckoutService) updateTax(ctx context.Context, c *model.Checkout, product *model.Product, strict bool) error {
	c.TaxAmount = nil
	if !c.IsPaymentRequired() {
		return nil
	}
	if !product.IsTaxApplicable {
		zero := int64(0)
		c.TaxAmount = &zero
		return nil
	}
	if c.CustomerBillingAddress == nil {
		return nil
	}

	var taxID *model.TaxID
	if c.CustomerTaxID != nil {
		parsed, err := model.ParseTaxID(*c.CustomerTaxID, c.CustomerBillingAddress.Country)
		if err != nil {
			return invalid("customer_tax_id", "Invalid tax ID.")
		}
		taxID = parsed
	}

	tax, err := s.processor.CalculateTax(ctx, payment.TaxParams{
		Reference: c.ID,
		Amount:    *c.Amount,
		Currency:  deref(c.Currency),
		Address:   *c.CustomerBillingAddress,
		TaxID:     taxID,
	})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidTaxLocation) {
			if strict {
				return invalid("customer_billing_address", "Invalid billing address.")
			}
			return nil
		}
		return fmt.Errorf("calculate tax: %w", err)
	}
	c.TaxAmount = &tax
	return nil
}

func validateConfirmable(c *model.Checkout, product *model.Product, confirmationTokenID *string) error {
	var errs ValidationError
	required := func(field string, missing bool) {
		if missing {
			errs = append(errs, FieldError{Field: field, Message: "Field is required."})
		}
	}

	required("customer_email", c.CustomerEmail == nil)
	if c.IsPaymentRequired() {
		required("customer_name", c.CustomerName == nil)
		required("customer_billing_address", c.CustomerBillingAddress == nil)
		required("confirmation_token_id", confirmationTokenID == nil || *confirmationTokenID == "")
		if product.IsTaxApplicable && c.CustomerBillingAddress != nil && c.TaxAmount == nil {
			errs = append(errs, FieldError{Field: "customer_billing_address", Message: "Invalid billing address."})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// startPayment creates the Stripe customer if needed and confirms a payment
// intent for the checkout total.
func (s *CheckoutService) startPayment(ctx context.Context, c *model.Checkout, price *model.ProductPrice, user *model.User, confirmationTokenID string) error {
	customerID := deref(user.StripeCustomerID)
	if customerID == "" {
		id, err := s.processor.CreateCustomer(ctx, payment.CustomerParams{
			Email:          user.Email,
			Name:           deref(c.CustomerName),
			BillingAddress: c.CustomerBillingAddress,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPaymentError, err)
		}
		if err := s.store.SetUserStripeCustomerID(ctx, user.ID, id); err != nil {
			return fmt.Errorf("store stripe customer: %w", err)
		}
		customerID = id
	}

	intent, err := s.processor.CreatePaymentIntent(ctx, payment.PaymentIntentParams{
		CheckoutID:          c.ID,
		Amount:              *c.TotalAmount(),
		Currency:            deref(c.Currency),
		CustomerID:          customerID,
		ConfirmationTokenID: confirmationTokenID,
		ReturnURL:           c.ResolvedSuccessURL(),
		SaveForFutureUse:    price.IsRecurring(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPaymentError, err)
	}

	c.SetProcessorMetadata(ProcessorMetadataCustomerID, customerID)
	c.SetProcessorMetadata(ProcessorMetadataIntentID, intent.ID)
	c.SetProcessorMetadata(ProcessorMetadataIntentClientSecret, intent.ClientSecret)
	c.SetProcessorMetadata(ProcessorMetadataIntentStatus, intent.Status)
	return nil
}

func (s *CheckoutService) lockConfirmed(ctx context.Context, checkoutID string) (*model.Checkout, error) {
	c, err := s.store.GetCheckout(ctx, checkoutID, true)
	if err != nil {
		return nil, mapCheckoutErr(err)
	}
	if c.Status != model.CheckoutStatusConfirmed {
		return nil, ErrNotConfirmedCheckout
	}
	return c, nil
}

func (s *CheckoutService) transition(c *model.Checkout, to model.CheckoutStatus) error {
	if !c.Status.CanTransition(to) {
		return fmt.Errorf("checkout %s cannot move from %s to %s", c.ID, c.Status, to)
	}
	c.Status = to
	s.metrics.IncCheckoutTransition(string(to))
	return nil
}

// fulfil records the order for a succeeded checkout and creates or upgrades
// the subscription of recurring prices.
func (s *CheckoutService) fulfil(ctx context.Context, c *model.Checkout, price *model.ProductPrice, product *model.Product, events *eventBuffer) error {
	if c.CustomerID == nil {
		return fmt.Errorf("checkout %s has no customer", c.ID)
	}
	org, err := s.store.GetOrganization(ctx, c.OrganizationID)
	if err != nil {
		return fmt.Errorf("load organization: %w", err)
	}
	var account *model.Account
	if org.AccountID != nil {
		account, err = s.store.GetAccount(ctx, *org.AccountID)
		if err != nil && !errors.Is(err, repository.ErrAccountNotFound) {
			return fmt.Errorf("load account: %w", err)
		}
	}

	now := s.now()
	amount := deref(c.Amount)
	currency := price.PriceCurrency
	if c.Currency != nil {
		currency = *c.Currency
	}
	percent, fixed := account.PlatformFee(s.cfg.PlatformFeePercent, s.cfg.PlatformFeeFixed)

	order := &model.Order{
		ID:                uuid.NewString(),
		Amount:            amount,
		TaxAmount:         deref(c.TaxAmount),
		PlatformFeeAmount: model.PlatformFeeAmount(amount, percent, fixed),
		Currency:          currency,
		BillingReason:     model.OrderBillingReasonPurchase,
		UserID:            *c.CustomerID,
		ProductID:         product.ID,
		ProductPriceID:    price.ID,
		CheckoutID:        &c.ID,
		Metadata:          maps.Clone(c.Metadata),
		CreatedAt:         now,
	}
	if intentID, ok := c.PaymentProcessorMetadata[ProcessorMetadataIntentID]; ok {
		order.StripePaymentIntentID = &intentID
	}

	if price.IsRecurring() {
		sub, created, err := s.upsertSubscription(ctx, c, price, product, now)
		if err != nil {
			return err
		}
		order.SubscriptionID = &sub.ID
		if created {
			order.BillingReason = model.OrderBillingReasonSubscriptionCreate
			events.add(c.OrganizationID, model.EventTypeSubscriptionCreated, sub)
		} else {
			order.BillingReason = model.OrderBillingReasonSubscriptionUpdate
			events.add(c.OrganizationID, model.EventTypeSubscriptionUpdated, sub)
		}
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	events.add(c.OrganizationID, model.EventTypeOrderCreated, order)
	return nil
}

func (s *CheckoutService) upsertSubscription(ctx context.Context, c *model.Checkout, price *model.ProductPrice, product *model.Product, now time.Time) (*model.Subscription, bool, error) {
	interval := model.RecurringIntervalMonth
	if price.RecurringInterval != nil {
		interval = *price.RecurringInterval
	}
	periodEnd := interval.Next(now)

	if c.SubscriptionID != nil {
		sub, err := s.store.GetSubscription(ctx, *c.SubscriptionID, true)
		if err != nil {
			return nil, false, fmt.Errorf("load subscription: %w", err)
		}
		sub.ProductID = product.ID
		sub.PriceID = price.ID
		sub.Amount = c.Amount
		sub.Currency = c.Currency
		sub.RecurringInterval = interval
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = &periodEnd
		sub.MergeMetadata(c.Metadata)
		if err := s.store.UpdateSubscription(ctx, sub); err != nil {
			return nil, false, fmt.Errorf("upgrade subscription: %w", err)
		}
		return sub, false, nil
	}

	sub := &model.Subscription{
		ID:                 uuid.NewString(),
		Status:             model.SubscriptionStatusActive,
		Amount:             c.Amount,
		Currency:           c.Currency,
		RecurringInterval:  interval,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   &periodEnd,
		StartedAt:          &now,
		UserID:             *c.CustomerID,
		OrganizationID:     c.OrganizationID,
		ProductID:          product.ID,
		PriceID:            price.ID,
		CheckoutID:         &c.ID,
		Metadata:           maps.Clone(c.Metadata),
		CreatedAt:          now,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, false, fmt.Errorf("create subscription: %w", err)
	}
	return sub, true, nil
}

// resolveAmount derives the checkout amount and currency from a price.
// Free prices have neither.
// withRelations loads the product, price and organization rendered with c.
func (s *CheckoutService) withRelations(ctx context.Context, c *model.Checkout) (*model.Checkout, error) {
	if err := newRelationLoader(s.store).load(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// relationLoader fills checkout relations, reusing what earlier checkouts
// of the same batch loaded.
type relationLoader struct {
	store    CheckoutStore
	products map[string]*model.Product
	orgs     map[string]*model.Organization
}

func newRelationLoader(store CheckoutStore) *relationLoader {
	return &relationLoader{
		store:    store,
		products: map[string]*model.Product{},
		orgs:     map[string]*model.Organization{},
	}
}

func (l *relationLoader) load(ctx context.Context, c *model.Checkout) error {
	product, ok := l.products[c.ProductID]
	var selected *model.ProductPrice
	if !ok {
		price, p, err := l.store.GetProductPrice(ctx, c.ProductPriceID)
		if err != nil {
			return fmt.Errorf("load checkout price: %w", err)
		}
		if p.Prices, err = l.store.ListProductPrices(ctx, p.ID); err != nil {
			return fmt.Errorf("load product prices: %w", err)
		}
		product, selected = p, price
		l.products[product.ID] = product
	}
	if selected == nil {
		for _, price := range product.Prices {
			if price.ID == c.ProductPriceID {
				selected = price
				break
			}
		}
	}
	if selected == nil {
		// Archived prices are not listed on the product.
		price, _, err := l.store.GetProductPrice(ctx, c.ProductPriceID)
		if err != nil {
			return fmt.Errorf("load checkout price: %w", err)
		}
		selected = price
	}

	org, ok := l.orgs[c.OrganizationID]
	if !ok {
		var err error
		if org, err = l.store.GetOrganization(ctx, c.OrganizationID); err != nil {
			return fmt.Errorf("load checkout organization: %w", err)
		}
		l.orgs[org.ID] = org
	}

	c.Product, c.ProductPrice, c.Organization = product, selected, org
	return nil
}

// validateCustomFieldData accepts flat JSON objects with scalar values.
func validateCustomFieldData(data map[string]any) error {
	if len(data) > maxCustomFields {
		return invalid("custom_field_data", fmt.Sprintf("At most %d custom fields are allowed.", maxCustomFields))
	}
	for key, value := range data {
		if key == "" || len(key) > maxCustomFieldKeyLength {
			return invalid("custom_field_data", fmt.Sprintf("Custom field keys must be 1 to %d characters.", maxCustomFieldKeyLength))
		}
		switch value.(type) {
		case nil, string, bool, float64, int, int64:
		default:
			return invalid("custom_field_data", fmt.Sprintf("Custom field %q must be a string, number, boolean or null.", key))
		}
	}
	return nil
}

func resolveAmount(price *model.ProductPrice, requested *int64) (*int64, *string, error) {
	currency := price.PriceCurrency
	switch price.AmountType {
	case model.PriceAmountTypeFixed:
		amount := deref(price.PriceAmount)
		return &amount, &currency, nil
	case model.PriceAmountTypeCustom:
		amount := price.DefaultCustomAmount()
		if requested != nil {
			amount = *requested
		}
		if err := validateCustomAmount(price, amount); err != nil {
			return nil, nil, err
		}
		return &amount, &currency, nil
	default:
		return nil, nil, nil
	}
}

func validateCustomAmount(price *model.ProductPrice, amount int64) error {
	minimum, maximum := price.CustomAmountBounds()
	if amount < minimum || amount > maximum {
		return invalid("amount", fmt.Sprintf("Amount must be between %d and %d.", minimum, maximum))
	}
	return nil
}

func mapCheckoutErr(err error) error {
	if errors.Is(err, repository.ErrCheckoutNotFound) {
		return ErrCheckoutNotFound
	}
	return err
}
