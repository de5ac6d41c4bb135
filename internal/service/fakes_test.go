package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/payment"
	"github.com/checkoutd/checkoutd/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory store. WithTx snapshots checkouts, orders and
// authorization codes and restores them when fn fails so rollback behavior
// can be asserted. Nested WithTx
// calls join the outer one and AfterCommit hooks run only when the
// outermost call succeeds, as with the Postgres repository.
type fakeStore struct {
	mu sync.Mutex

	checkouts     map[string]*model.Checkout
	prices        map[string]*model.ProductPrice
	products      map[string]*model.Product
	orgs          map[string]*model.Organization
	members       map[string]*model.OrganizationMember
	accounts      map[string]*model.Account
	users         map[string]*model.User
	orders        []*model.Order
	subscriptions map[string]*model.Subscription
	repos         map[string]*model.ExternalRepository

	clients map[string]*model.OAuth2Client
	codes   map[string]*model.OAuth2AuthorizationCode
	tokens  map[string]*model.OAuth2Token
	grants  map[string]*model.OAuth2Grant

	customerIDSets int
	updatedRepos   []*model.ExternalRepository
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		checkouts:     make(map[string]*model.Checkout),
		prices:        make(map[string]*model.ProductPrice),
		products:      make(map[string]*model.Product),
		orgs:          make(map[string]*model.Organization),
		members:       make(map[string]*model.OrganizationMember),
		accounts:      make(map[string]*model.Account),
		users:         make(map[string]*model.User),
		subscriptions: make(map[string]*model.Subscription),
		repos:         make(map[string]*model.ExternalRepository),
		clients:       make(map[string]*model.OAuth2Client),
		codes:         make(map[string]*model.OAuth2AuthorizationCode),
		tokens:        make(map[string]*model.OAuth2Token),
		grants:        make(map[string]*model.OAuth2Grant),
	}
}

type fakeTxKey struct{}

type fakeTx struct {
	afterCommit []func(ctx context.Context)
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(fakeTxKey{}).(*fakeTx); ok {
		return fn(ctx)
	}

	f.mu.Lock()
	snapshot := make(map[string]model.Checkout, len(f.checkouts))
	for id, c := range f.checkouts {
		snapshot[id] = *c
	}
	orders := len(f.orders)
	codes := maps.Clone(f.codes)
	f.mu.Unlock()

	tx := &fakeTx{}
	if err := fn(context.WithValue(ctx, fakeTxKey{}, tx)); err != nil {
		f.mu.Lock()
		f.checkouts = make(map[string]*model.Checkout, len(snapshot))
		for id, c := range snapshot {
			c := c
			f.checkouts[id] = &c
		}
		f.orders = f.orders[:orders]
		f.codes = codes
		f.mu.Unlock()
		return err
	}
	for _, hook := range tx.afterCommit {
		hook(ctx)
	}
	return nil
}

func (f *fakeStore) AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if tx, ok := ctx.Value(fakeTxKey{}).(*fakeTx); ok {
		tx.afterCommit = append(tx.afterCommit, fn)
		return
	}
	fn(ctx)
}

func memberKey(orgID, userID string) string { return orgID + "/" + userID }

func (f *fakeStore) addMember(orgID, userID string, admin bool) {
	f.members[memberKey(orgID, userID)] = &model.OrganizationMember{OrganizationID: orgID, UserID: userID, IsAdmin: admin}
}

// Checkouts

func (f *fakeStore) CreateCheckout(_ context.Context, c *model.Checkout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.checkouts[c.ID] = &cp
	return nil
}

func (f *fakeStore) GetCheckout(_ context.Context, id string, _ bool) (*model.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.checkouts[id]
	if !ok {
		return nil, repository.ErrCheckoutNotFound
	}
	cp := *c
	cp.PaymentProcessorMetadata = maps.Clone(c.PaymentProcessorMetadata)
	return &cp, nil
}

func (f *fakeStore) GetCheckoutByClientSecret(_ context.Context, secret string, now time.Time, _ bool) (*model.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.checkouts {
		if c.ClientSecret == secret && c.ExpiresAt.After(now) {
			cp := *c
			cp.PaymentProcessorMetadata = maps.Clone(c.PaymentProcessorMetadata)
			return &cp, nil
		}
	}
	return nil, repository.ErrCheckoutNotFound
}

func (f *fakeStore) UpdateCheckout(_ context.Context, c *model.Checkout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.checkouts[c.ID]; !ok {
		return repository.ErrCheckoutNotFound
	}
	cp := *c
	f.checkouts[c.ID] = &cp
	return nil
}

func (f *fakeStore) ListCheckouts(_ context.Context, filter repository.CheckoutFilter, page repository.Page) ([]*model.Checkout, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Checkout
	for _, c := range f.checkouts {
		if filter.MemberUserID != "" {
			if _, ok := f.members[memberKey(c.OrganizationID, filter.MemberUserID)]; !ok {
				continue
			}
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

func (f *fakeStore) ExpireOpenCheckouts(_ context.Context, now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, c := range f.checkouts {
		if c.Status == model.CheckoutStatusOpen && !c.ExpiresAt.After(now) {
			c.Status = model.CheckoutStatusExpired
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Catalog and tenants

func (f *fakeStore) GetProductPrice(_ context.Context, id string) (*model.ProductPrice, *model.Product, error) {
	price, ok := f.prices[id]
	if !ok {
		return nil, nil, repository.ErrPriceNotFound
	}
	product := *f.products[price.ProductID]
	return price, &product, nil
}

func (f *fakeStore) ListProductPrices(_ context.Context, productID string) ([]*model.ProductPrice, error) {
	var out []*model.ProductPrice
	for _, p := range f.prices {
		if p.ProductID == productID && !p.IsArchived {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *model.ProductPrice) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (f *fakeStore) GetOrganization(_ context.Context, id string) (*model.Organization, error) {
	org, ok := f.orgs[id]
	if !ok {
		return nil, repository.ErrOrganizationNotFound
	}
	cp := *org
	return &cp, nil
}

func (f *fakeStore) GetOrganizationByName(_ context.Context, platform model.Platform, name string) (*model.Organization, error) {
	for _, org := range f.orgs {
		if org.Platform == platform && org.Name == name {
			cp := *org
			return &cp, nil
		}
	}
	return nil, repository.ErrOrganizationNotFound
}

func (f *fakeStore) ListOrganizations(_ context.Context, filter repository.OrganizationFilter, _ repository.Page) ([]*model.Organization, int, error) {
	var out []*model.Organization
	for _, org := range f.orgs {
		m, ok := f.members[memberKey(org.ID, filter.MemberUserID)]
		if !ok || (filter.AdminOnly && !m.IsAdmin) {
			continue
		}
		out = append(out, org)
	}
	return out, len(out), nil
}

func (f *fakeStore) UpdateOrganization(_ context.Context, org *model.Organization) error {
	if _, ok := f.orgs[org.ID]; !ok {
		return repository.ErrOrganizationNotFound
	}
	cp := *org
	f.orgs[org.ID] = &cp
	return nil
}

func (f *fakeStore) GetOrganizationMember(_ context.Context, orgID, userID string) (*model.OrganizationMember, error) {
	m, ok := f.members[memberKey(orgID, userID)]
	if !ok {
		return nil, repository.ErrMemberNotFound
	}
	return m, nil
}

func (f *fakeStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return a, nil
}

func (f *fakeStore) ListRepositoriesByOrganization(_ context.Context, orgID string) ([]*model.ExternalRepository, error) {
	var out []*model.ExternalRepository
	for _, r := range f.repos {
		if r.OrganizationID == orgID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b *model.ExternalRepository) int {
		if a.Name < b.Name {
			return -1
		}
		return 1
	})
	return out, nil
}

func (f *fakeStore) ListRepositoriesByIDs(_ context.Context, orgID string, ids []string) ([]*model.ExternalRepository, error) {
	var out []*model.ExternalRepository
	for _, id := range ids {
		if r, ok := f.repos[id]; ok && r.OrganizationID == orgID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateRepositoryBadgeSettings(_ context.Context, repos []*model.ExternalRepository) error {
	for _, r := range repos {
		cp := *r
		f.repos[r.ID] = &cp
	}
	f.updatedRepos = repos
	return nil
}

// Users, orders, subscriptions

func (f *fakeStore) GetOrCreateUser(_ context.Context, user *model.User) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return u, nil
		}
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) SetUserStripeCustomerID(_ context.Context, userID, customerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.StripeCustomerID = &customerID
	f.customerIDSets++
	return nil
}

func (f *fakeStore) CreateOrder(_ context.Context, o *model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.orders {
		if existing.CheckoutID != nil && o.CheckoutID != nil && *existing.CheckoutID == *o.CheckoutID {
			return repository.ErrOrderExists
		}
	}
	f.orders = append(f.orders, o)
	return nil
}

func (f *fakeStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	for _, o := range f.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (f *fakeStore) ListOrders(_ context.Context, filter repository.OrderFilter, _ repository.Page) ([]*model.Order, int, error) {
	var out []*model.Order
	for _, o := range f.orders {
		if o.UserID != filter.UserID || (filter.ProductID != "" && o.ProductID != filter.ProductID) {
			continue
		}
		out = append(out, o)
	}
	return out, len(out), nil
}

func (f *fakeStore) CreateSubscription(_ context.Context, s *model.Subscription) error {
	cp := *s
	f.subscriptions[s.ID] = &cp
	return nil
}

func (f *fakeStore) GetSubscription(_ context.Context, id string, _ bool) (*model.Subscription, error) {
	s, ok := f.subscriptions[id]
	if !ok {
		return nil, repository.ErrSubscriptionNotFound
	}
	cp := *s
	cp.Metadata = maps.Clone(s.Metadata)
	return &cp, nil
}

func (f *fakeStore) UpdateSubscription(_ context.Context, s *model.Subscription) error {
	cp := *s
	f.subscriptions[s.ID] = &cp
	return nil
}

// OAuth2

func (f *fakeStore) CreateOAuth2Client(_ context.Context, c *model.OAuth2Client) error {
	f.clients[c.ClientID] = c
	return nil
}

func (f *fakeStore) GetOAuth2Client(_ context.Context, clientID string) (*model.OAuth2Client, error) {
	c, ok := f.clients[clientID]
	if !ok || c.DeletedAt != nil {
		return nil, repository.ErrOAuth2ClientNotFound
	}
	return c, nil
}

func (f *fakeStore) ListOAuth2Clients(_ context.Context, userID string, _ repository.Page) ([]*model.OAuth2Client, int, error) {
	var out []*model.OAuth2Client
	for _, c := range f.clients {
		if c.UserID == userID && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (f *fakeStore) DeleteOAuth2Client(_ context.Context, userID, clientID string) error {
	c, ok := f.clients[clientID]
	if !ok || c.UserID != userID || c.DeletedAt != nil {
		return repository.ErrOAuth2ClientNotFound
	}
	now := time.Now()
	c.DeletedAt = &now
	for _, t := range f.tokens {
		if t.ClientID == clientID {
			t.AccessTokenRevokedAt = &now
			t.RefreshTokenRevokedAt = &now
		}
	}
	return nil
}

func (f *fakeStore) CreateOAuth2AuthorizationCode(_ context.Context, c *model.OAuth2AuthorizationCode) error {
	f.codes[c.CodeHash] = c
	return nil
}

func (f *fakeStore) ConsumeOAuth2AuthorizationCode(_ context.Context, hash string) (*model.OAuth2AuthorizationCode, error) {
	c, ok := f.codes[hash]
	if !ok {
		return nil, repository.ErrOAuth2CodeNotFound
	}
	delete(f.codes, hash)
	return c, nil
}

func (f *fakeStore) CreateOAuth2Token(_ context.Context, t *model.OAuth2Token) error {
	f.tokens[t.ID] = t
	return nil
}

func (f *fakeStore) GetOAuth2TokenByAccessHash(_ context.Context, hash string) (*model.OAuth2Token, error) {
	for _, t := range f.tokens {
		if t.AccessTokenHash == hash {
			return t, nil
		}
	}
	return nil, repository.ErrOAuth2TokenNotFound
}

func (f *fakeStore) GetOAuth2TokenByRefreshHash(_ context.Context, hash string) (*model.OAuth2Token, error) {
	for _, t := range f.tokens {
		if t.RefreshTokenHash != nil && *t.RefreshTokenHash == hash {
			return t, nil
		}
	}
	return nil, repository.ErrOAuth2TokenNotFound
}

func (f *fakeStore) RevokeOAuth2Token(_ context.Context, id string, at time.Time) error {
	t, ok := f.tokens[id]
	if !ok {
		return repository.ErrOAuth2TokenNotFound
	}
	if t.AccessTokenRevokedAt == nil {
		t.AccessTokenRevokedAt = &at
	}
	if t.RefreshTokenRevokedAt == nil {
		t.RefreshTokenRevokedAt = &at
	}
	return nil
}

func (f *fakeStore) UpsertOAuth2Grant(_ context.Context, g *model.OAuth2Grant) error {
	f.grants[g.ClientID+"/"+g.UserID] = g
	return nil
}

// fakeProcessor records payment processor calls.
type fakeProcessor struct {
	mu sync.Mutex

	tax       int64
	taxErr    error
	intentErr error

	customers []payment.CustomerParams
	intents   []payment.PaymentIntentParams
	taxCalls  []payment.TaxParams
}

func (p *fakeProcessor) CreateCustomer(_ context.Context, params payment.CustomerParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers = append(p.customers, params)
	return "cus_test", nil
}

func (p *fakeProcessor) CreatePaymentIntent(_ context.Context, params payment.PaymentIntentParams) (*payment.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.intentErr != nil {
		return nil, p.intentErr
	}
	p.intents = append(p.intents, params)
	return &payment.PaymentIntent{
		ID:           "pi_test",
		ClientSecret: "pi_test_secret",
		Status:       "processing",
		CustomerID:   params.CustomerID,
		Amount:       params.Amount,
	}, nil
}

func (p *fakeProcessor) CalculateTax(_ context.Context, params payment.TaxParams) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.taxCalls = append(p.taxCalls, params)
	if p.taxErr != nil {
		return 0, p.taxErr
	}
	return p.tax, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []model.EventType
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, et model.EventType, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, et)
	return p.err
}

var errBoom = errors.New("boom")
