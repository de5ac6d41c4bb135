package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkoutd/checkoutd/internal/handler/dto"
	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/checkoutd/checkoutd/internal/service"
)

type fakeOrganizations struct {
	org       *model.Organization
	err       error
	adminOnly bool
	platform  model.Platform
	name      string
	updateIn  service.OrganizationUpdateInput
	badgeIn   service.BadgeSettingsUpdateInput
}

func (f *fakeOrganizations) List(_ context.Context, _ *model.AuthContext, adminOnly bool, _ repository.Page) ([]*model.Organization, int, error) {
	f.adminOnly = adminOnly
	return []*model.Organization{f.org}, 1, f.err
}

func (f *fakeOrganizations) Search(_ context.Context, platform model.Platform, name string) ([]*model.Organization, error) {
	f.platform, f.name = platform, name
	if name != f.org.Name {
		return nil, nil
	}
	return []*model.Organization{f.org}, nil
}

func (f *fakeOrganizations) Lookup(_ context.Context, platform model.Platform, name string) (*model.Organization, error) {
	if name != f.org.Name {
		return nil, service.ErrOrganizationNotFound
	}
	return f.org, nil
}

func (f *fakeOrganizations) Get(context.Context, string) (*model.Organization, error) {
	return f.org, f.err
}

func (f *fakeOrganizations) Update(_ context.Context, _ *model.AuthContext, _ string, in service.OrganizationUpdateInput) (*model.Organization, error) {
	f.updateIn = in
	return f.org, f.err
}

func (f *fakeOrganizations) GetBadgeSettings(context.Context, *model.AuthContext, string) (*model.BadgeSettings, error) {
	return &model.BadgeSettings{ShowAmount: true, MinimumAmount: 2000, Message: f.org.BadgeMessage()}, f.err
}

func (f *fakeOrganizations) UpdateBadgeSettings(_ context.Context, _ *model.AuthContext, _ string, in service.BadgeSettingsUpdateInput) (*model.Organization, error) {
	f.badgeIn = in
	return f.org, f.err
}

func organizationRouter(h *OrganizationHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(withAuth(&model.AuthContext{UserID: "user-1"}))
	r.Route("/v1/organizations", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/search", h.Search)
		r.Get("/lookup", h.Lookup)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.Update)
		r.Get("/{id}/badge_settings", h.GetBadgeSettings)
		r.Post("/{id}/badge_settings", h.UpdateBadgeSettings)
	})
	return r
}

func testOrganization() *model.Organization {
	return &model.Organization{
		ID:                  "org-1",
		Name:                "acme",
		Platform:            model.PlatformGitHub,
		PledgeMinimumAmount: 2000,
		CreatedAt:           time.Now(),
	}
}

func TestOrganizationHandler_List(t *testing.T) {
	fake := &fakeOrganizations{org: testOrganization()}
	router := organizationRouter(NewOrganizationHandler(fake, discardLogger()))

	rec := do(t, router, http.MethodGet, "/v1/organizations/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fake.adminOnly)

	rec = do(t, router, http.MethodGet, "/v1/organizations/?is_admin_only=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, fake.adminOnly)

	rec = do(t, router, http.MethodGet, "/v1/organizations/?is_admin_only=maybe", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestOrganizationHandler_SearchAndLookup(t *testing.T) {
	fake := &fakeOrganizations{org: testOrganization()}
	router := organizationRouter(NewOrganizationHandler(fake, discardLogger()))

	rec := do(t, router, http.MethodGet, "/v1/organizations/search?platform=github&organization_name=acme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.PlatformGitHub, fake.platform)
	assert.Len(t, decodeBody[dto.ListResponse[dto.OrganizationResponse]](t, rec).Items, 1)

	rec = do(t, router, http.MethodGet, "/v1/organizations/search?platform=github&organization_name=nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[dto.ListResponse[dto.OrganizationResponse]](t, rec)
	assert.NotNil(t, body.Items)
	assert.Empty(t, body.Items)

	rec = do(t, router, http.MethodGet, "/v1/organizations/search?platform=gitlab", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/organizations/lookup?platform=github&organization_name=nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrganizationHandler_UpdateClearsNullSettings(t *testing.T) {
	fake := &fakeOrganizations{org: testOrganization()}
	router := organizationRouter(NewOrganizationHandler(fake, discardLogger()))

	rec := do(t, router, http.MethodPatch, "/v1/organizations/org-1",
		`{"pledge_minimum_amount":3000,"total_monthly_spending_limit":null,"default_badge_custom_content":"Back us"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	in := fake.updateIn
	require.NotNil(t, in.PledgeMinimumAmount)
	assert.EqualValues(t, 3000, *in.PledgeMinimumAmount)
	assert.True(t, in.SetTotalMonthlySpendingLimit)
	assert.Nil(t, in.TotalMonthlySpendingLimit)
	assert.True(t, in.SetDefaultBadgeCustomContent)
	assert.Equal(t, "Back us", *in.DefaultBadgeCustomContent)
	assert.False(t, in.SetPerUserMonthlySpendingLimit)
}

func TestOrganizationHandler_UpdateForbidden(t *testing.T) {
	fake := &fakeOrganizations{org: testOrganization(), err: service.ErrNotPermitted}
	router := organizationRouter(NewOrganizationHandler(fake, discardLogger()))

	rec := do(t, router, http.MethodPatch, "/v1/organizations/org-1", map[string]any{"billing_email": "billing@acme.test"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOrganizationHandler_BadgeSettings(t *testing.T) {
	fake := &fakeOrganizations{org: testOrganization()}
	router := organizationRouter(NewOrganizationHandler(fake, discardLogger()))

	rec := do(t, router, http.MethodGet, "/v1/organizations/org-1/badge_settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decodeBody[dto.BadgeSettingsResponse](t, rec)
	assert.True(t, settings.ShowAmount)
	assert.EqualValues(t, 2000, settings.MinimumAmount)

	rec = do(t, router, http.MethodPost, "/v1/organizations/org-1/badge_settings", map[string]any{
		"show_amount":    false,
		"minimum_amount": 5000,
		"message":        "Fund it",
		"repositories": []map[string]any{
			{"id": "repo-1", "badge_auto_embed": true, "badge_label": "funding"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, fake.badgeIn.Repositories, 1)
	assert.True(t, fake.badgeIn.Repositories[0].BadgeAutoEmbed)
	assert.Equal(t, "funding", fake.badgeIn.Repositories[0].BadgeLabel)
	assert.Equal(t, "org-1", decodeBody[dto.OrganizationResponse](t, rec).ID)
}
