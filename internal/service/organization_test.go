package service

import (
	"context"
	"testing"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type organizationEnv struct {
	svc   *OrganizationService
	store *fakeStore
	org   *model.Organization
	admin *model.AuthContext
	user  *model.AuthContext
}

func newOrganizationEnv(t *testing.T) *organizationEnv {
	t.Helper()
	store := newFakeStore()
	org := &model.Organization{
		ID:                  "org-1",
		Name:                "acme",
		Platform:            model.PlatformGitHub,
		AvatarURL:           strPtr("https://avatars.example.com/acme.png"),
		PledgeMinimumAmount: 2000,
	}
	store.orgs[org.ID] = org
	store.orgs["org-2"] = &model.Organization{ID: "org-2", Name: "globex", Platform: model.PlatformGitHub}
	store.addMember(org.ID, "admin", true)
	store.addMember(org.ID, "member", false)
	store.addMember("org-2", "member", true)

	openIssues := 4
	store.repos["repo-a"] = &model.ExternalRepository{ID: "repo-a", OrganizationID: org.ID, Name: "api", OpenIssues: &openIssues, SyncedIssues: 4, PledgeBadgeLabel: "checkoutd"}
	store.repos["repo-b"] = &model.ExternalRepository{ID: "repo-b", OrganizationID: org.ID, Name: "web", SyncedIssues: 7}
	store.repos["repo-x"] = &model.ExternalRepository{ID: "repo-x", OrganizationID: "org-2", Name: "other"}

	return &organizationEnv{
		svc:   NewOrganizationService(store, discardLogger()),
		store: store,
		org:   org,
		admin: &model.AuthContext{UserID: "admin"},
		user:  &model.AuthContext{UserID: "member"},
	}
}

func TestOrganizationList(t *testing.T) {
	e := newOrganizationEnv(t)

	orgs, total, err := e.svc.List(context.Background(), e.user, true, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, orgs, 1)
	assert.Equal(t, "org-2", orgs[0].ID)

	_, total, err = e.svc.List(context.Background(), e.user, false, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestOrganizationSearchAndLookup(t *testing.T) {
	e := newOrganizationEnv(t)
	ctx := context.Background()

	orgs, err := e.svc.Search(ctx, model.PlatformGitHub, "acme")
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, e.org.ID, orgs[0].ID)

	orgs, err = e.svc.Search(ctx, model.PlatformGitHub, "nobody")
	require.NoError(t, err)
	assert.Empty(t, orgs)

	orgs, err = e.svc.Search(ctx, "", "acme")
	require.NoError(t, err)
	assert.Empty(t, orgs)

	org, err := e.svc.Lookup(ctx, model.PlatformGitHub, "globex")
	require.NoError(t, err)
	assert.Equal(t, "org-2", org.ID)

	_, err = e.svc.Lookup(ctx, model.PlatformGitHub, "nobody")
	assert.ErrorIs(t, err, ErrOrganizationNotFound)

	_, err = e.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestOrganizationUpdate(t *testing.T) {
	e := newOrganizationEnv(t)
	ctx := context.Background()

	org, err := e.svc.Update(ctx, e.admin, e.org.ID, OrganizationUpdateInput{
		BillingEmail:                         strPtr("billing@acme.test"),
		PledgeMinimumAmount:                  i64(3000),
		SetDefaultUpfrontSplitToContributors: true,
		DefaultUpfrontSplitToContributors:    intPtr(40),
		SetTotalMonthlySpendingLimit:         true,
		TotalMonthlySpendingLimit:            i64(100000),
	})
	require.NoError(t, err)
	assert.Equal(t, "billing@acme.test", *org.BillingEmail)
	assert.Equal(t, int64(3000), org.PledgeMinimumAmount)
	assert.Equal(t, 40, *org.DefaultUpfrontSplitToContributors)
	assert.Equal(t, int64(100000), *e.store.orgs[e.org.ID].TotalMonthlySpendingLimit)

	org, err = e.svc.Update(ctx, e.admin, e.org.ID, OrganizationUpdateInput{SetDefaultUpfrontSplitToContributors: true})
	require.NoError(t, err)
	assert.Nil(t, org.DefaultUpfrontSplitToContributors)
}

func TestOrganizationUpdate_Validation(t *testing.T) {
	e := newOrganizationEnv(t)

	_, err := e.svc.Update(context.Background(), e.admin, e.org.ID, OrganizationUpdateInput{
		BillingEmail:                         strPtr("not-an-email"),
		PledgeMinimumAmount:                  i64(100),
		SetDefaultUpfrontSplitToContributors: true,
		DefaultUpfrontSplitToContributors:    intPtr(101),
	})

	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr, 3)
	assert.Equal(t, int64(2000), e.store.orgs[e.org.ID].PledgeMinimumAmount)
}

func TestOrganizationUpdate_Permissions(t *testing.T) {
	e := newOrganizationEnv(t)
	ctx := context.Background()

	_, err := e.svc.Update(ctx, e.user, e.org.ID, OrganizationUpdateInput{})
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = e.svc.Update(ctx, &model.AuthContext{UserID: "stranger"}, e.org.ID, OrganizationUpdateInput{})
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = e.svc.Update(ctx, e.admin, "missing", OrganizationUpdateInput{})
	assert.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestOrganizationGetBadgeSettings(t *testing.T) {
	e := newOrganizationEnv(t)

	settings, err := e.svc.GetBadgeSettings(context.Background(), e.admin, e.org.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(2000), settings.MinimumAmount)
	assert.Equal(t, "Fund this issue to help acme prioritize it. Back it with a pledge.", settings.Message)
	require.Len(t, settings.Repositories, 2)

	api := settings.Repositories[0]
	assert.Equal(t, "api", api.Name)
	assert.Equal(t, "checkoutd", api.BadgeLabel)
	assert.Equal(t, 4, api.OpenIssues)
	assert.True(t, api.IsSyncCompleted)
	assert.Equal(t, e.org.AvatarURL, api.AvatarURL)

	web := settings.Repositories[1]
	assert.Equal(t, 7, web.OpenIssues)
	assert.True(t, web.IsSyncCompleted)

	_, err = e.svc.GetBadgeSettings(context.Background(), e.user, e.org.ID)
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestOrganizationUpdateBadgeSettings(t *testing.T) {
	e := newOrganizationEnv(t)

	org, err := e.svc.UpdateBadgeSettings(context.Background(), e.admin, e.org.ID, BadgeSettingsUpdateInput{
		ShowAmount:    boolPtr(true),
		MinimumAmount: i64(5000),
		Message:       strPtr("Back us!"),
		Repositories: []RepositoryBadgeUpdate{
			{ID: "repo-b", BadgeAutoEmbed: true, BadgeLabel: "fund"},
			{ID: "repo-x", BadgeAutoEmbed: true, BadgeLabel: "hijack"},
			{ID: "repo-missing", BadgeAutoEmbed: true},
		},
	})
	require.NoError(t, err)

	assert.True(t, org.PledgeBadgeShowAmount)
	assert.Equal(t, int64(5000), org.PledgeMinimumAmount)
	assert.Equal(t, "Back us!", org.BadgeMessage())

	require.Len(t, e.store.updatedRepos, 1)
	assert.Equal(t, "repo-b", e.store.updatedRepos[0].ID)
	assert.True(t, e.store.repos["repo-b"].PledgeBadgeAutoEmbed)
	assert.Equal(t, "fund", e.store.repos["repo-b"].PledgeBadgeLabel)
	assert.False(t, e.store.repos["repo-x"].PledgeBadgeAutoEmbed)
}

func TestOrganizationUpdateBadgeSettings_EmptyMessageKeepsCustomContent(t *testing.T) {
	e := newOrganizationEnv(t)
	e.org.DefaultBadgeCustomContent = strPtr("Existing")

	org, err := e.svc.UpdateBadgeSettings(context.Background(), e.admin, e.org.ID, BadgeSettingsUpdateInput{Message: strPtr("")})
	require.NoError(t, err)
	assert.Equal(t, "Existing", org.BadgeMessage())
}

func TestMatchRepositoryUpdates(t *testing.T) {
	repos := []*model.ExternalRepository{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	matched := matchRepositoryUpdates(repos, []RepositoryBadgeUpdate{
		{ID: "c", BadgeLabel: "x"},
		{ID: "a", BadgeAutoEmbed: true},
		{ID: "z"},
	})

	require.Len(t, matched, 2)
	assert.Equal(t, "a", matched[0].ID)
	assert.True(t, matched[0].PledgeBadgeAutoEmbed)
	assert.Equal(t, "c", matched[1].ID)
	assert.Equal(t, "x", matched[1].PledgeBadgeLabel)
}

func boolPtr(b bool) *bool { return &b }
