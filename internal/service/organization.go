package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/repository"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// OrganizationStore is the persistence the organization service needs.
type OrganizationStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
	GetOrganizationByName(ctx context.Context, platform model.Platform, name string) (*model.Organization, error)
	ListOrganizations(ctx context.Context, filter repository.OrganizationFilter, page repository.Page) ([]*model.Organization, int, error)
	UpdateOrganization(ctx context.Context, org *model.Organization) error
	GetOrganizationMember(ctx context.Context, orgID, userID string) (*model.OrganizationMember, error)

	ListRepositoriesByOrganization(ctx context.Context, orgID string) ([]*model.ExternalRepository, error)
	ListRepositoriesByIDs(ctx context.Context, orgID string, ids []string) ([]*model.ExternalRepository, error)
	UpdateRepositoryBadgeSettings(ctx context.Context, repos []*model.ExternalRepository) error
}

// Organization setting bounds.
const (
	// MinimumPledgeAmount is the lowest pledge minimum an organization may set, in cents.
	MinimumPledgeAmount int64 = 2000
	maxUpfrontSplit           = 100
)

// OrganizationService handles organization settings and badge configuration.
type OrganizationService struct {
	store  OrganizationStore
	logger *slog.Logger
}

// NewOrganizationService creates a new OrganizationService.
func NewOrganizationService(store OrganizationStore, logger *slog.Logger) *OrganizationService {
	return &OrganizationService{
		store:  store,
		logger: logger.With("component", "organization"),
	}
}

// OrganizationUpdateInput defines input for updating organization settings.
// Nil fields are left unchanged. The Set flags allow clearing nullable fields.
type OrganizationUpdateInput struct {
	BillingEmail *string

	PledgeMinimumAmount   *int64
	PledgeBadgeShowAmount *bool

	SetDefaultBadgeCustomContent bool
	DefaultBadgeCustomContent    *string

	SetDefaultUpfrontSplitToContributors bool
	DefaultUpfrontSplitToContributors    *int

	SetTotalMonthlySpendingLimit bool
	TotalMonthlySpendingLimit    *int64

	SetPerUserMonthlySpendingLimit bool
	PerUserMonthlySpendingLimit    *int64
}

// BadgeSettingsUpdateInput defines input for updating badge settings.
type BadgeSettingsUpdateInput struct {
	ShowAmount    *bool
	MinimumAmount *int64
	Message       *string
	Repositories  []RepositoryBadgeUpdate
}

// RepositoryBadgeUpdate is the badge configuration of one repository.
type RepositoryBadgeUpdate struct {
	ID             string
	BadgeAutoEmbed bool
	BadgeLabel     string
}

// List returns the organizations the caller belongs to.
func (s *OrganizationService) List(ctx context.Context, ac *model.AuthContext, adminOnly bool, page repository.Page) ([]*model.Organization, int, error) {
	return s.store.ListOrganizations(ctx, repository.OrganizationFilter{
		MemberUserID: ac.UserID,
		AdminOnly:    adminOnly,
	}, page)
}

// Search returns the organization matching platform and name, if any.
// Missing criteria produce an empty result.
func (s *OrganizationService) Search(ctx context.Context, platform model.Platform, name string) ([]*model.Organization, error) {
	org, err := s.Lookup(ctx, platform, name)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			return []*model.Organization{}, nil
		}
		return nil, err
	}
	return []*model.Organization{org}, nil
}

// Lookup returns exactly one organization by platform and name.
func (s *OrganizationService) Lookup(ctx context.Context, platform model.Platform, name string) (*model.Organization, error) {
	if platform == "" || name == "" {
		return nil, ErrOrganizationNotFound
	}
	org, err := s.store.GetOrganizationByName(ctx, platform, name)
	if err != nil {
		return nil, mapOrganizationErr(err)
	}
	return org, nil
}

// Get returns an organization by id.
func (s *OrganizationService) Get(ctx context.Context, id string) (*model.Organization, error) {
	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		return nil, mapOrganizationErr(err)
	}
	return org, nil
}

// Update changes organization settings. Only admins may update.
func (s *OrganizationService) Update(ctx context.Context, ac *model.AuthContext, id string, in OrganizationUpdateInput) (*model.Organization, error) {
	org, err := s.getWritable(ctx, ac, id)
	if err != nil {
		return nil, err
	}
	if err := applyOrganizationUpdate(org, in); err != nil {
		return nil, err
	}
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return nil, mapOrganizationErr(err)
	}

	s.logger.Info("organization_updated", "organization_id", org.ID, "user_id", ac.UserID)
	return org, nil
}

// GetBadgeSettings returns the badge configuration of an organization and
// its repositories.
func (s *OrganizationService) GetBadgeSettings(ctx context.Context, ac *model.AuthContext, id string) (*model.BadgeSettings, error) {
	org, err := s.getWritable(ctx, ac, id)
	if err != nil {
		return nil, err
	}
	repos, err := s.store.ListRepositoriesByOrganization(ctx, org.ID)
	if err != nil {
		return nil, err
	}

	settings := &model.BadgeSettings{
		ShowAmount:    org.PledgeBadgeShowAmount,
		MinimumAmount: org.PledgeMinimumAmount,
		Message:       org.BadgeMessage(),
		Repositories:  make([]model.RepositoryBadgeSettings, 0, len(repos)),
	}
	for _, repo := range repos {
		settings.Repositories = append(settings.Repositories, model.NewRepositoryBadgeSettings(org, repo))
	}
	return settings, nil
}

// UpdateBadgeSettings updates organization badge settings and the badge
// flags of the listed repositories. Repositories outside the organization
// are ignored.
func (s *OrganizationService) UpdateBadgeSettings(ctx context.Context, ac *model.AuthContext, id string, in BadgeSettingsUpdateInput) (*model.Organization, error) {
	org, err := s.getWritable(ctx, ac, id)
	if err != nil {
		return nil, err
	}

	update := OrganizationUpdateInput{
		PledgeBadgeShowAmount: in.ShowAmount,
		PledgeMinimumAmount:   in.MinimumAmount,
	}
	if in.Message != nil && *in.Message != "" {
		update.SetDefaultBadgeCustomContent = true
		update.DefaultBadgeCustomContent = in.Message
	}
	if err := applyOrganizationUpdate(org, update); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateOrganization(ctx, org); err != nil {
			return mapOrganizationErr(err)
		}

		ids := make([]string, len(in.Repositories))
		for i, r := range in.Repositories {
			ids[i] = r.ID
		}
		repos, err := s.store.ListRepositoriesByIDs(ctx, org.ID, ids)
		if err != nil {
			return err
		}
		return s.store.UpdateRepositoryBadgeSettings(ctx, matchRepositoryUpdates(repos, in.Repositories))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("organization_badge_settings_updated",
		"organization_id", org.ID,
		"repositories", len(in.Repositories),
	)
	return org, nil
}

// RequireAdmin returns the organization when the caller administers it.
func (s *OrganizationService) RequireAdmin(ctx context.Context, ac *model.AuthContext, id string) (*model.Organization, error) {
	return s.getWritable(ctx, ac, id)
}

func (s *OrganizationService) getWritable(ctx context.Context, ac *model.AuthContext, id string) (*model.Organization, error) {
	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		return nil, mapOrganizationErr(err)
	}
	member, err := s.store.GetOrganizationMember(ctx, org.ID, ac.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrMemberNotFound) {
			return nil, ErrNotPermitted
		}
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !member.IsAdmin {
		return nil, ErrNotPermitted
	}
	return org, nil
}

// matchRepositoryUpdates pairs each loaded repository with its update.
func matchRepositoryUpdates(repos []*model.ExternalRepository, updates []RepositoryBadgeUpdate) []*model.ExternalRepository {
	byID := make(map[string]RepositoryBadgeUpdate, len(updates))
	for _, u := range updates {
		byID[u.ID] = u
	}

	matched := make([]*model.ExternalRepository, 0, len(repos))
	for _, repo := range repos {
		u, ok := byID[repo.ID]
		if !ok {
			continue
		}
		repo.PledgeBadgeAutoEmbed = u.BadgeAutoEmbed
		repo.PledgeBadgeLabel = u.BadgeLabel
		matched = append(matched, repo)
	}
	return matched
}

func applyOrganizationUpdate(org *model.Organization, in OrganizationUpdateInput) error {
	var errs ValidationError

	if in.BillingEmail != nil {
		email := strings.TrimSpace(*in.BillingEmail)
		if err := validate.Var(email, "required,email"); err != nil {
			errs = append(errs, FieldError{Field: "billing_email", Message: "Invalid email address."})
		} else {
			org.BillingEmail = &email
		}
	}
	if in.PledgeMinimumAmount != nil {
		if *in.PledgeMinimumAmount < MinimumPledgeAmount {
			errs = append(errs, FieldError{
				Field:   "pledge_minimum_amount",
				Message: fmt.Sprintf("Minimum amount must be at least %d.", MinimumPledgeAmount),
			})
		} else {
			org.PledgeMinimumAmount = *in.PledgeMinimumAmount
		}
	}
	if in.PledgeBadgeShowAmount != nil {
		org.PledgeBadgeShowAmount = *in.PledgeBadgeShowAmount
	}
	if in.SetDefaultBadgeCustomContent {
		org.DefaultBadgeCustomContent = in.DefaultBadgeCustomContent
	}
	if in.SetDefaultUpfrontSplitToContributors {
		if v := in.DefaultUpfrontSplitToContributors; v != nil && (*v < 0 || *v > maxUpfrontSplit) {
			errs = append(errs, FieldError{
				Field:   "default_upfront_split_to_contributors",
				Message: "Split must be between 0 and 100.",
			})
		} else {
			org.DefaultUpfrontSplitToContributors = in.DefaultUpfrontSplitToContributors
		}
	}
	if in.SetTotalMonthlySpendingLimit {
		org.TotalMonthlySpendingLimit = in.TotalMonthlySpendingLimit
	}
	if in.SetPerUserMonthlySpendingLimit {
		org.PerUserMonthlySpendingLimit = in.PerUserMonthlySpendingLimit
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func mapOrganizationErr(err error) error {
	if errors.Is(err, repository.ErrOrganizationNotFound) {
		return ErrOrganizationNotFound
	}
	return err
}
