package dto

import (
	"time"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/checkoutd/checkoutd/internal/service"
)

// OrganizationResponse is an organization with its settings.
type OrganizationResponse struct {
	ID                                string     `json:"id"`
	Name                              string     `json:"name"`
	Slug                              string     `json:"slug"`
	Platform                          string     `json:"platform"`
	AvatarURL                         *string    `json:"avatar_url"`
	BillingEmail                      *string    `json:"billing_email"`
	PledgeMinimumAmount               int64      `json:"pledge_minimum_amount"`
	PledgeBadgeShowAmount             bool       `json:"pledge_badge_show_amount"`
	DefaultBadgeCustomContent         *string    `json:"default_badge_custom_content"`
	DefaultUpfrontSplitToContributors *int       `json:"default_upfront_split_to_contributors"`
	TotalMonthlySpendingLimit         *int64     `json:"total_monthly_spending_limit"`
	PerUserMonthlySpendingLimit       *int64     `json:"per_user_monthly_spending_limit"`
	HasAccount                        bool       `json:"has_account"`
	CreatedAt                         time.Time  `json:"created_at"`
	ModifiedAt                        *time.Time `json:"modified_at"`
}

// NewOrganizationResponse renders an organization.
func NewOrganizationResponse(o *model.Organization) OrganizationResponse {
	return OrganizationResponse{
		ID:                                o.ID,
		Name:                              o.Name,
		Slug:                              o.Slug,
		Platform:                          string(o.Platform),
		AvatarURL:                         o.AvatarURL,
		BillingEmail:                      o.BillingEmail,
		PledgeMinimumAmount:               o.PledgeMinimumAmount,
		PledgeBadgeShowAmount:             o.PledgeBadgeShowAmount,
		DefaultBadgeCustomContent:         o.DefaultBadgeCustomContent,
		DefaultUpfrontSplitToContributors: o.DefaultUpfrontSplitToContributors,
		TotalMonthlySpendingLimit:         o.TotalMonthlySpendingLimit,
		PerUserMonthlySpendingLimit:       o.PerUserMonthlySpendingLimit,
		HasAccount:                        o.AccountID != nil,
		CreatedAt:                         o.CreatedAt,
		ModifiedAt:                        o.ModifiedAt,
	}
}

// OrganizationUpdateRequest is the body of PATCH /v1/organizations/{id}.
// Nullable settings are cleared by sending null.
type OrganizationUpdateRequest struct {
	BillingEmail                      *string          `json:"billing_email"`
	PledgeMinimumAmount               *int64           `json:"pledge_minimum_amount"`
	PledgeBadgeShowAmount             *bool            `json:"pledge_badge_show_amount"`
	DefaultBadgeCustomContent         Optional[string] `json:"default_badge_custom_content"`
	DefaultUpfrontSplitToContributors Optional[int]    `json:"default_upfront_split_to_contributors"`
	TotalMonthlySpendingLimit         Optional[int64]  `json:"total_monthly_spending_limit"`
	PerUserMonthlySpendingLimit       Optional[int64]  `json:"per_user_monthly_spending_limit"`
}

// ToInput converts the request for the organization service.
func (r OrganizationUpdateRequest) ToInput() service.OrganizationUpdateInput {
	return service.OrganizationUpdateInput{
		BillingEmail:                         r.BillingEmail,
		PledgeMinimumAmount:                  r.PledgeMinimumAmount,
		PledgeBadgeShowAmount:                r.PledgeBadgeShowAmount,
		SetDefaultBadgeCustomContent:         r.DefaultBadgeCustomContent.Set,
		DefaultBadgeCustomContent:            r.DefaultBadgeCustomContent.Value,
		SetDefaultUpfrontSplitToContributors: r.DefaultUpfrontSplitToContributors.Set,
		DefaultUpfrontSplitToContributors:    r.DefaultUpfrontSplitToContributors.Value,
		SetTotalMonthlySpendingLimit:         r.TotalMonthlySpendingLimit.Set,
		TotalMonthlySpendingLimit:            r.TotalMonthlySpendingLimit.Value,
		SetPerUserMonthlySpendingLimit:       r.PerUserMonthlySpendingLimit.Set,
		PerUserMonthlySpendingLimit:          r.PerUserMonthlySpendingLimit.Value,
	}
}

// RepositoryBadgeSettingsResponse is the badge state of one repository.
type RepositoryBadgeSettingsResponse struct {
	ID                  string  `json:"id"`
	AvatarURL           *string `json:"avatar_url"`
	Name                string  `json:"name"`
	BadgeAutoEmbed      bool    `json:"badge_auto_embed"`
	BadgeLabel          string  `json:"badge_label"`
	OpenIssues          int     `json:"open_issues"`
	PullRequests        int     `json:"pull_requests"`
	AutoEmbeddedIssues  int     `json:"auto_embedded_issues"`
	LabelEmbeddedIssues int     `json:"label_embedded_issues"`
	SyncedIssues        int     `json:"synced_issues"`
	IsPrivate           bool    `json:"is_private"`
	IsSyncCompleted     bool    `json:"is_sync_completed"`
}

// BadgeSettingsResponse is the body of GET /v1/organizations/{id}/badge_settings.
type BadgeSettingsResponse struct {
	ShowAmount    bool                              `json:"show_amount"`
	MinimumAmount int64                             `json:"minimum_amount"`
	Message       string                            `json:"message"`
	Repositories  []RepositoryBadgeSettingsResponse `json:"repositories"`
}

// NewBadgeSettingsResponse renders badge settings.
func NewBadgeSettingsResponse(s *model.BadgeSettings) BadgeSettingsResponse {
	return BadgeSettingsResponse{
		ShowAmount:    s.ShowAmount,
		MinimumAmount: s.MinimumAmount,
		Message:       s.Message,
		Repositories: Map(s.Repositories, func(r model.RepositoryBadgeSettings) RepositoryBadgeSettingsResponse {
			return RepositoryBadgeSettingsResponse{
				ID:                  r.ID,
				AvatarURL:           r.AvatarURL,
				Name:                r.Name,
				BadgeAutoEmbed:      r.BadgeAutoEmbed,
				BadgeLabel:          r.BadgeLabel,
				OpenIssues:          r.OpenIssues,
				PullRequests:        r.PullRequests,
				AutoEmbeddedIssues:  r.AutoEmbeddedIssues,
				LabelEmbeddedIssues: r.LabelEmbeddedIssues,
				SyncedIssues:        r.SyncedIssues,
				IsPrivate:           r.IsPrivate,
				IsSyncCompleted:     r.IsSyncCompleted,
			}
		}),
	}
}

// RepositoryBadgeUpdateRequest is the badge configuration of one repository.
type RepositoryBadgeUpdateRequest struct {
	ID             string `json:"id" validate:"required"`
	BadgeAutoEmbed bool   `json:"badge_auto_embed"`
	BadgeLabel     string `json:"badge_label" validate:"max=64"`
}

// BadgeSettingsUpdateRequest is the body of POST /v1/organizations/{id}/badge_settings.
type BadgeSettingsUpdateRequest struct {
	ShowAmount    *bool                          `json:"show_amount"`
	MinimumAmount *int64                         `json:"minimum_amount"`
	Message       *string                        `json:"message" validate:"omitempty,max=500"`
	Repositories  []RepositoryBadgeUpdateRequest `json:"repositories" validate:"dive"`
}

// ToInput converts the request for the organization service.
func (r BadgeSettingsUpdateRequest) ToInput() service.BadgeSettingsUpdateInput {
	return service.BadgeSettingsUpdateInput{
		ShowAmount:    r.ShowAmount,
		MinimumAmount: r.MinimumAmount,
		Message:       r.Message,
		Repositories: Map(r.Repositories, func(u RepositoryBadgeUpdateRequest) service.RepositoryBadgeUpdate {
			return service.RepositoryBadgeUpdate{
				ID:             u.ID,
				BadgeAutoEmbed: u.BadgeAutoEmbed,
				BadgeLabel:     u.BadgeLabel,
			}
		}),
	}
}
