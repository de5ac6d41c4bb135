package model

import (
	"fmt"
	"time"
)

// Platform is the code hosting platform an organization comes from.
type Platform string

const PlatformGitHub Platform = "github"

// IsValid reports whether p is a supported platform.
func (p Platform) IsValid() bool {
	return p == PlatformGitHub
}

// Organization is a tenant. Products, checkouts and webhooks belong to one.
type Organization struct {
	ID        string
	Name      string
	Slug      string
	Platform  Platform
	AvatarURL *string
	AccountID *string

	BillingEmail *string

	PledgeMinimumAmount       int64
	PledgeBadgeShowAmount     bool
	DefaultBadgeCustomContent *string

	DefaultUpfrontSplitToContributors *int
	TotalMonthlySpendingLimit         *int64
	PerUserMonthlySpendingLimit       *int64

	CreatedAt  time.Time
	ModifiedAt *time.Time
	DeletedAt  *time.Time
}

// BadgeMessage returns the custom badge text or the generated default.
func (o *Organization) BadgeMessage() string {
	if o.DefaultBadgeCustomContent != nil && *o.DefaultBadgeCustomContent != "" {
		return *o.DefaultBadgeCustomContent
	}
	return fmt.Sprintf("Fund this issue to help %s prioritize it. Back it with a pledge.", o.Name)
}

// OrganizationMember links a user to an organization.
type OrganizationMember struct {
	OrganizationID string
	UserID         string
	IsAdmin        bool
	CreatedAt      time.Time
}

// ExternalRepository is a repository synced from the organization's platform.
type ExternalRepository struct {
	ID             string
	OrganizationID string
	Name           string
	IsPrivate      bool
	OpenIssues     *int

	PledgeBadgeAutoEmbed bool
	PledgeBadgeLabel     string

	// Counters maintained by the issue sync pipeline.
	SyncedIssues        int
	AutoEmbeddedIssues  int
	LabelEmbeddedIssues int
	PullRequests        int

	CreatedAt  time.Time
	ModifiedAt *time.Time
}

// BadgeSettings is the badge view of an organization.
type BadgeSettings struct {
	ShowAmount    bool
	MinimumAmount int64
	Message       string
	Repositories  []RepositoryBadgeSettings
}

// RepositoryBadgeSettings is the badge view of one repository.
type RepositoryBadgeSettings struct {
	ID                  string
	AvatarURL           *string
	Name                string
	BadgeAutoEmbed      bool
	BadgeLabel          string
	SyncedIssues        int
	AutoEmbeddedIssues  int
	LabelEmbeddedIssues int
	PullRequests        int
	OpenIssues          int
	IsPrivate           bool
	IsSyncCompleted     bool
}

// NewRepositoryBadgeSettings derives the badge view of repo.
// Open issues never read lower than what has already been synced.
func NewRepositoryBadgeSettings(org *Organization, repo *ExternalRepository) RepositoryBadgeSettings {
	openIssues := 0
	if repo.OpenIssues != nil {
		openIssues = *repo.OpenIssues
	}
	if repo.SyncedIssues > openIssues {
		openIssues = repo.SyncedIssues
	}

	return RepositoryBadgeSettings{
		ID:                  repo.ID,
		AvatarURL:           org.AvatarURL,
		Name:                repo.Name,
		BadgeAutoEmbed:      repo.PledgeBadgeAutoEmbed,
		BadgeLabel:          repo.PledgeBadgeLabel,
		SyncedIssues:        repo.SyncedIssues,
		AutoEmbeddedIssues:  repo.AutoEmbeddedIssues,
		LabelEmbeddedIssues: repo.LabelEmbeddedIssues,
		PullRequests:        repo.PullRequests,
		OpenIssues:          openIssues,
		IsPrivate:           repo.IsPrivate,
		IsSyncCompleted:     repo.SyncedIssues == openIssues,
	}
}
