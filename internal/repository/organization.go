package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/jackc/pgx/v5"
)

// Common errors for organization repository operations.
var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrMemberNotFound       = errors.New("organization member not found")
	ErrAccountNotFound      = errors.New("account not found")
)

// OrganizationFilter narrows organization listings.
type OrganizationFilter struct {
	MemberUserID string
	// AdminOnly keeps only organizations where the member is an admin.
	AdminOnly bool
	Platform  model.Platform
	Name      string
}

const organizationColumns = `
	o.id, o.name, o.slug, o.platform, o.avatar_url, o.account_id, o.billing_email,
	o.pledge_minimum_amount, o.pledge_badge_show_amount, o.default_badge_custom_content,
	o.default_upfront_split_to_contributors, o.total_monthly_spending_limit, o.per_user_monthly_spending_limit,
	o.created_at, o.modified_at, o.deleted_at`

// GetOrganization retrieves an organization by id.
func (r *Repository) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations o WHERE o.id = $1 AND o.deleted_at IS NULL`
	return scanOrganization(r.q(ctx).QueryRow(ctx, query, id))
}

// GetOrganizationByName retrieves an organization by platform and name, case-insensitively.
func (r *Repository) GetOrganizationByName(ctx context.Context, platform model.Platform, name string) (*model.Organization, error) {
	query := `SELECT ` + organizationColumns + `
		FROM organizations o
		WHERE o.platform = $1 AND lower(o.name) = lower($2) AND o.deleted_at IS NULL`
	return scanOrganization(r.q(ctx).QueryRow(ctx, query, platform, name))
}

// ListOrganizations returns one page of organizations ordered by name, and the total count.
func (r *Repository) ListOrganizations(ctx context.Context, filter OrganizationFilter, page Page) ([]*model.Organization, int, error) {
	var c conditions
	c.raw("o.deleted_at IS NULL")
	if filter.MemberUserID != "" {
		memberClause := `o.id IN (
			SELECT organization_id FROM organization_members WHERE user_id = $%d AND deleted_at IS NULL`
		if filter.AdminOnly {
			memberClause += ` AND is_admin`
		}
		c.add(memberClause+`)`, filter.MemberUserID)
	}
	if filter.Platform != "" {
		c.add("o.platform = $%d", filter.Platform)
	}
	if filter.Name != "" {
		c.add("lower(o.name) = lower($%d)", filter.Name)
	}

	total, err := r.count(ctx, "organizations o", &c)
	if err != nil {
		return nil, 0, err
	}

	suffix, args := pageSuffix(&c, "o.name ASC, o.id ASC", page.Normalize())
	rows, err := r.q(ctx).Query(ctx, `SELECT `+organizationColumns+` FROM organizations o`+c.where()+suffix, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []*model.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, 0, err
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating organizations: %w", err)
	}
	return orgs, total, nil
}

// UpdateOrganization writes the organization's settings columns.
func (r *Repository) UpdateOrganization(ctx context.Context, org *model.Organization) error {
	query := `
		UPDATE organizations SET
			billing_email = $2,
			pledge_minimum_amount = $3,
			pledge_badge_show_amount = $4,
			default_badge_custom_content = $5,
			default_upfront_split_to_contributors = $6,
			total_monthly_spending_limit = $7,
			per_user_monthly_spending_limit = $8,
			modified_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING modified_at
	`

	err := r.q(ctx).QueryRow(ctx, query,
		org.ID,
		org.BillingEmail,
		org.PledgeMinimumAmount,
		org.PledgeBadgeShowAmount,
		org.DefaultBadgeCustomContent,
		org.DefaultUpfrontSplitToContributors,
		org.TotalMonthlySpendingLimit,
		org.PerUserMonthlySpendingLimit,
	).Scan(&org.ModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrganizationNotFound
		}
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return nil
}

// GetOrganizationMember returns the membership of userID in orgID.
func (r *Repository) GetOrganizationMember(ctx context.Context, orgID, userID string) (*model.OrganizationMember, error) {
	query := `
		SELECT organization_id, user_id, is_admin, created_at
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2 AND deleted_at IS NULL
	`

	var m model.OrganizationMember
	err := r.q(ctx).QueryRow(ctx, query, orgID, userID).Scan(&m.OrganizationID, &m.UserID, &m.IsAdmin, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get organization member: %w", err)
	}
	return &m, nil
}

// GetAccount retrieves a payout account by id.
func (r *Repository) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	query := `
		SELECT id, account_type, admin_id, stripe_id, email, country, currency,
		       is_details_submitted, is_charges_enabled, is_payouts_enabled,
		       processor_fees_applicable, platform_fee_percent, platform_fee_fixed,
		       business_type, status, next_review_threshold, created_at, modified_at, deleted_at
		FROM accounts
		WHERE id = $1 AND deleted_at IS NULL
	`

	var a model.Account
	err := r.q(ctx).QueryRow(ctx, query, id).Scan(
		&a.ID, &a.AccountType, &a.AdminID, &a.StripeID, &a.Email, &a.Country, &a.Currency,
		&a.IsDetailsSubmitted, &a.IsChargesEnabled, &a.IsPayoutsEnabled,
		&a.ProcessorFeesApplicable, &a.PlatformFeePercent, &a.PlatformFeeFixed,
		&a.BusinessType, &a.Status, &a.NextReviewThreshold, &a.CreatedAt, &a.ModifiedAt, &a.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

func scanOrganization(row pgx.Row) (*model.Organization, error) {
	var o model.Organization
	err := row.Scan(
		&o.ID, &o.Name, &o.Slug, &o.Platform, &o.AvatarURL, &o.AccountID, &o.BillingEmail,
		&o.PledgeMinimumAmount, &o.PledgeBadgeShowAmount, &o.DefaultBadgeCustomContent,
		&o.DefaultUpfrontSplitToContributors, &o.TotalMonthlySpendingLimit, &o.PerUserMonthlySpendingLimit,
		&o.CreatedAt, &o.ModifiedAt, &o.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to scan organization: %w", err)
	}
	return &o, nil
}
