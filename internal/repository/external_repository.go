package repository

import (
	"context"
	"fmt"

	"github.com/checkoutd/checkoutd/internal/model"
	"github.com/jackc/pgx/v5"
)

const externalRepositoryColumns = `
	id, organization_id, name, is_private, open_issues, pledge_badge_auto_embed, pledge_badge_label,
	synced_issues, auto_embedded_issues, label_embedded_issues, pull_requests, created_at, modified_at`

// ListRepositoriesByOrganization returns the organization's repositories ordered by name.
func (r *Repository) ListRepositoriesByOrganization(ctx context.Context, orgID string) ([]*model.ExternalRepository, error) {
	query := `SELECT ` + externalRepositoryColumns + `
		FROM external_repositories
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY name ASC`
	return r.queryRepositories(ctx, query, orgID)
}

// ListRepositoriesByIDs returns the repositories among ids that belong to orgID.
// Unknown ids are silently skipped.
func (r *Repository) ListRepositoriesByIDs(ctx context.Context, orgID string, ids []string) ([]*model.ExternalRepository, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + externalRepositoryColumns + `
		FROM external_repositories
		WHERE organization_id = $1 AND id = ANY($2) AND deleted_at IS NULL
		ORDER BY name ASC`
	return r.queryRepositories(ctx, query, orgID, ids)
}

// UpdateRepositoryBadgeSettings writes the badge flags of each repository in one batch.
func (r *Repository) UpdateRepositoryBadgeSettings(ctx context.Context, repos []*model.ExternalRepository) error {
	if len(repos) == 0 {
		return nil
	}

	query := `
		UPDATE external_repositories
		SET pledge_badge_auto_embed = $2, pledge_badge_label = $3, modified_at = NOW()
		WHERE id = $1
	`

	batch := &pgx.Batch{}
	for _, repo := range repos {
		batch.Queue(query, repo.ID, repo.PledgeBadgeAutoEmbed, repo.PledgeBadgeLabel)
	}

	results := r.q(ctx).SendBatch(ctx, batch)
	defer results.Close()

	for range repos {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to update repository badge settings: %w", err)
		}
	}
	return nil
}

func (r *Repository) queryRepositories(ctx context.Context, query string, args ...any) ([]*model.ExternalRepository, error) {
	rows, err := r.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*model.ExternalRepository
	for rows.Next() {
		var repo model.ExternalRepository
		if err := rows.Scan(
			&repo.ID, &repo.OrganizationID, &repo.Name, &repo.IsPrivate, &repo.OpenIssues,
			&repo.PledgeBadgeAutoEmbed, &repo.PledgeBadgeLabel,
			&repo.SyncedIssues, &repo.AutoEmbeddedIssues, &repo.LabelEmbeddedIssues, &repo.PullRequests,
			&repo.CreatedAt, &repo.ModifiedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, &repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repositories: %w", err)
	}
	return repos, nil
}
