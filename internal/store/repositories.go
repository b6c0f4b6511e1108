package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// UpsertRepository inserts a repository row keyed by its URL, or returns the
// existing row's id when the URL is already known. Two projects referencing
// the same upstream repo end up sharing one row (and thus one local checkout).
func (s *Store) UpsertRepository(ctx context.Context, r model.Repository) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, repo_url, repo_name, local_path, default_branch)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(repo_url) DO UPDATE SET local_path = excluded.local_path`,
		r.ID, r.RepoURL, r.RepoName, r.LocalPath, nullString(r.DefaultBranch),
	)
	if err != nil {
		return "", fmt.Errorf("store: upsert repository: %w", err)
	}

	var id string

	err = s.db.QueryRowContext(ctx, `SELECT id FROM repositories WHERE repo_url = ?`, r.RepoURL).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("store: read back repository id: %w", err)
	}

	return id, nil
}

// GetRepository loads a repository by id, including the branch override for
// the given project if one was recorded via AddProjectRepo.
func (s *Store) GetRepository(ctx context.Context, projectID, repoID string) (model.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.repo_url, r.repo_name, r.local_path, COALESCE(r.default_branch, ''),
		       COALESCE(pr.branch, '')
		FROM repositories r
		LEFT JOIN project_repos pr ON pr.repo_id = r.id AND pr.project_id = ?
		WHERE r.id = ?`, projectID, repoID)

	var repo model.Repository

	err := row.Scan(&repo.ID, &repo.RepoURL, &repo.RepoName, &repo.LocalPath, &repo.DefaultBranch, &repo.BranchOverride)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Repository{}, fmt.Errorf("%w: repository %s", ErrNotFound, repoID)
	}

	if err != nil {
		return model.Repository{}, fmt.Errorf("store: get repository: %w", err)
	}

	return repo, nil
}

// SetDefaultBranch caches the repository's resolved default branch.
func (s *Store) SetDefaultBranch(ctx context.Context, repoID, branch string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repositories SET default_branch = ? WHERE id = ?`, branch, repoID)
	if err != nil {
		return fmt.Errorf("store: set default branch: %w", err)
	}

	return nil
}

// ListProjectRepos returns every repository linked to projectID.
func (s *Store) ListProjectRepos(ctx context.Context, projectID string) ([]model.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.repo_url, r.repo_name, r.local_path, COALESCE(r.default_branch, ''), COALESCE(pr.branch, '')
		FROM project_repos pr
		JOIN repositories r ON r.id = pr.repo_id
		WHERE pr.project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list project repos: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository

	for rows.Next() {
		var r model.Repository
		if err := rows.Scan(&r.ID, &r.RepoURL, &r.RepoName, &r.LocalPath, &r.DefaultBranch, &r.BranchOverride); err != nil {
			return nil, fmt.Errorf("store: scan repository: %w", err)
		}

		repos = append(repos, r)
	}

	return repos, rows.Err()
}
