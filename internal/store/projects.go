package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("store: not found")

// CreateProject inserts a new project. Callers are responsible for the
// invariant that at most one project exists per (creator, org, sorted repo
// names); this method does not itself sort or dedupe repo names.
func (s *Store) CreateProject(ctx context.Context, p model.Project) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	involved, err := json.Marshal(p.InvolvedParties)
	if err != nil {
		return "", fmt.Errorf("store: marshal involved_parties: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, github_org, github_entity_type, created_by, name, involved_parties, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.GithubOrg, p.GithubEntityType, p.CreatedBy, p.Name, string(involved), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("store: create project: %w", err)
	}

	return p.ID, nil
}

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (model.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, github_org, github_entity_type, created_by, name,
		       COALESCE(category, ''), COALESCE(description, ''), COALESCE(involved_parties, ''),
		       COALESCE(threat_model, ''), COALESCE(threat_model_parties, ''),
		       COALESCE(threat_model_source, ''), COALESCE(threat_model_files, ''),
		       COALESCE(classification_audit_id, '')
		FROM projects WHERE id = ?`, id)

	var (
		p                            model.Project
		involvedRaw, partiesRaw, filesRaw string
	)

	err := row.Scan(&p.ID, &p.GithubOrg, &p.GithubEntityType, &p.CreatedBy, &p.Name,
		&p.Category, &p.Description, &involvedRaw,
		&p.ThreatModel, &partiesRaw, &p.ThreatModelSource, &filesRaw, &p.ClassificationAuditID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, fmt.Errorf("%w: project %s", ErrNotFound, id)
	}

	if err != nil {
		return model.Project{}, fmt.Errorf("store: get project: %w", err)
	}

	if involvedRaw != "" {
		_ = json.Unmarshal([]byte(involvedRaw), &p.InvolvedParties)
	}

	if partiesRaw != "" {
		_ = json.Unmarshal([]byte(partiesRaw), &p.ThreatModelParties)
	}

	if filesRaw != "" {
		_ = json.Unmarshal([]byte(filesRaw), &p.ThreatModelFiles)
	}

	p.RepoIDs, err = s.listProjectRepoIDs(ctx, id)
	if err != nil {
		return model.Project{}, err
	}

	return p, nil
}

func (s *Store) listProjectRepoIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT repo_id FROM project_repos WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list project repos: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan project repo: %w", err)
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// SetClassification persists the first-successful-audit classification
// fields onto a project. These fields are set once and never overwritten;
// callers (the orchestrator) are expected to skip this call when
// Project.Category is already non-empty.
func (s *Store) SetClassification(ctx context.Context, projectID string, p model.Project, classificationAuditID string) error {
	involved, err := json.Marshal(p.InvolvedParties)
	if err != nil {
		return fmt.Errorf("store: marshal involved_parties: %w", err)
	}

	parties, err := json.Marshal(p.ThreatModelParties)
	if err != nil {
		return fmt.Errorf("store: marshal threat_model_parties: %w", err)
	}

	files, err := json.Marshal(p.ThreatModelFiles)
	if err != nil {
		return fmt.Errorf("store: marshal threat_model_files: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE projects
		SET category = ?, description = ?, involved_parties = ?,
		    threat_model = ?, threat_model_parties = ?, threat_model_source = ?,
		    threat_model_files = ?, classification_audit_id = ?
		WHERE id = ?`,
		p.Category, p.Description, string(involved),
		p.ThreatModel, string(parties), string(p.ThreatModelSource),
		string(files), classificationAuditID, projectID,
	)
	if err != nil {
		return fmt.Errorf("store: set classification: %w", err)
	}

	return nil
}

// AddProjectRepo links repoID to projectID with an optional branch override.
func (s *Store) AddProjectRepo(ctx context.Context, projectID, repoID, branch string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_repos (project_id, repo_id, branch) VALUES (?, ?, ?)
		ON CONFLICT(project_id, repo_id) DO UPDATE SET branch = excluded.branch`,
		projectID, repoID, nullString(branch),
	)
	if err != nil {
		return fmt.Errorf("store: add project repo: %w", err)
	}

	return nil
}
