package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// ReplaceComponentsAndDependencies replaces projectID's component list and
// dependency list in a single transaction, so a crash partway through never
// leaves one replaced without the other. A component referenced by an
// audit_findings row must survive re-analysis so old reports keep resolving
// their component attribution; dependencies carry no such history and are
// always fully replaced.
func (s *Store) ReplaceComponentsAndDependencies(ctx context.Context, projectID string, components []model.Component, deps []model.Dependency) ([]model.Component, error) {
	inserted := make([]model.Component, len(components))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM components
			WHERE project_id = ?
			AND id NOT IN (SELECT DISTINCT component_id FROM audit_findings WHERE component_id IS NOT NULL)`,
			projectID)
		if err != nil {
			return fmt.Errorf("delete stale components: %w", err)
		}

		for i, c := range components {
			c.ProjectID = projectID
			if c.ID == "" {
				c.ID = uuid.NewString()
			}

			patterns, marshalErr := json.Marshal(c.FilePatterns)
			if marshalErr != nil {
				return fmt.Errorf("marshal file_patterns: %w", marshalErr)
			}

			languages, marshalErr := json.Marshal(c.Languages)
			if marshalErr != nil {
				return fmt.Errorf("marshal languages: %w", marshalErr)
			}

			var profile []byte
			if c.SecurityProfile != nil {
				profile, marshalErr = json.Marshal(c.SecurityProfile)
				if marshalErr != nil {
					return fmt.Errorf("marshal security_profile: %w", marshalErr)
				}
			}

			_, execErr := tx.ExecContext(ctx, `
				INSERT INTO components (id, project_id, repo_id, name, description, role, file_patterns, languages, security_profile, estimated_files, estimated_tokens)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					name = excluded.name, description = excluded.description, role = excluded.role,
					file_patterns = excluded.file_patterns, languages = excluded.languages,
					security_profile = excluded.security_profile,
					estimated_files = excluded.estimated_files, estimated_tokens = excluded.estimated_tokens`,
				c.ID, c.ProjectID, c.RepoID, c.Name, c.Description, string(c.Role),
				string(patterns), string(languages), nullString(string(profile)),
				c.EstimatedFiles, c.EstimatedTokens,
			)
			if execErr != nil {
				return fmt.Errorf("insert component: %w", execErr)
			}

			inserted[i] = c
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM project_dependencies WHERE project_id = ?`, projectID); err != nil {
			return fmt.Errorf("delete dependencies: %w", err)
		}

		for _, d := range deps {
			if d.ID == "" {
				d.ID = uuid.NewString()
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO project_dependencies (id, project_id, repo_id, name, version, ecosystem, source_repo_url, linked_project_id)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				d.ID, projectID, nullString(d.RepoID), d.Name, nullString(d.Version), d.Ecosystem,
				nullString(d.SourceRepoURL), nullString(d.LinkedProjectID),
			)
			if err != nil {
				return fmt.Errorf("insert dependency: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: replace components and dependencies: %w", err)
	}

	return inserted, nil
}

// ListComponents returns every component of projectID.
func (s *Store) ListComponents(ctx context.Context, projectID string) ([]model.Component, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, repo_id, name, COALESCE(description, ''), role, file_patterns, languages,
		       COALESCE(security_profile, ''), estimated_files, estimated_tokens
		FROM components WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list components: %w", err)
	}
	defer rows.Close()

	var out []model.Component

	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// GetComponentsByIDs returns components matching any of ids, in no
// particular order. Used to scope analysis to a component selection.
func (s *Store) GetComponentsByIDs(ctx context.Context, ids []string) ([]model.Component, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))

	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}

		placeholders = append(placeholders, '?')
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, project_id, repo_id, name, COALESCE(description, ''), role, file_patterns, languages,
		       COALESCE(security_profile, ''), estimated_files, estimated_tokens
		FROM components WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("store: get components by id: %w", err)
	}
	defer rows.Close()

	var out []model.Component

	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

func scanComponent(rows *sql.Rows) (model.Component, error) {
	var (
		c                       model.Component
		role                    string
		patternsRaw, languagesRaw, profileRaw string
	)

	if err := rows.Scan(&c.ID, &c.ProjectID, &c.RepoID, &c.Name, &c.Description, &role,
		&patternsRaw, &languagesRaw, &profileRaw, &c.EstimatedFiles, &c.EstimatedTokens); err != nil {
		return model.Component{}, fmt.Errorf("store: scan component: %w", err)
	}

	c.Role = model.ComponentRole(role)
	_ = json.Unmarshal([]byte(patternsRaw), &c.FilePatterns)
	_ = json.Unmarshal([]byte(languagesRaw), &c.Languages)

	if profileRaw != "" {
		var profile model.SecurityProfile
		if err := json.Unmarshal([]byte(profileRaw), &profile); err == nil {
			c.SecurityProfile = &profile
		}
	}

	return c, nil
}

// UpsertAuditComponent records tokens analyzed and findings attributed to a
// component within one audit.
func (s *Store) UpsertAuditComponent(ctx context.Context, auditID, componentID string, tokensAnalyzed int64, findingsCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_components (audit_id, component_id, tokens_analyzed, findings_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(audit_id, component_id) DO UPDATE SET
			tokens_analyzed = excluded.tokens_analyzed, findings_count = excluded.findings_count`,
		auditID, componentID, tokensAnalyzed, findingsCount,
	)
	if err != nil {
		return fmt.Errorf("store: upsert audit component: %w", err)
	}

	return nil
}
