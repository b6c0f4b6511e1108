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

// CreateAudit inserts a new audit in status "cloning" and returns its id.
func (s *Store) CreateAudit(ctx context.Context, a model.Audit) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	componentIDs, err := json.Marshal(a.ComponentIDs)
	if err != nil {
		return "", fmt.Errorf("store: marshal component_ids: %w", err)
	}

	progress, err := json.Marshal(a.Progress)
	if err != nil {
		return "", fmt.Errorf("store: marshal progress: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audits (
			id, project_id, requester_id, level, is_incremental, base_audit_id,
			component_scoped, component_ids, status, progress_detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.RequesterID, string(a.Level), a.IsIncremental, nullString(a.BaseAuditID),
		a.ComponentScoped, string(componentIDs), string(model.StatusCloning), string(progress),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("store: create audit: %w", err)
	}

	return a.ID, nil
}

// GetAudit loads an audit by id.
func (s *Store) GetAudit(ctx context.Context, id string) (model.Audit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, requester_id, level, is_incremental, COALESCE(base_audit_id, ''),
		       component_scoped, component_ids, status, total_files, total_tokens,
		       files_to_analyze, tokens_to_analyze, files_analyzed, progress_detail,
		       COALESCE(report_summary, ''), COALESCE(max_severity, ''), actual_cost_usd,
		       COALESCE(error_message, ''), is_public, publishable_after, owner_notified,
		       owner_notified_at, COALESCE(diff_files_added, ''), COALESCE(diff_files_modified, ''),
		       COALESCE(diff_files_deleted, ''), created_at, started_at, completed_at
		FROM audits WHERE id = ?`, id)

	return scanAudit(row)
}

func scanAudit(row *sql.Row) (model.Audit, error) {
	var (
		a                                                          model.Audit
		level, status, progressRaw, reportRaw, maxSeverity         string
		componentIDsRaw, addedRaw, modifiedRaw, deletedRaw         string
		publishableAfter, ownerNotifiedAt, startedAt, completedAt  sql.NullTime
		createdAt                                                  string
	)

	err := row.Scan(&a.ID, &a.ProjectID, &a.RequesterID, &level, &a.IsIncremental, &a.BaseAuditID,
		&a.ComponentScoped, &componentIDsRaw, &status, &a.TotalFiles, &a.TotalTokens,
		&a.FilesToAnalyze, &a.TokensToAnalyze, &a.FilesAnalyzed, &progressRaw,
		&reportRaw, &maxSeverity, &a.ActualCostUSD,
		&a.ErrorMessage, &a.IsPublic, &publishableAfter, &a.OwnerNotified,
		&ownerNotifiedAt, &addedRaw, &modifiedRaw,
		&deletedRaw, &createdAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Audit{}, fmt.Errorf("%w: audit", ErrNotFound)
	}

	if err != nil {
		return model.Audit{}, fmt.Errorf("store: scan audit: %w", err)
	}

	a.Level = model.AuditLevel(level)
	a.Status = model.AuditStatus(status)
	a.MaxSeverity = model.Severity(maxSeverity)

	_ = json.Unmarshal([]byte(componentIDsRaw), &a.ComponentIDs)
	_ = json.Unmarshal([]byte(addedRaw), &a.DiffFilesAdded)
	_ = json.Unmarshal([]byte(modifiedRaw), &a.DiffFilesModified)
	_ = json.Unmarshal([]byte(deletedRaw), &a.DiffFilesDeleted)
	_ = json.Unmarshal([]byte(progressRaw), &a.Progress)

	a.PublishableAfter = fromNullTime(publishableAfter)
	a.OwnerNotifiedAt = fromNullTime(ownerNotifiedAt)
	a.StartedAt = fromNullTime(startedAt)
	a.CompletedAt = fromNullTime(completedAt)

	if reportRaw != "" {
		var rs model.ReportSummary
		if err := json.Unmarshal([]byte(reportRaw), &rs); err == nil {
			a.ReportSummary = &rs
		}
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)

	return a, nil
}

// SetStatus transitions an audit to a non-terminal status (cloning,
// classifying, planning, analyzing, synthesizing). The first SetStatus call
// for an audit, whatever the status, additionally records started_at.
func (s *Store) SetStatus(ctx context.Context, auditID string, status model.AuditStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audits SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), auditID,
	)
	if err != nil {
		return fmt.Errorf("store: set status: %w", err)
	}

	return nil
}

// SetTotals updates the file/token accounting columns computed during
// Clone (total_files/total_tokens) or Plan (files_to_analyze/tokens_to_analyze).
func (s *Store) SetTotals(ctx context.Context, auditID string, totalFiles int, totalTokens int64, filesToAnalyze int, tokensToAnalyze int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audits SET total_files = ?, total_tokens = ?, files_to_analyze = ?, tokens_to_analyze = ? WHERE id = ?`,
		totalFiles, totalTokens, filesToAnalyze, tokensToAnalyze, auditID,
	)
	if err != nil {
		return fmt.Errorf("store: set totals: %w", err)
	}

	return nil
}

// SetDiff persists the incremental-audit diff file lists.
func (s *Store) SetDiff(ctx context.Context, auditID string, added, modified, deleted []string) error {
	a, _ := json.Marshal(added)
	m, _ := json.Marshal(modified)
	d, _ := json.Marshal(deleted)

	_, err := s.db.ExecContext(ctx, `
		UPDATE audits SET diff_files_added = ?, diff_files_modified = ?, diff_files_deleted = ? WHERE id = ?`,
		string(a), string(m), string(d), auditID,
	)
	if err != nil {
		return fmt.Errorf("store: set diff: %w", err)
	}

	return nil
}

// UpdateProgress atomically writes the progress_detail payload together with
// files_analyzed, so companion counters on the same record are written in
// the same statement.
func (s *Store) UpdateProgress(ctx context.Context, auditID string, p model.Progress, filesAnalyzed int) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: marshal progress: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE audits SET progress_detail = ?, files_analyzed = ? WHERE id = ?`,
		string(raw), filesAnalyzed, auditID)
	if err != nil {
		return fmt.Errorf("store: update progress: %w", err)
	}

	return nil
}

// AddCost adds delta to the audit's running actual_cost_usd total.
func (s *Store) AddCost(ctx context.Context, auditID string, delta float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE audits SET actual_cost_usd = actual_cost_usd + ? WHERE id = ?`, delta, auditID)
	if err != nil {
		return fmt.Errorf("store: add cost: %w", err)
	}

	return nil
}

// Complete marks an audit completed (or completed_with_warnings), persisting
// the synthesized report, max severity, and completion timestamp.
func (s *Store) Complete(ctx context.Context, auditID string, status model.AuditStatus, report model.ReportSummary, maxSeverity model.Severity) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("store: marshal report summary: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE audits SET status = ?, report_summary = ?, max_severity = ?, completed_at = ? WHERE id = ?`,
		string(status), string(raw), string(maxSeverity), time.Now().UTC().Format(time.RFC3339Nano), auditID,
	)
	if err != nil {
		return fmt.Errorf("store: complete audit: %w", err)
	}

	return nil
}

// Fail marks an audit failed with an explanatory message, preserving any
// findings already inserted: failures never delete partial results.
func (s *Store) Fail(ctx context.Context, auditID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audits SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(model.StatusFailed), message, time.Now().UTC().Format(time.RFC3339Nano), auditID,
	)
	if err != nil {
		return fmt.Errorf("store: fail audit: %w", err)
	}

	return nil
}

// SetDisclosure atomically sets owner_notified/owner_notified_at/publishable_after.
func (s *Store) SetDisclosure(ctx context.Context, auditID string, notifiedAt time.Time, publishableAfter *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE audits SET owner_notified = 1, owner_notified_at = ?, publishable_after = ? WHERE id = ?`,
		notifiedAt.UTC().Format(time.RFC3339Nano), nullTime(publishableAfter), auditID,
	)
	if err != nil {
		return fmt.Errorf("store: set disclosure: %w", err)
	}

	return nil
}

// SetPublic sets (or clears) is_public.
func (s *Store) SetPublic(ctx context.Context, auditID string, public bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE audits SET is_public = ? WHERE id = ?`, public, auditID)
	if err != nil {
		return fmt.Errorf("store: set public: %w", err)
	}

	return nil
}

// ClearPublishableAfter clears the auto-publish timer, used by unpublish.
func (s *Store) ClearPublishableAfter(ctx context.Context, auditID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE audits SET publishable_after = NULL WHERE id = ?`, auditID)
	if err != nil {
		return fmt.Errorf("store: clear publishable_after: %w", err)
	}

	return nil
}

// UpsertAuditCommit records the commit/branch an audit analyzed for repoID.
func (s *Store) UpsertAuditCommit(ctx context.Context, auditID, repoID, commitSHA, branch string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_commits (audit_id, repo_id, commit_sha, branch) VALUES (?, ?, ?, ?)
		ON CONFLICT(audit_id, repo_id) DO UPDATE SET commit_sha = excluded.commit_sha, branch = excluded.branch`,
		auditID, repoID, commitSHA, nullString(branch),
	)
	if err != nil {
		return fmt.Errorf("store: upsert audit commit: %w", err)
	}

	return nil
}

// GetAuditCommits returns every (repo, commit) pair recorded for auditID.
func (s *Store) GetAuditCommits(ctx context.Context, auditID string) ([]model.AuditCommit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT audit_id, repo_id, commit_sha, COALESCE(branch, '') FROM audit_commits WHERE audit_id = ?`, auditID)
	if err != nil {
		return nil, fmt.Errorf("store: get audit commits: %w", err)
	}
	defer rows.Close()

	var out []model.AuditCommit

	for rows.Next() {
		var c model.AuditCommit
		if err := rows.Scan(&c.AuditID, &c.RepoID, &c.CommitSHA, &c.Branch); err != nil {
			return nil, fmt.Errorf("store: scan audit commit: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}
