package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// InsertFindings inserts a batch of findings for one audit in a single
// transaction. Findings whose fingerprint already exists for the audit are
// silently skipped rather than erroring, since callers already dedupe
// against the in-memory fingerprint set before calling this.
func (s *Store) InsertFindings(ctx context.Context, findings []model.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, f := range findings {
			if f.ID == "" {
				f.ID = uuid.NewString()
			}

			_, err := tx.ExecContext(ctx, `
				INSERT INTO audit_findings (
					id, audit_id, component_id, file_path, line_start, line_end, severity,
					cwe_id, cvss_score, title, description, exploitation, recommendation,
					code_snippet, status, fingerprint, resolved_in_audit_id
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(audit_id, fingerprint) DO NOTHING`,
				f.ID, f.AuditID, nullString(f.ComponentID), f.FilePath, f.LineStart, f.LineEnd, string(f.Severity),
				nullString(f.CWEID), f.CVSSScore, f.Title, f.Description, f.Exploitation, f.Recommendation,
				f.CodeSnippet, string(f.Status), f.Fingerprint, nullString(f.ResolvedInAuditID),
			)
			if err != nil {
				return fmt.Errorf("insert finding %s: %w", f.Fingerprint, err)
			}
		}

		return nil
	})
}

// ListFindings returns every finding recorded against auditID.
func (s *Store) ListFindings(ctx context.Context, auditID string) ([]model.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, audit_id, COALESCE(component_id, ''), file_path, line_start, line_end, severity,
		       COALESCE(cwe_id, ''), COALESCE(cvss_score, 0), title, COALESCE(description, ''),
		       COALESCE(exploitation, ''), COALESCE(recommendation, ''), COALESCE(code_snippet, ''),
		       status, fingerprint, COALESCE(resolved_in_audit_id, '')
		FROM audit_findings WHERE audit_id = ?`, auditID)
	if err != nil {
		return nil, fmt.Errorf("store: list findings: %w", err)
	}
	defer rows.Close()

	var out []model.Finding

	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, f)
	}

	return out, rows.Err()
}

// ListOpenFindings returns findings with status "open" for auditID, used by
// incremental inheritance to carry base-audit findings forward.
func (s *Store) ListOpenFindings(ctx context.Context, auditID string) ([]model.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, audit_id, COALESCE(component_id, ''), file_path, line_start, line_end, severity,
		       COALESCE(cwe_id, ''), COALESCE(cvss_score, 0), title, COALESCE(description, ''),
		       COALESCE(exploitation, ''), COALESCE(recommendation, ''), COALESCE(code_snippet, ''),
		       status, fingerprint, COALESCE(resolved_in_audit_id, '')
		FROM audit_findings WHERE audit_id = ? AND status = ?`, auditID, string(model.FindingOpen))
	if err != nil {
		return nil, fmt.Errorf("store: list open findings: %w", err)
	}
	defer rows.Close()

	var out []model.Finding

	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, f)
	}

	return out, rows.Err()
}

func scanFinding(rows *sql.Rows) (model.Finding, error) {
	var (
		f        model.Finding
		severity string
		status   string
	)

	if err := rows.Scan(&f.ID, &f.AuditID, &f.ComponentID, &f.FilePath, &f.LineStart, &f.LineEnd, &severity,
		&f.CWEID, &f.CVSSScore, &f.Title, &f.Description, &f.Exploitation, &f.Recommendation,
		&f.CodeSnippet, &status, &f.Fingerprint, &f.ResolvedInAuditID); err != nil {
		return model.Finding{}, fmt.Errorf("store: scan finding: %w", err)
	}

	f.Severity = model.Severity(severity)
	f.Status = model.FindingStatus(status)

	return f, nil
}

// MarkFindingResolved sets resolved_in_audit_id on a base-audit finding once
// the file it concerns has been deleted in a later incremental audit.
func (s *Store) MarkFindingResolved(ctx context.Context, findingID, resolvedInAuditID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE audit_findings SET resolved_in_audit_id = ? WHERE id = ?`, resolvedInAuditID, findingID)
	if err != nil {
		return fmt.Errorf("store: mark finding resolved: %w", err)
	}

	return nil
}

// SetFindingStatus updates a finding's disposition. Callers must have
// already verified the caller is the project owner (RULE-authorization);
// the store layer itself performs no authorization.
func (s *Store) SetFindingStatus(ctx context.Context, findingID string, status model.FindingStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE audit_findings SET status = ? WHERE id = ?`, string(status), findingID)
	if err != nil {
		return fmt.Errorf("store: set finding status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set finding status: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("%w: finding %s", ErrNotFound, findingID)
	}

	return nil
}

// GetFinding loads a single finding by id, used to resolve the owning audit
// (and thus project) for an authorization check before a status mutation.
func (s *Store) GetFinding(ctx context.Context, findingID string) (model.Finding, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, audit_id, COALESCE(component_id, ''), file_path, line_start, line_end, severity,
		       COALESCE(cwe_id, ''), COALESCE(cvss_score, 0), title, COALESCE(description, ''),
		       COALESCE(exploitation, ''), COALESCE(recommendation, ''), COALESCE(code_snippet, ''),
		       status, fingerprint, COALESCE(resolved_in_audit_id, '')
		FROM audit_findings WHERE id = ?`, findingID)

	var (
		f        model.Finding
		severity string
		status   string
	)

	err := row.Scan(&f.ID, &f.AuditID, &f.ComponentID, &f.FilePath, &f.LineStart, &f.LineEnd, &severity,
		&f.CWEID, &f.CVSSScore, &f.Title, &f.Description, &f.Exploitation, &f.Recommendation,
		&f.CodeSnippet, &status, &f.Fingerprint, &f.ResolvedInAuditID)
	if err != nil {
		return model.Finding{}, fmt.Errorf("store: get finding: %w", err)
	}

	f.Severity = model.Severity(severity)
	f.Status = model.FindingStatus(status)

	return f, nil
}
