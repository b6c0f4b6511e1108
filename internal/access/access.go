// Package access is the access gate: it computes a viewer's access tier
// for one audit's report and redacts finding fields according to that tier,
// plus the responsible-disclosure notify/publish side effects that move an
// audit toward (or away from) full auto-publication.
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/ownership"
)

// Viewer is the caller whose access is being resolved.
type Viewer struct {
	ID    string
	Login string
	Token string

	// HasOrgScope reports whether Token carries the GitHub org-membership
	// scope. Threaded through to the ownership resolver, which refuses to
	// call the GitHub API without it and instead asks the caller to
	// re-authorize (ownership.Result.NeedsReauth).
	HasOrgScope bool
}

// disclosureWindow maps an audit's max severity to how long after
// owner-notification it takes for full access to auto-publish.
var disclosureWindow = map[model.Severity]time.Duration{
	model.SeverityCritical: 6 * 30 * 24 * time.Hour,
	model.SeverityHigh:     3 * 30 * 24 * time.Hour,
	model.SeverityMedium:   3 * 30 * 24 * time.Hour,
}

// ResolveTier computes the access tier and whether the audit is
// fully open to every viewer.
func ResolveTier(ctx context.Context, resolver *ownership.Resolver, audit model.Audit, org string, viewer Viewer, now time.Time) (model.AccessTier, bool, error) {
	isAutoPublished := audit.PublishableAfter != nil && audit.OwnerNotified && !now.Before(*audit.PublishableAfter)
	fullAccessForAll := audit.IsPublic || isAutoPublished

	if fullAccessForAll {
		return model.TierOwner, true, nil
	}

	isRequester := audit.RequesterID == viewer.ID
	if viewer.ID != "" {
		res, err := resolver.Resolve(ctx, viewer.Login, org, viewer.Token, viewer.HasOrgScope)
		if err != nil {
			return "", false, fmt.Errorf("access: resolve ownership: %w", err)
		}

		if res.IsOwner {
			return model.TierOwner, false, nil
		}
	}

	if isRequester {
		return model.TierRequester, false, nil
	}

	return model.TierPublic, false, nil
}

// redactedRequesterSeverities are the severities for which a requester-tier
// viewer sees only {id, severity, cweId, repoName, status}. The repo name
// is the prefix of FilePath up to the first '/'.
var redactedRequesterSeverities = map[model.Severity]bool{
	model.SeverityCritical: true,
	model.SeverityHigh:     true,
	model.SeverityMedium:   true,
}

// RedactForTier returns the finding set a viewer at tier should see,
// applying the tier's field-visibility rules. It never mutates the input
// slice.
func RedactForTier(findings []model.Finding, tier model.AccessTier) []model.Finding {
	switch tier {
	case model.TierOwner:
		out := make([]model.Finding, len(findings))
		copy(out, findings)

		return out
	case model.TierRequester:
		out := make([]model.Finding, len(findings))

		for i, f := range findings {
			if redactedRequesterSeverities[f.Severity] {
				out[i] = model.Finding{
					ID:       f.ID,
					AuditID:  f.AuditID,
					Severity: f.Severity,
					CWEID:    f.CWEID,
					FilePath: repoPrefix(f.FilePath),
					Status:   f.Status,
				}

				continue
			}

			out[i] = f
		}

		return out
	case model.TierPublic:
		return nil
	default:
		return nil
	}
}

// SeverityCounts tallies findings by severity, the only per-finding detail a
// public-tier viewer is allowed to see.
func SeverityCounts(findings []model.Finding) map[model.Severity]int {
	counts := make(map[model.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}

	return counts
}

// RedactedSeverities lists every severity present among findings, exposed to
// public-tier viewers alongside the counts.
func RedactedSeverities(findings []model.Finding) []model.Severity {
	seen := make(map[model.Severity]bool)

	var out []model.Severity

	for _, f := range findings {
		if !seen[f.Severity] {
			seen[f.Severity] = true
			out = append(out, f.Severity)
		}
	}

	return out
}

func repoPrefix(filePath string) string {
	for i := 0; i < len(filePath); i++ {
		if filePath[i] == '/' {
			return filePath[:i]
		}
	}

	return filePath
}

// Disclosure is the storage dependency the notify/publish side effects need.
type Disclosure interface {
	SetDisclosure(ctx context.Context, auditID string, notifiedAt time.Time, publishableAfter *time.Time) error
	SetPublic(ctx context.Context, auditID string, public bool) error
	ClearPublishableAfter(ctx context.Context, auditID string) error
}

// NotifyOwner computes publishable_after from the audit's max severity and
// atomically sets owner_notified/owner_notified_at/publishable_after.
// Idempotent: if audit.OwnerNotified is already true, it returns the
// existing publishable_after unchanged and performs no write.
func NotifyOwner(ctx context.Context, store Disclosure, audit model.Audit, now time.Time) (*time.Time, error) {
	if audit.OwnerNotified {
		return audit.PublishableAfter, nil
	}

	var publishableAfter *time.Time

	if window, ok := disclosureWindow[audit.MaxSeverity]; ok {
		t := now.Add(window)
		publishableAfter = &t
	}

	if err := store.SetDisclosure(ctx, audit.ID, now, publishableAfter); err != nil {
		return nil, fmt.Errorf("access: notify owner: %w", err)
	}

	return publishableAfter, nil
}

// Publish sets an audit fully public immediately, independent of the
// disclosure timer.
func Publish(ctx context.Context, store Disclosure, auditID string) error {
	if err := store.SetPublic(ctx, auditID, true); err != nil {
		return fmt.Errorf("access: publish: %w", err)
	}

	return nil
}

// Unpublish clears is_public and the auto-publish timer, reverting tiers
// back to owner/requester/public on the next resolve.
func Unpublish(ctx context.Context, store Disclosure, auditID string) error {
	if err := store.SetPublic(ctx, auditID, false); err != nil {
		return fmt.Errorf("access: unpublish: %w", err)
	}

	if err := store.ClearPublishableAfter(ctx, auditID); err != nil {
		return fmt.Errorf("access: unpublish: %w", err)
	}

	return nil
}
