// Package progress is the progress bus: it writes tagged progress
// records into durable storage atomically with the companion counters
// external pollers read alongside them, and exposes no ordering guarantee
// across writes (callers that need monotonic reads should resubmit the
// full current Progress value, not a delta).
package progress

import (
	"context"
	"fmt"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// Writer is the storage dependency the bus writes through; internal/store's
// *Store satisfies it.
type Writer interface {
	UpdateProgress(ctx context.Context, auditID string, p model.Progress, filesAnalyzed int) error
}

// Bus publishes progress for a single audit task.
type Bus struct {
	w       Writer
	auditID string

	current       model.Progress
	filesAnalyzed int
}

// New returns a Bus that writes progress for auditID through w.
func New(w Writer, auditID string) *Bus {
	return &Bus{w: w, auditID: auditID}
}

// Write replaces the current progress record and persists it along with the
// given files-analyzed counter in one atomic store call.
func (b *Bus) Write(ctx context.Context, p model.Progress, filesAnalyzed int) error {
	b.current = p
	b.filesAnalyzed = filesAnalyzed

	if err := b.w.UpdateProgress(ctx, b.auditID, p, filesAnalyzed); err != nil {
		return fmt.Errorf("progress: write: %w", err)
	}

	return nil
}

// Warn appends a non-fatal warning to the current record and re-writes it,
// preserving whatever files-analyzed counter was last set.
func (b *Bus) Warn(ctx context.Context, warning string) error {
	b.current.AddWarning(warning)

	return b.Write(ctx, b.current, b.filesAnalyzed)
}

// MarkFile updates one file's status within an analyzing-phase record and
// re-writes it, bumping filesAnalyzed when the file just completed (done or
// error, not pending).
func (b *Bus) MarkFile(ctx context.Context, file, status string, findingsCount int) error {
	b.current.MarkFile(file, status, findingsCount)

	if status == model.FileStatusDone || status == model.FileStatusError {
		b.filesAnalyzed++
	}

	return b.Write(ctx, b.current, b.filesAnalyzed)
}

// Current returns the last-written progress record, for callers (like the
// orchestrator) that need to transition phases (e.g. Analyzing -> Done)
// without losing accumulated warnings and file statuses.
func (b *Bus) Current() model.Progress {
	return b.current
}
