package reposstore

import (
	"context"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// DiffBetweenCommits parses `git diff --name-status` between baseSHA and
// headSHA. Unrecognized status codes are ignored. On any git failure the
// caller should treat every file as added (see IsFallback) and record a
// warning, per the degrade-to-full-reanalysis policy.
func DiffBetweenCommits(ctx context.Context, path, baseSHA, headSHA string) model.Diff {
	out, err := runGit(ctx, path, "diff", "--name-status", baseSHA, headSHA)
	if err != nil {
		return model.Diff{IsFallback: true}
	}

	diff := model.Diff{}

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}

		status := fields[0]

		switch {
		case status == "A":
			diff.Added = append(diff.Added, fields[1])
		case status == "M":
			diff.Modified = append(diff.Modified, fields[1])
		case status == "D":
			diff.Deleted = append(diff.Deleted, fields[1])
		case strings.HasPrefix(status, "R"):
			if len(fields) >= 3 {
				diff.Renamed = append(diff.Renamed, model.Rename{From: fields[1], To: fields[2]})
			}
		default:
			// Unrecognized status (e.g. "C" for copy, "T" for type change): ignored.
		}
	}

	return diff
}
