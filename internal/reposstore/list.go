package reposstore

import (
	"fmt"
	"os"
)

// ListDirectory returns the sorted entry names of dir (relative to repoRoot,
// empty string for the root), directories annotated with a trailing "/",
// files annotated with their size. Entries in the skip set are filtered out
// before the agent tool result is built.
func ListDirectory(repoRoot, dir string) ([]string, error) {
	resolved, err := resolveWithinRoot(repoRoot, dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		case os.IsPermission(err):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, dir)
		default:
			return nil, fmt.Errorf("%w: %s: %w", ErrIO, dir, err)
		}
	}

	out := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() {
			if skipDirs[e.Name()] {
				continue
			}

			out = append(out, e.Name()+"/")

			continue
		}

		info, infoErr := e.Info()
		if infoErr != nil {
			continue
		}

		out = append(out, fmt.Sprintf("%s (%d bytes)", e.Name(), info.Size()))
	}

	return out, nil
}
