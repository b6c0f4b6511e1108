// Package prompts loads named prompt templates from disk and renders them
// with literal {{var}} substitution.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrInvalidName is returned when a template name fails the traversal guard.
var ErrInvalidName = errors.New("prompts: invalid template name")

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// roots are the well-known relative locations searched, in order, for
// "<name>.md". The second entry covers running from a package's own test
// binary or a subcommand whose working directory differs from the repo root.
var roots = []string{"prompts", "../prompts"}

// Load reads prompts/<name>.md from one of the well-known relative roots.
// name must match ^[A-Za-z0-9_-]+$.
func Load(name string) (string, error) {
	if !nameRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	var lastErr error

	for _, root := range roots {
		content, err := os.ReadFile(filepath.Join(root, name+".md"))
		if err == nil {
			return string(content), nil
		}

		lastErr = err
	}

	return "", fmt.Errorf("prompts: load %q: %w", name, lastErr)
}

// Render performs global, literal substitution of {{key}} placeholders in
// template using vars. Missing keys are left as literal text.
func Render(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]

		if v, ok := vars[key]; ok {
			return v
		}

		return match
	})
}

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z0-9_.]+)\}\}`)
