package reposstore

import (
	"io/fs"
	"math"
	"path/filepath"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// roughTokensDivisor approximates tokens-per-byte for unseen source text.
const roughTokensDivisor = 3.3

// ScanCodeFiles walks root and returns every file eligible for analysis:
// extension in the curated code set OR basename in the curated infra set,
// not under a skipped ancestor directory, non-empty, and at most 1 MiB.
// Symlinks are not followed.
func ScanCodeFiles(root string) ([]model.ScannedFile, error) {
	var files []model.ScannedFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if !eligible(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped, not fatal
		}

		size := info.Size()
		if size == 0 || size > maxFileSize {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil //nolint:nilerr
		}

		files = append(files, model.ScannedFile{
			RelativePath: filepath.ToSlash(rel),
			Size:         size,
			RoughTokens:  int64(math.Ceil(float64(size) / roughTokensDivisor)),
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func eligible(basename string) bool {
	if codeBasenames[basename] {
		return true
	}

	return codeExtensions[strings.ToLower(filepath.Ext(basename))]
}
