package planner

import (
	"bufio"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/reposstore"
)

const (
	maxSampleMatchesPerFile = 3
	maxSampleMatchLen       = 120
)

// grepPattern is one case-insensitive pattern scored into a security category.
type grepPattern struct {
	category string
	re       *regexp.Regexp
}

// securityPatterns is the fixed 38-pattern, six-category surface Phase A
// scores every file against. Patterns are deliberately coarse: they exist
// to rank files for LLM attention, not to themselves report findings.
var securityPatterns = compilePatterns(map[string][]string{
	"injection": {
		`exec\.command`, `os/exec`, `eval\(`, `system\(`, `shell_exec`,
		`subprocess\.`, `\bsh -c\b`, `child_process`,
	},
	"sql": {
		`\bselect\b.*\bfrom\b`, `\bexec\b.*sql`, `rawquery`, `db\.query\(`,
		`string\s*\+.*select`, `fmt\.sprintf\(.*select`,
	},
	"auth": {
		`password\s*=`, `api_?key\s*=`, `secret\s*=`, `bearer\s+`,
		`basic auth`, `jwt\.`, `authorization header`,
	},
	"crypto": {
		`md5\(`, `sha1\(`, `des\.`, `ecb`, `math/rand`, `\brandom\.\b`,
		`hardcoded`,
	},
	"network": {
		`0\.0\.0\.0`, `insecureskipverify`, `http://`, `tls\.config\{`,
		`allowany`,
	},
	"file_io": {
		`\.\./`, `os\.open\(`, `ioutil\.readfile`, `path\.join\(.*input`,
		`filepath\.join\(.*req`,
	},
})

func compilePatterns(byCategory map[string][]string) []grepPattern {
	var out []grepPattern

	for category, raws := range byCategory {
		for _, raw := range raws {
			out = append(out, grepPattern{category: category, re: regexp.MustCompile(`(?i)` + raw)})
		}
	}

	return out
}

// GrepMatch is one sample occurrence of a security-relevant pattern.
type GrepMatch struct {
	Category string
	Line     int
	Text     string
}

// GrepResult is Phase A's per-file output: a hit count used for ranking and
// up to three representative sample matches.
type GrepResult struct {
	File    string
	Hits    int
	Samples []GrepMatch
}

// RunSecurityGrep scans repoRoot/file for each file in files, reading
// through the repo store's guarded reader so no path can escape the repo
// root.
func RunSecurityGrep(repoRoot string, files []string) ([]GrepResult, error) {
	results := make([]GrepResult, 0, len(files))

	for _, file := range files {
		res, err := grepOneFile(repoRoot, file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, err
		}

		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Hits > results[j].Hits })

	return results, nil
}

func grepOneFile(repoRoot, relativePath string) (GrepResult, error) {
	content, err := reposstore.ReadFileContent(repoRoot, relativePath)
	if err != nil {
		return GrepResult{}, err
	}

	res := GrepResult{File: relativePath}

	scanner := bufio.NewScanner(strings.NewReader(string(content)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()

		for _, p := range securityPatterns {
			if !p.re.MatchString(text) {
				continue
			}

			res.Hits++

			if len(res.Samples) < maxSampleMatchesPerFile {
				res.Samples = append(res.Samples, GrepMatch{
					Category: p.category,
					Line:     line,
					Text:     truncate(strings.TrimSpace(text), maxSampleMatchLen),
				})
			}
		}
	}

	return res, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	return s[:max]
}
