package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/codewatch-dev/codewatch/internal/llmgateway"
	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/reposstore"
)

// Tool name constants used in the agent's tool-call protocol.
const (
	ToolListDirectory = "list_directory"
	ToolReadFile      = "read_file"
	ToolSearchFiles   = "search_files"
)

const (
	maxReadLines        = 500
	maxSearchResults    = 100
)

// Sentinel errors surfaced as tool_result is_error payloads rather than
// aborting the turn outright; the agent loop counts these toward the
// consecutive-error circuit breaker.
var (
	ErrEmptyRepoName = errors.New("agent: repo_name is required")
	ErrUnknownRepo   = errors.New("agent: unknown repo_name")
)

// listDirectoryInput is the input schema for ToolListDirectory, generated via
// jsonschema.For the same way the teacher's MCP tools declare their input
// schema from a tagged struct rather than by hand.
type listDirectoryInput struct {
	RepoName string `json:"repo_name" jsonschema:"the repository to list within"`
	Path     string `json:"path" jsonschema:"directory path relative to the repo root; empty string for the root"`
}

// readFileInput is the input schema for ToolReadFile.
type readFileInput struct {
	RepoName string `json:"repo_name" jsonschema:"the repository to read from"`
	Path     string `json:"path" jsonschema:"file path relative to the repo root"`
}

// searchFilesInput is the input schema for ToolSearchFiles.
type searchFilesInput struct {
	RepoName string `json:"repo_name" jsonschema:"the repository to search within"`
	Pattern  string `json:"pattern" jsonschema:"glob pattern matched against each scanned file's relative path"`
}

// toolDefs describes the three tools exposed to the model, with each input
// schema reflected from its tagged struct rather than written out by hand.
func toolDefs() []llmgateway.ToolDef {
	return []llmgateway.ToolDef{
		{
			Name:        ToolListDirectory,
			Description: "List the contents of a directory within one of the project's repositories.",
			InputSchema: mustSchema[listDirectoryInput](),
		},
		{
			Name:        ToolReadFile,
			Description: "Read the contents of a file within one of the project's repositories. Files over 500 lines are truncated.",
			InputSchema: mustSchema[readFileInput](),
		},
		{
			Name:        ToolSearchFiles,
			Description: "Search the pre-scanned file list of one repository by glob pattern. Returns at most 100 matches.",
			InputSchema: mustSchema[searchFilesInput](),
		},
	}
}

// mustSchema reflects T's JSON Schema at init time; a reflection failure on
// one of the three fixed input types above is a programming error, not a
// runtime condition to recover from.
func mustSchema[T any]() *jsonschema.Schema {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		panic(fmt.Sprintf("agent: build schema for %T: %v", *new(T), err))
	}

	return schema
}

// repoContext is one repository's local checkout path and pre-scanned file
// list, keyed by repo name for the agent's tool dispatch.
type repoContext struct {
	RepoRoot string
	Files    []model.ScannedFile
}

type toolInput struct {
	RepoName string `json:"repo_name"`
	Path     string `json:"path"`
	Pattern  string `json:"pattern"`
}

// dispatchTool executes one tool_use request and reports whether it
// constitutes an error for the consecutive-error circuit breaker.
func dispatchTool(use llmgateway.ToolUse, repos map[string]repoContext) (result string, isError bool) {
	var in toolInput
	if err := json.Unmarshal(use.Input, &in); err != nil {
		return fmt.Sprintf("invalid tool input: %v", err), true
	}

	if in.RepoName == "" {
		return ErrEmptyRepoName.Error(), true
	}

	rc, ok := repos[in.RepoName]
	if !ok {
		return fmt.Sprintf("%v: %s", ErrUnknownRepo, in.RepoName), true
	}

	switch use.Name {
	case ToolListDirectory:
		return listDirectory(rc, in.Path)
	case ToolReadFile:
		return readFile(rc, in.Path)
	case ToolSearchFiles:
		return searchFiles(rc, in.Pattern)
	default:
		return fmt.Sprintf("unknown tool: %s", use.Name), true
	}
}

func listDirectory(rc repoContext, dir string) (string, bool) {
	entries, err := reposstore.ListDirectory(rc.RepoRoot, dir)
	if err != nil {
		return err.Error(), true
	}

	sort.Strings(entries)

	out, err := json.Marshal(entries)
	if err != nil {
		return err.Error(), true
	}

	return string(out), false
}

func readFile(rc repoContext, relPath string) (string, bool) {
	content, err := reposstore.ReadFileContent(rc.RepoRoot, relPath)
	if err != nil {
		return err.Error(), true
	}

	text := truncateLines(string(content), maxReadLines)

	return text, false
}

func searchFiles(rc repoContext, pattern string) (string, bool) {
	var matches []string

	for _, f := range rc.Files {
		ok, err := path.Match(pattern, f.RelativePath)
		if err != nil {
			return fmt.Sprintf("invalid pattern: %v", err), true
		}

		if ok {
			matches = append(matches, f.RelativePath)
		}

		if len(matches) >= maxSearchResults {
			break
		}
	}

	out, err := json.Marshal(matches)
	if err != nil {
		return err.Error(), true
	}

	return string(out), false
}

func truncateLines(content string, max int) string {
	lines := splitLines(content)
	if len(lines) <= max {
		return content
	}

	truncated := joinLines(lines[:max])

	return fmt.Sprintf("%s\n... (truncated, %d lines total)", truncated, len(lines))
}

func splitLines(s string) []string {
	var lines []string

	start := 0

	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}

	if start < len(s) {
		lines = append(lines, s[start:])
	}

	return lines
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}

		out += l
	}

	return out
}
