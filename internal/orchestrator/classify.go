package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codewatch-dev/codewatch/internal/llmgateway"
	"github.com/codewatch-dev/codewatch/internal/model"
	"github.com/codewatch-dev/codewatch/internal/prompts"
	"github.com/codewatch-dev/codewatch/internal/reposstore"
)

const (
	classifyModel     = "claude-sonnet-4-5"
	classifyMaxTokens = 4096
)

type classifyComponentOut struct {
	Name      string   `json:"name"`
	Role      string   `json:"role"`
	Languages []string `json:"languages"`
	Repo      string   `json:"repo"`
}

type classifyThreatModelOut struct {
	Parties    []string `json:"parties"`
	Provenance string   `json:"provenance"`
}

type classifyOutput struct {
	Category        string                 `json:"category"`
	Description     string                 `json:"description"`
	InvolvedParties map[string]string      `json:"involvedParties"`
	Components      []classifyComponentOut `json:"components"`
	ThreatModel     classifyThreatModelOut `json:"threatModel"`
}

// classifyPhase is Phase 2: ask the model to categorize the project, name
// its involved parties and threat model, and sketch its components. The
// component sketch is used only to build a text summary fed to the planner
// as ComponentProfiles; persisting actual model.Component rows remains
// internal/agent's job, run as a separate operation outside this state
// machine.
func (r *run) classifyPhase(ctx context.Context) error {
	fileNames := make([]string, 0, len(r.fileIndex))
	for ns := range r.fileIndex {
		fileNames = append(fileNames, ns)
	}

	sort.Strings(fileNames)

	tmpl, err := prompts.Load("classify")
	if err != nil {
		return fmt.Errorf("orchestrator: load classify prompt: %w", err)
	}

	system := prompts.Render(tmpl, map[string]string{
		"projectName": r.project.Name,
		"fileList":    strings.Join(fileNames, "\n"),
	})

	result, err := r.deps.Gateway.Call(ctx, r.deps.APIKey, system, nil, nil, classifyModel, classifyMaxTokens)
	if err != nil {
		return fmt.Errorf("orchestrator: classify call: %w", err)
	}

	r.recordCost(ctx, classifyModel, result.InputTokens, result.OutputTokens)

	out, err := llmgateway.ParseJSON[classifyOutput](result.Content)
	if err != nil {
		return fmt.Errorf("orchestrator: parse classify output: %w", err)
	}

	updated := r.project
	updated.Category = out.Category
	updated.Description = out.Description
	updated.InvolvedParties = out.InvolvedParties
	updated.ThreatModelParties = out.ThreatModel.Parties

	if out.ThreatModel.Provenance == string(model.ThreatModelRepo) {
		if text, files, ok := r.readThreatModelFromRepo(); ok {
			updated.ThreatModel = text
			updated.ThreatModelFiles = files
			updated.ThreatModelSource = model.ThreatModelRepo
		}
	}

	if updated.ThreatModelSource != model.ThreatModelRepo {
		updated.ThreatModel = buildGeneratedThreatModel(out.Category, out.Description, out.ThreatModel.Parties)
		updated.ThreatModelFiles = nil
		updated.ThreatModelSource = model.ThreatModelGenerated
	}

	if err := r.deps.Store.SetClassification(ctx, r.project.ID, updated, r.audit.ID); err != nil {
		return fmt.Errorf("orchestrator: persist classification: %w", err)
	}

	r.project = updated
	r.componentProfiles = renderComponentProfiles(out.Components)

	return nil
}

// threatModelFileNames are the conventional basenames checked when the
// model reports its threat model was sourced from the repo rather than
// generated.
var threatModelFileNames = map[string]bool{
	"SECURITY.md":       true,
	"THREAT_MODEL.md":   true,
	"THREATMODEL.md":    true,
	"SECURITY_MODEL.md": true,
	"threat-model.md":   true,
}

func (r *run) readThreatModelFromRepo() (text string, files []string, ok bool) {
	var sb strings.Builder

	for ns, loc := range r.fileIndex {
		base := ns[strings.LastIndex(ns, "/")+1:]
		if !threatModelFileNames[base] {
			continue
		}

		content, err := reposstore.ReadFileContent(loc.repoRoot, loc.relPath)
		if err != nil {
			continue
		}

		fmt.Fprintf(&sb, "# %s\n\n%s\n\n", ns, string(content))
		files = append(files, ns)
	}

	if len(files) == 0 {
		return "", nil, false
	}

	sort.Strings(files)

	return sb.String(), files, true
}

func buildGeneratedThreatModel(category, description string, parties []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s (%s) involves the following parties: %s.\n", description, category, strings.Join(parties, ", "))
	sb.WriteString("No repo-provided threat model document was found; this summary was generated during classification.")

	return sb.String()
}

func renderComponentProfiles(components []classifyComponentOut) string {
	var sb strings.Builder

	for _, c := range components {
		fmt.Fprintf(&sb, "%s (%s, %s): repo %s\n", c.Name, c.Role, strings.Join(c.Languages, ","), c.Repo)
	}

	return sb.String()
}
