// Package model holds the entities shared across CodeWatch's audit
// pipeline: projects, repositories, components, audits, findings, and the
// tagged progress records written while an audit runs.
package model

import "time"

// AuditLevel controls the token budget fraction used during planning.
type AuditLevel string

const (
	LevelFull          AuditLevel = "full"
	LevelThorough      AuditLevel = "thorough"
	LevelOpportunistic AuditLevel = "opportunistic"
)

// BudgetPct returns the fraction of total project tokens this level may spend.
func (l AuditLevel) BudgetPct() float64 {
	switch l {
	case LevelFull:
		return 1.0
	case LevelThorough:
		return 0.33
	case LevelOpportunistic:
		return 0.10
	default:
		return 0.10
	}
}

// ThreatModelSource records where a project's threat model text came from.
type ThreatModelSource string

const (
	ThreatModelRepo      ThreatModelSource = "repo"
	ThreatModelGenerated ThreatModelSource = "generated"
)

// ComponentRole classifies an architectural unit of a project.
type ComponentRole string

const (
	RoleServer ComponentRole = "server"
	RoleClient ComponentRole = "client"
	RoleLib    ComponentRole = "library"
	RoleCLI    ComponentRole = "cli"
	RoleWorker ComponentRole = "worker"
	RoleShared ComponentRole = "shared"
	RoleConfig ComponentRole = "config"
	RoleTest   ComponentRole = "test"
)

// AuditStatus is the observable state of the orchestrator state machine.
type AuditStatus string

const (
	StatusCloning               AuditStatus = "cloning"
	StatusClassifying           AuditStatus = "classifying"
	StatusPlanning              AuditStatus = "planning"
	StatusAnalyzing             AuditStatus = "analyzing"
	StatusSynthesizing          AuditStatus = "synthesizing"
	StatusCompleted             AuditStatus = "completed"
	StatusCompletedWithWarnings AuditStatus = "completed_with_warnings"
	StatusFailed                AuditStatus = "failed"
)

// IsTerminal reports whether the status ends the audit lifecycle.
func (s AuditStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithWarnings, StatusFailed:
		return true
	default:
		return false
	}
}

// Severity orders findings for max-severity computation (RULE severity walk).
type Severity string

const (
	SeverityCritical      Severity = "critical"
	SeverityHigh          Severity = "high"
	SeverityMedium        Severity = "medium"
	SeverityLow           Severity = "low"
	SeverityInformational Severity = "informational"
	SeverityNone          Severity = "none"
)

var severityRank = map[Severity]int{
	SeverityCritical:      5,
	SeverityHigh:          4,
	SeverityMedium:        3,
	SeverityLow:           2,
	SeverityInformational: 1,
	SeverityNone:          0,
}

// MaxSeverity returns whichever of a, b ranks higher.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[a] >= severityRank[b] {
		return a
	}

	return b
}

// FindingStatus tracks a finding's disposition, mutable only by the project owner.
type FindingStatus string

const (
	FindingOpen         FindingStatus = "open"
	FindingFixed        FindingStatus = "fixed"
	FindingFalsePositive FindingStatus = "false_positive"
	FindingAccepted     FindingStatus = "accepted"
	FindingWontFix      FindingStatus = "wont_fix"
)

// AccessTier gates which finding fields a viewer sees.
type AccessTier string

const (
	TierOwner     AccessTier = "owner"
	TierRequester AccessTier = "requester"
	TierPublic    AccessTier = "public"
)

// Project is the top-level audited unit: an org/user plus its repositories.
type Project struct {
	ID                   string
	GithubOrg            string
	GithubEntityType     string
	CreatedBy            string
	Name                 string
	Category             string
	Description          string
	InvolvedParties      map[string]string
	ThreatModel          string
	ThreatModelParties   []string
	ThreatModelSource    ThreatModelSource
	ThreatModelFiles     []string
	ClassificationAuditID string
	RepoIDs              []string
}

// Repository is a single Git remote checked out under the repos root.
type Repository struct {
	ID             string
	RepoURL        string
	RepoName       string
	LocalPath      string
	BranchOverride string
	DefaultBranch  string
}

// Component is a project-scoped architectural unit matched by glob patterns.
type Component struct {
	ID                string
	ProjectID         string
	RepoID            string
	Name              string
	Description       string
	Role              ComponentRole
	FilePatterns      []string
	Languages         []string
	SecurityProfile   *SecurityProfile
	EstimatedFiles    int
	EstimatedTokens   int64
}

// SecurityProfile is the optional narrative security assessment of a Component.
type SecurityProfile struct {
	Summary        string
	SensitiveAreas []string
	ThreatSurface  []string
}

// Dependency is a project-scoped third-party package reference.
type Dependency struct {
	ID             string
	ProjectID      string
	RepoID         string
	Name           string
	Version        string
	Ecosystem      string
	SourceRepoURL  string
	LinkedProjectID string
}

// AuditCommit records the exact commit an audit analyzed per repository.
type AuditCommit struct {
	AuditID   string
	RepoID    string
	CommitSHA string
	Branch    string
}

// Audit is one run of the pipeline against a Project.
type Audit struct {
	ID                string
	ProjectID         string
	RequesterID       string
	Level             AuditLevel
	IsIncremental     bool
	BaseAuditID       string
	ComponentScoped   bool
	ComponentIDs      []string
	Status            AuditStatus
	TotalFiles        int
	TotalTokens       int64
	FilesToAnalyze    int
	TokensToAnalyze   int64
	FilesAnalyzed     int
	Progress          Progress
	ReportSummary     *ReportSummary
	MaxSeverity       Severity
	ActualCostUSD     float64
	ErrorMessage      string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	IsPublic          bool
	OwnerNotified     bool
	OwnerNotifiedAt   *time.Time
	PublishableAfter  *time.Time
	DiffFilesAdded    []string
	DiffFilesModified []string
	DiffFilesDeleted  []string
}

// ReportSummary is the synthesized narrative produced in Phase 6.
type ReportSummary struct {
	ExecutiveSummary     string
	SecurityPosture      string
	ResponsibleDisclosure string
}

// Finding is a single audit-scoped issue surfaced by an analysis batch.
type Finding struct {
	ID                  string
	AuditID             string
	ComponentID         string
	FilePath            string
	LineStart           int
	LineEnd             int
	Severity            Severity
	CWEID               string
	CVSSScore           float64
	Title               string
	Description         string
	Exploitation        string
	Recommendation      string
	CodeSnippet         string
	Status              FindingStatus
	Fingerprint         string
	ResolvedInAuditID   string
}

// OwnershipCacheEntry is a TTL-bounded (user, org) -> role memo.
type OwnershipCacheEntry struct {
	UserID    string
	Org       string
	IsOwner   bool
	Role      string
	ExpiresAt time.Time
}

// ScannedFile is the output of a repository directory scan.
type ScannedFile struct {
	RelativePath string
	Size         int64
	RoughTokens  int64
}

// Diff is the output of comparing two commits of a repository checkout.
type Diff struct {
	Added      []string
	Modified   []string
	Deleted    []string
	Renamed    []Rename
	IsFallback bool
}

// Rename pairs an old path with its new path.
type Rename struct {
	From string
	To   string
}
