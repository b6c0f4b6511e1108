package store

// schemaStatements creates every table, in dependency order. Arrays and
// JSON payloads are stored as TEXT columns holding JSON; SQLite has no
// native array/json type, so this is the idiomatic modernc.org/sqlite
// equivalent of a logical `text[]`/`json` column.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		github_org TEXT NOT NULL,
		github_entity_type TEXT NOT NULL,
		created_by TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT,
		description TEXT,
		involved_parties TEXT,
		threat_model TEXT,
		threat_model_parties TEXT,
		threat_model_source TEXT,
		threat_model_files TEXT,
		classification_audit_id TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(created_by, github_org, name)
	);`,
	`CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		repo_url TEXT NOT NULL UNIQUE,
		repo_name TEXT NOT NULL,
		local_path TEXT NOT NULL,
		default_branch TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS project_repos (
		project_id TEXT NOT NULL REFERENCES projects(id),
		repo_id TEXT NOT NULL REFERENCES repositories(id),
		branch TEXT,
		PRIMARY KEY (project_id, repo_id)
	);`,
	`CREATE TABLE IF NOT EXISTS components (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		repo_id TEXT NOT NULL REFERENCES repositories(id),
		name TEXT NOT NULL,
		description TEXT,
		role TEXT NOT NULL,
		file_patterns TEXT NOT NULL,
		languages TEXT NOT NULL,
		security_profile TEXT,
		estimated_files INTEGER NOT NULL DEFAULT 0,
		estimated_tokens INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS project_dependencies (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		repo_id TEXT,
		name TEXT NOT NULL,
		version TEXT,
		ecosystem TEXT NOT NULL,
		source_repo_url TEXT,
		linked_project_id TEXT,
		UNIQUE(project_id, repo_id, name, ecosystem)
	);`,
	`CREATE TABLE IF NOT EXISTS audits (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		requester_id TEXT NOT NULL,
		level TEXT NOT NULL,
		is_incremental INTEGER NOT NULL DEFAULT 0,
		base_audit_id TEXT,
		component_scoped INTEGER NOT NULL DEFAULT 0,
		component_ids TEXT,
		status TEXT NOT NULL,
		total_files INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		files_to_analyze INTEGER NOT NULL DEFAULT 0,
		tokens_to_analyze INTEGER NOT NULL DEFAULT 0,
		files_analyzed INTEGER NOT NULL DEFAULT 0,
		progress_detail TEXT NOT NULL,
		report_summary TEXT,
		max_severity TEXT,
		actual_cost_usd REAL NOT NULL DEFAULT 0,
		error_message TEXT,
		is_public INTEGER NOT NULL DEFAULT 0,
		publishable_after TEXT,
		owner_notified INTEGER NOT NULL DEFAULT 0,
		owner_notified_at TEXT,
		diff_files_added TEXT,
		diff_files_modified TEXT,
		diff_files_deleted TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);`,
	`CREATE TABLE IF NOT EXISTS audit_commits (
		audit_id TEXT NOT NULL REFERENCES audits(id),
		repo_id TEXT NOT NULL REFERENCES repositories(id),
		commit_sha TEXT NOT NULL,
		branch TEXT,
		PRIMARY KEY (audit_id, repo_id)
	);`,
	`CREATE TABLE IF NOT EXISTS audit_findings (
		id TEXT PRIMARY KEY,
		audit_id TEXT NOT NULL REFERENCES audits(id),
		component_id TEXT,
		file_path TEXT NOT NULL,
		line_start INTEGER NOT NULL,
		line_end INTEGER NOT NULL,
		severity TEXT NOT NULL,
		cwe_id TEXT,
		cvss_score REAL,
		title TEXT NOT NULL,
		description TEXT,
		exploitation TEXT,
		recommendation TEXT,
		code_snippet TEXT,
		status TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		resolved_in_audit_id TEXT,
		UNIQUE(audit_id, fingerprint)
	);`,
	`CREATE TABLE IF NOT EXISTS audit_components (
		audit_id TEXT NOT NULL REFERENCES audits(id),
		component_id TEXT NOT NULL REFERENCES components(id),
		tokens_analyzed INTEGER NOT NULL DEFAULT 0,
		findings_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (audit_id, component_id)
	);`,
	`CREATE TABLE IF NOT EXISTS ownership_cache (
		user_id TEXT NOT NULL,
		github_org TEXT NOT NULL,
		is_owner INTEGER NOT NULL,
		role TEXT,
		expires_at TEXT NOT NULL,
		PRIMARY KEY (user_id, github_org)
	);`,
	`CREATE TABLE IF NOT EXISTS model_pricing (
		model_id TEXT PRIMARY KEY,
		input_cost_per_mtok REAL NOT NULL,
		output_cost_per_mtok REAL NOT NULL,
		context_window INTEGER NOT NULL DEFAULT 0,
		max_output INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audits_project ON audits(project_id);`,
	`CREATE INDEX IF NOT EXISTS idx_findings_audit ON audit_findings(audit_id);`,
	`CREATE INDEX IF NOT EXISTS idx_findings_status ON audit_findings(audit_id, status);`,
}
