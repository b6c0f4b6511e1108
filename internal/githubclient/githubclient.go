// Package githubclient wraps the GitHub REST API surface CodeWatch needs:
// membership checks for ownership resolution and issue filing for
// responsible-disclosure notifications.
package githubclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v66/github"
)

// App is a GitHub App credential capable of minting per-installation clients.
type App struct {
	AppID         int64
	PrivateKeyPEM []byte
}

// NewApp returns an App wrapping the given App ID and PEM-encoded private key.
func NewApp(appID int64, privateKeyPEM []byte) (*App, error) {
	if len(privateKeyPEM) == 0 {
		return nil, fmt.Errorf("githubclient: empty private key PEM")
	}

	return &App{AppID: appID, PrivateKeyPEM: privateKeyPEM}, nil
}

// InstallationClient returns a *github.Client authenticated as the given
// installation.
func (a *App) InstallationClient(installationID int64) (*github.Client, error) {
	tr, err := ghinstallation.New(http.DefaultTransport, a.AppID, installationID, a.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("githubclient: build installation transport: %w", err)
	}

	return github.NewClient(&http.Client{Transport: tr}), nil
}

// MembershipResult is the subset of a GitHub org membership response
// ownership resolution cares about.
type MembershipResult struct {
	State string // "active" or "pending"
	Role  string // "admin" or "member"
}

// OrgMembership fetches the caller's own membership in org. Errors wrap the
// underlying *github.ErrorResponse with %w so callers can errors.As it and
// check for 403.
func OrgMembership(ctx context.Context, client *github.Client, org, user string) (MembershipResult, error) {
	membership, _, err := client.Organizations.GetOrgMembership(ctx, user, org)
	if err != nil {
		return MembershipResult{}, fmt.Errorf("githubclient: get org membership: %w", err)
	}

	return MembershipResult{State: membership.GetState(), Role: membership.GetRole()}, nil
}

// RepoPermission is the subset of repository permission flags used for the
// 403 fallback path.
type RepoPermission struct {
	Admin bool
}

// OnePublicRepoPermission fetches one public repository in org and returns
// the caller's permissions on it, used as a fallback when the membership
// endpoint is unavailable due to third-party app restrictions.
func OnePublicRepoPermission(ctx context.Context, client *github.Client, org string) (RepoPermission, error) {
	opts := &github.RepositoryListByOrgOptions{
		Type:        "public",
		ListOptions: github.ListOptions{PerPage: 1},
	}

	repos, _, err := client.Repositories.ListByOrg(ctx, org, opts)
	if err != nil {
		return RepoPermission{}, fmt.Errorf("githubclient: list org repos: %w", err)
	}

	if len(repos) == 0 {
		return RepoPermission{}, fmt.Errorf("githubclient: org %s has no public repositories", org)
	}

	perms := repos[0].GetPermissions()

	return RepoPermission{Admin: perms["admin"]}, nil
}

// FileDisclosureIssue opens an issue on owner/repo documenting a completed
// responsible-disclosure notification.
func FileDisclosureIssue(ctx context.Context, client *github.Client, owner, repo, title, body string) (int64, error) {
	issue, _, err := client.Issues.Create(ctx, owner, repo, &github.IssueRequest{
		Title: &title,
		Body:  &body,
	})
	if err != nil {
		return 0, fmt.Errorf("githubclient: create issue: %w", err)
	}

	return issue.GetID(), nil
}
