// Package ownership resolves whether a requester has owner-level access to
// a GitHub org or personal account, caching the result for a bounded TTL so
// repeated audit requests against the same project don't re-hit the GitHub
// API on every call.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/codewatch-dev/codewatch/internal/githubclient"
	"github.com/codewatch-dev/codewatch/internal/model"
)

// ErrReauthRequired signals that GitHub returned something the resolver
// cannot interpret without the user re-granting org scope.
var ErrReauthRequired = errors.New("ownership: org scope required, user must reauthorize")

// Result is the outcome of a Resolve call.
type Result struct {
	IsOwner     bool
	Role        string
	NeedsReauth bool
	Cached      bool
}

// clientFactory builds an authenticated GitHub API surface for a given
// bearer token. Swappable in tests.
type clientFactory func(token string) gitHubAPI

// gitHubAPI is the narrow GitHub surface the resolver depends on, letting
// tests substitute a fake without standing up an HTTP server.
type gitHubAPI interface {
	OrgMembership(ctx context.Context, org, user string) (githubclient.MembershipResult, error)
	OnePublicRepoPermission(ctx context.Context, org string) (githubclient.RepoPermission, error)
}

// Resolver answers "does this user own this org/account" with a
// TTL-cached, GitHub-backed lookup.
type Resolver struct {
	cache      *ttlCache
	newClient  clientFactory
	ttl        time.Duration
	now        func() time.Time
}

// New returns a Resolver that builds live GitHub clients from bearer tokens.
func New() *Resolver {
	return &Resolver{
		cache: newTTLCache(),
		newClient: func(token string) gitHubAPI {
			return tokenClient{client: github.NewClient(oauthHTTPClient(token))}
		},
		ttl: DefaultTTL,
		now: time.Now,
	}
}

// tokenClient adapts *github.Client to gitHubAPI via the githubclient package.
type tokenClient struct {
	client *github.Client
}

func (t tokenClient) OrgMembership(ctx context.Context, org, user string) (githubclient.MembershipResult, error) {
	return githubclient.OrgMembership(ctx, t.client, org, user)
}

func (t tokenClient) OnePublicRepoPermission(ctx context.Context, org string) (githubclient.RepoPermission, error) {
	return githubclient.OnePublicRepoPermission(ctx, t.client, org)
}

func oauthHTTPClient(token string) *http.Client {
	return &http.Client{Transport: &bearerTransport{token: token, inner: http.DefaultTransport}}
}

type bearerTransport struct {
	token string
	inner http.RoundTripper
}

func (b *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+b.token)

	return b.inner.RoundTrip(cloned)
}

// Resolve answers whether user owns org, consulting the TTL cache first.
// A user whose name equals org is a personal-account owner. Without the org
// scope it returns NeedsReauth and makes no GitHub call; otherwise it asks
// GitHub's membership endpoint, falling back to repo-permission inference
// when that lookup is forbidden (403).
func (r *Resolver) Resolve(ctx context.Context, user, org, token string, hasOrgScope bool) (Result, error) {
	now := r.now()

	if entry, ok := r.cache.get(user, org, now); ok {
		return Result{IsOwner: entry.IsOwner, Role: entry.Role, Cached: true}, nil
	}

	if strings.EqualFold(user, org) {
		res := Result{IsOwner: true, Role: "personal"}
		r.store(user, org, res, now)

		return res, nil
	}

	if !hasOrgScope {
		return Result{NeedsReauth: true}, nil
	}

	client := r.newClient(token)

	membership, err := client.OrgMembership(ctx, org, user)
	if err == nil {
		res := Result{
			IsOwner: membership.State == "active" && membership.Role == "admin",
			Role:    membership.Role,
		}
		r.store(user, org, res, now)

		return res, nil
	}

	if !isForbidden(err) {
		return Result{}, fmt.Errorf("ownership: resolve membership for %s/%s: %w", org, user, err)
	}

	perm, permErr := client.OnePublicRepoPermission(ctx, org)
	if permErr != nil {
		return Result{}, fmt.Errorf("ownership: fall back to repo permission for %s/%s: %w", org, user, permErr)
	}

	res := Result{IsOwner: perm.Admin}
	if perm.Admin {
		res.Role = "admin"
	}

	r.store(user, org, res, now)

	return res, nil
}

// store caches res unless it signals NeedsReauth, since a reauth-pending
// result carries no durable answer worth remembering.
func (r *Resolver) store(user, org string, res Result, now time.Time) {
	if res.NeedsReauth {
		return
	}

	r.cache.put(model.OwnershipCacheEntry{
		UserID:    user,
		Org:       org,
		IsOwner:   res.IsOwner,
		Role:      res.Role,
		ExpiresAt: now.Add(r.ttl),
	})
}

// Invalidate drops every cached entry for user, used after the user
// re-authorizes with a fresh org scope.
func (r *Resolver) Invalidate(user string) {
	r.cache.invalidate(user)
}

func isForbidden(err error) bool {
	var ghErr *github.ErrorResponse

	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusForbidden
	}

	return false
}
