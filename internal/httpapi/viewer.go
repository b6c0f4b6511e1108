package httpapi

import (
	"net/http"

	"github.com/codewatch-dev/codewatch/internal/access"
)

// Header names a caller uses in place of the out-of-scope session/cookie
// plumbing: the core still needs *some* way to know who is asking.
const (
	headerRequesterID = "X-Audit-Requester"
	headerLogin       = "X-Audit-Login"
	headerToken       = "X-Audit-Token"
	headerOrgScope    = "X-Audit-Org-Scope"
)

func viewerFromRequest(r *http.Request) access.Viewer {
	return access.Viewer{
		ID:          r.Header.Get(headerRequesterID),
		Login:       r.Header.Get(headerLogin),
		Token:       r.Header.Get(headerToken),
		HasOrgScope: r.Header.Get(headerOrgScope) == "true",
	}
}
