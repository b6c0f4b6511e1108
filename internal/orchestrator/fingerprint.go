package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// fingerprintLen is the number of hex characters kept from the SHA-256 sum.
const fingerprintLen = 16

// computeFingerprint derives a finding's identity within one audit from its
// location and content, so the same issue reported across re-analyses of an
// unchanged file dedupes to the same row.
func computeFingerprint(filePath string, lineStart, lineEnd int, title, snippet string) string {
	if len(snippet) > 100 {
		snippet = snippet[:100]
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d-%d:%s:%s", filePath, lineStart, lineEnd, title, snippet)))

	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
