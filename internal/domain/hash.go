package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// InputHash fingerprints the inputs that determined a computed value.
// refs identify each contributing row; their order does not matter.
func InputHash(refs []string, asOfDate string) string {
	sorted := make([]string, len(refs))
	copy(sorted, refs)
	sort.Strings(sorted)

	canonical := strings.Join(sorted, "\n") + "\nd:" + asOfDate
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// EngineVersion is stamped on every snapshot this build writes.
const EngineVersion = "rollup-engine/1"
