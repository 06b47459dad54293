package enqueue

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/aristath/rollup/internal/domain"
)

// BuildJobKey returns the deterministic key for a job:
//
//	{prefix}:ws:{tenant}:{scope-type}:{scope-id}:d:{asOf}[:k:{hash8(codes)}]
//
// The code suffix is only added for partial project recomputes. Codes are
// deduplicated and sorted first, so input order never changes the key.
func BuildJobKey(kind domain.JobKind, p domain.JobPayload) string {
	var b strings.Builder
	b.WriteString(scopeKeyPrefix(kind, p))
	if kind == domain.KindProjectRecompute {
		if codes := NormalizeCodes(p.MetricCodes); len(codes) > 0 {
			b.WriteString(":k:")
			b.WriteString(hash8(codes))
		}
	}
	return b.String()
}

// scopeKeyPrefix is the key without the code-set suffix.
func scopeKeyPrefix(kind domain.JobKind, p domain.JobPayload) string {
	return strings.Join([]string{
		kind.Prefix(),
		"ws", p.TenantID,
		string(kind.ScopeType()), p.ScopeID(kind),
		"d", p.AsOfDate,
	}, ":")
}

// NormalizeCodes returns codes sorted and without duplicates or blanks.
func NormalizeCodes(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func hash8(sorted []string) string {
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])[:8]
}
