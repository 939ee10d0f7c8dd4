package kvstore

import (
	"regexp"
	"sort"

	"github.com/wisbric/scriptrt/pkg/rterr"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateKey enforces spec §3's key invariants: 3-64 chars,
// [A-Za-z0-9._-], no leading/trailing dot.
func ValidateKey(key string) error {
	if len(key) < MinKeyLength || len(key) > MaxKeyLength {
		return &rterr.ConstraintViolated{Kind: "key_length", Detail: key}
	}
	if !keyPattern.MatchString(key) {
		return &rterr.ConstraintViolated{Kind: "key_charset", Detail: key}
	}
	if key[0] == '.' || key[len(key)-1] == '.' {
		return &rterr.ConstraintViolated{Kind: "key_dot_boundary", Detail: key}
	}
	return nil
}

// NormalizeScopes sorts and deduplicates scopes, returning a
// ConstraintViolated if the result is empty (spec §4.12: "scopes ...
// must be non-empty").
func NormalizeScopes(scopes []string) ([]string, error) {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, &rterr.ConstraintViolated{Kind: "scopes_empty", Detail: "scopes must be non-empty"}
	}
	return out, nil
}
