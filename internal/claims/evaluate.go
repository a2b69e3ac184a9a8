package claims

import (
	"slices"
)

// Evaluate applies r to the verified claims and the operation's arguments.
// Checks run in a fixed order (scopes, then matches, then binds) and the
// first failure is returned. On allow, the returned arguments are a copy of
// args with bound claims written in; args itself is never modified.
func Evaluate(c Claims, r Requirement, args []any) Decision {
	if len(r.Scopes) > 0 {
		granted := c.Scopes()
		if !slices.ContainsFunc(r.Scopes, func(s string) bool { return slices.Contains(granted, s) }) {
			return denyMissingScope(r.Scopes)
		}
	}

	for _, i := range sortedIndices(r.Match) {
		name := r.Match[i]
		v, ok := c[name]
		if !ok {
			return denyMissingClaim(name)
		}
		if i < 0 || i >= len(args) {
			return denyMissingArgument(i, name)
		}
		if !Equal(v, args[i]) {
			return denyClaimMismatch(name, v, args[i])
		}
	}

	out := slices.Clone(args)
	for _, i := range sortedIndices(r.Bind) {
		if i < 0 || i >= len(out) {
			continue
		}
		if v, ok := c[r.Bind[i]]; ok {
			out[i] = v
		}
	}
	return Allow(out)
}
