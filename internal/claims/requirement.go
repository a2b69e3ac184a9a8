package claims

import (
	"fmt"
	"slices"
	"strings"
)

// Requirement is the static authorization declaration of one operation.
//
// Match and Bind map a zero-based argument index to a claim name.
type Requirement struct {
	Scopes []string
	Match  map[int]string
	Bind   map[int]string
}

func (r Requirement) String() string {
	return fmt.Sprintf("Requirement{scopes=%v, match=%v, bind=%v}", r.Scopes, r.Match, r.Bind)
}

// Decision is the outcome of an authorization check. Arguments is only set
// when Allowed.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Arguments []any  `json:"arguments,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func Allow(args []any) Decision {
	return Decision{Allowed: true, Arguments: args}
}

func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

const (
	ReasonMissingScope    = "missing required scope"
	ReasonMissingClaim    = "missing claim"
	ReasonClaimMismatch   = "claim mismatch"
	ReasonMissingArgument = "missing argument"
)

func denyMissingScope(required []string) Decision {
	return Deny(fmt.Sprintf("%s: JWT does not have any of these scopes: [%s]",
		ReasonMissingScope, strings.Join(required, ", ")))
}

func denyMissingClaim(name string) Decision {
	return Deny(fmt.Sprintf("%s: %s", ReasonMissingClaim, name))
}

func denyClaimMismatch(name string, claim, arg any) Decision {
	return Deny(fmt.Sprintf("%s: JWT claim %s is %v, but argument is %v", ReasonClaimMismatch, name, claim, arg))
}

func denyMissingArgument(index int, name string) Decision {
	return Deny(fmt.Sprintf("%s: no argument at index %d for claim %s", ReasonMissingArgument, index, name))
}

func sortedIndices(m map[int]string) []int {
	indices := make([]int, 0, len(m))
	for i := range m {
		indices = append(indices, i)
	}
	slices.Sort(indices)
	return indices
}
