package authorize

import (
	"context"
	"errors"

	"github.com/zarvd/jwks-authorizer/internal/claims"
)

var ErrForbidden = errors.New("forbidden")

// ForbiddenError carries the reason of a denial.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// Operation is a protected call receiving its (possibly bound) arguments.
type Operation func(ctx context.Context, args []any) (any, error)

// Guard wraps op so it only runs for tokens satisfying req, with bound claims
// substituted into its arguments. A denial is returned as *ForbiddenError.
func Guard(a *Authorizer, req claims.Requirement, op Operation) func(ctx context.Context, token string, args []any) (any, error) {
	return func(ctx context.Context, token string, args []any) (any, error) {
		d, err := a.Authorize(ctx, token, req, args)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			return nil, &ForbiddenError{Reason: d.Reason}
		}
		return op(ctx, d.Arguments)
	}
}
