package core

import (
	"context"

	"sphyra/internal/types"
)

// Authenticator resolves an operator bearer token. Implementations return
// an AppError with ErrCodeAuthTokenInvalid for any token they reject.
type Authenticator interface {
	ResolveOperator(ctx context.Context, token string) (types.Operator, error)
}
