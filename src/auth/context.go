package auth

import (
	"context"
)

type contextKey string

const OperatorKey contextKey = "operator"

// Operator is an authenticated admin allowed to run privileged operations.
type Operator struct {
	UserID uint
}

func GetOperatorFromContext(ctx context.Context) (*Operator, bool) {
	operator, ok := ctx.Value(OperatorKey).(*Operator)
	return operator, ok
}

func WithOperator(ctx context.Context, operator *Operator) context.Context {
	return context.WithValue(ctx, OperatorKey, operator)
}
