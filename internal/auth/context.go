package auth

import (
	"context"
	"errors"

	"diagnostics-proxy/internal/access"
	"diagnostics-proxy/internal/rbac"
)

// Identity is the authenticated caller plus what the host forwarded about it.
type Identity struct {
	UserID    string
	Username  string
	Roles     rbac.RoleSet
	Forwarded access.Forwarded
}

type ctxKey int

const ctxIdentity ctxKey = iota

var ErrNoIdentity = errors.New("identity not in context")

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}

func FromContext(ctx context.Context) (Identity, error) {
	if id, ok := ctx.Value(ctxIdentity).(Identity); ok && id.UserID != "" {
		return id, nil
	}
	return Identity{}, ErrNoIdentity
}

func UserID(ctx context.Context) (string, error) {
	id, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}
