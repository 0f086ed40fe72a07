package composables

import (
	"context"
	"errors"
	"strings"

	"github.com/fsystem/portal/pkg/constants"
)

var ErrNoUser = errors.New("user not found in context")

// User is the authenticated principal resolved from the bearer token.
type User struct {
	ID    string
	Email string
	Roles []string
}

func (u *User) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, constants.UserKey, u)
}

func UseUser(ctx context.Context) (*User, error) {
	u, ok := ctx.Value(constants.UserKey).(*User)
	if !ok || u == nil {
		return nil, ErrNoUser
	}
	return u, nil
}

// UseActor returns the acting user id, or "system" for background work.
func UseActor(ctx context.Context) string {
	u, err := UseUser(ctx)
	if err != nil || strings.TrimSpace(u.ID) == "" {
		return "system"
	}
	return u.ID
}
