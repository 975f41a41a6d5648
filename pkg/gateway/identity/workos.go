// Package identity resolves user display names through WorkOS User
// Management.
package identity

import (
	"context"
	"strings"

	"github.com/workos/workos-go/v6/pkg/usermanagement"
)

// WorkOS looks up display names for dynamic conversation variables.
type WorkOS struct {
	getUser func(ctx context.Context, opts usermanagement.GetUserOpts) (usermanagement.User, error)
}

func NewWorkOS(apiKey string) *WorkOS {
	client := usermanagement.NewClient(apiKey)
	return &WorkOS{getUser: client.GetUser}
}

func (w *WorkOS) DisplayName(ctx context.Context, userID string) (string, error) {
	user, err := w.getUser(ctx, usermanagement.GetUserOpts{User: userID})
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
	if name == "" {
		name = user.Email
	}
	return name, nil
}
