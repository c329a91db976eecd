package core

import (
	"context"

	"github.com/dkeye/taskboard-relay/internal/domain"
)

//go:generate mockgen -destination=mock/mock_core.go -package=mock github.com/dkeye/taskboard-relay/internal/core Authenticator,ProfileLookup

// Authenticator verifies the credential presented at connection time.
// It is called exactly once per connection attempt.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// ProfileLookup supplies display data used to decorate relayed events.
type ProfileLookup interface {
	Profile(ctx context.Context, id domain.UserID) (*domain.User, error)
}

// MemberSession binds an authenticated user and its transport endpoint.
// This is what the registry stores and fans out to.
type MemberSession interface {
	User() *domain.User
	Signal() SignalConnection
}
