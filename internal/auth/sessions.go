package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/bidboard/backend/internal/storage/models"
)

var ErrUnauthenticated = errors.New("missing or invalid session")

// Identity is the resolved caller: the minimum the access gate and the hub
// need to know about a user.
type Identity struct {
	UserID string
	Email  string
	TeamID string
}

// SessionStore is the slice of the storage layer the verifier depends on.
// Session issuance itself belongs to the auth service, not this backend.
type SessionStore interface {
	GetSession(token string) (*models.Session, error)
	GetUser(id string) (*models.User, error)
}

type Verifier struct {
	store SessionStore
	now   func() time.Time
}

func NewVerifier(store SessionStore) *Verifier {
	return &Verifier{store: store, now: time.Now}
}

// Resolve maps a session token to an Identity. Expired, unknown, and empty
// tokens all resolve to ErrUnauthenticated.
func (v *Verifier) Resolve(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	session, err := v.store.GetSession(token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if session == nil || session.ExpiresAt.Before(v.now()) {
		return nil, ErrUnauthenticated
	}

	user, err := v.store.GetUser(session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}

	return &Identity{
		UserID: user.ID,
		Email:  user.Email,
		TeamID: user.TeamID,
	}, nil
}
