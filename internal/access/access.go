package access

import (
	"errors"
	"fmt"

	"github.com/bidboard/backend/internal/auth"
	"github.com/bidboard/backend/internal/storage/models"
)

var ErrForbidden = errors.New("caller does not have access")

// Store is the slice of the storage layer the checker depends on.
type Store interface {
	GetResponse(id string) (*models.Response, error)
	HasResponseForOpportunity(opportunityID, userID, teamID string) (bool, error)
}

// Checker answers the single authorization question both subsystems share:
// is this identity allowed to touch this response or opportunity.
type Checker struct {
	store Store
}

func NewChecker(store Store) *Checker {
	return &Checker{store: store}
}

// Response resolves the response and admits the caller if they own it or
// share its non-empty team id. A missing response is indistinguishable from
// a forbidden one to the caller.
func (c *Checker) Response(identity *auth.Identity, responseID string) (*models.Response, error) {
	resp, err := c.store.GetResponse(responseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load response access record: %w", err)
	}
	if resp == nil {
		return nil, ErrForbidden
	}

	if resp.OwnerID == identity.UserID {
		return resp, nil
	}
	if resp.TeamID != "" && resp.TeamID == identity.TeamID {
		return resp, nil
	}

	return nil, ErrForbidden
}

// Opportunity admits the caller if they, or their team, track the
// opportunity through at least one response.
func (c *Checker) Opportunity(identity *auth.Identity, opportunityID string) error {
	ok, err := c.store.HasResponseForOpportunity(opportunityID, identity.UserID, identity.TeamID)
	if err != nil {
		return fmt.Errorf("failed to check opportunity access: %w", err)
	}
	if !ok {
		return ErrForbidden
	}

	return nil
}
