package models

import "time"

type User struct {
	ID        string
	Email     string
	TeamID    string
	CreatedAt time.Time
}

type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

type Opportunity struct {
	ID        string
	Title     string
	Agency    string
	DueDate   *time.Time
	CreatedAt time.Time
}

// Response is the shared editable RFP response, the unit of collaboration
// scope. OwnerID and TeamID together form its access record.
type Response struct {
	ID            string
	OpportunityID string
	OwnerID       string
	TeamID        string
	CreatedAt     time.Time
}

const (
	CommentSourceNative   = "comment"
	CommentSourceTeamNote = "team_note"
)

type Comment struct {
	ID         string
	ResponseID string
	SectionID  string
	Content    string
	UserEmail  string
	Source     string
	CreatedAt  time.Time
}

type TeamNote struct {
	ID            string
	OpportunityID string
	TeamID        string
	Content       string
	UserEmail     string
	CreatedAt     time.Time
}

type Upload struct {
	ID            string
	OwnerID       string
	OpportunityID string
	Filename      string
	MIME          string
	Size          int64
	Data          []byte
	CreatedAt     time.Time
}
