package collab

import (
	"encoding/json"

	"github.com/bidboard/backend/internal/storage/models"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindEdit
	KindComment
	KindPresence
)

// Message is the parsed client frame. Anything that is not a JSON object
// with a recognized type parses to KindUnknown and is dropped by Dispatch;
// payload-shape problems never surface as connection errors.
type Message struct {
	Kind           Kind
	SectionID      string
	Content        string
	CursorPosition int
}

type wireMessage struct {
	Type           string `json:"type"`
	SectionID      string `json:"section_id"`
	Content        string `json:"content"`
	CursorPosition int    `json:"cursor_position"`
}

func ParseMessage(raw []byte) Message {
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Message{Kind: KindUnknown}
	}

	msg := Message{
		SectionID:      wire.SectionID,
		Content:        wire.Content,
		CursorPosition: wire.CursorPosition,
	}

	switch wire.Type {
	case "edit":
		msg.Kind = KindEdit
	case "comment":
		msg.Kind = KindComment
	case "presence":
		msg.Kind = KindPresence
	default:
		msg.Kind = KindUnknown
	}

	return msg
}

type CommentPayload struct {
	SectionID string `json:"section_id,omitempty"`
	Content   string `json:"content"`
	User      string `json:"user"`
	Source    string `json:"source"`
	CreatedAt int64  `json:"created_at"`
}

type initEvent struct {
	Type     string           `json:"type"`
	Comments []CommentPayload `json:"comments"`
	Presence []string         `json:"presence"`
}

type presenceEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type editEvent struct {
	Type           string `json:"type"`
	SectionID      string `json:"section_id,omitempty"`
	Content        string `json:"content"`
	User           string `json:"user"`
	CursorPosition int    `json:"cursor_position"`
}

type commentEvent struct {
	Type      string `json:"type"`
	SectionID string `json:"section_id,omitempty"`
	Content   string `json:"content"`
	User      string `json:"user"`
	CreatedAt int64  `json:"created_at"`
}

func commentPayloadFromModel(cm models.Comment) CommentPayload {
	return CommentPayload{
		SectionID: cm.SectionID,
		Content:   cm.Content,
		User:      cm.UserEmail,
		Source:    cm.Source,
		CreatedAt: cm.CreatedAt.Unix(),
	}
}

func commentPayloadFromNote(note models.TeamNote) CommentPayload {
	return CommentPayload{
		Content:   note.Content,
		User:      note.UserEmail,
		Source:    models.CommentSourceTeamNote,
		CreatedAt: note.CreatedAt.Unix(),
	}
}
