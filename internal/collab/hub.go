package collab

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bidboard/backend/internal/auth"
	"github.com/bidboard/backend/internal/metrics"
	"github.com/bidboard/backend/internal/storage/models"
	"github.com/bidboard/backend/pkg/logger"
)

// Conn is the transport surface the hub needs from a live connection.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Store is the durable side of the hub: native comments plus the team-notes
// store comments are mirrored into.
type Store interface {
	InsertComment(comment *models.Comment) error
	ListComments(responseID string) ([]models.Comment, error)
	InsertTeamNote(note *models.TeamNote) error
	ListTeamNotes(opportunityID, teamID string) ([]models.TeamNote, error)
}

// Client is one registered connection: one user, one response, for the
// lifetime of the underlying transport.
type Client struct {
	conn     Conn
	identity *auth.Identity
	response *models.Response

	// Serializes writes to conn; broadcasts may run from several
	// dispatcher goroutines at once.
	writeMu sync.Mutex
}

func (cl *Client) send(v interface{}) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	return cl.conn.WriteJSON(v)
}

type room struct {
	clients  map[*Client]struct{}
	presence map[string]struct{}
}

// Hub routes edit/comment/presence traffic among all viewers of one shared
// response. The room registry is process-wide shared state guarded by mu.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
	store Store
	now   func() time.Time
}

func NewHub(store Store) *Hub {
	return &Hub{
		rooms: make(map[string]*room),
		store: store,
		now:   time.Now,
	}
}

// Connect registers the connection, announces the updated presence snapshot
// to the whole room (the new connection included), then sends the one-time
// init payload with the merged comment history. The caller is responsible
// for authentication and the access gate; by the time Connect runs the
// connection is admitted.
func (h *Hub) Connect(identity *auth.Identity, response *models.Response, conn Conn) (*Client, error) {
	cl := &Client{
		conn:     conn,
		identity: identity,
		response: response,
	}

	h.mu.Lock()
	r := h.rooms[response.ID]
	if r == nil {
		r = &room{
			clients:  make(map[*Client]struct{}),
			presence: make(map[string]struct{}),
		}
		h.rooms[response.ID] = r
	}
	r.clients[cl] = struct{}{}
	r.presence[identity.Email] = struct{}{}
	h.mu.Unlock()

	metrics.CollabConnections.Inc()
	logger.Info("Collaboration client connected",
		zap.String("response_id", response.ID),
		zap.String("user", identity.Email),
	)

	h.broadcastPresence(response.ID)

	init := initEvent{
		Type:     "init",
		Comments: History(h.store, response),
		Presence: h.presenceSnapshot(response.ID),
	}
	if err := cl.send(init); err != nil {
		h.Disconnect(cl)
		return nil, fmt.Errorf("failed to send init payload: %w", err)
	}

	return cl, nil
}

// History merges the two stores: team-mirrored notes first, then native
// comments, each ascending by time. Errors degrade to a shorter history
// rather than failing the caller; the REST history endpoint shares this.
func History(store Store, response *models.Response) []CommentPayload {
	history := make([]CommentPayload, 0)

	if response.OpportunityID != "" && response.TeamID != "" {
		notes, err := store.ListTeamNotes(response.OpportunityID, response.TeamID)
		if err != nil {
			logger.Warn("Failed to load team notes for history", zap.Error(err))
		}
		for _, note := range notes {
			history = append(history, commentPayloadFromNote(note))
		}
	}

	comments, err := store.ListComments(response.ID)
	if err != nil {
		logger.Warn("Failed to load comment history", zap.Error(err))
	}
	for _, cm := range comments {
		history = append(history, commentPayloadFromModel(cm))
	}

	return history
}

// Dispatch handles one client frame. Unknown and malformed frames are
// dropped without any error back to the sender.
func (h *Hub) Dispatch(cl *Client, raw []byte) {
	msg := ParseMessage(raw)

	switch msg.Kind {
	case KindEdit:
		h.broadcast(cl.response.ID, editEvent{
			Type:           "edit",
			SectionID:      msg.SectionID,
			Content:        msg.Content,
			User:           cl.identity.Email,
			CursorPosition: msg.CursorPosition,
		})

	case KindComment:
		h.handleComment(cl, msg)

	case KindPresence:
		h.broadcastPresence(cl.response.ID)

	default:
		logger.Debug("Dropping unknown collab message",
			zap.String("response_id", cl.response.ID),
		)
	}
}

// handleComment persists the comment, best-effort mirrors it into the team
// notes store, then broadcasts it. Persistence happens before the broadcast
// so no peer can observe a comment that was not durably recorded; a mirror
// failure is logged and swallowed.
func (h *Hub) handleComment(cl *Client, msg Message) {
	createdAt := h.now()
	comment := &models.Comment{
		ID:         uuid.New().String(),
		ResponseID: cl.response.ID,
		SectionID:  msg.SectionID,
		Content:    msg.Content,
		UserEmail:  cl.identity.Email,
		Source:     models.CommentSourceNative,
		CreatedAt:  createdAt,
	}

	if err := h.store.InsertComment(comment); err != nil {
		logger.Error("Failed to persist comment",
			zap.Error(err),
			zap.String("response_id", cl.response.ID),
		)
		return
	}
	metrics.CommentsPersisted.Inc()

	if cl.response.OpportunityID != "" && cl.response.TeamID != "" {
		content := msg.Content
		if msg.SectionID != "" {
			content = fmt.Sprintf("[Section %s] %s", msg.SectionID, content)
		}

		note := &models.TeamNote{
			ID:            uuid.New().String(),
			OpportunityID: cl.response.OpportunityID,
			TeamID:        cl.response.TeamID,
			Content:       content,
			UserEmail:     cl.identity.Email,
			CreatedAt:     createdAt,
		}
		if err := h.store.InsertTeamNote(note); err != nil {
			metrics.TeamNoteMirrorFailures.Inc()
			logger.Warn("Failed to mirror comment to team notes",
				zap.Error(err),
				zap.String("opportunity_id", cl.response.OpportunityID),
			)
		}
	}

	h.broadcast(cl.response.ID, commentEvent{
		Type:      "comment",
		SectionID: msg.SectionID,
		Content:   msg.Content,
		User:      cl.identity.Email,
		CreatedAt: createdAt.Unix(),
	})
}

// Disconnect is idempotent and safe to call for a client that never fully
// registered. It removes the connection, drops the user from the presence
// set (the set is flat, so a user with a second live connection loses
// presence too until their next presence-bearing event), and always
// re-broadcasts the resulting snapshot.
func (h *Hub) Disconnect(cl *Client) {
	h.mu.Lock()
	r := h.rooms[cl.response.ID]
	removed := false
	if r != nil {
		if _, ok := r.clients[cl]; ok {
			delete(r.clients, cl)
			removed = true
		}
		delete(r.presence, cl.identity.Email)
		if len(r.clients) == 0 {
			delete(h.rooms, cl.response.ID)
		}
	}
	h.mu.Unlock()

	if removed {
		metrics.CollabConnections.Dec()
		logger.Info("Collaboration client disconnected",
			zap.String("response_id", cl.response.ID),
			zap.String("user", cl.identity.Email),
		)
	}

	h.broadcastPresence(cl.response.ID)
}

// Presence returns the sorted presence snapshot for a response. An unknown
// response id yields an empty snapshot.
func (h *Hub) Presence(responseID string) []string {
	return h.presenceSnapshot(responseID)
}

func (h *Hub) presenceSnapshot(responseID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	users := make([]string, 0)
	if r := h.rooms[responseID]; r != nil {
		for email := range r.presence {
			users = append(users, email)
		}
	}
	sort.Strings(users)
	return users
}

func (h *Hub) broadcastPresence(responseID string) {
	h.broadcast(responseID, presenceEvent{
		Type:  "presence",
		Users: h.presenceSnapshot(responseID),
	})
}

// broadcast delivers the event to every live client in the room. A failed
// send removes that client only; delivery to the rest continues, and the
// thinned room gets a fresh presence snapshot. Never propagates an error.
func (h *Hub) broadcast(responseID string, event interface{}) {
	h.mu.Lock()
	var targets []*Client
	if r := h.rooms[responseID]; r != nil {
		targets = make([]*Client, 0, len(r.clients))
		for cl := range r.clients {
			targets = append(targets, cl)
		}
	}
	h.mu.Unlock()

	var failed []*Client
	for _, cl := range targets {
		if err := cl.send(event); err != nil {
			logger.Warn("Broadcast send failed, dropping connection",
				zap.Error(err),
				zap.String("response_id", responseID),
				zap.String("user", cl.identity.Email),
			)
			failed = append(failed, cl)
			continue
		}
		metrics.BroadcastsDelivered.Inc()
	}

	if len(failed) == 0 {
		return
	}

	h.mu.Lock()
	r := h.rooms[responseID]
	for _, cl := range failed {
		cl.conn.Close()
		if r == nil {
			continue
		}
		if _, ok := r.clients[cl]; ok {
			delete(r.clients, cl)
			metrics.CollabConnections.Dec()
		}
		delete(r.presence, cl.identity.Email)
	}
	if r != nil && len(r.clients) == 0 {
		delete(h.rooms, responseID)
	}
	h.mu.Unlock()

	// Survivors see the thinned presence set; send-only, no removal here.
	snapshot := presenceEvent{Type: "presence", Users: h.presenceSnapshot(responseID)}
	h.mu.Lock()
	var survivors []*Client
	if r := h.rooms[responseID]; r != nil {
		for cl := range r.clients {
			survivors = append(survivors, cl)
		}
	}
	h.mu.Unlock()
	for _, cl := range survivors {
		if err := cl.send(snapshot); err != nil {
			logger.Warn("Presence resend failed", zap.Error(err))
		}
	}
}
