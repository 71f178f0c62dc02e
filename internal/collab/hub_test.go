package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bidboard/backend/internal/auth"
	"github.com/bidboard/backend/internal/storage/models"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []interface{}
	fail    bool
	closed  bool
	onWrite func(v interface{})
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	if c.onWrite != nil {
		c.onWrite(v)
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) sentEvents() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) lastPresence() []string {
	events := c.sentEvents()
	for i := len(events) - 1; i >= 0; i-- {
		if ev, ok := events[i].(presenceEvent); ok {
			return ev.Users
		}
	}
	return nil
}

func (c *fakeConn) countEvents(kind string) int {
	count := 0
	for _, v := range c.sentEvents() {
		switch v.(type) {
		case presenceEvent:
			if kind == "presence" {
				count++
			}
		case editEvent:
			if kind == "edit" {
				count++
			}
		case commentEvent:
			if kind == "comment" {
				count++
			}
		case initEvent:
			if kind == "init" {
				count++
			}
		}
	}
	return count
}

type fakeStore struct {
	mu          sync.Mutex
	comments    []models.Comment
	notes       []models.TeamNote
	failComment bool
	failNote    bool
}

func (s *fakeStore) InsertComment(comment *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failComment {
		return errors.New("comment insert failed")
	}
	s.comments = append(s.comments, *comment)
	return nil
}

func (s *fakeStore) ListComments(responseID string) ([]models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Comment
	for _, cm := range s.comments {
		if cm.ResponseID == responseID {
			out = append(out, cm)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertTeamNote(note *models.TeamNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNote {
		return errors.New("team note insert failed")
	}
	s.notes = append(s.notes, *note)
	return nil
}

func (s *fakeStore) ListTeamNotes(opportunityID, teamID string) ([]models.TeamNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TeamNote
	for _, n := range s.notes {
		if n.OpportunityID == opportunityID && n.TeamID == teamID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) commentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.comments)
}

func identityFor(email string) *auth.Identity {
	return &auth.Identity{UserID: "uid-" + email, Email: email, TeamID: "team-1"}
}

func teamResponse() *models.Response {
	return &models.Response{
		ID:            "resp-1",
		OpportunityID: "opp-1",
		OwnerID:       "uid-alice@example.com",
		TeamID:        "team-1",
	}
}

func soloResponse() *models.Response {
	return &models.Response{
		ID:      "resp-2",
		OwnerID: "uid-alice@example.com",
	}
}

func TestConnectBroadcastsPresenceToEveryone(t *testing.T) {
	hub := NewHub(&fakeStore{})
	resp := teamResponse()

	connA := &fakeConn{}
	if _, err := hub.Connect(identityFor("alice@example.com"), resp, connA); err != nil {
		t.Fatalf("connect alice: %v", err)
	}

	connB := &fakeConn{}
	if _, err := hub.Connect(identityFor("bob@example.com"), resp, connB); err != nil {
		t.Fatalf("connect bob: %v", err)
	}

	want := []string{"alice@example.com", "bob@example.com"}
	if got := connA.lastPresence(); !reflect.DeepEqual(got, want) {
		t.Errorf("existing connection presence = %v, want %v", got, want)
	}
	if got := connB.lastPresence(); !reflect.DeepEqual(got, want) {
		t.Errorf("new connection presence = %v, want %v", got, want)
	}
	if connB.countEvents("init") != 1 {
		t.Errorf("new connection should receive exactly one init payload")
	}
}

func TestInitPayloadMergesTeamNotesBeforeComments(t *testing.T) {
	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		comments: []models.Comment{
			{ID: "c1", ResponseID: "resp-1", Content: "native early", UserEmail: "alice@example.com", Source: models.CommentSourceNative, CreatedAt: base},
			{ID: "c2", ResponseID: "resp-1", Content: "native late", UserEmail: "bob@example.com", Source: models.CommentSourceNative, CreatedAt: base.Add(2 * time.Hour)},
		},
		notes: []models.TeamNote{
			{ID: "n1", OpportunityID: "opp-1", TeamID: "team-1", Content: "note", UserEmail: "carol@example.com", CreatedAt: base.Add(time.Hour)},
		},
	}

	hub := NewHub(store)
	conn := &fakeConn{}
	if _, err := hub.Connect(identityFor("alice@example.com"), teamResponse(), conn); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var init initEvent
	for _, v := range conn.sentEvents() {
		if ev, ok := v.(initEvent); ok {
			init = ev
		}
	}

	if len(init.Comments) != 3 {
		t.Fatalf("init comments = %d, want 3", len(init.Comments))
	}
	// Mirrored notes come first regardless of their timestamps relative to
	// the native group.
	if init.Comments[0].Source != models.CommentSourceTeamNote {
		t.Errorf("first history entry source = %q, want team_note", init.Comments[0].Source)
	}
	if init.Comments[1].Content != "native early" || init.Comments[2].Content != "native late" {
		t.Errorf("native comments out of order: %+v", init.Comments[1:])
	}
}

func TestInitSkipsTeamNotesWithoutTeam(t *testing.T) {
	store := &fakeStore{
		notes: []models.TeamNote{
			{ID: "n1", OpportunityID: "opp-1", TeamID: "team-1", Content: "note", UserEmail: "x@example.com", CreatedAt: time.Now()},
		},
	}

	hub := NewHub(store)
	conn := &fakeConn{}
	if _, err := hub.Connect(identityFor("alice@example.com"), soloResponse(), conn); err != nil {
		t.Fatalf("connect: %v", err)
	}

	for _, v := range conn.sentEvents() {
		if ev, ok := v.(initEvent); ok {
			if len(ev.Comments) != 0 {
				t.Errorf("solo response history = %+v, want empty", ev.Comments)
			}
		}
	}
}

func TestEditFansOutEphemerally(t *testing.T) {
	store := &fakeStore{}
	hub := NewHub(store)
	resp := teamResponse()

	connA := &fakeConn{}
	clientA, _ := hub.Connect(identityFor("alice@example.com"), resp, connA)
	connB := &fakeConn{}
	hub.Connect(identityFor("bob@example.com"), resp, connB)

	raw, _ := json.Marshal(map[string]interface{}{
		"type":            "edit",
		"section_id":      "3",
		"content":         "new text",
		"cursor_position": 42,
	})
	hub.Dispatch(clientA, raw)

	if connB.countEvents("edit") != 1 {
		t.Fatalf("peer edit events = %d, want 1", connB.countEvents("edit"))
	}
	for _, v := range connB.sentEvents() {
		if ev, ok := v.(editEvent); ok {
			if ev.User != "alice@example.com" || ev.SectionID != "3" || ev.CursorPosition != 42 {
				t.Errorf("edit payload = %+v", ev)
			}
		}
	}
	if store.commentCount() != 0 {
		t.Errorf("edit must never be persisted")
	}
}

func TestCommentPersistedBeforeBroadcast(t *testing.T) {
	store := &fakeStore{}
	hub := NewHub(store)
	resp := teamResponse()

	connA := &fakeConn{}
	clientA, _ := hub.Connect(identityFor("alice@example.com"), resp, connA)

	persistedAtBroadcast := -1
	connB := &fakeConn{
		onWrite: func(v interface{}) {
			if _, ok := v.(commentEvent); ok {
				persistedAtBroadcast = store.commentCount()
			}
		},
	}
	hub.Connect(identityFor("bob@example.com"), resp, connB)

	raw, _ := json.Marshal(map[string]string{"type": "comment", "content": "looks good"})
	hub.Dispatch(clientA, raw)

	if persistedAtBroadcast != 1 {
		t.Errorf("comments persisted when peer observed broadcast = %d, want 1", persistedAtBroadcast)
	}
}

func TestCommentMirroredToTeamNotesWithSectionPrefix(t *testing.T) {
	store := &fakeStore{}
	hub := NewHub(store)

	conn := &fakeConn{}
	client, _ := hub.Connect(identityFor("alice@example.com"), teamResponse(), conn)

	raw, _ := json.Marshal(map[string]string{"type": "comment", "section_id": "2", "content": "tighten the scope"})
	hub.Dispatch(client, raw)

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.notes) != 1 {
		t.Fatalf("team notes = %d, want 1", len(store.notes))
	}
	if store.notes[0].Content != "[Section 2] tighten the scope" {
		t.Errorf("mirrored note content = %q", store.notes[0].Content)
	}
}

func TestCommentMirrorFailureIsSwallowed(t *testing.T) {
	store := &fakeStore{failNote: true}
	hub := NewHub(store)
	resp := teamResponse()

	connA := &fakeConn{}
	clientA, _ := hub.Connect(identityFor("alice@example.com"), resp, connA)
	connB := &fakeConn{}
	hub.Connect(identityFor("bob@example.com"), resp, connB)

	raw, _ := json.Marshal(map[string]string{"type": "comment", "content": "still arrives"})
	hub.Dispatch(clientA, raw)

	if store.commentCount() != 1 {
		t.Errorf("primary comment not persisted despite mirror failure")
	}
	if connB.countEvents("comment") != 1 {
		t.Errorf("comment not broadcast despite mirror failure")
	}
}

func TestCommentPersistFailureSuppressesBroadcast(t *testing.T) {
	store := &fakeStore{failComment: true}
	hub := NewHub(store)
	resp := teamResponse()

	connA := &fakeConn{}
	clientA, _ := hub.Connect(identityFor("alice@example.com"), resp, connA)
	connB := &fakeConn{}
	hub.Connect(identityFor("bob@example.com"), resp, connB)

	raw, _ := json.Marshal(map[string]string{"type": "comment", "content": "lost"})
	hub.Dispatch(clientA, raw)

	if connB.countEvents("comment") != 0 {
		t.Errorf("peer observed a comment that was never durably recorded")
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	store := &fakeStore{}
	hub := NewHub(store)
	resp := teamResponse()

	connA := &fakeConn{}
	clientA, _ := hub.Connect(identityFor("alice@example.com"), resp, connA)
	connB := &fakeConn{}
	hub.Connect(identityFor("bob@example.com"), resp, connB)

	before := len(connB.sentEvents())

	for _, raw := range [][]byte{
		[]byte(`not json`),
		[]byte(`"just a string"`),
		[]byte(`[1, 2, 3]`),
		[]byte(`{"type": "delete_everything"}`),
	} {
		hub.Dispatch(clientA, raw)
	}

	if got := len(connB.sentEvents()); got != before {
		t.Errorf("malformed messages produced %d broadcasts", got-before)
	}
	if store.commentCount() != 0 {
		t.Errorf("malformed messages persisted something")
	}
}

func TestPresenceHeartbeatRebroadcastsSnapshot(t *testing.T) {
	hub := NewHub(&fakeStore{})
	resp := teamResponse()

	connA := &fakeConn{}
	clientA, _ := hub.Connect(identityFor("alice@example.com"), resp, connA)
	connB := &fakeConn{}
	hub.Connect(identityFor("bob@example.com"), resp, connB)

	before := connB.countEvents("presence")

	// The heartbeat body is ignored; the server answers with its own
	// snapshot, not an echo.
	raw := []byte(`{"type": "presence", "content": "whatever"}`)
	hub.Dispatch(clientA, raw)

	if connB.countEvents("presence") != before+1 {
		t.Errorf("heartbeat did not trigger a presence broadcast")
	}
	want := []string{"alice@example.com", "bob@example.com"}
	if got := connB.lastPresence(); !reflect.DeepEqual(got, want) {
		t.Errorf("presence snapshot = %v, want %v", got, want)
	}
}

func TestBroadcastSurvivesPartialSendFailure(t *testing.T) {
	hub := NewHub(&fakeStore{})
	resp := teamResponse()

	connA := &fakeConn{}
	clientA, _ := hub.Connect(identityFor("alice@example.com"), resp, connA)
	connBad := &fakeConn{}
	hub.Connect(identityFor("bob@example.com"), resp, connBad)
	connC := &fakeConn{}
	hub.Connect(identityFor("carol@example.com"), resp, connC)

	connBad.mu.Lock()
	connBad.fail = true
	connBad.mu.Unlock()

	raw, _ := json.Marshal(map[string]string{"type": "edit", "content": "x"})
	hub.Dispatch(clientA, raw)

	if connC.countEvents("edit") != 1 {
		t.Errorf("healthy peer missed the broadcast")
	}
	connBad.mu.Lock()
	closed := connBad.closed
	connBad.mu.Unlock()
	if !closed {
		t.Errorf("failed connection was not closed")
	}

	want := []string{"alice@example.com", "carol@example.com"}
	if got := hub.Presence(resp.ID); !reflect.DeepEqual(got, want) {
		t.Errorf("presence after failed send = %v, want %v", got, want)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	hub := NewHub(&fakeStore{})
	resp := teamResponse()

	connA := &fakeConn{}
	clientA, _ := hub.Connect(identityFor("alice@example.com"), resp, connA)
	connB := &fakeConn{}
	hub.Connect(identityFor("bob@example.com"), resp, connB)

	hub.Disconnect(clientA)
	hub.Disconnect(clientA)

	want := []string{"bob@example.com"}
	if got := hub.Presence(resp.ID); !reflect.DeepEqual(got, want) {
		t.Errorf("presence after double disconnect = %v, want %v", got, want)
	}
	if got := connB.lastPresence(); !reflect.DeepEqual(got, want) {
		t.Errorf("peer presence after disconnect = %v, want %v", got, want)
	}
}

// Flat-set presence: closing one of a user's two connections drops the user
// from presence entirely until their next presence-bearing event.
func TestDisconnectDropsPresenceEvenWithSecondConnection(t *testing.T) {
	hub := NewHub(&fakeStore{})
	resp := teamResponse()

	tab1 := &fakeConn{}
	client1, _ := hub.Connect(identityFor("alice@example.com"), resp, tab1)
	tab2 := &fakeConn{}
	hub.Connect(identityFor("alice@example.com"), resp, tab2)

	hub.Disconnect(client1)

	if got := hub.Presence(resp.ID); len(got) != 0 {
		t.Errorf("presence = %v, want empty (flat-set removal)", got)
	}
}

func TestPresenceInvariantUnderRandomChurn(t *testing.T) {
	hub := NewHub(&fakeStore{})
	resp := teamResponse()
	rng := rand.New(rand.NewSource(1))

	type live struct {
		client *Client
		email  string
	}
	var connected []live

	check := func(step int) {
		expected := map[string]bool{}
		for _, l := range connected {
			expected[l.email] = true
		}
		got := hub.Presence(resp.ID)
		if len(got) != len(expected) {
			t.Fatalf("step %d: presence %v, connected users %v", step, got, expected)
		}
		for _, email := range got {
			if !expected[email] {
				t.Fatalf("step %d: presence contains %s with no live connection", step, email)
			}
		}
	}

	for step := 0; step < 200; step++ {
		if len(connected) == 0 || rng.Intn(2) == 0 {
			// Each simulated user holds at most one connection, so the
			// flat presence set and the registry agree.
			email := fmt.Sprintf("user%d@example.com", step)
			client, err := hub.Connect(identityFor(email), resp, &fakeConn{})
			if err != nil {
				t.Fatalf("step %d: connect: %v", step, err)
			}
			connected = append(connected, live{client: client, email: email})
		} else {
			i := rng.Intn(len(connected))
			hub.Disconnect(connected[i].client)
			connected = append(connected[:i], connected[i+1:]...)
		}
		check(step)
	}
}
