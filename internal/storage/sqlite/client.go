package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/bidboard/backend/internal/storage/models"
	"github.com/bidboard/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		team_id TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_team ON users(team_id);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS opportunities (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		agency TEXT,
		due_date INTEGER,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS responses (
		id TEXT PRIMARY KEY,
		opportunity_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		team_id TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (opportunity_id) REFERENCES opportunities(id),
		FOREIGN KEY (owner_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_responses_opportunity ON responses(opportunity_id);
	CREATE INDEX IF NOT EXISTS idx_responses_owner ON responses(owner_id);
	CREATE INDEX IF NOT EXISTS idx_responses_team ON responses(team_id);

	CREATE TABLE IF NOT EXISTS response_comments (
		id TEXT PRIMARY KEY,
		response_id TEXT NOT NULL,
		section_id TEXT,
		content TEXT NOT NULL,
		user_email TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'comment',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (response_id) REFERENCES responses(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_comments_response ON response_comments(response_id);
	CREATE INDEX IF NOT EXISTS idx_comments_created ON response_comments(created_at);

	CREATE TABLE IF NOT EXISTS team_notes (
		id TEXT PRIMARY KEY,
		opportunity_id TEXT NOT NULL,
		team_id TEXT NOT NULL,
		content TEXT NOT NULL,
		user_email TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (opportunity_id) REFERENCES opportunities(id)
	);
	CREATE INDEX IF NOT EXISTS idx_notes_opportunity ON team_notes(opportunity_id, team_id);

	CREATE TABLE IF NOT EXISTS uploads (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		opportunity_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		mime TEXT NOT NULL,
		size INTEGER NOT NULL,
		data BLOB,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (owner_id) REFERENCES users(id),
		FOREIGN KEY (opportunity_id) REFERENCES opportunities(id)
	);
	CREATE INDEX IF NOT EXISTS idx_uploads_owner ON uploads(owner_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) GetUser(id string) (*models.User, error) {
	query := `SELECT id, email, COALESCE(team_id, ''), created_at FROM users WHERE id = ?`

	var user models.User
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&user.ID, &user.Email, &user.TeamID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}

func (c *Client) InsertUser(user *models.User) error {
	query := `INSERT INTO users (id, email, team_id, created_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, user.ID, user.Email, nullable(user.TeamID), user.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

func (c *Client) GetSession(token string) (*models.Session, error) {
	query := `SELECT token, user_id, expires_at FROM sessions WHERE token = ?`

	var session models.Session
	var expiresAt int64

	err := c.db.QueryRow(query, token).Scan(&session.Token, &session.UserID, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session.ExpiresAt = time.Unix(expiresAt, 0)
	return &session, nil
}

func (c *Client) InsertSession(session *models.Session) error {
	query := `INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)`

	_, err := c.db.Exec(query, session.Token, session.UserID, session.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	return nil
}

func (c *Client) InsertOpportunity(opp *models.Opportunity) error {
	query := `INSERT INTO opportunities (id, title, agency, due_date, created_at) VALUES (?, ?, ?, ?, ?)`

	var dueDate interface{}
	if opp.DueDate != nil {
		dueDate = opp.DueDate.Unix()
	}

	_, err := c.db.Exec(query, opp.ID, opp.Title, opp.Agency, dueDate, opp.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert opportunity: %w", err)
	}

	return nil
}

func (c *Client) GetResponse(id string) (*models.Response, error) {
	query := `SELECT id, opportunity_id, owner_id, COALESCE(team_id, ''), created_at FROM responses WHERE id = ?`

	var resp models.Response
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&resp.ID, &resp.OpportunityID, &resp.OwnerID, &resp.TeamID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}

	resp.CreatedAt = time.Unix(createdAt, 0)
	return &resp, nil
}

func (c *Client) InsertResponse(resp *models.Response) error {
	query := `INSERT INTO responses (id, opportunity_id, owner_id, team_id, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(query, resp.ID, resp.OpportunityID, resp.OwnerID, nullable(resp.TeamID), resp.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert response: %w", err)
	}

	return nil
}

// HasResponseForOpportunity reports whether the user, or their team, tracks
// the opportunity through at least one response.
func (c *Client) HasResponseForOpportunity(opportunityID, userID, teamID string) (bool, error) {
	query := `SELECT COUNT(1) FROM responses WHERE opportunity_id = ? AND (owner_id = ? OR (team_id IS NOT NULL AND team_id = ?))`

	var count int
	err := c.db.QueryRow(query, opportunityID, userID, teamID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check opportunity access: %w", err)
	}

	return count > 0, nil
}

func (c *Client) InsertComment(comment *models.Comment) error {
	query := `INSERT INTO response_comments (id, response_id, section_id, content, user_email, source, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		comment.ID,
		comment.ResponseID,
		nullable(comment.SectionID),
		comment.Content,
		comment.UserEmail,
		comment.Source,
		comment.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}

	logger.Debug("Comment persisted",
		zap.String("comment_id", comment.ID),
		zap.String("response_id", comment.ResponseID),
	)

	return nil
}

func (c *Client) ListComments(responseID string) ([]models.Comment, error) {
	query := `
		SELECT id, response_id, COALESCE(section_id, ''), content, user_email, source, created_at
		FROM response_comments
		WHERE response_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := c.db.Query(query, responseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer rows.Close()

	var comments []models.Comment
	for rows.Next() {
		var cm models.Comment
		var createdAt int64

		err := rows.Scan(&cm.ID, &cm.ResponseID, &cm.SectionID, &cm.Content, &cm.UserEmail, &cm.Source, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		cm.CreatedAt = time.Unix(createdAt, 0)
		comments = append(comments, cm)
	}

	return comments, rows.Err()
}

func (c *Client) InsertTeamNote(note *models.TeamNote) error {
	query := `INSERT INTO team_notes (id, opportunity_id, team_id, content, user_email, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		note.ID,
		note.OpportunityID,
		note.TeamID,
		note.Content,
		note.UserEmail,
		note.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert team note: %w", err)
	}

	return nil
}

func (c *Client) ListTeamNotes(opportunityID, teamID string) ([]models.TeamNote, error) {
	query := `
		SELECT id, opportunity_id, team_id, content, user_email, created_at
		FROM team_notes
		WHERE opportunity_id = ? AND team_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := c.db.Query(query, opportunityID, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list team notes: %w", err)
	}
	defer rows.Close()

	var notes []models.TeamNote
	for rows.Next() {
		var n models.TeamNote
		var createdAt int64

		err := rows.Scan(&n.ID, &n.OpportunityID, &n.TeamID, &n.Content, &n.UserEmail, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		n.CreatedAt = time.Unix(createdAt, 0)
		notes = append(notes, n)
	}

	return notes, rows.Err()
}

func (c *Client) GetUpload(id string) (*models.Upload, error) {
	query := `SELECT id, owner_id, opportunity_id, filename, mime, size, data, created_at FROM uploads WHERE id = ?`

	var up models.Upload
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(
		&up.ID,
		&up.OwnerID,
		&up.OpportunityID,
		&up.Filename,
		&up.MIME,
		&up.Size,
		&up.Data,
		&createdAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}

	up.CreatedAt = time.Unix(createdAt, 0)
	return &up, nil
}

func (c *Client) InsertUpload(up *models.Upload) error {
	query := `INSERT INTO uploads (id, owner_id, opportunity_id, filename, mime, size, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		up.ID,
		up.OwnerID,
		up.OpportunityID,
		up.Filename,
		up.MIME,
		up.Size,
		up.Data,
		up.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert upload: %w", err)
	}

	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
