// Package archive records finished chat turns into a SQLite file for offline
// inspection. The application never restores state from it.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"StreamChat/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT,
	model_id TEXT,
	updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT,
	seq INTEGER,
	role TEXT,
	content TEXT,
	created_at DATETIME,
	FOREIGN KEY(session_id) REFERENCES sessions(id)
);
CREATE INDEX IF NOT EXISTS messages_session_seq ON messages(session_id, seq);`

// Archive is a SQLite-backed transcript archive
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the archive at path
func Open(path string, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases intact.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &Archive{db: db, logger: logger}, nil
}

// Close closes the database
func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordTurn upserts the session row and all of its messages
func (a *Archive) RecordTurn(ctx context.Context, sess session.Session) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO sessions (id, title, model_id, updated_at) VALUES (?, ?, ?, ?)",
		sess.ID, sess.Title, sess.ModelID, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	for i, msg := range sess.Messages {
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO messages (id, session_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			msg.ID, sess.ID, i, string(msg.Role), msg.Text, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	a.logger.Info("turn archived", "session_id", sess.ID, "message_count", len(sess.Messages))
	return nil
}

// Transcript reads back the archived messages of a session in order
func (a *Archive) Transcript(ctx context.Context, sessionID string) ([]session.Message, error) {
	rows, err := a.db.QueryContext(ctx,
		"SELECT id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY seq",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	messages := []session.Message{}
	for rows.Next() {
		var msg session.Message
		var role string
		if err := rows.Scan(&msg.ID, &role, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = session.Role(role)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Title returns the archived title of a session
func (a *Archive) Title(ctx context.Context, sessionID string) (string, error) {
	var title string
	err := a.db.QueryRowContext(ctx, "SELECT title FROM sessions WHERE id = ?", sessionID).Scan(&title)
	if err != nil {
		return "", fmt.Errorf("session not found: %w", err)
	}
	return title, nil
}

// Print writes the archived title and transcript of a session to w
func (a *Archive) Print(ctx context.Context, sessionID string, w io.Writer) error {
	title, err := a.Title(ctx, sessionID)
	if err != nil {
		return err
	}
	messages, err := a.Transcript(ctx, sessionID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "=== %s ===\n", title)
	for _, msg := range messages {
		label := "You"
		if msg.Role == session.RoleAssistant {
			label = "Bot"
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", msg.CreatedAt.Format("2006-01-02 15:04"), label, msg.Text)
	}
	return nil
}
