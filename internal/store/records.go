package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agentforge/internal/logging"
	"agentforge/internal/types"

	"github.com/google/uuid"
)

// =============================================================================
// PROJECTS
// =============================================================================

// CreateProject inserts a new project owned by userID.
func (s *SQLiteStore) CreateProject(ctx context.Context, userID, name string) (types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := types.Project{
		ID:        uuid.NewString(),
		Name:      name,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO projects (id, name, user_id, created_at) VALUES (?, ?, ?, ?)",
		p.ID, p.Name, p.UserID, formatTime(p.CreatedAt))
	if err != nil {
		return types.Project{}, fmt.Errorf("create project: %w", err)
	}
	logging.StoreDebug("Created project %s (%s)", p.ID, p.Name)
	return p, nil
}

// GetProject returns a project with its message ids in append order.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p types.Project
	var created string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, user_id, created_at FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.UserID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Project{}, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.Project{}, fmt.Errorf("get project: %w", err)
	}
	p.CreatedAt = parseTime(created)

	rows, err := s.db.QueryContext(ctx,
		"SELECT message_id FROM project_messages WHERE project_id = ? ORDER BY position", id)
	if err != nil {
		return types.Project{}, fmt.Errorf("get project messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mid string
		if err := rows.Scan(&mid); err != nil {
			return types.Project{}, err
		}
		p.MessageIDs = append(p.MessageIDs, mid)
	}
	return p, rows.Err()
}

// ListProjects returns a user's projects, newest first.
func (s *SQLiteStore) ListProjects(ctx context.Context, userID string) ([]types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, user_id, created_at FROM projects WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []types.Project
	for rows.Next() {
		var p types.Project
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &p.UserID, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// MESSAGES
// =============================================================================

// CreateMessage inserts msg and returns its id. ID and CreatedAt are assigned
// when empty. The message is not yet part of the project's message list.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg types.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, project_id, content, role, type, run_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ProjectID, msg.Content, string(msg.Role), string(msg.Type), msg.RunID, formatTime(msg.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}
	logging.StoreDebug("Created %s/%s message %s in project %s", msg.Role, msg.Type, msg.ID, msg.ProjectID)
	return msg.ID, nil
}

// AppendProjectMessage adds messageID to the end of the project's message list.
// Appending the same message twice is a no-op.
func (s *SQLiteStore) AppendProjectMessage(ctx context.Context, projectID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM projects WHERE id = ?", projectID).Scan(&exists); err != nil {
		return fmt.Errorf("append project message: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO project_messages (project_id, message_id, position)
		 SELECT ?, ?, COALESCE(MAX(position), 0) + 1 FROM project_messages WHERE project_id = ?`,
		projectID, messageID, projectID)
	if err != nil {
		return fmt.Errorf("append project message: %w", err)
	}
	return nil
}

const messageColumns = `m.id, m.project_id, m.content, m.role, m.type, COALESCE(m.fragment_id, ''), m.run_id, m.created_at,
	f.id, f.message_id, f.sandbox_url, f.title, f.files, f.created_at`

func scanMessage(scan func(dest ...any) error) (types.Message, error) {
	var m types.Message
	var role, typ, created string
	var fID, fMsgID, fURL, fTitle, fFiles, fCreated sql.NullString

	if err := scan(&m.ID, &m.ProjectID, &m.Content, &role, &typ, &m.FragmentID, &m.RunID, &created,
		&fID, &fMsgID, &fURL, &fTitle, &fFiles, &fCreated); err != nil {
		return types.Message{}, err
	}
	m.Role = types.MessageRole(role)
	m.Type = types.MessageType(typ)
	m.CreatedAt = parseTime(created)

	if fID.Valid {
		frag := &types.Fragment{
			ID:         fID.String,
			MessageID:  fMsgID.String,
			SandboxURL: fURL.String,
			Title:      fTitle.String,
			CreatedAt:  parseTime(fCreated.String),
		}
		if err := json.Unmarshal([]byte(fFiles.String), &frag.Files); err != nil {
			return types.Message{}, fmt.Errorf("decode fragment %s files: %w", fID.String, err)
		}
		m.Fragment = frag
	}
	return m, nil
}

// GetMessage returns one message with its fragment, if any.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m LEFT JOIN fragments f ON f.message_id = m.id WHERE m.id = ?", id)
	m, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// FindMessageByRun returns the message written by runID.
func (s *SQLiteStore) FindMessageByRun(ctx context.Context, runID string) (types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m LEFT JOIN fragments f ON f.message_id = m.id WHERE m.run_id = ? AND m.run_id != '' LIMIT 1", runID)
	m, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, fmt.Errorf("message for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return types.Message{}, fmt.Errorf("find message by run: %w", err)
	}
	return m, nil
}

// ListMessages returns a project's messages newest first, fragments populated.
// A message whose fragment write never happened comes back with a nil Fragment.
func (s *SQLiteStore) ListMessages(ctx context.Context, projectID string) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+` FROM messages m LEFT JOIN fragments f ON f.message_id = m.id
		 WHERE m.project_id = ? ORDER BY m.created_at DESC, m.rowid DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMessage removes a message, its fragment and its project list entry.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM fragments WHERE message_id = ?",
		"DELETE FROM project_messages WHERE message_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	logging.Store("Deleted message %s", id)
	return nil
}

// =============================================================================
// FRAGMENTS
// =============================================================================

// CreateFragment stores the files snapshot and preview URL produced for messageID.
func (s *SQLiteStore) CreateFragment(ctx context.Context, messageID, sandboxURL, title string, files map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if files == nil {
		files = map[string]string{}
	}
	data, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("encode fragment files: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fragments (id, message_id, sandbox_url, title, files, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, messageID, sandboxURL, title, string(data), formatTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("create fragment: %w", err)
	}
	logging.StoreDebug("Created fragment %s for message %s (%d files)", id, messageID, len(files))
	return id, nil
}

// AttachFragment records fragmentID on its owning message. This is the only
// mutation a message sees after creation.
func (s *SQLiteStore) AttachFragment(ctx context.Context, messageID, fragmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE messages SET fragment_id = ? WHERE id = ?", fragmentID, messageID)
	if err != nil {
		return fmt.Errorf("attach fragment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}
