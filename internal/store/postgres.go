package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation on the named constraint. This is the only driver error code
// the store inspects; everything else surfaces as a generic failure.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// ---------------------------------------------------------------------------
// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, full_name, username, email, password_hash)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.FullName, user.Username, user.Email, user.PasswordHash)
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return ErrEmailTaken
		}
		if isUniqueViolation(err, "users_username_key") {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, username, email, password_hash, COALESCE(avatar_key, '')
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.FullName, &user.Username, &user.Email, &user.PasswordHash, &user.AvatarKey)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, username, email, password_hash, COALESCE(avatar_key, '')
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.FullName, &user.Username, &user.Email, &user.PasswordHash, &user.AvatarKey)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SetPasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET reset_token=$2, reset_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set password reset: %w", err)
	}
	return nil
}

// GetUserByResetToken returns the user holding a live (unexpired) reset
// token. Expired or unknown tokens behave as not found.
func (s *PostgresStore) GetUserByResetToken(ctx context.Context, token string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, full_name, username, email, password_hash, COALESCE(avatar_key, '')
		FROM users
		WHERE reset_token = $1 AND reset_expires_at > NOW()
	`, token).Scan(&user.ID, &user.FullName, &user.Username, &user.Email, &user.PasswordHash, &user.AvatarKey)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// UpdateUserPassword stores the new hash and consumes any outstanding
// reset token in the same statement.
func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash=$2, reset_token=NULL, reset_expires_at=NULL, updated_at=NOW()
		WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserAvatar(ctx context.Context, userID, avatarKey string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET avatar_key=$2, updated_at=NOW() WHERE id=$1
	`, userID, avatarKey)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Refresh sessions and token revocation (Postgres fallback when Redis
// is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.full_name, u.username, u.email, COALESCE(u.avatar_key, '')
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.FullName, &user.Username, &user.Email, &user.AvatarKey)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---------------------------------------------------------------------------
// Projects

// CreateProject inserts the project, its creator's collaborator row,
// and the initial roles as one transaction. No partial project is ever
// visible: any failure rolls the whole thing back.
func (s *PostgresStore) CreateProject(ctx context.Context, project Project, roles []RoleInput, collabID string, roleIDs []string) (Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Project{}, fmt.Errorf("begin create project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO projects (id, creator_id, title, description, college, status)
		VALUES ($1, $2, $3, $4, '', 'ongoing')
		RETURNING created_at, updated_at
	`, project.ID, project.CreatorID, project.Title, project.Description).Scan(&project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO project_collaborators (id, project_id, user_id, status, role)
		VALUES ($1, $2, $3, 'accepted', 'creator')
	`, collabID, project.ID, project.CreatorID); err != nil {
		return Project{}, fmt.Errorf("insert creator collaborator: %w", err)
	}

	for i, role := range roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_roles (id, project_id, name, count)
			VALUES ($1, $2, $3, $4)
		`, roleIDs[i], project.ID, role.Name, role.Count); err != nil {
			return Project{}, fmt.Errorf("insert role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Project{}, fmt.Errorf("commit create project: %w", err)
	}
	project.Status = ProjectOngoing
	return project, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (ProjectDetail, error) {
	var detail ProjectDetail
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.creator_id, u.username, p.title, p.description, p.college, p.status, p.upvote_count, p.created_at, p.updated_at
		FROM projects p
		JOIN users u ON u.id = p.creator_id
		WHERE p.id = $1
	`, projectID).Scan(
		&detail.ID,
		&detail.CreatorID,
		&detail.CreatorUsername,
		&detail.Title,
		&detail.Description,
		&detail.College,
		&detail.Status,
		&detail.UpvoteCount,
		&detail.CreatedAt,
		&detail.UpdatedAt,
	)
	if err != nil {
		return ProjectDetail{}, err
	}

	detail.Roles, err = s.listRoles(ctx, projectID)
	if err != nil {
		return ProjectDetail{}, err
	}
	detail.Collaborators, err = s.listCollaborators(ctx, projectID)
	if err != nil {
		return ProjectDetail{}, err
	}
	detail.Tasks, err = s.ListTasks(ctx, projectID)
	if err != nil {
		return ProjectDetail{}, err
	}
	return detail, nil
}

func (s *PostgresStore) listRoles(ctx context.Context, projectID string) ([]ProjectRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, count
		FROM project_roles
		WHERE project_id=$1
		ORDER BY name ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectRole, 0)
	for rows.Next() {
		var item ProjectRole
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Name, &item.Count); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) listCollaborators(ctx context.Context, projectID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.project_id, c.user_id, u.username, COALESCE(u.avatar_key, ''), c.status, COALESCE(c.role, ''), c.created_at
		FROM project_collaborators c
		JOIN users u ON u.id = c.user_id
		WHERE c.project_id=$1
		ORDER BY c.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		var item Collaborator
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Username, &item.AvatarKey, &item.Status, &item.Role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collaborators: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.creator_id, u.username, p.title, p.description, p.college, p.status, p.upvote_count, p.created_at, p.updated_at
		FROM projects p
		JOIN users u ON u.id = p.creator_id
		ORDER BY p.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(
			&item.ID,
			&item.CreatorID,
			&item.CreatorUsername,
			&item.Title,
			&item.Description,
			&item.College,
			&item.Status,
			&item.UpvoteCount,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

// UpdateProject applies a full project patch as one transaction:
// ownership gate, scalar overwrite, collaborator removals then
// additions, role removals, role updates, role insertions. Any failure
// rolls back every step.
//
// Removals run before insertions so a row removed and re-added in the
// same request never trips the unique constraint mid-transaction.
func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, actorID string, patch ProjectPatch, newRoleIDs, newCollabIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update project: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Step 1: authorization. Nothing is written until the actor is
	// confirmed to be the creator.
	var creatorID string
	err = tx.QueryRowContext(ctx, `SELECT creator_id FROM projects WHERE id=$1`, projectID).Scan(&creatorID)
	if err != nil {
		return err
	}
	if creatorID != actorID {
		return ErrNotOwner
	}

	// Step 2: scalar fields overwrite unconditionally.
	if _, err := tx.ExecContext(ctx, `
		UPDATE projects
		SET title=$2, description=$3, college=$4, status=$5, updated_at=NOW()
		WHERE id=$1
	`, projectID, patch.Title, patch.Description, patch.College, patch.Status); err != nil {
		return fmt.Errorf("update project fields: %w", err)
	}

	// Step 3: collaborator removals. Blank ids were filtered by the
	// caller; removal is scoped to this project.
	for _, userID := range patch.CollaboratorsToRemove {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM project_collaborators WHERE project_id=$1 AND user_id=$2
		`, projectID, userID); err != nil {
			return fmt.Errorf("remove collaborator: %w", err)
		}
	}

	// Step 4: collaborator additions. Re-adding an existing pair is a
	// no-op, not an error.
	for i, userID := range patch.CollaboratorsToAdd {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_collaborators (id, project_id, user_id, status)
			VALUES ($1, $2, $3, 'accepted')
			ON CONFLICT (project_id, user_id) DO NOTHING
		`, newCollabIDs[i], projectID, userID); err != nil {
			return fmt.Errorf("add collaborator: %w", err)
		}
	}

	// Step 5: role removals. The project_id guard prevents deleting
	// another project's role by id collision.
	for _, roleID := range patch.RemovedRoleIDs {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM project_roles WHERE id=$1 AND project_id=$2
		`, roleID, projectID); err != nil {
			return fmt.Errorf("remove role: %w", err)
		}
	}

	// Step 6: role updates, scoped by (id, project_id).
	for _, role := range patch.UpdatedRoles {
		if _, err := tx.ExecContext(ctx, `
			UPDATE project_roles SET name=$3, count=$4
			WHERE id=$1 AND project_id=$2
		`, role.ID, projectID, role.Name, role.Count); err != nil {
			return fmt.Errorf("update role: %w", err)
		}
	}

	// Step 7: role insertions.
	for i, role := range patch.NewRoles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO project_roles (id, project_id, name, count)
			VALUES ($1, $2, $3, $4)
		`, newRoleIDs[i], projectID, role.Name, role.Count); err != nil {
			return fmt.Errorf("insert role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update project: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID, actorID string) error {
	var creatorID string
	err := s.db.QueryRowContext(ctx, `SELECT creator_id FROM projects WHERE id=$1`, projectID).Scan(&creatorID)
	if err != nil {
		return err
	}
	if creatorID != actorID {
		return ErrNotOwner
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Collaboration requests

// ApplyToProject records a membership request. Accepted rows reject
// with ErrAlreadyCollaborator, pending rows with ErrDuplicateRequest; a
// previously declined row is reset to pending.
func (s *PostgresStore) ApplyToProject(ctx context.Context, collabID, projectID, userID, role string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM projects WHERE id=$1)`, projectID).Scan(&exists); err != nil {
		return fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return sql.ErrNoRows
	}

	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM project_collaborators WHERE project_id=$1 AND user_id=$2
	`, projectID, userID).Scan(&status)
	if err == nil {
		switch status {
		case CollabAccepted:
			return ErrAlreadyCollaborator
		case CollabPending:
			return ErrDuplicateRequest
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check collaborator: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO project_collaborators (id, project_id, user_id, status, role)
		VALUES ($1, $2, $3, 'pending', $4)
		ON CONFLICT (project_id, user_id) DO UPDATE SET id=EXCLUDED.id, status='pending', role=EXCLUDED.role
		WHERE project_collaborators.status='declined'
	`, collabID, projectID, userID, role)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert request rows: %w", err)
	}
	// A zero row count means a concurrent apply won the insert after the
	// status check above: the conflict clause matched a non-declined row
	// and nothing was written.
	if affected == 0 {
		return ErrDuplicateRequest
	}
	return nil
}

// CancelRequest deletes the applicant's pending row. Accepted and
// declined rows are not cancellable.
func (s *PostgresStore) CancelRequest(ctx context.Context, projectID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM project_collaborators
		WHERE project_id=$1 AND user_id=$2 AND status='pending'
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("cancel request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel request rows: %w", err)
	}
	if affected == 0 {
		return ErrNoPendingRequest
	}
	return nil
}

func (s *PostgresStore) ListPendingRequests(ctx context.Context, projectID string) ([]Collaborator, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.project_id, c.user_id, u.username, COALESCE(u.avatar_key, ''), c.status, COALESCE(c.role, ''), c.created_at
		FROM project_collaborators c
		JOIN users u ON u.id = c.user_id
		WHERE c.project_id=$1 AND c.status='pending'
		ORDER BY c.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	items := make([]Collaborator, 0)
	for rows.Next() {
		var item Collaborator
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Username, &item.AvatarKey, &item.Status, &item.Role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending requests: %w", err)
	}
	return items, nil
}

// resolveRequest flips a pending request to the given status, but only
// when the acting user owns the project. A zero row count deliberately
// conflates "no such request" with "not your project".
func (s *PostgresStore) resolveRequest(ctx context.Context, collabID, ownerID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE project_collaborators c
		SET status=$3
		FROM projects p
		WHERE c.id=$1 AND p.id=c.project_id AND p.creator_id=$2 AND c.status='pending'
	`, collabID, ownerID, status)
	if err != nil {
		return fmt.Errorf("resolve request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve request rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) AcceptRequest(ctx context.Context, collabID, ownerID string) error {
	return s.resolveRequest(ctx, collabID, ownerID, CollabAccepted)
}

func (s *PostgresStore) DeclineRequest(ctx context.Context, collabID, ownerID string) error {
	return s.resolveRequest(ctx, collabID, ownerID, CollabDeclined)
}

// ---------------------------------------------------------------------------
// Tasks

func (s *PostgresStore) CreateTask(ctx context.Context, task Task, actorID string) (Task, error) {
	var creatorID string
	err := s.db.QueryRowContext(ctx, `SELECT creator_id FROM projects WHERE id=$1`, task.ProjectID).Scan(&creatorID)
	if err != nil {
		return Task{}, err
	}
	if creatorID != actorID {
		return Task{}, ErrNotOwner
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO project_tasks (id, project_id, title, status)
		VALUES ($1, $2, $3, 'open')
		RETURNING created_at, updated_at
	`, task.ID, task.ProjectID, task.Title).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	task.Status = TaskOpen
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.project_id, t.title, t.user_id, COALESCE(u.username, ''), t.status, t.created_at, t.updated_at
		FROM project_tasks t
		LEFT JOIN users u ON u.id = t.user_id
		WHERE t.project_id=$1
		ORDER BY t.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var item Task
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Title, &item.UserID, &item.Username, &item.Status, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

// ClaimTask assigns an unassigned task to an accepted collaborator.
// The final guarded UPDATE makes the claim race-safe: of two concurrent
// claims exactly one sees a row with user_id still NULL.
func (s *PostgresStore) ClaimTask(ctx context.Context, taskID, userID string) error {
	var projectID string
	var assignee sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT project_id, user_id FROM project_tasks WHERE id=$1
	`, taskID).Scan(&projectID, &assignee)
	if err != nil {
		return err
	}
	if assignee.Valid {
		return ErrAlreadyAssigned
	}

	var accepted bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM project_collaborators
			WHERE project_id=$1 AND user_id=$2 AND status='accepted'
		)
	`, projectID, userID).Scan(&accepted); err != nil {
		return fmt.Errorf("check collaborator: %w", err)
	}
	if !accepted {
		return ErrNotCollaborator
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE project_tasks
		SET user_id=$2, status='assigned', updated_at=NOW()
		WHERE id=$1 AND user_id IS NULL
	`, taskID, userID)
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim task rows: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyAssigned
	}
	return nil
}

// UpdateTaskStatus advances a task's status; only its assignee may.
func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, taskID, userID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE project_tasks SET status=$3, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
	`, taskID, userID, status)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task status rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM project_tasks WHERE id=$1)`, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	return ErrNotAssignee
}

// ---------------------------------------------------------------------------
// Upvotes
//
// The upvote count is denormalized onto projects and kept consistent by
// updating it in the same transaction as the join-row mutation.

func (s *PostgresStore) AddUpvote(ctx context.Context, projectID, userID string) (int, error) {
	return s.mutateUpvote(ctx, projectID, userID, true)
}

func (s *PostgresStore) RemoveUpvote(ctx context.Context, projectID, userID string) (int, error) {
	return s.mutateUpvote(ctx, projectID, userID, false)
}

func (s *PostgresStore) mutateUpvote(ctx context.Context, projectID, userID string, add bool) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upvote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT upvote_count FROM projects WHERE id=$1`, projectID).Scan(&count); err != nil {
		return 0, err
	}

	var result sql.Result
	if add {
		result, err = tx.ExecContext(ctx, `
			INSERT INTO project_upvotes (project_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (project_id, user_id) DO NOTHING
		`, projectID, userID)
	} else {
		result, err = tx.ExecContext(ctx, `
			DELETE FROM project_upvotes WHERE project_id=$1 AND user_id=$2
		`, projectID, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("mutate upvote: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mutate upvote rows: %w", err)
	}

	// Double add and double remove are no-ops; the counter only moves
	// when the join row actually changed.
	if affected > 0 {
		delta := 1
		if !add {
			delta = -1
		}
		if err := tx.QueryRowContext(ctx, `
			UPDATE projects SET upvote_count = upvote_count + $2 WHERE id=$1
			RETURNING upvote_count
		`, projectID, delta).Scan(&count); err != nil {
			return 0, fmt.Errorf("update upvote count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upvote: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) HasUpvoted(ctx context.Context, projectID, userID string) (bool, error) {
	var has bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_upvotes WHERE project_id=$1 AND user_id=$2)
	`, projectID, userID).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("check upvote: %w", err)
	}
	return has, nil
}

// ---------------------------------------------------------------------------
// Comments

func (s *PostgresStore) ListComments(ctx context.Context, projectID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.project_id, c.user_id, u.username, COALESCE(u.avatar_key, ''), c.body, c.created_at, c.updated_at
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.project_id=$1
		ORDER BY c.created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Username, &item.AvatarKey, &item.Text, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// InsertComment verifies the project exists before inserting.
func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) (Comment, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM projects WHERE id=$1)`, comment.ProjectID).Scan(&exists); err != nil {
		return Comment{}, fmt.Errorf("check project: %w", err)
	}
	if !exists {
		return Comment{}, sql.ErrNoRows
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (id, project_id, user_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, comment.ID, comment.ProjectID, comment.UserID, comment.Text).Scan(&comment.CreatedAt, &comment.UpdatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

// UpdateComment edits a comment scoped by (id, user_id). A zero row
// count conflates "not found" and "not yours" so existence never leaks.
func (s *PostgresStore) UpdateComment(ctx context.Context, commentID, userID, text string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET body=$3, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
	`, commentID, userID, text)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update comment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM comments WHERE id=$1 AND user_id=$2
	`, commentID, userID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete comment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
