package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"inprogress/api/internal/auth"
	"inprogress/api/internal/authpw"
	"inprogress/api/internal/avatars"
	"inprogress/api/internal/config"
	"inprogress/api/internal/email"
	"inprogress/api/internal/search"
	"inprogress/api/internal/store"
	"inprogress/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	Email        string
	FullName     string
	JTI          string
	ExpiresAt    time.Time
}

// RoleItem is a project role supplied on create or update.
type RoleItem struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ProjectPatchInput is the desired state applied by UpdateProject.
type ProjectPatchInput struct {
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	College               string     `json:"college"`
	Status                string     `json:"status"`
	NewRoles              []RoleItem `json:"newRoles"`
	UpdatedRoles          []RoleItem `json:"updatedRoles"`
	RemovedRoleIDs        []string   `json:"removedRoleIds"`
	CollaboratorsToAdd    []string   `json:"collaboratorsToAdd"`
	CollaboratorsToRemove []string   `json:"collaboratorsToRemove"`
}

var allowedProjectStatus = map[string]struct{}{
	store.ProjectOngoing: {},
	store.ProjectDone:    {},
}

var allowedTaskStatus = map[string]struct{}{
	store.TaskAssigned:   {},
	store.TaskInProgress: {},
	store.TaskCompleted:  {},
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	UpdateUserAvatar(context.Context, string, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	CreateProject(context.Context, store.Project, []store.RoleInput, string, []string) (store.Project, error)
	GetProject(context.Context, string) (store.ProjectDetail, error)
	ListProjects(context.Context) ([]store.Project, error)
	UpdateProject(context.Context, string, string, store.ProjectPatch, []string, []string) error
	DeleteProject(context.Context, string, string) error
	ApplyToProject(context.Context, string, string, string, string) error
	CancelRequest(context.Context, string, string) error
	ListPendingRequests(context.Context, string) ([]store.Collaborator, error)
	AcceptRequest(context.Context, string, string) error
	DeclineRequest(context.Context, string, string) error
	CreateTask(context.Context, store.Task, string) (store.Task, error)
	ListTasks(context.Context, string) ([]store.Task, error)
	ClaimTask(context.Context, string, string) error
	UpdateTaskStatus(context.Context, string, string, string) error
	AddUpvote(context.Context, string, string) (int, error)
	RemoveUpvote(context.Context, string, string) (int, error)
	HasUpvoted(context.Context, string, string) (bool, error)
	ListComments(context.Context, string) ([]store.Comment, error)
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	UpdateComment(context.Context, string, string, string) error
	DeleteComment(context.Context, string, string) error
	Ping(ctx context.Context) error
}

type sessionStore interface {
	SaveRefreshSession(context.Context, string, store.User, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type avatarStore interface {
	Upload(ctx context.Context, userID, contentType string, r io.Reader, size int64) (string, error)
	URL(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
}

// Deps are the optional capabilities wired at startup. Sessions falls
// back to the primary store when nil.
type Deps struct {
	Sessions sessionStore
	Accounts *authpw.Service
	Search   *search.Service
	Avatars  avatarStore
	Mailer   *email.Service
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	accounts *authpw.Service
	search   *search.Service
	avatars  avatarStore
	mailer   *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	sessions := deps.Sessions
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		accounts: deps.Accounts,
		search:   deps.Search,
		avatars:  deps.Avatars,
		mailer:   deps.Mailer,
	}
}

func (s *Service) AccountsService() *authpw.Service {
	return s.accounts
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Sessions

func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.FullName, user.Email, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken()
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		FullName:     user.FullName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FullName:  user.FullName,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Projects

func (s *Service) CreateProject(ctx context.Context, session Session, title, description string, roles []RoleItem) (map[string]any, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	fields := map[string]string{}
	if title == "" {
		fields["title"] = "Title is required"
	}
	if description == "" {
		fields["description"] = "Description is required"
	}
	if len(fields) > 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", fields)
	}

	inputs := filterRoles(roles)
	roleIDs := make([]string, len(inputs))
	for i := range inputs {
		roleIDs[i] = util.NewID("role")
	}

	project := store.Project{
		ID:          util.NewID("prj"),
		CreatorID:   session.UserID,
		Title:       title,
		Description: description,
		College:     "",
		Status:      store.ProjectOngoing,
	}
	created, err := s.store.CreateProject(ctx, project, inputs, util.NewID("col"), roleIDs)
	if err != nil {
		return nil, err
	}

	s.indexProject(created, session.Username)

	return map[string]any{
		"projectId": created.ID,
		"createdAt": created.CreatedAt,
	}, nil
}

func (s *Service) GetProject(ctx context.Context, projectID string) (map[string]any, error) {
	detail, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	roles := make([]map[string]any, 0, len(detail.Roles))
	for _, role := range detail.Roles {
		roles = append(roles, map[string]any{
			"id":    role.ID,
			"name":  role.Name,
			"count": role.Count,
		})
	}

	collaborators := make([]map[string]any, 0, len(detail.Collaborators))
	for _, collab := range detail.Collaborators {
		collaborators = append(collaborators, map[string]any{
			"id":        collab.ID,
			"userId":    collab.UserID,
			"username":  collab.Username,
			"status":    collab.Status,
			"role":      collab.Role,
			"avatarUrl": s.avatarURL(ctx, collab.AvatarKey),
		})
	}

	tasks := make([]map[string]any, 0, len(detail.Tasks))
	for _, task := range detail.Tasks {
		tasks = append(tasks, taskPayload(task))
	}

	payload := projectPayload(detail.Project)
	payload["roles"] = roles
	payload["collaborators"] = collaborators
	payload["tasks"] = tasks
	return payload, nil
}

func (s *Service) ListProjects(ctx context.Context) ([]map[string]any, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		items = append(items, projectPayload(project))
	}
	return items, nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input ProjectPatchInput) (map[string]any, error) {
	if _, ok := allowedProjectStatus[input.Status]; !ok {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed",
			map[string]string{"status": "Status must be ongoing or done"})
	}

	newRoles := filterRoles(input.NewRoles)
	newRoleIDs := make([]string, len(newRoles))
	for i := range newRoles {
		newRoleIDs[i] = util.NewID("role")
	}

	updated := make([]store.RoleUpdate, 0, len(input.UpdatedRoles))
	for _, role := range input.UpdatedRoles {
		name := strings.TrimSpace(role.Name)
		if role.ID == "" || name == "" {
			continue
		}
		updated = append(updated, store.RoleUpdate{ID: role.ID, Name: name, Count: role.Count})
	}

	toAdd := filterIDs(input.CollaboratorsToAdd)
	newCollabIDs := make([]string, len(toAdd))
	for i := range toAdd {
		newCollabIDs[i] = util.NewID("col")
	}

	patch := store.ProjectPatch{
		Title:                 strings.TrimSpace(input.Title),
		Description:           strings.TrimSpace(input.Description),
		College:               strings.TrimSpace(input.College),
		Status:                input.Status,
		NewRoles:              newRoles,
		UpdatedRoles:          updated,
		RemovedRoleIDs:        filterIDs(input.RemovedRoleIDs),
		CollaboratorsToAdd:    toAdd,
		CollaboratorsToRemove: filterIDs(input.CollaboratorsToRemove),
	}

	if err := s.store.UpdateProject(ctx, projectID, session.UserID, patch, newRoleIDs, newCollabIDs); err != nil {
		return nil, err
	}

	if detail, err := s.store.GetProject(ctx, projectID); err == nil {
		s.indexProject(detail.Project, detail.CreatorUsername)
	}

	return map[string]any{"ok": true, "projectId": projectID}, nil
}

func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	if err := s.store.DeleteProject(ctx, projectID, session.UserID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	return nil
}

// Collaboration

func (s *Service) Apply(ctx context.Context, session Session, projectID, role string) (map[string]any, error) {
	collabID := util.NewID("col")
	if err := s.store.ApplyToProject(ctx, collabID, projectID, session.UserID, strings.TrimSpace(role)); err != nil {
		return nil, err
	}
	return map[string]any{"id": collabID, "status": store.CollabPending}, nil
}

func (s *Service) CancelRequest(ctx context.Context, session Session, projectID string) error {
	return s.store.CancelRequest(ctx, projectID, session.UserID)
}

func (s *Service) PendingRequests(ctx context.Context, projectID string) ([]map[string]any, error) {
	requests, err := s.store.ListPendingRequests(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(requests))
	for _, request := range requests {
		items = append(items, map[string]any{
			"id":        request.ID,
			"projectId": request.ProjectID,
			"userId":    request.UserID,
			"username":  request.Username,
			"role":      request.Role,
			"avatarUrl": s.avatarURL(ctx, request.AvatarKey),
			"createdAt": request.CreatedAt,
		})
	}
	return items, nil
}

func (s *Service) AcceptRequest(ctx context.Context, session Session, collabID string) error {
	return s.store.AcceptRequest(ctx, collabID, session.UserID)
}

func (s *Service) DeclineRequest(ctx context.Context, session Session, collabID string) error {
	return s.store.DeclineRequest(ctx, collabID, session.UserID)
}

// Tasks

func (s *Service) CreateTask(ctx context.Context, session Session, projectID, title string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed",
			map[string]string{"title": "Title is required"})
	}
	task := store.Task{
		ID:        util.NewID("task"),
		ProjectID: projectID,
		Title:     title,
		Status:    store.TaskOpen,
	}
	created, err := s.store.CreateTask(ctx, task, session.UserID)
	if err != nil {
		return nil, err
	}
	return taskPayload(created), nil
}

func (s *Service) Tasks(ctx context.Context, projectID string) ([]map[string]any, error) {
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskPayload(task))
	}
	return items, nil
}

func (s *Service) ClaimTask(ctx context.Context, session Session, taskID string) error {
	return s.store.ClaimTask(ctx, taskID, session.UserID)
}

func (s *Service) UpdateTaskStatus(ctx context.Context, session Session, taskID, status string) error {
	if _, ok := allowedTaskStatus[status]; !ok {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed",
			map[string]string{"status": "Status must be assigned, in-progress or completed"})
	}
	return s.store.UpdateTaskStatus(ctx, taskID, session.UserID, status)
}

// Upvotes

func (s *Service) AddUpvote(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	count, err := s.store.AddUpvote(ctx, projectID, session.UserID)
	if err != nil {
		return nil, err
	}
	return s.upvotePayload(ctx, session, projectID, count)
}

func (s *Service) RemoveUpvote(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	count, err := s.store.RemoveUpvote(ctx, projectID, session.UserID)
	if err != nil {
		return nil, err
	}
	return s.upvotePayload(ctx, session, projectID, count)
}

func (s *Service) upvotePayload(ctx context.Context, session Session, projectID string, count int) (map[string]any, error) {
	hasUpvoted, err := s.store.HasUpvoted(ctx, projectID, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"upvotes": count, "hasUpvoted": hasUpvoted}, nil
}

// Comments

func (s *Service) Comments(ctx context.Context, projectID string) ([]map[string]any, error) {
	comments, err := s.store.ListComments(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		items = append(items, s.commentPayload(ctx, comment))
	}
	return items, nil
}

func (s *Service) AddComment(ctx context.Context, session Session, projectID, text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed",
			map[string]string{"text": "Comment text is required"})
	}
	comment := store.Comment{
		ID:        util.NewID("cmt"),
		ProjectID: projectID,
		UserID:    session.UserID,
		Text:      text,
	}
	created, err := s.store.InsertComment(ctx, comment)
	if err != nil {
		return nil, err
	}
	created.Username = session.Username
	// The session carries no avatar key; resolve it so the created
	// comment renders like a listed one.
	if author, err := s.store.GetUserByID(ctx, session.UserID); err == nil {
		created.AvatarKey = author.AvatarKey
	}
	return s.commentPayload(ctx, created), nil
}

func (s *Service) EditComment(ctx context.Context, session Session, commentID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed",
			map[string]string{"text": "Comment text is required"})
	}
	if err := s.store.UpdateComment(ctx, commentID, session.UserID, text); err != nil {
		// Not-found and not-yours are deliberately indistinguishable.
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		return err
	}
	return nil
}

func (s *Service) DeleteComment(ctx context.Context, session Session, commentID string) error {
	if err := s.store.DeleteComment(ctx, commentID, session.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
		return err
	}
	return nil
}

// Search

func (s *Service) Search(ctx context.Context, q, college, status string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	return s.search.Search(search.Query{
		Text:          q,
		FilterCollege: college,
		FilterStatus:  status,
		Limit:         limit,
		Offset:        offset,
	}), nil
}

// Avatars

func (s *Service) UploadAvatar(ctx context.Context, session Session, contentType string, r io.Reader, size int64) (map[string]any, error) {
	if s.avatars == nil {
		return nil, domainError(http.StatusServiceUnavailable, "AVATARS_UNAVAILABLE", "Avatar storage not configured", nil)
	}
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	key, err := s.avatars.Upload(ctx, session.UserID, contentType, r, size)
	if err != nil {
		if errors.Is(err, avatars.ErrUnsupportedType) {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported avatar content type", nil)
		}
		return nil, err
	}
	if err := s.store.UpdateUserAvatar(ctx, session.UserID, key); err != nil {
		return nil, err
	}
	// A re-upload under a new content type lands at a new key; the old
	// object is no longer referenced anywhere.
	if user.AvatarKey != "" && user.AvatarKey != key {
		if err := s.avatars.Remove(ctx, user.AvatarKey); err != nil {
			log.Printf("avatars: remove %s: %v", user.AvatarKey, err)
		}
	}
	return map[string]any{"avatarUrl": s.avatarURL(ctx, key)}, nil
}

func (s *Service) avatarURL(ctx context.Context, key string) string {
	if s.avatars == nil || key == "" {
		return ""
	}
	url, err := s.avatars.URL(ctx, key)
	if err != nil {
		log.Printf("avatars: presign %s: %v", key, err)
		return ""
	}
	return url
}

// Password reset email, sent in the background so the response does not
// leak timing about whether the account exists.
func (s *Service) SendPasswordResetEmail(user store.User, token string) {
	if !s.SMTPConfigured() {
		return
	}
	resetURL := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/reset-password?token=" + token
	go func() {
		if err := s.mailer.SendPasswordResetEmail(user.Email, user.FullName, resetURL); err != nil {
			log.Printf("email: password reset to %s: %v", user.Email, err)
		}
	}()
}

func (s *Service) indexProject(project store.Project, creatorUsername string) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:          project.ID,
		Title:       project.Title,
		Description: project.Description,
		College:     project.College,
		Status:      project.Status,
		Creator:     creatorUsername,
		Upvotes:     project.UpvoteCount,
	})
}

func (s *Service) UserPayload(ctx context.Context, user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"fullName":  user.FullName,
		"username":  user.Username,
		"email":     user.Email,
		"avatarUrl": s.avatarURL(ctx, user.AvatarKey),
	}
}

func projectPayload(project store.Project) map[string]any {
	return map[string]any{
		"id":          project.ID,
		"title":       project.Title,
		"description": project.Description,
		"college":     project.College,
		"status":      project.Status,
		"creatorId":   project.CreatorID,
		"creator":     project.CreatorUsername,
		"upvotes":     project.UpvoteCount,
		"createdAt":   project.CreatedAt,
		"updatedAt":   project.UpdatedAt,
	}
}

func taskPayload(task store.Task) map[string]any {
	return map[string]any{
		"id":        task.ID,
		"projectId": task.ProjectID,
		"title":     task.Title,
		"userId":    task.UserID,
		"username":  task.Username,
		"status":    task.Status,
		"createdAt": task.CreatedAt,
		"updatedAt": task.UpdatedAt,
	}
}

func (s *Service) commentPayload(ctx context.Context, comment store.Comment) map[string]any {
	return map[string]any{
		"id":        comment.ID,
		"projectId": comment.ProjectID,
		"userId":    comment.UserID,
		"username":  comment.Username,
		"avatarUrl": s.avatarURL(ctx, comment.AvatarKey),
		"text":      comment.Text,
		"createdAt": comment.CreatedAt,
		"updatedAt": comment.UpdatedAt,
	}
}

func filterRoles(roles []RoleItem) []store.RoleInput {
	// Blank names are dropped, not rejected.
	inputs := make([]store.RoleInput, 0, len(roles))
	for _, role := range roles {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			continue
		}
		count := role.Count
		if count < 1 {
			count = 1
		}
		inputs = append(inputs, store.RoleInput{Name: name, Count: count})
	}
	return inputs
}

func filterIDs(ids []string) []string {
	filtered := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		filtered = append(filtered, id)
	}
	return filtered
}
