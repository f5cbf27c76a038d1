package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"inprogress/api/internal/config"
	"inprogress/api/internal/store"
)

type fakeStore struct {
	createUserFn           func(context.Context, store.User) error
	getUserByEmailFn       func(context.Context, string) (store.User, error)
	getUserByIDFn          func(context.Context, string) (store.User, error)
	setPasswordResetFn     func(context.Context, string, string, time.Time) error
	getUserByResetTokenFn  func(context.Context, string) (store.User, error)
	updateUserPasswordFn   func(context.Context, string, string) error
	updateUserAvatarFn     func(context.Context, string, string) error
	saveRefreshSessionFn   func(context.Context, string, store.User, time.Time) error
	lookupRefreshSessionFn func(context.Context, string) (store.User, error)
	revokeRefreshSessionFn func(context.Context, string) error
	revokeAccessTokenFn    func(context.Context, string, time.Time) error
	isAccessTokenRevokedFn func(context.Context, string) (bool, error)
	createProjectFn        func(context.Context, store.Project, []store.RoleInput, string, []string) (store.Project, error)
	getProjectFn           func(context.Context, string) (store.ProjectDetail, error)
	listProjectsFn         func(context.Context) ([]store.Project, error)
	updateProjectFn        func(context.Context, string, string, store.ProjectPatch, []string, []string) error
	deleteProjectFn        func(context.Context, string, string) error
	applyToProjectFn       func(context.Context, string, string, string, string) error
	cancelRequestFn        func(context.Context, string, string) error
	listPendingRequestsFn  func(context.Context, string) ([]store.Collaborator, error)
	acceptRequestFn        func(context.Context, string, string) error
	declineRequestFn       func(context.Context, string, string) error
	createTaskFn           func(context.Context, store.Task, string) (store.Task, error)
	listTasksFn            func(context.Context, string) ([]store.Task, error)
	claimTaskFn            func(context.Context, string, string) error
	updateTaskStatusFn     func(context.Context, string, string, string) error
	addUpvoteFn            func(context.Context, string, string) (int, error)
	removeUpvoteFn         func(context.Context, string, string) (int, error)
	hasUpvotedFn           func(context.Context, string, string) (bool, error)
	listCommentsFn         func(context.Context, string) ([]store.Comment, error)
	insertCommentFn        func(context.Context, store.Comment) (store.Comment, error)
	updateCommentFn        func(context.Context, string, string, string) error
	deleteCommentFn        func(context.Context, string, string) error
	pingFn                 func(context.Context) error
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Username: "avery", Email: "avery@cpu.edu.ph", FullName: "Avery Perez"}, nil
}
func (f *fakeStore) SetPasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if f.setPasswordResetFn != nil {
		return f.setPasswordResetFn(ctx, userID, token, expiresAt)
	}
	return nil
}
func (f *fakeStore) GetUserByResetToken(ctx context.Context, token string) (store.User, error) {
	if f.getUserByResetTokenFn != nil {
		return f.getUserByResetTokenFn(ctx, token)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID, hash string) error {
	if f.updateUserPasswordFn != nil {
		return f.updateUserPasswordFn(ctx, userID, hash)
	}
	return nil
}
func (f *fakeStore) UpdateUserAvatar(ctx context.Context, userID, key string) error {
	if f.updateUserAvatarFn != nil {
		return f.updateUserAvatarFn(ctx, userID, key)
	}
	return nil
}
func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, tokenHash, user, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, tokenHash)
	}
	return nil
}
func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, expiresAt)
	}
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}
func (f *fakeStore) CreateProject(ctx context.Context, project store.Project, roles []store.RoleInput, collabID string, roleIDs []string) (store.Project, error) {
	if f.createProjectFn != nil {
		return f.createProjectFn(ctx, project, roles, collabID, roleIDs)
	}
	project.CreatedAt = time.Now()
	return project, nil
}
func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.ProjectDetail, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	return store.ProjectDetail{}, sql.ErrNoRows
}
func (f *fakeStore) ListProjects(ctx context.Context) ([]store.Project, error) {
	if f.listProjectsFn != nil {
		return f.listProjectsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) UpdateProject(ctx context.Context, projectID, actorID string, patch store.ProjectPatch, newRoleIDs, newCollabIDs []string) error {
	if f.updateProjectFn != nil {
		return f.updateProjectFn(ctx, projectID, actorID, patch, newRoleIDs, newCollabIDs)
	}
	return nil
}
func (f *fakeStore) DeleteProject(ctx context.Context, projectID, actorID string) error {
	if f.deleteProjectFn != nil {
		return f.deleteProjectFn(ctx, projectID, actorID)
	}
	return nil
}
func (f *fakeStore) ApplyToProject(ctx context.Context, collabID, projectID, userID, role string) error {
	if f.applyToProjectFn != nil {
		return f.applyToProjectFn(ctx, collabID, projectID, userID, role)
	}
	return nil
}
func (f *fakeStore) CancelRequest(ctx context.Context, projectID, userID string) error {
	if f.cancelRequestFn != nil {
		return f.cancelRequestFn(ctx, projectID, userID)
	}
	return nil
}
func (f *fakeStore) ListPendingRequests(ctx context.Context, projectID string) ([]store.Collaborator, error) {
	if f.listPendingRequestsFn != nil {
		return f.listPendingRequestsFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) AcceptRequest(ctx context.Context, collabID, ownerID string) error {
	if f.acceptRequestFn != nil {
		return f.acceptRequestFn(ctx, collabID, ownerID)
	}
	return nil
}
func (f *fakeStore) DeclineRequest(ctx context.Context, collabID, ownerID string) error {
	if f.declineRequestFn != nil {
		return f.declineRequestFn(ctx, collabID, ownerID)
	}
	return nil
}
func (f *fakeStore) CreateTask(ctx context.Context, task store.Task, actorID string) (store.Task, error) {
	if f.createTaskFn != nil {
		return f.createTaskFn(ctx, task, actorID)
	}
	return task, nil
}
func (f *fakeStore) ListTasks(ctx context.Context, projectID string) ([]store.Task, error) {
	if f.listTasksFn != nil {
		return f.listTasksFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) ClaimTask(ctx context.Context, taskID, userID string) error {
	if f.claimTaskFn != nil {
		return f.claimTaskFn(ctx, taskID, userID)
	}
	return nil
}
func (f *fakeStore) UpdateTaskStatus(ctx context.Context, taskID, userID, status string) error {
	if f.updateTaskStatusFn != nil {
		return f.updateTaskStatusFn(ctx, taskID, userID, status)
	}
	return nil
}
func (f *fakeStore) AddUpvote(ctx context.Context, projectID, userID string) (int, error) {
	if f.addUpvoteFn != nil {
		return f.addUpvoteFn(ctx, projectID, userID)
	}
	return 0, nil
}
func (f *fakeStore) RemoveUpvote(ctx context.Context, projectID, userID string) (int, error) {
	if f.removeUpvoteFn != nil {
		return f.removeUpvoteFn(ctx, projectID, userID)
	}
	return 0, nil
}
func (f *fakeStore) HasUpvoted(ctx context.Context, projectID, userID string) (bool, error) {
	if f.hasUpvotedFn != nil {
		return f.hasUpvotedFn(ctx, projectID, userID)
	}
	return false, nil
}
func (f *fakeStore) ListComments(ctx context.Context, projectID string) ([]store.Comment, error) {
	if f.listCommentsFn != nil {
		return f.listCommentsFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) InsertComment(ctx context.Context, comment store.Comment) (store.Comment, error) {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, comment)
	}
	comment.CreatedAt = time.Now()
	return comment, nil
}
func (f *fakeStore) UpdateComment(ctx context.Context, commentID, userID, text string) error {
	if f.updateCommentFn != nil {
		return f.updateCommentFn(ctx, commentID, userID, text)
	}
	return nil
}
func (f *fakeStore) DeleteComment(ctx context.Context, commentID, userID string) error {
	if f.deleteCommentFn != nil {
		return f.deleteCommentFn(ctx, commentID, userID)
	}
	return nil
}
func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:    fs,
		sessions: fs,
	}
}

func testSession() Session {
	return Session{UserID: "usr_owner", Username: "avery"}
}

func assertDomainStatus(t *testing.T, err error, status int) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status {
		t.Fatalf("expected status %d, got %d (%s)", status, domainErr.Status, domainErr.Code)
	}
}

func TestCreateProjectValidatesTitleAndDescription(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateProject(context.Background(), testSession(), "  ", "", nil)
	assertDomainStatus(t, err, http.StatusBadRequest)
}

func TestCreateProjectFiltersBlankRoles(t *testing.T) {
	var gotRoles []store.RoleInput
	var gotProject store.Project
	fs := &fakeStore{
		createProjectFn: func(_ context.Context, project store.Project, roles []store.RoleInput, collabID string, roleIDs []string) (store.Project, error) {
			gotProject = project
			gotRoles = roles
			if collabID == "" {
				t.Fatal("expected a collaborator id for the creator row")
			}
			if len(roleIDs) != len(roles) {
				t.Fatalf("expected %d role ids, got %d", len(roles), len(roleIDs))
			}
			project.CreatedAt = time.Now()
			return project, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateProject(context.Background(), testSession(), "Thesis Tracker", "Tracks thesis progress", []RoleItem{
		{Name: "Designer", Count: 2},
		{Name: "   "},
		{Name: "Backend Dev", Count: 0},
	})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}

	if len(gotRoles) != 2 {
		t.Fatalf("expected blank role filtered, got %d roles", len(gotRoles))
	}
	if gotRoles[0].Name != "Designer" || gotRoles[0].Count != 2 {
		t.Fatalf("unexpected first role %+v", gotRoles[0])
	}
	if gotRoles[1].Count != 1 {
		t.Fatalf("expected zero count clamped to 1, got %d", gotRoles[1].Count)
	}
	if gotProject.Status != store.ProjectOngoing {
		t.Fatalf("expected new project status ongoing, got %q", gotProject.Status)
	}
	if gotProject.CreatorID != "usr_owner" {
		t.Fatalf("expected creator usr_owner, got %q", gotProject.CreatorID)
	}
	if payload["projectId"] == "" {
		t.Fatal("expected projectId in payload")
	}
}

func TestUpdateProjectRejectsUnknownStatus(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.UpdateProject(context.Background(), testSession(), "prj_1", ProjectPatchInput{
		Title: "T", Description: "D", Status: "archived",
	})
	assertDomainStatus(t, err, http.StatusBadRequest)
}

func TestUpdateProjectFiltersBlankInputs(t *testing.T) {
	var gotPatch store.ProjectPatch
	fs := &fakeStore{
		updateProjectFn: func(_ context.Context, projectID, actorID string, patch store.ProjectPatch, newRoleIDs, newCollabIDs []string) error {
			gotPatch = patch
			if len(newRoleIDs) != len(patch.NewRoles) {
				t.Fatalf("role id count %d != new role count %d", len(newRoleIDs), len(patch.NewRoles))
			}
			if len(newCollabIDs) != len(patch.CollaboratorsToAdd) {
				t.Fatalf("collab id count %d != add count %d", len(newCollabIDs), len(patch.CollaboratorsToAdd))
			}
			return nil
		},
		getProjectFn: func(_ context.Context, projectID string) (store.ProjectDetail, error) {
			return store.ProjectDetail{Project: store.Project{ID: projectID}}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateProject(context.Background(), testSession(), "prj_1", ProjectPatchInput{
		Title:       "Thesis Tracker",
		Description: "Updated",
		Status:      store.ProjectDone,
		NewRoles: []RoleItem{
			{Name: "QA", Count: 1},
			{Name: "  "},
		},
		UpdatedRoles: []RoleItem{
			{ID: "role_1", Name: "Designer", Count: 3},
			{ID: "", Name: "Ghost", Count: 1},
			{ID: "role_2", Name: "   "},
		},
		RemovedRoleIDs:        []string{"role_9", " ", ""},
		CollaboratorsToAdd:    []string{"usr_a", "", "usr_b"},
		CollaboratorsToRemove: []string{"", "usr_c"},
	})
	if err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}

	if len(gotPatch.NewRoles) != 1 || gotPatch.NewRoles[0].Name != "QA" {
		t.Fatalf("expected one new role QA, got %+v", gotPatch.NewRoles)
	}
	if len(gotPatch.UpdatedRoles) != 1 || gotPatch.UpdatedRoles[0].ID != "role_1" {
		t.Fatalf("expected one updated role role_1, got %+v", gotPatch.UpdatedRoles)
	}
	if len(gotPatch.RemovedRoleIDs) != 1 || gotPatch.RemovedRoleIDs[0] != "role_9" {
		t.Fatalf("expected removed role ids [role_9], got %v", gotPatch.RemovedRoleIDs)
	}
	if len(gotPatch.CollaboratorsToAdd) != 2 {
		t.Fatalf("expected two collaborators to add, got %v", gotPatch.CollaboratorsToAdd)
	}
	if len(gotPatch.CollaboratorsToRemove) != 1 || gotPatch.CollaboratorsToRemove[0] != "usr_c" {
		t.Fatalf("expected collaborators to remove [usr_c], got %v", gotPatch.CollaboratorsToRemove)
	}
}

func TestUpdateProjectPropagatesNotOwner(t *testing.T) {
	fs := &fakeStore{
		updateProjectFn: func(context.Context, string, string, store.ProjectPatch, []string, []string) error {
			return store.ErrNotOwner
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateProject(context.Background(), testSession(), "prj_1", ProjectPatchInput{
		Title: "T", Description: "D", Status: store.ProjectOngoing,
	})
	if !errors.Is(err, store.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	status, code, _, _ := mapError(err)
	if status != http.StatusForbidden || code != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d %s", status, code)
	}
}

func TestUpdateTaskStatusWhitelist(t *testing.T) {
	called := false
	fs := &fakeStore{
		updateTaskStatusFn: func(_ context.Context, taskID, userID, status string) error {
			called = true
			return nil
		},
	}
	svc := newTestService(fs)

	for _, status := range []string{"open", "done", "finished", ""} {
		err := svc.UpdateTaskStatus(context.Background(), testSession(), "task_1", status)
		assertDomainStatus(t, err, http.StatusBadRequest)
	}
	if called {
		t.Fatal("store must not be reached for rejected statuses")
	}

	for _, status := range []string{store.TaskAssigned, store.TaskInProgress, store.TaskCompleted} {
		if err := svc.UpdateTaskStatus(context.Background(), testSession(), "task_1", status); err != nil {
			t.Fatalf("UpdateTaskStatus(%q) error = %v", status, err)
		}
	}
	if !called {
		t.Fatal("expected store call for allowed status")
	}
}

func TestClaimTaskErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrAlreadyAssigned, http.StatusConflict, "ALREADY_ASSIGNED"},
		{store.ErrNotCollaborator, http.StatusForbidden, "NOT_COLLABORATOR"},
		{sql.ErrNoRows, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		fs := &fakeStore{
			claimTaskFn: func(context.Context, string, string) error { return tc.err },
		}
		svc := newTestService(fs)
		err := svc.ClaimTask(context.Background(), testSession(), "task_1")
		status, code, _, _ := mapError(err)
		if status != tc.status || code != tc.code {
			t.Fatalf("claim error %v mapped to %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestApplyErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{store.ErrAlreadyCollaborator, http.StatusConflict, "ALREADY_COLLABORATOR"},
		{store.ErrDuplicateRequest, http.StatusConflict, "DUPLICATE_REQUEST"},
		{sql.ErrNoRows, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		fs := &fakeStore{
			applyToProjectFn: func(context.Context, string, string, string, string) error { return tc.err },
		}
		svc := newTestService(fs)
		_, err := svc.Apply(context.Background(), testSession(), "prj_1", "Designer")
		status, code, _, _ := mapError(err)
		if status != tc.status || code != tc.code {
			t.Fatalf("apply error %v mapped to %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}

func TestApplyGeneratesCollaboratorID(t *testing.T) {
	var gotCollabID, gotRole string
	fs := &fakeStore{
		applyToProjectFn: func(_ context.Context, collabID, projectID, userID, role string) error {
			gotCollabID = collabID
			gotRole = role
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.Apply(context.Background(), testSession(), "prj_1", "  Designer ")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if gotCollabID == "" {
		t.Fatal("expected generated collaborator id")
	}
	if gotRole != "Designer" {
		t.Fatalf("expected trimmed role Designer, got %q", gotRole)
	}
	if payload["status"] != store.CollabPending {
		t.Fatalf("expected pending status in payload, got %v", payload["status"])
	}
}

func TestAddUpvoteReturnsCountAndFlag(t *testing.T) {
	fs := &fakeStore{
		addUpvoteFn: func(context.Context, string, string) (int, error) { return 4, nil },
		hasUpvotedFn: func(context.Context, string, string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.AddUpvote(context.Background(), testSession(), "prj_1")
	if err != nil {
		t.Fatalf("AddUpvote() error = %v", err)
	}
	if payload["upvotes"] != 4 {
		t.Fatalf("expected upvotes 4, got %v", payload["upvotes"])
	}
	if payload["hasUpvoted"] != true {
		t.Fatalf("expected hasUpvoted true, got %v", payload["hasUpvoted"])
	}
}

func TestUpvoteRoundTrip(t *testing.T) {
	count := 3
	voted := false
	fs := &fakeStore{
		addUpvoteFn: func(context.Context, string, string) (int, error) {
			count++
			voted = true
			return count, nil
		},
		removeUpvoteFn: func(context.Context, string, string) (int, error) {
			count--
			voted = false
			return count, nil
		},
		hasUpvotedFn: func(context.Context, string, string) (bool, error) { return voted, nil },
	}
	svc := newTestService(fs)

	if _, err := svc.AddUpvote(context.Background(), testSession(), "prj_1"); err != nil {
		t.Fatalf("AddUpvote() error = %v", err)
	}
	payload, err := svc.RemoveUpvote(context.Background(), testSession(), "prj_1")
	if err != nil {
		t.Fatalf("RemoveUpvote() error = %v", err)
	}
	if payload["upvotes"] != 3 {
		t.Fatalf("expected count back to 3, got %v", payload["upvotes"])
	}
	if payload["hasUpvoted"] != false {
		t.Fatalf("expected hasUpvoted false after removal, got %v", payload["hasUpvoted"])
	}
}

func TestAddCommentRequiresText(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.AddComment(context.Background(), testSession(), "prj_1", "   ")
	assertDomainStatus(t, err, http.StatusBadRequest)
}

func TestEditCommentConflatesNotFoundAndNotYours(t *testing.T) {
	fs := &fakeStore{
		updateCommentFn: func(context.Context, string, string, string) error { return sql.ErrNoRows },
	}
	svc := newTestService(fs)

	err := svc.EditComment(context.Background(), testSession(), "cmt_1", "edited")
	assertDomainStatus(t, err, http.StatusForbidden)

	fs = &fakeStore{
		deleteCommentFn: func(context.Context, string, string) error { return sql.ErrNoRows },
	}
	svc = newTestService(fs)
	err = svc.DeleteComment(context.Background(), testSession(), "cmt_1")
	assertDomainStatus(t, err, http.StatusForbidden)
}

func TestRefreshRotatesToken(t *testing.T) {
	var revokedHash string
	var savedHash string
	fs := &fakeStore{
		lookupRefreshSessionFn: func(_ context.Context, tokenHash string) (store.User, error) {
			return store.User{ID: "usr_1", Username: "avery", Email: "avery@cpu.edu.ph"}, nil
		},
		revokeRefreshSessionFn: func(_ context.Context, tokenHash string) error {
			revokedHash = tokenHash
			return nil
		},
		saveRefreshSessionFn: func(_ context.Context, tokenHash string, user store.User, _ time.Time) error {
			savedHash = tokenHash
			return nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.Refresh(context.Background(), "old-refresh-token")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if revokedHash == "" {
		t.Fatal("expected old refresh token revoked")
	}
	if savedHash == "" || savedHash == revokedHash {
		t.Fatal("expected a new refresh token saved under a different hash")
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected fresh token pair")
	}
	if session.RefreshToken == "old-refresh-token" {
		t.Fatal("refresh token must rotate")
	}
}

func TestSessionFromTokenRejectsRevokedJTI(t *testing.T) {
	fs := &fakeStore{
		isAccessTokenRevokedFn: func(context.Context, string) (bool, error) { return true, nil },
	}
	svc := newTestService(fs)

	issued, err := svc.issueSession(context.Background(), store.User{ID: "usr_1", Username: "avery"})
	if err != nil {
		t.Fatalf("issueSession() error = %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), issued.Token); err == nil {
		t.Fatal("expected revoked token to be rejected")
	}
}

func TestLogoutRevokesAccessAndRefresh(t *testing.T) {
	var revokedJTI, revokedRefresh string
	fs := &fakeStore{
		revokeAccessTokenFn: func(_ context.Context, jti string, _ time.Time) error {
			revokedJTI = jti
			return nil
		},
		revokeRefreshSessionFn: func(_ context.Context, tokenHash string) error {
			revokedRefresh = tokenHash
			return nil
		},
	}
	svc := newTestService(fs)

	session := Session{JTI: "jti_abc", ExpiresAt: time.Now().Add(time.Hour)}
	if err := svc.Logout(context.Background(), session, "refresh-token"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if revokedJTI != "jti_abc" {
		t.Fatalf("expected jti_abc revoked, got %q", revokedJTI)
	}
	if revokedRefresh == "" {
		t.Fatal("expected refresh token hash revoked")
	}
}

func TestGetProjectPayloadShape(t *testing.T) {
	userID := "usr_member"
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, projectID string) (store.ProjectDetail, error) {
			return store.ProjectDetail{
				Project: store.Project{
					ID: projectID, Title: "Thesis Tracker", CreatorID: "usr_owner",
					CreatorUsername: "avery", Status: store.ProjectOngoing, UpvoteCount: 2,
				},
				Roles: []store.ProjectRole{{ID: "role_1", Name: "Designer", Count: 2}},
				Collaborators: []store.Collaborator{
					{ID: "col_1", UserID: "usr_owner", Username: "avery", Status: store.CollabAccepted, Role: "creator"},
				},
				Tasks: []store.Task{{ID: "task_1", Title: "Wireframes", UserID: &userID, Status: store.TaskAssigned}},
			}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.GetProject(context.Background(), "prj_1")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	roles, ok := payload["roles"].([]map[string]any)
	if !ok || len(roles) != 1 || roles[0]["name"] != "Designer" || roles[0]["count"] != 2 {
		t.Fatalf("unexpected roles payload %v", payload["roles"])
	}
	collabs, ok := payload["collaborators"].([]map[string]any)
	if !ok || len(collabs) != 1 || collabs[0]["status"] != store.CollabAccepted {
		t.Fatalf("unexpected collaborators payload %v", payload["collaborators"])
	}
	if payload["creator"] != "avery" || payload["upvotes"] != 2 {
		t.Fatalf("unexpected project payload %v", payload)
	}
}
