package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"roundbook/api/internal/assistant"
	"roundbook/api/internal/authpw"
	"roundbook/api/internal/config"
	"roundbook/api/internal/email"
	"roundbook/api/internal/export"
	"roundbook/api/internal/rotation"
	"roundbook/api/internal/store"
)

type fakeStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	usersByEmail  map[string]string
	groups        map[string]*store.Group
	invitations   map[string]*store.Invitation
	entries       []store.Entry
	drafts        map[string]store.Draft
	notifications []store.Notification
	resets        map[string]*passwordReset
	refresh       map[string]string
	revokedJTIs   map[string]bool
	chats         map[string]store.ChatSession

	insertInvitationFn     func(context.Context, store.Invitation) error
	insertNotificationsErr error
	redeemAppendErr        error
}

type passwordReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        map[string]store.User{},
		usersByEmail: map[string]string{},
		groups:       map[string]*store.Group{},
		invitations:  map[string]*store.Invitation{},
		drafts:       map[string]store.Draft{},
		resets:       map[string]*passwordReset{},
		refresh:      map[string]string{},
		revokedJTIs:  map[string]bool{},
		chats:        map[string]store.ChatSession{},
	}
}

func (f *fakeStore) addUser(id, name, emailAddr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = store.User{ID: id, DisplayName: name, Email: emailAddr, IsEmailVerified: true}
	if emailAddr != "" {
		f.usersByEmail[emailAddr] = id
	}
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, emailAddr string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.usersByEmail[emailAddr]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[id], nil
}

func (f *fakeStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := map[string]store.User{}
	for _, id := range ids {
		if user, ok := f.users[id]; ok {
			result[id] = user
		}
	}
	return result, nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	if user.Email != "" {
		f.usersByEmail[user.Email] = user.ID
	}
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.VerificationToken = token
	f.users[userID] = user
	return nil
}

func (f *fakeStore) VerifyUserEmail(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.VerificationToken == token && token != "" {
			user.IsEmailVerified = true
			user.VerificationToken = ""
			f.users[id] = user
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = &passwordReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset, ok := f.resets[token]
	if !ok || reset.used || time.Now().After(reset.expiresAt) {
		return "", sql.ErrNoRows
	}
	return reset.userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if reset, ok := f.resets[token]; ok {
		reset.used = true
	}
	return nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedJTIs[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokedJTIs[jti], nil
}

func (f *fakeStore) InsertGroup(ctx context.Context, group store.Group) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := group
	f.groups[group.ID] = &copied
	return nil
}

func (f *fakeStore) GetGroup(ctx context.Context, groupID string) (store.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[groupID]
	if !ok {
		return store.Group{}, sql.ErrNoRows
	}
	return *group, nil
}

func (f *fakeStore) ListUserGroups(ctx context.Context, userID string) ([]store.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var groups []store.Group
	for _, group := range f.groups {
		for _, member := range group.Members {
			if member == userID {
				groups = append(groups, *group)
				break
			}
		}
	}
	return groups, nil
}

func (f *fakeStore) AdvanceTurn(ctx context.Context, groupID, actorID string, entry *store.Entry) (store.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[groupID]
	if !ok {
		return store.Group{}, sql.ErrNoRows
	}
	if err := rotation.ValidateHolder(group.Members, group.TurnOrder, group.CurrentTurnIndex, actorID); err != nil {
		return store.Group{}, err
	}
	if entry != nil {
		entry.TurnIndex = group.CurrentTurnIndex
		f.entries = append(f.entries, *entry)
	}
	group.CurrentTurnIndex = rotation.Advance(group.CurrentTurnIndex, len(group.TurnOrder))
	return *group, nil
}

func (f *fakeStore) RedeemInvitation(ctx context.Context, inviteID, groupID, userID string) (store.Group, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.groups[groupID]
	if !ok {
		return store.Group{}, false, sql.ErrNoRows
	}
	var invite *store.Invitation
	for _, candidate := range f.invitations {
		if candidate.ID == inviteID {
			invite = candidate
			break
		}
	}
	if invite == nil || invite.Status != store.InviteStatusPending {
		return store.Group{}, false, nil
	}
	if f.redeemAppendErr != nil {
		// A failed append rolls the status flip back too.
		return store.Group{}, false, f.redeemAppendErr
	}
	invite.Status = store.InviteStatusAccepted
	already := false
	for _, member := range group.Members {
		if member == userID {
			already = true
			break
		}
	}
	if !already {
		group.Members = append(group.Members, userID)
		group.TurnOrder = append(group.TurnOrder, userID)
	}
	return *group, true, nil
}

func (f *fakeStore) InsertInvitation(ctx context.Context, invite store.Invitation) error {
	if f.insertInvitationFn != nil {
		return f.insertInvitationFn(ctx, invite)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.invitations[invite.InviteCode]; exists {
		return store.ErrCodeConflict
	}
	copied := invite
	f.invitations[invite.InviteCode] = &copied
	return nil
}

func (f *fakeStore) GetInvitationByCode(ctx context.Context, code string) (store.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	invite, ok := f.invitations[code]
	if !ok {
		return store.Invitation{}, sql.ErrNoRows
	}
	return *invite, nil
}

func (f *fakeStore) ResolveInvitation(ctx context.Context, inviteID, status string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, invite := range f.invitations {
		if invite.ID == inviteID {
			if invite.Status != store.InviteStatusPending {
				return false, nil
			}
			invite.Status = status
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListGroupEntries(ctx context.Context, groupID string, limit int) ([]store.EntryWithAuthor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []store.EntryWithAuthor
	for i := len(f.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if f.entries[i].GroupID == groupID {
			result = append(result, f.withAuthor(f.entries[i]))
		}
	}
	return result, nil
}

func (f *fakeStore) ListEntriesBetween(ctx context.Context, groupID string, from, to time.Time) ([]store.EntryWithAuthor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []store.EntryWithAuthor
	for _, entry := range f.entries {
		if entry.GroupID != groupID {
			continue
		}
		if entry.EntryDate.Before(from) || !entry.EntryDate.Before(to) {
			continue
		}
		result = append(result, f.withAuthor(entry))
	}
	return result, nil
}

func (f *fakeStore) LatestEntry(ctx context.Context, groupID string) (*store.EntryWithAuthor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].GroupID == groupID {
			entry := f.withAuthor(f.entries[i])
			return &entry, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) withAuthor(entry store.Entry) store.EntryWithAuthor {
	return store.EntryWithAuthor{Entry: entry, AuthorName: f.users[entry.AuthorID].DisplayName}
}

func (f *fakeStore) UpsertDraft(ctx context.Context, draft store.Draft) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := draft.GroupID + "|" + draft.AuthorID
	if existing, ok := f.drafts[key]; ok {
		draft.ID = existing.ID
	}
	draft.UpdatedAt = time.Now()
	f.drafts[key] = draft
	return draft, nil
}

func (f *fakeStore) GetDraft(ctx context.Context, groupID, authorID string) (store.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	draft, ok := f.drafts[groupID+"|"+authorID]
	if !ok {
		return store.Draft{}, sql.ErrNoRows
	}
	return draft, nil
}

func (f *fakeStore) InsertNotifications(ctx context.Context, notifications []store.Notification) error {
	if f.insertNotificationsErr != nil {
		return f.insertNotificationsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, notifications...)
	return nil
}

func (f *fakeStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []store.Notification
	for i := len(f.notifications) - 1; i >= 0 && len(result) < limit; i-- {
		if f.notifications[i].RecipientID == recipientID {
			result = append(result, f.notifications[i])
		}
	}
	return result, nil
}

func (f *fakeStore) MarkNotificationRead(ctx context.Context, recipientID, notificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].ID == notificationID && f.notifications[i].RecipientID == recipientID {
			f.notifications[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeStore) MarkAllNotificationsRead(ctx context.Context, recipientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].RecipientID == recipientID {
			f.notifications[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeStore) GetChatSession(ctx context.Context, userID, groupID string) (store.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.chats[userID+"|"+groupID]
	if !ok {
		return store.ChatSession{}, sql.ErrNoRows
	}
	return session, nil
}

func (f *fakeStore) UpsertChatSession(ctx context.Context, session store.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[session.UserID+"|"+session.GroupID] = session
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) noticesOfType(noticeType string) []store.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []store.Notification
	for _, n := range f.notifications {
		if n.Type == noticeType {
			result = append(result, n)
		}
	}
	return result
}

func newTestService(fs *fakeStore) *Service {
	svc := &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
			InviteTTL:  7 * 24 * time.Hour,
		},
		store:     fs,
		sessions:  fs,
		authpw:    authpw.NewService(fs),
		mail:      email.NewService(email.Config{}),
		assistant: assistant.NewService(fs, nil),
	}
	svc.exporter = export.NewService(&exportStore{store: fs})
	return svc
}

func sessionFor(fs *fakeStore, id, name string) Session {
	fs.addUser(id, name, id+"@example.com")
	return Session{UserID: id, UserName: name}
}

func createGroup(t *testing.T, svc *Service, session Session, name string) string {
	t.Helper()
	payload, err := svc.CreateGroup(context.Background(), session, name, "")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return payload["id"].(string)
}

func joinViaInvite(t *testing.T, svc *Service, fs *fakeStore, creator Session, groupID string, joiner Session) {
	t.Helper()
	payload, err := svc.GenerateInviteCode(context.Background(), creator, groupID, joiner.UserID+"@example.com")
	if err != nil {
		t.Fatalf("generate invite: %v", err)
	}
	if _, err := svc.JoinGroupWithCode(context.Background(), joiner, payload["inviteCode"].(string)); err != nil {
		t.Fatalf("join group: %v", err)
	}
}

func TestCreateGroupSeedsCreatorAsSoleTurnHolder(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	alice := sessionFor(fs, "user-a", "Alice")

	groupID := createGroup(t, svc, alice, "Morning Pages")

	group, err := fs.GetGroup(context.Background(), groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if len(group.Members) != 1 || group.Members[0] != "user-a" {
		t.Fatalf("expected members [user-a], got %v", group.Members)
	}
	if len(group.TurnOrder) != 1 || group.TurnOrder[0] != "user-a" {
		t.Fatalf("expected turn order [user-a], got %v", group.TurnOrder)
	}
	if group.CurrentTurnIndex != 0 {
		t.Fatalf("expected index 0, got %d", group.CurrentTurnIndex)
	}
}

func TestCreateGroupRejectsBlankName(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	alice := sessionFor(fs, "user-a", "Alice")

	_, err := svc.CreateGroup(context.Background(), alice, "", "")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestSoloGroupEntryKeepsIndexZero(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	alice := sessionFor(fs, "user-a", "Alice")
	groupID := createGroup(t, svc, alice, "Solo")

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateEntry(context.Background(), alice, groupID, CreateEntryInput{Content: "hello"}); err != nil {
			t.Fatalf("entry %d: %v", i, err)
		}
	}

	group, _ := fs.GetGroup(context.Background(), groupID)
	if group.CurrentTurnIndex != 0 {
		t.Fatalf("solo group index should stay 0, got %d", group.CurrentTurnIndex)
	}
	if len(fs.entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(fs.entries))
	}
}

func TestCreateEntryAdvancesTurnModulo(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")
	carol := sessionFor(fs, "user-c", "Carol")

	groupID := createGroup(t, svc, alice, "Trio")
	joinViaInvite(t, svc, fs, alice, groupID, bob)
	joinViaInvite(t, svc, fs, alice, groupID, carol)

	// Three successful submits land back on (0+3) mod 3 = 0.
	writers := []Session{alice, bob, carol}
	for turn, writer := range writers {
		payload, err := svc.CreateEntry(ctx, writer, groupID, CreateEntryInput{Content: "day"})
		if err != nil {
			t.Fatalf("submit by %s: %v", writer.UserID, err)
		}
		wantIndex := (turn + 1) % 3
		if payload["currentTurnIndex"].(int) != wantIndex {
			t.Fatalf("after %s expected index %d, got %v", writer.UserID, wantIndex, payload["currentTurnIndex"])
		}
	}

	// Each entry snapshots the pre-advance index.
	for i, entry := range fs.entries {
		if entry.TurnIndex != i {
			t.Fatalf("entry %d has turn index %d", i, entry.TurnIndex)
		}
	}
}

func TestCreateEntryRejectsNonHolderAndNonMember(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")
	mallory := sessionFor(fs, "user-m", "Mallory")

	groupID := createGroup(t, svc, alice, "Pair")
	joinViaInvite(t, svc, fs, alice, groupID, bob)

	_, err := svc.CreateEntry(ctx, bob, groupID, CreateEntryInput{Content: "not my turn"})
	if !errors.Is(err, rotation.ErrNotYourTurn) {
		t.Fatalf("expected not-your-turn, got %v", err)
	}
	status, code, _, _ := mapError(err)
	if status != 409 || code != "NOT_YOUR_TURN" {
		t.Fatalf("expected 409 NOT_YOUR_TURN, got %d %s", status, code)
	}

	_, err = svc.CreateEntry(ctx, mallory, groupID, CreateEntryInput{Content: "intruder"})
	if !errors.Is(err, rotation.ErrNotMember) {
		t.Fatalf("expected not-a-member, got %v", err)
	}
	status, code, _, _ = mapError(err)
	if status != 403 || code != "NOT_A_MEMBER" {
		t.Fatalf("expected 403 NOT_A_MEMBER, got %d %s", status, code)
	}

	if len(fs.entries) != 0 {
		t.Fatalf("rejected submits must not persist entries, got %d", len(fs.entries))
	}
}

func TestNotYourTurnImmediatelyAfterAdvance(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")

	groupID := createGroup(t, svc, alice, "Pair")
	joinViaInvite(t, svc, fs, alice, groupID, bob)

	if _, err := svc.CreateEntry(ctx, alice, groupID, CreateEntryInput{Content: "first"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := svc.CreateEntry(ctx, alice, groupID, CreateEntryInput{Content: "second"}); !errors.Is(err, rotation.ErrNotYourTurn) {
		t.Fatalf("second submit by same writer should lose the turn, got %v", err)
	}
}

func TestPassTurnAdvancesWithoutEntry(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")

	groupID := createGroup(t, svc, alice, "Pair")
	joinViaInvite(t, svc, fs, alice, groupID, bob)
	fs.notifications = nil

	payload, err := svc.PassTurn(ctx, alice, groupID)
	if err != nil {
		t.Fatalf("pass turn: %v", err)
	}
	if payload["currentTurnIndex"].(int) != 1 {
		t.Fatalf("expected index 1, got %v", payload["currentTurnIndex"])
	}
	if len(fs.entries) != 0 {
		t.Fatalf("pass must not create entries")
	}

	yourTurn := fs.noticesOfType(rotation.NotifyYourTurn)
	if len(yourTurn) != 1 || yourTurn[0].RecipientID != "user-b" {
		t.Fatalf("expected one your_turn notice for user-b, got %v", yourTurn)
	}
	if passed := fs.noticesOfType(rotation.NotifyJournalPassed); len(passed) != 0 {
		t.Fatalf("pass-turn must not fan out journal_passed, got %v", passed)
	}
}

func TestEntryFanoutRecipients(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")
	carol := sessionFor(fs, "user-c", "Carol")
	dave := sessionFor(fs, "user-d", "Dave")

	groupID := createGroup(t, svc, alice, "Quartet")
	joinViaInvite(t, svc, fs, alice, groupID, bob)
	joinViaInvite(t, svc, fs, alice, groupID, carol)
	joinViaInvite(t, svc, fs, alice, groupID, dave)
	fs.notifications = nil

	if _, err := svc.CreateEntry(ctx, alice, groupID, CreateEntryInput{Content: "hello all"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	yourTurn := fs.noticesOfType(rotation.NotifyYourTurn)
	if len(yourTurn) != 1 || yourTurn[0].RecipientID != "user-b" {
		t.Fatalf("expected exactly one your_turn for the next holder, got %v", yourTurn)
	}

	passed := fs.noticesOfType(rotation.NotifyJournalPassed)
	if len(passed) != 2 {
		t.Fatalf("expected len(members)-2=2 journal_passed notices, got %d", len(passed))
	}
	for _, notice := range passed {
		if notice.RecipientID == "user-a" || notice.RecipientID == "user-b" {
			t.Fatalf("journal_passed must skip author and next holder, got %s", notice.RecipientID)
		}
	}
}

func TestFanoutFailureDoesNotFailEntry(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")

	groupID := createGroup(t, svc, alice, "Pair")
	joinViaInvite(t, svc, fs, alice, groupID, bob)
	fs.insertNotificationsErr = errors.New("notification store down")

	if _, err := svc.CreateEntry(ctx, alice, groupID, CreateEntryInput{Content: "still works"}); err != nil {
		t.Fatalf("entry must succeed despite fanout failure: %v", err)
	}
	group, _ := fs.GetGroup(ctx, groupID)
	if group.CurrentTurnIndex != 1 {
		t.Fatalf("turn must still advance, got index %d", group.CurrentTurnIndex)
	}
}

func TestGenerateInviteCodeCreatorOnly(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")

	groupID := createGroup(t, svc, alice, "Pair")
	joinViaInvite(t, svc, fs, alice, groupID, bob)

	_, err := svc.GenerateInviteCode(ctx, bob, groupID, "x@example.com")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_CREATOR" || domainErr.Status != 403 {
		t.Fatalf("expected 403 NOT_CREATOR, got %v", err)
	}

	payload, err := svc.GenerateInviteCode(ctx, alice, groupID, "x@example.com")
	if err != nil {
		t.Fatalf("creator invite: %v", err)
	}
	code := payload["inviteCode"].(string)
	if len(code) != 10 {
		t.Fatalf("expected 10-char code, got %q", code)
	}
	expiresAt := payload["expiresAt"].(time.Time)
	if until := time.Until(expiresAt); until < 6*24*time.Hour || until > 8*24*time.Hour {
		t.Fatalf("expected roughly 7-day expiry, got %v", until)
	}
}

func TestGenerateInviteCodeRetriesOnCollision(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	alice := sessionFor(fs, "user-a", "Alice")
	groupID := createGroup(t, svc, alice, "Solo")

	attempts := 0
	fs.insertInvitationFn = func(ctx context.Context, invite store.Invitation) error {
		attempts++
		if attempts < 3 {
			return store.ErrCodeConflict
		}
		return nil
	}

	if _, err := svc.GenerateInviteCode(context.Background(), alice, groupID, ""); err != nil {
		t.Fatalf("invite should succeed after retries: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestInviteGenerationNotifiesExistingUser(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	alice := sessionFor(fs, "user-a", "Alice")
	sessionFor(fs, "user-b", "Bob")
	groupID := createGroup(t, svc, alice, "Pair")

	if _, err := svc.GenerateInviteCode(context.Background(), alice, groupID, "user-b@example.com"); err != nil {
		t.Fatalf("invite: %v", err)
	}

	invited := fs.noticesOfType(rotation.NotifyInvitationReceived)
	if len(invited) != 1 || invited[0].RecipientID != "user-b" {
		t.Fatalf("expected invitation_received for user-b, got %v", invited)
	}
}

func TestJoinGroupWithCode(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")

	groupID := createGroup(t, svc, alice, "Pair")
	payload, err := svc.GenerateInviteCode(ctx, alice, groupID, "user-b@example.com")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	code := payload["inviteCode"].(string)

	joined, err := svc.JoinGroupWithCode(ctx, bob, code)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined["currentTurnIndex"].(int) != 0 {
		t.Fatalf("join must not adjust the turn pointer")
	}
	group, _ := fs.GetGroup(ctx, groupID)
	if len(group.TurnOrder) != 2 || group.TurnOrder[1] != "user-b" {
		t.Fatalf("joiner must append to turn order, got %v", group.TurnOrder)
	}

	newMember := fs.noticesOfType(rotation.NotifyNewMember)
	if len(newMember) != 1 || newMember[0].RecipientID != "user-a" {
		t.Fatalf("expected new_member notice for user-a, got %v", newMember)
	}

	// Redemption is not idempotent.
	carol := sessionFor(fs, "user-c", "Carol")
	_, err = svc.JoinGroupWithCode(ctx, carol, code)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVITE_ALREADY_USED" {
		t.Fatalf("second redemption must fail INVITE_ALREADY_USED, got %v", err)
	}
}

func TestJoinGroupInviteErrorKinds(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")
	groupID := createGroup(t, svc, alice, "Pair")

	var domainErr *DomainError

	_, err := svc.JoinGroupWithCode(ctx, bob, "NOSUCHCODE")
	if !errors.As(err, &domainErr) || domainErr.Code != "INVITE_NOT_FOUND" || domainErr.Status != 404 {
		t.Fatalf("expected 404 INVITE_NOT_FOUND, got %v", err)
	}

	// Invitation created 8 days ago with a 7-day TTL is expired.
	payload, _ := svc.GenerateInviteCode(ctx, alice, groupID, "")
	code := payload["inviteCode"].(string)
	fs.invitations[code].ExpiresAt = time.Now().Add(-24 * time.Hour)
	_, err = svc.JoinGroupWithCode(ctx, bob, code)
	if !errors.As(err, &domainErr) || domainErr.Code != "INVITE_EXPIRED" || domainErr.Status != 410 {
		t.Fatalf("expected 410 INVITE_EXPIRED, got %v", err)
	}

	// Created 6 days ago: one day of validity left, redemption succeeds.
	payload, _ = svc.GenerateInviteCode(ctx, alice, groupID, "")
	code = payload["inviteCode"].(string)
	fs.invitations[code].ExpiresAt = time.Now().Add(24 * time.Hour)
	if _, err := svc.JoinGroupWithCode(ctx, bob, code); err != nil {
		t.Fatalf("6-day-old invite should redeem: %v", err)
	}

	// Members cannot redeem again.
	payload, _ = svc.GenerateInviteCode(ctx, alice, groupID, "")
	_, err = svc.JoinGroupWithCode(ctx, bob, payload["inviteCode"].(string))
	if !errors.As(err, &domainErr) || domainErr.Code != "ALREADY_MEMBER" || domainErr.Status != 409 {
		t.Fatalf("expected 409 ALREADY_MEMBER, got %v", err)
	}
}

func TestDeclineInvite(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")
	carol := sessionFor(fs, "user-c", "Carol")
	groupID := createGroup(t, svc, alice, "Pair")

	payload, _ := svc.GenerateInviteCode(ctx, alice, groupID, "user-b@example.com")
	code := payload["inviteCode"].(string)

	var domainErr *DomainError
	_, err := svc.DeclineInvite(ctx, carol, code)
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("decline by the wrong user must 403, got %v", err)
	}

	if _, err := svc.DeclineInvite(ctx, bob, code); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if fs.invitations[code].Status != store.InviteStatusDeclined {
		t.Fatalf("expected declined status, got %s", fs.invitations[code].Status)
	}

	_, err = svc.JoinGroupWithCode(ctx, bob, code)
	if !errors.As(err, &domainErr) || domainErr.Code != "INVITE_ALREADY_USED" {
		t.Fatalf("declined invite must not redeem, got %v", err)
	}
}

func TestRotationScenario(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")
	carol := sessionFor(fs, "user-c", "Carol")

	groupID := createGroup(t, svc, alice, "Trio")

	// Solo writer: the index never moves.
	if _, err := svc.CreateEntry(ctx, alice, groupID, CreateEntryInput{Content: "alone"}); err != nil {
		t.Fatalf("solo entry: %v", err)
	}
	group, _ := fs.GetGroup(ctx, groupID)
	if group.CurrentTurnIndex != 0 {
		t.Fatalf("solo: expected index 0, got %d", group.CurrentTurnIndex)
	}

	joinViaInvite(t, svc, fs, alice, groupID, bob)

	if _, err := svc.CreateEntry(ctx, alice, groupID, CreateEntryInput{Content: "two of us"}); err != nil {
		t.Fatalf("pair entry: %v", err)
	}
	group, _ = fs.GetGroup(ctx, groupID)
	if group.CurrentTurnIndex != 1 {
		t.Fatalf("expected Bob's turn, got index %d", group.CurrentTurnIndex)
	}

	joinViaInvite(t, svc, fs, alice, groupID, carol)

	// Bob writes, Carol passes, and the journal lands back on Alice.
	if _, err := svc.CreateEntry(ctx, bob, groupID, CreateEntryInput{Content: "bob's page"}); err != nil {
		t.Fatalf("bob entry: %v", err)
	}
	if _, err := svc.PassTurn(ctx, carol, groupID); err != nil {
		t.Fatalf("carol pass: %v", err)
	}
	group, _ = fs.GetGroup(ctx, groupID)
	if group.CurrentTurnIndex != 0 {
		t.Fatalf("expected index back at Alice, got %d", group.CurrentTurnIndex)
	}
	if holder := rotation.Holder(group.TurnOrder, group.CurrentTurnIndex); holder != "user-a" {
		t.Fatalf("expected holder user-a, got %s", holder)
	}
}

func TestDraftUpsertIdempotent(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	groupID := createGroup(t, svc, alice, "Solo")

	first, err := svc.SaveDraft(ctx, alice, groupID, SaveDraftInput{Title: "v1", Content: "draft one"})
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	second, err := svc.SaveDraft(ctx, alice, groupID, SaveDraftInput{Title: "v2", Content: "draft two"})
	if err != nil {
		t.Fatalf("save draft again: %v", err)
	}
	if first["id"] != second["id"] {
		t.Fatalf("upsert must keep one draft per (group, author)")
	}
	if len(fs.drafts) != 1 {
		t.Fatalf("expected a single draft row, got %d", len(fs.drafts))
	}

	payload, err := svc.GetDraft(ctx, alice, groupID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	draft := payload["draft"].(map[string]any)
	if draft["content"] != "draft two" {
		t.Fatalf("expected latest content, got %v", draft["content"])
	}
}

func TestDraftRequiresMembership(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	mallory := sessionFor(fs, "user-m", "Mallory")
	groupID := createGroup(t, svc, alice, "Solo")

	var domainErr *DomainError
	_, err := svc.SaveDraft(ctx, mallory, groupID, SaveDraftInput{Content: "nope"})
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_A_MEMBER" {
		t.Fatalf("expected NOT_A_MEMBER, got %v", err)
	}
}

func TestGroupEntriesSilentForNonMember(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	mallory := sessionFor(fs, "user-m", "Mallory")
	groupID := createGroup(t, svc, alice, "Solo")
	if _, err := svc.CreateEntry(ctx, alice, groupID, CreateEntryInput{Content: "private"}); err != nil {
		t.Fatalf("entry: %v", err)
	}

	payload, err := svc.GetGroupEntries(ctx, mallory, groupID, 10)
	if err != nil {
		t.Fatalf("non-member query must not error: %v", err)
	}
	if entries := payload["entries"].([]map[string]any); len(entries) != 0 {
		t.Fatalf("non-member must see no entries, got %d", len(entries))
	}

	payload, err = svc.GetGroupEntries(ctx, alice, groupID, 10)
	if err != nil {
		t.Fatalf("member query: %v", err)
	}
	if entries := payload["entries"].([]map[string]any); len(entries) != 1 {
		t.Fatalf("member must see the entry, got %d", len(entries))
	}
}

func TestCalendarMonthBounds(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	groupID := createGroup(t, svc, alice, "Solo")

	dates := []string{"2026-07-31", "2026-08-01", "2026-08-31", "2026-09-01"}
	for _, date := range dates {
		if _, err := svc.CreateEntry(ctx, alice, groupID, CreateEntryInput{Content: "day", EntryDate: date}); err != nil {
			t.Fatalf("entry %s: %v", date, err)
		}
	}

	payload, err := svc.GetEntriesForCalendar(ctx, alice, groupID, 2026, 8)
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	entries := payload["entries"].([]map[string]any)
	if len(entries) != 2 {
		t.Fatalf("expected the two August entries, got %d", len(entries))
	}
	for _, entry := range entries {
		date := entry["entryDate"].(string)
		if date != "2026-08-01" && date != "2026-08-31" {
			t.Fatalf("unexpected entry date %s", date)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	fs.addUser("user-a", "Alice", "alice@example.com")

	session, err := svc.CreateSession(ctx, store.User{ID: "user-a", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	parsed, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if parsed.UserID != "user-a" || parsed.UserName != "Alice" {
		t.Fatalf("unexpected session identity: %+v", parsed)
	}

	// Refresh rotates the refresh token.
	next, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == session.RefreshToken {
		t.Fatalf("refresh token must rotate")
	}
	if _, err := svc.Refresh(ctx, session.RefreshToken); err == nil {
		t.Fatalf("used refresh token must be rejected")
	}

	// Logout revokes the access token.
	if err := svc.Logout(ctx, next, next.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(ctx, next.Token); err == nil {
		t.Fatalf("revoked access token must be rejected")
	}
	if _, err := svc.Refresh(ctx, next.RefreshToken); err == nil {
		t.Fatalf("revoked refresh token must be rejected")
	}
}

func TestSearchEntriesWithoutBackendReturnsEmpty(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	alice := sessionFor(fs, "user-a", "Alice")
	createGroup(t, svc, alice, "Solo")

	resp, err := svc.SearchEntries(context.Background(), alice, "anything", "", 20, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("expected empty results, got %d", len(resp.Results))
	}
}

func TestAssistantChatPersistsTranscript(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	groupID := createGroup(t, svc, alice, "Solo")

	result, err := svc.ChatWithAssistant(ctx, alice, groupID, "What should I write about?", "")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if result.Reply == "" {
		t.Fatalf("expected a reply even without a model")
	}

	payload, err := svc.AssistantSession(ctx, alice, groupID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	messages := payload["messages"].([]store.ChatMessage)
	if len(messages) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(messages))
	}
	if messages[0].Role != store.ChatRoleUser || messages[1].Role != store.ChatRoleAssistant {
		t.Fatalf("unexpected roles: %s, %s", messages[0].Role, messages[1].Role)
	}
}

type staticResolver struct {
	base string
}

func (r staticResolver) ResolveURL(_ context.Context, key string) (string, error) {
	return r.base + "/" + key, nil
}

func (r staticResolver) ResolveURLs(ctx context.Context, keys []string) ([]string, error) {
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		url, _ := r.ResolveURL(ctx, key)
		urls = append(urls, url)
	}
	return urls, nil
}

func (r staticResolver) UploadURL(_ context.Context, key string) (string, error) {
	return r.base + "/upload/" + key, nil
}

func TestPhotoUploadTicket(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")

	if _, err := svc.PhotoUploadTicket(ctx, alice, "cat.jpg"); err == nil {
		t.Fatal("expected an error without configured photo storage")
	} else if status, code, _, _ := mapError(err); status != 503 || code != "PHOTO_STORAGE_UNAVAILABLE" {
		t.Fatalf("unexpected error mapping: status=%d code=%s", status, code)
	}

	svc.photos = staticResolver{base: "https://photos.test"}
	payload, err := svc.PhotoUploadTicket(ctx, alice, "cat.jpg")
	if err != nil {
		t.Fatalf("upload ticket: %v", err)
	}
	key := payload["photoKey"].(string)
	if !strings.HasSuffix(key, ".jpg") {
		t.Fatalf("expected key to keep the extension, got %q", key)
	}
	if got := payload["uploadUrl"].(string); got != "https://photos.test/upload/"+key {
		t.Fatalf("unexpected upload url %q", got)
	}
}

func TestEntryPayloadResolvesPhotoURLs(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	svc.photos = staticResolver{base: "https://photos.test"}
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	groupID := createGroup(t, svc, alice, "Solo")

	payload, err := svc.CreateEntry(ctx, alice, groupID, CreateEntryInput{
		Content:   "sunset walk",
		PhotoKeys: []string{"pho_abc.jpg"},
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	urls := payload["photoUrls"].([]string)
	if len(urls) != 1 || urls[0] != "https://photos.test/pho_abc.jpg" {
		t.Fatalf("unexpected photo urls %v", urls)
	}
}

func TestFailedRedemptionLeavesInviteRedeemable(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	ctx := context.Background()
	alice := sessionFor(fs, "user-a", "Alice")
	bob := sessionFor(fs, "user-b", "Bob")
	groupID := createGroup(t, svc, alice, "Trip Log")

	payload, err := svc.GenerateInviteCode(ctx, alice, groupID, "")
	if err != nil {
		t.Fatalf("generate invite: %v", err)
	}
	code := payload["inviteCode"].(string)

	fs.redeemAppendErr = errors.New("append member: disk full")
	if _, err := svc.JoinGroupWithCode(ctx, bob, code); err == nil {
		t.Fatal("expected join to fail")
	}

	invite, err := fs.GetInvitationByCode(ctx, code)
	if err != nil {
		t.Fatalf("lookup invite: %v", err)
	}
	if invite.Status != store.InviteStatusPending {
		t.Fatalf("failed join consumed the invite: status %q", invite.Status)
	}
	group, err := fs.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("lookup group: %v", err)
	}
	for _, member := range group.Members {
		if member == bob.UserID {
			t.Fatal("redeemer added to group despite failed join")
		}
	}

	fs.redeemAppendErr = nil
	if _, err := svc.JoinGroupWithCode(ctx, bob, code); err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
	group, err = fs.GetGroup(ctx, groupID)
	if err != nil {
		t.Fatalf("lookup group: %v", err)
	}
	if len(group.Members) != 2 || group.Members[1] != bob.UserID {
		t.Fatalf("unexpected members after retry: %v", group.Members)
	}
}

func TestAssistantSessionEmptyWithoutHistory(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	alice := sessionFor(fs, "user-a", "Alice")

	payload, err := svc.AssistantSession(context.Background(), alice, "")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	messages, ok := payload["messages"].([]store.ChatMessage)
	if !ok {
		t.Fatalf("expected a message slice, got %T", payload["messages"])
	}
	if messages == nil || len(messages) != 0 {
		t.Fatalf("expected an empty non-nil slice, got %v", messages)
	}
}
