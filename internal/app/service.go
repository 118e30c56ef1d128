package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"path"
	"time"

	"roundbook/api/internal/assistant"
	"roundbook/api/internal/auth"
	"roundbook/api/internal/authpw"
	"roundbook/api/internal/config"
	"roundbook/api/internal/email"
	"roundbook/api/internal/export"
	"roundbook/api/internal/photo"
	"roundbook/api/internal/rotation"
	"roundbook/api/internal/search"
	"roundbook/api/internal/store"
	"roundbook/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUsersByIDs(context.Context, []string) (map[string]store.User, error)
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	InsertGroup(context.Context, store.Group) error
	GetGroup(context.Context, string) (store.Group, error)
	ListUserGroups(context.Context, string) ([]store.Group, error)
	AdvanceTurn(ctx context.Context, groupID, actorID string, entry *store.Entry) (store.Group, error)
	RedeemInvitation(ctx context.Context, inviteID, groupID, userID string) (store.Group, bool, error)
	InsertInvitation(context.Context, store.Invitation) error
	GetInvitationByCode(context.Context, string) (store.Invitation, error)
	ResolveInvitation(ctx context.Context, inviteID, status string) (bool, error)
	ListGroupEntries(ctx context.Context, groupID string, limit int) ([]store.EntryWithAuthor, error)
	ListEntriesBetween(ctx context.Context, groupID string, from, to time.Time) ([]store.EntryWithAuthor, error)
	LatestEntry(ctx context.Context, groupID string) (*store.EntryWithAuthor, error)
	UpsertDraft(context.Context, store.Draft) (store.Draft, error)
	GetDraft(ctx context.Context, groupID, authorID string) (store.Draft, error)
	InsertNotifications(context.Context, []store.Notification) error
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, recipientID, notificationID string) error
	MarkAllNotificationsRead(ctx context.Context, recipientID string) error
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens, keyed by token hash. The Postgres store
// implements it directly; Redis takes over when configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	authpw    *authpw.Service
	mail      *email.Service
	photos    photo.Resolver
	search    *search.Service
	assistant *assistant.Service
	exporter  *export.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, photos photo.Resolver, searchService *search.Service, assistantService *assistant.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, dataStore, photos, searchService, assistantService)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, photos photo.Resolver, searchService *search.Service, assistantService *assistant.Service) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		authpw:    authpw.NewService(dataStore),
		photos:    photos,
		search:    searchService,
		assistant: assistantService,
	}
	svc.mail = email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	svc.exporter = export.NewService(&exportStore{store: svc.store, photos: photos})
	return svc
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mail != nil && s.mail.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- sessions ----

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
	// The session store may carry only the user id; reload the full record.
	full, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, full)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
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

// ---- groups ----

func (s *Service) CreateGroup(ctx context.Context, session Session, name, description string) (map[string]any, error) {
	if name == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "name is required", nil)
	}
	group := store.Group{
		ID:               util.NewID("grp"),
		Name:             name,
		Description:      description,
		CreatedBy:        session.UserID,
		Members:          []string{session.UserID},
		TurnOrder:        []string{session.UserID},
		CurrentTurnIndex: 0,
		IsActive:         true,
	}
	if err := s.store.InsertGroup(ctx, group); err != nil {
		return nil, err
	}
	return groupPayload(group), nil
}

func (s *Service) GetUserGroups(ctx context.Context, session Session) (map[string]any, error) {
	groups, err := s.store.ListUserGroups(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		summary, err := s.summarizeGroup(ctx, group)
		if err != nil {
			return nil, err
		}
		items = append(items, summary)
	}
	return map[string]any{"groups": items}, nil
}

func (s *Service) summarizeGroup(ctx context.Context, group store.Group) (map[string]any, error) {
	users, err := s.store.GetUsersByIDs(ctx, group.Members)
	if err != nil {
		return nil, err
	}
	memberNames := make([]string, 0, len(group.Members))
	for _, id := range group.Members {
		memberNames = append(memberNames, users[id].DisplayName)
	}

	holderID := rotation.Holder(group.TurnOrder, group.CurrentTurnIndex)
	payload := groupPayload(group)
	payload["memberNames"] = memberNames
	payload["currentTurnUserId"] = holderID
	payload["currentTurnUserName"] = users[holderID].DisplayName

	latest, err := s.store.LatestEntry(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		payload["latestEntry"] = s.entryPayload(ctx, *latest)
	} else {
		payload["latestEntry"] = nil
	}
	return payload, nil
}

// ---- invitations ----

const inviteCodeAttempts = 5

func (s *Service) GenerateInviteCode(ctx context.Context, session Session, groupID, invitedEmail string) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.CreatedBy != session.UserID {
		return nil, domainError(403, "NOT_CREATOR", "Only the group creator can invite", nil)
	}

	invite := store.Invitation{
		GroupID:      groupID,
		InvitedBy:    session.UserID,
		InvitedEmail: invitedEmail,
		Status:       store.InviteStatusPending,
		ExpiresAt:    time.Now().Add(s.cfg.InviteTTL),
	}
	var insertErr error
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		invite.ID = util.NewID("inv")
		invite.InviteCode = util.NewInviteCode()
		insertErr = s.store.InsertInvitation(ctx, invite)
		if !errors.Is(insertErr, store.ErrCodeConflict) {
			break
		}
	}
	if insertErr != nil {
		return nil, insertErr
	}

	s.deliverInvite(ctx, group, session, invite)

	return map[string]any{
		"inviteCode": invite.InviteCode,
		"expiresAt":  invite.ExpiresAt,
	}, nil
}

// deliverInvite notifies the invited user and sends the code by mail.
// Best-effort: the invitation already exists either way.
func (s *Service) deliverInvite(ctx context.Context, group store.Group, session Session, invite store.Invitation) {
	if invite.InvitedEmail == "" {
		return
	}
	if invited, err := s.store.GetUserByEmail(ctx, invite.InvitedEmail); err == nil {
		s.notify(ctx, group, []rotation.Notice{{Recipient: invited.ID, Type: rotation.NotifyInvitationReceived}}, session.UserName)
	}
	if s.SMTPConfigured() {
		if err := s.mail.SendInviteEmail(invite.InvitedEmail, session.UserName, group.Name, invite.InviteCode); err != nil {
			log.Printf("invite email: %v", err)
		}
	}
}

func (s *Service) JoinGroupWithCode(ctx context.Context, session Session, code string) (map[string]any, error) {
	invite, err := s.store.GetInvitationByCode(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(404, "INVITE_NOT_FOUND", "Invite code not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if invite.Status != store.InviteStatusPending {
		return nil, domainError(409, "INVITE_ALREADY_USED", "Invite code already used", nil)
	}
	if time.Now().After(invite.ExpiresAt) {
		return nil, domainError(410, "INVITE_EXPIRED", "Invite code expired", nil)
	}

	group, err := s.store.GetGroup(ctx, invite.GroupID)
	if err != nil {
		return nil, err
	}
	if memberOf(group, session.UserID) {
		return nil, domainError(409, "ALREADY_MEMBER", "Already a member of this group", nil)
	}

	group, changed, err := s.store.RedeemInvitation(ctx, invite.ID, invite.GroupID, session.UserID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(409, "INVITE_ALREADY_USED", "Invite code already used", nil)
	}

	notices := rotation.Fanout(rotation.EventMemberJoined, group.Members, group.TurnOrder, group.CurrentTurnIndex, session.UserID)
	s.notify(ctx, group, notices, session.UserName)

	return groupPayload(group), nil
}

func (s *Service) DeclineInvite(ctx context.Context, session Session, code string) (map[string]any, error) {
	invite, err := s.store.GetInvitationByCode(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(404, "INVITE_NOT_FOUND", "Invite code not found", nil)
	}
	if err != nil {
		return nil, err
	}
	if invite.Status != store.InviteStatusPending {
		return nil, domainError(409, "INVITE_ALREADY_USED", "Invite code already resolved", nil)
	}
	if time.Now().After(invite.ExpiresAt) {
		return nil, domainError(410, "INVITE_EXPIRED", "Invite code expired", nil)
	}
	if invite.InvitedEmail != "" {
		user, err := s.store.GetUserByID(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		if user.Email != invite.InvitedEmail {
			return nil, domainError(403, "FORBIDDEN", "Invitation is addressed to someone else", nil)
		}
	}
	if _, err := s.store.ResolveInvitation(ctx, invite.ID, store.InviteStatusDeclined); err != nil {
		return nil, err
	}
	return map[string]any{"status": store.InviteStatusDeclined}, nil
}

// ---- turn transitions ----

func (s *Service) PassTurn(ctx context.Context, session Session, groupID string) (map[string]any, error) {
	group, err := s.store.AdvanceTurn(ctx, groupID, session.UserID, nil)
	if err != nil {
		return nil, err
	}

	notices := rotation.Fanout(rotation.EventTurnPassed, group.Members, group.TurnOrder, group.CurrentTurnIndex, session.UserID)
	s.notify(ctx, group, notices, session.UserName)

	return map[string]any{
		"currentTurnIndex":  group.CurrentTurnIndex,
		"currentTurnUserId": rotation.Holder(group.TurnOrder, group.CurrentTurnIndex),
	}, nil
}

type CreateEntryInput struct {
	Title             string   `json:"title"`
	Content           string   `json:"content"`
	PhotoKeys         []string `json:"photoKeys"`
	Tags              []string `json:"tags"`
	IsQuickReflection bool     `json:"isQuickReflection"`
	EntryDate         string   `json:"entryDate"`
}

func (s *Service) CreateEntry(ctx context.Context, session Session, groupID string, input CreateEntryInput) (map[string]any, error) {
	if input.Content == "" {
		return nil, domainError(422, "VALIDATION_ERROR", "content is required", nil)
	}
	entryDate := time.Now()
	if input.EntryDate != "" {
		parsed, err := time.ParseInLocation("2006-01-02", input.EntryDate, time.Local)
		if err != nil {
			return nil, domainError(422, "VALIDATION_ERROR", "entryDate must be YYYY-MM-DD", nil)
		}
		entryDate = parsed
	}

	entry := &store.Entry{
		ID:                util.NewID("ent"),
		GroupID:           groupID,
		AuthorID:          session.UserID,
		Title:             input.Title,
		Content:           input.Content,
		PhotoKeys:         input.PhotoKeys,
		Tags:              input.Tags,
		IsQuickReflection: input.IsQuickReflection,
		EntryDate:         entryDate,
	}

	group, err := s.store.AdvanceTurn(ctx, groupID, session.UserID, entry)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexEntry(search.EntryRecord{
			ID:        entry.ID,
			Title:     entry.Title,
			Body:      entry.Content,
			GroupID:   entry.GroupID,
			AuthorID:  entry.AuthorID,
			EntryDate: entry.EntryDate.Format("2006-01-02"),
			Tags:      entry.Tags,
		})
	}

	notices := rotation.Fanout(rotation.EventEntrySubmitted, group.Members, group.TurnOrder, group.CurrentTurnIndex, session.UserID)
	s.notify(ctx, group, notices, session.UserName)

	payload := s.entryPayload(ctx, store.EntryWithAuthor{Entry: *entry, AuthorName: session.UserName})
	payload["currentTurnIndex"] = group.CurrentTurnIndex
	payload["currentTurnUserId"] = rotation.Holder(group.TurnOrder, group.CurrentTurnIndex)
	return payload, nil
}

// ---- drafts ----

type SaveDraftInput struct {
	Title             string   `json:"title"`
	Content           string   `json:"content"`
	PhotoKeys         []string `json:"photoKeys"`
	IsQuickReflection bool     `json:"isQuickReflection"`
}

func (s *Service) SaveDraft(ctx context.Context, session Session, groupID string, input SaveDraftInput) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !memberOf(group, session.UserID) {
		return nil, domainError(403, "NOT_A_MEMBER", "Not a member of this group", nil)
	}

	draft, err := s.store.UpsertDraft(ctx, store.Draft{
		ID:                util.NewID("drf"),
		GroupID:           groupID,
		AuthorID:          session.UserID,
		Title:             input.Title,
		Content:           input.Content,
		PhotoKeys:         input.PhotoKeys,
		IsQuickReflection: input.IsQuickReflection,
	})
	if err != nil {
		return nil, err
	}
	return draftPayload(draft), nil
}

func (s *Service) GetDraft(ctx context.Context, session Session, groupID string) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !memberOf(group, session.UserID) {
		return nil, domainError(403, "NOT_A_MEMBER", "Not a member of this group", nil)
	}

	draft, err := s.store.GetDraft(ctx, groupID, session.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{"draft": nil}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"draft": draftPayload(draft)}, nil
}

// PhotoUploadTicket mints a storage key and a presigned PUT URL the client
// can upload a photo to before attaching the key to an entry or draft.
func (s *Service) PhotoUploadTicket(ctx context.Context, session Session, filename string) (map[string]any, error) {
	if s.photos == nil {
		return nil, domainError(503, "PHOTO_STORAGE_UNAVAILABLE", "Photo storage is not configured", nil)
	}
	key := util.NewID("pho")
	if ext := path.Ext(filename); ext != "" && len(ext) <= 8 {
		key += ext
	}
	uploadURL, err := s.photos.UploadURL(ctx, key)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"photoKey":  key,
		"uploadUrl": uploadURL,
	}, nil
}

// ---- entry queries ----

// GetGroupEntries returns the newest entries of a group. Non-members get an
// empty list, not an error.
func (s *Service) GetGroupEntries(ctx context.Context, session Session, groupID string, limit int) (map[string]any, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil || !memberOf(group, session.UserID) {
		return map[string]any{"entries": []map[string]any{}}, nil
	}

	entries, err := s.store.ListGroupEntries(ctx, groupID, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": s.entryPayloads(ctx, entries)}, nil
}

func (s *Service) GetEntriesForCalendar(ctx context.Context, session Session, groupID string, year, month int) (map[string]any, error) {
	if month < 1 || month > 12 {
		return nil, domainError(422, "VALIDATION_ERROR", "month must be 1-12", nil)
	}
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil || !memberOf(group, session.UserID) {
		return map[string]any{"entries": []map[string]any{}}, nil
	}

	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.Local)
	to := from.AddDate(0, 1, 0)
	entries, err := s.store.ListEntriesBetween(ctx, groupID, from, to)
	if err != nil {
		return nil, err
	}
	return map[string]any{"entries": s.entryPayloads(ctx, entries)}, nil
}

// ---- search ----

func (s *Service) SearchEntries(ctx context.Context, session Session, text, filterGroupID string, limit, offset int) (search.Response, error) {
	groups, err := s.store.ListUserGroups(ctx, session.UserID)
	if err != nil {
		return search.Response{}, err
	}
	groupIDs := make([]string, 0, len(groups))
	for _, group := range groups {
		groupIDs = append(groupIDs, group.ID)
	}

	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:          text,
		GroupIDs:      groupIDs,
		FilterGroupID: filterGroupID,
		Limit:         limit,
		Offset:        offset,
	}), nil
}

// ---- export ----

func (s *Service) ExportMonth(ctx context.Context, session Session, groupID string, year, month int, format export.Format) (*export.Result, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !memberOf(group, session.UserID) {
		return nil, domainError(403, "NOT_A_MEMBER", "Not a member of this group", nil)
	}

	result, err := s.exporter.Export(ctx, export.Request{
		GroupID: groupID,
		Year:    year,
		Month:   month,
		Format:  format,
	})
	if errors.Is(err, export.ErrNoEntries) {
		return nil, domainError(404, "NOT_FOUND", "No entries in that month", nil)
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return nil, domainError(503, "EXPORT_UNAVAILABLE", "Export dependency not installed on this server", nil)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// exportStore adapts the data store and photo resolver to the exporter.
type exportStore struct {
	store  dataStore
	photos photo.Resolver
}

func (x *exportStore) GetJournal(ctx context.Context, groupID string) (export.JournalInfo, error) {
	group, err := x.store.GetGroup(ctx, groupID)
	if err != nil {
		return export.JournalInfo{}, err
	}
	return export.JournalInfo{ID: group.ID, Name: group.Name}, nil
}

func (x *exportStore) ListMonthEntries(ctx context.Context, groupID string, from, to time.Time) ([]export.EntryInfo, error) {
	entries, err := x.store.ListEntriesBetween(ctx, groupID, from, to)
	if err != nil {
		return nil, err
	}
	infos := make([]export.EntryInfo, 0, len(entries))
	for _, entry := range entries {
		info := export.EntryInfo{
			Title:      entry.Title,
			Body:       entry.Content,
			AuthorName: entry.AuthorName,
			EntryDate:  entry.EntryDate,
			Tags:       entry.Tags,
		}
		if x.photos != nil && len(entry.PhotoKeys) > 0 {
			if urls, err := x.photos.ResolveURLs(ctx, entry.PhotoKeys); err == nil {
				info.PhotoURLs = urls
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ---- assistant ----

func (s *Service) ChatWithAssistant(ctx context.Context, session Session, groupID, message, contextNote string) (assistant.ChatResult, error) {
	if message == "" {
		return assistant.ChatResult{}, domainError(422, "VALIDATION_ERROR", "message is required", nil)
	}
	return s.assistant.Chat(ctx, session.UserID, groupID, message, contextNote)
}

func (s *Service) AssistantSession(ctx context.Context, session Session, groupID string) (map[string]any, error) {
	chat, err := s.assistant.Session(ctx, session.UserID, groupID)
	if err != nil {
		return nil, err
	}
	messages := chat.Messages
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	return map[string]any{
		"messages":  messages,
		"context":   chat.Context,
		"updatedAt": chat.UpdatedAt,
	}, nil
}

// ---- notifications ----

func (s *Service) Notifications(ctx context.Context, session Session, limit int) (map[string]any, error) {
	notifications, err := s.store.ListNotifications(ctx, session.UserID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, map[string]any{
			"id":        n.ID,
			"type":      n.Type,
			"title":     n.Title,
			"message":   n.Message,
			"groupId":   n.GroupID,
			"isRead":    n.IsRead,
			"createdAt": n.CreatedAt,
		})
	}
	return map[string]any{"notifications": items}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	return s.store.MarkNotificationRead(ctx, session.UserID, notificationID)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) error {
	return s.store.MarkAllNotificationsRead(ctx, session.UserID)
}

// notify persists fanout notices. Failures are logged and never surface: the
// primary state change has already committed.
func (s *Service) notify(ctx context.Context, group store.Group, notices []rotation.Notice, actorName string) {
	if len(notices) == 0 {
		return
	}
	notifications := make([]store.Notification, 0, len(notices))
	for _, notice := range notices {
		title, message := noticeText(notice.Type, group.Name, actorName)
		notifications = append(notifications, store.Notification{
			ID:          util.NewID("ntf"),
			RecipientID: notice.Recipient,
			Type:        notice.Type,
			Title:       title,
			Message:     message,
			GroupID:     group.ID,
		})
	}
	if err := s.store.InsertNotifications(ctx, notifications); err != nil {
		log.Printf("notification fanout: group=%s err=%v", group.ID, err)
	}
}

func noticeText(noticeType, groupName, actorName string) (title, message string) {
	switch noticeType {
	case rotation.NotifyYourTurn:
		return "Your turn", "It's your turn to write in \"" + groupName + "\""
	case rotation.NotifyJournalPassed:
		return "Journal passed on", actorName + " wrote in \"" + groupName + "\" and passed it along"
	case rotation.NotifyNewMember:
		return "New member", actorName + " joined \"" + groupName + "\""
	case rotation.NotifyInvitationReceived:
		return "You're invited", actorName + " invited you to \"" + groupName + "\""
	}
	return noticeType, groupName
}

// ---- payload helpers ----

func memberOf(group store.Group, userID string) bool {
	for _, member := range group.Members {
		if member == userID {
			return true
		}
	}
	return false
}

func groupPayload(group store.Group) map[string]any {
	return map[string]any{
		"id":               group.ID,
		"name":             group.Name,
		"description":      group.Description,
		"createdBy":        group.CreatedBy,
		"members":          group.Members,
		"turnOrder":        group.TurnOrder,
		"currentTurnIndex": group.CurrentTurnIndex,
		"isActive":         group.IsActive,
		"createdAt":        group.CreatedAt,
		"updatedAt":        group.UpdatedAt,
	}
}

func draftPayload(draft store.Draft) map[string]any {
	return map[string]any{
		"id":                draft.ID,
		"groupId":           draft.GroupID,
		"title":             draft.Title,
		"content":           draft.Content,
		"photoKeys":         draft.PhotoKeys,
		"isQuickReflection": draft.IsQuickReflection,
		"updatedAt":         draft.UpdatedAt,
	}
}

func (s *Service) entryPayload(ctx context.Context, entry store.EntryWithAuthor) map[string]any {
	photoURLs := []string{}
	if s.photos != nil && len(entry.PhotoKeys) > 0 {
		if urls, err := s.photos.ResolveURLs(ctx, entry.PhotoKeys); err == nil {
			photoURLs = urls
		} else {
			log.Printf("resolve photo urls: entry=%s err=%v", entry.ID, err)
		}
	}
	return map[string]any{
		"id":                entry.ID,
		"groupId":           entry.GroupID,
		"authorId":          entry.AuthorID,
		"authorName":        entry.AuthorName,
		"title":             entry.Title,
		"content":           entry.Content,
		"photoUrls":         photoURLs,
		"tags":              entry.Tags,
		"isQuickReflection": entry.IsQuickReflection,
		"turnIndex":         entry.TurnIndex,
		"entryDate":         entry.EntryDate.Format("2006-01-02"),
	}
}

func (s *Service) entryPayloads(ctx context.Context, entries []store.EntryWithAuthor) []map[string]any {
	payloads := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, s.entryPayload(ctx, entry))
	}
	return payloads
}
