package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Group is one shared exchange diary. Members write in turn: TurnOrder is
// append-only and CurrentTurnIndex always satisfies 0 <= i < len(TurnOrder).
type Group struct {
	ID               string
	Name             string
	Description      string
	CreatedBy        string
	Members          []string
	TurnOrder        []string
	CurrentTurnIndex int
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Entry is immutable once created. TurnIndex snapshots the group's pointer
// at write time for historical attribution.
type Entry struct {
	ID                string
	GroupID           string
	AuthorID          string
	Title             string
	Content           string
	PhotoKeys         []string
	Tags              []string
	IsQuickReflection bool
	TurnIndex         int
	EntryDate         time.Time
}

// Draft holds in-progress content, at most one per (group, author).
type Draft struct {
	ID                string
	GroupID           string
	AuthorID          string
	Title             string
	Content           string
	PhotoKeys         []string
	IsQuickReflection bool
	UpdatedAt         time.Time
}

const (
	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
	InviteStatusDeclined = "declined"
)

type Invitation struct {
	ID           string
	GroupID      string
	InvitedBy    string
	InvitedEmail string
	InviteCode   string
	Status       string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

type Notification struct {
	ID          string
	RecipientID string
	Type        string
	Title       string
	Message     string
	GroupID     string
	IsRead      bool
	CreatedAt   time.Time
}

const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSession is keyed by (user, optional group) and upserted whole per
// interaction.
type ChatSession struct {
	ID        string
	UserID    string
	GroupID   string
	Context   string
	Messages  []ChatMessage
	UpdatedAt time.Time
}

// EntryWithAuthor joins an entry with its author's display name for read
// surfaces.
type EntryWithAuthor struct {
	Entry
	AuthorName string
}
