package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           string
	ChannelID    string
	GuildID      string // empty for direct messages
	FromID       string
	FromUsername string
	FromDisplay  string
	FromRoleIDs  []string // guild role IDs of the author, empty in DMs
	Text         string
	IsDM         bool
}

type ChatTarget struct {
	ChannelID string
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

// Embed is a platform-neutral rich message. The Discord adapter maps it onto
// a native embed; a plain-text adapter would flatten it.
type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type SendOptions struct {
	Embed           *Embed
	SuppressMention bool
}

type Notification struct {
	Channel  string // "discord" now
	Priority int    // 0 low.. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

// Member is a guild member snapshot as seen by the adapter.
type Member struct {
	UserID      string
	Username    string
	DisplayName string
	RoleIDs     []string
	IsBot       bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error

	// OpenDM resolves the direct-message channel for a user.
	OpenDM(ctx context.Context, userID string) (ChatTarget, error)

	Member(ctx context.Context, guildID, userID string) (Member, error)
	// Members iterates the full guild roster in pages.
	Members(ctx context.Context, guildID string) ([]Member, error)

	AddRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error
	RemoveRoles(ctx context.Context, guildID, userID string, roleIDs []string, reason string) error
	SetNickname(ctx context.Context, guildID, userID, nick string) error
}
