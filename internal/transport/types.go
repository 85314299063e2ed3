package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	ChatKind     ChatKind
	ChatTitle    string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// ChatKind mirrors the platform chat type.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// ChatInfo is the subset of chat metadata delivery decisions depend on.
type ChatInfo struct {
	Kind        ChatKind
	Title       string
	Username    string
	MemberCount int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool

	// UnsubscribeButton attaches the inline opt-out button. The adapter
	// renders it with callback data CallbackUnsubscribe.
	UnsubscribeButton bool
}

// CallbackUnsubscribe is the callback payload carried by the opt-out button.
const CallbackUnsubscribe = "unsubscribe"

// PollSpec describes a native poll to publish.
type PollSpec struct {
	Question       string
	Options        []string
	IsAnonymous    bool
	AllowsMultiple bool
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) error
	SendPoll(ctx context.Context, chatID int64, poll PollSpec) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// ChatInfo fetches chat metadata. Callers must tolerate failure and
	// fall back to conservative defaults.
	ChatInfo(ctx context.Context, chatID int64) (ChatInfo, error)

	// DropPendingUpdates discards the server-side update backlog. Used
	// during conflict recovery so a stale consumer's updates are not
	// replayed.
	DropPendingUpdates(ctx context.Context) error

	// Conflicts delivers consume-conflict signals observed by the poller.
	Conflicts() <-chan error
}
