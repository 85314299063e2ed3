package app

import (
	"context"
	"strings"

	"remindbot/internal/registry"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Subscriber-facing replies. The bot's audience is Russian-speaking;
// these strings are part of its observable behavior.
const (
	replyActivated = "✅ <b>Бот активирован в этом чате</b>\n⏰ <i>Время работы: московское (MSK)</i>"

	replyUnsubscribed = "✅ <b>Вы успешно отписались от бота</b>\n\n" +
		"🚫 Вы больше не будете получать напоминания\n" +
		"💬 Чтобы снова подписаться, используйте команду /start"

	replyNotSubscribed = "ℹ️ <b>Вы уже не подписаны на бота</b>\n\n" +
		"💬 Чтобы подписаться, используйте команду /start"

	replyUnsubscribeError = "❌ <b>Ошибка при отписке</b>\n\nОбратитесь к администратору бота"
)

// dispatchLoop routes inbound updates: the two subscription commands
// and the inline opt-out button. Everything else is ignored.
func (a *App) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-a.updates:
			if !ok {
				return nil
			}
			switch up.Kind {
			case kit.UpdateMessage:
				if up.Message != nil {
					a.handleMessage(ctx, *up.Message)
				}
			case kit.UpdateCallback:
				if up.Callback != nil {
					a.handleCallback(ctx, *up.Callback)
				}
			}
		}
	}
}

func (a *App) handleMessage(ctx context.Context, msg kit.Message) {
	switch command(msg.Text) {
	case "/start":
		a.handleStart(ctx, msg)
	case "/unsubscribe":
		a.handleUnsubscribe(ctx, msg.ChatID)
	default:
		// First contact subscribes even without /start; only /start gets
		// the confirmation message.
		if _, err := a.reg.Add(ctx, msg.ChatID, registry.Meta{
			Name: chatName(msg),
			Kind: string(msg.ChatKind),
		}); err != nil {
			a.log.Error("subscribe failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		}
	}
}

func (a *App) handleStart(ctx context.Context, msg kit.Message) {
	meta := registry.Meta{
		Name: chatName(msg),
		Kind: string(msg.ChatKind),
	}
	if msg.ChatKind == kit.ChatGroup || msg.ChatKind == kit.ChatSupergroup {
		if info, err := a.adapter.ChatInfo(ctx, msg.ChatID); err == nil {
			meta.Members = info.MemberCount
		}
	}

	if _, err := a.reg.Add(ctx, msg.ChatID, meta); err != nil {
		a.log.Error("subscribe failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		return
	}
	a.reply(ctx, msg.ChatID, replyActivated)
}

func (a *App) handleUnsubscribe(ctx context.Context, chatID int64) {
	removed, err := a.reg.Remove(ctx, chatID, registry.ReasonCommand)
	switch {
	case err != nil:
		a.log.Error("unsubscribe failed", logx.Int64("chat_id", chatID), logx.Err(err))
		a.reply(ctx, chatID, replyUnsubscribeError)
	case removed:
		a.reply(ctx, chatID, replyUnsubscribed)
	default:
		a.reply(ctx, chatID, replyNotSubscribed)
	}
}

func (a *App) handleCallback(ctx context.Context, cb kit.Callback) {
	if cb.Data != kit.CallbackUnsubscribe {
		return
	}
	if err := a.adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
		a.log.Debug("callback ack failed", logx.Err(err))
	}

	// The button lives in private chats; the opt-out applies to the
	// user who pressed it.
	chatID := cb.FromID
	removed, err := a.reg.Remove(ctx, chatID, registry.ReasonInlineOptOut)
	switch {
	case err != nil:
		a.log.Error("opt-out failed", logx.Int64("chat_id", chatID), logx.Err(err))
		a.reply(ctx, chatID, replyUnsubscribeError)
	case removed:
		a.reply(ctx, chatID, replyUnsubscribed)
	default:
		a.reply(ctx, chatID, replyNotSubscribed)
	}
}

// reply sends an HTML message, falling back to plain text with the
// tags stripped when formatting is rejected.
func (a *App) reply(ctx context.Context, chatID int64, text string) {
	err := a.adapter.SendText(ctx, chatID, text, &kit.SendOptions{ParseMode: "HTML"})
	if err == nil {
		return
	}
	plain := strings.NewReplacer("<b>", "", "</b>", "", "<i>", "", "</i>", "").Replace(text)
	if err := a.adapter.SendText(ctx, chatID, plain, nil); err != nil {
		a.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// chatName picks a display name for the registry: the chat title for
// groups, the sender's @username otherwise.
func chatName(msg kit.Message) string {
	if msg.ChatTitle != "" {
		return msg.ChatTitle
	}
	if msg.FromUsername != "" {
		return "@" + msg.FromUsername
	}
	return "Private"
}

// command extracts the leading slash command, dropping the @botname
// suffix used in groups.
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	return cmd
}
