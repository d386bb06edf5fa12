package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/lembrobot/lembrobot/internal/database"
)

const (
	aiProcessingTimeout = 2 * time.Minute
	sendMessageTimeout  = 10 * time.Second
	dbSaveTimeout       = 5 * time.Second
)

type messageHandler struct {
	deps HandlerDeps
}

// NewMessageHandler creates the free-form message router. It is
// installed as the bot's default handler: every non-command text
// message in every chat flows through here.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return messageHandler{deps}.Handle
}

func (h messageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "message")

	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil {
		log.DebugContext(ctx, "Ignoring update with nil message, empty text, or nil sender", "update_id", update.ID)
		return
	}
	if strings.HasPrefix(msg.Text, "/") {
		// Commands have their own handlers. Unknown commands are ignored.
		return
	}

	switch {
	case isGroupChat(msg.Chat.Type):
		h.handleGroupMessage(ctx, b, msg)
	case msg.Chat.Type == models.ChatTypePrivate:
		h.handlePrivateMessage(ctx, b, msg)
	}
}

// handleGroupMessage logs every group message and replies only when the
// bot is addressed. Logging happens before the respond decision so the
// conversation history is complete either way.
func (h messageHandler) handleGroupMessage(ctx context.Context, b *bot.Bot, msg *models.Message) {
	deps := h.deps
	log := deps.Logger.With("handler", "message")
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if _, err := deps.Store.GetOrCreateUser(ctx, userID, msg.From.Username, msg.From.FirstName, msg.From.LastName); err != nil {
		log.ErrorContext(ctx, "Failed to upsert sender", "error", err, "user_id", userID, "chat_id", chatID)
	}

	logged := &database.LoggedMessage{
		GroupID:     chatID,
		UserID:      userID,
		MessageID:   int64(msg.ID),
		MessageText: msg.Text,
		Timestamp:   time.Unix(int64(msg.Date), 0).UTC(),
	}
	if msg.ReplyToMessage != nil {
		logged.IsReply = true
		logged.ReplyToMessageID = sql.NullInt64{Int64: int64(msg.ReplyToMessage.ID), Valid: true}
	}
	LogMessageWithRetry(ctx, deps, logged, "incoming message")

	if !h.shouldRespond(msg) {
		log.DebugContext(ctx, "Bot not addressed, message logged only", "chat_id", chatID)
		return
	}

	log.InfoContext(ctx, "Handling addressed group message", "chat_id", chatID, "message_id", msg.ID)

	settings, err := deps.Store.GetGroupSettings(ctx, chatID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load group settings, using defaults", "error", err, "chat_id", chatID)
		settings = nil
	}

	contextLimit := deps.Config.Defaults.ContextMessages
	if settings != nil {
		contextLimit = settings.ContextMessages
	}
	contextMsgs, err := deps.Store.GetRecentMessages(ctx, chatID, contextLimit)
	if err != nil {
		log.ErrorContext(ctx, "Failed to retrieve conversation context", "error", err, "chat_id", chatID)
		contextMsgs = nil
	}

	_, _ = b.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping})

	aiCtx, cancel := context.WithTimeout(ctx, aiProcessingTimeout)
	defer cancel()
	reply := h.dispatch(aiCtx, msg.Text, contextMsgs, userID, chatID, settings)
	if reply == "" {
		log.WarnContext(ctx, "Dispatch produced no reply", "chat_id", chatID)
		return
	}

	SendAndLogReply(ctx, b, deps, chatID, msg.ID, reply)
}

// handlePrivateMessage always replies. Private conversations are not
// logged and carry no stored context or per-group settings.
func (h messageHandler) handlePrivateMessage(ctx context.Context, b *bot.Bot, msg *models.Message) {
	deps := h.deps
	log := deps.Logger.With("handler", "message")
	chatID := msg.Chat.ID

	log.InfoContext(ctx, "Handling private message", "chat_id", chatID)

	_, _ = b.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping})

	aiCtx, cancel := context.WithTimeout(ctx, aiProcessingTimeout)
	defer cancel()
	reply := h.dispatch(aiCtx, msg.Text, nil, msg.From.ID, chatID, nil)
	if reply == "" {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()
	if _, err := b.SendMessage(sendCtx, &bot.SendMessageParams{
		ChatID:          chatID,
		Text:            reply,
		ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
	}); err != nil {
		log.ErrorContext(ctx, "Failed to send private reply", "error", err, "chat_id", chatID)
	}
}

// shouldRespond decides whether a group message addresses the bot. A
// mention entity matching @username, the username appearing anywhere in
// the text, the bot's first name appearing in the text, or a reply to
// one of the bot's messages all count.
func (h messageHandler) shouldRespond(msg *models.Message) bool {
	botInfo := h.deps.Config.Telegram.BotInfo
	if botInfo == nil || botInfo.Username == "" {
		return false
	}

	mention := "@" + botInfo.Username
	for _, e := range msg.Entities {
		if e.Type != models.MessageEntityTypeMention {
			continue
		}
		if entityText(msg.Text, e.Offset, e.Length) == mention {
			return true
		}
	}

	lowerText := strings.ToLower(msg.Text)
	if strings.Contains(lowerText, strings.ToLower(botInfo.Username)) {
		return true
	}
	if botInfo.FirstName != "" && strings.Contains(lowerText, strings.ToLower(botInfo.FirstName)) {
		return true
	}

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == botInfo.ID {
		return true
	}

	return false
}

// entityText returns the span of text an entity covers. Telegram entity
// offsets and lengths count UTF-16 code units, not bytes, so the text
// must be re-encoded before slicing.
func entityText(text string, offset, length int) string {
	units := utf16.Encode([]rune(text))
	if offset < 0 || length <= 0 || offset+length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[offset : offset+length]))
}

// SendAndLogReply sends a reply into the group and appends it to the
// conversation log so later context windows include the bot's side.
func SendAndLogReply(ctx context.Context, b *bot.Bot, deps HandlerDeps, chatID int64, replyTo int, text string) {
	log := deps.Logger.With("handler", "message")
	if b == nil || chatID == 0 || replyTo <= 0 || text == "" {
		log.ErrorContext(ctx, "Invalid parameters to SendAndLogReply", "chat_id", chatID, "reply_to", replyTo)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()
	sent, err := b.SendMessage(sendCtx, &bot.SendMessageParams{
		ChatID:          chatID,
		Text:            text,
		ReplyParameters: &models.ReplyParameters{MessageID: replyTo},
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send reply message", "error", err, "chat_id", chatID)
		return
	}

	log.InfoContext(ctx, "Sent reply", "chat_id", chatID, "message_id", sent.ID)

	botInfo := deps.Config.Telegram.BotInfo
	if botInfo == nil || botInfo.ID == 0 {
		log.WarnContext(ctx, "Bot identity unknown, skipping reply logging", "chat_id", chatID)
		return
	}
	LogMessageWithRetry(ctx, deps, &database.LoggedMessage{
		GroupID:          chatID,
		UserID:           botInfo.ID,
		MessageID:        int64(sent.ID),
		MessageText:      text,
		Timestamp:        time.Now().UTC(),
		IsBotMessage:     true,
		IsReply:          true,
		ReplyToMessageID: sql.NullInt64{Int64: int64(replyTo), Valid: true},
	}, "bot reply")
}

// LogMessageWithRetry appends a message to the conversation log with
// retry logic. Logging failures never block message handling.
func LogMessageWithRetry(ctx context.Context, deps HandlerDeps, msg *database.LoggedMessage, msgType string) {
	log := deps.Logger.With("handler", "message")
	const maxRetries = 3
	var err error

	for i := range [maxRetries]struct{}{} {
		if ctx.Err() != nil {
			log.WarnContext(ctx, fmt.Sprintf("Context cancelled, aborting %s save attempts", msgType),
				"error", ctx.Err(), "group_id", msg.GroupID, "attempt", i+1)
			return
		}

		dbCtx, cancel := context.WithTimeout(ctx, dbSaveTimeout)
		err = deps.Store.LogMessage(dbCtx, msg)
		cancel()

		if err == nil {
			log.DebugContext(ctx, fmt.Sprintf("%s logged successfully", msgType), "log_id", msg.ID, "group_id", msg.GroupID)
			return
		}

		log.ErrorContext(ctx, fmt.Sprintf("Failed to log %s, retrying", msgType), "error", err, "group_id", msg.GroupID, "attempt", i+1)

		time.Sleep(time.Duration(500*(i+1)) * time.Millisecond)
	}

	log.ErrorContext(ctx, fmt.Sprintf("Failed to log %s after %d retries", msgType, maxRetries), "last_error", err, "group_id", msg.GroupID)
}
