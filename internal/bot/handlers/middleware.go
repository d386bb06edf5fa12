// Package handlers contains Telegram bot command and message handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// GroupAdminOnly creates a middleware that restricts a command to group
// chats and to senders who are administrators of that group. Non-group
// chats and non-admin senders get a canned reply and processing stops.
func GroupAdminOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if update.Message == nil || update.Message.From == nil {
				next(ctx, b, update)
				return
			}

			log := deps.Logger.With("middleware", "GroupAdminOnly")
			chatID := update.Message.Chat.ID
			userID := update.Message.From.ID

			if !isGroupChat(update.Message.Chat.Type) {
				if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
					ChatID: chatID,
					Text:   deps.Config.Messages.GroupOnly,
				}); err != nil {
					log.ErrorContext(ctx, "Failed to send group-only message", "error", err, "chat_id", chatID)
				}
				return
			}

			admin, err := isGroupAdmin(ctx, b, chatID, userID)
			if err != nil {
				log.ErrorContext(ctx, "Failed to check admin status", "error", err, "chat_id", chatID, "user_id", userID)
				if _, sendErr := b.SendMessage(ctx, &tgbot.SendMessageParams{
					ChatID: chatID,
					Text:   deps.Config.Messages.ErrorGeneral,
				}); sendErr != nil {
					log.ErrorContext(ctx, "Failed to send error message", "error", sendErr, "chat_id", chatID)
				}
				return
			}
			if !admin {
				log.WarnContext(ctx, "Unauthorized settings access attempt", "user_id", userID, "chat_id", chatID)
				if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
					ChatID: chatID,
					Text:   deps.Config.Messages.ErrorUnauthorized,
				}); err != nil {
					log.ErrorContext(ctx, "Failed to send unauthorized message", "error", err, "chat_id", chatID)
				}
				return
			}

			next(ctx, b, update)
		}
	}
}

func isGroupChat(chatType models.ChatType) bool {
	return chatType == models.ChatTypeGroup || chatType == models.ChatTypeSupergroup
}

// isGroupAdmin reports whether the user is an administrator or the
// creator of the chat.
func isGroupAdmin(ctx context.Context, b *tgbot.Bot, chatID, userID int64) (bool, error) {
	member, err := b.GetChatMember(ctx, &tgbot.GetChatMemberParams{
		ChatID: chatID,
		UserID: userID,
	})
	if err != nil {
		return false, err
	}
	return member.Type == models.ChatMemberTypeAdministrator || member.Type == models.ChatMemberTypeOwner, nil
}
