package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/lembrobot/lembrobot/internal/database"
)

// settingCallbackPrefix marks every callback query owned by the
// settings menu. Submenu actions and value selections all share it.
const settingCallbackPrefix = "setting_"

// NewSettingsHandler returns a handler for the /settings command. The
// group and admin checks live in the GroupAdminOnly middleware.
func NewSettingsHandler(deps HandlerDeps) bot.HandlerFunc {
	return settingsHandler{deps}.Handle
}

type settingsHandler struct {
	deps HandlerDeps
}

func (h settingsHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "settings")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Settings handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	log.InfoContext(ctx, "Showing settings menu", "chat_id", chatID, "user_id", update.Message.From.ID)

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        settingsMenuText,
		ReplyMarkup: settingsMenuKeyboard(),
	}); err != nil {
		log.ErrorContext(ctx, "Failed to send settings menu", "error", err, "chat_id", chatID)
	}
}

// NewStatusHandler returns a handler for the /status command. It is
// available to everyone and shows the chat's effective configuration.
func NewStatusHandler(deps HandlerDeps) bot.HandlerFunc {
	return statusHandler{deps}.Handle
}

type statusHandler struct {
	deps HandlerDeps
}

func (h statusHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "status")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Status handler received update with nil message or sender", "update_id", update.ID)
		return
	}
	chatID := update.Message.Chat.ID

	botUsername := ""
	if deps.Config.Telegram.BotInfo != nil {
		botUsername = deps.Config.Telegram.BotInfo.Username
	}

	var statusText string
	if isGroupChat(update.Message.Chat.Type) {
		settings, err := deps.Store.GetGroupSettings(ctx, chatID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to load group settings for status", "error", err, "chat_id", chatID)
			if _, sendErr := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: deps.Config.Messages.ErrorGeneral}); sendErr != nil {
				log.ErrorContext(ctx, "Failed to send status error", "error", sendErr, "chat_id", chatID)
			}
			return
		}
		statusText = groupStatusText(settings, botUsername)
	} else {
		statusText = privateStatusText(botUsername, deps.Config.Gemini.Model)
	}

	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: statusText}); err != nil {
		log.ErrorContext(ctx, "Failed to send status message", "error", err, "chat_id", chatID)
	}
}

func groupStatusText(settings *database.GroupSettings, botUsername string) string {
	state := "Active"
	if !settings.IsActive {
		state = "Inactive"
	}
	return fmt.Sprintf(`🤖 Bot Status

Current configuration:
• AI model: %s
• Creativity level: %.1f
• Tone: %s
• Context messages: %d
• Status: %s

Bot activation:
• Mention me: @%s
• Reply to my messages
• Use /settings (admins only)

Capabilities:
• 💾 Information storage & retrieval
• 🧠 Contextual conversations
• 📊 Message summarization
• ⚙️ Admin configuration`,
		settings.GeminiModel, settings.Temperature, titleCase(settings.Tone),
		settings.ContextMessages, state, botUsername)
}

// titleCase capitalizes the first letter. Tones are plain ASCII words.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func privateStatusText(botUsername, model string) string {
	return fmt.Sprintf(`🤖 Bot Status

Private chat mode:
• All messages are processed
• No group-specific settings
• Full AI capabilities available

My username: @%s
Model: %s`, botUsername, model)
}

// NewSettingsCallbackHandler returns the handler for all settings menu
// callback queries. Value changes re-check that the presser is still a
// group admin; the buttons are visible to everyone in the chat.
func NewSettingsCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return settingsCallbackHandler{deps}.Handle
}

type settingsCallbackHandler struct {
	deps HandlerDeps
}

func (h settingsCallbackHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	deps := h.deps
	log := deps.Logger.With("handler", "settings_callback")

	query := update.CallbackQuery
	if query == nil {
		return
	}

	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
		log.WarnContext(ctx, "Failed to answer callback query", "error", err)
	}

	msg := query.Message.Message
	if msg == nil {
		log.WarnContext(ctx, "Settings callback on inaccessible message, ignoring", "data", query.Data)
		return
	}
	chatID := msg.Chat.ID

	action := strings.TrimPrefix(query.Data, settingCallbackPrefix)
	log.DebugContext(ctx, "Handling settings callback", "action", action, "chat_id", chatID)

	edit := func(text string, markup models.ReplyMarkup) {
		params := &bot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: msg.ID,
			Text:      text,
		}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		if _, err := b.EditMessageText(ctx, params); err != nil {
			log.ErrorContext(ctx, "Failed to edit settings message", "error", err, "chat_id", chatID)
		}
	}

	switch {
	case action == "close":
		edit("Settings menu closed.", nil)
	case action == "back":
		edit(settingsMenuText, settingsMenuKeyboard())
	case action == "model":
		edit("🤖 AI Model\n\nChoose the AI model for this group:", modelKeyboard())
	case action == "temperature":
		edit("🎨 Creativity Level\n\nLower values are more logical and predictable, higher values more creative:", temperatureKeyboard())
	case action == "tone":
		edit("🎭 Tone of Voice\n\nChoose the bot's communication style:", toneKeyboard())
	case action == "context":
		edit("💬 Context Messages\n\nChoose how many recent messages the bot reads for context:", contextKeyboard())
	case strings.HasPrefix(action, "set_"):
		h.applySetting(ctx, b, chatID, query.From.ID, strings.TrimPrefix(action, "set_"), edit)
	default:
		log.WarnContext(ctx, "Unknown settings action", "action", action, "chat_id", chatID)
	}
}

// applySetting parses a "<field>_<value>" selection and persists it.
func (h settingsCallbackHandler) applySetting(ctx context.Context, b *bot.Bot, chatID, userID int64, selection string, edit func(string, models.ReplyMarkup)) {
	deps := h.deps
	log := deps.Logger.With("handler", "settings_callback")

	admin, err := isGroupAdmin(ctx, b, chatID, userID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to check admin status for setting change", "error", err, "chat_id", chatID, "user_id", userID)
		edit(deps.Config.Messages.SettingsFailed, nil)
		return
	}
	if !admin {
		log.WarnContext(ctx, "Non-admin tried to change settings", "chat_id", chatID, "user_id", userID)
		edit(deps.Config.Messages.ErrorUnauthorized, nil)
		return
	}

	idx := strings.Index(selection, "_")
	if idx <= 0 || idx == len(selection)-1 {
		log.WarnContext(ctx, "Malformed setting selection", "selection", selection, "chat_id", chatID)
		edit(deps.Config.Messages.SettingsFailed, nil)
		return
	}
	field, value := selection[:idx], selection[idx+1:]

	var update database.GroupSettingsUpdate
	switch field {
	case "model":
		update.GeminiModel = &value
	case "temperature":
		f, err := strconv.ParseFloat(value, 32)
		if err != nil {
			log.WarnContext(ctx, "Invalid temperature value", "value", value, "chat_id", chatID)
			edit(deps.Config.Messages.SettingsFailed, nil)
			return
		}
		temp := float32(f)
		update.Temperature = &temp
	case "tone":
		update.Tone = &value
	case "context":
		n, err := strconv.Atoi(value)
		if err != nil {
			log.WarnContext(ctx, "Invalid context count value", "value", value, "chat_id", chatID)
			edit(deps.Config.Messages.SettingsFailed, nil)
			return
		}
		update.ContextMessages = &n
	default:
		log.WarnContext(ctx, "Unknown setting field", "field", field, "chat_id", chatID)
		edit(deps.Config.Messages.SettingsFailed, nil)
		return
	}

	if err := deps.Store.UpdateGroupSettings(ctx, chatID, update); err != nil {
		log.ErrorContext(ctx, "Failed to persist setting change", "error", err, "chat_id", chatID, "field", field)
		edit(deps.Config.Messages.SettingsFailed, nil)
		return
	}

	log.InfoContext(ctx, "Group setting updated", "chat_id", chatID, "field", field, "value", value)
	edit(fmt.Sprintf(deps.Config.Messages.SettingsUpdated, field, value), nil)
}

const settingsMenuText = "🛠️ Bot Settings\n\nChoose what you'd like to configure:"

func settingsMenuKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "🤖 AI Model", CallbackData: "setting_model"}},
			{{Text: "🎨 Creativity Level", CallbackData: "setting_temperature"}},
			{{Text: "🎭 Tone of Voice", CallbackData: "setting_tone"}},
			{{Text: "💬 Context Messages", CallbackData: "setting_context"}},
			{{Text: "❌ Close", CallbackData: "setting_close"}},
		},
	}
}

func modelKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "Gemini 2.5 Flash", CallbackData: "setting_set_model_gemini-2.5-flash"}},
			{{Text: "Gemini 2.5 Pro", CallbackData: "setting_set_model_gemini-2.5-pro"}},
			{{Text: "🔙 Back", CallbackData: "setting_back"}},
		},
	}
}

func temperatureKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "🧊 Very Logical (0.1)", CallbackData: "setting_set_temperature_0.1"}},
			{{Text: "🔧 Logical (0.3)", CallbackData: "setting_set_temperature_0.3"}},
			{{Text: "⚖️ Balanced (0.7)", CallbackData: "setting_set_temperature_0.7"}},
			{{Text: "🎨 Creative (0.9)", CallbackData: "setting_set_temperature_0.9"}},
			{{Text: "🌟 Very Creative (1.0)", CallbackData: "setting_set_temperature_1.0"}},
			{{Text: "🔙 Back", CallbackData: "setting_back"}},
		},
	}
}

func toneKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "😊 Friendly", CallbackData: "setting_set_tone_friendly"}},
			{{Text: "💼 Professional", CallbackData: "setting_set_tone_professional"}},
			{{Text: "😄 Humorous", CallbackData: "setting_set_tone_humorous"}},
			{{Text: "🎩 Serious", CallbackData: "setting_set_tone_serious"}},
			{{Text: "💖 Flattering", CallbackData: "setting_set_tone_flattering"}},
			{{Text: "👥 Casual", CallbackData: "setting_set_tone_casual"}},
			{{Text: "📋 Formal", CallbackData: "setting_set_tone_formal"}},
			{{Text: "🔙 Back", CallbackData: "setting_back"}},
		},
	}
}

func contextKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{{Text: "3 messages", CallbackData: "setting_set_context_3"}},
			{{Text: "5 messages", CallbackData: "setting_set_context_5"}},
			{{Text: "7 messages", CallbackData: "setting_set_context_7"}},
			{{Text: "10 messages", CallbackData: "setting_set_context_10"}},
			{{Text: "15 messages", CallbackData: "setting_set_context_15"}},
			{{Text: "🔙 Back", CallbackData: "setting_back"}},
		},
	}
}
