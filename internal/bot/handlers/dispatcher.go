package handlers

import (
	"context"
	"fmt"

	"github.com/lembrobot/lembrobot/internal/database"
	"github.com/lembrobot/lembrobot/internal/gemini"
)

const defaultSummaryCount = 20

// dispatch classifies the message and routes it to the matching intent
// handler. It always returns user-facing text; internal failures
// degrade to canned replies instead of surfacing in the chat.
func (h messageHandler) dispatch(ctx context.Context, text string, contextMsgs []database.ContextMessage, userID, chatID int64, settings *database.GroupSettings) string {
	deps := h.deps
	log := deps.Logger.With("handler", "message")

	intent := deps.GeminiClient.AnalyzeIntent(ctx, text, contextMsgs, settings)
	log.DebugContext(ctx, "Dispatching intent", "intent", string(intent.Intent), "chat_id", chatID)

	switch intent.Intent {
	case gemini.IntentSaveInfo:
		return h.handleSaveInfo(ctx, intent, userID)
	case gemini.IntentRetrieveInfo:
		return h.handleRetrieveInfo(ctx, intent)
	case gemini.IntentSummarize:
		return h.handleSummarize(ctx, intent, chatID, settings)
	default:
		reply, err := deps.GeminiClient.GenerateResponse(ctx, text, contextMsgs, settings)
		if err != nil {
			log.ErrorContext(ctx, "Conversation reply generation failed", "error", err, "chat_id", chatID)
			return deps.Config.Messages.ErrorGeneral
		}
		return reply
	}
}

func (h messageHandler) handleSaveInfo(ctx context.Context, intent gemini.IntentResult, userID int64) string {
	deps := h.deps
	log := deps.Logger.With("handler", "message")

	if intent.Key == "" || intent.Value == "" {
		return deps.Config.Messages.SaveMissingFields
	}

	if err := deps.Store.SaveUserFact(ctx, userID, intent.Key, intent.Value); err != nil {
		log.ErrorContext(ctx, "Failed to save user fact", "error", err, "user_id", userID, "key", intent.Key)
		return deps.Config.Messages.SaveError
	}

	return fmt.Sprintf(deps.Config.Messages.SaveConfirm, intent.Key, intent.Value)
}

func (h messageHandler) handleRetrieveInfo(ctx context.Context, intent gemini.IntentResult) string {
	deps := h.deps
	log := deps.Logger.With("handler", "message")

	if intent.Key == "" {
		return deps.Config.Messages.RetrieveMissingKey
	}

	target := intent.TargetUsername
	display := target
	if display == "" {
		display = "that user"
	}

	fact, err := deps.Store.GetUserFactByUsername(ctx, target, intent.Key)
	if err != nil {
		log.ErrorContext(ctx, "Failed to retrieve user fact", "error", err, "username", target, "key", intent.Key)
		return deps.Config.Messages.RetrieveError
	}
	if fact == nil {
		return fmt.Sprintf(deps.Config.Messages.RetrieveNotFound, display)
	}

	return fmt.Sprintf(deps.Config.Messages.RetrieveFound, display, intent.Key, fact.Value)
}

func (h messageHandler) handleSummarize(ctx context.Context, intent gemini.IntentResult, chatID int64, settings *database.GroupSettings) string {
	deps := h.deps
	log := deps.Logger.With("handler", "message")

	count := intent.MessageCount
	if count <= 0 {
		count = defaultSummaryCount
	}

	messages, err := deps.Store.GetRecentMessages(ctx, chatID, count)
	if err != nil {
		log.ErrorContext(ctx, "Failed to fetch messages for summary", "error", err, "chat_id", chatID)
		return deps.Config.Messages.SummaryError
	}
	if len(messages) == 0 {
		return deps.Config.Messages.NothingToSummarize
	}

	summary, err := deps.GeminiClient.SummarizeConversation(ctx, messages, settings)
	if err != nil {
		log.ErrorContext(ctx, "Summarization failed", "error", err, "chat_id", chatID)
		return deps.Config.Messages.SummaryError
	}

	return fmt.Sprintf(deps.Config.Messages.SummaryHeader, summary)
}
