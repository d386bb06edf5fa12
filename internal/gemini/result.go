package gemini

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"
)

// Intent identifies what the classifier decided the user wants.
type Intent string

const (
	IntentSaveInfo     Intent = "save_info"
	IntentRetrieveInfo Intent = "retrieve_info"
	IntentSummarize    Intent = "summarize"
	IntentConversation Intent = "conversation"
)

// IntentResult is the parsed classification of one message. Only the
// fields relevant to the chosen intent are populated.
type IntentResult struct {
	Intent         Intent
	Key            string
	Value          string
	TargetUsername string
	MessageCount   int
	ResponseType   string
}

// conversationFallback is the result used whenever classification cannot
// produce anything better. Unknown input degrades to small talk rather
// than an error in the chat.
func conversationFallback() IntentResult {
	return IntentResult{Intent: IntentConversation, ResponseType: "general"}
}

// stripCodeFence removes a wrapping markdown code fence from model
// output. Models regularly ignore "JSON only" and fence their answer.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseIntent decodes the classifier's JSON answer. A malformed document
// or an unknown intent value yields the conversation fallback and
// ok=false so the caller can log the raw text.
func parseIntent(text string) (IntentResult, bool) {
	var raw struct {
		Intent         string      `json:"intent"`
		Key            string      `json:"key"`
		Value          string      `json:"value"`
		TargetUsername string      `json:"target_username"`
		MessageCount   json.Number `json:"message_count"`
		ResponseType   string      `json:"response_type"`
	}

	if err := json.Unmarshal([]byte(stripCodeFence(text)), &raw); err != nil {
		return conversationFallback(), false
	}

	result := IntentResult{
		Key:            strings.TrimSpace(raw.Key),
		Value:          strings.TrimSpace(raw.Value),
		TargetUsername: strings.TrimPrefix(strings.TrimSpace(raw.TargetUsername), "@"),
		ResponseType:   raw.ResponseType,
	}

	switch Intent(raw.Intent) {
	case IntentSaveInfo, IntentRetrieveInfo, IntentSummarize, IntentConversation:
		result.Intent = Intent(raw.Intent)
	default:
		return conversationFallback(), false
	}

	if raw.MessageCount != "" {
		// The model sometimes emits a float literal for a count.
		if n, err := raw.MessageCount.Int64(); err == nil {
			result.MessageCount = int(n)
		} else if f, err := raw.MessageCount.Float64(); err == nil {
			result.MessageCount = int(f)
		}
	}

	return result, true
}

// extractionStatus classifies what the model actually gave us back.
type extractionStatus int

const (
	extractionOK extractionStatus = iota
	extractionRefused
	extractionTruncated
	extractionEmpty
)

// extraction is the outcome of pulling text out of a model response.
// Text is only meaningful for extractionOK and extractionTruncated.
type extraction struct {
	status extractionStatus
	text   string
}

// extractResponse distinguishes a safety refusal from a token-limit
// truncation from a plain empty answer, so each can get a different
// user-facing reply.
func extractResponse(resp *genai.GenerateContentResponse) extraction {
	if resp == nil {
		return extraction{status: extractionEmpty}
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		return extraction{status: extractionRefused}
	}

	var finish genai.FinishReason
	if len(resp.Candidates) > 0 {
		finish = resp.Candidates[0].FinishReason
	}
	if finish == genai.FinishReasonSafety || finish == genai.FinishReasonProhibitedContent {
		return extraction{status: extractionRefused}
	}

	text := strings.TrimSpace(resp.Text())

	if finish == genai.FinishReasonMaxTokens {
		return extraction{status: extractionTruncated, text: text}
	}
	if text == "" {
		return extraction{status: extractionEmpty}
	}

	return extraction{status: extractionOK, text: text}
}
