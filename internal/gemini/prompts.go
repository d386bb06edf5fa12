package gemini

import "strings"

// intentPromptTemplate asks the model to classify what the user wants.
// The format string expects the rendered context block and the current
// message text. The model must answer with bare JSON; code fences are
// tolerated and stripped by the parser.
const intentPromptTemplate = `Analyze this message to understand the user's intent. Based on the context and message, determine what the user wants to do.

Context from recent messages:
%s

Current message: "%s"

Please analyze and respond with a JSON object containing:
1. "intent": one of ["save_info", "retrieve_info", "summarize", "conversation"]
2. If intent is "save_info":
   - "key": the type of information being saved (e.g., "facebook_link", "bank_account", "phone_number")
   - "value": the actual information to save
3. If intent is "retrieve_info":
   - "key": the type of information being requested
   - "target_username": the username of the person whose info is being requested (without @)
4. If intent is "summarize":
   - "message_count": number of messages to summarize (default 20)
5. If intent is "conversation":
   - "response_type": "general" (for normal conversation)

Examples:
- "save my phone number 123-456-7890" → {"intent": "save_info", "key": "phone_number", "value": "123-456-7890"}
- "what's @john's email?" → {"intent": "retrieve_info", "key": "email", "target_username": "john"}
- "summarize the last 10 messages" → {"intent": "summarize", "message_count": 10}
- "how are you?" → {"intent": "conversation", "response_type": "general"}

Response format: JSON only, no additional text.`

// conversationPromptTemplate drives the free-form reply path. The format
// string expects the persona description, the rendered context block,
// the current message, and the tone word.
const conversationPromptTemplate = `You are a helpful AI assistant in a Telegram group chat. Your personality should be %s.

Context from recent messages:
%s

Current message: "%s"

Please respond naturally and helpfully. Keep responses concise but informative.
Maintain a %s tone throughout your response.`

// tonePersonas maps each supported tone to the persona description
// interpolated into the conversation prompt. The set mirrors the
// settings menu choices.
var tonePersonas = map[string]string{
	"friendly":     "warm, friendly, and approachable",
	"professional": "professional, precise, and courteous",
	"humorous":     "playful and humorous while staying helpful",
	"serious":      "serious, direct, and matter-of-fact",
	"flattering":   "complimentary, encouraging, and enthusiastic",
	"casual":       "casual, relaxed, and conversational",
	"formal":       "formal, polite, and well-structured",
}

// normalizeTone returns the canonical tone word, falling back to
// friendly for anything outside the supported set.
func normalizeTone(tone string) string {
	tone = strings.ToLower(strings.TrimSpace(tone))
	if _, ok := tonePersonas[tone]; ok {
		return tone
	}
	return "friendly"
}

func personaFor(tone string) string {
	return tonePersonas[normalizeTone(tone)]
}

// summaryPromptTemplate expects the rendered conversation transcript.
const summaryPromptTemplate = `Please provide a concise summary of this conversation. Focus on the main topics discussed, key decisions made, and important information shared.

Conversation:
%s

Please provide a well-structured summary with:
1. Main topics discussed
2. Key points or decisions
3. Important information shared
4. Any action items or next steps mentioned

Keep the summary clear and informative.`
