// Package gemini implements the Gemini AI gateway for the bot. It owns
// prompt construction, intent classification, reply generation, and
// conversation summarization.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/lembrobot/lembrobot/internal/config"
	"github.com/lembrobot/lembrobot/internal/database"
)

// Replies used when the model gives nothing usable back. A refusal gets
// a distinct reply so users can tell "won't" from "broke".
const (
	RefusalReply  = "I can't help with that request."
	FallbackReply = "Sorry, I'm having trouble processing your message right now. Please try again."
)

// Temperature used for classification and summarization regardless of
// the group's conversational temperature. Both need determinism more
// than flair.
const structuredTemperature float32 = 0.3

// contextWindowCap bounds how many context messages are rendered into a
// prompt, independent of how many the caller fetched.
const contextWindowCap = 7

// Client defines the AI operations used by the message handlers.
type Client interface {
	// AnalyzeIntent classifies a message. It never fails: any API or
	// parse problem degrades to a conversation intent.
	AnalyzeIntent(ctx context.Context, message string, contextMsgs []database.ContextMessage, settings *database.GroupSettings) IntentResult

	// GenerateResponse produces a free-form conversational reply. The
	// returned error covers transport failures only; refusals and empty
	// answers are mapped to canned replies here.
	GenerateResponse(ctx context.Context, message string, contextMsgs []database.ContextMessage, settings *database.GroupSettings) (string, error)

	// SummarizeConversation produces a summary of the given transcript.
	SummarizeConversation(ctx context.Context, messages []database.ContextMessage, settings *database.GroupSettings) (string, error)
}

type sdkClient struct {
	genaiClient *genai.Client
	log         *slog.Logger

	defaultModel       string
	defaultTemperature float32
	defaultTone        string

	maxRetries int
	retryDelay time.Duration
}

// NewClient creates a Gemini client from configuration. The defaults are
// used for private chats and any group whose settings are unavailable.
func NewClient(ctx context.Context, cfg config.GeminiConfig, defaults config.DefaultsConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully", "model", cfg.Model)

	return &sdkClient{
		genaiClient:        gi,
		log:                logger,
		defaultModel:       cfg.Model,
		defaultTemperature: defaults.Temperature,
		defaultTone:        defaults.Tone,
		maxRetries:         cfg.MaxRetries,
		retryDelay:         cfg.RetryDelay,
	}, nil
}

func (c *sdkClient) modelFor(settings *database.GroupSettings) string {
	if settings != nil && settings.GeminiModel != "" {
		return settings.GeminiModel
	}
	return c.defaultModel
}

func (c *sdkClient) temperatureFor(settings *database.GroupSettings) float32 {
	if settings != nil {
		return settings.Temperature
	}
	return c.defaultTemperature
}

func (c *sdkClient) toneFor(settings *database.GroupSettings) string {
	if settings != nil && settings.Tone != "" {
		return settings.Tone
	}
	return c.defaultTone
}

func generationConfig(temperature float32) *genai.GenerateContentConfig {
	topP := float32(0.8)
	topK := float32(40)
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temperature),
		TopP:            &topP,
		TopK:            &topK,
		MaxOutputTokens: 1024,
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}
}

// renderContext formats recent messages for a prompt, newest last. Empty
// texts are skipped and at most contextWindowCap messages are used.
func renderContext(msgs []database.ContextMessage) string {
	if len(msgs) > contextWindowCap {
		msgs = msgs[len(msgs)-contextWindowCap:]
	}
	return renderTranscript(msgs, "No recent context available.")
}

// renderTranscript formats a full transcript for summarization.
func renderTranscript(msgs []database.ContextMessage, emptyText string) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			m.Timestamp.Format("2006-01-02 15:04:05"), m.Username, m.Text))
	}
	if len(lines) == 0 {
		return emptyText
	}
	return strings.Join(lines, "\n")
}

func (c *sdkClient) generateWithRetries(ctx context.Context, modelName, prompt string, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry",
			"attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call", "delay", c.retryDelay, "code", apiErr.Code)
				select {
				case <-time.After(c.retryDelay):
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			c.log.ErrorContext(ctx, "Gemini API call failed after max retries", "error", err, "code", apiErr.Code)
			return nil, fmt.Errorf("gemini API call failed after %d retries (code %d): %w", c.maxRetries, apiErr.Code, err)
		}

		c.log.ErrorContext(ctx, "Gemini API call failed with non-retriable error", "error", err)
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}

	return nil, err
}

func (c *sdkClient) AnalyzeIntent(ctx context.Context, message string, contextMsgs []database.ContextMessage, settings *database.GroupSettings) IntentResult {
	prompt := fmt.Sprintf(intentPromptTemplate, renderContext(contextMsgs), message)

	resp, err := c.generateWithRetries(ctx, c.modelFor(settings), prompt, generationConfig(structuredTemperature))
	if err != nil {
		c.log.ErrorContext(ctx, "Intent analysis failed, falling back to conversation", "error", err)
		return conversationFallback()
	}

	out := extractResponse(resp)
	if out.status != extractionOK && out.status != extractionTruncated {
		c.log.WarnContext(ctx, "Intent analysis produced no usable text, falling back to conversation",
			"status", int(out.status))
		return conversationFallback()
	}

	result, ok := parseIntent(out.text)
	if !ok {
		c.log.WarnContext(ctx, "Failed to parse intent JSON, falling back to conversation",
			"response_text", out.text)
	}

	c.log.DebugContext(ctx, "Intent classified", "intent", string(result.Intent))
	return result
}

func (c *sdkClient) GenerateResponse(ctx context.Context, message string, contextMsgs []database.ContextMessage, settings *database.GroupSettings) (string, error) {
	tone := normalizeTone(c.toneFor(settings))
	prompt := fmt.Sprintf(conversationPromptTemplate, personaFor(tone), renderContext(contextMsgs), message, tone)

	resp, err := c.generateWithRetries(ctx, c.modelFor(settings), prompt, generationConfig(c.temperatureFor(settings)))
	if err != nil {
		return "", fmt.Errorf("reply generation failed: %w", err)
	}

	return c.replyFromExtraction(ctx, extractResponse(resp), "generate_response"), nil
}

func (c *sdkClient) SummarizeConversation(ctx context.Context, messages []database.ContextMessage, settings *database.GroupSettings) (string, error) {
	prompt := fmt.Sprintf(summaryPromptTemplate, renderTranscript(messages, "No messages to summarize."))

	resp, err := c.generateWithRetries(ctx, c.modelFor(settings), prompt, generationConfig(structuredTemperature))
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}

	return c.replyFromExtraction(ctx, extractResponse(resp), "summarize_conversation"), nil
}

// replyFromExtraction maps a model outcome to user-facing text. A
// truncated answer with salvageable text is sent as is.
func (c *sdkClient) replyFromExtraction(ctx context.Context, out extraction, op string) string {
	switch out.status {
	case extractionOK:
		return out.text
	case extractionRefused:
		c.log.WarnContext(ctx, "Gemini declined to answer", "operation", op)
		return RefusalReply
	case extractionTruncated:
		if out.text != "" {
			c.log.WarnContext(ctx, "Gemini response truncated at token limit, sending partial text", "operation", op)
			return out.text
		}
		c.log.WarnContext(ctx, "Gemini response truncated with no usable text", "operation", op)
		return FallbackReply
	default:
		c.log.WarnContext(ctx, "Gemini returned empty response", "operation", op)
		return FallbackReply
	}
}
