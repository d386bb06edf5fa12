package handlers

import (
	"io"
	"log/slog"
	"testing"

	"github.com/go-telegram/bot/models"

	"github.com/lembrobot/lembrobot/internal/config"
)

func newRespondHandler(botInfo *models.User) messageHandler {
	cfg := &config.Config{}
	cfg.Telegram.BotInfo = botInfo
	return messageHandler{deps: HandlerDeps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: cfg,
	}}
}

func TestShouldRespond(t *testing.T) {
	t.Parallel()

	botInfo := &models.User{ID: 999, Username: "LembroBot", FirstName: "Lembro"}

	tests := []struct {
		name string
		msg  *models.Message
		want bool
	}{
		{
			name: "exact mention entity",
			msg: &models.Message{
				Text: "@LembroBot what's up",
				Entities: []models.MessageEntity{
					{Type: models.MessageEntityTypeMention, Offset: 0, Length: 10},
				},
			},
			want: true,
		},
		{
			name: "lowercase mention caught by substring check",
			msg: &models.Message{
				Text: "hey @lembrobot are you there",
				Entities: []models.MessageEntity{
					{Type: models.MessageEntityTypeMention, Offset: 4, Length: 10},
				},
			},
			want: true,
		},
		{
			name: "username in plain text without entity",
			msg:  &models.Message{Text: "I think LembroBot knows this"},
			want: true,
		},
		{
			name: "first name in plain text",
			msg:  &models.Message{Text: "hey lembro, remember this"},
			want: true,
		},
		{
			name: "reply to the bot",
			msg: &models.Message{
				Text:           "yes exactly",
				ReplyToMessage: &models.Message{From: &models.User{ID: 999}},
			},
			want: true,
		},
		{
			name: "reply to someone else",
			msg: &models.Message{
				Text:           "yes exactly",
				ReplyToMessage: &models.Message{From: &models.User{ID: 123}},
			},
			want: false,
		},
		{
			name: "mention entity after emoji",
			msg: &models.Message{
				Text: "🎉🎉 @LembroBot congrats",
				Entities: []models.MessageEntity{
					{Type: models.MessageEntityTypeMention, Offset: 5, Length: 10},
				},
			},
			want: true,
		},
		{
			name: "mention of a different bot",
			msg: &models.Message{
				Text: "@OtherBot hello",
				Entities: []models.MessageEntity{
					{Type: models.MessageEntityTypeMention, Offset: 0, Length: 9},
				},
			},
			want: false,
		},
		{
			name: "ordinary chatter",
			msg:  &models.Message{Text: "anyone up for lunch?"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newRespondHandler(botInfo)
			if got := h.shouldRespond(tt.msg); got != tt.want {
				t.Errorf("shouldRespond() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("unknown bot identity never responds", func(t *testing.T) {
		t.Parallel()

		h := newRespondHandler(nil)
		msg := &models.Message{Text: "@LembroBot hello"}
		if h.shouldRespond(msg) {
			t.Error("shouldRespond() = true with nil bot info")
		}
	})
}

func TestEntityText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		offset int
		length int
		want   string
	}{
		{
			name:   "ascii text",
			text:   "hello @Bot",
			offset: 6,
			length: 4,
			want:   "@Bot",
		},
		{
			// Each emoji is two UTF-16 code units but four bytes, so a
			// byte slice at the same offset would misalign.
			name:   "emoji before the entity",
			text:   "🎉🎉 @Bot hi",
			offset: 5,
			length: 4,
			want:   "@Bot",
		},
		{
			name:   "accented text before the entity",
			text:   "olá @Bot",
			offset: 4,
			length: 4,
			want:   "@Bot",
		},
		{
			name:   "out of range",
			text:   "short",
			offset: 3,
			length: 10,
			want:   "",
		},
		{
			name:   "negative offset",
			text:   "text",
			offset: -1,
			length: 2,
			want:   "",
		},
		{
			name:   "zero length",
			text:   "text",
			offset: 0,
			length: 0,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := entityText(tt.text, tt.offset, tt.length); got != tt.want {
				t.Errorf("entityText(%q, %d, %d) = %q, want %q", tt.text, tt.offset, tt.length, got, tt.want)
			}
		})
	}
}
