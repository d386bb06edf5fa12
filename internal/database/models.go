package database

import (
	"database/sql"
	"time"
)

// User represents a Telegram user known to the bot. A row is created the
// first time a user is observed (message or fact save) and profile
// fields are refreshed when Telegram reports different values. Rows are
// never deleted by the bot.
type User struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	TelegramID int64  `db:"telegram_id"`
	Username   string `db:"username"`
	FirstName  string `db:"first_name"`
	LastName   string `db:"last_name"`
}

// DisplayName returns the name used when rendering conversation context.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return "Unknown"
}

// UserFact is a single key/value datum a user asked the bot to remember.
// The key is free text chosen by the intent classifier, not a fixed
// enum. At most one row exists per (user, key); saves are upserts.
type UserFact struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	UserID int64  `db:"user_id"`
	Key    string `db:"key"`
	Value  string `db:"value"`
}

// GroupSettings holds per-group bot behavior. A row is lazily created
// with configured defaults the first time a group is seen and mutated
// only through UpdateGroupSettings.
type GroupSettings struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	GroupID         int64   `db:"group_id"`
	GroupTitle      string  `db:"group_title"`
	GeminiModel     string  `db:"gemini_model"`
	Temperature     float32 `db:"temperature"`
	Tone            string  `db:"tone"`
	ContextMessages int     `db:"context_messages"`
	IsActive        bool    `db:"is_active"`
}

// GroupSettingsUpdate is a partial update covering exactly the four
// mutable settings fields. Nil fields are left unchanged. Anything else
// on GroupSettings is not mutable through the settings surface.
type GroupSettingsUpdate struct {
	GeminiModel     *string
	Temperature     *float32
	Tone            *string
	ContextMessages *int
}

// IsEmpty reports whether the update would change nothing.
func (u GroupSettingsUpdate) IsEmpty() bool {
	return u.GeminiModel == nil && u.Temperature == nil && u.Tone == nil && u.ContextMessages == nil
}

// LoggedMessage is one row of the append-only conversation log. Rows are
// never updated; pruning happens only in the scheduled retention task.
type LoggedMessage struct {
	ID int64 `db:"id"`

	GroupID          int64         `db:"group_id"`
	UserID           int64         `db:"user_id"`
	MessageID        int64         `db:"message_id"`
	MessageText      string        `db:"message_text"`
	MessageType      string        `db:"message_type"`
	Timestamp        time.Time     `db:"timestamp"`
	IsBotMessage     bool          `db:"is_bot_message"`
	IsReply          bool          `db:"is_reply"`
	ReplyToMessageID sql.NullInt64 `db:"reply_to_message_id"`
}

// ContextMessage is a log row joined with the sender's display name,
// as consumed by the AI prompt builders.
type ContextMessage struct {
	MessageID    int64     `db:"message_id"`
	UserID       int64     `db:"user_id"`
	Username     string    `db:"username"`
	Text         string    `db:"message_text"`
	Timestamp    time.Time `db:"timestamp"`
	IsBotMessage bool      `db:"is_bot_message"`
	IsReply      bool      `db:"is_reply"`
}
