package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// GroupDefaults are the settings written when a group is first seen.
// They come from configuration and are threaded in at construction.
type GroupDefaults struct {
	GeminiModel     string
	Temperature     float32
	Tone            string
	ContextMessages int
}

// Store defines the interface for database operations. Methods accept
// context.Context for cancellation and timeouts. Reads that find nothing
// return (nil, nil) rather than an error.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetOrCreateUser fetches the user with the given Telegram ID, creating
	// the row if absent and refreshing profile fields that changed.
	GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName, lastName string) (*User, error)

	// SaveUserFact upserts a (user, key) fact for the user with the given
	// Telegram ID, creating the user row if it does not exist yet.
	SaveUserFact(ctx context.Context, telegramID int64, key, value string) error

	// GetUserFact retrieves a fact by Telegram user ID and key.
	GetUserFact(ctx context.Context, telegramID int64, key string) (*UserFact, error)

	// GetUserFactByUsername retrieves a fact by display username and key.
	GetUserFactByUsername(ctx context.Context, username, key string) (*UserFact, error)

	// GetGroupSettings fetches settings for a group, lazily creating a row
	// with the configured defaults on first access.
	GetGroupSettings(ctx context.Context, groupID int64) (*GroupSettings, error)

	// UpdateGroupSettings applies a partial update to a group's settings.
	UpdateGroupSettings(ctx context.Context, groupID int64, update GroupSettingsUpdate) error

	// LogMessage appends one message to the conversation log.
	LogMessage(ctx context.Context, msg *LoggedMessage) error

	// GetRecentMessages returns the most recent 'limit' messages for a
	// group, joined with sender names, in chronological (oldest-first)
	// order. Fewer than 'limit' rows is not an error.
	GetRecentMessages(ctx context.Context, groupID int64, limit int) ([]ContextMessage, error)

	// GetConversationHistory returns a group's messages since the given
	// time, oldest first.
	GetConversationHistory(ctx context.Context, groupID int64, since time.Time) ([]ContextMessage, error)

	// DeleteLogsBefore prunes conversation logs older than the cutoff and
	// returns the number of rows removed.
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db       *sqlx.DB
	logger   *slog.Logger
	defaults GroupDefaults
}

// NewStore creates a new Store implementation backed by sqlx. It requires
// a connected sqlx.DB instance, a logger, and the group defaults.
func NewStore(db *sqlx.DB, logger *slog.Logger, defaults GroupDefaults) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:       db,
		logger:   logger.With("component", "store"),
		defaults: defaults,
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetOrCreateUser(ctx context.Context, telegramID int64, username, firstName, lastName string) (*User, error) {
	if telegramID == 0 {
		return nil, fmt.Errorf("telegram_id cannot be zero")
	}

	var user User
	err := s.db.GetContext(ctx, &user,
		`SELECT id, created_at, updated_at, telegram_id, username, first_name, last_name
		 FROM users WHERE telegram_id = ?`, telegramID)

	now := time.Now().UTC()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		user = User{
			TelegramID: telegramID,
			Username:   username,
			FirstName:  firstName,
			LastName:   lastName,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		result, insErr := s.db.NamedExecContext(ctx,
			`INSERT INTO users (telegram_id, username, first_name, last_name, created_at, updated_at)
			 VALUES (:telegram_id, :username, :first_name, :last_name, :created_at, :updated_at)`, &user)
		if insErr != nil {
			s.logger.ErrorContext(ctx, "Error creating user", "telegram_id", telegramID, "error", insErr)
			return nil, fmt.Errorf("failed to create user %d: %w", telegramID, insErr)
		}
		if id, idErr := result.LastInsertId(); idErr == nil {
			user.ID = id
		}
		s.logger.DebugContext(ctx, "Created user", "telegram_id", telegramID, "user_id", user.ID)
		return &user, nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error fetching user", "telegram_id", telegramID, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", telegramID, err)
	}

	// Refresh profile fields that changed; empty inputs never erase
	// previously known values.
	changed := false
	if username != "" && user.Username != username {
		user.Username = username
		changed = true
	}
	if firstName != "" && user.FirstName != firstName {
		user.FirstName = firstName
		changed = true
	}
	if lastName != "" && user.LastName != lastName {
		user.LastName = lastName
		changed = true
	}
	if changed {
		user.UpdatedAt = now
		if _, updErr := s.db.NamedExecContext(ctx,
			`UPDATE users SET username = :username, first_name = :first_name,
			        last_name = :last_name, updated_at = :updated_at
			 WHERE telegram_id = :telegram_id`, &user); updErr != nil {
			s.logger.ErrorContext(ctx, "Error refreshing user profile", "telegram_id", telegramID, "error", updErr)
			return nil, fmt.Errorf("failed to update user %d: %w", telegramID, updErr)
		}
	}

	return &user, nil
}

func (s *sqlxStore) SaveUserFact(ctx context.Context, telegramID int64, key, value string) error {
	if telegramID == 0 {
		return fmt.Errorf("telegram_id cannot be zero")
	}
	if key == "" {
		return fmt.Errorf("fact key cannot be empty")
	}

	user, err := s.GetOrCreateUser(ctx, telegramID, "", "", "")
	if err != nil {
		return fmt.Errorf("failed to resolve user for fact save: %w", err)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for fact save",
			"telegram_id", telegramID, "key", key, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	var exists bool
	err = tx.GetContext(ctx, &exists,
		`SELECT 1 FROM user_facts WHERE user_id = ? AND key = ? LIMIT 1`, user.ID, key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.ErrorContext(ctx, "Error checking if fact exists",
			"user_id", user.ID, "key", key, "error", err)
		return fmt.Errorf("failed to check fact for user %d: %w", telegramID, err)
	}

	if exists {
		_, err = tx.ExecContext(ctx,
			`UPDATE user_facts SET value = ?, updated_at = ? WHERE user_id = ? AND key = ?`,
			value, now, user.ID, key)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_facts (user_id, key, value, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			user.ID, key, value, now, now)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving fact", "user_id", user.ID, "key", key, "error", err)
		return fmt.Errorf("failed to save fact %q for user %d: %w", key, telegramID, err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit fact save",
			"user_id", user.ID, "key", key, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	operation := "updated"
	if !exists {
		operation = "created"
	}
	s.logger.DebugContext(ctx, "Fact saved", "operation", operation, "user_id", user.ID, "key", key)
	return nil
}

func (s *sqlxStore) GetUserFact(ctx context.Context, telegramID int64, key string) (*UserFact, error) {
	if telegramID == 0 {
		return nil, fmt.Errorf("telegram_id cannot be zero")
	}

	var fact UserFact
	err := s.db.GetContext(ctx, &fact,
		`SELECT f.id, f.created_at, f.updated_at, f.user_id, f.key, f.value
		 FROM user_facts f
		 JOIN users u ON u.id = f.user_id
		 WHERE u.telegram_id = ? AND f.key = ?`, telegramID, key)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No fact found", "telegram_id", telegramID, "key", key)
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting fact", "telegram_id", telegramID, "key", key, "error", err)
		return nil, fmt.Errorf("failed to get fact %q for user %d: %w", key, telegramID, err)
	}

	return &fact, nil
}

func (s *sqlxStore) GetUserFactByUsername(ctx context.Context, username, key string) (*UserFact, error) {
	if username == "" {
		s.logger.DebugContext(ctx, "Fact lookup with empty username", "key", key)
		return nil, nil
	}

	var fact UserFact
	err := s.db.GetContext(ctx, &fact,
		`SELECT f.id, f.created_at, f.updated_at, f.user_id, f.key, f.value
		 FROM user_facts f
		 JOIN users u ON u.id = f.user_id
		 WHERE u.username = ? AND f.key = ?`, username, key)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No fact found for username", "username", username, "key", key)
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting fact by username", "username", username, "key", key, "error", err)
		return nil, fmt.Errorf("failed to get fact %q for username %q: %w", key, username, err)
	}

	return &fact, nil
}

func (s *sqlxStore) GetGroupSettings(ctx context.Context, groupID int64) (*GroupSettings, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group_id cannot be zero")
	}

	var settings GroupSettings
	err := s.db.GetContext(ctx, &settings,
		`SELECT id, created_at, updated_at, group_id, group_title, gemini_model,
		        temperature, tone, context_messages, is_active
		 FROM group_settings WHERE group_id = ?`, groupID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		settings = GroupSettings{
			GroupID:         groupID,
			GeminiModel:     s.defaults.GeminiModel,
			Temperature:     s.defaults.Temperature,
			Tone:            s.defaults.Tone,
			ContextMessages: s.defaults.ContextMessages,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		result, insErr := s.db.NamedExecContext(ctx,
			`INSERT INTO group_settings (group_id, group_title, gemini_model, temperature,
			        tone, context_messages, is_active, created_at, updated_at)
			 VALUES (:group_id, :group_title, :gemini_model, :temperature,
			        :tone, :context_messages, :is_active, :created_at, :updated_at)`, &settings)
		if insErr != nil {
			s.logger.ErrorContext(ctx, "Error creating default group settings", "group_id", groupID, "error", insErr)
			return nil, fmt.Errorf("failed to create settings for group %d: %w", groupID, insErr)
		}
		if id, idErr := result.LastInsertId(); idErr == nil {
			settings.ID = id
		}
		s.logger.InfoContext(ctx, "Created default settings for new group", "group_id", groupID)
		return &settings, nil

	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting group settings", "group_id", groupID, "error", err)
		return nil, fmt.Errorf("failed to get settings for group %d: %w", groupID, err)
	}

	return &settings, nil
}

func (s *sqlxStore) UpdateGroupSettings(ctx context.Context, groupID int64, update GroupSettingsUpdate) error {
	if groupID == 0 {
		return fmt.Errorf("group_id cannot be zero")
	}
	if update.IsEmpty() {
		s.logger.DebugContext(ctx, "Empty settings update, nothing to do", "group_id", groupID)
		return nil
	}

	// Make sure the row exists so a partial update on a brand-new group
	// starts from the defaults.
	if _, err := s.GetGroupSettings(ctx, groupID); err != nil {
		return err
	}

	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)

	if update.GeminiModel != nil {
		clauses = append(clauses, "gemini_model = ?")
		args = append(args, *update.GeminiModel)
	}
	if update.Temperature != nil {
		clauses = append(clauses, "temperature = ?")
		args = append(args, *update.Temperature)
	}
	if update.Tone != nil {
		clauses = append(clauses, "tone = ?")
		args = append(args, *update.Tone)
	}
	if update.ContextMessages != nil {
		clauses = append(clauses, "context_messages = ?")
		args = append(args, *update.ContextMessages)
	}
	clauses = append(clauses, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, groupID)

	query := "UPDATE group_settings SET " + strings.Join(clauses, ", ") + " WHERE group_id = ?"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating group settings", "group_id", groupID, "error", err)
		return fmt.Errorf("failed to update settings for group %d: %w", groupID, err)
	}

	if affected, affErr := result.RowsAffected(); affErr == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected updating settings",
			"group_id", groupID, "affected", affected)
	}

	s.logger.DebugContext(ctx, "Group settings updated", "group_id", groupID)
	return nil
}

func (s *sqlxStore) LogMessage(ctx context.Context, msg *LoggedMessage) error {
	if msg == nil {
		return fmt.Errorf("cannot log nil message")
	}
	if msg.GroupID == 0 {
		return fmt.Errorf("message must have a non-zero group_id")
	}
	if msg.UserID == 0 {
		return fmt.Errorf("message must have a non-zero user_id")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.MessageType == "" {
		msg.MessageType = "text"
	}

	result, err := s.db.NamedExecContext(ctx,
		`INSERT INTO conversation_logs (group_id, user_id, message_id, message_text,
		        message_type, timestamp, is_bot_message, is_reply, reply_to_message_id)
		 VALUES (:group_id, :user_id, :message_id, :message_text,
		        :message_type, :timestamp, :is_bot_message, :is_reply, :reply_to_message_id)`, msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error logging message",
			"group_id", msg.GroupID, "user_id", msg.UserID, "error", err)
		return fmt.Errorf("failed to log message (group %d, user %d): %w", msg.GroupID, msg.UserID, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		msg.ID = id
	}

	s.logger.DebugContext(ctx, "Message logged",
		"group_id", msg.GroupID, "user_id", msg.UserID, "log_id", msg.ID)
	return nil
}

const contextMessageColumns = `l.message_id, l.user_id,
	CASE WHEN u.username != '' THEN u.username
	     WHEN u.first_name != '' THEN u.first_name
	     ELSE 'Unknown' END AS username,
	l.message_text, l.timestamp, l.is_bot_message, l.is_reply`

func (s *sqlxStore) GetRecentMessages(ctx context.Context, groupID int64, limit int) ([]ContextMessage, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group_id cannot be zero")
	}
	if limit <= 0 {
		limit = 10
		s.logger.DebugContext(ctx, "Invalid limit provided, using default", "group_id", groupID, "default_limit", limit)
	} else if limit > 100 {
		limit = 100
		s.logger.DebugContext(ctx, "Limit exceeded maximum value, capping", "group_id", groupID, "capped_limit", limit)
	}

	var messages []ContextMessage
	query := `
		SELECT ` + contextMessageColumns + `
		FROM conversation_logs l
		JOIN users u ON u.telegram_id = l.user_id
		WHERE l.group_id = ?
		ORDER BY l.timestamp DESC, l.id DESC
		LIMIT ?`

	err := s.db.SelectContext(ctx, &messages, query, groupID, limit)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages",
			"group_id", groupID, "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages", "group_id", groupID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for group %d: %w", groupID, err)
	}

	// Fetched newest-first; callers want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	s.logger.DebugContext(ctx, "Fetched recent messages", "group_id", groupID, "count", len(messages))
	return messages, nil
}

func (s *sqlxStore) GetConversationHistory(ctx context.Context, groupID int64, since time.Time) ([]ContextMessage, error) {
	if groupID == 0 {
		return nil, fmt.Errorf("group_id cannot be zero")
	}

	var messages []ContextMessage
	query := `
		SELECT ` + contextMessageColumns + `
		FROM conversation_logs l
		JOIN users u ON u.telegram_id = l.user_id
		WHERE l.group_id = ? AND l.timestamp >= ?
		ORDER BY l.timestamp ASC, l.id ASC`

	err := s.db.SelectContext(ctx, &messages, query, groupID, since)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting conversation history",
			"group_id", groupID, "since", since, "error", err)
		return nil, fmt.Errorf("failed to get history for group %d: %w", groupID, err)
	}

	return messages, nil
}

func (s *sqlxStore) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversation_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning conversation logs", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("failed to prune conversation logs: %w", err)
	}

	count, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Pruned old conversation logs", "cutoff", cutoff, "count", count)
	return count, nil
}

func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}
