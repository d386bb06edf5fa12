package database_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lembrobot/lembrobot/internal/database"
)

var testDefaults = database.GroupDefaults{
	GeminiModel:     "gemini-2.5-flash",
	Temperature:     0.7,
	Tone:            "friendly",
	ContextMessages: 7,
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return database.NewStore(db, logger, testDefaults)
}

func TestGetOrCreateUser(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.GetOrCreateUser(ctx, 1001, "alice", "Alice", "Smith")
	if err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}
	if user.ID == 0 {
		t.Error("expected created user to have a database ID")
	}
	if user.Username != "alice" {
		t.Errorf("Username = %q, want %q", user.Username, "alice")
	}

	// Second call with a changed username must refresh, not duplicate.
	again, err := store.GetOrCreateUser(ctx, 1001, "alice_new", "Alice", "Smith")
	if err != nil {
		t.Fatalf("GetOrCreateUser() second call error = %v", err)
	}
	if again.ID != user.ID {
		t.Errorf("expected same user row, got ID %d and %d", user.ID, again.ID)
	}
	if again.Username != "alice_new" {
		t.Errorf("Username after refresh = %q, want %q", again.Username, "alice_new")
	}

	// Empty profile fields must not erase known values.
	blank, err := store.GetOrCreateUser(ctx, 1001, "", "", "")
	if err != nil {
		t.Fatalf("GetOrCreateUser() with blank fields error = %v", err)
	}
	if blank.Username != "alice_new" {
		t.Errorf("Username after blank refresh = %q, want %q", blank.Username, "alice_new")
	}

	if _, err := store.GetOrCreateUser(ctx, 0, "x", "", ""); err == nil {
		t.Error("expected error for zero telegram_id")
	}
}

func TestUserFacts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreateUser(ctx, 2001, "bob", "Bob", ""); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}

	if err := store.SaveUserFact(ctx, 2001, "phone", "555-1234"); err != nil {
		t.Fatalf("SaveUserFact() error = %v", err)
	}

	fact, err := store.GetUserFact(ctx, 2001, "phone")
	if err != nil {
		t.Fatalf("GetUserFact() error = %v", err)
	}
	if fact == nil || fact.Value != "555-1234" {
		t.Fatalf("GetUserFact() = %+v, want value %q", fact, "555-1234")
	}

	// Saving the same key again overwrites rather than adding a row.
	if err := store.SaveUserFact(ctx, 2001, "phone", "555-9999"); err != nil {
		t.Fatalf("SaveUserFact() upsert error = %v", err)
	}
	fact, err = store.GetUserFact(ctx, 2001, "phone")
	if err != nil {
		t.Fatalf("GetUserFact() after upsert error = %v", err)
	}
	if fact.Value != "555-9999" {
		t.Errorf("fact value after upsert = %q, want %q", fact.Value, "555-9999")
	}

	byName, err := store.GetUserFactByUsername(ctx, "bob", "phone")
	if err != nil {
		t.Fatalf("GetUserFactByUsername() error = %v", err)
	}
	if byName == nil || byName.Value != "555-9999" {
		t.Fatalf("GetUserFactByUsername() = %+v, want value %q", byName, "555-9999")
	}

	// Unknown lookups are (nil, nil), not errors.
	missing, err := store.GetUserFact(ctx, 2001, "email")
	if err != nil {
		t.Fatalf("GetUserFact() for missing key error = %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil fact for unknown key, got %+v", missing)
	}
	missing, err = store.GetUserFactByUsername(ctx, "nobody", "phone")
	if err != nil {
		t.Fatalf("GetUserFactByUsername() for unknown user error = %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil fact for unknown username, got %+v", missing)
	}

	// Saving a fact for a never-seen user creates the user row too.
	if err := store.SaveUserFact(ctx, 2002, "color", "blue"); err != nil {
		t.Fatalf("SaveUserFact() for new user error = %v", err)
	}
	fact, err = store.GetUserFact(ctx, 2002, "color")
	if err != nil {
		t.Fatalf("GetUserFact() for new user error = %v", err)
	}
	if fact == nil || fact.Value != "blue" {
		t.Fatalf("GetUserFact() for new user = %+v, want value %q", fact, "blue")
	}

	if err := store.SaveUserFact(ctx, 2001, "", "value"); err == nil {
		t.Error("expected error for empty fact key")
	}
}

func TestGroupSettings(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	// First read lazily creates a row with the configured defaults.
	settings, err := store.GetGroupSettings(ctx, -100500)
	if err != nil {
		t.Fatalf("GetGroupSettings() error = %v", err)
	}
	if settings.GeminiModel != testDefaults.GeminiModel {
		t.Errorf("GeminiModel = %q, want default %q", settings.GeminiModel, testDefaults.GeminiModel)
	}
	if settings.Tone != testDefaults.Tone {
		t.Errorf("Tone = %q, want default %q", settings.Tone, testDefaults.Tone)
	}
	if settings.ContextMessages != testDefaults.ContextMessages {
		t.Errorf("ContextMessages = %d, want default %d", settings.ContextMessages, testDefaults.ContextMessages)
	}
	if !settings.IsActive {
		t.Error("expected new group settings to be active")
	}

	// Partial update changes only the named fields.
	tone := "professional"
	temp := float32(0.3)
	err = store.UpdateGroupSettings(ctx, -100500, database.GroupSettingsUpdate{
		Tone:        &tone,
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("UpdateGroupSettings() error = %v", err)
	}

	settings, err = store.GetGroupSettings(ctx, -100500)
	if err != nil {
		t.Fatalf("GetGroupSettings() after update error = %v", err)
	}
	if settings.Tone != tone {
		t.Errorf("Tone after update = %q, want %q", settings.Tone, tone)
	}
	if settings.Temperature != temp {
		t.Errorf("Temperature after update = %v, want %v", settings.Temperature, temp)
	}
	if settings.GeminiModel != testDefaults.GeminiModel {
		t.Errorf("GeminiModel changed unexpectedly: %q", settings.GeminiModel)
	}
	if settings.ContextMessages != testDefaults.ContextMessages {
		t.Errorf("ContextMessages changed unexpectedly: %d", settings.ContextMessages)
	}

	// Empty update is a no-op, not an error.
	if err := store.UpdateGroupSettings(ctx, -100500, database.GroupSettingsUpdate{}); err != nil {
		t.Fatalf("UpdateGroupSettings() with empty update error = %v", err)
	}

	// Updating a never-seen group starts from defaults and applies the patch.
	n := 15
	if err := store.UpdateGroupSettings(ctx, -100600, database.GroupSettingsUpdate{ContextMessages: &n}); err != nil {
		t.Fatalf("UpdateGroupSettings() for new group error = %v", err)
	}
	settings, err = store.GetGroupSettings(ctx, -100600)
	if err != nil {
		t.Fatalf("GetGroupSettings() for new group error = %v", err)
	}
	if settings.ContextMessages != n {
		t.Errorf("ContextMessages = %d, want %d", settings.ContextMessages, n)
	}
	if settings.Tone != testDefaults.Tone {
		t.Errorf("Tone = %q, want default %q", settings.Tone, testDefaults.Tone)
	}
}

func TestMessageLog(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	groupID := int64(-200100)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	users := []struct {
		id   int64
		name string
	}{
		{3001, "carol"},
		{3002, "dave"},
	}
	for _, u := range users {
		if _, err := store.GetOrCreateUser(ctx, u.id, u.name, "", ""); err != nil {
			t.Fatalf("GetOrCreateUser(%d) error = %v", u.id, err)
		}
	}

	for i := 0; i < 5; i++ {
		msg := &database.LoggedMessage{
			GroupID:     groupID,
			UserID:      users[i%2].id,
			MessageID:   int64(100 + i),
			MessageText: "message " + string(rune('a'+i)),
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.LogMessage(ctx, msg); err != nil {
			t.Fatalf("LogMessage(%d) error = %v", i, err)
		}
		if msg.ID == 0 {
			t.Errorf("message %d: expected assigned log ID", i)
		}
	}

	recent, err := store.GetRecentMessages(ctx, groupID, 3)
	if err != nil {
		t.Fatalf("GetRecentMessages() error = %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("GetRecentMessages() returned %d messages, want 3", len(recent))
	}
	// The 3 newest messages, oldest first.
	for i := 1; i < len(recent); i++ {
		if recent[i].Timestamp.Before(recent[i-1].Timestamp) {
			t.Errorf("messages out of chronological order at index %d", i)
		}
	}
	if recent[len(recent)-1].Text != "message e" {
		t.Errorf("last message = %q, want %q", recent[len(recent)-1].Text, "message e")
	}
	if recent[0].Username == "" {
		t.Error("expected sender name to be joined in")
	}

	// Asking for more than exists returns what there is.
	all, err := store.GetRecentMessages(ctx, groupID, 50)
	if err != nil {
		t.Fatalf("GetRecentMessages() error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("GetRecentMessages(50) returned %d messages, want 5", len(all))
	}

	// A different group sees nothing.
	other, err := store.GetRecentMessages(ctx, -999, 10)
	if err != nil {
		t.Fatalf("GetRecentMessages() for empty group error = %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no messages for unknown group, got %d", len(other))
	}

	history, err := store.GetConversationHistory(ctx, groupID, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("GetConversationHistory() error = %v", err)
	}
	if len(history) != 3 {
		t.Errorf("GetConversationHistory() returned %d messages, want 3", len(history))
	}

	removed, err := store.DeleteLogsBefore(ctx, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("DeleteLogsBefore() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("DeleteLogsBefore() removed %d rows, want 2", removed)
	}

	if err := store.LogMessage(ctx, nil); err == nil {
		t.Error("expected error for nil message")
	}
	if err := store.LogMessage(ctx, &database.LoggedMessage{UserID: 1}); err == nil {
		t.Error("expected error for missing group_id")
	}
}

func TestReplyMetadata(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreateUser(ctx, 4001, "erin", "", ""); err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}

	msg := &database.LoggedMessage{
		GroupID:          -300100,
		UserID:           4001,
		MessageID:        501,
		MessageText:      "replying",
		IsReply:          true,
		ReplyToMessageID: sql.NullInt64{Int64: 500, Valid: true},
		IsBotMessage:     false,
	}
	if err := store.LogMessage(ctx, msg); err != nil {
		t.Fatalf("LogMessage() error = %v", err)
	}

	got, err := store.GetRecentMessages(ctx, -300100, 5)
	if err != nil {
		t.Fatalf("GetRecentMessages() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("GetRecentMessages() returned %d messages, want 1", len(got))
	}
	if !got[0].IsReply {
		t.Error("expected IsReply to round-trip")
	}
}

func TestRunSQLMaintenance(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	if err := store.RunSQLMaintenance(context.Background()); err != nil {
		t.Fatalf("RunSQLMaintenance() error = %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.RunSQLMaintenance(cancelled); err == nil {
		t.Error("expected error for cancelled context")
	}
}
