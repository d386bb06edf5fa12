package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/lembrobot/lembrobot/internal/config"
	"github.com/lembrobot/lembrobot/internal/database"
	"github.com/lembrobot/lembrobot/internal/gemini"
)

// fakeStore implements the store methods the dispatcher touches.
// Unused methods come from the embedded nil interface and panic if
// called unexpectedly.
type fakeStore struct {
	database.Store

	saveFactFn      func(ctx context.Context, telegramID int64, key, value string) error
	getFactByUserFn func(ctx context.Context, username, key string) (*database.UserFact, error)
	getRecentFn     func(ctx context.Context, groupID int64, limit int) ([]database.ContextMessage, error)
}

func (f *fakeStore) SaveUserFact(ctx context.Context, telegramID int64, key, value string) error {
	return f.saveFactFn(ctx, telegramID, key, value)
}

func (f *fakeStore) GetUserFactByUsername(ctx context.Context, username, key string) (*database.UserFact, error) {
	return f.getFactByUserFn(ctx, username, key)
}

func (f *fakeStore) GetRecentMessages(ctx context.Context, groupID int64, limit int) ([]database.ContextMessage, error) {
	return f.getRecentFn(ctx, groupID, limit)
}

type fakeGemini struct {
	analyzeFn   func(ctx context.Context, message string, contextMsgs []database.ContextMessage, settings *database.GroupSettings) gemini.IntentResult
	generateFn  func(ctx context.Context, message string, contextMsgs []database.ContextMessage, settings *database.GroupSettings) (string, error)
	summarizeFn func(ctx context.Context, messages []database.ContextMessage, settings *database.GroupSettings) (string, error)
}

func (f *fakeGemini) AnalyzeIntent(ctx context.Context, message string, contextMsgs []database.ContextMessage, settings *database.GroupSettings) gemini.IntentResult {
	return f.analyzeFn(ctx, message, contextMsgs, settings)
}

func (f *fakeGemini) GenerateResponse(ctx context.Context, message string, contextMsgs []database.ContextMessage, settings *database.GroupSettings) (string, error) {
	return f.generateFn(ctx, message, contextMsgs, settings)
}

func (f *fakeGemini) SummarizeConversation(ctx context.Context, messages []database.ContextMessage, settings *database.GroupSettings) (string, error) {
	return f.summarizeFn(ctx, messages, settings)
}

func testMessages() config.MessagesConfig {
	return config.MessagesConfig{
		ErrorGeneral:       "general error",
		SaveMissingFields:  "save missing",
		SaveConfirm:        "saved %s: %s",
		SaveError:          "save failed",
		RetrieveMissingKey: "retrieve missing",
		RetrieveNotFound:   "nothing for %s",
		RetrieveFound:      "%s's %s: %s",
		RetrieveError:      "retrieve failed",
		NothingToSummarize: "nothing to summarize",
		SummaryHeader:      "summary: %s",
		SummaryError:       "summary failed",
	}
}

func newTestHandler(store database.Store, client gemini.Client) messageHandler {
	cfg := &config.Config{Messages: testMessages()}
	return messageHandler{deps: HandlerDeps{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:       cfg,
		Store:        store,
		GeminiClient: client,
	}}
}

func intentClient(result gemini.IntentResult) *fakeGemini {
	return &fakeGemini{
		analyzeFn: func(context.Context, string, []database.ContextMessage, *database.GroupSettings) gemini.IntentResult {
			return result
		},
	}
}

func TestDispatchSaveInfo(t *testing.T) {
	t.Parallel()

	t.Run("saves and confirms", func(t *testing.T) {
		t.Parallel()

		var gotID int64
		var gotKey, gotValue string
		store := &fakeStore{saveFactFn: func(_ context.Context, id int64, key, value string) error {
			gotID, gotKey, gotValue = id, key, value
			return nil
		}}
		h := newTestHandler(store, intentClient(gemini.IntentResult{
			Intent: gemini.IntentSaveInfo, Key: "phone_number", Value: "123-456",
		}))

		reply := h.dispatch(context.Background(), "save my phone number 123-456", nil, 42, -1, nil)
		if reply != "saved phone_number: 123-456" {
			t.Errorf("dispatch() = %q", reply)
		}
		if gotID != 42 || gotKey != "phone_number" || gotValue != "123-456" {
			t.Errorf("SaveUserFact called with (%d, %q, %q)", gotID, gotKey, gotValue)
		}
	})

	t.Run("missing fields skip the store", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{saveFactFn: func(context.Context, int64, string, string) error {
			t.Error("SaveUserFact should not be called")
			return nil
		}}
		h := newTestHandler(store, intentClient(gemini.IntentResult{
			Intent: gemini.IntentSaveInfo, Key: "phone_number",
		}))

		if reply := h.dispatch(context.Background(), "save", nil, 42, -1, nil); reply != "save missing" {
			t.Errorf("dispatch() = %q", reply)
		}
	})

	t.Run("store failure degrades", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{saveFactFn: func(context.Context, int64, string, string) error {
			return errors.New("disk full")
		}}
		h := newTestHandler(store, intentClient(gemini.IntentResult{
			Intent: gemini.IntentSaveInfo, Key: "k", Value: "v",
		}))

		if reply := h.dispatch(context.Background(), "save", nil, 42, -1, nil); reply != "save failed" {
			t.Errorf("dispatch() = %q", reply)
		}
	})
}

func TestDispatchRetrieveInfo(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{getFactByUserFn: func(_ context.Context, username, key string) (*database.UserFact, error) {
			if username != "john" || key != "email" {
				t.Errorf("lookup (%q, %q)", username, key)
			}
			return &database.UserFact{Value: "john@example.com"}, nil
		}}
		h := newTestHandler(store, intentClient(gemini.IntentResult{
			Intent: gemini.IntentRetrieveInfo, Key: "email", TargetUsername: "john",
		}))

		if reply := h.dispatch(context.Background(), "what's john's email", nil, 1, -1, nil); reply != "john's email: john@example.com" {
			t.Errorf("dispatch() = %q", reply)
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{getFactByUserFn: func(context.Context, string, string) (*database.UserFact, error) {
			return nil, nil
		}}
		h := newTestHandler(store, intentClient(gemini.IntentResult{
			Intent: gemini.IntentRetrieveInfo, Key: "email", TargetUsername: "john",
		}))

		if reply := h.dispatch(context.Background(), "q", nil, 1, -1, nil); reply != "nothing for john" {
			t.Errorf("dispatch() = %q", reply)
		}
	})

	t.Run("missing target reads as not found", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{getFactByUserFn: func(context.Context, string, string) (*database.UserFact, error) {
			return nil, nil
		}}
		h := newTestHandler(store, intentClient(gemini.IntentResult{
			Intent: gemini.IntentRetrieveInfo, Key: "email",
		}))

		if reply := h.dispatch(context.Background(), "q", nil, 1, -1, nil); reply != "nothing for that user" {
			t.Errorf("dispatch() = %q", reply)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		t.Parallel()

		h := newTestHandler(&fakeStore{}, intentClient(gemini.IntentResult{
			Intent: gemini.IntentRetrieveInfo,
		}))

		if reply := h.dispatch(context.Background(), "q", nil, 1, -1, nil); reply != "retrieve missing" {
			t.Errorf("dispatch() = %q", reply)
		}
	})
}

func TestDispatchSummarize(t *testing.T) {
	t.Parallel()

	t.Run("summarizes requested window", func(t *testing.T) {
		t.Parallel()

		var gotLimit int
		store := &fakeStore{getRecentFn: func(_ context.Context, _ int64, limit int) ([]database.ContextMessage, error) {
			gotLimit = limit
			return []database.ContextMessage{{Text: "hi"}}, nil
		}}
		client := intentClient(gemini.IntentResult{Intent: gemini.IntentSummarize, MessageCount: 10})
		client.summarizeFn = func(context.Context, []database.ContextMessage, *database.GroupSettings) (string, error) {
			return "people said hi", nil
		}
		h := newTestHandler(store, client)

		reply := h.dispatch(context.Background(), "summarize", nil, 1, -100, nil)
		if reply != "summary: people said hi" {
			t.Errorf("dispatch() = %q", reply)
		}
		if gotLimit != 10 {
			t.Errorf("fetched %d messages, want 10", gotLimit)
		}
	})

	t.Run("defaults to twenty messages", func(t *testing.T) {
		t.Parallel()

		var gotLimit int
		store := &fakeStore{getRecentFn: func(_ context.Context, _ int64, limit int) ([]database.ContextMessage, error) {
			gotLimit = limit
			return []database.ContextMessage{{Text: "hi"}}, nil
		}}
		client := intentClient(gemini.IntentResult{Intent: gemini.IntentSummarize})
		client.summarizeFn = func(context.Context, []database.ContextMessage, *database.GroupSettings) (string, error) {
			return "s", nil
		}
		h := newTestHandler(store, client)

		h.dispatch(context.Background(), "summarize", nil, 1, -100, nil)
		if gotLimit != 20 {
			t.Errorf("fetched %d messages, want 20", gotLimit)
		}
	})

	t.Run("empty history skips the model", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{getRecentFn: func(context.Context, int64, int) ([]database.ContextMessage, error) {
			return nil, nil
		}}
		client := intentClient(gemini.IntentResult{Intent: gemini.IntentSummarize})
		client.summarizeFn = func(context.Context, []database.ContextMessage, *database.GroupSettings) (string, error) {
			t.Error("SummarizeConversation should not be called")
			return "", nil
		}
		h := newTestHandler(store, client)

		if reply := h.dispatch(context.Background(), "summarize", nil, 1, -100, nil); reply != "nothing to summarize" {
			t.Errorf("dispatch() = %q", reply)
		}
	})

	t.Run("summarization failure degrades", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{getRecentFn: func(context.Context, int64, int) ([]database.ContextMessage, error) {
			return []database.ContextMessage{{Text: "hi"}}, nil
		}}
		client := intentClient(gemini.IntentResult{Intent: gemini.IntentSummarize})
		client.summarizeFn = func(context.Context, []database.ContextMessage, *database.GroupSettings) (string, error) {
			return "", errors.New("api down")
		}
		h := newTestHandler(store, client)

		if reply := h.dispatch(context.Background(), "summarize", nil, 1, -100, nil); reply != "summary failed" {
			t.Errorf("dispatch() = %q", reply)
		}
	})
}

func TestDispatchConversation(t *testing.T) {
	t.Parallel()

	t.Run("passes through the model reply", func(t *testing.T) {
		t.Parallel()

		client := intentClient(gemini.IntentResult{Intent: gemini.IntentConversation, ResponseType: "general"})
		client.generateFn = func(_ context.Context, message string, _ []database.ContextMessage, _ *database.GroupSettings) (string, error) {
			if message != "how are you?" {
				t.Errorf("message = %q", message)
			}
			return "doing great", nil
		}
		h := newTestHandler(&fakeStore{}, client)

		if reply := h.dispatch(context.Background(), "how are you?", nil, 1, -1, nil); reply != "doing great" {
			t.Errorf("dispatch() = %q", reply)
		}
	})

	t.Run("transport failure degrades", func(t *testing.T) {
		t.Parallel()

		client := intentClient(gemini.IntentResult{Intent: gemini.IntentConversation})
		client.generateFn = func(context.Context, string, []database.ContextMessage, *database.GroupSettings) (string, error) {
			return "", errors.New("api down")
		}
		h := newTestHandler(&fakeStore{}, client)

		if reply := h.dispatch(context.Background(), "hi", nil, 1, -1, nil); reply != "general error" {
			t.Errorf("dispatch() = %q", reply)
		}
	})
}
