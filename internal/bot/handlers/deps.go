package handlers

import (
	"log/slog"

	"github.com/lembrobot/lembrobot/internal/config"
	"github.com/lembrobot/lembrobot/internal/database"
	"github.com/lembrobot/lembrobot/internal/gemini"
)

// HandlerDeps provides dependencies for Telegram command and message handlers.
type HandlerDeps struct {
	Logger       *slog.Logger
	Config       *config.Config
	Store        database.Store
	GeminiClient gemini.Client
}
