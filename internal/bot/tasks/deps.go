// Package tasks implements scheduled maintenance tasks for LembroBot:
// conversation log retention and SQLite maintenance.
package tasks

import (
	"log/slog"

	"github.com/lembrobot/lembrobot/internal/config"
	"github.com/lembrobot/lembrobot/internal/database"
)

// TaskDeps contains the dependencies available to scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Config *config.Config
}
