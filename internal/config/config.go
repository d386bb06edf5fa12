// Package config provides configuration loading and validation for
// LembroBot. Values come from config.yaml, a .env file, and BOT_-prefixed
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/viper"
)

// TelegramConfig holds Telegram transport settings. BotInfo is populated
// at startup from GetMe and is not read from the config file.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`

	BotInfo *models.User `mapstructure:"-"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	APIKey     string        `mapstructure:"api_key"     validate:"required"`
	Model      string        `mapstructure:"model"       validate:"required"`
	Timeout    time.Duration `mapstructure:"timeout"     validate:"min=1s,max=10m"`
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// DefaultsConfig holds the per-group settings applied when a group is
// seen for the first time. They are threaded into the store at
// construction rather than read from ambient process state.
type DefaultsConfig struct {
	Temperature     float32 `mapstructure:"temperature"      validate:"min=0,max=1"`
	Tone            string  `mapstructure:"tone"             validate:"required"`
	ContextMessages int     `mapstructure:"context_messages" validate:"min=0,max=50"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TaskConfig describes one scheduled task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// SchedulerConfig holds the scheduled-task table plus task parameters.
type SchedulerConfig struct {
	Tasks         map[string]TaskConfig `mapstructure:"tasks"`
	RetentionDays int                   `mapstructure:"retention_days" validate:"min=1"`
}

// MessagesConfig holds the user-facing canned strings. Handlers degrade
// to these instead of surfacing internal errors to the chat.
type MessagesConfig struct {
	Welcome            string `mapstructure:"welcome"`
	Help               string `mapstructure:"help"`
	ErrorGeneral       string `mapstructure:"error_general"`
	ErrorUnauthorized  string `mapstructure:"error_unauthorized"`
	GroupOnly          string `mapstructure:"group_only"`
	SaveMissingFields  string `mapstructure:"save_missing_fields"`
	SaveConfirm        string `mapstructure:"save_confirm"`
	SaveError          string `mapstructure:"save_error"`
	RetrieveMissingKey string `mapstructure:"retrieve_missing_key"`
	RetrieveNotFound   string `mapstructure:"retrieve_not_found"`
	RetrieveFound      string `mapstructure:"retrieve_found"`
	RetrieveError      string `mapstructure:"retrieve_error"`
	NothingToSummarize string `mapstructure:"nothing_to_summarize"`
	SummaryHeader      string `mapstructure:"summary_header"`
	SummaryError       string `mapstructure:"summary_error"`
	SettingsUpdated    string `mapstructure:"settings_updated"`
	SettingsFailed     string `mapstructure:"settings_failed"`
}

// Config is the root application configuration.
type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoadConfig reads configuration from the given YAML file, overlays
// BOT_-prefixed environment variables, applies defaults, and validates
// the result. Missing credentials are a fatal error here, not at
// message-handling time. A missing config file is tolerated; env vars
// and defaults may be enough.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, and the
	// credentials have no defaults. Bind them explicitly so BOT_TELEGRAM_TOKEN
	// and BOT_GEMINI_API_KEY work without a config file.
	for _, key := range []string{"telegram.token", "gemini.api_key"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.timeout", 2*time.Minute)
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay", 5*time.Second)

	v.SetDefault("defaults.temperature", 0.7)
	v.SetDefault("defaults.tone", "friendly")
	v.SetDefault("defaults.context_messages", 7)

	v.SetDefault("database.path", "bot_data.db")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("scheduler.retention_days", 30)
	v.SetDefault("scheduler.tasks.log_cleanup.enabled", true)
	v.SetDefault("scheduler.tasks.log_cleanup.schedule", "0 0 4 * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 30 4 * * 0")

	v.SetDefault("messages.welcome", "Hello! I'm a group assistant. Mention me in a group message to chat, ask me to remember things, or ask for a summary.")
	v.SetDefault("messages.help", "Mention @botname or reply to one of my messages and I'll answer.\nI can also:\n- save facts: \"save my phone number 123-456-7890\"\n- retrieve facts: \"what's @john's email?\"\n- summarize: \"summarize the last 20 messages\"\nAdmins can tune me with /settings.")
	v.SetDefault("messages.error_general", "Sorry, I encountered an error processing your message. Please try again.")
	v.SetDefault("messages.error_unauthorized", "Only group administrators can use this command.")
	v.SetDefault("messages.group_only", "Settings can only be used in group chats.")
	v.SetDefault("messages.save_missing_fields", "I couldn't understand what information you want me to save. Please be more specific.")
	v.SetDefault("messages.save_confirm", "✅ I've saved your %s: %s")
	v.SetDefault("messages.save_error", "Sorry, I couldn't save that information. Please try again.")
	v.SetDefault("messages.retrieve_missing_key", "I couldn't understand what information you're looking for. Please be more specific.")
	v.SetDefault("messages.retrieve_not_found", "I don't have that information for %s.")
	v.SetDefault("messages.retrieve_found", "📋 %s's %s: %s")
	v.SetDefault("messages.retrieve_error", "Sorry, I couldn't retrieve that information. Please try again.")
	v.SetDefault("messages.nothing_to_summarize", "There are no recent messages to summarize.")
	v.SetDefault("messages.summary_header", "📝 Conversation Summary:\n\n%s")
	v.SetDefault("messages.summary_error", "Sorry, I couldn't summarize the conversation. Please try again.")
	v.SetDefault("messages.settings_updated", "✅ Setting updated: %s is now %s.\nThe change takes effect on the next message.")
	v.SetDefault("messages.settings_failed", "❌ Failed to update setting. Please try again.")
}
