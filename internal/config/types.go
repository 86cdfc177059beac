package config

// Config is the on-disk configuration. YAML and JSON share the json tags;
// Save writes YAML using the yaml tags.
type Config struct {
	Shuffle       ShuffleConfig       `json:"shuffle" yaml:"shuffle"`
	Timer         TimerConfig         `json:"timer" yaml:"timer"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Execution     ExecutionConfig     `json:"execution" yaml:"execution"`
	Host          HostConfig          `json:"host" yaml:"host"`

	// Telegram is optional; when omitted no bot is started.
	Telegram *TelegramConfig `json:"telegram,omitempty" yaml:"telegram,omitempty"`
}

type ShuffleConfig struct {
	// Mode is random_item or recipe_result.
	Mode string `json:"mode" yaml:"mode"`
	// ClientSyncMode is resync, clear or vanilla.
	ClientSyncMode  string   `json:"client_sync_mode" yaml:"client_sync_mode"`
	ExcludedRecipes []string `json:"excluded_recipes" yaml:"excluded_recipes"`
	ExcludedOutputs []string `json:"excluded_outputs" yaml:"excluded_outputs"`
}

type TimerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Interval is in seconds.
	Interval int `json:"interval" yaml:"interval"`
}

// NotificationsConfig controls countdown thresholds, message templates and
// the broadcast pipeline.
//
// Messages use tag markup: <red>...</red>, <bold>...</bold>, etc.
type NotificationsConfig struct {
	Thresholds []int          `json:"thresholds" yaml:"thresholds"`
	Messages   MessagesConfig `json:"messages" yaml:"messages"`

	RatePerSec float64 `json:"rate_per_sec" yaml:"rate_per_sec"`
	Burst      int     `json:"burst" yaml:"burst"`
	QueueSize  int     `json:"queue_size" yaml:"queue_size"`
}

type MessagesConfig struct {
	Countdown5Minutes  string `json:"countdown_5_minutes" yaml:"countdown_5_minutes"`
	Countdown1Minute   string `json:"countdown_1_minute" yaml:"countdown_1_minute"`
	Countdown30Seconds string `json:"countdown_30_seconds" yaml:"countdown_30_seconds"`
	Countdown10Seconds string `json:"countdown_10_seconds" yaml:"countdown_10_seconds"`
	ShuffleStarted     string `json:"shuffle_started" yaml:"shuffle_started"`
	ShuffleFinished    string `json:"shuffle_finished" yaml:"shuffle_finished"`
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
	// Format is console or json; it applies to stderr output only.
	Format  string      `json:"format" yaml:"format"`
	Console bool        `json:"console" yaml:"console"`
	File    LoggingFile `json:"file" yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// StorageConfig selects the state store.
//
// Example:
//
//	storage: { driver: file, path: ./data }
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	Path        string `json:"path" yaml:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"` // Go duration string (sqlite)
	HistoryMax  int    `json:"history_max,omitempty" yaml:"history_max,omitempty"`
}

// ExecutionConfig selects the threading model. Model is auto, single_writer
// or partitioned; auto asks the host.
type ExecutionConfig struct {
	Model     string `json:"model" yaml:"model"`
	Workers   int    `json:"workers" yaml:"workers"`
	QueueSize int    `json:"queue_size" yaml:"queue_size"`
	// SlowCallback is a Go duration string; writer callbacks slower than this are logged.
	SlowCallback string `json:"slow_callback,omitempty" yaml:"slow_callback,omitempty"`
}

// HostConfig configures the bundled in-memory host.
type HostConfig struct {
	// RecipesFile is a YAML recipe catalog; empty uses the built-in sample.
	RecipesFile string `json:"recipes_file,omitempty" yaml:"recipes_file,omitempty"`
	// ItemsFile lists extra item IDs, one per line.
	ItemsFile string `json:"items_file,omitempty" yaml:"items_file,omitempty"`
	// Threading is what the host reports to auto model detection: single or regionized.
	Threading string `json:"threading" yaml:"threading"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	// ChatIDs receive every broadcast.
	ChatIDs []int64 `json:"chat_ids" yaml:"chat_ids"`
	// OwnerUserIDs may run commands from Telegram.
	OwnerUserIDs []int64 `json:"owner_user_ids" yaml:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout" yaml:"poll_timeout"`
}

// DefaultThresholds are the countdown seconds that broadcast by default.
func DefaultThresholds() []int { return []int{300, 60, 30, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1} }

// Default returns a fully populated config. Keys missing from a file keep these values.
func Default() *Config {
	return &Config{
		Shuffle: ShuffleConfig{
			Mode:            "random_item",
			ClientSyncMode:  "resync",
			ExcludedRecipes: []string{},
			ExcludedOutputs: []string{},
		},
		Timer: TimerConfig{Enabled: false, Interval: 3600},
		Notifications: NotificationsConfig{
			Thresholds: DefaultThresholds(),
			Messages: MessagesConfig{
				Countdown5Minutes:  "<gold>5 minutes until recipes are shuffled!</gold>",
				Countdown1Minute:   "<yellow>1 minute until recipes are shuffled!</yellow>",
				Countdown30Seconds: "<yellow>30 seconds until recipes are shuffled!</yellow>",
				Countdown10Seconds: "<red>Recipes will shuffle in <bold><seconds></bold> seconds!</red>",
				ShuffleStarted:     "<green><bold>Recipes have been shuffled!</bold></green>",
				ShuffleFinished:    "<green>Recipe shuffling complete.</green>",
			},
			RatePerSec: 20,
			Burst:      5,
			QueueSize:  256,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "console",
			Console: true,
			File:    LoggingFile{Enabled: false, Path: "./reshuffle.log"},
		},
		Storage:   StorageConfig{Driver: "file", Path: "./data", HistoryMax: 1000},
		Execution: ExecutionConfig{Model: "auto", Workers: 2, QueueSize: 256, SlowCallback: "1s"},
		Host:      HostConfig{Threading: "single"},
	}
}
