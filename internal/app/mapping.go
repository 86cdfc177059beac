package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"reshuffle/internal/adapters/telegram"
	"reshuffle/internal/catalog"
	"reshuffle/internal/config"
	"reshuffle/internal/exec"
	"reshuffle/internal/host"
	"reshuffle/internal/notify"
	"reshuffle/internal/shuffle"
	"reshuffle/internal/storage"
	"reshuffle/internal/timer"
	logx "reshuffle/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file", "memory", "none":
		return storage.Config{Driver: driver, Path: path, HistoryMax: sc.HistoryMax}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, HistoryMax: sc.HistoryMax}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapExecOptions(cfg *config.Config) (exec.Options, error) {
	ec := cfg.Execution
	if ec.Workers < 0 {
		return exec.Options{}, fmt.Errorf("execution.workers must be >= 0")
	}
	if ec.QueueSize < 0 {
		return exec.Options{}, fmt.Errorf("execution.queue_size must be >= 0")
	}
	slow, err := config.ParseDurationField("execution.slow_callback", ec.SlowCallback)
	if err != nil {
		return exec.Options{}, err
	}
	return exec.Options{Workers: ec.Workers, QueueSize: ec.QueueSize, SlowCallback: slow}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapNotifyConfig(cfg *config.Config) notify.Config {
	nc := cfg.Notifications
	return notify.Config{QueueSize: nc.QueueSize, RatePerSec: nc.RatePerSec, Burst: nc.Burst, RetryMax: 2}
}

// mapTelegramConfig reports enabled=false when the section is absent or disabled.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Telegram
	if tc == nil || !tc.Enabled {
		return telegram.Config{}, false, nil
	}
	if strings.TrimSpace(tc.Token) == "" {
		return telegram.Config{}, false, fmt.Errorf("telegram.token is required when telegram.enabled=true")
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:        tc.Token,
		ChatIDs:      tc.ChatIDs,
		OwnerUserIDs: tc.OwnerUserIDs,
		PollTimeout:  poll,
	}, true, nil
}

func hostOptions(cfg *config.Config) host.Options {
	return host.Options{
		RecipesFile: cfg.Host.RecipesFile,
		ItemsFile:   cfg.Host.ItemsFile,
		Threading:   cfg.Host.Threading,
	}
}

func catalogSettings(cfg *config.Config) catalog.Settings {
	mode, err := catalog.ParseSyncMode(cfg.Shuffle.ClientSyncMode)
	if err != nil {
		mode = catalog.SyncResync
	}
	return catalog.Settings{
		ExcludedRecipes: cfg.Shuffle.ExcludedRecipes,
		ExcludedOutputs: cfg.Shuffle.ExcludedOutputs,
		SyncMode:        mode,
		StartedMessage:  cfg.Notifications.Messages.ShuffleStarted,
		FinishedMessage: cfg.Notifications.Messages.ShuffleFinished,
	}
}

func timerSettings(cfg *config.Config) timer.Settings {
	m := cfg.Notifications.Messages
	return timer.Settings{
		Thresholds: cfg.Notifications.Thresholds,
		Templates: timer.Templates{
			FiveMinutes:   m.Countdown5Minutes,
			OneMinute:     m.Countdown1Minute,
			ThirtySeconds: m.Countdown30Seconds,
			TenSeconds:    m.Countdown10Seconds,
		},
	}
}

func shuffleMode(cfg *config.Config) shuffle.Mode {
	m, err := shuffle.ParseMode(cfg.Shuffle.Mode)
	if err != nil {
		return shuffle.ModeRandomItem
	}
	return m
}

func timerInterval(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Timer.Interval) * time.Second
}

// validateConfig rejects configs that would leave the running app in a bad
// state. It runs before any reloaded config is committed.
func validateConfig(_ context.Context, cfg *config.Config) error {
	var errs []error
	if _, err := shuffle.ParseMode(cfg.Shuffle.Mode); err != nil {
		errs = append(errs, fmt.Errorf("shuffle.mode: %w", err))
	}
	if _, err := catalog.ParseSyncMode(cfg.Shuffle.ClientSyncMode); err != nil {
		errs = append(errs, fmt.Errorf("shuffle.client_sync_mode: %w", err))
	}
	if cfg.Timer.Interval <= 0 {
		errs = append(errs, fmt.Errorf("timer.interval must be > 0"))
	}
	for _, s := range cfg.Notifications.Thresholds {
		if s < 0 {
			errs = append(errs, fmt.Errorf("notifications.thresholds: %d is negative", s))
			break
		}
	}
	if cfg.Notifications.RatePerSec < 0 || cfg.Notifications.Burst < 0 || cfg.Notifications.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("notifications: rate_per_sec, burst and queue_size must be >= 0"))
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if !logx.ValidFormat(cfg.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format: want console or json, got %q", cfg.Logging.Format))
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := exec.ParseModel(cfg.Execution.Model); err != nil {
		errs = append(errs, fmt.Errorf("execution.model: %w", err))
	}
	if _, err := mapExecOptions(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := host.ParseThreading(cfg.Host.Threading); err != nil {
		errs = append(errs, fmt.Errorf("host.threading: %w", err))
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
