package config

import (
	"slices"
	"sort"
	"strings"

	logx "reshuffle/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Telegram tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	o, n := oldCfg.Shuffle, newCfg.Shuffle
	if o.Mode != n.Mode || o.ClientSyncMode != n.ClientSyncMode ||
		!sameSet(o.ExcludedRecipes, n.ExcludedRecipes) || !sameSet(o.ExcludedOutputs, n.ExcludedOutputs) {
		changed = append(changed, "shuffle")
		attrs = append(attrs,
			logx.String("shuffle.mode", n.Mode),
			logx.String("shuffle.client_sync_mode", n.ClientSyncMode),
			logx.Int("shuffle.excluded_recipes", len(n.ExcludedRecipes)),
			logx.Int("shuffle.excluded_outputs", len(n.ExcludedOutputs)),
		)
	}

	if oldCfg.Timer != newCfg.Timer {
		changed = append(changed, "timer")
		attrs = append(attrs,
			logx.Bool("timer.enabled", newCfg.Timer.Enabled),
			logx.Int("timer.interval", newCfg.Timer.Interval),
		)
	}

	on, nn := oldCfg.Notifications, newCfg.Notifications
	if !slices.Equal(on.Thresholds, nn.Thresholds) || on.Messages != nn.Messages ||
		on.RatePerSec != nn.RatePerSec || on.Burst != nn.Burst || on.QueueSize != nn.QueueSize {
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.Int("notifications.thresholds", len(nn.Thresholds)),
			logx.Bool("notifications.messages_changed", on.Messages != nn.Messages),
			logx.Any("notifications.rate_per_sec", nn.RatePerSec),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	ost, nst := oldCfg.Storage, newCfg.Storage
	oDriver := strings.ToLower(strings.TrimSpace(ost.Driver))
	nDriver := strings.ToLower(strings.TrimSpace(nst.Driver))
	if oDriver != nDriver || strings.TrimSpace(ost.Path) != strings.TrimSpace(nst.Path) ||
		strings.TrimSpace(ost.BusyTimeout) != strings.TrimSpace(nst.BusyTimeout) || ost.HistoryMax != nst.HistoryMax {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", strings.TrimSpace(nst.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nst.BusyTimeout)),
		)
	}

	if oldCfg.Execution != newCfg.Execution {
		changed = append(changed, "execution")
		attrs = append(attrs,
			logx.String("execution.model", newCfg.Execution.Model),
			logx.Int("execution.workers", newCfg.Execution.Workers),
		)
	}

	if oldCfg.Host != newCfg.Host {
		changed = append(changed, "host")
		attrs = append(attrs, logx.String("host.threading", newCfg.Host.Threading))
	}

	ot, nt := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if ot.Enabled != nt.Enabled || ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout ||
		!slices.Equal(ot.ChatIDs, nt.ChatIDs) || !slices.Equal(ot.OwnerUserIDs, nt.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int("telegram.chat_count", len(nt.ChatIDs)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "execution", "host", "telegram":
			out = append(out, s)
		}
	}
	return out
}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return *t
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
