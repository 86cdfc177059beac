package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reshuffle/internal/catalog"
	"reshuffle/internal/config"
	"reshuffle/internal/shuffle"
	"reshuffle/internal/timer"
)

func (r *Router) shuffleCmd() *cobra.Command {
	return subcommand("shuffle [mode] [seed <seed>|seed random]", "Shuffle recipes", func(cmd *cobra.Command, args []string) error {
		ctx, out := cmd.Context(), cmd.OutOrStdout()

		var newMode *shuffle.Mode
		if len(args) > 0 && !strings.EqualFold(args[0], "seed") {
			m, err := shuffle.ParseMode(args[0])
			if err != nil {
				return invalid("Invalid shuffle mode. Use 'random_item' or 'recipe_result'.")
			}
			newMode = &m
			args = args[1:]
		}
		seedArg := ""
		if len(args) > 0 {
			if !strings.EqualFold(args[0], "seed") || len(args) != 2 {
				return invalid("Usage: shuffle [mode] [seed <seed>|seed random]")
			}
			seedArg = args[1]
			if !strings.EqualFold(seedArg, "random") {
				if _, err := strconv.ParseInt(seedArg, 10, 64); err != nil {
					return invalid("Invalid seed. Please enter a number.")
				}
			}
		}

		if newMode != nil {
			r.saveSettings(func(c *config.Config) { c.Shuffle.Mode = newMode.String() })
			fmt.Fprintf(out, "<green>Shuffling recipes with mode: <yellow>%s</yellow></green>\n", *newMode)
		}
		if seedArg != "" {
			if err := r.applySeedArg(cmd, seedArg); err != nil {
				return err
			}
		}

		mode, err := shuffle.ParseMode(r.d.Settings.Get().Shuffle.Mode)
		if err != nil {
			mode = shuffle.ModeRandomItem
		}
		req := catalog.Request{Mode: mode, Seed: r.d.Seeds.Snapshot().Seed, Announce: true}
		fmt.Fprintln(out, "<green>Starting recipe shuffle...</green>")
		r.watch(ctx, "shuffle", r.d.Catalog.ShuffleAsync(ctx, req))
		return nil
	})
}

func (r *Router) applySeedArg(cmd *cobra.Command, arg string) error {
	ctx, out := cmd.Context(), cmd.OutOrStdout()
	if strings.EqualFold(arg, "random") {
		seed, err := r.d.Seeds.RandomizeSeed(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "<green>Generated random seed: <yellow>%d</yellow> <gray>(random)</gray></green>\n", seed)
		return nil
	}
	seed, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return invalid("Invalid seed. Please enter a number.")
	}
	if err := r.d.Seeds.SetSeed(ctx, seed); err != nil {
		return err
	}
	fmt.Fprintf(out, "<green>Seed set to <yellow>%d</yellow> <gray>(user-set)</gray></green>\n", seed)
	return nil
}

func (r *Router) restoreCmd() *cobra.Command {
	return subcommand("restore", "Restore the original recipes", func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		fmt.Fprintln(cmd.OutOrStdout(), "<green>Restoring original recipes...</green>")
		r.watch(ctx, "restore", r.d.Catalog.RestoreAsync(ctx))
		return nil
	})
}

func (r *Router) timerCmd() *cobra.Command {
	return subcommand("timer [enable|disable|interval <seconds>]", "Manage timer", func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			r.timerStatus(cmd)
			return nil
		}

		switch strings.ToLower(args[0]) {
		case "enable":
			cfg := r.saveSettings(func(c *config.Config) { c.Timer.Enabled = true })
			if err := r.d.Timer.Start(time.Duration(cfg.Timer.Interval) * time.Second); err != nil {
				return err
			}
			fmt.Fprintln(out, "<green>Timer enabled.</green>")
			return nil
		case "disable":
			r.saveSettings(func(c *config.Config) { c.Timer.Enabled = false })
			r.d.Timer.Stop()
			fmt.Fprintln(out, "<green>Timer disabled.</green>")
			return nil
		case "interval":
			if len(args) < 2 {
				break
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return invalid("Invalid interval. Please enter a number.")
			}
			if n <= 0 {
				return invalid("Interval must be greater than 0.")
			}
			r.saveSettings(func(c *config.Config) { c.Timer.Interval = n })
			if r.d.Timer.Running() {
				if err := r.d.Timer.Restart(time.Duration(n) * time.Second); err != nil {
					return err
				}
				fmt.Fprintf(out, "<green>Timer interval set to <yellow>%d seconds</yellow> and timer restarted.</green>\n", n)
			} else {
				fmt.Fprintf(out, "<green>Timer interval set to <yellow>%d seconds</yellow>.</green>\n", n)
			}
			return nil
		}
		return invalid("Usage: timer [enable|disable|interval <seconds>]")
	})
}

func (r *Router) timerStatus(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	st := r.d.Timer.Status()
	if st.State != timer.StateIdle {
		fmt.Fprintln(out, "<green>Timer status: <yellow>Enabled</yellow></green>")
	} else {
		fmt.Fprintln(out, "<green>Timer status: <red>Disabled</red></green>")
	}
	fmt.Fprintf(out, "<green>Timer interval: <yellow>%d seconds</yellow></green>\n", r.d.Settings.Get().Timer.Interval)
	switch {
	case st.State == timer.StateCountingDown:
		fmt.Fprintf(out, "<green>Shuffling in: <yellow>%d seconds</yellow></green>\n", st.Remaining)
	case !st.NextTrigger.IsZero():
		fmt.Fprintf(out, "<green>Next countdown: <yellow>%s</yellow></green>\n", st.NextTrigger.Format(time.RFC3339))
	}
}

func (r *Router) seedCmd() *cobra.Command {
	return subcommand("seed [view|set <seed>|random]", "Manage seed", func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 0 || strings.EqualFold(args[0], "view") {
			st := r.d.Seeds.Snapshot()
			origin := "random"
			if st.UserSetSeed {
				origin = "user-set"
			}
			fmt.Fprintf(out, "<green>Current seed: <yellow>%d</yellow> <gray>(%s)</gray></green>\n", st.Seed, origin)
			return nil
		}
		switch {
		case strings.EqualFold(args[0], "set") && len(args) >= 2:
			return r.applySeedArg(cmd, args[1])
		case strings.EqualFold(args[0], "random"):
			return r.applySeedArg(cmd, "random")
		}
		return invalid("Usage: seed [view|set <seed>|random]")
	})
}

func (r *Router) reloadCmd() *cobra.Command {
	return subcommand("reload", "Reload configuration", func(cmd *cobra.Command, _ []string) error {
		if r.d.Reload == nil {
			return fmt.Errorf("reload is not available")
		}
		if err := r.d.Reload(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "<green>Configuration reloaded.</green>")
		return nil
	})
}

func (r *Router) statusCmd() *cobra.Command {
	return subcommand("status", "Show shuffle state", func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		st := r.d.Catalog.Status()
		fmt.Fprintf(out, "<green>Phase: <yellow>%s</yellow></green>\n", st.Phase)
		fmt.Fprintf(out, "<green>Shuffled: <yellow>%t</yellow></green>\n", st.State.Shuffled)
		if st.Captured {
			fmt.Fprintf(out, "<green>Recipes: <yellow>%d original, %d shuffled, %d skipped</yellow></green>\n", st.Original, st.Shuffled, st.Skipped)
		}
		fmt.Fprintf(out, "<green>Seed: <yellow>%d</yellow></green>\n", st.State.Seed)
		if last := st.State.LastShuffleTime(); !last.IsZero() {
			fmt.Fprintf(out, "<green>Last change: <yellow>%s</yellow></green>\n", last.Format(time.RFC3339))
		}
		if st.Inconsistent {
			fmt.Fprintln(out, "<red><bold>The live catalog may be inconsistent; run restore.</bold></red>")
		}
		if st.LastError != "" {
			fmt.Fprintf(out, "<red>Last error: %s</red>\n", st.LastError)
		}
		if r.d.Timer != nil {
			r.timerStatus(cmd)
		}
		return nil
	})
}

func (r *Router) historyCmd() *cobra.Command {
	return subcommand("history [count]", "Show recent shuffles", func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		limit := 10
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return invalid("Invalid count. Please enter a positive number.")
			}
			limit = n
		}
		if r.d.History == nil {
			return fmt.Errorf("history is not available")
		}
		recs, err := r.d.History.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(out, "<gray>No shuffles recorded yet.</gray>")
			return nil
		}
		for _, rec := range recs {
			line := fmt.Sprintf("%s %s", rec.At.Format(time.RFC3339), rec.Action)
			if rec.Mode != "" {
				line += " mode=" + rec.Mode
			}
			line += fmt.Sprintf(" seed=%d recipes=%d took=%dms", rec.Seed, rec.Recipes, rec.TookMS)
			if rec.Error != "" {
				fmt.Fprintf(out, "<red>%s error=%s</red>\n", line, rec.Error)
				continue
			}
			fmt.Fprintln(out, line)
		}
		return nil
	})
}
