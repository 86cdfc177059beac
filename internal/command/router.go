package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reshuffle/internal/catalog"
	"reshuffle/internal/config"
	"reshuffle/internal/exec"
	"reshuffle/internal/storage"
	"reshuffle/internal/timer"
	logx "reshuffle/pkg/logx"
)

// PermissionPrefix is prepended to a command name to form its permission node.
const PermissionPrefix = "reshuffle.command."

// Catalog is the part of the catalog coordinator commands use.
type Catalog interface {
	ShuffleAsync(ctx context.Context, req catalog.Request) exec.Handle
	RestoreAsync(ctx context.Context) exec.Handle
	Status() catalog.Status
}

// Seeds reads and changes the persisted seed.
type Seeds interface {
	Snapshot() storage.State
	SetSeed(ctx context.Context, seed int64) error
	RandomizeSeed(ctx context.Context) (int64, error)
}

type Timer interface {
	Start(interval time.Duration) error
	Stop()
	Restart(interval time.Duration) error
	Running() bool
	Status() timer.Status
}

// Settings gives commands the committed config and persists their changes.
type Settings interface {
	Get() *config.Config
	Update(fn func(*config.Config)) (*config.Config, error)
}

type History interface {
	History(ctx context.Context, limit int) ([]storage.Record, error)
}

// Authorizer decides whether caller holds permission.
type Authorizer interface {
	Allowed(caller, permission string) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(caller, permission string) bool

func (f AuthorizerFunc) Allowed(caller, permission string) bool { return f(caller, permission) }

type Deps struct {
	Catalog  Catalog
	Seeds    Seeds
	Timer    Timer
	Settings Settings
	// Reload re-reads the config file and applies it.
	Reload  func(ctx context.Context) error
	History History
	// Auth is optional; nil allows everyone.
	Auth Authorizer
	Log  logx.Logger
}

// Router parses and runs command lines.
type Router struct {
	d   Deps
	log logx.Logger
}

func New(d Deps) *Router {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Router{d: d, log: d.Log.With(logx.String("comp", "command"))}
}

// Dispatch runs one command line for caller and writes the replies to out.
// User-facing failures (bad input, missing permission) are written to out
// and returned.
func (r *Router) Dispatch(ctx context.Context, caller, line string, out io.Writer) error {
	args := strings.Fields(line)
	if args == nil {
		args = []string{}
	}
	if len(args) > 0 {
		args[0] = strings.ToLower(args[0])
	}

	root := r.root(caller)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	root.SetContext(ctx)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var inv *InvalidInputError
	switch {
	case errors.As(err, &inv):
		fmt.Fprintf(out, "<red>%s</red>\n", inv.Msg)
	case errors.Is(err, ErrPermissionDenied):
		fmt.Fprintln(out, "<red>You don't have permission to use this command.</red>")
	default:
		r.log.Warn("command failed", logx.String("caller", caller), logx.String("line", line), logx.Err(err))
		fmt.Fprintf(out, "<red>Command failed: %v</red>\n", err)
	}
	return err
}

// Complete returns the candidates for the last word of args, filtered by
// what caller may run.
func (r *Router) Complete(caller string, args []string) []string {
	var options []string
	switch len(args) {
	case 0:
		return r.allowedNames(caller)
	case 1:
		options = r.allowedNames(caller)
	case 2:
		if !r.allowed(caller, strings.ToLower(args[0])) {
			return nil
		}
		switch strings.ToLower(args[0]) {
		case "shuffle":
			options = []string{"random_item", "recipe_result", "seed"}
		case "timer":
			options = []string{"enable", "disable", "interval"}
		case "seed":
			options = []string{"view", "set", "random"}
		}
	}
	prefix := strings.ToLower(args[len(args)-1])
	var outs []string
	for _, o := range options {
		if strings.HasPrefix(o, prefix) {
			outs = append(outs, o)
		}
	}
	return outs
}

func (r *Router) allowedNames(caller string) []string {
	var names []string
	for _, n := range commandNames {
		if r.allowed(caller, n) {
			names = append(names, n)
		}
	}
	return names
}

func (r *Router) allowed(caller, name string) bool {
	return r.d.Auth == nil || r.d.Auth.Allowed(caller, PermissionPrefix+name)
}

var commandNames = []string{"shuffle", "timer", "seed", "reload", "restore", "status", "history"}

func (r *Router) root(caller string) *cobra.Command {
	root := &cobra.Command{
		Use:                "reshuffle",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.HasParent() || cmd.Name() == "help" {
				return nil
			}
			if !r.allowed(caller, cmd.Name()) {
				return ErrPermissionDenied
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			r.help(cmd.OutOrStdout())
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true, Run: func(cmd *cobra.Command, _ []string) {
		r.help(cmd.OutOrStdout())
	}})
	root.SetHelpFunc(func(cmd *cobra.Command, _ []string) { r.help(cmd.OutOrStdout()) })

	root.AddCommand(
		r.shuffleCmd(),
		r.timerCmd(),
		r.seedCmd(),
		r.reloadCmd(),
		r.restoreCmd(),
		r.statusCmd(),
		r.historyCmd(),
	)
	return root
}

func subcommand(use, short string, run func(cmd *cobra.Command, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:                use,
		Short:              short,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE:               run,
	}
}

func (r *Router) help(w io.Writer) {
	fmt.Fprintln(w, "<gold>=== Reshuffle Commands ===</gold>")
	fmt.Fprintln(w, "<yellow>shuffle [mode] [seed <seed>|seed random]</yellow> <gray>- Shuffle recipes</gray>")
	fmt.Fprintln(w, "<yellow>restore</yellow> <gray>- Restore the original recipes</gray>")
	fmt.Fprintln(w, "<yellow>timer [enable|disable|interval <seconds>]</yellow> <gray>- Manage timer</gray>")
	fmt.Fprintln(w, "<yellow>seed [view|set <seed>|random]</yellow> <gray>- Manage seed</gray>")
	fmt.Fprintln(w, "<yellow>status</yellow> <gray>- Show shuffle state</gray>")
	fmt.Fprintln(w, "<yellow>history [count]</yellow> <gray>- Show recent shuffles</gray>")
	fmt.Fprintln(w, "<yellow>reload</yellow> <gray>- Reload configuration</gray>")
}

// saveSettings persists fn. A failed write keeps the change in memory and is only logged.
func (r *Router) saveSettings(fn func(*config.Config)) *config.Config {
	cfg, err := r.d.Settings.Update(fn)
	if err != nil {
		r.log.Warn("failed to save config", logx.Err(err))
	}
	return cfg
}

// watch logs the outcome of an asynchronous operation.
func (r *Router) watch(ctx context.Context, op string, h exec.Handle) {
	go func() {
		if err := exec.Await(context.WithoutCancel(ctx), h); err != nil {
			r.log.Warn("operation failed", logx.String("op", op), logx.Err(err))
		}
	}()
}
