// Command rolecall is a terminal voice client for a remote conversational
// agent: it streams the microphone to the agent and plays the spoken replies.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/rolecall/internal/app"
	"github.com/MrWong99/rolecall/internal/config"
	"github.com/MrWong99/rolecall/internal/observe"
	"github.com/MrWong99/rolecall/pkg/audio/malgo"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// shutdownTimeout bounds the graceful teardown after the session ends.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rolecall: %v\n", err)
		return 1
	}
	return 0
}

// talkFlags holds the flags of the talk command.
type talkFlags struct {
	configPath string
	templateID string
	serverURL  string
}

func newRootCmd(out io.Writer) *cobra.Command {
	var flags talkFlags

	root := &cobra.Command{
		Use:           "rolecall",
		Short:         "Talk to a remote voice agent from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return talk(cmd.Context(), out, flags)
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML configuration file (defaults when empty)")
	root.PersistentFlags().StringVarP(&flags.templateID, "template", "t", "", "conversation template ID (overrides session.template_id)")
	root.PersistentFlags().StringVar(&flags.serverURL, "server", "", "agent stream base URL (overrides server.url)")

	talkCmd := &cobra.Command{
		Use:   "talk",
		Short: "Start an interactive voice session (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return talk(cmd.Context(), out, flags)
		},
	}

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := malgo.ListCaptureDevices()
			if err != nil {
				return err
			}
			for _, d := range devices {
				mark := " "
				if d.Default {
					mark = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", mark, d.Name)
			}
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rolecall %s\n", version)
		},
	}

	root.AddCommand(talkCmd, devicesCmd, versionCmd)
	return root
}

// loadConfig reads .env, the YAML file and the environment, then applies
// command-line overrides.
func loadConfig(flags talkFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", flags.configPath)
		}
		return nil, err
	}
	if flags.templateID != "" {
		cfg.Session.TemplateID = flags.templateID
	}
	if flags.serverURL != "" {
		cfg.Server.URL = flags.serverURL
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func talk(ctx context.Context, out io.Writer, flags talkFlags) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Log.Level.Slog())
	base := newHandler(os.Stderr, cfg.Log.Format, &level)
	slog.SetDefault(slog.New(base))

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg,
		app.WithOutput(out),
		app.WithLogLevel(&level),
	)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(application.LogHandler(base)))

	slog.Info("rolecall starting",
		"config", flags.configPath,
		"server", cfg.Server.URL,
		"template_id", cfg.Session.TemplateID,
		"log_level", cfg.Log.Level,
	)
	printStartupSummary(out, cfg)

	g, gctx := errgroup.WithContext(ctx)

	// ── Telemetry endpoint ────────────────────────────────────────────────────
	var srv *http.Server
	if cfg.Telemetry.MetricsAddr != "" {
		srv = &http.Server{
			Addr:              cfg.Telemetry.MetricsAddr,
			Handler:           application.HTTPHandler(tel.Handler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("telemetry endpoint listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("telemetry endpoint stopped", "err", err)
			}
			return nil
		})
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if flags.configPath != "" {
		w, err := config.NewWatcher(flags.configPath, func(diff config.ConfigDiff, _ *config.Config) {
			if diff.LogLevelChanged {
				level.Set(diff.NewLogLevel.Slog())
				slog.Info("log level changed", "level", diff.NewLogLevel)
			}
			if len(diff.RestartRequired) > 0 {
				slog.Warn("config change needs a restart", "fields", diff.RestartRequired)
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	// ── Session ───────────────────────────────────────────────────────────────
	g.Go(func() error {
		defer func() {
			if srv != nil {
				_ = srv.Close()
			}
		}()
		// The watcher stops with gctx once the console quits.
		err := application.Run(gctx)
		if err == nil {
			err = errQuit
		}
		return err
	})

	runErr := g.Wait()
	if errors.Is(runErr, errQuit) || errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Shutdown ──────────────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	// Restore the plain handler before the forwarder goes away.
	slog.SetDefault(slog.New(base))
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Warn("application shutdown", "err", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown", "err", err)
	}
	slog.Info("goodbye")
	return runErr
}

// errQuit ends the run group when the session finishes normally.
var errQuit = errors.New("quit")

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        rolecall: startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Server", cfg.Server.URL)
	printRow(w, "Template", cfg.Session.TemplateID)
	device := cfg.Audio.CaptureDevice
	if device == "" {
		device = "(system default)"
	}
	printRow(w, "Microphone", device)
	forward := "(disabled)"
	if cfg.Log.Forward {
		forward = "enabled"
	}
	printRow(w, "Log forward", forward)
	metrics := cfg.Telemetry.MetricsAddr
	if metrics == "" {
		metrics = "(disabled)"
	}
	printRow(w, "Metrics", metrics)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}
