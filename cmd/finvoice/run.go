package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/finvoice/internal/app"
	"github.com/MrWong99/finvoice/internal/config"
	"github.com/MrWong99/finvoice/internal/observe"
	"github.com/MrWong99/finvoice/internal/session"
)

const shutdownTimeout = 15 * time.Second

func newRunCmd(configPath *string) *cobra.Command {
	var noConnect bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a voice session",
		Long: `run connects to the realtime service and talks with the configured agent.
Lines typed on stdin are sent as user turns. Commands:
  /connect     start a session
  /disconnect  end the session and submit the transcript
  /status      print the session state
  /quit        exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSession(cmd.Context(), *configPath, !noConnect, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&noConnect, "no-connect", false, "wait for /connect instead of connecting at startup")
	return cmd
}

func runSession(ctx context.Context, configPath string, autoConnect bool, in io.Reader, out, errOut io.Writer) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(errOut, cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	logger.Info("finvoice starting",
		"version", version,
		"config", configPath,
		"transport", cfg.Realtime.Transport,
		"agent_script", cfg.Agent.Script,
		"listen_addr", cfg.Server.ListenAddr,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		Version:     version,
		AgentScript: cfg.Agent.Script,
		Transport:   string(cfg.Realtime.Transport),
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	watcher, err := config.NewWatcher(configPath, func(_, _ *config.Config, diff config.ConfigDiff) {
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			logger.Info("log level changed", "level", diff.NewLogLevel)
		}
		if len(diff.RestartRequired) > 0 {
			logger.Warn("config changed; restart to apply", "sections", diff.RestartRequired)
		}
	}, config.WithWatcherLogger(logger))
	if err != nil {
		logger.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	application, err := app.New(ctx, cfg, app.WithLogger(logger), app.WithMetrics(metrics))
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go printTranscript(runCtx, application, out)
	go readCommands(runCtx, cancel, application.Session(), in, out, logger)

	logger.Info("session loop ready; press Ctrl+C to quit")
	runErr := application.Run(runCtx, autoConnect)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	logger.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", "err", err)
	}
	return runErr
}

// printTranscript renders transcript entries as they become final.
func printTranscript(ctx context.Context, a *app.App, out io.Writer) {
	store := a.Transcript()
	changes, unsubscribe := store.Subscribe()
	defer unsubscribe()

	p := newPrinter(out)
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			p.flush(store.Entries())
		}
	}
}

// controller is the part of the orchestrator the command reader drives.
type controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	Status() session.Status
}

// readCommands executes stdin lines until EOF, /quit or ctx is done. /quit
// calls quit. A closed stdin leaves the session running.
func readCommands(ctx context.Context, quit context.CancelFunc, c controller, in io.Reader, out io.Writer, log *slog.Logger) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		var err error
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			quit()
			return
		case "/connect":
			err = c.Connect(ctx)
		case "/disconnect":
			err = c.Disconnect(ctx)
		case "/status":
			fmt.Fprintln(out, c.Status())
		default:
			err = c.SendText(ctx, line)
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn("stdin read error", "err", err)
	}
}
