package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrWong99/finvoice/internal/config"
)

func newRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "finvoice",
		Short:        "Realtime voice agent client",
		Long:         "finvoice connects to a realtime inference service, speaks with a scripted agent, runs the tools it calls and keeps a transcript of the conversation.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "finvoice.yaml", "path to the YAML configuration file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(&configPath),
		newToolsCmd(&configPath),
		newConfigCmd(&configPath),
	)
	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found; copy configs/finvoice.example.yaml to get started", path)
	}
	return cfg, err
}

// newLogger returns a logger writing to w whose level follows level.
func newLogger(w io.Writer, format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
