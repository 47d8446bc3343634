package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/server"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "roomchat",
	Short: "RoomChat real-time chat server",
	Long: `RoomChat serves rooms, private messages, typing indicators, reactions
and read receipts over WebSocket, plus a small read-only HTTP API.`,
	Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.Flags().StringP("config", "c", "", "YAML config file path")
	rootCmd.Flags().String("addr", "", "listen address, e.g. :8080 (overrides SERVER_PORT)")
	rootCmd.Flags().String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	rootCmd.Flags().Bool("strict-errors", false, "reply to dropped events with an error event")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	// .env is optional
	_ = godotenv.Load(".env")

	path, _ := cmd.Flags().GetString("config")
	cfg, err := server.LoadConfig(path)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Port, _ = cmd.Flags().GetString("addr")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("strict-errors") {
		cfg.StrictErrors, _ = cmd.Flags().GetBool("strict-errors")
	}

	logging.Init(cfg.LogLevel, cfg.LogSink)
	server.Version = version

	app := server.NewApp(cfg)
	go func() {
		if err := app.Run(); err != nil {
			slog.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	effective := app.Config()
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		effective.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"roomchat": func(ctx context.Context) error {
				slog.Info("graceful shutdown initiated")
				return app.Shutdown(ctx)
			},
		},
	)

	exitCode := <-wait
	slog.Info("server exited", "code", exitCode)
	os.Exit(exitCode)
	return nil
}
