package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"archhive/internal/config"
	"archhive/internal/server"
	"archhive/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the snapshot HTTP API server",
	Long: "Serve the snapshot store over a JSON API. The snapshot directory is\n" +
		"watched so .hive files written by other processes get indexed too.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	serveCmd.Flags().String("api-key", "", "API key for authentication (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if key, _ := cmd.Flags().GetString("api-key"); key != "" {
		cfg.Server.APIKey = key
	}

	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, codec)
	if err != nil {
		return err
	}
	defer st.Close()
	st.IndexExisting(ctx)

	watcher, err := store.NewWatcher(st)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	return server.New(st, codec, cfg.Server.APIKey).Run(ctx, cfg.Server.Port)
}
