package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/geoshare/internal/logging"
	"github.com/Tyrowin/geoshare/internal/server"
)

var (
	port string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the location hub",
		Long: "Run the location hub. Settings come from defaults, then the --config file, " +
			"then environment variables, then command line flags.",
		RunE: runServe,
	}
)

func init() {
	addServeFlags(serveCmd)
}

// addServeFlags registers the hub flags on cmd. Both the root command and
// serve accept them since serve is the default action.
func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen address, e.g. :3000 (overrides SERVER_PORT)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, cfg)

	if err := logging.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		return fmt.Errorf("failed to initialize log: %w", err)
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	log.Infof("Starting geoshare hub on %s", cfg.Port)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info("geoshare hub stopped")
	return nil
}

// applyFlags overrides cfg with the flags the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *server.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-file") {
		cfg.Log.File = logFile
	}
	cfg.Sanitize()
}
