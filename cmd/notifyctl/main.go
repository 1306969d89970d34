// Package main is notifyctl, the operator and developer companion to the
// notify server.
//
//	notifyctl migrate                 create or update the notification schema
//	notifyctl seed --user alice       insert sample notifications
//	notifyctl token --user alice      print a development JWT
//	notifyctl listen --channel exec:1 stream a user's live events
package main

import (
	"fmt"
	"os"

	"notify-service/internal/config"
	"notify-service/internal/logger"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "notifyctl",
		Short:        "Operate and exercise the notify service",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildMigrateCmd(),
		buildSeedCmd(),
		buildTokenCmd(),
		buildListenCmd(),
	)
	return rootCmd
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  "pretty",
		Service: "notifyctl",
		Output:  os.Stderr,
	})
	return cfg, log, nil
}
