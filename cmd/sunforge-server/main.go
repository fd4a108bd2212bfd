package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sunforge-server/internal/bootstrap"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "sunforge-server",
	Short:   "Solar panel inspection and telemetry server",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: $SUNFORGE_CONFIG, .config.yaml, config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newTokenCmd())
}

func serve(ctx context.Context) error {
	fmt.Printf("[%s] [INFO] [Bootstrap] starting sunforge-server %s\n", time.Now().Format("2006-01-02 15:04:05.000"), Version)
	return bootstrap.Run(ctx, bootstrap.Options{ConfigPath: configPath})
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "sunforge-server failed: %v\n", err)
		os.Exit(1)
	}
}
