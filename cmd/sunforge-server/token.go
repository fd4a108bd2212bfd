package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	domainauth "sunforge-server/internal/domain/auth"
	"sunforge-server/internal/platform/config"
)

func newTokenCmd() *cobra.Command {
	var (
		deviceID string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a telemetry device",
		Long: `Issue a signed bearer token that lets one device post readings to
/api/iot-ingest without the shared IoT API key. The token is signed with
server.auth.secret and expires after server.auth.token_ttl unless --ttl is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := issueToken(configPath, deviceID, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&deviceID, "device", "", "device ID the token is issued for")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: server.auth.token_ttl)")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

func issueToken(path, deviceID string, ttl time.Duration) (string, error) {
	loader := config.NewLoader()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		loader = loader.WithPaths(path)
	}
	result, err := loader.Load()
	if err != nil {
		return "", err
	}

	auth := result.Config.Server.Auth
	if !auth.Enabled {
		return "", fmt.Errorf("device tokens are disabled (server.auth.enabled=false)")
	}
	if strings.TrimSpace(auth.Secret) == "" {
		return "", fmt.Errorf("server.auth.secret is not set")
	}
	if ttl <= 0 {
		ttl = auth.TokenTTL
	}
	return domainauth.NewAuthToken(auth.Secret).WithTTL(ttl).GenerateToken(deviceID)
}
