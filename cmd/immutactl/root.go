package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/immutactl/client"
	"github.com/yairfalse/immutactl/config"
)

var (
	version = "0.1.0"

	configFile string
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "immutactl",
		Short: "Governance platform tag and policy reconciliation",
		Long: `immutactl reconciles declarative tag and policy configuration
against a data governance platform.

It builds the tag hierarchies your configuration implies, keeps data source
and column tags in sync, and compiles global data and subscription policies,
creating or updating only what actually differs from the platform's state.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config-file", "", "Run configuration file (required)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug logging")
	_ = rootCmd.MarkPersistentFlagRequired("config-file")
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// buildClient resolves credentials and creates the platform client.
func buildClient(cfg *config.Config) (*client.Client, error) {
	scheme, err := authScheme(cfg.Auth)
	if err != nil {
		return nil, err
	}
	return client.New(cfg.BaseURL, scheme, client.WithLogger(log.Logger))
}

func authScheme(auth config.AuthConfig) (client.AuthScheme, error) {
	switch auth.Scheme {
	case config.SchemeAPIKey:
		apiKey, err := auth.APIKey.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve apiKey: %w", err)
		}
		return client.APIKeyAuth{APIKey: apiKey}, nil

	case config.SchemeUsernamePassword:
		username, err := auth.Username.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve username: %w", err)
		}
		password, err := auth.Password.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve password: %w", err)
		}
		return client.UsernamePasswordAuth{IAMID: auth.IAMID, Username: username, Password: password}, nil

	case config.SchemeOAuth2:
		refreshToken, err := auth.RefreshToken.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve refresh_token: %w", err)
		}
		clientID, err := auth.ClientID.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve client_id: %w", err)
		}
		clientSecret, err := auth.ClientSecret.Resolve()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve client_secret: %w", err)
		}
		return client.OAuth2Auth{RefreshToken: refreshToken, ClientID: clientID, ClientSecret: clientSecret}, nil

	default:
		return nil, fmt.Errorf("unknown auth scheme %q", auth.Scheme)
	}
}
