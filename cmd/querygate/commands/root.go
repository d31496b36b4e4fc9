package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/TimurManjosov/querygate/internal/cli"
	"github.com/TimurManjosov/querygate/internal/client"
)

var (
	// Global flags
	baseURL string
	profile string
	format  string
	quiet   bool
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "querygate",
	Short: "CLI client for the querygate SQL gateway",
	Long: `querygate talks to a querygate server: it runs SQL through POST /api/query
with automatic retries and reports database health.

Examples:
  querygate query "SELECT now()"
  querygate query "SELECT * FROM users WHERE id = $1" --param 42 --format json
  querygate health --profile staging
  querygate watch --interval 5s
  querygate config init`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the querygate server")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Profile from ~/.querygate/config.yaml")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log retries and probe failures to stderr")
}

// newClient builds an API client from the resolved profile and global flags.
func newClient(extra ...client.Option) (*client.Client, error) {
	p, _, err := cli.ResolveProfile(profile, baseURL)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	var opts []client.Option
	if p.Timeout > 0 {
		opts = append(opts, client.WithHTTPClient(&http.Client{Timeout: p.Timeout}))
	}
	if p.MaxRetries != nil {
		opts = append(opts, client.WithRetryPolicy(*p.MaxRetries, client.DefaultBaseDelay, client.DefaultMaxDelay))
	}
	if verbose {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
		opts = append(opts, client.WithLogger(logger))
	}
	opts = append(opts, extra...)

	return client.New(p.BaseURL, opts...), nil
}
