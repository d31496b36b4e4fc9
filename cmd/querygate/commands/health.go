package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/querygate/internal/cli"
	"github.com/TimurManjosov/querygate/internal/client"
)

var healthWait time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server and database health",
	Long: `Fetch /api/health once and print the report. Exits non-zero when the
database is unreachable.

With --wait the command polls until the database is connected or the wait
expires.

Examples:
  querygate health
  querygate health --format json
  querygate health --wait 30s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if healthWait > 0 {
			return waitHealthy(cmd)
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		st, err := c.Health(context.Background())
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		if !quiet {
			if err := cli.PrintHealth(cmd.OutOrStdout(), st, cli.OutputFormat(format)); err != nil {
				return err
			}
		}
		if !st.Healthy() {
			return fmt.Errorf("database %s: %s", st.Database, st.Error)
		}
		return nil
	},
}

func waitHealthy(cmd *cobra.Command) error {
	c, err := newClient(client.WithPollInterval(time.Second))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), healthWait)
	defer cancel()

	c.Start()
	if err := c.WaitConnected(ctx); err != nil {
		return fmt.Errorf("database not reachable after %s: %s", healthWait, c.State().LastError)
	}
	if !quiet {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatState(c.State()))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(healthCmd)

	healthCmd.Flags().DurationVar(&healthWait, "wait", 0, "Poll until the database is connected, up to this long")
}
