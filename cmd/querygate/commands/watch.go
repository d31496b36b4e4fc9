package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/querygate/internal/cli"
	"github.com/TimurManjosov/querygate/internal/client"
)

var (
	watchInterval    time.Duration
	watchChangesOnly bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously display database connectivity",
	Long: `Poll /api/health at a fixed interval and print one status line per probe
until interrupted.

Examples:
  querygate watch
  querygate watch --interval 5s --changes-only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(client.WithPollInterval(watchInterval))
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		var last *bool
		c.OnConnectionChange(func(connected bool) {
			if watchChangesOnly && last != nil && *last == connected {
				return
			}
			last = &connected
			fmt.Fprintln(out, cli.FormatState(c.State()))
		})

		c.Start()
		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchInterval, "interval", client.DefaultPollInterval, "Time between health probes")
	watchCmd.Flags().BoolVar(&watchChangesOnly, "changes-only", false, "Print only when connectivity changes")
}
