package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/querygate/internal/cli"
)

var (
	queryParams []string
	queryFile   string
)

var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Execute a SQL query",
	Long: `Execute a SQL query on the server. Failed attempts are retried up to three
times with exponential backoff (1s, 2s, 4s); client errors are not retried.

Parameters are positional ($1, $2, ...). Each --param value is decoded as JSON
when possible, so 42 is a number, true a boolean and '"42"' a string; anything
else is sent as a plain string.

Examples:
  querygate query "SELECT 1"
  querygate query "SELECT * FROM orders WHERE customer_id = $1 AND status = $2" --param 7 --param shipped
  querygate query --file report.sql --format yaml
  echo "SELECT now()" | querygate query -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readQueryText(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		defer c.Close()

		res, err := c.Query(context.Background(), text, parseParams(queryParams)...)
		if err != nil {
			return err
		}

		if quiet {
			return nil
		}
		return cli.PrintResult(cmd.OutOrStdout(), res, cli.OutputFormat(format))
	},
}

func readQueryText(args []string, stdin io.Reader) (string, error) {
	switch {
	case queryFile != "":
		data, err := os.ReadFile(queryFile)
		if err != nil {
			return "", fmt.Errorf("failed to read query file: %w", err)
		}
		return string(data), nil
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read query from stdin: %w", err)
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("query text is required (argument, --file, or - for stdin)")
	}
}

func parseParams(raw []string) []any {
	params := make([]any, len(raw))
	for i, s := range raw {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v); err == nil {
			params[i] = v
			continue
		}
		params[i] = s
	}
	return params
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringArrayVarP(&queryParams, "param", "p", nil, "Positional query parameter (repeatable)")
	queryCmd.Flags().StringVarP(&queryFile, "file", "f", "", "Read the query from a file")
}
