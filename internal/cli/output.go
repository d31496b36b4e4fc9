package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/querygate/internal/client"
	"github.com/TimurManjosov/querygate/internal/health"
	"github.com/TimurManjosov/querygate/internal/query"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// maxCellWidth truncates long values in table output.
const maxCellWidth = 60

// PrintResult outputs a query result in the specified format
func PrintResult(w io.Writer, res *query.Result, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, res)
	case FormatYAML:
		return printYAML(w, res)
	case FormatTable:
		if err := printResultTable(w, res); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "(%d %s)\n", res.RowCount, plural(res.RowCount, "row", "rows"))
		return err
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// PrintHealth outputs a health report in the specified format
func PrintHealth(w io.Writer, st *health.Status, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, st)
	case FormatYAML:
		return printYAML(w, st)
	case FormatTable:
		table := tablewriter.NewWriter(w)
		table.Header("Status", "Database", "Environment", "Timestamp", "Error")
		if err := table.Append(st.Status, st.Database, st.Environment, st.Timestamp, st.Error); err != nil {
			return err
		}
		return table.Render()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// FormatState renders one connectivity line for the watch command.
func FormatState(st client.State) string {
	ts := st.CheckedAt.Format(time.RFC3339)
	if st.Connected {
		return fmt.Sprintf("%s  ● connected", ts)
	}
	return fmt.Sprintf("%s  ○ disconnected: %s", ts, st.LastError)
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(w io.Writer, data any) error {
	// round-trip through JSON so yaml keys follow the json tags
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}

	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(generic)
}

func printResultTable(w io.Writer, res *query.Result) error {
	table := tablewriter.NewWriter(w)

	columns := columnNames(res)
	header := make([]any, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	table.Header(header...)

	for _, row := range res.Rows {
		cells := make([]any, len(columns))
		for i, col := range columns {
			cells[i] = formatCell(row[col])
		}
		if err := table.Append(cells...); err != nil {
			return err
		}
	}

	return table.Render()
}

// columnNames prefers field order; without field metadata the sorted keys of
// the first row are used.
func columnNames(res *query.Result) []string {
	if len(res.Fields) > 0 {
		names := make([]string, len(res.Fields))
		for i, f := range res.Fields {
			names[i] = f.Name
		}
		return names
	}
	if len(res.Rows) == 0 {
		return nil
	}
	names := make([]string, 0, len(res.Rows[0]))
	for k := range res.Rows[0] {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func formatCell(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		s = "NULL"
	case string:
		s = val
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprint(val)
		} else {
			s = string(b)
		}
	default:
		s = fmt.Sprint(val)
	}
	if len(s) > maxCellWidth {
		s = s[:maxCellWidth-3] + "..."
	}
	return s
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
