package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/turtacn/LexNER/pkg/client"
)

// tableData is implemented by results that render as a table.
type tableData interface {
	TableHeaders() []string
	TableRows() [][]string
}

// textData is implemented by results with a human-readable form.
type textData interface {
	WriteText(w io.Writer)
}

// PrintResult outputs data in the format chosen by --output.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := "text"
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		format = cliCtx.OutputFormat
	}
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		return printJSON(out, data)
	case "table":
		if td, ok := data.(tableData); ok {
			return renderTable(out, td.TableHeaders(), td.TableRows())
		}
	}
	if td, ok := data.(textData); ok {
		td.WriteText(out)
		return nil
	}
	fmt.Fprintf(out, "%+v\n", data)
	return nil
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}

func renderTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewWriter(w)
	table.Header(headers)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.RedString("Error:"), err.Error())
}

// PrintSuccess writes a formatted success message to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("OK:"), msg)
}

var typeColors = map[string]func(format string, a ...interface{}) string{
	"PERSON":       color.CyanString,
	"ORGANIZATION": color.BlueString,
	"LOCATION":     color.GreenString,
	"MONEY":        color.YellowString,
	"DATE_TIME":    color.MagentaString,
	"PHONE_EMAIL":  color.HiBlackString,
	"LEGAL_REF":    color.RedString,
}

func colorType(t string) string {
	if fn, ok := typeColors[t]; ok {
		return fn("%s", t)
	}
	return t
}

func formatConfidence(c *float64) string {
	if c == nil {
		return "-"
	}
	s := strconv.FormatFloat(*c, 'f', 2, 64)
	switch {
	case *c >= 0.9:
		return color.GreenString("%s", s)
	case *c >= 0.6:
		return color.YellowString("%s", s)
	default:
		return color.RedString("%s", s)
	}
}

// analyzeView renders an analysis result.
type analyzeView struct {
	*client.AnalyzeResult
}

func (v analyzeView) TableHeaders() []string {
	return []string{"#", "Type", "Text", "Span", "Source", "Confidence"}
}

func (v analyzeView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Entities))
	for i, e := range v.Entities {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			colorType(e.Type),
			e.Text,
			fmt.Sprintf("%d-%d", e.Start, e.End),
			e.Source,
			formatConfidence(e.Confidence),
		})
	}
	return rows
}

func (v analyzeView) WriteText(w io.Writer) {
	if !v.Success {
		msg := "analysis failed"
		if v.Error != nil {
			msg = *v.Error
		}
		fmt.Fprintln(w, color.RedString("✗ %s", msg))
		return
	}
	header := fmt.Sprintf("%d entities", v.EntityCount)
	if v.DurationMs > 0 {
		header += fmt.Sprintf(" in %d ms", v.DurationMs)
	}
	if v.Cached {
		header += " (cached)"
	}
	fmt.Fprintln(w, color.New(color.Bold).Sprint(header))
	for _, e := range v.Entities {
		fmt.Fprintf(w, "  %-22s %s  [%d:%d] %s\n", colorType(e.Type), e.Text, e.Start, e.End, e.Source)
	}
	if len(v.Summary) > 0 {
		keys := make([]string, 0, len(v.Summary))
		for k := range v.Summary {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprint(w, "Summary:")
		for _, k := range keys {
			fmt.Fprintf(w, " %s=%d", k, v.Summary[k])
		}
		fmt.Fprintln(w)
	}
	if v.AnalysisID != "" {
		fmt.Fprintf(w, "Analysis ID: %s\n", v.AnalysisID)
	}
}

// searchView renders entity search hits.
type searchView struct {
	*client.SearchResult
}

func (v searchView) TableHeaders() []string {
	return []string{"Score", "Type", "Text", "Analysis", "Span"}
}

func (v searchView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Hits))
	for _, h := range v.Hits {
		rows = append(rows, []string{
			strconv.FormatFloat(h.Score, 'f', 2, 64),
			colorType(h.Document.Type),
			h.Document.Text,
			h.Document.AnalysisID,
			fmt.Sprintf("%d-%d", h.Document.Start, h.Document.End),
		})
	}
	return rows
}

func (v searchView) WriteText(w io.Writer) {
	fmt.Fprintf(w, "%d matches (%d ms)\n", v.Total, v.TookMs)
	for _, h := range v.Hits {
		fmt.Fprintf(w, "  %-22s %s  analysis=%s\n", colorType(h.Document.Type), h.Document.Text, h.Document.AnalysisID)
	}
}

// typesView renders the entity type table.
type typesView []client.EntityType

func (v typesView) TableHeaders() []string { return []string{"Type", "Name", "Icon"} }

func (v typesView) TableRows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, t := range v {
		rows = append(rows, []string{colorType(t.Type), t.Name, t.Icon})
	}
	return rows
}

func (v typesView) WriteText(w io.Writer) {
	for _, t := range v {
		fmt.Fprintf(w, "%-22s %s\n", colorType(t.Type), t.Name)
	}
}
