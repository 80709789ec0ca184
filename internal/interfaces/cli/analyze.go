package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/LexNER/internal/app"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/pkg/client"
	"github.com/turtacn/LexNER/pkg/errors"
)

type analyzeOptions struct {
	text       string
	spaced     bool
	persist    bool
	async      bool
	sourceName string
}

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [file|-]",
		Short: "Extract entities from a document",
		Long: "Extract entities from a file, from standard input (\"-\") or from --text.\n" +
			"Runs the pipeline in-process unless --server is given.",
		Example: "  lexner analyze dilekce.txt\n" +
			"  cat karar.txt | lexner analyze - -o table\n" +
			"  lexner analyze --text \"Davacı Ahmet Yılmaz, 10.000 TL talep etti.\" --spaced",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.text, "text", "t", "", "text to analyze instead of a file")
	f.BoolVar(&opts.spaced, "spaced", false, "also match letter-spaced variants of known entities (overrides config)")
	f.BoolVar(&opts.persist, "persist", false, "store, export and index the analysis")
	f.BoolVar(&opts.async, "async", false, "submit to the Kafka request topic instead of waiting for the result")
	f.StringVar(&opts.sourceName, "source-name", "", "name recorded with the exported report (default: file name)")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string, opts *analyzeOptions) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	text, source, err := readInput(cmd, args, opts.text)
	if err != nil {
		return err
	}
	if opts.sourceName != "" {
		source = opts.sourceName
	}
	var spaced *bool
	if cmd.Flags().Changed("spaced") {
		spaced = &opts.spaced
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cc.Timeout)
	defer cancel()

	if opts.async {
		return submitAsync(cmd, ctx, cc, text, spaced)
	}

	backend, err := newBackend(cmd, cc)
	if err != nil {
		return err
	}
	defer backend.Close()

	res, err := backend.Analyze(ctx, &client.AnalyzeRequest{
		Text:          text,
		SpacedVariant: spaced,
		SourceName:    source,
		Persist:       &opts.persist,
	})
	if res != nil {
		if perr := PrintResult(cmd, analyzeView{res}); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if !res.Success {
		return failedAnalysisError(res)
	}
	return nil
}

// readInput returns the text to analyze and a name for its source.
func readInput(cmd *cobra.Command, args []string, text string) (string, string, error) {
	switch {
	case text != "" && len(args) > 0:
		return "", "", errors.InvalidParam("give either a file or --text, not both")
	case text != "":
		return text, "", nil
	case len(args) == 0:
		return "", "", errors.InvalidParam("nothing to analyze: give a file, \"-\" or --text")
	}

	var (
		data []byte
		err  error
		name string
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
		name = "stdin"
	} else {
		data, err = os.ReadFile(args[0])
		name = filepath.Base(args[0])
	}
	if err != nil {
		return "", "", fmt.Errorf("read input: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", "", errors.InvalidParam("input is empty")
	}
	return string(data), name, nil
}

func submitAsync(cmd *cobra.Command, ctx context.Context, cc *CLIContext, text string, spaced *bool) error {
	if cc.Client != nil {
		return errors.InvalidParam("--async publishes to Kafka directly and cannot be combined with --server")
	}
	a, err := app.Build(ctx, cc.Config, cc.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	sub, err := a.Submitter()
	if err != nil {
		return err
	}
	id, err := sub.Submit(ctx, text, spaced)
	if err != nil {
		return err
	}
	if cc.OutputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"request_id": id,
			"topic":      cc.Config.Kafka.RequestTopic,
		})
	}
	PrintSuccess(cmd, fmt.Sprintf("request %s submitted to %s", id, cc.Config.Kafka.RequestTopic))
	return nil
}

func failedAnalysisError(res *client.AnalyzeResult) error {
	if res.Error != nil && *res.Error == legal_ner.ErrModelNotAvailable {
		return errors.ModelNotAvailable()
	}
	msg := "analysis failed"
	if res.Error != nil {
		msg = *res.Error
	}
	return errors.New(errors.ErrCodeNERTaggerFailed, msg)
}
