package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/turtacn/LexNER/pkg/client"
	"github.com/turtacn/LexNER/pkg/errors"
)

// NewSearchCmd creates the entity search command.
func NewSearchCmd() *cobra.Command {
	opts := &client.SearchOptions{}
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search entities extracted from stored analyses",
		Long: "Full-text search over indexed entities. Turkish suffixes are stemmed, so\n" +
			"\"Ankara'da\" and \"Ankara\" match the same documents.",
		Example: "  lexner search yargıtay --type ORGANIZATION\n" +
			"  lexner search --analysis-id 5b1e1f2c-3d4e-4f50-8a6b-7c8d9e0f1a2b -o table",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if opts.Query != "" {
					return errors.InvalidParam("give the query as an argument or --query, not both")
				}
				opts.Query = args[0]
			}
			return runSearch(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.Query, "query", "q", "", "search text")
	f.StringVar(&opts.Type, "type", "", "restrict to an entity type, e.g. PERSON")
	f.StringVar(&opts.Origin, "origin", "", "restrict to an origin (http, cli, worker)")
	f.StringVar(&opts.AnalysisID, "analysis-id", "", "restrict to one analysis")
	f.IntVar(&opts.Page, "page", 1, "page number")
	f.IntVar(&opts.PageSize, "page-size", 20, "results per page (max 100)")
	return cmd
}

func runSearch(cmd *cobra.Command, opts *client.SearchOptions) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	if opts.Page < 1 {
		return errors.InvalidParam("--page must be at least 1")
	}
	if opts.PageSize < 1 || opts.PageSize > 100 {
		return errors.InvalidParam("--page-size must be between 1 and 100")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cc.Timeout)
	defer cancel()

	backend, err := newBackend(cmd, cc)
	if err != nil {
		return err
	}
	defer backend.Close()

	res, err := backend.SearchEntities(ctx, opts)
	if err != nil {
		return err
	}
	return PrintResult(cmd, searchView{res})
}
