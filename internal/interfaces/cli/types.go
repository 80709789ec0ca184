package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

// NewTypesCmd lists the entity types the pipeline emits.
func NewTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List entity types and their display names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cc.Timeout)
			defer cancel()

			backend, err := newBackend(cmd, cc)
			if err != nil {
				return err
			}
			defer backend.Close()

			types, err := backend.EntityTypes(ctx)
			if err != nil {
				return err
			}
			return PrintResult(cmd, typesView(types))
		},
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func (v versionInfo) TableHeaders() []string {
	return []string{"Version", "Commit", "Built", "Go", "Platform"}
}

func (v versionInfo) TableRows() [][]string {
	return [][]string{{v.Version, v.GitCommit, v.BuildDate, v.GoVersion, v.Platform}}
}

func (v versionInfo) WriteText(w io.Writer) {
	fmt.Fprintf(w, "lexner %s\n  commit:   %s\n  built:    %s\n  go:       %s\n  platform: %s\n",
		v.Version, v.GitCommit, v.BuildDate, v.GoVersion, v.Platform)
}

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return PrintResult(cmd, versionInfo{
				Version:   Version,
				GitCommit: GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			})
		},
	}
}
