package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turtacn/LexNER/internal/app"
)

// runService is swapped in tests.
var runService = app.RunService

// NewServeCmd starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cc.Config.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cc.Config.Server.Port = port
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runService(ctx, cc.Config, "apiserver", (*app.App).RunHTTP)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

// NewWorkerCmd starts the Kafka analysis worker.
func NewWorkerCmd() *cobra.Command {
	var (
		group       string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume analyze requests from Kafka",
		Long: "Consumes the request topic, analyzes each document, stores the result and\n" +
			"publishes it to the completed topic. Requires kafka.enabled.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cc.Config.Kafka.Enabled = true
			if group != "" {
				cc.Config.Kafka.GroupID = group
			}
			if concurrency > 0 {
				cc.Config.Worker.Concurrency = concurrency
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runService(ctx, cc.Config, "worker", (*app.App).RunWorker)
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "consumer group (overrides kafka.group_id)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent handlers (overrides worker.concurrency)")
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
