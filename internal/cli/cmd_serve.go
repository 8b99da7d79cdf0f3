package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/api"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the apex daemon",
		Long: `Run the daemon: scheduler, capacity monitor, definition watcher,
PR status poller, and the REST/WebSocket API.

The API listens on server.host:server.port from .apex/config.yaml
(default 127.0.0.1:7433). Stop with Ctrl+C; running tasks are drained.

Example:
  apex serve
  apex serve --port 9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, cleanup, err := openOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if cmd.Flags().Changed("port") {
				port, _ := cmd.Flags().GetInt("port")
				o.Config().Server.Port = port
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				<-sigCh
				fmt.Fprintln(cmd.ErrOrStderr(), "\nShutting down...")
				cancel()
			}()

			if err := o.Start(ctx); err != nil {
				return err
			}
			defer o.Stop()

			logger := cliLogger()
			poller := api.NewPoller(o.Store(), o.Config(), projectPath,
				api.WithPollerPublisher(o.Publisher()),
				api.WithPollerLogger(logger),
			)
			srv := api.New(o,
				api.WithLogger(logger),
				api.WithPoller(poller),
			)

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "apex daemon running on %s:%d (Ctrl+C to stop)\n",
					o.Config().Server.Host, o.Config().Server.Port)
			}
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntP("port", "p", 0, "override the configured API port")
	return cmd
}
