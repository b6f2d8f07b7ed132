package main

import (
	"github.com/spf13/cobra"

	"github.com/hupe1980/colloquy/server"
)

type serveFlags struct {
	*globalFlags
	listen         string
	allowedOrigins []string
}

func newServeCmd(g *globalFlags) *cobra.Command {
	f := serveFlags{globalFlags: g}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dialogue API over HTTP",
		Long: `Start an HTTP server exposing dialogues, sessions and replays as JSON
resources. Spectators connect to /events with a websocket.`,
		Example: `  colloquy serve --listen :8080

  # Follow one dialogue
  websocat "ws://localhost:8080/events?dialogue=<id>&type=turn_end"`,
		Args: cobra.NoArgs,
		RunE: f.run,
	}

	cmd.Flags().StringVarP(&f.listen, "listen", "l", ":8080", "Address to listen on")
	cmd.Flags().StringSliceVar(&f.allowedOrigins, "allowed-origin", nil, "Origins allowed to open event streams")

	return cmd
}

func (f *serveFlags) run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	logger, err := f.logger()
	if err != nil {
		return err
	}
	m, cleanup, err := f.newManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(m, func(o *server.Options) {
		o.AllowedOrigins = f.allowedOrigins
		o.Logger = logger.WithComponent("server")
	})
	printf(cmd.OutOrStdout(), "Listening on %s\n", f.listen)
	return srv.ListenAndServe(ctx, f.listen)
}
