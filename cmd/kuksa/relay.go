package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/nupi-ai/kuksa/internal/relay"
	"github.com/spf13/cobra"
)

func newRelayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve broker subscriptions to websocket clients",
		Long: `Connect to the broker and expose /subscribe (websocket), /healthz and
/metrics over HTTP until interrupted.`,
		Args: cobra.NoArgs,
		RunE: runRelay,
	}
	cmd.Flags().String("listen", "", "Listen address (default from the profile, 127.0.0.1:8090)")
	cmd.Flags().StringSlice("allow-origin", nil, "Browser origins allowed to connect")
	return cmd
}

func runRelay(cmd *cobra.Command, _ []string) error {
	s := settingsFrom(cmd)
	listen := s.cfg.Listen
	if cmd.Flags().Changed("listen") {
		listen, _ = cmd.Flags().GetString("listen")
	}
	origins, _ := cmd.Flags().GetStringSlice("allow-origin")

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	cmd.SetContext(ctx)

	eng, err := connect(cmd)
	if err != nil {
		return err
	}
	defer eng.Disconnect()

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listen, err)
	}
	srv := relay.NewServer(eng, originAllowed(origins), s.logger)
	return srv.Serve(ctx, ln)
}

func originAllowed(origins []string) func(string) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[strings.TrimRight(strings.TrimSpace(origin), "/")] = struct{}{}
	}
	return func(origin string) bool {
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}
