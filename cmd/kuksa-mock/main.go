package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/broker/membroker"
	"github.com/nupi-ai/kuksa/internal/constants"
	"github.com/nupi-ai/kuksa/internal/observability"
	kuksaversion "github.com/nupi-ai/kuksa/internal/version"
	"github.com/nupi-ai/kuksa/internal/vss"
	"github.com/nupi-ai/kuksa/internal/vss/definition"
	"github.com/nupi-ai/kuksa/internal/vss/vehicle"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "kuksa-mock",
		Short:         "In-memory vehicle data broker for local testing",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runMock,
	}
	rootCmd.Version = kuksaversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := rootCmd.Flags()
	flags.String("listen", fmt.Sprintf("127.0.0.1:%d", constants.DefaultDataBrokerPort), "gRPC listen address")
	flags.String("definition", "", "VSS definition (.yaml or .json) declaring the served paths")
	flags.Bool("strict", false, "Reject paths that are not declared")
	flags.String("tls-cert", "", "PEM certificate; enables TLS together with --tls-key")
	flags.String("tls-key", "", "PEM private key")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMock(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	listen, _ := flags.GetString("listen")
	definitionPath, _ := flags.GetString("definition")
	strict, _ := flags.GetBool("strict")
	certFile, _ := flags.GetString("tls-cert")
	keyFile, _ := flags.GetString("tls-key")
	level, _ := flags.GetString("log-level")

	logger := observability.InitLogger("kuksa-mock", level)

	srv := membroker.New(
		membroker.WithLogger(logger),
		membroker.WithStrict(strict),
		membroker.WithVersion(kuksaversion.String()),
	)
	if err := seed(srv, definitionPath); err != nil {
		return err
	}

	var opts []grpc.ServerOption
	if certFile != "" || keyFile != "" {
		if certFile == "" || keyFile == "" {
			return errors.New("--tls-cert and --tls-key must be given together")
		}
		creds, err := credentials.NewServerTLSFromFile(certFile, keyFile)
		if err != nil {
			return fmt.Errorf("load TLS key pair: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listen, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, ln, srv, logger, opts...)
}

// seed declares the paths of the definition file, or of the built-in vehicle
// model when path is empty, and stores their default values.
func seed(srv *membroker.Server, path string) error {
	if strings.TrimSpace(path) == "" {
		for p, md := range vehicle.Metadata() {
			srv.Define(p, md)
		}
		return nil
	}

	def, err := definition.LoadFile(path)
	if err != nil {
		return err
	}
	roots := make(map[string]struct{})
	for p, md := range def.Metadata() {
		srv.Define(p, md)
		if components := vss.PathComponents(p); len(components) > 0 {
			roots[components[0]] = struct{}{}
		}
	}

	for root := range roots {
		tree, err := def.Tree(root)
		if err != nil {
			return err
		}
		var defaults []broker.DataEntry
		for _, sig := range vss.Signals(tree) {
			dp := sig.Datapoint()
			if !dp.IsSet() {
				continue
			}
			defaults = append(defaults, broker.DataEntry{Path: sig.VSSPath(), Value: &dp})
		}
		if len(defaults) > 0 {
			srv.Seed(defaults...)
		}
	}
	return nil
}

// serve runs srv on ln until ctx is cancelled.
func serve(ctx context.Context, ln net.Listener, srv *membroker.Server, logger zerolog.Logger, opts ...grpc.ServerOption) error {
	grpcServer := grpc.NewServer(opts...)
	broker.RegisterVALServer(grpcServer, srv)

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(ln)
	}()
	logger.Info().Str("listen", ln.Addr().String()).Int("paths", len(srv.Paths())).Msg("mock broker serving")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(constants.MockBrokerShutdownTimeout):
		logger.Warn().Msg("graceful stop timed out, closing open streams")
		grpcServer.Stop()
	}
	return nil
}
