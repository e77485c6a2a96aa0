package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/nupi-ai/kuksa/internal/config"
	"github.com/nupi-ai/kuksa/internal/constants"
	"github.com/nupi-ai/kuksa/internal/engine"
	"github.com/nupi-ai/kuksa/internal/observability"
	kuksaversion "github.com/nupi-ai/kuksa/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type settingsKey struct{}

// settings are resolved once per invocation by the root command.
type settings struct {
	cfg    config.Config
	logger zerolog.Logger
}

func settingsFrom(cmd *cobra.Command) *settings {
	s, _ := cmd.Context().Value(settingsKey{}).(*settings)
	return s
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               "kuksa",
		Short:             "Client for KUKSA vehicle data brokers",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadSettings,
	}
	root.Version = kuksaversion.FormatVersion(kuksaversion.String())
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := root.PersistentFlags()
	flags.String("profile", config.DefaultProfile, "Profile under ~/.kuksa/profiles to load settings from")
	flags.String("host", "", "Broker host")
	flags.Int("port", 0, "Broker port")
	flags.Bool("tls", false, "Use TLS")
	flags.String("root-ca", "", "PEM root certificate used to verify the broker")
	flags.String("authority", "", "Override the authority and TLS server name")
	flags.String("token", "", "Bearer token")
	flags.String("token-file", "", "File holding a bearer token")
	flags.Duration("timeout", 0, "Connect timeout")
	flags.StringSlice("field", nil, "Fields to request (value, actuator_target, metadata, ...)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("json", false, "Output in JSON format")

	root.AddCommand(
		newGetCommand(),
		newSetCommand(),
		newSubscribeCommand(),
		newRelayCommand(),
		newVersionCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings layers command line flags over the profile settings and
// installs the logger.
func loadSettings(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	profile, _ := flags.GetString("profile")
	cfg, err := config.Load(profile)
	if err != nil {
		return err
	}

	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("tls") {
		cfg.TLS, _ = flags.GetBool("tls")
	}
	if flags.Changed("root-ca") {
		rootCA, _ := flags.GetString("root-ca")
		cfg.RootCA = config.ExpandPath(rootCA)
	}
	if flags.Changed("authority") {
		cfg.Authority, _ = flags.GetString("authority")
	}
	if flags.Changed("token") {
		cfg.Token, _ = flags.GetString("token")
	}
	if flags.Changed("token-file") {
		tokenFile, _ := flags.GetString("token-file")
		cfg.TokenFile = config.ExpandPath(tokenFile)
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("field") {
		raw, _ := flags.GetStringSlice("field")
		fields, err := parseFieldFlags(raw)
		if err != nil {
			return err
		}
		cfg.Fields = fields
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	logger := observability.InitLogger("kuksa", cfg.LogLevel)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, settingsKey{}, &settings{cfg: cfg, logger: logger}))
	return nil
}

// connect builds an engine from the resolved settings and connects it.
func connect(cmd *cobra.Command) (*engine.Engine, error) {
	s := settingsFrom(cmd)
	if s == nil {
		return nil, fmt.Errorf("settings not loaded")
	}
	info, err := s.cfg.ConnectionInfo(s.logger)
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Options{DefaultFields: s.cfg.Fields, Logger: &s.logger})
	if _, err := eng.Connect(cmd.Context(), info, s.cfg.TimeoutConfig()); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", info.Address(), err)
	}
	return eng, nil
}

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
	out      io.Writer
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode, out: cmd.OutOrStdout()}
}

// Print writes data as indented JSON.
func (f *OutputFormatter) Print(data any) error {
	jsonBytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(f.out, string(jsonBytes))
	return err
}

// Line writes one compact JSON document per call in JSON mode, text
// otherwise.
func (f *OutputFormatter) Line(data any, text string) error {
	if !f.jsonMode {
		_, err := fmt.Fprintln(f.out, text)
		return err
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(f.out, string(jsonBytes))
	return err
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout := constants.DataBrokerRequestTimeout
	if s := settingsFrom(cmd); s != nil && s.cfg.Timeout > timeout {
		timeout = s.cfg.Timeout
	}
	return context.WithTimeout(cmd.Context(), timeout)
}
