// Package config resolves broker connection settings.
//
// Settings are layered: built-in defaults, then the profile's TOML file, then
// its dotenv file, then KUKSA_* environment variables. Command line flags are
// applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/constants"
	"github.com/nupi-ai/kuksa/internal/transport"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment variable read by Config.ApplyEnv.
const EnvPrefix = "KUKSA_"

// Config holds resolved client settings.
type Config struct {
	Host      string
	Port      int
	TLS       bool
	RootCA    string
	Authority string
	Token     string
	TokenFile string
	Timeout   time.Duration
	Fields    []broker.Field
	LogLevel  string
	Listen    string
}

type fileConfig struct {
	Host      string   `toml:"host"`
	Port      int      `toml:"port"`
	TLS       bool     `toml:"tls"`
	RootCA    string   `toml:"root_ca"`
	Authority string   `toml:"authority"`
	TokenFile string   `toml:"token_file"`
	Timeout   string   `toml:"timeout"`
	Fields    []string `toml:"fields"`
	LogLevel  string   `toml:"log_level"`
	Relay     struct {
		Listen string `toml:"listen"`
	} `toml:"relay"`
}

// Default returns the settings of a local plaintext broker.
func Default() Config {
	return Config{
		Host:     constants.DefaultDataBrokerHost,
		Port:     constants.DefaultDataBrokerPort,
		Timeout:  constants.DataBrokerConnectTimeout,
		Fields:   []broker.Field{broker.FieldValue},
		LogLevel: "info",
		Listen:   constants.DefaultRelayListen,
	}
}

// Load resolves the settings of a profile: defaults, the profile's TOML file
// and dotenv file when present, then the process environment.
func Load(profileName string) (Config, error) {
	paths := GetProfilePaths(profileName)
	cfg := Default()
	if err := cfg.ApplyFile(paths.Config); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	if err := LoadEnvFile(paths.Env); err != nil {
		return Config{}, fmt.Errorf("load %s: %w", paths.Env, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if cfg.TokenFile == "" {
		if _, err := os.Stat(paths.Token); err == nil {
			cfg.TokenFile = paths.Token
		}
	}
	return cfg, nil
}

// LoadEnvFile loads a dotenv file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyFile overlays the keys defined in a TOML file.
func (c *Config) ApplyFile(path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}

	if meta.IsDefined("host") {
		c.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		c.Port = raw.Port
	}
	if meta.IsDefined("tls") {
		c.TLS = raw.TLS
	}
	if meta.IsDefined("root_ca") {
		c.RootCA = ExpandPath(strings.TrimSpace(raw.RootCA))
	}
	if meta.IsDefined("authority") {
		c.Authority = strings.TrimSpace(raw.Authority)
	}
	if meta.IsDefined("token_file") {
		c.TokenFile = ExpandPath(strings.TrimSpace(raw.TokenFile))
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		c.Timeout = d
	}
	if meta.IsDefined("fields") {
		fields, err := broker.ParseFields(raw.Fields)
		if err != nil {
			return fmt.Errorf("parse fields: %w", err)
		}
		c.Fields = fields
	}
	if meta.IsDefined("log_level") {
		c.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("relay", "listen") {
		c.Listen = strings.TrimSpace(raw.Relay.Listen)
	}
	return nil
}

// ApplyEnv overlays KUKSA_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("HOST"); ok {
		c.Host = v
	}
	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sPORT: %w", EnvPrefix, err)
		}
		c.Port = port
	}
	if v, ok := get("TLS"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %sTLS: %w", EnvPrefix, err)
		}
		c.TLS = enabled
	}
	if v, ok := get("ROOT_CA"); ok {
		c.RootCA = ExpandPath(v)
	}
	if v, ok := get("AUTHORITY"); ok {
		c.Authority = v
	}
	if v, ok := get("TOKEN"); ok {
		c.Token = v
	}
	if v, ok := get("TOKEN_FILE"); ok {
		c.TokenFile = ExpandPath(v)
	}
	if v, ok := get("TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sTIMEOUT: %w", EnvPrefix, err)
		}
		c.Timeout = d
	}
	if v, ok := get("FIELDS"); ok {
		fields, err := broker.ParseFields(strings.Split(v, ","))
		if err != nil {
			return fmt.Errorf("parse %sFIELDS: %w", EnvPrefix, err)
		}
		c.Fields = fields
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("RELAY_LISTEN"); ok {
		c.Listen = v
	}
	return nil
}

// ConnectionInfo converts the settings to connect parameters. An inline
// token wins over a token file.
func (c Config) ConnectionInfo(logger zerolog.Logger) (transport.ConnectionInfo, error) {
	info := transport.ConnectionInfo{
		Host:       c.Host,
		Port:       c.Port,
		TLSEnabled: c.TLS,
	}
	if c.TLS && c.RootCA != "" {
		info.Certificate = &transport.Certificate{
			Source:            transport.FileSource(c.RootCA),
			OverrideAuthority: c.Authority,
		}
	}

	switch {
	case c.Token != "":
		info.Authentication = &transport.Authentication{Token: c.Token}
	case c.TokenFile != "":
		auth, err := transport.LoadToken(c.TokenFile, logger)
		if err != nil {
			return transport.ConnectionInfo{}, err
		}
		info.Authentication = auth
	}

	if err := info.Validate(); err != nil {
		return transport.ConnectionInfo{}, err
	}
	return info, nil
}

// TimeoutConfig returns the connect timeout in milliseconds.
func (c Config) TimeoutConfig() transport.TimeoutConfig {
	return transport.TimeoutConfig{Duration: c.Timeout.Milliseconds(), Unit: time.Millisecond}
}
