// Package transport builds gRPC client connections to a data broker from
// caller supplied connection parameters.
//
// Plaintext connections only need an address. TLS connections resolve the
// certificate source to trust material when the connection is built; any
// failure to open or parse it is returned to the caller, there is no silent
// fallback to plaintext.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nupi-ai/kuksa/internal/constants"
)

var (
	// ErrInvalidConnectionInfo marks malformed connection parameters.
	ErrInvalidConnectionInfo = errors.New("transport: invalid connection info")
	// ErrTrustResolution marks a certificate source that could not be opened or parsed.
	ErrTrustResolution = errors.New("transport: trust material unavailable")
)

// CertificateSource yields the PEM encoded trust material of a certificate.
type CertificateSource interface {
	Open() (io.ReadCloser, error)
	String() string
}

// FileSource reads trust material from a file path.
type FileSource string

func (f FileSource) Open() (io.ReadCloser, error) {
	return os.Open(string(f))
}

func (f FileSource) String() string { return string(f) }

// BytesSource serves trust material held in memory.
type BytesSource []byte

func (b BytesSource) Open() (io.ReadCloser, error) {
	if len(b) == 0 {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (b BytesSource) String() string { return "<in-memory certificate>" }

// Certificate describes the root certificate used to verify the broker.
type Certificate struct {
	Source CertificateSource
	// OverrideAuthority replaces the authority (and TLS server name) sent to
	// the broker. Surrounding whitespace is ignored; empty means no override.
	OverrideAuthority string
}

// Authentication carries a bearer token presented on every request.
type Authentication struct {
	Token string
}

// ConnectionInfo is the immutable set of parameters for one connect attempt.
type ConnectionInfo struct {
	Host           string
	Port           int
	TLSEnabled     bool
	Certificate    *Certificate
	Authentication *Authentication
}

// Address returns host:port with the host trimmed.
func (c ConnectionInfo) Address() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(c.Port))
}

// Validate checks the structural constraints of the parameters.
func (c ConnectionInfo) Validate() error {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidConnectionInfo)
	}
	if strings.ContainsAny(host, " /\\") {
		return fmt.Errorf("%w: malformed host %q", ErrInvalidConnectionInfo, c.Host)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConnectionInfo, c.Port)
	}
	if c.TLSEnabled && (c.Certificate == nil || c.Certificate.Source == nil) {
		return fmt.Errorf("%w: TLS enabled without certificate", ErrInvalidConnectionInfo)
	}
	return nil
}

// DefaultConnectionInfo points at a local broker without TLS.
func DefaultConnectionInfo() ConnectionInfo {
	return ConnectionInfo{
		Host: constants.DefaultDataBrokerHost,
		Port: constants.DefaultDataBrokerPort,
	}
}

// TimeoutConfig bounds a connect attempt: Duration units of Unit.
type TimeoutConfig struct {
	Duration int64
	Unit     time.Duration
}

// Seconds returns a TimeoutConfig of n seconds.
func Seconds(n int64) TimeoutConfig {
	return TimeoutConfig{Duration: n, Unit: time.Second}
}

// Timeout converts the config to a duration. Non-positive values fall back
// to the default connect timeout.
func (t TimeoutConfig) Timeout() time.Duration {
	unit := t.Unit
	if unit <= 0 {
		unit = time.Second
	}
	d := time.Duration(t.Duration) * unit
	if d <= 0 {
		return constants.DataBrokerConnectTimeout
	}
	return d
}
