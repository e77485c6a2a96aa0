package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/nupi-ai/kuksa/internal/constants"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// PassthroughPrefix is the gRPC target scheme that bypasses DNS resolution,
// so the address is handed to the dialer verbatim.
const PassthroughPrefix = "passthrough:///"

// QoSConfig holds quality-of-service parameters for broker connections.
type QoSConfig struct {
	KeepaliveTime    time.Duration // interval between keepalive pings
	KeepaliveTimeout time.Duration // timeout waiting for ping ack
}

// DefaultQoS returns the keepalive defaults for broker connections.
func DefaultQoS() *QoSConfig {
	return &QoSConfig{
		KeepaliveTime:    constants.DataBrokerKeepaliveTime,
		KeepaliveTimeout: constants.DataBrokerKeepaliveTimeout,
	}
}

// TLSConfig resolves the certificate source into a tls.Config whose root
// pool holds only that certificate.
func TLSConfig(cert *Certificate) (*tls.Config, error) {
	if cert == nil || cert.Source == nil {
		return nil, fmt.Errorf("%w: no certificate source", ErrTrustResolution)
	}

	rc, err := cert.Source.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrTrustResolution, cert.Source, err)
	}
	defer rc.Close()

	pem, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrTrustResolution, cert.Source, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: parse %s: no PEM certificate found", ErrTrustResolution, cert.Source)
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
	}
	if authority := strings.TrimSpace(cert.OverrideAuthority); authority != "" {
		cfg.ServerName = authority
	}
	return cfg, nil
}

type dialerContextKey struct{}

// ContextWithDialer attaches a custom dialer to the context.
// This is primarily for tests using bufconn without real network sockets.
func ContextWithDialer(ctx context.Context, dialer func(context.Context, string) (net.Conn, error)) context.Context {
	if ctx == nil || dialer == nil {
		return ctx
	}
	return context.WithValue(ctx, dialerContextKey{}, dialer)
}

// DialerFromContext extracts a custom dialer from the context, if present.
func DialerFromContext(ctx context.Context) func(context.Context, string) (net.Conn, error) {
	if ctx == nil {
		return nil
	}
	dialer, _ := ctx.Value(dialerContextKey{}).(func(context.Context, string) (net.Conn, error))
	return dialer
}

// DialOptions returns the gRPC dial options for info.
//
// Plaintext connections use insecure credentials. TLS connections resolve
// the certificate first and fail with ErrTrustResolution when that is not
// possible. A non-blank override authority is applied to the channel. When
// creds is non-nil it is seeded with the token of info and presented on
// every request.
func DialOptions(ctx context.Context, info ConnectionInfo, qos *QoSConfig, creds *TokenCredentials) ([]grpc.DialOption, error) {
	var opts []grpc.DialOption

	if info.TLSEnabled {
		tlsCfg, err := TLSConfig(info.Certificate)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
		if authority := strings.TrimSpace(info.Certificate.OverrideAuthority); authority != "" {
			opts = append(opts, grpc.WithAuthority(authority))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if creds != nil {
		if info.Authentication != nil && strings.TrimSpace(info.Authentication.Token) != "" {
			creds.SetToken(info.Authentication.Token)
		}
		opts = append(opts, grpc.WithPerRPCCredentials(creds))
	}

	if qos != nil && qos.KeepaliveTime > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                qos.KeepaliveTime,
			Timeout:             qos.KeepaliveTimeout,
			PermitWithoutStream: true,
		}))
	}

	if dialer := DialerFromContext(ctx); dialer != nil {
		opts = append(opts, grpc.WithContextDialer(dialer))
	}

	return opts, nil
}

// Build validates info and creates an idle client connection. No network
// activity happens until the connection is driven by a connector. The
// returned credentials are the only source of the bearer token on the
// channel; replacing their token affects every later request.
//
// Channel idleness is disabled: a live connection only leaves READY when the
// transport actually drops.
func Build(ctx context.Context, info ConnectionInfo, extraOpts ...grpc.DialOption) (*grpc.ClientConn, *TokenCredentials, error) {
	if err := info.Validate(); err != nil {
		return nil, nil, err
	}

	creds := NewTokenCredentials("")
	opts, err := DialOptions(ctx, info, DefaultQoS(), creds)
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, grpc.WithIdleTimeout(0))
	opts = append(opts, extraOpts...)

	conn, err := grpc.NewClient(PassthroughPrefix+info.Address(), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create client for %s: %w", ErrInvalidConnectionInfo, info.Address(), err)
	}
	return conn, creds, nil
}
