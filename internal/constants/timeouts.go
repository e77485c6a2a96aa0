package constants

import "time"

// Shared duration vocabulary used by timeouts, polling and retry checks.
// Keep these centralized to simplify system-wide timing tuning.
const (
	Duration10Milliseconds  = 10 * time.Millisecond
	Duration50Milliseconds  = 50 * time.Millisecond
	Duration100Milliseconds = 100 * time.Millisecond
	Duration500Milliseconds = 500 * time.Millisecond

	Duration1Second   = 1 * time.Second
	Duration2Seconds  = 2 * time.Second
	Duration5Seconds  = 5 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration30Seconds = 30 * time.Second
)

// Domain-level timeout constants.
const (
	// DataBrokerConnectTimeout bounds a single connect attempt when the
	// caller does not configure one.
	DataBrokerConnectTimeout = Duration5Seconds

	// DataBrokerRequestTimeout bounds one-shot CLI requests.
	DataBrokerRequestTimeout = Duration10Seconds

	DataBrokerKeepaliveTime    = Duration30Seconds
	DataBrokerKeepaliveTimeout = Duration10Seconds

	RelayWriteTimeout    = Duration5Seconds
	RelayShutdownTimeout = Duration5Seconds
	RelayPingInterval    = Duration30Seconds
	RelayPongWait        = 2 * RelayPingInterval
	RelayReadHeader      = Duration10Seconds

	MockBrokerShutdownTimeout = Duration5Seconds
)

// DefaultDataBrokerHost and DefaultDataBrokerPort match the databroker's
// out-of-the-box listen address.
const (
	DefaultDataBrokerHost = "localhost"
	DefaultDataBrokerPort = 55556
)

// DefaultRelayListen is the websocket relay listen address.
const DefaultRelayListen = "127.0.0.1:8090"

// Relay buffer limits.
const (
	RelaySendBuffer = 256
	RelayReadLimit  = 64 << 10
)
