package observability

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("chatty"))
}

func TestInitLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := initLogger(&buf, "kuksa", "warn")

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "app=kuksa")
	assert.NotContains(t, out, "\x1b[")
}

func TestIsTerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	assert.False(t, isTerminal(f))
	assert.False(t, isTerminal(&bytes.Buffer{}))
}

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(requests.WithLabelValues("fetch", "path", "ok"))
	RecordRequest("fetch", "path", Result(nil))
	RecordRequest("fetch", "path", Result(nil))
	after := testutil.ToFloat64(requests.WithLabelValues("fetch", "path", "ok"))
	assert.Equal(t, before+2, after)

	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestRelayClientsGauge(t *testing.T) {
	before := testutil.ToFloat64(relayClients)
	RelayClientOpened()
	assert.Equal(t, before+1, testutil.ToFloat64(relayClients))
	RelayClientClosed()
	assert.Equal(t, before, testutil.ToFloat64(relayClients))
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordConnect(false, "ok")
	RecordDisconnect("explicit")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "kuksa_engine_connects_total")
	assert.Contains(t, body, "kuksa_engine_disconnects_total")
}
