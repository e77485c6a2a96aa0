package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/broker/brokertest"
	"github.com/nupi-ai/kuksa/internal/broker/membroker"
	"github.com/nupi-ai/kuksa/internal/transport"
	kuksaversion "github.com/nupi-ai/kuksa/internal/version"
	"github.com/nupi-ai/kuksa/internal/vss/vehicle"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T) (*brokertest.Harness, context.Context) {
	t.Helper()
	t.Setenv("KUKSA_HOME", t.TempDir())
	srv := membroker.New(membroker.WithLogger(zerolog.Nop()), membroker.WithVersion("0.9.0"))
	for path, md := range vehicle.Metadata() {
		srv.Define(path, md)
	}
	speed := broker.FloatValue(50)
	srv.Seed(broker.DataEntry{Path: "Vehicle.Speed", Value: &speed})
	h := brokertest.Start(t, srv)
	return h, transport.ContextWithDialer(context.Background(), h.Dialer)
}

func execute(ctx context.Context, args ...string) (string, error) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestGet(t *testing.T) {
	_, ctx := startBroker(t)

	out, err := execute(ctx, "get", "Vehicle.Speed")
	require.NoError(t, err)
	assert.Equal(t, "Vehicle.Speed = 50\n", out)

	out, err = execute(ctx, "get", "--json", "Vehicle.Speed")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Vehicle.Speed", entries[0]["path"])
	assert.Equal(t, 50.0, entries[0]["value"])

	out, err = execute(ctx, "get", "--field", "metadata", "Vehicle.Speed")
	require.NoError(t, err)
	assert.Contains(t, out, "<float>")
}

func TestSetUsesBrokerDatatype(t *testing.T) {
	h, ctx := startBroker(t)

	out, err := execute(ctx, "set", "Vehicle.Speed", "72.5")
	require.NoError(t, err)
	assert.Contains(t, out, "Vehicle.Speed FIELD_VALUE <- 72.5")
	entry, _ := h.Broker.Entry("Vehicle.Speed")
	assert.Equal(t, float32(72.5), entry.Value.Value)

	_, err = execute(ctx, "set", "--target", "Vehicle.Body.Horn.IsActive", "true")
	require.NoError(t, err)
	horn, _ := h.Broker.Entry("Vehicle.Body.Horn.IsActive")
	require.NotNil(t, horn.ActuatorTarget)
	assert.Equal(t, true, horn.ActuatorTarget.Value)

	_, err = execute(ctx, "set", "Vehicle.Speed", "fast")
	assert.ErrorContains(t, err, `cannot parse "fast"`)

	_, err = execute(ctx, "set", "--type", "colour", "Vehicle.Speed", "1")
	assert.ErrorContains(t, err, "unknown datatype")
}

func TestSubscribeStopsAfterCount(t *testing.T) {
	_, ctx := startBroker(t)

	out, err := execute(ctx, "subscribe", "--count", "1", "Vehicle.Speed")
	require.NoError(t, err)
	assert.Equal(t, "Vehicle.Speed = 50\n", out)
}

func TestConnectFailures(t *testing.T) {
	_, ctx := startBroker(t)

	_, err := execute(ctx, "get", "--port", "0", "Vehicle.Speed")
	require.ErrorIs(t, err, transport.ErrInvalidConnectionInfo)

	_, err = execute(ctx, "get", "--tls", "--root-ca", "/does/not/exist.pem", "Vehicle.Speed")
	require.ErrorIs(t, err, transport.ErrTrustResolution)

	_, err = execute(ctx, "get", "--field", "colour", "Vehicle.Speed")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	_, ctx := startBroker(t)
	t.Cleanup(kuksaversion.ForTesting("0.9.0"))

	out, err := execute(ctx, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Client: v0.9.0")
	assert.Contains(t, out, "Broker: kuksa-mock v0.9.0")
	assert.NotContains(t, out, "WARNING")

	out, err = execute(ctx, "version", "--json", "--port", "0")
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	assert.Nil(t, data["broker"])
	assert.Contains(t, data["broker_error"], "port 0 out of range")
}

func TestParseFieldFlags(t *testing.T) {
	fields, err := parseFieldFlags([]string{"value, actuator_target", "metadata_unit"})
	require.NoError(t, err)
	assert.Equal(t, []broker.Field{broker.FieldValue, broker.FieldActuatorTarget, broker.FieldMetadataUnit}, fields)

	_, err = parseFieldFlags([]string{" , "})
	assert.Error(t, err)
}

func TestOriginAllowed(t *testing.T) {
	allowed := originAllowed([]string{"http://dash.local/ "})
	assert.True(t, allowed("http://dash.local"))
	assert.False(t, allowed("http://other.local"))
	assert.False(t, originAllowed(nil)("http://dash.local"))
}

func TestFormatEntry(t *testing.T) {
	value := broker.FloatValue(3)
	target := broker.BoolValue(true)
	entry := broker.DataEntry{
		Path:           "Vehicle.Speed",
		Value:          &value,
		ActuatorTarget: &target,
		Metadata:       &broker.Metadata{DataType: broker.DataTypeFloat, Unit: "km/h"},
	}
	assert.Equal(t, "Vehicle.Speed = 3 target=true <float> (km/h)", formatEntry(entry))
	assert.True(t, strings.HasPrefix(formatEntry(broker.DataEntry{Path: "Vehicle"}), "Vehicle"))
}
