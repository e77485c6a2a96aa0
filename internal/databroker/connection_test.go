package databroker

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nupi-ai/kuksa/internal/broker"
	"github.com/nupi-ai/kuksa/internal/broker/brokertest"
	"github.com/nupi-ai/kuksa/internal/broker/membroker"
	"github.com/nupi-ai/kuksa/internal/transport"
	"github.com/nupi-ai/kuksa/internal/vss"
	"github.com/nupi-ai/kuksa/internal/vss/vehicle"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/metadata"
)

const eventually = 2 * time.Second

type recorder struct {
	mu          sync.Mutex
	batches     [][]broker.EntryUpdate
	nodes       []vss.Node
	errs        []error
	disconnects int
}

func (r *recorder) OnEntryChanged(updates []broker.EntryUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, updates)
}

func (r *recorder) OnNodeChanged(node vss.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, node)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) OnDisconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
}

func (r *recorder) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recorder) lastBatch() []broker.EntryUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

func (r *recorder) nodeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

func (r *recorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *recorder) disconnectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

func newBroker() *membroker.Server {
	srv := membroker.New(membroker.WithLogger(zerolog.Nop()))
	for path, md := range vehicle.Metadata() {
		srv.Define(path, md)
	}
	return srv
}

func connectTo(t *testing.T, h *brokertest.Harness, opts ...Option) *Connection {
	t.Helper()
	return connectWithInfo(t, h, transport.DefaultConnectionInfo(), opts...)
}

func connectWithInfo(t *testing.T, h *brokertest.Harness, info transport.ConnectionInfo, opts ...Option) *Connection {
	t.Helper()
	ctx := transport.ContextWithDialer(context.Background(), h.Dialer)
	cc, creds, err := transport.Build(ctx, info)
	require.NoError(t, err)

	connector := NewConnector(cc, WithLogger(zerolog.Nop()), WithCredentials(creds))
	connector.SetTimeout(5 * time.Second)
	conn, err := connector.Connect(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Disconnect() })
	return conn
}

func TestConnectorConnects(t *testing.T) {
	h := brokertest.Start(t, newBroker())
	conn := connectTo(t, h)

	info, err := conn.ServerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "kuksa-mock", info.Name)
	assert.NoError(t, conn.Err())
	assert.Equal(t, transport.PassthroughPrefix+"localhost:55556", conn.Target())
}

func TestConnectorRejectsSecondConnect(t *testing.T) {
	h := brokertest.Start(t, newBroker())
	ctx := transport.ContextWithDialer(context.Background(), h.Dialer)
	cc, _, err := transport.Build(ctx, transport.DefaultConnectionInfo())
	require.NoError(t, err)

	connector := NewConnector(cc, WithLogger(zerolog.Nop()))
	conn, err := connector.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Disconnect() })

	_, err = connector.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyConnecting)
}

func TestConnectorTimeout(t *testing.T) {
	dialer := func(context.Context, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	ctx := transport.ContextWithDialer(context.Background(), dialer)
	cc, _, err := transport.Build(ctx, transport.DefaultConnectionInfo())
	require.NoError(t, err)

	connector := NewConnector(cc, WithLogger(zerolog.Nop()))
	connector.SetTimeout(200 * time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, connector.Timeout())

	start := time.Now()
	conn, err := connector.Connect(context.Background())
	assert.Nil(t, conn)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, connectivity.Shutdown, cc.GetState())
}

func TestConnectorHonoursCallerContext(t *testing.T) {
	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ctx := transport.ContextWithDialer(context.Background(), dialer)
	cc, _, err := transport.Build(ctx, transport.DefaultConnectionInfo())
	require.NoError(t, err)

	callCtx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewConnector(cc, WithLogger(zerolog.Nop())).Connect(callCtx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestFetchAndUpdate(t *testing.T) {
	h := brokertest.Start(t, newBroker())
	conn := connectTo(t, h)
	ctx := context.Background()

	_, err := conn.Update(ctx, "Vehicle.Speed", broker.FloatValue(42))
	require.NoError(t, err)

	resp, err := conn.Fetch(ctx, "Vehicle.Speed")
	require.NoError(t, err)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, float32(42), resp.Entries[0].Value.Value)
	assert.Nil(t, resp.Entries[0].Metadata)

	resp, err = conn.Fetch(ctx, "Vehicle.Speed", broker.FieldMetadata)
	require.NoError(t, err)
	require.NotNil(t, resp.Entries[0].Metadata)
	assert.Equal(t, "km/h", resp.Entries[0].Metadata.Unit)
	assert.Nil(t, resp.Entries[0].Value)
}

func TestUpdateActuatorTarget(t *testing.T) {
	h := brokertest.Start(t, newBroker())
	conn := connectTo(t, h)

	_, err := conn.Update(context.Background(), "Vehicle.Body.Horn.IsActive", broker.BoolValue(true), broker.FieldActuatorTarget)
	require.NoError(t, err)

	entry, ok := h.Broker.Entry("Vehicle.Body.Horn.IsActive")
	require.True(t, ok)
	require.NotNil(t, entry.ActuatorTarget)
	assert.Equal(t, true, entry.ActuatorTarget.Value)
	assert.Nil(t, entry.Value)
}

func TestUpdateReportsBrokerErrors(t *testing.T) {
	h := brokertest.Start(t, newBroker())
	conn := connectTo(t, h)

	resp, err := conn.Update(context.Background(), "Vehicle.Speed", broker.StringValue("fast"))
	require.Error(t, err)
	require.NotNil(t, resp)
	var pathErr *broker.PathError
	if assert.ErrorAs(t, err, &pathErr) {
		assert.Equal(t, "Vehicle.Speed", pathErr.Path)
		assert.Equal(t, broker.CodeBadRequest, pathErr.Err.Code)
	}
}

func TestFetchUnknownPath(t *testing.T) {
	h := brokertest.Start(t, newBroker())
	conn := connectTo(t, h)

	_, err := conn.Fetch(context.Background(), "Vehicle.Unknown")
	var brokerErr *broker.Error
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, broker.CodeNotFound, brokerErr.Code)
}

func TestSubscribeSharesStreamAndReplays(t *testing.T) {
	srv := newBroker()
	h := brokertest.Start(t, srv)
	conn := connectTo(t, h)

	first := &recorder{}
	require.NoError(t, conn.Subscribe("Vehicle.Speed", first))
	// Registering the same listener again must not duplicate deliveries.
	require.NoError(t, conn.Subscribe("Vehicle.Speed", first))
	require.Eventually(t, func() bool { return srv.SubscriberCount() == 1 }, eventually, 10*time.Millisecond)

	_, err := conn.Update(context.Background(), "Vehicle.Speed", broker.FloatValue(50))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return first.batchCount() == 1 }, eventually, 10*time.Millisecond)

	second := &recorder{}
	require.NoError(t, conn.Subscribe("Vehicle.Speed", second))
	// The last batch is replayed on registration.
	require.Equal(t, 1, second.batchCount())
	assert.Equal(t, float32(50), second.lastBatch()[0].Entry.Value.Value)
	assert.Equal(t, 1, conn.SubscriptionCount())
	assert.Equal(t, 1, srv.SubscriberCount())

	_, err = conn.Update(context.Background(), "Vehicle.Speed", broker.FloatValue(60))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return first.batchCount() == 2 && second.batchCount() == 2 }, eventually, 10*time.Millisecond)

	conn.Unsubscribe("Vehicle.Speed", first)
	assert.Equal(t, 1, conn.SubscriptionCount())
	conn.Unsubscribe("Vehicle.Speed", second)
	assert.Equal(t, 0, conn.SubscriptionCount())
	require.Eventually(t, func() bool { return srv.SubscriberCount() == 0 }, eventually, 10*time.Millisecond)

	// Unknown listeners and paths are ignored.
	conn.Unsubscribe("Vehicle.Speed", second)
	conn.Unsubscribe("Vehicle.Nothing", &recorder{})
}

func TestSubscribeSeparatesFields(t *testing.T) {
	srv := newBroker()
	h := brokertest.Start(t, srv)
	conn := connectTo(t, h)

	l := &recorder{}
	require.NoError(t, conn.Subscribe("Vehicle.Body.Horn.IsActive", l, broker.FieldValue, broker.FieldActuatorTarget))
	assert.Equal(t, 2, conn.SubscriptionCount())
	require.Eventually(t, func() bool { return srv.SubscriberCount() == 2 }, eventually, 10*time.Millisecond)

	_, err := conn.Update(context.Background(), "Vehicle.Body.Horn.IsActive", broker.BoolValue(true), broker.FieldActuatorTarget)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.batchCount() == 1 }, eventually, 10*time.Millisecond)
	batch := l.lastBatch()
	require.Len(t, batch, 1)
	assert.Equal(t, []broker.Field{broker.FieldActuatorTarget}, batch[0].Fields)
	assert.NotNil(t, batch[0].Entry.ActuatorTarget)
}

func TestSubscribeErrorIsReplayed(t *testing.T) {
	srv := membroker.New(membroker.WithLogger(zerolog.Nop()), membroker.WithStrict(true))
	h := brokertest.Start(t, srv)
	conn := connectTo(t, h)

	first := &recorder{}
	require.NoError(t, conn.Subscribe("Vehicle.Unknown", first))
	require.Eventually(t, func() bool { return first.errCount() == 1 }, eventually, 10*time.Millisecond)

	second := &recorder{}
	require.NoError(t, conn.Subscribe("Vehicle.Unknown", second))
	assert.Equal(t, 1, second.errCount())
}

func TestNodeUpdateFetchAndSubscribe(t *testing.T) {
	srv := newBroker()
	h := brokertest.Start(t, srv)
	conn := connectTo(t, h)
	ctx := context.Background()

	driver := vehicle.NewDriver()
	driver.HeartRate.Value = 72
	driver.IsEyesOnRoad.Value = true
	driver.AttentiveProbability.Value = 0.9

	responses, err := conn.UpdateNode(ctx, driver)
	require.NoError(t, err)
	assert.Len(t, responses, 3)

	fetched := vehicle.NewDriver()
	_, err = conn.FetchNode(ctx, fetched)
	require.NoError(t, err)
	assert.Equal(t, uint32(72), fetched.HeartRate.Value)
	assert.True(t, fetched.IsEyesOnRoad.Value)
	assert.InDelta(t, 0.9, fetched.AttentiveProbability.Value, 1e-6)

	observed := vehicle.NewDriver()
	l := &recorder{}
	require.NoError(t, conn.SubscribeNode(observed, l))
	// Initial state arrives as one batch.
	require.Eventually(t, func() bool { return l.nodeCount() == 1 }, eventually, 10*time.Millisecond)
	assert.Equal(t, uint32(72), observed.HeartRate.Value)

	// A batch touching several leaves yields exactly one notification.
	srv.Seed(
		broker.DataEntry{Path: "Vehicle.Driver.HeartRate", Value: ptr(broker.Uint32Value(90))},
		broker.DataEntry{Path: "Vehicle.Driver.IsEyesOnRoad", Value: ptr(broker.BoolValue(false))},
	)
	require.Eventually(t, func() bool { return l.nodeCount() == 2 }, eventually, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, l.nodeCount())
	assert.Equal(t, uint32(90), observed.HeartRate.Value)
	assert.False(t, observed.IsEyesOnRoad.Value)

	conn.UnsubscribeNode(observed, l)
	assert.Equal(t, 0, conn.SubscriptionCount())
}

func TestSubscribeNodeKeepsNodesAtSamePathApart(t *testing.T) {
	srv := newBroker()
	h := brokertest.Start(t, srv)
	conn := connectTo(t, h)
	srv.Seed(broker.DataEntry{Path: "Vehicle.Driver.HeartRate", Value: ptr(broker.Uint32Value(60))})

	first, second := vehicle.NewDriver(), vehicle.NewDriver()
	l := &recorder{}
	require.NoError(t, conn.SubscribeNode(first, l))
	require.NoError(t, conn.SubscribeNode(second, l))
	require.Eventually(t, func() bool { return l.nodeCount() == 2 }, eventually, 10*time.Millisecond)
	assert.Equal(t, uint32(60), first.HeartRate.Value)
	assert.Equal(t, uint32(60), second.HeartRate.Value)
	assert.Equal(t, 1, conn.SubscriptionCount())

	conn.UnsubscribeNode(first, l)
	assert.Equal(t, 1, conn.SubscriptionCount())

	srv.Seed(broker.DataEntry{Path: "Vehicle.Driver.HeartRate", Value: ptr(broker.Uint32Value(80))})
	require.Eventually(t, func() bool { return l.nodeCount() == 3 }, eventually, 10*time.Millisecond)
	l.mu.Lock()
	assert.Same(t, second, l.nodes[2])
	l.mu.Unlock()
	assert.Equal(t, uint32(80), second.HeartRate.Value)
	assert.Equal(t, uint32(60), first.HeartRate.Value)

	conn.UnsubscribeNode(second, l)
	assert.Equal(t, 0, conn.SubscriptionCount())
}

func TestUpdateNodeAggregatesFailures(t *testing.T) {
	srv := membroker.New(membroker.WithLogger(zerolog.Nop()), membroker.WithStrict(true))
	srv.Define("Vehicle.Speed", broker.Metadata{DataType: broker.DataTypeFloat})
	h := brokertest.Start(t, srv)
	conn := connectTo(t, h)

	node := vss.NewBranch("Vehicle",
		vss.NewLeaf[float32]("Vehicle.Speed", 10),
		vss.NewLeaf[float64]("Vehicle.Missing", 1),
		vss.NewLeaf[bool]("Vehicle.AlsoMissing", true),
	)

	responses, err := conn.UpdateNode(context.Background(), node)
	var updateErr *UpdateError
	require.ErrorAs(t, err, &updateErr)
	assert.Len(t, responses, 3)
	require.Len(t, updateErr.Failures, 2)
	assert.Equal(t, "Vehicle.Missing", updateErr.Failures[0].Path)
	assert.Equal(t, "Vehicle.AlsoMissing", updateErr.Failures[1].Path)

	var pathErr *broker.PathError
	assert.ErrorAs(t, err, &pathErr)
}

func TestTransportDropNotifiesListeners(t *testing.T) {
	h := brokertest.Start(t, newBroker())
	conn := connectTo(t, h)

	l := &recorder{}
	conn.DisconnectListeners().Register(l)
	conn.DisconnectListeners().Register(l)

	h.Stop()

	select {
	case <-conn.Done():
	case <-time.After(eventually):
		t.Fatal("connection not torn down after transport drop")
	}
	require.Eventually(t, func() bool { return l.disconnectCount() == 1 }, eventually, 10*time.Millisecond)
	assert.ErrorIs(t, conn.Err(), ErrConnectionLost)

	_, err := conn.Fetch(context.Background(), "Vehicle.Speed")
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestDisconnectDoesNotNotify(t *testing.T) {
	h := brokertest.Start(t, newBroker())
	conn := connectTo(t, h)

	l := &recorder{}
	conn.DisconnectListeners().Register(l)
	sub := &recorder{}
	require.NoError(t, conn.Subscribe("Vehicle.Speed", sub))

	require.NoError(t, conn.Disconnect())
	assert.NoError(t, conn.Disconnect())
	<-conn.Done()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, l.disconnectCount())
	assert.Equal(t, 0, sub.errCount())
	assert.ErrorIs(t, conn.Err(), ErrClosed)
	assert.Equal(t, 0, conn.SubscriptionCount())

	_, err := conn.Update(context.Background(), "Vehicle.Speed", broker.FloatValue(1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, conn.Subscribe("Vehicle.Speed", sub), ErrClosed)
}

type authorizationLog struct {
	mu   sync.Mutex
	seen [][]string
}

func (a *authorizationLog) intercept(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	a.mu.Lock()
	a.seen = append(a.seen, md.Get("authorization"))
	a.mu.Unlock()
	return handler(ctx, req)
}

func (a *authorizationLog) requests() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]string(nil), a.seen...)
}

func TestTokenIsPresented(t *testing.T) {
	var auth authorizationLog
	h := brokertest.Start(t, newBroker(), grpc.UnaryInterceptor(auth.intercept))
	conn := connectTo(t, h, WithToken("first"))

	_, err := conn.ServerInfo(context.Background())
	require.NoError(t, err)
	conn.SetToken("second")
	_, err = conn.ServerInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"Bearer first"}, {"Bearer second"}}, auth.requests())
}

func TestSetTokenReplacesDialedToken(t *testing.T) {
	var auth authorizationLog
	h := brokertest.Start(t, newBroker(), grpc.UnaryInterceptor(auth.intercept))
	info := transport.DefaultConnectionInfo()
	info.Authentication = &transport.Authentication{Token: "first"}
	conn := connectWithInfo(t, h, info)

	_, err := conn.ServerInfo(context.Background())
	require.NoError(t, err)
	conn.SetToken("second")
	_, err = conn.ServerInfo(context.Background())
	require.NoError(t, err)
	conn.SetToken("")
	_, err = conn.ServerInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"Bearer first"}, {"Bearer second"}, nil}, auth.requests())
}

func ptr[T any](v T) *T { return &v }
