package broker

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestParseField(t *testing.T) {
	cases := map[string]Field{
		"value":                 FieldValue,
		"FIELD_VALUE":           FieldValue,
		" actuator_target ":     FieldActuatorTarget,
		"actuator-target":       FieldActuatorTarget,
		"metadata":              FieldMetadata,
		"Metadata_Unit":         FieldMetadataUnit,
		"FIELD_METADATA_SENSOR": FieldMetadataSensor,
	}
	for raw, want := range cases {
		got, err := ParseField(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseField("")
	assert.Error(t, err)
	_, err = ParseField("speed")
	assert.Error(t, err)

	fields, err := ParseFields([]string{"value", "metadata"})
	require.NoError(t, err)
	assert.Equal(t, []Field{FieldValue, FieldMetadata}, fields)
	_, err = ParseFields([]string{"value", "bogus"})
	assert.Error(t, err)
}

func TestFieldString(t *testing.T) {
	assert.Equal(t, "FIELD_ACTUATOR_TARGET", FieldActuatorTarget.String())
	assert.Equal(t, "FIELD(99)", Field(99).String())
	assert.True(t, FieldMetadataUnit.IsMetadata())
	assert.False(t, FieldActuatorTarget.IsMetadata())
}

func TestParseDataType(t *testing.T) {
	assert.Equal(t, DataTypeUint16, ParseDataType("uint16"))
	assert.Equal(t, DataTypeFloat, ParseDataType(" Float "))
	assert.Equal(t, DataTypeInt8Array, ParseDataType("int8[]"))
	assert.Equal(t, DataTypeDoubleArray, ParseDataType("double[]"))
	assert.Equal(t, DataTypeUint64Array, ParseDataType("uint64[]"))
	assert.Equal(t, DataTypeStringArray, ParseDataType("string[]"))
	assert.Equal(t, DataTypeUnspecified, ParseDataType("struct"))

	assert.Equal(t, KindUint32, DataTypeUint8.ValueKind())
	assert.Equal(t, KindInt32Array, DataTypeInt16Array.ValueKind())
	assert.Equal(t, KindNotSet, DataTypeTimestamp.ValueKind())
}

func TestParseEntryType(t *testing.T) {
	assert.Equal(t, EntryTypeActuator, ParseEntryType("Actuator"))
	assert.Equal(t, EntryTypeUnspecified, ParseEntryType("branch"))
	assert.Equal(t, "sensor", EntryTypeSensor.String())
	assert.Equal(t, "unspecified", EntryTypeUnspecified.String())
}

func TestApplyDatapoint(t *testing.T) {
	entry := DataEntry{Path: "Vehicle.Body.Horn.IsActive"}
	entry.ApplyDatapoint(BoolValue(true), FieldActuatorTarget)
	require.NotNil(t, entry.ActuatorTarget)
	assert.Nil(t, entry.Value)
	assert.Same(t, entry.ActuatorTarget, entry.Datapoint(FieldActuatorTarget))

	entry.ApplyDatapoint(BoolValue(false), FieldMetadata)
	require.NotNil(t, entry.Value)
	assert.Equal(t, false, entry.Value.Value)

	var missing *DataEntry
	assert.Nil(t, missing.Datapoint(FieldValue))
}

func TestParseDatapoint(t *testing.T) {
	dp := ParseDatapoint(KindFloat, " 12.5 ")
	assert.Equal(t, KindFloat, dp.Kind)
	assert.Equal(t, float32(12.5), dp.Value)

	dp = ParseDatapoint(KindUint32Array, "1, 2,3")
	assert.Equal(t, []uint32{1, 2, 3}, dp.Value)

	dp = ParseDatapoint(KindStringArray, "a,b")
	assert.Equal(t, []string{"a", "b"}, dp.Value)

	// Unparseable input is kept as text.
	dp = ParseDatapoint(KindInt32, "fast")
	assert.Equal(t, KindString, dp.Kind)
	assert.Equal(t, "fast", dp.Value)

	dp = ParseDatapoint(KindBoolArray, "true,maybe")
	assert.Equal(t, KindString, dp.Kind)
}

func TestNewDatapoint(t *testing.T) {
	dp, err := NewDatapoint([]float64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, KindDoubleArray, dp.Kind)
	assert.True(t, dp.IsSet())
	assert.False(t, dp.Timestamp.IsZero())

	_, err = NewDatapoint(42)
	assert.Error(t, err)

	assert.False(t, Datapoint{}.IsSet())
	assert.Equal(t, "<not set>", Datapoint{}.String())
	assert.Equal(t, "7", Int64Value(7).String())
}

func TestDatapointJSONRestoresTypes(t *testing.T) {
	in := []Datapoint{
		Uint32Value(72),
		FloatValue(1.5),
		Int64Array([]int64{-1, 2}),
		BoolValue(false),
		{},
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out []Datapoint
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, len(in))
	assert.Equal(t, uint32(72), out[0].Value)
	assert.Equal(t, float32(1.5), out[1].Value)
	assert.Equal(t, []int64{-1, 2}, out[2].Value)
	assert.Equal(t, false, out[3].Value)
	assert.False(t, out[4].IsSet())
	assert.True(t, in[0].Timestamp.Equal(out[0].Timestamp))

	var bad Datapoint
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"uint32","value":"x"}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"complex","value":1}`), &bad))
}

func TestResponseErr(t *testing.T) {
	assert.NoError(t, (*GetResponse)(nil).Err())
	assert.NoError(t, (&SetResponse{}).Err())
	assert.NoError(t, (&SetResponse{Error: &Error{Code: CodeOK}}).Err())

	top := &Error{Code: CodeNotFound, Reason: "not_found"}
	assert.Equal(t, top, (&GetResponse{Error: top}).Err())

	resp := &SetResponse{Error: top, Errors: []DataEntryError{BadRequest("Vehicle.Speed", "bad")}}
	var pathErr *PathError
	require.ErrorAs(t, resp.Err(), &pathErr)
	assert.Equal(t, "Vehicle.Speed", pathErr.Path)
	var brokerErr *Error
	require.ErrorAs(t, resp.Err(), &brokerErr)
	assert.Equal(t, CodeBadRequest, brokerErr.Code)
	assert.Contains(t, resp.Err().Error(), "Vehicle.Speed")
}

// wireFields splits one protobuf message into its top-level fields. Length
// delimited fields keep their bytes, numeric fields their raw value.
func wireFields(t *testing.T, data []byte) map[protowire.Number][]any {
	t.Helper()
	out := make(map[protowire.Number][]any)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		require.GreaterOrEqual(t, n, 0)
		data = data[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			require.GreaterOrEqual(t, n, 0)
			out[num] = append(out[num], v)
			data = data[n:]
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			require.GreaterOrEqual(t, n, 0)
			out[num] = append(out[num], v)
			data = data[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			require.GreaterOrEqual(t, n, 0)
			out[num] = append(out[num], v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			require.GreaterOrEqual(t, n, 0)
			data = data[n:]
		}
	}
	return out
}

func TestWireFormatMatchesValProtos(t *testing.T) {
	data, err := Marshal(&GetServerInfoResponse{Name: "databroker", Version: "0.4.4"})
	require.NoError(t, err)
	info := wireFields(t, data)
	assert.Equal(t, []any{[]byte("databroker")}, info[1])
	assert.Equal(t, []any{[]byte("0.4.4")}, info[2])

	speed := FloatValue(1.5)
	data, err = Marshal(&SetRequest{Updates: []EntryUpdate{{
		Entry:  DataEntry{Path: "Vehicle.Speed", Value: &speed},
		Fields: []Field{FieldValue},
	}}})
	require.NoError(t, err)

	update := wireFields(t, wireFields(t, data)[1][0].([]byte))
	assert.Equal(t, []any{[]byte{byte(FieldValue)}}, update[2], "fields are packed enums")
	entry := wireFields(t, update[1][0].([]byte))
	assert.Equal(t, []any{[]byte("Vehicle.Speed")}, entry[1])
	value := wireFields(t, entry[2][0].([]byte))
	assert.Equal(t, []any{math.Float32bits(1.5)}, value[17])
	require.Len(t, value[1], 1, "timestamp")

	data, err = Marshal(&GetRequest{Entries: []EntryRequest{{Path: "Vehicle", View: ViewAll}}})
	require.NoError(t, err)
	request := wireFields(t, wireFields(t, data)[1][0].([]byte))
	assert.Equal(t, []any{uint64(ViewAll)}, request[2])
}

func TestWireRoundTrip(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 12, 0, 0, 250, time.UTC)
	values := []Datapoint{
		StringValue("on"),
		Int32Value(-4),
		Uint64Value(1 << 40),
		DoubleValue(2.25),
		StringArray([]string{"a", "b"}),
		Int64Array([]int64{-1, 2}),
		FloatArray([]float32{0.5}),
		BoolArray([]bool{true, false}),
	}

	in := &GetResponse{Error: &Error{Code: CodeNotFound, Reason: "not_found"}}
	for i, dp := range values {
		dp.Timestamp = stamp
		in.Entries = append(in.Entries, DataEntry{Path: fmt.Sprintf("Vehicle.Signal%d", i), Value: &dp})
	}
	in.Entries = append(in.Entries, DataEntry{
		Path:     "Vehicle.Speed",
		Metadata: &Metadata{DataType: DataTypeFloat, EntryType: EntryTypeSensor, Unit: "km/h"},
	})
	in.Errors = []DataEntryError{NotFound("Vehicle.Nope")}

	data, err := Marshal(in)
	require.NoError(t, err)
	var out GetResponse
	require.NoError(t, Unmarshal(data, &out))

	require.Len(t, out.Entries, len(values)+1)
	for i, dp := range values {
		got := out.Entries[i].Value
		require.NotNil(t, got)
		assert.Equal(t, dp.Kind, got.Kind)
		assert.Equal(t, dp.Value, got.Value)
		assert.True(t, stamp.Equal(got.Timestamp))
	}
	last := out.Entries[len(values)]
	assert.Nil(t, last.Value)
	assert.Equal(t, in.Entries[len(values)].Metadata, last.Metadata)
	assert.Equal(t, in.Errors, out.Errors)
	assert.Equal(t, in.Error, out.Error)

	_, err = Marshal(&SetRequest{Updates: []EntryUpdate{{
		Entry: DataEntry{Path: "Vehicle.Speed", Value: &Datapoint{Kind: KindFloat, Value: 3.0}},
	}}})
	assert.ErrorContains(t, err, "holds float64")

	assert.Error(t, Unmarshal([]byte{0xff}, &out))
	assert.Error(t, FromProto(newProto(&SetRequest{}), &out))
}
