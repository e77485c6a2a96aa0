package broker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueKind names the populated member of a Datapoint value.
type ValueKind string

const (
	KindNotSet      ValueKind = ""
	KindString      ValueKind = "string"
	KindBool        ValueKind = "bool"
	KindInt32       ValueKind = "int32"
	KindInt64       ValueKind = "int64"
	KindUint32      ValueKind = "uint32"
	KindUint64      ValueKind = "uint64"
	KindFloat       ValueKind = "float"
	KindDouble      ValueKind = "double"
	KindStringArray ValueKind = "string_array"
	KindBoolArray   ValueKind = "bool_array"
	KindInt32Array  ValueKind = "int32_array"
	KindInt64Array  ValueKind = "int64_array"
	KindUint32Array ValueKind = "uint32_array"
	KindUint64Array ValueKind = "uint64_array"
	KindFloatArray  ValueKind = "float_array"
	KindDoubleArray ValueKind = "double_array"
)

const csvDelimiter = ","

// Datapoint is a timestamped value. Value holds the Go type matching Kind:
// string, bool, int32, int64, uint32, uint64, float32, float64 or a slice of
// one of those.
type Datapoint struct {
	Timestamp time.Time `json:"timestamp,omitempty"`
	Kind      ValueKind `json:"kind,omitempty"`
	Value     any       `json:"value,omitempty"`
}

func StringValue(v string) Datapoint   { return newDatapoint(KindString, v) }
func BoolValue(v bool) Datapoint       { return newDatapoint(KindBool, v) }
func Int32Value(v int32) Datapoint     { return newDatapoint(KindInt32, v) }
func Int64Value(v int64) Datapoint     { return newDatapoint(KindInt64, v) }
func Uint32Value(v uint32) Datapoint   { return newDatapoint(KindUint32, v) }
func Uint64Value(v uint64) Datapoint   { return newDatapoint(KindUint64, v) }
func FloatValue(v float32) Datapoint   { return newDatapoint(KindFloat, v) }
func DoubleValue(v float64) Datapoint  { return newDatapoint(KindDouble, v) }
func StringArray(v []string) Datapoint { return newDatapoint(KindStringArray, v) }
func BoolArray(v []bool) Datapoint     { return newDatapoint(KindBoolArray, v) }
func Int32Array(v []int32) Datapoint   { return newDatapoint(KindInt32Array, v) }
func Int64Array(v []int64) Datapoint   { return newDatapoint(KindInt64Array, v) }
func Uint32Array(v []uint32) Datapoint { return newDatapoint(KindUint32Array, v) }
func Uint64Array(v []uint64) Datapoint { return newDatapoint(KindUint64Array, v) }
func FloatArray(v []float32) Datapoint { return newDatapoint(KindFloatArray, v) }
func DoubleArray(v []float64) Datapoint {
	return newDatapoint(KindDoubleArray, v)
}

func newDatapoint(kind ValueKind, value any) Datapoint {
	return Datapoint{Timestamp: time.Now().UTC(), Kind: kind, Value: value}
}

// NewDatapoint wraps an arbitrary Go value, inferring its kind.
func NewDatapoint(value any) (Datapoint, error) {
	kind, ok := kindOf(value)
	if !ok {
		return Datapoint{}, fmt.Errorf("broker: unsupported datapoint value type %T", value)
	}
	return newDatapoint(kind, value), nil
}

func kindOf(value any) (ValueKind, bool) {
	switch value.(type) {
	case string:
		return KindString, true
	case bool:
		return KindBool, true
	case int32:
		return KindInt32, true
	case int64:
		return KindInt64, true
	case uint32:
		return KindUint32, true
	case uint64:
		return KindUint64, true
	case float32:
		return KindFloat, true
	case float64:
		return KindDouble, true
	case []string:
		return KindStringArray, true
	case []bool:
		return KindBoolArray, true
	case []int32:
		return KindInt32Array, true
	case []int64:
		return KindInt64Array, true
	case []uint32:
		return KindUint32Array, true
	case []uint64:
		return KindUint64Array, true
	case []float32:
		return KindFloatArray, true
	case []float64:
		return KindDoubleArray, true
	default:
		return KindNotSet, false
	}
}

// IsSet reports whether the datapoint carries a value.
func (d Datapoint) IsSet() bool {
	return d.Kind != KindNotSet && d.Value != nil
}

func (d Datapoint) String() string {
	if !d.IsSet() {
		return "<not set>"
	}
	return fmt.Sprintf("%v", d.Value)
}

// ParseDatapoint converts text to a datapoint of kind. Arrays are comma
// separated. Text that cannot be parsed as kind is kept as a string value.
func ParseDatapoint(kind ValueKind, text string) Datapoint {
	value, err := parseValue(kind, text)
	if err != nil {
		return StringValue(text)
	}
	return newDatapoint(kind, value)
}

func parseValue(kind ValueKind, text string) (any, error) {
	switch kind {
	case KindNotSet, KindString:
		return text, nil
	case KindBool:
		return strconv.ParseBool(strings.TrimSpace(text))
	case KindInt32:
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		return int32(v), err
	case KindInt64:
		return strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	case KindUint32:
		v, err := strconv.ParseUint(strings.TrimSpace(text), 10, 32)
		return uint32(v), err
	case KindUint64:
		return strconv.ParseUint(strings.TrimSpace(text), 10, 64)
	case KindFloat:
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 32)
		return float32(v), err
	case KindDouble:
		return strconv.ParseFloat(strings.TrimSpace(text), 64)
	case KindStringArray:
		return strings.Split(text, csvDelimiter), nil
	case KindBoolArray:
		return parseCSV(text, strconv.ParseBool)
	case KindInt32Array:
		return parseCSV(text, func(s string) (int32, error) {
			v, err := strconv.ParseInt(s, 10, 32)
			return int32(v), err
		})
	case KindInt64Array:
		return parseCSV(text, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
	case KindUint32Array:
		return parseCSV(text, func(s string) (uint32, error) {
			v, err := strconv.ParseUint(s, 10, 32)
			return uint32(v), err
		})
	case KindUint64Array:
		return parseCSV(text, func(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) })
	case KindFloatArray:
		return parseCSV(text, func(s string) (float32, error) {
			v, err := strconv.ParseFloat(s, 32)
			return float32(v), err
		})
	case KindDoubleArray:
		return parseCSV(text, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
	default:
		return nil, fmt.Errorf("broker: unknown value kind %q", kind)
	}
}

func parseCSV[T any](text string, parse func(string) (T, error)) ([]T, error) {
	parts := strings.Split(text, csvDelimiter)
	out := make([]T, 0, len(parts))
	for _, part := range parts {
		v, err := parse(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type wireDatapoint struct {
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Kind      ValueKind       `json:"kind,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// UnmarshalJSON restores the concrete Go type of Value from Kind.
func (d *Datapoint) UnmarshalJSON(data []byte) error {
	var wire wireDatapoint
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	d.Timestamp = wire.Timestamp
	d.Kind = wire.Kind
	d.Value = nil
	if wire.Kind == KindNotSet || len(wire.Value) == 0 {
		return nil
	}

	value, err := decodeValue(wire.Kind, wire.Value)
	if err != nil {
		return fmt.Errorf("broker: decode %s datapoint: %w", wire.Kind, err)
	}
	d.Value = value
	return nil
}

func decodeValue(kind ValueKind, raw json.RawMessage) (any, error) {
	switch kind {
	case KindString:
		return decodeAs[string](raw)
	case KindBool:
		return decodeAs[bool](raw)
	case KindInt32:
		return decodeAs[int32](raw)
	case KindInt64:
		return decodeAs[int64](raw)
	case KindUint32:
		return decodeAs[uint32](raw)
	case KindUint64:
		return decodeAs[uint64](raw)
	case KindFloat:
		return decodeAs[float32](raw)
	case KindDouble:
		return decodeAs[float64](raw)
	case KindStringArray:
		return decodeAs[[]string](raw)
	case KindBoolArray:
		return decodeAs[[]bool](raw)
	case KindInt32Array:
		return decodeAs[[]int32](raw)
	case KindInt64Array:
		return decodeAs[[]int64](raw)
	case KindUint32Array:
		return decodeAs[[]uint32](raw)
	case KindUint64Array:
		return decodeAs[[]uint64](raw)
	case KindFloatArray:
		return decodeAs[[]float32](raw)
	case KindDoubleArray:
		return decodeAs[[]float64](raw)
	default:
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
}

func decodeAs[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
