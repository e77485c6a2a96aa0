package broker

import (
	"fmt"
	"strings"
)

// Field selects a facet of a data entry. Values match kuksa.val.v1.Field.
type Field int32

const (
	FieldUnspecified              Field = 0
	FieldPath                     Field = 1
	FieldValue                    Field = 2
	FieldActuatorTarget           Field = 3
	FieldMetadata                 Field = 10
	FieldMetadataDataType         Field = 11
	FieldMetadataDescription      Field = 12
	FieldMetadataEntryType        Field = 13
	FieldMetadataComment          Field = 14
	FieldMetadataDeprecation      Field = 15
	FieldMetadataUnit             Field = 16
	FieldMetadataValueRestriction Field = 17
	FieldMetadataActuator         Field = 20
	FieldMetadataSensor           Field = 30
	FieldMetadataAttribute        Field = 40
)

var fieldNames = map[Field]string{
	FieldUnspecified:              "FIELD_UNSPECIFIED",
	FieldPath:                     "FIELD_PATH",
	FieldValue:                    "FIELD_VALUE",
	FieldActuatorTarget:           "FIELD_ACTUATOR_TARGET",
	FieldMetadata:                 "FIELD_METADATA",
	FieldMetadataDataType:         "FIELD_METADATA_DATA_TYPE",
	FieldMetadataDescription:      "FIELD_METADATA_DESCRIPTION",
	FieldMetadataEntryType:        "FIELD_METADATA_ENTRY_TYPE",
	FieldMetadataComment:          "FIELD_METADATA_COMMENT",
	FieldMetadataDeprecation:      "FIELD_METADATA_DEPRECATION",
	FieldMetadataUnit:             "FIELD_METADATA_UNIT",
	FieldMetadataValueRestriction: "FIELD_METADATA_VALUE_RESTRICTION",
	FieldMetadataActuator:         "FIELD_METADATA_ACTUATOR",
	FieldMetadataSensor:           "FIELD_METADATA_SENSOR",
	FieldMetadataAttribute:        "FIELD_METADATA_ATTRIBUTE",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FIELD(%d)", int32(f))
}

// IsMetadata reports whether f selects the metadata block or one of its parts.
func (f Field) IsMetadata() bool {
	return f >= FieldMetadata
}

// ParseField accepts the canonical enum name ("FIELD_VALUE") or its short
// form ("value", "actuator_target", "metadata_unit"), case-insensitively.
func ParseField(raw string) (Field, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	name = strings.ReplaceAll(name, "-", "_")
	if name == "" {
		return FieldUnspecified, fmt.Errorf("broker: empty field name")
	}
	if !strings.HasPrefix(name, "FIELD_") {
		name = "FIELD_" + name
	}
	for field, candidate := range fieldNames {
		if candidate == name {
			return field, nil
		}
	}
	return FieldUnspecified, fmt.Errorf("broker: unknown field %q", raw)
}

// ParseFields parses each entry with ParseField.
func ParseFields(raw []string) ([]Field, error) {
	fields := make([]Field, 0, len(raw))
	for _, item := range raw {
		field, err := ParseField(item)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field)
	}
	return fields, nil
}

// View selects a predefined set of fields. Values match kuksa.val.v1.View.
type View int32

const (
	ViewUnspecified  View = 0
	ViewCurrentValue View = 1
	ViewTargetValue  View = 2
	ViewMetadata     View = 3
	ViewFields       View = 10
	ViewAll          View = 20
)

// EntryType classifies a VSS leaf.
type EntryType int32

const (
	EntryTypeUnspecified EntryType = 0
	EntryTypeAttribute   EntryType = 1
	EntryTypeSensor      EntryType = 2
	EntryTypeActuator    EntryType = 3
)

var entryTypeNames = map[string]EntryType{
	"attribute": EntryTypeAttribute,
	"sensor":    EntryTypeSensor,
	"actuator":  EntryTypeActuator,
}

// ParseEntryType maps the VSS "type" attribute to an EntryType.
func ParseEntryType(raw string) EntryType {
	return entryTypeNames[strings.ToLower(strings.TrimSpace(raw))]
}

func (t EntryType) String() string {
	for name, candidate := range entryTypeNames {
		if candidate == t {
			return name
		}
	}
	return "unspecified"
}

// DataType is the VSS datatype of a leaf. Values match kuksa.val.v1.DataType.
type DataType int32

const (
	DataTypeUnspecified    DataType = 0
	DataTypeString         DataType = 1
	DataTypeBoolean        DataType = 2
	DataTypeInt8           DataType = 3
	DataTypeInt16          DataType = 4
	DataTypeInt32          DataType = 5
	DataTypeInt64          DataType = 6
	DataTypeUint8          DataType = 7
	DataTypeUint16         DataType = 8
	DataTypeUint32         DataType = 9
	DataTypeUint64         DataType = 10
	DataTypeFloat          DataType = 11
	DataTypeDouble         DataType = 12
	DataTypeTimestamp      DataType = 13
	DataTypeStringArray    DataType = 20
	DataTypeBooleanArray   DataType = 21
	DataTypeInt8Array      DataType = 22
	DataTypeInt16Array     DataType = 23
	DataTypeInt32Array     DataType = 24
	DataTypeInt64Array     DataType = 25
	DataTypeUint8Array     DataType = 26
	DataTypeUint16Array    DataType = 27
	DataTypeUint32Array    DataType = 28
	DataTypeUint64Array    DataType = 29
	DataTypeFloatArray     DataType = 30
	DataTypeDoubleArray    DataType = 31
	DataTypeTimestampArray DataType = 32
)

var dataTypeNames = map[string]DataType{
	"string":    DataTypeString,
	"boolean":   DataTypeBoolean,
	"int8":      DataTypeInt8,
	"int16":     DataTypeInt16,
	"int32":     DataTypeInt32,
	"int64":     DataTypeInt64,
	"uint8":     DataTypeUint8,
	"uint16":    DataTypeUint16,
	"uint32":    DataTypeUint32,
	"uint64":    DataTypeUint64,
	"float":     DataTypeFloat,
	"double":    DataTypeDouble,
	"timestamp": DataTypeTimestamp,
}

// ParseDataType maps a VSS datatype name ("uint16", "float[]") to a DataType.
func ParseDataType(raw string) DataType {
	name := strings.ToLower(strings.TrimSpace(raw))
	array := strings.HasSuffix(name, "[]")
	base, ok := dataTypeNames[strings.TrimSuffix(name, "[]")]
	if !ok {
		return DataTypeUnspecified
	}
	if !array {
		return base
	}
	switch base {
	case DataTypeString:
		return DataTypeStringArray
	case DataTypeBoolean:
		return DataTypeBooleanArray
	case DataTypeTimestamp:
		return DataTypeTimestampArray
	default:
		// int8[] .. double[] keep the same relative order as their scalars.
		return base - DataTypeInt8 + DataTypeInt8Array
	}
}

// ValueKind returns the datapoint representation used for values of t.
// Narrow integer types share the 32-bit representation.
func (t DataType) ValueKind() ValueKind {
	switch t {
	case DataTypeString:
		return KindString
	case DataTypeBoolean:
		return KindBool
	case DataTypeInt8, DataTypeInt16, DataTypeInt32:
		return KindInt32
	case DataTypeInt64:
		return KindInt64
	case DataTypeUint8, DataTypeUint16, DataTypeUint32:
		return KindUint32
	case DataTypeUint64:
		return KindUint64
	case DataTypeFloat:
		return KindFloat
	case DataTypeDouble:
		return KindDouble
	case DataTypeStringArray:
		return KindStringArray
	case DataTypeBooleanArray:
		return KindBoolArray
	case DataTypeInt8Array, DataTypeInt16Array, DataTypeInt32Array:
		return KindInt32Array
	case DataTypeInt64Array:
		return KindInt64Array
	case DataTypeUint8Array, DataTypeUint16Array, DataTypeUint32Array:
		return KindUint32Array
	case DataTypeUint64Array:
		return KindUint64Array
	case DataTypeFloatArray:
		return KindFloatArray
	case DataTypeDoubleArray:
		return KindDoubleArray
	default:
		return KindNotSet
	}
}

// Metadata describes a data entry.
type Metadata struct {
	DataType    DataType  `json:"data_type,omitempty"`
	EntryType   EntryType `json:"entry_type,omitempty"`
	Description string    `json:"description,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	Deprecation string    `json:"deprecation,omitempty"`
	Unit        string    `json:"unit,omitempty"`
}

// DataEntry is the unit of data exchanged with the broker.
type DataEntry struct {
	Path           string     `json:"path"`
	Value          *Datapoint `json:"value,omitempty"`
	ActuatorTarget *Datapoint `json:"actuator_target,omitempty"`
	Metadata       *Metadata  `json:"metadata,omitempty"`
}

// ApplyDatapoint stores dp in the slot selected by field: the actuator target
// for FieldActuatorTarget, the current value otherwise.
func (e *DataEntry) ApplyDatapoint(dp Datapoint, field Field) {
	if field == FieldActuatorTarget {
		e.ActuatorTarget = &dp
		return
	}
	e.Value = &dp
}

// Datapoint returns the datapoint held in the slot selected by field.
func (e *DataEntry) Datapoint(field Field) *Datapoint {
	if e == nil {
		return nil
	}
	if field == FieldActuatorTarget {
		return e.ActuatorTarget
	}
	return e.Value
}

type EntryRequest struct {
	Path   string  `json:"path"`
	View   View    `json:"view,omitempty"`
	Fields []Field `json:"fields,omitempty"`
}

type GetRequest struct {
	Entries []EntryRequest `json:"entries"`
}

type GetResponse struct {
	Entries []DataEntry      `json:"entries,omitempty"`
	Errors  []DataEntryError `json:"errors,omitempty"`
	Error   *Error           `json:"error,omitempty"`
}

// Err returns the first entry error, or the response-level error, or nil.
func (r *GetResponse) Err() error {
	if r == nil {
		return nil
	}
	return responseErr(r.Error, r.Errors)
}

type EntryUpdate struct {
	Entry  DataEntry `json:"entry"`
	Fields []Field   `json:"fields,omitempty"`
}

type SetRequest struct {
	Updates []EntryUpdate `json:"updates"`
}

type SetResponse struct {
	Error  *Error           `json:"error,omitempty"`
	Errors []DataEntryError `json:"errors,omitempty"`
}

// Err returns the first entry error, or the response-level error, or nil.
func (r *SetResponse) Err() error {
	if r == nil {
		return nil
	}
	return responseErr(r.Error, r.Errors)
}

type SubscribeEntry struct {
	Path   string  `json:"path"`
	View   View    `json:"view,omitempty"`
	Fields []Field `json:"fields,omitempty"`
}

type SubscribeRequest struct {
	Entries []SubscribeEntry `json:"entries"`
}

// SubscribeResponse carries one batch of updates as grouped by the broker.
type SubscribeResponse struct {
	Updates []EntryUpdate `json:"updates"`
}

type GetServerInfoRequest struct{}

type GetServerInfoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
