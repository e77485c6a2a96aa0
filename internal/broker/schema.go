package broker

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/timestamppb" // registers google/protobuf/timestamp.proto
)

// ProtoPackage is the protobuf package of the VAL service messages.
const ProtoPackage = "kuksa.val.v1"

const protoFile = "kuksa/val/v1/val.proto"

type fieldProto = descriptorpb.FieldDescriptorProto

func scalarField(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *fieldProto {
	return &fieldProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func messageField(name string, number int32, typeName string) *fieldProto {
	f := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String(typeName)
	return f
}

func enumField(name string, number int32, typeName string) *fieldProto {
	f := scalarField(name, number, descriptorpb.FieldDescriptorProto_TYPE_ENUM)
	f.TypeName = proto.String(typeName)
	return f
}

func repeated(f *fieldProto) *fieldProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func oneofMember(f *fieldProto, index int32) *fieldProto {
	f.OneofIndex = proto.Int32(index)
	return f
}

func local(name string) string {
	return "." + ProtoPackage + "." + name
}

func messageProto(name string, fields ...*fieldProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

func arrayProto(name string, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.DescriptorProto {
	return messageProto(name, repeated(scalarField("values", 1, typ)))
}

type enumValue struct {
	name   string
	number int32
}

func enumProto(name string, values []enumValue) *descriptorpb.EnumDescriptorProto {
	e := &descriptorpb.EnumDescriptorProto{Name: proto.String(name)}
	for _, v := range values {
		e.Value = append(e.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v.name),
			Number: proto.Int32(v.number),
		})
	}
	return e
}

func fieldEnumValues() []enumValue {
	values := make([]enumValue, 0, len(fieldNames))
	for f := FieldUnspecified; f <= FieldMetadataAttribute; f++ {
		if name, ok := fieldNames[f]; ok {
			values = append(values, enumValue{name, int32(f)})
		}
	}
	return values
}

var dataTypeEnumValues = []enumValue{
	{"DATA_TYPE_UNSPECIFIED", 0},
	{"DATA_TYPE_STRING", 1},
	{"DATA_TYPE_BOOLEAN", 2},
	{"DATA_TYPE_INT8", 3},
	{"DATA_TYPE_INT16", 4},
	{"DATA_TYPE_INT32", 5},
	{"DATA_TYPE_INT64", 6},
	{"DATA_TYPE_UINT8", 7},
	{"DATA_TYPE_UINT16", 8},
	{"DATA_TYPE_UINT32", 9},
	{"DATA_TYPE_UINT64", 10},
	{"DATA_TYPE_FLOAT", 11},
	{"DATA_TYPE_DOUBLE", 12},
	{"DATA_TYPE_TIMESTAMP", 13},
	{"DATA_TYPE_STRING_ARRAY", 20},
	{"DATA_TYPE_BOOLEAN_ARRAY", 21},
	{"DATA_TYPE_INT8_ARRAY", 22},
	{"DATA_TYPE_INT16_ARRAY", 23},
	{"DATA_TYPE_INT32_ARRAY", 24},
	{"DATA_TYPE_INT64_ARRAY", 25},
	{"DATA_TYPE_UINT8_ARRAY", 26},
	{"DATA_TYPE_UINT16_ARRAY", 27},
	{"DATA_TYPE_UINT32_ARRAY", 28},
	{"DATA_TYPE_UINT64_ARRAY", 29},
	{"DATA_TYPE_FLOAT_ARRAY", 30},
	{"DATA_TYPE_DOUBLE_ARRAY", 31},
	{"DATA_TYPE_TIMESTAMP_ARRAY", 32},
}

// valFileProto describes the subset of kuksa.val.v1 the client and the
// in-memory broker exchange. Field numbers follow the published protos, so
// fields this subset leaves out are carried as unknown fields.
func valFileProto() *descriptorpb.FileDescriptorProto {
	const (
		tString = descriptorpb.FieldDescriptorProto_TYPE_STRING
		tBool   = descriptorpb.FieldDescriptorProto_TYPE_BOOL
		tSint32 = descriptorpb.FieldDescriptorProto_TYPE_SINT32
		tSint64 = descriptorpb.FieldDescriptorProto_TYPE_SINT64
		tUint32 = descriptorpb.FieldDescriptorProto_TYPE_UINT32
		tUint64 = descriptorpb.FieldDescriptorProto_TYPE_UINT64
		tFloat  = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
		tDouble = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	)

	datapoint := messageProto("Datapoint",
		messageField("timestamp", 1, ".google.protobuf.Timestamp"),
		oneofMember(scalarField("string", 11, tString), 0),
		oneofMember(scalarField("bool", 12, tBool), 0),
		oneofMember(scalarField("int32", 13, tSint32), 0),
		oneofMember(scalarField("int64", 14, tSint64), 0),
		oneofMember(scalarField("uint32", 15, tUint32), 0),
		oneofMember(scalarField("uint64", 16, tUint64), 0),
		oneofMember(scalarField("float", 17, tFloat), 0),
		oneofMember(scalarField("double", 18, tDouble), 0),
		oneofMember(messageField("string_array", 21, local("StringArray")), 0),
		oneofMember(messageField("bool_array", 22, local("BoolArray")), 0),
		oneofMember(messageField("int32_array", 23, local("Int32Array")), 0),
		oneofMember(messageField("int64_array", 24, local("Int64Array")), 0),
		oneofMember(messageField("uint32_array", 25, local("Uint32Array")), 0),
		oneofMember(messageField("uint64_array", 26, local("Uint64Array")), 0),
		oneofMember(messageField("float_array", 27, local("FloatArray")), 0),
		oneofMember(messageField("double_array", 28, local("DoubleArray")), 0),
	)
	datapoint.OneofDecl = []*descriptorpb.OneofDescriptorProto{{Name: proto.String("value")}}

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(protoFile),
		Package:    proto.String(ProtoPackage),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/timestamp.proto"},
		EnumType: []*descriptorpb.EnumDescriptorProto{
			enumProto("DataType", dataTypeEnumValues),
			enumProto("EntryType", []enumValue{
				{"ENTRY_TYPE_UNSPECIFIED", 0},
				{"ENTRY_TYPE_ATTRIBUTE", 1},
				{"ENTRY_TYPE_SENSOR", 2},
				{"ENTRY_TYPE_ACTUATOR", 3},
			}),
			enumProto("View", []enumValue{
				{"VIEW_UNSPECIFIED", 0},
				{"VIEW_CURRENT_VALUE", 1},
				{"VIEW_TARGET_VALUE", 2},
				{"VIEW_METADATA", 3},
				{"VIEW_FIELDS", 10},
				{"VIEW_ALL", 20},
			}),
			enumProto("Field", fieldEnumValues()),
		},
		MessageType: []*descriptorpb.DescriptorProto{
			datapoint,
			arrayProto("StringArray", tString),
			arrayProto("BoolArray", tBool),
			arrayProto("Int32Array", tSint32),
			arrayProto("Int64Array", tSint64),
			arrayProto("Uint32Array", tUint32),
			arrayProto("Uint64Array", tUint64),
			arrayProto("FloatArray", tFloat),
			arrayProto("DoubleArray", tDouble),
			messageProto("Metadata",
				enumField("data_type", 11, local("DataType")),
				enumField("entry_type", 12, local("EntryType")),
				scalarField("description", 13, tString),
				scalarField("comment", 14, tString),
				scalarField("deprecation", 15, tString),
				scalarField("unit", 16, tString),
			),
			messageProto("DataEntry",
				scalarField("path", 1, tString),
				messageField("value", 2, local("Datapoint")),
				messageField("actuator_target", 3, local("Datapoint")),
				messageField("metadata", 10, local("Metadata")),
			),
			messageProto("Error",
				scalarField("code", 1, tUint32),
				scalarField("reason", 2, tString),
				scalarField("message", 3, tString),
			),
			messageProto("DataEntryError",
				scalarField("path", 1, tString),
				messageField("error", 2, local("Error")),
			),
			messageProto("EntryRequest",
				scalarField("path", 1, tString),
				enumField("view", 2, local("View")),
				repeated(enumField("fields", 3, local("Field"))),
			),
			messageProto("GetRequest",
				repeated(messageField("entries", 1, local("EntryRequest"))),
			),
			messageProto("GetResponse",
				repeated(messageField("entries", 1, local("DataEntry"))),
				repeated(messageField("errors", 2, local("DataEntryError"))),
				messageField("error", 3, local("Error")),
			),
			messageProto("EntryUpdate",
				messageField("entry", 1, local("DataEntry")),
				repeated(enumField("fields", 2, local("Field"))),
			),
			messageProto("SetRequest",
				repeated(messageField("updates", 1, local("EntryUpdate"))),
			),
			messageProto("SetResponse",
				messageField("error", 1, local("Error")),
				repeated(messageField("errors", 2, local("DataEntryError"))),
			),
			messageProto("SubscribeEntry",
				scalarField("path", 1, tString),
				enumField("view", 2, local("View")),
				repeated(enumField("fields", 3, local("Field"))),
			),
			messageProto("SubscribeRequest",
				repeated(messageField("entries", 1, local("SubscribeEntry"))),
			),
			messageProto("SubscribeResponse",
				repeated(messageField("updates", 1, local("EntryUpdate"))),
			),
			messageProto("GetServerInfoRequest"),
			messageProto("GetServerInfoResponse",
				scalarField("name", 1, tString),
				scalarField("version", 2, tString),
			),
		},
	}
}

// valFile is the resolved descriptor of valFileProto.
var valFile = mustBuildValFile()

func mustBuildValFile() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(valFileProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("broker: build %s descriptor: %v", protoFile, err))
	}
	return fd
}

// MessageDescriptor returns the descriptor of the named kuksa.val.v1 message.
func MessageDescriptor(name string) protoreflect.MessageDescriptor {
	return valFile.Messages().ByName(protoreflect.Name(name))
}
