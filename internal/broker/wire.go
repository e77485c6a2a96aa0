package broker

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Message is a VAL request or response. On the wire it travels as the
// kuksa.val.v1 protobuf message named by ProtoName.
type Message interface {
	ProtoName() protoreflect.Name
	encode(m protoreflect.Message) error
	decode(m protoreflect.Message)
}

// ToProto converts msg to a dynamic protobuf message that gRPC's default
// codec can marshal.
func ToProto(msg Message) (*dynamicpb.Message, error) {
	m := dynamicpb.NewMessage(MessageDescriptor(string(msg.ProtoName())))
	if err := msg.encode(m); err != nil {
		return nil, fmt.Errorf("broker: encode %s: %w", msg.ProtoName(), err)
	}
	return m, nil
}

// FromProto fills msg from pm, which must be the matching kuksa.val.v1 message.
func FromProto(pm proto.Message, msg Message) error {
	m := pm.ProtoReflect()
	want := protoreflect.FullName(ProtoPackage).Append(msg.ProtoName())
	if got := m.Descriptor().FullName(); got != want {
		return fmt.Errorf("broker: decode %s: got %s", want, got)
	}
	msg.decode(m)
	return nil
}

// Marshal encodes msg in the protobuf wire format.
func Marshal(msg Message) ([]byte, error) {
	m, err := ToProto(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(m)
}

// Unmarshal decodes protobuf bytes into msg.
func Unmarshal(data []byte, msg Message) error {
	m := newProto(msg)
	if err := proto.Unmarshal(data, m); err != nil {
		return fmt.Errorf("broker: decode %s: %w", msg.ProtoName(), err)
	}
	msg.decode(m)
	return nil
}

func newProto(msg Message) *dynamicpb.Message {
	return dynamicpb.NewMessage(MessageDescriptor(string(msg.ProtoName())))
}

func field(m protoreflect.Message, name string) protoreflect.FieldDescriptor {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("broker: %s has no field %q", m.Descriptor().FullName(), name))
	}
	return fd
}

func setString(m protoreflect.Message, name, v string) {
	if v != "" {
		m.Set(field(m, name), protoreflect.ValueOfString(v))
	}
}

func getString(m protoreflect.Message, name string) string {
	return m.Get(field(m, name)).String()
}

func setEnum[E ~int32](m protoreflect.Message, name string, v E) {
	if v != 0 {
		m.Set(field(m, name), protoreflect.ValueOfEnum(protoreflect.EnumNumber(v)))
	}
}

func getEnum[E ~int32](m protoreflect.Message, name string) E {
	return E(m.Get(field(m, name)).Enum())
}

func setEnums[E ~int32](m protoreflect.Message, name string, values []E) {
	if len(values) == 0 {
		return
	}
	list := m.Mutable(field(m, name)).List()
	for _, v := range values {
		list.Append(protoreflect.ValueOfEnum(protoreflect.EnumNumber(v)))
	}
}

func getEnums[E ~int32](m protoreflect.Message, name string) []E {
	list := m.Get(field(m, name)).List()
	if list.Len() == 0 {
		return nil
	}
	out := make([]E, list.Len())
	for i := range out {
		out[i] = E(list.Get(i).Enum())
	}
	return out
}

func mutableMessage(m protoreflect.Message, name string) protoreflect.Message {
	return m.Mutable(field(m, name)).Message()
}

func getMessage(m protoreflect.Message, name string) (protoreflect.Message, bool) {
	fd := field(m, name)
	if !m.Has(fd) {
		return nil, false
	}
	return m.Get(fd).Message(), true
}

func appendMessage(m protoreflect.Message, name string) protoreflect.Message {
	list := m.Mutable(field(m, name)).List()
	elem := list.NewElement()
	list.Append(elem)
	return elem.Message()
}

func eachMessage(m protoreflect.Message, name string, fn func(protoreflect.Message)) {
	list := m.Get(field(m, name)).List()
	for i := 0; i < list.Len(); i++ {
		fn(list.Get(i).Message())
	}
}

func appendValues[T any](list protoreflect.List, values []T) {
	for _, v := range values {
		list.Append(protoreflect.ValueOf(v))
	}
}

func listValues[T any](list protoreflect.List) []T {
	out := make([]T, list.Len())
	for i := range out {
		out[i], _ = list.Get(i).Interface().(T)
	}
	return out
}

// The Datapoint oneof members are named after the value kinds.
func encodeDatapoint(m protoreflect.Message, d Datapoint) error {
	if !d.Timestamp.IsZero() {
		ts := mutableMessage(m, "timestamp")
		ts.Set(field(ts, "seconds"), protoreflect.ValueOfInt64(d.Timestamp.Unix()))
		ts.Set(field(ts, "nanos"), protoreflect.ValueOfInt32(int32(d.Timestamp.Nanosecond())))
	}
	if !d.IsSet() {
		return nil
	}
	if kind, ok := kindOf(d.Value); !ok || kind != d.Kind {
		return fmt.Errorf("datapoint of kind %s holds %T", d.Kind, d.Value)
	}

	fd := field(m, string(d.Kind))
	if fd.Message() == nil {
		m.Set(fd, protoreflect.ValueOf(d.Value))
		return nil
	}
	array := m.Mutable(fd).Message()
	values := array.Mutable(field(array, "values")).List()
	switch v := d.Value.(type) {
	case []string:
		appendValues(values, v)
	case []bool:
		appendValues(values, v)
	case []int32:
		appendValues(values, v)
	case []int64:
		appendValues(values, v)
	case []uint32:
		appendValues(values, v)
	case []uint64:
		appendValues(values, v)
	case []float32:
		appendValues(values, v)
	case []float64:
		appendValues(values, v)
	}
	return nil
}

func decodeDatapoint(m protoreflect.Message) Datapoint {
	var d Datapoint
	if ts, ok := getMessage(m, "timestamp"); ok {
		sec := ts.Get(field(ts, "seconds")).Int()
		nsec := ts.Get(field(ts, "nanos")).Int()
		d.Timestamp = time.Unix(sec, nsec).UTC()
	}

	fd := m.WhichOneof(m.Descriptor().Oneofs().ByName("value"))
	if fd == nil {
		return d
	}
	d.Kind = ValueKind(fd.Name())
	if fd.Message() == nil {
		d.Value = m.Get(fd).Interface()
		return d
	}
	array := m.Get(fd).Message()
	values := array.Get(field(array, "values")).List()
	switch d.Kind {
	case KindStringArray:
		d.Value = listValues[string](values)
	case KindBoolArray:
		d.Value = listValues[bool](values)
	case KindInt32Array:
		d.Value = listValues[int32](values)
	case KindInt64Array:
		d.Value = listValues[int64](values)
	case KindUint32Array:
		d.Value = listValues[uint32](values)
	case KindUint64Array:
		d.Value = listValues[uint64](values)
	case KindFloatArray:
		d.Value = listValues[float32](values)
	case KindDoubleArray:
		d.Value = listValues[float64](values)
	}
	return d
}

func encodeMetadata(m protoreflect.Message, md Metadata) {
	setEnum(m, "data_type", md.DataType)
	setEnum(m, "entry_type", md.EntryType)
	setString(m, "description", md.Description)
	setString(m, "comment", md.Comment)
	setString(m, "deprecation", md.Deprecation)
	setString(m, "unit", md.Unit)
}

func decodeMetadata(m protoreflect.Message) Metadata {
	return Metadata{
		DataType:    getEnum[DataType](m, "data_type"),
		EntryType:   getEnum[EntryType](m, "entry_type"),
		Description: getString(m, "description"),
		Comment:     getString(m, "comment"),
		Deprecation: getString(m, "deprecation"),
		Unit:        getString(m, "unit"),
	}
}

func encodeDataEntry(m protoreflect.Message, e DataEntry) error {
	setString(m, "path", e.Path)
	if e.Value != nil {
		if err := encodeDatapoint(mutableMessage(m, "value"), *e.Value); err != nil {
			return fmt.Errorf("%s value: %w", e.Path, err)
		}
	}
	if e.ActuatorTarget != nil {
		if err := encodeDatapoint(mutableMessage(m, "actuator_target"), *e.ActuatorTarget); err != nil {
			return fmt.Errorf("%s actuator target: %w", e.Path, err)
		}
	}
	if e.Metadata != nil {
		encodeMetadata(mutableMessage(m, "metadata"), *e.Metadata)
	}
	return nil
}

func decodeDataEntry(m protoreflect.Message) DataEntry {
	e := DataEntry{Path: getString(m, "path")}
	if v, ok := getMessage(m, "value"); ok {
		dp := decodeDatapoint(v)
		e.Value = &dp
	}
	if v, ok := getMessage(m, "actuator_target"); ok {
		dp := decodeDatapoint(v)
		e.ActuatorTarget = &dp
	}
	if v, ok := getMessage(m, "metadata"); ok {
		md := decodeMetadata(v)
		e.Metadata = &md
	}
	return e
}

func encodeError(m protoreflect.Message, e Error) {
	if e.Code != 0 {
		m.Set(field(m, "code"), protoreflect.ValueOfUint32(e.Code))
	}
	setString(m, "reason", e.Reason)
	setString(m, "message", e.Message)
}

func decodeError(m protoreflect.Message) Error {
	return Error{
		Code:    uint32(m.Get(field(m, "code")).Uint()),
		Reason:  getString(m, "reason"),
		Message: getString(m, "message"),
	}
}

func encodeEntryErrors(m protoreflect.Message, errs []DataEntryError) {
	for _, e := range errs {
		em := appendMessage(m, "errors")
		setString(em, "path", e.Path)
		encodeError(mutableMessage(em, "error"), e.Error)
	}
}

func decodeEntryErrors(m protoreflect.Message) []DataEntryError {
	var errs []DataEntryError
	eachMessage(m, "errors", func(em protoreflect.Message) {
		e := DataEntryError{Path: getString(em, "path")}
		if inner, ok := getMessage(em, "error"); ok {
			e.Error = decodeError(inner)
		}
		errs = append(errs, e)
	})
	return errs
}

func encodeTopError(m protoreflect.Message, e *Error) {
	if e != nil {
		encodeError(mutableMessage(m, "error"), *e)
	}
}

func decodeTopError(m protoreflect.Message) *Error {
	em, ok := getMessage(m, "error")
	if !ok {
		return nil
	}
	e := decodeError(em)
	return &e
}

func encodeUpdates(m protoreflect.Message, updates []EntryUpdate) error {
	for _, u := range updates {
		um := appendMessage(m, "updates")
		if err := encodeDataEntry(mutableMessage(um, "entry"), u.Entry); err != nil {
			return err
		}
		setEnums(um, "fields", u.Fields)
	}
	return nil
}

func decodeUpdates(m protoreflect.Message) []EntryUpdate {
	var updates []EntryUpdate
	eachMessage(m, "updates", func(um protoreflect.Message) {
		u := EntryUpdate{Fields: getEnums[Field](um, "fields")}
		if em, ok := getMessage(um, "entry"); ok {
			u.Entry = decodeDataEntry(em)
		}
		updates = append(updates, u)
	})
	return updates
}

func (*GetRequest) ProtoName() protoreflect.Name { return "GetRequest" }

func (r *GetRequest) encode(m protoreflect.Message) error {
	for _, e := range r.Entries {
		em := appendMessage(m, "entries")
		setString(em, "path", e.Path)
		setEnum(em, "view", e.View)
		setEnums(em, "fields", e.Fields)
	}
	return nil
}

func (r *GetRequest) decode(m protoreflect.Message) {
	r.Entries = nil
	eachMessage(m, "entries", func(em protoreflect.Message) {
		r.Entries = append(r.Entries, EntryRequest{
			Path:   getString(em, "path"),
			View:   getEnum[View](em, "view"),
			Fields: getEnums[Field](em, "fields"),
		})
	})
}

func (*GetResponse) ProtoName() protoreflect.Name { return "GetResponse" }

func (r *GetResponse) encode(m protoreflect.Message) error {
	for _, e := range r.Entries {
		if err := encodeDataEntry(appendMessage(m, "entries"), e); err != nil {
			return err
		}
	}
	encodeEntryErrors(m, r.Errors)
	encodeTopError(m, r.Error)
	return nil
}

func (r *GetResponse) decode(m protoreflect.Message) {
	r.Entries = nil
	eachMessage(m, "entries", func(em protoreflect.Message) {
		r.Entries = append(r.Entries, decodeDataEntry(em))
	})
	r.Errors = decodeEntryErrors(m)
	r.Error = decodeTopError(m)
}

func (*SetRequest) ProtoName() protoreflect.Name { return "SetRequest" }

func (r *SetRequest) encode(m protoreflect.Message) error {
	return encodeUpdates(m, r.Updates)
}

func (r *SetRequest) decode(m protoreflect.Message) {
	r.Updates = decodeUpdates(m)
}

func (*SetResponse) ProtoName() protoreflect.Name { return "SetResponse" }

func (r *SetResponse) encode(m protoreflect.Message) error {
	encodeTopError(m, r.Error)
	encodeEntryErrors(m, r.Errors)
	return nil
}

func (r *SetResponse) decode(m protoreflect.Message) {
	r.Error = decodeTopError(m)
	r.Errors = decodeEntryErrors(m)
}

func (*SubscribeRequest) ProtoName() protoreflect.Name { return "SubscribeRequest" }

func (r *SubscribeRequest) encode(m protoreflect.Message) error {
	for _, e := range r.Entries {
		em := appendMessage(m, "entries")
		setString(em, "path", e.Path)
		setEnum(em, "view", e.View)
		setEnums(em, "fields", e.Fields)
	}
	return nil
}

func (r *SubscribeRequest) decode(m protoreflect.Message) {
	r.Entries = nil
	eachMessage(m, "entries", func(em protoreflect.Message) {
		r.Entries = append(r.Entries, SubscribeEntry{
			Path:   getString(em, "path"),
			View:   getEnum[View](em, "view"),
			Fields: getEnums[Field](em, "fields"),
		})
	})
}

func (*SubscribeResponse) ProtoName() protoreflect.Name { return "SubscribeResponse" }

func (r *SubscribeResponse) encode(m protoreflect.Message) error {
	return encodeUpdates(m, r.Updates)
}

func (r *SubscribeResponse) decode(m protoreflect.Message) {
	r.Updates = decodeUpdates(m)
}

func (*GetServerInfoRequest) ProtoName() protoreflect.Name { return "GetServerInfoRequest" }

func (*GetServerInfoRequest) encode(protoreflect.Message) error { return nil }

func (*GetServerInfoRequest) decode(protoreflect.Message) {}

func (*GetServerInfoResponse) ProtoName() protoreflect.Name { return "GetServerInfoResponse" }

func (r *GetServerInfoResponse) encode(m protoreflect.Message) error {
	setString(m, "name", r.Name)
	setString(m, "version", r.Version)
	return nil
}

func (r *GetServerInfoResponse) decode(m protoreflect.Message) {
	r.Name = getString(m, "name")
	r.Version = getString(m, "version")
}
