package capnp

// SchemaNode is the external schema adapter's view of a struct or
// interface type: the pre-compiled descriptor this engine consumes but
// never produces, per spec.md §1/§4.2/§6. A real binding generates these
// from a compiled .capnp schema; this package only needs their shape.
type SchemaNode interface {
	// Size returns the data/pointer section layout for a struct type.
	Size() ObjectSize
	// Method looks up a method descriptor by name on an interface type.
	Method(name string) (MethodDescriptor, bool)
	// Field looks up a field descriptor by name on a struct type.
	Field(name string) (FieldDescriptor, bool)
	// Fields lists a struct type's fields in declaration order, for
	// callers that must walk every field rather than look one up by
	// name (capnptext's debug dump, mainly).
	Fields() []NamedField
}

// NamedField pairs a field's schema name with its descriptor, for
// iteration order SchemaNode.Fields returns.
type NamedField struct {
	Name string
	FieldDescriptor
}

// ValueType says how to interpret the bits or pointer a FieldDescriptor
// addresses, beyond the addressing mechanism FieldKind already gives.
type ValueType int

const (
	VoidValue ValueType = iota
	BoolValue
	IntValue
	UintValue
	Float32Value
	Float64Value
	TextValue
	DataValue
	StructValue
	ListValue
	InterfaceValue
	AnyPointerValue
)

// MethodDescriptor is what the schema adapter returns for
// (interface, method_name), per spec.md §6.
type MethodDescriptor struct {
	Method      Method
	ParamsSize  ObjectSize
	ResultsSize ObjectSize
}

// FieldKind distinguishes the two ways a FieldDescriptor addresses a
// struct: a bit-aligned data field, or a pointer-section slot.
type FieldKind int

const (
	DataField FieldKind = iota
	PointerField
)

// FieldDescriptor is what the schema adapter returns for (struct, field),
// per spec.md §6: enough to read/write the field via read_struct_data /
// read_struct_ptr without the caller knowing struct layout rules.
type FieldDescriptor struct {
	Kind  FieldKind
	Value ValueType

	// Valid when Kind == DataField.
	BitAlign uint32
	BitLen   uint32

	// Valid when Kind == PointerField.
	PtrIndex int16

	// Valid when Value == StructValue, or Value == ListValue and
	// Element == StructValue.
	Struct SchemaNode

	// Valid when Value == ListValue: the type of each element.
	Element ValueType
}
