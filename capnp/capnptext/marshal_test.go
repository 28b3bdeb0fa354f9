package capnptext

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kwohlfahrt/ecapnp/capnp"
)

// testSchema is a hand-written capnp.SchemaNode for a struct with one
// uint64 data field and one text pointer field, standing in for what a
// schema compiler would otherwise generate.
type testSchema struct{}

func (testSchema) Size() capnp.ObjectSize {
	return capnp.ObjectSize{DataSize: 8, PointerCount: 1}
}

func (testSchema) Method(name string) (capnp.MethodDescriptor, bool) {
	return capnp.MethodDescriptor{}, false
}

func (testSchema) Field(name string) (capnp.FieldDescriptor, bool) {
	for _, f := range (testSchema{}).Fields() {
		if f.Name == name {
			return f.FieldDescriptor, true
		}
	}
	return capnp.FieldDescriptor{}, false
}

func (testSchema) Fields() []capnp.NamedField {
	return []capnp.NamedField{
		{
			Name: "count",
			FieldDescriptor: capnp.FieldDescriptor{
				Kind:     capnp.DataField,
				Value:    capnp.UintValue,
				BitAlign: 0,
				BitLen:   64,
			},
		},
		{
			Name: "label",
			FieldDescriptor: capnp.FieldDescriptor{
				Kind:     capnp.PointerField,
				Value:    capnp.TextValue,
				PtrIndex: 0,
			},
		},
	}
}

func buildTestStruct(t *testing.T, count uint64, label string) capnp.Struct {
	t.Helper()
	_, seg, err := capnp.NewMessage(capnp.NewSingleSegmentArena(nil))
	require.NoError(t, err)
	s, err := capnp.NewStruct(seg, testSchema{}.Size())
	require.NoError(t, err)
	s.SetUint64(0, count)
	txt, err := capnp.NewText(seg, label)
	require.NoError(t, err)
	require.NoError(t, s.SetPtr(0, txt.ToPtr()))
	return s
}

func TestMarshalStructFields(t *testing.T) {
	s := buildTestStruct(t, 42, "hi")
	out, err := Marshal(testSchema{}, s)
	require.NoError(t, err)
	require.Contains(t, out, "count = 42")
	require.Contains(t, out, `label = "hi"`)
}

func TestMarshalQuotesSpecialCharacters(t *testing.T) {
	s := buildTestStruct(t, 0, "a\"b\nc")
	out, err := Marshal(testSchema{}, s)
	require.NoError(t, err)
	require.Contains(t, out, `"a\"b\nc"`)
}
