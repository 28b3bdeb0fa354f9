package capnp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// objTestSchema describes a struct with one uint32 data field ("n") and
// one text pointer field ("name"), for exercising Object against the
// generic SchemaNode surface without a real compiled schema.
type objTestSchema struct{}

func (objTestSchema) Size() ObjectSize { return ObjectSize{DataSize: 8, PointerCount: 1} }
func (objTestSchema) Method(string) (MethodDescriptor, bool) { return MethodDescriptor{}, false }

func (s objTestSchema) Field(name string) (FieldDescriptor, bool) {
	switch name {
	case "n":
		return FieldDescriptor{Kind: DataField, Value: UintValue, BitAlign: 0, BitLen: 32}, true
	case "name":
		return FieldDescriptor{Kind: PointerField, Value: TextValue, PtrIndex: 0}, true
	default:
		return FieldDescriptor{}, false
	}
}

func (s objTestSchema) Fields() []NamedField {
	n, _ := s.Field("n")
	name, _ := s.Field("name")
	return []NamedField{{Name: "n", FieldDescriptor: n}, {Name: "name", FieldDescriptor: name}}
}

func TestObjectFieldBitsRoundTrip(t *testing.T) {
	_, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)
	st, err := NewStruct(seg, objTestSchema{}.Size())
	require.NoError(t, err)

	o := Object{Ptr: st.ToPtr(), Schema: objTestSchema{}}
	require.NoError(t, o.SetFieldBits("n", 7))

	v, ok := o.FieldBits("n")
	require.True(t, ok)
	require.Equal(t, uint64(7), v)

	_, ok = o.FieldBits("missing")
	require.False(t, ok)
}

func TestObjectFieldPointerRoundTrip(t *testing.T) {
	_, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)
	st, err := NewStruct(seg, objTestSchema{}.Size())
	require.NoError(t, err)

	o := Object{Ptr: st.ToPtr(), Schema: objTestSchema{}}
	txt, err := NewText(seg, "widget")
	require.NoError(t, err)
	require.NoError(t, o.SetField("name", txt.ToPtr()))

	p, err := o.Field("name")
	require.NoError(t, err)
	require.Equal(t, "widget", p.Text())
}

func TestObjectSetFieldWrongKindErrors(t *testing.T) {
	_, seg, err := NewMessage(NewSingleSegmentArena(nil))
	require.NoError(t, err)
	st, err := NewStruct(seg, objTestSchema{}.Size())
	require.NoError(t, err)

	o := Object{Ptr: st.ToPtr(), Schema: objTestSchema{}}
	err = o.SetFieldBits("name", 1)
	require.Error(t, err)
}
