// Package capnptext marshals Cap'n Proto structs to a schema-language-like
// text form for debugging, mirroring what a generated accessor would print
// but driven off capnp.SchemaNode descriptors supplied by the caller.
package capnptext

import (
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/kwohlfahrt/ecapnp/capnp"
)

const (
	voidMarker      = "void"
	interfaceMarker = "<capability>"
	anyPtrMarker    = "<anypointer>"
)

// Marshal returns the text representation of s, described by schema.
func Marshal(schema capnp.SchemaNode, s capnp.Struct) (string, error) {
	var buf []byte
	w := &bufWriter{buf: &buf}
	enc := NewEncoder(w)
	if err := enc.Encode(schema, s); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Encoder writes the text format to an output stream, indenting nested
// structs and lists the way a pretty-printed schema literal would.
type Encoder struct {
	w   indentWriter
	tmp []byte
}

// NewEncoder returns an encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: indentWriter{w: w}}
}

// SetIndent sets the string used to indent each nesting level. An empty
// string disables indentation (everything on one line).
func (enc *Encoder) SetIndent(indent string) {
	enc.w.indentPerLevel = indent
}

// Encode writes the text representation of s to the stream.
func (enc *Encoder) Encode(schema capnp.SchemaNode, s capnp.Struct) error {
	if enc.w.err != nil {
		return enc.w.err
	}
	if err := enc.marshalStruct(schema, s); err != nil {
		return err
	}
	return enc.w.err
}

func (enc *Encoder) marshalStruct(schema capnp.SchemaNode, s capnp.Struct) error {
	fields := schema.Fields()
	if len(fields) == 0 {
		_, err := enc.w.WriteString("()")
		return err
	}
	enc.w.WriteByte('(')
	enc.w.Indent()
	enc.w.NewLine()
	for i, f := range fields {
		if i > 0 {
			enc.w.WriteByte(',')
			enc.w.NewLineOrSpace()
		}
		enc.w.WriteString(f.Name)
		enc.w.WriteString(" = ")
		if err := enc.marshalField(s, f.FieldDescriptor); err != nil {
			return errors.Wrapf(err, "field %s", f.Name)
		}
	}
	enc.w.NewLine()
	enc.w.Unindent()
	enc.w.WriteByte(')')
	return nil
}

func (enc *Encoder) marshalField(s capnp.Struct, f capnp.FieldDescriptor) error {
	if f.Kind == capnp.DataField {
		return enc.marshalScalar(f.Value, readBits(s, f.BitAlign, f.BitLen))
	}
	p, err := s.Ptr(f.PtrIndex)
	if err != nil {
		return err
	}
	return enc.marshalPointerValue(f.Value, f.Element, f.Struct, p)
}

func (enc *Encoder) marshalScalar(v capnp.ValueType, bits uint64) error {
	switch v {
	case capnp.VoidValue:
		_, err := enc.w.WriteString(voidMarker)
		return err
	case capnp.BoolValue:
		if bits != 0 {
			_, err := enc.w.WriteString("true")
			return err
		}
		_, err := enc.w.WriteString("false")
		return err
	case capnp.IntValue:
		enc.tmp = strconv.AppendInt(enc.tmp[:0], int64(bits), 10)
		_, err := enc.w.Write(enc.tmp)
		return err
	case capnp.Float32Value, capnp.Float64Value:
		enc.tmp = strconv.AppendUint(enc.tmp[:0], bits, 10)
		_, err := enc.w.Write(enc.tmp)
		return err
	default:
		enc.tmp = strconv.AppendUint(enc.tmp[:0], bits, 10)
		_, err := enc.w.Write(enc.tmp)
		return err
	}
}

func (enc *Encoder) marshalPointerValue(v, elem capnp.ValueType, schema capnp.SchemaNode, p capnp.Ptr) error {
	switch v {
	case capnp.TextValue:
		enc.tmp = quote(enc.tmp[:0], []byte(p.Text()))
		_, err := enc.w.Write(enc.tmp)
		return err
	case capnp.DataValue:
		enc.tmp = quote(enc.tmp[:0], p.Data())
		_, err := enc.w.Write(enc.tmp)
		return err
	case capnp.StructValue:
		return enc.marshalStruct(schema, p.Struct())
	case capnp.ListValue:
		return enc.marshalList(elem, schema, p.List())
	case capnp.InterfaceValue:
		_, err := enc.w.WriteString(interfaceMarker)
		return err
	default:
		_, err := enc.w.WriteString(anyPtrMarker)
		return err
	}
}

func (enc *Encoder) marshalList(elem capnp.ValueType, schema capnp.SchemaNode, l capnp.List) error {
	if l.Len() == 0 {
		_, err := enc.w.WriteString("[]")
		return err
	}
	enc.w.WriteByte('[')
	enc.w.Indent()
	enc.w.NewLine()
	for i := 0; i < l.Len(); i++ {
		if i > 0 {
			enc.w.WriteByte(',')
			enc.w.NewLineOrSpace()
		}
		var err error
		switch elem {
		case capnp.StructValue:
			err = enc.marshalStruct(schema, l.Struct(i))
		case capnp.TextValue, capnp.DataValue, capnp.ListValue, capnp.InterfaceValue, capnp.AnyPointerValue:
			var p capnp.Ptr
			p, err = l.PtrAt(i)
			if err == nil {
				err = enc.marshalPointerValue(elem, capnp.AnyPointerValue, schema, p)
			}
		case capnp.BoolValue:
			err = enc.marshalScalar(elem, boolToUint64(l.BitAt(i)))
		default:
			err = enc.marshalScalar(elem, l.UInt64At(i))
		}
		if err != nil {
			return err
		}
	}
	enc.w.NewLine()
	enc.w.Unindent()
	enc.w.WriteByte(']')
	return nil
}

func readBits(s capnp.Struct, bitAlign, bitLen uint32) uint64 {
	switch bitLen {
	case 1:
		return boolToUint64(s.Bit(capnp.BitOffset(bitAlign)))
	case 8:
		return uint64(s.Uint8(capnp.Address(bitAlign / 8)))
	case 16:
		return uint64(s.Uint16(capnp.Address(bitAlign / 8)))
	case 32:
		return uint64(s.Uint32(capnp.Address(bitAlign / 8)))
	case 64:
		return s.Uint64(capnp.Address(bitAlign / 8))
	default:
		return 0
	}
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func quote(dst, src []byte) []byte {
	dst = append(dst, '"')
	for _, b := range src {
		switch {
		case b == '"' || b == '\\':
			dst = append(dst, '\\', b)
		case b == '\n':
			dst = append(dst, '\\', 'n')
		case b < 0x20 || b >= 0x7f:
			dst = append(dst, '\\', 'x', hexDigit(b>>4), hexDigit(b&0xf))
		default:
			dst = append(dst, b)
		}
	}
	return append(dst, '"')
}

func hexDigit(b byte) byte {
	const digits = "0123456789abcdef"
	return digits[b]
}

// bufWriter is a minimal io.Writer/io.ByteWriter over a *[]byte, used by
// Marshal so it need not pull in bytes.Buffer just for this.
type bufWriter struct {
	buf *[]byte
}

func (w *bufWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}

func (w *bufWriter) WriteByte(b byte) error {
	*w.buf = append(*w.buf, b)
	return nil
}
