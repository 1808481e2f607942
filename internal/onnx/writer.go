package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// WriteFile encodes an ONNX model and writes it to a file.
func WriteFile(path string, m *ModelProto) error {
	data, err := Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Marshal encodes an ONNX model to protobuf wire format. Field numbers
// mirror the decoder in parser.go.
func Marshal(m *ModelProto) ([]byte, error) {
	if m.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	e := &encoder{}
	e.writeModelProto(m)
	return e.buf, nil
}

// encoder is a minimal protobuf wire format encoder.
type encoder struct {
	buf []byte
}

func (e *encoder) writeModelProto(m *ModelProto) {
	e.varintField(1, m.IRVersion)
	e.stringField(2, m.ProducerName)
	e.stringField(3, m.ProducerVersion)
	e.stringField(4, m.Domain)
	e.varintField(5, m.ModelVersion)
	e.stringField(6, m.DocString)
	e.messageField(7, func(sub *encoder) { sub.writeGraphProto(m.Graph) })
	for i := range m.OpsetImport {
		opset := &m.OpsetImport[i]
		e.messageField(8, func(sub *encoder) { sub.writeOperatorSetID(opset) })
	}
	for i := range m.MetadataProps {
		entry := &m.MetadataProps[i]
		e.messageField(14, func(sub *encoder) { sub.writeStringStringEntry(entry) })
	}
}

func (e *encoder) writeGraphProto(m *GraphProto) {
	for i := range m.Nodes {
		node := &m.Nodes[i]
		e.messageField(1, func(sub *encoder) { sub.writeNodeProto(node) })
	}
	e.stringField(2, m.Name)
	for i := range m.Initializers {
		t := &m.Initializers[i]
		e.messageField(5, func(sub *encoder) { sub.writeTensorProto(t) })
	}
	e.stringField(10, m.DocString)
	for i := range m.Inputs {
		vi := &m.Inputs[i]
		e.messageField(11, func(sub *encoder) { sub.writeValueInfoProto(vi) })
	}
	for i := range m.Outputs {
		vi := &m.Outputs[i]
		e.messageField(12, func(sub *encoder) { sub.writeValueInfoProto(vi) })
	}
}

func (e *encoder) writeNodeProto(m *NodeProto) {
	for _, in := range m.Inputs {
		e.stringField(1, in)
	}
	for _, out := range m.Outputs {
		e.stringField(2, out)
	}
	e.stringField(3, m.Name)
	e.stringField(4, m.OpType)
	for i := range m.Attributes {
		attr := &m.Attributes[i]
		e.messageField(5, func(sub *encoder) { sub.writeAttributeProto(attr) })
	}
	e.stringField(7, m.Domain)
}

func (e *encoder) writeTensorProto(m *TensorProto) {
	e.packedVarints(1, m.Dims)
	if m.DataType != 0 {
		e.varintField(2, int64(m.DataType))
	}
	e.packedFloats(4, m.FloatData)
	if len(m.Int32Data) > 0 {
		vals := make([]int64, len(m.Int32Data))
		for i, v := range m.Int32Data {
			vals[i] = int64(v)
		}
		e.packedVarints(5, vals)
	}
	e.packedVarints(7, m.Int64Data)
	e.stringField(8, m.Name)
	e.bytesField(9, m.RawData)
}

func (e *encoder) writeValueInfoProto(m *ValueInfoProto) {
	e.stringField(1, m.Name)
	if m.Type != nil {
		e.messageField(2, func(sub *encoder) { sub.writeTypeProto(m.Type) })
	}
}

func (e *encoder) writeTypeProto(m *TypeProto) {
	if m.TensorType != nil {
		e.messageField(1, func(sub *encoder) { sub.writeTensorTypeProto(m.TensorType) })
	}
}

func (e *encoder) writeTensorTypeProto(m *TensorTypeProto) {
	if m.ElemType != 0 {
		e.varintField(1, int64(m.ElemType))
	}
	if m.Shape != nil {
		e.messageField(2, func(sub *encoder) { sub.writeTensorShapeProto(m.Shape) })
	}
}

func (e *encoder) writeTensorShapeProto(m *TensorShapeProto) {
	for i := range m.Dims {
		dim := &m.Dims[i]
		e.messageField(1, func(sub *encoder) { sub.writeDimensionProto(dim) })
	}
}

func (e *encoder) writeDimensionProto(m *DimensionProto) {
	// dim_value and dim_param are a oneof; the symbolic name wins when set.
	if m.DimParam != "" {
		e.stringField(2, m.DimParam)
		return
	}
	e.varintField(1, m.DimValue)
}

func (e *encoder) writeAttributeProto(m *AttributeProto) {
	e.stringField(1, m.Name)
	switch m.Type {
	case AttributeProtoFloat:
		e.floatField(2, m.F)
	case AttributeProtoInt:
		e.varintField(3, m.I)
	case AttributeProtoString:
		e.bytesField(4, m.S)
	case AttributeProtoTensor:
		if m.T != nil {
			e.messageField(5, func(sub *encoder) { sub.writeTensorProto(m.T) })
		}
	case AttributeProtoFloats:
		e.packedFloats(6, m.Floats)
	case AttributeProtoInts:
		e.packedVarints(7, m.Ints)
	case AttributeProtoStrings:
		for _, s := range m.Strings {
			e.bytesField(8, s)
		}
	}
	e.varintField(20, int64(m.Type))
}

func (e *encoder) writeOperatorSetID(m *OperatorSetID) {
	e.stringField(1, m.Domain)
	e.varintField(2, m.Version)
}

func (e *encoder) writeStringStringEntry(m *StringStringEntry) {
	e.stringField(1, m.Key)
	e.stringField(2, m.Value)
}

// Wire primitives. Zero/empty scalar fields are omitted, matching proto3
// serialization.

func (e *encoder) tag(fieldNum, wireType int) {
	e.varint(int64(fieldNum<<3 | wireType))
}

func (e *encoder) varint(v int64) {
	u := uint64(v)
	for u >= 0x80 {
		e.buf = append(e.buf, byte(u)|0x80)
		u >>= 7
	}
	e.buf = append(e.buf, byte(u))
}

func (e *encoder) varintField(fieldNum int, v int64) {
	if v == 0 {
		return
	}
	e.tag(fieldNum, wireVarint)
	e.varint(v)
}

func (e *encoder) bytesField(fieldNum int, data []byte) {
	if len(data) == 0 {
		return
	}
	e.tag(fieldNum, wireBytes)
	e.varint(int64(len(data)))
	e.buf = append(e.buf, data...)
}

func (e *encoder) stringField(fieldNum int, s string) {
	e.bytesField(fieldNum, []byte(s))
}

func (e *encoder) floatField(fieldNum int, v float32) {
	e.tag(fieldNum, wire32Bit)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	e.buf = append(e.buf, b[:]...)
}

// messageField encodes an embedded message as a length-delimited field.
func (e *encoder) messageField(fieldNum int, write func(sub *encoder)) {
	sub := &encoder{}
	write(sub)
	e.tag(fieldNum, wireBytes)
	e.varint(int64(len(sub.buf)))
	e.buf = append(e.buf, sub.buf...)
}

func (e *encoder) packedVarints(fieldNum int, vals []int64) {
	if len(vals) == 0 {
		return
	}
	sub := &encoder{}
	for _, v := range vals {
		sub.varint(v)
	}
	e.bytesField(fieldNum, sub.buf)
}

func (e *encoder) packedFloats(fieldNum int, vals []float32) {
	if len(vals) == 0 {
		return
	}
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	e.bytesField(fieldNum, data)
}
