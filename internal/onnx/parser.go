package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// ParseFile parses an ONNX model from a file.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	p := &parser{data: data}
	model := &ModelProto{}
	if err := p.readModelProto(model); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return model, nil
}

// parser is a minimal protobuf wire format decoder.
type parser struct {
	data []byte
	pos  int
}

// Protobuf wire types.
const (
	wireVarint = 0 // int32, int64, bool, enum
	wire64Bit  = 1 // fixed64, double
	wireBytes  = 2 // string, bytes, embedded messages, packed repeated
	wire32Bit  = 5 // fixed32, float
)

// fields walks every field of the current message, calling handle with the
// field number and wire type. handle returns false to have the field skipped.
func (p *parser) fields(handle func(fieldNum, wireType int) (bool, error)) error {
	for p.pos < len(p.data) {
		fieldNum, wireType, err := p.readTag()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		handled, err := handle(fieldNum, wireType)
		if err != nil {
			return err
		}
		if !handled {
			if err := p.skipField(wireType); err != nil {
				return err
			}
		}
	}
	return nil
}

// sub decodes an embedded message with the given reader.
func (p *parser) sub(read func(sub *parser) error) error {
	data, err := p.readBytes()
	if err != nil {
		return err
	}
	return read(&parser{data: data})
}

func (p *parser) readModelProto(m *ModelProto) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // ir_version
			m.IRVersion, err = p.readVarint()
		case 2: // producer_name
			m.ProducerName, err = p.readString()
		case 3: // producer_version
			m.ProducerVersion, err = p.readString()
		case 4: // domain
			m.Domain, err = p.readString()
		case 5: // model_version
			m.ModelVersion, err = p.readVarint()
		case 6: // doc_string
			m.DocString, err = p.readString()
		case 7: // graph
			m.Graph = &GraphProto{}
			err = p.sub(func(sub *parser) error { return sub.readGraphProto(m.Graph) })
		case 8: // opset_import
			opset := OperatorSetID{}
			err = p.sub(func(sub *parser) error { return sub.readOperatorSetID(&opset) })
			m.OpsetImport = append(m.OpsetImport, opset)
		case 14: // metadata_props
			entry := StringStringEntry{}
			err = p.sub(func(sub *parser) error { return sub.readStringStringEntry(&entry) })
			m.MetadataProps = append(m.MetadataProps, entry)
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readGraphProto(m *GraphProto) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // node
			node := NodeProto{}
			err = p.sub(func(sub *parser) error { return sub.readNodeProto(&node) })
			m.Nodes = append(m.Nodes, node)
		case 2: // name
			m.Name, err = p.readString()
		case 5: // initializer
			t := TensorProto{}
			err = p.sub(func(sub *parser) error { return sub.readTensorProto(&t) })
			m.Initializers = append(m.Initializers, t)
		case 10: // doc_string
			m.DocString, err = p.readString()
		case 11: // input
			vi := ValueInfoProto{}
			err = p.sub(func(sub *parser) error { return sub.readValueInfoProto(&vi) })
			m.Inputs = append(m.Inputs, vi)
		case 12: // output
			vi := ValueInfoProto{}
			err = p.sub(func(sub *parser) error { return sub.readValueInfoProto(&vi) })
			m.Outputs = append(m.Outputs, vi)
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readNodeProto(m *NodeProto) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // input
			var s string
			s, err = p.readString()
			m.Inputs = append(m.Inputs, s)
		case 2: // output
			var s string
			s, err = p.readString()
			m.Outputs = append(m.Outputs, s)
		case 3: // name
			m.Name, err = p.readString()
		case 4: // op_type
			m.OpType, err = p.readString()
		case 5: // attribute
			attr := AttributeProto{}
			err = p.sub(func(sub *parser) error { return sub.readAttributeProto(&attr) })
			m.Attributes = append(m.Attributes, attr)
		case 7: // domain
			m.Domain, err = p.readString()
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readTensorProto(m *TensorProto) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // dims (repeated int64, possibly packed)
			if wireType == wireBytes {
				m.Dims, err = p.appendPackedVarints(m.Dims)
			} else {
				var v int64
				v, err = p.readVarint()
				m.Dims = append(m.Dims, v)
			}
		case 2: // data_type
			m.DataType, err = p.readInt32()
		case 4: // float_data (packed)
			m.FloatData, err = p.appendPackedFloats(m.FloatData)
		case 5: // int32_data (packed)
			var vals []int64
			vals, err = p.appendPackedVarints(nil)
			for _, v := range vals {
				m.Int32Data = append(m.Int32Data, int32(v))
			}
		case 7: // int64_data (packed)
			m.Int64Data, err = p.appendPackedVarints(m.Int64Data)
		case 8: // name
			m.Name, err = p.readString()
		case 9: // raw_data
			m.RawData, err = p.readBytes()
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readValueInfoProto(m *ValueInfoProto) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // name
			m.Name, err = p.readString()
		case 2: // type
			m.Type = &TypeProto{}
			err = p.sub(func(sub *parser) error { return sub.readTypeProto(m.Type) })
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readTypeProto(m *TypeProto) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		if fieldNum != 1 { // tensor_type
			return false, nil
		}
		m.TensorType = &TensorTypeProto{}
		err := p.sub(func(sub *parser) error { return sub.readTensorTypeProto(m.TensorType) })
		return true, err
	})
}

func (p *parser) readTensorTypeProto(m *TensorTypeProto) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // elem_type
			m.ElemType, err = p.readInt32()
		case 2: // shape
			m.Shape = &TensorShapeProto{}
			err = p.sub(func(sub *parser) error { return sub.readTensorShapeProto(m.Shape) })
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readTensorShapeProto(m *TensorShapeProto) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		if fieldNum != 1 { // dim
			return false, nil
		}
		dim := DimensionProto{}
		err := p.sub(func(sub *parser) error { return sub.readDimensionProto(&dim) })
		m.Dims = append(m.Dims, dim)
		return true, err
	})
}

func (p *parser) readDimensionProto(m *DimensionProto) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // dim_value
			m.DimValue, err = p.readVarint()
		case 2: // dim_param
			m.DimParam, err = p.readString()
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readAttributeProto(m *AttributeProto) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // name
			m.Name, err = p.readString()
		case 2: // f
			m.F, err = p.readFloat32()
		case 3: // i
			m.I, err = p.readVarint()
		case 4: // s
			m.S, err = p.readBytes()
		case 5: // t
			m.T = &TensorProto{}
			err = p.sub(func(sub *parser) error { return sub.readTensorProto(m.T) })
		case 6: // floats (packed)
			m.Floats, err = p.appendPackedFloats(m.Floats)
		case 7: // ints (packed)
			m.Ints, err = p.appendPackedVarints(m.Ints)
		case 8: // strings
			var s []byte
			s, err = p.readBytes()
			m.Strings = append(m.Strings, s)
		case 20: // type
			m.Type, err = p.readInt32()
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readOperatorSetID(m *OperatorSetID) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // domain
			m.Domain, err = p.readString()
		case 2: // version
			m.Version, err = p.readVarint()
		default:
			return false, nil
		}
		return true, err
	})
}

func (p *parser) readStringStringEntry(m *StringStringEntry) error {
	return p.fields(func(fieldNum, wireType int) (bool, error) {
		var err error
		switch fieldNum {
		case 1: // key
			m.Key, err = p.readString()
		case 2: // value
			m.Value, err = p.readString()
		default:
			return false, nil
		}
		return true, err
	})
}

// Wire primitives.

func (p *parser) readTag() (fieldNum, wireType int, err error) {
	if p.pos >= len(p.data) {
		return 0, 0, io.EOF
	}
	tag, err := p.readVarint()
	if err != nil {
		return 0, 0, err
	}
	return int(tag >> 3), int(tag & 0x7), nil
}

func (p *parser) readVarint() (int64, error) {
	var result uint64
	var shift uint
	for {
		if p.pos >= len(p.data) {
			return 0, io.EOF
		}
		b := p.data[p.pos]
		p.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 64 {
			return 0, errors.New("varint overflow")
		}
	}
	return int64(result), nil
}

func (p *parser) readInt32() (int32, error) {
	v, err := p.readVarint()
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func (p *parser) readBytes() ([]byte, error) {
	length, err := p.readVarint()
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, errors.New("negative length")
	}
	end := p.pos + int(length)
	if end > len(p.data) {
		return nil, io.ErrUnexpectedEOF
	}
	result := p.data[p.pos:end]
	p.pos = end
	return result, nil
}

func (p *parser) readString() (string, error) {
	data, err := p.readBytes()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (p *parser) readFloat32() (float32, error) {
	if p.pos+4 > len(p.data) {
		return 0, io.ErrUnexpectedEOF
	}
	bits := binary.LittleEndian.Uint32(p.data[p.pos:])
	p.pos += 4
	return math.Float32frombits(bits), nil
}

// appendPackedVarints decodes a packed repeated varint field.
func (p *parser) appendPackedVarints(dst []int64) ([]int64, error) {
	data, err := p.readBytes()
	if err != nil {
		return dst, err
	}
	sub := &parser{data: data}
	for sub.pos < len(sub.data) {
		v, err := sub.readVarint()
		if err != nil {
			break
		}
		dst = append(dst, v)
	}
	return dst, nil
}

// appendPackedFloats decodes a packed repeated float field.
func (p *parser) appendPackedFloats(dst []float32) ([]float32, error) {
	data, err := p.readBytes()
	if err != nil {
		return dst, err
	}
	for i := 0; i+4 <= len(data); i += 4 {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
	}
	return dst, nil
}

func (p *parser) skipField(wireType int) error {
	switch wireType {
	case wireVarint:
		_, err := p.readVarint()
		return err
	case wire64Bit:
		if p.pos+8 > len(p.data) {
			return io.ErrUnexpectedEOF
		}
		p.pos += 8
		return nil
	case wireBytes:
		_, err := p.readBytes()
		return err
	case wire32Bit:
		if p.pos+4 > len(p.data) {
			return io.ErrUnexpectedEOF
		}
		p.pos += 4
		return nil
	default:
		return fmt.Errorf("unknown wire type: %d", wireType)
	}
}
