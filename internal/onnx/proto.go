// Package onnx implements a hand-written codec for the ONNX protobuf wire
// format plus an execution engine for the exported graphs. Keeping both
// directions in one package lets exported models round-trip through the same
// structs for verification.
package onnx

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64
	OpsetImport     []OperatorSetID
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []StringStringEntry
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	Initializers []TensorProto // weight tensors
	DocString    string
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string
	OpType     string // e.g. "Conv", "LeakyRelu"
	Inputs     []string
	Outputs    []string
	Attributes []AttributeProto
	Domain     string // empty for the default domain
	DocString  string
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Name      string
	DataType  int32
	Dims      []int64
	RawData   []byte    // raw binary data (most common)
	FloatData []float32 // legacy packed float32
	Int32Data []int32   // legacy packed int32
	Int64Data []int64   // legacy packed int64
	DocString string
}

// ValueInfoProto describes an input/output tensor.
type ValueInfoProto struct {
	Name      string
	Type      *TypeProto
	DocString string
}

// TypeProto describes a value type.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto is one dimension: either a static value or a symbolic name
// ("batch", "height", "width" for dynamic exports).
type DimensionProto struct {
	DimValue int64
	DimParam string
}

// AttributeProto represents a node attribute.
type AttributeProto struct {
	Name      string
	Type      int32
	F         float32
	I         int64
	S         []byte
	T         *TensorProto
	Floats    []float32
	Ints      []int64
	Strings   [][]byte
	DocString string
}

// OperatorSetID identifies an opset version.
type OperatorSetID struct {
	Domain  string // empty for the default domain
	Version int64
}

// StringStringEntry is a key-value metadata pair.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined int32 = 0
	TensorProtoFloat     int32 = 1 // float32
	TensorProtoUint8     int32 = 2
	TensorProtoInt8      int32 = 3
	TensorProtoUint16    int32 = 4
	TensorProtoInt16     int32 = 5
	TensorProtoInt32     int32 = 6
	TensorProtoInt64     int32 = 7
	TensorProtoString    int32 = 8
	TensorProtoBool      int32 = 9
	TensorProtoFloat16   int32 = 10
	TensorProtoDouble    int32 = 11
	TensorProtoUint32    int32 = 12
	TensorProtoUint64    int32 = 13
	TensorProtoBfloat16  int32 = 16
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined int32 = 0
	AttributeProtoFloat     int32 = 1
	AttributeProtoInt       int32 = 2
	AttributeProtoString    int32 = 3
	AttributeProtoTensor    int32 = 4
	AttributeProtoGraph     int32 = 5
	AttributeProtoFloats    int32 = 6
	AttributeProtoInts      int32 = 7
	AttributeProtoStrings   int32 = 8
)
