// Package operators provides the ONNX operator implementations the exported
// super-resolution graphs use.
package operators

// ONNX data types (TensorProto.DataType). Local copy to avoid importing the
// onnx package.
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1 // float32
	TensorProtoUint8     = 2
	TensorProtoInt8      = 3
	TensorProtoUint16    = 4
	TensorProtoInt16     = 5
	TensorProtoInt32     = 6
	TensorProtoInt64     = 7
	TensorProtoString    = 8
	TensorProtoBool      = 9
	TensorProtoFloat16   = 10
	TensorProtoDouble    = 11 // float64
)

// Node is an ONNX operation node. A local copy of the relevant NodeProto
// fields, avoiding an import cycle between the onnx and operators packages.
type Node struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
	Domain     string
}

// Attribute is a node attribute.
type Attribute struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	S       []byte
	T       *TensorValue
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// TensorValue is an embedded tensor attribute (Constant nodes).
type TensorValue struct {
	DataType  int32
	Dims      []int64
	RawData   []byte
	FloatData []float32
	Int64Data []int64
}

// GetAttrInt returns an integer attribute or the default.
func GetAttrInt(node *Node, name string, defaultVal int64) int64 {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return node.Attributes[i].I
		}
	}
	return defaultVal
}

// GetAttrInts returns an integer array attribute.
func GetAttrInts(node *Node, name string) []int64 {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return node.Attributes[i].Ints
		}
	}
	return nil
}

// GetAttrFloat returns a float attribute or the default.
func GetAttrFloat(node *Node, name string, defaultVal float32) float32 {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return node.Attributes[i].F
		}
	}
	return defaultVal
}

// GetAttrString returns a string attribute or the default.
func GetAttrString(node *Node, name, defaultVal string) string {
	for i := range node.Attributes {
		if node.Attributes[i].Name == name {
			return string(node.Attributes[i].S)
		}
	}
	return defaultVal
}
