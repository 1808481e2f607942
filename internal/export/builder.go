// Package export turns an assembled generator network into an ONNX model:
// a graph builder the network modules emit into, a tracing exporter that
// records a forward pass instead, float16 conversion, graph optimization
// passes and post-export verification.
package export

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/overscale-ml/overscale/internal/onnx"
	"github.com/overscale-ml/overscale/internal/tensor"
)

// Graph input/output value names.
const (
	inputName  = "input"
	outputName = "output"
)

// Dim is one graph I/O dimension: static value or symbolic name.
type Dim struct {
	Value int64
	Param string
}

// Builder accumulates ONNX nodes and initializers. It implements
// nn.GraphBuilder; the network modules call it from Emit.
type Builder struct {
	nodes        []onnx.NodeProto
	initializers []onnx.TensorProto
	initNames    map[string]bool
	opCounts     map[string]int
	scalars      map[float32]string
	opset        int64
}

// NewBuilder creates an empty builder targeting the given opset.
func NewBuilder(opset int) *Builder {
	return &Builder{
		initNames: map[string]bool{},
		opCounts:  map[string]int{},
		scalars:   map[float32]string{},
		opset:     int64(opset),
	}
}

// newValue generates a value name for an op output.
func (b *Builder) newValue(op string) string {
	n := b.opCounts[op]
	b.opCounts[op]++
	return fmt.Sprintf("%s_%d", op, n)
}

// node appends a node whose output name is derived from the op type.
func (b *Builder) node(op string, inputs []string, attrs []onnx.AttributeProto) string {
	out := b.newValue(op)
	b.nodes = append(b.nodes, onnx.NodeProto{
		Name:       out,
		OpType:     op,
		Inputs:     inputs,
		Outputs:    []string{out},
		Attributes: attrs,
	})
	return out
}

// addInitializer registers a float32 tensor as a named initializer. Adding
// the same name twice is a bug in the caller.
func (b *Builder) addInitializer(name string, t *tensor.RawTensor, dims []int64) {
	if b.initNames[name] {
		panic(fmt.Sprintf("export: duplicate initializer %q", name))
	}
	if dims == nil {
		shape := t.Shape()
		dims = make([]int64, len(shape))
		for i, d := range shape {
			dims[i] = int64(d)
		}
	}
	raw := make([]byte, len(t.Data()))
	copy(raw, t.Data())
	b.initializers = append(b.initializers, onnx.TensorProto{
		Name:     name,
		DataType: dtypeToProto(t.DType()),
		Dims:     dims,
		RawData:  raw,
	})
	b.initNames[name] = true
}

// scalarInit returns a shared [1] float32 initializer holding v.
func (b *Builder) scalarInit(v float32) string {
	if name, ok := b.scalars[v]; ok {
		return name
	}
	name := b.newValue("scalar")
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, math.Float32bits(v))
	b.initializers = append(b.initializers, onnx.TensorProto{
		Name:     name,
		DataType: onnx.TensorProtoFloat,
		Dims:     []int64{1},
		RawData:  raw,
	})
	b.initNames[name] = true
	b.scalars[v] = name
	return name
}

func dtypeToProto(dt tensor.DataType) int32 {
	switch dt {
	case tensor.Float64:
		return onnx.TensorProtoDouble
	case tensor.Int32:
		return onnx.TensorProtoInt32
	case tensor.Int64:
		return onnx.TensorProtoInt64
	case tensor.Uint8:
		return onnx.TensorProtoUint8
	case tensor.Bool:
		return onnx.TensorProtoBool
	default:
		return onnx.TensorProtoFloat
	}
}

func intsAttr(name string, vals ...int64) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoInts, Ints: vals}
}

func intAttr(name string, v int64) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoInt, I: v}
}

func floatAttr(name string, v float32) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoFloat, F: v}
}

func stringAttr(name, v string) onnx.AttributeProto {
	return onnx.AttributeProto{Name: name, Type: onnx.AttributeProtoString, S: []byte(v)}
}

// Conv emits a Conv node with weight and bias initializers named after the
// layer's parameter path.
func (b *Builder) Conv(input, name string, weight, bias *tensor.RawTensor, stride, padding int) string {
	if name == "" {
		name = b.newValue("conv")
	}
	wName := name + ".weight"
	b.addInitializer(wName, weight, nil)

	inputs := []string{input, wName}
	if bias != nil {
		bName := name + ".bias"
		b.addInitializer(bName, bias, nil)
		inputs = append(inputs, bName)
	}

	k := int64(weight.Shape()[2])
	s, p := int64(stride), int64(padding)
	out := b.newValue("conv")
	b.nodes = append(b.nodes, onnx.NodeProto{
		Name:    name,
		OpType:  "Conv",
		Inputs:  inputs,
		Outputs: []string{out},
		Attributes: []onnx.AttributeProto{
			intsAttr("dilations", 1, 1),
			intAttr("group", 1),
			intsAttr("kernel_shape", k, k),
			intsAttr("pads", p, p, p, p),
			intsAttr("strides", s, s),
		},
	})
	return out
}

// LeakyRelu emits a LeakyRelu node.
func (b *Builder) LeakyRelu(input string, alpha float32) string {
	return b.node("LeakyRelu", []string{input}, []onnx.AttributeProto{floatAttr("alpha", alpha)})
}

// PRelu emits a PRelu node. The [C] slope is stored as a [C,1,1] initializer
// so it broadcasts over NCHW.
func (b *Builder) PRelu(input, name string, slope *tensor.RawTensor) string {
	if name == "" {
		name = b.newValue("prelu")
	}
	sName := name + ".weight"
	c := int64(slope.NumElements())
	b.addInitializer(sName, slope, []int64{c, 1, 1})
	return b.node("PRelu", []string{input, sName}, nil)
}

// Add emits an Add node.
func (b *Builder) Add(a, c string) string {
	return b.node("Add", []string{a, c}, nil)
}

// MulScalar emits a Mul against a shared scalar initializer.
func (b *Builder) MulScalar(x string, scalar float32) string {
	return b.node("Mul", []string{x, b.scalarInit(scalar)}, nil)
}

// Concat emits a Concat node along dim.
func (b *Builder) Concat(dim int, inputs ...string) string {
	return b.node("Concat", inputs, []onnx.AttributeProto{intAttr("axis", int64(dim))})
}

// ResizeNearest emits a nearest-neighbor Resize with a scales initializer.
func (b *Builder) ResizeNearest(input string, scale int) string {
	scalesName := b.newValue("scales")
	raw := make([]byte, 16)
	for i, v := range []float32{1, 1, float32(scale), float32(scale)} {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	b.initializers = append(b.initializers, onnx.TensorProto{
		Name:     scalesName,
		DataType: onnx.TensorProtoFloat,
		Dims:     []int64{4},
		RawData:  raw,
	})
	b.initNames[scalesName] = true

	// roi is unused for nearest mode; pass the empty input.
	return b.node("Resize", []string{input, "", scalesName}, []onnx.AttributeProto{
		stringAttr("coordinate_transformation_mode", "asymmetric"),
		stringAttr("mode", "nearest"),
		stringAttr("nearest_mode", "floor"),
	})
}

// DepthToSpace emits a pixel-shuffle DepthToSpace (CRD mode).
func (b *Builder) DepthToSpace(input string, block int) string {
	return b.node("DepthToSpace", []string{input}, []onnx.AttributeProto{
		intAttr("blocksize", int64(block)),
		stringAttr("mode", "CRD"),
	})
}

// PixelUnshuffle emits the inverse of the CRD DepthToSpace for an input with
// channels channels. ONNX SpaceToDepth folds spatial blocks with the block
// offset as the outer channel group, while pixel unshuffle keeps the source
// channel outermost, so the node is followed by a 1x1 Conv whose constant
// 0/1 weight permutes the folded channels into pixel-unshuffle order. The
// two orderings coincide for channels == 1 and the Conv is skipped.
func (b *Builder) PixelUnshuffle(input string, block, channels int) string {
	folded := b.node("SpaceToDepth", []string{input}, []onnx.AttributeProto{
		intAttr("blocksize", int64(block)),
	})
	if channels == 1 {
		return folded
	}

	n := channels * block * block
	raw := make([]byte, 4*n*n)
	for p := 0; p < n; p++ {
		ci := p / (block * block)
		q := (p%(block*block))*channels + ci
		binary.LittleEndian.PutUint32(raw[(p*n+q)*4:], math.Float32bits(1))
	}
	permName := b.newValue("unshuffle_perm")
	b.initializers = append(b.initializers, onnx.TensorProto{
		Name:     permName,
		DataType: onnx.TensorProtoFloat,
		Dims:     []int64{int64(n), int64(n), 1, 1},
		RawData:  raw,
	})
	b.initNames[permName] = true

	return b.node("Conv", []string{folded, permName}, []onnx.AttributeProto{
		intsAttr("dilations", 1, 1),
		intAttr("group", 1),
		intsAttr("kernel_shape", 1, 1),
		intsAttr("pads", 0, 0, 0, 0),
		intsAttr("strides", 1, 1),
	})
}

// Finish renames the final value to the graph output and assembles the
// model proto. inputDims/outputDims declare the graph I/O shapes.
func (b *Builder) Finish(graphName, lastValue string, inputDims, outputDims []Dim, metadata map[string]string) *onnx.ModelProto {
	for i := range b.nodes {
		node := &b.nodes[i]
		for j, out := range node.Outputs {
			if out == lastValue {
				node.Outputs[j] = outputName
			}
		}
		for j, in := range node.Inputs {
			if in == lastValue {
				node.Inputs[j] = outputName
			}
		}
	}

	graph := &onnx.GraphProto{
		Name:         graphName,
		Nodes:        b.nodes,
		Initializers: b.initializers,
		Inputs:       []onnx.ValueInfoProto{valueInfo(inputName, inputDims)},
		Outputs:      []onnx.ValueInfoProto{valueInfo(outputName, outputDims)},
	}

	model := &onnx.ModelProto{
		IRVersion:       8,
		ProducerName:    "overscale",
		OpsetImport:     []onnx.OperatorSetID{{Version: b.opset}},
		Graph:           graph,
		MetadataProps:   metadataEntries(metadata),
		ProducerVersion: producerVersion,
	}
	return model
}

// producerVersion is stamped into exported models. Set from pkg/version by
// the exporter entry point.
var producerVersion = "dev"

// SetProducerVersion overrides the version written to exported models.
func SetProducerVersion(v string) {
	if v != "" {
		producerVersion = v
	}
}

func valueInfo(name string, dims []Dim) onnx.ValueInfoProto {
	shape := &onnx.TensorShapeProto{}
	for _, d := range dims {
		shape.Dims = append(shape.Dims, onnx.DimensionProto{DimValue: d.Value, DimParam: d.Param})
	}
	return onnx.ValueInfoProto{
		Name: name,
		Type: &onnx.TypeProto{TensorType: &onnx.TensorTypeProto{
			ElemType: onnx.TensorProtoFloat,
			Shape:    shape,
		}},
	}
}

func metadataEntries(metadata map[string]string) []onnx.StringStringEntry {
	entries := make([]onnx.StringStringEntry, 0, len(metadata))
	for _, key := range sortedKeys(metadata) {
		entries = append(entries, onnx.StringStringEntry{Key: key, Value: metadata[key]})
	}
	return entries
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
