package onnx

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overscale-ml/overscale/internal/tensor"
)

func rawFloats(vals ...float32) []byte {
	data := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}

func valueInfo(name string, dims ...int64) ValueInfoProto {
	shape := &TensorShapeProto{}
	for _, d := range dims {
		shape.Dims = append(shape.Dims, DimensionProto{DimValue: d})
	}
	return ValueInfoProto{
		Name: name,
		Type: &TypeProto{TensorType: &TensorTypeProto{
			ElemType: TensorProtoFloat,
			Shape:    shape,
		}},
	}
}

func TestModel_ExecutesConvLeakyRelu(t *testing.T) {
	// 1x1 conv with weight 2, bias -3, then LeakyRelu(0.2):
	// x=1 -> 2-3=-1 -> -0.2; x=2 -> 1 -> 1
	proto := &ModelProto{
		IRVersion:   8,
		OpsetImport: []OperatorSetID{{Version: 17}},
		Graph: &GraphProto{
			Name: "g",
			Nodes: []NodeProto{
				{
					OpType:  "Conv",
					Inputs:  []string{"input", "w", "b"},
					Outputs: []string{"feat"},
					Attributes: []AttributeProto{
						{Name: "kernel_shape", Type: AttributeProtoInts, Ints: []int64{1, 1}},
						{Name: "strides", Type: AttributeProtoInts, Ints: []int64{1, 1}},
						{Name: "pads", Type: AttributeProtoInts, Ints: []int64{0, 0, 0, 0}},
					},
				},
				{
					OpType:  "LeakyRelu",
					Inputs:  []string{"feat"},
					Outputs: []string{"output"},
					Attributes: []AttributeProto{
						{Name: "alpha", Type: AttributeProtoFloat, F: 0.2},
					},
				},
			},
			Initializers: []TensorProto{
				{Name: "w", DataType: TensorProtoFloat, Dims: []int64{1, 1, 1, 1}, RawData: rawFloats(2)},
				{Name: "b", DataType: TensorProtoFloat, Dims: []int64{1}, RawData: rawFloats(-3)},
			},
			Inputs:  []ValueInfoProto{valueInfo("input", 1, 1, 1, 2)},
			Outputs: []ValueInfoProto{valueInfo("output", 1, 1, 1, 2)},
		},
	}

	data, err := Marshal(proto)
	require.NoError(t, err)
	model, err := LoadFromBytes(data, LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"input"}, model.InputNames())
	assert.Equal(t, []string{"output"}, model.OutputNames())
	assert.Equal(t, int64(17), model.OpsetVersion())

	input, err := tensor.FromFloat32([]float32{1, 2}, tensor.Shape{1, 1, 1, 2})
	require.NoError(t, err)
	out, err := model.Forward(input)
	require.NoError(t, err)

	outData := out.AsFloat32()
	assert.InDelta(t, -0.2, outData[0], 1e-6)
	assert.InDelta(t, 1.0, outData[1], 1e-6)
}

func TestModel_ExecutesResizeAndShuffle(t *testing.T) {
	proto := &ModelProto{
		IRVersion:   8,
		OpsetImport: []OperatorSetID{{Version: 17}},
		Graph: &GraphProto{
			Name: "g",
			Nodes: []NodeProto{
				{
					OpType:  "Resize",
					Inputs:  []string{"input", "", "scales"},
					Outputs: []string{"up"},
					Attributes: []AttributeProto{
						{Name: "mode", Type: AttributeProtoString, S: []byte("nearest")},
					},
				},
				{
					OpType:  "SpaceToDepth",
					Inputs:  []string{"up"},
					Outputs: []string{"output"},
					Attributes: []AttributeProto{
						{Name: "blocksize", Type: AttributeProtoInt, I: 2},
					},
				},
			},
			Initializers: []TensorProto{
				{Name: "scales", DataType: TensorProtoFloat, Dims: []int64{4}, RawData: rawFloats(1, 1, 2, 2)},
			},
			Inputs:  []ValueInfoProto{valueInfo("input", 1, 1, 1, 1)},
			Outputs: []ValueInfoProto{valueInfo("output", 1, 4, 1, 1)},
		},
	}

	data, err := Marshal(proto)
	require.NoError(t, err)
	model, err := LoadFromBytes(data, LoadOptions{})
	require.NoError(t, err)

	input, err := tensor.FromFloat32([]float32{5}, tensor.Shape{1, 1, 1, 1})
	require.NoError(t, err)
	out, err := model.Forward(input)
	require.NoError(t, err)

	require.True(t, out.Shape().Equal(tensor.Shape{1, 4, 1, 1}))
	for _, v := range out.AsFloat32() {
		assert.Equal(t, float32(5), v)
	}
}

func TestModel_TopologicalSort(t *testing.T) {
	// Nodes listed out of order; execution must still resolve b before c.
	proto := &ModelProto{
		IRVersion:   8,
		OpsetImport: []OperatorSetID{{Version: 17}},
		Graph: &GraphProto{
			Name: "g",
			Nodes: []NodeProto{
				{OpType: "Relu", Inputs: []string{"b"}, Outputs: []string{"output"}},
				{OpType: "Identity", Inputs: []string{"input"}, Outputs: []string{"b"}},
			},
			Inputs:  []ValueInfoProto{valueInfo("input", 1, 1)},
			Outputs: []ValueInfoProto{valueInfo("output", 1, 1)},
		},
	}

	model, err := build(proto, LoadOptions{})
	require.NoError(t, err)

	input, err := tensor.FromFloat32([]float32{-2}, tensor.Shape{1, 1})
	require.NoError(t, err)
	out, err := model.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, float32(0), out.AsFloat32()[0])
}

func TestModel_HalfInitializersWiden(t *testing.T) {
	half := make([]byte, 2)
	binary.LittleEndian.PutUint16(half, 0x3c00) // 1.0 in fp16

	proto := &TensorProto{
		Name:     "w",
		DataType: TensorProtoFloat16,
		Dims:     []int64{1},
		RawData:  half,
	}
	raw, err := tensorFromProto(proto)
	require.NoError(t, err)
	assert.Equal(t, tensor.Float32, raw.DType())
	assert.Equal(t, float32(1), raw.AsFloat32()[0])
}
