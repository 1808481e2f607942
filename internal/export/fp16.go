package export

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/overscale-ml/overscale/internal/onnx"
	"github.com/overscale-ml/overscale/internal/tensor"
)

// FP16Path derives the half-precision sibling filename: model.onnx becomes
// model_fp16.onnx.
func FP16Path(path string) string {
	if ext := ".onnx"; strings.HasSuffix(path, ext) {
		return strings.TrimSuffix(path, ext) + "_fp16" + ext
	}
	return path + "_fp16.onnx"
}

// ToFloat16 returns a copy of the model with float32 initializers converted
// to float16 and the graph I/O declared as float16. Resize scales inputs
// stay float32; the operator requires it.
func ToFloat16(model *onnx.ModelProto) (*onnx.ModelProto, error) {
	if model.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	src := model.Graph

	// Initializers feeding a Resize scales input keep their type.
	keepFloat := map[string]bool{}
	for i := range src.Nodes {
		node := &src.Nodes[i]
		if node.OpType == "Resize" && len(node.Inputs) > 2 {
			keepFloat[node.Inputs[2]] = true
		}
	}

	out := *model
	graph := *src
	out.Graph = &graph

	graph.Initializers = make([]onnx.TensorProto, len(src.Initializers))
	for i := range src.Initializers {
		init := src.Initializers[i]
		if init.DataType == onnx.TensorProtoFloat && !keepFloat[init.Name] {
			converted, err := halveInitializer(&init)
			if err != nil {
				return nil, fmt.Errorf("initializer %s: %w", init.Name, err)
			}
			init = *converted
		}
		graph.Initializers[i] = init
	}

	graph.Inputs = halveValueInfos(src.Inputs)
	graph.Outputs = halveValueInfos(src.Outputs)
	return &out, nil
}

func halveInitializer(init *onnx.TensorProto) (*onnx.TensorProto, error) {
	var vals []float32
	switch {
	case len(init.RawData) > 0:
		if len(init.RawData)%4 != 0 {
			return nil, fmt.Errorf("raw data length %d not a float32 multiple", len(init.RawData))
		}
		vals = make([]float32, len(init.RawData)/4)
		for i := range vals {
			vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(init.RawData[i*4:]))
		}
	case len(init.FloatData) > 0:
		vals = init.FloatData
	}

	raw := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(raw[i*2:], tensor.Float32ToFloat16(v))
	}

	out := *init
	out.DataType = onnx.TensorProtoFloat16
	out.RawData = raw
	out.FloatData = nil
	return &out, nil
}

func halveValueInfos(infos []onnx.ValueInfoProto) []onnx.ValueInfoProto {
	out := make([]onnx.ValueInfoProto, len(infos))
	for i, vi := range infos {
		if vi.Type != nil && vi.Type.TensorType != nil && vi.Type.TensorType.ElemType == onnx.TensorProtoFloat {
			tt := *vi.Type.TensorType
			tt.ElemType = onnx.TensorProtoFloat16
			vi.Type = &onnx.TypeProto{TensorType: &tt}
		}
		out[i] = vi
	}
	return out
}
