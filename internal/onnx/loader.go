package onnx

import (
	"fmt"
	"sort"

	"github.com/overscale-ml/overscale/internal/backend/cpu"
	"github.com/overscale-ml/overscale/internal/onnx/operators"
	"github.com/overscale-ml/overscale/internal/tensor"
)

// LoadOptions configures model loading.
type LoadOptions struct {
	// Backend to execute on. Defaults to the CPU backend.
	Backend tensor.Backend
}

// Load parses an ONNX file and compiles it for inference.
func Load(path string, opts LoadOptions) (*Model, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return build(proto, opts)
}

// LoadFromBytes parses an in-memory ONNX model and compiles it.
func LoadFromBytes(data []byte, opts LoadOptions) (*Model, error) {
	proto, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return build(proto, opts)
}

func build(proto *ModelProto, opts LoadOptions) (*Model, error) {
	backend := opts.Backend
	if backend == nil {
		backend = cpu.New()
	}
	m := &Model{
		proto:    proto,
		registry: operators.NewRegistry(),
		backend:  backend,
	}
	if err := m.compile(); err != nil {
		return nil, fmt.Errorf("failed to compile model: %w", err)
	}
	return m, nil
}

// ModelInfo summarizes a model file without compiling it.
type ModelInfo struct {
	ProducerName    string
	ProducerVersion string
	IRVersion       int64
	OpsetVersion    int64
	GraphName       string
	InputNames      []string
	OutputNames     []string
	NumNodes        int
	NumInitializers int
	NumParameters   int64
	OpCounts        map[string]int
}

// GetModelInfo parses an ONNX file and returns summary information.
func GetModelInfo(path string) (*ModelInfo, error) {
	proto, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	if proto.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	graph := proto.Graph

	info := &ModelInfo{
		ProducerName:    proto.ProducerName,
		ProducerVersion: proto.ProducerVersion,
		IRVersion:       proto.IRVersion,
		GraphName:       graph.Name,
		NumNodes:        len(graph.Nodes),
		NumInitializers: len(graph.Initializers),
		OpCounts:        make(map[string]int),
	}
	for _, opset := range proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			info.OpsetVersion = opset.Version
			break
		}
	}

	initNames := make(map[string]bool)
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		initNames[init.Name] = true
		elems := int64(1)
		for _, dim := range init.Dims {
			elems *= dim
		}
		info.NumParameters += elems
	}
	for i := range graph.Inputs {
		if !initNames[graph.Inputs[i].Name] {
			info.InputNames = append(info.InputNames, graph.Inputs[i].Name)
		}
	}
	for i := range graph.Outputs {
		info.OutputNames = append(info.OutputNames, graph.Outputs[i].Name)
	}
	for i := range graph.Nodes {
		info.OpCounts[graph.Nodes[i].OpType]++
	}
	return info, nil
}

// ListSupportedOps returns the operator types the runtime can execute.
func ListSupportedOps() []string {
	ops := operators.NewRegistry().SupportedOps()
	sort.Strings(ops)
	return ops
}
