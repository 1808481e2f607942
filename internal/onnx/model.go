package onnx

import (
	"encoding/binary"
	"fmt"

	"github.com/overscale-ml/overscale/internal/onnx/operators"
	"github.com/overscale-ml/overscale/internal/tensor"
)

// Model is a loaded ONNX model ready for inference. It executes the
// computation graph on the provided backend; the converter uses it to check
// exported models against the reference forward pass.
type Model struct {
	proto        *ModelProto
	registry     *operators.Registry
	backend      tensor.Backend
	tensors      map[string]*tensor.RawTensor // initializers
	inputNames   []string
	outputNames  []string
	sortedNodes  []NodeProto
	opsetVersion int64
}

// InputNames returns the names of the model inputs.
func (m *Model) InputNames() []string {
	return m.inputNames
}

// OutputNames returns the names of the model outputs.
func (m *Model) OutputNames() []string {
	return m.outputNames
}

// OpsetVersion returns the default-domain opset version.
func (m *Model) OpsetVersion() int64 {
	return m.opsetVersion
}

// Metadata returns model metadata as key-value pairs.
func (m *Model) Metadata() map[string]string {
	meta := make(map[string]string)
	for _, prop := range m.proto.MetadataProps {
		meta[prop.Key] = prop.Value
	}
	meta["producer_name"] = m.proto.ProducerName
	meta["producer_version"] = m.proto.ProducerVersion
	return meta
}

// Forward runs inference with a single input tensor.
func (m *Model) Forward(input *tensor.RawTensor) (*tensor.RawTensor, error) {
	if len(m.inputNames) != 1 {
		return nil, fmt.Errorf("model has %d inputs, use ForwardNamed", len(m.inputNames))
	}
	outputs, err := m.ForwardNamed(map[string]*tensor.RawTensor{m.inputNames[0]: input})
	if err != nil {
		return nil, err
	}
	if len(m.outputNames) != 1 {
		return nil, fmt.Errorf("model has %d outputs, use ForwardNamed", len(m.outputNames))
	}
	return outputs[m.outputNames[0]], nil
}

// ForwardNamed runs inference with named inputs and returns a map of output
// name to tensor.
func (m *Model) ForwardNamed(inputs map[string]*tensor.RawTensor) (map[string]*tensor.RawTensor, error) {
	tensors := make(map[string]*tensor.RawTensor, len(m.tensors)+len(inputs))
	for name, t := range m.tensors {
		tensors[name] = t
	}
	for name, t := range inputs {
		tensors[name] = t
	}
	for _, inputName := range m.inputNames {
		if _, ok := tensors[inputName]; !ok {
			return nil, fmt.Errorf("missing input: %s", inputName)
		}
	}

	ctx := &operators.Context{Backend: m.backend}
	for nodeIdx := range m.sortedNodes {
		node := &m.sortedNodes[nodeIdx]
		nodeInputs := make([]*tensor.RawTensor, len(node.Inputs))
		for i, inputName := range node.Inputs {
			if inputName == "" {
				// Optional input not provided
				continue
			}
			t, ok := tensors[inputName]
			if !ok {
				return nil, fmt.Errorf("node %s: missing input %s", node.Name, inputName)
			}
			nodeInputs[i] = t
		}

		outputs, err := m.registry.Execute(ctx, nodeProtoToOperatorNode(node), nodeInputs)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for i, outputName := range node.Outputs {
			if i < len(outputs) {
				tensors[outputName] = outputs[i]
			}
		}
	}

	result := make(map[string]*tensor.RawTensor, len(m.outputNames))
	for _, outputName := range m.outputNames {
		t, ok := tensors[outputName]
		if !ok {
			return nil, fmt.Errorf("missing output: %s", outputName)
		}
		result[outputName] = t
	}
	return result, nil
}

// compile prepares the model for inference.
func (m *Model) compile() error {
	graph := m.proto.Graph
	if graph == nil {
		return fmt.Errorf("model has no graph")
	}

	m.tensors = make(map[string]*tensor.RawTensor)
	initNames := make(map[string]bool)
	for i := range graph.Initializers {
		init := &graph.Initializers[i]
		t, err := tensorFromProto(init)
		if err != nil {
			return fmt.Errorf("failed to load initializer %s: %w", init.Name, err)
		}
		m.tensors[init.Name] = t
		initNames[init.Name] = true
	}

	// Graph inputs minus initializers are the runtime inputs.
	for i := range graph.Inputs {
		if !initNames[graph.Inputs[i].Name] {
			m.inputNames = append(m.inputNames, graph.Inputs[i].Name)
		}
	}
	for i := range graph.Outputs {
		m.outputNames = append(m.outputNames, graph.Outputs[i].Name)
	}

	m.sortedNodes = topologicalSort(graph.Nodes)

	for _, opset := range m.proto.OpsetImport {
		if opset.Domain == "" || opset.Domain == "ai.onnx" {
			m.opsetVersion = opset.Version
			break
		}
	}
	return nil
}

// tensorFromProto converts a TensorProto to a RawTensor. Float16 and
// bfloat16 initializers are widened to float32 so the CPU backend can
// execute half-precision exports.
func tensorFromProto(proto *TensorProto) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(proto.Dims))
	for i, dim := range proto.Dims {
		shape[i] = int(dim)
	}

	switch proto.DataType {
	case TensorProtoFloat16, TensorProtoBfloat16:
		return widenHalfProto(proto, shape)
	}

	t, err := tensor.NewRaw(shape, protoTypeToTensorType(proto.DataType), tensor.CPU)
	if err != nil {
		return nil, err
	}

	switch {
	case len(proto.RawData) > 0:
		if len(proto.RawData) != len(t.Data()) {
			return nil, fmt.Errorf("raw data size %d != expected %d", len(proto.RawData), len(t.Data()))
		}
		copy(t.Data(), proto.RawData)
	case len(proto.FloatData) > 0:
		copy(t.AsFloat32(), proto.FloatData)
	case len(proto.Int32Data) > 0:
		copy(t.AsInt32(), proto.Int32Data)
	case len(proto.Int64Data) > 0:
		copy(t.AsInt64(), proto.Int64Data)
	}
	return t, nil
}

func widenHalfProto(proto *TensorProto, shape tensor.Shape) (*tensor.RawTensor, error) {
	if len(proto.RawData)%2 != 0 {
		return nil, fmt.Errorf("odd half-precision byte count %d", len(proto.RawData))
	}
	t, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	out := t.AsFloat32()
	if len(proto.RawData)/2 != len(out) {
		return nil, fmt.Errorf("half data size %d != expected %d", len(proto.RawData)/2, len(out))
	}
	for i := range out {
		bits := binary.LittleEndian.Uint16(proto.RawData[i*2:])
		if proto.DataType == TensorProtoFloat16 {
			out[i] = tensor.Float16ToFloat32(bits)
		} else {
			out[i] = tensor.BFloat16ToFloat32(bits)
		}
	}
	return t, nil
}

// protoTypeToTensorType converts an ONNX data type to a tensor.DataType.
func protoTypeToTensorType(onnxType int32) tensor.DataType {
	switch onnxType {
	case TensorProtoDouble:
		return tensor.Float64
	case TensorProtoInt32:
		return tensor.Int32
	case TensorProtoInt64:
		return tensor.Int64
	case TensorProtoUint8:
		return tensor.Uint8
	case TensorProtoBool:
		return tensor.Bool
	default:
		return tensor.Float32
	}
}

// nodeProtoToOperatorNode converts a NodeProto to an operators.Node.
func nodeProtoToOperatorNode(proto *NodeProto) *operators.Node {
	attrs := make([]operators.Attribute, len(proto.Attributes))
	for i := range proto.Attributes {
		attr := &proto.Attributes[i]
		attrs[i] = operators.Attribute{
			Name:    attr.Name,
			Type:    attr.Type,
			F:       attr.F,
			I:       attr.I,
			S:       attr.S,
			Floats:  attr.Floats,
			Ints:    attr.Ints,
			Strings: attr.Strings,
		}
		if attr.T != nil {
			attrs[i].T = &operators.TensorValue{
				DataType:  attr.T.DataType,
				Dims:      attr.T.Dims,
				RawData:   attr.T.RawData,
				FloatData: attr.T.FloatData,
				Int64Data: attr.T.Int64Data,
			}
		}
	}
	return &operators.Node{
		Name:       proto.Name,
		OpType:     proto.OpType,
		Inputs:     proto.Inputs,
		Outputs:    proto.Outputs,
		Attributes: attrs,
		Domain:     proto.Domain,
	}
}

// topologicalSort orders nodes so dependencies execute before dependents.
func topologicalSort(nodes []NodeProto) []NodeProto {
	outputToNode := make(map[string]int)
	for i := range nodes {
		for _, output := range nodes[i].Outputs {
			outputToNode[output] = i
		}
	}

	visited := make([]bool, len(nodes))
	result := make([]NodeProto, 0, len(nodes))

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, input := range nodes[i].Inputs {
			if depIdx, ok := outputToNode[input]; ok {
				visit(depIdx)
			}
		}
		result = append(result, nodes[i])
	}

	for i := range nodes {
		visit(i)
	}
	return result
}
