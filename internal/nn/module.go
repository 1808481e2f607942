// Package nn provides the network building blocks the supported
// super-resolution architectures are assembled from. Each module can run a
// reference forward pass on a backend and emit its equivalent ONNX nodes.
package nn

import (
	"github.com/overscale-ml/overscale/internal/tensor"
)

// Module is a network layer or container.
//
// Forward computes the layer on a backend. Emit appends the equivalent ONNX
// nodes to a graph builder and returns the output value name. LoadState binds
// checkpoint tensors by parameter path (prefix + field name, dot-joined, the
// way state dicts are keyed). Parameters visits every bound parameter.
type Module interface {
	Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor
	Emit(g GraphBuilder, input string) string
	LoadState(state map[string]*tensor.RawTensor, prefix string) error
	Parameters(prefix string, visit func(path string, p *tensor.RawTensor))
}

// GraphBuilder accumulates ONNX nodes during export. Implemented by the
// export package; defined here so modules can emit without depending on it.
// Every method returns the name of the value it produced.
type GraphBuilder interface {
	Conv(input, name string, weight, bias *tensor.RawTensor, stride, padding int) string
	LeakyRelu(input string, alpha float32) string
	PRelu(input, name string, slope *tensor.RawTensor) string
	Add(a, b string) string
	MulScalar(x string, scalar float32) string
	Concat(dim int, inputs ...string) string
	ResizeNearest(input string, scale int) string
	DepthToSpace(input string, block int) string
	PixelUnshuffle(input string, block, channels int) string
}

// joinPath joins state-dict path segments with dots. An empty prefix yields
// the bare name.
func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
