package nn

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// Conv2D is a 2D convolution layer with bias.
type Conv2D struct {
	InChannels  int
	OutChannels int
	Kernel      int
	Stride      int
	Padding     int

	weight *tensor.RawTensor // [C_out, C_in, K, K]
	bias   *tensor.RawTensor // [C_out]
	bias4d *tensor.RawTensor // [1, C_out, 1, 1] view for broadcast add
	path   string
}

// NewConv2D creates an unbound convolution layer. Weights come from
// LoadState.
func NewConv2D(inChannels, outChannels, kernel, stride, padding int) *Conv2D {
	return &Conv2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Kernel:      kernel,
		Stride:      stride,
		Padding:     padding,
	}
}

// Conv3x3 creates the stride-1, padding-1 3x3 convolution used throughout
// the supported architectures.
func Conv3x3(inChannels, outChannels int) *Conv2D {
	return NewConv2D(inChannels, outChannels, 3, 1, 1)
}

func (m *Conv2D) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	if m.weight == nil {
		panic(fmt.Sprintf("conv2d %q: forward before LoadState", m.path))
	}
	out := bk.Conv2D(x, m.weight, m.Stride, m.Padding)
	return bk.Add(out, m.bias4d)
}

func (m *Conv2D) Emit(g GraphBuilder, input string) string {
	if m.weight == nil {
		panic(fmt.Sprintf("conv2d %q: emit before LoadState", m.path))
	}
	return g.Conv(input, m.path, m.weight, m.bias, m.Stride, m.Padding)
}

func (m *Conv2D) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	m.path = prefix

	weight, ok := state[joinPath(prefix, "weight")]
	if !ok {
		return fmt.Errorf("missing parameter %q", joinPath(prefix, "weight"))
	}
	wantW := tensor.Shape{m.OutChannels, m.InChannels, m.Kernel, m.Kernel}
	if !weight.Shape().Equal(wantW) {
		return fmt.Errorf("parameter %q: expected shape %v, got %v",
			joinPath(prefix, "weight"), wantW, weight.Shape())
	}

	bias, ok := state[joinPath(prefix, "bias")]
	if !ok {
		return fmt.Errorf("missing parameter %q", joinPath(prefix, "bias"))
	}
	if !bias.Shape().Equal(tensor.Shape{m.OutChannels}) {
		return fmt.Errorf("parameter %q: expected shape %v, got %v",
			joinPath(prefix, "bias"), tensor.Shape{m.OutChannels}, bias.Shape())
	}

	bias4d, err := tensor.Reshape(bias, tensor.Shape{1, m.OutChannels, 1, 1})
	if err != nil {
		return fmt.Errorf("parameter %q: %w", joinPath(prefix, "bias"), err)
	}

	m.weight = weight
	m.bias = bias
	m.bias4d = bias4d
	return nil
}

func (m *Conv2D) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {
	if m.weight != nil {
		visit(joinPath(prefix, "weight"), m.weight)
	}
	if m.bias != nil {
		visit(joinPath(prefix, "bias"), m.bias)
	}
}
