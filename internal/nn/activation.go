package nn

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// LeakyReLU applies max(x, alpha*x) element-wise. Stateless.
type LeakyReLU struct {
	Alpha float32
}

// NewLeakyReLU creates a leaky ReLU with the given negative slope.
func NewLeakyReLU(alpha float32) *LeakyReLU {
	return &LeakyReLU{Alpha: alpha}
}

func (m *LeakyReLU) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return bk.LeakyReLU(x, m.Alpha)
}

func (m *LeakyReLU) Emit(g GraphBuilder, input string) string {
	return g.LeakyRelu(input, m.Alpha)
}

func (m *LeakyReLU) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	return nil
}

func (m *LeakyReLU) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {}

// PReLU applies parametric ReLU with a learned per-channel slope. The slope
// is stored under the "weight" key, following the checkpoint layout.
type PReLU struct {
	NumChannels int

	slope *tensor.RawTensor
	path  string
}

// NewPReLU creates an unbound PReLU over the given channel count.
func NewPReLU(numChannels int) *PReLU {
	return &PReLU{NumChannels: numChannels}
}

func (m *PReLU) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	if m.slope == nil {
		panic(fmt.Sprintf("prelu %q: forward before LoadState", m.path))
	}
	return bk.PReLU(x, m.slope)
}

func (m *PReLU) Emit(g GraphBuilder, input string) string {
	if m.slope == nil {
		panic(fmt.Sprintf("prelu %q: emit before LoadState", m.path))
	}
	return g.PRelu(input, m.path, m.slope)
}

func (m *PReLU) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	m.path = prefix

	slope, ok := state[joinPath(prefix, "weight")]
	if !ok {
		return fmt.Errorf("missing parameter %q", joinPath(prefix, "weight"))
	}
	if !slope.Shape().Equal(tensor.Shape{m.NumChannels}) {
		return fmt.Errorf("parameter %q: expected shape %v, got %v",
			joinPath(prefix, "weight"), tensor.Shape{m.NumChannels}, slope.Shape())
	}
	m.slope = slope
	return nil
}

func (m *PReLU) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {
	if m.slope != nil {
		visit(joinPath(prefix, "weight"), m.slope)
	}
}
