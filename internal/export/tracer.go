package export

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/onnx"
	"github.com/overscale-ml/overscale/internal/tensor"
)

// tracingBackend wraps a real backend and records every operation of a
// forward pass into a Builder. This is the alternate exporter: instead of
// walking the module tree, the graph is reconstructed from the op stream the
// network actually executes.
//
// Leaf operands (weights, folded biases, activation slopes) are recognized
// by tensor identity: parameters registered up front keep their state-dict
// names, anything else becomes an anonymous constant initializer.
type tracingBackend struct {
	inner    tensor.Backend
	b        *Builder
	produced map[*tensor.RawTensor]string // outputs of traced ops
	leaves   map[*tensor.RawTensor]string // parameters by path
	added    map[string]bool              // initializers already materialized
	consts   int
}

func newTracingBackend(inner tensor.Backend, b *Builder, input *tensor.RawTensor, params map[string]*tensor.RawTensor) *tracingBackend {
	tb := &tracingBackend{
		inner:    inner,
		b:        b,
		produced: map[*tensor.RawTensor]string{input: inputName},
		leaves:   map[*tensor.RawTensor]string{},
		added:    map[string]bool{},
	}
	for path, t := range params {
		tb.leaves[t] = path
	}
	return tb
}

// operand resolves a tensor to a graph value name, materializing leaf
// tensors as initializers on first use.
func (tb *tracingBackend) operand(t *tensor.RawTensor) string {
	if name, ok := tb.produced[t]; ok {
		return name
	}
	name, ok := tb.leaves[t]
	if !ok {
		name = fmt.Sprintf("const_%d", tb.consts)
		tb.consts++
		tb.leaves[t] = name
	}
	if !tb.added[name] {
		tb.b.addInitializer(name, t, nil)
		tb.added[name] = true
	}
	return name
}

func (tb *tracingBackend) record(result *tensor.RawTensor, out string) *tensor.RawTensor {
	tb.produced[result] = out
	return result
}

// outputValue returns the graph value name the given result tensor was
// recorded under.
func (tb *tracingBackend) outputValue(result *tensor.RawTensor) (string, error) {
	name, ok := tb.produced[result]
	if !ok {
		return "", fmt.Errorf("forward result was not produced by a traced operation")
	}
	return name, nil
}

func (tb *tracingBackend) Add(a, c *tensor.RawTensor) *tensor.RawTensor {
	an, cn := tb.operand(a), tb.operand(c)
	return tb.record(tb.inner.Add(a, c), tb.b.Add(an, cn))
}

func (tb *tracingBackend) Sub(a, c *tensor.RawTensor) *tensor.RawTensor {
	an, cn := tb.operand(a), tb.operand(c)
	return tb.record(tb.inner.Sub(a, c), tb.b.node("Sub", []string{an, cn}, nil))
}

func (tb *tracingBackend) Mul(a, c *tensor.RawTensor) *tensor.RawTensor {
	an, cn := tb.operand(a), tb.operand(c)
	return tb.record(tb.inner.Mul(a, c), tb.b.node("Mul", []string{an, cn}, nil))
}

func (tb *tracingBackend) Div(a, c *tensor.RawTensor) *tensor.RawTensor {
	an, cn := tb.operand(a), tb.operand(c)
	return tb.record(tb.inner.Div(a, c), tb.b.node("Div", []string{an, cn}, nil))
}

func (tb *tracingBackend) MulScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	xn := tb.operand(x)
	return tb.record(tb.inner.MulScalar(x, scalar), tb.b.MulScalar(xn, scalar))
}

func (tb *tracingBackend) AddScalar(x *tensor.RawTensor, scalar float32) *tensor.RawTensor {
	xn := tb.operand(x)
	out := tb.b.node("Add", []string{xn, tb.b.scalarInit(scalar)}, nil)
	return tb.record(tb.inner.AddScalar(x, scalar), out)
}

func (tb *tracingBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	in, kn := tb.operand(input), tb.operand(kernel)
	k := int64(kernel.Shape()[2])
	s, p := int64(stride), int64(padding)
	out := tb.b.node("Conv", []string{in, kn}, []onnx.AttributeProto{
		intsAttr("dilations", 1, 1),
		intAttr("group", 1),
		intsAttr("kernel_shape", k, k),
		intsAttr("pads", p, p, p, p),
		intsAttr("strides", s, s),
	})
	return tb.record(tb.inner.Conv2D(input, kernel, stride, padding), out)
}

func (tb *tracingBackend) LeakyReLU(x *tensor.RawTensor, alpha float32) *tensor.RawTensor {
	xn := tb.operand(x)
	return tb.record(tb.inner.LeakyReLU(x, alpha), tb.b.LeakyRelu(xn, alpha))
}

func (tb *tracingBackend) PReLU(x, slope *tensor.RawTensor) *tensor.RawTensor {
	xn := tb.operand(x)
	sn, ok := tb.leaves[slope]
	if !ok {
		sn = fmt.Sprintf("const_%d", tb.consts)
		tb.consts++
		tb.leaves[slope] = sn
	}
	if !tb.added[sn] {
		// [C] slope stored as [C,1,1] so it broadcasts over NCHW
		c := int64(slope.NumElements())
		tb.b.addInitializer(sn, slope, []int64{c, 1, 1})
		tb.added[sn] = true
	}
	out := tb.b.node("PRelu", []string{xn, sn}, nil)
	return tb.record(tb.inner.PReLU(x, slope), out)
}

func (tb *tracingBackend) Concat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	names := make([]string, len(tensors))
	for i, t := range tensors {
		names[i] = tb.operand(t)
	}
	return tb.record(tb.inner.Concat(tensors, dim), tb.b.Concat(dim, names...))
}

func (tb *tracingBackend) ResizeNearest(x *tensor.RawTensor, scale int) *tensor.RawTensor {
	xn := tb.operand(x)
	return tb.record(tb.inner.ResizeNearest(x, scale), tb.b.ResizeNearest(xn, scale))
}

func (tb *tracingBackend) DepthToSpace(x *tensor.RawTensor, block int) *tensor.RawTensor {
	xn := tb.operand(x)
	return tb.record(tb.inner.DepthToSpace(x, block), tb.b.DepthToSpace(xn, block))
}

func (tb *tracingBackend) PixelUnshuffle(x *tensor.RawTensor, block int) *tensor.RawTensor {
	xn := tb.operand(x)
	out := tb.b.PixelUnshuffle(xn, block, x.Shape()[1])
	return tb.record(tb.inner.PixelUnshuffle(x, block), out)
}

func (tb *tracingBackend) Name() string {
	return tb.inner.Name() + "+trace"
}

func (tb *tracingBackend) Device() tensor.Device {
	return tb.inner.Device()
}
