package operators

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// registerMathOps registers element-wise arithmetic and convolution.
func (r *Registry) registerMathOps() {
	r.Register("Add", binaryOp(func(bk tensor.Backend, a, b *tensor.RawTensor) *tensor.RawTensor {
		return bk.Add(a, b)
	}))
	r.Register("Sub", binaryOp(func(bk tensor.Backend, a, b *tensor.RawTensor) *tensor.RawTensor {
		return bk.Sub(a, b)
	}))
	r.Register("Mul", binaryOp(func(bk tensor.Backend, a, b *tensor.RawTensor) *tensor.RawTensor {
		return bk.Mul(a, b)
	}))
	r.Register("Div", binaryOp(func(bk tensor.Backend, a, b *tensor.RawTensor) *tensor.RawTensor {
		return bk.Div(a, b)
	}))
	r.Register("Conv", convOp)
}

func binaryOp(f func(bk tensor.Backend, a, b *tensor.RawTensor) *tensor.RawTensor) OpHandler {
	return func(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if len(inputs) != 2 {
			return nil, fmt.Errorf("expected 2 inputs, got %d", len(inputs))
		}
		return []*tensor.RawTensor{f(ctx.Backend, inputs[0], inputs[1])}, nil
	}
}

// convOp handles Conv with a square kernel, uniform stride and symmetric
// padding, which covers everything the supported generators emit.
func convOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 2 {
		return nil, fmt.Errorf("expected at least 2 inputs, got %d", len(inputs))
	}
	x, w := inputs[0], inputs[1]

	if group := GetAttrInt(node, "group", 1); group != 1 {
		return nil, fmt.Errorf("grouped convolution not supported (group=%d)", group)
	}
	for _, d := range GetAttrInts(node, "dilations") {
		if d != 1 {
			return nil, fmt.Errorf("dilated convolution not supported (dilation=%d)", d)
		}
	}

	stride := 1
	if strides := GetAttrInts(node, "strides"); len(strides) > 0 {
		stride = int(strides[0])
		for _, s := range strides {
			if int(s) != stride {
				return nil, fmt.Errorf("non-uniform strides %v not supported", strides)
			}
		}
	}

	padding := 0
	if pads := GetAttrInts(node, "pads"); len(pads) > 0 {
		padding = int(pads[0])
		for _, p := range pads {
			if int(p) != padding {
				return nil, fmt.Errorf("asymmetric padding %v not supported", pads)
			}
		}
	}

	out := ctx.Backend.Conv2D(x, w, stride, padding)
	if len(inputs) > 2 && inputs[2] != nil {
		bias := inputs[2]
		shaped, err := tensor.Reshape(bias, tensor.Shape{1, bias.NumElements(), 1, 1})
		if err != nil {
			return nil, fmt.Errorf("bias: %w", err)
		}
		out = ctx.Backend.Add(out, shaped)
	}
	return []*tensor.RawTensor{out}, nil
}
