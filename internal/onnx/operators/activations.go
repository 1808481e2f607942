package operators

import (
	"fmt"
	"math"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// registerActivations registers the activation functions.
func (r *Registry) registerActivations() {
	r.Register("Relu", reluOp)
	r.Register("LeakyRelu", leakyReluOp)
	r.Register("PRelu", preluOp)
	r.Register("Clip", clipOp)
}

func reluOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	out, err := tensor.ReLU(inputs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func leakyReluOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	alpha := GetAttrFloat(node, "alpha", 0.01)
	return []*tensor.RawTensor{ctx.Backend.LeakyReLU(inputs[0], alpha)}, nil
}

func preluOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("expected 2 inputs, got %d", len(inputs))
	}
	slope := inputs[1]
	// Exporters shape the slope [C,1,1] or [1,C,1,1]; the backend wants [C].
	if len(slope.Shape()) > 1 {
		flat, err := tensor.Reshape(slope, tensor.Shape{slope.NumElements()})
		if err != nil {
			return nil, fmt.Errorf("slope: %w", err)
		}
		slope = flat
	}
	return []*tensor.RawTensor{ctx.Backend.PReLU(inputs[0], slope)}, nil
}

// clipOp handles Clip with min/max as inputs (opset 11+) or attributes.
func clipOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 1 {
		return nil, fmt.Errorf("expected at least 1 input, got %d", len(inputs))
	}

	minVal := GetAttrFloat(node, "min", float32(math.Inf(-1)))
	maxVal := GetAttrFloat(node, "max", float32(math.Inf(1)))
	if len(inputs) > 1 && inputs[1] != nil {
		minVal = inputs[1].AsFloat32()[0]
	}
	if len(inputs) > 2 && inputs[2] != nil {
		maxVal = inputs[2].AsFloat32()[0]
	}

	out, err := tensor.Clip(inputs[0], minVal, maxVal)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}
