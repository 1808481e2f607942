package operators

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// registerUtilityOps registers identity, casting and constant materialization.
func (r *Registry) registerUtilityOps() {
	r.Register("Identity", identityOp)
	r.Register("Cast", castOp)
	r.Register("Constant", constantOp)
}

func identityOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	return []*tensor.RawTensor{inputs[0].Clone()}, nil
}

func castOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}

	var dtype tensor.DataType
	switch to := GetAttrInt(node, "to", 0); to {
	case TensorProtoFloat:
		dtype = tensor.Float32
	case TensorProtoDouble:
		dtype = tensor.Float64
	case TensorProtoInt32:
		dtype = tensor.Int32
	case TensorProtoInt64:
		dtype = tensor.Int64
	case TensorProtoUint8:
		dtype = tensor.Uint8
	case TensorProtoBool:
		dtype = tensor.Bool
	default:
		return nil, fmt.Errorf("unsupported cast target %d", to)
	}

	out, err := tensor.Cast(inputs[0], dtype)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func constantOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	for i := range node.Attributes {
		attr := &node.Attributes[i]
		if attr.Name != "value" || attr.T == nil {
			continue
		}
		out, err := tensorFromValue(attr.T)
		if err != nil {
			return nil, err
		}
		return []*tensor.RawTensor{out}, nil
	}
	return nil, fmt.Errorf("missing value attribute")
}

// tensorFromValue materializes an embedded tensor attribute.
func tensorFromValue(v *TensorValue) (*tensor.RawTensor, error) {
	shape := make(tensor.Shape, len(v.Dims))
	for i, dim := range v.Dims {
		shape[i] = int(dim)
	}

	var dtype tensor.DataType
	switch v.DataType {
	case TensorProtoFloat:
		dtype = tensor.Float32
	case TensorProtoInt64:
		dtype = tensor.Int64
	default:
		return nil, fmt.Errorf("unsupported constant dtype %d", v.DataType)
	}

	out, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, err
	}
	switch {
	case len(v.RawData) > 0:
		copy(out.Data(), v.RawData)
	case len(v.FloatData) > 0:
		copy(out.AsFloat32(), v.FloatData)
	case len(v.Int64Data) > 0:
		copy(out.AsInt64(), v.Int64Data)
	}
	return out, nil
}
