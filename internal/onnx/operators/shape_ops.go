package operators

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// registerShapeOps registers tensor layout and resampling operators.
func (r *Registry) registerShapeOps() {
	r.Register("Reshape", reshapeOp)
	r.Register("Transpose", transposeOp)
	r.Register("Concat", concatOp)
	r.Register("DepthToSpace", depthToSpaceOp)
	r.Register("SpaceToDepth", spaceToDepthOp)
	r.Register("Resize", resizeOp)
}

func reshapeOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("expected 2 inputs, got %d", len(inputs))
	}
	shapeData := inputs[1].AsInt64()
	newShape := make(tensor.Shape, len(shapeData))
	for i, dim := range shapeData {
		if dim == 0 {
			// 0 means "keep the input dimension"
			newShape[i] = inputs[0].Shape()[i]
			continue
		}
		newShape[i] = int(dim)
	}
	out, err := tensor.Reshape(inputs[0], newShape)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

func transposeOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	x := inputs[0]
	shape := x.Shape()
	ndim := len(shape)

	perm := make([]int, ndim)
	if attrPerm := GetAttrInts(node, "perm"); len(attrPerm) > 0 {
		if len(attrPerm) != ndim {
			return nil, fmt.Errorf("perm length %d != rank %d", len(attrPerm), ndim)
		}
		for i, p := range attrPerm {
			perm[i] = int(p)
		}
	} else {
		// Default: reverse the axes
		for i := range perm {
			perm[i] = ndim - 1 - i
		}
	}

	if x.DType() != tensor.Float32 {
		return nil, fmt.Errorf("unsupported dtype %v", x.DType())
	}

	outShape := make(tensor.Shape, ndim)
	for i, p := range perm {
		outShape[i] = shape[p]
	}
	out, err := tensor.NewRaw(outShape, x.DType(), x.Device())
	if err != nil {
		return nil, err
	}

	inStrides := shape.ComputeStrides()
	inData := x.AsFloat32()
	outData := out.AsFloat32()
	idx := make([]int, ndim)
	for i := range outData {
		src := 0
		for j, p := range perm {
			src += idx[j] * inStrides[p]
		}
		outData[i] = inData[src]

		for j := ndim - 1; j >= 0; j-- {
			idx[j]++
			if idx[j] < outShape[j] {
				break
			}
			idx[j] = 0
		}
	}
	return []*tensor.RawTensor{out}, nil
}

func concatOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("expected at least 1 input")
	}
	axis := int(GetAttrInt(node, "axis", 0))
	if axis < 0 {
		axis += len(inputs[0].Shape())
	}
	return []*tensor.RawTensor{ctx.Backend.Concat(inputs, axis)}, nil
}

func depthToSpaceOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	block := int(GetAttrInt(node, "blocksize", 0))
	if block <= 0 {
		return nil, fmt.Errorf("missing blocksize attribute")
	}
	if mode := GetAttrString(node, "mode", "DCR"); mode != "CRD" {
		return nil, fmt.Errorf("unsupported mode %q (pixel shuffle needs CRD)", mode)
	}
	return []*tensor.RawTensor{ctx.Backend.DepthToSpace(inputs[0], block)}, nil
}

func spaceToDepthOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("expected 1 input, got %d", len(inputs))
	}
	block := int(GetAttrInt(node, "blocksize", 0))
	if block <= 0 {
		return nil, fmt.Errorf("missing blocksize attribute")
	}
	out, err := tensor.SpaceToDepth(inputs[0], block)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{out}, nil
}

// resizeOp handles nearest-neighbor Resize with an integer spatial scale
// factor given through the scales input ([1, 1, s, s]).
func resizeOp(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(inputs) < 3 || inputs[2] == nil {
		return nil, fmt.Errorf("expected scales input")
	}
	if mode := GetAttrString(node, "mode", "nearest"); mode != "nearest" {
		return nil, fmt.Errorf("unsupported mode %q", mode)
	}

	scales := inputs[2].AsFloat32()
	if len(scales) != 4 || scales[0] != 1 || scales[1] != 1 {
		return nil, fmt.Errorf("unsupported scales %v", scales)
	}
	scale := int(scales[2])
	if float32(scale) != scales[2] || scales[2] != scales[3] || scale < 1 {
		return nil, fmt.Errorf("non-integer or non-uniform scales %v", scales)
	}
	return []*tensor.RawTensor{ctx.Backend.ResizeNearest(inputs[0], scale)}, nil
}
