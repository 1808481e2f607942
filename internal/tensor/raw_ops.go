package tensor

import (
	"fmt"
)

// Raw operations are free functions over RawTensor. They back both the
// network layers' reference forward pass and the ONNX operator handlers,
// so the two execution paths share one numerical definition.

// ReLU applies the ReLU activation function element-wise: max(x, 0).
func ReLU(x *RawTensor) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("ReLU: input tensor is nil")
	}
	result, err := NewRaw(x.shape, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("ReLU: %w", err)
	}

	switch x.dtype {
	case Float32:
		in := x.AsFloat32()
		out := result.AsFloat32()
		for i := range in {
			if in[i] > 0 {
				out[i] = in[i]
			}
		}
	case Float64:
		in := x.AsFloat64()
		out := result.AsFloat64()
		for i := range in {
			if in[i] > 0 {
				out[i] = in[i]
			}
		}
	default:
		return nil, fmt.Errorf("ReLU: unsupported dtype %v", x.dtype)
	}
	return result, nil
}

// LeakyReLU applies leaky ReLU: max(x, alpha*x).
func LeakyReLU(x *RawTensor, alpha float32) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("LeakyReLU: input tensor is nil")
	}
	result, err := NewRaw(x.shape, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("LeakyReLU: %w", err)
	}

	switch x.dtype {
	case Float32:
		in := x.AsFloat32()
		out := result.AsFloat32()
		for i := range in {
			if in[i] > 0 {
				out[i] = in[i]
			} else {
				out[i] = alpha * in[i]
			}
		}
	case Float64:
		in := x.AsFloat64()
		out := result.AsFloat64()
		a := float64(alpha)
		for i := range in {
			if in[i] > 0 {
				out[i] = in[i]
			} else {
				out[i] = a * in[i]
			}
		}
	default:
		return nil, fmt.Errorf("LeakyReLU: unsupported dtype %v", x.dtype)
	}
	return result, nil
}

// PReLU applies parametric ReLU with a per-channel slope: for negative
// elements of a [N,C,H,W] input, out = slope[c] * x. The slope tensor holds
// one value per channel (shape [C] or [C,1,1]); a single-element slope is
// broadcast to all channels.
func PReLU(x, slope *RawTensor) (*RawTensor, error) {
	if x == nil || slope == nil {
		return nil, fmt.Errorf("PReLU: input tensors cannot be nil")
	}
	if x.dtype != Float32 {
		return nil, fmt.Errorf("PReLU: unsupported dtype %v", x.dtype)
	}
	result, err := NewRaw(x.shape, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("PReLU: %w", err)
	}

	in := x.AsFloat32()
	out := result.AsFloat32()
	sl := slope.AsFloat32()

	if len(sl) == 1 {
		// Flat broadcast: single slope for every element.
		s := sl[0]
		for i := range in {
			if in[i] > 0 {
				out[i] = in[i]
			} else {
				out[i] = s * in[i]
			}
		}
		return result, nil
	}

	if len(x.shape) != 4 {
		return nil, fmt.Errorf("PReLU: per-channel slope needs 4D input, got %dD", len(x.shape))
	}
	channels := x.shape[1]
	if len(sl) != channels {
		return nil, fmt.Errorf("PReLU: slope has %d values for %d channels", len(sl), channels)
	}
	plane := x.shape[2] * x.shape[3]
	idx := 0
	for n := 0; n < x.shape[0]; n++ {
		for c := 0; c < channels; c++ {
			s := sl[c]
			for p := 0; p < plane; p++ {
				v := in[idx]
				if v > 0 {
					out[idx] = v
				} else {
					out[idx] = s * v
				}
				idx++
			}
		}
	}
	return result, nil
}

// Clip clamps values to the range [min, max].
func Clip(x *RawTensor, minVal, maxVal float32) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Clip: input tensor is nil")
	}
	result, err := NewRaw(x.shape, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("Clip: %w", err)
	}

	switch x.dtype {
	case Float32:
		in := x.AsFloat32()
		out := result.AsFloat32()
		for i := range in {
			v := in[i]
			if v < minVal {
				v = minVal
			}
			if v > maxVal {
				v = maxVal
			}
			out[i] = v
		}
	case Float64:
		in := x.AsFloat64()
		out := result.AsFloat64()
		min64, max64 := float64(minVal), float64(maxVal)
		for i := range in {
			v := in[i]
			if v < min64 {
				v = min64
			}
			if v > max64 {
				v = max64
			}
			out[i] = v
		}
	default:
		return nil, fmt.Errorf("Clip: unsupported dtype %v", x.dtype)
	}
	return result, nil
}

// Reshape returns a new tensor with the given shape (shares data).
// A single -1 dimension is inferred from the element count.
func Reshape(x *RawTensor, newShape Shape) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Reshape: input tensor is nil")
	}

	totalElements := x.NumElements()
	inferIdx := -1
	product := 1
	for i, dim := range newShape {
		switch {
		case dim == -1:
			if inferIdx >= 0 {
				return nil, fmt.Errorf("Reshape: can only have one -1 dimension")
			}
			inferIdx = i
		case dim <= 0:
			return nil, fmt.Errorf("Reshape: dimensions must be positive, got %d", dim)
		default:
			product *= dim
		}
	}

	actualShape := make(Shape, len(newShape))
	copy(actualShape, newShape)

	if inferIdx >= 0 {
		if product == 0 || totalElements%product != 0 {
			return nil, fmt.Errorf("Reshape: cannot infer dimension for shape %v from %d elements", newShape, totalElements)
		}
		actualShape[inferIdx] = totalElements / product
	}

	newTotal := 1
	for _, dim := range actualShape {
		newTotal *= dim
	}
	if newTotal != totalElements {
		return nil, fmt.Errorf("Reshape: cannot reshape %d elements to shape %v (%d elements)", totalElements, actualShape, newTotal)
	}

	result := x.Clone()
	result.shape = actualShape
	result.stride = actualShape.ComputeStrides()
	return result, nil
}

// Concat concatenates tensors along the specified dimension.
func Concat(tensors []*RawTensor, axis int) (*RawTensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("Concat: no tensors provided")
	}
	if len(tensors) == 1 {
		return tensors[0].Clone(), nil
	}

	first := tensors[0]
	ndim := len(first.shape)

	if axis < 0 {
		axis = ndim + axis
	}
	if axis < 0 || axis >= ndim {
		return nil, fmt.Errorf("Concat: axis %d out of range for %d dimensions", axis, ndim)
	}

	for i, t := range tensors[1:] {
		if len(t.shape) != ndim {
			return nil, fmt.Errorf("Concat: tensor %d has %d dimensions, expected %d", i+1, len(t.shape), ndim)
		}
		if t.dtype != first.dtype {
			return nil, fmt.Errorf("Concat: tensor %d has dtype %v, expected %v", i+1, t.dtype, first.dtype)
		}
		for j := 0; j < ndim; j++ {
			if j != axis && t.shape[j] != first.shape[j] {
				return nil, fmt.Errorf("Concat: tensor %d has shape %v, incompatible with %v on axis %d", i+1, t.shape, first.shape, axis)
			}
		}
	}

	newShape := make(Shape, ndim)
	copy(newShape, first.shape)
	for _, t := range tensors[1:] {
		newShape[axis] += t.shape[axis]
	}

	result, err := NewRaw(newShape, first.dtype, first.device)
	if err != nil {
		return nil, fmt.Errorf("Concat: %w", err)
	}

	// Copy row blocks: the data is contiguous below the concat axis, so each
	// outer index contributes one contiguous span per input tensor.
	elemSize := first.dtype.Size()
	outerSize := 1
	for i := 0; i < axis; i++ {
		outerSize *= newShape[i]
	}
	innerSize := 1
	for i := axis + 1; i < ndim; i++ {
		innerSize *= newShape[i]
	}

	outData := result.Data()
	offset := 0
	for outer := 0; outer < outerSize; outer++ {
		for _, t := range tensors {
			copyLen := t.shape[axis] * innerSize * elemSize
			inStart := outer * copyLen
			copy(outData[offset:offset+copyLen], t.Data()[inStart:inStart+copyLen])
			offset += copyLen
		}
	}

	return result, nil
}

// Cast converts a tensor to a different data type.
func Cast(x *RawTensor, dtype DataType) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("Cast: input tensor is nil")
	}
	if x.dtype == dtype {
		return x.Clone(), nil
	}

	result, err := NewRaw(x.shape, dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("Cast: %w", err)
	}

	src, err := toFloat64Slice(x)
	if err != nil {
		return nil, fmt.Errorf("Cast: %w", err)
	}

	switch dtype {
	case Float32:
		out := result.AsFloat32()
		for i, v := range src {
			out[i] = float32(v)
		}
	case Float64:
		copy(result.AsFloat64(), src)
	case Int32:
		out := result.AsInt32()
		for i, v := range src {
			out[i] = int32(v)
		}
	case Int64:
		out := result.AsInt64()
		for i, v := range src {
			out[i] = int64(v)
		}
	default:
		return nil, fmt.Errorf("Cast: unsupported target dtype %v", dtype)
	}
	return result, nil
}

// toFloat64Slice widens any numeric tensor to float64 for conversion.
func toFloat64Slice(x *RawTensor) ([]float64, error) {
	out := make([]float64, x.NumElements())
	switch x.dtype {
	case Float32:
		for i, v := range x.AsFloat32() {
			out[i] = float64(v)
		}
	case Float64:
		copy(out, x.AsFloat64())
	case Int32:
		for i, v := range x.AsInt32() {
			out[i] = float64(v)
		}
	case Int64:
		for i, v := range x.AsInt64() {
			out[i] = float64(v)
		}
	case Uint8:
		for i, v := range x.AsUint8() {
			out[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("unsupported source dtype %v", x.dtype)
	}
	return out, nil
}
