package tensor

import "fmt"

// Pixel rearrangement and resampling ops for super-resolution graphs.
// DepthToSpace follows the pixel-shuffle element ordering (ONNX "CRD" mode),
// which matches how SR checkpoints lay out the channels feeding a shuffle
// layer. Its inverse is PixelUnshuffle, whose output channels are grouped by
// source channel first. The ONNX SpaceToDepth operator groups them by block
// offset first; the two orderings agree only for single-channel input, so
// they are separate functions here.

// DepthToSpace rearranges [N, C*r*r, H, W] into [N, C, H*r, W*r]
// (pixel shuffle). block is r.
func DepthToSpace(x *RawTensor, block int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("DepthToSpace: input tensor is nil")
	}
	if x.dtype != Float32 {
		return nil, fmt.Errorf("DepthToSpace: unsupported dtype %v", x.dtype)
	}
	if len(x.shape) != 4 {
		return nil, fmt.Errorf("DepthToSpace: expected 4D input, got %dD", len(x.shape))
	}
	if block <= 0 {
		return nil, fmt.Errorf("DepthToSpace: invalid block size %d", block)
	}

	n, c, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	if c%(block*block) != 0 {
		return nil, fmt.Errorf("DepthToSpace: channels %d not divisible by %d", c, block*block)
	}
	outC := c / (block * block)

	result, err := NewRaw(Shape{n, outC, h * block, w * block}, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("DepthToSpace: %w", err)
	}

	in := x.AsFloat32()
	out := result.AsFloat32()
	outH, outW := h*block, w*block
	for ni := 0; ni < n; ni++ {
		for co := 0; co < outC; co++ {
			for bi := 0; bi < block; bi++ {
				for bj := 0; bj < block; bj++ {
					ci := co*block*block + bi*block + bj
					for hi := 0; hi < h; hi++ {
						srcRow := ((ni*c+ci)*h + hi) * w
						dstRow := ((ni*outC+co)*outH + hi*block + bi) * outW
						for wi := 0; wi < w; wi++ {
							out[dstRow+wi*block+bj] = in[srcRow+wi]
						}
					}
				}
			}
		}
	}
	return result, nil
}

// PixelUnshuffle rearranges [N, C, H*r, W*r] into [N, C*r*r, H, W], the
// inverse of DepthToSpace: output channel ci*r*r + bi*r + bj holds source
// channel ci at block offset (bi, bj). block is r.
func PixelUnshuffle(x *RawTensor, block int) (*RawTensor, error) {
	return foldSpatial(x, block, "PixelUnshuffle", func(ci, bi, bj, c int) int {
		return ci*block*block + bi*block + bj
	})
}

// SpaceToDepth rearranges [N, C, H*r, W*r] into [N, C*r*r, H, W] with the
// channel ordering the ONNX SpaceToDepth operator defines: output channel
// (bi*r + bj)*C + ci holds source channel ci at block offset (bi, bj).
func SpaceToDepth(x *RawTensor, block int) (*RawTensor, error) {
	return foldSpatial(x, block, "SpaceToDepth", func(ci, bi, bj, c int) int {
		return (bi*block+bj)*c + ci
	})
}

// foldSpatial moves block x block spatial tiles into channels; outChannel
// decides where each (source channel, block offset) pair lands.
func foldSpatial(x *RawTensor, block int, op string, outChannel func(ci, bi, bj, c int) int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("%s: input tensor is nil", op)
	}
	if x.dtype != Float32 {
		return nil, fmt.Errorf("%s: unsupported dtype %v", op, x.dtype)
	}
	if len(x.shape) != 4 {
		return nil, fmt.Errorf("%s: expected 4D input, got %dD", op, len(x.shape))
	}
	if block <= 0 {
		return nil, fmt.Errorf("%s: invalid block size %d", op, block)
	}

	n, c, inH, inW := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	if inH%block != 0 || inW%block != 0 {
		return nil, fmt.Errorf("%s: spatial dims %dx%d not divisible by %d", op, inH, inW, block)
	}
	h, w := inH/block, inW/block
	outC := c * block * block

	result, err := NewRaw(Shape{n, outC, h, w}, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	in := x.AsFloat32()
	out := result.AsFloat32()
	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			for bi := 0; bi < block; bi++ {
				for bj := 0; bj < block; bj++ {
					co := outChannel(ci, bi, bj, c)
					for hi := 0; hi < h; hi++ {
						srcRow := ((ni*c+ci)*inH + hi*block + bi) * inW
						dstRow := ((ni*outC+co)*h + hi) * w
						for wi := 0; wi < w; wi++ {
							out[dstRow+wi] = in[srcRow+wi*block+bj]
						}
					}
				}
			}
		}
	}
	return result, nil
}

// ResizeNearest upsamples a [N, C, H, W] tensor by an integer factor using
// nearest-neighbor interpolation.
func ResizeNearest(x *RawTensor, scale int) (*RawTensor, error) {
	if x == nil {
		return nil, fmt.Errorf("ResizeNearest: input tensor is nil")
	}
	if x.dtype != Float32 {
		return nil, fmt.Errorf("ResizeNearest: unsupported dtype %v", x.dtype)
	}
	if len(x.shape) != 4 {
		return nil, fmt.Errorf("ResizeNearest: expected 4D input, got %dD", len(x.shape))
	}
	if scale <= 0 {
		return nil, fmt.Errorf("ResizeNearest: invalid scale %d", scale)
	}
	if scale == 1 {
		return x.Clone(), nil
	}

	n, c, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	outH, outW := h*scale, w*scale

	result, err := NewRaw(Shape{n, c, outH, outW}, x.dtype, x.device)
	if err != nil {
		return nil, fmt.Errorf("ResizeNearest: %w", err)
	}

	in := x.AsFloat32()
	out := result.AsFloat32()
	for plane := 0; plane < n*c; plane++ {
		for ho := 0; ho < outH; ho++ {
			srcRow := (plane*h + ho/scale) * w
			dstRow := (plane*outH + ho) * outW
			for wo := 0; wo < outW; wo++ {
				out[dstRow+wo] = in[srcRow+wo/scale]
			}
		}
	}
	return result, nil
}
