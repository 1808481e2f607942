package cpu

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/parallel"
	"github.com/overscale-ml/overscale/internal/tensor"
)

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape: [N, C_in, H, W]
// Kernel shape: [C_out, C_in, K_h, K_w]
// Output shape: [N, C_out, H_out, W_out]
//
// Im2col lowers each input patch into a column so the convolution becomes a
// row-major matmul against the flattened kernel. The matmul is parallelized
// over (batch, out-channel) pairs.
func (cpu *Backend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape)))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}

	n := inputShape[0]
	cIn := inputShape[1]
	h := inputShape[2]
	w := inputShape[3]
	cOut := kernelShape[0]
	kh := kernelShape[2]
	kw := kernelShape[3]

	if cIn != kernelShape[1] {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", cIn, kernelShape[1]))
	}

	hOut := (h+2*padding-kh)/stride + 1
	wOut := (w+2*padding-kw)/stride + 1
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions %dx%d (check stride/padding)", hOut, wOut))
	}

	if input.DType() != tensor.Float32 || kernel.DType() != tensor.Float32 {
		panic(fmt.Sprintf("conv2d: unsupported dtypes %s, %s", input.DType(), kernel.DType()))
	}

	output, err := tensor.NewRaw(tensor.Shape{n, cOut, hOut, wOut}, input.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("conv2d: failed to create output tensor: %v", err))
	}

	inData := input.AsFloat32()
	kData := kernel.AsFloat32()
	outData := output.AsFloat32()

	colWidth := cIn * kh * kw
	planeSize := hOut * wOut

	// One column buffer per batch sample, shared by all output channels of
	// that sample. Lowered lazily so samples can run concurrently.
	colBufs := make([][]float32, n)
	for ni := 0; ni < n; ni++ {
		colBufs[ni] = make([]float32, planeSize*colWidth)
	}
	parallel.For(n, func(ni int) {
		sample := inData[ni*cIn*h*w : (ni+1)*cIn*h*w]
		im2col(colBufs[ni], sample, cIn, h, w, kh, kw, hOut, wOut, stride, padding)
	}, cpu.par)

	// result[n, c, p] = sum_k kernel[c, k] * col[n][p, k]
	parallel.ForBatch(n, cOut, func(ni, co int) {
		col := colBufs[ni]
		krow := kData[co*colWidth : (co+1)*colWidth]
		dst := outData[(ni*cOut+co)*planeSize:]
		for p := 0; p < planeSize; p++ {
			row := col[p*colWidth : (p+1)*colWidth]
			var sum float32
			for k, kv := range krow {
				sum += kv * row[k]
			}
			dst[p] = sum
		}
	}, cpu.par)

	return output
}

// im2col lowers one [C, H, W] sample into a [H_out*W_out, C*K_h*K_w]
// column matrix. Out-of-bounds positions read as zero (implicit padding).
func im2col(colBuf, sample []float32, c, h, w, kh, kw, hOut, wOut, stride, padding int) {
	colWidth := c * kh * kw
	colIdx := 0

	for outH := 0; outH < hOut; outH++ {
		for outW := 0; outW < wOut; outW++ {
			hStart := outH*stride - padding
			wStart := outW*stride - padding
			bufIdx := colIdx * colWidth

			for ci := 0; ci < c; ci++ {
				for ki := 0; ki < kh; ki++ {
					hi := hStart + ki
					if hi < 0 || hi >= h {
						for kj := 0; kj < kw; kj++ {
							colBuf[bufIdx] = 0
							bufIdx++
						}
						continue
					}
					rowBase := (ci*h + hi) * w
					for kj := 0; kj < kw; kj++ {
						wi := wStart + kj
						if wi >= 0 && wi < w {
							colBuf[bufIdx] = sample[rowBase+wi]
						} else {
							colBuf[bufIdx] = 0
						}
						bufIdx++
					}
				}
			}
			colIdx++
		}
	}
}
