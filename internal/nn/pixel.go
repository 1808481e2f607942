package nn

import (
	"github.com/overscale-ml/overscale/internal/tensor"
)

// PixelShuffle rearranges [N, C*r*r, H, W] into [N, C, H*r, W*r].
type PixelShuffle struct {
	Block int
}

// NewPixelShuffle creates a pixel shuffle with upscale factor block.
func NewPixelShuffle(block int) *PixelShuffle {
	return &PixelShuffle{Block: block}
}

func (m *PixelShuffle) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return bk.DepthToSpace(x, m.Block)
}

func (m *PixelShuffle) Emit(g GraphBuilder, input string) string {
	return g.DepthToSpace(input, m.Block)
}

func (m *PixelShuffle) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	return nil
}

func (m *PixelShuffle) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {}

// PixelUnshuffle rearranges [N, C, H*r, W*r] into [N, C*r*r, H, W], the
// inverse of PixelShuffle. Channels is the input channel count C; the ONNX
// emission needs it because SpaceToDepth orders the folded channels
// differently and must be corrected per channel.
type PixelUnshuffle struct {
	Block    int
	Channels int
}

// NewPixelUnshuffle creates a pixel unshuffle with downscale factor block
// over channels input channels.
func NewPixelUnshuffle(block, channels int) *PixelUnshuffle {
	return &PixelUnshuffle{Block: block, Channels: channels}
}

func (m *PixelUnshuffle) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return bk.PixelUnshuffle(x, m.Block)
}

func (m *PixelUnshuffle) Emit(g GraphBuilder, input string) string {
	return g.PixelUnshuffle(input, m.Block, m.Channels)
}

func (m *PixelUnshuffle) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	return nil
}

func (m *PixelUnshuffle) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {}

// Upsample performs nearest-neighbor upsampling by an integer factor.
type Upsample struct {
	Scale int
}

// NewUpsample creates a nearest-neighbor upsample layer.
func NewUpsample(scale int) *Upsample {
	return &Upsample{Scale: scale}
}

func (m *Upsample) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	return bk.ResizeNearest(x, m.Scale)
}

func (m *Upsample) Emit(g GraphBuilder, input string) string {
	return g.ResizeNearest(input, m.Scale)
}

func (m *Upsample) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	return nil
}

func (m *Upsample) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {}
