package arch

import (
	"fmt"
	"strconv"

	"github.com/overscale-ml/overscale/internal/nn"
	"github.com/overscale-ml/overscale/internal/tensor"
)

func init() {
	Register("compact", NewCompact)
}

const defaultNumConv = 16

// Compact is the SRVGG-style generator: a plain stack of conv/PReLU pairs
// feeding a pixel shuffle, plus a nearest-upsampled copy of the input as the
// residual base. State-dict keys follow the flat body list layout
// (body.0, body.1, ...).
type Compact struct {
	scale int
	inCh  int
	outCh int

	body    *nn.Sequential
	shuffle *nn.PixelShuffle
}

// NewCompact builds the compact architecture from options.
func NewCompact(opts Options) (Network, error) {
	inCh := opts.InChannels
	if inCh == 0 {
		inCh = 3
	}
	outCh := opts.OutChannels
	if outCh == 0 {
		outCh = 3
	}
	feat := opts.NumFeat
	if feat == 0 {
		feat = defaultFeat
	}
	numConv := opts.NumConv
	if numConv == 0 {
		numConv = defaultNumConv
	}

	switch opts.Scale {
	case 1, 2, 3, 4, 8:
	default:
		return nil, fmt.Errorf("compact: unsupported scale %d", opts.Scale)
	}

	body := nn.NewSequential()
	idx := 0
	add := func(m nn.Module) {
		body.Add(strconv.Itoa(idx), m)
		idx++
	}
	add(nn.Conv3x3(inCh, feat))
	add(nn.NewPReLU(feat))
	for i := 0; i < numConv; i++ {
		add(nn.Conv3x3(feat, feat))
		add(nn.NewPReLU(feat))
	}
	add(nn.Conv3x3(feat, outCh*opts.Scale*opts.Scale))

	return &Compact{
		scale:   opts.Scale,
		inCh:    inCh,
		outCh:   outCh,
		body:    body,
		shuffle: nn.NewPixelShuffle(opts.Scale),
	}, nil
}

func (m *Compact) InputChannels() int  { return m.inCh }
func (m *Compact) OutputChannels() int { return m.outCh }
func (m *Compact) Scale() int          { return m.scale }

func (m *Compact) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	out := m.body.Forward(bk, x)
	if m.scale > 1 {
		out = m.shuffle.Forward(bk, out)
	}
	base := bk.ResizeNearest(x, m.scale)
	return bk.Add(out, base)
}

func (m *Compact) Emit(g nn.GraphBuilder, input string) string {
	out := m.body.Emit(g, input)
	if m.scale > 1 {
		out = m.shuffle.Emit(g, out)
	}
	base := input
	if m.scale > 1 {
		base = g.ResizeNearest(input, m.scale)
	}
	return g.Add(out, base)
}

func (m *Compact) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	return m.body.LoadState(state, join(prefix, "body"))
}

func (m *Compact) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {
	m.body.Parameters(join(prefix, "body"), visit)
}
