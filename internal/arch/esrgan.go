package arch

import (
	"fmt"

	"github.com/overscale-ml/overscale/internal/nn"
	"github.com/overscale-ml/overscale/internal/tensor"
)

func init() {
	Register("esrgan", NewRRDBNet)
}

const (
	defaultFeat   = 64
	defaultBlocks = 23
	defaultGrow   = 32
	residualScale = 0.2
	lreluSlope    = 0.2
)

// residualDenseBlock is five densely connected 3x3 convolutions with a
// scaled skip. State-dict keys: <prefix>.conv1 .. <prefix>.conv5.
type residualDenseBlock struct {
	convs [5]*nn.Conv2D
	lrelu *nn.LeakyReLU
}

func newResidualDenseBlock(feat, grow int) *residualDenseBlock {
	rdb := &residualDenseBlock{lrelu: nn.NewLeakyReLU(lreluSlope)}
	for i := 0; i < 4; i++ {
		rdb.convs[i] = nn.Conv3x3(feat+i*grow, grow)
	}
	rdb.convs[4] = nn.Conv3x3(feat+4*grow, feat)
	return rdb
}

func (rdb *residualDenseBlock) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	dense := []*tensor.RawTensor{x}
	for i := 0; i < 4; i++ {
		xi := rdb.lrelu.Forward(bk, rdb.convs[i].Forward(bk, concatForward(bk, dense)))
		dense = append(dense, xi)
	}
	x5 := rdb.convs[4].Forward(bk, bk.Concat(dense, 1))
	return bk.Add(bk.MulScalar(x5, residualScale), x)
}

func concatForward(bk tensor.Backend, inputs []*tensor.RawTensor) *tensor.RawTensor {
	if len(inputs) == 1 {
		return inputs[0]
	}
	return bk.Concat(inputs, 1)
}

func (rdb *residualDenseBlock) Emit(g nn.GraphBuilder, input string) string {
	dense := []string{input}
	for i := 0; i < 4; i++ {
		in := dense[0]
		if len(dense) > 1 {
			in = g.Concat(1, dense...)
		}
		dense = append(dense, rdb.lrelu.Emit(g, rdb.convs[i].Emit(g, in)))
	}
	x5 := rdb.convs[4].Emit(g, g.Concat(1, dense...))
	return g.Add(g.MulScalar(x5, residualScale), input)
}

func (rdb *residualDenseBlock) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	for i, conv := range rdb.convs {
		if err := conv.LoadState(state, fmt.Sprintf("%s.conv%d", prefix, i+1)); err != nil {
			return err
		}
	}
	return nil
}

func (rdb *residualDenseBlock) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {
	for i, conv := range rdb.convs {
		conv.Parameters(fmt.Sprintf("%s.conv%d", prefix, i+1), visit)
	}
}

// rrdb is a residual-in-residual dense block: three RDBs with an outer
// scaled skip. State-dict keys: <prefix>.rdb1 .. <prefix>.rdb3.
type rrdb struct {
	rdbs [3]*residualDenseBlock
}

func newRRDB(feat, grow int) *rrdb {
	return &rrdb{rdbs: [3]*residualDenseBlock{
		newResidualDenseBlock(feat, grow),
		newResidualDenseBlock(feat, grow),
		newResidualDenseBlock(feat, grow),
	}}
}

func (b *rrdb) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	out := x
	for _, rdb := range b.rdbs {
		out = rdb.Forward(bk, out)
	}
	return bk.Add(bk.MulScalar(out, residualScale), x)
}

func (b *rrdb) Emit(g nn.GraphBuilder, input string) string {
	out := input
	for _, rdb := range b.rdbs {
		out = rdb.Emit(g, out)
	}
	return g.Add(g.MulScalar(out, residualScale), input)
}

func (b *rrdb) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	for i, rdb := range b.rdbs {
		if err := rdb.LoadState(state, fmt.Sprintf("%s.rdb%d", prefix, i+1)); err != nil {
			return err
		}
	}
	return nil
}

func (b *rrdb) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {
	for i, rdb := range b.rdbs {
		rdb.Parameters(fmt.Sprintf("%s.rdb%d", prefix, i+1), visit)
	}
}

// upStage is one nearest-resize followed by a convolution and leaky ReLU.
type upStage struct {
	factor int
	name   string
	conv   *nn.Conv2D
}

// RRDBNet is the ESRGAN generator: a shallow feature conv, a trunk of RRDB
// blocks with a long skip, then resize-conv upsampling stages.
//
// For scale 1 and 2 with the pixel-unshuffle head enabled, the input is
// space-to-depth folded (block 4 and 2 respectively) so the trunk runs at a
// quarter resolution and the fixed x4 upsampling tail restores the target
// scale. Above scale 2 the flag has no effect.
type RRDBNet struct {
	scale        int
	inCh         int
	outCh        int
	shuffleBlock int // 0 disables the unshuffle head

	convFirst *nn.Conv2D
	body      []*rrdb
	convBody  *nn.Conv2D
	ups       []*upStage
	convHR    *nn.Conv2D
	convLast  *nn.Conv2D
	lrelu     *nn.LeakyReLU
}

// NewRRDBNet builds the esrgan architecture from options.
func NewRRDBNet(opts Options) (Network, error) {
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
	blocks := opts.NumBlocks
	if blocks == 0 {
		blocks = defaultBlocks
	}
	grow := opts.NumGrow
	if grow == 0 {
		grow = defaultGrow
	}

	m := &RRDBNet{
		scale: opts.Scale,
		inCh:  inCh,
		outCh: outCh,
		lrelu: nn.NewLeakyReLU(lreluSlope),
	}

	firstIn := inCh
	upFactors := []int{}
	if opts.UsePixelUnshuffle && opts.Scale <= 2 {
		// Fold the input so the trunk runs small, then upsample x4.
		m.shuffleBlock = 4 / opts.Scale
		firstIn = inCh * m.shuffleBlock * m.shuffleBlock
		upFactors = []int{2, 2}
	} else {
		switch opts.Scale {
		case 1:
			upFactors = nil
		case 2:
			upFactors = []int{2}
		case 3:
			upFactors = []int{3}
		case 4:
			upFactors = []int{2, 2}
		case 8:
			upFactors = []int{2, 2, 2}
		default:
			return nil, fmt.Errorf("esrgan: unsupported scale %d", opts.Scale)
		}
	}

	m.convFirst = nn.Conv3x3(firstIn, feat)
	m.body = make([]*rrdb, blocks)
	for i := range m.body {
		m.body[i] = newRRDB(feat, grow)
	}
	m.convBody = nn.Conv3x3(feat, feat)
	for i, factor := range upFactors {
		m.ups = append(m.ups, &upStage{
			factor: factor,
			name:   fmt.Sprintf("conv_up%d", i+1),
			conv:   nn.Conv3x3(feat, feat),
		})
	}
	m.convHR = nn.Conv3x3(feat, feat)
	m.convLast = nn.Conv3x3(feat, outCh)
	return m, nil
}

func (m *RRDBNet) InputChannels() int  { return m.inCh }
func (m *RRDBNet) OutputChannels() int { return m.outCh }
func (m *RRDBNet) Scale() int          { return m.scale }

// NumBlocks returns the RRDB trunk depth.
func (m *RRDBNet) NumBlocks() int { return len(m.body) }

func (m *RRDBNet) Forward(bk tensor.Backend, x *tensor.RawTensor) *tensor.RawTensor {
	feat := x
	if m.shuffleBlock > 1 {
		feat = bk.PixelUnshuffle(feat, m.shuffleBlock)
	}
	feat = m.convFirst.Forward(bk, feat)

	trunk := feat
	for _, block := range m.body {
		trunk = block.Forward(bk, trunk)
	}
	trunk = m.convBody.Forward(bk, trunk)
	feat = bk.Add(feat, trunk)

	for _, up := range m.ups {
		feat = m.lrelu.Forward(bk, up.conv.Forward(bk, bk.ResizeNearest(feat, up.factor)))
	}
	return m.convLast.Forward(bk, m.lrelu.Forward(bk, m.convHR.Forward(bk, feat)))
}

func (m *RRDBNet) Emit(g nn.GraphBuilder, input string) string {
	feat := input
	if m.shuffleBlock > 1 {
		feat = g.PixelUnshuffle(feat, m.shuffleBlock, m.inCh)
	}
	feat = m.convFirst.Emit(g, feat)

	trunk := feat
	for _, block := range m.body {
		trunk = block.Emit(g, trunk)
	}
	trunk = m.convBody.Emit(g, trunk)
	feat = g.Add(feat, trunk)

	for _, up := range m.ups {
		feat = m.lrelu.Emit(g, up.conv.Emit(g, g.ResizeNearest(feat, up.factor)))
	}
	return m.convLast.Emit(g, m.lrelu.Emit(g, m.convHR.Emit(g, feat)))
}

func (m *RRDBNet) LoadState(state map[string]*tensor.RawTensor, prefix string) error {
	if err := m.convFirst.LoadState(state, join(prefix, "conv_first")); err != nil {
		return err
	}
	for i, block := range m.body {
		if err := block.LoadState(state, fmt.Sprintf("%s.%d", join(prefix, "body"), i)); err != nil {
			return err
		}
	}
	if err := m.convBody.LoadState(state, join(prefix, "conv_body")); err != nil {
		return err
	}
	for _, up := range m.ups {
		if err := up.conv.LoadState(state, join(prefix, up.name)); err != nil {
			return err
		}
	}
	if err := m.convHR.LoadState(state, join(prefix, "conv_hr")); err != nil {
		return err
	}
	return m.convLast.LoadState(state, join(prefix, "conv_last"))
}

func (m *RRDBNet) Parameters(prefix string, visit func(path string, p *tensor.RawTensor)) {
	m.convFirst.Parameters(join(prefix, "conv_first"), visit)
	for i, block := range m.body {
		block.Parameters(fmt.Sprintf("%s.%d", join(prefix, "body"), i), visit)
	}
	m.convBody.Parameters(join(prefix, "conv_body"), visit)
	for _, up := range m.ups {
		up.conv.Parameters(join(prefix, up.name), visit)
	}
	m.convHR.Parameters(join(prefix, "conv_hr"), visit)
	m.convLast.Parameters(join(prefix, "conv_last"), visit)
}

// join joins state-dict path segments; the root prefix is empty.
func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
