package convert

import (
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overscale-ml/overscale/internal/config"
	"github.com/overscale-ml/overscale/internal/loader"
	"github.com/overscale-ml/overscale/internal/onnx"
	"github.com/overscale-ml/overscale/internal/tensor"
)

func randTensor(t *testing.T, rng *rand.Rand, dims ...int) *tensor.RawTensor {
	t.Helper()
	shape := tensor.Shape(dims)
	data := make([]float32, shape.NumElements())
	for i := range data {
		data[i] = (rng.Float32() - 0.5) * 0.2
	}
	raw, err := tensor.FromFloat32(data, shape)
	require.NoError(t, err)
	return raw
}

// writeCompactCheckpoint writes a safetensors file holding a full compact
// state dict under the training-time params. prefix.
func writeCompactCheckpoint(t *testing.T, path string, scale, inCh, outCh, feat, numConv int) {
	t.Helper()
	rng := rand.New(rand.NewSource(13))
	state := map[string]*tensor.RawTensor{}
	idx := 0
	conv := func(in, out int) {
		key := "params.body." + strconv.Itoa(idx)
		state[key+".weight"] = randTensor(t, rng, out, in, 3, 3)
		state[key+".bias"] = randTensor(t, rng, out)
		idx++
	}
	prelu := func(c int) {
		state["params.body."+strconv.Itoa(idx)+".weight"] = randTensor(t, rng, c)
		idx++
	}
	conv(inCh, feat)
	prelu(feat)
	for i := 0; i < numConv; i++ {
		conv(feat, feat)
		prelu(feat)
	}
	conv(feat, outCh*scale*scale)

	require.NoError(t, loader.WriteSafeTensors(path, state, nil))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_CompactEndToEnd(t *testing.T) {
	dir := t.TempDir()
	ckptPath := filepath.Join(dir, "net_g.safetensors")
	writeCompactCheckpoint(t, ckptPath, 2, 1, 1, 4, 1)

	cfg, err := config.LoadBytes([]byte(`
name: 2x_compact_test
scale: 2
num_gpu: 1
network_g:
  type: compact
  num_in_ch: 1
  num_out_ch: 1
  num_feat: 4
  num_conv: 1
path:
  pretrain_network_g: ` + ckptPath + `
onnx:
  fp16: true
  opset: 17
  use_static_shapes: true
  shape: 1x1x8x8
  verify: true
  optimize: true
`))
	require.NoError(t, err)

	outPath := filepath.Join(dir, "out.onnx")
	result, err := Run(Options{Config: cfg, OutputPath: outPath, Logger: quietLogger()})
	require.NoError(t, err)

	require.Equal(t, outPath, result.Path)
	_, err = os.Stat(result.Path)
	require.NoError(t, err)
	_, err = os.Stat(result.FP16Path)
	require.NoError(t, err)

	info, err := onnx.GetModelInfo(result.Path)
	require.NoError(t, err)
	assert.Equal(t, "2x_compact_test", info.GraphName)
	assert.Equal(t, int64(17), info.OpsetVersion)
	assert.Equal(t, []string{"input"}, info.InputNames)
	assert.Equal(t, []string{"output"}, info.OutputNames)

	proto, err := onnx.ParseFile(result.Path)
	require.NoError(t, err)
	meta := map[string]string{}
	for _, entry := range proto.MetadataProps {
		meta[entry.Key] = entry.Value
	}
	assert.Equal(t, "compact", meta["architecture"])
	assert.Equal(t, "2", meta["scale"])
}

func TestRun_DynamoBackend(t *testing.T) {
	dir := t.TempDir()
	ckptPath := filepath.Join(dir, "net_g.safetensors")
	writeCompactCheckpoint(t, ckptPath, 2, 1, 1, 4, 1)

	cfg, err := config.LoadBytes([]byte(`
name: 2x_compact_dynamo
scale: 2
network_g:
  type: compact
  num_in_ch: 1
  num_out_ch: 1
  num_feat: 4
  num_conv: 1
path:
  pretrain_network_g: ` + ckptPath + `
onnx:
  dynamo: true
  opset: 17
  use_static_shapes: true
  shape: 1x1x8x8
  verify: true
`))
	require.NoError(t, err)

	outPath := filepath.Join(dir, "dynamo.onnx")
	result, err := Run(Options{Config: cfg, OutputPath: outPath, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Empty(t, result.FP16Path)
}

func TestRun_UnknownArchitecture(t *testing.T) {
	cfg, err := config.LoadBytes([]byte(`
name: m
scale: 4
network_g:
  type: swinir
path:
  pretrain_network_g: missing.safetensors
`))
	require.NoError(t, err)

	_, err = Run(Options{Config: cfg, Logger: quietLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build network")
	assert.Contains(t, err.Error(), "swinir")
}

func TestRun_MissingCheckpoint(t *testing.T) {
	cfg, err := config.LoadBytes([]byte(`
name: m
scale: 2
network_g:
  type: compact
path:
  pretrain_network_g: ` + filepath.Join(t.TempDir(), "missing.safetensors") + `
`))
	require.NoError(t, err)

	_, err = Run(Options{Config: cfg, Logger: quietLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load checkpoint")
}

func TestRun_ShapeMismatchNamesTensor(t *testing.T) {
	dir := t.TempDir()
	ckptPath := filepath.Join(dir, "net_g.safetensors")
	// Checkpoint for feat=4, configured net expects feat=8.
	writeCompactCheckpoint(t, ckptPath, 2, 1, 1, 4, 1)

	cfg, err := config.LoadBytes([]byte(`
name: m
scale: 2
network_g:
  type: compact
  num_in_ch: 1
  num_out_ch: 1
  num_feat: 8
  num_conv: 1
path:
  pretrain_network_g: ` + ckptPath + `
`))
	require.NoError(t, err)

	_, err = Run(Options{Config: cfg, Logger: quietLogger()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind checkpoint")
}
