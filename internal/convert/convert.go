// Package convert orchestrates a conversion run: configuration to network to
// checkpoint to ONNX file.
package convert

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/overscale-ml/overscale/internal/arch"
	"github.com/overscale-ml/overscale/internal/backend/cpu"
	"github.com/overscale-ml/overscale/internal/config"
	"github.com/overscale-ml/overscale/internal/export"
	"github.com/overscale-ml/overscale/internal/loader"
	"github.com/overscale-ml/overscale/internal/tensor"
)

// Options configures a conversion run.
type Options struct {
	Config *config.Config
	// OutputPath of the float32 model. Defaults to <name>.onnx.
	OutputPath string
	Logger     *slog.Logger
}

// Run executes the full pipeline and returns the written file paths.
func Run(opts Options) (*export.Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("convert: nil config")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	outPath := opts.OutputPath
	if outPath == "" {
		outPath = cfg.Name + ".onnx"
	}

	net, err := buildNetwork(cfg)
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	log.Info("network assembled",
		"type", cfg.Network.Type,
		"scale", cfg.Scale,
		"in_channels", net.InputChannels(),
		"out_channels", net.OutputChannels())

	ckpt, err := loader.LoadCheckpoint(cfg.Path.PretrainNetworkG)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	log.Info("checkpoint loaded",
		"path", cfg.Path.PretrainNetworkG,
		"tensors", len(ckpt.Tensors))

	if err := net.LoadState(ckpt.Tensors, ""); err != nil {
		return nil, fmt.Errorf("bind checkpoint: %w", err)
	}

	exportOpts, err := exportOptions(cfg)
	if err != nil {
		return nil, err
	}

	bk := cpu.NewWithWorkers(cfg.NumGPU.Workers())
	log.Info("exporting",
		"output", outPath,
		"opset", cfg.ONNX.Opset,
		"dynamo", cfg.ONNX.Dynamo,
		"fp16", cfg.ONNX.FP16,
		"static", cfg.ONNX.UseStaticShapes,
		"workers", cfg.NumGPU.Workers())

	start := time.Now()
	result, err := export.Export(net, bk, outPath, exportOpts)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	log.Info("export complete", "path", result.Path, "elapsed", time.Since(start))
	if result.FP16Path != "" {
		log.Info("fp16 variant written", "path", result.FP16Path)
	}
	return result, nil
}

func buildNetwork(cfg *config.Config) (arch.Network, error) {
	return arch.New(cfg.Network.Type, arch.Options{
		Scale:             cfg.Scale,
		InChannels:        cfg.Network.NumInCh,
		OutChannels:       cfg.Network.NumOutCh,
		NumFeat:           cfg.Network.NumFeat,
		NumBlocks:         cfg.Network.NumBlock,
		NumGrow:           cfg.Network.NumGrowCh,
		NumConv:           cfg.Network.NumConv,
		UsePixelUnshuffle: cfg.Network.UsePixelUnshuffle,
	})
}

func exportOptions(cfg *config.Config) (export.Options, error) {
	opts := export.Options{
		Opset:     cfg.ONNX.Opset,
		Dynamo:    cfg.ONNX.Dynamo,
		FP16:      cfg.ONNX.FP16,
		Optimize:  cfg.ONNX.Optimize,
		Verify:    cfg.ONNX.Verify,
		GraphName: cfg.Name,
		Metadata: map[string]string{
			"name":         cfg.Name,
			"architecture": cfg.Network.Type,
			"scale":        strconv.Itoa(cfg.Scale),
		},
	}
	if cfg.ONNX.UseStaticShapes {
		dims, err := cfg.ONNX.StaticShape()
		if err != nil {
			return export.Options{}, fmt.Errorf("static shape: %w", err)
		}
		opts.StaticShape = tensor.Shape(dims)
	}
	return opts, nil
}
