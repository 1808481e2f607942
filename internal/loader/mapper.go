package loader

import (
	"strings"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// Training frameworks wrap generator weights in container prefixes:
// "params_ema." / "params." from the training state, "module." from
// DataParallel. NormalizeStateDict strips them so keys match the network
// parameter paths (conv_first.weight, body.0..., ...).
//
// When both EMA and plain weights are present the EMA set wins; EMA weights
// are what the training pipelines deploy.
func NormalizeStateDict(raw map[string]*tensor.RawTensor) map[string]*tensor.RawTensor {
	pick := func(prefix string) map[string]*tensor.RawTensor {
		out := map[string]*tensor.RawTensor{}
		for key, t := range raw {
			if strings.HasPrefix(key, prefix) {
				out[stripModule(strings.TrimPrefix(key, prefix))] = t
			}
		}
		return out
	}

	if ema := pick("params_ema."); len(ema) > 0 {
		return ema
	}
	if params := pick("params."); len(params) > 0 {
		return params
	}

	out := map[string]*tensor.RawTensor{}
	for key, t := range raw {
		out[stripModule(key)] = t
	}
	return out
}

func stripModule(key string) string {
	return strings.TrimPrefix(key, "module.")
}
