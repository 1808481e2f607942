// Package config loads and validates the YAML conversion document. The
// document is read once and immutable for the run.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported ONNX opset window.
const (
	MinOpset     = 11
	MaxOpset     = 21
	DefaultOpset = 17
)

var supportedScales = []int{1, 2, 3, 4, 8}

// Config is the top-level conversion document.
type Config struct {
	Name    string   `yaml:"name"`
	Scale   int      `yaml:"scale"`
	NumGPU  GPUCount `yaml:"num_gpu"`
	Network Network  `yaml:"network_g"`
	Path    Paths    `yaml:"path"`
	ONNX    ONNX     `yaml:"onnx"`
}

// GPUCount is an integer device count or the sentinel string "auto".
type GPUCount struct {
	Auto  bool
	Count int
}

func (g *GPUCount) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("num_gpu must be an integer or \"auto\"")
	}
	if value.Value == "auto" {
		g.Auto = true
		g.Count = 0
		return nil
	}
	n, err := strconv.Atoi(value.Value)
	if err != nil {
		return fmt.Errorf("num_gpu must be an integer or \"auto\", got %q", value.Value)
	}
	if n < 0 {
		return fmt.Errorf("num_gpu must be >= 0, got %d", n)
	}
	g.Count = n
	return nil
}

func (g GPUCount) MarshalYAML() (interface{}, error) {
	if g.Auto {
		return "auto", nil
	}
	return g.Count, nil
}

// Workers maps the device count to a CPU worker count: auto and zero mean
// all cores.
func (g GPUCount) Workers() int {
	if g.Auto || g.Count == 0 {
		return runtime.NumCPU()
	}
	return g.Count
}

// Network selects and parameterizes the generator architecture. Zero-valued
// knobs fall back to the architecture defaults.
type Network struct {
	Type              string `yaml:"type"`
	UsePixelUnshuffle bool   `yaml:"use_pixel_unshuffle"`
	NumInCh           int    `yaml:"num_in_ch"`
	NumOutCh          int    `yaml:"num_out_ch"`
	NumFeat           int    `yaml:"num_feat"`
	NumBlock          int    `yaml:"num_block"`
	NumGrowCh         int    `yaml:"num_grow_ch"`
	NumConv           int    `yaml:"num_conv"`
}

// Paths groups filesystem inputs.
type Paths struct {
	PretrainNetworkG string `yaml:"pretrain_network_g"`
}

// ONNX holds the export options.
type ONNX struct {
	Dynamo          bool   `yaml:"dynamo"`
	FP16            bool   `yaml:"fp16"`
	Opset           int    `yaml:"opset"`
	UseStaticShapes bool   `yaml:"use_static_shapes"`
	Shape           string `yaml:"shape"`
	Verify          bool   `yaml:"verify"`
	Optimize        bool   `yaml:"optimize"`
}

// StaticShape parses the NxCxHxW shape string. Only meaningful when
// UseStaticShapes is set.
func (o ONNX) StaticShape() ([]int, error) {
	return ParseShape(o.Shape)
}

// ParseShape parses a lowercase-x-separated shape like "1x3x256x256" into
// four positive dimensions.
func ParseShape(s string) ([]int, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 4 {
		return nil, fmt.Errorf("shape %q must have four NxCxHxW dimensions", s)
	}
	dims := make([]int, 4)
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("shape %q: dimension %d is not an integer", s, i)
		}
		if n <= 0 {
			return nil, fmt.Errorf("shape %q: dimension %d must be positive, got %d", s, i, n)
		}
		dims[i] = n
	}
	return dims, nil
}

// Load reads, strictly decodes and validates a configuration file. Unknown
// keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadBytes decodes and validates an in-memory configuration document.
func LoadBytes(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the document invariants. It also fills the opset default
// when unset.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !scaleSupported(c.Scale) {
		return fmt.Errorf("scale must be one of %v, got %d", supportedScales, c.Scale)
	}
	if c.Network.Type == "" {
		return fmt.Errorf("network_g.type is required")
	}
	if c.Path.PretrainNetworkG == "" {
		return fmt.Errorf("path.pretrain_network_g is required")
	}

	if c.ONNX.Opset == 0 {
		c.ONNX.Opset = DefaultOpset
	}
	if c.ONNX.Opset < MinOpset || c.ONNX.Opset > MaxOpset {
		return fmt.Errorf("onnx.opset %d outside supported range %d..%d", c.ONNX.Opset, MinOpset, MaxOpset)
	}

	if c.ONNX.UseStaticShapes {
		if c.ONNX.Shape == "" {
			return fmt.Errorf("onnx.shape is required when onnx.use_static_shapes is true")
		}
		if _, err := c.ONNX.StaticShape(); err != nil {
			return fmt.Errorf("onnx.shape: %w", err)
		}
	}
	return nil
}

func scaleSupported(scale int) bool {
	for _, s := range supportedScales {
		if s == scale {
			return true
		}
	}
	return false
}
