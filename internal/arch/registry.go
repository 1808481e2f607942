// Package arch builds the supported super-resolution network architectures
// from configuration and maps their parameters to checkpoint state-dict keys.
package arch

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/overscale-ml/overscale/internal/nn"
)

// Network is a fully assembled generator network. The extra accessors drive
// export: graph input/output channel counts and the upscaling factor.
type Network interface {
	nn.Module
	InputChannels() int
	OutputChannels() int
	Scale() int
}

// Options carries the network_g knobs from configuration. Zero values mean
// "architecture default".
type Options struct {
	Scale             int
	InChannels        int
	OutChannels       int
	NumFeat           int  // feature width
	NumBlocks         int  // esrgan: RRDB block count
	NumGrow           int  // esrgan: dense growth channels
	NumConv           int  // compact: conv/act pair count
	UsePixelUnshuffle bool // esrgan: pixel-unshuffle head for scale 1 and 2
}

// Constructor builds a network from options.
type Constructor func(opts Options) (Network, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// Register adds a constructor under a type name. Called from init.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("arch: duplicate registration for %q", name))
	}
	registry[name] = ctor
}

// New builds the network registered under the given type name.
func New(name string, opts Options) (Network, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown network type %q (supported: %s)",
			name, strings.Join(Registered(), ", "))
	}
	return ctor(opts)
}

// Registered returns the registered type names, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
