package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// safeTensorHeaderEntry is one tensor entry in the written JSON header.
type safeTensorHeaderEntry struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteSafeTensors writes a state dict to a safetensors file. Tensors are
// written in alphabetical order by name (format requirement). Used for the
// conversion of non-safetensors inputs and for test fixtures.
func WriteSafeTensors(path string, stateDict map[string]*tensor.RawTensor, metadata map[string]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	tensorNames := make([]string, 0, len(stateDict))
	for name := range stateDict {
		tensorNames = append(tensorNames, name)
	}
	sort.Strings(tensorNames)

	header := make(map[string]interface{})
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var currentOffset int64
	for _, name := range tensorNames {
		raw := stateDict[name]
		size := int64(raw.ByteSize())

		shape := raw.Shape()
		shapeInt64 := make([]int64, len(shape))
		for i, dim := range shape {
			shapeInt64[i] = int64(dim)
		}

		header[name] = safeTensorHeaderEntry{
			DType:       dtypeToSafeTensors(raw.DType()),
			Shape:       shapeInt64,
			DataOffsets: [2]int64{currentOffset, currentOffset + size},
		}
		currentOffset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if err := binary.Write(file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := file.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, name := range tensorNames {
		if _, err := file.Write(stateDict[name].Data()); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

// dtypeToSafeTensors converts a DataType to a SafeTensors dtype string.
func dtypeToSafeTensors(dt tensor.DataType) string {
	switch dt {
	case tensor.Float64:
		return "F64"
	case tensor.Int32:
		return "I32"
	case tensor.Int64:
		return "I64"
	case tensor.Uint8:
		return "U8"
	case tensor.Bool:
		return "BOOL"
	default:
		return "F32"
	}
}
