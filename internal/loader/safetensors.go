// Package loader reads super-resolution checkpoints in safetensors format
// and resolves training-time state-dict layouts to network parameter paths.
package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// SafeTensorsDType represents supported SafeTensors data types.
type SafeTensorsDType string

// Supported SafeTensors dtypes.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsI32  SafeTensorsDType = "I32"
	SafeTensorsI64  SafeTensorsDType = "I64"
	SafeTensorsU8   SafeTensorsDType = "U8"
	SafeTensorsBool SafeTensorsDType = "BOOL"
)

// SafeTensorInfo describes a tensor in SafeTensors format.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end]
}

// SafeTensorsHeader is the JSON header in SafeTensors format.
type SafeTensorsHeader struct {
	Metadata map[string]string         `json:"__metadata__"`
	Tensors  map[string]SafeTensorInfo `json:"-"`
}

// UnmarshalJSON separates the __metadata__ entry from the tensor entries.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]SafeTensorInfo)
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

// SafeTensorsReader reads SafeTensors format files.
type SafeTensorsReader struct {
	file       *os.File
	header     SafeTensorsHeader
	dataOffset int64
}

// NewSafeTensorsReader opens a safetensors file and parses its header.
func NewSafeTensorsReader(path string) (*SafeTensorsReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}

	// A checkpoint header is a few KB; reject anything absurd.
	if headerSize > 100*1024*1024 {
		_ = file.Close()
		return nil, fmt.Errorf("invalid header size: %d (too large)", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header SafeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	return &SafeTensorsReader{
		file:       file,
		header:     header,
		dataOffset: int64(8 + headerSize),
	}, nil
}

// Close closes the underlying file.
func (r *SafeTensorsReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Metadata returns the metadata map from the header.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns the names of all tensors in the file.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	return names
}

// TensorInfo returns the header entry for a tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (*SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", name)
	}
	return &info, nil
}

// ReadTensorData reads the raw bytes of a tensor.
func (r *SafeTensorsReader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	start := r.dataOffset + info.DataOffsets[0]
	size := info.DataOffsets[1] - info.DataOffsets[0]
	if size < 0 {
		return nil, fmt.Errorf("invalid data offsets for tensor %s: [%d, %d]",
			name, info.DataOffsets[0], info.DataOffsets[1])
	}

	if _, err := r.file.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to tensor data: %w", err)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r.file, data); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	return data, nil
}

// LoadTensor loads a tensor, widening F16, BF16 and F64 weights to float32
// so the rest of the pipeline only deals with F32.
func (r *SafeTensorsReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape for tensor %s: %w", name, err)
	}

	data, err := r.ReadTensorData(name)
	if err != nil {
		return nil, err
	}

	switch info.DType {
	case SafeTensorsF16, SafeTensorsBF16:
		return widenHalfTensor(name, info.DType, shape, data)
	case SafeTensorsF64:
		return narrowDoubleTensor(name, shape, data)
	}

	dtype, err := safeTensorsDTypeToDataType(info.DType)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}

	raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor: %w", err)
	}
	if len(data) != len(raw.Data()) {
		return nil, fmt.Errorf("tensor %s: expected %d bytes, got %d", name, len(raw.Data()), len(data))
	}
	copy(raw.Data(), data)
	return raw, nil
}

// widenHalfTensor converts F16/BF16 bytes to a float32 tensor.
func widenHalfTensor(name string, dtype SafeTensorsDType, shape tensor.Shape, data []byte) (*tensor.RawTensor, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("tensor %s: odd byte count %d for %s", name, len(data), dtype)
	}
	n := len(data) / 2
	if n != shape.NumElements() {
		return nil, fmt.Errorf("tensor %s: expected %d elements, got %d", name, shape.NumElements(), n)
	}

	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor: %w", err)
	}
	out := raw.AsFloat32()
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint16(data[i*2:])
		if dtype == SafeTensorsF16 {
			out[i] = tensor.Float16ToFloat32(bits)
		} else {
			out[i] = tensor.BFloat16ToFloat32(bits)
		}
	}
	return raw, nil
}

// narrowDoubleTensor converts F64 bytes to a float32 tensor.
func narrowDoubleTensor(name string, shape tensor.Shape, data []byte) (*tensor.RawTensor, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("tensor %s: byte count %d not a multiple of 8 for F64", name, len(data))
	}
	n := len(data) / 8
	if n != shape.NumElements() {
		return nil, fmt.Errorf("tensor %s: expected %d elements, got %d", name, shape.NumElements(), n)
	}

	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor: %w", err)
	}
	out := raw.AsFloat32()
	for i := 0; i < n; i++ {
		out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:])))
	}
	return raw, nil
}

// safeTensorsDTypeToDataType converts a SafeTensors dtype to a DataType.
func safeTensorsDTypeToDataType(dtype SafeTensorsDType) (tensor.DataType, error) {
	switch dtype {
	case SafeTensorsF32:
		return tensor.Float32, nil
	case SafeTensorsF64:
		return tensor.Float64, nil
	case SafeTensorsI32:
		return tensor.Int32, nil
	case SafeTensorsI64:
		return tensor.Int64, nil
	case SafeTensorsU8:
		return tensor.Uint8, nil
	case SafeTensorsBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}
