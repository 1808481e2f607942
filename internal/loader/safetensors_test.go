package loader

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/overscale-ml/overscale/internal/tensor"
)

// writeRawSafeTensors handcrafts a safetensors file with arbitrary dtypes,
// for cases WriteSafeTensors cannot produce (F16/BF16 payloads).
func writeRawSafeTensors(t *testing.T, path string, entries map[string]SafeTensorInfo, payload []byte) {
	t.Helper()

	header := map[string]interface{}{}
	for name, info := range entries {
		header[name] = info
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()

	if err := binary.Write(file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		t.Fatalf("write header size: %v", err)
	}
	if _, err := file.Write(headerJSON); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := file.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func TestSafeTensors_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")

	weight, _ := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	bias, _ := tensor.FromFloat32([]float32{0.5, -0.5}, tensor.Shape{2})

	stateDict := map[string]*tensor.RawTensor{
		"conv_first.weight": weight,
		"conv_first.bias":   bias,
	}
	meta := map[string]string{"format": "pt"}
	if err := WriteSafeTensors(path, stateDict, meta); err != nil {
		t.Fatalf("WriteSafeTensors: %v", err)
	}

	reader, err := NewSafeTensorsReader(path)
	if err != nil {
		t.Fatalf("NewSafeTensorsReader: %v", err)
	}
	defer reader.Close()

	if got := reader.Metadata()["format"]; got != "pt" {
		t.Errorf("Metadata: expected pt, got %q", got)
	}
	if len(reader.TensorNames()) != 2 {
		t.Errorf("Expected 2 tensors, got %d", len(reader.TensorNames()))
	}

	loaded, err := reader.LoadTensor("conv_first.weight")
	if err != nil {
		t.Fatalf("LoadTensor: %v", err)
	}
	if !loaded.Shape().Equal(tensor.Shape{2, 3}) {
		t.Errorf("Expected shape [2 3], got %v", loaded.Shape())
	}
	loadedData := loaded.AsFloat32()
	for i, exp := range []float32{1, 2, 3, 4, 5, 6} {
		if loadedData[i] != exp {
			t.Errorf("Data[%d]: expected %.1f, got %.1f", i, exp, loadedData[i])
		}
	}
}

func TestSafeTensors_WidensF16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f16.safetensors")

	// 1.0 and -2.0 in IEEE half precision
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:], 0x3c00)
	binary.LittleEndian.PutUint16(payload[2:], 0xc000)

	writeRawSafeTensors(t, path, map[string]SafeTensorInfo{
		"w": {DType: SafeTensorsF16, Shape: []int{2}, DataOffsets: [2]int64{0, 4}},
	}, payload)

	reader, err := NewSafeTensorsReader(path)
	if err != nil {
		t.Fatalf("NewSafeTensorsReader: %v", err)
	}
	defer reader.Close()

	loaded, err := reader.LoadTensor("w")
	if err != nil {
		t.Fatalf("LoadTensor: %v", err)
	}
	if loaded.DType() != tensor.Float32 {
		t.Fatalf("Expected Float32 after widening, got %v", loaded.DType())
	}
	data := loaded.AsFloat32()
	if data[0] != 1.0 || data[1] != -2.0 {
		t.Errorf("Expected [1 -2], got %v", data)
	}
}

func TestSafeTensors_WidensBF16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bf16.safetensors")

	// 3.0 in bfloat16 is the top 16 bits of its float32 encoding
	bits := math.Float32bits(3.0)
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uint16(bits>>16))

	writeRawSafeTensors(t, path, map[string]SafeTensorInfo{
		"w": {DType: SafeTensorsBF16, Shape: []int{1}, DataOffsets: [2]int64{0, 2}},
	}, payload)

	reader, err := NewSafeTensorsReader(path)
	if err != nil {
		t.Fatalf("NewSafeTensorsReader: %v", err)
	}
	defer reader.Close()

	loaded, err := reader.LoadTensor("w")
	if err != nil {
		t.Fatalf("LoadTensor: %v", err)
	}
	if got := loaded.AsFloat32()[0]; got != 3.0 {
		t.Errorf("Expected 3.0, got %g", got)
	}
}

func TestSafeTensors_NarrowsF64(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f64.safetensors")

	payload := make([]byte, 16)
	binary.LittleEndian.PutUint64(payload[0:], math.Float64bits(1.5))
	binary.LittleEndian.PutUint64(payload[8:], math.Float64bits(-0.25))

	writeRawSafeTensors(t, path, map[string]SafeTensorInfo{
		"w": {DType: SafeTensorsF64, Shape: []int{2}, DataOffsets: [2]int64{0, 16}},
	}, payload)

	reader, err := NewSafeTensorsReader(path)
	if err != nil {
		t.Fatalf("NewSafeTensorsReader: %v", err)
	}
	defer reader.Close()

	loaded, err := reader.LoadTensor("w")
	if err != nil {
		t.Fatalf("LoadTensor: %v", err)
	}
	if loaded.DType() != tensor.Float32 {
		t.Fatalf("Expected Float32 after narrowing, got %v", loaded.DType())
	}
	data := loaded.AsFloat32()
	if data[0] != 1.5 || data[1] != -0.25 {
		t.Errorf("Expected [1.5 -0.25], got %v", data)
	}
}

func TestLoadCheckpoint_RejectsIntegerTensor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "int.safetensors")

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, 7)

	writeRawSafeTensors(t, path, map[string]SafeTensorInfo{
		"params.step": {DType: SafeTensorsI64, Shape: []int{1}, DataOffsets: [2]int64{0, 8}},
	}, payload)

	_, err := LoadCheckpoint(path)
	if err == nil {
		t.Fatal("Expected error for an I64 tensor")
	}
	if !strings.Contains(err.Error(), "params.step") {
		t.Errorf("Error should name the tensor, got: %v", err)
	}
}

func TestSafeTensors_MissingTensor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.safetensors")
	w, _ := tensor.FromFloat32([]float32{1}, tensor.Shape{1})
	if err := WriteSafeTensors(path, map[string]*tensor.RawTensor{"w": w}, nil); err != nil {
		t.Fatalf("WriteSafeTensors: %v", err)
	}

	reader, err := NewSafeTensorsReader(path)
	if err != nil {
		t.Fatalf("NewSafeTensorsReader: %v", err)
	}
	defer reader.Close()

	if _, err := reader.LoadTensor("missing"); err == nil {
		t.Error("Expected error for missing tensor")
	}
}
