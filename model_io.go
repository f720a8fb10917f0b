package main

// ===========================================================================
// MODEL FILE FORMAT
// ===========================================================================
//
//   uint32 (little endian)  length of the JSON header
//   JSON                    Config
//   float64 (little endian) parameter data: Weights in order, then Biases
//
// Parameter shapes are not stored: they follow from the Config, so loading
// rebuilds the graph first and then fills its variables in the same order.
// ===========================================================================

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Save writes the model to a file.
func (m *UFCNN) Save(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := m.Encode(w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", filename, err)
	}
	return f.Close()
}

// Encode writes the header and parameters to w.
func (m *UFCNN) Encode(w io.Writer) error {
	configJSON, err := json.Marshal(m.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	headerLen := uint32(len(configJSON))
	if err := binary.Write(w, binary.LittleEndian, headerLen); err != nil {
		return fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := w.Write(configJSON); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	for _, n := range append(append([]*Node{}, m.Weights...), m.Biases...) {
		if err := binary.Write(w, binary.LittleEndian, n.value.data); err != nil {
			return fmt.Errorf("failed to write %s: %w", n.name, err)
		}
	}
	return nil
}

// maxHeaderLen bounds the JSON config header; real headers are ~150 bytes.
const maxHeaderLen = 64 << 10

// LoadUFCNN reads a model from a file.
func LoadUFCNN(filename string) (*UFCNN, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	return DecodeUFCNN(bufio.NewReader(f))
}

// DecodeUFCNN reads a model written by Encode.
func DecodeUFCNN(r io.Reader) (*UFCNN, error) {
	var headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}

	if headerLen > maxHeaderLen {
		return nil, fmt.Errorf("header length %d exceeds %d bytes", headerLen, maxHeaderLen)
	}

	configJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, configJSON); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configJSON, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	model, err := ConstructUFCNN(config)
	if err != nil {
		return nil, err
	}

	for _, n := range append(append([]*Node{}, model.Weights...), model.Biases...) {
		if err := binary.Read(r, binary.LittleEndian, n.value.data); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", n.name, err)
		}
	}
	return model, nil
}
