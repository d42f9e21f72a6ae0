package nn

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/JordanHanotiaux/P3/internal/compute"
)

// Checkpoint file layout, little-endian throughout:
//
//	magic "P3NN" | u32 version | u32 layer count
//	per layer: u32 in | u32 out | u32 activation | in*out weights | out biases
//	sha256 of everything above
const (
	checkpointMagic   = "P3NN"
	checkpointVersion = 1
)

// ErrChecksumMismatch reports a checkpoint whose payload does not match its
// trailing digest.
var ErrChecksumMismatch = errors.New("nn: checkpoint checksum mismatch")

// SaveNetwork writes the network's parameters to path. Weights are
// downloaded from the device, so the write blocks until in-flight kernels
// finish.
func SaveNetwork(path string, net *Network) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	digest := sha256.New()
	w := io.MultiWriter(bw, digest)

	if _, err := w.Write([]byte(checkpointMagic)); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := writeU32(w, checkpointVersion, uint32(len(net.layers))); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	for i, layer := range net.layers {
		if err := writeU32(w, uint32(layer.in), uint32(layer.out), uint32(layer.fn)); err != nil {
			return fmt.Errorf("failed to write layer %d: %w", i, err)
		}
		weight, err := layer.weight.ToHost()
		if err != nil {
			return fmt.Errorf("failed to download layer %d weights: %w", i, err)
		}
		bias, err := layer.bias.ToHost()
		if err != nil {
			return fmt.Errorf("failed to download layer %d bias: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, weight); err != nil {
			return fmt.Errorf("failed to write layer %d: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, bias); err != nil {
			return fmt.Errorf("failed to write layer %d: %w", i, err)
		}
	}

	if _, err := bw.Write(digest.Sum(nil)); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return f.Close()
}

// LoadNetwork reads a checkpoint written by SaveNetwork and rebuilds the
// network on eng, uploading each layer's parameters.
func LoadNetwork(path string, eng compute.Engine) (*Network, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if len(raw) < len(checkpointMagic)+8+sha256.Size {
		return nil, fmt.Errorf("nn: checkpoint %s is truncated", path)
	}

	payload, trailer := raw[:len(raw)-sha256.Size], raw[len(raw)-sha256.Size:]
	sum := sha256.Sum256(payload)
	if !bytes.Equal(sum[:], trailer) {
		return nil, ErrChecksumMismatch
	}

	r := bytes.NewReader(payload)
	magic := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != checkpointMagic {
		return nil, fmt.Errorf("nn: %s is not a network checkpoint", path)
	}
	var version, count uint32
	if err := readU32(r, &version, &count); err != nil {
		return nil, fmt.Errorf("failed to read checkpoint header: %w", err)
	}
	if version != checkpointVersion {
		return nil, fmt.Errorf("nn: unsupported checkpoint version %d", version)
	}

	layers := make([]*Layer, 0, count)
	release := func() {
		for _, l := range layers {
			l.Release()
		}
	}
	for i := uint32(0); i < count; i++ {
		var in, out, fn uint32
		if err := readU32(r, &in, &out, &fn); err != nil {
			release()
			return nil, fmt.Errorf("failed to read layer %d header: %w", i, err)
		}
		if in == 0 || out == 0 || fn > uint32(compute.Tanh) {
			release()
			return nil, fmt.Errorf("nn: layer %d header is invalid", i)
		}

		weight := make([]float32, in*out)
		bias := make([]float32, out)
		if err := binary.Read(r, binary.LittleEndian, weight); err != nil {
			release()
			return nil, fmt.Errorf("failed to read layer %d weights: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, bias); err != nil {
			release()
			return nil, fmt.Errorf("failed to read layer %d bias: %w", i, err)
		}

		layer, err := newLayerWithParams(eng, int(in), int(out), compute.Activation(fn), weight, bias)
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to rebuild layer %d: %w", i, err)
		}
		layers = append(layers, layer)
	}

	net, err := NewNetwork(layers...)
	if err != nil {
		release()
		return nil, err
	}
	return net, nil
}

func writeU32(w io.Writer, vs ...uint32) error {
	for _, v := range vs {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readU32(r io.Reader, vs ...*uint32) error {
	for _, v := range vs {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}
