package compute

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// downloadTimeout bounds the poll loop of a blocking readback.
const downloadTimeout = 2 * time.Second

type gpuBuffer struct {
	buf *wgpu.Buffer
	n   int
}

func (b *gpuBuffer) Len() int { return b.n }

func (b *gpuBuffer) Release() {
	if b.buf != nil {
		b.buf.Destroy()
		b.buf = nil
	}
}

// GPU is the WebGPU engine. It is bound to one device and that device's
// in-order queue; every kernel method encodes a single compute pass and
// submits it, so launches execute in call order.
type GPU struct {
	dev      *Device
	registry *Registry
	ownsReg  bool
}

// NewGPU creates an engine over dev with its own registry holding the
// built-in kernel set. The caller retains ownership of dev.
func NewGPU(dev *Device) *GPU {
	return &GPU{dev: dev, registry: NewRegistry(Kernels()), ownsReg: true}
}

// NewGPUWithRegistry creates an engine over dev using a caller-owned
// registry, which may be shared between engines and must have been (or be)
// initialized with dev among its devices.
func NewGPUWithRegistry(dev *Device, reg *Registry) *GPU {
	return &GPU{dev: dev, registry: reg}
}

// Name identifies the engine by its adapter.
func (g *GPU) Name() string { return "webgpu/" + g.dev.label }

// Device returns the device the engine is bound to.
func (g *GPU) Device() *Device { return g.dev }

// Registry exposes the kernel registry, e.g. to surface build logs.
func (g *GPU) Registry() *Registry { return g.registry }

// Initialize compiles the kernel set for the engine's device. Idempotent; a
// failure is a *BuildError and the engine stays uninitialized.
func (g *GPU) Initialize() error {
	return g.registry.Initialize([]*Device{g.dev})
}

// Initialized reports whether the kernel set is compiled.
func (g *GPU) Initialized() bool { return g.registry.Initialized() }

// Release frees the registry when the engine owns it. The device itself
// belongs to the caller.
func (g *GPU) Release() {
	if g.ownsReg {
		g.registry.Release()
	}
}

// NewBuffer allocates a zero-filled storage buffer of n elements.
func (g *GPU) NewBuffer(n int) (Buffer, error) {
	buf, err := g.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "matrix",
		Size:  uint64(n) * 4,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("compute: allocate %d elements: %w", n, err)
	}
	return &gpuBuffer{buf: buf, n: n}, nil
}

// Upload allocates a storage buffer initialized with data. The copy is
// complete when Upload returns.
func (g *GPU) Upload(data []float32) (Buffer, error) {
	buf, err := g.dev.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    "matrix",
		Contents: wgpu.ToBytes(data),
		Usage:    wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, &TransferError{Dir: "host-to-device", Cause: err}
	}
	return &gpuBuffer{buf: buf, n: len(data)}, nil
}

// Download copies the buffer into dst through a MapRead staging buffer,
// blocking until the copy completes.
func (g *GPU) Download(b Buffer, dst []float32) error {
	gb, err := g.gpuBuf(b, "src")
	if err != nil {
		return &TransferError{Dir: "device-to-host", Cause: err}
	}
	if len(dst) != gb.n {
		return &TransferError{
			Dir:   "device-to-host",
			Cause: fmt.Errorf("destination holds %d elements, buffer has %d", len(dst), gb.n),
		}
	}

	size := uint64(gb.n) * 4
	staging, err := g.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "staging",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return &TransferError{Dir: "device-to-host", Cause: err}
	}
	defer staging.Destroy()

	encoder, err := g.dev.device.CreateCommandEncoder(nil)
	if err != nil {
		return &TransferError{Dir: "device-to-host", Cause: err}
	}
	encoder.CopyBufferToBuffer(gb.buf, 0, staging, 0, size)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return &TransferError{Dir: "device-to-host", Cause: err}
	}
	g.dev.queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error
	err = staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return &TransferError{Dir: "device-to-host", Cause: err}
	}

	deadline := time.After(downloadTimeout)
poll:
	for {
		g.dev.device.Poll(false, nil)
		select {
		case <-done:
			break poll
		case <-deadline:
			return &TransferError{Dir: "device-to-host", Cause: fmt.Errorf("timed out after %v", downloadTimeout)}
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return &TransferError{Dir: "device-to-host", Cause: mapErr}
	}

	mapped := staging.GetMappedRange(0, uint(size))
	if mapped == nil {
		return &TransferError{Dir: "device-to-host", Cause: fmt.Errorf("failed to get mapped range")}
	}
	copy(dst, wgpu.FromBytes[float32](mapped))
	staging.Unmap()
	return nil
}

// MatMul computes out[m,n] = a[m,k] * b[k,n].
func (g *GPU) MatMul(a, b, out Buffer, m, k, n int) error {
	return g.dispatchMatrix(kernelMatMul, a, b, out, m, k, n)
}

// MatMulTransposedRight computes out[m,n] = a[m,k] * b^T with b stored (n,k).
func (g *GPU) MatMulTransposedRight(a, b, out Buffer, m, k, n int) error {
	return g.dispatchMatrix(kernelMatMulTransRight, a, b, out, m, k, n)
}

// MatMulTransposedLeft computes out[m,n] = a^T * b with a stored (k,m).
func (g *GPU) MatMulTransposedLeft(a, b, out Buffer, m, k, n int) error {
	return g.dispatchMatrix(kernelMatMulTransLeft, a, b, out, m, k, n)
}

func (g *GPU) dispatchMatrix(name string, a, b, out Buffer, m, k, n int) error {
	bufs, err := g.gpuBufs(a, b, out)
	if err != nil {
		return err
	}
	x := uint32(math.Ceil(float64(n) / 16.0))
	y := uint32(math.Ceil(float64(m) / 16.0))
	return g.dispatch(name, bufs, packParams(uint32(m), uint32(k), uint32(n)), x, y)
}

// Add computes out = a + b elementwise.
func (g *GPU) Add(a, b, out Buffer, n int) error {
	return g.dispatchBinary(kernelAdd, a, b, out, n)
}

// Sub computes out = a - b elementwise.
func (g *GPU) Sub(a, b, out Buffer, n int) error {
	return g.dispatchBinary(kernelSub, a, b, out, n)
}

// Mul computes the Hadamard product out = a * b.
func (g *GPU) Mul(a, b, out Buffer, n int) error {
	return g.dispatchBinary(kernelMul, a, b, out, n)
}

func (g *GPU) dispatchBinary(name string, a, b, out Buffer, n int) error {
	bufs, err := g.gpuBufs(a, b, out)
	if err != nil {
		return err
	}
	return g.dispatch(name, bufs, packParams(uint32(n)), groups1D(n), 1)
}

// Scale computes out = a * k.
func (g *GPU) Scale(a, out Buffer, n int, k float32) error {
	bufs, err := g.gpuBufs(a, out)
	if err != nil {
		return err
	}
	return g.dispatch(kernelScale, bufs, packParams(uint32(n), math.Float32bits(k)), groups1D(n), 1)
}

// Activation applies fn elementwise to the pre-activation values in a.
func (g *GPU) Activation(a, out Buffer, n int, fn Activation) error {
	bufs, err := g.gpuBufs(a, out)
	if err != nil {
		return err
	}
	return g.dispatch(kernelActivation, bufs, packParams(uint32(n), uint32(fn)), groups1D(n), 1)
}

// ActivationDerivative evaluates fn's derivative at the values in a.
func (g *GPU) ActivationDerivative(a, out Buffer, n int, fn Activation) error {
	bufs, err := g.gpuBufs(a, out)
	if err != nil {
		return err
	}
	return g.dispatch(kernelActivationDeriv, bufs, packParams(uint32(n), uint32(fn)), groups1D(n), 1)
}

// SumColumns reduces a (rows, cols) buffer to per-column sums.
func (g *GPU) SumColumns(a, out Buffer, rows, cols int) error {
	bufs, err := g.gpuBufs(a, out)
	if err != nil {
		return err
	}
	return g.dispatch(kernelSumColumns, bufs, packParams(uint32(rows), uint32(cols)), groups1D(cols), 1)
}

// BroadcastRowAdd adds a (1, cols) row to every row of a (rows, cols) buffer.
func (g *GPU) BroadcastRowAdd(a, row, out Buffer, rows, cols int) error {
	bufs, err := g.gpuBufs(a, row, out)
	if err != nil {
		return err
	}
	size := rows * cols
	return g.dispatch(kernelBroadcastAdd, bufs, packParams(uint32(size), uint32(cols)), groups1D(size), 1)
}

// AddScaled mutates dst in place: dst[i] += k * b[i].
func (g *GPU) AddScaled(dst, b Buffer, n int, k float32) error {
	bufs, err := g.gpuBufs(dst, b)
	if err != nil {
		return err
	}
	return g.dispatch(kernelAddScaled, bufs, packParams(uint32(n), math.Float32bits(k)), groups1D(n), 1)
}

// CrossEntropyGradient computes the elementwise binary cross-entropy seed.
func (g *GPU) CrossEntropyGradient(pred, target, out Buffer, n int) error {
	bufs, err := g.gpuBufs(pred, target, out)
	if err != nil {
		return err
	}
	return g.dispatch(kernelCrossEntropyGrad, bufs, packParams(uint32(n)), groups1D(n), 1)
}

// dispatch binds the storage buffers in binding order, appends the uniform
// params buffer as the last binding, and submits a single compute pass.
func (g *GPU) dispatch(name string, storage []*gpuBuffer, params []byte, x, y uint32) error {
	pipeline, err := g.registry.Kernel(g.dev, name)
	if err != nil {
		return err
	}

	paramsBuf, err := g.dev.device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    name + "_params",
		Contents: params,
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("compute: %s params: %w", name, err)
	}
	defer paramsBuf.Destroy()

	entries := make([]wgpu.BindGroupEntry, 0, len(storage)+1)
	for i, b := range storage {
		entries = append(entries, wgpu.BindGroupEntry{
			Binding: uint32(i),
			Buffer:  b.buf,
			Size:    b.buf.GetSize(),
		})
	}
	entries = append(entries, wgpu.BindGroupEntry{
		Binding: uint32(len(storage)),
		Buffer:  paramsBuf,
		Size:    paramsBuf.GetSize(),
	})

	bindGroup, err := g.dev.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   name,
		Layout:  pipeline.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("compute: %s bind group: %w", name, err)
	}
	defer bindGroup.Release()

	encoder, err := g.dev.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("compute: %s encoder: %w", name, err)
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(x, y, 1)
	pass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("compute: %s finish: %w", name, err)
	}
	g.dev.queue.Submit(cmd)
	return nil
}

func (g *GPU) gpuBuf(b Buffer, role string) (*gpuBuffer, error) {
	gb, ok := b.(*gpuBuffer)
	if !ok || gb.buf == nil {
		return nil, fmt.Errorf("compute: %s is not a live webgpu buffer", role)
	}
	return gb, nil
}

func (g *GPU) gpuBufs(bufs ...Buffer) ([]*gpuBuffer, error) {
	out := make([]*gpuBuffer, len(bufs))
	for i, b := range bufs {
		gb, ok := b.(*gpuBuffer)
		if !ok || gb.buf == nil {
			return nil, fmt.Errorf("compute: operand %d is not a live webgpu buffer", i)
		}
		out[i] = gb
	}
	return out, nil
}

// groups1D is the workgroup count covering n threads at workgroupSize each.
func groups1D(n int) uint32 {
	return uint32((n + workgroupSize - 1) / workgroupSize)
}

// packParams packs uniform words little-endian, padded to 16 bytes. Float
// params are passed as math.Float32bits.
func packParams(words ...uint32) []byte {
	size := (len(words)*4 + 15) &^ 15
	p := make([]byte, size)
	for i, w := range words {
		binary.LittleEndian.PutUint32(p[i*4:], w)
	}
	return p
}
