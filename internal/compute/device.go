package compute

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
)

// Context owns the WebGPU instance used for adapter discovery. Callers create
// one per process, acquire devices from it, and release it after releasing
// every device.
type Context struct {
	instance *wgpu.Instance
}

// NewContext creates the WebGPU instance. Fails when the native runtime is
// unavailable on this system.
func NewContext() (*Context, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("compute: failed to create WebGPU instance")
	}
	return &Context{instance: inst}, nil
}

// Release frees the instance.
func (c *Context) Release() {
	if c.instance != nil {
		c.instance.Release()
		c.instance = nil
	}
}

// Device is one opened adapter: its wgpu device and the device's single
// in-order command queue. All work submitted through the queue executes in
// submission order.
type Device struct {
	adapter *wgpu.Adapter
	device  *wgpu.Device
	queue   *wgpu.Queue
	label   string
	kind    wgpu.AdapterType
}

// Label identifies the device ("vendor/name"); build logs are keyed by it.
func (d *Device) Label() string { return d.label }

// IsGPU reports whether the underlying adapter is a discrete or integrated
// GPU rather than a CPU fallback adapter.
func (d *Device) IsGPU() bool {
	return d.kind == wgpu.AdapterTypeDiscreteGPU || d.kind == wgpu.AdapterTypeIntegratedGPU
}

// Release frees the device and adapter.
func (d *Device) Release() {
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	d.queue = nil
}

func openAdapter(a *wgpu.Adapter) (*Device, error) {
	info := a.GetInfo()
	label := fmt.Sprintf("%s/%s", info.VendorName, info.Name)

	dev, err := a.RequestDevice(nil)
	if err != nil {
		return nil, fmt.Errorf("compute: open adapter %s: %w", label, err)
	}
	return &Device{
		adapter: a,
		device:  dev,
		queue:   dev.GetQueue(),
		label:   label,
		kind:    info.AdapterType,
	}, nil
}

// Devices opens every enumerable adapter. Adapters that fail to open are
// skipped. The caller releases each returned device.
func (c *Context) Devices() ([]*Device, error) {
	adapters := c.instance.EnumerateAdapters(nil)
	devices := make([]*Device, 0, len(adapters))
	for _, a := range adapters {
		d, err := openAdapter(a)
		if err != nil {
			continue
		}
		devices = append(devices, d)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevice
	}
	return devices, nil
}

// Acquire opens the preferred adapter: a discrete GPU if one is present,
// else an integrated GPU, else whatever remains (typically a CPU adapter).
// Fails with ErrNoDevice when nothing is selectable.
func (c *Context) Acquire() (*Device, error) {
	adapters := c.instance.EnumerateAdapters(nil)

	byPreference := [][]wgpu.AdapterType{
		{wgpu.AdapterTypeDiscreteGPU},
		{wgpu.AdapterTypeIntegratedGPU},
		{wgpu.AdapterTypeCPU, wgpu.AdapterTypeUnknown},
	}
	for _, kinds := range byPreference {
		for _, a := range adapters {
			if !containsType(kinds, a.GetInfo().AdapterType) {
				continue
			}
			d, err := openAdapter(a)
			if err != nil {
				continue
			}
			return d, nil
		}
	}

	// Enumeration can come back empty where a default adapter still exists.
	a, err := c.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil || a == nil {
		return nil, ErrNoDevice
	}
	return openAdapter(a)
}

func containsType(kinds []wgpu.AdapterType, k wgpu.AdapterType) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// AdapterInfo describes one enumerable adapter for reporting.
type AdapterInfo struct {
	Label string
	Type  string
}

// ListAdapters enumerates adapters without opening devices on them.
func (c *Context) ListAdapters() []AdapterInfo {
	adapters := c.instance.EnumerateAdapters(nil)
	infos := make([]AdapterInfo, 0, len(adapters))
	for _, a := range adapters {
		info := a.GetInfo()
		infos = append(infos, AdapterInfo{
			Label: fmt.Sprintf("%s/%s", info.VendorName, info.Name),
			Type:  adapterTypeName(info.AdapterType),
		})
	}
	return infos
}

func adapterTypeName(t wgpu.AdapterType) string {
	switch t {
	case wgpu.AdapterTypeDiscreteGPU:
		return "discrete-gpu"
	case wgpu.AdapterTypeIntegratedGPU:
		return "integrated-gpu"
	case wgpu.AdapterTypeCPU:
		return "cpu"
	default:
		return "unknown"
	}
}
