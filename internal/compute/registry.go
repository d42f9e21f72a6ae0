package compute

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Registry owns the compiled kernel pipelines for a set of devices.
//
// Lifecycle is explicit: construct with NewRegistry, call Initialize exactly
// once before any kernel launch, Release at the end. Initialization is the
// single write; afterwards lookups are read-only and safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]string
	programs map[string]map[string]*wgpu.ComputePipeline // device label -> kernel name
	ready    bool
}

// NewRegistry creates an uninitialized registry over the given kernel
// sources, normally Kernels().
func NewRegistry(sources map[string]string) *Registry {
	return &Registry{sources: sources}
}

// Initialize compiles every kernel source for every device. It is
// idempotent: calling it on an initialized registry is a no-op.
//
// On any compile failure it returns a *BuildError whose Logs map carries the
// compiler diagnostic per failing device, releases everything compiled so
// far, and leaves the registry uninitialized.
func (r *Registry) Initialize(devices []*Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return nil
	}
	if len(devices) == 0 {
		return ErrNoDevice
	}

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	programs := make(map[string]map[string]*wgpu.ComputePipeline, len(devices))
	logs := make(map[string]string)
	seen := make(map[string]int, len(devices))
	for _, dev := range devices {
		label := dev.label
		seen[label]++
		if n := seen[label]; n > 1 {
			label = fmt.Sprintf("%s#%d", label, n)
		}

		compiled, diag := compileKernels(dev, names, r.sources)
		if diag != "" {
			logs[label] = diag
			continue
		}
		programs[label] = compiled
	}

	if len(logs) > 0 {
		for _, perDevice := range programs {
			releasePipelines(perDevice)
		}
		return &BuildError{Logs: logs}
	}

	r.programs = programs
	r.ready = true
	return nil
}

// compileKernels builds each named kernel for one device. On the first
// failure it releases what it built and returns the compiler diagnostic.
func compileKernels(dev *Device, names []string, sources map[string]string) (map[string]*wgpu.ComputePipeline, string) {
	compiled := make(map[string]*wgpu.ComputePipeline, len(names))
	for _, name := range names {
		module, err := dev.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label:          name,
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: sources[name]},
		})
		if err != nil {
			releasePipelines(compiled)
			return nil, "kernel " + name + ": " + err.Error()
		}

		pipeline, err := dev.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label: name,
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     module,
				EntryPoint: "main",
			},
		})
		module.Release()
		if err != nil {
			releasePipelines(compiled)
			return nil, "kernel " + name + ": " + err.Error()
		}
		compiled[name] = pipeline
	}
	return compiled, ""
}

func releasePipelines(pipelines map[string]*wgpu.ComputePipeline) {
	for _, p := range pipelines {
		p.Release()
	}
}

// Initialized reports whether Initialize has succeeded.
func (r *Registry) Initialized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Kernel returns the compiled pipeline for name on dev. It fails with
// ErrNotInitialized before successful initialization (or for a device the
// registry was not initialized with), and with *KernelNotFoundError for an
// unregistered kernel name.
func (r *Registry) Kernel(dev *Device, name string) (*wgpu.ComputePipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.ready {
		return nil, ErrNotInitialized
	}
	perDevice, ok := r.programs[dev.label]
	if !ok {
		return nil, ErrNotInitialized
	}
	pipeline, ok := perDevice[name]
	if !ok {
		return nil, &KernelNotFoundError{Name: name}
	}
	return pipeline, nil
}

// Names returns the sorted kernel names the registry was constructed with.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Release frees every compiled pipeline and returns the registry to the
// uninitialized state.
func (r *Registry) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, perDevice := range r.programs {
		releasePipelines(perDevice)
	}
	r.programs = nil
	r.ready = false
}
