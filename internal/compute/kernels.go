package compute

// WGSL sources for the built-in kernel set, one kernel per matrix operation.
// String constants instead of embed, compiled by the Registry per device.

// workgroupSize is the thread count per workgroup for 1D elementwise kernels.
// Matrix kernels use 16x16 2D workgroups.
const workgroupSize = 256

// Kernel names, as registered by Kernels() and looked up by the WebGPU engine.
const (
	kernelMatMul           = "matmul"
	kernelMatMulTransRight = "matmul_transposed_right"
	kernelMatMulTransLeft  = "matmul_transposed_left"
	kernelAdd              = "add"
	kernelSub              = "sub"
	kernelMul              = "mul"
	kernelScale            = "scale"
	kernelActivation       = "activation"
	kernelActivationDeriv  = "activation_derivative"
	kernelSumColumns       = "sum_columns"
	kernelBroadcastAdd     = "broadcast_add"
	kernelAddScaled        = "add_scaled"
	kernelCrossEntropyGrad = "cross_entropy_gradient"
)

// Kernels returns the built-in kernel source set keyed by kernel name. The
// returned map is a fresh copy; callers may extend or replace entries before
// handing it to NewRegistry.
func Kernels() map[string]string {
	return map[string]string{
		kernelMatMul:           matmulKernel,
		kernelMatMulTransRight: matmulTransRightKernel,
		kernelMatMulTransLeft:  matmulTransLeftKernel,
		kernelAdd:              addKernel,
		kernelSub:              subKernel,
		kernelMul:              mulKernel,
		kernelScale:            scaleKernel,
		kernelActivation:       activationKernel,
		kernelActivationDeriv:  activationDerivKernel,
		kernelSumColumns:       sumColumnsKernel,
		kernelBroadcastAdd:     broadcastAddKernel,
		kernelAddScaled:        addScaledKernel,
		kernelCrossEntropyGrad: crossEntropyGradKernel,
	}
}

// matmulKernel computes C = A * B. A is [M, K], B is [K, N], C is [M, N].
const matmulKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    M: u32,
    K: u32,
    N: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;

    if (row >= params.M || col >= params.N) {
        return;
    }

    var sum: f32 = 0.0;
    for (var k: u32 = 0u; k < params.K; k = k + 1u) {
        sum = sum + a[row * params.K + k] * b[k * params.N + col];
    }
    result[row * params.N + col] = sum;
}
`

// matmulTransRightKernel computes C = A * B^T without materializing B^T.
// A is [M, K], B is stored [N, K], C is [M, N].
const matmulTransRightKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    M: u32,
    K: u32,
    N: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;

    if (row >= params.M || col >= params.N) {
        return;
    }

    var sum: f32 = 0.0;
    for (var k: u32 = 0u; k < params.K; k = k + 1u) {
        sum = sum + a[row * params.K + k] * b[col * params.K + k];
    }
    result[row * params.N + col] = sum;
}
`

// matmulTransLeftKernel computes C = A^T * B without materializing A^T.
// A is stored [K, M], B is [K, N], C is [M, N].
const matmulTransLeftKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    M: u32,
    K: u32,
    N: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let row = global_id.y;
    let col = global_id.x;

    if (row >= params.M || col >= params.N) {
        return;
    }

    var sum: f32 = 0.0;
    for (var k: u32 = 0u; k < params.K; k = k + 1u) {
        sum = sum + a[k * params.M + row] * b[k * params.N + col];
    }
    result[row * params.N + col] = sum;
}
`

// addKernel computes result = a + b elementwise.
const addKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        result[idx] = a[idx] + b[idx];
    }
}
`

// subKernel computes result = a - b elementwise.
const subKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        result[idx] = a[idx] - b[idx];
    }
}
`

// mulKernel computes the Hadamard product result = a * b elementwise.
const mulKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        result[idx] = a[idx] * b[idx];
    }
}
`

// scaleKernel computes result = a * k for a scalar k.
const scaleKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    k: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        result[idx] = a[idx] * params.k;
    }
}
`

// activationKernel applies the selected activation to pre-activation values.
// fn: 0 identity, 1 sigmoid, 2 relu, 3 tanh (compute.Activation values).
const activationKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    fn_id: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.size) {
        return;
    }
    let x = a[idx];
    if (params.fn_id == 1u) {
        result[idx] = 1.0 / (1.0 + exp(-x));
    } else if (params.fn_id == 2u) {
        result[idx] = max(x, 0.0);
    } else if (params.fn_id == 3u) {
        result[idx] = tanh(x);
    } else {
        result[idx] = x;
    }
}
`

// activationDerivKernel evaluates the activation derivative at the
// pre-activation values in a. Same fn selector as activationKernel.
const activationDerivKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    fn_id: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.size) {
        return;
    }
    let x = a[idx];
    if (params.fn_id == 1u) {
        let s = 1.0 / (1.0 + exp(-x));
        result[idx] = s * (1.0 - s);
    } else if (params.fn_id == 2u) {
        result[idx] = select(0.0, 1.0, x > 0.0);
    } else if (params.fn_id == 3u) {
        let t = tanh(x);
        result[idx] = 1.0 - t * t;
    } else {
        result[idx] = 1.0;
    }
}
`

// sumColumnsKernel reduces a [rows, cols] matrix to a [1, cols] row of
// per-column sums. One thread per column.
const sumColumnsKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    rows: u32,
    cols: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let col = global_id.x;
    if (col >= params.cols) {
        return;
    }
    var sum: f32 = 0.0;
    for (var r: u32 = 0u; r < params.rows; r = r + 1u) {
        sum = sum + a[r * params.cols + col];
    }
    result[col] = sum;
}
`

// broadcastAddKernel adds a [1, cols] row vector to every row of a
// [rows, cols] matrix (bias addition).
const broadcastAddKernel = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> row: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    cols: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        result[idx] = a[idx] + row[idx % params.cols];
    }
}
`

// addScaledKernel mutates dst in place: dst[i] += k * b[i]. The optimizer's
// update rule with k = -learningRate.
const addScaledKernel = `
@group(0) @binding(0) var<storage, read_write> dst: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;

struct Params {
    size: u32,
    k: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        dst[idx] = dst[idx] + params.k * b[idx];
    }
}
`

// crossEntropyGradKernel computes the elementwise binary cross-entropy
// gradient (p - t) / max(p * (1 - p), eps) against probability outputs.
const crossEntropyGradKernel = `
@group(0) @binding(0) var<storage, read> pred: array<f32>;
@group(0) @binding(1) var<storage, read> target_vals: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx < params.size) {
        let p = pred[idx];
        let denom = max(p * (1.0 - p), 1e-7);
        result[idx] = (p - target_vals[idx]) / denom;
    }
}
`
