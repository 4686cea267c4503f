package gpu

// prelude is shared by every shader. A window of up to six dims arrives
// right-aligned: x walks dim 5, y dim 4 and z the four outer dims.
const prelude = `
struct Params {
  origin: array<vec4<u32>, 2>,
  extent: array<vec4<u32>, 2>,
  out_stride: array<vec4<u32>, 2>,
  a_stride: array<vec4<u32>, 2>,
  b_stride: array<vec4<u32>, 2>,
  base: vec4<u32>,
  extra: vec4<u32>,
  scalars: vec4<f32>,
};

@group(0) @binding(0) var<uniform> p: Params;

var<private> coord: array<u32, 6>;

fn locate(id: vec3<u32>) -> bool {
  let e0 = p.extent[0];
  let e1 = p.extent[1];
  if (id.x >= e1.y || id.y >= e1.x) {
    return false;
  }
  var z = id.z;
  let c3 = z % e0.w;
  z = z / e0.w;
  let c2 = z % e0.z;
  z = z / e0.z;
  let c1 = z % e0.y;
  z = z / e0.y;
  if (z >= e0.x) {
    return false;
  }
  let o0 = p.origin[0];
  let o1 = p.origin[1];
  coord[0] = o0.x + z;
  coord[1] = o0.y + c1;
  coord[2] = o0.z + c2;
  coord[3] = o0.w + c3;
  coord[4] = o1.x + id.y;
  coord[5] = o1.y + id.x;
  return true;
}

fn dot6(lo: vec4<u32>, hi: vec4<u32>) -> u32 {
  return lo.x * coord[0] + lo.y * coord[1] + lo.z * coord[2] + lo.w * coord[3] + hi.x * coord[4] + hi.y * coord[5];
}

fn out_offset() -> u32 {
  return p.base.x + dot6(p.out_stride[0], p.out_stride[1]);
}

fn a_offset() -> u32 {
  return p.base.y + dot6(p.a_stride[0], p.a_stride[1]);
}

fn b_offset() -> u32 {
  return p.base.z + dot6(p.b_stride[0], p.b_stride[1]);
}

fn clamp_out(v: f32) -> f32 {
  return clamp(v, p.scalars.z, p.scalars.w);
}
`

// Selector values in base.w equal kernel.ActivationFunc.
const activationShader = prelude + `
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;
@group(0) @binding(2) var<storage, read> src: array<f32>;

fn activate(x: f32) -> f32 {
  let a = p.scalars.x;
  let b = p.scalars.y;
  switch p.base.w {
    case 1u: { return max(x, 0.0); }
    case 2u: { return min(max(x, 0.0), a); }
    case 3u: { return min(max(x, b), a); }
    case 4u: { return select(a * x, x, x > 0.0); }
    case 5u: { return 1.0 / (1.0 + exp(-x)); }
    case 6u: { return a * tanh(b * x); }
    default: { return x; }
  }
}

@compute @workgroup_size(64, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
  if (!locate(id)) {
    return;
  }
  dst[out_offset()] = clamp_out(activate(src[a_offset()]));
}
`

// Selector values in base.w equal kernel.ElementwiseOp.
const elementwiseShader = prelude + `
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;
@group(0) @binding(2) var<storage, read> lhs: array<f32>;
@group(0) @binding(3) var<storage, read> rhs: array<f32>;

fn combine(x: f32, y: f32) -> f32 {
  switch p.base.w {
    case 1u: { return x - y; }
    case 2u: { return x * y; }
    case 3u: { return max(x, y); }
    case 4u: { return min(x, y); }
    case 5u: { return select(x * y, x, x > 0.0); }
    case 6u: {
      let d = x - y;
      return d * d;
    }
    default: { return x + y; }
  }
}

@compute @workgroup_size(64, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
  if (!locate(id)) {
    return;
  }
  dst[out_offset()] = clamp_out(combine(lhs[a_offset()], rhs[b_offset()]));
}
`

// gemmShader computes one output per invocation. extra.x is K; the row and
// column strides of A and B sit in the innermost two stride slots.
const gemmShader = prelude + `
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;
@group(0) @binding(2) var<storage, read> lhs: array<f32>;
@group(0) @binding(3) var<storage, read> rhs: array<f32>;

@compute @workgroup_size(64, 1, 1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
  if (!locate(id)) {
    return;
  }
  let i = coord[4];
  let j = coord[5];
  let sa = p.a_stride[1];
  let sb = p.b_stride[1];
  var acc = 0.0;
  for (var k = 0u; k < p.extra.x; k++) {
    acc += lhs[p.base.y + i * sa.x + k * sa.y] * rhs[p.base.z + k * sb.x + j * sb.y];
  }
  dst[out_offset()] = clamp_out(p.scalars.x * acc);
}
`
