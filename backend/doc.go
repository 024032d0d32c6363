// Package backend defines the boundary between frameq and a graphics device.
//
// frameq only needs a handful of operations from the device: create a
// command recorder, submit it to a hardware queue, signal and query a
// per-queue completion counter, establish GPU-side dependencies between
// queues, and expose an upload heap for per-frame scratch data. Everything
// else (pipelines, descriptors, resource creation) stays with the caller.
//
// # Backend Registration
//
// Backends register a [Factory] from init functions and are selected at
// runtime by name:
//
//	import _ "github.com/gogpu/frameq/backend/soft"
//
//	dev, err := backend.Open(backend.NameSoft)
//
// Or let the registry pick the best one that opens:
//
//	dev, name, err := backend.Default()
//
// # Available Backends
//
//   - "native": github.com/gogpu/wgpu/hal devices (Vulkan, Metal, DX12, GLES,
//     or the no-op HAL when it is the only one linked in)
//   - "soft": simulated completion timeline, always available
package backend
