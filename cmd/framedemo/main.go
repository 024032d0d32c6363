// Command framedemo drives frames through frameq and prints the resulting
// queue statistics.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/frameq"
	"github.com/gogpu/frameq/backend"
	"github.com/gogpu/frameq/backend/native"
	"github.com/gogpu/frameq/backend/soft"
)

func main() {
	var (
		backendName = flag.String("backend", "", "backend to use (soft, native); empty picks the best available")
		frames      = flag.Int("frames", 120, "number of frames to run")
		buffered    = flag.Int("buffered", frameq.DefaultBufferedFrames, "frames in flight")
		latency     = flag.Duration("latency", soft.DefaultLatency, "simulated GPU latency for the soft backend")
		uploads     = flag.Int("uploads", 4, "copy submissions per frame")
		verbose     = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		frameq.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	dev, name, err := openBackend(*backendName, *latency)
	if err != nil {
		log.Fatalf("Failed to open backend: %v", err)
	}
	defer dev.Destroy()

	ctx, err := frameq.New(dev, frameq.WithBufferedFrames(*buffered))
	if err != nil {
		log.Fatalf("Failed to create context: %v", err)
	}

	start := time.Now()
	for range *frames {
		runFrame(ctx, *uploads)
	}
	if err := ctx.Close(); err != nil {
		log.Fatalf("Failed to close context: %v", err)
	}

	stats, err := ctx.StatsJSON()
	if err != nil {
		log.Fatalf("Failed to encode stats: %v", err)
	}
	log.Printf("%d frames on %s backend in %v", *frames, name, time.Since(start))
	_, _ = os.Stdout.Write(append(stats, '\n'))
}

func openBackend(name string, latency time.Duration) (backend.Device, string, error) {
	switch name {
	case "":
		return backend.Default()
	case backend.NameSoft:
		return soft.New(soft.WithLatency(latency)), name, nil
	case backend.NameNative:
		dev, err := native.OpenDefault()
		return dev, name, err
	default:
		dev, err := backend.Open(name)
		return dev, name, err
	}
}

// runFrame uploads per-frame constants on the copy queue, makes the render
// queue wait for them and retires a staging resource behind the copies.
func runFrame(ctx *frameq.Context, uploads int) {
	ctx.BeginFrame()

	type constants struct {
		Frame uint64
		Time  float32
		_     [3]float32
	}
	frameq.PushToScratch(ctx, constants{Frame: ctx.FrameID(), Time: float32(time.Now().UnixNano()%1e9) / 1e9})

	copyQueue := ctx.Queue(backend.QueueCopy)
	var copied uint64
	for range uploads {
		copied = ctx.ExecuteCommandBuffer(ctx.GetFreeCopyCommandBuffer())
	}
	ctx.KeepCopyResourceAlive(copied, backend.ResourceFunc(func() {}))

	render := ctx.Queue(backend.QueueRender)
	render.WaitForQueueValue(copyQueue, copied)

	compute := ctx.GetFreeComputeCommandBuffer()
	ctx.ExecuteCommandBuffer(compute)
	render.WaitForCommandBuffer(compute)

	fence := ctx.ExecuteCommandBuffer(ctx.GetFreeRenderCommandBuffer())
	ctx.EndFrame(fence)
}
