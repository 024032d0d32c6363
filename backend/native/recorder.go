package native

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/frameq/backend"
)

type recorderState uint8

const (
	stateRecording recorderState = iota
	stateClosed
	stateSubmitted
)

// Recorder wraps a hal.CommandEncoder. The encoder keeps its allocator
// across EndEncoding; Reset hands the finished command buffer back with
// ResetAll and begins a new encoding.
//
// A Recorder is used by one goroutine at a time.
type Recorder struct {
	dev     *Device
	typ     backend.QueueType
	label   string
	encoder hal.CommandEncoder
	cmd     hal.CommandBuffer
	state   recorderState
}

// Encoder returns the HAL encoder for recording commands. It is valid
// between Reset (or creation) and Close.
func (r *Recorder) Encoder() hal.CommandEncoder { return r.encoder }

// Close implements backend.Recorder.
func (r *Recorder) Close() error {
	if r.state != stateRecording {
		return backend.ErrNotRecording
	}
	cmd, err := r.encoder.EndEncoding()
	if err != nil {
		return errors.Wrapf(err, "native: end %s encoding", r.typ)
	}
	r.cmd = cmd
	r.state = stateClosed
	return nil
}

// Reset implements backend.Recorder.
func (r *Recorder) Reset() error {
	switch {
	case r.cmd != nil:
		r.encoder.ResetAll([]hal.CommandBuffer{r.cmd})
		r.cmd = nil
	case r.state == stateRecording:
		r.encoder.DiscardEncoding()
	}
	if err := r.encoder.BeginEncoding(r.label); err != nil {
		return errors.Wrapf(err, "native: begin %s encoding", r.typ)
	}
	r.state = stateRecording
	return nil
}

// Destroy implements backend.Recorder.
func (r *Recorder) Destroy() {
	if r.encoder == nil {
		return
	}
	switch {
	case r.cmd != nil:
		r.encoder.ResetAll([]hal.CommandBuffer{r.cmd})
		r.cmd = nil
	case r.state == stateRecording:
		r.encoder.DiscardEncoding()
	}
	r.encoder.Destroy()
	r.encoder = nil
}
