package soft

import "github.com/gogpu/frameq/backend"

// Recorder is a simulated backend.Recorder. It records nothing; it only
// tracks its state so tests can check the command buffer lifecycle.
type Recorder struct {
	dev *Device
	typ backend.QueueType

	recording   bool
	destroyed   bool
	resets      int
	submissions int
}

// Close implements backend.Recorder.
func (r *Recorder) Close() error {
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()

	if r.destroyed {
		return backend.ErrDestroyed
	}
	if !r.recording {
		return backend.ErrNotRecording
	}
	r.recording = false
	return nil
}

// Reset implements backend.Recorder.
func (r *Recorder) Reset() error {
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()

	if r.destroyed {
		return backend.ErrDestroyed
	}
	r.recording = true
	r.resets++
	return nil
}

// Destroy implements backend.Recorder.
func (r *Recorder) Destroy() {
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()

	if r.destroyed {
		return
	}
	r.destroyed = true
	r.dev.liveRecorders--
}

// Type returns the queue class the recorder was created for.
func (r *Recorder) Type() backend.QueueType { return r.typ }

// Recording reports whether the recorder accepts commands.
func (r *Recorder) Recording() bool {
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()
	return r.recording
}

// Resets returns how many times the recorder was reset.
func (r *Recorder) Resets() int {
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()
	return r.resets
}

// Submissions returns how many times the recorder was submitted.
func (r *Recorder) Submissions() int {
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()
	return r.submissions
}
