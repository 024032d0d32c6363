package frameq

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/frameq/internal/arena"
)

// Defaults used by New.
const (
	// DefaultBufferedFrames is the number of frames the CPU may run ahead
	// of the GPU.
	DefaultBufferedFrames = 3

	// DefaultScratchSize is the per-frame scratch capacity in bytes.
	DefaultScratchSize = 8 * arena.MB

	// DefaultScratchAlignment is the alignment AllocateFrameScratch uses
	// when the caller passes zero. It matches the placement alignment of
	// constant buffers on common hardware.
	DefaultScratchAlignment = 256

	// DefaultReclaimPollInterval bounds how long the reclaimer sleeps
	// between checks when no notification arrives.
	DefaultReclaimPollInterval = 4 * time.Millisecond

	// DefaultSlabChunk is the number of command buffers or graves
	// allocated at once when a queue pool or a graveyard runs dry.
	DefaultSlabChunk = 64

	// DefaultStallThreshold is how long the oldest running command buffer
	// of a queue may stay unretired before the reclaimer warns about it.
	DefaultStallThreshold = 2 * time.Second

	maxBufferedFrames = 16
)

// Option configures a Context during creation.
//
// Example:
//
//	ctx, err := frameq.New(dev,
//	    frameq.WithBufferedFrames(2),
//	    frameq.WithScratchSize(16<<20))
type Option func(*options)

// options holds optional configuration for Context creation.
type options struct {
	bufferedFrames      int
	scratchSize         int
	scratchAlignment    int
	reclaimPollInterval time.Duration
	slabChunk           int
	stallThreshold      time.Duration
	logger              *slog.Logger
}

// defaultOptions returns the default context options.
func defaultOptions() options {
	return options{
		bufferedFrames:      DefaultBufferedFrames,
		scratchSize:         DefaultScratchSize,
		scratchAlignment:    DefaultScratchAlignment,
		reclaimPollInterval: DefaultReclaimPollInterval,
		slabChunk:           DefaultSlabChunk,
		stallThreshold:      DefaultStallThreshold,
	}
}

func (o *options) validate() error {
	switch {
	case o.bufferedFrames < 1 || o.bufferedFrames > maxBufferedFrames:
		return errors.Wrapf(ErrInvalidOption, "buffered frames %d outside [1, %d]", o.bufferedFrames, maxBufferedFrames)
	case o.scratchSize <= 0:
		return errors.Wrapf(ErrInvalidOption, "scratch size %d", o.scratchSize)
	case !arena.IsPow2(o.scratchAlignment):
		return errors.Wrapf(ErrInvalidOption, "scratch alignment %d is not a power of two", o.scratchAlignment)
	case o.scratchAlignment > arena.BaseAlignment:
		return errors.Wrapf(ErrInvalidOption, "scratch alignment %d above %d", o.scratchAlignment, arena.BaseAlignment)
	case o.reclaimPollInterval <= 0:
		return errors.Wrapf(ErrInvalidOption, "reclaim poll interval %v", o.reclaimPollInterval)
	case o.slabChunk <= 0:
		return errors.Wrapf(ErrInvalidOption, "slab chunk %d", o.slabChunk)
	case o.stallThreshold <= 0:
		return errors.Wrapf(ErrInvalidOption, "stall threshold %v", o.stallThreshold)
	}
	return nil
}

// WithBufferedFrames sets how many frames may be in flight. Each frame
// slot owns a graveyard and a scratch buffer.
func WithBufferedFrames(n int) Option {
	return func(o *options) {
		o.bufferedFrames = n
	}
}

// WithScratchSize sets the per-frame scratch capacity in bytes.
func WithScratchSize(size int) Option {
	return func(o *options) {
		o.scratchSize = size
	}
}

// WithScratchAlignment sets the default scratch allocation alignment.
func WithScratchAlignment(alignment int) Option {
	return func(o *options) {
		o.scratchAlignment = alignment
	}
}

// WithReclaimPollInterval sets the reclaimer's wake-up interval.
func WithReclaimPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.reclaimPollInterval = d
	}
}

// WithSlabChunk sets how many command buffers a queue, or graves a
// graveyard, allocates at once.
func WithSlabChunk(n int) Option {
	return func(o *options) {
		o.slabChunk = n
	}
}

// WithStallThreshold sets how long a queue's oldest running command buffer
// may stay unretired before the reclaimer logs a warning. Warnings for the
// same queue are throttled to one per threshold.
func WithStallThreshold(d time.Duration) Option {
	return func(o *options) {
		o.stallThreshold = d
	}
}

// WithLogger gives the Context its own logger instead of the package
// logger set by SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
