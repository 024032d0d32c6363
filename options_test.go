package frameq

import (
	"log/slog"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/frameq/backend/soft"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	assert.Equal(t, 3, o.bufferedFrames)
	assert.Equal(t, 8<<20, o.scratchSize)
	assert.Equal(t, 256, o.scratchAlignment)
	assert.Equal(t, 4*time.Millisecond, o.reclaimPollInterval)
	assert.Equal(t, 64, o.slabChunk)
	assert.Equal(t, 2*time.Second, o.stallThreshold)
	assert.Nil(t, o.logger)
	assert.NoError(t, o.validate())
}

func TestOptionsApply(t *testing.T) {
	l := slog.Default()
	o := defaultOptions()
	for _, opt := range []Option{
		WithBufferedFrames(2),
		WithScratchSize(1 << 20),
		WithScratchAlignment(64),
		WithReclaimPollInterval(time.Millisecond),
		WithSlabChunk(8),
		WithStallThreshold(time.Second),
		WithLogger(l),
	} {
		opt(&o)
	}
	assert.Equal(t, 2, o.bufferedFrames)
	assert.Equal(t, 1<<20, o.scratchSize)
	assert.Equal(t, 64, o.scratchAlignment)
	assert.Equal(t, time.Millisecond, o.reclaimPollInterval)
	assert.Equal(t, 8, o.slabChunk)
	assert.Equal(t, time.Second, o.stallThreshold)
	assert.Same(t, l, o.logger)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"zero frames", WithBufferedFrames(0)},
		{"too many frames", WithBufferedFrames(maxBufferedFrames + 1)},
		{"zero scratch", WithScratchSize(0)},
		{"odd alignment", WithScratchAlignment(48)},
		{"zero alignment", WithScratchAlignment(0)},
		{"zero interval", WithReclaimPollInterval(0)},
		{"alignment above arena base", WithScratchAlignment(128 << 10)},
		{"negative slab chunk", WithSlabChunk(-1)},
		{"zero stall threshold", WithStallThreshold(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := soft.New()
			_, err := New(dev, tt.opt)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidOption), "got %v", err)
			assert.Zero(t, dev.LiveHeaps())
		})
	}
}
