package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/hootenanny/internal/ring"
	"github.com/rapidaai/hootenanny/pkg/commons"
)

func TestFitFrameShortPadsWithSilence(t *testing.T) {
	out := fitFrame([]float32{0.1, 0.2}, 5)
	assert.Equal(t, []float32{0.1, 0.2, 0, 0, 0}, out)
}

func TestFitFrameLongTruncates(t *testing.T) {
	out := fitFrame([]float32{1, 2, 3, 4, 5}, 3)
	assert.Equal(t, []float32{1, 2, 3}, out)
}

func TestFitFrameExactLengthReturnsSameSlice(t *testing.T) {
	in := []float32{1, 2, 3}
	out := fitFrame(in, 3)
	assert.Equal(t, in, out)
}

func TestNewBridgeAtNativeSampleRateSkipsResampler(t *testing.T) {
	buf := ring.New(1024)
	b, err := NewBridge(commons.NewNopLogger(), buf, 48000)
	require.NoError(t, err)
	assert.Nil(t, b.resamp)
}

func TestNewBridgeAtOtherSampleRateBuildsResampler(t *testing.T) {
	buf := ring.New(1024)
	b, err := NewBridge(commons.NewNopLogger(), buf, 44100)
	require.NoError(t, err)
	assert.NotNil(t, b.resamp)
}

func TestBridgeRunOnEmptyRingExitsOnCancel(t *testing.T) {
	buf := ring.New(1024)
	b, err := NewBridge(commons.NewNopLogger(), buf, 48000)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	b.Run(ctx)

	assert.Equal(t, 0, b.ActiveSubscribers())
}
