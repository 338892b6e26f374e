package pause

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerSleeps(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, NewTimer(nil).Sleep(context.Background(), 30*time.Millisecond, "test"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestTimerZeroDuration(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewTimer(nil).Sleep(context.Background(), 0, "none"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, NewTimer(nil).Sleep(ctx, 0, "none"), context.Canceled)
}

func TestTimerCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := NewTimer(nil).Sleep(ctx, time.Hour, "long")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBarSleeps(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	require.NoError(t, NewBar(&out).Sleep(context.Background(), 50*time.Millisecond, "between chapters"))
}

func TestBarCanceled(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, NewBar(&out).Sleep(ctx, time.Hour, "long"), context.DeadlineExceeded)
}

func TestNewPicksTimerForFiles(t *testing.T) {
	t.Parallel()

	f, err := os.Create(filepath.Join(t.TempDir(), "out.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	_, ok := New(f, nil).(*Timer)
	assert.True(t, ok)
	_, ok = New(nil, nil).(*Timer)
	assert.True(t, ok)
}
