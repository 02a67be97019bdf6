package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronRunsAndStops(t *testing.T) {
	cr := NewCron(time.UTC, nil)
	var runs atomic.Int32
	_, err := cr.AddWithCtx("@every 1s", func(ctx context.Context) { runs.Add(1) })
	require.NoError(t, err)
	require.Len(t, cr.Entries(), 1)

	cr.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	cr.Stop()
}

func TestCronRejectsBadSchedule(t *testing.T) {
	cr := NewCron(nil, nil)
	_, err := cr.Add("every blue moon", FuncJob(func(context.Context) {}))
	assert.Error(t, err)
}
