package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitgate/internal/guest/models"
	memstore "fitgate/internal/guest/store/memory"
)

func TestSweeperRun(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()

	_, err := st.Upsert(ctx, "dev_0123456789abcdef0123456789abcdef", models.UpsertDefaults{
		UsageLimit: 3,
		ClientIP:   "192.0.2.1",
		KnownIPCap: 10,
	})
	require.NoError(t, err)
	_, err = st.BumpBurst(ctx, "dev_0123456789abcdef0123456789abcdef", time.Hour)
	require.NoError(t, err)

	sweeper := NewSweeper(st, 10*time.Millisecond, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- sweeper.Run(runCtx)
	}()

	assert.Eventually(t, func() bool {
		rec, err := st.Get(ctx, "dev_0123456789abcdef0123456789abcdef")
		return err == nil && rec.BurstRequestCount == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancellation")
	}
}
