package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadsniffer/internal/crawler"
	"github.com/JakeFAU/leadsniffer/internal/queue/memory"
)

func TestDispatcher_EnqueueProxiesToQueue(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(2)
	d := New(q, nil)

	require.NoError(t, d.Enqueue(context.Background(), crawler.QueueItem{JobID: "job-1"}))

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", item.JobID)
}

func TestDispatcher_RunStopsWithContext(t *testing.T) {
	t.Parallel()

	d := New(memory.NewQueue(1), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}
}
