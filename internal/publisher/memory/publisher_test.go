package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "crawl-runs", map[string]string{"run_id": "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "crawl-audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)
	require.Equal(t, 2, pub.Len())

	msgs := pub.Messages()
	require.Equal(t, "crawl-runs", msgs[0].Topic)
	require.Equal(t, "crawl-audit", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "crawl-runs", pub.Messages()[0].Topic, "Messages must return a copy")
}

func TestPublisherRejectsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Publish(ctx, "crawl-runs", nil)
	require.ErrorIs(t, err, context.Canceled)
}
