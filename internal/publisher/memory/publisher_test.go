package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsJSON(t *testing.T) {
	t.Parallel()
	pub := New()
	ctx := context.Background()

	id, err := pub.Publish(ctx, "shards", map[string]int{"entries": 2})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	id, err = pub.Publish(ctx, "audit", "finalized")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "shards", msgs[0].Topic)
	require.JSONEq(t, `{"entries":2}`, string(msgs[0].Data))
	require.JSONEq(t, `"finalized"`, string(msgs[1].Data))

	msgs[0].Topic = "changed"
	require.Equal(t, "shards", pub.Messages()[0].Topic)

	_, err = pub.Publish(ctx, "shards", make(chan int))
	require.Error(t, err)
}
