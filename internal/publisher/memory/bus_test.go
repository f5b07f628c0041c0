package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversInOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	ch := bus.Subscribe("coleta_concluida", 4)

	id1, err := bus.Publish(context.Background(), "coleta_concluida", "first")
	require.NoError(t, err)
	id2, err := bus.Publish(context.Background(), "coleta_concluida", "second")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	assert.Equal(t, "first", (<-ch).Payload)
	assert.Equal(t, "second", (<-ch).Payload)
}

func TestPublishWithoutSubscribersStillRecords(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	_, err := bus.Publish(context.Background(), "pipeline_finalizado", 42)
	require.NoError(t, err)

	msgs := bus.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "pipeline_finalizado", msgs[0].Topic)
}

func TestTopicsAreIsolated(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	coleta := bus.Subscribe("coleta_concluida", 1)
	indexacao := bus.Subscribe("indexacao_concluida", 1)

	_, err := bus.Publish(context.Background(), "coleta_concluida", "only-coleta")
	require.NoError(t, err)

	assert.Equal(t, "only-coleta", (<-coleta).Payload)
	select {
	case msg := <-indexacao:
		t.Fatalf("unexpected message on indexacao topic: %v", msg)
	default:
	}
}

func TestPublishHonorsContextWhenSubscriberIsFull(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	bus.Subscribe("coleta_concluida", 1)

	_, err := bus.Publish(context.Background(), "coleta_concluida", "fills the buffer")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bus.Publish(ctx, "coleta_concluida", "blocked")
	assert.ErrorIs(t, err, context.Canceled)
}
