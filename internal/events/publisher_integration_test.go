//go:build integration

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redpanda"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/xenking/domainshop/internal/domain/notify"
)

func TestPublisherProduces(t *testing.T) {
	ctx := context.Background()

	container, err := redpanda.Run(ctx, "docker.redpanda.com/redpandadata/redpanda:v24.2.4")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	broker, err := container.KafkaSeedBroker(ctx)
	require.NoError(t, err)

	cfg := Config{Brokers: []string{broker}, Topic: "order-events", ProduceTimeout: 10 * time.Second}
	p, err := NewPublisher(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	require.NoError(t, p.EnsureTopic(ctx, 1, 1))
	// Second call sees the existing topic.
	require.NoError(t, p.EnsureTopic(ctx, 1, 1))

	e := notify.Event{Type: notify.EventOrderPaid, OrderID: "o-1", At: time.Now()}
	require.NoError(t, p.Publish(ctx, e))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	t.Cleanup(consumer.Close)

	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	fetches := consumer.PollRecords(pollCtx, 1)
	require.NoError(t, fetches.Err())

	recs := fetches.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "o-1", string(recs[0].Key))
	assert.Equal(t, "order.paid", string(recs[0].Headers[0].Value))
}
