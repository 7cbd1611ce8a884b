// Package events publishes workflow events to Kafka. It is a notify.Sink:
// publishing is best effort and never blocks a transition.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/xenking/domainshop/internal/domain/notify"
)

// Config holds Kafka settings. No brokers disables the publisher.
type Config struct {
	Brokers           []string      `usage:"Kafka seed brokers"`
	Topic             string        `default:"domainshop.order-events" usage:"Topic for workflow events"`
	Partitions        int32         `default:"3"                       usage:"Partitions when creating the topic"`
	ReplicationFactor int16         `default:"1"                       usage:"Replication factor when creating the topic"`
	ProduceTimeout    time.Duration `default:"5s"                      usage:"Per-record produce timeout"`
}

// Publisher produces one record per event, keyed by order id so events of
// one order stay ordered within a partition.
type Publisher struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
}

// NewPublisher connects to the brokers in cfg.
func NewPublisher(cfg Config, opts ...kgo.Opt) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	opts = append([]kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}, opts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}
	timeout := cfg.ProduceTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{client: client, topic: cfg.Topic, timeout: timeout}, nil
}

// EnsureTopic creates the events topic if it does not exist.
func (p *Publisher) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, p.topic)
	if err != nil {
		return errors.Wrap(err, "create topic")
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return errors.Wrapf(t.Err, "create topic %s", t.Topic)
		}
	}
	return nil
}

// Publish implements notify.Sink.
func (p *Publisher) Publish(ctx context.Context, e notify.Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(e.OrderID),
		Value: EncodeEvent(e),
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return errors.Wrapf(err, "produce %s", e.Type)
	}
	zctx.From(ctx).Debug("Published workflow event",
		zap.String("event", string(e.Type)),
		zap.String("order_id", e.OrderID),
	)
	return nil
}

// Ping checks broker connectivity.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes pending records and closes the client.
func (p *Publisher) Close() {
	p.client.Close()
}

// EncodeEvent renders e as a JSON object.
func EncodeEvent(e notify.Event) []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("type")
	enc.Str(string(e.Type))
	enc.FieldStart("orderId")
	enc.Str(e.OrderID)
	if e.CustomerID != "" {
		enc.FieldStart("customerId")
		enc.Str(e.CustomerID)
	}
	if e.ActorID != "" {
		enc.FieldStart("actorId")
		enc.Str(e.ActorID)
	}
	enc.FieldStart("at")
	enc.Str(e.At.UTC().Format(time.RFC3339Nano))
	if len(e.Data) > 0 {
		enc.FieldStart("data")
		enc.ObjStart()
		for k, v := range e.Data {
			enc.FieldStart(k)
			enc.Str(v)
		}
		enc.ObjEnd()
	}
	enc.ObjEnd()
	return enc.Bytes()
}
