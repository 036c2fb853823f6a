package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// DeliveryTimeout bounds how long a record may wait for broker acknowledgement.
const DeliveryTimeout = 10 * time.Second

// KafkaNotifier publishes decision messages to a topic keyed by request id,
// so all decisions for one request land on the same partition in order.
type KafkaNotifier struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

type KafkaOption func(*kafkaOptions)

type kafkaOptions struct {
	logger     *slog.Logger
	partitions int32
	replicas   int16
}

func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(o *kafkaOptions) {
		o.logger = logger
	}
}

// WithTopicLayout sets the partition and replica counts used when the topic
// has to be created.
func WithTopicLayout(partitions int32, replicas int16) KafkaOption {
	return func(o *kafkaOptions) {
		o.partitions = partitions
		o.replicas = replicas
	}
}

// NewKafkaNotifier connects to brokers and makes sure topic exists.
func NewKafkaNotifier(ctx context.Context, brokers []string, topic string, opts ...KafkaOption) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka notifier: no brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka notifier: topic is required")
	}
	o := kafkaOptions{logger: slog.Default(), partitions: 1, replicas: 1}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.RecordDeliveryTimeout(DeliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka notifier: create client: %w", err)
	}
	if err := ensureTopic(ctx, kadm.NewClient(client), topic, o.partitions, o.replicas); err != nil {
		client.Close()
		return nil, err
	}
	return &KafkaNotifier{client: client, topic: topic, logger: o.logger}, nil
}

func ensureTopic(ctx context.Context, admin *kadm.Client, topic string, partitions int32, replicas int16) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := admin.CreateTopics(ctx, partitions, replicas, nil, topic)
	if err != nil {
		return fmt.Errorf("kafka notifier: create topic %s: %w", topic, err)
	}
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("kafka notifier: create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// Notify blocks until the broker acknowledges the record.
func (n *KafkaNotifier) Notify(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka notifier: encode message: %w", err)
	}
	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(msg.RequestID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "status", Value: []byte(msg.Status)},
		},
	}
	if err := n.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka notifier: produce: %w", err)
	}
	n.logger.DebugContext(ctx, "decision notification published",
		"certificate_request_id", msg.RequestID,
		"topic", n.topic,
	)
	return nil
}

// Close flushes pending records and releases the client.
func (n *KafkaNotifier) Close() {
	n.client.Close()
}
