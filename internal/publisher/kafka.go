package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Kafka publishes audit envelopes through a confluent producer. Each routing
// key maps to its own topic named "<exchange>.<routingKey>".
type Kafka struct {
	producer *kafka.Producer
	exchange string
}

func NewKafka(bootstrapServers, exchange string) (*Kafka, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.WithField("exchange", exchange).Info("Audit Kafka producer created successfully")

	return &Kafka{producer: p, exchange: exchange}, nil
}

func (k *Kafka) topic(routingKey string) string {
	return k.exchange + "." + routingKey
}

func (k *Kafka) Send(ctx context.Context, msg Envelope) error {
	topic := k.topic(msg.RoutingKey)
	deliveryChan := make(chan kafka.Event, 1)

	headers := []kafka.Header{{Key: "message-id", Value: []byte(msg.MessageID)}}
	if msg.CorrelationID != "" {
		headers = append(headers, kafka.Header{Key: "correlation-id", Value: []byte(msg.CorrelationID)})
	}

	if err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.PartitionKey),
		Value:          msg.Body,
		Headers:        headers,
		Timestamp:      time.Now().UTC(),
	}, deliveryChan); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected event type: %T", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delivery not confirmed: %w", ctx.Err())
	}
}

// EnsureTopics creates one topic per routing key. Topics that already exist
// are left untouched.
func (k *Kafka) EnsureTopics(ctx context.Context, routingKeys []string, partitions, replicationFactor int) error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create kafka admin client: %w", err)
	}
	defer admin.Close()

	specs := make([]kafka.TopicSpecification, 0, len(routingKeys))
	for _, key := range routingKeys {
		specs = append(specs, kafka.TopicSpecification{
			Topic:             k.topic(key),
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		})
	}

	results, err := admin.CreateTopics(ctx, specs, kafka.SetAdminOperationTimeout(10*time.Second))
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	var result *multierror.Error
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError:
			log.WithField("topic", r.Topic).Info("Audit topic created")
		case kafka.ErrTopicAlreadyExists:
		default:
			result = multierror.Append(result, fmt.Errorf("topic %s: %w", r.Topic, r.Error))
		}
	}
	return result.ErrorOrNil()
}

func (k *Kafka) Close() error {
	log.Info("Closing audit Kafka producer...")
	remaining := k.producer.Flush(15 * 1000)
	k.producer.Close()
	if remaining > 0 {
		return fmt.Errorf("%d audit messages were not delivered before close", remaining)
	}
	return nil
}
