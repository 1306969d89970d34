package kafka

import (
	"context"
	"strconv"

	"github.com/IBM/sarama"
	kafkago "github.com/segmentio/kafka-go"
)

// Headers added to dead-lettered messages.
const (
	HeaderError     = "x-dlq-error"
	HeaderTopic     = "x-dlq-original-topic"
	HeaderPartition = "x-dlq-original-partition"
	HeaderOffset    = "x-dlq-original-offset"
)

func InitKafkaProducer(brokers []string, clientID string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy  // Enable compression
	config.Producer.Partitioner = sarama.NewHashPartitioner // Consistent hashing
	config.Version = sarama.V2_0_0_0
	config.ClientID = clientID
	config.Producer.MaxMessageBytes = 1000000 // 1MB

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return producer, nil
}

// DeadLetterProducer republishes unroutable ingress messages to the
// dead-letter topic with their origin and failure reason in headers.
type DeadLetterProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewDeadLetterProducer(producer sarama.SyncProducer, topic string) *DeadLetterProducer {
	return &DeadLetterProducer{producer: producer, topic: topic}
}

func (d *DeadLetterProducer) SendDeadLetter(_ context.Context, msg kafkago.Message, reason error) error {
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderTopic), Value: []byte(msg.Topic)},
		{Key: []byte(HeaderPartition), Value: []byte(strconv.Itoa(msg.Partition))},
		{Key: []byte(HeaderOffset), Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	}
	if reason != nil {
		headers = append(headers, sarama.RecordHeader{Key: []byte(HeaderError), Value: []byte(reason.Error())})
	}
	_, _, err := d.producer.SendMessage(&sarama.ProducerMessage{
		Topic:   d.topic,
		Key:     sarama.ByteEncoder(msg.Key),
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: headers,
	})
	return err
}

func (d *DeadLetterProducer) Close() error {
	return d.producer.Close()
}
