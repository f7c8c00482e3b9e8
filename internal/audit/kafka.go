package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const kafkaWriteTimeout = 10 * time.Second

// MessageWriter is the subset of kafka.Writer used by KafkaSink
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes records as JSON keyed by alert id
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

// NewKafkaWriter configures a synchronous writer for a comma-separated broker list
func NewKafkaWriter(brokers, topic string) (*kafka.Writer, error) {
	if strings.TrimSpace(brokers) == "" {
		return nil, fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(brokerList...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		WriteTimeout:           kafkaWriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, nil
}

// NewKafkaSink creates a sink on writer
func NewKafkaSink(writer MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: writer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Record(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(rec.AlertID), 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(rec.Action)},
			{Key: "severity", Value: []byte(rec.Severity)},
		},
		Time: rec.At,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka topic %s: %w", s.topic, err)
	}
	return nil
}

// Close closes the underlying writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
