package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// ProgressEvent reports per-tenant script progress while a migration runs.
// Emission is best effort; workers log and continue when publishing fails.
type ProgressEvent struct {
	JobID            string    `json:"job_id"`
	TenantID         string    `json:"tenant_id"`
	ScriptsCompleted int       `json:"scripts_completed"`
	TotalScripts     int       `json:"total_scripts"`
	Timestamp        time.Time `json:"timestamp"`
}

// ProgressEmitter publishes progress events.
type ProgressEmitter interface {
	Emit(ctx context.Context, event ProgressEvent) error
	Close()
}

// NopEmitter discards events. Used when no broker is configured.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, ProgressEvent) error { return nil }
func (NopEmitter) Close()                                    {}

// KafkaEmitterConfig configures the Kafka progress emitter.
type KafkaEmitterConfig struct {
	Brokers []string
	Topic   string
	Logger  hclog.Logger
}

// KafkaEmitter publishes progress events to a Kafka topic, keyed by job id so
// events for one job stay ordered within a partition.
type KafkaEmitter struct {
	client *kgo.Client
	topic  string
	logger hclog.Logger
}

// NewKafkaEmitter creates a Kafka-backed progress emitter.
func NewKafkaEmitter(cfg KafkaEmitterConfig) (*KafkaEmitter, error) {
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.LeaderAck()),
		kgo.ProducerBatchCompression(kgo.GzipCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RequestRetries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &KafkaEmitter{
		client: client,
		topic:  cfg.Topic,
		logger: cfg.Logger.Named("progress-emitter"),
	}, nil
}

// Emit publishes one event and waits for the ack.
func (e *KafkaEmitter) Emit(ctx context.Context, event ProgressEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	record := &kgo.Record{
		Topic: e.topic,
		Key:   []byte(event.JobID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "tenant_id", Value: []byte(event.TenantID)},
		},
	}
	if err := e.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}

	e.logger.Debug("published progress event",
		"job_id", event.JobID,
		"tenant_id", event.TenantID,
		"scripts_completed", event.ScriptsCompleted,
		"total_scripts", event.TotalScripts,
	)
	return nil
}

// Close flushes and releases the client.
func (e *KafkaEmitter) Close() {
	e.client.Close()
}
