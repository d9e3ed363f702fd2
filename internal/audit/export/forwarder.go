// Package export streams committed audit records to a Kafka topic for
// downstream SIEM ingestion. It runs strictly on the read side: the
// audit_records table remains the source of truth and the synchronous write
// path never waits on Kafka. Records carry only masked values and their
// integrity signature, so consumers can re-verify what they ingest.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/whatnewads/safeshift-sub018/internal/audit"
)

// Publisher delivers one serialized record. Implementations must be safe for
// sequential reuse; delivery is at-least-once.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// KafkaPublisher produces to a single topic, keyed by subject id so records
// for one entity stay ordered within a partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	results := p.client.ProduceSync(ctx, &kgo.Record{
		Topic: p.topic,
		Key:   []byte(key),
		Value: payload,
	})
	return results.FirstErr()
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 200
)

// Forwarder tails the audit log by id cursor and publishes each new record.
// Record ids are time-sortable, so the last published id is a complete
// resume point. A failed publish stops the batch; the same records are
// retried next tick.
type Forwarder struct {
	store     audit.Store
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int

	mu     sync.Mutex
	cursor string
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithPollInterval overrides how often the log is tailed.
func WithPollInterval(d time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.interval = d
	}
}

// WithCursor resumes from a previously published record id.
func WithCursor(recordID string) ForwarderOption {
	return func(f *Forwarder) {
		f.cursor = recordID
	}
}

func NewForwarder(store audit.Store, publisher Publisher, logger *slog.Logger, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  defaultPollInterval,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run polls until the context is cancelled. Publish failures are logged and
// retried; they never propagate to the write path.
func (f *Forwarder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f.Drain(ctx); err != nil && f.logger != nil {
				f.logger.WarnContext(ctx, "audit export pass failed, will retry", "error", err)
			}
		}
	}
}

// Drain publishes everything committed since the cursor. Exported separately
// so tests and shutdown paths can flush without the ticker.
func (f *Forwarder) Drain(ctx context.Context) error {
	for {
		records, err := f.store.ListAfter(ctx, f.Cursor(), f.batchSize)
		if err != nil {
			return fmt.Errorf("tail audit records: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		for _, record := range records {
			payload, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("marshal record %s: %w", record.ID, err)
			}
			if err := f.publisher.Publish(ctx, record.Subject.ID, payload); err != nil {
				return fmt.Errorf("publish record %s: %w", record.ID, err)
			}
			f.setCursor(record.ID)
		}
		if len(records) < f.batchSize {
			return nil
		}
	}
}

// Cursor returns the id of the last successfully published record.
func (f *Forwarder) Cursor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

func (f *Forwarder) setCursor(id string) {
	f.mu.Lock()
	f.cursor = id
	f.mu.Unlock()
}
