package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/akmatori/nocpilot/internal/alerts"
	"github.com/akmatori/nocpilot/internal/alerts/adapters"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

const (
	defaultGroupID = "nocpilot-events"
	minBytes       = 1
	maxBytes       = 10 * 1024 * 1024
)

// Config selects the brokers and topic events are read from
type Config struct {
	Brokers []string    `mapstructure:"brokers"`
	Topic   string      `mapstructure:"topic"`
	GroupID string      `mapstructure:"group_id"`
	SASL    *SASLConfig `mapstructure:"sasl"`
}

// SASLConfig enables broker authentication
type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Mechanism string `mapstructure:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

func buildSASLMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Mechanism {
	case "PLAIN", "plain", "":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads JSON events from a topic and submits them in order
type Consumer struct {
	reader    messageReader
	submitter alerts.Submitter
	decoder   *Decoder
}

// NewConsumer creates a consumer group reader for cfg.Topic
func NewConsumer(cfg Config, submitter alerts.Submitter) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = defaultGroupID
	}

	mechanism, err := buildSASLMechanism(cfg.SASL)
	if err != nil {
		return nil, fmt.Errorf("build SASL mechanism: %w", err)
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:       cfg.Brokers,
		Topic:         cfg.Topic,
		GroupID:       groupID,
		MinBytes:      minBytes,
		MaxBytes:      maxBytes,
		QueueCapacity: 1,
		Dialer: &kafkago.Dialer{
			Timeout:       10 * time.Second,
			DualStack:     true,
			SASLMechanism: mechanism,
		},
	})
	return &Consumer{reader: reader, submitter: submitter, decoder: NewDecoder()}, nil
}

// Run consumes until ctx is cancelled. Messages that fail to decode or submit are
// logged and committed so one bad record cannot stall the partition.
func (c *Consumer) Run(ctx context.Context) error {
	logging.Infof("Kafka consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				logging.Infof("Kafka consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch kafka message: %w", err)
		}

		if err := c.handle(ctx, msg.Value); err != nil {
			logging.Errorf("Kafka message dropped, partition=%d offset=%d: %v", msg.Partition, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit kafka offset: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) error {
	events, err := c.decoder.Decode(value)
	if err != nil {
		return err
	}
	var errs []error
	for _, ev := range events {
		if _, err := c.submitter.Submit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Decoder accepts either an Alertmanager webhook body or a single event object
type Decoder struct {
	alertmanager *adapters.AlertmanagerAdapter
}

// NewDecoder creates a decoder
func NewDecoder() *Decoder {
	return &Decoder{alertmanager: adapters.NewAlertmanagerAdapter()}
}

type eventMessage struct {
	ID          string                 `json:"id"`
	Source      string                 `json:"source"`
	Severity    string                 `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Labels      map[string]string      `json:"labels"`
	RawData     map[string]interface{} `json:"raw_data"`
	Timestamp   *time.Time             `json:"timestamp"`
	Alerts      json.RawMessage        `json:"alerts"`
}

// Decode returns the events carried by one message
func (d *Decoder) Decode(value []byte) ([]*models.Event, error) {
	var msg eventMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return nil, fmt.Errorf("decode kafka message: %w", err)
	}

	if len(msg.Alerts) > 0 {
		return d.alertmanager.ParsePayload(value)
	}

	source := models.EventSource(msg.Source)
	if source == "" {
		source = models.SourceCustom
	}
	ev := &models.Event{
		ID:          msg.ID,
		Source:      source,
		Severity:    alerts.NormalizeSeverity(msg.Severity),
		Title:       msg.Title,
		Description: msg.Description,
		Labels:      msg.Labels,
		RawData:     msg.RawData,
	}
	if msg.Timestamp != nil {
		ev.Timestamp = msg.Timestamp.UTC()
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return []*models.Event{ev}, nil
}
