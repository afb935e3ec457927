package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/dst-crime-rdd/internal/config"
	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer publishes model results to a Kafka topic.
// It implements pipeline.ResultsPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured results topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaResultsTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// resultMessage is the JSON payload of one published result.
type resultMessage struct {
	RunID string `json:"run_id"`
	domain.ModelResult
}

// Publish serializes every result of a run and writes them in a single
// WriteMessages call. Messages are keyed by outcome|bandwidth|degree so all
// runs of one combination land on the same partition.
func (w *Writer) Publish(ctx context.Context, runID string, results []domain.ModelResult) error {
	if len(results) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(results))
	for i := range results {
		msg, err := serializeToMessage(runID, results[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	w.logger.Info("results published", "run_id", runID, "topic", w.writer.Topic, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a ModelResult into a Kafka message.
func serializeToMessage(runID string, r domain.ModelResult) (kafkago.Message, error) {
	data, err := json.Marshal(resultMessage{RunID: runID, ModelResult: r})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize result %s: %w", r.Key(), err)
	}
	return kafkago.Message{
		Key:   []byte(r.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "functional_form", Value: []byte(r.FunctionalForm)},
		},
	}, nil
}
