// Package notify publishes batch completion events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wehubfusion/terser/pkg/batch"
	"go.uber.org/zap"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "terser.batch.completed"

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Event is the JSON payload of a completion message.
type Event struct {
	BatchID    string    `json:"batchId"`
	Status     string    `json:"status"`
	Files      int       `json:"files"`
	Written    int       `json:"written"`
	Maps       int       `json:"maps"`
	Threads    int       `json:"threads"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewEvent converts a report into an event.
func NewEvent(report batch.Report) Event {
	e := Event{
		BatchID:    report.BatchID.String(),
		Status:     "success",
		Files:      report.Files,
		Written:    report.Written,
		Maps:       report.Maps,
		Threads:    report.Threads,
		DurationMs: report.Duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if report.Err != nil {
		e.Status = "failed"
		e.Error = report.Err.Error()
	}
	return e
}

// NATSNotifier publishes a JSON event per batch.
type NATSNotifier struct {
	publisher Publisher
	subject   string
	logger    *zap.Logger
}

// NewNATSNotifier creates a notifier. An empty subject selects DefaultSubject.
func NewNATSNotifier(publisher Publisher, subject string, logger *zap.Logger) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSNotifier{publisher: publisher, subject: subject, logger: logger}
}

// Notify implements batch.Notifier.
func (n *NATSNotifier) Notify(ctx context.Context, report batch.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(NewEvent(report))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := n.publisher.Publish(n.subject, data); err != nil {
		n.logger.Error("Failed to publish batch event",
			zap.String("subject", n.subject),
			zap.String("batchId", report.BatchID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", n.subject, err)
	}

	n.logger.Debug("Published batch event",
		zap.String("subject", n.subject),
		zap.String("batchId", report.BatchID.String()))
	return nil
}

var _ batch.Notifier = (*NATSNotifier)(nil)
