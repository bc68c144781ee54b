// Package kafkahook publishes committed Bursar billing events to Kafka so that
// read models and notification services can follow charges and payments.
//
// Messages are JSON, keyed by student ID so one student's events land on one
// partition in commit order.
package kafkahook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/xraph/bursar/account"
	"github.com/xraph/bursar/charge"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/student"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnShutdown         = (*Extension)(nil)
	_ plugin.OnStudentEnrolled  = (*Extension)(nil)
	_ plugin.OnChargesGenerated = (*Extension)(nil)
	_ plugin.OnPaymentApplied   = (*Extension)(nil)
	_ plugin.OnPaymentRejected  = (*Extension)(nil)
)

// DefaultTopic receives every event unless WithTopic says otherwise.
const DefaultTopic = "bursar.events"

// Event types.
const (
	EventStudentEnrolled  = "student.enrolled"
	EventChargesGenerated = "charges.generated"
	EventPaymentApplied   = "payment.applied"
	EventPaymentRejected  = "payment.rejected"
)

// Writer is the part of *kafka.Writer the extension needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the message payload.
type Event struct {
	Type       string        `json:"type"`
	StudentID  string        `json:"student_id"`
	AccountID  string        `json:"account_id,omitempty"`
	TxnID      string        `json:"txn_id,omitempty"`
	Amount     int64         `json:"amount,omitempty"`
	Currency   string        `json:"currency,omitempty"`
	Reference  string        `json:"reference,omitempty"`
	Charges    []ChargeEvent `json:"charges,omitempty"`
	Code       string        `json:"code,omitempty"`
	Message    string        `json:"message,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// ChargeEvent is one charge inside an Event.
type ChargeEvent struct {
	ChargeID   string `json:"charge_id"`
	FeeHeadID  string `json:"fee_head_id"`
	FeeHead    string `json:"fee_head"`
	Period     string `json:"period"`
	Amount     int64  `json:"amount"`
	PaidAmount int64  `json:"paid_amount"`
	Status     string `json:"status"`
	DueDate    string `json:"due_date"`
}

// Extension publishes billing events to Kafka.
type Extension struct {
	writer Writer
	topic  string
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) { e.logger = logger }
}

// WithTopic overrides DefaultTopic. It only applies to writers created by New.
func WithTopic(topic string) Option {
	return func(e *Extension) { e.topic = topic }
}

// New creates an Extension writing to brokers.
func New(brokers []string, opts ...Option) *Extension {
	e := newExtension(opts)
	e.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        e.topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return e
}

// NewWithWriter creates an Extension over an existing writer, which must
// carry its own topic.
func NewWithWriter(w Writer, opts ...Option) *Extension {
	e := newExtension(opts)
	e.writer = w
	return e
}

func newExtension(opts []Option) *Extension {
	e := &Extension{
		topic:  DefaultTopic,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "kafka-hook" }

// OnShutdown implements plugin.OnShutdown and flushes the writer.
func (e *Extension) OnShutdown(_ context.Context) error {
	return e.writer.Close()
}

// OnStudentEnrolled implements plugin.OnStudentEnrolled.
func (e *Extension) OnStudentEnrolled(ctx context.Context, s *student.Student, a *account.Account) error {
	return e.publish(ctx, &Event{
		Type:       EventStudentEnrolled,
		StudentID:  s.ID.String(),
		AccountID:  a.ID.String(),
		OccurredAt: s.CreatedAt,
	})
}

// OnChargesGenerated implements plugin.OnChargesGenerated.
func (e *Extension) OnChargesGenerated(ctx context.Context, studentID id.StudentID, charges []*charge.Charge, txn *account.Transaction) error {
	evt := &Event{
		Type:       EventChargesGenerated,
		StudentID:  studentID.String(),
		Charges:    chargeEvents(charges...),
		OccurredAt: e.now(),
	}
	if txn != nil {
		evt.AccountID = txn.AccountID.String()
		evt.TxnID = txn.ID.String()
		evt.Amount = txn.Amount.Amount
		evt.Currency = txn.Amount.Currency
		evt.Reference = txn.Reference
		evt.OccurredAt = txn.CreatedAt
	}
	return e.publish(ctx, evt)
}

// OnPaymentApplied implements plugin.OnPaymentApplied.
func (e *Extension) OnPaymentApplied(ctx context.Context, c *charge.Charge, txn *account.Transaction) error {
	return e.publish(ctx, &Event{
		Type:       EventPaymentApplied,
		StudentID:  c.StudentID.String(),
		AccountID:  txn.AccountID.String(),
		TxnID:      txn.ID.String(),
		Amount:     txn.Amount.Amount,
		Currency:   txn.Amount.Currency,
		Reference:  txn.Reference,
		Charges:    chargeEvents(c),
		OccurredAt: txn.CreatedAt,
	})
}

// OnPaymentRejected implements plugin.OnPaymentRejected. The message is keyed
// by charge because the student is not known for an unknown charge.
func (e *Extension) OnPaymentRejected(ctx context.Context, chargeID id.ChargeID, code, message string) error {
	evt := &Event{
		Type:       EventPaymentRejected,
		Charges:    []ChargeEvent{{ChargeID: chargeID.String()}},
		Code:       code,
		Message:    message,
		OccurredAt: e.now(),
	}
	return e.write(ctx, chargeID.String(), evt)
}

func (e *Extension) publish(ctx context.Context, evt *Event) error {
	return e.write(ctx, evt.StudentID, evt)
}

func (e *Extension) write(ctx context.Context, key string, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("kafkahook: marshal %s: %w", evt.Type, err)
	}
	err = e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
		},
	})
	if err != nil {
		e.logger.Warn("kafkahook: publish failed",
			"type", evt.Type,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("kafkahook: publish %s: %w", evt.Type, err)
	}
	return nil
}

func chargeEvents(cs ...*charge.Charge) []ChargeEvent {
	out := make([]ChargeEvent, len(cs))
	for i, c := range cs {
		out[i] = ChargeEvent{
			ChargeID:   c.ID.String(),
			FeeHeadID:  c.FeeHeadID.String(),
			FeeHead:    c.FeeHeadName,
			Period:     c.Period,
			Amount:     c.Amount.Amount,
			PaidAmount: c.PaidAmount.Amount,
			Status:     string(c.Status),
			DueDate:    c.DueDate.Format(time.DateOnly),
		}
	}
	return out
}
