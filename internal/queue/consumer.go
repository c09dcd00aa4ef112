package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/repository"
	"github.com/iliyamo/seat-inventory/internal/service"
)

// Handler processes one message body.  A nil error acks the message.
type Handler func(ctx context.Context, body []byte) error

type requeueError struct{ err error }

func (e requeueError) Error() string { return e.err.Error() }
func (e requeueError) Unwrap() error { return e.err }

// Requeue marks err as transient: the message goes back on the queue
// instead of being rejected.
func Requeue(err error) error { return requeueError{err} }

// Consumer reads a durable queue and hands each message to a handler.
type Consumer struct {
	URL     string
	Queue   string
	Handler Handler
	Log     logrus.FieldLogger
}

// reconnectPolicy spaces broker dial attempts: doubling from one second up
// to thirty, with jitter, and never giving up.
func reconnectPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run keeps a connection to the broker, reconnecting with exponential
// backoff, until ctx is cancelled.  Handler failures are logged and the
// offending message rejected; queues with a dead-letter queue keep it
// there for inspection.
func (c *Consumer) Run(ctx context.Context) error {
	url := c.URL
	if url == "" {
		url = DefaultURL
	}
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("queue", c.Queue)

	retry := backoff.WithContext(reconnectPolicy(), ctx)
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				return nil
			}
			log.WithError(err).Warnf("consumer: failed to dial broker; retrying in %s", wait)
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}
		retry.Reset()

		err = c.consumeLoop(ctx, conn, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		log.WithError(err).Warn("consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection, log logrus.FieldLogger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.WithError(err).Warn("consumer: set QoS failed")
	}
	if err := declare(ch, c.Queue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.Info("consumer: listening")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.dispatch(ctx, d, log)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery, log logrus.FieldLogger) {
	err := c.Handler(ctx, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	var rq requeueError
	if errors.As(err, &rq) {
		log.WithError(err).Warn("consumer: transient failure, requeueing")
		_ = d.Nack(false, true)
		return
	}
	log.WithError(err).Error("consumer: handle message failed")
	_ = d.Nack(false, false)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// BookingLogHandler appends each booking confirmation to dir/booking.log
// as a single human-friendly line.
func BookingLogHandler(dir string) Handler {
	return func(_ context.Context, body []byte) error {
		var ev BookingConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir logs: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "booking.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()

		line := fmt.Sprintf("[%s] Booking confirmed | booking_id=%s | user_id=%s | event_id=%s | payment_ref=%s | total=%d %s | seats=[%s]\n",
			ev.ConfirmedAt, ev.BookingID, ev.UserID, ev.EventID, ev.PaymentRef, ev.TotalAmountCents, ev.Currency, strings.Join(ev.SeatLabels, ","))
		if _, err := f.WriteString(line); err != nil {
			return fmt.Errorf("write log: %w", err)
		}
		return nil
	}
}

// DeadLetterHandler logs every dead-lettered message and acks it.  The
// booking id is pulled out when the body is a payment result so operators
// can find the booking the outcome was meant for.
func DeadLetterHandler(log logrus.FieldLogger) Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(_ context.Context, body []byte) error {
		fields := logrus.Fields{"body": string(body)}
		var r service.PaymentResult
		if err := json.Unmarshal(body, &r); err == nil && r.BookingID != "" {
			fields["booking_id"] = r.BookingID
			fields["status"] = r.Status
		}
		log.WithFields(fields).Error("dead-lettered message")
		return nil
	}
}

// PaymentResultApplier applies payment outcomes to bookings.
type PaymentResultApplier interface {
	HandlePaymentResult(ctx context.Context, r service.PaymentResult) (*model.Booking, error)
}

// PaymentResultHandler feeds payment.results messages to the booking
// orchestrator.  Store outages are requeued; anything else is a bad
// message.
func PaymentResultHandler(app PaymentResultApplier) Handler {
	return func(ctx context.Context, body []byte) error {
		var r service.PaymentResult
		if err := json.Unmarshal(body, &r); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		_, err := app.HandlePaymentResult(ctx, r)
		if errors.Is(err, repository.ErrStoreUnavailable) || errors.Is(err, service.ErrConcurrentUpdate) {
			return Requeue(err)
		}
		return err
	}
}
