package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-inventory/internal/model"
	"github.com/iliyamo/seat-inventory/internal/repository"
	"github.com/iliyamo/seat-inventory/internal/service"
)

func confirmedBooking() model.Booking {
	return model.Booking{
		ID: "B1", EventID: "E1", HolderID: "U1", LockID: "L1",
		Seats: []model.BookedSeat{
			{SeatID: "A-1-1", Section: "A", Row: "1", Number: 1, PriceCents: 5000},
			{SeatID: "A-1-2", Section: "A", Row: "1", Number: 2, PriceCents: 5000},
		},
		TotalAmountCents: 10000, Currency: "USD", Status: model.BookingConfirmed, PaymentRef: "pay_1",
		UpdatedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
}

func TestNewBookingConfirmedEvent(t *testing.T) {
	ev := NewBookingConfirmedEvent(confirmedBooking())
	assert.Equal(t, []string{"A-1-1", "A-1-2"}, ev.SeatLabels)
	assert.Equal(t, "2026-02-03T04:05:06Z", ev.ConfirmedAt)
	assert.Equal(t, int64(10000), ev.TotalAmountCents)
	assert.Equal(t, "pay_1", ev.PaymentRef)
}

func TestBookingLogHandler(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	body, err := json.Marshal(NewBookingConfirmedEvent(confirmedBooking()))
	require.NoError(t, err)

	h := BookingLogHandler(dir)
	require.NoError(t, h(context.Background(), body))
	require.NoError(t, h(context.Background(), body))

	raw, err := os.ReadFile(filepath.Join(dir, "booking.log"))
	require.NoError(t, err)
	line := "[2026-02-03T04:05:06Z] Booking confirmed | booking_id=B1 | user_id=U1 | event_id=E1 | payment_ref=pay_1 | total=10000 USD | seats=[A-1-1,A-1-2]\n"
	assert.Equal(t, line+line, string(raw))

	assert.Error(t, h(context.Background(), []byte("{")))
}

type fakeApplier struct {
	got []service.PaymentResult
	err error
}

func (f *fakeApplier) HandlePaymentResult(_ context.Context, r service.PaymentResult) (*model.Booking, error) {
	f.got = append(f.got, r)
	return nil, f.err
}

func TestPaymentResultHandler(t *testing.T) {
	app := &fakeApplier{}
	h := PaymentResultHandler(app)
	ctx := context.Background()

	require.NoError(t, h(ctx, []byte(`{"bookingId":"B1","status":"SUCCESS","paymentRef":"pay_1"}`)))
	require.Len(t, app.got, 1)
	assert.Equal(t, service.PaymentResult{BookingID: "B1", Status: "SUCCESS", PaymentRef: "pay_1"}, app.got[0])

	app.err = repository.ErrStoreUnavailable
	err := h(ctx, []byte(`{"bookingId":"B1","status":"SUCCESS","paymentRef":"pay_1"}`))
	var rq requeueError
	assert.ErrorAs(t, err, &rq)
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)

	app.err = service.ErrInvalidBookingState
	err = h(ctx, []byte(`{"bookingId":"B1","status":"FAILED"}`))
	assert.ErrorIs(t, err, service.ErrInvalidBookingState)
	assert.False(t, errors.As(err, &rq))
}

type capturePublisher struct {
	queue string
	msg   any
	err   error
}

func (c *capturePublisher) Publish(_ context.Context, queue string, v any) error {
	c.queue, c.msg = queue, v
	return c.err
}

func TestPaymentCommands(t *testing.T) {
	pub := &capturePublisher{}
	g := NewPaymentCommands(pub, "https://pay.example.com/")
	g.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	session, err := g.Initiate(ctx, service.PaymentRequest{
		SessionID: "sess-1", BookingID: "B1", HolderID: "U1", Gateway: "STRIPE",
		AmountCents: 5000, Currency: "USD", ReturnURL: "https://shop/return",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/checkout/sess-1?gateway=stripe", session.RedirectURL)
	assert.Equal(t, PaymentCommandsQueue, pub.queue)
	cmd := pub.msg.(PaymentCommand)
	assert.Equal(t, ActionCharge, cmd.Action)
	assert.Equal(t, "2026-01-01T00:00:00Z", cmd.RequestedAt)

	require.NoError(t, g.Refund(ctx, confirmedBooking()))
	cmd = pub.msg.(PaymentCommand)
	assert.Equal(t, ActionRefund, cmd.Action)
	assert.Equal(t, "pay_1", cmd.PaymentRef)

	pub.err = errors.New("broker down")
	_, err = g.Initiate(ctx, service.PaymentRequest{SessionID: "sess-2", Gateway: "PAYPAL"})
	assert.Error(t, err)
}

func TestWaitlistNotifier(t *testing.T) {
	pub := &capturePublisher{}
	n := NewWaitlistNotifier(pub)
	n.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, n.WaitlistAvailable(context.Background(), model.WaitlistEntry{
		EventID: "E1", UserID: "U1", SectionID: "A", SeatCount: 2,
	}))
	assert.Equal(t, WaitlistQueue, pub.queue)
	assert.Equal(t, WaitlistAvailableEvent{
		EventType: "waitlist.available", UserID: "U1", EventID: "E1", SectionID: "A", SeatCount: 2,
		Timestamp: "2026-01-01T00:00:00Z",
	}, pub.msg)
}

func TestQueueArgs(t *testing.T) {
	args := QueueArgs(PaymentResultsQueue)
	assert.Equal(t, "", args["x-dead-letter-exchange"])
	assert.Equal(t, PaymentResultsDLQ, args["x-dead-letter-routing-key"])
	assert.Nil(t, QueueArgs(BookingConfirmedQueue))
	assert.Nil(t, QueueArgs(PaymentResultsDLQ))
}

func TestDeadLetterHandler(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	h := DeadLetterHandler(log)

	require.NoError(t, h(context.Background(), []byte(`{"bookingId":"B7","status":"SUCCESS","paymentRef":"pay_7"}`)))
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "B7", entry.Data["booking_id"])

	require.NoError(t, h(context.Background(), []byte("garbage")))
	assert.Equal(t, "garbage", hook.LastEntry().Data["body"])
	assert.NotContains(t, hook.LastEntry().Data, "booking_id")
}

func TestReconnectPolicy(t *testing.T) {
	b := reconnectPolicy()
	want := time.Second
	for i := 0; i < 8; i++ {
		got := b.NextBackOff()
		assert.InDelta(t, float64(want), float64(got), 0.2*float64(want)+1, "attempt %d", i)
		want *= 2
		if want > 30*time.Second {
			want = 30 * time.Second
		}
	}
	b.Reset()
	assert.InDelta(t, float64(time.Second), float64(b.NextBackOff()), 0.2*float64(time.Second)+1)
}
