package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/notifyd/notifyd/internal/dispatch"
	"github.com/notifyd/notifyd/internal/domain"
	"github.com/notifyd/notifyd/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAcknowledger records what happened to a delivery.
type fakeAcknowledger struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error { f.acked = true; return nil }

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

// fakeLoader fails DeliverByID with err, or reports outcome.
type fakeLoader struct {
	err     error
	outcome dispatch.Outcome
}

func (f *fakeLoader) DeliverByID(_ context.Context, id string) (*domain.Notification, dispatch.Outcome, error) {
	if f.err != nil {
		return nil, dispatch.Outcome{}, f.err
	}
	return &domain.Notification{ID: id}, f.outcome, nil
}

type fakeRepublisher struct {
	failRetry bool
	failDead  bool

	retried    []int
	deadReason string
}

func (f *fakeRepublisher) PublishRetry(_ context.Context, _ events.Envelope, retryCount int) error {
	if f.failRetry {
		return errors.New("broker unavailable")
	}
	f.retried = append(f.retried, retryCount)
	return nil
}

func (f *fakeRepublisher) PublishDeadLetterEvent(_ context.Context, _ events.Envelope, reason string) error {
	if f.failDead {
		return errors.New("broker unavailable")
	}
	f.deadReason = reason
	return nil
}

type fakeFailures struct {
	handled []string
}

func (f *fakeFailures) HandleFailure(_ context.Context, n *domain.Notification) {
	f.handled = append(f.handled, n.ID)
}

func testDelivery(t *testing.T, env events.Envelope) (amqp.Delivery, *fakeAcknowledger) {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}, ack
}

func TestConsumer_ProcessMessage_AcksDeliveredEvent(t *testing.T) {
	consumer := &Consumer{
		publisher: &fakeRepublisher{},
		deliverer: &fakeLoader{outcome: dispatch.Outcome{Success: true}},
		failures:  &fakeFailures{},
	}

	msg, ack := testDelivery(t, events.Envelope{EventID: "evt-1", NotificationID: "n-1"})
	consumer.processMessage(context.Background(), events.LaneNormal, msg)

	assert.True(t, ack.acked)
	assert.False(t, ack.nacked)
}

func TestConsumer_ProcessMessage_FailedDeliveryGoesToCoordinator(t *testing.T) {
	failures := &fakeFailures{}
	consumer := &Consumer{
		publisher: &fakeRepublisher{},
		deliverer: &fakeLoader{outcome: dispatch.Outcome{Message: "Email failed"}},
		failures:  failures,
	}

	msg, ack := testDelivery(t, events.Envelope{EventID: "evt-1", NotificationID: "n-1"})
	consumer.processMessage(context.Background(), events.LaneNormal, msg)

	assert.Equal(t, []string{"n-1"}, failures.handled)
	assert.True(t, ack.acked)
}

func TestConsumer_ProcessMessage_ParksTransientError(t *testing.T) {
	publisher := &fakeRepublisher{}
	consumer := &Consumer{
		publisher: publisher,
		deliverer: &fakeLoader{err: errors.New("store unavailable")},
		failures:  &fakeFailures{},
	}

	msg, ack := testDelivery(t, events.Envelope{EventID: "evt-1", NotificationID: "n-1", RetryCount: 1})
	consumer.processMessage(context.Background(), events.LaneNormal, msg)

	assert.Equal(t, []int{2}, publisher.retried)
	assert.True(t, ack.acked)
}

func TestConsumer_ProcessMessage_RequeuesWhenRetryParkFails(t *testing.T) {
	consumer := &Consumer{
		publisher: &fakeRepublisher{failRetry: true},
		deliverer: &fakeLoader{err: errors.New("store unavailable")},
		failures:  &fakeFailures{},
	}

	msg, ack := testDelivery(t, events.Envelope{EventID: "evt-1", NotificationID: "n-1"})
	consumer.processMessage(context.Background(), events.LaneNormal, msg)

	assert.False(t, ack.acked, "an unparked event must not be acknowledged")
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued, "the broker keeps the event for redelivery")
}

func TestConsumer_ProcessMessage_EscalatesExhaustedRetries(t *testing.T) {
	publisher := &fakeRepublisher{}
	consumer := &Consumer{
		publisher: publisher,
		deliverer: &fakeLoader{err: errors.New("store unavailable")},
		failures:  &fakeFailures{},
	}

	msg, ack := testDelivery(t, events.Envelope{EventID: "evt-1", NotificationID: "n-1", RetryCount: maxTransportRetries})
	consumer.processMessage(context.Background(), events.LaneNormal, msg)

	assert.Equal(t, "store unavailable", publisher.deadReason)
	assert.Empty(t, publisher.retried)
	assert.True(t, ack.acked)
}

func TestConsumer_ProcessMessage_RequeuesWhenDeadLetterFails(t *testing.T) {
	consumer := &Consumer{
		publisher: &fakeRepublisher{failDead: true},
		deliverer: &fakeLoader{err: errors.New("store unavailable")},
		failures:  &fakeFailures{},
	}

	msg, ack := testDelivery(t, events.Envelope{EventID: "evt-1", NotificationID: "n-1", RetryCount: maxTransportRetries})
	consumer.processMessage(context.Background(), events.LaneNormal, msg)

	assert.False(t, ack.acked)
	assert.True(t, ack.requeued)
}

func TestConsumer_ProcessMessage_DropsMissingNotification(t *testing.T) {
	publisher := &fakeRepublisher{}
	consumer := &Consumer{
		publisher: publisher,
		deliverer: &fakeLoader{err: dispatch.ErrNotificationNotFound},
		failures:  &fakeFailures{},
	}

	msg, ack := testDelivery(t, events.Envelope{EventID: "evt-1", NotificationID: "gone"})
	consumer.processMessage(context.Background(), events.LaneNormal, msg)

	assert.True(t, ack.acked, "events for deleted rows are dropped")
	assert.Empty(t, publisher.retried)
	assert.Empty(t, publisher.deadReason)
}
