package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"changewatch/internal/pubsub"
)

func receive(t *testing.T, ch <-chan pubsub.Message) pubsub.Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := broker.Consumer("ops.>").Subscribe(ctx)
	require.NoError(t, err)

	pub := broker.Publisher()
	require.NoError(t, pub.Publish(ctx, "ops.users", []byte("hello")))

	msg := receive(t, msgs)
	assert.Equal(t, "ops.users", msg.Subject())
	assert.Equal(t, []byte("hello"), msg.Data())
	assert.NoError(t, msg.Ack())
}

func TestSubjectPatternRouting(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ordersCh, err := broker.Consumer("changes.orders").Subscribe(ctx)
	require.NoError(t, err)
	allCh, err := broker.Consumer("changes.>").Subscribe(ctx)
	require.NoError(t, err)

	pub := broker.Publisher()
	require.NoError(t, pub.Publish(ctx, "changes.users", []byte("u")))
	require.NoError(t, pub.Publish(ctx, "changes.orders", []byte("o")))

	assert.Equal(t, []byte("o"), receive(t, ordersCh).Data())
	assert.Equal(t, []byte("u"), receive(t, allCh).Data())
	assert.Equal(t, []byte("o"), receive(t, allCh).Data())
}

func TestNakRedelivers(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := broker.Consumer("ops.*").Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, broker.Publisher().Publish(ctx, "ops.users", []byte("retry-me")))

	first := receive(t, msgs)
	require.NoError(t, first.Nak())

	second := receive(t, msgs)
	assert.Equal(t, []byte("retry-me"), second.Data())
	assert.NoError(t, second.Ack())
}

func TestTermStopsRedelivery(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := broker.Consumer("ops.*").Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, broker.Publisher().Publish(ctx, "ops.users", []byte("poison")))

	msg := receive(t, msgs)
	require.NoError(t, msg.Term())
	require.NoError(t, msg.Nak(), "Nak after Term is a no-op")

	select {
	case redelivered := <-msgs:
		t.Fatalf("unexpected redelivery: %s", redelivered.Data())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNakAfterSubscriptionEnds(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := broker.Consumer("ops.>").Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, broker.Publisher().Publish(ctx, "ops.users", []byte("late")))
	msg := receive(t, msgs)

	cancel()
	select {
	case _, ok := <-msgs:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close")
	}

	// The subscription is gone; the redelivery is silently dropped.
	assert.NoError(t, msg.Nak())
}

func TestPublishAfterClose(t *testing.T) {
	broker := NewBroker()
	broker.Close()

	err := broker.Publisher().Publish(context.Background(), "ops.users", []byte("x"))
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestSubscribeChannelClosesWithContext(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := broker.Consumer("ops.>").Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after context cancellation")
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"ops.users", "ops.users", true},
		{"ops.users", "ops.orders", false},
		{"ops.*", "ops.users", true},
		{"ops.*", "ops.users.eu", false},
		{"ops.>", "ops.users", true},
		{"ops.>", "ops.users.eu", true},
		{"ops.>", "ops", false},
		{"*.users", "ops.users", true},
		{">", "anything.at.all", true},
		{"", "ops.users", false},
		{"ops.users", "", false},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.want, matchSubject(tt.pattern, tt.subject),
			"pattern %q subject %q", tt.pattern, tt.subject)
	}
}
