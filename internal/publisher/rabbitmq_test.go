package publisher

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestReturnedReportsUnroutableMessage(t *testing.T) {
	returns := make(chan amqp.Return, 1)
	returns <- amqp.Return{
		ReplyCode:  amqp.NoRoute,
		ReplyText:  "NO_ROUTE",
		Exchange:   "audit-events",
		RoutingKey: "audit",
	}

	err := returned(returns)

	assert.ErrorIs(t, err, errUnroutable)
	assert.Contains(t, err.Error(), "NO_ROUTE")
	assert.NoError(t, returned(returns), "the return is consumed once")
}

func TestReturnedIgnoresQuietAndClosedListener(t *testing.T) {
	assert.NoError(t, returned(make(chan amqp.Return, 1)))

	closed := make(chan amqp.Return)
	close(closed)
	assert.NoError(t, returned(closed))
}

func TestPublishReroutesUnroutableMessage(t *testing.T) {
	sender := &mockSender{}
	marker := &mockMarker{}
	event := newEvent()

	sender.On("Send", mock.Anything, onRoute("audit")).
		Return(fmt.Errorf("%w: 312 NO_ROUTE", errUnroutable)).Once()
	sender.On("Send", mock.Anything, onRoute("audit.error")).Return(nil).Once()

	newTestPublisher(sender, marker).Publish(context.Background(), event)

	assert.False(t, event.Published())
	sender.AssertExpectations(t)
	marker.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything)
}
