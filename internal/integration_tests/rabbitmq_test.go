//go:build integration

package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"txn-features/internal/messaging"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveTask(t *testing.T, receiver messaging.Receiver) messaging.Task {
	select {
	case task := <-receiver.Tasks():
		return task
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for task")
		return nil
	}
}

func TestRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	publisher, receiver, url := setupRabbitMQContainer(t, ctx)

	t.Run("Publish and Receive FeaturizeTask", func(t *testing.T) {
		payload := messaging.FeaturizeTaskPayload{JobId: uuid.New()}
		require.NoError(t, publisher.PublishFeaturizeTask(ctx, payload))

		task := receiveTask(t, receiver)
		assert.Equal(t, messaging.FeaturizeQueue, task.Type())

		var received messaging.FeaturizeTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &received))
		assert.Equal(t, payload, received)

		require.NoError(t, task.Ack())
	})

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()

	inspect, err := conn.Channel()
	require.NoError(t, err)

	for name, drop := range map[string]func(messaging.Task) error{
		"Nack":   messaging.Task.Nack,
		"Reject": messaging.Task.Reject,
	} {
		t.Run(name+" Dead Letters Task", func(t *testing.T) {
			payload := messaging.FeaturizeTaskPayload{JobId: uuid.New()}
			require.NoError(t, publisher.PublishFeaturizeTask(ctx, payload))
			require.NoError(t, drop(receiveTask(t, receiver)))

			select {
			case task := <-receiver.Tasks():
				t.Fatalf("unexpected redelivery of dropped task: %s", task.Payload())
			case <-time.After(2 * time.Second):
			}

			msg, ok, err := inspect.Get(messaging.DeadLetterQueue(messaging.FeaturizeQueue), true)
			require.NoError(t, err)
			require.True(t, ok, "expected task in dead letter queue")
			assert.Equal(t, payload.JobId.String(), msg.MessageId)

			var dead messaging.FeaturizeTaskPayload
			require.NoError(t, json.Unmarshal(msg.Body, &dead))
			assert.Equal(t, payload, dead)
		})
	}

	t.Run("Publish After Close", func(t *testing.T) {
		publisher.Close()
		err := publisher.PublishFeaturizeTask(ctx, messaging.FeaturizeTaskPayload{JobId: uuid.New()})
		assert.ErrorIs(t, err, messaging.ErrPublisherClosed)
	})
}
