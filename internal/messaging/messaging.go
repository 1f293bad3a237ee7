package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	FeaturizeQueue  = "featurize_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

var queues = []string{FeaturizeQueue}

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// FeaturizeTaskPayload asks a worker to run the feature job with the given id.
// The job row holds the source objects and the pipeline run to use.
type FeaturizeTaskPayload struct {
	JobId uuid.UUID
}

type Publisher interface {
	PublishFeaturizeTask(ctx context.Context, payload FeaturizeTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
