package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterSuffix names the queue that receives nacked and rejected tasks of
// a work queue, e.g. featurize_queue.dead.
const DeadLetterSuffix = ".dead"

var ErrPublisherClosed = errors.New("rabbitmq publisher is closed")

type RabbitMQConfig struct {
	URL         string        `env:"RABBITMQ_URL,notEmpty,required"`
	Prefetch    int           `env:"RABBITMQ_PREFETCH" envDefault:"1"`
	DialRetries int           `env:"RABBITMQ_DIAL_RETRIES" envDefault:"5"`
	RetryDelay  time.Duration `env:"RABBITMQ_RETRY_DELAY" envDefault:"5s"`
}

func (cfg RabbitMQConfig) withDefaults() RabbitMQConfig {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.DialRetries <= 0 {
		cfg.DialRetries = MaxConnectRetry
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = RetryDelay
	}
	return cfg
}

func DeadLetterQueue(queue string) string {
	return queue + DeadLetterSuffix
}

// openChannel dials the broker and declares every work queue together with
// its dead letter queue.
func openChannel(cfg RabbitMQConfig) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= cfg.DialRetries; attempt++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		slog.Warn("failed to connect to rabbitmq", "attempt", attempt, "max_attempts", cfg.DialRetries, "error", err)
		if attempt < cfg.DialRetries {
			time.Sleep(cfg.RetryDelay)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", cfg.DialRetries, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	for _, queue := range queues {
		dead := DeadLetterQueue(queue)
		if _, err := channel.QueueDeclare(dead, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to declare rabbitmq queue %s: %w", dead, err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dead,
		}
		if _, err := channel.QueueDeclare(queue, true, false, false, false, args); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to declare rabbitmq queue %s: %w", queue, err)
		}
	}

	slog.Info("connected to rabbitmq", "queues", queues)
	return conn, channel, nil
}

// RabbitMQPublisher publishes persistent tasks and waits for the broker to
// confirm each one. A lost connection is re-established in the background;
// publishes fail until it is back.
type RabbitMQPublisher struct {
	cfg RabbitMQConfig

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	closed chan struct{}
	closer sync.Once
}

func NewRabbitMQPublisher(cfg RabbitMQConfig) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{cfg: cfg.withDefaults(), closed: make(chan struct{})}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *RabbitMQPublisher) connect() error {
	conn, channel, err := openChannel(p.cfg)
	if err != nil {
		return err
	}

	if err := channel.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p.conn, p.channel = conn, channel
	go p.watch(channel)
	return nil
}

func (p *RabbitMQPublisher) watch(channel *amqp.Channel) {
	notifyClose := channel.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-p.closed:
		return
	case err, ok := <-notifyClose:
		if !ok {
			return
		}
		slog.Warn("rabbitmq publisher channel closed, reconnecting", "error", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn, p.channel = nil, nil
	for {
		select {
		case <-p.closed:
			return
		default:
		}
		if err := p.connect(); err == nil {
			slog.Info("rabbitmq publisher reconnected")
			return
		}
		time.Sleep(p.cfg.RetryDelay)
	}
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queue, messageId string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", queue, err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.closed:
		return ErrPublisherClosed
	default:
	}

	if p.channel == nil || p.channel.IsClosed() {
		return fmt.Errorf("rabbitmq connection is not available")
	}

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageId,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for confirmation from %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("broker refused message for %s", queue)
	}
	return nil
}

func (p *RabbitMQPublisher) PublishFeaturizeTask(ctx context.Context, payload FeaturizeTaskPayload) error {
	if err := p.publish(ctx, FeaturizeQueue, payload.JobId.String(), payload); err != nil {
		slog.Error("failed to publish featurize task", "job_id", payload.JobId, "error", err)
		return err
	}
	slog.Info("published featurize task", "job_id", payload.JobId)
	return nil
}

func (p *RabbitMQPublisher) Close() {
	p.closer.Do(func() {
		close(p.closed)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.conn != nil {
			if err := p.conn.Close(); err != nil {
				slog.Error("error closing rabbitmq connection", "error", err)
			}
		}
	})
}

type RabbitMQTask struct {
	d amqp.Delivery
}

func (t *RabbitMQTask) Type() string {
	return t.d.RoutingKey
}

func (t *RabbitMQTask) Payload() []byte {
	return t.d.Body
}

func (t *RabbitMQTask) Ack() error {
	return t.d.Ack(false)
}

// Nack moves the task to the dead letter queue instead of requeueing it.
// Featurization failures are deterministic, so redelivery would fail again.
func (t *RabbitMQTask) Nack() error {
	return t.d.Nack(false, false)
}

func (t *RabbitMQTask) Reject() error {
	return t.d.Reject(false)
}

// RabbitMQReceiver consumes every work queue with a bounded prefetch and
// restarts its consumers if the channel is lost.
type RabbitMQReceiver struct {
	cfg    RabbitMQConfig
	tasks  chan Task
	stop   chan struct{}
	closer sync.Once
}

var (
	_ Publisher = (*RabbitMQPublisher)(nil)
	_ Receiver  = (*RabbitMQReceiver)(nil)
)

func NewRabbitMQReceiver(cfg RabbitMQConfig) (*RabbitMQReceiver, error) {
	r := &RabbitMQReceiver{
		cfg:   cfg.withDefaults(),
		tasks: make(chan Task),
		stop:  make(chan struct{}),
	}

	if err := r.start(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQReceiver) start() error {
	conn, channel, err := openChannel(r.cfg)
	if err != nil {
		return err
	}

	if err := channel.Qos(r.cfg.Prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set channel qos: %w", err)
	}

	for _, queue := range queues {
		msgs, err := channel.Consume(queue, "", false, false, false, false, nil)
		if err != nil {
			conn.Close()
			return fmt.Errorf("failed to consume from rabbitmq queue %s: %w", queue, err)
		}
		go r.forward(msgs)
	}

	go r.watch(conn, channel)
	return nil
}

func (r *RabbitMQReceiver) forward(msgs <-chan amqp.Delivery) {
	for d := range msgs {
		select {
		case r.tasks <- &RabbitMQTask{d: d}:
		case <-r.stop:
			return
		}
	}
}

func (r *RabbitMQReceiver) watch(conn *amqp.Connection, channel *amqp.Channel) {
	notifyClose := channel.NotifyClose(make(chan *amqp.Error, 1))

	select {
	case <-r.stop:
		slog.Info("stopping rabbitmq consumer")
		if err := conn.Close(); err != nil {
			slog.Error("error closing rabbitmq connection", "error", err)
		}
	case err, ok := <-notifyClose:
		if !ok {
			return
		}
		slog.Warn("rabbitmq consumer channel closed, restarting", "error", err)
		for {
			select {
			case <-r.stop:
				return
			default:
			}
			if err := r.start(); err == nil {
				slog.Info("rabbitmq consumer restarted")
				return
			}
			time.Sleep(r.cfg.RetryDelay)
		}
	}
}

func (r *RabbitMQReceiver) Tasks() <-chan Task {
	return r.tasks
}

func (r *RabbitMQReceiver) Close() {
	r.closer.Do(func() { close(r.stop) })
}
