package jobs

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/recapz-backend/pkg/logger"
)

const defaultPublishTimeout = 10 * time.Second

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// PubSubQueue dispatches jobs through a Cloud Pub/Sub topic and subscription.
// Handler errors Nack the message so Pub/Sub redelivers it.
type PubSubQueue struct {
	publisher publisher
	receiver  receiver
	logg      *logger.Logger
}

// NewPubSubQueue wires a queue from the jobs publisher and subscriber. Either
// may be nil for processes that only publish or only consume.
func NewPubSubQueue(pub *gcppubsub.Publisher, sub *gcppubsub.Subscriber, logg *logger.Logger) (*PubSubQueue, error) {
	if pub == nil && sub == nil {
		return nil, errors.New("pubsub publisher or subscriber is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	q := &PubSubQueue{logg: logg}
	if pub != nil {
		q.publisher = &gcpPublisher{Publisher: pub}
	}
	if sub != nil {
		q.receiver = sub
	}
	return q, nil
}

func (q *PubSubQueue) Publish(ctx context.Context, msg JobMessage) error {
	if q.publisher == nil {
		return errors.New("pubsub queue has no publisher")
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := q.publisher.Publish(publishCtx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id":     msg.JobID.String(),
			"account_id": msg.AccountID.String(),
		},
	})
	if result == nil {
		return errors.New("publisher returned nil result")
	}
	_, err = result.Get(publishCtx)
	return err
}

func (q *PubSubQueue) Consume(ctx context.Context, handler Handler) error {
	if q.receiver == nil {
		return errors.New("pubsub queue has no subscriber")
	}
	return q.receiver.Receive(ctx, func(ctx context.Context, m *gcppubsub.Message) {
		if q.deliver(ctx, m, handler) {
			m.Ack()
			return
		}
		m.Nack()
	})
}

// deliver reports whether the message should be acked. Undecodable
// messages are acked so they do not loop.
func (q *PubSubQueue) deliver(ctx context.Context, m *gcppubsub.Message, handler Handler) bool {
	logCtx := q.logg.WithField(ctx, "message_id", m.ID)
	msg, err := DecodeJobMessage(m.Data)
	if err != nil {
		q.logg.Error(logCtx, "queue.poison_message", err)
		return true
	}
	if err := handler(ctx, msg); err != nil {
		q.logg.Warn(q.logg.WithField(logCtx, "job_id", msg.JobID.String()), "queue.nack")
		return false
	}
	return true
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	res := p.Publisher.Publish(ctx, msg)
	if res == nil {
		return nil
	}
	return res
}
