package handler

import (
	"context"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	cb "github.com/Astemirdum/library-circulation/pkg/circuit_breaker"
	"github.com/Astemirdum/library-circulation/pkg/kafka"
	"github.com/IBM/sarama"
)

type Enqueuer interface {
	Enqueue(topic, key string, v any) error
}

func NewEnqueuer(producer sarama.SyncProducer) Enqueuer {
	return &enqueuerImpl{
		producer: producer,
	}
}

type enqueuerImpl struct {
	producer sarama.SyncProducer
}

func (q *enqueuerImpl) Enqueue(topic, key string, v any) error {
	data, err := kafka.Marshal(v)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err = q.producer.SendMessage(msg); err != nil {
		return err
	}
	return nil
}

// AvailabilitySink mirrors availability changes to the broker, keyed by item so
// a partition sees the values of one item in order. The breaker keeps a broker
// outage from stalling the notifier.
type AvailabilitySink struct {
	enqueuer Enqueuer
	breaker  cb.CircuitBreaker
}

func NewAvailabilitySink(enqueuer Enqueuer, breaker cb.CircuitBreaker) *AvailabilitySink {
	return &AvailabilitySink{
		enqueuer: enqueuer,
		breaker:  breaker,
	}
}

func (s *AvailabilitySink) PublishAvailability(_ context.Context, a model.Availability) error {
	return s.breaker.Call(func() error {
		return s.enqueuer.Enqueue(kafka.AvailabilityTopic, a.ItemID.String(), kafka.EventAvailability{
			Timestamp:      time.Now().UTC(),
			ItemID:         a.ItemID.String(),
			AvailableCount: a.AvailableCount,
		})
	})
}
