package handler

import (
	"context"

	"github.com/Astemirdum/library-circulation/pkg/kafka"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type eventLog struct {
	producer sarama.AsyncProducer
	topic    string
	log      *zap.Logger
}

// NewEventLog publishes committed circulation events for the stats pipeline.
// Delivery is best effort: producer errors are only logged.
func NewEventLog(producer sarama.AsyncProducer, topic string, log *zap.Logger) *eventLog {
	l := &eventLog{
		producer: producer,
		topic:    topic,
		log:      log.Named("events"),
	}
	go func() {
		for err := range producer.Errors() {
			l.log.Warn("produce event", zap.Error(err))
		}
	}()
	return l
}

func (l *eventLog) Emit(_ context.Context, ev kafka.EventCirculation) {
	data, err := kafka.Marshal(ev)
	if err != nil {
		l.log.Error("marshal event", zap.Error(err))
		return
	}
	l.producer.Input() <- &sarama.ProducerMessage{
		Topic: l.topic,
		Key:   sarama.StringEncoder(ev.ItemID),
		Value: sarama.ByteEncoder(data),
	}
}
