package handler

import (
	"context"
	"sync"

	"github.com/Astemirdum/library-circulation/circulation/internal/errs"
	"github.com/Astemirdum/library-circulation/pkg/kafka"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type releaseCopy func(ctx context.Context, barcode string) error

// Consumer feeds copies released by the catalogue (repaired, found) back
// into circulation.
type Consumer struct {
	releaseCopyHandler releaseCopy
	log                *zap.Logger
	ready              chan struct{}
	readyOnce          sync.Once
}

func NewConsumer(release releaseCopy, log *zap.Logger) *Consumer {
	return &Consumer{
		releaseCopyHandler: release,
		log:                log.Named("consumer"),
		ready:              make(chan struct{}),
	}
}

// Ready is closed once the first session is set up.
func (consumer *Consumer) Ready() <-chan struct{} {
	return consumer.ready
}

func (consumer *Consumer) Setup(sarama.ConsumerGroupSession) error {
	consumer.readyOnce.Do(func() { close(consumer.ready) })
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (consumer *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (consumer *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				consumer.log.Warn("message channel was closed")
				return nil
			}
			var ev kafka.CopyReleasedMessage
			if err := kafka.Unmarshal(message.Value, &ev); err != nil || ev.Barcode == "" {
				consumer.log.Error("bad message", zap.ByteString("value", message.Value), zap.Error(err))
				session.MarkMessage(message, "")
				continue
			}

			if err := consumer.releaseCopyHandler(session.Context(), ev.Barcode); err != nil {
				if errs.KindOf(err) == 0 {
					// infrastructure failure, leave the offset for redelivery
					consumer.log.Error("release copy", zap.String("barcode", ev.Barcode), zap.Error(err))
					continue
				}
				consumer.log.Warn("release copy rejected", zap.String("barcode", ev.Barcode), zap.Error(err))
			}

			consumer.log.Debug("message claimed",
				zap.String("barcode", ev.Barcode),
				zap.Time("timestamp", message.Timestamp),
				zap.String("topic", message.Topic))
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
