package handler_test

import (
	"context"
	"testing"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/errs"
	"github.com/Astemirdum/library-circulation/circulation/internal/handler"
	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	cb "github.com/Astemirdum/library-circulation/pkg/circuit_breaker"
	"github.com/Astemirdum/library-circulation/pkg/kafka"
	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAvailabilitySink(t *testing.T) {
	t.Parallel()
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev kafka.EventAvailability
		if err := kafka.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.ItemID != itemID.String() || ev.AvailableCount != 2 {
			return errors.Errorf("unexpected event %+v", ev)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	breaker := cb.New(cb.Config{Window: 2, OpenTimeout: time.Minute, FailureRatio: 0.5, RecoveryRequests: 1})
	sink := handler.NewAvailabilitySink(handler.NewEnqueuer(producer), breaker)
	ctx := context.Background()

	require.NoError(t, sink.PublishAvailability(ctx, model.Availability{ItemID: itemID, AvailableCount: 2}))
	require.ErrorIs(t, sink.PublishAvailability(ctx, model.Availability{ItemID: itemID}), sarama.ErrOutOfBrokers)
	require.Equal(t, cb.Open, breaker.State())
	require.ErrorIs(t, sink.PublishAvailability(ctx, model.Availability{ItemID: itemID}), cb.ErrOpen)
	require.NoError(t, producer.Close())
}

func TestEventLog(t *testing.T) {
	t.Parallel()
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev kafka.EventCirculation
		if err := kafka.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.EventType != kafka.EventLoanCreated {
			return errors.Errorf("unexpected type %s", ev.EventType)
		}
		return nil
	})

	l := handler.NewEventLog(producer, kafka.CirculationTopic, zap.NewNop())
	l.Emit(context.Background(), kafka.EventCirculation{
		Timestamp: time.Now(),
		EventType: kafka.EventLoanCreated,
		ItemID:    itemID.String(),
		MemberID:  memberID.String(),
	})
	require.NoError(t, producer.Close())
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "test" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return kafka.CopyReleasedTopic }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func TestConsumer(t *testing.T) {
	t.Parallel()
	var released []string
	release := func(_ context.Context, barcode string) error {
		released = append(released, barcode)
		switch barcode {
		case "B-busy":
			return errs.ErrCopyNotReleasable
		case "B-down":
			return errors.New("connection refused")
		}
		return nil
	}
	consumer := handler.NewConsumer(release, zap.NewNop())

	session := &fakeSession{ctx: context.Background()}
	require.NoError(t, consumer.Setup(session))
	require.NoError(t, consumer.Setup(session))
	<-consumer.Ready()

	first, err := kafka.Marshal(kafka.CopyReleasedMessage{Barcode: "B-1"})
	require.NoError(t, err)

	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 4)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 1, Value: first}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 2, Value: []byte(`not json`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 3, Value: []byte(`{"barcode":"B-busy"}`)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 4, Value: []byte(`{"barcode":"B-down"}`)}
	close(claim.msgs)

	require.NoError(t, consumer.ConsumeClaim(session, claim))
	require.Equal(t, []string{"B-1", "B-busy", "B-down"}, released)
	require.Equal(t, []int64{1, 2, 3}, session.marked)
	require.NoError(t, consumer.Cleanup(session))
}
