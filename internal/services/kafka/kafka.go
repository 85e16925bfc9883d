package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"smsgate/internal/domain/models"
	"smsgate/internal/lib/logger/sl"
)

type Submitter interface {
	Submit(ctx context.Context, batch []models.Message) models.AdmissionSummary
}

// Sender publishes dispatched messages to the delivery topic, one record per
// message keyed by message ID.
type Sender struct {
	producer sarama.SyncProducer
	topic    string
	log      *slog.Logger
}

func NewKafkaSender(brokers []string, topic string, log *slog.Logger) (*Sender, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return newSender(producer, topic, log), nil
}

func newSender(producer sarama.SyncProducer, topic string, log *slog.Logger) *Sender {
	return &Sender{
		producer: producer,
		topic:    topic,
		log:      log,
	}
}

// Deliver reports a per-message outcome. If ctx is done before the batch is
// fully sent, the remaining messages are skipped and ctx's error is returned.
func (k *Sender) Deliver(ctx context.Context, msgs []models.Message) ([]bool, error) {
	const op = "services.kafka.Deliver"

	log := k.log.With(
		slog.String("op", op),
	)

	delivered := make([]bool, len(msgs))
	for i, msg := range msgs {
		select {
		case <-ctx.Done():
			log.Error("context cancelled", slog.Int("unsent", len(msgs)-i), sl.Err(ctx.Err()))
			return delivered, fmt.Errorf("%s: %w", op, ctx.Err())
		default:
		}

		messageBytes, err := json.Marshal(msg)
		if err != nil {
			log.Error("failed to marshal message", slog.String("msgID", msg.ID), sl.Err(err))
			continue
		}

		message := &sarama.ProducerMessage{
			Topic: k.topic,
			Key:   sarama.StringEncoder(msg.ID),
			Value: sarama.ByteEncoder(messageBytes),
		}

		partition, offset, err := k.producer.SendMessage(message)
		if err != nil {
			log.Error("failed to send message to kafka", slog.String("msgID", msg.ID), sl.Err(err))
			continue
		}

		log.Debug("message sent to kafka",
			slog.String("msgID", msg.ID),
			slog.Int("partition", int(partition)),
			slog.Int64("offset", offset),
		)
		delivered[i] = true
	}

	return delivered, nil
}

func (k *Sender) Close() error {
	return k.producer.Close()
}

// Receiver consumes submission batches from the ingress topic. Each record
// value is a JSON array of messages, admitted the same way as an HTTP
// submission.
type Receiver struct {
	consumerGroup sarama.ConsumerGroup
	topic         string
	log           *slog.Logger
}

func NewKafkaReceiver(log *slog.Logger, brokers []string, topic string, groupID string) (*Receiver, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Receiver{
		consumerGroup: consumerGroup,
		topic:         topic,
		log:           log,
	}, nil
}

// ProcessMessages consumes until ctx is done.
func (k *Receiver) ProcessMessages(ctx context.Context, submitter Submitter) error {
	const op = "services.kafka.ProcessMessages"

	handler := newConsumerGroupHandler(k.log, submitter)

	for {
		if err := k.consumerGroup.Consume(ctx, []string{k.topic}, handler); err != nil {
			k.log.Error("failed to consume messages", sl.Err(err))
			return fmt.Errorf("%s: %w", op, err)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (k *Receiver) Close() error {
	return k.consumerGroup.Close()
}

type consumerGroupHandler struct {
	log       *slog.Logger
	submitter Submitter
}

func newConsumerGroupHandler(log *slog.Logger, submitter Submitter) *consumerGroupHandler {
	return &consumerGroupHandler{
		log:       log.With(slog.String("op", "services.kafka.ConsumeClaim")),
		submitter: submitter,
	}
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			summary, err := h.handle(session.Context(), msg.Value)
			if err != nil {
				h.log.Error("dropping submission record",
					slog.Int64("offset", msg.Offset),
					sl.Err(err),
				)
			} else {
				h.log.Info("submission record processed",
					slog.Int64("offset", msg.Offset),
					slog.Int("admitted", summary.Admitted),
					slog.Int("rejected", summary.Rejected),
				)
			}

			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *consumerGroupHandler) handle(ctx context.Context, value []byte) (models.AdmissionSummary, error) {
	var batch []models.Message
	if err := json.Unmarshal(value, &batch); err != nil {
		return models.AdmissionSummary{}, fmt.Errorf("failed to unmarshal batch: %w", err)
	}

	return h.submitter.Submit(ctx, batch), nil
}
