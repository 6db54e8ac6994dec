package messaging

import (
	"context"
	"time"

	"example.com/backstage/services/library/config"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const receiveBatchSize = 10

// EventHandler handles one decoded library event
type EventHandler interface {
	ProcessEvent(ctx context.Context, event LibraryEvent) error
}

// Consumer receives library events from the Service Bus queue
type Consumer struct {
	client    *azservicebus.Client
	queueName string
}

// NewConsumer creates a queue consumer
func NewConsumer(cfg config.AzureConfig) (*Consumer, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &Consumer{client: client, queueName: cfg.QueueName}, nil
}

// Run receives messages until ctx is cancelled. Messages the handler accepts
// are completed; failures are abandoned so the bus redelivers them.
func (c *Consumer) Run(ctx context.Context, handler EventHandler) error {
	receiver, err := c.client.NewReceiverForQueue(c.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Str("queue", c.queueName).Msg("Error closing receiver")
		}
	}()

	log.Info().Str("queue", c.queueName).Msg("Starting event consumer")

	for {
		messages, err := receiver.ReceiveMessages(ctx, receiveBatchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				continue
			}

			log.Error().Err(err).Str("queue", c.queueName).Msg("Error receiving messages")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}

		for _, message := range messages {
			c.handle(ctx, receiver, message, handler)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, receiver *azservicebus.Receiver, message *azservicebus.ReceivedMessage, handler EventHandler) {
	event, err := DecodeLibraryEvent(message.Body)
	if err != nil {
		// Redelivery cannot fix a malformed body
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Dead-lettering malformed event")
		if err := receiver.DeadLetterMessage(ctx, message, nil); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to dead-letter message")
		}
		return
	}

	if err := handler.ProcessEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error processing event")
		if err := receiver.AbandonMessage(ctx, message, nil); err != nil {
			log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to abandon message")
		}
		return
	}

	if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
		log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to complete message")
	}
}

// Close closes the client
func (c *Consumer) Close() error {
	return c.client.Close(context.Background())
}
